package service

import (
	"context"
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

type StatusPostInput struct {
	PayloadKind model.PayloadKind      `json:"payload_kind"`
	Body        string                 `json:"body"`
	MediaRef    *string                `json:"media_ref,omitempty"`
	Targets     []model.DispatchTarget `json:"targets"`
	ScheduleInput
}

func (s *DispatchService) CreateStatusPost(ctx context.Context, ownerID string, in StatusPostInput) (*model.StatusPost, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	kind, err := validatePayload(in.PayloadKind, in.Body, in.MediaRef)
	if err != nil {
		return nil, err
	}
	for i, t := range in.Targets {
		if strings.TrimSpace(t.Address) == "" {
			return nil, appErrors.NewValidation("targets", fmt.Sprintf("entry %d has no address", i))
		}
	}
	sched, err := s.buildSchedule(in.ScheduleInput)
	if err != nil {
		return nil, err
	}
	post := &model.StatusPost{
		OwnerID:     ownerID,
		PayloadKind: kind,
		Body:        in.Body,
		MediaRef:    in.MediaRef,
		Targets:     in.Targets,
		Schedule:    sched,
		Status:      model.SendPending,
	}
	if err := s.PostRepo.Create(ctx, post); err != nil {
		return nil, err
	}
	s.Log.Info().Str("post", post.ID).Str("owner", ownerID).Int("targets", len(post.Targets)).Msg("status post created")
	return post, nil
}

func (s *DispatchService) CancelStatusPost(ctx context.Context, ownerID, id string) (*model.StatusPost, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	ok, err := s.PostRepo.Cancel(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	current, err := s.PostRepo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.NewInvalidTransition("status post", id, string(current.Status), string(model.SendCancelled))
	}
	return current, nil
}
