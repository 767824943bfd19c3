package service

import (
	"context"
	"strings"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

type ScheduledSendInput struct {
	Target       model.DispatchTarget `json:"target"`
	PayloadKind  model.PayloadKind    `json:"payload_kind"`
	TemplateBody string               `json:"template_body"`
	MediaRef     *string              `json:"media_ref,omitempty"`
	ClientID     *string              `json:"client_id,omitempty"`
	ScheduleInput
}

func (s *DispatchService) newScheduledSend(ctx context.Context, ownerID string, in ScheduledSendInput) (*model.ScheduledSend, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Target.Address) == "" {
		return nil, appErrors.NewValidation("target.address", "cannot be empty")
	}
	kind, err := validatePayload(in.PayloadKind, in.TemplateBody, in.MediaRef)
	if err != nil {
		return nil, err
	}
	sched, err := s.buildSchedule(in.ScheduleInput)
	if err != nil {
		return nil, err
	}
	if in.ClientID != nil && s.ClientRepo != nil {
		if _, err := s.ClientRepo.GetByID(ctx, ownerID, *in.ClientID); err != nil {
			return nil, err
		}
	}
	return &model.ScheduledSend{
		OwnerID:      ownerID,
		Target:       in.Target,
		PayloadKind:  kind,
		TemplateBody: in.TemplateBody,
		MediaRef:     in.MediaRef,
		Schedule:     sched,
		Status:       model.SendPending,
		Origin:       model.OriginManual,
		ClientID:     in.ClientID,
	}, nil
}

func (s *DispatchService) CreateScheduledSend(ctx context.Context, ownerID string, in ScheduledSendInput) (*model.ScheduledSend, error) {
	send, err := s.newScheduledSend(ctx, ownerID, in)
	if err != nil {
		return nil, err
	}
	if _, err := s.SendRepo.Create(ctx, send); err != nil {
		return nil, err
	}
	s.Log.Info().Str("row", send.ID).Str("owner", ownerID).Time("scheduled_at", send.ScheduledAt).
		Str("recurrence", string(send.Recurrence)).Msg("scheduled send created")
	return send, nil
}

// CancelScheduledSend moves a pending row to cancelled. The next tick's
// selection no longer sees it.
func (s *DispatchService) CancelScheduledSend(ctx context.Context, ownerID, id string) (*model.ScheduledSend, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	ok, err := s.SendRepo.Cancel(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	current, err := s.SendRepo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.NewInvalidTransition("scheduled send", id, string(current.Status), string(model.SendCancelled))
	}
	return current, nil
}

func (s *DispatchService) ListScheduledSends(ctx context.Context, ownerID string, page, pageSize int, status string) ([]*model.ScheduledSend, map[string]int, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, nil, err
	}
	page, pageSize, offset := paginate(page, pageSize)
	sends, total, err := s.SendRepo.List(ctx, ownerID, status, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}
	return sends, pagination(page, pageSize, total), nil
}

type SendNowInput struct {
	Target      model.DispatchTarget `json:"target"`
	PayloadKind model.PayloadKind    `json:"payload_kind"`
	Body        string               `json:"body"`
	MediaRef    *string              `json:"media_ref,omitempty"`
	ClientID    *string              `json:"client_id,omitempty"`
}

// SendNow sends an interactive message: a one-off row due now, drained
// synchronously. The returned row carries the final status.
func (s *DispatchService) SendNow(ctx context.Context, ownerID string, in SendNowInput) (*model.ScheduledSend, error) {
	send, err := s.newScheduledSend(ctx, ownerID, ScheduledSendInput{
		Target:       in.Target,
		PayloadKind:  in.PayloadKind,
		TemplateBody: in.Body,
		MediaRef:     in.MediaRef,
		ClientID:     in.ClientID,
	})
	if err != nil {
		return nil, err
	}
	send.Origin = model.OriginInteractive
	if _, err := s.SendRepo.Create(ctx, send); err != nil {
		return nil, err
	}
	if _, err := s.Dispatcher.DispatchNow(ctx, send); err != nil {
		return nil, err
	}
	return s.SendRepo.GetByID(ctx, ownerID, send.ID)
}
