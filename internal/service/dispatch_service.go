// Package service holds the producer operations: every call validates input
// and writes queue rows. Only SendNow reaches the channel, through the
// dispatch engine.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/history"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/recurrence"
	"github.com/unclebandit/dispatch-engine/internal/repository"
	"github.com/unclebandit/dispatch-engine/internal/template"
)

// Dispatcher synchronously drains one freshly created row.
type Dispatcher interface {
	DispatchNow(ctx context.Context, send *model.ScheduledSend) (model.SendOutcome, error)
}

type DispatchService struct {
	SendRepo     repository.ScheduledSendRepositoryInterface
	PostRepo     repository.StatusPostRepositoryInterface
	CampaignRepo repository.CampaignRepositoryInterface
	ClientRepo   repository.ClientRepositoryInterface
	History      *history.Recorder
	Dispatcher   Dispatcher
	Renderer     template.Renderer
	Log          zerolog.Logger
	Now          func() time.Time
}

func (s *DispatchService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return appErrors.ErrOwnerRequired
	}
	return nil
}

// paginate clamps page and pageSize and returns the row offset.
func paginate(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize, (page - 1) * pageSize
}

func pagination(page, pageSize, total int) map[string]int {
	return map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
}

// ScheduleInput is the timing part of a producer request.
type ScheduleInput struct {
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	Recurrence     string     `json:"recurrence,omitempty"`
	RecurrenceDays []int      `json:"recurrence_days,omitempty"`
	RecurrenceEnd  *time.Time `json:"recurrence_end,omitempty"`
}

func (s *DispatchService) buildSchedule(in ScheduleInput) (model.Schedule, error) {
	kind, err := recurrence.ParseKind(in.Recurrence)
	if err != nil {
		return model.Schedule{}, appErrors.NewValidation("recurrence", err.Error())
	}
	sched := model.Schedule{ScheduledAt: s.now(), Recurrence: kind}
	if in.ScheduledAt != nil && !in.ScheduledAt.IsZero() {
		sched.ScheduledAt = *in.ScheduledAt
	}
	if kind == recurrence.Weekly {
		for _, d := range in.RecurrenceDays {
			sched.RecurrenceDays = append(sched.RecurrenceDays, time.Weekday(d))
		}
	}
	if err := sched.Rule().Validate(); err != nil {
		return model.Schedule{}, appErrors.NewValidation("recurrence_days", err.Error())
	}
	if kind != recurrence.None && in.RecurrenceEnd != nil {
		if !in.RecurrenceEnd.After(sched.ScheduledAt) {
			return model.Schedule{}, appErrors.NewValidation("recurrence_end", "must be after scheduled_at")
		}
		end := *in.RecurrenceEnd
		sched.RecurrenceEnd = &end
	}
	return sched, nil
}

func validatePayload(kind model.PayloadKind, body string, mediaRef *string) (model.PayloadKind, error) {
	if kind == "" {
		kind = model.PayloadText
	}
	if !kind.Valid() {
		return "", appErrors.NewValidation("payload_kind", "must be text, image, video or audio")
	}
	if kind.NeedsMedia() && (mediaRef == nil || strings.TrimSpace(*mediaRef) == "") {
		return "", appErrors.NewValidation("media_ref", "required for "+string(kind)+" payloads")
	}
	if kind == model.PayloadText && strings.TrimSpace(body) == "" {
		return "", appErrors.NewValidation("body", "cannot be empty")
	}
	if err := template.Validate(body); err != nil {
		return "", err
	}
	return kind, nil
}

// ListHistory pages through the owner's dispatch history, newest first.
func (s *DispatchService) ListHistory(ctx context.Context, ownerID string, page, pageSize int) ([]*model.DispatchHistoryRecord, map[string]int, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, nil, err
	}
	page, pageSize, offset := paginate(page, pageSize)
	recs, total, err := s.History.List(ctx, ownerID, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}
	return recs, pagination(page, pageSize, total), nil
}
