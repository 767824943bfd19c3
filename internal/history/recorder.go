// Package history appends dispatch summaries and per-client notification
// logs to an append-only sink and announces them on the event queue.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/queue"
	"github.com/unclebandit/dispatch-engine/internal/repository"
)

// Sink is an append-only store for audit records.
type Sink = repository.HistoryRepositoryInterface

type Recorder struct {
	Sink  Sink
	Queue queue.Queue // optional
	Log   zerolog.Logger
	Now   func() time.Time
}

func NewRecorder(sink Sink, q queue.Queue, log zerolog.Logger) *Recorder {
	return &Recorder{
		Sink:  sink,
		Queue: q,
		Log:   log.With().Str("component", "history").Logger(),
		Now:   time.Now,
	}
}

// RecordDispatch appends a summary of one finished dispatch.
func (r *Recorder) RecordDispatch(ctx context.Context, rec model.DispatchHistoryRecord) error {
	if rec.OwnerID == "" {
		return errors.New("history: owner id is required")
	}
	if rec.SuccessCount < 0 || rec.FailedCount < 0 || rec.SuccessCount+rec.FailedCount > rec.TotalRecipients {
		return fmt.Errorf("history: counts %d+%d exceed %d recipients", rec.SuccessCount, rec.FailedCount, rec.TotalRecipients)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.Now()
	}
	if err := r.Sink.AppendDispatch(ctx, &rec); err != nil {
		return fmt.Errorf("append dispatch history: %w", err)
	}
	r.publish(queue.HistoryEvent{Kind: queue.EventDispatch, OwnerID: rec.OwnerID, Dispatch: &rec})
	return nil
}

// RecordClientNotification appends one entry of a client's audit trail.
func (r *Recorder) RecordClientNotification(ctx context.Context, entry model.ClientNotificationLog) error {
	if entry.OwnerID == "" {
		return errors.New("history: owner id is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.Now()
	}
	if err := r.Sink.AppendClientNotification(ctx, &entry); err != nil {
		return fmt.Errorf("append client notification: %w", err)
	}
	r.publish(queue.HistoryEvent{Kind: queue.EventClientNotification, OwnerID: entry.OwnerID, Notification: &entry})
	return nil
}

func (r *Recorder) List(ctx context.Context, ownerID string, offset, limit int) ([]*model.DispatchHistoryRecord, int, error) {
	return r.Sink.ListDispatch(ctx, ownerID, offset, limit)
}

func (r *Recorder) publish(ev queue.HistoryEvent) {
	if r.Queue == nil {
		return
	}
	if err := r.Queue.Publish(queue.TopicHistory, ev); err != nil && !errors.Is(err, queue.ErrNoSubscribers) {
		r.Log.Warn().Err(err).Str("owner", ev.OwnerID).Msg("publish history event")
	}
}
