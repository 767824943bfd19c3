package queue

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

type HistoryEventKind string

const (
	EventDispatch           HistoryEventKind = "dispatch"
	EventClientNotification HistoryEventKind = "client_notification"
)

// HistoryEvent is published on TopicHistory after an audit record is stored.
type HistoryEvent struct {
	Kind         HistoryEventKind             `json:"kind"`
	OwnerID      string                       `json:"owner_id"`
	Dispatch     *model.DispatchHistoryRecord `json:"dispatch,omitempty"`
	Notification *model.ClientNotificationLog `json:"notification,omitempty"`
}

// DecodeHistoryEvent accepts the in-memory value or the JSON body delivered
// by AMQPQueue.
func DecodeHistoryEvent(payload any) (HistoryEvent, error) {
	switch p := payload.(type) {
	case HistoryEvent:
		return p, nil
	case *HistoryEvent:
		return *p, nil
	case json.RawMessage:
		var ev HistoryEvent
		err := json.Unmarshal(p, &ev)
		return ev, err
	case []byte:
		var ev HistoryEvent
		err := json.Unmarshal(p, &ev)
		return ev, err
	}
	return HistoryEvent{}, fmt.Errorf("unexpected payload type %T", payload)
}

// StartHistoryLogger logs every history event; it is the default consumer
// of TopicHistory in the worker.
func StartHistoryLogger(q Queue, log zerolog.Logger) error {
	return q.Subscribe(TopicHistory, func(payload any) error {
		ev, err := DecodeHistoryEvent(payload)
		if err != nil {
			log.Warn().Err(err).Msg("invalid history event")
			return nil // no retry
		}
		e := log.Info().Str("kind", string(ev.Kind)).Str("owner", ev.OwnerID)
		if ev.Dispatch != nil {
			e = e.Str("dispatch_type", string(ev.Dispatch.DispatchType)).
				Int("success", ev.Dispatch.SuccessCount).
				Int("failed", ev.Dispatch.FailedCount)
		}
		if ev.Notification != nil {
			e = e.Str("send", ev.Notification.ScheduledSendID).Str("status", string(ev.Notification.Status))
		}
		e.Msg("history event")
		return nil
	})
}
