package queue

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

func TestPublishWithoutSubscribers(t *testing.T) {
	t.Parallel()
	q := NewInMemoryQueue(zerolog.Nop())
	err := q.Publish(TopicHistory, HistoryEvent{})
	if !errors.Is(err, ErrNoSubscribers) {
		t.Fatalf("err = %v, want ErrNoSubscribers", err)
	}
}

func TestInMemoryQueueRetries(t *testing.T) {
	t.Parallel()
	q := NewInMemoryQueue(zerolog.Nop())
	q.Backoff = time.Millisecond

	var calls atomic.Int32
	_ = q.Subscribe("t", func(payload any) error {
		if calls.Add(1) < 3 {
			return errors.New("boom")
		}
		return nil
	})
	if err := q.Publish("t", 1); err != nil {
		t.Fatal(err)
	}
	q.Wait()
	if got := calls.Load(); got != 3 {
		t.Errorf("handler called %d times, want 3", got)
	}
}

func TestInMemoryQueueGivesUp(t *testing.T) {
	t.Parallel()
	q := NewInMemoryQueue(zerolog.Nop())
	q.Backoff = time.Millisecond
	q.MaxRetries = 2

	var calls atomic.Int32
	_ = q.Subscribe("t", func(payload any) error {
		calls.Add(1)
		return errors.New("always")
	})
	_ = q.Publish("t", 1)
	q.Wait()
	if got := calls.Load(); got != 3 {
		t.Errorf("handler called %d times, want 3", got)
	}
}

func TestDecodeHistoryEvent(t *testing.T) {
	t.Parallel()
	ev := HistoryEvent{
		Kind:     EventDispatch,
		OwnerID:  "o1",
		Dispatch: &model.DispatchHistoryRecord{DispatchType: model.DispatchCampaign, SuccessCount: 4},
	}
	body, _ := json.Marshal(ev)

	tests := []struct {
		name    string
		payload any
		wantErr bool
	}{
		{"value", ev, false},
		{"pointer", &ev, false},
		{"raw json", json.RawMessage(body), false},
		{"bytes", body, false},
		{"wrong type", 42, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHistoryEvent(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if !tt.wantErr && (got.OwnerID != "o1" || got.Dispatch.SuccessCount != 4) {
				t.Errorf("got %+v", got)
			}
		})
	}
}
