package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TopicHistory carries a HistoryEvent for every appended audit record.
const TopicHistory = "dispatch.history"

// ErrNoSubscribers is returned by InMemoryQueue.Publish when nobody listens
// on the topic.
var ErrNoSubscribers = errors.New("no subscribers")

// Queue is the publish side history events go through, and the subscribe
// side StartHistoryLogger listens on.
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue fans a payload out to every subscriber goroutine, retrying
// a failing handler with linear backoff.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	log      zerolog.Logger
	wg       sync.WaitGroup

	MaxRetries int
	Backoff    time.Duration
}

// NewInMemoryQueue returns a queue with 3 retries and a 500ms backoff step.
func NewInMemoryQueue(log zerolog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		log:        log.With().Str("component", "queue").Logger(),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

type job struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish hands payload to every subscriber of topic, each on its own
// goroutine.
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("topic %s: %w", topic, ErrNoSubscribers)
	}

	for _, handler := range handlers {
		j := job{Topic: topic, Payload: payload, MaxRetries: q.MaxRetries}
		q.wg.Add(1)
		go q.process(handler, j)
	}

	return nil
}

func (q *InMemoryQueue) process(handler func(payload any) error, j job) {
	defer q.wg.Done()
	for {
		err := handler(j.Payload)
		if err == nil {
			return // ACK
		}

		j.RetryCount++
		if j.RetryCount > j.MaxRetries {
			q.log.Error().Err(err).Str("topic", j.Topic).Int("attempts", j.RetryCount).Msg("job permanently failed")
			return // No requeue
		}
		q.log.Warn().Err(err).Str("topic", j.Topic).Int("attempt", j.RetryCount).Int("max", j.MaxRetries).Msg("job failed, retrying")

		time.Sleep(time.Duration(j.RetryCount) * q.Backoff)
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every in-flight job has been handled.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}
