package application

import (
	"log/slog"
	"sync"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

// defaultSubscriberBuffer is the channel capacity handed to each subscriber.
const defaultSubscriberBuffer = 8

// Topic is a typed multi-subscriber event channel. Publish never blocks:
// an event is dropped for any subscriber whose buffer is full.
type Topic[T any] struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
}

// NewTopic creates an empty Topic. name appears in logs.
func NewTopic[T any](name string, logger *slog.Logger) *Topic[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Topic[T]{name: name, logger: logger, subs: make(map[int]chan T)}
}

// Subscribe registers a new subscriber. The returned cancel func unregisters
// it and closes the channel; calling it more than once is safe.
func (t *Topic[T]) Subscribe() (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan T, defaultSubscriberBuffer)
	t.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every current subscriber.
func (t *Topic[T]) Publish(ev T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			t.logger.Warn("event dropped, subscriber buffer full", "topic", t.name, "subscriber", id)
		}
	}
}

// Events groups the topics raised by the credential store.
type Events struct {
	PlanChanged        *Topic[model.PlanChangeEvent]
	Delinquent         *Topic[model.DelinquencyEvent]
	SessionInvalidated *Topic[model.SessionInvalidated]
}

// NewEvents creates the credential event topics.
func NewEvents(logger *slog.Logger) *Events {
	return &Events{
		PlanChanged:        NewTopic[model.PlanChangeEvent]("plan_changed", logger),
		Delinquent:         NewTopic[model.DelinquencyEvent]("delinquent", logger),
		SessionInvalidated: NewTopic[model.SessionInvalidated]("session_invalidated", logger),
	}
}
