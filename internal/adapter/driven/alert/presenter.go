// Package alert implements the AlertPresenter port for a headless client:
// alerts are logged and kept in a bounded in-memory feed that the control
// API serves to whatever front end is attached.
package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AlertPresenter = (*Feed)(nil)

// Kind identifies the alert type.
type Kind string

const (
	KindUpdateRequired Kind = "update_required"
	KindPlanChanged    Kind = "plan_changed"
	KindDelinquent     Kind = "delinquent"
)

// Alert is one entry of the feed.
type Alert struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Subject string    `json:"subject,omitempty"`
	OldTier string    `json:"old_tier,omitempty"`
	NewTier string    `json:"new_tier,omitempty"`
	At      time.Time `json:"at"`
}

// DefaultCapacity is the number of alerts a Feed keeps.
const DefaultCapacity = 32

// Feed records alerts, newest last, dropping the oldest beyond its capacity.
type Feed struct {
	clock    clockwork.Clock
	logger   *slog.Logger
	capacity int

	mu     sync.Mutex
	alerts []Alert
}

// NewFeed creates a Feed. capacity < 1 uses DefaultCapacity.
func NewFeed(capacity int, clock clockwork.Clock, logger *slog.Logger) *Feed {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{clock: clock, logger: logger, capacity: capacity}
}

// PresentFatalUpdateRequired records that the app must be updated.
func (f *Feed) PresentFatalUpdateRequired(message string) {
	f.logger.Error("update required", "message", message)
	f.add(Alert{Kind: KindUpdateRequired, Message: message})
}

// PresentPlanChanged records a plan change.
func (f *Feed) PresentPlanChanged(event model.PlanChangeEvent) {
	msg := "Your plan was upgraded."
	if event.Downgrade() {
		msg = "Your plan was downgraded. Some servers are no longer available."
	}

	f.logger.Warn("plan changed", "subject", event.Subject, "old_tier", event.OldTier, "new_tier", event.NewTier)
	f.add(Alert{
		Kind:    KindPlanChanged,
		Message: msg,
		Subject: event.Subject,
		OldTier: event.OldTier.String(),
		NewTier: event.NewTier.String(),
	})
}

// PresentDelinquent records an unpaid invoice notice.
func (f *Feed) PresentDelinquent(event model.DelinquencyEvent) {
	f.logger.Warn("account delinquent", "subject", event.Subject)
	f.add(Alert{
		Kind:    KindDelinquent,
		Message: "Your account has an unpaid invoice. Paid servers are unavailable until it is settled.",
		Subject: event.Subject,
		NewTier: event.Tier.String(),
	})
}

// List returns a copy of the recorded alerts, oldest first.
func (f *Feed) List() []Alert {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Alert, len(f.alerts))
	copy(out, f.alerts)
	return out
}

// Clear removes every recorded alert.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = nil
}

func (f *Feed) add(a Alert) {
	a.At = f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.alerts = append(f.alerts, a)
	if over := len(f.alerts) - f.capacity; over > 0 {
		f.alerts = append([]Alert(nil), f.alerts[over:]...)
	}
}
