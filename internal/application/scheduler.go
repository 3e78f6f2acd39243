package application

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

// RefreshGate lets the host veto individual ticks, for example while a VPN
// connection is being negotiated.
type RefreshGate interface {
	ShouldRefresh(kind model.RefreshKind) bool
}

// RefreshGateFunc adapts a function to RefreshGate.
type RefreshGateFunc func(kind model.RefreshKind) bool

// ShouldRefresh calls f.
func (f RefreshGateFunc) ShouldRefresh(kind model.RefreshKind) bool {
	return f(kind)
}

type allowAll struct{}

func (allowAll) ShouldRefresh(model.RefreshKind) bool { return true }

// Refresher is the set of operations the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context, kind model.RefreshKind) error
	Timestamps() model.RefreshTimestamps
}

// credentialReader is satisfied by the credential store.
type credentialReader interface {
	FetchAuthenticated(ctx context.Context) *model.Credential
}

type kindTimer struct {
	ticker clockwork.Ticker
	done   chan struct{}
}

// RefreshScheduler owns one repeating timer per refresh kind. A tick for a
// kind whose previous refresh is still running is dropped, not queued.
type RefreshScheduler struct {
	refresher Refresher
	creds     credentialReader
	intervals model.RefreshIntervals
	clock     clockwork.Clock
	gate      RefreshGate
	logger    *slog.Logger

	busy map[model.RefreshKind]*semaphore.Weighted

	mu     sync.Mutex
	timers map[model.RefreshKind]*kindTimer
	wg     sync.WaitGroup
}

// NewRefreshScheduler creates a stopped scheduler. intervals must be valid.
func NewRefreshScheduler(
	refresher Refresher,
	creds credentialReader,
	intervals model.RefreshIntervals,
	clock clockwork.Clock,
	logger *slog.Logger,
) *RefreshScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	busy := make(map[model.RefreshKind]*semaphore.Weighted, len(model.RefreshKinds))
	for _, k := range model.RefreshKinds {
		busy[k] = semaphore.NewWeighted(1)
	}

	return &RefreshScheduler{
		refresher: refresher,
		creds:     creds,
		intervals: intervals,
		clock:     clock,
		gate:      allowAll{},
		logger:    logger,
		busy:      busy,
		timers:    make(map[model.RefreshKind]*kindTimer),
	}
}

// SetGate replaces the gate consulted before every tick. nil allows everything.
func (s *RefreshScheduler) SetGate(gate RefreshGate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gate == nil {
		gate = allowAll{}
	}
	s.gate = gate
}

// Start creates the timers that do not exist yet; existing timers are kept.
// With now set, every kind whose interval has elapsed since its last success
// is refreshed immediately, except loads when full is refreshed in the same
// call. An account refresh is also forced when the stored credential predates
// the subscribed flag. Refreshes run in ctx, which should outlive the
// scheduler.
func (s *RefreshScheduler) Start(ctx context.Context, now bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kind := range model.RefreshKinds {
		if _, ok := s.timers[kind]; ok {
			continue
		}
		t := &kindTimer{
			ticker: s.clock.NewTicker(s.intervals.For(kind)),
			done:   make(chan struct{}),
		}
		s.timers[kind] = t

		s.wg.Add(1)
		go s.loop(ctx, kind, t)
	}

	executed := make(map[model.RefreshKind]bool, len(model.RefreshKinds))
	if now {
		timestamps := s.refresher.Timestamps()
		current := s.clock.Now()

		for _, kind := range model.RefreshKinds {
			if kind == model.RefreshLoads && executed[model.RefreshFull] {
				s.logger.Debug("catch-up skipped, implied by full refresh", "kind", kind)
				continue
			}
			if !timestamps.Due(kind, s.intervals.For(kind), current) {
				continue
			}
			executed[kind] = s.dispatchLocked(ctx, kind, "catch-up")
		}
	}

	if !executed[model.RefreshAccount] {
		if cred := s.creds.FetchAuthenticated(ctx); cred != nil && !cred.HasSubscribedFlag() {
			s.logger.Info("stored credential lacks subscribed flag, forcing account refresh")
			s.dispatchLocked(ctx, model.RefreshAccount, "migration")
		}
	}
}

// Stop cancels every timer. It is idempotent, and a later Start behaves like
// the first one. Refreshes already running are allowed to finish.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	for kind, t := range s.timers {
		t.ticker.Stop()
		close(t.done)
		delete(s.timers, kind)
	}
	s.mu.Unlock()

	s.logger.Debug("refresh timers stopped")
}

// Running reports whether timers exist.
func (s *RefreshScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers) > 0
}

// Wait blocks until every timer loop and every refresh it started has returned.
func (s *RefreshScheduler) Wait() {
	s.wg.Wait()
}

func (s *RefreshScheduler) loop(ctx context.Context, kind model.RefreshKind, t *kindTimer) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			// Drop the timer so a later Start recreates it.
			s.mu.Lock()
			if s.timers[kind] == t {
				t.ticker.Stop()
				delete(s.timers, kind)
			}
			s.mu.Unlock()
			return
		case <-t.done:
			return
		case <-t.ticker.Chan():
			s.mu.Lock()
			select {
			case <-t.done:
				// Stopped while the tick was pending.
				s.mu.Unlock()
				return
			default:
			}
			s.dispatchLocked(ctx, kind, "tick")
			s.mu.Unlock()
		}
	}
}

// dispatchLocked starts a refresh of kind unless the gate vetoes it or the
// previous one is still running. s.mu must be held.
func (s *RefreshScheduler) dispatchLocked(ctx context.Context, kind model.RefreshKind, reason string) bool {
	if !s.gate.ShouldRefresh(kind) {
		s.logger.Debug("refresh vetoed by gate", "kind", kind, "reason", reason)
		return false
	}

	sem := s.busy[kind]
	if !sem.TryAcquire(1) {
		s.logger.Debug("refresh dropped, previous run still in flight", "kind", kind, "reason", reason)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sem.Release(1)

		// Errors are logged and classified by the refresher; the next tick retries.
		_ = s.refresher.Refresh(ctx, kind)
	}()
	return true
}
