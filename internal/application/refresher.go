// Package application contains the session refresh and credential lifecycle services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// DefaultPaidCatalogEvery is the success cadence at which a full refresh
// downloads the paid catalog regardless of the account tier.
const DefaultPaidCatalogEvery = 10

const defaultUpdateRequiredMessage = "This version of the app is no longer supported. Update to keep using the VPN."

// ErrNotLoggedIn is returned by refreshes that require a signed-in session.
var ErrNotLoggedIn = errors.New("not logged in")

// AccountStore is the part of the credential store the refresher writes
// account entitlements through.
type AccountStore interface {
	FetchAuthenticated(ctx context.Context) *model.Credential
	UpdateAccount(ctx context.Context, sessionID string, update func(*model.Credential)) error
}

// RefresherConfig holds the tunables of a SessionRefresher.
type RefresherConfig struct {
	// PaidCatalogEvery is the cadence N of paid catalog downloads.
	PaidCatalogEvery int
}

// SessionRefresher performs one refresh operation per resource kind. Calls for
// the same kind are serialized; calls for different kinds run concurrently.
// Timestamps move only after a successful operation.
type SessionRefresher struct {
	api     driven.VPNAPI
	store   AccountStore
	catalog driven.CatalogStore
	alerts  driven.AlertPresenter
	clock   clockwork.Clock
	logger  *slog.Logger

	paidEvery int
	counter   SuccessCounter
	loggedIn  atomic.Bool
	inflight  map[model.RefreshKind]*semaphore.Weighted

	mu         sync.Mutex
	timestamps model.RefreshTimestamps
}

// NewSessionRefresher creates a SessionRefresher. A nil clock uses the real clock.
func NewSessionRefresher(
	api driven.VPNAPI,
	store AccountStore,
	catalog driven.CatalogStore,
	alerts driven.AlertPresenter,
	clock clockwork.Clock,
	cfg RefresherConfig,
	logger *slog.Logger,
) *SessionRefresher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PaidCatalogEvery < 1 {
		cfg.PaidCatalogEvery = DefaultPaidCatalogEvery
	}

	inflight := make(map[model.RefreshKind]*semaphore.Weighted, len(model.RefreshKinds))
	for _, k := range model.RefreshKinds {
		inflight[k] = semaphore.NewWeighted(1)
	}

	return &SessionRefresher{
		api:        api,
		store:      store,
		catalog:    catalog,
		alerts:     alerts,
		clock:      clock,
		logger:     logger,
		paidEvery:  cfg.PaidCatalogEvery,
		inflight:   inflight,
		timestamps: make(model.RefreshTimestamps),
	}
}

// SetLoggedIn records whether a signed-in session exists.
func (r *SessionRefresher) SetLoggedIn(loggedIn bool) {
	r.loggedIn.Store(loggedIn)
}

// LoggedIn reports the value last passed to SetLoggedIn.
func (r *SessionRefresher) LoggedIn() bool {
	return r.loggedIn.Load()
}

// Timestamps returns a snapshot of the last successful refresh per kind.
func (r *SessionRefresher) Timestamps() model.RefreshTimestamps {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(model.RefreshTimestamps, len(r.timestamps))
	for k, t := range r.timestamps {
		out[k] = t
	}
	return out
}

// Counter returns the number of consecutive successful account and full refreshes.
func (r *SessionRefresher) Counter() int64 {
	return r.counter.Value()
}

// Refresh dispatches to the operation for kind. Partners run without a hint.
func (r *SessionRefresher) Refresh(ctx context.Context, kind model.RefreshKind) error {
	switch kind {
	case model.RefreshAccount:
		return r.RefreshAccount(ctx)
	case model.RefreshFull:
		return r.RefreshFull(ctx)
	case model.RefreshLoads:
		return r.RefreshServerLoads(ctx)
	case model.RefreshStreaming:
		return r.RefreshStreamingServices(ctx)
	case model.RefreshPartners:
		return r.RefreshPartners(ctx, nil)
	default:
		return fmt.Errorf("refresh %s: unsupported kind", kind)
	}
}

// RefreshAccount fetches the account entitlements and stores them on the
// authenticated credential, which raises plan change events as a side effect.
func (r *SessionRefresher) RefreshAccount(ctx context.Context) error {
	return r.run(ctx, model.RefreshAccount, false, r.refreshAccount)
}

func (r *SessionRefresher) refreshAccount(ctx context.Context) error {
	cred := r.store.FetchAuthenticated(ctx)
	if cred == nil {
		return ErrNotLoggedIn
	}

	info, err := r.api.FetchClientCredentials(ctx)
	if err != nil {
		return err
	}

	// Tokens rotated during the request are kept; only entitlements change.
	err = r.store.UpdateAccount(ctx, cred.SessionID, func(c *model.Credential) {
		c.PlanTier = info.PlanTier
		if info.Username != "" {
			c.Username = info.Username
		}
		subscribed := info.Subscribed
		c.Subscribed = &subscribed
		c.Delinquent = info.Delinquent
	})
	if errors.Is(err, driven.ErrSessionMismatch) {
		return ErrNotLoggedIn
	}
	if err != nil {
		return err
	}

	r.counter.Increment()
	return nil
}

// RefreshFull downloads the server catalog for the account tier. Every Nth
// consecutive success it downloads the complete paid catalog instead.
func (r *SessionRefresher) RefreshFull(ctx context.Context) error {
	return r.run(ctx, model.RefreshFull, true, r.refreshFull)
}

func (r *SessionRefresher) refreshFull(ctx context.Context) error {
	query := model.ServerQuery{Tier: model.TierFree, IncludePaid: r.counter.PaidCycle(r.paidEvery)}
	if cred := r.store.FetchAuthenticated(ctx); cred != nil {
		query.Tier = cred.PlanTier
	}

	servers, err := r.api.FetchServers(ctx, query)
	if err != nil {
		return err
	}

	if err := r.catalog.ReplaceServers(ctx, servers, query.MaxTier()); err != nil {
		return fmt.Errorf("replace servers: %w", err)
	}

	r.counter.Increment()
	r.logger.Debug("server catalog replaced", "servers", len(servers), "max_tier", query.MaxTier(), "paid_cycle", query.IncludePaid)

	if len(servers) > 0 {
		if err := r.RefreshPartners(ctx, servers); err != nil {
			r.logger.Debug("partner refresh after catalog download failed", "error", err)
		}
	}
	return nil
}

// RefreshServerLoads updates load, score and status of cached servers.
func (r *SessionRefresher) RefreshServerLoads(ctx context.Context) error {
	return r.run(ctx, model.RefreshLoads, true, func(ctx context.Context) error {
		loads, err := r.api.FetchLoads(ctx)
		if err != nil {
			return err
		}

		updated, err := r.catalog.UpdateLoads(ctx, loads)
		if err != nil {
			return fmt.Errorf("update loads: %w", err)
		}

		r.logger.Debug("server loads updated", "received", len(loads), "updated", updated)
		return nil
	})
}

// RefreshStreamingServices replaces the streaming snapshot.
func (r *SessionRefresher) RefreshStreamingServices(ctx context.Context) error {
	return r.run(ctx, model.RefreshStreaming, true, func(ctx context.Context) error {
		info, err := r.api.FetchStreamingServices(ctx)
		if err != nil {
			return err
		}

		if err := r.catalog.SaveStreaming(ctx, *info); err != nil {
			return fmt.Errorf("save streaming services: %w", err)
		}
		return nil
	})
}

// RefreshPartners replaces the partner snapshot. When hint is non-nil the
// network call is skipped unless a partner server in hint is missing from the
// cached partner data.
func (r *SessionRefresher) RefreshPartners(ctx context.Context, hint []model.Server) error {
	if hint != nil {
		needed, err := r.partnersNeeded(ctx, hint)
		if err != nil {
			return fmt.Errorf("check partner hint: %w", err)
		}
		if !needed {
			r.logger.Debug("partner refresh skipped, every partner server is known")
			return nil
		}
	}

	return r.run(ctx, model.RefreshPartners, true, func(ctx context.Context) error {
		types, err := r.api.FetchPartners(ctx)
		if err != nil {
			return err
		}

		if err := r.catalog.SavePartners(ctx, types); err != nil {
			return fmt.Errorf("save partners: %w", err)
		}
		return nil
	})
}

func (r *SessionRefresher) partnersNeeded(ctx context.Context, hint []model.Server) (bool, error) {
	cached, err := r.catalog.GetPartners(ctx)
	if err != nil {
		return false, err
	}

	known := model.PartnerLogicalIDs(cached)
	for _, s := range hint {
		if !s.Features.Has(model.FeaturePartner) {
			continue
		}
		if _, ok := known[s.ID]; !ok {
			return true, nil
		}
	}
	return false, nil
}

// run serializes fn against other calls for kind, records the timestamp on
// success and classifies failures.
func (r *SessionRefresher) run(ctx context.Context, kind model.RefreshKind, requiresLogin bool, fn func(context.Context) error) error {
	if requiresLogin && !r.LoggedIn() {
		r.logger.Debug("refresh skipped, not logged in", "kind", kind)
		return ErrNotLoggedIn
	}

	sem := r.inflight[kind]
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	start := r.clock.Now()
	if err := fn(ctx); err != nil {
		if errors.Is(err, ErrNotLoggedIn) {
			r.logger.Debug("refresh skipped, no authenticated session", "kind", kind)
			return err
		}
		r.handleFailure(ctx, kind, err)
		return fmt.Errorf("refresh %s: %w", kind, err)
	}

	now := r.clock.Now()
	r.mu.Lock()
	r.timestamps[kind] = now
	r.mu.Unlock()

	r.logger.Info("refresh complete", "kind", kind, "duration", now.Sub(start).Round(time.Millisecond))
	return nil
}

func (r *SessionRefresher) handleFailure(ctx context.Context, kind model.RefreshKind, err error) {
	if kind == model.RefreshAccount || kind == model.RefreshFull {
		r.counter.Reset()
	}

	errKind := model.KindOf(err)
	switch {
	case errKind.Fatal():
		r.logger.Error("refresh rejected, app update required", "kind", kind, "error", err)
		r.alerts.PresentFatalUpdateRequired(updateRequiredMessage(err))

	case errKind == model.ErrorPlanDowngraded && kind != model.RefreshAccount:
		r.logger.Info("plan downgraded, refreshing account", "kind", kind)
		if err := r.RefreshAccount(ctx); err != nil {
			r.logger.Warn("account refresh after plan downgrade failed", "error", err)
		}

	default:
		var storeErr *model.StoreError
		if errors.As(err, &storeErr) {
			r.logger.Error("refresh could not persist credentials, continuing unauthenticated", "kind", kind, "error", err)
			return
		}
		r.logger.Error("refresh failed", "kind", kind, "error_kind", errKind, "error", err)
	}
}

func updateRequiredMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return defaultUpdateRequiredMessage
}
