package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

// ErrNoSession is returned by Login for a credential without session tokens.
var ErrNoSession = errors.New("credential has no session")

// SessionStore is the credential store surface the session drives.
type SessionStore interface {
	FetchAuthenticated(ctx context.Context) *model.Credential
	Store(ctx context.Context, cred model.Credential) error
	Clear(ctx context.Context)
}

type loginTracker interface {
	SetLoggedIn(loggedIn bool)
	LoggedIn() bool
}

type schedulerControl interface {
	Start(ctx context.Context, now bool)
	Stop()
}

// Session ties login state to the refresh scheduler. Scheduled refreshes run
// in the context passed to NewSession, not in the context of the caller that
// logged in.
type Session struct {
	ctx       context.Context
	store     SessionStore
	refresher loginTracker
	scheduler schedulerControl
	logger    *slog.Logger
	onLogout  []func()

	invalidated <-chan model.SessionInvalidated
	unsubscribe func()
}

// NewSession creates a Session and subscribes to session invalidation.
func NewSession(
	ctx context.Context,
	store SessionStore,
	events *Events,
	refresher loginTracker,
	scheduler schedulerControl,
	logger *slog.Logger,
) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	invalidated, unsubscribe := events.SessionInvalidated.Subscribe()

	return &Session{
		ctx:         ctx,
		store:       store,
		refresher:   refresher,
		scheduler:   scheduler,
		logger:      logger,
		invalidated: invalidated,
		unsubscribe: unsubscribe,
	}
}

// Login stores cred as the authenticated credential, marks the session logged
// in and starts the scheduler with catch-up refreshes.
func (s *Session) Login(ctx context.Context, cred model.Credential) error {
	if cred.SessionID == "" || cred.AccessToken == "" {
		return fmt.Errorf("login: %w", ErrNoSession)
	}

	if err := s.store.Store(ctx, cred); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	s.refresher.SetLoggedIn(true)
	s.scheduler.Start(s.ctx, true)

	s.logger.Info("logged in", "session_id", cred.SessionID, "tier", cred.PlanTier)
	return nil
}

// Resume restores a session persisted by a previous process. It reports
// whether an authenticated credential was found.
func (s *Session) Resume(ctx context.Context) bool {
	cred := s.store.FetchAuthenticated(ctx)
	if cred == nil {
		s.logger.Info("no stored session, waiting for login")
		return false
	}

	s.refresher.SetLoggedIn(true)
	s.scheduler.Start(s.ctx, true)

	s.logger.Info("session resumed", "session_id", cred.SessionID, "tier", cred.PlanTier)
	return true
}

// OnLogout registers fn to run after every logout, once the credentials are
// cleared. Register hooks before the session is used.
func (s *Session) OnLogout(fn func()) {
	s.onLogout = append(s.onLogout, fn)
}

// Logout stops scheduled refreshes, marks the session logged out, clears
// both credential slots and runs the OnLogout hooks.
func (s *Session) Logout(ctx context.Context) {
	s.scheduler.Stop()
	s.refresher.SetLoggedIn(false)
	s.store.Clear(ctx)
	for _, fn := range s.onLogout {
		fn()
	}

	s.logger.Info("logged out")
}

// LoggedIn reports whether a session is active.
func (s *Session) LoggedIn() bool {
	return s.refresher.LoggedIn()
}

// WatchInvalidation forces a logout whenever the server rejects the session.
// It returns when ctx is canceled.
func (s *Session) WatchInvalidation(ctx context.Context) {
	defer s.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.invalidated:
			if !ok {
				return
			}
			s.logger.Warn("session rejected by server, forcing logout", "session_id", ev.SessionID)
			s.Logout(ctx)
		}
	}
}
