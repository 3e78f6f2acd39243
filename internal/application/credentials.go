package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// Secure storage keys of the two credential slots.
const (
	AuthCredentialsKey   = "authCredentials"
	UnauthCredentialsKey = "unauthSessionCredentials"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialStore)(nil)

// CredentialStore keeps the authenticated and unauthenticated credential
// slots in secure storage. All writes are serialized; reads go straight to
// storage and report failures as an empty slot.
type CredentialStore struct {
	mu      sync.Mutex
	storage driven.SecureStorage
	events  *Events
	logger  *slog.Logger
}

// NewCredentialStore creates a CredentialStore that publishes plan, delinquency
// and invalidation events on events.
func NewCredentialStore(storage driven.SecureStorage, events *Events, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{storage: storage, events: events, logger: logger}
}

// Events returns the topics this store publishes on.
func (s *CredentialStore) Events() *Events {
	return s.events
}

// FetchAuthenticated returns the authenticated credential, or nil.
func (s *CredentialStore) FetchAuthenticated(ctx context.Context) *model.Credential {
	return s.fetch(ctx, AuthCredentialsKey)
}

// FetchUnauthenticated returns the anonymous-session credential, or nil.
func (s *CredentialStore) FetchUnauthenticated(ctx context.Context) *model.Credential {
	return s.fetch(ctx, UnauthCredentialsKey)
}

func (s *CredentialStore) fetch(ctx context.Context, key string) *model.Credential {
	data, err := s.storage.Get(ctx, key)
	if errors.Is(err, driven.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("credential read failed", "key", key, "error", err)
		return nil
	}

	var cred model.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		s.logger.Warn("stored credential is unreadable", "key", key, "error", err)
		return nil
	}
	return &cred
}

// Store persists cred in the authenticated slot and retires the
// unauthenticated one. A tier change against the previously stored credential
// raises a PlanChangeEvent; an account turning delinquent raises a
// DelinquencyEvent. A returned *model.StoreError leaves the previous value intact.
func (s *CredentialStore) Store(ctx context.Context, cred model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred.Unauthenticated = false
	previous := s.fetch(ctx, AuthCredentialsKey)

	if err := s.write(ctx, AuthCredentialsKey, cred); err != nil {
		return err
	}

	if err := s.storage.Delete(ctx, UnauthCredentialsKey); err != nil {
		s.logger.Error("failed to retire unauthenticated credential", "error", err)
	}

	s.detectChanges(previous, cred)
	return nil
}

// UpdateAccount applies update to the authenticated credential of sessionID
// and stores the result under the same lock as Clear, raising the same events
// as Store. It returns driven.ErrSessionMismatch when that session was
// cleared or replaced, so a late refresh cannot bring back a logged-out session.
func (s *CredentialStore) UpdateAccount(ctx context.Context, sessionID string, update func(*model.Credential)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.fetch(ctx, AuthCredentialsKey)
	if previous == nil || previous.SessionID != sessionID {
		return driven.ErrSessionMismatch
	}

	updated := *previous
	update(&updated)
	updated.SessionID = sessionID
	updated.Unauthenticated = false

	if err := s.write(ctx, AuthCredentialsKey, updated); err != nil {
		return err
	}

	s.detectChanges(previous, updated)
	return nil
}

// StoreUnauthenticated persists cred in the unauthenticated slot. Failures are
// logged only.
func (s *CredentialStore) StoreUnauthenticated(ctx context.Context, cred model.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred.Unauthenticated = true
	if err := s.write(ctx, UnauthCredentialsKey, cred); err != nil {
		s.logger.Error("failed to store unauthenticated credential", "error", err)
	}
}

// RotateTokens replaces the token pair of whichever slot holds sessionID.
func (s *CredentialStore) RotateTokens(ctx context.Context, sessionID, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{AuthCredentialsKey, UnauthCredentialsKey} {
		cred := s.fetch(ctx, key)
		if cred == nil || cred.SessionID != sessionID {
			continue
		}
		return s.write(ctx, key, cred.WithTokens(accessToken, refreshToken))
	}

	return driven.ErrSessionMismatch
}

// Clear removes both slots. It is idempotent; failures are logged.
func (s *CredentialStore) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked(ctx)
}

func (s *CredentialStore) clearLocked(ctx context.Context) {
	for _, key := range []string{AuthCredentialsKey, UnauthCredentialsKey} {
		if err := s.storage.Delete(ctx, key); err != nil {
			s.logger.Error("failed to clear credential", "key", key, "error", err)
		}
	}
}

// InvalidateSession clears both slots and then publishes SessionInvalidated.
// A sessionID that matches neither slot is ignored, so a stale rejection
// cannot log out a newer session.
func (s *CredentialStore) InvalidateSession(ctx context.Context, sessionID string) {
	s.mu.Lock()
	auth := s.fetch(ctx, AuthCredentialsKey)
	unauth := s.fetch(ctx, UnauthCredentialsKey)

	matches := (auth != nil && auth.SessionID == sessionID) || (unauth != nil && unauth.SessionID == sessionID)
	if !matches && (auth != nil || unauth != nil) {
		s.mu.Unlock()
		s.logger.Info("ignoring invalidation of a session that is no longer stored", "session_id", sessionID)
		return
	}

	s.clearLocked(ctx)
	s.mu.Unlock()

	s.logger.Warn("session invalidated", "session_id", sessionID)
	s.events.SessionInvalidated.Publish(model.SessionInvalidated{SessionID: sessionID})
}

func (s *CredentialStore) write(ctx context.Context, key string, cred model.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return &model.StoreError{Op: "encode", Key: key, Err: err}
	}
	if err := s.storage.Set(ctx, key, data); err != nil {
		return &model.StoreError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *CredentialStore) detectChanges(previous *model.Credential, current model.Credential) {
	if previous == nil {
		return
	}

	if previous.PlanTier != current.PlanTier {
		ev := model.PlanChangeEvent{OldTier: previous.PlanTier, NewTier: current.PlanTier, Subject: current.Username}
		s.logger.Info("plan changed", "subject", ev.Subject, "old_tier", ev.OldTier, "new_tier", ev.NewTier)
		s.events.PlanChanged.Publish(ev)
	}

	if current.Delinquent && !previous.Delinquent {
		s.events.Delinquent.Publish(model.DelinquencyEvent{Subject: current.Username, Tier: current.PlanTier})
	}
}
