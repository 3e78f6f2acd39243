package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

// ErrSessionMismatch is returned when a token rotation targets a session that
// is no longer the stored one, for example because it was cleared on logout.
var ErrSessionMismatch = errors.New("stored session does not match rotated session")

// CredentialStore is the single source of truth for session credentials.
// Reads never fail; a missing or unreadable slot is reported as nil.
type CredentialStore interface {
	// FetchAuthenticated returns the authenticated credential, or nil.
	FetchAuthenticated(ctx context.Context) *model.Credential

	// FetchUnauthenticated returns the anonymous-session credential, or nil.
	FetchUnauthenticated(ctx context.Context) *model.Credential

	// RotateTokens replaces the token pair of the stored session identified
	// by sessionID. Returns ErrSessionMismatch if that session is gone.
	RotateTokens(ctx context.Context, sessionID, accessToken, refreshToken string) error

	// InvalidateSession clears both slots and then notifies subscribers.
	InvalidateSession(ctx context.Context, sessionID string)
}
