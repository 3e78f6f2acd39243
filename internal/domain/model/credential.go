// Package model holds the domain types shared by the ports and services.
package model

import "time"

// PlanTier is the subscription level reported by the account endpoint.
// Higher tiers include every server of the lower ones.
type PlanTier int

const (
	TierFree PlanTier = iota
	TierBasic
	TierPlus
	TierVisionary
)

// MaxTier is the highest tier the catalog can contain. Requesting servers up
// to MaxTier returns the complete (paid) catalog.
const MaxTier = TierVisionary

// String returns the plan name used in logs and alerts.
func (t PlanTier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierBasic:
		return "vpnbasic"
	case TierPlus:
		return "vpnplus"
	case TierVisionary:
		return "visionary"
	default:
		return "unknown"
	}
}

// IsPaid reports whether the tier grants access to paid servers.
func (t PlanTier) IsPaid() bool {
	return t > TierFree
}

// Credential is a session token pair plus the account metadata that travels
// with it. Unauthenticated marks credentials issued to an anonymous session.
type Credential struct {
	SessionID       string    `json:"sessionId"`
	AccessToken     string    `json:"accessToken"`
	RefreshToken    string    `json:"refreshToken"`
	Scope           string    `json:"scope"`
	Unauthenticated bool      `json:"isForUnauthenticatedSession"`
	PlanTier        PlanTier  `json:"planTier"`
	Username        string    `json:"username,omitempty"`
	Subscribed      *bool     `json:"subscribed,omitempty"`
	Delinquent      bool      `json:"delinquent,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt,omitzero"`
}

// WithTokens returns a copy of c carrying the rotated token pair.
func (c Credential) WithTokens(accessToken, refreshToken string) Credential {
	c.AccessToken = accessToken
	c.RefreshToken = refreshToken
	return c
}

// HasSubscribedFlag reports whether the record was written by a version that
// persists the subscribed flag. Older records need an account refresh.
func (c Credential) HasSubscribedFlag() bool {
	return c.Subscribed != nil
}

// AccountInfo is the entitlement payload returned by the account endpoint.
type AccountInfo struct {
	Username   string
	PlanTier   PlanTier
	PlanName   string
	Subscribed bool
	Delinquent bool
	MaxConnect int
}

// SessionTokens is the token material issued by the re-authentication endpoint.
type SessionTokens struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}
