package model

// PlanChangeEvent is raised when a stored credential carries a different tier
// than the one it replaces.
type PlanChangeEvent struct {
	OldTier PlanTier
	NewTier PlanTier
	Subject string
}

// Downgrade reports whether the plan moved to a lower tier.
func (e PlanChangeEvent) Downgrade() bool {
	return e.NewTier < e.OldTier
}

// DelinquencyEvent is raised when an account becomes delinquent on payment.
type DelinquencyEvent struct {
	Subject string
	Tier    PlanTier
}

// SessionInvalidated is raised after both credential slots were cleared
// because the server rejected the session.
type SessionInvalidated struct {
	SessionID string
}
