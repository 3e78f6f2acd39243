package model

import (
	"errors"
	"fmt"
	"time"
)

// RefreshKind identifies an independently scheduled synchronization resource.
type RefreshKind int

const (
	RefreshAccount RefreshKind = iota
	RefreshFull
	RefreshLoads
	RefreshStreaming
	RefreshPartners
)

// RefreshKinds lists every kind in the order the scheduler evaluates them.
var RefreshKinds = []RefreshKind{
	RefreshAccount,
	RefreshFull,
	RefreshLoads,
	RefreshStreaming,
	RefreshPartners,
}

// String returns the kind name used in logs, config keys, and API paths.
func (k RefreshKind) String() string {
	switch k {
	case RefreshAccount:
		return "account"
	case RefreshFull:
		return "full"
	case RefreshLoads:
		return "loads"
	case RefreshStreaming:
		return "streaming"
	case RefreshPartners:
		return "partners"
	default:
		return "unknown"
	}
}

// ParseRefreshKind maps a kind name back to its RefreshKind.
func ParseRefreshKind(s string) (RefreshKind, error) {
	for _, k := range RefreshKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown refresh kind %q", s)
}

// RefreshIntervals is the per-kind timer period. All durations must be positive.
type RefreshIntervals struct {
	Account   time.Duration `yaml:"account"`
	Full      time.Duration `yaml:"full"`
	Loads     time.Duration `yaml:"loads"`
	Streaming time.Duration `yaml:"streaming"`
	Partners  time.Duration `yaml:"partners"`
}

// DefaultRefreshIntervals returns the intervals used when nothing is configured.
func DefaultRefreshIntervals() RefreshIntervals {
	return RefreshIntervals{
		Account:   3 * time.Minute,
		Full:      3 * time.Hour,
		Loads:     15 * time.Minute,
		Streaming: 48 * time.Hour,
		Partners:  12 * time.Hour,
	}
}

// For returns the interval configured for kind.
func (ri RefreshIntervals) For(kind RefreshKind) time.Duration {
	switch kind {
	case RefreshAccount:
		return ri.Account
	case RefreshFull:
		return ri.Full
	case RefreshLoads:
		return ri.Loads
	case RefreshStreaming:
		return ri.Streaming
	case RefreshPartners:
		return ri.Partners
	default:
		return 0
	}
}

// Validate returns an error naming every non-positive interval.
func (ri RefreshIntervals) Validate() error {
	var errs []error
	for _, k := range RefreshKinds {
		if d := ri.For(k); d <= 0 {
			errs = append(errs, fmt.Errorf("%s refresh interval must be positive, got %s", k, d))
		}
	}
	return errors.Join(errs...)
}

// RefreshTimestamps holds the last successful refresh per kind. A kind with
// no entry has never refreshed in this process.
type RefreshTimestamps map[RefreshKind]time.Time

// Due reports whether kind needs a catch-up refresh at now.
func (ts RefreshTimestamps) Due(kind RefreshKind, interval time.Duration, now time.Time) bool {
	last, ok := ts[kind]
	if !ok {
		return true
	}
	return last.Add(interval).Before(now)
}
