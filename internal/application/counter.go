package application

import "sync/atomic"

// SuccessCounter counts consecutive successful account and full refreshes.
// Any failure of either resets it to zero.
type SuccessCounter struct {
	n atomic.Int64
}

// Increment adds one and returns the new value.
func (c *SuccessCounter) Increment() int64 {
	return c.n.Add(1)
}

// Reset sets the counter back to zero.
func (c *SuccessCounter) Reset() {
	c.n.Store(0)
}

// Value returns the current count.
func (c *SuccessCounter) Value() int64 {
	return c.n.Load()
}

// PaidCycle reports whether the next success is the every-th in a row, which
// is the cycle that downloads the complete paid catalog.
func (c *SuccessCounter) PaidCycle(every int) bool {
	if every < 1 {
		return false
	}
	return (c.n.Load()+1)%int64(every) == 0
}
