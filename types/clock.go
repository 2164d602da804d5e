// Package types provides common types used across wuxing-premium.
package types

import "time"

// Clock supplies the current time. Entitlement expiry and the free-tier
// date window are evaluated against a Clock at query time, so tests can
// pin time without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a Clock pinned to a single instant.
type FixedClock struct {
	At time.Time
}

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time { return c.At }
