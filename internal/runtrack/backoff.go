package runtrack

import (
	"context"
	"time"
)

// Default polling cadence. Run-status polling is tighter than discovery
// because a tracked run is actively painting progress in the UI.
const (
	RunStatusBase = 1000 * time.Millisecond
	DiscoveryBase = 1500 * time.Millisecond
	BackoffCap    = 5000 * time.Millisecond

	// maxShift bounds the exponent so the delay stops doubling after
	// four attempts regardless of the cap.
	maxShift = 3
)

// Backoff produces the retry delay sequence
// delay = min(cap, base * 2^min(attempt, 3)). Not safe for concurrent use;
// each retry loop owns its own instance.
type Backoff struct {
	base    time.Duration
	cap     time.Duration
	attempt int
}

// NewBackoff creates a Backoff with the given base and cap.
func NewBackoff(base, cap time.Duration) *Backoff {
	return &Backoff{base: base, cap: cap}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	shift := b.attempt
	if shift > maxShift {
		shift = maxShift
	}
	delay := b.base << shift
	if delay > b.cap {
		delay = b.cap
	}
	b.attempt++
	return delay
}

// Reset returns the sequence to the base delay. Called after every
// successful receipt so a healthy channel polls at the base cadence.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// waitFor sleeps for d or until ctx is cancelled. Returns false on
// cancellation.
func waitFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
