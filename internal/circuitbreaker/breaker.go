package circuitbreaker

import (
	"sync"
	"time"
)

// Breaker tracks consecutive failures against a single endpoint and keeps
// that endpoint out of pool rotation while it cools down. After the cooldown
// one probe call is admitted; its outcome decides whether the breaker closes
// again or re-opens.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	consecutive int
	open        bool
	probing     bool
	openedAt    time.Time
	onTrip      func()
}

// New creates a breaker that opens after threshold consecutive failures and
// stays out of rotation for cooldown. onTrip may be nil.
func New(threshold int, cooldown time.Duration, onTrip func()) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, onTrip: onTrip}
}

// Ready reports whether the endpoint should be considered for selection:
// closed, or cooled down with no probe in flight. Ready never changes state,
// so callers can filter a whole pool without consuming the half-open
// admission; Allow consumes it.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.probing {
		return false
	}
	return time.Since(b.openedAt) >= b.cooldown
}

// Allow admits one call against the endpoint. A closed breaker always
// allows; an open breaker past its cooldown admits a single probe whose
// Report decides whether the breaker closes or re-opens. Callers must only
// Allow the endpoint they are about to call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.probing {
		return false
	}
	if time.Since(b.openedAt) >= b.cooldown {
		b.probing = true
		return true
	}
	return false
}

// Report records the outcome of one call against the endpoint.
func (b *Breaker) Report(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.consecutive = 0
		b.open = false
		b.probing = false
		return
	}

	b.consecutive++
	if b.open {
		// Probe failed; restart the cooldown window.
		b.openedAt = time.Now()
		b.probing = false
		return
	}
	if b.consecutive >= b.threshold {
		b.open = true
		b.probing = false
		b.openedAt = time.Now()
		if b.onTrip != nil {
			b.onTrip()
		}
	}
}

// State returns "closed", "open" or "probing" for diagnostics.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case !b.open:
		return "closed"
	case b.probing:
		return "probing"
	default:
		return "open"
	}
}
