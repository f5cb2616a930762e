package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	// BreakerHalfOpen lets a single probe through after the cooldown.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Trips reports whether err counts against a vendor's health: rate limits
// and 5xx answers do, caller cancellation and request errors do not.
func Trips(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if IsRateLimit(err) {
		return true
	}
	var se StatusError
	return errors.As(err, &se) && se.Status >= 500
}

// CircuitBreaker stops calling a vendor after threshold consecutive tripping
// failures. It stays open for the cooldown, or for the vendor's Retry-After
// when that is longer, then admits one probe.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
	probing   bool
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed. In half-open only the first
// caller gets through until it reports back.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case BreakerOpen:
		if c.now().Before(c.openUntil) {
			return false
		}
		c.state = BreakerHalfOpen
		c.probing = true
		return true
	case BreakerHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	default:
		return true
	}
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == BreakerOpen && !c.now().Before(c.openUntil) {
		return BreakerHalfOpen
	}
	return c.state
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.state = BreakerClosed
	c.failures = 0
	c.probing = false
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

// OnError records a failed call. Errors that do not trip release a pending
// probe without changing the state.
func (c *CircuitBreaker) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !Trips(err) {
		c.probing = false
		return
	}
	c.failures++
	if c.state == BreakerHalfOpen || c.failures >= c.threshold {
		c.open(retryAfter(err))
	}
}

func (c *CircuitBreaker) open(hint time.Duration) {
	wait := c.cooldown
	if hint > wait {
		wait = hint
	}
	c.state = BreakerOpen
	c.probing = false
	c.openUntil = c.now().Add(wait)
}

func retryAfter(err error) time.Duration {
	var rl RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
