package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(threshold, cooldown)
	cb.now = clock.now
	return cb, clock
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	cb.OnError(RateLimitError{Provider: "p"})
	if !cb.Allow() {
		t.Fatalf("breaker opened too early")
	}
	cb.OnError(fmt.Errorf("wrapped: %w", StatusError{Provider: "p", Status: 503}))
	if cb.Allow() || cb.State() != BreakerOpen {
		t.Fatalf("expected open after threshold, state %s", cb.State())
	}
}

func TestBreakerIgnoresNonTrippingErrors(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	for _, err := range []error{
		errors.New("timeout"),
		context.Canceled,
		StatusError{Provider: "p", Status: 400},
	} {
		cb.OnError(err)
	}
	if !cb.Allow() || cb.State() != BreakerClosed {
		t.Fatalf("non tripping errors must not open the breaker")
	}
}

func TestBreakerHalfOpenAdmitsOneProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, 10*time.Second)
	cb.OnError(RateLimitError{})
	if cb.Allow() {
		t.Fatalf("expected open")
	}
	clock.advance(10 * time.Second)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("expected half open, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatalf("expected probe to pass")
	}
	if cb.Allow() {
		t.Fatalf("second caller must wait for the probe")
	}
	cb.OnError(StatusError{Status: 502})
	if cb.Allow() {
		t.Fatalf("failed probe reopens")
	}
	clock.advance(10 * time.Second)
	if !cb.Allow() {
		t.Fatalf("expected new probe")
	}
	cb.OnSuccess()
	if cb.State() != BreakerClosed || !cb.Allow() || !cb.Allow() {
		t.Fatalf("successful probe closes the breaker")
	}
}

func TestBreakerHonoursRetryAfter(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	cb.OnError(RateLimitError{RetryAfter: time.Minute})
	clock.advance(30 * time.Second)
	if cb.Allow() {
		t.Fatalf("retry-after longer than cooldown keeps the breaker open")
	}
	clock.advance(30 * time.Second)
	if !cb.Allow() {
		t.Fatalf("expected probe after retry-after")
	}
}

func TestCheckResponse(t *testing.T) {
	mk := func(status int, body string, hdr http.Header) *http.Response {
		if hdr == nil {
			hdr = http.Header{}
		}
		return &http.Response{StatusCode: status, Header: hdr, Body: io.NopCloser(strings.NewReader(body))}
	}
	if err := CheckResponse("groq", mk(200, "", nil)); err != nil {
		t.Fatalf("2xx should pass: %v", err)
	}

	err := CheckResponse("groq", mk(429, "slow down", http.Header{"Retry-After": []string{"7"}}))
	var rl RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != 7*time.Second || rl.Message != "slow down" {
		t.Fatalf("unexpected rate limit %#v", err)
	}
	if got := err.Error(); got != "groq: rate limited (retry after 7s): slow down" {
		t.Fatalf("unexpected message %q", got)
	}

	err = CheckResponse("openrouter", mk(500, " upstream down \n", nil))
	var se StatusError
	if !errors.As(err, &se) || se.Status != 500 || se.Body != "upstream down" || !Trips(err) {
		t.Fatalf("unexpected status error %#v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	cases := map[string]time.Duration{
		"":                              0,
		"3":                             3 * time.Second,
		"-1":                            0,
		"soon":                          0,
		"Fri, 02 Jan 2026 15:04:35 GMT": 30 * time.Second,
		"Fri, 02 Jan 2026 15:00:00 GMT": 0,
	}
	for in, want := range cases {
		if got := ParseRetryAfter(in, now); got != want {
			t.Fatalf("ParseRetryAfter(%q) = %s, want %s", in, got, want)
		}
	}
}
