package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

type scriptedAdapter struct {
	errs  []error
	calls int
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) Generate(context.Context, Context) (Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Response{}, s.errs[i]
	}
	return Response{Text: "ok"}, nil
}

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	rl := resilience.RateLimitError{Provider: "scripted"}
	inner := &scriptedAdapter{errs: []error{rl, rl}}
	obs := metrics.NewMemoryObserver()
	a := NewCircuitBreakerAdapter(inner, resilience.NewCircuitBreaker(2, time.Minute))
	a.SetObserver(obs)

	for i := 0; i < 2; i++ {
		_, err := a.Generate(context.Background(), Context{})
		if !errorsx.HasReason(err, errorsx.ReasonLLMRateLimit) {
			t.Fatalf("call %d: expected rate limit reason, got %v", i, err)
		}
	}
	_, err := a.Generate(context.Background(), Context{})
	if !errorsx.HasReason(err, errorsx.ReasonLLMCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("open circuit must not reach the provider, calls=%d", inner.calls)
	}
	if obs.Count(metrics.EventRateLimit) != 2 || obs.Count(metrics.EventBreakerDenied) != 1 {
		t.Fatalf("unexpected events %+v", obs.Events)
	}
}

func TestCircuitBreakerIgnoresOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	inner := &scriptedAdapter{errs: []error{boom, boom, boom}}
	a := NewCircuitBreakerAdapter(inner, resilience.NewCircuitBreaker(1, time.Minute))
	for i := 0; i < 3; i++ {
		if _, err := a.Generate(context.Background(), Context{}); !errors.Is(err, boom) {
			t.Fatalf("expected passthrough error, got %v", err)
		}
	}
	resp, err := a.Generate(context.Background(), Context{})
	if err != nil || resp.Text != "ok" {
		t.Fatalf("expected success, got %v %v", resp, err)
	}
}

func TestCircuitBreakerTripsOnServerErrors(t *testing.T) {
	down := resilience.StatusError{Provider: "scripted", Status: 503, Body: "overloaded"}
	inner := &scriptedAdapter{errs: []error{down}}
	obs := metrics.NewMemoryObserver()
	a := NewCircuitBreakerAdapter(inner, resilience.NewCircuitBreaker(1, time.Minute))
	a.SetObserver(obs)

	if _, err := a.Generate(context.Background(), Context{}); !errors.As(err, &resilience.StatusError{}) {
		t.Fatalf("expected status error passthrough, got %v", err)
	}
	if a.State() != resilience.BreakerOpen {
		t.Fatalf("expected open breaker, got %s", a.State())
	}
	changes := obs.Named(metrics.EventBreakerState)
	if len(changes) != 1 || changes[0].Tag(metrics.TagTo) != "open" || changes[0].Tag(metrics.TagFrom) != "closed" {
		t.Fatalf("unexpected state events %+v", changes)
	}

	_, err := a.Generate(context.Background(), Context{})
	if !errors.Is(err, ErrCircuitOpen) || !errorsx.HasReason(err, errorsx.ReasonLLMCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
}
