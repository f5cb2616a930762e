package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

// ErrCircuitOpen is returned without calling the provider while the breaker
// is open.
var ErrCircuitOpen = errors.New("llm circuit open")

// CircuitBreakerAdapter fails fast while the provider is rate limiting or
// answering 5xx, so a call falls through to its apology instead of waiting
// out the turn deadline.
type CircuitBreakerAdapter struct {
	inner   LLMAdapter
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
}

func NewCircuitBreakerAdapter(inner LLMAdapter, breaker *resilience.CircuitBreaker) *CircuitBreakerAdapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerAdapter{inner: inner, breaker: breaker, obs: metrics.NoopObserver{}}
}

func (a *CircuitBreakerAdapter) Name() string { return a.inner.Name() }

func (a *CircuitBreakerAdapter) SetObserver(obs metrics.Observer) { a.obs = metrics.OrNoop(obs) }

func (a *CircuitBreakerAdapter) State() resilience.BreakerState { return a.breaker.State() }

func (a *CircuitBreakerAdapter) Generate(ctx context.Context, input Context) (Response, error) {
	before := a.breaker.State()
	if !a.breaker.Allow() {
		a.record(metrics.EventBreakerDenied, 1, nil)
		return Response{}, errorsx.Wrap(fmt.Errorf("%s: %w", a.Name(), ErrCircuitOpen), errorsx.ReasonLLMCircuitOpen)
	}
	resp, err := a.inner.Generate(ctx, input)
	if err == nil {
		a.breaker.OnSuccess()
	} else {
		a.breaker.OnError(err)
	}
	if after := a.breaker.State(); after != before {
		a.record(metrics.EventBreakerState, float64(after), map[string]string{
			metrics.TagFrom: before.String(),
			metrics.TagTo:   after.String(),
		})
	}
	if err == nil {
		return resp, nil
	}
	if resilience.IsRateLimit(err) {
		a.record(metrics.EventRateLimit, 1, nil)
		return Response{}, errorsx.Wrap(err, errorsx.ReasonLLMRateLimit)
	}
	return Response{}, err
}

func (a *CircuitBreakerAdapter) record(name string, value float64, tags map[string]string) {
	if tags == nil {
		tags = make(map[string]string, 1)
	}
	tags[metrics.TagProvider] = a.Name()
	a.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  tags,
	})
}
