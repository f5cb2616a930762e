package runner

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrDrainTimeout = errors.New("drain timeout")
)

// LifecycleRunner holds the process in RUNNING until its context ends, then
// drains within a deadline.
type LifecycleRunner struct {
	state    int32
	mu       sync.Mutex
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration

	// Banner receives the startup banner; nil disables it.
	Banner io.Writer
	Title  string
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		state:   int32(StateNew),
		cancel:  func() {},
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
	}
}

// Run blocks until ctx ends or Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return ErrInvalidState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	if r.Title != "" {
		PrintBanner(r.Banner, r.Title)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)
	<-ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	if r.State() == StateNew {
		return ErrInvalidState
	}
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.drainer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain(ctx) }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-ctx.Done():
				r.stopErr = ErrDrainTimeout
			}
			cancel()
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
