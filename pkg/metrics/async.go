package metrics

import (
	"sync"
	"sync/atomic"
)

// AsyncObserver moves event delivery off the caller's goroutine. Events are
// dropped, and counted, when the buffer is full.
type AsyncObserver struct {
	inner   Observer
	ch      chan MetricsEvent
	dropped int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner: OrNoop(inner),
		ch:    make(chan MetricsEvent, buffer),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- ev:
	default:
		atomic.AddInt64(&a.dropped, 1)
	}
}

func (a *AsyncObserver) Dropped() int64 {
	return atomic.LoadInt64(&a.dropped)
}

// Close stops intake and waits for buffered events to reach the inner
// observer.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *AsyncObserver) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.inner.RecordEvent(ev)
	}
	if f, ok := a.inner.(Flusher); ok {
		_ = f.Flush()
	}
}
