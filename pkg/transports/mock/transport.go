package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/callbridge/pkg/frames"
	"github.com/harunnryd/callbridge/pkg/transports"
)

// Send is one playback request recorded by the mock.
type Send struct {
	SessionID string
	PCM       []byte

	result   chan error
	resolved chan struct{}
	once     sync.Once
}

// Complete resolves the playback with err. Later calls are ignored.
func (s *Send) Complete(err error) {
	s.once.Do(func() {
		s.result <- err
		close(s.resolved)
	})
}

// Resolved is closed once the playback has completed.
func (s *Send) Resolved() <-chan struct{} { return s.resolved }

// Transport is an in-memory transport for tests. Sessions come to life through
// pushed opened/handshake events; sends are recorded and completed by the test
// unless AutoComplete is set.
type Transport struct {
	// AutoComplete resolves every send with nil as soon as it is recorded.
	AutoComplete bool

	recvCh chan frames.Frame
	sentCh chan *Send
	closed atomic.Bool

	mu       sync.Mutex
	sessions map[string]bool
	active   map[string]*Send
	hangups  []string
}

var _ transports.Transport = (*Transport)(nil)

func New() *Transport {
	return &Transport{
		recvCh:   make(chan frames.Frame, 256),
		sentCh:   make(chan *Send, 256),
		sessions: make(map[string]bool),
		active:   make(map[string]*Send),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.closed.Store(true)
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// Push injects an inbound event and tracks session state the way a real
// transport would.
func (t *Transport) Push(f frames.Frame) {
	t.mu.Lock()
	switch f.Kind() {
	case frames.KindOpened:
		t.sessions[f.SessionID()] = false
	case frames.KindHandshake:
		t.sessions[f.SessionID()] = true
	case frames.KindClosed:
		delete(t.sessions, f.SessionID())
		if s := t.active[f.SessionID()]; s != nil {
			delete(t.active, f.SessionID())
			defer s.Complete(transports.ErrSessionClosedDuringSend)
		}
	}
	t.mu.Unlock()
	t.recvCh <- f
}

// Open pushes the opened and handshake events for id.
func (t *Transport) Open(id string, callID uuid.UUID) {
	now := time.Now().UnixNano()
	t.Push(frames.NewOpenedFrame(id, now, "mock"))
	t.Push(frames.NewHandshakeFrame(id, now, callID))
}

func (t *Transport) SendAudio(ctx context.Context, sessionID string, pcm []byte) (<-chan error, error) {
	t.mu.Lock()
	ready, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return nil, transports.ErrSessionNotFound
	}
	if !ready {
		t.mu.Unlock()
		return nil, transports.ErrHandshakeIncomplete
	}
	send := &Send{
		SessionID: sessionID,
		PCM:       append([]byte(nil), pcm...),
		result:    make(chan error, 1),
		resolved:  make(chan struct{}),
	}
	prev := t.active[sessionID]
	t.active[sessionID] = send
	t.mu.Unlock()

	if prev != nil {
		prev.Complete(transports.ErrSendCanceled)
	}
	if t.AutoComplete {
		t.finish(send, nil)
	} else if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				t.finish(send, transports.ErrSendCanceled)
			case <-send.resolved:
			}
		}()
	}
	t.sentCh <- send
	return send.result, nil
}

func (t *Transport) finish(s *Send, err error) {
	t.mu.Lock()
	if t.active[s.SessionID] == s {
		delete(t.active, s.SessionID)
	}
	t.mu.Unlock()
	s.Complete(err)
}

func (t *Transport) CancelSend(sessionID string) {
	t.mu.Lock()
	s := t.active[sessionID]
	delete(t.active, sessionID)
	t.mu.Unlock()
	if s != nil {
		s.Complete(transports.ErrSendCanceled)
	}
}

func (t *Transport) Hangup(sessionID string) error {
	t.mu.Lock()
	_, ok := t.sessions[sessionID]
	if ok {
		t.hangups = append(t.hangups, sessionID)
	}
	t.mu.Unlock()
	if !ok {
		return transports.ErrSessionNotFound
	}
	t.CancelSend(sessionID)
	return nil
}

// Sent exposes recorded playback requests in order.
func (t *Transport) Sent() <-chan *Send { return t.sentCh }

// Hangups lists sessions the server hung up.
func (t *Transport) Hangups() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.hangups...)
}
