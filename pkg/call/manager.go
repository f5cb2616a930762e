package call

import (
	"context"
	"log/slog"
	"sync"

	"github.com/harunnryd/callbridge/pkg/frames"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/transports"
)

// Manager routes transport events to per-call sessions.
type Manager struct {
	transport transports.Transport
	collab    Collaborators
	cfg       Config
	log       *slog.Logger
	obs       metrics.Observer

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewManager(transport transports.Transport, collab Collaborators, cfg Config, log *slog.Logger) *Manager {
	return &Manager{
		transport: transport,
		collab:    collab,
		cfg:       cfg.withDefaults(),
		log:       logging.NewComponentLogger(log, "call"),
		obs:       metrics.NoopObserver{},
		sessions:  make(map[string]*Session),
	}
}

// SetObserver must be called before Run.
func (m *Manager) SetObserver(obs metrics.Observer) { m.obs = metrics.OrNoop(obs) }

// Run consumes transport events until ctx ends. Sessions started here are
// children of ctx.
func (m *Manager) Run(ctx context.Context) error {
	recv := m.transport.Recv()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-recv:
			if !ok {
				return nil
			}
			m.route(ctx, f)
		}
	}
}

func (m *Manager) route(ctx context.Context, f frames.Frame) {
	id := f.SessionID()
	if f.Kind() == frames.KindOpened {
		m.open(ctx, id)
		return
	}

	m.mu.Lock()
	s := m.sessions[id]
	if f.Kind() == frames.KindClosed {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if s == nil || !s.deliver(f) {
		frames.ReleaseAudioFrame(f)
		if s == nil && f.Kind() != frames.KindAudio {
			m.log.Debug("call_event_without_session", "session_id", id, "kind", string(f.Kind()))
		}
	}
}

func (m *Manager) open(ctx context.Context, id string) {
	s := newSession(ctx, id, m.cfg, m.collab, m.transport, m.log, m.obs)
	m.mu.Lock()
	prev := m.sessions[id]
	m.sessions[id] = s
	m.mu.Unlock()
	if prev != nil {
		m.log.Warn("call_session_replaced", "session_id", id)
		prev.deliver(closeRequest{reason: "replaced"})
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run()
		m.mu.Lock()
		if m.sessions[id] == s {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	}()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Session returns the live session for id, if any.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close hangs up every live call and waits for the sessions to finish, or
// for ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.deliver(closeRequest{reason: "server_shutdown", hangup: true})
	}
	return m.Wait(ctx)
}

// Wait blocks until every session goroutine has exited or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
