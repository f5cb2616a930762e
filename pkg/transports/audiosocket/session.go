package audiosocket

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/callbridge/pkg/transports"
)

// session is the transport-side state of one TCP connection.
type session struct {
	id     string
	conn   net.Conn
	opened time.Time

	handshake atomic.Bool
	callID    atomic.Pointer[uuid.UUID]

	closed       atomic.Bool
	serverHangup atomic.Bool
	done         chan struct{}
	closeOnce    sync.Once

	// writeMu serialises every write on the socket.
	writeMu      sync.Mutex
	writeTimeout time.Duration
	writeErr     atomic.Pointer[error]

	pacerMu sync.Mutex
	pacer   *pacer
}

func newSession(id string, conn net.Conn, writeTimeout time.Duration) *session {
	return &session{
		id:           id,
		conn:         conn,
		opened:       time.Now(),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (s *session) isClosed() bool { return s.closed.Load() }

func (s *session) markClosed() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

func (s *session) setCallID(id uuid.UUID) bool {
	if !s.handshake.CompareAndSwap(false, true) {
		return false
	}
	s.callID.Store(&id)
	return true
}

// write sends one encoded message. A canceled ctx is checked under the write
// lock so a superseded pacer never writes after its replacement starts.
func (s *session) write(ctx context.Context, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if ctx.Err() != nil {
		return transports.ErrSendCanceled
	}
	if s.isClosed() {
		return transports.ErrSessionClosedDuringSend
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	_, err := s.conn.Write(msg)
	return err
}

func (s *session) failWrite(err error) {
	s.writeErr.CompareAndSwap(nil, &err)
	_ = s.conn.Close()
}

func (s *session) lastWriteErr() error {
	if p := s.writeErr.Load(); p != nil {
		return *p
	}
	return nil
}

// replacePacer installs p after stopping the active pacer, waiting for it to
// exit so two pacers never share the socket.
func (s *session) replacePacer(p *pacer) {
	s.pacerMu.Lock()
	prev := s.pacer
	s.pacer = p
	s.pacerMu.Unlock()
	if prev != nil {
		prev.stop()
	}
}

func (s *session) cancelPacer() {
	s.pacerMu.Lock()
	prev := s.pacer
	s.pacer = nil
	s.pacerMu.Unlock()
	if prev != nil {
		prev.stop()
	}
}

func (s *session) clearPacer(p *pacer) {
	s.pacerMu.Lock()
	if s.pacer == p {
		s.pacer = nil
	}
	s.pacerMu.Unlock()
}
