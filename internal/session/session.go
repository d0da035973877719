// ABOUTME: One connected agent client: lazy frame channel, write and close
// ABOUTME: A per-connection reader goroutine feeds frames with backpressure

package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/secret-agent/internal/wire"
)

// ErrTransport wraps read and write failures on the underlying connection.
var ErrTransport = errors.New("agent transport error")

// writeTimeout bounds a single response write so a stalled client cannot
// pin its handler forever.
const writeTimeout = 10 * time.Second

// State is a session lifecycle state.
type State int32

const (
	StateOpen State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is one client connection.
type Session struct {
	ID string

	conn       net.Conn
	provenance Provenance
	frames     *wire.FrameReader
	logger     *slog.Logger
	state      atomic.Int32

	startOnce sync.Once
	msgs      chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error
}

// New wraps conn. The provenance is whatever the caller captured when the
// connection was accepted. Pass nil logger for default.
func New(conn net.Conn, provenance Provenance, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Session{
		ID:         id,
		conn:       conn,
		provenance: provenance,
		frames:     wire.NewFrameReader(conn),
		logger:     logger.With("component", "session", "session_id", id),
		msgs:       make(chan []byte),
		closed:     make(chan struct{}),
	}
}

// Provenance returns the peer information captured at accept time.
func (s *Session) Provenance() Provenance {
	return s.provenance
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Messages returns the session's frames, each a complete length-prefixed
// agent message. The first call starts reading; every call returns the same
// channel.
func (s *Session) Messages() <-chan []byte {
	s.startOnce.Do(func() {
		s.state.CompareAndSwap(int32(StateOpen), int32(StateStreaming))
		go s.readLoop()
	})
	return s.msgs
}

func (s *Session) readLoop() {
	defer close(s.msgs)

	for {
		frame, err := s.frames.Next()
		if err != nil {
			s.finish(err)
			return
		}

		select {
		case s.msgs <- frame:
		case <-s.closed:
			return
		}
	}
}

// finish records why reading stopped. A clean EOF only ends the message
// stream: the client may have shut down its write side and still be
// waiting for replies, so the owner closes the session once it has
// answered. Anything else closes the session immediately.
func (s *Session) finish(err error) {
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Debug("client finished sending")
		return
	case s.isClosed():
		// Closed locally; the read error is just the fallout.
		err = nil
	case errors.Is(err, wire.ErrMalformedMessage):
	default:
		err = fmt.Errorf("%w: reading: %w", ErrTransport, err)
	}

	if err != nil {
		s.setErr(err)
		s.logger.Debug("session stream ended", "error", err)
	}
	_ = s.Close()
}

// Write sends one encoded frame to the client.
func (s *Session) Write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed() {
		return fmt.Errorf("%w: writing: %w", ErrTransport, net.ErrClosed)
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := s.conn.Write(frame); err != nil {
		err = fmt.Errorf("%w: writing: %w", ErrTransport, err)
		s.setErr(err)
		return err
	}
	return nil
}

// Fail records err as the reason the session ended and closes it. Used by
// the owner when it cannot decode a frame the reader surfaced.
func (s *Session) Fail(err error) {
	s.setErr(err)
	_ = s.Close()
}

// Close closes the connection and ends the message stream. Safe to call
// more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Err returns the first error that ended the session, or nil.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
