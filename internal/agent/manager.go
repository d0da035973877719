// ABOUTME: Tracks live sessions and runs each one's request loop
// ABOUTME: Decodes, handles, encodes and writes requests one at a time per session

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/secret-agent/internal/session"
	"github.com/2389/secret-agent/internal/wire"
)

// ErrSessionAlreadyRegistered indicates a session with the same ID is already tracked.
var ErrSessionAlreadyRegistered = errors.New("session already registered")

// Manager coordinates all live sessions.
type Manager struct {
	agent    *Agent
	sessions map[string]*session.Session
	mu       sync.RWMutex
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewManager creates a Manager that answers requests with a. Pass nil
// logger for default.
func NewManager(a *Agent, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		agent:    a,
		sessions: make(map[string]*session.Session),
		logger:   logger.With("component", "manager"),
	}
}

// Register starts tracking s.
func (m *Manager) Register(s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return ErrSessionAlreadyRegistered
	}

	m.sessions[s.ID] = s
	m.logger.Debug("session opened",
		"session_id", s.ID,
		"client", s.Provenance().String(),
		"total_sessions", len(m.sessions),
	)
	return nil
}

// Unregister stops tracking the session with the given ID.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		delete(m.sessions, id)
		m.logger.Debug("session closed",
			"session_id", id,
			"total_sessions", len(m.sessions),
		)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Serve runs every session received from sessions until ctx is done or
// sessions is closed. It then closes the remaining sessions and waits for
// their in-flight requests.
func (m *Manager) Serve(ctx context.Context, sessions <-chan *session.Session) {
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sessions:
			if !ok {
				return
			}
			if err := m.Register(s); err != nil {
				m.logger.Error("rejecting session", "session_id", s.ID, "error", err)
				_ = s.Close()
				continue
			}
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.Run(ctx, s)
			}()
		}
	}
}

func (m *Manager) shutdown() {
	m.mu.RLock()
	live := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	for _, s := range live {
		_ = s.Close()
	}
	m.wg.Wait()
}

// Run serves s until it closes. Requests are handled strictly in arrival
// order. Callers that use Run directly are responsible for Register.
func (m *Manager) Run(ctx context.Context, s *session.Session) {
	defer m.Unregister(s.ID)
	defer s.Close()

	ctx = WithSessionID(ctx, s.ID)
	logger := m.logger.With("session_id", s.ID)

	for frame := range s.Messages() {
		req, err := wire.DecodeRequest(frame)
		if err != nil {
			logger.Warn("closing session on malformed request", "error", err)
			s.Fail(err)
			return
		}

		resp := m.agent.Handle(ctx, req, s.Provenance())

		if err := s.Write(wire.EncodeResponse(resp)); err != nil {
			logger.Debug("closing session on write failure",
				"request", wire.TypeName(req.Type()),
				"error", err,
			)
			return
		}
	}

	if err := s.Err(); err != nil {
		logger.Warn("session ended with error", "error", err)
	}
}
