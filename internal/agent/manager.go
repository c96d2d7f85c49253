package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/yegors/co-voice/pkg/logger"
)

// Manager creates and tracks voice sessions
type Manager struct {
	responder      Responder
	newTranscriber TranscriberFactory
	config         SessionConfig
	logger         *logger.Logger

	// Session management
	sessions   map[string]*Session
	sessionsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a new session manager
func NewManager(responder Responder, newTranscriber TranscriberFactory, config SessionConfig, logger *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		responder:      responder,
		newTranscriber: newTranscriber,
		config:         config,
		logger:         logger.Named("agent"),
		sessions:       make(map[string]*Session),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// CreateSession creates a session that writes to sink
func (m *Manager) CreateSession(sink Sink) *Session {
	id := uuid.New().String()
	s := newSession(m.ctx, id, sink, m.responder, m.newTranscriber, m.config, m.logger)
	s.onClosed = m.removeSession

	m.sessionsMu.Lock()
	m.sessions[id] = s
	total := len(m.sessions)
	m.sessionsMu.Unlock()

	m.logger.Info("Created voice session",
		String("session_id", id),
		Int("total_sessions", total))

	return s
}

// GetSession returns a live session by id
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ListSessions returns the status of every live session, oldest first
func (m *Manager) ListSessions() []SessionStatus {
	m.sessionsMu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessionsMu.RUnlock()

	statuses := make([]SessionStatus, 0, len(sessions))
	for _, s := range sessions {
		statuses = append(statuses, s.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].CreatedAt.Before(statuses[j].CreatedAt)
	})
	return statuses
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) removeSession(id string) {
	m.sessionsMu.Lock()
	delete(m.sessions, id)
	remaining := len(m.sessions)
	m.sessionsMu.Unlock()

	m.logger.Info("Removed voice session",
		String("session_id", id),
		Int("remaining_sessions", remaining))
}

// Shutdown closes every session and waits for in-flight runs to return
func (m *Manager) Shutdown(ctx context.Context) error {
	m.sessionsMu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessionsMu.RUnlock()

	m.logger.Info("Shutting down voice sessions", Int("sessions", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		for _, s := range sessions {
			s.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
