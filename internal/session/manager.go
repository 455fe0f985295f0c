// Package session keeps one dialogue session per chat and routes connector
// traffic to it.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/h1v3-io/helpdesk/internal/dialogue"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// Identity describes who a new session talks to and where its messages go.
type Identity struct {
	// ID becomes the session id; empty means a random one.
	ID        string
	User      protocol.User
	OnMessage func(protocol.Message)
	OnTyping  func()
}

// Manager tracks live sessions by key. The key is a chat identifier for
// connector chats and the session id for API clients.
type Manager struct {
	// Template supplies the shared collaborators of every session; its ID,
	// User, OnMessage and OnTyping are ignored.
	Template dialogue.Config
	Logger   *slog.Logger
	// OnClosed is called, without locks held, after a session is removed.
	OnClosed func(key string)

	mu       sync.Mutex
	sessions map[string]*dialogue.Session
}

// NewManager creates a Manager building sessions from template.
func NewManager(template dialogue.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if template.Clock == nil {
		template.Clock = dialogue.RealClock{}
	}
	return &Manager{
		Template: template,
		Logger:   logger,
		sessions: make(map[string]*dialogue.Session),
	}
}

// Open returns the session for key, starting a new one if none exists.
// created reports whether the session was started by this call. A start
// error is returned with the session, which stays registered: it answers
// every event with a restart notice until it is reset.
func (m *Manager) Open(ctx context.Context, key string, id Identity) (s *dialogue.Session, created bool, err error) {
	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return s, false, nil
	}
	s = m.build(key, id)
	m.sessions[key] = s
	m.mu.Unlock()

	m.Logger.Info("session created", "key", key, "session", s.ID(), "user", id.User.Username)
	return s, true, s.Start(ctx)
}

// Reset closes the session for key, if any, and starts a fresh one.
func (m *Manager) Reset(ctx context.Context, key string, id Identity) (*dialogue.Session, error) {
	m.remove(key, false)
	s, _, err := m.Open(ctx, key, id)
	return s, err
}

// Get returns the live session for key.
func (m *Manager) Get(key string) (*dialogue.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Close stops and removes the session for key. It reports whether one
// existed.
func (m *Manager) Close(key string) bool {
	return m.remove(key, true)
}

func (m *Manager) remove(key string, notify bool) bool {
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	if notify && m.OnClosed != nil {
		m.OnClosed(key)
	}
	return true
}

// Sweep closes sessions idle for longer than idle and returns how many
// were closed.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.Template.Clock.Now().Add(-idle)

	m.mu.Lock()
	var stale []string
	for key, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			stale = append(stale, key)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, key := range stale {
		if m.Close(key) {
			n++
		}
	}
	if n > 0 {
		m.Logger.Info("idle sessions closed", "count", n, "idle", idle)
	}
	return n
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	m.mu.Unlock()
	for _, key := range keys {
		m.Close(key)
	}
}

func (m *Manager) build(key string, id Identity) *dialogue.Session {
	cfg := m.Template
	cfg.ID = id.ID
	cfg.User = id.User
	cfg.OnMessage = id.OnMessage
	cfg.OnTyping = id.OnTyping
	if cfg.Logger == nil {
		cfg.Logger = m.Logger
	}
	cfg.Logger = cfg.Logger.With("key", key)
	return dialogue.NewSession(cfg)
}
