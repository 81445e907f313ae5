package auth

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"go.uber.org/zap"
)

// Manager trades credentials for session tokens. Tokens are opaque random
// int64s valid for the process lifetime; agents log in once at startup and
// attach the token to every privileged request.
type Manager struct {
	logger *zap.Logger

	mu       sync.RWMutex
	creds    map[string]string // user -> password
	sessions map[int64]string  // token -> user
}

// NewManager creates a manager over a fixed credential table.
func NewManager(logger *zap.Logger, creds map[string]string) *Manager {
	table := make(map[string]string, len(creds))
	for user, pass := range creds {
		table[user] = pass
	}
	return &Manager{
		logger:   logger,
		creds:    table,
		sessions: make(map[int64]string),
	}
}

// Login validates credentials and mints a session token.
func (m *Manager) Login(user, password string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expected, ok := m.creds[user]
	if !ok || expected != password {
		m.logger.Warn("auth.login_rejected", zap.String("user", user))
		return 0, false
	}

	token := m.mintToken()
	m.sessions[token] = user
	m.logger.Info("auth.login_ok", zap.String("user", user))
	return token, true
}

// Verify returns the user a token was issued to.
func (m *Manager) Verify(token int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.sessions[token]
	return user, ok
}

// Revoke invalidates a session token.
func (m *Manager) Revoke(token int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// SessionCount reports active sessions, for the health surface.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// mintToken draws a random positive int64 not already in use. Zero is
// reserved so an absent token field never verifies. Caller holds the lock.
func (m *Manager) mintToken() int64 {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(err)
		}
		token := int64(binary.BigEndian.Uint64(buf[:]) >> 1)
		if token == 0 {
			continue
		}
		if _, taken := m.sessions[token]; taken {
			continue
		}
		return token
	}
}
