package auth

import (
	"sync"
)

// CredentialStore supplies and clears the bearer token the backend issued at login.
// Implementations must be safe for concurrent use.
type CredentialStore interface {
	// Token returns the current bearer token, or "" when logged out.
	Token() string
	// Clear wipes every stored credential. Called by the forced-logout flow.
	Clear()
}

// ProfileStore holds locally cached profile data that must be wiped alongside
// the token on forced logout.
type ProfileStore interface {
	ClearProfile()
}

// MemoryCredentials is an in-memory CredentialStore for hosts without their
// own token storage, and for tests.
type MemoryCredentials struct {
	mu      sync.Mutex
	token   string
	profile map[string]string
}

// NewMemoryCredentials builds a store seeded with the given token.
func NewMemoryCredentials(token string) *MemoryCredentials {
	return &MemoryCredentials{token: token, profile: make(map[string]string)}
}

func (m *MemoryCredentials) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// SetToken replaces the stored token, e.g. after a fresh login.
func (m *MemoryCredentials) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// SetProfile stores a cached profile value.
func (m *MemoryCredentials) SetProfile(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile[key] = value
}

// Profile returns a cached profile value.
func (m *MemoryCredentials) Profile(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile[key]
}

func (m *MemoryCredentials) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.profile = make(map[string]string)
}

func (m *MemoryCredentials) ClearProfile() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = make(map[string]string)
}
