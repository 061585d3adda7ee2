// Package client is a Go client for servers that mount the httpauth routes.
// It logs in with email and password, keeps the session token in a
// CredentialStore and adds it as a Bearer header to outgoing requests.
package client

import (
	"sort"
	"sync"
	"time"
)

// ServerCredential holds the session for a single server.
type ServerCredential struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the session has expired at now.
func (c *ServerCredential) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsExpiringSoon reports whether the session expires within the given duration.
func (c *ServerCredential) IsExpiringSoon(now time.Time, within time.Duration) bool {
	return !now.Add(within).Before(c.ExpiresAt)
}

// CredentialStore defines the interface for storing and retrieving credentials
type CredentialStore interface {
	// GetCredential retrieves a credential for a server URL
	// Returns nil, nil if no credential exists for the server
	GetCredential(serverURL string) (*ServerCredential, error)

	SetCredential(serverURL string, cred *ServerCredential) error

	RemoveCredential(serverURL string) error

	// ListServers returns all server URLs with stored credentials, sorted.
	ListServers() ([]string, error)
}

// MemoryCredentialStore keeps credentials for the life of the process.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]ServerCredential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]ServerCredential)}
}

func (m *MemoryCredentialStore) GetCredential(serverURL string) (*ServerCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[serverURL]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (m *MemoryCredentialStore) SetCredential(serverURL string, cred *ServerCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[serverURL] = *cred
	return nil
}

func (m *MemoryCredentialStore) RemoveCredential(serverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, serverURL)
	return nil
}

func (m *MemoryCredentialStore) ListServers() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.creds), nil
}

func sortedKeys(m map[string]ServerCredential) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
