package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "learnhub-cli"
)

// TokenStore persists the remote session (token pair + user) between runs.
// Keys are per identity backend so one machine can talk to several.
type TokenStore interface {
	SaveSession(key string, session *Session) error
	LoadSession(key string) (*Session, error)
	DeleteSession(key string) error
}

// getKeyringKey returns a unique keyring entry name per backend
func getKeyringKey(key string) string {
	return fmt.Sprintf("session-%s", key)
}

// KeyringTokenStore keeps sessions in the OS keychain/credential manager
type KeyringTokenStore struct{}

// SaveSession persists the session securely in the OS keychain
func (KeyringTokenStore) SaveSession(key string, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := keyring.Set(keyringService, getKeyringKey(key), string(data)); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession retrieves the session from the OS keychain
func (KeyringTokenStore) LoadSession(key string) (*Session, error) {
	data, err := keyring.Get(keyringService, getKeyringKey(key))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to parse stored session: %w", err)
	}
	return &session, nil
}

// DeleteSession removes the session from the OS keychain
func (KeyringTokenStore) DeleteSession(key string) error {
	if err := keyring.Delete(keyringService, getKeyringKey(key)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// MemoryTokenStore keeps sessions in process memory
type MemoryTokenStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemoryTokenStore creates an empty MemoryTokenStore
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{sessions: make(map[string]Session)}
}

func (m *MemoryTokenStore) SaveSession(key string, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key] = *session
	return nil
}

func (m *MemoryTokenStore) LoadSession(key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[key]
	if !ok {
		return nil, ErrNoSession
	}
	return &session, nil
}

func (m *MemoryTokenStore) DeleteSession(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}
