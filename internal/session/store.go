package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/learnhub-dev/learnhub/internal/localstore"
)

// Store holds the current session in memory and mirrors every change to the
// local cache entry. Only the Bootstrapper and the Listener write to it.
type Store struct {
	mu      sync.RWMutex
	current *Session
	cache   localstore.Store
	logger  zerolog.Logger
}

// NewStore creates an empty store mirrored to cache
func NewStore(cache localstore.Store, zlog zerolog.Logger) *Store {
	return &Store{cache: cache, logger: zlog}
}

// Get returns a copy of the current session, or nil when signed out
func (s *Store) Get() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Set replaces the current session and writes the cache entry. The
// in-memory value is updated even when the cache write fails; the error
// is returned so callers can log it.
func (s *Store) Set(session *Session) error {
	if session == nil {
		return ErrIncompleteSession
	}
	next := session.clone()
	if err := next.complete(); err != nil {
		return err
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = next
	if err := s.cache.Set(localstore.KeyCurrentUser, string(data)); err != nil {
		return fmt.Errorf("failed to write session cache: %w", err)
	}

	s.logger.Debug().Str("subject_id", next.SubjectID).Msg("Session set")
	return nil
}

// Clear drops the current session and removes the cache entry
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	if err := s.cache.Delete(localstore.KeyCurrentUser); err != nil {
		return fmt.Errorf("failed to remove session cache: %w", err)
	}

	s.logger.Debug().Msg("Session cleared")
	return nil
}

// readCache loads the cached session. A missing entry returns nil, nil.
func readCache(cache localstore.Store) (*Session, error) {
	raw, err := cache.Get(localstore.KeyCurrentUser)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cached Session
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, fmt.Errorf("failed to parse cached session: %w", err)
	}
	return &cached, nil
}
