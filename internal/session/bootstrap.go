package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/learnhub-dev/learnhub/internal/identity"
	"github.com/learnhub-dev/learnhub/internal/localstore"
)

// Source says where the bootstrapped session came from
type Source string

const (
	SourceNone   Source = "none"
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
)

// BootstrapResult is the state established at startup
type BootstrapResult struct {
	Session *Session
	Source  Source
	Theme   string
}

// Bootstrapper reconciles the remote session with the local cache once at startup
type Bootstrapper struct {
	client identity.Client
	store  *Store
	cache  localstore.Store
	logger zerolog.Logger

	once   sync.Once
	result BootstrapResult
}

// NewBootstrapper creates a bootstrapper writing into store
func NewBootstrapper(client identity.Client, store *Store, cache localstore.Store, zlog zerolog.Logger) *Bootstrapper {
	return &Bootstrapper{
		client: client,
		store:  store,
		cache:  cache,
		logger: zlog,
	}
}

// Run performs the reconciliation. Only the first call does any work; later
// calls return the first result. It never fails: a failing remote check
// falls back to the cache.
func (b *Bootstrapper) Run(ctx context.Context) BootstrapResult {
	b.once.Do(func() {
		b.result = b.run(ctx)
	})
	return b.result
}

func (b *Bootstrapper) run(ctx context.Context) BootstrapResult {
	result := BootstrapResult{Source: SourceNone}

	remote, err := identity.GetSessionSafe(ctx, b.client)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Remote session check failed, falling back to local cache")
	}

	if err == nil && remote != nil {
		if sess, derr := Derive(remote.User); derr != nil {
			b.logger.Warn().Err(derr).Msg("Remote session is incomplete, ignoring it")
		} else if b.set(sess) {
			result.Session = b.store.Get()
			result.Source = SourceRemote
		}
	}

	if result.Session == nil {
		if cached := b.loadCache(); cached != nil && b.set(cached) {
			result.Session = b.store.Get()
			result.Source = SourceCache
		}
	}

	result.Theme = ReadTheme(b.cache, b.logger)

	event := b.logger.Info().Str("source", string(result.Source)).Str("theme", result.Theme)
	if result.Session != nil {
		event = event.Str("subject_id", result.Session.SubjectID)
	}
	event.Msg("Session bootstrap complete")

	return result
}

// set writes sess into the store and reports whether it is now current
func (b *Bootstrapper) set(sess *Session) bool {
	err := b.store.Set(sess)
	if errors.Is(err, ErrIncompleteSession) {
		b.logger.Warn().Msg("Refusing incomplete session")
		return false
	}
	if err != nil {
		// The in-memory session is set; only the mirror failed.
		b.logger.Warn().Err(err).Msg("Failed to mirror session to local cache")
	}
	return true
}

// loadCache reads the cache entry, dropping it when it cannot be used
func (b *Bootstrapper) loadCache() *Session {
	cached, err := readCache(b.cache)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Discarding unreadable session cache")
		if delErr := b.cache.Delete(localstore.KeyCurrentUser); delErr != nil {
			b.logger.Warn().Err(delErr).Msg("Failed to delete session cache")
		}
		return nil
	}
	if cached != nil && (cached.SubjectID == "" || cached.Email == "") {
		b.logger.Warn().Msg("Discarding incomplete session cache")
		if delErr := b.cache.Delete(localstore.KeyCurrentUser); delErr != nil {
			b.logger.Warn().Err(delErr).Msg("Failed to delete session cache")
		}
		return nil
	}
	return cached
}
