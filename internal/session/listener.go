package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/learnhub-dev/learnhub/internal/identity"
	"github.com/learnhub-dev/learnhub/internal/nav"
)

// ErrListenerAttached is returned by Attach on a listener that already subscribed
var ErrListenerAttached = errors.New("listener already attached")

// closeDrainTimeout bounds how long Close waits for queued events
const closeDrainTimeout = 5 * time.Second

// Listener applies session-change events from the identity backend to the
// Store, strictly in the order they were emitted.
//
// Attach subscribes; events are queued but not applied until Start, so the
// bootstrapper's write lands first and nothing emitted in between is lost.
type Listener struct {
	store     *Store
	navigator nav.Navigator
	routes    nav.Routes
	logger    zerolog.Logger

	sub       *identity.Subscription
	gate      chan struct{}
	closing   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	// redirectedFor is the subject the post sign-in redirect already fired for
	mu            sync.Mutex
	redirectedFor string
}

// NewListener creates a listener writing into store
func NewListener(store *Store, navigator nav.Navigator, routes nav.Routes, zlog zerolog.Logger) *Listener {
	return &Listener{
		store:     store,
		navigator: navigator,
		routes:    routes,
		logger:    zlog,
		gate:      make(chan struct{}),
		closing:   make(chan struct{}),
	}
}

// Attach subscribes to client's session-change events
func (l *Listener) Attach(client identity.Client) error {
	if l.sub != nil {
		return ErrListenerAttached
	}
	l.sub = client.OnAuthStateChange(l.deliver)
	l.logger.Debug().Str("subscription_id", l.sub.ID).Msg("Auth event listener attached")
	return nil
}

// Start begins applying queued and future events
func (l *Listener) Start() {
	l.startOnce.Do(func() { close(l.gate) })
}

// Sync waits until every event emitted before the call has been applied
func (l *Listener) Sync(ctx context.Context) error {
	if l.sub == nil {
		return nil
	}
	return l.sub.Sync(ctx)
}

// Close applies every event emitted before the call, then unsubscribes and
// waits for the delivery goroutine to exit
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		if l.sub == nil {
			close(l.closing)
			return
		}

		l.Start()
		ctx, cancel := context.WithTimeout(context.Background(), closeDrainTimeout)
		if err := l.sub.Sync(ctx); err != nil {
			l.logger.Warn().Err(err).Msg("Auth events still queued at close were dropped")
		}
		cancel()

		close(l.closing)
		l.sub.Unsubscribe()
		<-l.sub.Stopped()
		l.logger.Debug().Msg("Auth event listener detached")
	})
}

func (l *Listener) deliver(ev identity.Event) {
	select {
	case <-l.gate:
	case <-l.closing:
		return
	}
	l.handle(ev)
}

func (l *Listener) handle(ev identity.Event) {
	log := l.logger.With().Uint64("seq", ev.Seq).Str("event", string(ev.Kind)).Logger()

	switch ev.Kind {
	case identity.EventSignedIn:
		if ev.Session == nil {
			log.Debug().Msg("Sign-in event without session, ignoring")
			return
		}
		sess, err := Derive(ev.Session.User)
		if err != nil {
			log.Warn().Err(err).Msg("Sign-in event carries an incomplete user, ignoring")
			return
		}
		if err := l.store.Set(sess); err != nil {
			log.Warn().Err(err).Msg("Failed to mirror session to local cache")
		}
		log.Info().Str("subject_id", sess.SubjectID).Msg("Signed in")
		l.redirectHome(sess.SubjectID)

	case identity.EventSignedOut:
		if err := l.store.Clear(); err != nil {
			log.Warn().Err(err).Msg("Failed to remove session cache")
		}
		l.mu.Lock()
		l.redirectedFor = ""
		l.mu.Unlock()
		log.Info().Msg("Signed out")

	default:
		log.Debug().Msg("Ignoring auth event")
	}
}

// redirectHome leaves the credential-entry page after a sign-in, once per subject
func (l *Listener) redirectHome(subjectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.redirectedFor == subjectID {
		return
	}
	if !nav.IsAt(l.navigator.Location(), l.routes.Login) {
		return
	}

	l.navigator.Navigate(l.routes.Home, true)
	l.redirectedFor = subjectID
	l.logger.Debug().Str("subject_id", subjectID).Str("to", l.routes.Home).Msg("Redirected after sign-in")
}
