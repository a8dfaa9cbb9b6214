// Package portal wires the session core into one lifecycle object. An App
// is constructed at startup, started once and closed at shutdown; closing
// releases the auth event subscription.
package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/learnhub-dev/learnhub/internal/authflow"
	"github.com/learnhub-dev/learnhub/internal/callback"
	"github.com/learnhub-dev/learnhub/internal/identity"
	"github.com/learnhub-dev/learnhub/internal/localstore"
	"github.com/learnhub-dev/learnhub/internal/nav"
	"github.com/learnhub-dev/learnhub/internal/session"
)

var (
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("app already started")
	// ErrClosed is returned by Start after Close
	ErrClosed = errors.New("app closed")
)

// Deps are the capabilities an App is built on
type Deps struct {
	Client    identity.Client
	Local     localstore.Store
	Navigator nav.Navigator
	Logger    zerolog.Logger
}

// Options tune the App's flows
type Options struct {
	Routes          nav.Routes
	CallbackBase    string
	ModeSwitchDelay time.Duration
	SettleDelay     time.Duration
	PendingDelay    time.Duration
}

// App owns the session store, the listener subscription and the flows
type App struct {
	client    identity.Client
	local     localstore.Store
	navigator nav.Navigator
	routes    nav.Routes
	logger    zerolog.Logger

	store        *session.Store
	bootstrapper *session.Bootstrapper
	listener     *session.Listener
	flow         *authflow.Flow
	resolver     *callback.Resolver

	mu      sync.Mutex
	started bool
	closed  bool
	theme   string
	ready   chan struct{}
}

// New builds an App. Nothing runs until Start.
func New(deps Deps, opts Options) (*App, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("identity client is required")
	}
	if deps.Local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if opts.Routes == (nav.Routes{}) {
		opts.Routes = nav.DefaultRoutes()
	}
	if deps.Navigator == nil {
		deps.Navigator = nav.NewRouter(opts.Routes.Home)
	}

	zlog := deps.Logger
	store := session.NewStore(deps.Local, zlog.With().Str("component", "session_store").Logger())

	return &App{
		client:       deps.Client,
		local:        deps.Local,
		navigator:    deps.Navigator,
		routes:       opts.Routes,
		logger:       zlog,
		store:        store,
		bootstrapper: session.NewBootstrapper(deps.Client, store, deps.Local, zlog.With().Str("component", "bootstrap").Logger()),
		listener:     session.NewListener(store, deps.Navigator, opts.Routes, zlog.With().Str("component", "auth_listener").Logger()),
		flow: authflow.New(deps.Client, authflow.Options{
			CallbackBase:    opts.CallbackBase,
			Routes:          opts.Routes,
			ModeSwitchDelay: opts.ModeSwitchDelay,
		}, zlog.With().Str("component", "auth_flow").Logger()),
		resolver: callback.NewResolver(deps.Client, deps.Navigator, opts.Routes, callback.ResolverOptions{
			SettleDelay:  opts.SettleDelay,
			PendingDelay: opts.PendingDelay,
		}, zlog.With().Str("component", "callback").Logger()),
		theme: session.DefaultTheme,
		ready: make(chan struct{}),
	}, nil
}

// Start subscribes to auth events, bootstraps the session and then applies
// the events emitted while bootstrapping, in order, before returning. The
// result reflects the session after those events.
func (a *App) Start(ctx context.Context) (session.BootstrapResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return session.BootstrapResult{}, ErrClosed
	}
	if a.started {
		return session.BootstrapResult{}, ErrAlreadyStarted
	}

	if err := a.listener.Attach(a.client); err != nil {
		return session.BootstrapResult{}, fmt.Errorf("failed to subscribe to auth events: %w", err)
	}

	result := a.bootstrapper.Run(ctx)
	a.listener.Start()

	// A rejected refresh during bootstrap emits SIGNED_OUT before the cache
	// fallback runs; applying it here clears the restored session.
	if err := a.listener.Sync(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to apply auth events from bootstrap")
	}
	result.Session = a.store.Get()
	if result.Session == nil {
		result.Source = session.SourceNone
	}

	a.theme = result.Theme
	a.started = true
	close(a.ready)

	return result, nil
}

// Ready is closed once bootstrap completes
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Session returns the current session or nil
func (a *App) Session() *session.Session {
	return a.store.Get()
}

// Theme returns the active theme
func (a *App) Theme() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.theme
}

// SetTheme persists and applies a theme
func (a *App) SetTheme(theme string) error {
	if err := session.WriteTheme(a.local, theme); err != nil {
		return err
	}
	a.mu.Lock()
	a.theme = theme
	a.mu.Unlock()
	return nil
}

func (a *App) Flow() *authflow.Flow         { return a.flow }
func (a *App) Resolver() *callback.Resolver { return a.resolver }
func (a *App) Navigator() nav.Navigator     { return a.navigator }
func (a *App) Routes() nav.Routes           { return a.routes }

// Sync waits until every auth event emitted so far has been applied
func (a *App) Sync(ctx context.Context) error {
	return a.listener.Sync(ctx)
}

// SignOut signs out remotely and waits for the local session to clear
func (a *App) SignOut(ctx context.Context) error {
	signOutErr := a.client.SignOut(ctx)
	if err := a.Sync(ctx); err != nil {
		return errors.Join(signOutErr, fmt.Errorf("failed to apply sign-out: %w", err))
	}
	return signOutErr
}

// Close stops pending flow timers and releases the auth subscription
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.flow.Stop()
	a.listener.Close()
	a.logger.Debug().Msg("App closed")
}
