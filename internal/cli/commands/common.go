package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/learnhub-dev/learnhub/internal/config"
	"github.com/learnhub-dev/learnhub/internal/identity"
	"github.com/learnhub-dev/learnhub/internal/localstore"
	"github.com/learnhub-dev/learnhub/internal/logger"
	"github.com/learnhub-dev/learnhub/internal/nav"
	"github.com/learnhub-dev/learnhub/internal/portal"
	"github.com/learnhub-dev/learnhub/internal/session"
)

// Runtime is everything commands touch outside the process. Production
// uses DefaultRuntime; tests swap the parts they need.
type Runtime struct {
	Out io.Writer
	Err io.Writer

	// Config is loaded on first use when nil
	Config *config.Config
	// LogLevel overrides the configured level when set
	LogLevel string
	Logger   *zerolog.Logger

	Tokens      identity.TokenStore
	HTTPClient  *http.Client
	OpenBrowser func(url string) error
	// OpenLocal opens the local durable store; the returned func closes it
	OpenLocal func(cfg *config.Config) (localstore.Store, func() error, error)

	Interactive  func() bool
	ReadPassword func(label string) (string, error)
	PromptText   func(label, defaultValue string) (string, error)
	Select       func(label string, items []string, cursor int) (int, error)
}

// DefaultRuntime talks to the terminal, the OS keyring and the configured store
func DefaultRuntime() *Runtime {
	return &Runtime{
		Out:          os.Stdout,
		Err:          os.Stderr,
		Tokens:       identity.KeyringTokenStore{},
		OpenBrowser:  openBrowser,
		OpenLocal:    openLocalStore,
		Interactive:  stdinIsTerminal,
		ReadPassword: readPassword,
		PromptText:   promptText,
		Select:       promptSelect,
	}
}

func (rt *Runtime) config() (*config.Config, error) {
	if rt.Config != nil {
		return rt.Config, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	rt.Config = cfg
	return cfg, nil
}

func (rt *Runtime) logger() zerolog.Logger {
	if rt.Logger != nil {
		return *rt.Logger
	}
	level, format := "warn", "console"
	if rt.Config != nil {
		level, format = rt.Config.Logging.Level, rt.Config.Logging.Format
	}
	if rt.LogLevel != "" {
		level = rt.LogLevel
	}
	logger.Init(rt.Err, level, format)
	l := logger.GetLogger()
	rt.Logger = &l
	return l
}

func (rt *Runtime) printf(format string, args ...any) {
	fmt.Fprintf(rt.Out, format, args...)
}

// appSession bundles a started App with the resources behind it
type appSession struct {
	app       *portal.App
	client    *identity.HTTPClient
	local     localstore.Store
	router    *nav.Router
	cfg       *config.Config
	bootstrap session.BootstrapResult
	close     func()
}

// openSession builds and starts the App for commands that need the identity
// backend. start is the location the command presents itself as.
func (rt *Runtime) openSession(ctx context.Context, start string) (*appSession, error) {
	cfg, err := rt.config()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireIdentity(); err != nil {
		return nil, fmt.Errorf("%w\nRun 'learnhub init' to create a configuration file", err)
	}

	zlog := rt.logger()

	local, closeLocal, err := rt.OpenLocal(cfg)
	if err != nil {
		return nil, err
	}

	opts := []identity.Option{identity.WithOpener(rt.OpenBrowser)}
	hc := rt.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Identity.Timeout}
	}
	opts = append(opts, identity.WithHTTPClient(hc))

	client := identity.NewHTTPClient(cfg.Identity.URL, cfg.Identity.AnonKey, rt.Tokens,
		zlog.With().Str("component", "identity").Logger(), opts...)

	routes := nav.DefaultRoutes()
	router := nav.NewRouter(start)
	router.OnNavigate(func(location string, replace bool) {
		zlog.Debug().Str("location", location).Bool("replace", replace).Msg("Navigated")
	})

	app, err := portal.New(portal.Deps{
		Client:    client,
		Local:     local,
		Navigator: router,
		Logger:    zlog,
	}, portal.Options{
		Routes:          routes,
		CallbackBase:    "http://" + cfg.Callback.Addr,
		ModeSwitchDelay: cfg.Timing.ModeSwitchDelay,
		SettleDelay:     cfg.Timing.SettleDelay,
		PendingDelay:    cfg.Timing.PendingDelay,
	})
	if err != nil {
		closeLocal()
		return nil, err
	}

	result, err := app.Start(ctx)
	if err != nil {
		app.Close()
		closeLocal()
		return nil, err
	}

	return &appSession{
		app:       app,
		client:    client,
		local:     local,
		router:    router,
		cfg:       cfg,
		bootstrap: result,
		close: func() {
			app.Close()
			if err := closeLocal(); err != nil {
				zlog.Warn().Err(err).Msg("Failed to close local store")
			}
		},
	}, nil
}

// openLocalStore opens the configured storage backend
func openLocalStore(cfg *config.Config) (localstore.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return localstore.NewMemoryStore(), noop, nil

	case config.BackendSQLite:
		path := cfg.Storage.Path
		if path == "" {
			dir, err := localstore.DefaultDir()
			if err != nil {
				return nil, nil, err
			}
			path = filepath.Join(dir, "storage.db")
		}
		store, err := localstore.OpenSQLite(path, logger.GetLogger())
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		path := cfg.Storage.Path
		if path == "" {
			var err error
			if path, err = localstore.DefaultFilePath(); err != nil {
				return nil, nil, err
			}
		}
		return localstore.NewFileStore(path), noop, nil
	}
}
