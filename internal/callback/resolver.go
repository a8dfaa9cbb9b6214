// Package callback handles the return leg of an OAuth sign-in: the resolver
// that decides where the user goes next and the loopback server the
// provider redirects to.
package callback

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/learnhub-dev/learnhub/internal/identity"
	"github.com/learnhub-dev/learnhub/internal/nav"
)

// Default waits before leaving the callback page
const (
	DefaultSettleDelay  = 1 * time.Second
	DefaultPendingDelay = 2 * time.Second
)

// handshakeMarkers are URL parameters the provider adds while the session
// is still being established
var handshakeMarkers = []string{"access_token", "code"}

// OutcomeKind is one of the three terminal states of a callback
type OutcomeKind string

const (
	// OutcomeSignedIn means the session already existed
	OutcomeSignedIn OutcomeKind = "signed_in"
	// OutcomePending means the provider handshake was still in flight
	OutcomePending OutcomeKind = "pending"
	// OutcomeFailed means the flow failed or expired
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is where a callback ended up
type Outcome struct {
	Kind     OutcomeKind `json:"outcome"`
	Location string      `json:"location"`
	Error    string      `json:"error,omitempty"`
}

// ResolverOptions configures the resolver's waits
type ResolverOptions struct {
	SettleDelay  time.Duration
	PendingDelay time.Duration
}

// Resolver maps a callback URL and the remote session state to an outcome
// and navigates accordingly. It never writes the session store.
type Resolver struct {
	client    identity.Client
	navigator nav.Navigator
	routes    nav.Routes
	opts      ResolverOptions
	logger    zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewResolver creates a resolver. Zero delays take the defaults.
func NewResolver(client identity.Client, navigator nav.Navigator, routes nav.Routes, opts ResolverOptions, zlog zerolog.Logger) *Resolver {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.PendingDelay <= 0 {
		opts.PendingDelay = DefaultPendingDelay
	}
	return &Resolver{
		client:    client,
		navigator: navigator,
		routes:    routes,
		opts:      opts,
		logger:    zlog,
		sleep:     sleepContext,
	}
}

// Resolve runs the callback decision for rawURL. It always returns one of
// the three outcomes; errors and panics end in OutcomeFailed.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("Callback resolution panicked")
			out = r.fail(fmt.Sprintf("%v", rec))
		}
	}()

	params := callbackParams(rawURL)

	session, err := identity.GetSessionSafe(ctx, r.client)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Session lookup failed during callback")
		return r.fail(err.Error())
	}

	if session != nil {
		if err := r.sleep(ctx, r.opts.SettleDelay); err != nil {
			return r.fail(err.Error())
		}
		return r.finish(OutcomeSignedIn)
	}

	if hasMarker(params) {
		r.logger.Debug().Msg("Provider handshake still in flight")
		if err := r.sleep(ctx, r.opts.PendingDelay); err != nil {
			return r.fail(err.Error())
		}
		return r.finish(OutcomePending)
	}

	return r.fail(firstParam(params, "error_description", "error"))
}

func (r *Resolver) finish(kind OutcomeKind) Outcome {
	r.navigator.Navigate(r.routes.Home, true)
	r.logger.Info().Str("outcome", string(kind)).Msg("OAuth callback resolved")
	return Outcome{Kind: kind, Location: r.routes.Home}
}

// fail sends the user back to credential entry carrying reason
func (r *Resolver) fail(reason string) Outcome {
	location := r.routes.Login
	if reason != "" {
		location += "?error=" + url.QueryEscape(reason)
	}
	r.navigator.Navigate(location, true)
	r.logger.Info().Str("outcome", string(OutcomeFailed)).Str("reason", reason).Msg("OAuth callback resolved")
	return Outcome{Kind: OutcomeFailed, Location: location, Error: reason}
}

// callbackParams merges the query and fragment parameters of rawURL; the
// fragment wins on conflicts.
func callbackParams(rawURL string) url.Values {
	params := url.Values{}
	u, err := url.Parse(rawURL)
	if err != nil {
		return params
	}
	for k, v := range u.Query() {
		params[k] = v
	}
	if fragment, err := url.ParseQuery(u.Fragment); err == nil {
		for k, v := range fragment {
			params[k] = v
		}
	}
	return params
}

func hasMarker(params url.Values) bool {
	for _, m := range handshakeMarkers {
		if params.Get(m) != "" {
			return true
		}
	}
	return false
}

func firstParam(params url.Values, keys ...string) string {
	for _, k := range keys {
		if v := params.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
