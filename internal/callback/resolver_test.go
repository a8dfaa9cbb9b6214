package callback

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub-dev/learnhub/internal/identity"
	"github.com/learnhub-dev/learnhub/internal/identity/identitytest"
	"github.com/learnhub-dev/learnhub/internal/nav"
)

type sleepRecorder struct {
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

func newTestResolver(client identity.Client, router *nav.Router) (*Resolver, *sleepRecorder) {
	r := NewResolver(client, router, nav.DefaultRoutes(), ResolverOptions{}, zerolog.Nop())
	rec := &sleepRecorder{}
	r.sleep = rec.sleep
	return r, rec
}

func TestResolve_SessionPresent(t *testing.T) {
	client := identitytest.New()
	client.GetSessionFunc = func(ctx context.Context) (*identity.Session, error) {
		return identitytest.NewSession("u1", "ada@example.com"), nil
	}
	router := nav.NewRouter("/auth/callback#access_token=abc")
	r, rec := newTestResolver(client, router)

	out := r.Resolve(context.Background(), "http://127.0.0.1:5555/auth/callback#access_token=abc")

	assert.Equal(t, Outcome{Kind: OutcomeSignedIn, Location: "/"}, out)
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, rec.delays)
	assert.Equal(t, []string{"/"}, router.History(), "callback entry replaced")
}

func TestResolve_PendingHandshake(t *testing.T) {
	for _, rawURL := range []string{
		"http://127.0.0.1:5555/auth/callback#access_token=abc&token_type=bearer",
		"http://127.0.0.1:5555/auth/callback?code=xyz",
	} {
		t.Run(rawURL, func(t *testing.T) {
			client := identitytest.New()
			router := nav.NewRouter("/auth/callback")
			r, rec := newTestResolver(client, router)

			out := r.Resolve(context.Background(), rawURL)

			assert.Equal(t, Outcome{Kind: OutcomePending, Location: "/"}, out)
			assert.Equal(t, []time.Duration{DefaultPendingDelay}, rec.delays)
			assert.Equal(t, 1, client.Calls("GetSession"), "session is not checked twice")
			assert.Equal(t, []string{"/"}, router.History())
		})
	}
}

func TestResolve_NoSessionNoMarker(t *testing.T) {
	tests := []struct {
		name     string
		rawURL   string
		location string
		reason   string
	}{
		{
			name:     "bare callback",
			rawURL:   "http://127.0.0.1:5555/auth/callback",
			location: "/login",
		},
		{
			name:     "provider error in fragment",
			rawURL:   "http://127.0.0.1:5555/auth/callback#error=access_denied&error_description=User+denied+access",
			location: "/login?error=User+denied+access",
			reason:   "User denied access",
		},
		{
			name:     "error code only",
			rawURL:   "http://127.0.0.1:5555/auth/callback?error=server_error",
			location: "/login?error=server_error",
			reason:   "server_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := nav.NewRouter("/auth/callback")
			r, rec := newTestResolver(identitytest.New(), router)

			out := r.Resolve(context.Background(), tt.rawURL)

			assert.Equal(t, Outcome{Kind: OutcomeFailed, Location: tt.location, Error: tt.reason}, out)
			assert.Empty(t, rec.delays)
			assert.Equal(t, []string{tt.location}, router.History())
		})
	}
}

func TestResolve_CancelledWait(t *testing.T) {
	client := identitytest.New()
	client.GetSessionFunc = func(ctx context.Context) (*identity.Session, error) {
		return identitytest.NewSession("u1", "ada@example.com"), nil
	}
	router := nav.NewRouter("/auth/callback")
	r, rec := newTestResolver(client, router)
	rec.err = context.Canceled

	out := r.Resolve(context.Background(), "http://127.0.0.1:5555/auth/callback")

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, "context canceled", out.Error)
}

func TestResolve_NavigatorPanic(t *testing.T) {
	client := identitytest.New()
	client.GetSessionFunc = func(ctx context.Context) (*identity.Session, error) {
		return identitytest.NewSession("u1", "ada@example.com"), nil
	}
	router := nav.NewRouter("/auth/callback")
	calls := 0
	router.OnNavigate(func(string, bool) {
		calls++
		if calls == 1 {
			panic("render failed")
		}
	})
	r, _ := newTestResolver(client, router)

	out := r.Resolve(context.Background(), "http://127.0.0.1:5555/auth/callback")

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, "render failed", out.Error)
	assert.Equal(t, "/login?error=render+failed", router.Location())
}

func TestResolve_ExhaustiveOutcomes(t *testing.T) {
	type getter int
	const (
		getterOK getter = iota
		getterError
		getterPanic
	)

	for _, session := range []bool{true, false} {
		for _, marker := range []bool{true, false} {
			for _, g := range []getter{getterOK, getterError, getterPanic} {
				name := fmt.Sprintf("session=%v/marker=%v/getter=%d", session, marker, g)
				t.Run(name, func(t *testing.T) {
					client := identitytest.New()
					client.GetSessionFunc = func(ctx context.Context) (*identity.Session, error) {
						switch g {
						case getterError:
							return nil, errors.New("network unreachable")
						case getterPanic:
							panic("client bug")
						}
						if session {
							return identitytest.NewSession("u1", "ada@example.com"), nil
						}
						return nil, nil
					}

					rawURL := "http://127.0.0.1:5555/auth/callback"
					if marker {
						rawURL += "#access_token=abc"
					}

					router := nav.NewRouter("/auth/callback")
					r, _ := newTestResolver(client, router)
					out := r.Resolve(context.Background(), rawURL)

					var want OutcomeKind
					switch {
					case g != getterOK:
						want = OutcomeFailed
					case session:
						want = OutcomeSignedIn
					case marker:
						want = OutcomePending
					default:
						want = OutcomeFailed
					}

					require.Equal(t, want, out.Kind)
					assert.Equal(t, out.Location, router.Location())
					assert.Len(t, router.History(), 1, "navigation always replaces")
					if g != getterOK {
						assert.NotEmpty(t, out.Error)
					}
				})
			}
		}
	}
}
