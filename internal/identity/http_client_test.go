package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

const testAPIKey = "anon-key"

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

// fakeBackend is a minimal GoTrue stand-in
type fakeBackend struct {
	t *testing.T

	mu            sync.Mutex
	refreshOK     bool
	logoutCalls   int
	lastSignup    map[string]any
	lastRedirect  string
	lastAuthToken string
}

func (f *fakeBackend) user(id, email string, identities int) map[string]any {
	ids := make([]map[string]any, 0, identities)
	for i := 0; i < identities; i++ {
		ids = append(ids, map[string]any{"id": id, "provider": "email"})
	}
	return map[string]any{
		"id":            id,
		"email":         email,
		"user_metadata": map[string]any{"full_name": "Ada Lovelace"},
		"identities":    ids,
	}
}

func (f *fakeBackend) session(id, email string) map[string]any {
	return map[string]any{
		"access_token":  signToken(f.t, id, time.Now().Add(time.Hour)),
		"refresh_token": "refresh-" + id,
		"token_type":    "bearer",
		"expires_in":    3600,
		"user":          f.user(id, email, 1),
	}
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != testAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"missing apikey"}`))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	writeJSON := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/token" && r.URL.Query().Get("grant_type") == "password":
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "correct-horse" {
			writeJSON(http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid login credentials",
			})
			return
		}
		writeJSON(http.StatusOK, f.session("u1", body.Email))

	case r.Method == http.MethodPost && r.URL.Path == "/token" && r.URL.Query().Get("grant_type") == "refresh_token":
		if !f.refreshOK {
			writeJSON(http.StatusBadRequest, map[string]string{
				"error_code": "refresh_token_not_found",
				"msg":        "Invalid Refresh Token: Refresh Token Not Found",
			})
			return
		}
		writeJSON(http.StatusOK, f.session("u1", "ada@example.com"))

	case r.Method == http.MethodPost && r.URL.Path == "/signup":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.lastSignup = body
		f.lastRedirect = r.URL.Query().Get("redirect_to")
		email, _ := body["email"].(string)
		switch email {
		case "taken@example.com":
			writeJSON(http.StatusOK, f.user("u-taken", email, 0))
		case "auto@example.com":
			writeJSON(http.StatusOK, f.session("u-auto", email))
		default:
			writeJSON(http.StatusOK, f.user("u-new", email, 1))
		}

	case r.Method == http.MethodGet && r.URL.Path == "/user":
		f.lastAuthToken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		writeJSON(http.StatusOK, f.user("u-oauth", "oauth@example.com", 1))

	case r.Method == http.MethodPost && r.URL.Path == "/logout":
		f.logoutCalls++
		w.WriteHeader(http.StatusNoContent)

	default:
		f.t.Errorf("unexpected request: %s %s", r.Method, r.URL.String())
		w.WriteHeader(http.StatusNotFound)
	}
}

type clientFixture struct {
	client  *HTTPClient
	backend *fakeBackend
	tokens  *MemoryTokenStore
	events  *recorder
	sub     *Subscription
}

func newClientFixture(t *testing.T, opts ...Option) *clientFixture {
	t.Helper()

	backend := &fakeBackend{t: t}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	tokens := NewMemoryTokenStore()
	client := NewHTTPClient(srv.URL, testAPIKey, tokens, zerolog.Nop(), opts...)

	rec := &recorder{}
	sub := client.OnAuthStateChange(rec.handle)
	t.Cleanup(sub.Unsubscribe)

	return &clientFixture{client: client, backend: backend, tokens: tokens, events: rec, sub: sub}
}

func TestHTTPClient_SignInWithPassword(t *testing.T) {
	fx := newClientFixture(t)
	ctx := context.Background()

	session, err := fx.client.SignInWithPassword(ctx, "ada@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "u1", session.User.ID)
	assert.NotZero(t, session.ExpiresAt, "expiry should be read from the token")

	require.NoError(t, fx.sub.Sync(syncCtx(t)))
	assert.Equal(t, []EventKind{EventSignedIn}, fx.events.kinds())

	current, err := fx.client.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, session.AccessToken, current.AccessToken)
}

func TestHTTPClient_SignInRejectedSurfacesMessageVerbatim(t *testing.T) {
	fx := newClientFixture(t)

	_, err := fx.client.SignInWithPassword(context.Background(), "ada@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Invalid login credentials", err.Error())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid_grant", apiErr.Code)

	require.NoError(t, fx.sub.Sync(syncCtx(t)))
	assert.Empty(t, fx.events.kinds())
}

func TestHTTPClient_GetSessionEmpty(t *testing.T) {
	fx := newClientFixture(t)

	session, err := fx.client.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestHTTPClient_GetSessionRefreshesExpiredToken(t *testing.T) {
	fx := newClientFixture(t)
	fx.backend.refreshOK = true

	require.NoError(t, fx.tokens.SaveSession(fx.client.storeKey, &Session{
		AccessToken:  signToken(t, "u1", time.Now().Add(-time.Minute)),
		RefreshToken: "refresh-u1",
		ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
		User:         User{ID: "u1", Email: "ada@example.com"},
	}))

	session, err := fx.client.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.True(t, session.ExpiresAt > time.Now().Unix())

	require.NoError(t, fx.sub.Sync(syncCtx(t)))
	assert.Equal(t, []EventKind{EventTokenRefreshed}, fx.events.kinds())
}

func TestHTTPClient_GetSessionRefreshRejectedSignsOut(t *testing.T) {
	fx := newClientFixture(t)

	require.NoError(t, fx.tokens.SaveSession(fx.client.storeKey, &Session{
		AccessToken:  "expired",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
		User:         User{ID: "u1", Email: "ada@example.com"},
	}))

	session, err := fx.client.GetSession(context.Background())
	require.Error(t, err)
	assert.Nil(t, session)
	assert.Contains(t, err.Error(), "Invalid Refresh Token")

	_, err = fx.tokens.LoadSession(fx.client.storeKey)
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, fx.sub.Sync(syncCtx(t)))
	assert.Equal(t, []EventKind{EventSignedOut}, fx.events.kinds())
}

func TestHTTPClient_SignUp(t *testing.T) {
	fx := newClientFixture(t)
	ctx := context.Background()

	t.Run("confirmation pending", func(t *testing.T) {
		result, err := fx.client.SignUp(ctx, SignUpParams{
			Email:      "new@example.com",
			Password:   "secret1",
			Data:       map[string]any{"full_name": "New Person"},
			RedirectTo: "http://127.0.0.1:54321/auth/callback",
		})
		require.NoError(t, err)
		assert.Nil(t, result.Session)
		assert.False(t, result.AlreadyRegistered())
		assert.Equal(t, "http://127.0.0.1:54321/auth/callback", fx.backend.lastRedirect)
		assert.Equal(t, map[string]any{"full_name": "New Person"}, fx.backend.lastSignup["data"])
	})

	t.Run("already registered", func(t *testing.T) {
		result, err := fx.client.SignUp(ctx, SignUpParams{Email: "taken@example.com", Password: "secret1"})
		require.NoError(t, err)
		assert.True(t, result.AlreadyRegistered())
	})

	t.Run("auto confirmed", func(t *testing.T) {
		result, err := fx.client.SignUp(ctx, SignUpParams{Email: "auto@example.com", Password: "secret1"})
		require.NoError(t, err)
		require.NotNil(t, result.Session)
		assert.Equal(t, "u-auto", result.User.ID)

		require.NoError(t, fx.sub.Sync(syncCtx(t)))
		assert.Equal(t, []EventKind{EventSignedIn}, fx.events.kinds())
	})
}

func TestHTTPClient_SignInWithOAuth(t *testing.T) {
	var opened string
	fx := newClientFixture(t, WithOpener(func(u string) error {
		opened = u
		return nil
	}))

	authURL, err := fx.client.SignInWithOAuth(context.Background(), "github", "http://127.0.0.1:54321/auth/callback")
	require.NoError(t, err)
	assert.Equal(t, authURL, opened)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "github", u.Query().Get("provider"))
	assert.Equal(t, "http://127.0.0.1:54321/auth/callback", u.Query().Get("redirect_to"))
}

func TestHTTPClient_SignInWithOAuthFailures(t *testing.T) {
	fx := newClientFixture(t, WithOpener(func(string) error {
		return errors.New("no browser available")
	}))

	_, err := fx.client.SignInWithOAuth(context.Background(), "", "http://localhost/cb")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = fx.client.SignInWithOAuth(context.Background(), "google", "http://localhost/cb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser available")
}

func TestHTTPClient_DetectSessionInURL(t *testing.T) {
	fx := newClientFixture(t)
	token := signToken(t, "u-oauth", time.Now().Add(time.Hour))

	callback := "http://127.0.0.1:54321/auth/callback#access_token=" + token +
		"&refresh_token=r1&token_type=bearer&expires_in=3600"

	session, err := fx.client.DetectSessionInURL(context.Background(), callback)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "u-oauth", session.User.ID)
	assert.Equal(t, token, fx.backend.lastAuthToken)

	require.NoError(t, fx.sub.Sync(syncCtx(t)))
	assert.Equal(t, []EventKind{EventSignedIn}, fx.events.kinds())

	stored, err := fx.client.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", stored.RefreshToken)
}

func TestHTTPClient_DetectSessionInURLWithoutTokens(t *testing.T) {
	fx := newClientFixture(t)

	session, err := fx.client.DetectSessionInURL(context.Background(), "http://127.0.0.1:54321/auth/callback")
	require.NoError(t, err)
	assert.Nil(t, session)

	_, err = fx.client.DetectSessionInURL(context.Background(),
		"http://127.0.0.1:54321/auth/callback?error=access_denied&error_description=User+cancelled")
	require.Error(t, err)
	assert.Equal(t, "User cancelled", err.Error())
}

func TestHTTPClient_SignOut(t *testing.T) {
	fx := newClientFixture(t)
	ctx := context.Background()

	_, err := fx.client.SignInWithPassword(ctx, "ada@example.com", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, fx.client.SignOut(ctx))
	assert.Equal(t, 1, fx.backend.logoutCalls)

	session, err := fx.client.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	require.NoError(t, fx.sub.Sync(syncCtx(t)))
	assert.Equal(t, []EventKind{EventSignedIn, EventSignedOut}, fx.events.kinds())
}

func TestHTTPClient_SignOutWithoutSession(t *testing.T) {
	fx := newClientFixture(t)

	require.NoError(t, fx.client.SignOut(context.Background()))
	assert.Zero(t, fx.backend.logoutCalls)

	require.NoError(t, fx.sub.Sync(syncCtx(t)))
	assert.Equal(t, []EventKind{EventSignedOut}, fx.events.kinds())
}

func TestKeyringTokenStore(t *testing.T) {
	keyring.MockInit()

	var store KeyringTokenStore
	_, err := store.LoadSession("identity.example.com")
	require.ErrorIs(t, err, ErrNoSession)

	session := &Session{AccessToken: "a", RefreshToken: "r", User: User{ID: "u1", Email: "ada@example.com"}}
	require.NoError(t, store.SaveSession("identity.example.com", session))

	loaded, err := store.LoadSession("identity.example.com")
	require.NoError(t, err)
	assert.Equal(t, session, loaded)

	require.NoError(t, store.DeleteSession("identity.example.com"))
	require.NoError(t, store.DeleteSession("identity.example.com"))
	_, err = store.LoadSession("identity.example.com")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestGetSessionSafe_RecoversPanic(t *testing.T) {
	session, err := GetSessionSafe(context.Background(), panickingClient{})
	assert.Nil(t, session)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

type panickingClient struct{ Client }

func (panickingClient) GetSession(context.Context) (*Session, error) {
	panic("boom")
}

func TestParseAccessClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	claims, err := ParseAccessClaims(signToken(t, "u1", exp))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, exp.Unix(), claims.ExpiresAt.Unix())

	_, err = ParseAccessClaims("not-a-jwt")
	assert.Error(t, err)

	s := &Session{AccessToken: "opaque", ExpiresIn: 60}
	fillExpiry(s, 1000)
	assert.Equal(t, int64(1060), s.ExpiresAt, "falls back to expires_in without an exp claim")
}
