package portal

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub-dev/learnhub/internal/identity"
	"github.com/learnhub-dev/learnhub/internal/identity/identitytest"
	"github.com/learnhub-dev/learnhub/internal/localstore"
	"github.com/learnhub-dev/learnhub/internal/nav"
	"github.com/learnhub-dev/learnhub/internal/session"
)

func newTestApp(t *testing.T, client *identitytest.Fake, local localstore.Store, start string) (*App, *nav.Router) {
	t.Helper()
	router := nav.NewRouter(start)
	app, err := New(Deps{
		Client:    client,
		Local:     local,
		Navigator: router,
		Logger:    zerolog.Nop(),
	}, Options{CallbackBase: "http://127.0.0.1:54321"})
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app, router
}

func syncCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{Local: localstore.NewMemoryStore()}, Options{})
	assert.Error(t, err)

	_, err = New(Deps{Client: identitytest.New()}, Options{})
	assert.Error(t, err)
}

func TestStart_BootstrapsFromCache(t *testing.T) {
	local := localstore.NewMemoryStore()
	require.NoError(t, local.Set(localstore.KeyCurrentUser, `{"subjectId":"u1","email":"a@b.com"}`))
	require.NoError(t, local.Set(localstore.KeyTheme, session.ThemeLight))

	app, _ := newTestApp(t, identitytest.New(), local, "/")

	select {
	case <-app.Ready():
		t.Fatal("ready before start")
	default:
	}

	result, err := app.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.SourceCache, result.Source)

	<-app.Ready()
	require.NotNil(t, app.Session())
	assert.Equal(t, "u1", app.Session().SubjectID)
	assert.Equal(t, "a@b.com", app.Session().Email)
	assert.Equal(t, session.ThemeLight, app.Theme())

	_, err = app.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestStart_EventDuringBootstrapAppliedAfter(t *testing.T) {
	client := identitytest.New()
	client.GetSessionFunc = func(ctx context.Context) (*identity.Session, error) {
		client.Emit(identity.EventSignedIn, identitytest.NewSession("newer", "newer@example.com"))
		return identitytest.NewSession("older", "older@example.com"), nil
	}
	app, _ := newTestApp(t, client, localstore.NewMemoryStore(), "/")

	result, err := app.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "newer", result.Session.SubjectID)
	assert.Equal(t, "newer", app.Session().SubjectID)
}

func TestStart_RejectedRefreshClearsCachedSession(t *testing.T) {
	client := identitytest.New()
	client.GetSessionFunc = func(ctx context.Context) (*identity.Session, error) {
		client.Emit(identity.EventSignedOut, nil)
		return nil, &identity.APIError{Status: 400, Code: "invalid_grant", Message: "Invalid Refresh Token"}
	}
	local := localstore.NewMemoryStore()
	require.NoError(t, local.Set(localstore.KeyCurrentUser, `{"subjectId":"u1","email":"a@b.com"}`))

	app, _ := newTestApp(t, client, local, "/")
	result, err := app.Start(context.Background())
	require.NoError(t, err)

	assert.Nil(t, result.Session)
	assert.Equal(t, session.SourceNone, result.Source)
	assert.Nil(t, app.Session())

	app.Close()
	_, err = local.Get(localstore.KeyCurrentUser)
	assert.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestCloseAppliesQueuedEvents(t *testing.T) {
	client := identitytest.New()
	local := localstore.NewMemoryStore()
	app, _ := newTestApp(t, client, local, "/")
	_, err := app.Start(context.Background())
	require.NoError(t, err)

	client.Emit(identity.EventSignedIn, identitytest.NewSession("u1", "ada@example.com"))
	client.Emit(identity.EventSignedOut, nil)
	client.Emit(identity.EventSignedIn, identitytest.NewSession("u2", "grace@example.com"))
	app.Close()

	require.NotNil(t, app.Session())
	assert.Equal(t, "u2", app.Session().SubjectID)
	raw, err := local.Get(localstore.KeyCurrentUser)
	require.NoError(t, err)
	assert.Contains(t, raw, `"subjectId":"u2"`)
}

func TestSignInThroughFlowRedirectsHome(t *testing.T) {
	client := identitytest.New()
	local := localstore.NewMemoryStore()
	app, router := newTestApp(t, client, local, "/login")
	_, err := app.Start(context.Background())
	require.NoError(t, err)

	flow := app.Flow()
	flow.SetEmail("ada@example.com")
	flow.SetPassword("correct-horse")
	require.NoError(t, flow.SignIn(context.Background()))

	require.NoError(t, app.Sync(syncCtx(t)))
	require.NotNil(t, app.Session())
	assert.Equal(t, "ada@example.com", app.Session().Email)
	assert.Equal(t, "/", router.Location())

	_, err = local.Get(localstore.KeyCurrentUser)
	assert.NoError(t, err, "session mirrored to local store")
}

func TestSignOutClearsSession(t *testing.T) {
	client := identitytest.New()
	client.GetSessionFunc = func(ctx context.Context) (*identity.Session, error) {
		return identitytest.NewSession("u1", "ada@example.com"), nil
	}
	local := localstore.NewMemoryStore()
	app, router := newTestApp(t, client, local, "/profile")
	_, err := app.Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, app.Session())

	require.NoError(t, app.SignOut(syncCtx(t)))

	assert.Nil(t, app.Session())
	assert.Equal(t, "/profile", router.Location())
	_, err = local.Get(localstore.KeyCurrentUser)
	assert.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestSetTheme(t *testing.T) {
	local := localstore.NewMemoryStore()
	app, _ := newTestApp(t, identitytest.New(), local, "/")
	assert.Equal(t, session.DefaultTheme, app.Theme())

	require.NoError(t, app.SetTheme(session.ThemeLight))
	assert.Equal(t, session.ThemeLight, app.Theme())

	assert.Error(t, app.SetTheme("sepia"))
	assert.Equal(t, session.ThemeLight, app.Theme())

	stored, err := local.Get(localstore.KeyTheme)
	require.NoError(t, err)
	assert.Equal(t, session.ThemeLight, stored)
}

func TestCloseReleasesSubscription(t *testing.T) {
	client := identitytest.New()
	app, _ := newTestApp(t, client, localstore.NewMemoryStore(), "/")
	_, err := app.Start(context.Background())
	require.NoError(t, err)

	app.Close()
	app.Close()

	client.Emit(identity.EventSignedIn, identitytest.NewSession("u1", "ada@example.com"))
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, app.Session())

	_, err = app.Start(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResolverUsesAppNavigator(t *testing.T) {
	app, router := newTestApp(t, identitytest.New(), localstore.NewMemoryStore(), "/auth/callback")

	out := app.Resolver().Resolve(context.Background(), "http://127.0.0.1:54321/auth/callback#error_description=expired")
	assert.Equal(t, "/login?error=expired", out.Location)
	assert.Equal(t, out.Location, router.Location())
}
