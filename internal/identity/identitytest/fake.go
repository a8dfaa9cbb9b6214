// Package identitytest provides an in-memory identity.Client for tests
package identitytest

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/learnhub-dev/learnhub/internal/identity"
)

// Fake is a scriptable identity.Client. Each operation calls the matching
// func field when set; otherwise it behaves like a backend that accepts
// everything. Successful sign-ins and sign-outs emit events the way the
// real client does.
type Fake struct {
	GetSessionFunc  func(ctx context.Context) (*identity.Session, error)
	SignInFunc      func(ctx context.Context, email, password string) (*identity.Session, error)
	SignUpFunc      func(ctx context.Context, params identity.SignUpParams) (*identity.SignUpResult, error)
	SignInOAuthFunc func(ctx context.Context, provider, redirectTo string) (string, error)
	SignOutFunc     func(ctx context.Context) error

	Events *identity.Broadcaster

	mu    sync.Mutex
	calls map[string]int
	last  map[string][]any
}

// New creates a Fake with its own broadcaster
func New() *Fake {
	return &Fake{
		Events: identity.NewBroadcaster(zerolog.Nop()),
		calls:  make(map[string]int),
		last:   make(map[string][]any),
	}
}

// Calls returns how many times op was invoked
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// LastArgs returns the arguments of the latest call to op
func (f *Fake) LastArgs(op string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[op]
}

// Emit pushes an event to subscribers as if the backend sent it
func (f *Fake) Emit(kind identity.EventKind, session *identity.Session) uint64 {
	return f.Events.Emit(kind, session)
}

func (f *Fake) record(op string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	f.last[op] = args
}

func (f *Fake) GetSession(ctx context.Context) (*identity.Session, error) {
	f.record("GetSession")
	if f.GetSessionFunc != nil {
		return f.GetSessionFunc(ctx)
	}
	return nil, nil
}

func (f *Fake) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	f.record("SignInWithPassword", email, password)

	var (
		session *identity.Session
		err     error
	)
	if f.SignInFunc != nil {
		session, err = f.SignInFunc(ctx, email, password)
	} else {
		session = NewSession("user-"+email, email)
	}
	if err != nil {
		return nil, err
	}
	f.Emit(identity.EventSignedIn, session)
	return session, nil
}

func (f *Fake) SignUp(ctx context.Context, params identity.SignUpParams) (*identity.SignUpResult, error) {
	f.record("SignUp", params)
	if f.SignUpFunc != nil {
		return f.SignUpFunc(ctx, params)
	}
	user := NewUser("user-"+params.Email, params.Email)
	return &identity.SignUpResult{User: &user}, nil
}

func (f *Fake) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	f.record("SignInWithOAuth", provider, redirectTo)
	if f.SignInOAuthFunc != nil {
		return f.SignInOAuthFunc(ctx, provider, redirectTo)
	}
	return "https://identity.test/authorize?provider=" + provider, nil
}

func (f *Fake) SignOut(ctx context.Context) error {
	f.record("SignOut")
	if f.SignOutFunc != nil {
		if err := f.SignOutFunc(ctx); err != nil {
			return err
		}
	}
	f.Emit(identity.EventSignedOut, nil)
	return nil
}

func (f *Fake) OnAuthStateChange(fn func(identity.Event)) *identity.Subscription {
	f.record("OnAuthStateChange")
	return f.Events.Subscribe(fn)
}

// NewUser builds a confirmed user with one email identity
func NewUser(id, email string) identity.User {
	return identity.User{
		ID:         id,
		Email:      email,
		Identities: []identity.Identity{{ID: id, Provider: "email"}},
	}
}

// NewSession builds a session for a new user
func NewSession(id, email string) *identity.Session {
	return &identity.Session{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		TokenType:    "bearer",
		User:         NewUser(id, email),
	}
}
