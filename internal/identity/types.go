// Package identity is the client side of the remote identity backend: the
// session/sign-in capability set the portal consumes, a GoTrue-compatible
// HTTP implementation of it, and the ordered stream of session-change events.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventKind names a session-change event
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
)

// Event is one session-change notification. Seq increases by one for every
// event emitted by a client.
type Event struct {
	Seq     uint64
	Kind    EventKind
	Session *Session
}

var (
	// ErrNoSession is returned by token stores when nothing is persisted
	ErrNoSession = errors.New("no persisted session")

	// ErrUnknownProvider is returned when an OAuth provider name is empty
	ErrUnknownProvider = errors.New("oauth provider is required")

	// ErrSubscriptionClosed is returned by Sync after Unsubscribe
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Identity is one linked login method of a user
type Identity struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// User is the remote user record
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	Identities       []Identity     `json:"identities"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
}

// Session is a remote session: the token pair plus the user it belongs to
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// Expired reports whether the access token expires within leeway of now.
// A session without a known expiry never expires client-side.
func (s *Session) Expired(now time.Time, leeway time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Add(leeway).Unix() >= s.ExpiresAt
}

// SignUpParams is the sign-up request
type SignUpParams struct {
	Email      string
	Password   string
	Data       map[string]any
	RedirectTo string
}

// SignUpResult is what the backend returned for a sign-up. Session is nil
// when email confirmation is pending. A User with zero identities means the
// email was already registered.
type SignUpResult struct {
	User    *User
	Session *Session
}

// AlreadyRegistered reports the provider's "account exists" signal
func (r *SignUpResult) AlreadyRegistered() bool {
	return r != nil && r.User != nil && len(r.User.Identities) == 0
}

// APIError is a rejection returned by the identity backend
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error returns the backend message verbatim
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("identity request failed (status %d)", e.Status)
}

// Client is the capability set of the remote identity backend
type Client interface {
	// GetSession returns the current session, or nil when there is none
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, params SignUpParams) (*SignUpResult, error)
	// SignInWithOAuth starts a redirect-based flow and returns the
	// provider authorization URL the user was sent to.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn func(Event)) *Subscription
}

// GetSessionSafe calls c.GetSession and turns a panic into an error
func GetSessionSafe(ctx context.Context, c Client) (s *Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			s = nil
			err = fmt.Errorf("session lookup panicked: %v", r)
		}
	}()
	return c.GetSession(ctx)
}
