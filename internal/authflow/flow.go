// Package authflow implements the user-initiated credential operations:
// password sign-in, sign-up and starting an OAuth sign-in. It owns the form
// state and never writes the session store; successful sign-ins reach the
// store through the auth event listener.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/learnhub-dev/learnhub/internal/identity"
	"github.com/learnhub-dev/learnhub/internal/nav"
)

// Mode selects which form is shown
type Mode string

const (
	ModeLogin  Mode = "login"
	ModeSignup Mode = "signup"
)

// Result messages
const (
	MsgAccountExists = "An account with this email already exists. Please sign in instead."
	MsgCheckEmail    = "Check your email to confirm your account."
)

// DefaultModeSwitchDelay is how long the sign-up confirmation stays on the
// sign-up form before switching to login
const DefaultModeSwitchDelay = 3 * time.Second

var (
	// ErrSubmissionInProgress is returned while another submission is running
	ErrSubmissionInProgress = errors.New("a submission is already in progress")
	// ErrAccountExists is returned by SignUp when the email is already registered
	ErrAccountExists = errors.New("account already exists")
	// ErrEmptySignUp is returned by SignUp when the backend answered without an account
	ErrEmptySignUp = errors.New("sign-up failed: the identity service returned no account")
)

// FormState is the state of the credential form
type FormState struct {
	Mode            Mode
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
	Error           string
	Message         string
	Loading         bool
	// SocialLoading names the provider of an OAuth sign-in in progress
	SocialLoading string
}

// Options configures a Flow
type Options struct {
	// CallbackBase is the origin the OAuth provider redirects back to
	CallbackBase    string
	Routes          nav.Routes
	ModeSwitchDelay time.Duration
}

// Flow drives the credential form against the identity client
type Flow struct {
	client   identity.Client
	opts     Options
	validate *validator.Validate
	logger   zerolog.Logger

	// afterFunc schedules the post sign-up mode switch
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu      sync.Mutex
	state   FormState
	gen     uint64
	pending *time.Timer
}

// New creates a Flow in login mode
func New(client identity.Client, opts Options, zlog zerolog.Logger) *Flow {
	if opts.Routes == (nav.Routes{}) {
		opts.Routes = nav.DefaultRoutes()
	}
	if opts.ModeSwitchDelay <= 0 {
		opts.ModeSwitchDelay = DefaultModeSwitchDelay
	}
	return &Flow{
		client:    client,
		opts:      opts,
		validate:  newValidator(),
		logger:    zlog,
		afterFunc: time.AfterFunc,
		state:     FormState{Mode: ModeLogin},
	}
}

// CallbackURL is where the OAuth provider sends the user back to
func (f *Flow) CallbackURL() string {
	return strings.TrimRight(f.opts.CallbackBase, "/") + f.opts.Routes.Callback
}

// State returns a snapshot of the form
func (f *Flow) State() FormState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) SetName(v string)            { f.update(func(s *FormState) { s.Name = v }) }
func (f *Flow) SetEmail(v string)           { f.update(func(s *FormState) { s.Email = v }) }
func (f *Flow) SetPassword(v string)        { f.update(func(s *FormState) { s.Password = v }) }
func (f *Flow) SetConfirmPassword(v string) { f.update(func(s *FormState) { s.ConfirmPassword = v }) }

func (f *Flow) update(fn func(*FormState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.state)
}

// ToggleMode switches between login and sign-up and clears the whole form
func (f *Flow) ToggleMode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := ModeSignup
	if f.state.Mode == ModeSignup {
		next = ModeLogin
	}
	f.resetLocked(next, "")
	return next
}

// SetMode switches to mode, clearing the form when it changes
func (f *Flow) SetMode(mode Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Mode != mode {
		f.resetLocked(mode, "")
	}
}

// resetLocked clears the form and cancels any scheduled mode switch
func (f *Flow) resetLocked(mode Mode, message string) {
	f.gen++
	if f.pending != nil {
		f.pending.Stop()
		f.pending = nil
	}
	f.state = FormState{Mode: mode, Message: message}
}

// begin validates the form and marks it loading. It returns the snapshot
// the submission works from.
func (f *Flow) begin(input func(FormState) any) (FormState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.Loading || f.state.SocialLoading != "" {
		return FormState{}, ErrSubmissionInProgress
	}

	f.state.Error = ""
	f.state.Message = ""
	if err := check(f.validate, input(f.state)); err != nil {
		f.state.Error = err.Error()
		return FormState{}, err
	}

	f.state.Loading = true
	return f.state, nil
}

// fail records a remote failure, keeping the entered values
func (f *Flow) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Loading = false
	f.state.Error = err.Error()
}

// SignIn submits the login form
func (f *Flow) SignIn(ctx context.Context) error {
	snap, err := f.begin(func(s FormState) any {
		return &signInInput{Email: strings.TrimSpace(s.Email), Password: s.Password}
	})
	if err != nil {
		return err
	}

	email := strings.TrimSpace(snap.Email)
	if _, err := f.client.SignInWithPassword(ctx, email, snap.Password); err != nil {
		f.logger.Debug().Err(err).Str("email", email).Msg("Password sign-in rejected")
		f.fail(err)
		return err
	}

	f.mu.Lock()
	f.resetLocked(f.state.Mode, "")
	f.mu.Unlock()

	f.logger.Debug().Str("email", email).Msg("Password sign-in accepted")
	return nil
}

// SignUp submits the sign-up form. On success the form shows a confirmation
// message and switches to login after the configured delay; the user is
// not considered signed in.
func (f *Flow) SignUp(ctx context.Context) error {
	snap, err := f.begin(func(s FormState) any {
		return &signUpInput{
			Name:            strings.TrimSpace(s.Name),
			Email:           strings.TrimSpace(s.Email),
			Password:        s.Password,
			ConfirmPassword: s.ConfirmPassword,
		}
	})
	if err != nil {
		return err
	}

	email := strings.TrimSpace(snap.Email)
	result, err := f.client.SignUp(ctx, identity.SignUpParams{
		Email:      email,
		Password:   snap.Password,
		Data:       map[string]any{"full_name": strings.TrimSpace(snap.Name)},
		RedirectTo: f.CallbackURL(),
	})
	if err != nil {
		f.logger.Debug().Err(err).Str("email", email).Msg("Sign-up rejected")
		f.fail(err)
		return err
	}

	if result == nil {
		f.logger.Warn().Str("email", email).Msg("Sign-up returned no account")
		f.fail(ErrEmptySignUp)
		return ErrEmptySignUp
	}

	if result.AlreadyRegistered() {
		f.logger.Debug().Str("email", email).Msg("Sign-up for existing account")
		f.fail(errors.New(MsgAccountExists))
		return ErrAccountExists
	}

	f.mu.Lock()
	f.resetLocked(ModeSignup, MsgCheckEmail)
	gen := f.gen
	f.pending = f.afterFunc(f.opts.ModeSwitchDelay, func() { f.switchToLogin(gen) })
	f.mu.Unlock()

	f.logger.Info().Str("email", email).Msg("Account created, awaiting email confirmation")
	return nil
}

// switchToLogin runs after the sign-up delay unless the form changed since
func (f *Flow) switchToLogin(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.gen != gen {
		return
	}
	message := f.state.Message
	f.resetLocked(ModeLogin, message)
}

// SignInWithOAuth starts a redirect-based sign-in with provider and returns
// the authorization URL. SocialLoading stays set until the callback is
// resolved or CancelOAuth is called.
func (f *Flow) SignInWithOAuth(ctx context.Context, provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", identity.ErrUnknownProvider
	}

	f.mu.Lock()
	if f.state.Loading || f.state.SocialLoading != "" {
		f.mu.Unlock()
		return "", ErrSubmissionInProgress
	}
	f.state.Error = ""
	f.state.SocialLoading = provider
	f.mu.Unlock()

	authURL, err := f.client.SignInWithOAuth(ctx, provider, f.CallbackURL())
	if err != nil {
		f.mu.Lock()
		f.state.SocialLoading = ""
		f.state.Error = fmt.Sprintf("Failed to sign in with %s: %s", ProviderTitle(provider), err.Error())
		f.mu.Unlock()

		f.logger.Warn().Err(err).Str("provider", provider).Msg("OAuth sign-in could not start")
		return "", err
	}

	f.logger.Debug().Str("provider", provider).Msg("OAuth sign-in started")
	return authURL, nil
}

// CancelOAuth clears the OAuth in-progress indicator
func (f *Flow) CancelOAuth() {
	f.update(func(s *FormState) { s.SocialLoading = "" })
}

// Stop cancels a scheduled mode switch
func (f *Flow) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	if f.pending != nil {
		f.pending.Stop()
		f.pending = nil
	}
}

// ProviderTitle formats a provider name for messages ("github" -> "Github")
func ProviderTitle(provider string) string {
	return cases.Title(language.English).String(provider)
}
