package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/learnhub-dev/learnhub/internal/authflow"
	"github.com/learnhub-dev/learnhub/internal/callback"
	"github.com/learnhub-dev/learnhub/internal/localstore"
	"github.com/learnhub-dev/learnhub/internal/session"
)

// methodPassword is the non-OAuth sign-in method
const methodPassword = "password"

// NewLoginCmd creates the login command
func NewLoginCmd(rt *Runtime) *cobra.Command {
	var (
		email, password, provider string
		timeout                   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to LearnHub",
		Long: `Sign in with email and password, or with an OAuth provider.

With --provider the browser opens the provider's sign-in page and the CLI
waits for the redirect back on the local callback address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), rt, email, password, provider, timeout)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set LEARNHUB_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set LEARNHUB_PASSWORD, will prompt if not provided)")
	cmd.Flags().StringVar(&provider, "provider", "", "OAuth provider, e.g. google or github")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for an OAuth sign-in to complete")

	return cmd
}

func runLogin(ctx context.Context, rt *Runtime, email, password, provider string, timeout time.Duration) error {
	// Check for environment variables (useful for CI/CD)
	if email == "" {
		email = os.Getenv("LEARNHUB_EMAIL")
	}
	if password == "" {
		password = os.Getenv("LEARNHUB_PASSWORD")
	}

	s, err := rt.openSession(ctx, "/login")
	if err != nil {
		return err
	}
	defer s.close()

	if current := s.app.Session(); current != nil {
		rt.printf("Already signed in as %s (%s)\n", current.DisplayName, current.Email)
		return nil
	}

	method := strings.ToLower(strings.TrimSpace(provider))
	if method == "" && email == "" {
		if !rt.Interactive() {
			return fmt.Errorf("email is required (use --email flag or LEARNHUB_EMAIL env var)")
		}
		if method, err = rt.chooseMethod(s.cfg.Callback.Providers, lastLogin(s.local, localstore.KeyLastLoginMethod)); err != nil {
			return err
		}
	}

	if method == "" || method == methodPassword {
		return passwordLogin(ctx, rt, s, email, password)
	}
	return oauthLogin(ctx, rt, s, method, timeout)
}

// chooseMethod asks how to sign in, starting at the method used last time
func (rt *Runtime) chooseMethod(providers []string, lastMethod string) (string, error) {
	methods := append([]string{methodPassword}, providers...)
	items := make([]string, len(methods))
	items[0] = "Email and password"
	for i, p := range providers {
		items[i+1] = "Continue with " + authflow.ProviderTitle(p)
	}

	cursor := 0
	for i, m := range methods {
		if m == lastMethod {
			cursor = i
		}
	}

	index, err := rt.Select("How do you want to sign in?", items, cursor)
	if err != nil {
		return "", err
	}
	return methods[index], nil
}

func passwordLogin(ctx context.Context, rt *Runtime, s *appSession, email, password string) error {
	if email == "" {
		var err error
		if email, err = rt.PromptText("Email", lastLogin(s.local, localstore.KeyLastLoginEmail)); err != nil {
			return err
		}
	}

	// Prompt for password if not provided via flag or env var
	if password == "" {
		if !rt.Interactive() {
			return fmt.Errorf("password is required in non-interactive mode (use --password flag or LEARNHUB_PASSWORD env var)")
		}
		var err error
		if password, err = rt.ReadPassword("Password"); err != nil {
			return err
		}
	}

	flow := s.app.Flow()
	flow.SetEmail(email)
	flow.SetPassword(password)

	rt.printf("Signing in as %s...\n", strings.TrimSpace(email))
	if err := flow.SignIn(ctx); err != nil {
		return fmt.Errorf("login failed: %s", formError(flow, err))
	}

	return finishLogin(ctx, rt, s, methodPassword, strings.TrimSpace(email))
}

func oauthLogin(ctx context.Context, rt *Runtime, s *appSession, provider string, timeout time.Duration) error {
	zlog := rt.logger()

	srv := callback.NewServer(s.app.Resolver(), s.client, callback.ServerOptions{
		Addr:         s.cfg.Callback.Addr,
		Routes:       s.app.Routes(),
		AllowOrigins: identityOrigin(s.cfg.Identity.URL),
	}, zlog.With().Str("component", "callback_server").Logger())

	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zlog.Warn().Err(err).Msg("Failed to stop callback server")
		}
	}()

	flow := s.app.Flow()
	defer flow.CancelOAuth()

	authURL, err := flow.SignInWithOAuth(ctx, provider)
	if err != nil {
		return errors.New(formError(flow, err))
	}

	rt.printf("Opening browser to sign in with %s...\n", authflow.ProviderTitle(provider))
	rt.printf("If it does not open, visit:\n  %s\n", authURL)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := srv.Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("timed out waiting for sign-in to complete: %w", err)
	}

	if outcome.Kind == callback.OutcomeFailed {
		reason := outcome.Error
		if reason == "" {
			reason = "sign-in was not completed"
		}
		return fmt.Errorf("login failed: %s", reason)
	}

	return finishLogin(ctx, rt, s, provider, "")
}

// finishLogin waits for the sign-in event to land and reports the session
func finishLogin(ctx context.Context, rt *Runtime, s *appSession, method, email string) error {
	if err := s.app.Sync(ctx); err != nil {
		return fmt.Errorf("failed to apply sign-in: %w", err)
	}

	current := s.app.Session()
	if current == nil {
		return fmt.Errorf("login failed: no session was established")
	}

	if err := rememberLogin(s.local, method, email); err != nil {
		fmt.Fprintf(rt.Err, "Warning: failed to save login preferences: %v\n", err)
	}

	zlog := rt.logger()
	zlog.Debug().Str("location", s.router.Location()).Msg("Sign-in complete")
	printSignedIn(rt, current)
	return nil
}

func printSignedIn(rt *Runtime, current *session.Session) {
	rt.printf("✓ Login successful!\n")
	rt.printf("  User: %s (%s)\n", current.DisplayName, current.Email)
	if current.IsAdmin() {
		rt.printf("  Role: Admin\n")
	}
}

// rememberLogin stores the method, and the email when known, for the next login
func rememberLogin(local localstore.Store, method, email string) error {
	if err := local.Set(localstore.KeyLastLoginMethod, method); err != nil {
		return err
	}
	if email == "" {
		return nil
	}
	return local.Set(localstore.KeyLastLoginEmail, email)
}

// lastLogin reads a remembered login value; missing or unreadable is empty
func lastLogin(local localstore.Store, key string) string {
	v, err := local.Get(key)
	if err != nil {
		return ""
	}
	return v
}

// formError prefers the message shown on the form over the raw error
func formError(flow *authflow.Flow, err error) string {
	if msg := flow.State().Error; msg != "" {
		return msg
	}
	return err.Error()
}

// identityOrigin returns the scheme and host of the identity backend
func identityOrigin(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}
	return []string{u.Scheme + "://" + u.Host}
}
