package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/learnhub-dev/learnhub/internal/authflow"
)

// NewSignupCmd creates the signup command
func NewSignupCmd(rt *Runtime) *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a LearnHub account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignup(cmd.Context(), rt, name, email, password)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Your full name")
	cmd.Flags().StringVar(&email, "email", "", "Email address (or set LEARNHUB_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set LEARNHUB_PASSWORD, will prompt if not provided)")

	return cmd
}

func runSignup(ctx context.Context, rt *Runtime, name, email, password string) error {
	if email == "" {
		email = os.Getenv("LEARNHUB_EMAIL")
	}
	if password == "" {
		password = os.Getenv("LEARNHUB_PASSWORD")
	}
	confirm := password

	s, err := rt.openSession(ctx, "/login")
	if err != nil {
		return err
	}
	defer s.close()

	if rt.Interactive() {
		if name == "" {
			if name, err = rt.PromptText("Name", ""); err != nil {
				return err
			}
		}
		if email == "" {
			if email, err = rt.PromptText("Email", ""); err != nil {
				return err
			}
		}
		if password == "" {
			if password, err = rt.ReadPassword("Password"); err != nil {
				return err
			}
			if confirm, err = rt.ReadPassword("Confirm password"); err != nil {
				return err
			}
		}
	}

	flow := s.app.Flow()
	flow.SetMode(authflow.ModeSignup)
	flow.SetName(name)
	flow.SetEmail(email)
	flow.SetPassword(password)
	flow.SetConfirmPassword(confirm)

	if err := flow.SignUp(ctx); err != nil {
		return fmt.Errorf("signup failed: %s", formError(flow, err))
	}

	rt.printf("✓ %s\n", flow.State().Message)

	// Backends without email confirmation sign the user in right away
	if err := s.app.Sync(ctx); err != nil {
		return fmt.Errorf("failed to apply sign-in: %w", err)
	}
	if current := s.app.Session(); current != nil {
		rt.printf("  Signed in as %s (%s)\n", current.DisplayName, current.Email)
	} else {
		rt.printf("  Then run 'learnhub login --email %s'\n", strings.TrimSpace(email))
	}
	return nil
}
