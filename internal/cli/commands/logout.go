package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of LearnHub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd.Context(), rt)
		},
	}
}

func runLogout(ctx context.Context, rt *Runtime) error {
	s, err := rt.openSession(ctx, "/")
	if err != nil {
		return err
	}
	defer s.close()

	current := s.app.Session()
	if current == nil {
		rt.printf("Not signed in\n")
		return nil
	}

	if err := s.app.SignOut(ctx); err != nil {
		if s.app.Session() != nil {
			return fmt.Errorf("logout failed: %w", err)
		}
		fmt.Fprintf(rt.Err, "Warning: %v\n", err)
	}

	rt.printf("✓ Logged out %s\n", current.Email)
	return nil
}
