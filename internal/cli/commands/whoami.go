package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/learnhub-dev/learnhub/internal/session"
)

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd(rt *Runtime) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd.Context(), rt, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the session as JSON")

	return cmd
}

type whoamiOutput struct {
	SignedIn bool             `json:"signedIn"`
	Source   session.Source   `json:"source"`
	Session  *session.Session `json:"session,omitempty"`
	Theme    string           `json:"theme"`
}

func runWhoami(ctx context.Context, rt *Runtime, asJSON bool) error {
	s, err := rt.openSession(ctx, "/")
	if err != nil {
		return err
	}
	defer s.close()

	result := s.bootstrap
	current := s.app.Session()

	if asJSON {
		out := whoamiOutput{
			SignedIn: current != nil,
			Source:   result.Source,
			Session:  current,
			Theme:    s.app.Theme(),
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		rt.printf("%s\n", data)
		return nil
	}

	if current == nil {
		rt.printf("Not signed in. Run 'learnhub login' to sign in.\n")
		return nil
	}

	rt.printf("%s (%s)\n", current.DisplayName, current.Email)
	rt.printf("  Handle: %s\n", current.Handle)
	rt.printf("  Role:   %s\n", current.Role)
	if result.Source == session.SourceCache {
		rt.printf("  (offline: restored from local cache)\n")
	}
	return nil
}
