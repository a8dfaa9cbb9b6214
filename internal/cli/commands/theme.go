package commands

import (
	"github.com/spf13/cobra"

	"github.com/learnhub-dev/learnhub/internal/session"
)

// NewThemeCmd creates the theme command
func NewThemeCmd(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:       "theme [dark|light]",
		Short:     "Show or set the color theme",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{session.ThemeDark, session.ThemeLight},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTheme(rt, args)
		},
	}
}

func runTheme(rt *Runtime, args []string) error {
	cfg, err := rt.config()
	if err != nil {
		return err
	}

	zlog := rt.logger()

	local, closeLocal, err := rt.OpenLocal(cfg)
	if err != nil {
		return err
	}
	defer closeLocal()

	if len(args) == 0 {
		rt.printf("%s\n", session.ReadTheme(local, zlog))
		return nil
	}

	if err := session.WriteTheme(local, args[0]); err != nil {
		return err
	}
	rt.printf("✓ Theme set to %s\n", args[0])
	return nil
}
