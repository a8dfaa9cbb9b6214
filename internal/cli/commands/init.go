package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/learnhub-dev/learnhub/internal/config"
)

// NewInitCmd creates the init command
func NewInitCmd(rt *Runtime) *cobra.Command {
	var anonKey string

	cmd := &cobra.Command{
		Use:   "init <identity-url>",
		Short: "Create a learnhub.yaml for this directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rt, args[0], anonKey)
		},
	}

	cmd.Flags().StringVar(&anonKey, "anon-key", "", "Public API key of the identity backend")

	return cmd
}

func runInit(rt *Runtime, identityURL, anonKey string) error {
	currentDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	configPath := filepath.Join(currentDir, config.ProjectFileName)

	cfg := config.Default()
	if _, err := os.Stat(configPath); err == nil {
		// Keep the rest of an existing file
		existing, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load existing config: %w", err)
		}
		cfg = existing
		rt.printf("Found existing %s\n", config.ProjectFileName)
	}

	cfg.Identity.URL = identityURL
	if anonKey != "" {
		cfg.Identity.AnonKey = anonKey
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}

	rt.printf("✓ Wrote %s\n", configPath)
	if cfg.Identity.AnonKey == "" {
		rt.printf("  Set LEARNHUB_ANON_KEY or add identity.anon_key before signing in\n")
	}
	return nil
}
