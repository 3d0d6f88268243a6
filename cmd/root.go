package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"freightdesk/pkg/config"
	"freightdesk/pkg/logger"
	"freightdesk/pkg/workspace"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "freightdesk",
	Short: "Freight cost and compliance answers over WhatsApp and Telegram",
	Long: `freightdesk answers freight-cost questions sent as text or product photos.

It identifies the product, estimates shipping costs from the local knowledge
base and web search, and replies on the channel the question came from.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// environment is the configuration, logger and staging area every command
// starts from.
type environment struct {
	cfg     *config.Config
	log     *slog.Logger
	staging *workspace.Staging
}

// loadEnvironment loads configuration, installs the process logger and opens
// the workspace. quiet drops log output, for the full-screen chat.
func loadEnvironment(component string, quiet bool) (*environment, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger := logger.Discard()
	if !quiet {
		if appLogger, err = logger.New(cfg.Logging); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	slog.SetDefault(appLogger)

	guard, err := workspace.NewGuard(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}

	return &environment{
		cfg:     cfg,
		log:     appLogger.With("component", component),
		staging: workspace.NewStaging(guard),
	}, nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
