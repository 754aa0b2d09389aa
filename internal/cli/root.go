// Package cli provides the command-line interface for the tether demo
// host.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/tether/internal/config"
	"github.com/bnema/tether/internal/logging"
	"github.com/rs/zerolog"
)

// CLI holds the loaded configuration and logger shared by commands.
type CLI struct {
	Config *config.Config
	Log    zerolog.Logger
}

// NewCLI loads configuration and builds the shared state.
func NewCLI() (*CLI, error) {
	manager, err := config.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to create config manager: %w", err)
	}
	if err := manager.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := manager.Get()
	log := logging.New(logging.Config{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		TimeFormat: logging.DefaultConfig().TimeFormat,
	})

	return &CLI{Config: cfg, Log: log}, nil
}

// NewRootCommand builds the root command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tether-demo",
		Short:         "Demo host for the tether webview messaging core",
		Long:          "Runs the tether main loop, RPC bridge and scheme pipeline against an in-process scripted page.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newSchemaCommand())

	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCommand().Execute()
}
