// Package cli implements facectl, the operator tool for the enrollment
// store of a facegate terminal. It works on the store directly, so it must
// not mutate a data directory while the daemon serving it is running.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/app"
	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/observability"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "facectl",
	Short: "Manage and test the team member enrollment of a facegate terminal",
	Long: `facectl enrolls team members, manages their reference photos and runs
recognition against the local enrollment store of a facegate terminal.

Configuration is read from the YAML file given by --config, then from
FACEGATE_* environment variables. A .env file in the working directory
is loaded first when present.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
	observability.SetupLogger(logLevel, "text")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openApp loads config and the face authentication core. Callers Close it.
func openApp(ctx context.Context) (*app.App, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}
