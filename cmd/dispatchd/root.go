package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dispatchd/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dispatchd",
	Short: "Task orchestration daemon for capability-based agents",
	Long: `dispatchd schedules tasks across worker agents by capability.

It keeps four priority lanes, resolves task dependencies, retries failed
attempts with exponential backoff, and routes each task to the healthiest
agent declaring the requested capability.

Start the daemon with 'dispatchd serve', then submit tasks over the HTTP
API or follow them live with 'dispatchd watch'.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: search .dispatchd.yaml and user config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig honors the --config flag, falling back to the standard
// search order.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
