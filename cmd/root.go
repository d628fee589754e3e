// Package cmd holds the cocoa-roast-scan command line.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/cocoa-roast-scan/internal/config"
	"github.com/example/cocoa-roast-scan/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "cocoa-roast-scan",
	Short:         "Cocoa bean roast classification service",
	Long:          "Classifies cocoa bean photos by shell condition, roasting duration and colour, and serves the results over HTTP.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file (overrides CONFIG_PATH env var)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(labelsCmd)
}

// loadConfig resolves the config path from --config, then CONFIG_PATH.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return config.Load(path)
}

func loadConfigAndLogger(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
