package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/cocoa-roast-scan/internal/cascade"
	"github.com/example/cocoa-roast-scan/internal/imageprocessor"
)

var scanCmd = &cobra.Command{
	Use:   "scan IMAGE",
	Short: "Classify one image against the configured models and print JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, args[0])
	},
}

func init() {
	scanCmd.Flags().Bool("classify", false, "Only run the shell-condition model and print its ranking")
}

func runScan(cmd *cobra.Command, path string) error {
	cfg, logger, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	img, format, err := imageprocessor.Decode(data, cfg.Pipeline.MaxPixels)
	if err != nil {
		return err
	}
	logger.Debug("image decoded", zap.String("format", format), zap.Stringer("bounds", img.Bounds()))

	pipeline, err := cascade.Build(cmd.Context(), cfg.Pipeline, logger)
	if err != nil {
		return fmt.Errorf("build cascade: %w", err)
	}
	defer pipeline.Shutdown() //nolint:errcheck

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if classifyOnly, _ := cmd.Flags().GetBool("classify"); classifyOnly {
		ranked, err := pipeline.Classify(cmd.Context(), img)
		if err != nil {
			return err
		}
		return enc.Encode(ranked)
	}

	result, err := pipeline.Scan(cmd.Context(), img)
	if err != nil {
		return err
	}
	return enc.Encode(struct {
		Result          any    `json:"result"`
		StatusLocalized string `json:"status_localized"`
	}{Result: result, StatusLocalized: result.RoastingStatus.Localized()})
}
