package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/cocoa-roast-scan/internal/cascade"
	"github.com/example/cocoa-roast-scan/internal/domain"
	"github.com/example/cocoa-roast-scan/internal/labels"
)

var labelsCmd = &cobra.Command{
	Use:   "labels [SLOT]",
	Short: "Print the label catalog each model slot will use",
	Long:  "Print the label catalog each model slot will use. SLOT is one of shell, peeled_duration, unpeeled_duration or color.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slots := domain.Slots()
		if len(args) == 1 {
			slot, err := domain.ParseSlot(args[0])
			if err != nil {
				return err
			}
			slots = []domain.Slot{slot}
		}

		cfg, logger, err := loadConfigAndLogger(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		printCatalog(cmd, cascade.LoadCatalog(cfg.Pipeline, logger), slots)
		return nil
	},
}

func printCatalog(cmd *cobra.Command, catalog *labels.Catalog, slots []domain.Slot) {
	out := cmd.OutOrStdout()
	for _, slot := range slots {
		source := "file"
		if catalog.UsesDefaults(slot) {
			source = "defaults"
		}
		fmt.Fprintf(out, "%-18s %-8s %s\n", slot, source, strings.Join(catalog.Labels(slot), ", "))
	}
}
