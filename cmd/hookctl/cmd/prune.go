package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pruneCmd represents the prune command
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run retention pruning now",
	Long: `Delete delivered records older than each integration's retention window.
Pruning also runs on a daily schedule; this triggers an immediate pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var summary struct {
			Deliveries    int64            `json:"deliveries"`
			Outboxes      int64            `json:"outboxes"`
			ByIntegration map[string]int64 `json:"by_integration"`
		}
		if err := makeRequest("POST", "/v1/prune", nil, &summary); err != nil {
			return fmt.Errorf("failed to prune: %w", err)
		}

		if outputJSON {
			printOutput(summary)
			return nil
		}

		fmt.Printf("Pruned %d deliveries and %d orphaned outbox rows\n", summary.Deliveries, summary.Outboxes)
		for id, n := range summary.ByIntegration {
			fmt.Printf("  %s: %d\n", id, n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
