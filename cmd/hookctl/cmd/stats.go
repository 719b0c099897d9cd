package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show delivery statistics",
	Long:  `Show per-integration failure counts and per-topic success rates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats struct {
			Integrations []struct {
				IntegrationID string  `json:"integration_id"`
				Delivered     int64   `json:"delivered"`
				Failed        int64   `json:"failed"`
				Pending       int64   `json:"pending"`
				AvgLatencyMS  float64 `json:"avg_latency_ms"`
			} `json:"integrations"`
			Topics []struct {
				Topic     string `json:"topic"`
				Delivered int64  `json:"delivered"`
				Failed    int64  `json:"failed"`
			} `json:"topics"`
		}
		if err := makeRequest("GET", "/v1/stats", nil, &stats); err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		if outputJSON {
			printOutput(stats)
			return nil
		}

		fmt.Println("Integrations (worst first):")
		for _, s := range stats.Integrations {
			fmt.Printf("  %-36s delivered=%d failed=%d pending=%d avg_latency=%.0fms\n",
				s.IntegrationID, s.Delivered, s.Failed, s.Pending, s.AvgLatencyMS)
		}
		fmt.Println("Topics:")
		for _, t := range stats.Topics {
			fmt.Printf("  %-36s delivered=%d failed=%d\n", t.Topic, t.Delivered, t.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
