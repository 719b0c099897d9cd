package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish webhook events",
	Long:  `Publish domain events into the outbox for fan-out to subscribers.`,
}

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish [subject-type] [subject-id] [topic] [action] [payload-json]",
	Short: "Publish a webhook event",
	Long: `Publish a webhook event with a JSON payload.

Example:
  hookctl event publish product prod_42 products.updated update '{"sku":"SKU-1","price":19.99}' --dirty '{"price":17.99}'`,
	Args: cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if err := json.Unmarshal([]byte(args[4]), &payload); err != nil {
			return fmt.Errorf("invalid payload JSON: %w", err)
		}

		var dirty map[string]any
		if dirtyJSON, _ := cmd.Flags().GetString("dirty"); dirtyJSON != "" {
			if err := json.Unmarshal([]byte(dirtyJSON), &dirty); err != nil {
				return fmt.Errorf("invalid dirty JSON: %w", err)
			}
		}

		req := map[string]any{
			"subject_type": args[0],
			"subject_id":   args[1],
			"topic":        args[2],
			"action":       args[3],
			"payload":      payload,
		}
		if dirty != nil {
			req["dirty_fields"] = dirty
		}

		var resp struct {
			OutboxID    string `json:"outbox_id"`
			FanoutCount int    `json:"fanout_count"`
		}
		if err := makeRequest("POST", "/v1/events", req, &resp); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Printf("Published event: %s\n", resp.OutboxID)
			fmt.Printf("  Fanout count: %d\n", resp.FanoutCount)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(publishCmd)

	// Flags for publish
	publishCmd.Flags().String("dirty", "", "JSON object of pre-update values for changed fields")
}
