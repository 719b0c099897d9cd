package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

type deliveryView struct {
	ID            string `json:"id"`
	OutboxID      string `json:"outbox_id"`
	IntegrationID string `json:"integration_id"`
	Status        string `json:"status"`
	Attempt       int    `json:"attempt"`
	SentAt        string `json:"sent_at,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type attemptView struct {
	Number       int    `json:"attempt_number"`
	SentAt       string `json:"sent_at"`
	ResponseCode int    `json:"response_code"`
	LatencyMS    int    `json:"latency_ms"`
	Error        string `json:"error,omitempty"`
}

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect and replay webhook deliveries",
	Long:  `List deliveries, inspect their attempt history, and replay failed ones.`,
}

// deliveryListCmd represents the delivery list command
var deliveryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deliveries",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if v, _ := cmd.Flags().GetString("outbox"); v != "" {
			q.Set("outbox_id", v)
		}
		if v, _ := cmd.Flags().GetString("integration"); v != "" {
			q.Set("integration_id", v)
		}
		if v, _ := cmd.Flags().GetString("status"); v != "" {
			q.Set("status", v)
		}
		if v, _ := cmd.Flags().GetInt("limit"); v > 0 {
			q.Set("limit", strconv.Itoa(v))
		}

		path := "/v1/deliveries"
		failedOnly, _ := cmd.Flags().GetBool("failed")
		if failedOnly {
			path = "/v1/failures"
			q.Del("status")
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var deliveries []deliveryView
		if err := makeRequest("GET", path, nil, &deliveries); err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}

		if outputJSON {
			printOutput(deliveries)
			return nil
		}
		if len(deliveries) == 0 {
			fmt.Println("No deliveries found")
			return nil
		}
		for _, d := range deliveries {
			fmt.Printf("%s  %-9s attempt=%d integration=%s outbox=%s", d.ID, d.Status, d.Attempt, d.IntegrationID, d.OutboxID)
			if d.LastError != "" {
				fmt.Printf("  error=%q", d.LastError)
			}
			fmt.Println()
		}
		return nil
	},
}

// deliveryAttemptsCmd represents the delivery attempts command
var deliveryAttemptsCmd = &cobra.Command{
	Use:   "attempts [delivery-id]",
	Short: "Show the attempt log of a delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var attempts []attemptView
		if err := makeRequest("GET", "/v1/deliveries/"+args[0]+"/attempts", nil, &attempts); err != nil {
			return fmt.Errorf("failed to list attempts: %w", err)
		}

		if outputJSON {
			printOutput(attempts)
			return nil
		}
		if len(attempts) == 0 {
			fmt.Println("No attempts recorded")
			return nil
		}
		for _, a := range attempts {
			fmt.Printf("#%d  %s  status=%d latency=%dms", a.Number, a.SentAt, a.ResponseCode, a.LatencyMS)
			if a.Error != "" {
				fmt.Printf("  error=%q", a.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

// deliveryReplayCmd represents the delivery replay command
var deliveryReplayCmd = &cobra.Command{
	Use:   "replay [delivery-id]",
	Short: "Replay a delivery",
	Long:  `Re-enqueue a delivery for sending. The attempt history is preserved.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		var resp struct {
			DeliveryID string `json:"delivery_id"`
			TaskID     int64  `json:"task_id"`
		}
		if err := makeRequest("POST", "/v1/deliveries/"+args[0]+"/replay", map[string]string{"reason": reason}, &resp); err != nil {
			return fmt.Errorf("failed to replay delivery: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Printf("Replay queued for delivery %s (task %d)\n", resp.DeliveryID, resp.TaskID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(deliveryListCmd)
	deliveryCmd.AddCommand(deliveryAttemptsCmd)
	deliveryCmd.AddCommand(deliveryReplayCmd)

	// Flags for list
	deliveryListCmd.Flags().String("outbox", "", "filter by outbox id")
	deliveryListCmd.Flags().String("integration", "", "filter by integration id")
	deliveryListCmd.Flags().String("status", "", "filter by status (pending|sending|delivered|failed)")
	deliveryListCmd.Flags().Int("limit", 50, "max results")
	deliveryListCmd.Flags().Bool("failed", false, "shortcut for failed deliveries")

	// Flags for replay
	deliveryReplayCmd.Flags().String("reason", "", "why the delivery is being replayed")
}
