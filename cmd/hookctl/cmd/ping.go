package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping the OneSila hooks service",
	Long:  `Send a health check request to verify the service is running and accessible.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := makeRequest("GET", "/healthz", nil, nil); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		fmt.Println("Pong! Service is running")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
