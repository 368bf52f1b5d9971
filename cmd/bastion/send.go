package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bastionhq/bastion/pkg/client"
)

var sendCmd = &cobra.Command{
	Use:   "send <event-id> <event-type>",
	Short: "Deliver a signed event to a running server",
	Long: `Deliver one signed event to the ingestion endpoint, the same way the
external event source would. Useful for smoke tests and for re-driving
an event by hand.`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("server", "http://127.0.0.1:8080", "Server base URL")
	sendCmd.Flags().String("secret", "", "Signing secret (defaults to BASTION_SIGNING_SECRET)")
	sendCmd.Flags().String("source", "cli", "Source name for the delivery path")
	sendCmd.Flags().String("payload", "{}", "Event payload as JSON")

	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	eventID, eventType := args[0], args[1]

	server, _ := cmd.Flags().GetString("server")
	secret, _ := cmd.Flags().GetString("secret")
	source, _ := cmd.Flags().GetString("source")
	payload, _ := cmd.Flags().GetString("payload")

	if secret == "" {
		secret = os.Getenv("BASTION_SIGNING_SECRET")
	}
	if secret == "" {
		return fmt.Errorf("no signing secret: pass --secret or set BASTION_SIGNING_SECRET")
	}
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("payload is not valid JSON")
	}

	c := client.NewClient(server, secret)
	result, err := c.DeliverEvent(cmd.Context(), source, eventID, eventType, json.RawMessage(payload))
	if err != nil {
		return err
	}

	switch {
	case result.Deduplicated:
		fmt.Printf("✓ Duplicate suppressed, original correlation %s\n", result.CorrelationID)
	case result.Success:
		fmt.Printf("✓ Event processed (correlation %s, %dms)\n", result.CorrelationID, result.ProcessingTimeMs)
	default:
		fmt.Printf("✗ Delivery failed: %s (correlation %s)\n", result.Error, result.CorrelationID)
	}
	return nil
}
