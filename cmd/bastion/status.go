package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bastionhq/bastion/pkg/client"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show processing counters and breaker state",
	RunE:  runStatus,
}

var deadlettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "List events parked in the dead-letter store",
	RunE:  runDeadLetters,
}

var replayCmd = &cobra.Command{
	Use:   "replay <event-id>",
	Short: "Re-run one dead-lettered event through its handler",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, deadlettersCmd, replayCmd} {
		c.Flags().String("server", "http://127.0.0.1:8080", "Server base URL")
		rootCmd.AddCommand(c)
	}
}

func opsClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	return client.NewClient(server, "")
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := opsClient(cmd)

	stats, err := c.GetStats(cmd.Context())
	if err != nil {
		return err
	}

	p := stats.Processing
	fmt.Printf("Processing:\n")
	fmt.Printf("  attempts:      %d\n", p.TotalProcessed)
	fmt.Printf("  successful:    %d\n", p.Successful)
	fmt.Printf("  failed:        %d\n", p.Failed)
	fmt.Printf("  retries:       %d\n", p.Retries)
	fmt.Printf("  deduplicated:  %d\n", p.Deduplicated)
	fmt.Printf("  rejected:      %d\n", p.Rejected)
	fmt.Printf("  dead-lettered: %d (depth %d)\n", p.DeadLettered, p.DeadLetterDepth)

	b := stats.Breaker
	fmt.Printf("Breaker:\n")
	fmt.Printf("  state:                %s\n", b.Status)
	fmt.Printf("  consecutive failures: %d\n", b.ConsecutiveFailures)
	if !b.LastFailureAt.IsZero() {
		fmt.Printf("  last failure:         %s\n", b.LastFailureAt.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}

func runDeadLetters(cmd *cobra.Command, args []string) error {
	c := opsClient(cmd)

	entries, err := c.DeadLetters(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Dead-letter store is empty")
		return nil
	}

	fmt.Printf("%-24s %-24s %-8s %s\n", "EVENT ID", "TYPE", "ATTEMPTS", "FAILED AT")
	for _, e := range entries {
		fmt.Printf("%-24s %-24s %-8d %s\n",
			e.Event.EventID, e.Event.Type, len(e.Attempts),
			e.FailedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	c := opsClient(cmd)

	result, err := c.Replay(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if result.Success {
		fmt.Printf("✓ Replay succeeded (correlation %s)\n", result.CorrelationID)
	} else {
		fmt.Printf("✗ Replay failed: %s\n", result.Error)
	}
	return nil
}
