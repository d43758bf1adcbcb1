// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the trapd daemon",
	Long: `Stop the trapd daemon gracefully.

This command sends daemon_shutdown to the running daemon via Unix Domain Socket.
The daemon closes the UDP socket, flushes and closes its sinks, and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), client(), cmd.OutOrStdout())
	},
}

func runStop(ctx context.Context, c ControlClient, out io.Writer) error {
	resp, err := c.Shutdown(ctx)
	if err := checkResponse("daemon_shutdown", resp, err); err != nil {
		return err
	}
	fmt.Fprintln(out, "✓ Daemon is shutting down")
	return nil
}
