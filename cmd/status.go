// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the trapd daemon for its overall status.

Shows: version, PID, uptime, listener state and address, configured sinks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), client(), cmd.OutOrStdout())
	},
}

func runStatus(ctx context.Context, c ControlClient, out io.Writer) error {
	resp, err := c.Status(ctx)
	if err := checkResponse("daemon_status", resp, err); err != nil {
		return err
	}
	return printJSON(out, resp.Result)
}
