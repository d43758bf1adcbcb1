// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics",
	Long: `Query the trapd daemon for runtime statistics.

Shows: datagrams received, decode outcomes (clean, partial, aborted),
sink and receive errors, and the number of records held by each sink.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd.Context(), client(), cmd.OutOrStdout())
	},
}

func runStats(ctx context.Context, c ControlClient, out io.Writer) error {
	resp, err := c.Stats(ctx)
	if err := checkResponse("daemon_stats", resp, err); err != nil {
		return err
	}
	return printJSON(out, resp.Result)
}
