package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/trapd/internal/command"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently stored traps",
	Long: `List the most recent traps held by the daemon's readable sink (sqlite or memory).

--filter takes a boolean expression over the trap fields, for example:
  trapd list --filter 'version == "SNMPv1" && generic_trap == 6'
  trapd list --filter 'has_diagnostics' --limit 100
  trapd list --filter 'labels["Host Name"] == "BMC"'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd.Context(), client(), cmd.OutOrStdout(), command.TrapsListParams{
			Limit:  listLimit,
			Filter: listFilter,
		}, listJSON)
	},
}

var (
	listLimit  int
	listFilter string
	listJSON   bool
)

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum number of traps")
	listCmd.Flags().StringVarP(&listFilter, "filter", "f", "", "filter expression")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print full records as JSON")
}

func runList(ctx context.Context, c ControlClient, out io.Writer, params command.TrapsListParams, asJSON bool) error {
	resp, err := c.ListTraps(ctx, params)
	if err := checkResponse("traps_list", resp, err); err != nil {
		return err
	}

	var result command.TrapsListResult
	if err := command.Decode(resp.Result, &result); err != nil {
		return fmt.Errorf("invalid traps_list result: %w", err)
	}
	if asJSON {
		return printJSON(out, result.Traps)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tLOCATION\tVERSION\tPDU\tCOMMUNITY\tVARBINDS\tERROR")
	for i := range result.Traps {
		rec := &result.Traps[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
			rec.Location(),
			dash(rec.SNMPVersion),
			dash(string(rec.PDUKind)),
			dash(rec.Community),
			len(rec.VarBinds),
			dash(rec.Diagnostics),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d trap(s)\n", result.Count)
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
