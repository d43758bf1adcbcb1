package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Ask the daemon to re-read its configuration file.

Log level and format apply immediately; listener, sink, web and metrics
changes are logged as requiring a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(cmd.Context(), client(), cmd.OutOrStdout())
	},
}

// runReload holds the command logic so tests can drive it with a mock.
func runReload(ctx context.Context, c ControlClient, out io.Writer) error {
	resp, err := c.ConfigReload(ctx)
	if err := checkResponse("config_reload", resp, err); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reloaded successfully")
	return nil
}
