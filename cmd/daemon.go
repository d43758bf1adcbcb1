// Package cmd implements CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/trapd/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run trapd daemon in foreground",
	Long: `Run the trapd daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Open the configured sinks
  4. Listen for SNMP traps on UDP (default 0.0.0.0:162)
  5. Serve the web viewer and the UDS control socket
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)

--socket and --pidfile override the control section of the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sock := ""
		if cmd.Flags().Changed("socket") {
			sock = socketPath
		}
		return runDaemon(sock)
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default from config control.pid_file)")
}

func runDaemon(sock string) error {
	d, err := daemon.New(configFile, sock, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
