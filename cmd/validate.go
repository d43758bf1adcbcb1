// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/trapd/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration file given by --config without starting
the daemon, then print the effective configuration (defaults and TRAPD_*
environment overrides applied) as YAML.

Examples:
  trapd validate -c /etc/trapd/config.yml
  TRAPD_LISTENER_PORT=1162 trapd validate -c config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	data, err := yaml.Marshal(map[string]*config.GlobalConfig{"trapd": cfg})
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	fmt.Fprintf(out, "# VALID: %s (%d sink(s))\n", path, len(cfg.Sinks))
	_, err = out.Write(data)
	return err
}
