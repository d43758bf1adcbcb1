package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/core/decoder"
	"firestige.xyz/trapd/internal/sink/console"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>...",
	Short: "Decode a trap datagram given as hex",
	Long: `Decode one datagram and print the resulting record, diagnostics included.
Hex bytes may be separated by spaces or colons and split over several arguments.

Examples:
  trapd decode 30 29 02 01 01 04 06 70 75 62 6c 69 63 a7 1c ...
  trapd decode --format json 30:29:02:01:01:04:06:70:75:62:6c:69:63

OID labels from the decoder section of --config are applied when --config is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		labels := core.NewLabelTable(nil)
		if cmd.Flags().Changed("config") {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			labels = core.NewLabelTable(cfg.Decoder.LabelMap())
		}
		return runDecode(cmd.OutOrStdout(), strings.Join(args, " "), decodeSource, decodeFormat, labels)
	},
}

var (
	decodeSource string
	decodeFormat string
)

func init() {
	decodeCmd.Flags().StringVar(&decodeSource, "source", "127.0.0.1:162", "sender address recorded as the source")
	decodeCmd.Flags().StringVar(&decodeFormat, "format", "text", "output format: text or json")
}

func runDecode(out io.Writer, hexInput, source, format string, labels core.LabelTable) error {
	payload, err := parseHexInput(hexInput)
	if err != nil {
		return err
	}
	src, err := netip.ParseAddrPort(source)
	if err != nil {
		return fmt.Errorf("invalid --source: %w", err)
	}

	printer, err := console.NewWithWriter(console.Config{Format: format}, out)
	if err != nil {
		return err
	}

	rec := decoder.NewTrapDecoder(labels).Decode(core.RawDatagram{
		Payload:   payload,
		Timestamp: time.Now(),
		SrcAddr:   src.Addr(),
		SrcPort:   src.Port(),
	})
	return printer.Store(context.Background(), rec)
}

// parseHexInput accepts "30 2c", "30:2c", "302c" and mixes of them.
func parseHexInput(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if clean == "" {
		return nil, fmt.Errorf("no hex bytes given")
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return b, nil
}
