package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/core/decoder"
	"firestige.xyz/trapd/internal/replay"
	"firestige.xyz/trapd/internal/sink"
	"firestige.xyz/trapd/internal/sink/console"
	"firestige.xyz/trapd/internal/sink/registry"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.pcap|file.pcapng>",
	Short: "Decode traps from a packet capture",
	Long: `Read a pcap or pcapng capture, decode every UDP datagram sent to --port and
store the records. Each record is timestamped with its capture time.

Records are printed to stdout unless --store is given, in which case they go
to the sinks configured in --config (for example to back-fill the SQLite store).

Examples:
  trapd replay traps.pcap
  trapd replay --port 1162 --format json traps.pcapng
  trapd replay --store -c /etc/trapd/config.yml traps.pcap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

var (
	replayPort   uint16
	replayLimit  int
	replayStore  bool
	replayFormat string
)

func init() {
	replayCmd.Flags().Uint16Var(&replayPort, "port", replay.DefaultPort, "UDP destination port to match, 0 for any")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 0, "stop after this many datagrams, 0 for all")
	replayCmd.Flags().BoolVar(&replayStore, "store", false, "store into the sinks from --config instead of printing")
	replayCmd.Flags().StringVar(&replayFormat, "format", "text", "print format when not storing: text or json")
}

func runReplay(ctx context.Context, out io.Writer, path string) error {
	labels := core.NewLabelTable(nil)
	var target sink.Sink

	if replayStore {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		labels = core.NewLabelTable(cfg.Decoder.LabelMap())
		fanout, err := registry.Build(cfg.Sinks)
		if err != nil {
			return err
		}
		target = fanout
	} else {
		printer, err := console.NewWithWriter(console.Config{Format: replayFormat}, out)
		if err != nil {
			return err
		}
		target = printer
	}
	defer func() {
		if err := target.Close(); err != nil {
			slog.Error("failed to close sink", "sink", target.Name(), "error", err)
		}
	}()

	r := replay.New(decoder.NewTrapDecoder(labels), target, replay.Options{
		Port:  replayPort,
		Limit: replayLimit,
	})
	stats, err := r.ReplayFile(ctx, path)
	if err != nil {
		return fmt.Errorf("replay %s: %w", path, err)
	}

	fmt.Fprintf(out, "replayed %d datagram(s) from %d packet(s): %d clean, %d partial, %d aborted, %d skipped, %d sink error(s)\n",
		stats.Datagrams, stats.Packets, stats.Clean, stats.Partial, stats.Aborted, stats.Skipped, stats.SinkErrors)
	return nil
}
