// Package console implements a sink that prints trap records.
// Outputs records to stdout in human-readable or JSON format for debugging.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"firestige.xyz/trapd/internal/core"
)

// Name is the sink type name.
const Name = "console"

// Config represents console sink configuration.
type Config struct {
	Format string `mapstructure:"format"` // "json" or "text", default "text"
}

// Sink writes records to an io.Writer.
type Sink struct {
	format      string
	out         io.Writer
	storedCount atomic.Uint64
}

// New creates a console sink writing to stdout.
func New(cfg Config) (*Sink, error) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter creates a console sink writing to w.
func NewWithWriter(cfg Config, w io.Writer) (*Sink, error) {
	format := cfg.Format
	if format == "" {
		format = "text"
	}
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("invalid format %q, must be json or text", format)
	}
	return &Sink{format: format, out: w}, nil
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return Name
}

// Store prints one record.
func (s *Sink) Store(_ context.Context, rec core.TrapRecord) error {
	s.storedCount.Add(1)
	if s.format == "json" {
		return s.storeJSON(rec)
	}
	return s.storeText(rec)
}

func (s *Sink) storeJSON(rec core.TrapRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}
	_, err = fmt.Fprintln(s.out, string(data))
	return err
}

// storeText prints a single line, e.g.
// [15:04:05.000] 10.0.0.1:1162 SNMPv2c TrapV2 community=public varbinds=2 ...
func (s *Sink) storeText(rec core.TrapRecord) error {
	line := fmt.Sprintf("[%s] %s %s %s community=%s varbinds=%d",
		rec.Timestamp.Format("15:04:05.000"),
		rec.Location(),
		orDash(rec.SNMPVersion),
		orDash(string(rec.PDUKind)),
		rec.Community,
		len(rec.VarBinds),
	)
	if req := rec.RequestInfo.String(); req != "" {
		line += " {" + req + "}"
	}
	if len(rec.VarBinds) > 0 {
		line += " " + rec.VarBindSummary()
	}
	if rec.HasDiagnostics() {
		line += " diagnostics=" + rec.Diagnostics
	}
	_, err := fmt.Fprintln(s.out, line)
	return err
}

// Close logs the number of records printed.
func (s *Sink) Close() error {
	slog.Info("console sink closed", "total_stored", s.storedCount.Load())
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
