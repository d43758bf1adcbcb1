// Package file implements a sink that appends one text line per trap to a
// rotating log file.
package file

import (
	"context"
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/trapd/internal/core"
)

// Name is the sink type name.
const Name = "file"

const timeLayout = "2006-01-02 15:04:05"

// Config represents file sink configuration.
type Config struct {
	Path       string `mapstructure:"path"`         // required
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // default 100
	MaxAgeDays int    `mapstructure:"max_age_days"` // 0 keeps files forever
	MaxBackups int    `mapstructure:"max_backups"`  // 0 keeps all backups
	Compress   bool   `mapstructure:"compress"`
	Decoded    bool   `mapstructure:"decoded"` // append decoded fields after the hex dump
}

// Sink appends lines of the form
//
//	2006-01-02 15:04:05 - From: 10.0.0.1:162 | Full Hex: 30 2A ... (Length: 44 bytes)
type Sink struct {
	mu      sync.Mutex
	w       io.WriteCloser
	decoded bool
}

// New creates a file sink backed by a lumberjack rotating writer.
func New(cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file sink requires 'path' field")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	return &Sink{
		w: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
		decoded: cfg.Decoded,
	}, nil
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return Name
}

// Store appends one line for rec.
func (s *Sink) Store(_ context.Context, rec core.TrapRecord) error {
	line := FormatLine(rec, s.decoded)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, line); err != nil {
		return fmt.Errorf("write trap line: %w", err)
	}
	return nil
}

// FormatLine renders rec as one newline-terminated log line.
func FormatLine(rec core.TrapRecord, decoded bool) string {
	line := fmt.Sprintf("%s - From: %s | Full Hex: %s (Length: %d bytes)",
		rec.Timestamp.Format(timeLayout),
		rec.Location(),
		rec.FullHex,
		rec.ByteLength(),
	)
	if decoded {
		line += fmt.Sprintf(" | %s %s community=%q", rec.SNMPVersion, rec.PDUKind, rec.Community)
		if len(rec.VarBinds) > 0 {
			line += " | " + rec.VarBindSummary()
		}
		if rec.HasDiagnostics() {
			line += " | Error: " + rec.Diagnostics
		}
	}
	return line + "\n"
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
