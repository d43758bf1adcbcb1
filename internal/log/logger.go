// Package log implements structured logging using slog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/trapd/internal/config"
)

var (
	mu      sync.Mutex
	logFile *lumberjack.Logger // open file output, closed on re-init
)

// Init initializes the global logger based on configuration.
// It may be called again (config reload); the previous file output is closed.
func Init(cfg config.LogConfig) error {
	return InitWithWriter(cfg, os.Stdout)
}

// InitWithWriter is Init with console output going to w instead of stdout.
func InitWithWriter(cfg config.LogConfig, console io.Writer) error {
	// Collect all output writers; the console is always included.
	writers := []io.Writer{console}

	var file *lumberjack.Logger
	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		file = w
		writers = append(writers, w)
	}

	handler, err := NewHandler(io.MultiWriter(writers...), cfg)
	if err != nil {
		if file != nil {
			file.Close()
		}
		return err
	}

	slog.SetDefault(slog.New(handler))

	mu.Lock()
	prev := logFile
	logFile = file
	mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	return nil
}

// NewHandler builds a slog handler writing to w in the configured format.
func NewHandler(w io.Writer, cfg config.LogConfig) (slog.Handler, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}
}

// Close flushes and closes the file output, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
