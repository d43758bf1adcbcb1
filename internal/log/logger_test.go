package log

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"firestige.xyz/trapd/internal/config"
)

func TestParseLevelValid(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if err != nil {
				t.Errorf("parseLevel(%q) returned error: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestParseLevelInvalid(t *testing.T) {
	for _, input := range []string{"invalid", "trace", "fatal", ""} {
		t.Run(input, func(t *testing.T) {
			if _, err := parseLevel(input); err == nil {
				t.Errorf("parseLevel(%q) should return error, got nil", input)
			}
		})
	}
}

func TestInitWithWriterJSON(t *testing.T) {
	defer restoreDefault(t)

	var buf bytes.Buffer
	err := InitWithWriter(config.LogConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Debug("hidden")
	slog.Info("trap received", "source", "192.0.2.1:162", "varbinds", 3)

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Error("Debug message should be filtered out")
	}
	if !strings.Contains(output, `"msg":"trap received"`) {
		t.Errorf("JSON output should contain message field, got %q", output)
	}
	if !strings.Contains(output, `"varbinds":3`) {
		t.Errorf("JSON output should contain varbinds field, got %q", output)
	}
}

func TestInitWithFileOutput(t *testing.T) {
	defer restoreDefault(t)

	logPath := filepath.Join(t.TempDir(), "logs", "trapd.log")
	cfg := config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  10,
					MaxBackups: 3,
					MaxAgeDays: 7,
				},
			},
		},
	}

	if err := InitWithWriter(cfg, io.Discard); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	slog.Info("test message", "key", "value")
	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Log file was not created at %s: %v", logPath, err)
	}
	if !strings.Contains(string(data), "key=value") {
		t.Errorf("log file should contain key=value, got %q", data)
	}
}

func TestReinitSwitchesLevel(t *testing.T) {
	defer restoreDefault(t)

	var buf bytes.Buffer
	if err := InitWithWriter(config.LogConfig{Level: "error", Format: "text"}, &buf); err != nil {
		t.Fatal(err)
	}
	slog.Warn("first")

	if err := InitWithWriter(config.LogConfig{Level: "warn", Format: "text"}, &buf); err != nil {
		t.Fatal(err)
	}
	slog.Warn("second")

	output := buf.String()
	if strings.Contains(output, "first") {
		t.Error("warn should be filtered at error level")
	}
	if !strings.Contains(output, "second") {
		t.Error("warn should pass after reload to warn level")
	}
}

func TestInitErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		wantErr string
	}{
		{"invalid level", config.LogConfig{Level: "invalid", Format: "json"}, "invalid log level"},
		{"invalid format", config.LogConfig{Level: "info", Format: "xml"}, "unsupported log format"},
		{"missing file path", config.LogConfig{
			Level:   "info",
			Format:  "json",
			Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}},
		}, "path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitWithWriter(tt.cfg, io.Discard)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewHandlerText(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, config.LogConfig{Level: "info", Format: "TEXT"})
	if err != nil {
		t.Fatal(err)
	}
	slog.New(h).Info("test message", "key", "value")

	if !strings.Contains(buf.String(), "key=value") {
		t.Errorf("Text output should contain key=value, got %q", buf.String())
	}
}

func restoreDefault(t *testing.T) {
	t.Helper()
	Close()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}
