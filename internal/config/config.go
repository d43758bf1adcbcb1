// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/trapd/internal/core"
)

// GlobalConfig represents the daemon configuration.
// Maps to the `trapd:` root key in YAML.
type GlobalConfig struct {
	Listener ListenerConfig `mapstructure:"listener" yaml:"listener"`
	Decoder  DecoderConfig  `mapstructure:"decoder" yaml:"decoder"`
	Sinks    []SinkConfig   `mapstructure:"sinks" yaml:"sinks"`
	Web      WebConfig      `mapstructure:"web" yaml:"web"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Control  ControlConfig  `mapstructure:"control" yaml:"control"`
}

// ─── Listener ───

// ListenerConfig configures the UDP trap endpoint.
type ListenerConfig struct {
	Address          string `mapstructure:"address" yaml:"address"`
	Port             int    `mapstructure:"port" yaml:"port"`
	ReadBufferBytes  int    `mapstructure:"read_buffer_bytes" yaml:"read_buffer_bytes"`   // 0 = OS default
	MaxDatagramBytes int    `mapstructure:"max_datagram_bytes" yaml:"max_datagram_bytes"` // 0 = 65535
}

// ─── Decoder ───

// DecoderConfig configures trap decoding.
type DecoderConfig struct {
	// Labels adds or overrides display names for varbind OIDs.
	Labels []LabelConfig `mapstructure:"labels" yaml:"labels"`
}

// LabelConfig maps one OID to a display name.
// OIDs are listed rather than used as map keys since viper splits keys on dots.
type LabelConfig struct {
	OID  string `mapstructure:"oid" yaml:"oid"`
	Name string `mapstructure:"name" yaml:"name"`
}

// LabelMap returns the labels as an OID → name map.
func (c DecoderConfig) LabelMap() map[string]string {
	m := make(map[string]string, len(c.Labels))
	for _, l := range c.Labels {
		m[l.OID] = l.Name
	}
	return m
}

// ─── Sinks ───

// SinkConfig selects one storage backend. Options are decoded by the
// backend into its own typed config.
type SinkConfig struct {
	Type    string         `mapstructure:"type" yaml:"type"` // sqlite | file | kafka | console | memory
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ─── Web ───

// WebConfig configures the trap viewer.
type WebConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Listen   string        `mapstructure:"listen" yaml:"listen"`
	CertFile string        `mapstructure:"cert_file" yaml:"cert_file,omitempty"`
	KeyFile  string        `mapstructure:"key_file" yaml:"key_file,omitempty"`
	PageSize int           `mapstructure:"page_size" yaml:"page_size"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// TLSEnabled reports whether both certificate and key are configured.
func (w WebConfig) TLSEnabled() bool {
	return w.CertFile != "" && w.KeyFile != ""
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket" yaml:"socket"`
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `trapd: ...`.
type configRoot struct {
	Trapd GlobalConfig `mapstructure:"trapd"`
}

// Load loads configuration from file.
// The YAML file uses `trapd:` as root key; env vars use the TRAPD_ prefix
// (e.g., TRAPD_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The `trapd.` key prefix maps to `TRAPD_` through the replacer,
	// e.g. "trapd.listener.port" → "TRAPD_LISTENER_PORT".
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Trapd

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "trapd." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Listener defaults
	v.SetDefault("trapd.listener.address", "0.0.0.0")
	v.SetDefault("trapd.listener.port", 162)
	v.SetDefault("trapd.listener.read_buffer_bytes", 0)
	v.SetDefault("trapd.listener.max_datagram_bytes", 65535)

	// Control defaults
	v.SetDefault("trapd.control.pid_file", "/var/run/trapd.pid")
	v.SetDefault("trapd.control.socket", "/var/run/trapd.sock")

	// Log defaults
	v.SetDefault("trapd.log.level", "info")
	v.SetDefault("trapd.log.format", "json")
	v.SetDefault("trapd.log.outputs.file.enabled", false)
	v.SetDefault("trapd.log.outputs.file.path", "/var/log/trapd/trapd.log")
	v.SetDefault("trapd.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("trapd.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("trapd.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("trapd.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("trapd.metrics.enabled", true)
	v.SetDefault("trapd.metrics.listen", ":9163")
	v.SetDefault("trapd.metrics.path", "/metrics")

	// Web defaults
	v.SetDefault("trapd.web.enabled", true)
	v.SetDefault("trapd.web.listen", ":8162")
	v.SetDefault("trapd.web.page_size", 50)
	v.SetDefault("trapd.web.cache_ttl", "2s")
}

var validSinkTypes = map[string]bool{
	"sqlite":  true,
	"file":    true,
	"kafka":   true,
	"console": true,
	"memory":  true,
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
// Errors wrap core.ErrConfigInvalid.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	// ── Listener ──
	if cfg.Listener.Port < 0 || cfg.Listener.Port > 65535 {
		return fmt.Errorf("%w: listener.port %d out of range", core.ErrConfigInvalid, cfg.Listener.Port)
	}
	if cfg.Listener.Address != "" && net.ParseIP(cfg.Listener.Address) == nil {
		return fmt.Errorf("%w: listener.address %q is not an IP address", core.ErrConfigInvalid, cfg.Listener.Address)
	}
	if cfg.Listener.MaxDatagramBytes <= 0 || cfg.Listener.MaxDatagramBytes > 65535 {
		cfg.Listener.MaxDatagramBytes = 65535
	}

	// ── Decoder labels ──
	for i, l := range cfg.Decoder.Labels {
		if l.OID == "" || l.Name == "" {
			return fmt.Errorf("%w: decoder.labels[%d] needs both oid and name", core.ErrConfigInvalid, i)
		}
	}

	// ── Sinks ──
	// A daemon with no sink configured keeps records in memory so the web
	// viewer still has something to show.
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []SinkConfig{{Type: "memory"}}
	}
	for i := range cfg.Sinks {
		s := &cfg.Sinks[i]
		s.Type = strings.ToLower(s.Type)
		if !validSinkTypes[s.Type] {
			return fmt.Errorf("%w: sinks[%d]: unknown type %q", core.ErrConfigInvalid, i, s.Type)
		}
	}

	// ── Web ──
	if cfg.Web.Enabled {
		if cfg.Web.Listen == "" {
			return fmt.Errorf("%w: web.listen is required when web.enabled=true", core.ErrConfigInvalid)
		}
		if (cfg.Web.CertFile == "") != (cfg.Web.KeyFile == "") {
			return fmt.Errorf("%w: web.cert_file and web.key_file must be set together", core.ErrConfigInvalid)
		}
	}
	if cfg.Web.PageSize <= 0 {
		cfg.Web.PageSize = 50
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return nil
}
