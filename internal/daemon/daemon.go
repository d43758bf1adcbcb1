// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/trapd/internal/command"
	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/core/decoder"
	"firestige.xyz/trapd/internal/listener"
	logpkg "firestige.xyz/trapd/internal/log"
	"firestige.xyz/trapd/internal/metrics"
	"firestige.xyz/trapd/internal/sink"
	"firestige.xyz/trapd/internal/sink/registry"
	"firestige.xyz/trapd/internal/web"
)

// Daemon manages the trapd process lifecycle.
type Daemon struct {
	// Configuration
	mu         sync.Mutex // guards config
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	sinks         *sink.Fanout
	reader        sink.Reader // nil when no sink reads back
	listener      *listener.TrapListener
	webServer     *web.Server     // nil if web disabled
	metricsServer *metrics.Server // nil if metrics disabled
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	sigChan      chan os.Signal
}

// New loads the configuration and creates an unstarted daemon. Empty
// socketPath or pidFile fall back to the control section of the config.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components. On failure the
// components started so far are stopped again.
func (d *Daemon) Start() error {
	if err := d.start(); err != nil {
		d.Stop()
		return err
	}
	return nil
}

func (d *Daemon) start() error {
	cfg := d.config

	// 1. Initialize logging system
	if err := logpkg.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting trapd daemon",
		"version", command.Version,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Build sinks
	fanout, err := registry.Build(cfg.Sinks)
	if err != nil {
		return fmt.Errorf("failed to build sinks: %w", err)
	}
	d.sinks = fanout
	d.reader = fanout.Reader()
	slog.Info("sinks ready", "sinks", fanout.Names(), "readable", d.reader != nil)

	// 5. Start trap listener
	labels := core.NewLabelTable(cfg.Decoder.LabelMap())
	d.listener = listener.New(listener.Config{
		Address:          cfg.Listener.Address,
		Port:             cfg.Listener.Port,
		ReadBufferBytes:  cfg.Listener.ReadBufferBytes,
		MaxDatagramBytes: cfg.Listener.MaxDatagramBytes,
	}, decoder.NewTrapDecoder(labels), fanout)
	if err := d.listener.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	// 6. Start web viewer
	if err := d.startWeb(); err != nil {
		return fmt.Errorf("failed to start web viewer: %w", err)
	}

	// 7. Create command handler; daemon_shutdown triggers graceful stop
	d.cmdHandler = command.NewCommandHandler(d, d)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	// 8. Start UDS server for CLI control
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	if err := d.udsServer.Listen(); err != nil {
		return fmt.Errorf("failed to start uds server: %w", err)
	}
	go func() {
		if err := d.udsServer.Serve(d.ctx); err != nil {
			slog.Error("uds server failed", "error", err)
		}
	}()

	slog.Info("daemon started successfully", "listener", d.ListenerAddr())
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once and after a failed Start.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop UDS server (no new CLI commands)
	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	// 2. Stop receiving traps
	if d.listener != nil {
		if err := d.listener.Stop(); err != nil {
			slog.Error("error stopping listener", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 3. Stop web viewer
	if d.webServer != nil {
		if err := d.webServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping web viewer", "error", err)
		}
	}

	// 4. Flush and close sinks
	if d.sinks != nil {
		if err := d.sinks.Close(); err != nil {
			slog.Error("error closing sinks", "error", err)
		}
	}

	// 5. Stop metrics server
	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 6. Cancel context to signal all goroutines
	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 7. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")

	// 8. Release the log file
	if err := logpkg.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}

// Run runs the daemon main loop, blocking until shutdown is triggered by
// SIGTERM/SIGINT, the daemon_shutdown command or cancellation. SIGHUP
// reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file. Only logging is applied live;
// changes to the listener, sinks, web viewer or metrics endpoint are
// reported as requiring a restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	d.mu.Lock()
	old := d.config
	d.config = newConfig
	d.mu.Unlock()

	hotReloaded := []string{}
	if err := logpkg.Init(newConfig.Log); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
	} else if newConfig.Log != old.Log {
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := restartRequired(old, newConfig)

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// restartRequired lists the sections that changed but only take effect
// on the next start.
func restartRequired(old, next *config.GlobalConfig) []string {
	var sections []string
	if next.Listener != old.Listener {
		sections = append(sections, "listener")
	}
	if !sinksEqual(next.Sinks, old.Sinks) {
		sections = append(sections, "sinks")
	}
	if next.Web != old.Web {
		sections = append(sections, "web")
	}
	if next.Metrics != old.Metrics {
		sections = append(sections, "metrics")
	}
	if !maps.Equal(next.Decoder.LabelMap(), old.Decoder.LabelMap()) {
		sections = append(sections, "decoder.labels")
	}
	return sections
}

func sinksEqual(a, b []config.SinkConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || fmt.Sprint(a[i].Options) != fmt.Sprint(b[i].Options) {
			return false
		}
	}
	return true
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.GlobalConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// TriggerShutdown asks Run to stop the daemon. Repeated calls are no-ops.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownChan)
	})
}

// ─── command.Daemon ───

// ListenerState reports whether traps are being received.
func (d *Daemon) ListenerState() listener.State {
	if d.listener == nil {
		return listener.StateIdle
	}
	return d.listener.State()
}

// ListenerAddr returns the bound UDP address, or "" when idle.
func (d *Daemon) ListenerAddr() string {
	if d.listener == nil {
		return ""
	}
	if addr := d.listener.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// ListenerStats returns the listener counters.
func (d *Daemon) ListenerStats() listener.Stats {
	if d.listener == nil {
		return listener.Stats{}
	}
	return d.listener.Stats()
}

// SinkNames lists the configured sinks.
func (d *Daemon) SinkNames() []string {
	if d.sinks == nil {
		return nil
	}
	return d.sinks.Names()
}

// SinkCounts returns stored record counts per sink.
func (d *Daemon) SinkCounts(ctx context.Context) map[string]int64 {
	if d.sinks == nil {
		return map[string]int64{}
	}
	return d.sinks.Counts(ctx)
}

// Recent reads back stored records, newest first.
func (d *Daemon) Recent(ctx context.Context, limit int) ([]core.TrapRecord, error) {
	if d.reader == nil {
		return nil, core.ErrSinkNotReadable
	}
	return d.reader.Recent(ctx, limit)
}

// ─── helpers ───

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}

// startWeb starts the trap viewer if enabled.
func (d *Daemon) startWeb() error {
	wc := d.config.Web
	if !wc.Enabled {
		slog.Info("web viewer disabled")
		return nil
	}
	if d.reader == nil {
		slog.Warn("web viewer has no readable sink; pages will report an error")
	}

	d.webServer = web.New(web.Config{
		Listen:   wc.Listen,
		CertFile: wc.CertFile,
		KeyFile:  wc.KeyFile,
		PageSize: wc.PageSize,
		CacheTTL: wc.CacheTTL,
	}, d.reader)
	return d.webServer.Start(d.ctx)
}

// WebAddr returns the bound web viewer address, or "" when disabled.
func (d *Daemon) WebAddr() string {
	if d.webServer == nil || d.webServer.Addr() == nil {
		return ""
	}
	return d.webServer.Addr().String()
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
