// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/listener"
	"firestige.xyz/trapd/internal/query"
)

// Version is reported by daemon_status.
const Version = "0.1.0"

// Daemon is the view of the running daemon that commands report on.
type Daemon interface {
	ListenerState() listener.State
	ListenerAddr() string
	ListenerStats() listener.Stats
	SinkNames() []string
	SinkCounts(ctx context.Context) map[string]int64
	// Recent returns stored records newest first, or an error when no
	// configured sink can read records back.
	Recent(ctx context.Context, limit int) ([]core.TrapRecord, error)
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	daemon         Daemon
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      time.Time
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(d Daemon, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		daemon:         d,
		configReloader: reloader,
		startTime:      time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "daemon_status", "traps_list"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "daemon_status":
		return h.handleDaemonStatus(ctx, cmd)
	case "daemon_stats":
		return h.handleDaemonStats(ctx, cmd)
	case "config_reload":
		return h.handleConfigReload(ctx, cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(ctx, cmd)
	case "traps_list":
		return h.handleTrapsList(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errorResponse(id string, code int, msg string) Response {
	return Response{
		ID:    id,
		Error: &ErrorInfo{Code: code, Message: msg},
	}
}

// StatusResult is the daemon_status result.
type StatusResult struct {
	Version       string   `json:"version"`
	PID           int      `json:"pid"`
	UptimeSeconds int64    `json:"uptime_sec"`
	ListenerState string   `json:"listener_state"`
	ListenerAddr  string   `json:"listener_addr,omitempty"`
	Sinks         []string `json:"sinks"`
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	return Response{
		ID: cmd.ID,
		Result: StatusResult{
			Version:       Version,
			PID:           os.Getpid(),
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
			ListenerState: h.daemon.ListenerState().String(),
			ListenerAddr:  h.daemon.ListenerAddr(),
			Sinks:         h.daemon.SinkNames(),
		},
	}
}

// StatsResult is the daemon_stats result.
type StatsResult struct {
	Listener   listener.Stats   `json:"listener"`
	SinkCounts map[string]int64 `json:"sink_counts"`
}

// handleDaemonStats returns listener counters and stored record counts.
func (h *CommandHandler) handleDaemonStats(ctx context.Context, cmd Command) Response {
	return Response{
		ID: cmd.ID,
		Result: StatsResult{
			Listener:   h.daemon.ListenerStats(),
			SinkCounts: h.daemon.SinkCounts(ctx),
		},
	}
}

// handleConfigReload re-reads the configuration file.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}

	if err := h.configReloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload config failed: %v", err))
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "reloaded",
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}

// TrapsListParams represents parameters for traps_list.
type TrapsListParams struct {
	Limit  int    `json:"limit,omitempty"`  // default 20
	Filter string `json:"filter,omitempty"` // expr filter, see package query
}

// TrapsListResult is the traps_list result.
type TrapsListResult struct {
	Count int               `json:"count"`
	Traps []core.TrapRecord `json:"traps"`
}

const (
	defaultListLimit = 20
	listScanWindow   = 5000
)

// handleTrapsList returns the most recent stored records matching a filter.
func (h *CommandHandler) handleTrapsList(ctx context.Context, cmd Command) Response {
	var params TrapsListParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}
	if params.Limit <= 0 {
		params.Limit = defaultListLimit
	}

	filter, err := query.Compile(params.Filter)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}

	window := params.Limit
	if filter.String() != "" {
		window = listScanWindow
	}

	recs, err := h.daemon.Recent(ctx, window)
	if err != nil {
		code := ErrCodeInternalError
		if errors.Is(err, core.ErrSinkNotReadable) {
			code = ErrCodeInvalidRequest
		}
		return errorResponse(cmd.ID, code, fmt.Sprintf("read traps failed: %v", err))
	}

	matched := filter.Apply(recs, params.Limit)
	return Response{
		ID:     cmd.ID,
		Result: TrapsListResult{Count: len(matched), Traps: matched},
	}
}
