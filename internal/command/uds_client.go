package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"firestige.xyz/trapd/internal/core"
)

// maxResponseBytes bounds a single response line; traps_list results can
// carry thousands of records.
const maxResponseBytes = 64 << 20

// UDSClient talks to a running daemon over its control socket. Every call
// opens its own connection.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
	seq        atomic.Uint64
}

// NewUDSClient creates a client. A zero timeout means 10s.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends one request and waits for its response. A JSON-RPC error from
// the daemon comes back in Response.Error, not as err.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	req := JSONRPCRequest{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		ID:      fmt.Sprintf("trapctl-%d-%d", os.Getpid(), c.seq.Add(1)),
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
		}
		req.Params = data
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}
	wire, err := readResponse(conn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	if wire.ID == nil && wire.Error != nil {
		// rejected before the request could be read
		return nil, fmt.Errorf("%s rejected by daemon: %s", method, wire.Error.Message)
	}
	if got := fmt.Sprintf("%v", wire.ID); got != req.ID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", req.ID, got)
	}

	return &Response{
		ID:     req.ID.(string),
		Result: wire.Result,
		Error:  wire.Error,
	}, nil
}

// dial connects to the control socket and turns the usual failures into
// operator hints.
func (c *UDSClient) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err == nil {
		return conn, nil
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: no control socket at %s (start it with 'trapd daemon' or pass --socket)",
			core.ErrDaemonNotRunning, c.socketPath)
	case errors.Is(err, syscall.ECONNREFUSED):
		return nil, fmt.Errorf("%w: stale control socket %s, no daemon is accepting on it",
			core.ErrDaemonNotRunning, c.socketPath)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("permission denied on control socket %s (owner-only; run as the daemon's user)", c.socketPath)
	default:
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", core.ErrDaemonNotRunning, c.socketPath, err)
	}
}

func readResponse(r io.Reader) (JSONRPCResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return JSONRPCResponse{}, fmt.Errorf("failed to read response: %w", err)
		}
		return JSONRPCResponse{}, errors.New("connection closed without response")
	}

	var resp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return JSONRPCResponse{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp, nil
}

// Status calls daemon_status.
func (c *UDSClient) Status(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_status", nil)
}

// Stats calls daemon_stats.
func (c *UDSClient) Stats(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_stats", nil)
}

// ConfigReload calls config_reload.
func (c *UDSClient) ConfigReload(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "config_reload", nil)
}

// Shutdown calls daemon_shutdown.
func (c *UDSClient) Shutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_shutdown", nil)
}

// ListTraps calls traps_list.
func (c *UDSClient) ListTraps(ctx context.Context, params TrapsListParams) (*Response, error) {
	return c.Call(ctx, "traps_list", params)
}

// Ping checks that the daemon is alive and answering.
func (c *UDSClient) Ping(ctx context.Context) error {
	resp, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("daemon_status failed: %s", resp.Error.Message)
	}
	return nil
}

// Decode re-marshals a response result into out, typically one of the
// *Result types of this package.
func Decode(result interface{}, out interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
