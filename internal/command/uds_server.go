package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"firestige.xyz/trapd/internal/metrics"
)

const (
	// maxRequestBytes bounds one request line. Control requests are a few
	// hundred bytes; a longer line is answered with an error and the
	// connection is closed.
	maxRequestBytes = 64 << 10
	// connIdleTimeout closes connections that stop sending requests.
	connIdleTimeout = 2 * time.Minute
	// probeTimeout bounds the liveness check on an existing socket file.
	probeTimeout = 500 * time.Millisecond
)

// UDSServer serves the control plane on a Unix domain socket.
type UDSServer struct {
	socketPath string
	handler    *CommandHandler
	ln         net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewUDSServer creates a server for socketPath. Nothing is bound until
// Listen.
func NewUDSServer(socketPath string, handler *CommandHandler) *UDSServer {
	return &UDSServer{
		socketPath: socketPath,
		handler:    handler,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Listen binds the control socket with owner-only permissions. A socket
// file left behind by a crashed daemon is replaced; one that still accepts
// connections belongs to a running daemon and makes Listen fail.
func (s *UDSServer) Listen() error {
	if err := clearStaleSocket(s.socketPath); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on control socket %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("failed to set control socket permissions: %w", err)
	}
	s.ln = ln

	slog.Info("control socket listening", "socket", s.socketPath)
	return nil
}

func clearStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat control socket %s: %w", path, err)
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("control socket path %s exists and is not a socket", path)
	}

	if conn, err := net.DialTimeout("unix", path, probeTimeout); err == nil {
		conn.Close()
		return fmt.Errorf("another trapd daemon is already serving %s", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale control socket %s: %w", path, err)
	}
	slog.Warn("removed stale control socket", "socket", path)
	return nil
}

// Serve accepts connections on the bound socket until ctx is cancelled,
// then stops the server.
func (s *UDSServer) Serve(ctx context.Context) error {
	if s.ln == nil {
		return fmt.Errorf("uds server not listening")
	}

	go s.acceptLoop(ctx)

	<-ctx.Done()
	slog.Info("control socket stopping", "reason", ctx.Err())
	return s.Stop()
}

func (s *UDSServer) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("failed to accept control connection", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		go s.serveConn(ctx, conn)
	}
}

// track registers conn unless the server is stopping. The WaitGroup is
// incremented under the same lock Stop takes before waiting.
func (s *UDSServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *UDSServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *UDSServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// serveConn answers requests on one connection, in order, until the peer
// hangs up, goes idle or sends an oversized line.
func (s *UDSServer) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestBytes)
	enc := json.NewEncoder(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(connIdleTimeout))
		if !scanner.Scan() {
			break
		}
		if err := enc.Encode(s.dispatch(ctx, scanner.Bytes())); err != nil {
			slog.Warn("failed to write control response", "error", err)
			return
		}
	}

	err := scanner.Err()
	switch {
	case errors.Is(err, bufio.ErrTooLong):
		countRequest("invalid", false)
		slog.Warn("control request too large", "limit", maxRequestBytes)
		enc.Encode(wireError(nil, ErrCodeInvalidRequest, fmt.Sprintf("request exceeds %d bytes", maxRequestBytes)))
	case err != nil && !s.isClosed():
		slog.Debug("control connection ended", "error", err)
	}
}

// dispatch decodes one request line and runs it through the handler.
func (s *UDSServer) dispatch(ctx context.Context, line []byte) JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		countRequest("invalid", false)
		slog.Warn("failed to parse control request", "error", err)
		return wireError(nil, ErrCodeParseError, fmt.Sprintf("parse error: %v", err))
	}
	if info := req.validate(); info != nil {
		countRequest("invalid", false)
		return wireError(req.ID, info.Code, info.Message)
	}

	resp := s.handler.Handle(ctx, req.command())

	method := req.Method
	if resp.Error != nil && resp.Error.Code == ErrCodeMethodNotFound {
		method = "unknown"
	}
	countRequest(method, resp.Error == nil)
	return wireResponse(req.ID, resp)
}

// countRequest records one control request. Unknown methods share a label
// so clients cannot grow the series set.
func countRequest(method string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	metrics.ControlRequestsTotal.WithLabelValues(method, result).Inc()
}

// Stop closes the socket and every open connection, then waits for
// in-flight requests. Safe to call more than once.
func (s *UDSServer) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove control socket", "socket", s.socketPath, "error", err)
	}
	slog.Info("control socket stopped")
	return nil
}
