// Package listener receives SNMP trap datagrams over UDP.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/core/decoder"
	"firestige.xyz/trapd/internal/metrics"
)

const (
	// DefaultPort is the standard SNMP trap port.
	DefaultPort = 162
	// maxUDPPayload is the largest payload a UDP datagram can carry.
	maxUDPPayload = 65535
	// receiveErrorBackoff throttles the loop when reads keep failing.
	receiveErrorBackoff = 10 * time.Millisecond
)

// State is the listener lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateListening
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	default:
		return "unknown"
	}
}

// Sink receives every decoded record, in receipt order, one at a time.
type Sink interface {
	Store(ctx context.Context, rec core.TrapRecord) error
}

// Config configures the UDP endpoint.
type Config struct {
	Address          string // Bind address, empty or "0.0.0.0" for all interfaces
	Port             int    // UDP port, 0 picks an ephemeral port
	ReadBufferBytes  int    // Kernel receive buffer size, 0 keeps the OS default
	MaxDatagramBytes int    // Largest payload kept, 0 means 65535; longer datagrams are truncated with a diagnostic
}

// Stats is a snapshot of listener counters.
type Stats struct {
	Received      uint64 `json:"received"`
	Clean         uint64 `json:"clean"`
	Partial       uint64 `json:"partial"`
	Aborted       uint64 `json:"aborted"`
	SinkErrors    uint64 `json:"sink_errors"`
	ReceiveErrors uint64 `json:"receive_errors"`
	Panics        uint64 `json:"panics"`
}

// TrapListener owns one UDP socket and a single receive goroutine.
// Each datagram is decoded and stored before the next read is issued, so
// exactly one read is outstanding while listening; the kernel socket
// buffer absorbs bursts.
type TrapListener struct {
	cfg     Config
	decoder decoder.Decoder
	sink    Sink

	mu    sync.Mutex // serialises Start/Stop
	state atomic.Int32
	conn  *net.UDPConn
	done  chan struct{}

	received      atomic.Uint64
	clean         atomic.Uint64
	partial       atomic.Uint64
	aborted       atomic.Uint64
	sinkErrors    atomic.Uint64
	receiveErrors atomic.Uint64
	panics        atomic.Uint64
}

// New creates an idle listener.
func New(cfg Config, dec decoder.Decoder, sink Sink) *TrapListener {
	if cfg.MaxDatagramBytes <= 0 || cfg.MaxDatagramBytes > maxUDPPayload {
		cfg.MaxDatagramBytes = maxUDPPayload
	}
	return &TrapListener{
		cfg:     cfg,
		decoder: dec,
		sink:    sink,
	}
}

// Start binds the socket and starts receiving. Calling Start while already
// listening is a no-op. ctx is passed to the sink for every record.
func (l *TrapListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() == StateListening {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(l.cfg.Address, strconv.Itoa(l.cfg.Port)))
	if err != nil {
		return fmt.Errorf("failed to resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind udp %s: %w", addr, err)
	}
	if l.cfg.ReadBufferBytes > 0 {
		if err := conn.SetReadBuffer(l.cfg.ReadBufferBytes); err != nil {
			slog.Warn("failed to set socket read buffer", "bytes", l.cfg.ReadBufferBytes, "error", err)
		}
	}

	l.conn = conn
	l.done = make(chan struct{})
	l.state.Store(int32(StateListening))
	metrics.ListenerUp.Set(1)

	go l.receiveLoop(ctx, conn, l.done)

	slog.Info("trap listener started", "addr", conn.LocalAddr().String())
	return nil
}

// Stop closes the socket and waits for the receive loop to exit.
// The read interrupted by the close is treated as normal shutdown.
// Calling Stop while idle is a no-op.
func (l *TrapListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() != StateListening {
		return nil
	}
	l.state.Store(int32(StateIdle))

	err := l.conn.Close()
	<-l.done
	l.conn = nil
	metrics.ListenerUp.Set(0)

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close udp socket: %w", err)
	}
	slog.Info("trap listener stopped")
	return nil
}

// State returns the current lifecycle state.
func (l *TrapListener) State() State {
	return State(l.state.Load())
}

// Addr returns the bound address, or nil when idle.
func (l *TrapListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil || l.State() != StateListening {
		return nil
	}
	return l.conn.LocalAddr()
}

// Stats returns a snapshot of the counters.
func (l *TrapListener) Stats() Stats {
	return Stats{
		Received:      l.received.Load(),
		Clean:         l.clean.Load(),
		Partial:       l.partial.Load(),
		Aborted:       l.aborted.Load(),
		SinkErrors:    l.sinkErrors.Load(),
		ReceiveErrors: l.receiveErrors.Load(),
		Panics:        l.panics.Load(),
	}
}

func (l *TrapListener) receiveLoop(ctx context.Context, conn *net.UDPConn, done chan struct{}) {
	defer close(done)

	// One spare byte tells a datagram that was cut at the limit from one
	// that fits exactly.
	limit := l.cfg.MaxDatagramBytes
	bufSize := limit
	if limit < maxUDPPayload {
		bufSize++
	}
	buf := make([]byte, bufSize)
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if l.State() != StateListening {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				if l.state.CompareAndSwap(int32(StateListening), int32(StateIdle)) {
					metrics.ListenerUp.Set(0)
				}
				slog.Error("trap socket closed while listening", "error", err)
				return
			}
			l.receiveErrors.Add(1)
			metrics.ReceiveErrorsTotal.Inc()
			slog.Warn("udp receive failed", "error", err)
			time.Sleep(receiveErrorBackoff)
			continue
		}

		truncated := n > limit
		if truncated {
			n = limit
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		l.handle(ctx, core.RawDatagram{
			Payload:   payload,
			Timestamp: time.Now(),
			SrcAddr:   from.Addr().Unmap(),
			SrcPort:   from.Port(),
		}, truncated)
	}
}

// handle decodes and stores one datagram. Failures stay contained here.
func (l *TrapListener) handle(ctx context.Context, d core.RawDatagram, truncated bool) {
	defer func() {
		if r := recover(); r != nil {
			l.recordPanic("panic while storing datagram", d, r)
		}
	}()

	l.received.Add(1)
	metrics.DatagramsReceivedTotal.Inc()

	start := time.Now()
	rec := l.decode(d)
	metrics.DecodeLatencySeconds.Observe(time.Since(start).Seconds())

	if truncated {
		note := fmt.Sprintf("datagram exceeded %d bytes and was truncated", l.cfg.MaxDatagramBytes)
		if rec.Diagnostics == "" {
			rec.Diagnostics = note
		} else {
			rec.Diagnostics = note + "; " + rec.Diagnostics
		}
	}

	outcome := rec.Outcome()
	switch outcome {
	case core.OutcomeClean:
		l.clean.Add(1)
	case core.OutcomePartial:
		l.partial.Add(1)
	case core.OutcomeAborted:
		l.aborted.Add(1)
	}
	metrics.DecodeResultsTotal.WithLabelValues(outcome).Inc()

	if outcome != core.OutcomeClean {
		slog.Debug("trap decoded with diagnostics",
			"source", rec.Location(),
			"outcome", outcome,
			"diagnostics", rec.Diagnostics,
		)
	}

	if err := l.sink.Store(ctx, rec); err != nil {
		l.sinkErrors.Add(1)
		slog.Error("failed to store trap record", "id", rec.ID, "source", rec.Location(), "error", err)
	}
}

// decode runs the decoder. A decoder panic still yields a record carrying
// the timestamp, source and hex dump.
func (l *TrapListener) decode(d core.RawDatagram) (rec core.TrapRecord) {
	defer func() {
		if r := recover(); r != nil {
			l.recordPanic("panic while decoding datagram", d, r)
			rec = core.TrapRecord{
				ID:          uuid.NewString(),
				Timestamp:   d.Timestamp,
				SourcePort:  int(d.SrcPort),
				Diagnostics: fmt.Sprintf("decoder panic: %v", r),
				FullHex:     decoder.HexString(d.Payload),
			}
			if d.SrcAddr.IsValid() {
				rec.SourceAddress = d.SrcAddr.String()
			}
		}
	}()
	return l.decoder.Decode(d)
}

func (l *TrapListener) recordPanic(msg string, d core.RawDatagram, r any) {
	l.panics.Add(1)
	metrics.HandlerPanicsTotal.Inc()
	slog.Error(msg,
		"source", d.Source(),
		"bytes", len(d.Payload),
		"panic", r,
		"stack", string(debug.Stack()),
	)
}
