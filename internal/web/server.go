// Package web serves the trap viewer: an HTML table of recent traps, a JSON
// refresh endpoint used by the page, and a filtered JSON API.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/metrics"
	"firestige.xyz/trapd/internal/query"
	"firestige.xyz/trapd/internal/sink"
)

const (
	// DefaultPageSize is the number of rows on the index page.
	DefaultPageSize = 50
	// maxAPILimit caps /api/traps?limit=.
	maxAPILimit = 1000
	// scanWindow is how many recent records a filtered query looks through.
	scanWindow = 5000
)

// Config configures the viewer.
type Config struct {
	Listen   string
	CertFile string
	KeyFile  string
	PageSize int
	CacheTTL time.Duration
}

// Row is one table row, with every column pre-rendered. Field names match
// the JSON keys the page script reads.
type Row struct {
	ID        string `json:"ID"`
	Date      string `json:"Date"`
	Location  string `json:"Location"`
	Error     string `json:"Error"`
	SNMPv     string `json:"SNMPv"`
	Community string `json:"Community"`
	PDU       string `json:"PDU"`
	Request   string `json:"Request"`
	VarBind   string `json:"VarBind"`
	FullHex   string `json:"FullHex"`
}

// NewRow renders rec as a table row.
func NewRow(rec *core.TrapRecord) Row {
	return Row{
		ID:        rec.ID,
		Date:      rec.Timestamp.Format("2006-01-02 15:04:05"),
		Location:  rec.Location(),
		Error:     rec.Diagnostics,
		SNMPv:     rec.SNMPVersion,
		Community: rec.Community,
		PDU:       string(rec.PDUKind),
		Request:   rec.RequestInfo.String(),
		VarBind:   rec.VarBindSummary(),
		FullHex:   rec.FullHex,
	}
}

// Server is the viewer HTTP server.
type Server struct {
	cfg      Config
	reader   sink.Reader
	cache    *cache.Cache // nil when caching is disabled
	server   *http.Server
	listener net.Listener
}

// New creates a viewer reading from reader. reader may be nil, in which
// case every data endpoint reports that no readable sink is configured.
func New(cfg Config, reader sink.Reader) *Server {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	s := &Server{cfg: cfg, reader: reader}
	if cfg.CacheTTL > 0 {
		s.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return s
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/refresh", instrument("refresh", http.HandlerFunc(s.handleRefresh)))
	mux.Handle("/api/traps", instrument("api_traps", http.HandlerFunc(s.handleAPI)))
	mux.Handle("/", instrument("index", http.HandlerFunc(s.handleIndex)))
	return mux
}

// Start binds the listen address and serves in the background. With a
// certificate and key configured the listener speaks TLS; both files are
// loaded here so that errors reach the caller.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}

	scheme := "http"
	if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		scheme = "https"
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("starting web viewer", "addr", ln.Addr().String(), "scheme", scheme)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("web viewer error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web viewer shutdown failed: %w", err)
	}

	slog.Info("web viewer stopped")
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Handlers
// ────────────────────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := pageData{}
	recs, err := s.recent(r.Context(), s.cfg.PageSize)
	if err != nil {
		slog.Warn("web viewer failed to read traps", "error", err)
		data.Error = err.Error()
	}
	data.Rows = rows(recs)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		slog.Error("render index page failed", "error", err)
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	recs, err := s.recent(r.Context(), s.cfg.PageSize)
	if err != nil {
		slog.Warn("web viewer failed to read traps", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows(recs))
}

// apiResponse is the /api/traps body.
type apiResponse struct {
	Count  int               `json:"count"`
	Filter string            `json:"filter,omitempty"`
	Traps  []core.TrapRecord `json:"traps"`
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	limit := s.cfg.PageSize
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxAPILimit)
	}

	filter, err := query.Compile(params.Get("filter"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	window := limit
	if filter.String() != "" {
		window = scanWindow
	}

	recs, err := s.recent(r.Context(), window)
	if err != nil {
		slog.Warn("web viewer failed to read traps", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	matched := filter.Apply(recs, limit)
	writeJSON(w, http.StatusOK, apiResponse{
		Count:  len(matched),
		Filter: filter.String(),
		Traps:  matched,
	})
}

// ────────────────────────────────────────────────────────────────────────────────
// Data access
// ────────────────────────────────────────────────────────────────────────────────

// recent returns up to limit records, newest first, served from the cache
// when a fresh copy exists.
func (s *Server) recent(ctx context.Context, limit int) ([]core.TrapRecord, error) {
	if s.reader == nil {
		return nil, core.ErrSinkNotReadable
	}

	key := "recent:" + strconv.Itoa(limit)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.([]core.TrapRecord), nil
		}
	}

	recs, err := s.reader.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetDefault(key, recs)
	}
	return recs, nil
}

func rows(recs []core.TrapRecord) []Row {
	out := make([]Row, len(recs))
	for i := range recs {
		out[i] = NewRow(&recs[i])
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response failed", "error", err)
	}
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.WebRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}
