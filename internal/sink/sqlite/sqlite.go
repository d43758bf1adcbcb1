// Package sqlite provides a SQLite-backed trap sink. Request info and
// variable bindings are stored as JSON columns; everything the web view
// filters or sorts on gets its own column.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"firestige.xyz/trapd/internal/core"
)

// Name is the sink type name.
const Name = "sqlite"

// Config holds configuration for the SQLite sink.
type Config struct {
	// Path to the database file. Parent directories are created.
	Path string `mapstructure:"path"`

	// WAL enables WAL journal mode.
	WAL bool `mapstructure:"wal"`

	// Retention deletes records older than this. 0 keeps them forever.
	Retention time.Duration `mapstructure:"retention"`
	// MaxRecords keeps at most this many of the newest records. 0 is unbounded.
	MaxRecords int64 `mapstructure:"max_records"`
	// PruneInterval is how often retention is applied, default 1h.
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// Sink stores trap records in a single SQLite table.
type Sink struct {
	db   *sql.DB
	path string
	cfg  Config

	mu     sync.Mutex
	insert *sql.Stmt

	stopPrune chan struct{}
	pruneDone chan struct{}
}

// New opens (or creates) the database and initialises the schema.
func New(cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := cfg.Path + "?_foreign_keys=on"
	if cfg.WAL {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if cfg.Retention < 0 || cfg.MaxRecords < 0 {
		db.Close()
		return nil, fmt.Errorf("retention and max_records must not be negative")
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}

	s := &Sink{db: db, path: cfg.Path, cfg: cfg}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s.insert, err = db.Prepare(insertSQL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	if cfg.Retention > 0 || cfg.MaxRecords > 0 {
		s.stopPrune = make(chan struct{})
		s.pruneDone = make(chan struct{})
		go s.pruneLoop()
	}

	return s, nil
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return Name
}

// Path returns the database file path.
func (s *Sink) Path() string {
	return s.path
}

// ────────────────────────────────────────────────────────────────────────────────
// Schema
// ────────────────────────────────────────────────────────────────────────────────

func (s *Sink) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS traps (
	id              TEXT PRIMARY KEY,
	timestamp_ns    INTEGER NOT NULL,
	location        TEXT NOT NULL,
	source_address  TEXT NOT NULL,
	source_port     INTEGER NOT NULL,
	diagnostics     TEXT,
	snmp_version    TEXT,
	community       TEXT,
	pdu_kind        TEXT,
	request_info    TEXT,
	request_summary TEXT,
	varbinds        TEXT,
	full_hex        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traps_timestamp ON traps(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_traps_source ON traps(source_address);
`
	_, err := s.db.Exec(schema)
	return err
}

// ────────────────────────────────────────────────────────────────────────────────
// Write
// ────────────────────────────────────────────────────────────────────────────────

const insertSQL = `
INSERT OR REPLACE INTO traps (
	id, timestamp_ns, location, source_address, source_port,
	diagnostics, snmp_version, community, pdu_kind,
	request_info, request_summary, varbinds, full_hex
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Store inserts rec. Records with the same ID replace each other.
func (s *Sink) Store(ctx context.Context, rec core.TrapRecord) error {
	reqInfo, err := json.Marshal(rec.RequestInfo)
	if err != nil {
		return fmt.Errorf("marshal request info: %w", err)
	}
	varBinds, err := json.Marshal(rec.VarBinds)
	if err != nil {
		return fmt.Errorf("marshal varbinds: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insert == nil {
		return core.ErrSinkClosed
	}

	_, err = s.insert.ExecContext(ctx,
		rec.ID,
		rec.Timestamp.UnixNano(),
		rec.Location(),
		rec.SourceAddress,
		rec.SourcePort,
		nullString(rec.Diagnostics),
		nullString(rec.SNMPVersion),
		nullString(rec.Community),
		nullString(string(rec.PDUKind)),
		string(reqInfo),
		nullString(rec.RequestInfo.String()),
		string(varBinds),
		rec.FullHex,
	)
	if err != nil {
		return fmt.Errorf("insert trap: %w", err)
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Read
// ────────────────────────────────────────────────────────────────────────────────

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (s *Sink) Recent(ctx context.Context, limit int) ([]core.TrapRecord, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, timestamp_ns, source_address, source_port,
       diagnostics, snmp_version, community, pdu_kind,
       request_info, varbinds, full_hex
FROM traps
ORDER BY timestamp_ns DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query traps: %w", err)
	}
	defer rows.Close()

	var records []core.TrapRecord
	for rows.Next() {
		var (
			rec                           core.TrapRecord
			tsNano                        int64
			diag, version, community, pdu sql.NullString
			reqInfo, varBinds             sql.NullString
		)
		if err := rows.Scan(&rec.ID, &tsNano, &rec.SourceAddress, &rec.SourcePort,
			&diag, &version, &community, &pdu,
			&reqInfo, &varBinds, &rec.FullHex); err != nil {
			return nil, fmt.Errorf("scan trap: %w", err)
		}

		rec.Timestamp = time.Unix(0, tsNano)
		rec.Diagnostics = diag.String
		rec.SNMPVersion = version.String
		rec.Community = community.String
		rec.PDUKind = core.PDUKind(pdu.String)

		if reqInfo.Valid && reqInfo.String != "" {
			if err := json.Unmarshal([]byte(reqInfo.String), &rec.RequestInfo); err != nil {
				return nil, fmt.Errorf("decode request info for %s: %w", rec.ID, err)
			}
		}
		if varBinds.Valid && varBinds.String != "" {
			if err := json.Unmarshal([]byte(varBinds.String), &rec.VarBinds); err != nil {
				return nil, fmt.Errorf("decode varbinds for %s: %w", rec.ID, err)
			}
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored records.
func (s *Sink) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM traps").Scan(&n)
	return n, err
}

// ────────────────────────────────────────────────────────────────────────────────
// Retention
// ────────────────────────────────────────────────────────────────────────────────

// Prune applies the retention settings as of now and returns the number of
// deleted records.
func (s *Sink) Prune(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64

	if s.cfg.Retention > 0 {
		cutoff := now.Add(-s.cfg.Retention).UnixNano()
		res, err := s.db.ExecContext(ctx, "DELETE FROM traps WHERE timestamp_ns < ?", cutoff)
		if err != nil {
			return deleted, fmt.Errorf("prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if s.cfg.MaxRecords > 0 {
		res, err := s.db.ExecContext(ctx, `
DELETE FROM traps WHERE id IN (
	SELECT id FROM traps ORDER BY timestamp_ns DESC LIMIT -1 OFFSET ?
)`, s.cfg.MaxRecords)
		if err != nil {
			return deleted, fmt.Errorf("prune by count: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	return deleted, nil
}

func (s *Sink) pruneLoop() {
	defer close(s.pruneDone)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.Prune(context.Background(), time.Now())
			if err != nil {
				slog.Warn("sqlite retention failed", "path", s.path, "error", err)
				continue
			}
			if n > 0 {
				slog.Info("sqlite retention pruned records", "path", s.path, "deleted", n)
			}
		case <-s.stopPrune:
			return
		}
	}
}

// Close stops retention and closes the database.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insert == nil {
		return nil
	}
	if s.stopPrune != nil {
		close(s.stopPrune)
		<-s.pruneDone
	}
	s.insert.Close()
	s.insert = nil
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
