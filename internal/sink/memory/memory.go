// Package memory implements a bounded in-memory sink of recent records.
package memory

import (
	"context"
	"sync"

	"firestige.xyz/trapd/internal/core"
)

// Name is the sink type name.
const Name = "memory"

// DefaultCapacity is used when Config.Capacity is not positive.
const DefaultCapacity = 1000

// Config represents memory sink configuration.
type Config struct {
	Capacity int `mapstructure:"capacity"`
}

// Sink keeps the last Capacity records in a ring buffer.
type Sink struct {
	mu    sync.RWMutex
	ring  []core.TrapRecord
	next  int
	count int
	total uint64
}

// New creates a memory sink.
func New(cfg Config) *Sink {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{ring: make([]core.TrapRecord, capacity)}
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return Name
}

// Store appends rec, evicting the oldest record when full.
func (s *Sink) Store(_ context.Context, rec core.TrapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring[s.next] = rec
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	s.total++
	return nil
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (s *Sink) Recent(_ context.Context, limit int) ([]core.TrapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]core.TrapRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out, nil
}

// Count returns the total number of records stored since creation.
func (s *Sink) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(s.total), nil
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}
