// Package sink delivers decoded trap records to storage backends.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/metrics"
)

// Sink stores trap records. Store is called once per datagram, in receipt
// order, and never concurrently by the listener.
type Sink interface {
	Name() string
	Store(ctx context.Context, rec core.TrapRecord) error
	Close() error
}

// Reader reads back the most recently stored records, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]core.TrapRecord, error)
}

// Counter reports how many records a sink holds.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Fanout stores every record into each child sink.
// A failing child does not prevent delivery to the others.
type Fanout struct {
	mu     sync.Mutex
	sinks  []Sink
	closed bool
}

// NewFanout creates a fanout over sinks, in order.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Name returns the sink name.
func (f *Fanout) Name() string {
	return "fanout"
}

// Store writes rec to every child and joins their errors.
func (f *Fanout) Store(ctx context.Context, rec core.TrapRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return core.ErrSinkClosed
	}

	var errs []error
	for _, s := range f.sinks {
		if err := s.Store(ctx, rec); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.SinkRecordsTotal.WithLabelValues(s.Name()).Inc()
	}
	return errors.Join(errs...)
}

// Close closes every child. Subsequent Store calls fail with ErrSinkClosed.
func (f *Fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Sinks returns the child sinks.
func (f *Fanout) Sinks() []Sink {
	return f.sinks
}

// Reader returns the first child able to read records back, or nil.
func (f *Fanout) Reader() Reader {
	for _, s := range f.sinks {
		if r, ok := s.(Reader); ok {
			return r
		}
	}
	return nil
}

// Names lists child sink names in order.
func (f *Fanout) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

// Counts returns the stored record count of every child implementing
// Counter, keyed by sink name. Children whose count fails are omitted.
func (f *Fanout) Counts(ctx context.Context) map[string]int64 {
	counts := make(map[string]int64)
	for _, s := range f.sinks {
		c, ok := s.(Counter)
		if !ok {
			continue
		}
		n, err := c.Count(ctx)
		if err != nil {
			continue
		}
		counts[s.Name()] = n
	}
	return counts
}
