package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/trapd/internal/core"
)

type stubSink struct {
	name     string
	storeErr error
	closeErr error
	stored   []string
	closed   bool
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Store(_ context.Context, rec core.TrapRecord) error {
	if s.storeErr != nil {
		return s.storeErr
	}
	s.stored = append(s.stored, rec.ID)
	return nil
}

func (s *stubSink) Close() error {
	s.closed = true
	return s.closeErr
}

type readableSink struct {
	stubSink
}

func (r *readableSink) Recent(context.Context, int) ([]core.TrapRecord, error) {
	return []core.TrapRecord{{ID: r.name}}, nil
}

func (r *readableSink) Count(context.Context) (int64, error) {
	return int64(len(r.stored)), nil
}

func TestFanoutStoreContinuesPastFailure(t *testing.T) {
	bad := &stubSink{name: "bad", storeErr: errors.New("disk full")}
	good := &stubSink{name: "good"}
	f := NewFanout(bad, good)

	err := f.Store(context.Background(), core.TrapRecord{ID: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: disk full")
	assert.Equal(t, []string{"r1"}, good.stored)
}

func TestFanoutClose(t *testing.T) {
	a := &stubSink{name: "a", closeErr: errors.New("boom")}
	b := &stubSink{name: "b"}
	f := NewFanout(a, b)

	err := f.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close a: boom")
	assert.True(t, a.closed)
	assert.True(t, b.closed)

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Store(context.Background(), core.TrapRecord{}), core.ErrSinkClosed)
}

func TestFanoutReaderAndCounts(t *testing.T) {
	plain := &stubSink{name: "console"}
	readable := &readableSink{stubSink{name: "memory"}}
	f := NewFanout(plain, readable)

	require.NoError(t, f.Store(context.Background(), core.TrapRecord{ID: "x"}))

	r := f.Reader()
	require.NotNil(t, r)
	recs, err := r.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "memory", recs[0].ID)

	assert.Equal(t, map[string]int64{"memory": 1}, f.Counts(context.Background()))
	assert.Equal(t, []string{"console", "memory"}, f.Names())
	assert.Equal(t, "fanout", f.Name())
}

func TestFanoutWithoutReader(t *testing.T) {
	f := NewFanout(&stubSink{name: "console"})
	assert.Nil(t, f.Reader())
	assert.Empty(t, f.Counts(context.Background()))
}
