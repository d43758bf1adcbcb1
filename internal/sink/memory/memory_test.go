package memory

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/trapd/internal/core"
)

func TestRecentNewestFirst(t *testing.T) {
	s := New(Config{Capacity: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Store(ctx, core.TrapRecord{ID: strconv.Itoa(i)}))
	}

	recs, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"4", "3", "2"}, []string{recs[0].ID, recs[1].ID, recs[2].ID})

	recs, err = s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "4", recs[0].ID)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestRecentPartiallyFilled(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, core.TrapRecord{ID: "a"}))

	recs, err := s.Recent(ctx, 50)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)
	assert.Len(t, s.ring, DefaultCapacity)
}
