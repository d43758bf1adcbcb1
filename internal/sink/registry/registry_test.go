package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/sink/kafka"
	"firestige.xyz/trapd/internal/sink/sqlite"
)

func TestTypes(t *testing.T) {
	assert.Equal(t, []string{"console", "file", "kafka", "memory", "sqlite"}, Types())
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	fan, err := Build([]config.SinkConfig{
		{Type: "memory", Options: map[string]any{"capacity": "10"}},
		{Type: "sqlite", Options: map[string]any{"path": filepath.Join(dir, "traps.db")}},
		{Type: "file", Options: map[string]any{"path": filepath.Join(dir, "traps.log")}},
	})
	require.NoError(t, err)
	defer fan.Close()

	assert.Equal(t, []string{"memory", "sqlite", "file"}, fan.Names())

	rec := core.TrapRecord{ID: "r1", Timestamp: time.Now(), SourceAddress: "192.0.2.1", SourcePort: 162, FullHex: "30 00"}
	require.NoError(t, fan.Store(context.Background(), rec))

	reader := fan.Reader()
	require.NotNil(t, reader)
	got, err := reader.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
}

func TestBuildUnknownType(t *testing.T) {
	_, err := Build([]config.SinkConfig{{Type: "memory"}, {Type: "mongo"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSinkUnknownType)
	assert.Contains(t, err.Error(), "sinks[1]")
}

func TestBuildRejectsUnknownOption(t *testing.T) {
	_, err := Build([]config.SinkConfig{{Type: "memory", Options: map[string]any{"capasity": 5}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capasity")
}

func TestBuildPropagatesSinkError(t *testing.T) {
	_, err := Build([]config.SinkConfig{{Type: "file"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sinks[0] (file)")
}

func TestDecodeDurationsAndLists(t *testing.T) {
	var cfg kafka.Config
	err := Decode(map[string]any{
		"brokers":       []any{"k1:9092", "k2:9092"},
		"topic":         "traps",
		"batch_timeout": "250ms",
		"batch_size":    "20",
	}, &cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.BatchTimeout)
	assert.Equal(t, 20, cfg.BatchSize)
}

func TestDecodeWeakBool(t *testing.T) {
	var cfg sqlite.Config
	require.NoError(t, Decode(map[string]any{"path": "x.db", "wal": "true"}, &cfg))
	assert.True(t, cfg.WAL)
}
