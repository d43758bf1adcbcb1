package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/metrics"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing brokers", Config{Topic: "traps"}, "brokers is required"},
		{"missing topic", Config{Brokers: []string{"localhost:9092"}}, "topic is required"},
		{"bad compression", Config{Brokers: []string{"localhost:9092"}, Topic: "traps", Compression: "brotli"}, "invalid compression type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "traps"})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, defaultBatchSize, s.config.BatchSize)
	assert.Equal(t, defaultBatchTimeout, s.config.BatchTimeout)
	assert.Equal(t, defaultCompression, s.config.Compression)
	assert.Equal(t, defaultMaxAttempts, s.config.MaxAttempts)
	assert.Equal(t, defaultWriteTimeout, s.config.WriteTimeout)
	assert.Equal(t, Name, s.Name())

	// Store must not wait on the broker by default.
	assert.True(t, s.writer.Async)
	assert.NotNil(t, s.writer.Completion)
	assert.Equal(t, defaultBatchSize, s.writer.BatchSize)
	assert.Equal(t, defaultBatchTimeout, s.writer.BatchTimeout)
	assert.Equal(t, compress.Snappy, s.writer.Compression)
	assert.Equal(t, "traps", s.writer.Topic)
}

func TestNewSyncFlushesEachRecord(t *testing.T) {
	s, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "traps", Sync: true, BatchSize: 50})
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.writer.Async)
	assert.Nil(t, s.writer.Completion)
	assert.Equal(t, 1, s.writer.BatchSize)
	assert.Equal(t, 1, s.config.BatchSize)
}

func TestCompletionCountsResults(t *testing.T) {
	s, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "traps"})
	require.NoError(t, err)
	defer s.Close()

	before := testutil.ToFloat64(metrics.SinkErrorsTotal.WithLabelValues(Name))

	batch := []kafka.Message{{Value: []byte("a")}, {Value: []byte("b")}}
	s.writer.Completion(batch, nil)
	s.writer.Completion(batch[:1], errors.New("broker unavailable"))

	assert.Equal(t, uint64(2), s.storedCount.Load())
	assert.Equal(t, uint64(1), s.errorCount.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SinkErrorsTotal.WithLabelValues(Name)))
}

func TestCompressionCodecs(t *testing.T) {
	tests := map[string]kafka.Compression{
		"none":   compress.None,
		"gzip":   compress.Gzip,
		"snappy": compress.Snappy,
		"LZ4":    compress.Lz4,
		"zstd":   compress.Zstd,
	}
	for name, want := range tests {
		got, err := compressionCodec(name)
		assert.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestBuildMessage(t *testing.T) {
	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rec := core.TrapRecord{
		ID:            "abc",
		Timestamp:     ts,
		SourceAddress: "10.1.1.1",
		SourcePort:    162,
		SNMPVersion:   core.VersionV1,
		PDUKind:       core.PDUTrapV1,
		Community:     "public",
		FullHex:       "30 00",
	}

	msg, err := buildMessage(rec)
	require.NoError(t, err)

	assert.Equal(t, []byte("10.1.1.1"), msg.Key)
	assert.Equal(t, ts, msg.Time)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{
		"trap.outcome": "clean",
		"trap.version": "SNMPv1",
		"trap.pdu":     "TrapV1",
	}, headers)

	var decoded core.TrapRecord
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "abc", decoded.ID)
	assert.Equal(t, "public", decoded.Community)
}

func TestBuildMessageAborted(t *testing.T) {
	msg, err := buildMessage(core.TrapRecord{SourceAddress: "10.1.1.2", Diagnostics: "decode aborted"})
	require.NoError(t, err)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "aborted", string(msg.Headers[0].Value))
}
