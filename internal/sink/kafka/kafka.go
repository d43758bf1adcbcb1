// Package kafka implements a sink that publishes trap records to Kafka.
// Records are serialized as JSON and keyed by source address so that traps
// from one agent land on the same partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/metrics"
)

// Name is the sink type name.
const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 10 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
	defaultWriteTimeout = 5 * time.Second
)

// Config represents Kafka sink configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100; forced to 1 when sync
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 10ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // optional, default 5s
	Sync         bool          `mapstructure:"sync"`          // optional, wait for the broker on every Store
}

// Sink writes records to a Kafka topic.
//
// By default the writer is asynchronous: Store only queues the message and
// delivery failures are counted from the completion callback, so a slow or
// unreachable broker never holds up the trap listener. With Sync set, Store
// waits for the write and returns its error.
type Sink struct {
	writer *kafka.Writer
	config Config

	// Statistics
	storedCount atomic.Uint64
	errorCount  atomic.Uint64
}

// New validates cfg and creates the writer. No connection is made until
// the first Store.
func New(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Sync {
		// a lone message would otherwise wait out BatchTimeout
		cfg.BatchSize = 1
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.Compression == "" {
		cfg.Compression = defaultCompression
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	s := &Sink{config: cfg}
	s.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // same agent, same partition
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Compression:  codec,
		Async:        !cfg.Sync,
	}
	if !cfg.Sync {
		s.writer.Completion = s.completion
	}

	slog.Info("kafka sink configured",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_size", cfg.BatchSize,
		"batch_timeout", cfg.BatchTimeout,
		"compression", cfg.Compression,
		"sync", cfg.Sync,
	)

	return s, nil
}

// completion reports the result of an asynchronous batch.
func (s *Sink) completion(messages []kafka.Message, err error) {
	n := uint64(len(messages))
	if err != nil {
		s.errorCount.Add(n)
		metrics.SinkErrorsTotal.WithLabelValues(Name).Add(float64(n))
		slog.Error("kafka delivery failed", "topic", s.config.Topic, "messages", n, "error", err)
		return
	}
	s.storedCount.Add(n)
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch strings.ToLower(name) {
	case "none":
		return compress.None, nil
	case "gzip":
		return compress.Gzip, nil
	case "snappy":
		return compress.Snappy, nil
	case "lz4":
		return compress.Lz4, nil
	case "zstd":
		return compress.Zstd, nil
	default:
		return compress.None, fmt.Errorf("invalid compression type: %s", name)
	}
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return Name
}

// Store publishes rec.
func (s *Sink) Store(ctx context.Context, rec core.TrapRecord) error {
	msg, err := buildMessage(rec)
	if err != nil {
		s.errorCount.Add(1)
		return err
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}

	if s.config.Sync {
		s.storedCount.Add(1)
	}
	return nil
}

// buildMessage serializes rec. Version, PDU kind and decode outcome travel
// as headers so consumers can route without parsing the value.
func buildMessage(rec core.TrapRecord) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("serialize record failed: %w", err)
	}

	headers := []kafka.Header{
		{Key: "trap.outcome", Value: []byte(rec.Outcome())},
	}
	if rec.SNMPVersion != "" {
		headers = append(headers, kafka.Header{Key: "trap.version", Value: []byte(rec.SNMPVersion)})
	}
	if rec.PDUKind != "" {
		headers = append(headers, kafka.Header{Key: "trap.pdu", Value: []byte(rec.PDUKind)})
	}

	return kafka.Message{
		Key:     []byte(rec.SourceAddress),
		Value:   value,
		Time:    rec.Timestamp,
		Headers: headers,
	}, nil
}

// Close flushes pending messages and closes the writer.
func (s *Sink) Close() error {
	if err := s.writer.Close(); err != nil {
		slog.Error("error closing kafka writer", "error", err)
		return err
	}

	slog.Info("kafka sink closed",
		"total_stored", s.storedCount.Load(),
		"total_errors", s.errorCount.Load(),
	)
	return nil
}
