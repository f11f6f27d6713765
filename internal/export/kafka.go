package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/packetlens/packetlens/internal/packet"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// KafkaConfig configures the Kafka packet sink.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // default 100ms
	Compression  string        `mapstructure:"compression"`   // none|gzip|snappy|lz4
	MaxAttempts  int           `mapstructure:"max_attempts"`  // default 3
}

// KafkaSink ships normalized packets to Kafka with batching and
// compression. Messages are keyed by command id so packets of one kind
// land on one partition.
type KafkaSink struct {
	writer *kafka.Writer

	published atomic.Uint64
	errors    atomic.Uint64
}

// NewKafkaSink creates and validates a Kafka sink.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: topic is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Compression == "" {
		cfg.Compression = defaultCompression
	}
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			MaxAttempts:  cfg.MaxAttempts,
			Compression:  codec,
			Async:        true, // fire-and-forget from the ingestion path
		},
	}, nil
}

// Name implements the sink interface.
func (s *KafkaSink) Name() string { return "kafka" }

// Publish enqueues the packets for asynchronous delivery.
func (s *KafkaSink) Publish(ctx context.Context, pkts []packet.Packet) error {
	msgs := make([]kafka.Message, 0, len(pkts))
	for _, p := range pkts {
		value, err := json.Marshal(p)
		if err != nil {
			s.errors.Add(1)
			return fmt.Errorf("kafka sink: marshal packet %d: %w", p.SequenceIndex, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.Itoa(p.CommandID)),
			Value: value,
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("kafka sink: write: %w", err)
	}
	s.published.Add(uint64(len(msgs)))
	return nil
}

// Close flushes pending batches and closes the writer.
func (s *KafkaSink) Close() error {
	err := s.writer.Close()
	slog.Info("kafka sink stopped",
		"total_published", s.published.Load(), "total_errors", s.errors.Load())
	return err
}

func parseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	default:
		return 0, fmt.Errorf("kafka sink: unsupported compression %q", name)
	}
}
