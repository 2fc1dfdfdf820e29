package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

// KafkaFeed consumes bar messages from a Kafka topic. Offsets are
// managed by the consumer group, so a restarted session resumes where
// the previous one left off.
type KafkaFeed struct {
	reader *kafka.Reader
	bars   chan domain.Bar
	logger *slog.Logger
}

var _ Source = (*KafkaFeed)(nil)

// NewKafkaFeed creates a consumer for cfg.Topic.
func NewKafkaFeed(cfg config.KafkaConfig, logger *slog.Logger) *KafkaFeed {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaFeed{
		reader: reader,
		bars:   make(chan domain.Bar),
		logger: logger.With(slog.String("component", "kafka_feed")),
	}
}

// Bars returns the stream channel. It is closed when Run returns.
func (f *KafkaFeed) Bars() <-chan domain.Bar { return f.bars }

// Run reads until ctx is cancelled. ReadMessage handles broker
// reconnection internally; only decode failures are surfaced here, and
// those are logged and skipped.
func (f *KafkaFeed) Run(ctx context.Context) error {
	defer close(f.bars)
	defer func() {
		if err := f.reader.Close(); err != nil {
			f.logger.Warn("closing kafka reader", slog.String("error", err.Error()))
		}
	}()

	f.logger.Info("kafka feed starting",
		slog.String("topic", f.reader.Config().Topic),
		slog.String("group", f.reader.Config().GroupID),
	)

	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka feed: read: %w", err)
		}
		bar, ok, err := decodeBar(msg.Value)
		if err != nil {
			f.logger.Warn("skipping malformed message",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}
		select {
		case f.bars <- bar:
		case <-ctx.Done():
			return nil
		}
	}
}
