package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"silofy/internal/config"
	"silofy/internal/model"
)

// StartKafka consumes reading messages. A message value may carry a single
// reading, a JSON array of readings or newline separated lines.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		parser := NewParser()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			list, err := ParsePayload(parser, m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka payload error", "partition", m.Partition, "offset", m.Offset, "err", err)
				}
				continue
			}
			for _, fields := range list {
				_ = emit(ctx, cfg, fields, "kafka", out, logger)
			}
		}
	}()
}
