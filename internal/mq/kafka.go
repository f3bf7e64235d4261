// Package mq publishes evaluations to Kafka.
package mq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"silofy/internal/config"
	"silofy/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per evaluation keyed by the filter key, so
// evaluations of the same filter stay ordered within a partition.
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 250 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// NewPublisher returns nil when publishing is disabled.
func NewPublisher(cfg config.PublishKafkaConfig) *Publisher {
	if !cfg.Enabled {
		return nil
	}
	return &Publisher{writer: NewWriter(cfg.Brokers, cfg.Topic), timeout: 5 * time.Second}
}

func (p *Publisher) Publish(ctx context.Context, key string, ev model.Evaluation) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return PublishJSON(ctx, p.writer, key, ev)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func PublishJSON(ctx context.Context, writer messageWriter, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	})
}
