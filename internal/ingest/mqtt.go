package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"silofy/internal/config"
	"silofy/internal/model"
)

// MQTTSubscriber receives readings published by field gateways. The topic
// is resubscribed on every (re)connect.
type MQTTSubscriber struct {
	client mqtt.Client
	cfg    *config.Manager
	topic  string
	out    chan<- model.Reading
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	ctx       context.Context
}

func NewMQTTSubscriber(ctx context.Context, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) *MQTTSubscriber {
	current := cfg.Get().Ingest.MQTT
	s := &MQTTSubscriber{cfg: cfg, topic: current.Topic, out: out, logger: logger, ctx: ctx}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(current.Broker)
	opts.SetClientID(current.ClientID)
	if current.Username != "" {
		opts.SetUsername(current.Username)
		opts.SetPassword(current.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.setConnected(true)
		if logger != nil {
			logger.Info("mqtt connected", "broker", current.Broker)
		}
		token := c.Subscribe(s.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			s.handleMessage(msg.Topic(), msg.Payload())
		})
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			if logger != nil {
				logger.Error("mqtt subscribe failed", "topic", s.topic, "err", token.Error())
			}
			return
		}
		if logger != nil {
			logger.Info("subscribed to mqtt topic", "topic", s.topic, "qos", 1)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		if logger != nil {
			logger.Warn("mqtt connection lost", "err", err)
		}
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Connect waits for the first connection, giving up when ctx ends.
func (s *MQTTSubscriber) Connect(ctx context.Context) error {
	token := s.client.Connect()
	for !token.WaitTimeout(200 * time.Millisecond) {
		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *MQTTSubscriber) Disconnect() {
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.topic).WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)
	s.setConnected(false)
}

func (s *MQTTSubscriber) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *MQTTSubscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSubscriber) handleMessage(topic string, payload []byte) {
	list, err := ParsePayload(NewParser(), payload)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("mqtt payload error", "topic", topic, "err", err)
		}
		return
	}
	for _, fields := range list {
		_ = emit(s.ctx, s.cfg, fields, "mqtt", s.out, s.logger)
	}
}

func StartMQTT(ctx context.Context, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) {
	if !cfg.Get().Ingest.MQTT.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return
	}
	sub := NewMQTTSubscriber(ctx, cfg, out, logger)
	go func() {
		if err := sub.Connect(ctx); err != nil {
			if logger != nil && !errors.Is(err, context.Canceled) {
				logger.Error("mqtt ingest connect failed", "err", err)
			}
			return
		}
		<-ctx.Done()
		sub.Disconnect()
	}()
}
