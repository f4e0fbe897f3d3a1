package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/carbonwatch/carbonwatch/internal/types"
	"github.com/segmentio/kafka-go"
)

// Broadcaster is the part of the websocket hub the HubSink uses.
type Broadcaster interface {
	BroadcastWarning(w types.Warning) bool
}

// HubSink pushes warnings to websocket clients.
type HubSink struct {
	hub Broadcaster
}

// NewHubSink wraps a websocket hub.
func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "websocket" }

// ErrHubStopped is returned when the hub no longer accepts broadcasts.
var ErrHubStopped = errors.New("websocket hub stopped")

func (s *HubSink) Send(_ context.Context, a Alert) error {
	if !s.hub.BroadcastWarning(a.Warning) {
		return ErrHubStopped
	}
	return nil
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes alerts as JSON to a Kafka topic, keyed by warning kind.
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

// NewKafkaWriter builds the writer used by KafkaSink.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// NewKafkaSink returns a sink writing through w.
func NewKafkaSink(w MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka:" + s.topic }

func (s *KafkaSink) Send(ctx context.Context, a Alert) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("error encoding alert: %w", err)
	}

	kind := a.Warning.Kind
	if !a.Warning.Active {
		kind = a.Previous.Kind
	}
	msg := kafka.Message{
		Key:   []byte(strings.ToLower(string(kind))),
		Value: b,
		Time:  a.Time,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
