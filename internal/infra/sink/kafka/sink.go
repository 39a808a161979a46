// Package kafka publishes sweep outcomes to a Kafka topic. The sink is
// append-only: the engine never reads results back, so publish failures
// only cost a record, never run progress.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
)

var _ domain.ResultSink = (*Sink)(nil)

// Config holds the Kafka connection parameters for the result sink.
type Config struct {
	Brokers []string
	Topic   string
}

// Sink implements ResultSink on a sarama synchronous producer. Records are
// JSON events keyed by work item so all outcomes for one item land in the
// same partition.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	tracer   trace.Tracer
}

// NewSink connects a synchronous producer and returns the sink.
func NewSink(cfg Config, tracer trace.Tracer) (*Sink, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Sink{producer: producer, topic: cfg.Topic, tracer: tracer}, nil
}

// outcomeEvent is the published wire form of one item outcome. RunKind
// disambiguates the shared removed tag: PURGE means devices were revoked,
// AUDIT means they were only inventoried.
type outcomeEvent struct {
	RunKind    string    `json:"run_kind"`
	Item       string    `json:"item"`
	Tag        string    `json:"tag"`
	Devices    int       `json:"devices"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Record publishes the outcome to the results topic.
func (s *Sink) Record(ctx context.Context, kind domain.RunKind, outcome domain.Outcome) error {
	_, span := s.tracer.Start(ctx, "kafka_sink.record",
		trace.WithAttributes(
			attribute.String("run_kind", kind.String()),
			attribute.String("item", string(outcome.Item)),
			attribute.String("tag", string(outcome.Tag)),
		))
	defer span.End()

	data, err := json.Marshal(outcomeEvent{
		RunKind:    kind.String(),
		Item:       string(outcome.Item),
		Tag:        string(outcome.Tag),
		Devices:    outcome.Devices,
		Detail:     outcome.Detail,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal outcome event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(outcome.Item.Key()),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish outcome event: %w", err)
	}
	return nil
}

// Close shuts down the underlying producer.
func (s *Sink) Close() error { return s.producer.Close() }
