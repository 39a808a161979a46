package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
	"github.com/devsweep/devsweep/internal/infra/storage"
)

func newMockSink(t *testing.T) (*Sink, *mocks.SyncProducer) {
	t.Helper()

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)

	sink := &Sink{producer: producer, topic: "sweep-outcomes", tracer: storage.NoOpTracer()}
	t.Cleanup(func() { _ = sink.Close() })
	return sink, producer
}

func TestSinkPublishesOutcomeEvent(t *testing.T) {
	t.Parallel()

	sink, producer := newMockSink(t)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "sweep-outcomes", msg.Topic)

		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", string(key),
			"messages are keyed by the normalized item key")

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var event outcomeEvent
		require.NoError(t, json.Unmarshal(value, &event))
		assert.Equal(t, "PURGE", event.RunKind)
		assert.Equal(t, "Alice@Example.com", event.Item)
		assert.Equal(t, string(domain.OutcomeRemoved), event.Tag)
		assert.Equal(t, 3, event.Devices)
		assert.False(t, event.RecordedAt.IsZero())
		return nil
	})

	err := sink.Record(context.Background(), domain.RunKindPurge,
		domain.RemovedOutcome("Alice@Example.com", 3))
	require.NoError(t, err)
}

func TestSinkDistinguishesAuditFromPurge(t *testing.T) {
	t.Parallel()

	sink, producer := newMockSink(t)

	// Audit inventories reuse the removed tag; the run kind on the event is
	// what tells a consumer no devices were touched.
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var event outcomeEvent
		require.NoError(t, json.Unmarshal(value, &event))
		assert.Equal(t, "AUDIT", event.RunKind)
		assert.Equal(t, string(domain.OutcomeRemoved), event.Tag)
		assert.Equal(t, 4, event.Devices)
		return nil
	})

	err := sink.Record(context.Background(), domain.RunKindAudit,
		domain.FoundOutcome("alice@example.com", 4))
	require.NoError(t, err)
}

func TestSinkCarriesErrorDetail(t *testing.T) {
	t.Parallel()

	sink, producer := newMockSink(t)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var event outcomeEvent
		require.NoError(t, json.Unmarshal(value, &event))
		assert.Equal(t, string(domain.OutcomeTransientError), event.Tag)
		assert.Contains(t, event.Detail, "quota exceeded")
		return nil
	})

	err := sink.Record(context.Background(), domain.RunKindPurge, domain.ErrorOutcome(
		"bob@example.com", true, 1, errors.New("quota exceeded")))
	require.NoError(t, err)
}

func TestSinkSurfacesPublishFailure(t *testing.T) {
	t.Parallel()

	sink, producer := newMockSink(t)
	producer.ExpectSendMessageAndFail(sarama.ErrBrokerNotAvailable)

	err := sink.Record(context.Background(), domain.RunKindPurge,
		domain.NoDevicesOutcome("bob@example.com"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish outcome event")
}
