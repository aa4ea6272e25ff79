package audit

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockProducer implements Producer for testing
type MockProducer struct {
	mock.Mock
	events chan kafka.Event
}

func newMockProducer() *MockProducer {
	return &MockProducer{events: make(chan kafka.Event)}
}

func (m *MockProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	args := m.Called(msg, deliveryChan)
	return args.Error(0)
}

func (m *MockProducer) Events() chan kafka.Event {
	return m.events
}

func (m *MockProducer) Flush(timeoutMs int) int {
	args := m.Called(timeoutMs)
	return args.Int(0)
}

func (m *MockProducer) Close() {
	m.Called()
}

func sampleEvent() BlobProcessedEvent {
	return BlobProcessedEvent{
		StorageAccount: "acctone",
		ContainerName:  "custom-logs",
		BlobPath:       "firewall/2026/08/26/a.log",
		ETag:           "0x8DC1",
		SizeInBytes:    4096,
		LogType:        "CUSTOM_FW",
		EntriesSent:    120,
		BatchesSent:    2,
		LinesSkipped:   1,
		ProcessedDate:  time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	}
}

func TestEventKey(t *testing.T) {
	key := EventKey("acctone", "custom-logs", "processed", "firewall/a.log")
	assert.Equal(t, "acctone:custom-logs:processed:firewall/a.log", key)
}

func TestEmitter_BlobProcessed(t *testing.T) {
	producer := newMockProducer()

	var captured *kafka.Message
	producer.On("Produce", mock.AnythingOfType("*kafka.Message"), mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(0).(*kafka.Message)
		}).
		Return(nil)

	emitter := NewEmitter(producer, "Forwarder.Blobs", zap.NewNop().Sugar())
	emitter.BlobProcessed(sampleEvent())

	producer.AssertExpectations(t)
	require.NotNil(t, captured)
	assert.Equal(t, "Forwarder.Blobs", *captured.TopicPartition.Topic)
	assert.Equal(t, "acctone:custom-logs:processed:firewall/2026/08/26/a.log", string(captured.Key))

	var decoded BlobProcessedEvent
	require.NoError(t, json.Unmarshal(captured.Value, &decoded))
	assert.Equal(t, sampleEvent(), decoded)
}

func TestEmitter_ProduceFailureIsSwallowed(t *testing.T) {
	producer := newMockProducer()
	producer.On("Produce", mock.Anything, mock.Anything).
		Return(errors.New("queue full"))

	emitter := NewEmitter(producer, "Forwarder.Blobs", zap.NewNop().Sugar())

	assert.NotPanics(t, func() {
		emitter.BlobProcessed(sampleEvent())
	})
	producer.AssertExpectations(t)
}

func TestEmitter_CloseFlushesProducer(t *testing.T) {
	producer := newMockProducer()
	producer.On("Flush", 30*1000).Return(0)
	producer.On("Close").Return()

	emitter := NewEmitter(producer, "Forwarder.Blobs", zap.NewNop().Sugar())
	emitter.Close()

	producer.AssertExpectations(t)
}

func TestEmitter_LogsFailedDeliveries(t *testing.T) {
	producer := newMockProducer()
	emitter := NewEmitter(producer, "Forwarder.Blobs", zap.NewNop().Sugar())
	_ = emitter

	topic := "Forwarder.Blobs"
	producer.events <- &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic: &topic,
			Error: errors.New("broker unreachable"),
		},
		Key: []byte("acctone:custom-logs:processed:firewall/a.log"),
	}
	close(producer.events)
}
