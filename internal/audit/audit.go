// Package audit publishes per-blob completion events to Kafka so downstream
// tooling can reconcile what the forwarder delivered. Emission is best
// effort: an audit failure never fails the blob it describes.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Producer abstracts the Kafka producer for testing with mocks
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// BlobProcessedEvent records one successfully forwarded blob version
type BlobProcessedEvent struct {
	StorageAccount string    `json:"storageAccount"`
	ContainerName  string    `json:"containerName"`
	BlobPath       string    `json:"blobPath"`
	ETag           string    `json:"etag"`
	SizeInBytes    int64     `json:"sizeInBytes"`
	LogType        string    `json:"logType"`
	EntriesSent    int       `json:"entriesSent"`
	BatchesSent    int       `json:"batchesSent"`
	LinesSkipped   int       `json:"linesSkipped"`
	ProcessedDate  time.Time `json:"processedDate"`
}

// EventKey creates the standardized key for blob audit events.
// Format: {storageAccount}:{container}:{eventType}:{blobPath}
func EventKey(storageAccount, container, eventType, blobPath string) string {
	return fmt.Sprintf("%s:%s:%s:%s", storageAccount, container, eventType, blobPath)
}

// Emitter publishes audit events to a single topic
type Emitter struct {
	producer Producer
	topic    string
	log      *zap.SugaredLogger
}

// NewEmitter wraps a producer and starts draining its delivery reports so
// broker-side failures are visible in the logs
func NewEmitter(producer Producer, topic string, log *zap.SugaredLogger) *Emitter {
	e := &Emitter{
		producer: producer,
		topic:    topic,
		log:      log,
	}
	go e.handleDeliveryEvents(producer.Events())
	return e
}

// BlobProcessed enqueues one completion event. Failures are logged and
// dropped; audit delivery is not part of the at-least-once guarantee.
func (e *Emitter) BlobProcessed(event BlobProcessedEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		e.log.Warnw("failed to marshal audit event", "blob", event.BlobPath, "error", err)
		return
	}

	key := EventKey(event.StorageAccount, event.ContainerName, "processed", event.BlobPath)
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &e.topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}

	if err := e.producer.Produce(msg, nil); err != nil {
		e.log.Warnw("failed to enqueue audit event", "key", key, "error", err)
	}
}

// Close flushes pending events and releases the producer
func (e *Emitter) Close() {
	e.producer.Flush(30 * 1000)
	e.producer.Close()
}

func (e *Emitter) handleDeliveryEvents(deliveryChan chan kafka.Event) {
	for event := range deliveryChan {
		switch ev := event.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				e.log.Warnw("audit event delivery failed",
					"key", string(ev.Key),
					"error", ev.TopicPartition.Error)
			}
		case kafka.Error:
			e.log.Warnw("audit producer error", "error", ev)
		}
	}
}
