package publish

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/awaistahir/smart-heat/internal/store"
	"github.com/sirupsen/logrus"
)

// KafkaSink produces one message per run, keyed by device
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink connects a synchronous producer to brokers
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, topic), nil
}

// NewKafkaSinkWithProducer wraps an existing producer
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// Name implements Sink
func (k *KafkaSink) Name() string {
	return "kafka"
}

// Publish sends the run as JSON
func (k *KafkaSink) Publish(ctx context.Context, run *store.Run) error {
	payload, err := encodeRun(run)
	if err != nil {
		return err
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(run.Device),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("sending run %s: %w", run.ID, err)
	}

	logrus.WithFields(logrus.Fields{
		"topic":     k.topic,
		"partition": partition,
		"offset":    offset,
		"run":       run.ID,
	}).Debug("run sent to kafka")
	return nil
}

// Close closes the producer
func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
