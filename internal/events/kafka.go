package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Kafka publishes events to a topic, keyed by target so events of one target
// stay ordered within a partition.
type Kafka struct {
	topic    string
	producer sarama.SyncProducer
}

// NewKafka connects a synchronous producer to brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_0_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return newKafka(producer, topic), nil
}

func newKafka(producer sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{topic: topic, producer: producer}
}

func (k *Kafka) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(e.Type)},
		},
	}
	if e.Target != "" {
		msg.Key = sarama.StringEncoder(e.Target)
	}

	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("sending to %s: %w", k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}
