package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"

	"campus-market/internal/observability"
)

// Producer publishes domain events to a single Kafka topic, keyed by
// routing key.
type Producer struct {
	sync  sarama.SyncProducer
	topic string
}

func NewProducer(brokers []string, topic string, cfg *sarama.Config) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are empty")
	}
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithSyncProducer(sync, topic), nil
}

// NewWithSyncProducer wraps an existing producer.
func NewWithSyncProducer(sync sarama.SyncProducer, topic string) *Producer {
	return &Producer{sync: sync, topic: topic}
}

func (p *Producer) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var hs []sarama.RecordHeader
	for k, v := range observability.HeadersFromContext(ctx) {
		hs = append(hs, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	msg := &sarama.ProducerMessage{
		Topic:   p.topic,
		Key:     sarama.StringEncoder(routingKey),
		Value:   sarama.ByteEncoder(body),
		Headers: hs,
	}
	if _, _, err := p.sync.SendMessage(msg); err != nil {
		observability.IncPublishError("kafka")
		return err
	}
	return nil
}

func (p *Producer) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}
