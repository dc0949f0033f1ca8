package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gearmarket/escrow-service/internal/contracts"
	"github.com/gearmarket/escrow-service/internal/domain"
)

// KafkaPublisher delivers event envelopes to the marketplace event bus.
// Domain and analytics classes map to distinct topics; the notification
// service consumes the domain topic for payee notifications and operator
// alerts.
type KafkaPublisher struct {
	writer         *kafka.Writer
	domainTopic    string
	analyticsTopic string
	dlqTopic       string
}

func NewKafkaPublisher(brokers []string, domainTopic, analyticsTopic, dlqTopic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		domainTopic:    domainTopic,
		analyticsTopic: analyticsTopic,
		dlqTopic:       dlqTopic,
	}, nil
}

func (p *KafkaPublisher) PublishDomain(ctx context.Context, event contracts.EventEnvelope) error {
	return p.publish(ctx, p.domainTopic, event.PartitionKey, event)
}

func (p *KafkaPublisher) PublishAnalytics(ctx context.Context, event contracts.EventEnvelope) error {
	return p.publish(ctx, p.analyticsTopic, event.PartitionKey, event)
}

func (p *KafkaPublisher) PublishDLQ(ctx context.Context, record contracts.DLQRecord) error {
	return p.publish(ctx, p.dlqTopic, record.OriginalEvent.PartitionKey, record)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key string, payload any) error {
	if topic == "" {
		return domain.ErrUnsupportedEvent
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
