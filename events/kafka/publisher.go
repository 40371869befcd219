// Package kafka publishes ledger outbox events to Kafka.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warp/ledger-engine/ledger"
)

// Publisher implements outbox.Publisher on a kafka.Writer. The topic comes
// from the event; the document number is the message key, so every event
// of one document lands on the same partition in order.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, ev ledger.Event) error {
	return p.writer.WriteMessages(ctx, Message(ev))
}

// Close flushes pending writes and closes the connection.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Message converts an outbox event into a Kafka message.
func Message(ev ledger.Event) kafka.Message {
	return kafka.Message{
		Topic: ev.Topic,
		Key:   []byte(ev.Key),
		Value: ev.Payload,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "tenant_id", Value: []byte(ev.TenantID)},
		},
	}
}
