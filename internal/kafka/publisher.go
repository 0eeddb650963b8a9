package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"chainwatch/internal/model"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends decoded events to a Kafka topic as JSON EventRecords.
// Messages are keyed by transaction hash so the events of one transaction
// land on the same partition in order.
type Publisher struct {
	writer MessageWriter
}

// NewPublisher builds a publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &Publisher{writer: writer}, nil
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w MessageWriter) *Publisher {
	return &Publisher{writer: w}
}

// PutEventBatch publishes events in order with a single write.
func (p *Publisher) PutEventBatch(ctx context.Context, events []model.DecodedEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msg, err := message(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Handle publishes a single event.
func (p *Publisher) Handle(ctx context.Context, ev model.DecodedEvent) error {
	return p.PutEventBatch(ctx, []model.DecodedEvent{ev})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func message(ev model.DecodedEvent) (kafka.Message, error) {
	rec := model.NewEventRecord(ev)
	payload, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event %s: %w", ev.Key(), err)
	}
	return kafka.Message{
		Key:   []byte(rec.TxHash),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(rec.Event)},
		},
	}, nil
}
