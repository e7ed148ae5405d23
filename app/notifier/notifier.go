package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// OrderClosedEvent is published when a cancel transition commits, for
// downstream consumers such as inventory release.
type OrderClosedEvent struct {
	OrderID  uint64    `json:"order_id"`
	UserID   uint64    `json:"user_id"`
	OrderNo  string    `json:"order_no"`
	ClosedAt time.Time `json:"closed_at"`
}

// Producer publishes order lifecycle notifications to kafka. With no brokers
// configured it degrades to a no-op so local development works brokerless.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 {
		return &Producer{}
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *Producer) Enabled() bool {
	return p.w != nil
}

func (p *Producer) PublishOrderClosed(ctx context.Context, event OrderClosedEvent) error {
	if !p.Enabled() {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderNo),
		Value: payload,
		Time:  event.ClosedAt,
	})
}

func (p *Producer) Close() error {
	if p.w == nil {
		return nil
	}
	return p.w.Close()
}
