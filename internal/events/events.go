// Package events publishes domain events to Kafka for downstream consumers
// (notification fan-out, search indexing). Publishing is fire-and-forget:
// a broker failure is logged, never surfaced to the sender.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/edulink/messaging/internal/model"
)

const (
	EventMessageSent         = "message.sent"
	EventConversationCreated = "conversation.created"
)

type envelope struct {
	Kind string `json:"kind"`
	At   int64  `json:"at"`
	Data any    `json:"data"`
}

type Publisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewPublisher returns nil when no brokers are configured; a nil Publisher
// is safe to call and does nothing.
func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &Publisher{writer: w, log: log}
}

func (p *Publisher) MessageSent(ctx context.Context, m model.Message) {
	p.publish(ctx, m.ConversationID, EventMessageSent, m)
}

func (p *Publisher) ConversationCreated(ctx context.Context, c model.Conversation) {
	p.publish(ctx, c.ID, EventConversationCreated, c)
}

func (p *Publisher) publish(ctx context.Context, key, kind string, data any) {
	if p == nil || p.writer == nil {
		return
	}
	b, err := json.Marshal(envelope{Kind: kind, At: time.Now().Unix(), Data: data})
	if err != nil {
		return
	}
	msg := kafka.Message{Key: []byte(key), Value: b, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warnw("event publish failed", "kind", kind, "err", err)
	}
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
