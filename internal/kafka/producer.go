package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"itm.space/backendresources/internal/application"
)

// EventUserCreated is the eventType of events emitted after a user is created.
const EventUserCreated = "USER_CREATED"

// EventEnvelope is the common wrapper used for Kafka messages on the iam-events topic.
type EventEnvelope struct {
	EventType string          `json:"eventType"`
	EventID   string          `json:"eventId"`
	TenantKey string          `json:"tenantKey"`
	Payload   json.RawMessage `json:"payload"`
}

type userCreatedPayload struct {
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Actor    string `json:"actor"`
}

// recordProducer is the subset of kgo.Client used by Producer.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Producer wraps the franz-go Kafka client and implements application.EventPublisher.
type Producer struct {
	client recordProducer
	topic  string
}

// New creates a Producer writing to topic on the given brokers. Records that cannot be
// delivered within deliveryTimeout fail instead of being retried indefinitely.
func New(brokers []string, topic string, deliveryTimeout time.Duration) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(deliveryTimeout),
	)
	if err != nil {
		return nil, err
	}
	return &Producer{client: client, topic: topic}, nil
}

var _ application.EventPublisher = (*Producer)(nil)

// PublishUserCreated produces a USER_CREATED envelope keyed by username and waits for the ack.
func (p *Producer) PublishUserCreated(ctx context.Context, evt application.UserCreatedEvent) error {
	value, err := encodeUserCreated(evt)
	if err != nil {
		return err
	}

	rec := &kgo.Record{Topic: p.topic, Key: []byte(evt.Username), Value: value}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", EventUserCreated, err)
	}

	log.Debug().
		Str("topic", p.topic).
		Str("username", evt.Username).
		Msg("published kafka event")
	return nil
}

// Close releases the underlying client.
func (p *Producer) Close() {
	p.client.Close()
	log.Info().Msg("kafka producer stopped")
}

func encodeUserCreated(evt application.UserCreatedEvent) ([]byte, error) {
	payload, err := json.Marshal(userCreatedPayload{
		UserID:   evt.UserID,
		Username: evt.Username,
		Email:    evt.Email,
		Actor:    evt.Actor,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(EventEnvelope{
		EventType: EventUserCreated,
		EventID:   uuid.NewString(),
		TenantKey: evt.Realm,
		Payload:   payload,
	})
}
