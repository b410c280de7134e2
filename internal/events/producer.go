package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypeOTPSent            = "otp_sent"
	TypeUserSignedIn       = "user_signed_in"
	TypeTokensRefreshed    = "tokens_refreshed"
	TypeUserSignedOut      = "user_signed_out"
	TypeTokenReuseDetected = "token_reuse_detected"
)

// AuthEvent is the payload published for every auth-flow transition.
type AuthEvent struct {
	Type     string    `json:"type"`
	Email    string    `json:"email,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	ClientIP string    `json:"client_ip,omitempty"`
	At       time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event AuthEvent) error
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(address, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(address),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, event AuthEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Type),
		Value: data,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
