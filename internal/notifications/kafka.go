package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Event is the Kafka message body for a thermostat notification.
type Event struct {
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes notifications as JSON events keyed by source.
type Kafka struct {
	w       messageWriter
	source  string
	timeout time.Duration
	now     func() time.Time
}

func NewKafka(brokers []string, topic, source string) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	log.Info().
		Strs("brokers", brokers).
		Str("topic", topic).
		Msg("Kafka event publisher initialized")
	return newKafka(w, source)
}

func newKafka(w messageWriter, source string) *Kafka {
	return &Kafka{w: w, source: source, timeout: 5 * time.Second, now: time.Now}
}

func (k *Kafka) Send(title, message string) error {
	ev := Event{Source: k.source, Title: title, Message: message, Timestamp: k.now().UTC()}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	if err := k.w.WriteMessages(ctx, kafka.Message{Key: []byte(k.source), Value: b}); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	log.Debug().Str("title", title).Msg("Event published")
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
