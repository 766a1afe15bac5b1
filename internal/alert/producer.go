package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

var ErrUnknownTopic = errors.New("no writer for topic")

// Gateway holds one Kafka writer per alert topic. The writer set is fixed at
// construction, so a misconfigured topic fails the write instead of creating a topic.
type Gateway struct {
	writers map[string]*kafka.Writer
}

func NewGateway(brokers []string, topics Topics) *Gateway {
	topics = topics.withDefaults()
	g := &Gateway{writers: map[string]*kafka.Writer{}}
	for _, topic := range []string{topics.SMS, topics.Email} {
		if _, ok := g.writers[topic]; ok {
			continue
		}
		g.writers[topic] = &kafka.Writer{
			Addr:  kafka.TCP(brokers...),
			Topic: topic,
			// messages are keyed by recipient so one contact's alerts stay ordered
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			// alerts are rare and urgent
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return g
}

func (g *Gateway) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	writer, ok := g.writers[topic]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownTopic, topic)
	}
	return writer.WriteMessages(ctx, msgs...)
}

func (g *Gateway) Close() error {
	var errs []error
	for topic, writer := range g.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s writer: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}
