// Package alert delivers emergency notifications to contacts through the SMS and email
// gateways, which consume one Kafka message per recipient.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"backend-trailwatch/internal/contact"
	"backend-trailwatch/internal/observability"
	"backend-trailwatch/internal/shared/geo"

	"github.com/segmentio/kafka-go"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

var ErrDelivery = errors.New("alert delivery failed")

type messageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// Failure is one contact that could not be handed to a gateway.
type Failure struct {
	Channel   Channel `json:"channel"`
	ContactID string  `json:"contact_id"`
	Name      string  `json:"name"`
	Err       string  `json:"error"`
}

type Result struct {
	Delivered int       `json:"delivered"`
	Failed    []Failure `json:"failed,omitempty"`
}

// Merge folds o into r.
func (r *Result) Merge(o Result) {
	r.Delivered += o.Delivered
	r.Failed = append(r.Failed, o.Failed...)
}

// Message is the payload written for each recipient.
type Message struct {
	Channel   Channel   `json:"channel"`
	ContactID string    `json:"contact_id"`
	Name      string    `json:"name"`
	To        string    `json:"to"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Lat       *float64  `json:"lat,omitempty"`
	Lng       *float64  `json:"lng,omitempty"`
	MapLink   string    `json:"map_link,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

type Topics struct {
	SMS   string
	Email string
}

func (t Topics) withDefaults() Topics {
	if t.SMS == "" {
		t.SMS = "alerts.sms"
	}
	if t.Email == "" {
		t.Email = "alerts.email"
	}
	return t
}

type Option func(*Dispatcher)

func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher sends one message per contact. A failing contact never prevents the others
// from being notified and nothing is retried.
type Dispatcher struct {
	producer messageWriter
	topics   Topics
	logger   *log.Logger
	now      func() time.Time
}

func NewDispatcher(producer messageWriter, topics Topics, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		producer: producer,
		topics:   topics.withDefaults(),
		logger:   log.New(log.Writer(), "[alert] ", log.LstdFlags),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendSMS messages every contact that has a phone number. at is nil when the position
// is unknown.
func (d *Dispatcher) SendSMS(ctx context.Context, contacts []contact.EmergencyContact, at *geo.Coordinate, message string) (Result, error) {
	return d.send(ctx, ChannelSMS, d.topics.SMS, contacts, at, "", message)
}

// SendEmail mails every contact that has an email address.
func (d *Dispatcher) SendEmail(ctx context.Context, contacts []contact.EmergencyContact, at *geo.Coordinate, subject, message string) (Result, error) {
	return d.send(ctx, ChannelEmail, d.topics.Email, contacts, at, subject, message)
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, topic string, contacts []contact.EmergencyContact, at *geo.Coordinate, subject, body string) (Result, error) {
	var res Result
	var lat, lng *float64
	var link string
	if at != nil {
		lat, lng = &at.Lat, &at.Lng
		link = geo.MapLink(*at)
	}
	for _, c := range contacts {
		to := c.Phone
		if ch == ChannelEmail {
			to = c.Email
		}
		if to == "" {
			continue
		}

		payload, err := json.Marshal(Message{
			Channel:   ch,
			ContactID: c.ID,
			Name:      c.Name,
			To:        to,
			Subject:   subject,
			Body:      body,
			Lat:       lat,
			Lng:       lng,
			MapLink:   link,
			SentAt:    d.now(),
		})
		if err == nil {
			err = d.producer.WriteMessages(ctx, topic, kafka.Message{Key: []byte(to), Value: payload})
		}
		observability.AlertDelivered(string(ch), err == nil)
		if err != nil {
			d.logger.Printf("%s to contact %s failed: %v", ch, c.ID, err)
			res.Failed = append(res.Failed, Failure{Channel: ch, ContactID: c.ID, Name: c.Name, Err: err.Error()})
			continue
		}
		res.Delivered++
	}

	if len(res.Failed) > 0 {
		return res, fmt.Errorf("%w: %d of %d %s messages", ErrDelivery, len(res.Failed), len(res.Failed)+res.Delivered, ch)
	}
	return res, nil
}
