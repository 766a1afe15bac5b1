package sharing

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"backend-trailwatch/internal/alert"
	"backend-trailwatch/internal/contact"
	"backend-trailwatch/internal/location"
	"backend-trailwatch/internal/shared/geo"
	"backend-trailwatch/internal/track"
)

const metresPerDegreeLat = 6371000 * 3.141592653589793 / 180

type memoryStore struct {
	*MemoryStore
	mu    sync.Mutex
	saves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{MemoryStore: NewMemoryStore()}
}

func (m *memoryStore) Save(ctx context.Context, share ShareSession) error {
	m.mu.Lock()
	m.saves++
	m.mu.Unlock()
	return m.MemoryStore.Save(ctx, share)
}

type stubContacts struct {
	contacts []contact.EmergencyContact
	err      error
	calls    int
}

func (s *stubContacts) List(context.Context, string) ([]contact.EmergencyContact, error) {
	s.calls++
	return s.contacts, s.err
}

type sentMessage struct {
	channel  alert.Channel
	contacts int
	at       *geo.Coordinate
	body     string
}

type stubDispatcher struct {
	mu      sync.Mutex
	sent    []sentMessage
	failSMS bool
}

func (d *stubDispatcher) SendSMS(_ context.Context, contacts []contact.EmergencyContact, at *geo.Coordinate, message string) (alert.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{channel: alert.ChannelSMS, contacts: len(contacts), at: at, body: message})
	if d.failSMS {
		return alert.Result{Failed: []alert.Failure{{Channel: alert.ChannelSMS, ContactID: "c-1"}}}, alert.ErrDelivery
	}
	return alert.Result{Delivered: countWith(contacts, func(c contact.EmergencyContact) string { return c.Phone })}, nil
}

func (d *stubDispatcher) SendEmail(_ context.Context, contacts []contact.EmergencyContact, at *geo.Coordinate, _, message string) (alert.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{channel: alert.ChannelEmail, contacts: len(contacts), at: at, body: message})
	return alert.Result{Delivered: countWith(contacts, func(c contact.EmergencyContact) string { return c.Email })}, nil
}

func (d *stubDispatcher) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func countWith(contacts []contact.EmergencyContact, field func(contact.EmergencyContact) string) int {
	n := 0
	for _, c := range contacts {
		if strings.TrimSpace(field(c)) != "" {
			n++
		}
	}
	return n
}

var twoContacts = []contact.EmergencyContact{
	{ID: "c-1", Name: "Ana", Phone: "+41000001"},
	{ID: "c-2", Name: "Ben", Phone: "+41000002", Email: "ben@example.com"},
}

var errBoom = errors.New("boom")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BroadcastInterval = time.Hour
	cfg.AnomalyInterval = time.Hour
	return cfg
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func authorizedFeed() *location.Feed {
	feed := location.NewFeed()
	_ = feed.SetAuthorization(location.AuthorizedAlways)
	return feed
}

func pointAt(northM float64, at time.Time) track.TrackPoint {
	return track.TrackPoint{
		Lat:       46.0 + northM/metresPerDegreeLat,
		Lng:       8.0,
		AltitudeM: 1500,
		SpeedMps:  -1,
		Timestamp: at,
	}
}
