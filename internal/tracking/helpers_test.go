package tracking

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"backend-trailwatch/internal/location"
	"backend-trailwatch/internal/track"
)

const metresPerDegreeLat = 6371000 * 3.141592653589793 / 180

type stubStore struct {
	mu      sync.Mutex
	saved   map[string]HikeRecord
	saves   int
	saveErr error
}

func newStubStore() *stubStore {
	return &stubStore{saved: map[string]HikeRecord{}}
}

func (s *stubStore) Save(_ context.Context, record HikeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved[record.ID] = record
	return nil
}

func (s *stubStore) LoadAll(_ context.Context, accountID string) ([]HikeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HikeRecord
	for _, r := range s.saved {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubStore) Delete(_ context.Context, record HikeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.saved[record.ID]; !ok {
		return errors.New("missing")
	}
	delete(s.saved, record.ID)
	return nil
}

func (s *stubStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// testConfig keeps the loops from ever firing so ticks are driven by hand.
func testConfig() Config {
	return Config{SampleInterval: time.Hour, RefreshInterval: time.Hour}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func authorizedFeed() *location.Feed {
	feed := location.NewFeed()
	_ = feed.SetAuthorization(location.AuthorizedWhenInUse)
	return feed
}

func pointAt(northM, altitude float64, at time.Time) track.TrackPoint {
	return track.TrackPoint{
		Lat:       46.0 + northM/metresPerDegreeLat,
		Lng:       7.0,
		AltitudeM: altitude,
		SpeedMps:  1.2,
		Timestamp: at,
	}
}
