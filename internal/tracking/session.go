package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"backend-trailwatch/internal/live"
	"backend-trailwatch/internal/location"
	"backend-trailwatch/internal/observability"
	"backend-trailwatch/internal/stats"
	"backend-trailwatch/internal/track"

	"github.com/google/uuid"
)

var (
	ErrNoSession        = errors.New("no hike session")
	ErrSessionActive    = errors.New("a hike is already in progress")
	ErrNotFound         = errors.New("hike record not found")
	ErrPermissionDenied = errors.New("location permission denied")
)

// Store persists hike records. Either the previous or the new version of a record
// must be durable after Save returns.
type Store interface {
	Save(ctx context.Context, record HikeRecord) error
	LoadAll(ctx context.Context, accountID string) ([]HikeRecord, error)
	Delete(ctx context.Context, record HikeRecord) error
}

type Config struct {
	SampleInterval  time.Duration
	RefreshInterval time.Duration
	// FailFastPermission makes Start refuse when location access was declined instead of
	// waiting for the user to grant it.
	FailFastPermission bool
}

func DefaultConfig() Config {
	return Config{
		SampleInterval:  5 * time.Second,
		RefreshInterval: time.Second,
	}
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithPublisher registers fn to receive every new snapshot.
func WithPublisher(fn func(Snapshot)) Option {
	return func(s *Session) {
		s.publisher = fn
	}
}

type hikeState struct {
	record            HikeRecord
	currentSpeed      float64
	currentAltitude   float64
	totalDistance     float64
	elapsed           time.Duration
	lastErr           string
	permissionPending bool
}

// recordPosition is the only path that grows the track.
func (h *hikeState) recordPosition(p track.TrackPoint) {
	if n := len(h.record.Points); n > 0 {
		h.totalDistance += stats.Distance(h.record.Points[n-1], p)
	}
	h.record.Points = append(h.record.Points, p)
	h.currentSpeed = math.Max(p.SpeedMps, 0)
	h.currentAltitude = p.AltitudeM
}

func (h *hikeState) refresh(now time.Time) {
	h.elapsed = now.Sub(h.record.StartTime)
	h.record.Refresh(now)
}

// Session tracks one hike from start to stop. It samples the provider on one loop and
// refreshes the cached statistics on another.
type Session struct {
	live      *live.Session[hikeState]
	provider  location.Provider
	store     Store
	cfg       Config
	logger    *log.Logger
	now       func() time.Time
	publisher func(Snapshot)

	saveMu   sync.Mutex
	snapshot atomic.Pointer[Snapshot]
}

func NewSession(provider location.Provider, store Store, cfg Config, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		store:    store,
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[tracking] ", log.LstdFlags),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.live = live.New[hikeState]([]live.Loop{
		{Name: "sample", Interval: cfg.SampleInterval, Tick: s.sampleTick},
		{Name: "refresh", Interval: cfg.RefreshInterval, Tick: s.refreshTick},
	},
		live.WithLogger(s.logger),
		live.WithTransitionHook(func(from, to State) {
			observability.SessionTransition("hike", from == StateTracking, to == StateTracking)
		}),
	)
	s.snapshot.Store(&Snapshot{State: StateIdle})
	return s
}

// Start begins a new hike. It reports false without error when the session is not idle.
func (s *Session) Start(trailRef, accountID string) (bool, error) {
	if s.live.State() != StateIdle {
		return false, nil
	}

	auth := s.provider.AuthorizationState()
	if auth.Refused() && s.cfg.FailFastPermission {
		return false, ErrPermissionDenied
	}

	now := s.now()
	initial := hikeState{
		record: HikeRecord{
			ID:        uuid.NewString(),
			AccountID: accountID,
			TrailRef:  trailRef,
			StartTime: now,
		},
		permissionPending: !auth.Authorized(),
	}
	if !s.live.Start(initial) {
		return false, nil
	}

	if auth == location.NotDetermined {
		s.provider.RequestPermission()
	}
	s.provider.StartUpdates()
	s.logger.Printf("hike %s started for account %s", initial.record.ID, accountID)
	s.publish()
	return true, nil
}

func (s *Session) Pause() bool {
	if !s.live.Pause() {
		return false
	}
	s.provider.StopUpdates()
	s.publish()
	return true
}

// Resume continues a paused hike. A session that was never started has no record and
// cannot be resumed.
func (s *Session) Resume() bool {
	if !s.live.Resume() {
		return false
	}
	s.provider.StartUpdates()
	s.publish()
	return true
}

// Stop finalizes and persists the record. The returned error is a persistence failure;
// the session is stopped and the completed record stays in memory regardless, ready for
// SaveCurrentRecord to retry.
func (s *Session) Stop(ctx context.Context) (bool, error) {
	var (
		id     string
		points int
	)
	from, ok := s.live.Stop(func(h *hikeState) {
		end := s.now()
		h.record.EndTime = &end
		h.record.IsCompleted = true
		h.refresh(end)
		id, points = h.record.ID, len(h.record.Points)
	})
	if !ok {
		return false, nil
	}
	if from == StateTracking {
		s.provider.StopUpdates()
	}
	s.logger.Printf("hike %s stopped after %d points", id, points)
	s.publish()

	return true, s.persist(ctx)
}

// SaveCurrentRecord persists the record as it is now without changing state.
func (s *Session) SaveCurrentRecord(ctx context.Context) error {
	if s.live.State() == StateIdle {
		return ErrNoSession
	}
	return s.persist(ctx)
}

// Snapshot returns the latest published view. It never blocks on the loops.
func (s *Session) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

func (s *Session) State() State {
	return s.live.State()
}

// Wait blocks until the loops launched so far have exited.
func (s *Session) Wait() {
	s.live.Wait()
}

func (s *Session) sampleTick(ctx context.Context) {
	if !s.provider.AuthorizationState().Authorized() {
		if s.live.Update(ctx, func(h *hikeState) { h.permissionPending = true }) {
			s.publish()
		}
		return
	}

	point, ok := s.provider.CurrentPosition()
	if !ok {
		s.live.Update(ctx, func(h *hikeState) { h.permissionPending = false })
		return
	}
	if s.recordPosition(ctx, point) {
		observability.PointRecorded()
	}
}

func (s *Session) refreshTick(ctx context.Context) {
	now := s.now()
	if s.live.Update(ctx, func(h *hikeState) { h.refresh(now) }) {
		s.publish()
	}
}

// recordPosition appends p unless ctx belongs to a loop that has been cancelled.
func (s *Session) recordPosition(ctx context.Context, p track.TrackPoint) bool {
	return s.live.Update(ctx, func(h *hikeState) {
		h.permissionPending = false
		h.recordPosition(p)
	})
}

// persist saves the record as it is when the save lock is acquired, so saves of this
// session land in order and never regress to an older version.
func (s *Session) persist(ctx context.Context) error {
	s.saveMu.Lock()
	var rec HikeRecord
	now := s.now()
	s.live.Read(func(_ State, h *hikeState) {
		rec = h.record.frozen()
	})
	rec.Refresh(now)
	err := s.store.Save(ctx, rec)
	s.saveMu.Unlock()

	if err != nil {
		s.logger.Printf("save hike %s: %v", rec.ID, err)
		s.live.Modify(func(_ State, h *hikeState) {
			h.lastErr = fmt.Sprintf("Failed to save hike: %v", err)
		})
		s.publish()
		return fmt.Errorf("save hike %s: %w", rec.ID, err)
	}

	s.live.Modify(func(_ State, h *hikeState) { h.lastErr = "" })
	s.publish()
	return nil
}

// publish swaps in a fresh immutable snapshot and hands it to the publisher.
func (s *Session) publish() {
	var snap Snapshot
	s.live.Read(func(state State, h *hikeState) {
		snap = Snapshot{
			State:             state,
			PointCount:        len(h.record.Points),
			CurrentSpeedMps:   h.currentSpeed,
			CurrentAltitudeM:  h.currentAltitude,
			TotalDistanceM:    h.totalDistance,
			ElapsedSec:        int64(h.elapsed / time.Second),
			LastError:         h.lastErr,
			PermissionPending: h.permissionPending,
		}
		if state != StateIdle {
			rec := h.record.frozen()
			snap.Record = &rec
		}
		s.snapshot.Store(&snap)
	})
	if s.publisher != nil {
		s.publisher(snap)
	}
}
