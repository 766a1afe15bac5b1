package sharing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"backend-trailwatch/internal/alert"
	"backend-trailwatch/internal/anomaly"
	"backend-trailwatch/internal/contact"
	"backend-trailwatch/internal/live"
	"backend-trailwatch/internal/location"
	"backend-trailwatch/internal/observability"
	"backend-trailwatch/internal/shared/geo"
	"backend-trailwatch/internal/stats"
	"backend-trailwatch/internal/track"

	"github.com/google/uuid"
)

var (
	ErrNoContacts       = errors.New("no emergency contacts configured")
	ErrNoPosition       = errors.New("no known position")
	ErrPermissionDenied = errors.New("location permission denied")
	ErrNoSession        = errors.New("no sharing session")
	ErrSessionActive    = errors.New("location sharing is already active")
)

// SnapshotStore keeps the latest share of each account.
type SnapshotStore interface {
	Save(ctx context.Context, share ShareSession) error
	Load(ctx context.Context, accountID string) (ShareSession, bool, error)
}

type ContactSource interface {
	List(ctx context.Context, accountID string) ([]contact.EmergencyContact, error)
}

type Dispatcher interface {
	SendSMS(ctx context.Context, contacts []contact.EmergencyContact, at *geo.Coordinate, message string) (alert.Result, error)
	SendEmail(ctx context.Context, contacts []contact.EmergencyContact, at *geo.Coordinate, subject, message string) (alert.Result, error)
}

type Config struct {
	BroadcastInterval time.Duration
	AnomalyInterval   time.Duration
	TTL               time.Duration
	// EnforceExpiry stops the share on the first broadcast after ExpiresAt. Otherwise
	// expiry is only reported.
	EnforceExpiry      bool
	FailFastPermission bool
	DispatchTimeout    time.Duration
	Thresholds         anomaly.Thresholds
}

func DefaultConfig() Config {
	return Config{
		BroadcastInterval: 30 * time.Second,
		AnomalyInterval:   time.Minute,
		TTL:               24 * time.Hour,
		DispatchTimeout:   15 * time.Second,
		Thresholds:        anomaly.DefaultThresholds(),
	}
}

type Option func(*Session)

func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

func WithPublisher(fn func(Snapshot)) Option {
	return func(s *Session) {
		s.publisher = fn
	}
}

type shareState struct {
	share ShareSession
	// anchor is where the hiker last moved at least StillRadiusM.
	anchor            *track.TrackPoint
	lastAnomaly       *anomaly.Anomaly
	// critical is set while a critical anomaly persists, so contacts are alerted once
	// per episode.
	critical          bool
	lastErr           string
	permissionPending bool
}

// observe folds a provider reading into the rolling position. Readings that are not newer
// than the last one are ignored.
func (st *shareState) observe(p track.TrackPoint, stillRadiusM float64) {
	if st.share.LastKnown != nil && !p.Timestamp.After(st.share.LastKnown.Timestamp) {
		return
	}
	st.share.LastKnown = &p
	at := p.Timestamp
	st.share.LastUpdate = &at
	if st.anchor == nil || stats.Distance(*st.anchor, p) >= stillRadiusM {
		anchor := p
		st.anchor = &anchor
	}
}

// Session broadcasts one account's position while active and watches it for anomalies.
type Session struct {
	live       *live.Session[shareState]
	accountID  string
	provider   location.Provider
	store      SnapshotStore
	contacts   ContactSource
	dispatcher Dispatcher
	cfg        Config
	logger     *log.Logger
	now        func() time.Time
	publisher  func(Snapshot)

	saveMu   sync.Mutex
	snapshot atomic.Pointer[Snapshot]
}

func NewSession(accountID string, provider location.Provider, store SnapshotStore, contacts ContactSource, dispatcher Dispatcher, cfg Config, opts ...Option) *Session {
	s := &Session{
		accountID:  accountID,
		provider:   provider,
		store:      store,
		contacts:   contacts,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     log.New(log.Writer(), "[sharing] ", log.LstdFlags),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.live = live.New[shareState]([]live.Loop{
		{Name: "broadcast", Interval: cfg.BroadcastInterval, Tick: s.broadcastTick},
		{Name: "anomaly", Interval: cfg.AnomalyInterval, Tick: s.anomalyTick},
	},
		live.WithLogger(s.logger),
		live.WithTransitionHook(func(from, to live.State) {
			observability.SessionTransition("share", from == live.StateTracking, to == live.StateTracking)
		}),
	)
	s.snapshot.Store(&Snapshot{State: StateIdle})
	return s
}

// Start begins sharing and immediately broadcasts whatever position is known.
func (s *Session) Start(ctx context.Context) (bool, error) {
	if s.live.State() != live.StateIdle {
		return false, nil
	}
	auth := s.provider.AuthorizationState()
	if auth.Refused() && s.cfg.FailFastPermission {
		return false, ErrPermissionDenied
	}

	now := s.now()
	initial := shareState{
		share: ShareSession{
			ID:        uuid.NewString(),
			AccountID: s.accountID,
			Active:    true,
			StartTime: now,
			ExpiresAt: now.Add(s.cfg.TTL),
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
	s.logger.Printf("sharing %s started for account %s", initial.share.ID, s.accountID)

	s.observe()
	return true, s.persist(ctx)
}

// Stop marks the share inactive and persists it.
func (s *Session) Stop(ctx context.Context) (bool, error) {
	from, ok := s.live.Stop(func(st *shareState) {
		st.share.Active = false
	})
	if !ok {
		return false, nil
	}
	if from == live.StateTracking {
		s.provider.StopUpdates()
	}
	s.logger.Printf("sharing stopped for account %s", s.accountID)
	return true, s.persist(ctx)
}

func (s *Session) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

func (s *Session) State() State {
	return stateOf(s.live.State())
}

func (s *Session) Wait() {
	s.live.Wait()
}

// SendEmergencySOS alerts every reachable contact with the hiker's position. It works
// whether or not sharing is active.
func (s *Session) SendEmergencySOS(ctx context.Context, message string) (alert.Result, error) {
	var at *track.TrackPoint
	s.live.Read(func(_ live.State, st *shareState) {
		if st.share.LastKnown != nil {
			p := *st.share.LastKnown
			at = &p
		}
	})
	if at == nil {
		if p, ok := s.provider.CurrentPosition(); ok {
			at = &p
		}
	}
	if at == nil {
		return alert.Result{}, ErrNoPosition
	}

	contacts, err := s.contacts.List(ctx, s.accountID)
	if err != nil {
		return alert.Result{}, fmt.Errorf("list contacts: %w", err)
	}
	if len(contacts) == 0 {
		return alert.Result{}, ErrNoContacts
	}

	if message = strings.TrimSpace(message); message == "" {
		message = "I need help."
	}
	s.logger.Printf("SOS from account %s to %d contacts", s.accountID, len(contacts))
	where := at.Coordinate()
	return s.dispatch(ctx, contacts, &where, "Emergency SOS", "SOS: "+message)
}

// observe reads the provider on behalf of the caller rather than a loop.
func (s *Session) observe() {
	auth := s.provider.AuthorizationState().Authorized()
	point, ok := s.provider.CurrentPosition()
	s.live.Modify(func(state live.State, st *shareState) {
		if state != live.StateTracking {
			return
		}
		st.permissionPending = !auth
		if auth && ok {
			st.observe(point, s.cfg.Thresholds.StillRadiusM)
		}
	})
}

func (s *Session) broadcastTick(ctx context.Context) {
	auth := s.provider.AuthorizationState().Authorized()
	point, ok := s.provider.CurrentPosition()
	var share ShareSession
	if !s.live.Update(ctx, func(st *shareState) {
		st.permissionPending = !auth
		if auth && ok {
			st.observe(point, s.cfg.Thresholds.StillRadiusM)
		}
		share = st.share
	}) {
		return
	}

	_ = s.persist(ctx)

	if s.cfg.EnforceExpiry && share.Expired(s.now()) {
		s.logger.Printf("sharing %s expired at %s", share.ID, share.ExpiresAt.Format(time.RFC3339))
		_, _ = s.Stop(context.WithoutCancel(ctx))
	}
}

func (s *Session) anomalyTick(ctx context.Context) {
	now := s.now()
	current, hasCurrent := s.provider.CurrentPosition()

	var in anomaly.Input
	s.live.Read(func(_ live.State, st *shareState) {
		in = anomaly.Input{SessionStart: st.share.StartTime, Now: now}
		if st.share.LastUpdate != nil {
			in.LastUpdate = *st.share.LastUpdate
		}
		if st.anchor != nil {
			anchor := *st.anchor
			in.Last = &anchor
		}
		if st.share.LastKnown != nil {
			p := *st.share.LastKnown
			in.Current = &p
		}
	})
	if hasCurrent {
		in.Current = &current
	}
	if battery, ok := s.provider.(location.BatteryReporter); ok {
		if level, ok := battery.BatteryLevel(); ok {
			in.BatteryLevel = &level
		}
	}

	found, ok := s.cfg.Thresholds.Detect(in)
	critical := ok && found.Severity == anomaly.SeverityCritical
	var escalate bool
	if !s.live.Update(ctx, func(st *shareState) {
		st.lastAnomaly = nil
		if ok {
			a := found
			st.lastAnomaly = &a
		}
		escalate = critical && !st.critical
		st.critical = critical
	}) {
		return
	}
	s.publish()
	if !ok {
		return
	}

	observability.AnomalyDetected(string(found.Type), string(found.Severity))
	s.logger.Printf("anomaly for account %s: %s (%s)", s.accountID, found.Type, found.Severity)
	if !escalate {
		return
	}

	var where *geo.Coordinate
	if in.Current != nil {
		c := in.Current.Coordinate()
		where = &c
	} else {
		s.logger.Printf("critical anomaly for account %s with no known position", s.accountID)
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DispatchTimeout)
	defer cancel()
	contacts, err := s.contacts.List(dctx, s.accountID)
	if err != nil {
		s.logger.Printf("list contacts for alert: %v", err)
		return
	}
	if len(contacts) == 0 {
		s.logger.Printf("critical anomaly for account %s but no contacts configured", s.accountID)
		return
	}
	_, _ = s.dispatch(dctx, contacts, where, "Safety alert", "Safety alert: "+found.Message)
}

// dispatch sends body by SMS and email. Failures are logged and reported, never retried.
func (s *Session) dispatch(ctx context.Context, contacts []contact.EmergencyContact, at *geo.Coordinate, subject, body string) (alert.Result, error) {
	if at != nil {
		body += " Location: " + geo.MapLink(*at)
	} else {
		body += " Location: unknown"
	}

	var (
		res  alert.Result
		errs []error
	)
	sms, err := s.dispatcher.SendSMS(ctx, contacts, at, body)
	res.Merge(sms)
	if err != nil {
		s.logger.Printf("sms dispatch: %v", err)
		errs = append(errs, err)
	}
	email, err := s.dispatcher.SendEmail(ctx, contacts, at, subject, body)
	res.Merge(email)
	if err != nil {
		s.logger.Printf("email dispatch: %v", err)
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

// persist saves the share as it is when the save lock is acquired, so saves land in
// order and an in-flight broadcast can never overwrite the final inactive state.
func (s *Session) persist(ctx context.Context) error {
	s.saveMu.Lock()
	var share ShareSession
	s.live.Read(func(_ live.State, st *shareState) {
		share = st.share.clone()
	})
	err := s.store.Save(ctx, share)
	s.saveMu.Unlock()

	s.live.Modify(func(_ live.State, st *shareState) {
		st.lastErr = ""
		if err != nil {
			st.lastErr = fmt.Sprintf("Failed to save share: %v", err)
		}
	})
	s.publish()
	if err != nil {
		s.logger.Printf("save share %s: %v", share.ID, err)
		return fmt.Errorf("save share %s: %w", share.ID, err)
	}
	return nil
}

func (s *Session) publish() {
	now := s.now()
	var snap Snapshot
	s.live.Read(func(state live.State, st *shareState) {
		snap = Snapshot{
			State:             stateOf(state),
			LastError:         st.lastErr,
			PermissionPending: st.permissionPending,
		}
		if state != live.StateIdle {
			share := st.share.clone()
			snap.Share = &share
			snap.Expired = share.Expired(now)
		}
		if st.lastAnomaly != nil {
			a := *st.lastAnomaly
			snap.LastAnomaly = &a
		}
		s.snapshot.Store(&snap)
	})
	if s.publisher != nil {
		s.publisher(snap)
	}
}
