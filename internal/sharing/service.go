package sharing

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"backend-trailwatch/internal/alert"
	"backend-trailwatch/internal/location"
)

type Broadcaster interface {
	Broadcast(key string, payload []byte)
}

// StreamKey is the stream hub key carrying an account's share snapshots.
func StreamKey(accountID string) string {
	return "share:" + accountID
}

// Service owns the sharing session of every account.
type Service struct {
	providers   func(accountID string) location.Provider
	store       SnapshotStore
	contacts    ContactSource
	dispatcher  Dispatcher
	cfg         Config
	broadcaster Broadcaster
	logger      *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewService(providers func(accountID string) location.Provider, store SnapshotStore, contacts ContactSource, dispatcher Dispatcher, cfg Config, broadcaster Broadcaster, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[sharing] ", log.LstdFlags)
	}
	return &Service{
		providers:   providers,
		store:       store,
		contacts:    contacts,
		dispatcher:  dispatcher,
		cfg:         cfg,
		broadcaster: broadcaster,
		logger:      logger,
		sessions:    map[string]*Session{},
	}
}

// Start opens a share for the account, replacing a stopped one. A persistence error is
// returned with the share already active.
func (s *Service) Start(ctx context.Context, accountID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[accountID]; ok && existing.State() == StateActive {
		return existing.Snapshot(), ErrSessionActive
	}
	session := s.newSession(accountID)
	started, err := session.Start(ctx)
	if !started {
		return Snapshot{State: StateIdle}, err
	}
	s.sessions[accountID] = session
	return session.Snapshot(), err
}

func (s *Service) Stop(ctx context.Context, accountID string) (bool, Snapshot, error) {
	s.mu.Lock()
	session, ok := s.sessions[accountID]
	s.mu.Unlock()
	if !ok {
		return false, Snapshot{State: StateIdle}, ErrNoSession
	}
	stopped, err := session.Stop(ctx)
	return stopped, session.Snapshot(), err
}

// Current returns the live snapshot, or the last persisted share when this process has
// no session for the account.
func (s *Service) Current(ctx context.Context, accountID string) (Snapshot, error) {
	s.mu.Lock()
	session, ok := s.sessions[accountID]
	s.mu.Unlock()
	if ok {
		return session.Snapshot(), nil
	}

	share, found, err := s.store.Load(ctx, accountID)
	if err != nil || !found {
		return Snapshot{State: StateIdle}, err
	}
	snap := Snapshot{State: StateStopped, Share: &share}
	if share.Active {
		snap.State = StateActive
	}
	return snap, nil
}

// SOS alerts the account's contacts whether or not a share is running.
func (s *Service) SOS(ctx context.Context, accountID, message string) (alert.Result, error) {
	s.mu.Lock()
	session, ok := s.sessions[accountID]
	s.mu.Unlock()
	if !ok {
		session = s.newSession(accountID)
	}
	return session.SendEmergencySOS(ctx, message)
}

// Close stops every active share.
func (s *Service) Close(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if _, err := session.Stop(ctx); err != nil {
			s.logger.Printf("close share: %v", err)
		}
	}
}

func (s *Service) newSession(accountID string) *Session {
	return NewSession(accountID, s.providers(accountID), s.store, s.contacts, s.dispatcher, s.cfg,
		WithLogger(s.logger),
		WithPublisher(s.publisher(accountID)),
	)
}

func (s *Service) publisher(accountID string) func(Snapshot) {
	if s.broadcaster == nil {
		return nil
	}
	key := StreamKey(accountID)
	return func(snap Snapshot) {
		payload, err := json.Marshal(snap)
		if err != nil {
			s.logger.Printf("marshal share snapshot: %v", err)
			return
		}
		s.broadcaster.Broadcast(key, payload)
	}
}
