package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"backend-trailwatch/internal/export"
	"backend-trailwatch/internal/location"
)

// Broadcaster fans snapshots out to stream subscribers.
type Broadcaster interface {
	Broadcast(key string, payload []byte)
}

// StreamKey is the stream hub key carrying an account's hike snapshots.
func StreamKey(accountID string) string {
	return "hike:" + accountID
}

// Service owns the hike session of every account and the stored records behind them.
type Service struct {
	providers   func(accountID string) location.Provider
	store       Store
	cfg         Config
	broadcaster Broadcaster
	logger      *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewService(providers func(accountID string) location.Provider, store Store, cfg Config, broadcaster Broadcaster, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[tracking] ", log.LstdFlags)
	}
	return &Service{
		providers:   providers,
		store:       store,
		cfg:         cfg,
		broadcaster: broadcaster,
		logger:      logger,
		sessions:    map[string]*Session{},
	}
}

// Start opens a new hike for the account. A stopped hike is replaced; any other is kept
// and ErrSessionActive is returned.
func (s *Service) Start(accountID, trailRef string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[accountID]; ok && existing.State() != StateStopped {
		return existing.Snapshot(), ErrSessionActive
	}

	session := NewSession(s.providers(accountID), s.store, s.cfg,
		WithLogger(s.logger),
		WithPublisher(s.publisher(accountID)),
	)
	if _, err := session.Start(trailRef, accountID); err != nil {
		return Snapshot{State: StateIdle}, err
	}
	s.sessions[accountID] = session
	return session.Snapshot(), nil
}

func (s *Service) Pause(accountID string) (bool, Snapshot, error) {
	session, err := s.session(accountID)
	if err != nil {
		return false, Snapshot{State: StateIdle}, err
	}
	ok := session.Pause()
	return ok, session.Snapshot(), nil
}

func (s *Service) Resume(accountID string) (bool, Snapshot, error) {
	session, err := s.session(accountID)
	if err != nil {
		return false, Snapshot{State: StateIdle}, err
	}
	ok := session.Resume()
	return ok, session.Snapshot(), nil
}

// Stop ends the account's hike. A persistence error still leaves the hike stopped.
func (s *Service) Stop(ctx context.Context, accountID string) (bool, Snapshot, error) {
	session, err := s.session(accountID)
	if err != nil {
		return false, Snapshot{State: StateIdle}, err
	}
	ok, err := session.Stop(ctx)
	return ok, session.Snapshot(), err
}

// Checkpoint saves the current record of the account's hike, stopped or not.
func (s *Service) Checkpoint(ctx context.Context, accountID string) error {
	session, err := s.session(accountID)
	if err != nil {
		return err
	}
	return session.SaveCurrentRecord(ctx)
}

func (s *Service) Current(accountID string) Snapshot {
	session, err := s.session(accountID)
	if err != nil {
		return Snapshot{State: StateIdle}
	}
	return session.Snapshot()
}

func (s *Service) Records(ctx context.Context, accountID string) ([]HikeRecord, error) {
	return s.store.LoadAll(ctx, accountID)
}

func (s *Service) Record(ctx context.Context, accountID, id string) (HikeRecord, error) {
	records, err := s.store.LoadAll(ctx, accountID)
	if err != nil {
		return HikeRecord{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return HikeRecord{}, ErrNotFound
}

func (s *Service) Delete(ctx context.Context, accountID, id string) error {
	record, err := s.Record(ctx, accountID, id)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, record)
}

// Export writes a stored record in the requested format.
func (s *Service) Export(ctx context.Context, accountID, id string, format export.Format, w io.Writer) error {
	record, err := s.Record(ctx, accountID, id)
	if err != nil {
		return err
	}
	name := record.TrailRef
	if name == "" {
		name = "Hike " + record.StartTime.Format("2006-01-02 15:04")
	}
	return export.Write(w, format, export.Track{
		Name:        name,
		Description: fmt.Sprintf("%.2f km, %d s", record.Stats.TotalDistanceM/1000, record.DurationSec),
		StartTime:   record.StartTime,
		Points:      record.Points,
	})
}

// Close checkpoints every hike that has not been stopped.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if state := session.State(); state == StateTracking || state == StatePaused {
			sessions = append(sessions, session)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.SaveCurrentRecord(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) session(accountID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[accountID]
	if !ok {
		return nil, ErrNoSession
	}
	return session, nil
}

// streamedSnapshot replaces the full record with its summary so subscribers are not sent
// the whole track every second.
type streamedSnapshot struct {
	Snapshot
	Record *RecordSummary `json:"record,omitempty"`
}

func (s *Service) publisher(accountID string) func(Snapshot) {
	if s.broadcaster == nil {
		return nil
	}
	key := StreamKey(accountID)
	return func(snap Snapshot) {
		out := streamedSnapshot{Snapshot: snap}
		if snap.Record != nil {
			summary := snap.Record.Summary()
			out.Record = &summary
		}
		payload, err := json.Marshal(out)
		if err != nil {
			s.logger.Printf("marshal hike snapshot: %v", err)
			return
		}
		s.broadcaster.Broadcast(key, payload)
	}
}
