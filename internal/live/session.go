// Package live runs a monitored session: a small state machine that owns a payload
// and a set of periodic loops which only run while the session is tracking.
package live

import (
	"context"
	"log"
	"sync"
	"time"
)

type State string

const (
	StateIdle     State = "idle"
	StateTracking State = "tracking"
	StatePaused   State = "paused"
	StateStopped  State = "stopped"
)

// Loop is a periodic task. Tick runs once per Interval while the session is tracking;
// the first tick fires one Interval after the loop is launched.
type Loop struct {
	Name     string
	Interval time.Duration
	Tick     func(ctx context.Context)
}

// Option configures a Session.
type Option func(*options)

type options struct {
	logger     *log.Logger
	transition func(from, to State)
}

// WithLogger overrides the logger used for loop lifecycle messages.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTransitionHook registers fn to be called after every state change.
// It runs with the session lock held and must not call back into the session.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(o *options) {
		o.transition = fn
	}
}

// Session is the generic lifecycle shared by hike tracking and location sharing.
// P is the payload the loops mutate: a growing track or a rolling position.
//
// Cancellation happens under mu and every loop mutation re-checks its context under mu,
// so once Pause or Stop returns no cancelled loop can touch the payload again. None of
// the transitions wait for in-flight ticks.
type Session[P any] struct {
	mu      sync.Mutex
	state   State
	payload P
	loops   []Loop
	cancel  context.CancelFunc
	runs    []chan struct{} // one per launch, closed when its loops have returned
	opts    options
}

func New[P any](loops []Loop, opts ...Option) *Session[P] {
	o := options{
		logger: log.New(log.Writer(), "[live] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Session[P]{
		state: StateIdle,
		loops: loops,
		opts:  o,
	}
}

// Start moves Idle -> Tracking with the given initial payload and launches the loops.
func (s *Session[P]) Start(initial P) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return false
	}
	s.payload = initial
	s.setState(StateTracking)
	s.launch()
	return true
}

// Pause moves Tracking -> Paused, cancelling the loops and keeping the payload.
func (s *Session[P]) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateTracking {
		return false
	}
	s.halt()
	s.setState(StatePaused)
	return true
}

// Resume moves Paused -> Tracking and relaunches the loops.
func (s *Session[P]) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return false
	}
	s.setState(StateTracking)
	s.launch()
	return true
}

// Stop moves Tracking or Paused -> Stopped. finalize, when non-nil, runs on the payload
// after the loops are cancelled. from is the state the session left.
func (s *Session[P]) Stop(finalize func(p *P)) (from State, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from = s.state
	if from != StateTracking && from != StatePaused {
		return from, false
	}
	s.halt()
	if finalize != nil {
		finalize(&s.payload)
	}
	s.setState(StateStopped)
	return from, true
}

// Update applies fn on behalf of a loop. It is dropped when ctx is already cancelled.
func (s *Session[P]) Update(ctx context.Context, fn func(p *P)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	fn(&s.payload)
	return true
}

// Modify applies fn regardless of state. It is meant for owner-side bookkeeping such as
// recording a persistence error.
func (s *Session[P]) Modify(fn func(state State, p *P)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state, &s.payload)
}

// Read gives fn a consistent view of state and payload. fn must not retain p.
func (s *Session[P]) Read(fn func(state State, p *P)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state, &s.payload)
}

func (s *Session[P]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Wait blocks until every loop goroutine launched before the call has returned. Loops
// launched by a concurrent Resume are not waited for.
func (s *Session[P]) Wait() {
	s.mu.Lock()
	runs := append([]chan struct{}(nil), s.runs...)
	s.mu.Unlock()

	for _, done := range runs {
		<-done
	}
}

func (s *Session[P]) setState(to State) {
	from := s.state
	s.state = to
	if s.opts.transition != nil && from != to {
		s.opts.transition(from, to)
	}
}

func (s *Session[P]) launch() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pruneRuns()

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(len(s.loops))
	for _, loop := range s.loops {
		go s.run(ctx, loop, &wg)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	s.runs = append(s.runs, done)
}

func (s *Session[P]) pruneRuns() {
	pending := s.runs[:0]
	for _, done := range s.runs {
		select {
		case <-done:
		default:
			pending = append(pending, done)
		}
	}
	clear(s.runs[len(pending):])
	s.runs = pending
}

func (s *Session[P]) halt() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session[P]) run(ctx context.Context, loop Loop, wg *sync.WaitGroup) {
	defer wg.Done()

	if loop.Interval <= 0 {
		s.opts.logger.Printf("loop %s has no interval, not started", loop.Name)
		return
	}
	ticker := time.NewTicker(loop.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// select picks randomly when both are ready; never start a tick after cancellation.
		if ctx.Err() != nil {
			return
		}
		loop.Tick(ctx)
	}
}
