// Package location is the position source consumed by the tracking engine. The phone
// reports its permission state and raw samples; sessions poll the latest value.
package location

import (
	"errors"
	"sync"

	"backend-trailwatch/internal/track"
)

type AuthorizationState string

const (
	NotDetermined       AuthorizationState = "not_determined"
	AuthorizedAlways    AuthorizationState = "authorized_always"
	AuthorizedWhenInUse AuthorizationState = "authorized_when_in_use"
	Denied              AuthorizationState = "denied"
	Restricted          AuthorizationState = "restricted"
)

func (a AuthorizationState) Authorized() bool {
	return a == AuthorizedAlways || a == AuthorizedWhenInUse
}

// Refused reports whether the user or the platform has declined location access.
func (a AuthorizationState) Refused() bool {
	return a == Denied || a == Restricted
}

func (a AuthorizationState) Valid() bool {
	switch a {
	case NotDetermined, AuthorizedAlways, AuthorizedWhenInUse, Denied, Restricted:
		return true
	}
	return false
}

var (
	ErrNotAuthorized  = errors.New("location access not authorized")
	ErrUpdatesStopped = errors.New("location updates are not running")
	ErrInvalidState   = errors.New("unknown authorization state")
)

// Provider is what a session needs from the position source. CurrentPosition never blocks.
type Provider interface {
	AuthorizationState() AuthorizationState
	RequestPermission()
	StartUpdates()
	StopUpdates()
	CurrentPosition() (track.TrackPoint, bool)
}

// BatteryReporter is optionally implemented by providers that know the device battery level.
type BatteryReporter interface {
	BatteryLevel() (float64, bool)
}

// Feed is the per-account Provider backed by samples the device pushes.
// Update subscriptions are counted so a hike and a share can both hold them.
type Feed struct {
	mu                  sync.RWMutex
	auth                AuthorizationState
	permissionRequested bool
	subscribers         int
	position            track.TrackPoint
	hasPosition         bool
	battery             float64
	hasBattery          bool
}

func NewFeed() *Feed {
	return &Feed{auth: NotDetermined}
}

func (f *Feed) AuthorizationState() AuthorizationState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.auth
}

// RequestPermission flags a pending prompt for the device. It has no effect once the
// user has answered.
func (f *Feed) RequestPermission() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auth == NotDetermined {
		f.permissionRequested = true
	}
}

// PermissionRequested reports whether a session asked for a permission prompt that the
// device has not answered yet.
func (f *Feed) PermissionRequested() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.permissionRequested
}

// SetAuthorization records the answer reported by the device.
func (f *Feed) SetAuthorization(state AuthorizationState) error {
	if !state.Valid() {
		return ErrInvalidState
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = state
	if state != NotDetermined {
		f.permissionRequested = false
	}
	return nil
}

func (f *Feed) StartUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers++
}

// StopUpdates releases one subscription. When the last one goes the latest position is
// forgotten, so the next session starts without a fix from an earlier one.
func (f *Feed) StopUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribers > 0 {
		f.subscribers--
	}
	if f.subscribers == 0 {
		f.position = track.TrackPoint{}
		f.hasPosition = false
	}
}

// Updating reports whether at least one session holds an update subscription.
func (f *Feed) Updating() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.subscribers > 0
}

// Report stores a sample pushed by the device as the latest known position.
func (f *Feed) Report(p track.TrackPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.auth.Authorized() {
		return ErrNotAuthorized
	}
	if f.subscribers == 0 {
		return ErrUpdatesStopped
	}
	f.position = p
	f.hasPosition = true
	return nil
}

func (f *Feed) CurrentPosition() (track.TrackPoint, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.position, f.hasPosition
}

// ReportBattery records the device battery level as a fraction between 0 and 1.
func (f *Feed) ReportBattery(level float64) {
	if level < 0 {
		level = 0
	} else if level > 1 {
		level = 1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.battery = level
	f.hasBattery = true
}

func (f *Feed) BatteryLevel() (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.battery, f.hasBattery
}

// Registry hands out one Feed per account.
type Registry struct {
	mu    sync.Mutex
	feeds map[string]*Feed
}

func NewRegistry() *Registry {
	return &Registry{feeds: map[string]*Feed{}}
}

func (r *Registry) For(accountID string) *Feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	feed, ok := r.feeds[accountID]
	if !ok {
		feed = NewFeed()
		r.feeds[accountID] = feed
	}
	return feed
}
