package sharing

import (
	"time"

	"backend-trailwatch/internal/anomaly"
	"backend-trailwatch/internal/live"
	"backend-trailwatch/internal/track"
)

type State string

const (
	StateIdle    State = "idle"
	StateActive  State = "active"
	StateStopped State = "stopped"
)

func stateOf(s live.State) State {
	switch s {
	case live.StateTracking, live.StatePaused:
		return StateActive
	case live.StateStopped:
		return StateStopped
	}
	return StateIdle
}

// ShareSession is the persisted side of a location share.
type ShareSession struct {
	ID         string            `json:"id"`
	AccountID  string            `json:"account_id"`
	Active     bool              `json:"active"`
	StartTime  time.Time         `json:"start_time"`
	ExpiresAt  time.Time         `json:"expires_at"`
	LastKnown  *track.TrackPoint `json:"last_known,omitempty"`
	LastUpdate *time.Time        `json:"last_update,omitempty"`
}

func (s ShareSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

func (s ShareSession) clone() ShareSession {
	if s.LastKnown != nil {
		p := *s.LastKnown
		s.LastKnown = &p
	}
	if s.LastUpdate != nil {
		t := *s.LastUpdate
		s.LastUpdate = &t
	}
	return s
}

// Snapshot is the read-only view published after every change to a share.
type Snapshot struct {
	State             State            `json:"state"`
	Share             *ShareSession    `json:"share,omitempty"`
	LastAnomaly       *anomaly.Anomaly `json:"last_anomaly,omitempty"`
	Expired           bool             `json:"expired"`
	LastError         string           `json:"last_error,omitempty"`
	PermissionPending bool             `json:"permission_pending"`
}
