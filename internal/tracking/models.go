package tracking

import (
	"time"

	"backend-trailwatch/internal/live"
	"backend-trailwatch/internal/stats"
	"backend-trailwatch/internal/track"
)

type State = live.State

const (
	StateIdle     = live.StateIdle
	StateTracking = live.StateTracking
	StatePaused   = live.StatePaused
	StateStopped  = live.StateStopped
)

// HikeRecord is the single authoritative record of one hike. Stats is a cache of
// stats.Compute(Points) and is re-derived whenever a record is loaded.
type HikeRecord struct {
	ID          string             `json:"id"`
	AccountID   string             `json:"account_id"`
	TrailRef    string             `json:"trail_ref,omitempty"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     *time.Time         `json:"end_time,omitempty"`
	IsCompleted bool               `json:"is_completed"`
	DurationSec int64              `json:"duration_sec"`
	Stats       stats.Aggregate    `json:"stats"`
	Points      []track.TrackPoint `json:"points"`
}

// Refresh recomputes the cached statistics from the points. Open records measure
// their duration up to now.
func (r *HikeRecord) Refresh(now time.Time) {
	r.Stats = stats.Compute(r.Points)
	end := now
	if r.EndTime != nil {
		end = *r.EndTime
	}
	if d := end.Sub(r.StartTime); d > 0 {
		r.DurationSec = int64(d / time.Second)
	} else {
		r.DurationSec = 0
	}
}

// frozen returns a copy whose point slice cannot be grown into by the owner.
func (r HikeRecord) frozen() HikeRecord {
	n := len(r.Points)
	r.Points = r.Points[:n:n]
	if r.EndTime != nil {
		end := *r.EndTime
		r.EndTime = &end
	}
	return r
}

// Snapshot is the read-only view published after every change to a hike session.
type Snapshot struct {
	State             State       `json:"state"`
	Record            *HikeRecord `json:"record,omitempty"`
	PointCount        int         `json:"point_count"`
	CurrentSpeedMps   float64     `json:"current_speed_mps"`
	CurrentAltitudeM  float64     `json:"current_altitude_m"`
	TotalDistanceM    float64     `json:"total_distance_m"`
	ElapsedSec        int64       `json:"elapsed_sec"`
	LastError         string      `json:"last_error,omitempty"`
	PermissionPending bool        `json:"permission_pending"`
}

// RecordSummary is a hike record without its points, used for listings.
type RecordSummary struct {
	ID          string          `json:"id"`
	TrailRef    string          `json:"trail_ref,omitempty"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     *time.Time      `json:"end_time,omitempty"`
	IsCompleted bool            `json:"is_completed"`
	DurationSec int64           `json:"duration_sec"`
	PointCount  int             `json:"point_count"`
	Stats       stats.Aggregate `json:"stats"`
}

func (r HikeRecord) Summary() RecordSummary {
	return RecordSummary{
		ID:          r.ID,
		TrailRef:    r.TrailRef,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		IsCompleted: r.IsCompleted,
		DurationSec: r.DurationSec,
		PointCount:  len(r.Points),
		Stats:       r.Stats,
	}
}
