// Package anomaly classifies a hiker's recent position history into at most one
// safety anomaly. Detect is pure so it can be driven by synthetic timelines.
package anomaly

import (
	"fmt"
	"time"

	"backend-trailwatch/internal/stats"
	"backend-trailwatch/internal/track"
)

type Type string

const (
	TypeNoMovement       Type = "no_movement"
	TypeLocationStuck    Type = "location_stuck"
	TypeNoLocationUpdate Type = "no_location_update"
	TypeBatteryLow       Type = "battery_low"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly is a transient detection result.
type Anomaly struct {
	Type       Type      `json:"type"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	DetectedAt time.Time `json:"detected_at"`
}

// Thresholds tune the rules. Distances are metres; comparisons are strict.
type Thresholds struct {
	StaleHigh        time.Duration
	StaleCritical    time.Duration
	StillRadiusM     float64
	NoMovementHigh   time.Duration
	NoMovementCrit   time.Duration
	StuckMedium      time.Duration
	BatteryLowMedium float64
	BatteryLowHigh   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		StaleHigh:        10 * time.Minute,
		StaleCritical:    30 * time.Minute,
		StillRadiusM:     50,
		NoMovementHigh:   15 * time.Minute,
		NoMovementCrit:   30 * time.Minute,
		StuckMedium:      5 * time.Minute,
		BatteryLowMedium: 0.15,
		BatteryLowHigh:   0.05,
	}
}

// Input is everything the detector looks at. Zero times and nil pointers mean absent.
type Input struct {
	Current      *track.TrackPoint
	Last         *track.TrackPoint
	LastUpdate   time.Time
	SessionStart time.Time
	BatteryLevel *float64 // 0..1
	Now          time.Time
}

// Detect applies the rules with DefaultThresholds.
func Detect(in Input) (Anomaly, bool) {
	return DefaultThresholds().Detect(in)
}

// Detect evaluates the rules in priority order and returns the first match:
// stale feed, no movement, stuck location, low battery.
func (th Thresholds) Detect(in Input) (Anomaly, bool) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	// A stale feed makes the movement rules meaningless, so it always wins.
	updatedAt := in.LastUpdate
	if updatedAt.IsZero() {
		updatedAt = in.SessionStart
	}
	if !updatedAt.IsZero() {
		stale := now.Sub(updatedAt)
		switch {
		case stale > th.StaleCritical:
			return th.found(TypeNoLocationUpdate, SeverityCritical, now,
				"No location update for %d minutes", minutes(stale)), true
		case stale > th.StaleHigh:
			return th.found(TypeNoLocationUpdate, SeverityHigh, now,
				"No location update for %d minutes", minutes(stale)), true
		}
	}

	if in.Current != nil && in.Last != nil {
		moved := stats.Distance(*in.Last, *in.Current)
		if moved < th.StillRadiusM {
			dwell := now.Sub(dwellStart(*in.Last, in.SessionStart))
			switch {
			case dwell > th.NoMovementCrit:
				return th.found(TypeNoMovement, SeverityCritical, now,
					"No movement detected for %d minutes", minutes(dwell)), true
			case dwell > th.NoMovementHigh:
				return th.found(TypeNoMovement, SeverityHigh, now,
					"No movement detected for %d minutes", minutes(dwell)), true
			case dwell > th.StuckMedium:
				return th.found(TypeLocationStuck, SeverityMedium, now,
					"Location unchanged for %d minutes", minutes(dwell)), true
			}
		}
	}

	if in.BatteryLevel != nil {
		level := *in.BatteryLevel
		switch {
		case level <= th.BatteryLowHigh:
			return th.found(TypeBatteryLow, SeverityHigh, now,
				"Battery critically low (%d%%)", int(level*100)), true
		case level <= th.BatteryLowMedium:
			return th.found(TypeBatteryLow, SeverityMedium, now,
				"Battery low (%d%%)", int(level*100)), true
		}
	}

	return Anomaly{}, false
}

func (th Thresholds) found(t Type, sev Severity, now time.Time, format string, args ...any) Anomaly {
	return Anomaly{
		Type:       t,
		Severity:   sev,
		Message:    fmt.Sprintf(format, args...),
		DetectedAt: now,
	}
}

// dwellStart never reaches back before the session began.
func dwellStart(last track.TrackPoint, sessionStart time.Time) time.Time {
	if !sessionStart.IsZero() && sessionStart.After(last.Timestamp) {
		return sessionStart
	}
	return last.Timestamp
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}
