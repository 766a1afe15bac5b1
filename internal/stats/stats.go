// Package stats folds a recorded track into distance, elevation and speed figures.
// Every function is pure and leaves its input untouched.
package stats

import (
	"math"

	"backend-trailwatch/internal/shared/geo"
	"backend-trailwatch/internal/track"

	"gonum.org/v1/gonum/stat"
)

// Elevation is the vertical profile of a track.
type Elevation struct {
	GainM float64 `json:"gain_m"`
	LossM float64 `json:"loss_m"`
	MinM  float64 `json:"min_m"`
	MaxM  float64 `json:"max_m"`
}

// Motion is the horizontal movement summary of a track.
type Motion struct {
	TotalDistanceM  float64 `json:"total_distance_m"`
	AverageSpeedMps float64 `json:"average_speed_mps"`
	MaxSpeedMps     float64 `json:"max_speed_mps"`
}

// Aggregate is the cached statistics block of a hike record.
type Aggregate struct {
	TotalDistanceM  float64 `json:"total_distance_m"`
	AverageSpeedMps float64 `json:"average_speed_mps"`
	MaxSpeedMps     float64 `json:"max_speed_mps"`
	ElevationGainM  float64 `json:"elevation_gain_m"`
	ElevationLossM  float64 `json:"elevation_loss_m"`
	MinAltitudeM    float64 `json:"min_altitude_m"`
	MaxAltitudeM    float64 `json:"max_altitude_m"`
}

// Distance returns the great-circle distance between two samples in metres.
func Distance(a, b track.TrackPoint) float64 {
	return geo.DistanceM(a.Coordinate(), b.Coordinate())
}

// ElevationProfile walks consecutive altitude deltas. ok is false for an empty track,
// in which case the returned profile is the zero value.
func ElevationProfile(points []track.TrackPoint) (Elevation, bool) {
	if len(points) == 0 {
		return Elevation{}, false
	}

	first := points[0].AltitudeM
	e := Elevation{MinM: first, MaxM: first}
	for i := 1; i < len(points); i++ {
		alt := points[i].AltitudeM
		delta := alt - points[i-1].AltitudeM
		if delta > 0 {
			e.GainM += delta
		} else if delta < 0 {
			e.LossM += -delta
		}
		e.MinM = math.Min(e.MinM, alt)
		e.MaxM = math.Max(e.MaxM, alt)
	}
	return e, true
}

// MotionStatistics sums segment distances and summarises instantaneous speed readings.
// Non-positive readings are left out of the average but still count toward the maximum,
// clamped to zero.
func MotionStatistics(points []track.TrackPoint) Motion {
	if len(points) < 2 {
		if len(points) == 1 {
			return Motion{MaxSpeedMps: math.Max(points[0].SpeedMps, 0)}
		}
		return Motion{}
	}

	var m Motion
	positive := make([]float64, 0, len(points))
	for i, p := range points {
		if i > 0 {
			m.TotalDistanceM += Distance(points[i-1], p)
		}
		m.MaxSpeedMps = math.Max(m.MaxSpeedMps, math.Max(p.SpeedMps, 0))
		if p.SpeedMps > 0 {
			positive = append(positive, p.SpeedMps)
		}
	}
	if len(positive) > 0 {
		m.AverageSpeedMps = stat.Mean(positive, nil)
	}
	return m
}

// Compute runs both folds. An empty track yields the zero Aggregate.
func Compute(points []track.TrackPoint) Aggregate {
	m := MotionStatistics(points)
	agg := Aggregate{
		TotalDistanceM:  m.TotalDistanceM,
		AverageSpeedMps: m.AverageSpeedMps,
		MaxSpeedMps:     m.MaxSpeedMps,
	}
	if e, ok := ElevationProfile(points); ok {
		agg.ElevationGainM = e.GainM
		agg.ElevationLossM = e.LossM
		agg.MinAltitudeM = e.MinM
		agg.MaxAltitudeM = e.MaxM
	}
	return agg
}
