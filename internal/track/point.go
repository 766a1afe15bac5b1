// Package track holds the raw GPS sample shared by the tracking engine.
package track

import (
	"time"

	"backend-trailwatch/internal/shared/geo"
)

// TrackPoint is one GPS sample. Values are never mutated once recorded.
type TrackPoint struct {
	Lat                 float64   `json:"lat"`
	Lng                 float64   `json:"lng"`
	AltitudeM           float64   `json:"altitude_m"`
	SpeedMps            float64   `json:"speed_mps"` // negative when the device has no speed fix
	Timestamp           time.Time `json:"timestamp"`
	HorizontalAccuracyM float64   `json:"horizontal_accuracy_m"`
	VerticalAccuracyM   float64   `json:"vertical_accuracy_m"`
}

// Coordinate returns the horizontal position of the sample.
func (p TrackPoint) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: p.Lat, Lng: p.Lng}
}

// HasSpeed reports whether the sample carries a usable speed reading.
func (p TrackPoint) HasSpeed() bool {
	return p.SpeedMps >= 0
}
