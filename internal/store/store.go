// Package store persists hike records in Postgres or, for single-device deployments,
// in an embedded SQLite database.
package store

import (
	"embed"
	"time"

	"backend-trailwatch/internal/observability"
	"backend-trailwatch/internal/tracking"
)

//go:embed migrations
var migrations embed.FS

// Error reports the store operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	observability.StoreError(op)
	return &Error{Op: op, Err: err}
}

// derive rebuilds the cached statistics of a loaded record. Open records are measured up
// to their last point.
func derive(r *tracking.HikeRecord) {
	end := r.StartTime
	if n := len(r.Points); n > 0 {
		end = r.Points[n-1].Timestamp
	}
	r.Refresh(end)
}

var (
	_ tracking.Store = (*Postgres)(nil)
	_ tracking.Store = (*SQLite)(nil)
)

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
