package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"backend-trailwatch/internal/track"
	"backend-trailwatch/internal/tracking"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// SQLite stores records through database/sql. Times are kept as Unix nanoseconds.
type SQLite struct {
	db *sql.DB
}

// NewSQLite migrates db to the latest schema and returns a store on it.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if err := migrateSQLite(db); err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations/sqlite")
	if err != nil {
		return err
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m.Close would close db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool {
	return false
}

func (s *SQLite) Save(ctx context.Context, r tracking.HikeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("save", err)
	}
	if err := saveSQLite(ctx, tx, r); err != nil {
		_ = tx.Rollback()
		return wrap("save", err)
	}
	return wrap("save", tx.Commit())
}

func saveSQLite(ctx context.Context, tx *sql.Tx, r tracking.HikeRecord) error {
	var end sql.NullInt64
	if r.EndTime != nil {
		end = sql.NullInt64{Int64: r.EndTime.UnixNano(), Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO hike_records (id, account_id, trail_ref, start_time_ns, end_time_ns, is_completed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET trail_ref=excluded.trail_ref, end_time_ns=excluded.end_time_ns, is_completed=excluded.is_completed
		WHERE hike_records.account_id=excluded.account_id
	`, r.ID, r.AccountID, r.TrailRef, r.StartTime.UnixNano(), end, r.IsCompleted)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record %s belongs to another account", r.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM hike_points WHERE record_id=?`, r.ID); err != nil {
		return err
	}
	if len(r.Points) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO hike_points (record_id, seq, lat, lng, altitude_m, speed_mps, recorded_at_ns, horizontal_accuracy_m, vertical_accuracy_m)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, pt := range r.Points {
		if _, err := stmt.ExecContext(ctx, r.ID, i, pt.Lat, pt.Lng, pt.AltitudeM, pt.SpeedMps, pt.Timestamp.UnixNano(), pt.HorizontalAccuracyM, pt.VerticalAccuracyM); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) LoadAll(ctx context.Context, accountID string) ([]tracking.HikeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, trail_ref, start_time_ns, end_time_ns, is_completed
		FROM hike_records WHERE account_id=?
		ORDER BY start_time_ns DESC
	`, accountID)
	if err != nil {
		return nil, wrap("load", err)
	}

	var records []tracking.HikeRecord
	for rows.Next() {
		var (
			r     tracking.HikeRecord
			start int64
			end   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.AccountID, &r.TrailRef, &start, &end, &r.IsCompleted); err != nil {
			rows.Close()
			return nil, wrap("load", err)
		}
		r.StartTime = fromNanos(start)
		if end.Valid {
			t := fromNanos(end.Int64)
			r.EndTime = &t
		}
		records = append(records, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrap("load", err)
	}

	for i := range records {
		points, err := s.points(ctx, records[i].ID)
		if err != nil {
			return nil, wrap("load", err)
		}
		records[i].Points = points
		derive(&records[i])
	}
	return records, nil
}

func (s *SQLite) points(ctx context.Context, recordID string) ([]track.TrackPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lat, lng, altitude_m, speed_mps, recorded_at_ns, horizontal_accuracy_m, vertical_accuracy_m
		FROM hike_points WHERE record_id=?
		ORDER BY seq
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []track.TrackPoint
	for rows.Next() {
		var (
			pt track.TrackPoint
			at int64
		)
		if err := rows.Scan(&pt.Lat, &pt.Lng, &pt.AltitudeM, &pt.SpeedMps, &at, &pt.HorizontalAccuracyM, &pt.VerticalAccuracyM); err != nil {
			return nil, err
		}
		pt.Timestamp = fromNanos(at)
		points = append(points, pt)
	}
	return points, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, r tracking.HikeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("delete", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM hike_points WHERE record_id=?`, r.ID); err != nil {
		_ = tx.Rollback()
		return wrap("delete", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM hike_records WHERE id=? AND account_id=?`, r.ID, r.AccountID)
	if err != nil {
		_ = tx.Rollback()
		return wrap("delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		_ = tx.Rollback()
		return wrap("delete", tracking.ErrNotFound)
	}
	return wrap("delete", tx.Commit())
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
