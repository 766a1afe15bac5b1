package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"backend-trailwatch/internal/db"
	"backend-trailwatch/internal/track"
	"backend-trailwatch/internal/tracking"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
)

var pointColumns = []string{
	"record_id", "seq", "lat", "lng", "altitude_m", "speed_mps",
	"recorded_at", "horizontal_accuracy_m", "vertical_accuracy_m",
}

type Postgres struct {
	db db.TxQuerier
}

func NewPostgres(q db.TxQuerier) *Postgres {
	return &Postgres{db: q}
}

// MigratePostgres applies the embedded schema to the database at url.
func MigratePostgres(url string) error {
	src, err := iofs.New(migrations, "migrations/postgres")
	if err != nil {
		return err
	}
	target := url
	if i := strings.Index(url, "://"); i >= 0 {
		target = "pgx5" + url[i:]
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// Save replaces the stored version of the record in one transaction.
func (p *Postgres) Save(ctx context.Context, r tracking.HikeRecord) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return wrap("save", err)
	}
	if err := savePostgres(ctx, tx, r); err != nil {
		_ = tx.Rollback(ctx)
		return wrap("save", err)
	}
	return wrap("save", tx.Commit(ctx))
}

func savePostgres(ctx context.Context, tx pgx.Tx, r tracking.HikeRecord) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO hike_records (id, account_id, trail_ref, start_time, end_time, is_completed)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET trail_ref=EXCLUDED.trail_ref, end_time=EXCLUDED.end_time,
		    is_completed=EXCLUDED.is_completed, updated_at=now()
		WHERE hike_records.account_id=EXCLUDED.account_id
	`, r.ID, r.AccountID, r.TrailRef, r.StartTime, r.EndTime, r.IsCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s belongs to another account", r.ID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM hike_points WHERE record_id=$1`, r.ID); err != nil {
		return err
	}
	if len(r.Points) == 0 {
		return nil
	}

	rows := make([][]any, len(r.Points))
	for i, pt := range r.Points {
		rows[i] = []any{r.ID, i, pt.Lat, pt.Lng, pt.AltitudeM, pt.SpeedMps, pt.Timestamp, pt.HorizontalAccuracyM, pt.VerticalAccuracyM}
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"hike_points"}, pointColumns, pgx.CopyFromRows(rows))
	return err
}

func (p *Postgres) LoadAll(ctx context.Context, accountID string) ([]tracking.HikeRecord, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, account_id, trail_ref, start_time, end_time, is_completed
		FROM hike_records WHERE account_id=$1
		ORDER BY start_time DESC
	`, accountID)
	if err != nil {
		return nil, wrap("load", err)
	}

	var records []tracking.HikeRecord
	for rows.Next() {
		var r tracking.HikeRecord
		if err := rows.Scan(&r.ID, &r.AccountID, &r.TrailRef, &r.StartTime, &r.EndTime, &r.IsCompleted); err != nil {
			rows.Close()
			return nil, wrap("load", err)
		}
		records = append(records, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrap("load", err)
	}

	for i := range records {
		points, err := p.points(ctx, records[i].ID)
		if err != nil {
			return nil, wrap("load", err)
		}
		records[i].Points = points
		derive(&records[i])
	}
	return records, nil
}

func (p *Postgres) points(ctx context.Context, recordID string) ([]track.TrackPoint, error) {
	rows, err := p.db.Query(ctx, `
		SELECT lat, lng, altitude_m, speed_mps, recorded_at, horizontal_accuracy_m, vertical_accuracy_m
		FROM hike_points WHERE record_id=$1
		ORDER BY seq
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []track.TrackPoint
	for rows.Next() {
		var pt track.TrackPoint
		if err := rows.Scan(&pt.Lat, &pt.Lng, &pt.AltitudeM, &pt.SpeedMps, &pt.Timestamp, &pt.HorizontalAccuracyM, &pt.VerticalAccuracyM); err != nil {
			return nil, err
		}
		points = append(points, pt)
	}
	return points, rows.Err()
}

// Delete removes the record and, through the foreign key, its points.
func (p *Postgres) Delete(ctx context.Context, r tracking.HikeRecord) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM hike_records WHERE id=$1 AND account_id=$2`, r.ID, r.AccountID)
	if err != nil {
		return wrap("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("delete", tracking.ErrNotFound)
	}
	return nil
}
