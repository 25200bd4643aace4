package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"transitlk/internal/trip"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS trips (
	id          BIGINT PRIMARY KEY,
	date        TEXT NOT NULL,
	start_lat   DOUBLE PRECISION NOT NULL,
	start_lng   DOUBLE PRECISION NOT NULL,
	max_speed   DOUBLE PRECISION NOT NULL,
	frame_count INTEGER NOT NULL,
	distance_m  DOUBLE PRECISION NOT NULL,
	frames      JSONB NOT NULL,
	saved_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// TripStore keeps trip history in Postgres. Trips are ordered by start
// time, newest first, and trimmed to trip.MaxTrips on every save.
type TripStore struct {
	db *sql.DB
}

func NewTripStore(db *sql.DB) *TripStore { return &TripStore{db: db} }

// EnsureSchema creates the trips table if it does not exist.
func (s *TripStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create trips table: %w", err)
	}
	return nil
}

func (s *TripStore) Save(ctx context.Context, t trip.Trip) error {
	frames, err := json.Marshal(t.Frames)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := `
INSERT INTO trips (id, date, start_lat, start_lng, max_speed, frame_count, distance_m, frames)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	date = EXCLUDED.date,
	start_lat = EXCLUDED.start_lat,
	start_lng = EXCLUDED.start_lng,
	max_speed = EXCLUDED.max_speed,
	frame_count = EXCLUDED.frame_count,
	distance_m = EXCLUDED.distance_m,
	frames = EXCLUDED.frames,
	saved_at = now()`
	if _, err := tx.ExecContext(ctx, q, t.ID, t.Date, t.StartLat, t.StartLng, t.MaxSpeed, len(t.Frames), trip.Distance(t.Frames), frames); err != nil {
		return fmt.Errorf("insert trip %d: %w", t.ID, err)
	}
	trim := `DELETE FROM trips WHERE id NOT IN (SELECT id FROM trips ORDER BY id DESC LIMIT $1)`
	if _, err := tx.ExecContext(ctx, trim, trip.MaxTrips); err != nil {
		return fmt.Errorf("trim trips: %w", err)
	}
	return tx.Commit()
}

func (s *TripStore) List(ctx context.Context) ([]trip.Summary, error) {
	q := `SELECT id, date, frame_count, start_lat, start_lng, max_speed, distance_m FROM trips ORDER BY id DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, q, trip.MaxTrips)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var out []trip.Summary
	for rows.Next() {
		var ts trip.Summary
		if err := rows.Scan(&ts.ID, &ts.Date, &ts.FrameCount, &ts.StartLat, &ts.StartLng, &ts.MaxSpeed, &ts.Distance); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *TripStore) Get(ctx context.Context, id int64) (trip.Trip, error) {
	q := `SELECT id, date, start_lat, start_lng, max_speed, frames FROM trips WHERE id = $1`
	var (
		t      trip.Trip
		frames []byte
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&t.ID, &t.Date, &t.StartLat, &t.StartLng, &t.MaxSpeed, &frames)
	if errors.Is(err, sql.ErrNoRows) {
		return trip.Trip{}, trip.ErrNotFound
	}
	if err != nil {
		return trip.Trip{}, err
	}
	if err := json.Unmarshal(frames, &t.Frames); err != nil {
		return trip.Trip{}, fmt.Errorf("decode frames of trip %d: %w", id, err)
	}
	return t, nil
}

func (s *TripStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trips WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return trip.ErrNotFound
	}
	return nil
}

var _ trip.Store = (*TripStore)(nil)
