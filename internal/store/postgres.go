// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/relabs-tech/hyperbaric_controller/internal/control"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
	"github.com/relabs-tech/hyperbaric_controller/internal/tuning"
)

// ErrNoSettings is returned before any settings or gains were saved.
var ErrNoSettings = errors.New("no saved settings")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              UUID PRIMARY KEY,
	started_at      TIMESTAMPTZ NOT NULL,
	ended_at        TIMESTAMPTZ,
	depth           DOUBLE PRECISION NOT NULL,
	speed           INTEGER NOT NULL,
	total_minutes   DOUBLE PRECISION NOT NULL,
	descent_minutes DOUBLE PRECISION NOT NULL,
	ascent_minutes  DOUBLE PRECISION NOT NULL,
	status          TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_sensor_logs (
	session_id  UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	at          TIMESTAMPTZ NOT NULL,
	elapsed     INTEGER NOT NULL,
	pressure    DOUBLE PRECISION,
	o2          DOUBLE PRECISION,
	temperature DOUBLE PRECISION,
	humidity    DOUBLE PRECISION,
	target      DOUBLE PRECISION,
	comp        DOUBLE PRECISION,
	decomp      DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS session_sensor_logs_session ON session_sensor_logs (session_id, elapsed);
CREATE TABLE IF NOT EXISTS tuning_sessions (
	id              UUID PRIMARY KEY,
	started_at      TIMESTAMPTZ NOT NULL,
	ended_at        TIMESTAMPTZ,
	status          TEXT NOT NULL,
	target_depth    DOUBLE PRECISION,
	target_duration DOUBLE PRECISION,
	used_params     JSONB NOT NULL,
	samples         JSONB NOT NULL DEFAULT '[]',
	analysis        JSONB,
	recommendation  JSONB,
	error           TEXT,
	approved        BOOLEAN NOT NULL DEFAULT FALSE,
	approved_at     TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS chamber_settings (
	id             INTEGER PRIMARY KEY,
	depth          DOUBLE PRECISION,
	total_duration DOUBLE PRECISION,
	speed          INTEGER,
	gains          JSONB,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// settingsRow is the single chamber_settings row.
const settingsRow = 1

// Repository is the PostgreSQL history store. It implements session.Recorder
// and tuning.Repository.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Repository{db: db}, nil
}

// Migrate creates the tables when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// ===== Session records =====

func (r *Repository) StartSession(ctx context.Context, s session.Record) error {
	query := `
		INSERT INTO sessions (id, started_at, depth, speed, total_minutes, descent_minutes, ascent_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.StartedAt,
		s.Depth,
		s.Speed,
		s.TotalMinutes,
		s.DescentMinutes,
		s.AscentMinutes,
		s.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *Repository) EndSession(ctx context.Context, id uuid.UUID, status string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET status = $2, ended_at = $3 WHERE id = $1`, id, status, at)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (r *Repository) LogSensors(ctx context.Context, l session.SensorLog) error {
	query := `
		INSERT INTO session_sensor_logs (session_id, at, elapsed, pressure, o2, temperature, humidity, target, comp, decomp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		l.SessionID,
		l.At,
		l.Elapsed,
		l.Reading.PressureBar,
		l.Reading.O2Percent,
		l.Reading.TemperatureC,
		l.Reading.HumidityPct,
		l.TargetFsw,
		l.Comp,
		l.Decomp,
	)
	if err != nil {
		return fmt.Errorf("failed to log sensors: %w", err)
	}
	return nil
}

// Sessions returns the latest limit session records, newest first.
func (r *Repository) Sessions(ctx context.Context, limit int) ([]session.Record, error) {
	query := `
		SELECT id, started_at, ended_at, depth, speed, total_minutes, descent_minutes, ascent_minutes, status
		FROM sessions
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Record
	for rows.Next() {
		var s session.Record
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.EndedAt, &s.Depth, &s.Speed,
			&s.TotalMinutes, &s.DescentMinutes, &s.AscentMinutes, &s.Status); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ===== Settings =====

func (r *Repository) SaveSettings(ctx context.Context, s session.Settings) error {
	query := `
		INSERT INTO chamber_settings (id, depth, total_duration, speed, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET depth = EXCLUDED.depth, total_duration = EXCLUDED.total_duration, speed = EXCLUDED.speed, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, settingsRow, s.Depth, s.TotalMinutes, s.Speed); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (r *Repository) SaveGains(ctx context.Context, g control.Gains) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal gains: %w", err)
	}
	query := `
		INSERT INTO chamber_settings (id, gains, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET gains = EXCLUDED.gains, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, settingsRow, string(data)); err != nil {
		return fmt.Errorf("failed to save gains: %w", err)
	}
	return nil
}

// LoadSettings returns the last saved settings. Gains are nil when none
// were applied yet. ErrNoSettings means the row does not exist.
func (r *Repository) LoadSettings(ctx context.Context) (session.Settings, *control.Gains, error) {
	var (
		depth, total sql.NullFloat64
		speed        sql.NullInt64
		gainsJSON    []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT depth, total_duration, speed, gains FROM chamber_settings WHERE id = $1`, settingsRow,
	).Scan(&depth, &total, &speed, &gainsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Settings{}, nil, ErrNoSettings
		}
		return session.Settings{}, nil, fmt.Errorf("failed to load settings: %w", err)
	}

	s := session.DefaultSettings
	if depth.Valid && total.Valid && speed.Valid {
		s = session.Settings{Depth: depth.Float64, TotalMinutes: total.Float64, Speed: int(speed.Int64)}
	}
	var gains *control.Gains
	if len(gainsJSON) > 0 {
		gains = &control.Gains{}
		if err := json.Unmarshal(gainsJSON, gains); err != nil {
			return s, nil, fmt.Errorf("failed to unmarshal gains: %w", err)
		}
	}
	return s, gains, nil
}

// ===== Tuning sessions =====

func (r *Repository) CreateTuningSession(ctx context.Context, s *tuning.Session) error {
	used, err := json.Marshal(s.Used)
	if err != nil {
		return fmt.Errorf("failed to marshal gains: %w", err)
	}
	query := `
		INSERT INTO tuning_sessions (id, started_at, status, target_depth, target_duration, used_params)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.StartedAt, s.Status, s.TargetDepth, s.TargetDuration, string(used)); err != nil {
		return fmt.Errorf("failed to create tuning session: %w", err)
	}
	return nil
}

// SaveTuningSamples replaces the stored samples with the full recording.
func (r *Repository) SaveTuningSamples(ctx context.Context, id uuid.UUID, samples []tuning.Sample) error {
	data, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("failed to marshal samples: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE tuning_sessions SET samples = $2 WHERE id = $1`, id, string(data)); err != nil {
		return fmt.Errorf("failed to save tuning samples: %w", err)
	}
	return nil
}

func (r *Repository) CompleteTuningSession(ctx context.Context, s *tuning.Session) error {
	analysis, err := nullJSON(s.Analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	rec, err := nullJSON(s.Recommendation)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendation: %w", err)
	}
	query := `
		UPDATE tuning_sessions
		SET ended_at = $2, status = $3, analysis = $4, recommendation = $5, error = $6
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.EndedAt, s.Status, analysis, rec, nullString(s.Error)); err != nil {
		return fmt.Errorf("failed to complete tuning session: %w", err)
	}
	return nil
}

func (r *Repository) ApproveTuningSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE tuning_sessions SET approved = TRUE, approved_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to approve tuning session: %w", err)
	}
	return nil
}

func (r *Repository) TuningHistory(ctx context.Context, limit int) ([]tuning.Session, error) {
	query := `
		SELECT id, started_at, ended_at, status, target_depth, target_duration, used_params,
		       analysis, recommendation, error, approved, approved_at
		FROM tuning_sessions
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tuning sessions: %w", err)
	}
	defer rows.Close()

	var out []tuning.Session
	for rows.Next() {
		var (
			s                   tuning.Session
			depth, duration     sql.NullFloat64
			used, analysis, rec []byte
			errText             sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.EndedAt, &s.Status, &depth, &duration, &used,
			&analysis, &rec, &errText, &s.Approved, &s.ApprovedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tuning session: %w", err)
		}
		s.TargetDepth = depth.Float64
		s.TargetDuration = duration.Float64
		s.Error = errText.String
		if err := json.Unmarshal(used, &s.Used); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gains: %w", err)
		}
		if len(analysis) > 0 {
			s.Analysis = &tuning.Analysis{}
			if err := json.Unmarshal(analysis, s.Analysis); err != nil {
				return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
			}
		}
		if len(rec) > 0 {
			s.Recommendation = &tuning.Recommendation{}
			if err := json.Unmarshal(rec, s.Recommendation); err != nil {
				return nil, fmt.Errorf("failed to unmarshal recommendation: %w", err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// nullJSON encodes v for a JSONB column, NULL when v is nil.
func nullJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
