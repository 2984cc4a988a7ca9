// Package db stores detector sessions and per-frame results in SQLite.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/eye3d/internal/camera"
	"github.com/banshee-data/eye3d/internal/detector"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("db: session not found")

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (or creates) the database at path and applies pending
// migrations.
func NewDB(path string) (*DB, error) {
	// Pragmas in the DSN apply to every pooled connection.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer; the detector loop is the only producer.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Session describes one detector run.
type Session struct {
	ID        string
	Created   time.Time
	Source    string
	Mode      string
	Camera    camera.Model
	ConfigRaw string
}

// CreateSession records a new run and returns its id.
func (db *DB) CreateSession(source, mode string, cam camera.Model, cfg any) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session config: %w", err)
	}
	id := uuid.NewString()
	_, err = db.Exec(
		`INSERT INTO sessions (
			session_id, created_unix_nano, source, mode, focal_length, width, height, config_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UnixNano(), source, mode,
		cam.FocalLength, cam.Resolution[0], cam.Resolution[1], string(cfgJSON),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// Session loads one session by id.
func (db *DB) Session(id string) (Session, error) {
	row := db.QueryRow(`SELECT session_id, created_unix_nano, source, mode, focal_length, width, height, config_json
		FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// Sessions lists sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`SELECT session_id, created_unix_nano, source, mode, focal_length, width, height, config_json
		FROM sessions ORDER BY created_unix_nano DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// LatestSession returns the most recently created session.
func (db *DB) LatestSession() (Session, error) {
	sessions, err := db.Sessions()
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, ErrSessionNotFound
	}
	return sessions[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s       Session
		created int64
	)
	err := row.Scan(&s.ID, &created, &s.Source, &s.Mode,
		&s.Camera.FocalLength, &s.Camera.Resolution[0], &s.Camera.Resolution[1], &s.ConfigRaw)
	if err != nil {
		return Session{}, err
	}
	s.Created = time.Unix(0, created)
	return s, nil
}

const insertResult = `INSERT INTO results (
	session_id, frame_index, timestamp,
	sphere_x, sphere_y, sphere_z,
	normal_x, normal_y, normal_z, pupil_radius,
	diameter_3d, diameter, confidence, confidence_2d, theta, phi,
	result_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordResult stores one frame's result.
func (db *DB) RecordResult(sessionID string, frameIndex int, res detector.Result) error {
	return db.RecordResults(sessionID, frameIndex, []detector.Result{res})
}

// RecordResults stores consecutive frames starting at firstFrame in one
// transaction.
func (db *DB) RecordResults(sessionID string, firstFrame int, results []detector.Result) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertResult)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, res := range results {
		// The debug block is large and only useful live.
		res.Debug = nil
		raw, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("failed to marshal result %d: %w", firstFrame+i, err)
		}
		c := res.Circle3D
		if _, err := stmt.Exec(
			sessionID, firstFrame+i, res.Timestamp,
			res.Sphere.Center[0], res.Sphere.Center[1], res.Sphere.Center[2],
			c.Normal[0], c.Normal[1], c.Normal[2], c.Radius,
			res.Diameter3D, res.Diameter, res.Confidence, res.Confidence2D, res.Theta, res.Phi,
			string(raw),
		); err != nil {
			return fmt.Errorf("failed to insert result %d: %w", firstFrame+i, err)
		}
	}
	return tx.Commit()
}

// ResultRow is one stored frame.
type ResultRow struct {
	FrameIndex int
	Result     detector.Result
}

// Results returns a session's frames in order. limit <= 0 returns all.
func (db *DB) Results(sessionID string, limit int) ([]ResultRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT frame_index, result_json FROM results
		WHERE session_id = ? ORDER BY frame_index LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		var (
			r   ResultRow
			raw string
		)
		if err := rows.Scan(&r.FrameIndex, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &r.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result %d: %w", r.FrameIndex, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GazeSample is the subset of a result used for plotting.
type GazeSample struct {
	Timestamp  float64
	Theta      float64
	Phi        float64
	Diameter3D float64
	Confidence float64
}

// GazeTrace returns a session's gaze angles and pupil size over time,
// skipping frames whose confidence is below minConfidence.
func (db *DB) GazeTrace(sessionID string, minConfidence float64) ([]GazeSample, error) {
	rows, err := db.Query(`SELECT timestamp, theta, phi, diameter_3d, confidence FROM results
		WHERE session_id = ? AND confidence >= ? ORDER BY frame_index`, sessionID, minConfidence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GazeSample
	for rows.Next() {
		var s GazeSample
		if err := rows.Scan(&s.Timestamp, &s.Theta, &s.Phi, &s.Diameter3D, &s.Confidence); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
