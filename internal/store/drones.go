package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = `session_id, drone_id, worker_id, git_branch, status, iteration, started_at, ended_at, stop_reason`

func (s *sqliteStore) CreateDrone(ctx context.Context, name string) (Drone, error) {
	if name == "" {
		return Drone{}, errors.New("drone name required")
	}
	id := RandomID()
	now := time.Now().UTC().Unix()
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `INSERT INTO drones(drone_id, name, status, created_at) VALUES(?, ?, 'idle', ?)`,
			id, name, now)
		return err
	})
	if err != nil {
		return Drone{}, err
	}
	return Drone{ID: id, Name: name, Status: "idle", CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *sqliteStore) GetDroneByName(ctx context.Context, name string) (*Drone, error) {
	var (
		d         Drone
		createdAt int64
	)
	err := s.DB.QueryRowContext(ctx, `SELECT drone_id, name, status, created_at FROM drones WHERE name = ?`, name).
		Scan(&d.ID, &d.Name, &d.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("drone not found: %s", name)
	}
	if err != nil {
		return nil, err
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &d, nil
}

func (s *sqliteStore) ListDrones(ctx context.Context) ([]Drone, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT drone_id, name, status, created_at FROM drones ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Drone
	for rows.Next() {
		var (
			d         Drone
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.Status, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertDroneSession records a new session. The worker row it references
// must already exist; the launcher creates the worker first for exactly
// this reason.
func (s *sqliteStore) InsertDroneSession(ctx context.Context, sess DroneSession) error {
	if sess.ID == "" || sess.DroneID == "" || sess.WorkerID == "" {
		return errors.New("session id, drone id, and worker id required")
	}
	if sess.Status == "" {
		sess.Status = SessionRunning
	}
	started := time.Now().UTC().Unix()
	if !sess.StartedAt.IsZero() {
		started = sess.StartedAt.UTC().Unix()
	}
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
INSERT INTO drone_sessions(session_id, drone_id, worker_id, git_branch, status, iteration, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.DroneID, sess.WorkerID, sess.GitBranch, sess.Status, sess.Iteration, started)
		return err
	})
}

func (s *sqliteStore) GetDroneSession(ctx context.Context, sessionID string) (*DroneSession, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM drone_sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return sess, err
}

// RunningSessionForDrone returns the drone's non-terminal session, or
// nil when there is none. At most one can exist; the launcher checks
// this before creating another.
func (s *sqliteStore) RunningSessionForDrone(ctx context.Context, droneID string) (*DroneSession, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM drone_sessions
WHERE drone_id = ? AND status = ? ORDER BY started_at DESC LIMIT 1`, droneID, SessionRunning)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// ListSessionsForDrone returns a drone's session history, newest first.
func (s *sqliteStore) ListSessionsForDrone(ctx context.Context, droneID string) ([]DroneSession, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+sessionColumns+` FROM drone_sessions
WHERE drone_id = ? ORDER BY started_at DESC`, droneID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []DroneSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// CloseDroneSession moves a running session to a terminal status with a
// stop reason. Terminal sessions are left untouched.
func (s *sqliteStore) CloseDroneSession(ctx context.Context, sessionID, status, reason string) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `UPDATE drone_sessions SET status=?, stop_reason=?, ended_at=? WHERE session_id=? AND status=?`,
			status, reason, time.Now().UTC().Unix(), sessionID, SessionRunning)
		return err
	})
}

func scanSession(row interface{ Scan(dest ...any) error }) (*DroneSession, error) {
	var (
		sess       DroneSession
		startedAt  int64
		endedAt    sql.NullInt64
		stopReason sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.DroneID, &sess.WorkerID, &sess.GitBranch,
		&sess.Status, &sess.Iteration, &startedAt, &endedAt, &stopReason)
	if err != nil {
		return nil, err
	}
	sess.StartedAt = time.Unix(startedAt, 0).UTC()
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0).UTC()
		sess.EndedAt = &t
	}
	if stopReason.Valid {
		sess.StopReason = &stopReason.String
	}
	return &sess, nil
}
