package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const workerColumns = `w.worker_id, w.container_id, w.thread_id, w.status, w.auth_mode,
w.iteration, w.max_iterations, w.last_heartbeat, w.created_at, w.updated_at,
COALESCE(t.name, '')`

const workerSelect = `SELECT ` + workerColumns + `
FROM workers w LEFT JOIN threads t ON t.thread_id = w.thread_id`

func (s *sqliteStore) InsertWorker(ctx context.Context, w Worker) error {
	if w.ID == "" {
		return errors.New("worker id required")
	}
	if w.Status == "" {
		w.Status = WorkerRunning
	}
	now := time.Now().UTC().Unix()
	hb := now
	if !w.LastHeartbeat.IsZero() {
		hb = w.LastHeartbeat.UTC().Unix()
	}
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
INSERT INTO workers(worker_id, container_id, thread_id, status, auth_mode, iteration, max_iterations, last_heartbeat, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ID, w.ContainerID, w.ThreadID, w.Status, w.AuthMode, w.Iteration, w.MaxIterations, hb, now, now)
		return err
	})
}

func (s *sqliteStore) SetWorkerContainer(ctx context.Context, workerID, containerID string) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `UPDATE workers SET container_id=?, updated_at=? WHERE worker_id=?`,
			containerID, time.Now().UTC().Unix(), workerID)
		return err
	})
}

// UpdateWorkerStatus transitions a running worker to status. Terminal
// workers are left untouched: the WHERE clause enforces that once a
// worker leaves "running" its status never changes again.
func (s *sqliteStore) UpdateWorkerStatus(ctx context.Context, workerID, status string) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `UPDATE workers SET status=?, updated_at=? WHERE worker_id=? AND status=?`,
			status, time.Now().UTC().Unix(), workerID, WorkerRunning)
		return err
	})
}

func (s *sqliteStore) UpdateWorkerHeartbeat(ctx context.Context, workerID string) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		now := time.Now().UTC().Unix()
		_, err := conn.ExecContext(ctx, `UPDATE workers SET last_heartbeat=?, updated_at=? WHERE worker_id=?`,
			now, now, workerID)
		return err
	})
}

func (s *sqliteStore) UpdateWorkerIteration(ctx context.Context, workerID string, iteration int) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `UPDATE workers SET iteration=?, updated_at=? WHERE worker_id=?`,
			iteration, time.Now().UTC().Unix(), workerID)
		return err
	})
}

func (s *sqliteStore) GetWorker(ctx context.Context, workerID string) (*Worker, error) {
	row := s.DB.QueryRowContext(ctx, workerSelect+` WHERE w.worker_id = ?`, workerID)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("worker not found: %s", workerID)
	}
	return w, err
}

// FindWorkerByPrefix resolves a short worker id prefix, erroring when
// the prefix is ambiguous.
func (s *sqliteStore) FindWorkerByPrefix(ctx context.Context, prefix string) (*Worker, error) {
	if prefix == "" {
		return nil, errors.New("worker id prefix required")
	}
	rows, err := s.DB.QueryContext(ctx, workerSelect+` WHERE w.worker_id LIKE ? || '%' LIMIT 2`, prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var matches []*Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no worker matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("worker id prefix %q is ambiguous", prefix)
	}
}

func (s *sqliteStore) ListActiveWorkers(ctx context.Context) ([]Worker, error) {
	return s.queryWorkers(ctx, workerSelect+` WHERE w.status = ? ORDER BY w.created_at ASC`, WorkerRunning)
}

func (s *sqliteStore) ListStaleWorkers(ctx context.Context, timeout time.Duration) ([]Worker, error) {
	cutoff := time.Now().UTC().Add(-timeout).Unix()
	return s.queryWorkers(ctx, workerSelect+` WHERE w.status = ? AND w.last_heartbeat < ? ORDER BY w.last_heartbeat ASC`,
		WorkerRunning, cutoff)
}

func (s *sqliteStore) ListWorkersForThread(ctx context.Context, threadID string) ([]Worker, error) {
	return s.queryWorkers(ctx, workerSelect+` WHERE w.thread_id = ? ORDER BY w.created_at DESC`, threadID)
}

func (s *sqliteStore) ActiveWorkerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT worker_id FROM workers WHERE status = ?`, WorkerRunning)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PurgeWorkers deletes terminal worker records older than terminalAge.
// Housekeeping only; running workers are never touched.
func (s *sqliteStore) PurgeWorkers(ctx context.Context, terminalAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-terminalAge).Unix()
	var n int64
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM workers WHERE status != ? AND updated_at < ?
AND worker_id NOT IN (SELECT worker_id FROM drone_sessions)`, WorkerRunning, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func (s *sqliteStore) queryWorkers(ctx context.Context, query string, args ...any) ([]Worker, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func scanWorker(row interface{ Scan(dest ...any) error }) (*Worker, error) {
	var (
		w          Worker
		threadID   sql.NullString
		heartbeat  int64
		createdAt  int64
		updatedAt  int64
		threadName string
	)
	err := row.Scan(&w.ID, &w.ContainerID, &threadID, &w.Status, &w.AuthMode,
		&w.Iteration, &w.MaxIterations, &heartbeat, &createdAt, &updatedAt, &threadName)
	if err != nil {
		return nil, err
	}
	if threadID.Valid {
		w.ThreadID = &threadID.String
	}
	w.LastHeartbeat = time.Unix(heartbeat, 0).UTC()
	w.CreatedAt = time.Unix(createdAt, 0).UTC()
	w.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	w.ThreadName = threadName
	return &w, nil
}
