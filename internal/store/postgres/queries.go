package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bfollington/claude-blackboard-sub000/internal/store"
)

const workerColumns = `w.worker_id, w.container_id, w.thread_id, w.status, w.auth_mode,
w.iteration, w.max_iterations, w.last_heartbeat, w.created_at, w.updated_at,
COALESCE(t.name, '')`

const workerSelect = `SELECT ` + workerColumns + `
FROM workers w LEFT JOIN threads t ON t.thread_id = w.thread_id`

func (s *Store) InsertWorker(ctx context.Context, w store.Worker) error {
	if w.ID == "" {
		return errors.New("worker id required")
	}
	if w.Status == "" {
		w.Status = store.WorkerRunning
	}
	now := time.Now().UTC().Unix()
	hb := now
	if !w.LastHeartbeat.IsZero() {
		hb = w.LastHeartbeat.UTC().Unix()
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO workers(worker_id, container_id, thread_id, status, auth_mode, iteration, max_iterations, last_heartbeat, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.ContainerID, w.ThreadID, w.Status, w.AuthMode, w.Iteration, w.MaxIterations, hb, now, now)
	return err
}

func (s *Store) SetWorkerContainer(ctx context.Context, workerID, containerID string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE workers SET container_id=$1, updated_at=$2 WHERE worker_id=$3`,
		containerID, time.Now().UTC().Unix(), workerID)
	return err
}

func (s *Store) UpdateWorkerStatus(ctx context.Context, workerID, status string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE workers SET status=$1, updated_at=$2 WHERE worker_id=$3 AND status=$4`,
		status, time.Now().UTC().Unix(), workerID, store.WorkerRunning)
	return err
}

func (s *Store) UpdateWorkerHeartbeat(ctx context.Context, workerID string) error {
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `UPDATE workers SET last_heartbeat=$1, updated_at=$2 WHERE worker_id=$3`,
		now, now, workerID)
	return err
}

func (s *Store) UpdateWorkerIteration(ctx context.Context, workerID string, iteration int) error {
	_, err := s.Pool.Exec(ctx, `UPDATE workers SET iteration=$1, updated_at=$2 WHERE worker_id=$3`,
		iteration, time.Now().UTC().Unix(), workerID)
	return err
}

func (s *Store) GetWorker(ctx context.Context, workerID string) (*store.Worker, error) {
	row := s.Pool.QueryRow(ctx, workerSelect+` WHERE w.worker_id = $1`, workerID)
	w, err := scanWorker(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("worker not found: %s", workerID)
	}
	return w, err
}

func (s *Store) FindWorkerByPrefix(ctx context.Context, prefix string) (*store.Worker, error) {
	if prefix == "" {
		return nil, errors.New("worker id prefix required")
	}
	rows, err := s.Pool.Query(ctx, workerSelect+` WHERE w.worker_id LIKE $1 || '%' LIMIT 2`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*store.Worker
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

func (s *Store) ListActiveWorkers(ctx context.Context) ([]store.Worker, error) {
	return s.queryWorkers(ctx, workerSelect+` WHERE w.status = $1 ORDER BY w.created_at ASC`, store.WorkerRunning)
}

func (s *Store) ListStaleWorkers(ctx context.Context, timeout time.Duration) ([]store.Worker, error) {
	cutoff := time.Now().UTC().Add(-timeout).Unix()
	return s.queryWorkers(ctx, workerSelect+` WHERE w.status = $1 AND w.last_heartbeat < $2 ORDER BY w.last_heartbeat ASC`,
		store.WorkerRunning, cutoff)
}

func (s *Store) ListWorkersForThread(ctx context.Context, threadID string) ([]store.Worker, error) {
	return s.queryWorkers(ctx, workerSelect+` WHERE w.thread_id = $1 ORDER BY w.created_at DESC`, threadID)
}

func (s *Store) ActiveWorkerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT worker_id FROM workers WHERE status = $1`, store.WorkerRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (s *Store) PurgeWorkers(ctx context.Context, terminalAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-terminalAge).Unix()
	tag, err := s.Pool.Exec(ctx, `DELETE FROM workers WHERE status != $1 AND updated_at < $2
AND worker_id NOT IN (SELECT worker_id FROM drone_sessions)`, store.WorkerRunning, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) queryWorkers(ctx context.Context, query string, args ...any) ([]store.Worker, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func scanWorker(row pgx.Row) (*store.Worker, error) {
	var (
		w          store.Worker
		threadID   *string
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
	w.ThreadID = threadID
	w.LastHeartbeat = time.Unix(heartbeat, 0).UTC()
	w.CreatedAt = time.Unix(createdAt, 0).UTC()
	w.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	w.ThreadName = threadName
	return &w, nil
}

const threadColumns = `t.thread_id, t.name, t.status, t.created_at,
(SELECT COUNT(*) FROM plan_steps p WHERE p.thread_id = t.thread_id AND p.status IN ('pending','in_progress'))`

func (s *Store) CreateThread(ctx context.Context, name, status string) (store.Thread, error) {
	if name == "" {
		return store.Thread{}, errors.New("thread name required")
	}
	if status == "" {
		status = "active"
	}
	id := store.RandomID()
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `INSERT INTO threads(thread_id, name, status, created_at, updated_at) VALUES($1, $2, $3, $4, $5)`,
		id, name, status, now, now)
	if err != nil {
		return store.Thread{}, err
	}
	return store.Thread{ID: id, Name: name, Status: status, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *Store) SetThreadStatus(ctx context.Context, threadID, status string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE threads SET status=$1, updated_at=$2 WHERE thread_id=$3`,
		status, time.Now().UTC().Unix(), threadID)
	return err
}

func (s *Store) GetThreadByName(ctx context.Context, name string) (*store.Thread, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads t WHERE t.name = $1`, name)
	t, err := scanThread(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *Store) ListThreads(ctx context.Context) ([]store.Thread, error) {
	return s.queryThreads(ctx, `SELECT `+threadColumns+` FROM threads t ORDER BY t.created_at ASC`)
}

func (s *Store) ListThreadsWithPendingWork(ctx context.Context) ([]store.Thread, error) {
	return s.queryThreads(ctx, `SELECT `+threadColumns+` FROM threads t
WHERE t.status = 'active'
AND EXISTS (SELECT 1 FROM plan_steps p WHERE p.thread_id = t.thread_id AND p.status IN ('pending','in_progress'))
ORDER BY t.created_at ASC`)
}

func (s *Store) ThreadHasPendingWork(ctx context.Context, threadID string) (bool, error) {
	var n int
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM plan_steps WHERE thread_id = $1 AND status IN ('pending','in_progress')`,
		threadID).Scan(&n)
	return n > 0, err
}

func (s *Store) AddPlanStep(ctx context.Context, threadID, description string) (int64, error) {
	now := time.Now().UTC().Unix()
	var id int64
	err := s.Pool.QueryRow(ctx, `INSERT INTO plan_steps(thread_id, description, status, created_at, updated_at)
VALUES($1, $2, 'pending', $3, $4) RETURNING step_id`, threadID, description, now, now).Scan(&id)
	return id, err
}

func (s *Store) SetPlanStepStatus(ctx context.Context, stepID int64, status string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE plan_steps SET status=$1, updated_at=$2 WHERE step_id=$3`,
		status, time.Now().UTC().Unix(), stepID)
	return err
}

func (s *Store) queryThreads(ctx context.Context, query string, args ...any) ([]store.Thread, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanThread(row pgx.Row) (*store.Thread, error) {
	var (
		t         store.Thread
		createdAt int64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Status, &createdAt, &t.PendingSteps); err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}

const sessionColumns = `session_id, drone_id, worker_id, git_branch, status, iteration, started_at, ended_at, stop_reason`

func (s *Store) CreateDrone(ctx context.Context, name string) (store.Drone, error) {
	if name == "" {
		return store.Drone{}, errors.New("drone name required")
	}
	id := store.RandomID()
	now := time.Now().UTC().Unix()
	_, err := s.Pool.Exec(ctx, `INSERT INTO drones(drone_id, name, status, created_at) VALUES($1, $2, 'idle', $3)`,
		id, name, now)
	if err != nil {
		return store.Drone{}, err
	}
	return store.Drone{ID: id, Name: name, Status: "idle", CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *Store) GetDroneByName(ctx context.Context, name string) (*store.Drone, error) {
	var (
		d         store.Drone
		createdAt int64
	)
	err := s.Pool.QueryRow(ctx, `SELECT drone_id, name, status, created_at FROM drones WHERE name = $1`, name).
		Scan(&d.ID, &d.Name, &d.Status, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("drone not found: %s", name)
	}
	if err != nil {
		return nil, err
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &d, nil
}

func (s *Store) ListDrones(ctx context.Context) ([]store.Drone, error) {
	rows, err := s.Pool.Query(ctx, `SELECT drone_id, name, status, created_at FROM drones ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Drone
	for rows.Next() {
		var (
			d         store.Drone
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

func (s *Store) InsertDroneSession(ctx context.Context, sess store.DroneSession) error {
	if sess.ID == "" || sess.DroneID == "" || sess.WorkerID == "" {
		return errors.New("session id, drone id, and worker id required")
	}
	if sess.Status == "" {
		sess.Status = store.SessionRunning
	}
	started := time.Now().UTC().Unix()
	if !sess.StartedAt.IsZero() {
		started = sess.StartedAt.UTC().Unix()
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO drone_sessions(session_id, drone_id, worker_id, git_branch, status, iteration, started_at)
VALUES($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.DroneID, sess.WorkerID, sess.GitBranch, sess.Status, sess.Iteration, started)
	return err
}

func (s *Store) GetDroneSession(ctx context.Context, sessionID string) (*store.DroneSession, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM drone_sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return sess, err
}

func (s *Store) RunningSessionForDrone(ctx context.Context, droneID string) (*store.DroneSession, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM drone_sessions
WHERE drone_id = $1 AND status = $2 ORDER BY started_at DESC LIMIT 1`, droneID, store.SessionRunning)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

func (s *Store) ListSessionsForDrone(ctx context.Context, droneID string) ([]store.DroneSession, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+sessionColumns+` FROM drone_sessions
WHERE drone_id = $1 ORDER BY started_at DESC`, droneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.DroneSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *Store) CloseDroneSession(ctx context.Context, sessionID, status, reason string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE drone_sessions SET status=$1, stop_reason=$2, ended_at=$3 WHERE session_id=$4 AND status=$5`,
		status, reason, time.Now().UTC().Unix(), sessionID, store.SessionRunning)
	return err
}

func scanSession(row pgx.Row) (*store.DroneSession, error) {
	var (
		sess       store.DroneSession
		startedAt  int64
		endedAt    *int64
		stopReason *string
	)
	err := row.Scan(&sess.ID, &sess.DroneID, &sess.WorkerID, &sess.GitBranch,
		&sess.Status, &sess.Iteration, &startedAt, &endedAt, &stopReason)
	if err != nil {
		return nil, err
	}
	sess.StartedAt = time.Unix(startedAt, 0).UTC()
	if endedAt != nil {
		t := time.Unix(*endedAt, 0).UTC()
		sess.EndedAt = &t
	}
	sess.StopReason = stopReason
	return &sess, nil
}
