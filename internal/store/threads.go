package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const threadColumns = `t.thread_id, t.name, t.status, t.created_at,
(SELECT COUNT(*) FROM plan_steps p WHERE p.thread_id = t.thread_id AND p.status IN ('pending','in_progress'))`

func (s *sqliteStore) CreateThread(ctx context.Context, name, status string) (Thread, error) {
	if name == "" {
		return Thread{}, errors.New("thread name required")
	}
	if status == "" {
		status = "active"
	}
	id := RandomID()
	now := time.Now().UTC().Unix()
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `INSERT INTO threads(thread_id, name, status, created_at, updated_at) VALUES(?, ?, ?, ?, ?)`,
			id, name, status, now, now)
		return err
	})
	if err != nil {
		return Thread{}, err
	}
	return Thread{ID: id, Name: name, Status: status, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *sqliteStore) SetThreadStatus(ctx context.Context, threadID, status string) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `UPDATE threads SET status=?, updated_at=? WHERE thread_id=?`,
			status, time.Now().UTC().Unix(), threadID)
		return err
	})
}

func (s *sqliteStore) GetThreadByName(ctx context.Context, name string) (*Thread, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads t WHERE t.name = ?`, name)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *sqliteStore) ListThreads(ctx context.Context) ([]Thread, error) {
	return s.queryThreads(ctx, `SELECT `+threadColumns+` FROM threads t ORDER BY t.created_at ASC`)
}

// ListThreadsWithPendingWork returns active threads that still have
// unfinished plan steps, in creation order.
func (s *sqliteStore) ListThreadsWithPendingWork(ctx context.Context) ([]Thread, error) {
	return s.queryThreads(ctx, `SELECT `+threadColumns+` FROM threads t
WHERE t.status = 'active'
AND EXISTS (SELECT 1 FROM plan_steps p WHERE p.thread_id = t.thread_id AND p.status IN ('pending','in_progress'))
ORDER BY t.created_at ASC`)
}

func (s *sqliteStore) ThreadHasPendingWork(ctx context.Context, threadID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM plan_steps WHERE thread_id = ? AND status IN ('pending','in_progress')`,
		threadID).Scan(&n)
	return n > 0, err
}

func (s *sqliteStore) AddPlanStep(ctx context.Context, threadID, description string) (int64, error) {
	var id int64
	now := time.Now().UTC().Unix()
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `INSERT INTO plan_steps(thread_id, description, status, created_at, updated_at) VALUES(?, ?, 'pending', ?, ?)`,
			threadID, description, now, now)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (s *sqliteStore) SetPlanStepStatus(ctx context.Context, stepID int64, status string) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `UPDATE plan_steps SET status=?, updated_at=? WHERE step_id=?`,
			status, time.Now().UTC().Unix(), stepID)
		return err
	})
}

func (s *sqliteStore) queryThreads(ctx context.Context, query string, args ...any) ([]Thread, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanThread(row interface{ Scan(dest ...any) error }) (*Thread, error) {
	var (
		t         Thread
		createdAt int64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Status, &createdAt, &t.PendingSteps); err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}
