package runtime

import (
	"context"
	"log/slog"
)

// WorkerRef is the slice of a registry record reconciliation needs.
type WorkerRef struct {
	ID          string
	ContainerID string
}

// MarkFunc records a worker status transition in the registry.
type MarkFunc func(ctx context.Context, workerID, status string) error

// Result summarizes one reconciliation pass.
type Result struct {
	Checked int
	Updated int
	Removed int
}

// Reconcile compares workers the registry believes are running against
// runtime truth and corrects the registry. Gone containers are marked
// failed with nothing to remove; stopped containers are marked failed
// and best-effort removed; running containers are left alone. Running
// it twice against an unchanged runtime yields zero updates the second
// time, because the callers only hand it status=running workers.
func Reconcile(ctx context.Context, client Client, workers []WorkerRef, mark MarkFunc) (Result, error) {
	var res Result
	for _, w := range workers {
		if w.ContainerID == "" {
			continue
		}
		res.Checked++
		live, err := client.Alive(ctx, w.ContainerID)
		if err != nil {
			slog.Warn("reconcile liveness check failed", "worker", w.ID, "err", err)
			continue
		}
		switch live {
		case Running:
			// Registry and runtime agree.
		case Gone:
			if err := mark(ctx, w.ID, "failed"); err != nil {
				return res, err
			}
			res.Updated++
			res.Removed++
		case Stopped:
			if err := mark(ctx, w.ID, "failed"); err != nil {
				return res, err
			}
			res.Updated++
			if err := client.Remove(ctx, w.ContainerID); err != nil {
				slog.Warn("reconcile remove failed", "container", w.ContainerID, "err", err)
			} else {
				res.Removed++
			}
		}
	}
	return res, nil
}

// CleanupOrphans removes managed containers whose worker-id label is
// missing or not in activeIDs. Each removal is best-effort; one bad
// container never aborts the sweep.
func CleanupOrphans(ctx context.Context, client Client, activeIDs []string) (int, error) {
	containers, err := client.List(ctx, LabelManaged+"=true")
	if err != nil {
		return 0, err
	}
	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = true
	}
	removed := 0
	for _, c := range containers {
		workerID := c.Labels[LabelWorkerID]
		if workerID != "" && active[workerID] {
			continue
		}
		if err := client.Remove(ctx, c.ID); err != nil {
			slog.Warn("orphan removal failed", "container", c.ID, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
