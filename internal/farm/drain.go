package farm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bfollington/claude-blackboard-sub000/internal/runtime"
	"github.com/bfollington/claude-blackboard-sub000/internal/store"
)

// Drain stops every active worker and marks it killed. The registry
// write happens whether or not the runtime call succeeded: a container
// that is already gone still needs its record closed out.
func Drain(ctx context.Context, st store.Store, client runtime.Client, force bool, timeout time.Duration) (int, error) {
	workers, err := st.ListActiveWorkers(ctx)
	if err != nil {
		return 0, err
	}
	drained := 0
	for _, w := range workers {
		if w.ContainerID != "" {
			var stopErr error
			if force {
				stopErr = client.Kill(ctx, w.ContainerID)
			} else {
				stopErr = client.Stop(ctx, w.ContainerID, timeout)
			}
			if stopErr != nil {
				slog.Warn("container stop failed during drain", "worker", w.ID, "container", w.ContainerID, "err", stopErr)
			}
		}
		if err := st.UpdateWorkerStatus(ctx, w.ID, store.WorkerKilled); err != nil {
			return drained, fmt.Errorf("mark worker %s killed: %w", w.ID, err)
		}
		drained++
	}
	return drained, nil
}

// KillWorker resolves ref as a worker id prefix first, then as a thread
// name (killing that thread's newest running worker), kills the
// container best-effort, and marks the worker killed.
func KillWorker(ctx context.Context, st store.Store, client runtime.Client, ref string) (*store.Worker, error) {
	w, err := st.FindWorkerByPrefix(ctx, ref)
	if err != nil {
		w, err = workerForThreadName(ctx, st, ref)
		if err != nil {
			return nil, err
		}
	}
	if w.Status != store.WorkerRunning {
		return nil, fmt.Errorf("worker %s is not running (status %s)", w.ID, w.Status)
	}
	if w.ContainerID != "" {
		if err := client.Kill(ctx, w.ContainerID); err != nil {
			slog.Warn("container kill failed", "worker", w.ID, "container", w.ContainerID, "err", err)
		}
	}
	if err := st.UpdateWorkerStatus(ctx, w.ID, store.WorkerKilled); err != nil {
		return nil, err
	}
	return w, nil
}

func workerForThreadName(ctx context.Context, st store.Store, name string) (*store.Worker, error) {
	t, err := st.GetThreadByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("no worker or thread matches %q", name)
	}
	workers, err := st.ListWorkersForThread(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	for _, w := range workers {
		if w.Status == store.WorkerRunning {
			running := w
			return &running, nil
		}
	}
	return nil, fmt.Errorf("thread %q has no running worker", name)
}
