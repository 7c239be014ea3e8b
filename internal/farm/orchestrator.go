// Package farm implements the bounded-concurrency scheduling loop that
// turns pending threads into running worker containers, detects and
// recovers from silent failures, and keeps the registry reconciled with
// what the container runtime actually reports.
package farm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bfollington/claude-blackboard-sub000/internal/auth"
	"github.com/bfollington/claude-blackboard-sub000/internal/otel"
	"github.com/bfollington/claude-blackboard-sub000/internal/runtime"
	"github.com/bfollington/claude-blackboard-sub000/internal/store"
)

// maxRetries is the number of re-enqueues a thread gets after spawn
// failures: 1 initial attempt + 3 retries = 4 attempts total.
const maxRetries = 3

// Options configures one farm run.
type Options struct {
	ThreadNames      []string // explicit thread list; empty means all active threads with pending work
	Concurrency      int
	MaxIterations    int
	Memory           string
	Image            string
	Build            bool
	RepoDir          string // optional workspace mounted rw at /app/repo
	DBDir            string // database directory mounted rw at /app/db
	ProjectRoot      string
	PluginRoot       string
	AuthMode         string
	APIKey           string
	PollInterval     time.Duration
	HeartbeatTimeout time.Duration
}

// Summary is the final tally of a farm run.
type Summary struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// queueItem pairs a thread with its spawn retry count. The queue is
// in-memory only; a restart re-derives remaining work from the
// registry and thread state.
type queueItem struct {
	thread  store.Thread
	retries int
}

// Orchestrator runs the farm loop. The in-memory queue and tracking map
// are caches over the registry; whether a worker is really running is
// always answered by the runtime, never by this struct.
type Orchestrator struct {
	Store   store.Store
	Runtime runtime.Client
	Opts    Options

	cred    auth.Credential
	queue   []queueItem
	tracked map[string]store.Thread // worker id -> owning thread

	active    int
	completed int
	failed    int
	total     int
}

// Run executes preflight, the initial fill, and the monitor loop, and
// returns the final tallies. Preflight failures are fatal; everything
// after preflight is self-healing or bounded-retry.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if o.Opts.Concurrency <= 0 {
		return Summary{}, errors.New("concurrency must be positive")
	}
	if o.Opts.PollInterval <= 0 {
		o.Opts.PollInterval = 10 * time.Second
	}
	if o.Opts.HeartbeatTimeout <= 0 {
		o.Opts.HeartbeatTimeout = 30 * time.Second
	}
	o.tracked = make(map[string]store.Thread)

	if err := o.preflight(ctx); err != nil {
		return Summary{}, err
	}

	o.total = len(o.queue)
	o.fill(ctx)

	ticker := time.NewTicker(o.Opts.PollInterval)
	defer ticker.Stop()

	for o.active > 0 || len(o.queue) > 0 {
		select {
		case <-ctx.Done():
			return o.summary(), ctx.Err()
		case <-ticker.C:
		}
		// Phase order matters: a worker must be judged stale or
		// finished before its slot is refilled, or the concurrency
		// ceiling could be exceeded by one.
		o.reapStale(ctx)
		o.reapFinished(ctx)
		o.fill(ctx)
	}

	s := o.summary()
	slog.Info("farm run finished", "completed", s.Completed, "failed", s.Failed, "total", s.Total)
	return s, nil
}

func (o *Orchestrator) summary() Summary {
	return Summary{Completed: o.completed, Failed: o.failed, Total: o.total}
}

func (o *Orchestrator) preflight(ctx context.Context) error {
	if !o.Runtime.IsAvailable(ctx) {
		return errors.New("container runtime is unavailable: start Docker and try again")
	}

	if err := o.ensureImage(ctx); err != nil {
		return err
	}

	// Orphan sweep is best-effort: a leftover container must not stop
	// the run.
	if ids, err := o.Store.ActiveWorkerIDs(ctx); err == nil {
		if removed, err := runtime.CleanupOrphans(ctx, o.Runtime, ids); err != nil {
			slog.Warn("orphan cleanup failed", "err", err)
		} else if removed > 0 {
			slog.Info("removed orphaned containers", "count", removed)
		}
	} else {
		slog.Warn("could not list active workers for orphan sweep", "err", err)
	}

	threads, err := o.resolveThreads(ctx)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		slog.Info("no threads with pending work")
	}
	for _, t := range threads {
		o.queue = append(o.queue, queueItem{thread: t})
	}

	cred, err := auth.Resolve(o.Opts.AuthMode, o.Opts.APIKey)
	if err != nil {
		return err
	}
	o.cred = cred
	return nil
}

func (o *Orchestrator) ensureImage(ctx context.Context) error {
	exists, err := o.Runtime.ImageExists(ctx, o.Opts.Image)
	if err != nil {
		return fmt.Errorf("check image %s: %w", o.Opts.Image, err)
	}
	if exists && !o.Opts.Build {
		return nil
	}
	buildFile := runtime.ResolveBuildFile(o.Opts.ProjectRoot, o.Opts.PluginRoot)
	if buildFile == "" {
		if !exists {
			return fmt.Errorf("image %s not found and no Dockerfile.worker available: create .blackboard/Dockerfile.worker in your project", o.Opts.Image)
		}
		return errors.New("--build requested but no Dockerfile.worker found: create .blackboard/Dockerfile.worker in your project")
	}
	slog.Info("building worker image", "image", o.Opts.Image, "dockerfile", buildFile)
	contextDir := o.Opts.ProjectRoot
	if contextDir == "" {
		contextDir = "."
	}
	if err := o.Runtime.BuildImage(ctx, o.Opts.Image, contextDir, buildFile); err != nil {
		return fmt.Errorf("build image %s: %w", o.Opts.Image, err)
	}
	return nil
}

// resolveThreads turns the configured thread names (or the default "all
// active threads with pending work") into the initial queue. A name
// that does not resolve, or resolves to a disallowed status, is skipped
// with a warning rather than aborting the run.
func (o *Orchestrator) resolveThreads(ctx context.Context) ([]store.Thread, error) {
	if len(o.Opts.ThreadNames) == 0 {
		return o.Store.ListThreadsWithPendingWork(ctx)
	}
	var threads []store.Thread
	for _, name := range o.Opts.ThreadNames {
		t, err := o.Store.GetThreadByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if t == nil {
			slog.Warn("thread not found, skipping", "thread", name)
			continue
		}
		if t.Status != "active" && t.Status != "paused" {
			slog.Warn("thread status not runnable, skipping", "thread", name, "status", t.Status)
			continue
		}
		threads = append(threads, *t)
	}
	return threads, nil
}

// fill spawns from the queue head until the queue empties or the
// concurrency ceiling is reached. Spawn failures re-enqueue to the tail
// with an incremented retry count; retry exhaustion counts the thread
// failed and drops it.
func (o *Orchestrator) fill(ctx context.Context) {
	for len(o.queue) > 0 && o.active < o.Opts.Concurrency {
		item := o.queue[0]
		o.queue = o.queue[1:]

		workerID, err := o.spawn(ctx, item.thread)
		if err != nil {
			item.retries++
			if item.retries <= maxRetries {
				slog.Warn("spawn failed, requeueing", "thread", item.thread.Name, "attempt", item.retries, "err", err)
				o.queue = append(o.queue, item)
			} else {
				slog.Error("spawn retries exhausted", "thread", item.thread.Name, "err", err)
				o.failed++
				otel.RecordWorkerFailure(ctx, "spawn")
			}
			continue
		}
		o.tracked[workerID] = item.thread
		o.active++
		otel.RecordWorkerSpawn(ctx, item.thread.Name)
		slog.Info("worker spawned", "worker", workerID, "thread", item.thread.Name, "active", o.active)
	}
}

// spawn generates the worker id, registers the worker, and starts the
// container. The registry row exists before the container so the id can
// ride along as a label, and so a crash between the two steps leaves a
// record reconciliation can clean up.
func (o *Orchestrator) spawn(ctx context.Context, thread store.Thread) (string, error) {
	workerID := store.RandomID()
	threadID := thread.ID
	w := store.Worker{
		ID:            workerID,
		ThreadID:      &threadID,
		Status:        store.WorkerRunning,
		AuthMode:      o.cred.Mode,
		MaxIterations: o.Opts.MaxIterations,
	}
	if err := o.Store.InsertWorker(ctx, w); err != nil {
		return "", fmt.Errorf("register worker: %w", err)
	}

	spawnOpts := runtime.SpawnOptions{
		Image:  o.Opts.Image,
		Name:   "blackboard-worker-" + workerID,
		Memory: o.Opts.Memory,
		Labels: map[string]string{
			runtime.LabelManaged:  "true",
			runtime.LabelWorkerID: workerID,
			runtime.LabelOwner:    thread.Name,
		},
		Mounts: []runtime.Mount{
			{Host: o.Opts.DBDir, Container: "/app/db"},
		},
		Env: map[string]string{
			"BLACKBOARD_WORKER_ID":      workerID,
			"BLACKBOARD_THREAD":         thread.Name,
			"BLACKBOARD_MAX_ITERATIONS": fmt.Sprintf("%d", o.Opts.MaxIterations),
		},
	}
	if o.Opts.RepoDir != "" {
		spawnOpts.Mounts = append(spawnOpts.Mounts, runtime.Mount{Host: o.Opts.RepoDir, Container: "/app/repo"})
	}
	o.cred.ApplyTo(&spawnOpts)

	containerID, err := o.Runtime.Spawn(ctx, spawnOpts)
	if err != nil {
		o.mark(ctx, workerID, store.WorkerFailed)
		return "", err
	}
	if err := o.Store.SetWorkerContainer(ctx, workerID, containerID); err != nil {
		// The container is up but the registry doesn't know its id;
		// kill it rather than leave an untrackable worker.
		_ = o.Runtime.Kill(ctx, containerID)
		o.mark(ctx, workerID, store.WorkerFailed)
		return "", fmt.Errorf("record container id: %w", err)
	}
	return workerID, nil
}

// reapStale kills workers whose heartbeat has gone silent, marks them
// failed, and re-enqueues their thread when it still has pending steps.
func (o *Orchestrator) reapStale(ctx context.Context) {
	stale, err := o.Store.ListStaleWorkers(ctx, o.Opts.HeartbeatTimeout)
	if err != nil {
		slog.Warn("stale worker query failed", "err", err)
		return
	}
	for _, w := range stale {
		thread, ok := o.tracked[w.ID]
		if !ok {
			continue
		}
		slog.Warn("worker heartbeat stale, killing", "worker", w.ID, "last_heartbeat", w.LastHeartbeat)
		if w.ContainerID != "" {
			if err := o.Runtime.Kill(ctx, w.ContainerID); err != nil {
				slog.Warn("kill stale container failed", "container", w.ContainerID, "err", err)
			}
		}
		o.mark(ctx, w.ID, store.WorkerFailed)
		delete(o.tracked, w.ID)
		o.active--
		o.failed++
		otel.RecordWorkerFailure(ctx, "stale")

		if pending, err := o.Store.ThreadHasPendingWork(ctx, thread.ID); err == nil && pending {
			o.queue = append(o.queue, queueItem{thread: thread})
			slog.Info("re-enqueued thread after stale worker", "thread", thread.Name)
		}
	}
}

// reapFinished detects workers that left the registry's active set:
// either their agent marked them completed on the way out, or
// reconciliation marked them failed. Threads with pending steps go back
// on the queue; one spawn does not guarantee full completion.
func (o *Orchestrator) reapFinished(ctx context.Context) {
	// Correct the registry against runtime truth first so silently dead
	// containers show up in this pass. Reconciliation errors are logged,
	// never fatal.
	if workers, err := o.Store.ListActiveWorkers(ctx); err == nil {
		refs := make([]runtime.WorkerRef, 0, len(workers))
		for _, w := range workers {
			if _, ok := o.tracked[w.ID]; ok {
				refs = append(refs, runtime.WorkerRef{ID: w.ID, ContainerID: w.ContainerID})
			}
		}
		if _, err := runtime.Reconcile(ctx, o.Runtime, refs, o.Store.UpdateWorkerStatus); err != nil {
			slog.Warn("reconciliation failed", "err", err)
		}
	}

	ids, err := o.Store.ActiveWorkerIDs(ctx)
	if err != nil {
		slog.Warn("active worker query failed", "err", err)
		return
	}
	activeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		activeSet[id] = true
	}

	for workerID, thread := range o.tracked {
		if activeSet[workerID] {
			continue
		}
		delete(o.tracked, workerID)
		o.active--

		pending, err := o.Store.ThreadHasPendingWork(ctx, thread.ID)
		if err != nil {
			slog.Warn("pending work query failed", "thread", thread.Name, "err", err)
			pending = false
		}
		if pending {
			o.queue = append(o.queue, queueItem{thread: thread})
			slog.Info("worker finished with steps remaining, re-enqueued", "worker", workerID, "thread", thread.Name)
		} else {
			o.completed++
			otel.RecordWorkerCompletion(ctx, thread.Name)
			slog.Info("thread completed", "worker", workerID, "thread", thread.Name)
		}
	}
}

// mark records a status transition, retrying briefly on lock contention
// with the agent processes writing heartbeats. A write that still fails
// is logged; reconciliation will see the truth on a later pass.
func (o *Orchestrator) mark(ctx context.Context, workerID, status string) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = o.Store.UpdateWorkerStatus(ctx, workerID, status)
		if err == nil {
			return
		}
		if !errors.Is(err, store.ErrBusy) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	slog.Error("worker status update failed", "worker", workerID, "status", status, "err", err)
}
