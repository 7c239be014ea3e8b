// Package drone launches and stops single-unit persistent agent
// sessions. A drone is a named, reusable configuration; each launch
// produces one DroneSession and one Worker, with at most one
// non-terminal session per drone at a time.
package drone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bfollington/claude-blackboard-sub000/internal/auth"
	"github.com/bfollington/claude-blackboard-sub000/internal/git"
	"github.com/bfollington/claude-blackboard-sub000/internal/runtime"
	"github.com/bfollington/claude-blackboard-sub000/internal/store"
)

// StopReasonSpawnFailed is recorded when the container never started.
const StopReasonSpawnFailed = "container_spawn_failed"

// Launcher shares the registry and runtime with the farm orchestrator
// but manages exactly one worker per call.
type Launcher struct {
	Store   store.Store
	Runtime runtime.Client
}

// LaunchOptions configures one drone launch.
type LaunchOptions struct {
	AuthMode      string
	APIKey        string
	RepoDir       string
	DBDir         string
	Image         string
	Build         bool
	Memory        string
	MaxIterations int
	ProjectRoot   string
	PluginRoot    string
}

// Launch is the result of a successful launch.
type Launch struct {
	SessionID   string `json:"session_id"`
	WorkerID    string `json:"worker_id"`
	ContainerID string `json:"container_id"`
	Branch      string `json:"branch"`
}

// StopResult identifies what a Stop closed out.
type StopResult struct {
	SessionID string `json:"session_id"`
	WorkerID  string `json:"worker_id"`
}

// Launch starts a new session for the named drone. The worker record is
// created before the session record (the session references it), and
// both exist before the container is spawned; a spawn failure closes
// both so no "running" records survive a failed launch.
func (l *Launcher) Launch(ctx context.Context, droneName string, opts LaunchOptions) (Launch, error) {
	d, err := l.Store.GetDroneByName(ctx, droneName)
	if err != nil {
		return Launch{}, err
	}
	existing, err := l.Store.RunningSessionForDrone(ctx, d.ID)
	if err != nil {
		return Launch{}, err
	}
	if existing != nil {
		return Launch{}, fmt.Errorf("drone %q already has a running session (%s): stop it first", droneName, existing.ID)
	}

	if !l.Runtime.IsAvailable(ctx) {
		return Launch{}, errors.New("container runtime is unavailable: start Docker and try again")
	}
	if err := l.ensureImage(ctx, opts); err != nil {
		return Launch{}, err
	}
	cred, err := auth.Resolve(opts.AuthMode, opts.APIKey)
	if err != nil {
		return Launch{}, err
	}

	sessionID := store.RandomID()
	workerID := store.RandomID()
	branch := git.SessionBranch(droneName, sessionID)

	worker := store.Worker{
		ID:            workerID,
		Status:        store.WorkerRunning,
		AuthMode:      cred.Mode,
		MaxIterations: opts.MaxIterations,
	}
	if err := l.Store.InsertWorker(ctx, worker); err != nil {
		return Launch{}, fmt.Errorf("register worker: %w", err)
	}
	session := store.DroneSession{
		ID:        sessionID,
		DroneID:   d.ID,
		WorkerID:  workerID,
		GitBranch: branch,
		Status:    store.SessionRunning,
	}
	if err := l.Store.InsertDroneSession(ctx, session); err != nil {
		if merr := l.Store.UpdateWorkerStatus(ctx, workerID, store.WorkerFailed); merr != nil {
			slog.Error("worker status update failed", "worker", workerID, "err", merr)
		}
		return Launch{}, fmt.Errorf("register session: %w", err)
	}

	containerID, err := l.Runtime.Spawn(ctx, l.spawnOptions(d, sessionID, workerID, cred, opts))
	if err != nil {
		// Close both records even though the spawn failed; a failed
		// launch must not leave "running" rows behind.
		if merr := l.Store.CloseDroneSession(ctx, sessionID, store.SessionFailed, StopReasonSpawnFailed); merr != nil {
			slog.Error("session close failed", "session", sessionID, "err", merr)
		}
		if merr := l.Store.UpdateWorkerStatus(ctx, workerID, store.WorkerFailed); merr != nil {
			slog.Error("worker status update failed", "worker", workerID, "err", merr)
		}
		return Launch{}, fmt.Errorf("spawn container: %w", err)
	}
	if err := l.Store.SetWorkerContainer(ctx, workerID, containerID); err != nil {
		return Launch{}, fmt.Errorf("record container id: %w", err)
	}

	slog.Info("drone session launched", "drone", droneName, "session", sessionID, "worker", workerID, "branch", branch)
	return Launch{SessionID: sessionID, WorkerID: workerID, ContainerID: containerID, Branch: branch}, nil
}

// Stop ends the drone's running session. The kill is best-effort: a
// container that is already gone still gets its session and worker
// records closed, by design.
func (l *Launcher) Stop(ctx context.Context, droneName string) (StopResult, error) {
	d, err := l.Store.GetDroneByName(ctx, droneName)
	if err != nil {
		return StopResult{}, err
	}
	sess, err := l.Store.RunningSessionForDrone(ctx, d.ID)
	if err != nil {
		return StopResult{}, err
	}
	if sess == nil {
		return StopResult{}, fmt.Errorf("drone %q has no running session", droneName)
	}

	if err := l.Store.CloseDroneSession(ctx, sess.ID, store.SessionStopped, "manual"); err != nil {
		return StopResult{}, err
	}
	worker, err := l.Store.GetWorker(ctx, sess.WorkerID)
	if err == nil && worker.ContainerID != "" {
		if err := l.Runtime.Kill(ctx, worker.ContainerID); err != nil {
			slog.Warn("container kill failed during stop", "container", worker.ContainerID, "err", err)
		}
	}
	if err := l.Store.UpdateWorkerStatus(ctx, sess.WorkerID, store.WorkerKilled); err != nil {
		return StopResult{}, err
	}
	return StopResult{SessionID: sess.ID, WorkerID: sess.WorkerID}, nil
}

func (l *Launcher) ensureImage(ctx context.Context, opts LaunchOptions) error {
	exists, err := l.Runtime.ImageExists(ctx, opts.Image)
	if err != nil {
		return fmt.Errorf("check image %s: %w", opts.Image, err)
	}
	if exists && !opts.Build {
		return nil
	}
	buildFile := runtime.ResolveBuildFile(opts.ProjectRoot, opts.PluginRoot)
	if buildFile == "" {
		if !exists {
			return fmt.Errorf("image %s not found and no Dockerfile.worker available: create .blackboard/Dockerfile.worker in your project", opts.Image)
		}
		return errors.New("--build requested but no Dockerfile.worker found: create .blackboard/Dockerfile.worker in your project")
	}
	contextDir := opts.ProjectRoot
	if contextDir == "" {
		contextDir = "."
	}
	if err := l.Runtime.BuildImage(ctx, opts.Image, contextDir, buildFile); err != nil {
		return fmt.Errorf("build image %s: %w", opts.Image, err)
	}
	return nil
}

func (l *Launcher) spawnOptions(d *store.Drone, sessionID, workerID string, cred auth.Credential, opts LaunchOptions) runtime.SpawnOptions {
	memory := opts.Memory
	if memory == "" {
		memory = "1g"
	}
	spawnOpts := runtime.SpawnOptions{
		Image:  opts.Image,
		Name:   "blackboard-drone-" + d.Name + "-" + sessionID[:min(8, len(sessionID))],
		Memory: memory,
		Labels: map[string]string{
			runtime.LabelManaged:  "true",
			runtime.LabelWorkerID: workerID,
			runtime.LabelOwner:    d.Name + "/" + sessionID,
			runtime.LabelType:     "drone",
		},
		Mounts: []runtime.Mount{
			{Host: opts.DBDir, Container: "/app/db"},
		},
		Env: map[string]string{
			"BLACKBOARD_WORKER_ID":      workerID,
			"BLACKBOARD_DRONE":          d.Name,
			"BLACKBOARD_MAX_ITERATIONS": fmt.Sprintf("%d", opts.MaxIterations),
		},
	}
	if opts.RepoDir != "" {
		spawnOpts.Mounts = append(spawnOpts.Mounts, runtime.Mount{Host: opts.RepoDir, Container: "/app/repo"})
	}
	cred.ApplyTo(&spawnOpts)
	return spawnOpts
}
