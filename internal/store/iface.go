package store

import (
	"context"
	"time"
)

// Store is the persistence surface shared by the orchestrator, the CLI,
// and the agent processes running inside containers. Implemented by the
// SQLite store in this package and the Postgres store in
// internal/store/postgres.
type Store interface {
	Close() error

	// Worker registry. Status-affecting writes always propagate errors;
	// UpdateWorkerStatus is a no-op once the worker is terminal.
	InsertWorker(ctx context.Context, w Worker) error
	SetWorkerContainer(ctx context.Context, workerID, containerID string) error
	UpdateWorkerStatus(ctx context.Context, workerID, status string) error
	UpdateWorkerHeartbeat(ctx context.Context, workerID string) error
	UpdateWorkerIteration(ctx context.Context, workerID string, iteration int) error
	GetWorker(ctx context.Context, workerID string) (*Worker, error)
	FindWorkerByPrefix(ctx context.Context, prefix string) (*Worker, error)
	ListActiveWorkers(ctx context.Context) ([]Worker, error)
	ListStaleWorkers(ctx context.Context, timeout time.Duration) ([]Worker, error)
	ListWorkersForThread(ctx context.Context, threadID string) ([]Worker, error)
	ActiveWorkerIDs(ctx context.Context) ([]string, error)
	PurgeWorkers(ctx context.Context, terminalAge time.Duration) (int, error)

	// Threads (consumed, not owned). The create/update calls exist for
	// the hook handlers and tests that seed the blackboard.
	CreateThread(ctx context.Context, name, status string) (Thread, error)
	SetThreadStatus(ctx context.Context, threadID, status string) error
	GetThreadByName(ctx context.Context, name string) (*Thread, error)
	ListThreads(ctx context.Context) ([]Thread, error)
	ListThreadsWithPendingWork(ctx context.Context) ([]Thread, error)
	ThreadHasPendingWork(ctx context.Context, threadID string) (bool, error)
	AddPlanStep(ctx context.Context, threadID, description string) (int64, error)
	SetPlanStepStatus(ctx context.Context, stepID int64, status string) error

	// Drones and their sessions.
	CreateDrone(ctx context.Context, name string) (Drone, error)
	GetDroneByName(ctx context.Context, name string) (*Drone, error)
	ListDrones(ctx context.Context) ([]Drone, error)
	InsertDroneSession(ctx context.Context, s DroneSession) error
	GetDroneSession(ctx context.Context, sessionID string) (*DroneSession, error)
	RunningSessionForDrone(ctx context.Context, droneID string) (*DroneSession, error)
	ListSessionsForDrone(ctx context.Context, droneID string) ([]DroneSession, error)
	CloseDroneSession(ctx context.Context, sessionID, status, reason string) error
}
