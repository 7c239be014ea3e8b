// Package store defines the persistence interface and shared models for
// workers, threads, drones, and drone sessions in the blackboard database.
package store

import "time"

// Worker status values. A worker is terminal once it leaves "running"
// and its status never changes again after that.
const (
	WorkerRunning   = "running"
	WorkerCompleted = "completed"
	WorkerFailed    = "failed"
	WorkerKilled    = "killed"
)

// Drone session status values.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionStopped   = "stopped"
	SessionFailed    = "failed"
)

// Worker is the persisted lifecycle record for one spawned container.
// ContainerID is empty only during the brief window between the spawn
// attempt starting and the runtime assigning an id.
type Worker struct {
	ID            string
	ContainerID   string
	ThreadID      *string // nil for drone workers
	Status        string
	AuthMode      string // env, config, or oauth; recorded at spawn, never re-resolved
	Iteration     int
	MaxIterations int
	LastHeartbeat time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ThreadName    string // joined display name, empty for drone workers
}

// Thread is a unit of work consumed by the orchestrator. Threads are
// owned by the wider blackboard schema; the orchestrator only reads
// name, status, and the pending-work predicate.
type Thread struct {
	ID           string
	Name         string
	Status       string // active, paused, completed, ...
	PendingSteps int
	CreatedAt    time.Time
}

// Drone is a named, reusable agent configuration. Each launch produces
// one DroneSession and one Worker.
type Drone struct {
	ID        string
	Name      string
	Status    string
	CreatedAt time.Time
}

// DroneSession is the lifecycle record for a single drone run.
type DroneSession struct {
	ID         string
	DroneID    string
	WorkerID   string
	GitBranch  string
	Status     string
	Iteration  int
	StartedAt  time.Time
	EndedAt    *time.Time
	StopReason *string
}
