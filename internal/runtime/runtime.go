// Package runtime wraps the Docker CLI with the typed operations the
// orchestrator needs: availability probing, image build, container
// spawn/kill/stop/inspect/list, and reconciliation of registry state
// against what the runtime actually reports.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Label keys stamped onto every container this tool spawns.
const (
	LabelManaged  = "blackboard.managed"
	LabelWorkerID = "blackboard.worker-id"
	LabelOwner    = "blackboard.owner"
	LabelType     = "blackboard.type"
)

// ErrNotFound is returned by InspectState when the container no longer
// exists. Callers must distinguish this from "exists but stopped".
var ErrNotFound = errors.New("container not found")

// Error is a failed runtime CLI invocation with its captured output.
type Error struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *Error) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// Liveness is the three-valued result of an is-it-running check.
// Stopped and Gone require different cleanup (remove vs. nothing to
// remove), so this is never collapsed into a bool.
type Liveness int

const (
	// Running means the container exists and is running.
	Running Liveness = iota
	// Stopped means the container exists but is not running.
	Stopped
	// Gone means the container does not exist at all.
	Gone
)

func (l Liveness) String() string {
	switch l {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Gone:
		return "gone"
	default:
		return "unknown"
	}
}

// Mount is a host directory bind-mounted into a container.
type Mount struct {
	Host      string
	Container string
	ReadOnly  bool
}

// SpawnOptions configures a detached container run.
type SpawnOptions struct {
	Image  string
	Name   string
	Memory string // docker memory limit string, e.g. "512m"
	Labels map[string]string
	Mounts []Mount
	Env    map[string]string
}

// ContainerInfo is one entry from a container listing.
type ContainerInfo struct {
	ID     string
	Name   string
	Status string
	Labels map[string]string
}

// State is the inspected state of an existing container.
type State struct {
	Running  bool
	ExitCode *int
	Status   string
}

// Client is the runtime operation surface. Docker implements it; tests
// substitute fakes.
type Client interface {
	// IsAvailable reports whether the runtime can be used at all.
	// It never returns an error; any probe failure is false.
	IsAvailable(ctx context.Context) bool

	// ImageExists reports whether the named image is present locally.
	ImageExists(ctx context.Context, name string) (bool, error)

	// BuildImage builds dockerfile in contextDir and tags it.
	BuildImage(ctx context.Context, tag, contextDir, dockerfile string) error

	// Spawn starts a detached container and returns its runtime id.
	Spawn(ctx context.Context, opts SpawnOptions) (string, error)

	// Kill terminates a container immediately, with no grace period.
	Kill(ctx context.Context, containerID string) error

	// Stop stops a container gracefully, escalating after timeout.
	Stop(ctx context.Context, containerID string, timeout time.Duration) error

	// Remove force-removes a container.
	Remove(ctx context.Context, containerID string) error

	// List returns containers matching the label filter ("k=v" or "k").
	List(ctx context.Context, labelFilter string) ([]ContainerInfo, error)

	// InspectState returns the state of an existing container, or an
	// error wrapping ErrNotFound if it no longer exists.
	InspectState(ctx context.Context, containerID string) (State, error)

	// Alive reports whether the container is running, stopped, or gone.
	Alive(ctx context.Context, containerID string) (Liveness, error)

	// Logs streams container logs to stdout (used by drone logs).
	Logs(ctx context.Context, containerID string, follow bool) error
}
