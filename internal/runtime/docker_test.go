package runtime

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSpawnArgs(t *testing.T) {
	t.Parallel()

	args := spawnArgs(SpawnOptions{
		Image:  "blackboard-worker",
		Name:   "blackboard-worker-abc",
		Memory: "512m",
		Labels: map[string]string{
			LabelWorkerID: "abc123",
			LabelManaged:  "true",
		},
		Mounts: []Mount{
			{Host: "/home/u/.blackboard/protected", Container: "/app/db"},
			{Host: "/home/u/.claude", Container: "/home/worker/.claude", ReadOnly: true},
		},
		Env: map[string]string{
			"BLACKBOARD_WORKER_ID": "abc123",
			"BLACKBOARD_THREAD":    "fix-login",
		},
	})

	want := []string{
		"run", "-d",
		"--name", "blackboard-worker-abc",
		"--memory", "512m",
		"--label", "blackboard.managed=true",
		"--label", "blackboard.worker-id=abc123",
		"-v", "/home/u/.blackboard/protected:/app/db",
		"-v", "/home/u/.claude:/home/worker/.claude:ro",
		"-e", "BLACKBOARD_THREAD=fix-login",
		"-e", "BLACKBOARD_WORKER_ID=abc123",
		"blackboard-worker",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("spawnArgs:\n got %q\nwant %q", args, want)
	}
}

func TestSpawnArgsMinimal(t *testing.T) {
	t.Parallel()
	args := spawnArgs(SpawnOptions{Image: "img"})
	want := []string{"run", "-d", "img"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("spawnArgs minimal: got %q, want %q", args, want)
	}
}

func TestParseLabels(t *testing.T) {
	t.Parallel()

	got := parseLabels("blackboard.managed=true,blackboard.worker-id=abc123,empty=")
	want := map[string]string{
		"blackboard.managed":   "true",
		"blackboard.worker-id": "abc123",
		"empty":                "",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseLabels: got %v, want %v", got, want)
	}

	if got := parseLabels(""); len(got) != 0 {
		t.Errorf("parseLabels empty: got %v", got)
	}
}

func TestResolveBuildFile(t *testing.T) {
	t.Parallel()

	project := t.TempDir()
	plugin := t.TempDir()

	if got := ResolveBuildFile(project, plugin); got != "" {
		t.Errorf("no candidates exist: got %q, want empty", got)
	}

	bundled := filepath.Join(plugin, "docker", "Dockerfile.worker")
	if err := os.MkdirAll(filepath.Dir(bundled), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bundled, []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := ResolveBuildFile(project, plugin); got != bundled {
		t.Errorf("bundled fallback: got %q, want %q", got, bundled)
	}

	override := filepath.Join(project, ".blackboard", "Dockerfile.worker")
	if err := os.MkdirAll(filepath.Dir(override), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(override, []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := ResolveBuildFile(project, plugin); got != override {
		t.Errorf("project override wins: got %q, want %q", got, override)
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	e := &Error{Command: "docker kill abc", ExitCode: 1, Stderr: "no such container"}
	if got := e.Error(); got != "docker kill abc: exit code 1: no such container" {
		t.Errorf("Error(): got %q", got)
	}
	e = &Error{Command: "docker info", ExitCode: 125}
	if got := e.Error(); got != "docker info: exit code 125" {
		t.Errorf("Error() without stderr: got %q", got)
	}
}

func TestLivenessString(t *testing.T) {
	t.Parallel()
	cases := map[Liveness]string{Running: "running", Stopped: "stopped", Gone: "gone", Liveness(99): "unknown"}
	for l, want := range cases {
		if got := l.String(); got != want {
			t.Errorf("Liveness(%d).String(): got %q, want %q", int(l), got, want)
		}
	}
}
