package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWithHome_HomeFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, ok := HomeFrom(ctx); ok {
		t.Fatal("expected no home in empty context")
	}
	ctx = WithHome(ctx, "/foo/bar")
	got, ok := HomeFrom(ctx)
	if !ok || got != "/foo/bar" {
		t.Fatalf("HomeFrom: got %q, ok=%v; want /foo/bar, true", got, ok)
	}
}

func TestMustHomeFrom(t *testing.T) {
	t.Parallel()
	ctx := WithHome(context.Background(), "/blackboard")
	if got := MustHomeFrom(ctx); got != "/blackboard" {
		t.Fatalf("MustHomeFrom: got %q", got)
	}
}

func TestMustHomeFrom_panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when home missing")
		}
	}()
	MustHomeFrom(context.Background())
}

func TestResolveHome_override(t *testing.T) {
	t.Parallel()
	got, err := ResolveHome("/custom/home")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/custom/home") {
		t.Fatalf("ResolveHome: got %q", got)
	}
}

func TestResolveHome_env(t *testing.T) {
	t.Setenv("BLACKBOARD_HOME", "/env/home")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/env/home") {
		t.Fatalf("ResolveHome from env: got %q", got)
	}
}

func TestResolveHome_default(t *testing.T) {
	t.Setenv("BLACKBOARD_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("UserHomeDir: %v", err)
	}
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	want := filepath.Join(home, ".blackboard")
	if got != want {
		t.Fatalf("ResolveHome default: got %q, want %q", got, want)
	}
}

func TestDBDir(t *testing.T) {
	t.Parallel()
	if got := DBDir("/home/u/.blackboard"); got != filepath.Join("/home/u/.blackboard", "protected") {
		t.Fatalf("DBDir: got %q", got)
	}
}

func TestLoad_missingFile(t *testing.T) {
	t.Parallel()
	f, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f != (File{}) {
		t.Fatalf("missing config should load zero File, got %+v", f)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	yaml := `
image: custom-worker
memory: 1g
concurrency: 5
poll_seconds: 2
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Image != "custom-worker" || f.Memory != "1g" || f.Concurrency != 5 {
		t.Fatalf("Load: got %+v", f)
	}
	if f.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval: got %v, want 2s", f.PollInterval())
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("image: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(home); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestOrAccessors(t *testing.T) {
	t.Parallel()

	var zero File
	if got := zero.ImageOr(""); got != DefaultImage {
		t.Errorf("ImageOr default: got %q", got)
	}
	if got := zero.ConcurrencyOr(0); got != DefaultConcurrency {
		t.Errorf("ConcurrencyOr default: got %d", got)
	}
	if got := zero.HeartbeatTimeout(); got != DefaultHeartbeatTimeout {
		t.Errorf("HeartbeatTimeout default: got %v", got)
	}

	f := File{Image: "from-config", Concurrency: 7}
	if got := f.ImageOr(""); got != "from-config" {
		t.Errorf("ImageOr config: got %q", got)
	}
	// Flags beat config.
	if got := f.ImageOr("from-flag"); got != "from-flag" {
		t.Errorf("ImageOr flag: got %q", got)
	}
	if got := f.ConcurrencyOr(2); got != 2 {
		t.Errorf("ConcurrencyOr flag: got %d", got)
	}
	if got := f.MaxIterationsOr(0); got != DefaultMaxIterations {
		t.Errorf("MaxIterationsOr default: got %d", got)
	}
	if got := f.DroneMemoryOr(""); got != DefaultDroneMemory {
		t.Errorf("DroneMemoryOr default: got %q", got)
	}
}
