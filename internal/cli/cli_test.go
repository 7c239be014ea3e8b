package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/bfollington/claude-blackboard-sub000/internal/config"
	"github.com/bfollington/claude-blackboard-sub000/internal/store"
)

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	if root == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	cmds := root.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}
	for _, want := range []string{"farm", "drain", "kill", "workers", "purge", "drone", "doctor"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
	root = NewRootCmd("")
	if root.Version != "dev" {
		t.Errorf("default Version: got %q", root.Version)
	}
}

func TestNewRootCmd_hasHomeFlag(t *testing.T) {
	root := NewRootCmd("")
	f := root.PersistentFlags().Lookup("home")
	if f == nil {
		t.Fatal("expected --home persistent flag")
	}
}

func TestWorkersEmpty(t *testing.T) {
	home := t.TempDir()

	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"workers", "--home", home})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("workers: %v", err)
	}
	if !strings.Contains(buf.String(), "No active workers") {
		t.Errorf("output: got %q", buf.String())
	}
}

func TestWorkersTable(t *testing.T) {
	home := t.TempDir()

	st, err := store.Open(home)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := st.InsertWorker(context.Background(), store.Worker{ID: "aaaa11112222", ContainerID: "ctr-1"}); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"workers", "--home", home})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("workers: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "aaaa11112222") {
		t.Errorf("output missing worker id:\n%s", out)
	}
	if !strings.Contains(out, "WORKER") {
		t.Errorf("output missing table header:\n%s", out)
	}
}

func TestDroneCreateAndList(t *testing.T) {
	home := t.TempDir()

	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"drone", "create", "scout", "--home", home})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("drone create: %v", err)
	}
	if !strings.Contains(buf.String(), "Created drone scout") {
		t.Errorf("create output: %q", buf.String())
	}

	buf.Reset()
	root = NewRootCmd("")
	root.SetOut(&buf)
	root.SetArgs([]string{"drone", "list", "--home", home})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("drone list: %v", err)
	}
	if !strings.Contains(buf.String(), "scout") {
		t.Errorf("list output: %q", buf.String())
	}
}

func TestPurge(t *testing.T) {
	home := t.TempDir()

	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"purge", "--home", home, "--older-than", "1"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if !strings.Contains(buf.String(), "Purged 0") {
		t.Errorf("purge output: %q", buf.String())
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := openStore(t.TempDir(), "oracle", ""); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestHomeResolution(t *testing.T) {
	t.Setenv("BLACKBOARD_HOME", "/from/env")
	home, err := config.ResolveHome("")
	if err != nil {
		t.Fatal(err)
	}
	if home != "/from/env" {
		t.Errorf("home: got %q", home)
	}
}
