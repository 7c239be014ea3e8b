package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	st, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMigrationsAndWorkerCRUD(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	th, err := st.CreateThread(ctx, "fix-login", "active")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	w := Worker{
		ID:            RandomID(),
		ThreadID:      &th.ID,
		Status:        WorkerRunning,
		AuthMode:      "env",
		MaxIterations: 50,
	}
	if err := st.InsertWorker(ctx, w); err != nil {
		t.Fatalf("InsertWorker: %v", err)
	}
	if err := st.SetWorkerContainer(ctx, w.ID, "abc123def456"); err != nil {
		t.Fatalf("SetWorkerContainer: %v", err)
	}

	got, err := st.GetWorker(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if got.ContainerID != "abc123def456" {
		t.Errorf("ContainerID: got %q, want abc123def456", got.ContainerID)
	}
	if got.ThreadName != "fix-login" {
		t.Errorf("ThreadName: got %q, want fix-login", got.ThreadName)
	}
	if got.Status != WorkerRunning {
		t.Errorf("Status: got %q, want running", got.Status)
	}

	active, err := st.ListActiveWorkers(ctx)
	if err != nil {
		t.Fatalf("ListActiveWorkers: %v", err)
	}
	if len(active) != 1 || active[0].ID != w.ID {
		t.Fatalf("ListActiveWorkers: got %+v, want one worker %s", active, w.ID)
	}

	if err := st.UpdateWorkerIteration(ctx, w.ID, 7); err != nil {
		t.Fatalf("UpdateWorkerIteration: %v", err)
	}
	got, _ = st.GetWorker(ctx, w.ID)
	if got.Iteration != 7 {
		t.Errorf("Iteration: got %d, want 7", got.Iteration)
	}
}

func TestWorkerTerminalStatusIsFinal(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	w := Worker{ID: RandomID(), Status: WorkerRunning, AuthMode: "env"}
	if err := st.InsertWorker(ctx, w); err != nil {
		t.Fatalf("InsertWorker: %v", err)
	}
	if err := st.UpdateWorkerStatus(ctx, w.ID, WorkerCompleted); err != nil {
		t.Fatalf("UpdateWorkerStatus completed: %v", err)
	}
	// A second transition must not overwrite the terminal status.
	if err := st.UpdateWorkerStatus(ctx, w.ID, WorkerFailed); err != nil {
		t.Fatalf("UpdateWorkerStatus failed: %v", err)
	}
	got, err := st.GetWorker(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if got.Status != WorkerCompleted {
		t.Errorf("Status after double transition: got %q, want completed", got.Status)
	}
}

func TestFindWorkerByPrefix(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.InsertWorker(ctx, Worker{ID: "aa11bb22cc33"}); err != nil {
		t.Fatal(err)
	}
	if err := st.InsertWorker(ctx, Worker{ID: "aa99ff88ee77"}); err != nil {
		t.Fatal(err)
	}

	w, err := st.FindWorkerByPrefix(ctx, "aa11")
	if err != nil {
		t.Fatalf("FindWorkerByPrefix: %v", err)
	}
	if w.ID != "aa11bb22cc33" {
		t.Errorf("got %q, want aa11bb22cc33", w.ID)
	}

	if _, err := st.FindWorkerByPrefix(ctx, "aa"); err == nil {
		t.Error("expected ambiguity error for prefix aa")
	}
	if _, err := st.FindWorkerByPrefix(ctx, "zz"); err == nil {
		t.Error("expected not-found error for prefix zz")
	}
}

func TestListStaleWorkers(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	stale := Worker{ID: RandomID(), LastHeartbeat: time.Now().Add(-5 * time.Minute)}
	fresh := Worker{ID: RandomID()}
	if err := st.InsertWorker(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := st.InsertWorker(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	got, err := st.ListStaleWorkers(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("ListStaleWorkers: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("ListStaleWorkers: got %+v, want only %s", got, stale.ID)
	}

	// A heartbeat revives the worker.
	if err := st.UpdateWorkerHeartbeat(ctx, stale.ID); err != nil {
		t.Fatalf("UpdateWorkerHeartbeat: %v", err)
	}
	got, _ = st.ListStaleWorkers(ctx, 30*time.Second)
	if len(got) != 0 {
		t.Fatalf("after heartbeat: got %+v, want none", got)
	}
}

func TestThreadsWithPendingWork(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	busy, err := st.CreateThread(ctx, "busy", "active")
	if err != nil {
		t.Fatal(err)
	}
	idle, err := st.CreateThread(ctx, "idle", "active")
	if err != nil {
		t.Fatal(err)
	}
	paused, err := st.CreateThread(ctx, "paused", "paused")
	if err != nil {
		t.Fatal(err)
	}

	stepID, err := st.AddPlanStep(ctx, busy.ID, "write the parser")
	if err != nil {
		t.Fatalf("AddPlanStep: %v", err)
	}
	if _, err := st.AddPlanStep(ctx, paused.ID, "ignored while paused"); err != nil {
		t.Fatal(err)
	}

	pending, err := st.ListThreadsWithPendingWork(ctx)
	if err != nil {
		t.Fatalf("ListThreadsWithPendingWork: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != busy.ID {
		t.Fatalf("pending threads: got %+v, want only %s", pending, busy.ID)
	}
	if pending[0].PendingSteps != 1 {
		t.Errorf("PendingSteps: got %d, want 1", pending[0].PendingSteps)
	}

	has, err := st.ThreadHasPendingWork(ctx, idle.ID)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("idle thread should have no pending work")
	}

	if err := st.SetPlanStepStatus(ctx, stepID, "completed"); err != nil {
		t.Fatalf("SetPlanStepStatus: %v", err)
	}
	pending, _ = st.ListThreadsWithPendingWork(ctx)
	if len(pending) != 0 {
		t.Fatalf("after completing the step: got %+v, want none", pending)
	}

	th, err := st.GetThreadByName(ctx, "no-such-thread")
	if err != nil {
		t.Fatalf("GetThreadByName: %v", err)
	}
	if th != nil {
		t.Errorf("missing thread: got %+v, want nil", th)
	}
}

func TestDroneSessions(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	d, err := st.CreateDrone(ctx, "scout")
	if err != nil {
		t.Fatalf("CreateDrone: %v", err)
	}

	workerID := RandomID()
	if err := st.InsertWorker(ctx, Worker{ID: workerID}); err != nil {
		t.Fatal(err)
	}
	sess := DroneSession{
		ID:        RandomID(),
		DroneID:   d.ID,
		WorkerID:  workerID,
		GitBranch: "drone/scout/" + workerID[:8],
	}
	if err := st.InsertDroneSession(ctx, sess); err != nil {
		t.Fatalf("InsertDroneSession: %v", err)
	}

	running, err := st.RunningSessionForDrone(ctx, d.ID)
	if err != nil {
		t.Fatalf("RunningSessionForDrone: %v", err)
	}
	if running == nil || running.ID != sess.ID {
		t.Fatalf("running session: got %+v, want %s", running, sess.ID)
	}

	if err := st.CloseDroneSession(ctx, sess.ID, SessionStopped, "manual"); err != nil {
		t.Fatalf("CloseDroneSession: %v", err)
	}
	running, _ = st.RunningSessionForDrone(ctx, d.ID)
	if running != nil {
		t.Fatalf("after close: got %+v, want nil", running)
	}

	got, err := st.GetDroneSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetDroneSession: %v", err)
	}
	if got.Status != SessionStopped || got.StopReason == nil || *got.StopReason != "manual" {
		t.Errorf("closed session: got status=%q reason=%v", got.Status, got.StopReason)
	}
	if got.EndedAt == nil {
		t.Error("closed session should have an end time")
	}

	// Closing again must not clobber the recorded reason.
	if err := st.CloseDroneSession(ctx, sess.ID, SessionFailed, "late"); err != nil {
		t.Fatalf("CloseDroneSession again: %v", err)
	}
	got, _ = st.GetDroneSession(ctx, sess.ID)
	if got.Status != SessionStopped {
		t.Errorf("status after double close: got %q, want stopped", got.Status)
	}
}

func TestPurgeWorkers(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	old := Worker{ID: RandomID()}
	if err := st.InsertWorker(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateWorkerStatus(ctx, old.ID, WorkerCompleted); err != nil {
		t.Fatal(err)
	}

	running := Worker{ID: RandomID()}
	if err := st.InsertWorker(ctx, running); err != nil {
		t.Fatal(err)
	}

	// A terminal worker referenced by a drone session stays for audit.
	d, err := st.CreateDrone(ctx, "keeper")
	if err != nil {
		t.Fatal(err)
	}
	kept := Worker{ID: RandomID()}
	if err := st.InsertWorker(ctx, kept); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateWorkerStatus(ctx, kept.ID, WorkerKilled); err != nil {
		t.Fatal(err)
	}
	if err := st.InsertDroneSession(ctx, DroneSession{ID: RandomID(), DroneID: d.ID, WorkerID: kept.ID}); err != nil {
		t.Fatal(err)
	}

	// Negative age puts the cutoff in the future so fresh terminal rows qualify.
	n, err := st.PurgeWorkers(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("PurgeWorkers: %v", err)
	}
	if n != 1 {
		t.Errorf("purged: got %d, want 1", n)
	}
	if _, err := st.GetWorker(ctx, old.ID); err == nil {
		t.Error("purged worker should be gone")
	}
	if _, err := st.GetWorker(ctx, running.ID); err != nil {
		t.Errorf("running worker should survive purge: %v", err)
	}
	if _, err := st.GetWorker(ctx, kept.ID); err != nil {
		t.Errorf("session-referenced worker should survive purge: %v", err)
	}
}

func TestRandomID(t *testing.T) {
	t.Parallel()
	a := RandomID()
	b := RandomID()
	if len(a) != 12 || len(b) != 12 {
		t.Fatalf("RandomID length: got %d and %d, want 12", len(a), len(b))
	}
	if a == b {
		t.Fatal("RandomID collided")
	}
}
