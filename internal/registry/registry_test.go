package registry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/me/gobs/internal/store"
	"github.com/me/gobs/pkg/model"
)

func testRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg, err := New(context.Background(), st, "testnode", logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg, st
}

func submission(name string, ncpus int) *model.Submission {
	return &model.Submission{
		Name:     name,
		Filename: "/work/" + name + ".sh",
		Username: "astro",
		NCPUs:    ncpus,
	}
}

func TestCreateAssignsIncreasingIDs(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	a, err := reg.Create(ctx, submission("a", 1), 0)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := reg.Create(ctx, submission("b", 1), 0)
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if b.ID <= a.ID {
		t.Errorf("ids not increasing: %d then %d", a.ID, b.ID)
	}
	if a.State() != model.JobWaiting {
		t.Errorf("new job state = %q, want WAITING", a.State())
	}
}

func TestCreateUsesDefaultPriority(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	j, err := reg.Create(ctx, submission("d", 1), 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if j.Priority != 5 {
		t.Errorf("priority = %d, want default 5", j.Priority)
	}

	p := 9
	sub := submission("e", 1)
	sub.Priority = &p
	j2, err := reg.Create(ctx, sub, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if j2.Priority != 9 {
		t.Errorf("priority = %d, want explicit 9", j2.Priority)
	}
}

func TestCreatePersists(t *testing.T) {
	reg, st := testRegistry(t)
	ctx := context.Background()

	j, err := reg.Create(ctx, submission("p", 2), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, err := st.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if stored == nil || stored.Name != "p" {
		t.Errorf("job not mirrored to store: %+v", stored)
	}
}

func TestGetUnknown(t *testing.T) {
	reg, _ := testRegistry(t)
	_, err := reg.Get(321)
	if err == nil || model.CodeOf(err) != model.ErrNotFound {
		t.Errorf("want NOT_FOUND, got %v", err)
	}
}

func TestMarkStartedAndFinished(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	j, _ := reg.Create(ctx, submission("life", 2), 0)
	started := time.Now().UTC()

	if err := reg.MarkStarted(ctx, j.ID, "testnode", 1234, started); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	got, _ := reg.Get(j.ID)
	if got.State() != model.JobRunning || got.PID != 1234 || got.Node != "testnode" {
		t.Errorf("after start: %+v", got)
	}

	// Starting twice violates the once-only transition.
	if err := reg.MarkStarted(ctx, j.ID, "testnode", 1234, started); err == nil {
		t.Error("second MarkStarted should fail")
	}

	finished := started.Add(time.Second)
	if err := reg.MarkFinished(ctx, j.ID, 0, finished); err != nil {
		t.Fatalf("mark finished: %v", err)
	}
	got, _ = reg.Get(j.ID)
	if got.State() != model.JobDone || got.PID != 0 {
		t.Errorf("after finish: %+v", got)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("exit_code = %v", got.ExitCode)
	}

	// A duplicate exit notification is absorbed as CONFLICT.
	err := reg.MarkFinished(ctx, j.ID, 0, finished)
	if err == nil || model.CodeOf(err) != model.ErrConflict {
		t.Errorf("duplicate MarkFinished: want CONFLICT, got %v", err)
	}
}

func TestMarkFinishedRequiresStart(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	j, _ := reg.Create(ctx, submission("early", 1), 0)
	err := reg.MarkFinished(ctx, j.ID, 0, time.Now().UTC())
	if err == nil || model.CodeOf(err) != model.ErrConflict {
		t.Errorf("finishing a waiting job: want CONFLICT, got %v", err)
	}
	got, _ := reg.Get(j.ID)
	if got.State() != model.JobWaiting {
		t.Errorf("state = %q, want WAITING", got.State())
	}
}

func TestDeleteWaiting(t *testing.T) {
	reg, st := testRegistry(t)
	ctx := context.Background()

	j, _ := reg.Create(ctx, submission("del", 1), 0)
	if err := reg.Delete(ctx, j.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.Get(j.ID); model.CodeOf(err) != model.ErrNotFound {
		t.Error("job still in registry after delete")
	}
	if stored, _ := st.GetJob(ctx, j.ID); stored != nil {
		t.Error("job still in store after delete")
	}
	if len(reg.List(model.JobWaiting, 0)) != 0 {
		t.Error("deleted job still listed as waiting")
	}
}

func TestDeleteRunningConflicts(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	j, _ := reg.Create(ctx, submission("busy", 1), 0)
	if err := reg.MarkStarted(ctx, j.ID, "testnode", 99, time.Now().UTC()); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	err := reg.Delete(ctx, j.ID)
	if err == nil || model.CodeOf(err) != model.ErrConflict {
		t.Errorf("want CONFLICT, got %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	a, _ := reg.Create(ctx, submission("a", 1), 0)
	_ = a
	high := submission("high", 1)
	p := 10
	high.Priority = &p
	h, _ := reg.Create(ctx, high, 0)

	waiting := reg.List(model.JobWaiting, 0)
	if len(waiting) != 2 {
		t.Fatalf("waiting = %d, want 2", len(waiting))
	}
	if waiting[0].ID != h.ID {
		t.Errorf("high priority job should list first, got %q", waiting[0].Name)
	}
}

func TestCrashRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	// Simulate a job that was running when the previous daemon died.
	started := time.Now().UTC().Add(-time.Hour)
	orphan := &model.Job{
		Name:        "orphan",
		Filename:    "/work/orphan.sh",
		NCPUs:       2,
		Node:        "testnode",
		PID:         777,
		SubmittedAt: started.Add(-time.Minute),
		StartedAt:   &started,
	}
	if _, err := st.InsertJob(ctx, orphan); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}

	reg, err := New(ctx, st, "testnode", logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if n := len(reg.List(model.JobRunning, 0)); n != 0 {
		t.Errorf("running after recovery = %d, want 0", n)
	}
	done := reg.List(model.JobDone, 0)
	if len(done) != 1 {
		t.Fatalf("done after recovery = %d, want 1", len(done))
	}
	if done[0].ExitCode == nil || *done[0].ExitCode != LostExitCode {
		t.Errorf("recovered exit code = %v, want %d", done[0].ExitCode, LostExitCode)
	}
}

func TestCrashRecoverySkipsOtherNodes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	started := time.Now().UTC().Add(-time.Hour)
	for _, node := range []string{"testnode", "othernode"} {
		job := &model.Job{
			Name:        "on-" + node,
			Filename:    "/work/" + node + ".sh",
			NCPUs:       1,
			Node:        node,
			PID:         500,
			SubmittedAt: started.Add(-time.Minute),
			StartedAt:   &started,
		}
		if _, err := st.InsertJob(ctx, job); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	reg, err := New(ctx, st, "testnode", logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The other daemon's job is not ours to close out.
	running := reg.List(model.JobRunning, 0)
	if len(running) != 1 || running[0].Node != "othernode" {
		t.Fatalf("running after recovery = %+v, want only the othernode job", running)
	}
	if len(reg.List(model.JobDone, 0)) != 1 {
		t.Errorf("done after recovery = %d, want 1", len(reg.List(model.JobDone, 0)))
	}
	if !strings.Contains(buf.String(), "recovered=1") {
		t.Errorf("recovered count should only cover this node's jobs, log: %s", buf.String())
	}
}
