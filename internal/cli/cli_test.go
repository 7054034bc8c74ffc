package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/gobs/internal/config"
	"github.com/me/gobs/internal/registry"
	"github.com/me/gobs/internal/rpc"
	"github.com/me/gobs/internal/scheduler"
	"github.com/me/gobs/internal/store"
	"github.com/me/gobs/internal/supervisor"
)

// startTestDaemon runs a full daemon with an in-memory store on a random
// port and returns its address.
func startTestDaemon(t *testing.T) string {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}

	cfg := config.Default()
	cfg.NCPUs = 4
	cfg.Nodename = "testnode"

	reg, err := registry.New(context.Background(), st, cfg.GetNodename(), srvLogger)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	led := scheduler.NewLedger(func(node string) int {
		if node == cfg.GetNodename() {
			return cfg.GetNCPUs()
		}
		return 0
	})
	daemon := scheduler.NewDaemon(cfg, reg, led, supervisor.New(srvLogger), nil, srvLogger)

	srv := rpc.NewServer(daemon, srvLogger)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	return srv.Addr().String()
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// runCLI executes the root command and returns everything written to
// stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var cmdOut bytes.Buffer
	root.SetOut(&cmdOut)
	root.SetErr(&cmdOut)
	root.SetArgs(args)

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := root.Execute()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String() + cmdOut.String(), err
}

func TestSubmitAndListCommands(t *testing.T) {
	addr := startTestDaemon(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "demo.sh", "#PBS -N demo\n#PBS -l ncpus=1\nsleep 30\n")

	output, err := runCLI(t, "--server", addr, "submit", script)
	if err != nil {
		t.Fatalf("submit error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Job 1 submitted") {
		t.Errorf("expected 'Job 1 submitted' in output, got: %s", output)
	}

	output, err = runCLI(t, "--server", addr, "list")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(output, "demo") || !strings.Contains(output, "RUNNING") {
		t.Errorf("expected running job in output, got: %s", output)
	}

	output, err = runCLI(t, "--server", addr, "cpus")
	if err != nil {
		t.Fatalf("cpus error: %v", err)
	}
	if !strings.Contains(output, "1/4 cpus in use") {
		t.Errorf("expected '1/4 cpus in use', got: %s", output)
	}

	output, err = runCLI(t, "--server", addr, "remove", "1")
	if err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if !strings.Contains(output, "Job 1 removed") {
		t.Errorf("expected removal confirmation, got: %s", output)
	}
}

func TestListCommand_Empty(t *testing.T) {
	addr := startTestDaemon(t)

	output, err := runCLI(t, "--server", addr, "list")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(output, "No jobs found.") {
		t.Errorf("expected 'No jobs found.', got: %s", output)
	}
}

func TestSubmitCommand_HeaderOverrides(t *testing.T) {
	addr := startTestDaemon(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "wide.sh", "#PBS -N wide\n#PBS -l ncpus=2\nsleep 30\n")

	// The flag overrides the header; 8 cpus exceed the node, so the job
	// waits.
	output, err := runCLI(t, "--server", addr, "submit", script, "--ncpus", "8")
	if err != nil {
		t.Fatalf("submit error: %v\noutput: %s", err, output)
	}

	output, err = runCLI(t, "--server", addr, "list", "waiting")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(output, "WAITING") {
		t.Errorf("expected waiting job, got: %s", output)
	}
}

func TestSubmitCommand_RequiresNameAndCPUs(t *testing.T) {
	addr := startTestDaemon(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "bare.sh", "sleep 30\n")

	if _, err := runCLI(t, "--server", addr, "submit", script); err == nil {
		t.Fatal("expected error for a header without name and ncpus")
	}

	// Flags stand in for the missing directives.
	output, err := runCLI(t, "--server", addr, "submit", script, "--name", "bare", "--ncpus", "1")
	if err != nil {
		t.Fatalf("submit with flags: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Job 1 submitted") {
		t.Errorf("expected submission confirmation, got: %s", output)
	}
}

func TestSubmitCommand_MissingFile(t *testing.T) {
	addr := startTestDaemon(t)
	if _, err := runCLI(t, "--server", addr, "submit", "nonexistent.sh"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRunCommand_WaitingJob(t *testing.T) {
	addr := startTestDaemon(t)
	dir := t.TempDir()
	blocker := writeScript(t, dir, "blocker.sh", "#PBS -N blocker\nsleep 30\n")
	queued := writeScript(t, dir, "queued.sh", "#PBS -N queued\n#PBS -l ncpus=4\nsleep 30\n")

	if _, err := runCLI(t, "--server", addr, "submit", blocker, "--ncpus", "4"); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	if _, err := runCLI(t, "--server", addr, "submit", queued); err != nil {
		t.Fatalf("submit queued: %v", err)
	}

	output, err := runCLI(t, "--server", addr, "run", "2")
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Job 2 queued for immediate dispatch") {
		t.Errorf("unexpected run output: %s", output)
	}

	if _, err := runCLI(t, "--server", addr, "run", "99"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestConfigCommands(t *testing.T) {
	addr := startTestDaemon(t)

	output, err := runCLI(t, "--server", addr, "config")
	if err != nil {
		t.Fatalf("config error: %v", err)
	}
	if !strings.Contains(output, "nodename") || !strings.Contains(output, "testnode") {
		t.Errorf("expected config listing, got: %s", output)
	}

	output, err = runCLI(t, "--server", addr, "config", "set", "ncpus", "8")
	if err != nil {
		t.Fatalf("config set error: %v", err)
	}
	if !strings.Contains(output, "8") {
		t.Errorf("expected updated ncpus, got: %s", output)
	}

	if _, err := runCLI(t, "--server", addr, "config", "set", "bogus", "1"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestNormalizeAddr(t *testing.T) {
	if got := normalizeAddr("example.org"); got != "example.org:16219" {
		t.Errorf("normalizeAddr = %q", got)
	}
	if got := normalizeAddr("example.org:9000"); got != "example.org:9000" {
		t.Errorf("normalizeAddr = %q", got)
	}
}

func TestDefaultServer_Env(t *testing.T) {
	t.Setenv("GOBS_SERVER", "otherhost:1")
	if got := defaultServer(); got != "otherhost:1" {
		t.Errorf("defaultServer = %q, want env value", got)
	}
	t.Setenv("GOBS_SERVER", "")
	if got := defaultServer(); got != "localhost:16219" {
		t.Errorf("defaultServer = %q, want default", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 20); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	long := strings.Repeat("x", 30)
	if got := truncate(long, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate = %q", got)
	}
}
