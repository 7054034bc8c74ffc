package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/gobs/pkg/model"
)

// Result is the terminal outcome of a launched process, delivered exactly
// once on the handle's Done channel. A process killed by a signal reports
// the shell-style status 128+signal.
type Result struct {
	ExitCode   int
	FinishedAt time.Time
}

// Handle tracks a launched job process.
type Handle struct {
	PID  int
	Done <-chan Result
}

// Launcher is the scheduler-facing surface of the supervisor. Tests drive
// scheduling deterministically with a fake implementation.
type Launcher interface {
	Launch(job *model.Job) (*Handle, error)
	Terminate(pid int) error
}

// Supervisor spawns job scripts as child processes in their own process
// group, with the working directory set to the script's directory and
// output redirected to the job's configured paths.
type Supervisor struct {
	logger *slog.Logger

	// ExtraEnv is appended to the inherited environment of every job.
	ExtraEnv []string
}

// New creates a Supervisor.
func New(logger *slog.Logger) *Supervisor {
	return &Supervisor{logger: logger.With("component", "supervisor")}
}

// Launch starts the job's script. Any failure before the process exists
// (missing script, not executable, fork/exec error) is returned as an
// error and the job is left untouched for a later scheduling pass.
func (s *Supervisor) Launch(job *model.Job) (*Handle, error) {
	info, err := os.Stat(job.Filename)
	if err != nil {
		return nil, fmt.Errorf("job %d: stat script: %w", job.ID, err)
	}
	if info.Mode()&0o111 == 0 {
		return nil, fmt.Errorf("job %d: script %s is not executable", job.ID, job.Filename)
	}

	dir := filepath.Dir(job.Filename)

	stdout := s.openOutput(job, job.StdoutPath, dir)
	stderr := s.openOutput(job, job.StderrPath, dir)
	closeOutputs := func() {
		if stdout != nil {
			stdout.Close()
		}
		if stderr != nil {
			stderr.Close()
		}
	}

	cmd := exec.Command(job.Filename)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), s.ExtraEnv...)
	// The job runs in its own process group so Terminate reaches any
	// children the script spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		closeOutputs()
		return nil, fmt.Errorf("job %d: start %s: %w", job.ID, job.Filename, err)
	}

	pid := cmd.Process.Pid
	s.logger.Info("job process started", "job_id", job.ID, "pid", pid, "script", job.Filename)

	done := make(chan Result, 1)
	go func() {
		waitErr := cmd.Wait()
		closeOutputs()
		done <- Result{
			ExitCode:   exitCode(cmd, waitErr),
			FinishedAt: time.Now().UTC(),
		}
	}()

	return &Handle{PID: pid, Done: done}, nil
}

// Terminate sends SIGKILL to the process group rooted at pid.
func (s *Supervisor) Terminate(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill process group %d: %w", pid, err)
	}
	s.logger.Info("job process group killed", "pid", pid)
	return nil
}

// openOutput opens the redirection target, resolving relative paths
// against the script directory. Failures fall back to discarding output;
// a broken output path must not keep the job from running.
func (s *Supervisor) openOutput(job *model.Job, path, dir string) *os.File {
	if path == "" {
		return nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o664)
	if err != nil {
		s.logger.Warn("cannot open output file, discarding", "job_id", job.ID, "path", path, "error", err)
		return nil
	}
	return f
}

// exitCode maps the wait outcome to a numeric status. Signal deaths get
// 128+signal so a killed job is distinguishable from normal failures.
func exitCode(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}
