package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/me/gobs/internal/config"
	"github.com/me/gobs/internal/registry"
	"github.com/me/gobs/internal/supervisor"
	"github.com/me/gobs/pkg/model"
)

// Notifier is the completion hook contract. Delivery is best-effort and
// must never block or fail a scheduling operation.
type Notifier interface {
	Notify(job *model.Job, event model.JobEvent)
}

// defaultTick is the interval between timer-driven scheduling passes.
// Passes are normally event-triggered; the timer picks up waiting jobs
// loaded from the store at startup and retries launches that failed
// transiently.
const defaultTick = 10 * time.Second

// Daemon owns the registry and the resource ledger. Every mutating
// operation runs to completion under one mutex, so state transitions are
// linearizable as observed by any client; RPC handlers only ever call into
// this serialized path.
type Daemon struct {
	cfg      *config.Config
	registry *registry.Registry
	ledger   *Ledger
	sup      supervisor.Launcher
	notifier Notifier // may be nil
	logger   *slog.Logger
	tick     time.Duration

	mu      sync.Mutex
	running map[int64]runningJob
	// doomed marks running jobs whose record is deleted once their exit
	// is observed, so capacity is never half-freed.
	doomed map[int64]bool
	// warned remembers jobs already reported as unschedulable.
	warned map[int64]bool
}

type runningJob struct {
	pid   int
	node  string
	ncpus int
}

// NewDaemon wires the scheduling core together.
func NewDaemon(cfg *config.Config, reg *registry.Registry, led *Ledger, sup supervisor.Launcher, notifier Notifier, logger *slog.Logger) *Daemon {
	return &Daemon{
		cfg:      cfg,
		registry: reg,
		ledger:   led,
		sup:      sup,
		notifier: notifier,
		logger:   logger.With("component", "scheduler"),
		tick:     defaultTick,
		running:  make(map[int64]runningJob),
		doomed:   make(map[int64]bool),
		warned:   make(map[int64]bool),
	}
}

// Start runs an immediate scheduling pass and then a periodic one until
// ctx is cancelled. The first pass dispatches waiting jobs the registry
// loaded from the store, so a restarted daemon resumes its queue without
// waiting for a submit.
func (d *Daemon) Start(ctx context.Context) {
	d.Kick(ctx)
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Kick(ctx)
		}
	}
}

// Kick runs one scheduling pass.
func (d *Daemon) Kick(ctx context.Context) {
	d.mu.Lock()
	d.schedule(ctx, 0)
	d.mu.Unlock()
}

// Submit validates the submission, creates a waiting job, and runs a
// scheduling pass. Insufficient capacity is not an error; the job simply
// waits.
func (d *Daemon) Submit(ctx context.Context, sub *model.Submission) (int64, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}
	info, err := os.Stat(sub.Filename)
	if err != nil {
		return 0, model.NewValidationError("script %s does not exist", sub.Filename)
	}
	if info.Mode()&0o111 == 0 {
		return 0, model.NewValidationError("script %s is not executable", sub.Filename)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	job, err := d.registry.Create(ctx, sub, d.cfg.GetDefaultPriority())
	if err != nil {
		return 0, err
	}
	d.logger.Info("job submitted", "job_id", job.ID, "name", job.DisplayName(),
		"ncpus", job.NCPUs, "priority", job.Priority, "user", job.Username)

	d.schedule(ctx, 0)
	return job.ID, nil
}

// Remove deletes a job. A waiting or finished job is removed outright. A
// running job has its process group killed; its record is deleted when the
// exit is observed through the normal completion path, keeping the ledger
// consistent.
func (d *Daemon) Remove(ctx context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, err := d.registry.Get(id)
	if err != nil {
		return err
	}

	if job.State() != model.JobRunning {
		if err := d.registry.Delete(ctx, id); err != nil {
			return err
		}
		d.logger.Info("job removed", "job_id", id)
		d.schedule(ctx, 0)
		return nil
	}

	d.doomed[id] = true
	d.logger.Info("killing running job", "job_id", id, "pid", job.PID)
	if err := d.sup.Terminate(job.PID); err != nil {
		// The process may have exited in the meantime; the pending exit
		// notification still deletes the record.
		d.logger.Warn("terminate failed", "job_id", id, "pid", job.PID, "error", err)
	}
	return nil
}

// Run asks the scheduler to consider the given waiting job with highest
// precedence on the current pass. It does not override capacity: the call
// succeeds even when the job has to keep waiting.
func (d *Daemon) Run(ctx context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, err := d.registry.Get(id)
	if err != nil {
		return err
	}
	if job.State() != model.JobWaiting {
		return model.NewConflictError("job %d is not waiting", id)
	}

	d.schedule(ctx, id)
	return nil
}

// Get returns a copy of one job.
func (d *Daemon) Get(id int64) (*model.Job, error) {
	return d.registry.Get(id)
}

// ListWaiting returns all waiting jobs, highest priority first.
func (d *Daemon) ListWaiting() []*model.Job {
	return d.registry.List(model.JobWaiting, 0)
}

// ListRunning returns all running jobs, oldest start first.
func (d *Daemon) ListRunning() []*model.Job {
	return d.registry.List(model.JobRunning, 0)
}

// ListFinished returns the most recently finished jobs.
func (d *Daemon) ListFinished(limit int) []*model.Job {
	return d.registry.List(model.JobDone, limit)
}

// CPUs reports committed and total CPU slots on the local node.
func (d *Daemon) CPUs() model.CPUUsage {
	node := d.cfg.GetNodename()
	return model.CPUUsage{
		Used:  d.ledger.Committed(node),
		Total: d.ledger.Capacity(node),
	}
}

// ConfigMap returns the runtime-visible configuration.
func (d *Daemon) ConfigMap() map[string]string {
	return d.cfg.Map()
}

// SetConfig updates one runtime-settable key. A capacity change triggers a
// scheduling pass so admission uses the new value immediately.
func (d *Daemon) SetConfig(ctx context.Context, key, value string) error {
	if err := d.cfg.Set(key, value); err != nil {
		return err
	}
	d.logger.Info("config updated", "key", key, "value", value)

	if key == "ncpus" {
		d.mu.Lock()
		d.schedule(ctx, 0)
		d.mu.Unlock()
	}
	return nil
}

// schedule runs one dispatch pass. Callers hold d.mu. The waiting set is
// scanned in (priority desc, submitted asc) order; front, when non-zero,
// names a job considered before all others (manual run). A candidate that
// does not fit is skipped, not a barrier: smaller jobs behind it may still
// start (backfill).
func (d *Daemon) schedule(ctx context.Context, front int64) {
	node := d.cfg.GetNodename()
	waiting := d.registry.List(model.JobWaiting, 0)

	if front != 0 {
		for i, job := range waiting {
			if job.ID == front {
				copy(waiting[1:i+1], waiting[:i])
				waiting[0] = job
				break
			}
		}
	}

	for _, job := range waiting {
		if !job.RunsOn(node) {
			if !d.warned[job.ID] {
				d.warned[job.ID] = true
				d.logger.Warn("job not schedulable on this node",
					"job_id", job.ID, "allowed_nodes", job.AllowedNodes, "node", node)
			}
			continue
		}
		if job.NCPUs > d.ledger.Capacity(node) && !d.warned[job.ID] {
			d.warned[job.ID] = true
			d.logger.Warn("job requests more cpus than the node has",
				"job_id", job.ID, "ncpus", job.NCPUs, "capacity", d.ledger.Capacity(node))
		}
		if !d.ledger.TryReserve(node, job.NCPUs) {
			continue
		}
		d.dispatch(ctx, job, node)
	}
}

// dispatch launches one reserved job. On launch failure the reservation is
// rolled back and the job stays waiting for a later pass; transient
// filesystem trouble must not fail a job permanently.
func (d *Daemon) dispatch(ctx context.Context, job *model.Job, node string) {
	h, err := d.sup.Launch(job)
	if err != nil {
		d.ledger.Release(node, job.NCPUs)
		d.logger.Warn("launch failed, job stays queued", "job_id", job.ID, "error", err)
		return
	}

	startedAt := time.Now().UTC()
	if err := d.registry.MarkStarted(ctx, job.ID, node, h.PID, startedAt); err != nil {
		// The start could not be persisted; undo everything.
		d.logger.Error("cannot record job start, killing process",
			"job_id", job.ID, "pid", h.PID, "error", err)
		if termErr := d.sup.Terminate(h.PID); termErr != nil {
			d.logger.Warn("terminate failed", "pid", h.PID, "error", termErr)
		}
		go func() { <-h.Done }()
		d.ledger.Release(node, job.NCPUs)
		return
	}

	d.running[job.ID] = runningJob{pid: h.PID, node: node, ncpus: job.NCPUs}
	d.logger.Info("job started", "job_id", job.ID, "name", job.DisplayName(),
		"pid", h.PID, "node", node, "ncpus", job.NCPUs)

	started := job.Clone()
	started.Node = node
	started.PID = h.PID
	started.StartedAt = &startedAt
	d.fireHook(started, model.EventStarted)

	go d.watch(job.ID, h)
}

// watch consumes the exactly-once exit notification of one process.
func (d *Daemon) watch(id int64, h *supervisor.Handle) {
	res := <-h.Done
	d.onExit(context.Background(), id, res)
}

// onExit processes a process termination: mark finished, release the
// reservation, fire the hook, then run the next pass. Duplicate deliveries
// for the same job are absorbed without a second release.
func (d *Daemon) onExit(ctx context.Context, id int64, res supervisor.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rj, ok := d.running[id]
	if !ok {
		d.logger.Debug("duplicate or unknown exit notification", "job_id", id)
		return
	}

	if err := d.registry.MarkFinished(ctx, id, res.ExitCode, res.FinishedAt); err != nil {
		if model.CodeOf(err) == model.ErrConflict {
			d.logger.Debug("duplicate exit notification", "job_id", id)
			return
		}
		// Persistence failed: keep the job running in memory and keep the
		// reservation, so the ledger never disagrees with the registry.
		d.logger.Error("cannot record job completion", "job_id", id, "error", err)
		return
	}
	delete(d.running, id)
	d.ledger.Release(rj.node, rj.ncpus)

	d.logger.Info("job finished", "job_id", id, "exit_code", res.ExitCode)

	if job, err := d.registry.Get(id); err == nil {
		event := model.EventFinished
		if res.ExitCode != 0 {
			event = model.EventFailed
		}
		d.fireHook(job, event)
	}

	if d.doomed[id] {
		delete(d.doomed, id)
		if err := d.registry.Delete(ctx, id); err != nil {
			d.logger.Error("cannot delete killed job", "job_id", id, "error", err)
		} else {
			d.logger.Info("killed job removed", "job_id", id)
		}
	}

	d.schedule(ctx, 0)
}

// fireHook delivers a notification without ever blocking scheduling.
func (d *Daemon) fireHook(job *model.Job, event model.JobEvent) {
	if d.notifier == nil {
		return
	}
	go d.notifier.Notify(job, event)
}
