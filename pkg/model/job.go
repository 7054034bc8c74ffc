package model

import (
	"path/filepath"
	"time"
)

// Job is a single submitted unit of work (script + resource request)
// tracked through its lifecycle.
type Job struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	OwnerUID int    `json:"owner_uid"`

	// Filename is the absolute path to the submitted script. It doubles as
	// the display key when no job name was given.
	Filename string `json:"filename"`

	NCPUs    int `json:"ncpus"`
	Priority int `json:"priority"`

	// AllowedNodes restricts execution to the named nodes; empty means any.
	AllowedNodes []string `json:"allowed_nodes,omitempty"`

	// StdoutPath and StderrPath receive the process output. Relative paths
	// are resolved against the script's directory; empty means discard.
	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`

	// Node is the node the job runs/ran on; empty while waiting.
	Node string `json:"node,omitempty"`

	// PID of the running process; zero unless the job is Running.
	PID int `json:"pid,omitempty"`

	// MailMode selects when to notify ("a" = on abort, "e" = on end);
	// MailTo is the recipient address. Both come from the script header.
	MailMode string `json:"mail_mode,omitempty"`
	MailTo   string `json:"mail_to,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
}

// State derives the lifecycle state from the two optional timestamps.
// The progression is strict: Waiting -> Running -> Done, never backward.
func (j *Job) State() JobState {
	switch {
	case j.FinishedAt != nil:
		return JobDone
	case j.StartedAt != nil:
		return JobRunning
	default:
		return JobWaiting
	}
}

// DisplayName returns the job name, falling back to the script filename.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return filepath.Base(j.Filename)
}

// RunsOn reports whether the job may be placed on the given node.
func (j *Job) RunsOn(node string) bool {
	if len(j.AllowedNodes) == 0 {
		return true
	}
	for _, n := range j.AllowedNodes {
		if n == node {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the job. The registry hands out
// clones so callers can never mutate registry state in place.
func (j *Job) Clone() *Job {
	c := *j
	if j.AllowedNodes != nil {
		c.AllowedNodes = append([]string(nil), j.AllowedNodes...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.ExitCode != nil {
		e := *j.ExitCode
		c.ExitCode = &e
	}
	return &c
}
