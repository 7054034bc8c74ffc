package model

import "fmt"

// JobState is the derived lifecycle state of a Job. It is computed from the
// started/finished timestamps and never stored.
type JobState string

const (
	JobWaiting JobState = "WAITING"
	JobRunning JobState = "RUNNING"
	JobDone    JobState = "DONE"
)

// String returns the string representation of the state.
func (s JobState) String() string {
	return string(s)
}

// IsTerminal returns true if the job is in its final state.
func (s JobState) IsTerminal() bool {
	return s == JobDone
}

// ParseJobState converts user input ("waiting", "running", "done",
// "finished") to a JobState.
func ParseJobState(s string) (JobState, error) {
	switch s {
	case "waiting", "WAITING":
		return JobWaiting, nil
	case "running", "RUNNING":
		return JobRunning, nil
	case "done", "DONE", "finished", "FINISHED":
		return JobDone, nil
	default:
		return "", fmt.Errorf("unknown job state %q", s)
	}
}
