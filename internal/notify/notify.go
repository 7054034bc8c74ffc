// Package notify delivers job completion notifications. Delivery is
// best-effort: failures are logged, never propagated back into scheduling.
package notify

import (
	"fmt"

	"github.com/me/gobs/pkg/model"
)

// Notifier is implemented by each delivery channel.
type Notifier interface {
	Notify(job *model.Job, event model.JobEvent)
}

// Multi fans a notification out to all channels.
type Multi []Notifier

func (m Multi) Notify(job *model.Job, event model.JobEvent) {
	for _, n := range m {
		n.Notify(job, event)
	}
}

// summary renders the one-line message shared by all channels.
func summary(job *model.Job, event model.JobEvent) string {
	switch event {
	case model.EventStarted:
		return fmt.Sprintf("Job %d (%s) started on %s", job.ID, job.DisplayName(), job.Node)
	case model.EventFailed:
		code := 0
		if job.ExitCode != nil {
			code = *job.ExitCode
		}
		return fmt.Sprintf("Job %d (%s) failed with exit code %d", job.ID, job.DisplayName(), code)
	default:
		return fmt.Sprintf("Job %d (%s) finished", job.ID, job.DisplayName())
	}
}
