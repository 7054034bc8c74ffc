package notify

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/me/gobs/internal/config"
	"github.com/me/gobs/pkg/model"
)

// Mailer sends completion mail per the job's mail mode: "b" on begin,
// "e" on end, "a" on abort. Modes combine, PBS-style ("abe").
type Mailer struct {
	cfg    *config.Config
	logger *slog.Logger

	// send is swapped out in tests.
	send func(host, from string, to []string, msg []byte) error
}

// NewMailer creates a Mailer reading its endpoint from the live config.
func NewMailer(cfg *config.Config, logger *slog.Logger) *Mailer {
	return &Mailer{
		cfg:    cfg,
		logger: logger.With("component", "mail"),
		send: func(host, from string, to []string, msg []byte) error {
			return smtp.SendMail(host, nil, from, to, msg)
		},
	}
}

// Notify sends one mail if the job's mode covers the event.
func (m *Mailer) Notify(job *model.Job, event model.JobEvent) {
	if job.MailTo == "" || !modeCovers(job.MailMode, event) {
		return
	}
	from, host := m.cfg.Mail()
	if host == "" {
		m.logger.Debug("no smtp host configured, skipping mail", "job_id", job.ID)
		return
	}
	if !strings.Contains(host, ":") {
		host += ":25"
	}

	subject := summary(job, event)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\nScript: %s\r\n",
		from, job.MailTo, subject, subject, job.Filename)

	if err := m.send(host, from, []string{job.MailTo}, []byte(msg)); err != nil {
		m.logger.Warn("mail delivery failed", "job_id", job.ID, "to", job.MailTo, "error", err)
		return
	}
	m.logger.Info("mail sent", "job_id", job.ID, "to", job.MailTo, "event", event)
}

// modeCovers maps PBS mail mode letters onto events.
func modeCovers(mode string, event model.JobEvent) bool {
	switch event {
	case model.EventStarted:
		return strings.ContainsRune(mode, 'b')
	case model.EventFinished:
		return strings.ContainsRune(mode, 'e')
	case model.EventFailed:
		return strings.ContainsRune(mode, 'a') || strings.ContainsRune(mode, 'e')
	}
	return false
}
