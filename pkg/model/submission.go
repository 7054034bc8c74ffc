package model

// Submission is the validated record produced from a submitted script and
// its parsed header. The registry turns it into a Job.
type Submission struct {
	Name         string   `json:"name"`
	Filename     string   `json:"filename"` // absolute script path
	Username     string   `json:"username"`
	OwnerUID     int      `json:"owner_uid"`
	NCPUs        int      `json:"ncpus"`
	Priority     *int     `json:"priority,omitempty"` // nil = configured default
	AllowedNodes []string `json:"allowed_nodes,omitempty"`
	StdoutPath   string   `json:"stdout_path,omitempty"`
	StderrPath   string   `json:"stderr_path,omitempty"`

	// MailMode and MailTo come from the script header and drive the
	// completion notification ("a" = on abort, "e" = on end).
	MailMode string `json:"mail_mode,omitempty"`
	MailTo   string `json:"mail_to,omitempty"`
}

// Validate checks the invariants a submission must satisfy before a job is
// created. Script existence is checked by the caller, which has filesystem
// context.
func (s *Submission) Validate() error {
	if s.Filename == "" {
		return NewValidationError("submission has no script filename")
	}
	if s.NCPUs < 1 {
		return NewValidationError("requested cpus must be at least 1, got %d", s.NCPUs)
	}
	return nil
}
