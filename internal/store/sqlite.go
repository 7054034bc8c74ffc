package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/gobs/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a Store. Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

const jobColumns = `id, name, username, owner_uid, filename, ncpus, priority,
	allowed_nodes, stdout_path, stderr_path, node, pid, mail_mode, mail_to,
	submitted_at, started_at, finished_at, exit_code`

func (s *SQLiteStore) InsertJob(ctx context.Context, job *model.Job) (int64, error) {
	s.logger.Debug("sql", "op", "insert", "table", "jobs", "name", job.Name)

	nodesJSON, err := json.Marshal(job.AllowedNodes)
	if err != nil {
		return 0, fmt.Errorf("marshal allowed_nodes: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (name, username, owner_uid, filename, ncpus, priority,
		 allowed_nodes, stdout_path, stderr_path, node, pid, mail_mode, mail_to,
		 submitted_at, started_at, finished_at, exit_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Name, job.Username, job.OwnerUID, job.Filename, job.NCPUs, job.Priority,
		string(nodesJSON), job.StdoutPath, job.StderrPath, job.Node, job.PID,
		job.MailMode, job.MailTo,
		job.SubmittedAt.Format(time.RFC3339Nano),
		formatTimePtr(job.StartedAt), formatTimePtr(job.FinishedAt), job.ExitCode,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job) error {
	s.logger.Debug("sql", "op", "update", "table", "jobs", "id", job.ID)

	nodesJSON, err := json.Marshal(job.AllowedNodes)
	if err != nil {
		return fmt.Errorf("marshal allowed_nodes: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET name=?, username=?, owner_uid=?, filename=?, ncpus=?,
		 priority=?, allowed_nodes=?, stdout_path=?, stderr_path=?, node=?, pid=?,
		 mail_mode=?, mail_to=?,
		 submitted_at=?, started_at=?, finished_at=?, exit_code=? WHERE id=?`,
		job.Name, job.Username, job.OwnerUID, job.Filename, job.NCPUs,
		job.Priority, string(nodesJSON), job.StdoutPath, job.StderrPath, job.Node, job.PID,
		job.MailMode, job.MailTo,
		job.SubmittedAt.Format(time.RFC3339Nano),
		formatTimePtr(job.StartedAt), formatTimePtr(job.FinishedAt), job.ExitCode,
		job.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %d not found", job.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id int64) error {
	s.logger.Debug("sql", "op", "delete", "table", "jobs", "id", id)

	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %d not found", id)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	s.logger.Debug("sql", "op", "select", "table", "jobs", "id", id)
	return scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

func (s *SQLiteStore) ListJobs(ctx context.Context, state model.JobState, limit int) ([]*model.Job, error) {
	s.logger.Debug("sql", "op", "list", "table", "jobs", "state", state, "limit", limit)

	var where, order string
	switch state {
	case model.JobWaiting:
		where = "started_at IS NULL AND finished_at IS NULL"
		order = "priority DESC, submitted_at ASC"
	case model.JobRunning:
		where = "started_at IS NOT NULL AND finished_at IS NULL"
		order = "started_at ASC"
	case model.JobDone:
		where = "finished_at IS NOT NULL"
		order = "finished_at DESC"
	default:
		return nil, fmt.Errorf("unknown job state %q", state)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + where + ` ORDER BY ` + order
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]*model.Job, error) {
	s.logger.Debug("sql", "op", "list_all", "table", "jobs")

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY submitted_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	var job model.Job
	var nodesJSON, submittedAt string
	var startedAt, finishedAt *string

	err := row.Scan(
		&job.ID, &job.Name, &job.Username, &job.OwnerUID, &job.Filename,
		&job.NCPUs, &job.Priority, &nodesJSON, &job.StdoutPath, &job.StderrPath,
		&job.Node, &job.PID, &job.MailMode, &job.MailTo,
		&submittedAt, &startedAt, &finishedAt, &job.ExitCode,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(nodesJSON), &job.AllowedNodes); err != nil {
		return nil, fmt.Errorf("unmarshal allowed_nodes: %w", err)
	}
	job.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submittedAt)
	job.StartedAt = parseTimePtr(startedAt)
	job.FinishedAt = parseTimePtr(finishedAt)

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, _ := time.Parse(time.RFC3339Nano, *s)
	return &t
}
