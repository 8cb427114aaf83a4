package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/orrn/kitchenprint/internal/core"
)

// JobStore persists print jobs. Every driver error it returns is marked core.ErrPersistence.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*core.Job, error) {
	var (
		j             core.Job
		errMsg        sql.NullString
		lastAttemptAt sql.NullTime
		completedAt   sql.NullTime
	)
	if err := row.Scan(
		&j.ID, &j.PrinterID, &j.Type, &j.Content, &j.Status, &j.RetryCount,
		&errMsg, &j.CreatedAt, &lastAttemptAt, &completedAt,
	); err != nil {
		return nil, err
	}
	j.ErrorMessage = errMsg.String
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time
		j.LastAttemptAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func (s *JobStore) Enqueue(ctx context.Context, job *core.Job) error {
	_, err := s.db.ExecContext(ctx, InsertJob,
		job.ID, job.PrinterID, job.Type, job.Content, formatTime(job.CreatedAt))
	if err != nil {
		return core.MarkPersistence(errors.Wrap(err, "insert job"))
	}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, id string) (*core.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, GetJobByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(core.ErrJobNotFound, "job %s", id)
	}
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrapf(err, "get job %s", id))
	}
	return job, nil
}

func (s *JobStore) FetchDueJobs(ctx context.Context, q core.DueQuery) ([]*core.Job, error) {
	rows, err := s.db.QueryContext(ctx, FetchDueJobs, q.MaxRetries, formatTime(q.AttemptedBefore), q.Limit)
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "query due jobs"))
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "scan due jobs"))
	}
	return jobs, nil
}

func scanJobs(rows *sql.Rows) ([]*core.Job, error) {
	var jobs []*core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateStatus writes the job's mutable fields. Rows already succeeded are left untouched.
func (s *JobStore) UpdateStatus(ctx context.Context, job *core.Job) error {
	_, err := s.db.ExecContext(ctx, UpdateJobStatus,
		job.Status, job.RetryCount, nullableString(job.ErrorMessage),
		nullableTime(job.LastAttemptAt), nullableTime(job.CompletedAt), job.ID)
	if err != nil {
		return core.MarkPersistence(errors.Wrapf(err, "update job %s", job.ID))
	}
	return nil
}

func (s *JobStore) ReclaimStale(ctx context.Context, startedBefore time.Time, reason string) ([]*core.Job, error) {
	rows, err := s.db.QueryContext(ctx, ReclaimStaleJobs, reason, formatTime(startedBefore))
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "reclaim stale jobs"))
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "scan reclaimed jobs"))
	}
	return jobs, nil
}

// RetryJob resets a failed job to pending with a fresh retry budget.
func (s *JobStore) RetryJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, ResetFailedJob, id)
	if err != nil {
		return core.MarkPersistence(errors.Wrapf(err, "reset job %s", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.MarkPersistence(errors.Wrapf(err, "reset job %s", id))
	}
	if n > 0 {
		return nil
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return errors.Wrapf(core.ErrJobNotFailed, "job %s is %s", id, job.Status)
}

func (s *JobStore) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	var conditions []string
	var args []any

	if filter.PrinterID != "" {
		conditions = append(conditions, "printer_id = ?")
		args = append(args, filter.PrinterID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT " + jobColumns + " FROM print_jobs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "list jobs"))
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "scan jobs"))
	}
	return jobs, nil
}

func (s *JobStore) Stats(ctx context.Context, maxRetries int) (*core.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, CountJobsByStatus)
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "count jobs"))
	}
	defer rows.Close()

	stats := &core.QueueStats{}
	for rows.Next() {
		var status core.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, core.MarkPersistence(errors.Wrap(err, "scan job count"))
		}
		switch status {
		case core.JobStatusPending:
			stats.Pending = count
		case core.JobStatusProcessing:
			stats.Processing = count
		case core.JobStatusSucceeded:
			stats.Succeeded = count
		case core.JobStatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "count jobs"))
	}

	if err := s.db.QueryRowContext(ctx, CountExhaustedJobs, maxRetries).Scan(&stats.Exhausted); err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "count exhausted jobs"))
	}
	return stats, nil
}

// SucceededBefore returns up to limit succeeded jobs completed before cutoff, oldest first.
func (s *JobStore) SucceededBefore(ctx context.Context, cutoff time.Time, limit int) ([]*core.Job, error) {
	rows, err := s.db.QueryContext(ctx, SelectArchivableJobs, formatTime(cutoff), limit)
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "query archivable jobs"))
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "scan archivable jobs"))
	}
	return jobs, nil
}

// DeleteSucceeded removes succeeded jobs in one transaction and returns how many went.
func (s *JobStore) DeleteSucceeded(ctx context.Context, ids []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, core.MarkPersistence(errors.Wrap(err, "begin delete"))
	}
	defer func() { _ = tx.Rollback() }()

	deleted := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, DeleteSucceededJob, id)
		if err != nil {
			return 0, core.MarkPersistence(errors.Wrapf(err, "delete job %s", id))
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, core.MarkPersistence(errors.Wrap(err, "commit delete"))
	}
	return deleted, nil
}
