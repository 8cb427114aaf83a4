package core

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobRepository is the producer and operator side of the job store.
type JobRepository interface {
	Enqueue(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
	Stats(ctx context.Context, maxRetries int) (*QueueStats, error)
	RetryJob(ctx context.Context, id string) error
}

// Queue is what producers talk to. It writes new work and wakes the processor; it never
// touches a job once the processor owns it, except for the operator retry.
type Queue struct {
	store      JobRepository
	printers   PrinterResolver
	signal     *Signal
	maxRetries int
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewQueue(store JobRepository, printers PrinterResolver, signal *Signal, maxRetries int, logger *zap.SugaredLogger) *Queue {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Queue{
		store:      store,
		printers:   printers,
		signal:     signal,
		maxRetries: maxRetries,
		logger:     logger.Named("queue"),
		now:        time.Now,
	}
}

func (q *Queue) Enqueue(ctx context.Context, printerID string, jobType JobType, content []byte) (*Job, error) {
	if !jobType.Valid() {
		return nil, errors.Newf("invalid job type %q", jobType)
	}
	if len(content) == 0 {
		return nil, errors.New("job content is empty")
	}
	if _, err := q.printers.GetPrinter(ctx, printerID); err != nil {
		return nil, err
	}

	job := &Job{
		ID:        uuid.NewString(),
		PrinterID: printerID,
		Type:      jobType,
		Content:   content,
		Status:    JobStatusPending,
		CreatedAt: q.now().UTC(),
	}
	if err := q.store.Enqueue(ctx, job); err != nil {
		return nil, errors.Wrap(err, "enqueue job")
	}

	q.signal.Notify()
	q.logger.Infow("Job enqueued", "job_id", job.ID, "printer_id", printerID, "type", jobType, "bytes", len(content))
	return job, nil
}

// Retry puts a failed job back to pending with a fresh retry budget, ignoring cooldown.
func (q *Queue) Retry(ctx context.Context, id string) (*Job, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != JobStatusFailed {
		return nil, errors.Wrapf(ErrJobNotFailed, "job %s is %s", id, job.Status)
	}

	if err := q.store.RetryJob(ctx, id); err != nil {
		return nil, errors.Wrapf(err, "retry job %s", id)
	}
	q.signal.Notify()
	q.logger.Infow("Job reset for retry", "job_id", id, "previous_retry_count", job.RetryCount)

	return q.store.GetJob(ctx, id)
}

// Reprint copies a job's printer, type and content into a new pending job.
func (q *Queue) Reprint(ctx context.Context, id string) (*Job, error) {
	src, err := q.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	job, err := q.Enqueue(ctx, src.PrinterID, src.Type, src.Content)
	if err != nil {
		return nil, errors.Wrapf(err, "reprint job %s", id)
	}
	q.logger.Infow("Job reprinted", "source_job_id", id, "job_id", job.ID)
	return job, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

func (q *Queue) List(ctx context.Context, filter JobFilter) ([]*Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errors.Newf("invalid status filter %q", filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return q.store.ListJobs(ctx, filter)
}

func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	return q.store.Stats(ctx, q.maxRetries)
}
