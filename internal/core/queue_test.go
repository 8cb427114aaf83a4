package core

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(store *memStore) (*Queue, *Signal) {
	signal := NewSignal()
	printers := staticPrinters{"p1": networkPrinter("p1", "10.0.0.5")}
	return NewQueue(store, printers, signal, 5, nil), signal
}

func drained(s *Signal) bool {
	select {
	case <-s.C():
		return true
	default:
		return false
	}
}

func TestQueue_Enqueue(t *testing.T) {
	store := newMemStore()
	q, signal := newTestQueue(store)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "p1", JobTypeComanda, []byte("ticket"))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.True(t, drained(signal), "enqueue should wake the processor")

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("ticket"), stored.Content)

	t.Run("UnknownPrinter", func(t *testing.T) {
		_, err := q.Enqueue(ctx, "nope", JobTypeReceipt, []byte("x"))
		assert.True(t, errors.Is(err, ErrPrinterNotFound))
	})

	t.Run("InvalidType", func(t *testing.T) {
		_, err := q.Enqueue(ctx, "p1", "invoice", []byte("x"))
		assert.Error(t, err)
	})

	t.Run("EmptyContent", func(t *testing.T) {
		_, err := q.Enqueue(ctx, "p1", JobTypeReceipt, nil)
		assert.Error(t, err)
		assert.False(t, drained(signal))
	})
}

func TestQueue_Retry(t *testing.T) {
	last := time.Now()
	failed := pendingJob("f1", "p1", "x", last.Add(-time.Minute))
	failed.Status = JobStatusFailed
	failed.RetryCount = 5
	failed.ErrorMessage = "timeout: i/o timeout"
	failed.LastAttemptAt = &last

	store := newMemStore(failed, pendingJob("pending", "p1", "y", last))
	q, signal := newTestQueue(store)
	ctx := context.Background()

	job, err := q.Retry(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Zero(t, job.RetryCount)
	assert.Empty(t, job.ErrorMessage)
	assert.Nil(t, job.LastAttemptAt)
	assert.True(t, drained(signal))

	_, err = q.Retry(ctx, "pending")
	assert.True(t, errors.Is(err, ErrJobNotFailed))

	_, err = q.Retry(ctx, "missing")
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestQueue_Reprint(t *testing.T) {
	done := time.Now()
	src := pendingJob("src", "p1", "receipt body", done.Add(-time.Hour))
	src.Status = JobStatusSucceeded
	src.CompletedAt = &done

	store := newMemStore(src)
	q, signal := newTestQueue(store)

	job, err := q.Reprint(context.Background(), "src")
	require.NoError(t, err)
	assert.NotEqual(t, "src", job.ID)
	assert.Equal(t, "p1", job.PrinterID)
	assert.Equal(t, JobTypeReceipt, job.Type)
	assert.Equal(t, []byte("receipt body"), job.Content)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.True(t, drained(signal))

	assert.Equal(t, JobStatusSucceeded, store.job("src").Status)
}

func TestQueue_ListAndStats(t *testing.T) {
	last := time.Now()
	exhausted := pendingJob("dead", "p1", "x", last)
	exhausted.Status = JobStatusFailed
	exhausted.RetryCount = 5
	retrying := pendingJob("retry", "p1", "x", last)
	retrying.Status = JobStatusFailed
	retrying.RetryCount = 2

	store := newMemStore(exhausted, retrying, pendingJob("new", "p1", "x", last))
	q, _ := newTestQueue(store)
	ctx := context.Background()

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 1, stats.Exhausted)
	assert.Equal(t, 3, stats.Total)

	jobs, err := q.List(ctx, JobFilter{Status: JobStatusFailed})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	_, err = q.List(ctx, JobFilter{Status: "lost"})
	assert.Error(t, err)
}
