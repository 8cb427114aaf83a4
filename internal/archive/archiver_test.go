package archive

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/kitchenprint/internal/config"
	"github.com/orrn/kitchenprint/internal/core"
	"github.com/orrn/kitchenprint/internal/db"
)

func seedJob(t *testing.T, store *db.JobStore, id string, status core.JobStatus, completed *time.Time) {
	t.Helper()
	ctx := context.Background()
	job := &core.Job{
		ID:        id,
		PrinterID: "p1",
		Type:      core.JobTypeReceipt,
		Content:   []byte("ticket " + id),
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Enqueue(ctx, job))
	job.Status = status
	job.CompletedAt = completed
	require.NoError(t, store.UpdateStatus(ctx, job))
}

func TestArchiver_RunArchive(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer conn.Close()
	store := db.NewJobStore(conn)

	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -45)
	recent := now.AddDate(0, 0, -2)

	seedJob(t, store, "old-ok", core.JobStatusSucceeded, &old)
	seedJob(t, store, "recent-ok", core.JobStatusSucceeded, &recent)
	seedJob(t, store, "old-failed", core.JobStatusFailed, nil)
	seedJob(t, store, "pending", core.JobStatusPending, nil)

	dir := t.TempDir()
	a, err := NewArchiver(store, config.ArchiveConfig{Path: dir, RetentionDays: 30}, nil)
	require.NoError(t, err)
	a.now = func() time.Time { return now }

	n, err := a.RunArchive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetJob(ctx, "old-ok")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
	for _, id := range []string{"recent-ok", "old-failed", "pending"} {
		_, err := store.GetJob(ctx, id)
		assert.NoError(t, err, id)
	}

	archived, err := sql.Open("sqlite3", filepath.Join(dir, "archive_2026_10.db"))
	require.NoError(t, err)
	defer archived.Close()
	var content []byte
	require.NoError(t, archived.QueryRow(`SELECT content FROM print_jobs WHERE id = ?`, "old-ok").Scan(&content))
	assert.Equal(t, []byte("ticket old-ok"), content)

	files, err := a.ListArchives()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "archive_2026_10.db", files[0].Filename)
	assert.Equal(t, 1, files[0].JobCount)

	n, err = a.RunArchive(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second run finds nothing")
}

func TestArchiver_StartStop(t *testing.T) {
	conn, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer conn.Close()

	a, err := NewArchiver(db.NewJobStore(conn), config.ArchiveConfig{Path: t.TempDir(), Interval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	a.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
