// Package archive moves succeeded print jobs out of the live database into monthly
// SQLite files once they are older than the retention window.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/orrn/kitchenprint/internal/config"
	"github.com/orrn/kitchenprint/internal/core"
)

const batchSize = 500

const archiveSchema = `
	CREATE TABLE IF NOT EXISTS print_jobs (
		id TEXT PRIMARY KEY,
		printer_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content BLOB NOT NULL,
		retry_count INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		archived_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS archive_metadata (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		archived_at TEXT NOT NULL
	);
`

const insertArchivedJob = `
	INSERT OR REPLACE INTO print_jobs (id, printer_id, type, content, retry_count, created_at, completed_at, archived_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

const timeLayout = "2006-01-02 15:04:05.000000"

// Source is the live job store.
type Source interface {
	SucceededBefore(ctx context.Context, cutoff time.Time, limit int) ([]*core.Job, error)
	DeleteSucceeded(ctx context.Context, ids []string) (int, error)
}

type File struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	JobCount int    `json:"job_count"`
}

type Archiver struct {
	source   Source
	path     string
	days     int
	interval time.Duration
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

func NewArchiver(source Source, cfg config.ArchiveConfig, logger *zap.SugaredLogger) (*Archiver, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/archives"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, errors.Wrap(err, "create archive directory")
	}

	return &Archiver{
		source:   source,
		path:     cfg.Path,
		days:     cfg.RetentionDays,
		interval: cfg.Interval,
		logger:   logger.Named("archive"),
		now:      time.Now,
	}, nil
}

func (a *Archiver) Start(ctx context.Context) {
	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	go a.loop(ctx)
}

func (a *Archiver) Stop() {
	if a.stopCh == nil {
		return
	}
	close(a.stopCh)
	<-a.done
}

func (a *Archiver) loop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			if _, err := a.RunArchive(ctx); err != nil {
				a.logger.Errorw("Archive run failed", "error", err)
			}
		}
	}
}

// RunArchive archives every eligible job and returns how many left the live database.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	cutoff := now.AddDate(0, 0, -a.days)
	total := 0

	for {
		jobs, err := a.source.SucceededBefore(ctx, cutoff, batchSize)
		if err != nil {
			return total, errors.Wrap(err, "select jobs for archival")
		}
		if len(jobs) == 0 {
			break
		}

		filename := a.filenameFor(now)
		if err := a.writeArchive(ctx, filepath.Join(a.path, filename), jobs, now); err != nil {
			return total, errors.Wrapf(err, "write %s", filename)
		}

		ids := make([]string, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		n, err := a.source.DeleteSucceeded(ctx, ids)
		if err != nil {
			return total, errors.Wrap(err, "delete archived jobs")
		}
		total += n

		if len(jobs) < batchSize {
			break
		}
	}

	if total > 0 {
		a.logger.Infow("Archived jobs", "count", total, "cutoff", cutoff)
	}
	return total, nil
}

func (a *Archiver) filenameFor(t time.Time) string {
	return fmt.Sprintf("archive_%s.db", t.Format("2006_01"))
}

func (a *Archiver) writeArchive(ctx context.Context, path string, jobs []*core.Job, now time.Time) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, archiveSchema); err != nil {
		return errors.Wrap(err, "create archive schema")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stamp := now.Format(timeLayout)
	for _, j := range jobs {
		completed := stamp
		if j.CompletedAt != nil {
			completed = j.CompletedAt.UTC().Format(timeLayout)
		}
		if _, err := tx.ExecContext(ctx, insertArchivedJob,
			j.ID, j.PrinterID, string(j.Type), j.Content, j.RetryCount,
			j.CreatedAt.UTC().Format(timeLayout), completed, stamp); err != nil {
			return errors.Wrapf(err, "insert job %s", j.ID)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO archive_metadata (id, archived_at) VALUES (1, ?)`, stamp); err != nil {
		return errors.Wrap(err, "update archive metadata")
	}
	return tx.Commit()
}

func (a *Archiver) ListArchives() ([]*File, error) {
	entries, err := os.ReadDir(a.path)
	if err != nil {
		return nil, errors.Wrap(err, "read archive directory")
	}

	var files []*File
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "archive_") || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		count, err := a.jobCount(e.Name())
		if err != nil {
			a.logger.Warnw("Unreadable archive", "file", e.Name(), "error", err)
		}
		files = append(files, &File{Filename: e.Name(), Size: info.Size(), JobCount: count})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename > files[j].Filename })
	return files, nil
}

func (a *Archiver) jobCount(filename string) (int, error) {
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(a.path, filename)+"?mode=ro")
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM print_jobs`).Scan(&n)
	return n, err
}
