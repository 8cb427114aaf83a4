package db

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Timestamps are written in one fixed-width UTC layout so string comparison in SQL orders them.
const timeLayout = "2006-01-02 15:04:05.000000"

type Migration struct {
	Version string
	SQL     string
}

// Open opens the SQLite database at path and applies pending migrations. SQLite allows one
// writer, so the pool is pinned to a single connection.
func Open(ctx context.Context, dbPath string) (*sql.DB, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", dbPath)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "ping database %s", dbPath)
	}

	if err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate applies the embedded migrations that have not been recorded yet.
func Migrate(ctx context.Context, conn *sql.DB) error {
	return RunMigrationsFromFS(ctx, conn, migrationFS, "migrations")
}

func RunMigrationsFromFS(ctx context.Context, conn *sql.DB, fsys fs.FS, dir string) error {
	if _, err := conn.ExecContext(ctx, createMigrationsTable); err != nil {
		return errors.Wrap(err, "create migrations table")
	}

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return err
	}

	var migrations []Migration
	err = fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".sql") {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", p)
		}
		migrations = append(migrations, Migration{
			Version: strings.TrimSuffix(path.Base(p), ".sql"),
			SQL:     string(content),
		})
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "walk migrations directory")
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(ctx, conn, m); err != nil {
			return err
		}
	}
	return nil
}

func appliedMigrations(ctx context.Context, conn *sql.DB) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, selectAppliedMigrations)
	if err != nil {
		return nil, errors.Wrap(err, "query migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, errors.Wrap(err, "scan migration version")
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, conn *sql.DB, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "begin migration %s", m.Version)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return errors.Wrapf(err, "execute migration %s", m.Version)
	}
	if _, err := tx.ExecContext(ctx, insertMigration, m.Version); err != nil {
		return errors.Wrapf(err, "record migration %s", m.Version)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit migration %s", m.Version)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
