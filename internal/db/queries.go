package db

const (
	createMigrationsTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`

	selectAppliedMigrations = `SELECT version FROM schema_migrations`

	insertMigration = `INSERT INTO schema_migrations (version) VALUES (?)`
)

const (
	InsertPrinter = `
		INSERT INTO printers (id, name, type, address, enabled, mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetPrinterByID = `
		SELECT id, name, type, address, enabled, mode, created_at, updated_at
		FROM printers WHERE id = ?
	`

	ListPrinters = `
		SELECT id, name, type, address, enabled, mode, created_at, updated_at
		FROM printers ORDER BY name ASC
	`

	ListAgentPrinters = `
		SELECT id, name, type, address, enabled, mode, created_at, updated_at
		FROM printers WHERE type = 'agent' AND address = ? ORDER BY name ASC
	`

	UpdatePrinter = `
		UPDATE printers SET name = ?, type = ?, address = ?, enabled = ?, mode = ?, updated_at = ?
		WHERE id = ?
	`

	DeletePrinter = `DELETE FROM printers WHERE id = ?`
)

const jobColumns = `id, printer_id, type, content, status, retry_count, error_message, created_at, last_attempt_at, completed_at`

const (
	InsertJob = `
		INSERT INTO print_jobs (id, printer_id, type, content, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?)
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE id = ?`

	// Pending jobs plus failed jobs with retries left whose cooldown has passed.
	FetchDueJobs = `
		SELECT ` + jobColumns + `
		FROM print_jobs
		WHERE status = 'pending'
		   OR (status = 'failed' AND retry_count < ? AND (last_attempt_at IS NULL OR last_attempt_at <= ?))
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?
	`

	UpdateJobStatus = `
		UPDATE print_jobs
		SET status = ?, retry_count = ?, error_message = ?, last_attempt_at = ?, completed_at = ?
		WHERE id = ? AND status <> 'succeeded'
	`

	ReclaimStaleJobs = `
		UPDATE print_jobs
		SET status = 'failed', retry_count = retry_count + 1, error_message = ?
		WHERE status = 'processing' AND last_attempt_at < ?
		RETURNING ` + jobColumns

	ResetFailedJob = `
		UPDATE print_jobs
		SET status = 'pending', retry_count = 0, error_message = NULL, last_attempt_at = NULL, completed_at = NULL
		WHERE id = ? AND status = 'failed'
	`

	CountJobsByStatus = `SELECT status, COUNT(*) FROM print_jobs GROUP BY status`

	CountExhaustedJobs = `SELECT COUNT(*) FROM print_jobs WHERE status = 'failed' AND retry_count >= ?`

	SelectArchivableJobs = `
		SELECT ` + jobColumns + `
		FROM print_jobs
		WHERE status = 'succeeded' AND completed_at IS NOT NULL AND completed_at < ?
		ORDER BY completed_at ASC
		LIMIT ?
	`

	DeleteSucceededJob = `DELETE FROM print_jobs WHERE id = ? AND status = 'succeeded'`
)
