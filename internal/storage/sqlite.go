package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteIndex implements Index using SQLite.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex creates a new SQLite index instance.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

// Initialize creates the database schema.
func (s *SQLiteIndex) Initialize(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scan_id TEXT NOT NULL,
			root_path TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			directories_recorded INTEGER DEFAULT 0,
			failures INTEGER DEFAULT 0,
			status TEXT DEFAULT 'running',
			reason TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			directory TEXT NOT NULL,
			total_bytes INTEGER NOT NULL,
			entry_count INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			output_path TEXT NOT NULL,
			recorded_at DATETIME NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (run_id) REFERENCES runs(run_id),
			UNIQUE (run_id, directory)
		);

		CREATE INDEX IF NOT EXISTS idx_records_dir_time ON records(directory, recorded_at);
		CREATE INDEX IF NOT EXISTS idx_records_run_id ON records(run_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// StartRun catalogs a new run.
func (s *SQLiteIndex) StartRun(ctx context.Context, run Run, rootPath string) (string, error) {
	scanID := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, scan_id, root_path, output_dir, started_at, status) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, scanID, rootPath, run.Dir, now, StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("inserting run record: %w", err)
	}

	return scanID, nil
}

// CompleteRun marks a run as completed.
func (s *SQLiteIndex) CompleteRun(ctx context.Context, runID string, recorded, failures int) error {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET completed_at = ?, directories_recorded = ?, failures = ?, status = ? WHERE run_id = ?`,
		now, recorded, failures, StatusCompleted, runID,
	)
	if err != nil {
		return fmt.Errorf("completing run: %w", err)
	}

	return nil
}

// FailRun marks a run as failed or cancelled.
func (s *SQLiteIndex) FailRun(ctx context.Context, runID string, status string, reason string) error {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET completed_at = ?, status = ?, reason = ? WHERE run_id = ?`,
		now, status, reason, runID,
	)
	if err != nil {
		return fmt.Errorf("failing run: %w", err)
	}

	return nil
}

// RecordBatch stores multiple record entries in a single transaction.
func (s *SQLiteIndex) RecordBatch(ctx context.Context, records []IndexedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (run_id, directory, total_bytes, entry_count, seq, output_path, recorded_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.RunID, r.Directory, r.TotalBytes, r.EntryCount, r.Seq, r.OutputPath, r.RecordedAt, r.Error,
		)
		if err != nil {
			return fmt.Errorf("inserting record for %s: %w", r.Directory, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// ListRuns returns catalogued runs, newest first.
func (s *SQLiteIndex) ListRuns(ctx context.Context, limit int) ([]IndexedRun, error) {
	query := `SELECT run_id, scan_id, root_path, output_dir, started_at, completed_at,
			         directories_recorded, failures, status, reason
			  FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []IndexedRun
	for rows.Next() {
		var r IndexedRun
		var completed sql.NullTime
		if err := rows.Scan(&r.RunID, &r.ScanID, &r.RootPath, &r.OutputDir, &r.StartedAt, &completed,
			&r.DirectoriesRecorded, &r.Failures, &r.Status, &r.Reason); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return runs, nil
}

// QueryHistory retrieves a directory's records matching the given options.
func (s *SQLiteIndex) QueryHistory(ctx context.Context, opts HistoryOptions) ([]IndexedRecord, error) {
	query := `SELECT id, run_id, directory, total_bytes, entry_count, seq, output_path, recorded_at, error
		      FROM records WHERE 1=1`
	args := []interface{}{}

	if opts.Directory != "" {
		query += " AND directory = ?"
		args = append(args, opts.Directory)
	}

	if opts.Since != nil {
		query += " AND recorded_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	if opts.Until != nil {
		query += " AND recorded_at <= ?"
		args = append(args, opts.Until.UTC())
	}

	query += " ORDER BY recorded_at DESC, id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []IndexedRecord
	for rows.Next() {
		var r IndexedRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.Directory, &r.TotalBytes, &r.EntryCount, &r.Seq,
			&r.OutputPath, &r.RecordedAt, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return records, nil
}

// GetTopChangers finds directories under BasePath with the largest total size
// changes between their first and last record in the interval.
func (s *SQLiteIndex) GetTopChangers(ctx context.Context, opts TopChangerOptions) ([]DirectoryChange, error) {
	// Normalize base path: remove trailing slash for consistent comparison
	basePath := opts.BasePath
	if len(basePath) > 1 && basePath[len(basePath)-1] == '/' {
		basePath = basePath[:len(basePath)-1]
	}
	prefix := basePath + "/"
	if basePath == "/" {
		prefix = "/"
	}

	query := `
		WITH ranked AS (
			SELECT
				directory,
				total_bytes,
				recorded_at,
				ROW_NUMBER() OVER (PARTITION BY directory ORDER BY recorded_at ASC, id ASC) AS rn_first,
				ROW_NUMBER() OVER (PARTITION BY directory ORDER BY recorded_at DESC, id DESC) AS rn_last
			FROM records
			WHERE (directory = ? OR substr(directory, 1, length(?)) = ?)
			  AND error = ''
			  AND recorded_at BETWEEN ? AND ?
		),
		changes AS (
			SELECT
				r1.directory,
				r1.total_bytes AS start_size,
				r1.recorded_at AS start_time,
				r2.total_bytes AS end_size,
				r2.recorded_at AS end_time
			FROM ranked r1
			JOIN ranked r2 ON r1.directory = r2.directory
			WHERE r1.rn_first = 1 AND r2.rn_last = 1
		)
		SELECT
			directory, start_size, end_size, start_time, end_time,
			(end_size - start_size) AS change_bytes,
			CASE WHEN start_size > 0 THEN ROUND(100.0 * (end_size - start_size) / start_size, 2) ELSE 0 END AS change_percent
		FROM changes
		WHERE ABS(end_size - start_size) >= ?
		  AND (? = 'both' OR (? = 'increase' AND end_size > start_size) OR (? = 'decrease' AND end_size < start_size))
		ORDER BY ABS(end_size - start_size) DESC
		LIMIT ?;
	`

	rows, err := s.db.QueryContext(ctx, query,
		basePath,
		prefix,
		prefix,
		opts.Since.UTC(),
		opts.Until.UTC(),
		opts.MinChangeBytes,
		opts.Direction,
		opts.Direction,
		opts.Direction,
		opts.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying top changers: %w", err)
	}
	defer rows.Close()

	var results []DirectoryChange
	for rows.Next() {
		var dc DirectoryChange
		if err := rows.Scan(
			&dc.Directory,
			&dc.StartSize,
			&dc.EndSize,
			&dc.StartTime,
			&dc.EndTime,
			&dc.ChangeBytes,
			&dc.ChangePercent,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		results = append(results, dc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return results, nil
}
