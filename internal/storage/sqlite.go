package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/batch"
)

// Storage keeps the history of report runs
type Storage struct {
	db *sql.DB
}

// Run is one recorded batch run
type Run struct {
	ID              int64
	RunID           string
	Timestamp       time.Time
	Station         string // station id from the stations file, empty for ad-hoc runs
	Month           string
	OutputPath      string
	Format          string
	Sources         []string
	FilesTotal      int
	FilesSkipped    int
	WeeklyEvents    int
	MonthlyEvents   int
	Warnings        []string
	SaveError       string
	DurationSeconds float64
	Files           []RunFile // loaded by GetRunFiles
}

// RunFile is the outcome of one input file of a run
type RunFile struct {
	Path     string
	Entries  int
	Events   int
	Excluded []string
	Error    string
}

// RunFromResult converts a batch result into a history record.
func RunFromResult(res *batch.Result, station string) *Run {
	run := &Run{
		RunID:           res.RunID,
		Timestamp:       res.StartedAt,
		Station:         station,
		Month:           res.MonthKey,
		OutputPath:      res.OutputPath,
		Format:          string(res.Format),
		Sources:         res.Sources,
		FilesTotal:      len(res.Files),
		FilesSkipped:    res.SkippedFiles(),
		WeeklyEvents:    res.WeeklyEvents,
		MonthlyEvents:   res.MonthlyEvents,
		Warnings:        res.Warnings,
		DurationSeconds: res.Duration.Seconds(),
	}
	if res.SaveErr != nil {
		run.SaveError = res.SaveErr.Error()
	}
	for _, f := range res.Files {
		rf := RunFile{
			Path:     f.Path,
			Entries:  f.Entries,
			Events:   f.Events,
			Excluded: f.Excluded,
		}
		if f.Err != nil {
			rf.Error = f.Err.Error()
		}
		run.Files = append(run.Files, rf)
	}
	return run
}

// Database configuration constants
const (
	// busyTimeoutMs is how long SQLite waits when database is locked (5 seconds)
	busyTimeoutMs = 5000
	// maxOpenConns limits concurrent connections (SQLite works best with 1)
	maxOpenConns = 1
	// maxIdleConns is the number of idle connections to keep
	maxIdleConns = 1
	// connMaxLifetime is how long a connection can be reused
	connMaxLifetime = 30 * time.Minute
)

// New creates a new storage instance
func New(dbPath string) (*Storage, error) {
	// Owner-only directory, the history lists local file paths
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// currentSchemaVersion is the latest schema version.
// Increment this when adding new migrations.
const currentSchemaVersion = 2

// initSchema creates the database schema if it doesn't exist
func (s *Storage) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	if err := s.migrateSchema(s.getSchemaVersion()); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// getSchemaVersion returns the current schema version (0 if not set)
func (s *Storage) getSchemaVersion() int {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

// setSchemaVersion updates the schema version
func (s *Storage) setSchemaVersion(version int) error {
	if _, err := s.db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return err
	}
	return nil
}

// migrateSchema runs migrations from currentVersion to latest
func (s *Storage) migrateSchema(currentVersion int) error {
	if currentVersion >= currentSchemaVersion {
		return nil
	}

	log.Printf("storage: migrating schema from version %d to %d", currentVersion, currentSchemaVersion)

	// Migration 0 -> 1: runs table
	if currentVersion < 1 {
		if err := s.migrateV1(); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	}

	// Migration 1 -> 2: station column and per-file outcomes
	if currentVersion < 2 {
		if err := s.migrateV2(); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	}

	if err := s.setSchemaVersion(currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	log.Printf("storage: schema migration completed successfully (now at version %d)", currentSchemaVersion)
	return nil
}

// migrateV1 creates the runs table
func (s *Storage) migrateV1() error {
	log.Printf("storage: running migration v1 - create runs table")

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		month TEXT NOT NULL,
		output_path TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT 'xlsx',
		sources TEXT,
		files_total INTEGER DEFAULT 0,
		files_skipped INTEGER DEFAULT 0,
		weekly_events INTEGER DEFAULT 0,
		monthly_events INTEGER DEFAULT 0,
		warnings TEXT,
		save_error TEXT NOT NULL DEFAULT '',
		duration_s REAL DEFAULT 0.0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_month ON runs(month);
	`

	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 adds the station column and the run_files table
func (s *Storage) migrateV2() error {
	log.Printf("storage: running migration v2 - add station column and run_files table")

	hasStation, err := s.hasColumn("runs", "station")
	if err != nil {
		return err
	}
	if !hasStation {
		if _, err := s.db.Exec(`ALTER TABLE runs ADD COLUMN station TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add station column: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS run_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		entries INTEGER DEFAULT 0,
		events INTEGER DEFAULT 0,
		excluded TEXT,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_run_files_run ON run_files(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_station_month ON runs(station, month);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create run_files table: %w", err)
	}
	return nil
}

// hasColumn reports whether table already has column, for databases that
// predate version tracking.
func (s *Storage) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to get table info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SaveRun records a run and its file outcomes
func (s *Storage) SaveRun(run *Run) error {
	sourcesJSON, err := json.Marshal(run.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	warningsJSON, err := json.Marshal(run.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	format := run.Format
	if format == "" {
		format = "xlsx"
	}
	filesTotal := run.FilesTotal
	if filesTotal == 0 {
		filesTotal = len(run.Files)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO runs (
			run_id, timestamp, station, month, output_path, format, sources,
			files_total, files_skipped, weekly_events, monthly_events,
			warnings, save_error, duration_s
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.Exec(
		query,
		run.RunID,
		run.Timestamp.Format(time.RFC3339),
		run.Station,
		run.Month,
		run.OutputPath,
		format,
		string(sourcesJSON),
		filesTotal,
		run.FilesSkipped,
		run.WeeklyEvents,
		run.MonthlyEvents,
		string(warningsJSON),
		run.SaveError,
		run.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, f := range run.Files {
		excludedJSON, err := json.Marshal(f.Excluded)
		if err != nil {
			return fmt.Errorf("failed to marshal excluded weeks: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO run_files (run_id, path, entries, events, excluded, error) VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, f.Path, f.Entries, f.Events, string(excludedJSON), f.Error,
		); err != nil {
			return fmt.Errorf("failed to insert run file: %w", err)
		}
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	run.ID = id
	run.FilesTotal = filesTotal
	run.Format = format
	return nil
}

const runColumns = `
	id, run_id, timestamp, station, month, output_path, format, sources,
	files_total, files_skipped, weekly_events, monthly_events,
	warnings, save_error, duration_s
`

// GetRunsForMonth returns the runs that produced a month's report, newest
// first. An empty station matches every station.
func (s *Storage) GetRunsForMonth(month, station string) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE month = ?`
	args := []interface{}{month}
	if station != "" {
		query += ` AND station = ?`
		args = append(args, station)
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	return s.queryRuns(query, args...)
}

func (s *Storage) queryRuns(query string, args ...interface{}) ([]*Run, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func(rows *sql.Rows) {
		err = rows.Close()
		if err != nil {
			log.Printf("storage: failed to close database rows: %v", err)
		}
	}(rows)

	var runs []*Run
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRunFiles returns the file outcomes of a run in processing order
func (s *Storage) GetRunFiles(runID string) ([]RunFile, error) {
	rows, err := s.db.Query(
		`SELECT path, entries, events, excluded, error FROM run_files WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query run files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []RunFile
	for rows.Next() {
		var f RunFile
		var excludedJSON string
		if err := rows.Scan(&f.Path, &f.Entries, &f.Events, &excludedJSON, &f.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run file: %w", err)
		}
		if err := json.Unmarshal([]byte(excludedJSON), &f.Excluded); err != nil {
			return nil, fmt.Errorf("failed to unmarshal excluded weeks: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// CleanupOldRuns deletes runs older than N days along with their files
func (s *Storage) CleanupOldRuns(days int) (int64, error) {
	cutoffDate := time.Now().AddDate(0, 0, -days).Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`DELETE FROM run_files WHERE run_id IN (SELECT run_id FROM runs WHERE timestamp < ?)`,
		cutoffDate,
	); err != nil {
		return 0, fmt.Errorf("failed to cleanup old run files: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM runs WHERE timestamp < ?`, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old runs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return affected, nil
}

// GetStatistics returns database statistics, optionally filtered by station
func (s *Storage) GetStatistics(station string) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	whereClause := ""
	var args []interface{}
	if station != "" {
		whereClause = " WHERE station = ?"
		args = []interface{}{station}
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`+whereClause, args...).Scan(&total); err != nil {
		return nil, err
	}
	stats["total_runs"] = total

	var failedSaves int
	failedQuery := `SELECT COUNT(*) FROM runs` + whereClause
	if whereClause == "" {
		failedQuery += ` WHERE save_error != ''`
	} else {
		failedQuery += ` AND save_error != ''`
	}
	if err := s.db.QueryRow(failedQuery, args...).Scan(&failedSaves); err != nil {
		return nil, err
	}
	stats["failed_saves"] = failedSaves

	rows, err := s.db.Query(`SELECT month, COUNT(*) FROM runs`+whereClause+` GROUP BY month`, args...)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		err = rows.Close()
		if err != nil {
			log.Printf("storage: failed to close database rows: %v", err)
		}
	}(rows)

	monthDist := make(map[string]int)
	for rows.Next() {
		var month string
		var count int
		if err := rows.Scan(&month, &count); err != nil {
			return nil, err
		}
		monthDist[month] = count
	}
	stats["month_distribution"] = monthDist

	return stats, nil
}

// scanRun scans a database row into a Run struct
func (s *Storage) scanRun(rows *sql.Rows) (*Run, error) {
	var (
		run                       Run
		timestamp                 string
		sourcesJSON, warningsJSON string
	)

	err := rows.Scan(
		&run.ID, &run.RunID, &timestamp, &run.Station, &run.Month, &run.OutputPath,
		&run.Format, &sourcesJSON, &run.FilesTotal, &run.FilesSkipped,
		&run.WeeklyEvents, &run.MonthlyEvents, &warningsJSON, &run.SaveError,
		&run.DurationSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	run.Timestamp, err = time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &run.Sources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
	}
	if err := json.Unmarshal([]byte(warningsJSON), &run.Warnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
	}

	return &run, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
