// Package database keeps the run history in SQLite.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"gazepointer/internal/pipeline"
)

// ErrRunNotFound is returned by GetRun for an unknown id
var ErrRunNotFound = errors.New("run not found")

// Database handles SQLite database operations
type Database struct {
	db *sqlx.DB
}

// RunRecord is one pipeline run
type RunRecord struct {
	ID         string    `db:"id"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`

	InputType string `db:"input_type"`
	InputFile string `db:"input_file"`
	Device    string `db:"device"`

	Frames    int `db:"frames"`
	Completed int `db:"completed"`
	Skipped   int `db:"skipped"`

	SkipsJSON   string          `db:"skips"`
	FaceMeanMs  sql.NullFloat64 `db:"face_mean_ms"`
	TotalMeanMs sql.NullFloat64 `db:"total_mean_ms"`
	FPS         float64         `db:"fps"`

	Error string `db:"error"`
}

// Skips decodes the per-stage skip counts
func (r *RunRecord) Skips() (map[string]int, error) {
	skips := map[string]int{}
	if r.SkipsJSON == "" {
		return skips, nil
	}
	if err := json.Unmarshal([]byte(r.SkipsJSON), &skips); err != nil {
		return nil, fmt.Errorf("failed to unmarshal skips: %w", err)
	}
	return skips, nil
}

// NewRunRecord builds a record from a run report. Means the run never
// sampled are stored as NULL.
func NewRunRecord(report *pipeline.Report, startedAt time.Time, inputType, inputFile, device string, runErr error) (*RunRecord, error) {
	rec := &RunRecord{
		ID:         uuid.New().String(),
		StartedAt:  startedAt,
		FinishedAt: startedAt,
		InputType:  inputType,
		InputFile:  inputFile,
		Device:     device,
		SkipsJSON:  "{}",
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if report == nil {
		return rec, nil
	}

	skips, err := json.Marshal(report.Skips)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal skips: %w", err)
	}
	rec.FinishedAt = startedAt.Add(report.Elapsed)
	rec.Frames = report.Frames
	rec.Completed = report.Completed
	rec.Skipped = report.Skipped
	rec.SkipsJSON = string(skips)
	rec.FPS = report.FPS
	if report.HasFaceMean {
		rec.FaceMeanMs = sql.NullFloat64{Float64: milliseconds(report.FaceMean), Valid: true}
	}
	if report.HasTotalMean {
		rec.TotalMeanMs = sql.NullFloat64{Float64: milliseconds(report.TotalMean), Valid: true}
	}
	return rec, nil
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// New opens (or creates) the database at dbPath
func New(dbPath string) (*Database, error) {
	db, err := sqlx.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &Database{db: db}, nil
}

// dsn stores times in the sortable SQLite text format
func dsn(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath + "&_time_format=sqlite"
	}
	return dbPath + "?_time_format=sqlite"
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			input_type TEXT NOT NULL,
			input_file TEXT NOT NULL DEFAULT '',
			device TEXT NOT NULL,
			frames INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			skips TEXT NOT NULL DEFAULT '{}',
			face_mean_ms REAL,
			total_mean_ms REAL,
			fps REAL NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

const querySaveRun = `INSERT INTO runs
	(id, started_at, finished_at, input_type, input_file, device, frames, completed, skipped,
	 skips, face_mean_ms, total_mean_ms, fps, error)
	VALUES (:id, :started_at, :finished_at, :input_type, :input_file, :device, :frames, :completed, :skipped,
	 :skips, :face_mean_ms, :total_mean_ms, :fps, :error)
	ON CONFLICT(id) DO UPDATE SET
		finished_at = excluded.finished_at,
		frames = excluded.frames,
		completed = excluded.completed,
		skipped = excluded.skipped,
		skips = excluded.skips,
		face_mean_ms = excluded.face_mean_ms,
		total_mean_ms = excluded.total_mean_ms,
		fps = excluded.fps,
		error = excluded.error`

// SaveRun inserts or updates a run. An empty id gets a new UUID.
func (d *Database) SaveRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.SkipsJSON == "" {
		run.SkipsJSON = "{}"
	}
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	if _, err := d.db.NamedExecContext(ctx, querySaveRun, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

const selectRun = `SELECT id, started_at, finished_at, input_type, input_file, device, frames, completed,
	skipped, skips, face_mean_ms, total_mean_ms, fps, error FROM runs`

// GetRun retrieves a run by id
func (d *Database) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var run RunRecord
	err := d.db.GetContext(ctx, &run, selectRun+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all.
func (d *Database) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := selectRun + ` ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var runs []*RunRecord
	if err := d.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// DeleteRunsBefore deletes runs started before the given time
func (d *Database) DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	return result.RowsAffected()
}
