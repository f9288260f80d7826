package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// Status tracks an uploaded file through the create saga.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusCleaned   Status = "cleaned"
	StatusOrphaned  Status = "orphaned"
)

type Entry struct {
	ID        string
	View      string
	Filename  string
	RecordKey string
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Journal records every file handed to the image host so a failed saga
// leaves a trail instead of a silent orphan.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// OpenJournal opens (creating if needed) the SQLite journal at path.
func OpenJournal(ctx context.Context, path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("open journal: empty path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, now: time.Now}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS upload (
		id TEXT PRIMARY KEY,
		view TEXT NOT NULL,
		filename TEXT NOT NULL,
		record_key TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS upload_status ON upload(status);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Add inserts one entry per filename and returns their IDs in order.
func (j *Journal) Add(ctx context.Context, view string, status Status, recordKey, lastErr string, filenames []string) ([]string, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := j.now().UTC().Format(timeLayout)
	ids := make([]string, 0, len(filenames))
	for _, name := range filenames {
		id := uuid.New().String()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO upload (id, view, filename, record_key, status, attempts, last_error, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			id, view, name, recordKey, string(status), lastErr, now, now)
		if err != nil {
			return nil, fmt.Errorf("journal %s: %w", name, err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Mark moves entries to status. recordKey is kept when empty.
func (j *Journal) Mark(ctx context.Context, ids []string, status Status, recordKey, lastErr string) error {
	now := j.now().UTC().Format(timeLayout)
	for _, id := range ids {
		_, err := j.db.ExecContext(ctx,
			`UPDATE upload SET status = ?,
			   record_key = CASE WHEN ? = '' THEN record_key ELSE ? END,
			   last_error = ?, updated_at = ?
			 WHERE id = ?`,
			string(status), recordKey, recordKey, lastErr, now, id)
		if err != nil {
			return fmt.Errorf("mark %s %s: %w", id, status, err)
		}
	}
	return nil
}

// Attempted records a failed cleanup attempt.
func (j *Journal) Attempted(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE upload SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		msg, j.now().UTC().Format(timeLayout), id)
	return err
}

func (j *Journal) ByStatus(ctx context.Context, status Status) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, view, filename, record_key, status, attempts, last_error, created_at, updated_at
		 FROM upload WHERE status = ? ORDER BY created_at, filename`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var st, createdAt, updatedAt string
		if err := rows.Scan(&e.ID, &e.View, &e.Filename, &e.RecordKey, &st, &e.Attempts, &e.LastError, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.Status = Status(st)
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		e.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of entries per status.
func (j *Journal) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM upload GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}
