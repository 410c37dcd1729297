package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/byheaven/aitoy/pkg/models"
)

// Tracker is the token ledger: it records charges and answers totals.
type Tracker interface {
	// Record stores a charge entry.
	Record(ctx context.Context, rec models.UsageRecord) error
	// QueryByClient returns entries for a client since a given time, newest first.
	QueryByClient(ctx context.Context, clientID string, since time.Time) ([]models.UsageRecord, error)
	// TotalByClient returns tokens charged to a client since a given time.
	TotalByClient(ctx context.Context, clientID string, since time.Time) (int64, error)
	// TotalByClientAndMode returns tokens charged to a client for one mode since a given time.
	TotalByClientAndMode(ctx context.Context, clientID string, mode models.Mode, since time.Time) (int64, error)
	// Summary returns totals grouped by client and mode, optionally filtered by client.
	Summary(ctx context.Context, clientID string) ([]models.UsageSummary, error)
	// Daily returns per-day totals for the last n days, optionally filtered by client.
	Daily(ctx context.Context, clientID string, days int) ([]models.DailyUsage, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS token_ledger (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_id TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	requested INTEGER NOT NULL,
	images INTEGER NOT NULL,
	tokens INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_ledger_client_time ON token_ledger(client_id, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a charge entry. Times are stored in UTC; a zero CreatedAt
// is stamped with the current time.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO token_ledger (client_id, request_id, mode, model, requested, images, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ClientID, rec.RequestID, string(rec.Mode), rec.Model, rec.Requested, rec.Images, rec.Tokens, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// QueryByClient returns entries for a client since a given time.
func (t *SQLiteTracker) QueryByClient(ctx context.Context, clientID string, since time.Time) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, client_id, request_id, mode, model, requested, images, tokens, created_at
		 FROM token_ledger WHERE client_id = ? AND created_at >= ? ORDER BY created_at DESC, id DESC`,
		clientID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var mode string
		if err := rows.Scan(&r.ID, &r.ClientID, &r.RequestID, &mode, &r.Model, &r.Requested, &r.Images, &r.Tokens, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.Mode = models.Mode(mode)
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalByClient returns tokens charged to a client since a given time.
func (t *SQLiteTracker) TotalByClient(ctx context.Context, clientID string, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(tokens), 0) FROM token_ledger WHERE client_id = ? AND created_at >= ?`,
		clientID, since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// TotalByClientAndMode returns tokens charged to a client for one mode since a given time.
func (t *SQLiteTracker) TotalByClientAndMode(ctx context.Context, clientID string, mode models.Mode, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(tokens), 0) FROM token_ledger WHERE client_id = ? AND mode = ? AND created_at >= ?`,
		clientID, string(mode), since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage by mode: %w", err)
	}
	return total, nil
}

// Summary returns totals grouped by client and mode.
func (t *SQLiteTracker) Summary(ctx context.Context, clientID string) ([]models.UsageSummary, error) {
	query := `SELECT client_id, mode, COUNT(*), SUM(requested), SUM(images), SUM(tokens)
		 FROM token_ledger`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id = ?`
		args = append(args, clientID)
	}
	query += ` GROUP BY client_id, mode ORDER BY client_id, mode`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		var mode string
		if err := rows.Scan(&s.ClientID, &mode, &s.RequestCount, &s.Requested, &s.Images, &s.Tokens); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Mode = models.Mode(mode)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Daily returns per-day totals for the last days days, newest first.
func (t *SQLiteTracker) Daily(ctx context.Context, clientID string, days int) ([]models.DailyUsage, error) {
	if days <= 0 {
		days = 7
	}
	now := time.Now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	query := `SELECT substr(created_at, 1, 10) AS day, COUNT(*), SUM(images), SUM(tokens)
		 FROM token_ledger WHERE created_at >= ?`
	args := []any{since}
	if clientID != "" {
		query += ` AND client_id = ?`
		args = append(args, clientID)
	}
	query += ` GROUP BY day ORDER BY day DESC`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily usage: %w", err)
	}
	defer rows.Close()

	var out []models.DailyUsage
	for rows.Next() {
		var d models.DailyUsage
		var day sql.NullString
		if err := rows.Scan(&day, &d.RequestCount, &d.Images, &d.Tokens); err != nil {
			return nil, fmt.Errorf("scan daily usage: %w", err)
		}
		d.Day = day.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
