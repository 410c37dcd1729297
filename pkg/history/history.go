// Package history keeps a per-client log of generated images in SQLite.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/byheaven/aitoy/pkg/models"
)

// DefaultMaxPerClient is the number of entries kept per client when unset.
const DefaultMaxPerClient = 50

// Store writes and queries history entries in a dedicated SQLite database.
type Store struct {
	db   *sql.DB
	cfg  models.HistoryConfig
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the history SQLite database and creates the schema.
func New(cfg models.HistoryConfig) (*Store, error) {
	if cfg.MaxPerClient <= 0 {
		cfg.MaxPerClient = DefaultMaxPerClient
	}
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	s := &Store{
		db:   db,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	if cfg.RetentionDays > 0 {
		s.wg.Add(1)
		go s.retentionLoop()
	}

	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS generation_history (
		image_id      TEXT PRIMARY KEY,
		request_id    TEXT NOT NULL,
		client_hash   TEXT NOT NULL,
		client_prefix TEXT NOT NULL,
		mode          TEXT NOT NULL,
		slot          INTEGER NOT NULL,
		prompt        TEXT NOT NULL,
		style         TEXT,
		language      TEXT,
		success       INTEGER NOT NULL,
		error         TEXT,
		mime_type     TEXT,
		image         BLOB,
		tokens_used   INTEGER NOT NULL,
		created_at    DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_client ON generation_history(client_hash, created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_request ON generation_history(request_id)`)
	return err
}

// Append inserts an entry and trims the client's history to MaxPerClient,
// dropping the oldest entries first.
func (s *Store) Append(ctx context.Context, e models.HistoryEntry) error {
	if s == nil || s.db == nil {
		return nil
	}
	if e.ImageID == "" {
		e.ImageID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if !s.cfg.StoreImages {
		e.Image = nil
	}

	if err := s.insert(ctx, e); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM generation_history WHERE client_hash = ? AND image_id NOT IN (
			SELECT image_id FROM generation_history WHERE client_hash = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?)`,
		e.ClientHash, e.ClientHash, s.cfg.MaxPerClient,
	)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, e models.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO generation_history
		(image_id, request_id, client_hash, client_prefix, mode, slot, prompt, style, language,
		 success, error, mime_type, image, tokens_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ImageID, e.RequestID, e.ClientHash, e.ClientPrefix, string(e.Mode), e.Slot, e.Prompt,
		string(e.Style), string(e.Language), e.Success, e.Error, e.MIMEType, e.Image,
		e.TokensUsed, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Query returns history entries matching the given options, newest first.
func (s *Store) Query(ctx context.Context, opts models.HistoryQueryOpts) ([]models.HistoryEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	q := `SELECT image_id, request_id, client_hash, client_prefix, mode, slot, prompt, style, language,
		success, error, mime_type, image, tokens_used, created_at
		FROM generation_history WHERE 1=1`
	var args []any

	if opts.ClientHash != "" {
		q += " AND client_hash = ?"
		args = append(args, opts.ClientHash)
	}
	if opts.ClientPrefix != "" {
		q += " AND client_prefix = ?"
		args = append(args, opts.ClientPrefix)
	}
	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Mode != "" {
		q += " AND mode = ?"
		args = append(args, string(opts.Mode))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}
	if opts.SuccessOnly {
		q += " AND success = 1"
	}

	q += " ORDER BY created_at DESC, slot ASC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var mode string
		var style, lang, errMsg, mimeType sql.NullString
		if err := rows.Scan(
			&e.ImageID, &e.RequestID, &e.ClientHash, &e.ClientPrefix, &mode, &e.Slot, &e.Prompt,
			&style, &lang, &e.Success, &errMsg, &mimeType, &e.Image, &e.TokensUsed, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Mode = models.Mode(mode)
		e.Style = models.Style(style.String)
		e.Language = models.Language(lang.String)
		e.Error = errMsg.String
		e.MIMEType = mimeType.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts grouped by mode and day.
func (s *Store) Stats(ctx context.Context) ([]models.HistoryStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mode, substr(created_at, 1, 10) AS day, count(*) AS cnt, sum(success) AS ok
		 FROM generation_history GROUP BY mode, day ORDER BY day DESC, mode`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	var stats []models.HistoryStat
	for rows.Next() {
		var st models.HistoryStat
		var mode string
		var day sql.NullString
		if err := rows.Scan(&mode, &day, &st.Count, &st.Succeeded); err != nil {
			return nil, fmt.Errorf("scan history stat: %w", err)
		}
		st.Mode = models.Mode(mode)
		st.Day = day.String
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM generation_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Clear deletes a client's entries, or every entry when clientHash is empty.
func (s *Store) Clear(ctx context.Context, clientHash string) (int64, error) {
	var res sql.Result
	var err error
	if clientHash == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM generation_history`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM generation_history WHERE client_hash = ?`, clientHash)
	}
	if err != nil {
		return 0, fmt.Errorf("history clear: %w", err)
	}
	return res.RowsAffected()
}

// Export writes matching entries to w as a JSON array.
func (s *Store) Export(ctx context.Context, w io.Writer, opts models.HistoryQueryOpts) (int, error) {
	entries, err := s.Query(ctx, opts)
	if err != nil {
		return 0, err
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return 0, fmt.Errorf("export history: %w", err)
	}
	return len(entries), nil
}

// Import reads a JSON array produced by Export and stores every entry.
// Existing entries with the same image ID are replaced.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	var entries []models.HistoryEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return 0, fmt.Errorf("decode history: %w", err)
	}
	for i, e := range entries {
		if e.ImageID == "" || e.ClientHash == "" {
			return i, fmt.Errorf("import history: entry %d is missing image_id or client_hash", i)
		}
		if !s.cfg.StoreImages {
			e.Image = nil
		}
		e.CreatedAt = e.CreatedAt.UTC()
		if err := s.insert(ctx, e); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

// Close stops the retention goroutine and closes the database.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background())
		}
	}
}

// HashClient returns the SHA-256 hex hash and 8-char prefix for a client identifier.
func HashClient(clientID string) (hash, prefix string) {
	h := sha256.Sum256([]byte(clientID))
	hash = hex.EncodeToString(h[:])
	if len(clientID) > 8 {
		prefix = clientID[:8]
	} else {
		prefix = clientID
	}
	return hash, prefix
}
