package sqlite

import (
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/byheaven/aitoy/pkg/models"
)

// Entry is a cached generated image.
type Entry struct {
	Data     []byte
	MIMEType string
}

// Cache is an exact-match prompt to image cache backed by SQLite.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS image_cache (
	prompt_hash TEXT NOT NULL,
	model TEXT NOT NULL,
	image BLOB NOT NULL,
	mime_type TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL,
	PRIMARY KEY (prompt_hash, model)
);
CREATE INDEX IF NOT EXISTS idx_image_cache_expires ON image_cache(expires_at);
`

// New creates a Cache with the given database path and TTL.
func New(dbPath string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		return nil, errors.New("cache ttl must be positive")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db, ttl: ttl}, nil
}

// HashPrompt computes a SHA-256 hash of the model, prompt and optional
// reference image.
func HashPrompt(model, prompt string, reference []byte) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write(reference)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get retrieves a cached image. Returns false if not found or expired.
func (c *Cache) Get(promptHash, model string) (Entry, bool) {
	var e Entry
	var expiresAt time.Time

	err := c.db.QueryRow(
		`SELECT image, mime_type, expires_at FROM image_cache WHERE prompt_hash = ? AND model = ?`,
		promptHash, model,
	).Scan(&e.Data, &e.MIMEType, &expiresAt)

	if err != nil {
		c.misses.Add(1)
		return Entry{}, false
	}

	if time.Now().After(expiresAt) {
		c.misses.Add(1)
		return Entry{}, false
	}

	c.hits.Add(1)
	return e, true
}

// Put stores an image in the cache.
func (c *Cache) Put(promptHash, model string, e Entry) error {
	now := time.Now().UTC()
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO image_cache (prompt_hash, model, image, mime_type, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		promptHash, model, e.Data, e.MIMEType, now, now.Add(c.ttl),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM image_cache`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(expiredOnly bool) (int64, error) {
	var res sql.Result
	var err error
	if expiredOnly {
		res, err = c.db.Exec(`DELETE FROM image_cache WHERE expires_at < ?`, time.Now().UTC())
	} else {
		res, err = c.db.Exec(`DELETE FROM image_cache`)
	}
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
