package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"gsc/internal/analytics"
)

const dbFileName = "results.db"

// DefaultTTL is how long a cached analytics response stays fresh.
const DefaultTTL = time.Hour

// Client caches Search Analytics responses in a local DuckDB database so
// repeated identical queries skip the network. Cache failures are
// reported but callers are expected to fall back to a live query.
type Client struct {
	db   *sql.DB
	path string
}

// Stats summarizes cache usage.
type Stats struct {
	Path        string
	Entries     int
	TotalHits   int
	TotalMisses int
	HitRate     float64
	LastCleanup *time.Time
}

// Open creates or opens the cache database under dir.
func Open(dir string) (*Client, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	path := filepath.Join(dir, dbFileName)
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	client := &Client{db: db, path: path}
	if err := client.initializeTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache tables: %w", err)
	}

	return client, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Client) initializeTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS query_cache (
			cache_key VARCHAR PRIMARY KEY,
			site_url VARCHAR NOT NULL,
			request_body TEXT NOT NULL,
			response_body TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT NOW(),
			expires_at TIMESTAMP NOT NULL,
			last_accessed TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS cache_stats (
			id INTEGER PRIMARY KEY,
			total_hits INTEGER DEFAULT 0,
			total_misses INTEGER DEFAULT 0,
			last_cleanup TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := c.db.Exec(query); err != nil {
			return err
		}
	}

	_, err := c.db.Exec(`INSERT OR IGNORE INTO cache_stats (id) VALUES (1)`)
	return err
}

// Key derives the cache key for one query: site plus the canonical
// request body, hashed.
func Key(siteURL string, request *analytics.QueryRequest) string {
	body, _ := json.Marshal(request)
	hash := sha256.Sum256(append([]byte(siteURL+"\n"), body...))
	return fmt.Sprintf("%x", hash)
}

// Get loads a cached response. Returns false on miss or expiry.
func (c *Client) Get(ctx context.Context, key string) (*analytics.QueryResponse, bool, error) {
	var body string
	var expiresAt time.Time

	err := c.db.QueryRowContext(ctx, `
		SELECT response_body, expires_at
		FROM query_cache
		WHERE cache_key = ?
	`, key).Scan(&body, &expiresAt)

	if err == sql.ErrNoRows {
		c.incrementMisses()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query cache: %w", err)
	}

	if time.Now().After(expiresAt) {
		c.incrementMisses()
		c.db.ExecContext(ctx, `DELETE FROM query_cache WHERE cache_key = ?`, key)
		return nil, false, nil
	}

	c.db.ExecContext(ctx, `UPDATE query_cache SET last_accessed = NOW() WHERE cache_key = ?`, key)

	var response analytics.QueryResponse
	if err := json.Unmarshal([]byte(body), &response); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}

	c.incrementHits()
	return &response, true, nil
}

// Put stores a response under the given key with a TTL.
func (c *Client) Put(ctx context.Context, key, siteURL string, request *analytics.QueryRequest, response *analytics.QueryResponse, ttl time.Duration) error {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	responseBody, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO query_cache
		(cache_key, site_url, request_body, response_body, row_count, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key, siteURL, string(requestBody), string(responseBody), len(response.Rows), time.Now().Add(ttl))

	return err
}

// GetStats returns cache usage statistics.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Path: c.path}

	err := c.db.QueryRowContext(ctx, `
		SELECT total_hits, total_misses, last_cleanup
		FROM cache_stats WHERE id = 1
	`).Scan(&stats.TotalHits, &stats.TotalMisses, &stats.LastCleanup)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache stats: %w", err)
	}

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_cache`).Scan(&stats.Entries); err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}

	if total := stats.TotalHits + stats.TotalMisses; total > 0 {
		stats.HitRate = float64(stats.TotalHits) / float64(total) * 100
	}

	return stats, nil
}

// Cleanup removes expired entries and returns how many were deleted.
func (c *Client) Cleanup(ctx context.Context) (int, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM query_cache WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up cache: %w", err)
	}

	deleted, _ := result.RowsAffected()

	_, err = c.db.ExecContext(ctx, `UPDATE cache_stats SET last_cleanup = NOW() WHERE id = 1`)
	return int(deleted), err
}

func (c *Client) incrementHits() {
	c.db.Exec(`UPDATE cache_stats SET total_hits = total_hits + 1 WHERE id = 1`)
}

func (c *Client) incrementMisses() {
	c.db.Exec(`UPDATE cache_stats SET total_misses = total_misses + 1 WHERE id = 1`)
}
