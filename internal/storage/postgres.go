/**
 * PostgreSQL cache store for the extraction engine
 *
 * Persists extraction results as JSONB so cached documents can also be
 * queried from SQL.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/extraction-engine/internal/cache"
)

const DefaultPostgresTable = "extraction_cache"

// undefined_table
const pqUndefinedTable = "42P01"

// PostgresStore implements cache.Store on a PostgreSQL table.
type PostgresStore struct {
	db    *sql.DB
	table string
	ttl   time.Duration
}

// OpenPostgresStore connects to databaseURL and creates the cache table if
// needed.
func OpenPostgresStore(ctx context.Context, databaseURL string, ttl time.Duration) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresStore(db, DefaultPostgresTable, ttl)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB, table string, ttl time.Duration) *PostgresStore {
	if table == "" {
		table = DefaultPostgresTable
	}
	return &PostgresStore{db: db, table: pq.QuoteIdentifier(table), ttl: ttl}
}

// EnsureSchema creates the cache table.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			result JSONB NOT NULL,
			size_bytes BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ
		)
	`, p.table)
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := fmt.Sprintf(`
		SELECT result::text FROM %s
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, p.table)

	var value string
	err := p.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) || isUndefinedTable(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return []byte(value), true, nil
}

func (p *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	var expiresAt sql.NullTime
	if p.ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(p.ttl), Valid: true}
	}

	doc := sanitizeJSONForPostgres(value)
	query := fmt.Sprintf(`
		INSERT INTO %s (key, result, size_bytes, created_at, expires_at)
		VALUES ($1, $2::jsonb, $3, NOW(), $4)
		ON CONFLICT (key) DO UPDATE SET
			result = EXCLUDED.result,
			size_bytes = EXCLUDED.size_bytes,
			created_at = NOW(),
			expires_at = EXCLUDED.expires_at
	`, p.table)
	if _, err := p.db.ExecContext(ctx, query, key, string(doc), len(doc), expiresAt); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, p.table)
	if _, err := p.db.ExecContext(ctx, query, key); err != nil && !isUndefinedTable(err) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) Clear(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, p.table))
	if isUndefinedTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared entries: %w", err)
	}
	return int(n), nil
}

func (p *PostgresStore) Stats(ctx context.Context) (cache.StoreStats, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM %s
		WHERE expires_at IS NULL OR expires_at > NOW()
	`, p.table)

	var st cache.StoreStats
	err := p.db.QueryRowContext(ctx, query).Scan(&st.Entries, &st.Bytes)
	if isUndefinedTable(err) {
		return cache.StoreStats{}, nil
	}
	if err != nil {
		return cache.StoreStats{}, fmt.Errorf("failed to read cache stats: %w", err)
	}
	return st, nil
}

// Ping checks database connectivity
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUndefinedTable
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres drops \u0000 escapes, which JSONB rejects, and
// replaces other control-character escapes with a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
