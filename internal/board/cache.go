package board

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CacheRepository persists generated templates between runs so a board only
// has to be introspected once per TTL window.
type CacheRepository interface {
	// Get retrieves the cache entry for a board id. Returns ErrCacheMiss
	// when no entry exists.
	Get(ctx context.Context, boardID string) (*CacheEntry, error)

	// Put stores or replaces the entry for the entry's board id.
	Put(ctx context.Context, entry *CacheEntry) error

	// Delete removes one board's entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, boardID string) error

	// ListBoardIDs enumerates the board ids with cached templates.
	ListBoardIDs(ctx context.Context) ([]string, error)

	// Clear removes every cached template.
	Clear(ctx context.Context) error
}

// SQLiteCache is the SQLite-backed CacheRepository. Alongside the template
// rows it maintains a side index of board ids so enumeration and bulk
// clearing never deserialise template blobs.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache creates a cache repository using the given database.
func NewSQLiteCache(db *sql.DB) *SQLiteCache {
	return &SQLiteCache{db: db}
}

// Compile-time interface check.
var _ CacheRepository = (*SQLiteCache)(nil)

// Get retrieves a cached template by board id.
func (c *SQLiteCache) Get(ctx context.Context, boardID string) (*CacheEntry, error) {
	var (
		templateJSON string
		generatedAt  string
		version      int
	)

	err := c.db.QueryRowContext(ctx,
		"SELECT template, generated_at, version FROM template_cache WHERE board_id = ?",
		boardID,
	).Scan(&templateJSON, &generatedAt, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, boardID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying template cache: %w", err)
	}

	var tpl Template
	if err := json.Unmarshal([]byte(templateJSON), &tpl); err != nil {
		return nil, fmt.Errorf("unmarshalling cached template %s: %w", boardID, err)
	}

	ts, err := time.Parse(time.RFC3339, generatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing cached timestamp for %s: %w", boardID, err)
	}

	return &CacheEntry{
		BoardID:     boardID,
		Template:    &tpl,
		GeneratedAt: ts,
		Version:     version,
	}, nil
}

// Put stores or replaces a cache entry, keeping the side index in step.
func (c *SQLiteCache) Put(ctx context.Context, entry *CacheEntry) error {
	if entry == nil || entry.Template == nil {
		return fmt.Errorf("cache entry must carry a template")
	}
	if entry.BoardID == "" {
		entry.BoardID = entry.Template.BoardID
	}

	templateJSON, err := json.Marshal(entry.Template)
	if err != nil {
		return fmt.Errorf("marshalling template %s: %w", entry.BoardID, err)
	}

	generatedAt := entry.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}
	version := entry.Version
	if version == 0 {
		version = 1
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting cache transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO template_cache (board_id, template, generated_at, version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(board_id) DO UPDATE SET
			template = excluded.template,
			generated_at = excluded.generated_at,
			version = excluded.version`,
		entry.BoardID, string(templateJSON), generatedAt.Format(time.RFC3339), version,
	)
	if err != nil {
		return fmt.Errorf("storing template %s: %w", entry.BoardID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO template_cache_index (board_id, cached_at)
		VALUES (?, ?)
		ON CONFLICT(board_id) DO UPDATE SET cached_at = excluded.cached_at`,
		entry.BoardID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("updating cache index for %s: %w", entry.BoardID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache entry %s: %w", entry.BoardID, err)
	}
	return nil
}

// Delete removes one board's cached template and its index row.
func (c *SQLiteCache) Delete(ctx context.Context, boardID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting cache transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM template_cache WHERE board_id = ?", boardID); err != nil {
		return fmt.Errorf("deleting cached template %s: %w", boardID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM template_cache_index WHERE board_id = ?", boardID); err != nil {
		return fmt.Errorf("deleting cache index for %s: %w", boardID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache delete %s: %w", boardID, err)
	}
	return nil
}

// ListBoardIDs enumerates cached board ids from the side index, sorted.
func (c *SQLiteCache) ListBoardIDs(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT board_id FROM template_cache_index ORDER BY board_id")
	if err != nil {
		return nil, fmt.Errorf("listing cached boards: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cleanup

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning cached board id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cached board ids: %w", err)
	}
	return ids, nil
}

// Clear removes every cached template and the whole side index.
func (c *SQLiteCache) Clear(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting cache transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM template_cache"); err != nil {
		return fmt.Errorf("clearing template cache: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM template_cache_index"); err != nil {
		return fmt.Errorf("clearing cache index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache clear: %w", err)
	}
	return nil
}
