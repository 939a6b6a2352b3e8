/**
 * Cache metadata index — sidecar sqlite store mapping resource id to its
 * local file, mtime, storage priority, and source mirror.
 *
 * Uses sqlx over go-sqlite3, with the schema embedded via embed.FS and
 * applied in a transaction at open time.
 *
 * Author: fetchkit Team
 */

package cache

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

// StoragePriority controls whether a cached entry is eligible for cleanup.
type StoragePriority int

const (
	// StoragePriorityCached entries may be removed by Cleanup.
	StoragePriorityCached StoragePriority = iota
	// StoragePriorityPermanent entries are never removed by Cleanup.
	StoragePriorityPermanent
)

// IndexEntry is one row of the cache's metadata index.
type IndexEntry struct {
	ModTime         *time.Time `db:"mod_time"`
	ResourceID      string     `db:"resource_id"`
	LocalPath       string     `db:"local_path"`
	SourceMirrorID  string     `db:"source_mirror_id"`
	StoragePriority int        `db:"storage_priority"`
}

// Index is the sqlite-backed metadata store behind the cache.
type Index struct {
	db *sqlx.DB
}

// OpenIndex opens (creating if needed) the sqlite index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}
	db.SetMaxOpenConns(10)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping cache index: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) initSchema(ctx context.Context) error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read cache schema: %w", err)
	}
	tx, err := idx.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to execute cache schema: %w", err)
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (idx *Index) Close() error { return idx.db.Close() }

// Get returns the index entry for a resource ID, or (nil, nil) if absent.
func (idx *Index) Get(ctx context.Context, resourceID string) (*IndexEntry, error) {
	var e IndexEntry
	err := idx.db.GetContext(ctx, &e,
		`SELECT resource_id, local_path, mod_time, storage_priority, source_mirror_id
		 FROM cache_entries WHERE resource_id = ?`, resourceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Upsert records or updates an entry.
func (idx *Index) Upsert(ctx context.Context, e IndexEntry) error {
	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO cache_entries (resource_id, local_path, mod_time, storage_priority, source_mirror_id)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(resource_id) DO UPDATE SET
		   local_path = excluded.local_path,
		   mod_time = excluded.mod_time,
		   storage_priority = excluded.storage_priority,
		   source_mirror_id = excluded.source_mirror_id`,
		e.ResourceID, e.LocalPath, e.ModTime, e.StoragePriority, e.SourceMirrorID)
	return err
}

// Delete removes an entry.
func (idx *Index) Delete(ctx context.Context, resourceID string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE resource_id = ?`, resourceID)
	return err
}

// All returns every index entry, for Cleanup scans.
func (idx *Index) All(ctx context.Context) ([]IndexEntry, error) {
	var entries []IndexEntry
	err := idx.db.SelectContext(ctx, &entries,
		`SELECT resource_id, local_path, mod_time, storage_priority, source_mirror_id FROM cache_entries`)
	return entries, err
}

// PathInUse reports whether any entry already owns the given path.
func (idx *Index) PathInUse(ctx context.Context, path string) (bool, error) {
	var count int
	err := idx.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM cache_entries WHERE local_path = ?`, path)
	return count > 0, err
}
