/**
 * Checkpoint store — persists acquisition session progress so a restarted
 * process can see how far a run got. Sessions are recorded and listed
 * only; nothing here resumes a session.
 *
 * Sessions track request-level progress (label, total/completed/failed
 * counts) — a coarser granularity than the cache's per-resource index.
 *
 * Author: fetchkit Team
 */

package checkpoint

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

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Session is one resumable acquisition run.
type Session struct {
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
	ID               string    `db:"id"`
	Label            string    `db:"label"`
	Status           Status    `db:"status"`
	TotalResources   int       `db:"total_resources"`
	CompletedCount   int       `db:"completed_count"`
	FailedCount      int       `db:"failed_count"`
	CompletedBytes   int64     `db:"completed_bytes"`
}

// Store is the sqlite-backed checkpoint store.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the checkpoint database at path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	db.SetMaxOpenConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping checkpoint store: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read checkpoint schema: %w", err)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to execute checkpoint schema: %w", err)
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Create records a new session under the caller-supplied ID and fills in its
// timestamps.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	query := `
		INSERT INTO sessions (id, label, status, total_resources, completed_count, failed_count, completed_bytes)
		VALUES (:id, :label, :status, :total_resources, :completed_count, :failed_count, :completed_bytes)
		RETURNING created_at, updated_at`
	stmt, err := s.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	return stmt.QueryRowContext(ctx, sess).Scan(&sess.CreatedAt, &sess.UpdatedAt)
}

// Get retrieves a session by ID.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &sess, nil
}

// Active returns every session not yet in a terminal state, most recent first.
func (s *Store) Active(ctx context.Context) ([]*Session, error) {
	var sessions []*Session
	err := s.db.SelectContext(ctx, &sessions,
		`SELECT * FROM sessions WHERE status IN (?, ?) ORDER BY created_at DESC`,
		StatusActive, StatusPaused)
	return sessions, err
}

// UpdateProgress records updated counters for an in-progress session.
func (s *Store) UpdateProgress(ctx context.Context, id string, completed, failed int, completedBytes int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET completed_count = ?, failed_count = ?, completed_bytes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		completed, failed, completedBytes, id)
	return err
}

// UpdateStatus transitions a session to a new status.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}
