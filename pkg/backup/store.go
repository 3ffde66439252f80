// Package backup persists point-in-time snapshots of remote record
// sets and restores them through a second reconciliation pass.
package backup

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/zonecraft/zonecraft/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists snapshots in SQLite. Records are stored as one JSON
// blob per snapshot; the snapshot is opaque to the database.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a snapshot store backed by the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Store{path: path}, nil
}

// Init opens the database and enables WAL mode.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies embedded schema migrations.
func (s *Store) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Save persists a snapshot.
func (s *Store) Save(ctx context.Context, snap engine.Snapshot) error {
	blob, err := json.Marshal(snap.Records)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot records: %w", err)
	}

	query := `
		INSERT INTO snapshots (id, domain, description, author, records, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		snap.ID, snap.Domain, snap.Description, snap.Author, blob, snap.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Get retrieves a snapshot by id.
func (s *Store) Get(ctx context.Context, id string) (engine.Snapshot, error) {
	query := `
		SELECT id, domain, description, author, records, created_at
		FROM snapshots
		WHERE id = ?
	`
	var snap engine.Snapshot
	var blob []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&snap.ID, &snap.Domain, &snap.Description, &snap.Author, &blob, &snap.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return engine.Snapshot{}, engine.NewError(engine.ErrCodeNotFound, "snapshot not found: "+id)
	}
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if err := json.Unmarshal(blob, &snap.Records); err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to decode snapshot records: %w", err)
	}
	return snap, nil
}

// List returns a domain's snapshots, newest first, without record
// payloads.
func (s *Store) List(ctx context.Context, domain string) ([]engine.Snapshot, error) {
	query := `
		SELECT id, domain, description, author, created_at
		FROM snapshots
		WHERE domain = ?
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []engine.Snapshot{}
	for rows.Next() {
		var snap engine.Snapshot
		if err := rows.Scan(&snap.ID, &snap.Domain, &snap.Description, &snap.Author, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snaps, nil
}

// Delete removes a snapshot by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewError(engine.ErrCodeNotFound, "snapshot not found: "+id)
	}
	return nil
}

// DeleteOlderThan removes a domain's snapshots created before cutoff
// and returns the number removed.
func (s *Store) DeleteOlderThan(ctx context.Context, domain string, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE domain = ? AND created_at < ?`, domain, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return result.RowsAffected()
}
