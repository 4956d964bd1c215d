// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists command history with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode so history queries don't block the recorder
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS command_history (
			id           TEXT PRIMARY KEY,
			command_id   TEXT NOT NULL,
			node         TEXT NOT NULL,
			command      TEXT NOT NULL,
			exit_code    INTEGER NOT NULL,
			stdout       TEXT NOT NULL,
			stderr       TEXT NOT NULL,
			sent_at      TEXT,
			completed_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_command_history_command_id
			ON command_history(command_id);

		CREATE INDEX IF NOT EXISTS idx_command_history_node_completed
			ON command_history(node, completed_at);

		CREATE INDEX IF NOT EXISTS idx_command_history_completed
			ON command_history(completed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordCommand appends a history row. ID and CompletedAt are filled in when unset.
func (s *SQLiteStore) RecordCommand(ctx context.Context, rec *CommandRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	var sentAt *string
	if !rec.SentAt.IsZero() {
		ts := rec.SentAt.UTC().Format(timeLayout)
		sentAt = &ts
	}

	query := `
		INSERT INTO command_history (id, command_id, node, command, exit_code, stdout, stderr, sent_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.CommandID,
		rec.Node,
		rec.Command,
		rec.ExitCode,
		rec.Stdout,
		rec.Stderr,
		sentAt,
		rec.CompletedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command record: %w", err)
	}

	s.logger.Debug("recorded command",
		"id", rec.ID,
		"command_id", rec.CommandID,
		"node", rec.Node,
		"exit", rec.ExitCode,
	)
	return nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const commandColumns = `id, command_id, node, command, exit_code, stdout, stderr, sent_at, completed_at`

// ListCommands returns history rows newest first.
func (s *SQLiteStore) ListCommands(ctx context.Context, f CommandFilter) ([]*CommandRecord, error) {
	var node *string
	if f.Node != "" {
		node = &f.Node
	}

	query := `
		SELECT ` + commandColumns + `
		FROM command_history
		WHERE (? IS NULL OR node = ?)
		ORDER BY completed_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, node, node, normalizeLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying command history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*CommandRecord{}
	for rows.Next() {
		rec, err := scanCommandRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command history: %w", err)
	}
	return records, nil
}

// GetCommand returns the most recent history row for a correlation id.
func (s *SQLiteStore) GetCommand(ctx context.Context, commandID string) (*CommandRecord, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM command_history
		WHERE command_id = ?
		ORDER BY completed_at DESC, rowid DESC
		LIMIT 1
	`

	rec, err := scanCommandRecord(s.db.QueryRowContext(ctx, query, commandID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// scanCommandRecord scans a row into a CommandRecord.
func scanCommandRecord(scanner interface{ Scan(dest ...any) error }) (*CommandRecord, error) {
	var rec CommandRecord
	var sentAt sql.NullString
	var completedAt string

	if err := scanner.Scan(
		&rec.ID,
		&rec.CommandID,
		&rec.Node,
		&rec.Command,
		&rec.ExitCode,
		&rec.Stdout,
		&rec.Stderr,
		&sentAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning command record: %w", err)
	}

	var err error
	rec.CompletedAt, err = time.Parse(timeLayout, completedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}
	if sentAt.Valid {
		rec.SentAt, err = time.Parse(timeLayout, sentAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing sent_at: %w", err)
		}
	}
	return &rec, nil
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
