// ABOUTME: SQLite implementation of snapshot persistence using modernc.org/sqlite.
// ABOUTME: Saves replace the whole snapshot in one transaction; load restores order.

package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parley-sh/parley/internal/conversation"
)

const saveTimeout = 5 * time.Second

// Store persists conversation snapshots to a SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the snapshot database at the given path, creating the schema and
// parent directories if needed.
func New(path string) (*Store, error) {
	logger := slog.Default().With("component", "snapshot")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps saves from blocking concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("snapshot store initialized", "path", path)
	return s, nil
}

// createSchema creates the snapshot table if it doesn't exist
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			position   INTEGER NOT NULL,
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			title      TEXT NOT NULL,
			messages   TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Save replaces the stored snapshot wholesale in one transaction.
func (s *Store) Save(ctx context.Context, convs []conversation.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations"); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversations (position, id, agent_id, title, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range convs {
		messages, err := json.Marshal(c.Messages)
		if err != nil {
			return fmt.Errorf("serializing messages for %s: %w", c.ID, err)
		}
		_, err = stmt.ExecContext(ctx, i, c.ID, c.AgentID, c.Title, string(messages),
			c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("inserting conversation %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Load restores the stored snapshot in order. Any message found still
// sending or streaming is normalized to done: an in-flight turn cannot be
// resumed across restarts.
func (s *Store) Load(ctx context.Context) ([]conversation.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, title, messages, created_at, updated_at
		FROM conversations
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	defer rows.Close()

	var convs []conversation.Conversation
	for rows.Next() {
		var c conversation.Conversation
		var messages, createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.AgentID, &c.Title, &messages, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if err := json.Unmarshal([]byte(messages), &c.Messages); err != nil {
			return nil, fmt.Errorf("deserializing messages for %s: %w", c.ID, err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", c.ID, err)
		}
		if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for %s: %w", c.ID, err)
		}
		for i := range c.Messages {
			if !c.Messages[i].Status.Terminal() {
				c.Messages[i].Status = conversation.StatusDone
			}
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// Listener adapts the store to the conversation change-listener contract:
// saves run with their own timeout and failures are logged, never returned.
func (s *Store) Listener() func([]conversation.Conversation) {
	return func(convs []conversation.Conversation) {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		if err := s.Save(ctx, convs); err != nil {
			s.logger.Error("failed to persist snapshot",
				"error", err,
				"conversations", len(convs))
		}
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
