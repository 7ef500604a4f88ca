// Package storage keeps a local cache of conversation history so `cassa
// conversations` and `cassa history` work without waiting on (or reaching)
// the backend.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for the conversation cache.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "cassa.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(name string) (int, error) {
	idx := strings.Index(name, "_")
	if idx < 0 {
		return 0, fmt.Errorf("migration filename %q has no version prefix", name)
	}
	version, err := strconv.Atoi(name[:idx])
	if err != nil {
		return 0, fmt.Errorf("migration filename %q has a non-numeric version: %w", name, err)
	}
	return version, nil
}

// UpsertConversation records (or refreshes) a conversation summary.
func (s *Store) UpsertConversation(c ConversationRecord) error {
	if c.LastActive.IsZero() {
		c.LastActive = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO conversations (id, created_at, kb_id, kb_name, model_id, last_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kb_id = excluded.kb_id,
			kb_name = excluded.kb_name,
			model_id = excluded.model_id,
			last_active = excluded.last_active`,
		c.ID, c.CreatedAt.UTC(), c.KBID, c.KBName, c.ModelID, c.LastActive.UTC())
	if err != nil {
		return fmt.Errorf("upserting conversation %s: %w", c.ID, err)
	}
	return nil
}

// ListConversations returns cached conversations, most recently active first.
func (s *Store) ListConversations(limit int) ([]ConversationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, created_at, kb_id, kb_name, model_id, last_active
		FROM conversations ORDER BY last_active DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationRecord
	for rows.Next() {
		var c ConversationRecord
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.KBID, &c.KBName, &c.ModelID, &c.LastActive); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns one cached conversation or ErrNotFound.
func (s *Store) GetConversation(id string) (ConversationRecord, error) {
	var c ConversationRecord
	err := s.db.QueryRow(`SELECT id, created_at, kb_id, kb_name, model_id, last_active
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.CreatedAt, &c.KBID, &c.KBName, &c.ModelID, &c.LastActive)
	if err == sql.ErrNoRows {
		return ConversationRecord{}, ErrNotFound
	}
	if err != nil {
		return ConversationRecord{}, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	return c, nil
}

// SaveMessage caches a confirmed message. Saving the same message id twice is
// a no-op, so replaying a merged history is safe.
func (s *Store) SaveMessage(m MessageRecord) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO messages (id, conversation_id, speaker, text, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Speaker, m.Text, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving message %s: %w", m.ID, err)
	}
	return nil
}

// ListMessages returns a conversation's cached messages in creation order.
func (s *Store) ListMessages(conversationID string) ([]MessageRecord, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, speaker, text, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Speaker, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteConversation removes a cached conversation and its messages.
func (s *Store) DeleteConversation(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting messages for %s: %w", id, err)
	}
	if _, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return tx.Commit()
}
