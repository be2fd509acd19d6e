package conversations

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dohr-michael/fintellix/internal/subjects"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	subject    TEXT PRIMARY KEY,
	stock_data TEXT
);
CREATE TABLE IF NOT EXISTS messages (
	subject TEXT NOT NULL,
	seq     INTEGER NOT NULL,
	role    TEXT NOT NULL,
	content TEXT NOT NULL,
	ts      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (subject, seq)
);
`

// SQLiteStore keeps conversations in a SQLite database. Save rewrites every
// row inside one transaction so a crash leaves either the old or new state.
type SQLiteStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open conversations db: %w", err)
	}
	// One connection keeps the pragma and the writer discipline simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure conversations db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init conversations schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file.
func (s *SQLiteStore) Path() string { return s.path }

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads every conversation. Query failures yield an empty map.
func (s *SQLiteStore) Load() map[subjects.Key]*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.load()
	if err != nil {
		slog.Warn("conversations: ignoring stored history",
			"path", s.path, "error", errors.Join(ErrStorageCorruption, err))
		return make(map[subjects.Key]*Conversation)
	}
	return out
}

func (s *SQLiteStore) load() (map[subjects.Key]*Conversation, error) {
	out := make(map[subjects.Key]*Conversation)

	rows, err := s.db.Query("SELECT subject, stock_data FROM conversations ORDER BY subject")
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var data sql.NullString
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		key, err := subjects.Normalize(name)
		if err != nil {
			slog.Warn("conversations: skipping entry", "subject", name, "error", err)
			continue
		}
		c := &Conversation{Messages: []Message{}}
		if data.Valid && data.String != "" {
			if !json.Valid([]byte(data.String)) {
				return nil, fmt.Errorf("stock_data for %s is not json", key)
			}
			c.Data = json.RawMessage(data.String)
		}
		mergeLoaded(out, key, name, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	msgRows, err := s.db.Query("SELECT subject, role, content, ts FROM messages ORDER BY subject, seq")
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var name, role, content, ts string
		if err := msgRows.Scan(&name, &role, &content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		key, err := subjects.Normalize(name)
		if err != nil {
			continue
		}
		c, ok := out[key]
		if !ok {
			continue
		}
		m := Message{Role: Role(role), Content: content}
		if ts != "" {
			parsed, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, fmt.Errorf("message ts for %s: %w", name, err)
			}
			m.Ts = parsed
		}
		c.Messages = append(c.Messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Save replaces all rows with m in a single transaction.
func (s *SQLiteStore) Save(m map[subjects.Key]*Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM messages"); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM conversations"); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}

	convStmt, err := tx.Prepare("INSERT INTO conversations (subject, stock_data) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare conversation insert: %w", err)
	}
	defer convStmt.Close()

	msgStmt, err := tx.Prepare("INSERT INTO messages (subject, seq, role, content, ts) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer msgStmt.Close()

	for key, c := range m {
		if c == nil {
			continue
		}
		var data any
		if d := normalizeData(c.Data); d != nil {
			data = string(d)
		}
		if _, err := convStmt.Exec(string(key), data); err != nil {
			return fmt.Errorf("insert conversation %s: %w", key, err)
		}
		for i, msg := range c.Messages {
			ts := ""
			if !msg.Ts.IsZero() {
				ts = msg.Ts.UTC().Format(time.RFC3339Nano)
			}
			if _, err := msgStmt.Exec(string(key), i, string(msg.Role), msg.Content, ts); err != nil {
				return fmt.Errorf("insert message %s/%d: %w", key, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Clear deletes every stored conversation.
func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"messages", "conversations"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
