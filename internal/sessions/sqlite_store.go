package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/agentgate/pkg/models"
)

// SQLiteStore is an optional durable Session Store, used by collaborators
// that export/replace transcripts across restarts (chat.export, chat.replace)
// per the gateway's own Non-goal: it does not persist sessions itself, but
// nothing stops a caller from routing through a store that does.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite-backed session store at path.
// Use ":memory:" for an ephemeral store with the same durability contract as
// MemoryStore but exercised through the database/sql path, useful in tests.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite session store: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	key TEXT PRIMARY KEY,
	messages TEXT NOT NULL DEFAULT '[]',
	last_activity_at TIMESTAMP
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite session store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) loadLocked(ctx context.Context, key string) ([]models.SessionMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT messages FROM sessions WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %q: %w", key, err)
	}
	var msgs []models.SessionMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode session %q: %w", key, err)
	}
	return msgs, nil
}

func (s *SQLiteStore) saveLocked(ctx context.Context, key string, msgs []models.SessionMessage) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode session %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sessions (key, messages, last_activity_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET messages = excluded.messages, last_activity_at = excluded.last_activity_at`,
		key, string(raw), time.Now())
	if err != nil {
		return fmt.Errorf("save session %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, key string, role models.Role, content string) error {
	msgs, err := s.loadLocked(ctx, key)
	if err != nil {
		return err
	}
	msgs = append(msgs, models.SessionMessage{Role: role, Content: content, At: time.Now()})
	if len(msgs) > MaxMessages {
		drop := DropBatch
		if drop > len(msgs) {
			drop = len(msgs)
		}
		msgs = msgs[drop:]
	}
	return s.saveLocked(ctx, key, msgs)
}

func (s *SQLiteStore) History(ctx context.Context, key string, limit int) ([]models.SessionMessage, error) {
	msgs, err := s.loadLocked(ctx, key)
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *SQLiteStore) Replace(ctx context.Context, key string, messages []models.SessionMessage) error {
	return s.saveLocked(ctx, key, messages)
}

func (s *SQLiteStore) Clear(ctx context.Context, key string) error {
	return s.saveLocked(ctx, key, nil)
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]string, error) {
	q := `SELECT key FROM sessions`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
