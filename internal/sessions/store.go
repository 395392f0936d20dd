// Package sessions implements the Session Store: an in-memory mapping from
// SessionKey to a bounded, ordered transcript, grounded on the teacher's
// internal/sessions in-memory store and generalized to the gateway's
// simpler {role, content, at} transcript shape.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/agentgate/pkg/models"
)

// MaxMessages is the cap on messages retained per SessionKey.
const MaxMessages = 100

// DropBatch is how many of the oldest messages are dropped at once when the
// cap is hit, so trimming happens in one batch rather than per append.
const DropBatch = 50

// Store is the Session Store contract. All operations are individually
// atomic; History returns a snapshot slice the caller owns outright.
type Store interface {
	Append(ctx context.Context, key string, role models.Role, content string) error
	History(ctx context.Context, key string, limit int) ([]models.SessionMessage, error)
	Replace(ctx context.Context, key string, messages []models.SessionMessage) error
	Clear(ctx context.Context, key string) error
	List(ctx context.Context, limit int) ([]string, error)
}

// MemoryStore is the process-local Session Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

func (s *MemoryStore) getOrCreateLocked(key string) *models.Session {
	sess, ok := s.sessions[key]
	if !ok {
		sess = &models.Session{Key: key}
		s.sessions[key] = sess
	}
	return sess
}

// Append adds a message to the transcript for key, trimming to MaxMessages
// by dropping the oldest DropBatch messages in one batch when the cap is
// first reached — never per-append.
func (s *MemoryStore) Append(ctx context.Context, key string, role models.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(key)
	now := time.Now()
	sess.Messages = append(sess.Messages, models.SessionMessage{Role: role, Content: content, At: now})
	if len(sess.Messages) > MaxMessages {
		drop := DropBatch
		if drop > len(sess.Messages) {
			drop = len(sess.Messages)
		}
		kept := make([]models.SessionMessage, len(sess.Messages)-drop)
		copy(kept, sess.Messages[drop:])
		sess.Messages = kept
	}
	sess.LastActivityAt = now
	return nil
}

// History returns the last `limit` messages, oldest-first. A missing key
// returns an empty slice, never an error.
func (s *MemoryStore) History(ctx context.Context, key string, limit int) ([]models.SessionMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok || len(sess.Messages) == 0 {
		return []models.SessionMessage{}, nil
	}
	msgs := sess.Messages
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.SessionMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Replace atomically overwrites the transcript for key.
func (s *MemoryStore) Replace(ctx context.Context, key string, messages []models.SessionMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(key)
	cloned := make([]models.SessionMessage, len(messages))
	copy(cloned, messages)
	sess.Messages = cloned
	sess.LastActivityAt = time.Now()
	return nil
}

// Clear empties the transcript for key; the key continues to exist.
func (s *MemoryStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(key)
	sess.Messages = nil
	sess.LastActivityAt = time.Now()
	return nil
}

// List returns up to limit known session keys, for diagnostics.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		if limit > 0 && len(keys) >= limit {
			break
		}
		keys = append(keys, k)
	}
	return keys, nil
}
