package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Store is the Approval Store's interface: read the current policy
// document, mutate an agent's allowlist, and decide a resolved command.
// Grounded on the teacher's internal/agent.ApprovalStore interface, but the
// document is the unit of persistence rather than individual requests.
type Store interface {
	Decide(ctx context.Context, agentID, resolvedCommand string) (Decision, string, error)
	Allow(ctx context.Context, agentID, resolvedCommand string) error
	Snapshot(ctx context.Context) (*Document, error)
	Close() error
}

// MemoryStore is an in-memory Store, useful for tests and for running
// without a persistent policy file.
type MemoryStore struct {
	mu  sync.RWMutex
	doc *Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{doc: NewDocument()}
}

func (s *MemoryStore) Decide(_ context.Context, agentID, resolvedCommand string) (Decision, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, reason := Decide(s.doc.Defaults, s.doc.Agents[agentID], resolvedCommand)
	return d, reason, nil
}

func (s *MemoryStore) Allow(_ context.Context, agentID, resolvedCommand string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.AddToAllowlist(agentID, resolvedCommand)
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDocument(s.doc), nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneDocument(d *Document) *Document {
	clone := &Document{Defaults: d.Defaults, Agents: make(map[string]*AgentPolicy, len(d.Agents))}
	for id, p := range d.Agents {
		allow := make([]string, len(p.Allowlist))
		copy(allow, p.Allowlist)
		clone.Agents[id] = &AgentPolicy{Allowlist: allow}
	}
	return clone
}

// FileStore is a JSON-file-backed Store with fsnotify hot-reload, so an
// operator editing the approvals file on disk (or another process appending
// an allowlist entry) is picked up without a restart.
type FileStore struct {
	path string
	log  *slog.Logger

	mu  sync.RWMutex
	doc *Document

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileStore loads path (creating it with DefaultDefaults if absent) and
// starts watching it for external changes.
func NewFileStore(path string, log *slog.Logger) (*FileStore, error) {
	if log == nil {
		log = slog.Default()
	}
	fs := &FileStore{path: path, log: log, done: make(chan struct{})}

	if err := fs.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		fs.doc = NewDocument()
		if err := fs.persistLocked(); err != nil {
			return nil, fmt.Errorf("initialize approvals file %q: %w", path, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create approvals watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch approvals directory: %w", err)
	}
	fs.watcher = watcher
	go fs.watchLoop()
	return fs, nil
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	doc := NewDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return fmt.Errorf("parse approvals file %q: %w", s.path, err)
	}
	if doc.Defaults.Security == "" {
		doc.Defaults.Security = ModeAskOnMiss
	}
	if doc.Defaults.Ask == "" {
		doc.Defaults.Ask = AskOnMiss
	}
	if doc.Agents == nil {
		doc.Agents = map[string]*AgentPolicy{}
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

func (s *FileStore) persistLocked() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode approvals file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write approvals file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.load(); err != nil {
				s.log.Warn("approval store: reload failed", "error", err)
			} else {
				s.log.Info("approval store: reloaded policy from disk")
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("approval store: watcher error", "error", err)
		}
	}
}

func (s *FileStore) Decide(_ context.Context, agentID, resolvedCommand string) (Decision, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, reason := Decide(s.doc.Defaults, s.doc.Agents[agentID], resolvedCommand)
	return d, reason, nil
}

func (s *FileStore) Allow(_ context.Context, agentID, resolvedCommand string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.AddToAllowlist(agentID, resolvedCommand)
	return s.persistLocked()
}

func (s *FileStore) Snapshot(_ context.Context) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDocument(s.doc), nil
}

func (s *FileStore) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
