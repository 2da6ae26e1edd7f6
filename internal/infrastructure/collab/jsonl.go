package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
)

// JSONLStore wraps a MemoryStore with append-only JSONL persistence:
// one file per (slot, session) under root, one JSON-serialized SlotEvent
// per line. The write is durable before Append returns success; a crash
// loses at most the events whose append had not yet returned.
type JSONLStore struct {
	*MemoryStore
	root   string
	mu     sync.Mutex
	files  map[string]*os.File
	logger *zap.Logger
}

// NewJSONLStore creates a persistent collaboration store under root.
func NewJSONLStore(root string, bus Publisher, maxPerSession int, logger *zap.Logger) (*JSONLStore, error) {
	if root == "" {
		return nil, fmt.Errorf("persistence root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create collaboration dir: %w", err)
	}
	return &JSONLStore{
		MemoryStore: NewMemoryStore(bus, maxPerSession, logger),
		root:        root,
		files:       make(map[string]*os.File),
		logger:      logger.With(zap.String("component", "collab-jsonl")),
	}, nil
}

// Append persists the event, then delegates to the in-memory store
// (which publishes to the bus).
func (s *JSONLStore) Append(ctx context.Context, event entity.SlotEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.writeLine(event); err != nil {
		return err
	}
	return s.MemoryStore.Append(ctx, event)
}

func (s *JSONLStore) writeLine(event entity.SlotEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileLocked(event.Slot, event.Session)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	// Durable before success.
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync event log: %w", err)
	}
	return nil
}

func (s *JSONLStore) fileLocked(slot, session string) (*os.File, error) {
	key := slot + "/" + session
	if f, ok := s.files[key]; ok {
		return f, nil
	}

	dir := filepath.Join(s.root, sanitize(slot))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create slot dir: %w", err)
	}
	path := filepath.Join(dir, sanitize(session)+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open slot log: %w", err)
	}
	s.files[key] = f
	return f, nil
}

// sanitize keeps slot/session names from escaping the store root.
func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Close flushes and closes every open log file.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for key, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, key)
	}
	s.logger.Info("Collaboration log files closed")
	return firstErr
}
