package service

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/pkg/errors"
)

// Registry maps session ids to live handles and enforces the cap on
// concurrent sessions. Completed handles stay visible until removed so
// a status query right after completion still resolves.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*SessionHandle
	maxLive  int
	logger   *zap.Logger
}

// NewRegistry creates a registry allowing at most maxLive concurrent
// running sessions.
func NewRegistry(maxLive int, logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*SessionHandle),
		maxLive:  maxLive,
		logger:   logger.With(zap.String("component", "session-registry")),
	}
}

// Add registers a new handle. Returns a busy error when the cap on
// running sessions is reached; finished handles do not count.
func (r *Registry) Add(h *SessionHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := 0
	for _, s := range r.sessions {
		if s.Status() == SessionRunning {
			live++
		}
	}
	if live >= r.maxLive {
		return errors.NewBusyError("session limit reached")
	}

	r.sessions[h.ID()] = h
	r.logger.Info("Session registered",
		zap.String("session", h.ID()),
		zap.Int("live", live+1),
	)
	return nil
}

// Get returns the handle for a session id.
func (r *Registry) Get(id string) (*SessionHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[id]
	return h, ok
}

// Cancel aborts a running session.
func (r *Registry) Cancel(id string) error {
	r.mu.RLock()
	h, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return errors.NewNotFoundError("session " + id + " not found")
	}
	h.Cancel()
	return nil
}

// List returns session snapshots, newest first. With activeOnly set,
// finished sessions are filtered out.
func (r *Registry) List(activeOnly bool) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.sessions))
	for _, h := range r.sessions {
		snap := h.Snapshot()
		if activeOnly && snap.Status != SessionRunning {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Remove garbage-collects a finished handle. Running sessions are
// never removed; cancel them first.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[id]
	if !ok || h.Status() == SessionRunning {
		return
	}
	delete(r.sessions, id)
}

// CancelAll aborts every running session; used during teardown.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	handles := make([]*SessionHandle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		h.Cancel()
	}
}
