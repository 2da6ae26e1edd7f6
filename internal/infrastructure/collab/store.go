package collab

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
)

// Publisher is the slice of the event bus the store needs: every
// successful append is mirrored to it.
type Publisher interface {
	Publish(event entity.SlotEvent)
}

// Store is the shared collaboration log: one append-only event log per
// (slot, session) pair. Events are never mutated or deleted; per-slot
// append order is observation order for every reader.
type Store interface {
	// Append atomically adds the event to its (slot, session) log and
	// publishes it to the event bus. The event's Ts is clamped so the
	// per-log sequence stays nondecreasing.
	Append(ctx context.Context, event entity.SlotEvent) error

	// Head returns the last n events for the slot across sessions,
	// newest first. Fewer may be returned if fewer exist.
	Head(slot string, n int) []entity.SlotEvent

	// TailSince returns the slot's events strictly after ts, oldest first.
	TailSince(slot string, ts int64) []entity.SlotEvent

	// SessionSnapshot returns, per slot, the events belonging to the session.
	SessionSnapshot(session string) map[string][]entity.SlotEvent

	// Close flushes and releases any persistence resources.
	Close() error
}

// slotLog holds one slot's events across sessions. A single mutex per
// slot is enough: only that slot's runtime writes its own log.
type slotLog struct {
	mu     sync.RWMutex
	events []entity.SlotEvent
	lastTs int64
	// per-session event counts, for the in-memory retention cap
	perSession map[string]int
}

// MemoryStore is the in-memory Store. Correctness never depends on
// persistence; the JSONL store wraps this one when a directory is set.
type MemoryStore struct {
	mu         sync.RWMutex
	logs       map[string]*slotLog
	bus        Publisher
	maxPerSess int
	logger     *zap.Logger
}

// DefaultMaxEventsPerSession caps each (slot, session) log when running
// in-memory only. Older events are shed with a log.truncated marker.
const DefaultMaxEventsPerSession = 1024

// NewMemoryStore creates an in-memory collaboration store mirroring
// appends to bus. maxPerSession falls back to the default when
// non-positive.
func NewMemoryStore(bus Publisher, maxPerSession int, logger *zap.Logger) *MemoryStore {
	if maxPerSession <= 0 {
		maxPerSession = DefaultMaxEventsPerSession
	}
	return &MemoryStore{
		logs:       make(map[string]*slotLog),
		bus:        bus,
		maxPerSess: maxPerSession,
		logger:     logger.With(zap.String("component", "collab-store")),
	}
}

func (s *MemoryStore) slot(name string) *slotLog {
	s.mu.RLock()
	l, ok := s.logs[name]
	s.mu.RUnlock()
	if ok {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.logs[name]; ok {
		return l
	}
	l = &slotLog{perSession: make(map[string]int)}
	s.logs[name] = l
	return l
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, event entity.SlotEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.slot(event.Slot)
	l.mu.Lock()
	if event.Ts < l.lastTs {
		// Clock went backwards between appends; clamp to keep the
		// per-log ts sequence monotonic.
		event.Ts = l.lastTs
	}
	l.lastTs = event.Ts
	l.events = append(l.events, event)
	l.perSession[event.Session]++

	var truncated *entity.SlotEvent
	if l.perSession[event.Session] > s.maxPerSess {
		truncated = l.dropOldestLocked(event.Session, event.Ts)
	}
	l.mu.Unlock()

	s.bus.Publish(event)
	if truncated != nil {
		s.bus.Publish(*truncated)
	}
	return nil
}

// dropOldestLocked removes the oldest event of the session and replaces
// it with a truncation marker so readers can tell the log is partial.
func (l *slotLog) dropOldestLocked(session string, ts int64) *entity.SlotEvent {
	for i, e := range l.events {
		if e.Session != session {
			continue
		}
		if e.Event == entity.EventLogTruncated {
			// Already marked; just drop the next-oldest real event.
			for j := i + 1; j < len(l.events); j++ {
				if l.events[j].Session == session {
					l.events = append(l.events[:j], l.events[j+1:]...)
					l.perSession[session]--
					return nil
				}
			}
			return nil
		}
		marker := entity.SlotEvent{
			Ts:      e.Ts,
			Slot:    e.Slot,
			Session: session,
			Phase:   entity.PhaseMeta,
			Event:   entity.EventLogTruncated,
			Meta:    map[string]string{"reason": "retention_cap"},
		}
		l.events[i] = marker
		return &marker
	}
	return nil
}

// Head implements Store.
func (s *MemoryStore) Head(slot string, n int) []entity.SlotEvent {
	if n < 1 {
		n = 1
	}
	l := s.slot(slot)
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := len(l.events)
	if n > total {
		n = total
	}
	out := make([]entity.SlotEvent, 0, n)
	for i := total - 1; i >= total-n; i-- {
		out = append(out, l.events[i])
	}
	return out
}

// TailSince implements Store.
func (s *MemoryStore) TailSince(slot string, ts int64) []entity.SlotEvent {
	l := s.slot(slot)
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []entity.SlotEvent
	for _, e := range l.events {
		if e.Ts > ts {
			out = append(out, e)
		}
	}
	return out
}

// SessionSnapshot implements Store.
func (s *MemoryStore) SessionSnapshot(session string) map[string][]entity.SlotEvent {
	s.mu.RLock()
	names := make([]string, 0, len(s.logs))
	for name := range s.logs {
		names = append(names, name)
	}
	s.mu.RUnlock()

	out := make(map[string][]entity.SlotEvent)
	for _, name := range names {
		l := s.slot(name)
		l.mu.RLock()
		for _, e := range l.events {
			if e.Session == session {
				out[name] = append(out[name], e)
			}
		}
		l.mu.RUnlock()
	}
	return out
}

// Close implements Store. The in-memory store has nothing to flush.
func (s *MemoryStore) Close() error {
	return nil
}
