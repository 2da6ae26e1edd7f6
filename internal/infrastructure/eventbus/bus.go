package eventbus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
)

// Bus fans SlotEvents out to live subscribers. Publish never blocks the
// caller: each subscriber owns a bounded queue and a slow consumer loses
// its oldest undelivered events, not the engine's time.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[uint64]*subscriber
	nextID         uint64
	queueSize      int
	maxSubscribers int
	closed         bool
	logger         *zap.Logger
}

type subscriber struct {
	mu     sync.Mutex // serializes enqueue against close
	ch     chan entity.SlotEvent
	drops  atomic.Uint64
	closed bool
}

const (
	// DefaultQueueSize bounds each subscriber's undelivered backlog.
	DefaultQueueSize = 1024
	// DefaultMaxSubscribers caps concurrent live subscriptions.
	DefaultMaxSubscribers = 64
)

// New creates an event bus. queueSize and maxSubscribers fall back to
// the defaults when non-positive.
func New(queueSize, maxSubscribers int, logger *zap.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if maxSubscribers <= 0 {
		maxSubscribers = DefaultMaxSubscribers
	}
	return &Bus{
		subscribers:    make(map[uint64]*subscriber),
		queueSize:      queueSize,
		maxSubscribers: maxSubscribers,
		logger:         logger.With(zap.String("component", "eventbus")),
	}
}

// Publish enqueues the event to every subscriber. When a subscriber's
// queue is full, the oldest undelivered event is dropped and that
// subscriber's drop counter is incremented. Publish never errors and
// never blocks.
func (b *Bus) Publish(event entity.SlotEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.enqueue(event)
	}
}

func (s *subscriber) enqueue(event entity.SlotEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		// Full: shed the oldest event to make room, then retry.
		select {
		case <-s.ch:
			s.drops.Add(1)
		default:
		}
	}
}

func (s *subscriber) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Subscribe returns a stream of all events published after this call,
// in publish order as observed by this subscriber, plus a cancel
// function that must be called exactly once. Callers filter by slot or
// session on the receiving end.
func (b *Bus) Subscribe() (<-chan entity.SlotEvent, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrBusClosed
	}
	if len(b.subscribers) >= b.maxSubscribers {
		return nil, nil, ErrTooManySubscribers
	}

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan entity.SlotEvent, b.queueSize)}
	b.subscribers[id] = sub

	b.logger.Debug("Subscriber attached", zap.Uint64("id", id))

	cancel := func() {
		b.mu.Lock()
		s, ok := b.subscribers[id]
		if ok {
			delete(b.subscribers, id)
		}
		b.mu.Unlock()
		if !ok {
			return
		}
		s.shutdown()
		if n := s.drops.Load(); n > 0 {
			b.logger.Warn("Subscriber detached with dropped events",
				zap.Uint64("id", id),
				zap.Uint64("drops", n),
			)
		}
	}

	return sub.ch, cancel, nil
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close detaches every subscriber and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subscribers {
		s.shutdown()
		delete(b.subscribers, id)
	}
	b.logger.Info("Event bus closed")
}
