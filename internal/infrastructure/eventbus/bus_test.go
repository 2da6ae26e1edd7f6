package eventbus

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
)

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

func event(slot, tag string) entity.SlotEvent {
	return entity.SlotEvent{
		Ts:      time.Now().Unix(),
		Slot:    slot,
		Session: "s1",
		Phase:   entity.PhaseProposal,
		Event:   tag,
	}
}

// === Publish / Subscribe ===

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := New(8, 4, testLogger(t))
	defer bus.Close()

	ch1, cancel1, err := bus.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel1()
	ch2, cancel2, err := bus.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel2()

	bus.Publish(event("dexter", entity.EventProposalOK))

	for i, ch := range []<-chan entity.SlotEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Event != entity.EventProposalOK {
				t.Errorf("subscriber %d: got event %q", i, ev.Event)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event delivered", i)
		}
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	bus := New(16, 4, testLogger(t))
	defer bus.Close()

	ch, cancel, err := bus.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	for i := 0; i < 10; i++ {
		bus.Publish(event("dexter", fmt.Sprintf("tag-%d", i)))
	}
	for i := 0; i < 10; i++ {
		ev := <-ch
		if want := fmt.Sprintf("tag-%d", i); ev.Event != want {
			t.Fatalf("event %d: got %q, want %q", i, ev.Event, want)
		}
	}
}

// === Slow consumers ===

func TestSlowSubscriberDropsOldest(t *testing.T) {
	bus := New(2, 4, testLogger(t))
	defer bus.Close()

	ch, cancel, err := bus.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// Queue size 2, publish 5 without reading: the 3 oldest are shed.
	for i := 0; i < 5; i++ {
		bus.Publish(event("dexter", fmt.Sprintf("tag-%d", i)))
	}

	got := []string{(<-ch).Event, (<-ch).Event}
	want := []string{"tag-3", "tag-4"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %q, want %q", i, got[i], want[i])
		}
	}

	select {
	case ev := <-ch:
		t.Errorf("unexpected extra event %q", ev.Event)
	default:
	}
}

// === Limits and lifecycle ===

func TestSubscriberLimit(t *testing.T) {
	bus := New(4, 2, testLogger(t))
	defer bus.Close()

	_, cancel1, err := bus.Subscribe()
	if err != nil {
		t.Fatalf("subscribe 1: %v", err)
	}
	defer cancel1()
	_, cancel2, err := bus.Subscribe()
	if err != nil {
		t.Fatalf("subscribe 2: %v", err)
	}

	if _, _, err := bus.Subscribe(); !errors.Is(err, ErrTooManySubscribers) {
		t.Fatalf("got %v, want ErrTooManySubscribers", err)
	}

	// Canceling frees a seat.
	cancel2()
	if _, cancel3, err := bus.Subscribe(); err != nil {
		t.Fatalf("subscribe after cancel: %v", err)
	} else {
		cancel3()
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := New(4, 4, testLogger(t))
	defer bus.Close()

	ch, cancel, err := bus.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}

	// Publishing after cancel must not panic.
	bus.Publish(event("dexter", entity.EventProposalOK))
}

func TestCloseDetachesEverything(t *testing.T) {
	bus := New(4, 4, testLogger(t))

	ch, cancel, err := bus.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	bus.Close()

	if _, open := <-ch; open {
		t.Error("channel still open after bus close")
	}
	if _, _, err := bus.Subscribe(); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("got %v, want ErrBusClosed", err)
	}
	// Idempotent.
	bus.Close()
}
