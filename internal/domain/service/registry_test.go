package service

import (
	"context"
	"testing"
	"time"

	"github.com/gliksbot/dexter/internal/infrastructure/config"
	"github.com/gliksbot/dexter/pkg/errors"
)

func testHandle(t *testing.T) *SessionHandle {
	t.Helper()
	cfg := &config.Config{
		Limits: config.LimitsConfig{SessionDeadline: time.Minute},
	}
	h := NewSessionHandle(context.Background(), cfg, "msg", "", testLogger())
	t.Cleanup(h.Cancel)
	return h
}

func TestRegistryCap(t *testing.T) {
	reg := NewRegistry(2, testLogger())

	first := testHandle(t)
	second := testHandle(t)
	if err := reg.Add(first); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	if err := reg.Add(second); err != nil {
		t.Fatalf("second Add failed: %v", err)
	}

	err := reg.Add(testHandle(t))
	if err == nil {
		t.Fatal("third Add should hit the cap")
	}
	if !errors.IsBusy(err) {
		t.Errorf("err = %v, want busy", err)
	}

	// A finished session frees its seat.
	first.finish("answer", nil, "")
	if err := reg.Add(testHandle(t)); err != nil {
		t.Errorf("Add after completion failed: %v", err)
	}
}

func TestRegistryGetCancelList(t *testing.T) {
	reg := NewRegistry(4, testLogger())
	h := testHandle(t)
	if err := reg.Add(h); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, ok := reg.Get(h.ID())
	if !ok || got != h {
		t.Fatal("Get should return the registered handle")
	}
	if _, ok := reg.Get("nope"); ok {
		t.Error("Get of unknown id should miss")
	}

	if err := reg.Cancel(h.ID()); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if h.Context().Err() == nil {
		t.Error("Cancel should abort the session context")
	}
	if err := reg.Cancel("nope"); !errors.IsNotFound(err) {
		t.Errorf("Cancel of unknown id = %v, want not found", err)
	}

	h.fail(context.Canceled)
	if got := len(reg.List(true)); got != 0 {
		t.Errorf("List(activeOnly) = %d entries, want 0", got)
	}
	if got := len(reg.List(false)); got != 1 {
		t.Errorf("List(all) = %d entries, want 1", got)
	}

	reg.Remove(h.ID())
	if _, ok := reg.Get(h.ID()); ok {
		t.Error("Remove should drop the finished handle")
	}
}

func TestRegistryRemoveKeepsRunning(t *testing.T) {
	reg := NewRegistry(4, testLogger())
	h := testHandle(t)
	reg.Add(h)

	reg.Remove(h.ID())
	if _, ok := reg.Get(h.ID()); !ok {
		t.Error("Remove must not drop a running session")
	}
}
