package service

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/infrastructure/collab"
	"github.com/gliksbot/dexter/internal/infrastructure/config"
	"github.com/gliksbot/dexter/internal/infrastructure/eventbus"
	"github.com/gliksbot/dexter/internal/infrastructure/llm"
	"github.com/gliksbot/dexter/pkg/errors"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// fakeBackend scripts per-slot, per-phase replies so engine runs are
// deterministic without a network.
type fakeBackend struct {
	mu      sync.Mutex
	replies map[string]map[string]string // slot → phase kind → reply
	errs    map[string]error             // slot → forced error (all phases)
	delay   time.Duration
}

func (f *fakeBackend) Complete(ctx context.Context, req llm.Request, _ string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[req.Slot]; ok {
		return "", err
	}
	kind := "proposal"
	switch {
	case strings.HasPrefix(req.UserPrompt, "Your previous proposal was:"):
		kind = "refinement"
	case strings.HasPrefix(req.UserPrompt, "Each team member's refined answer follows:"):
		kind = "vote"
	}
	return f.replies[req.Slot][kind], nil
}

// harness bundles the engine wiring for one test.
type harness struct {
	engine   *Engine
	store    *collab.MemoryStore
	bus      *eventbus.Bus
	registry *Registry
	cfg      *config.Config
}

func newHarness(t *testing.T, fake *fakeBackend, slots ...string) *harness {
	t.Helper()
	logger := testLogger()

	llm.RegisterBackend(llm.ProviderOpenAI, func(_ *http.Client, _ *zap.Logger) llm.Backend {
		return fake
	})
	client := llm.NewClient(logger, llm.WithRetry(0, time.Millisecond))

	bus := eventbus.New(64, 8, logger)
	store := collab.NewMemoryStore(bus, 1024, logger)
	registry := NewRegistry(4, logger)
	runtime := NewSlotRuntime(client, store, logger)
	engine := NewEngine(runtime, store, registry, nil, logger)

	cfg := &config.Config{
		Slots:   map[string]config.SlotConfig{},
		Weights: map[string]float64{},
		Limits: config.LimitsConfig{
			PhaseDeadline:   5 * time.Second,
			CallDeadline:    5 * time.Second,
			SessionDeadline: 20 * time.Second,
			MaxSessions:     4,
		},
	}
	for _, name := range slots {
		t.Setenv("TEST_"+strings.ToUpper(name)+"_KEY", "sk-test")
		cfg.Slots[name] = config.SlotConfig{
			Name:                 name,
			Enabled:              true,
			Provider:             llm.ProviderOpenAI,
			Endpoint:             "http://fake.invalid",
			Model:                "fake",
			APIKeyEnv:            "TEST_" + strings.ToUpper(name) + "_KEY",
			Role:                 name + " specialist",
			CollaborationEnabled: true,
		}
	}

	t.Cleanup(bus.Close)
	return &harness{engine: engine, store: store, bus: bus, registry: registry, cfg: cfg}
}

func scriptedReplies(slots ...string) map[string]map[string]string {
	replies := make(map[string]map[string]string)
	for _, name := range slots {
		replies[name] = map[string]string{
			"proposal":   name + " proposal",
			"refinement": name + " refined",
			"vote":       "analyst",
		}
	}
	return replies
}

func countEvents(events []entity.SlotEvent, tag string) int {
	n := 0
	for _, ev := range events {
		if ev.Event == tag {
			n++
		}
	}
	return n
}

// === Happy path ===

func TestRunSessionHappyPath(t *testing.T) {
	fake := &fakeBackend{replies: scriptedReplies("dexter", "analyst", "engineer")}
	h := newHarness(t, fake, "dexter", "analyst", "engineer")
	h.cfg.Weights = map[string]float64{"dexter": 1.0, "analyst": 0.7, "engineer": 0.7}

	handle, err := h.engine.RunSession(context.Background(), h.cfg, "Summarize the CAP theorem in one sentence.", "")
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}

	if handle.Status() != SessionDone {
		t.Fatalf("status = %s, want done", handle.Status())
	}
	answer, err := handle.FinalAnswer()
	if err != nil {
		t.Fatalf("FinalAnswer: %v", err)
	}
	if answer != "dexter refined" {
		t.Errorf("answer = %q, want dexter's refinement", answer)
	}

	var all []entity.SlotEvent
	for _, slot := range []string{"dexter", "analyst", "engineer"} {
		all = append(all, h.store.Head(slot, 100)...)
	}
	if got := countEvents(all, entity.EventProposalOK); got != 3 {
		t.Errorf("proposal.ok count = %d, want 3", got)
	}
	if got := countEvents(all, entity.EventRefinementOK); got != 3 {
		t.Errorf("refinement.ok count = %d, want 3", got)
	}
	if got := countEvents(all, entity.EventVoteOK); got != 3 {
		t.Errorf("vote.ok count = %d, want 3", got)
	}

	meta := h.store.Head(entity.SessionSlot, 100)
	if countEvents(meta, entity.EventSessionStart) != 1 {
		t.Error("missing session.start")
	}
	if countEvents(meta, entity.EventSessionDone) != 1 {
		t.Error("missing session.done")
	}
	if countEvents(meta, entity.EventVoteTally) != 1 {
		t.Error("missing vote.tally")
	}
	for _, ev := range all {
		if ev.Session != handle.ID() {
			t.Errorf("event session %q does not match handle %q", ev.Session, handle.ID())
		}
	}
}

// === Failure scenarios ===

func TestRunSessionPeersFailConfig(t *testing.T) {
	fake := &fakeBackend{replies: scriptedReplies("dexter", "analyst", "engineer")}
	h := newHarness(t, fake, "dexter", "analyst", "engineer")

	// Peers lose their keys; only dexter can call out.
	t.Setenv("TEST_ANALYST_KEY", "")
	t.Setenv("TEST_ENGINEER_KEY", "")

	handle, err := h.engine.RunSession(context.Background(), h.cfg, "anything", "")
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if handle.Status() != SessionDone {
		t.Fatalf("status = %s, want done", handle.Status())
	}
	answer, _ := handle.FinalAnswer()
	if answer != "dexter refined" {
		t.Errorf("answer = %q, want dexter's refinement", answer)
	}

	for _, slot := range []string{"analyst", "engineer"} {
		events := h.store.Head(slot, 10)
		if countEvents(events, entity.EventProposalError) != 1 {
			t.Errorf("%s should have one proposal.error", slot)
		}
		for _, ev := range events {
			if ev.Event == entity.EventProposalError && ev.Meta["error_class"] != "config" {
				t.Errorf("%s error class = %q, want config", slot, ev.Meta["error_class"])
			}
		}
	}
}

func TestRunSessionDexterDisabled(t *testing.T) {
	fake := &fakeBackend{replies: scriptedReplies("analyst")}
	h := newHarness(t, fake, "analyst")

	_, err := h.engine.RunSession(context.Background(), h.cfg, "anything", "")
	if err == nil {
		t.Fatal("expected config error without dexter")
	}
	if errors.CodeOf(err) != errors.CodeConfig {
		t.Errorf("code = %v, want config", errors.CodeOf(err))
	}
}

func TestRunSessionNoUsableAnswer(t *testing.T) {
	fake := &fakeBackend{
		replies: scriptedReplies("dexter"),
		errs:    map[string]error{"dexter": &llm.CallError{Class: llm.ClassProvider5xx, Status: 500, Reason: "down"}},
	}
	h := newHarness(t, fake, "dexter")

	handle, err := h.engine.RunSession(context.Background(), h.cfg, "anything", "")
	if err != nil {
		t.Fatalf("RunSession returned transport error: %v", err)
	}
	if handle.Status() != SessionFailed {
		t.Fatalf("status = %s, want failed", handle.Status())
	}
	if _, err := handle.FinalAnswer(); err == nil {
		t.Error("expected failure error from FinalAnswer")
	}
}

func TestRunSessionCanceledMidFlight(t *testing.T) {
	fake := &fakeBackend{
		replies: scriptedReplies("dexter", "analyst"),
		delay:   5 * time.Second,
	}
	h := newHarness(t, fake, "dexter", "analyst")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	handle, err := h.engine.RunSession(ctx, h.cfg, "anything", "")
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation took %v, want under a second or two", elapsed)
	}
	if handle.Status() != SessionFailed {
		t.Errorf("status = %s, want failed", handle.Status())
	}

	events := h.store.Head("dexter", 10)
	if countEvents(events, entity.EventProposalCanceled) != 1 {
		t.Errorf("dexter events = %v, want one proposal.canceled", events)
	}
}

// === Event bus integration ===

func TestRunSessionEventsReachSubscribers(t *testing.T) {
	fake := &fakeBackend{replies: scriptedReplies("dexter")}
	h := newHarness(t, fake, "dexter")

	ch, cancel, err := h.bus.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if _, err := h.engine.RunSession(context.Background(), h.cfg, "anything", ""); err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	seen := map[string]bool{}
	for !seen[entity.EventSessionDone] {
		select {
		case ev := <-ch:
			seen[ev.Event] = true
		case <-deadline:
			t.Fatalf("session.done never reached the bus; saw %v", seen)
		}
	}
	if !seen[entity.EventProposalOK] {
		t.Error("proposal.ok never reached the bus")
	}
}

// === Skill harvest ===

type fakeForge struct {
	mu       sync.Mutex
	sessions []string
	outcome  *entity.HarvestOutcome
}

func (f *fakeForge) HarvestAnswer(_ context.Context, session, _ string) *entity.HarvestOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, session)
	return f.outcome
}

func TestRunSessionHarvestsSkillIntent(t *testing.T) {
	fake := &fakeBackend{replies: scriptedReplies("dexter")}
	h := newHarness(t, fake, "dexter")
	forge := &fakeForge{outcome: &entity.HarvestOutcome{OK: true, SkillName: "echo", Promoted: true}}
	h.engine.skills = forge

	handle, err := h.engine.RunSession(context.Background(), h.cfg, "Please build a skill that echoes its input.", "")
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if got := handle.Executed(); got == nil || !got.Promoted || got.SkillName != "echo" {
		t.Errorf("executed = %+v, want the forge outcome", got)
	}
	if len(forge.sessions) != 1 || forge.sessions[0] != handle.ID() {
		t.Errorf("forge saw sessions %v, want the handle id once", forge.sessions)
	}
}

func TestRunSessionPlainMessageSkipsHarvest(t *testing.T) {
	fake := &fakeBackend{replies: scriptedReplies("dexter")}
	h := newHarness(t, fake, "dexter")
	forge := &fakeForge{}
	h.engine.skills = forge

	handle, err := h.engine.RunSession(context.Background(), h.cfg, "Summarize the CAP theorem.", "")
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if handle.Executed() != nil {
		t.Errorf("executed = %+v, want nil", handle.Executed())
	}
	if len(forge.sessions) != 0 {
		t.Errorf("forge should not run, saw %v", forge.sessions)
	}
}

// === Handle garbage collection ===

func TestRunSessionHandleGarbageCollected(t *testing.T) {
	fake := &fakeBackend{replies: scriptedReplies("dexter")}
	h := newHarness(t, fake, "dexter")
	h.engine.retention = 10 * time.Millisecond

	handle, err := h.engine.RunSession(context.Background(), h.cfg, "anything", "")
	if err != nil {
		t.Fatalf("RunSession failed: %v", err)
	}
	if _, ok := h.registry.Get(handle.ID()); !ok {
		t.Fatal("handle should stay registered right after completion")
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := h.registry.Get(handle.ID()); !ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("finished handle never left the registry")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
