package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/infrastructure/config"
)

// SessionStatus is the lifecycle state of one collaboration session.
type SessionStatus string

const (
	SessionRunning SessionStatus = "running"
	SessionDone    SessionStatus = "done"
	SessionFailed  SessionStatus = "failed"
)

// slotRun is one slot's accumulated state within a session.
type slotRun struct {
	cfg      config.SlotConfig
	sm       *SlotStateMachine
	proposal string
	refined  string
	vote     string
	inputs   []string // out-of-band user inputs, folded into the next prompt
}

// SessionHandle is the live state of one request. Created by the
// engine, read by the HTTP surface, garbage-collected by the registry
// once the session is Done or Failed.
type SessionHandle struct {
	id        string
	campaign  string
	message   string
	cfg       *config.Config // snapshot taken at creation; hot reload never touches it
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	status      SessionStatus
	phase       string
	slots       map[string]*slotRun
	tally       map[string]float64
	winner      string
	finalAnswer string
	failure     error
	executed    *entity.HarvestOutcome
}

// NewSessionHandle creates a handle for one user message. The context
// carries the hard session deadline; cancel aborts every in-flight call.
func NewSessionHandle(parent context.Context, cfg *config.Config, message, campaign string, logger *zap.Logger) *SessionHandle {
	ctx, cancel := context.WithTimeout(parent, cfg.Limits.SessionDeadline)

	slots := make(map[string]*slotRun)
	for _, sc := range cfg.EnabledSlots() {
		slots[sc.Name] = &slotRun{
			cfg: sc,
			sm:  NewSlotStateMachine(sc.Name, logger),
		}
	}

	return &SessionHandle{
		id:        uuid.New().String(),
		campaign:  campaign,
		message:   message,
		cfg:       cfg,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		status:    SessionRunning,
		phase:     "proposal",
		slots:     slots,
	}
}

// ID returns the session id.
func (h *SessionHandle) ID() string { return h.id }

// Campaign returns the owning campaign id, or empty.
func (h *SessionHandle) Campaign() string { return h.campaign }

// Context returns the session-scoped context.
func (h *SessionHandle) Context() context.Context { return h.ctx }

// Config returns the config snapshot the session started with.
func (h *SessionHandle) Config() *config.Config { return h.cfg }

// Cancel aborts the session and every in-flight slot call.
func (h *SessionHandle) Cancel() {
	h.cancel()
}

// Status returns the current lifecycle state.
func (h *SessionHandle) Status() SessionStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// FinalAnswer returns the composed answer once the session is Done.
func (h *SessionHandle) FinalAnswer() (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.finalAnswer, h.failure
}

// AddInput queues an out-of-band user message for a slot. It augments
// the slot's next prompt only; it never counts as a vote.
func (h *SessionHandle) AddInput(slot, text string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	run, ok := h.slots[slot]
	if !ok {
		return false
	}
	run.inputs = append(run.inputs, text)
	return true
}

// drainInputs removes and returns pending user inputs for a slot.
func (h *SessionHandle) drainInputs(slot string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	run, ok := h.slots[slot]
	if !ok || len(run.inputs) == 0 {
		return nil
	}
	inputs := run.inputs
	run.inputs = nil
	return inputs
}

func (h *SessionHandle) setPhase(phase string) {
	h.mu.Lock()
	h.phase = phase
	h.mu.Unlock()
}

func (h *SessionHandle) setProposal(slot, text string) {
	h.mu.Lock()
	if run, ok := h.slots[slot]; ok {
		run.proposal = text
	}
	h.mu.Unlock()
}

func (h *SessionHandle) setRefined(slot, text string) {
	h.mu.Lock()
	if run, ok := h.slots[slot]; ok {
		run.refined = text
	}
	h.mu.Unlock()
}

func (h *SessionHandle) setVote(slot, choice string) {
	h.mu.Lock()
	if run, ok := h.slots[slot]; ok {
		run.vote = choice
	}
	h.mu.Unlock()
}

func (h *SessionHandle) setExecuted(outcome *entity.HarvestOutcome) {
	h.mu.Lock()
	h.executed = outcome
	h.mu.Unlock()
}

// Executed reports the skill-harvest outcome for this session, nil
// when no harvest was attempted or the answer carried no candidate.
func (h *SessionHandle) Executed() *entity.HarvestOutcome {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.executed
}

func (h *SessionHandle) finish(answer string, tally map[string]float64, winner string) {
	h.mu.Lock()
	h.status = SessionDone
	h.phase = "done"
	h.finalAnswer = answer
	h.tally = tally
	h.winner = winner
	h.mu.Unlock()
	h.cancel()
}

func (h *SessionHandle) fail(err error) {
	h.mu.Lock()
	h.status = SessionFailed
	h.phase = "failed"
	h.failure = err
	h.mu.Unlock()
	h.cancel()
}

// SlotSnapshot is one slot's progress as exposed by the status surface.
type SlotSnapshot struct {
	Slot    string `json:"slot"`
	State   string `json:"state"`
	HasText bool   `json:"has_text"`
	Vote    string `json:"vote,omitempty"`
}

// Snapshot is a point-in-time view of the session for the status surface.
type Snapshot struct {
	ID          string             `json:"id"`
	Campaign    string             `json:"campaign,omitempty"`
	Status      SessionStatus      `json:"status"`
	Phase       string             `json:"phase"`
	StartedAt   time.Time          `json:"started_at"`
	Slots       []SlotSnapshot     `json:"slots"`
	Tally       map[string]float64 `json:"tally,omitempty"`
	Winner      string             `json:"winner,omitempty"`
	FinalAnswer string             `json:"final_answer,omitempty"`
}

// Snapshot captures the session state without blocking the engine.
func (h *SessionHandle) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	slots := make([]SlotSnapshot, 0, len(h.slots))
	for name, run := range h.slots {
		slots = append(slots, SlotSnapshot{
			Slot:    name,
			State:   string(run.sm.State()),
			HasText: run.proposal != "" || run.refined != "",
			Vote:    run.vote,
		})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Slot < slots[j].Slot })

	var tally map[string]float64
	if h.tally != nil {
		tally = make(map[string]float64, len(h.tally))
		for k, v := range h.tally {
			tally[k] = v
		}
	}

	return Snapshot{
		ID:          h.id,
		Campaign:    h.campaign,
		Status:      h.status,
		Phase:       h.phase,
		StartedAt:   h.startedAt,
		Slots:       slots,
		Tally:       tally,
		Winner:      h.winner,
		FinalAnswer: h.finalAnswer,
	}
}
