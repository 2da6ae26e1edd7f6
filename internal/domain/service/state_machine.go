package service

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
)

// SlotState represents the discrete states of one slot within a session.
type SlotState string

const (
	StateIdle           SlotState = "idle"
	StateProposing      SlotState = "proposing"
	StateDoneProposal   SlotState = "done_proposal"
	StateRefining       SlotState = "refining"
	StateDoneRefinement SlotState = "done_refinement"
	StateVoting         SlotState = "voting"
	StateDoneVote       SlotState = "done_vote"
	StateFailed         SlotState = "failed"
	StateCanceled       SlotState = "canceled"
)

// validTransitions defines the allowed state transitions.
// Key = from state, Value = set of allowed target states.
// Cancellation is handled separately: any non-terminal state may cancel.
var validTransitions = map[SlotState]map[SlotState]bool{
	StateIdle: {
		StateProposing: true,
	},
	StateProposing: {
		StateDoneProposal: true,
		StateFailed:       true,
	},
	StateDoneProposal: {
		StateRefining: true,
	},
	StateRefining: {
		StateDoneRefinement: true,
		StateFailed:         true,
	},
	StateDoneRefinement: {
		StateVoting: true,
	},
	StateVoting: {
		StateDoneVote: true,
		StateFailed:   true,
	},
	// Terminal states have no transitions out
	StateDoneVote: {},
	StateFailed:   {},
	StateCanceled: {},
}

// runningState maps a phase to its in-flight state.
var runningState = map[entity.Phase]SlotState{
	entity.PhaseProposal:   StateProposing,
	entity.PhaseRefinement: StateRefining,
	entity.PhaseVote:       StateVoting,
}

// doneState maps a phase to its completed state.
var doneState = map[entity.Phase]SlotState{
	entity.PhaseProposal:   StateDoneProposal,
	entity.PhaseRefinement: StateDoneRefinement,
	entity.PhaseVote:       StateDoneVote,
}

// SlotStateMachine tracks one slot's progress through a session.
// Transitions are driven by the engine; the runtime never self-advances.
// Thread-safe; the engine and HTTP status reads race freely.
type SlotStateMachine struct {
	mu     sync.RWMutex
	slot   string
	state  SlotState
	logger *zap.Logger
}

// NewSlotStateMachine creates a state machine starting in Idle.
func NewSlotStateMachine(slot string, logger *zap.Logger) *SlotStateMachine {
	return &SlotStateMachine{
		slot:   slot,
		state:  StateIdle,
		logger: logger,
	}
}

// State returns the current state.
func (sm *SlotStateMachine) State() SlotState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// IsTerminal reports whether no further transitions are possible.
func (sm *SlotStateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(validTransitions[sm.state]) == 0
}

// Transition moves the slot to the target state, rejecting moves the
// protocol does not allow.
func (sm *SlotStateMachine) Transition(to SlotState) error {
	sm.mu.Lock()
	from := sm.state

	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		sm.mu.Unlock()
		err := fmt.Errorf("invalid state transition: %s → %s", from, to)
		sm.logger.Error("State machine violation",
			zap.String("slot", sm.slot),
			zap.Error(err),
		)
		return err
	}

	sm.state = to
	sm.mu.Unlock()

	sm.logger.Debug("State transition",
		zap.String("slot", sm.slot),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// Cancel moves to Canceled from any non-terminal state. Cancelling a
// terminal state is a no-op; the outcome already stands.
func (sm *SlotStateMachine) Cancel() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if len(validTransitions[sm.state]) == 0 {
		return false
	}
	sm.state = StateCanceled
	return true
}
