package service

import "testing"

// === Valid transitions ===

func TestSlotStateMachine_ValidPaths(t *testing.T) {
	tests := []struct {
		name string
		path []SlotState
	}{
		{
			name: "full protocol",
			path: []SlotState{StateProposing, StateDoneProposal, StateRefining, StateDoneRefinement, StateVoting, StateDoneVote},
		},
		{
			name: "fail during proposal",
			path: []SlotState{StateProposing, StateFailed},
		},
		{
			name: "fail during refinement",
			path: []SlotState{StateProposing, StateDoneProposal, StateRefining, StateFailed},
		},
		{
			name: "fail during vote",
			path: []SlotState{StateProposing, StateDoneProposal, StateRefining, StateDoneRefinement, StateVoting, StateFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewSlotStateMachine("test", testLogger())
			for _, to := range tt.path {
				if err := sm.Transition(to); err != nil {
					t.Fatalf("transition to %s failed: %v", to, err)
				}
			}
			if sm.State() != tt.path[len(tt.path)-1] {
				t.Errorf("final state = %s, want %s", sm.State(), tt.path[len(tt.path)-1])
			}
		})
	}
}

// === Invalid transitions ===

func TestSlotStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []SlotState
		bad  SlotState
	}{
		{"skip proposal", nil, StateRefining},
		{"skip to done", nil, StateDoneProposal},
		{"phase regression", []SlotState{StateProposing, StateDoneProposal, StateRefining, StateDoneRefinement}, StateProposing},
		{"out of failed", []SlotState{StateProposing, StateFailed}, StateRefining},
		{"out of done vote", []SlotState{StateProposing, StateDoneProposal, StateRefining, StateDoneRefinement, StateVoting, StateDoneVote}, StateProposing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewSlotStateMachine("test", testLogger())
			for _, to := range tt.path {
				if err := sm.Transition(to); err != nil {
					t.Fatalf("setup transition to %s failed: %v", to, err)
				}
			}
			if err := sm.Transition(tt.bad); err == nil {
				t.Errorf("transition to %s should have been rejected", tt.bad)
			}
		})
	}
}

// === Cancellation ===

func TestSlotStateMachine_Cancel(t *testing.T) {
	sm := NewSlotStateMachine("test", testLogger())
	sm.Transition(StateProposing)

	if !sm.Cancel() {
		t.Fatal("cancel of a running slot should succeed")
	}
	if sm.State() != StateCanceled {
		t.Errorf("state = %s, want canceled", sm.State())
	}
	if !sm.IsTerminal() {
		t.Error("canceled should be terminal")
	}
}

func TestSlotStateMachine_CancelTerminalNoop(t *testing.T) {
	sm := NewSlotStateMachine("test", testLogger())
	sm.Transition(StateProposing)
	sm.Transition(StateFailed)

	if sm.Cancel() {
		t.Error("cancel of a failed slot should be a no-op")
	}
	if sm.State() != StateFailed {
		t.Errorf("state = %s, want failed preserved", sm.State())
	}
}
