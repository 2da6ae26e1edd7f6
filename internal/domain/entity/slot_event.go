package entity

// Phase is the stage of the collaboration protocol a slot is working in.
// Phases only ever move forward within a session.
type Phase string

const (
	PhaseProposal   Phase = "proposal"
	PhaseRefinement Phase = "refinement"
	PhaseVote       Phase = "vote"
	PhaseMeta       Phase = "meta" // orchestrator events on the virtual "session" slot
)

// SessionSlot is the reserved virtual slot name the engine writes
// orchestrator meta-events to. No configured slot may use this name.
const SessionSlot = "session"

// Event tags appended to slot logs. The "<phase>.<outcome>" shape is
// relied on by the frontend to group the live stream.
const (
	EventProposalOK         = "proposal.ok"
	EventProposalError      = "proposal.error"
	EventProposalCanceled   = "proposal.canceled"
	EventRefinementOK       = "refinement.ok"
	EventRefinementError    = "refinement.error"
	EventRefinementCanceled = "refinement.canceled"
	EventVoteOK             = "vote.ok"
	EventVoteError          = "vote.error"
	EventVoteCanceled       = "vote.canceled"
	EventChatOK             = "chat.ok"
	EventChatError          = "chat.error"
	EventUserInput          = "input.user"
	EventSessionStart       = "session.start"
	EventSessionDone        = "session.done"
	EventSessionFailed      = "session.failed"
	EventPhaseStart         = "phase.start"
	EventPhaseDone          = "phase.done"
	EventVoteTally          = "vote.tally"
	EventWeightWarning      = "weights.unknown_slot"
	EventLogTruncated       = "log.truncated"
)

// PhaseEvent builds the "<phase>.<outcome>" tag for a protocol phase.
func PhaseEvent(p Phase, outcome string) string {
	return string(p) + "." + outcome
}

// SlotEvent is one immutable record in a slot's collaboration log.
// Events are append-only; Ts is nondecreasing within one (slot, session) log.
type SlotEvent struct {
	Ts      int64             `json:"ts"`
	Slot    string            `json:"slot"`
	Session string            `json:"session"`
	Phase   Phase             `json:"phase"`
	Event   string            `json:"event"`
	Text    string            `json:"text"`
	Meta    map[string]string `json:"meta,omitempty"`
}
