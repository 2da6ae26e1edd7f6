package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/infrastructure/collab"
	"github.com/gliksbot/dexter/internal/infrastructure/llm"
)

// SlotRuntime executes protocol phases for individual slots. It owns
// the prompt assembly, the LLM call, and the event appends; phase
// sequencing stays with the engine.
type SlotRuntime struct {
	llm    *llm.Client
	store  collab.Store
	logger *zap.Logger
}

// NewSlotRuntime creates the runtime shared by all sessions.
func NewSlotRuntime(client *llm.Client, store collab.Store, logger *zap.Logger) *SlotRuntime {
	return &SlotRuntime{
		llm:    client,
		store:  store,
		logger: logger.With(zap.String("component", "slot-runtime")),
	}
}

// runPhase performs one phase for one slot: transition to Running,
// call the LLM, append the outcome event, transition to Done or Failed.
// The returned text is empty on failure.
func (rt *SlotRuntime) runPhase(ctx context.Context, h *SessionHandle, run *slotRun, phase entity.Phase, userPrompt string) (string, error) {
	slot := run.cfg.Name

	if err := run.sm.Transition(runningState[phase]); err != nil {
		return "", err
	}

	// Per-call deadline nested under the phase deadline; the stricter
	// of the two wins.
	callCtx, cancel := context.WithTimeout(ctx, h.cfg.Limits.CallDeadline)
	defer cancel()

	userPrompt = withUserInput(userPrompt, h.drainInputs(slot))

	result, err := rt.llm.Call(callCtx, run.cfg.LLMRequest(run.cfg.Prompt, userPrompt))
	if err != nil {
		class := llm.ClassOf(err)
		if class == llm.ClassCanceled {
			run.sm.Cancel()
			rt.append(h, entity.SlotEvent{
				Slot:    slot,
				Session: h.ID(),
				Phase:   phase,
				Event:   entity.PhaseEvent(phase, "canceled"),
				Meta:    map[string]string{"error_class": string(class)},
			})
			return "", err
		}

		run.sm.Transition(StateFailed)
		rt.append(h, entity.SlotEvent{
			Slot:    slot,
			Session: h.ID(),
			Phase:   phase,
			Event:   entity.PhaseEvent(phase, "error"),
			Text:    err.Error(),
			Meta:    map[string]string{"error_class": string(class)},
		})
		rt.logger.Warn("Slot phase failed",
			zap.String("session", h.ID()),
			zap.String("slot", slot),
			zap.String("phase", string(phase)),
			zap.String("class", string(class)),
			zap.Error(err),
		)
		return "", err
	}

	if err := run.sm.Transition(doneState[phase]); err != nil {
		return "", err
	}
	rt.append(h, entity.SlotEvent{
		Slot:    slot,
		Session: h.ID(),
		Phase:   phase,
		Event:   entity.PhaseEvent(phase, "ok"),
		Text:    result.Text,
		Meta:    result.Meta,
	})
	return result.Text, nil
}

// append writes one event to the store. Append failures are logged,
// never propagated; losing an event must not fail the phase.
func (rt *SlotRuntime) append(h *SessionHandle, event entity.SlotEvent) {
	if event.Ts == 0 {
		event.Ts = time.Now().Unix()
	}
	// Appends stay best-effort under cancellation, so the canceled
	// markers themselves still land in the log.
	if err := rt.store.Append(context.Background(), event); err != nil {
		rt.logger.Error("Event append failed",
			zap.String("session", event.Session),
			zap.String("slot", event.Slot),
			zap.String("event", event.Event),
			zap.Error(err),
		)
	}
}
