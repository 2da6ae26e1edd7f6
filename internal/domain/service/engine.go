package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/infrastructure/collab"
	"github.com/gliksbot/dexter/internal/infrastructure/config"
	"github.com/gliksbot/dexter/pkg/errors"
	"github.com/gliksbot/dexter/pkg/safego"
)

// SkillForge turns a winning answer into a validated skill; wired in
// when the skill library is enabled.
type SkillForge interface {
	HarvestAnswer(ctx context.Context, session, answer string) *entity.HarvestOutcome
}

// Finished handles stay registered this long for status queries before
// the registry drops them.
const defaultSessionRetention = 5 * time.Minute

// Engine drives the three-phase collaboration protocol: proposal,
// refinement, weighted vote. One Engine serves all sessions.
type Engine struct {
	runtime   *SlotRuntime
	store     collab.Store
	registry  *Registry
	skills    SkillForge
	retention time.Duration
	logger    *zap.Logger
}

// NewEngine creates the collaboration engine.
func NewEngine(runtime *SlotRuntime, store collab.Store, registry *Registry, skills SkillForge, logger *zap.Logger) *Engine {
	return &Engine{
		runtime:   runtime,
		store:     store,
		registry:  registry,
		skills:    skills,
		retention: defaultSessionRetention,
		logger:    logger.With(zap.String("component", "engine")),
	}
}

// RunSession runs one user message through the full protocol and
// blocks until the session is Done or Failed. The returned handle
// carries the final answer; it stays registered for status queries
// until garbage-collected.
func (e *Engine) RunSession(parent context.Context, cfg *config.Config, message, campaign string) (*SessionHandle, error) {
	h := NewSessionHandle(parent, cfg, message, campaign, e.logger)

	dexter, ok := h.slots[config.DexterSlot]
	if !ok || !dexter.cfg.Enabled {
		h.cancel()
		return nil, errors.NewConfigError("slot dexter is disabled; no session can proceed")
	}

	if err := e.registry.Add(h); err != nil {
		h.cancel()
		return nil, err
	}

	e.run(h)
	e.scheduleGC(h.ID())
	return h, nil
}

// scheduleGC drops a finished handle from the registry after the
// retention window, so a status query right after completion resolves.
func (e *Engine) scheduleGC(id string) {
	safego.Go(e.logger, "session-gc", func() {
		time.Sleep(e.retention)
		e.registry.Remove(id)
	})
}

// run executes the protocol to completion.
func (e *Engine) run(h *SessionHandle) {
	start := time.Now()
	e.meta(h, entity.PhaseMeta, entity.EventSessionStart, h.message, map[string]string{
		"campaign": h.campaign,
	})
	e.warnUnknownWeights(h)

	slots := h.orderedSlots()

	// Phase 1: every enabled slot proposes in parallel.
	peers := make([]config.SlotConfig, len(slots))
	for i, run := range slots {
		peers[i] = run.cfg
	}
	e.runBarrier(h, entity.PhaseProposal, slots, func(run *slotRun) string {
		return proposalPrompt(run.cfg, peers, h.message)
	})
	if e.expired(h, start) {
		return
	}

	// Phase 2: slots that proposed refine with peer context.
	refiners := filterState(slots, StateDoneProposal)
	e.runBarrier(h, entity.PhaseRefinement, refiners, func(run *slotRun) string {
		return refinementPrompt(run.proposal, e.peerContext(h, run))
	})
	if e.expired(h, start) {
		return
	}

	// Phase 3: slots with a refined answer vote.
	voters := filterState(slots, StateDoneRefinement)
	labeled := e.labeledRefinements(h)
	e.runBarrier(h, entity.PhaseVote, voters, func(run *slotRun) string {
		return votePrompt(labeled)
	})

	tally, winner := e.tallyVotes(h, voters)

	answer, err := e.compose(h, tally, winner)
	if err != nil {
		e.meta(h, entity.PhaseMeta, entity.EventSessionFailed, err.Error(), nil)
		h.fail(err)
		e.logger.Warn("Session failed",
			zap.String("session", h.ID()),
			zap.Error(err),
		)
		return
	}

	e.append(h, entity.SlotEvent{
		Slot:    config.DexterSlot,
		Session: h.ID(),
		Phase:   entity.PhaseMeta,
		Event:   entity.EventChatOK,
		Text:    answer,
	})
	e.meta(h, entity.PhaseMeta, entity.EventSessionDone, answer, map[string]string{
		"winner":      winner,
		"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
	})

	// Harvest runs before finish so the chat response can report the
	// outcome. The sandbox has its own timeout; a minute bounds the
	// whole attempt.
	if e.skills != nil && wantsSkill(h.message) {
		hctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		h.setExecuted(e.skills.HarvestAnswer(hctx, h.ID(), answer))
		cancel()
	}

	h.finish(answer, tally, winner)

	e.logger.Info("Session done",
		zap.String("session", h.ID()),
		zap.String("winner", winner),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// runBarrier dispatches one phase to the given slots and waits until
// every slot finished or the phase deadline elapsed. Slots still
// running at the deadline see their calls canceled and count as failed.
func (e *Engine) runBarrier(h *SessionHandle, phase entity.Phase, slots []*slotRun, prompt func(*slotRun) string) {
	if len(slots) == 0 {
		return
	}
	h.setPhase(string(phase))
	e.meta(h, phase, entity.EventPhaseStart, "", map[string]string{
		"slots": strconv.Itoa(len(slots)),
	})

	phaseCtx, cancel := context.WithTimeout(h.Context(), h.cfg.Limits.PhaseDeadline)
	defer cancel()

	var wg sync.WaitGroup
	for _, run := range slots {
		run := run
		wg.Add(1)
		safego.Go(e.logger, "slot-"+run.cfg.Name, func() {
			defer wg.Done()
			text, err := e.runtime.runPhase(phaseCtx, h, run, phase, prompt(run))
			if err != nil {
				return
			}
			switch phase {
			case entity.PhaseProposal:
				h.setProposal(run.cfg.Name, text)
			case entity.PhaseRefinement:
				h.setRefined(run.cfg.Name, text)
			case entity.PhaseVote:
				h.setVote(run.cfg.Name, text)
			}
		})
	}
	wg.Wait()

	e.meta(h, phase, entity.EventPhaseDone, "", map[string]string{
		"completed": strconv.Itoa(countState(slots, doneState[phase])),
	})
}

// tallyVotes parses each voter's raw reply, accumulates weights, and
// emits the vote.tally meta event.
func (e *Engine) tallyVotes(h *SessionHandle, voters []*slotRun) (map[string]float64, string) {
	candidates := make(map[string]bool, len(h.slots))
	for name := range h.slots {
		candidates[name] = true
	}

	tally := NewTally(h.cfg.Weight)
	for _, run := range voters {
		h.mu.RLock()
		raw := run.vote
		h.mu.RUnlock()
		choice, ok := parseVote(raw, candidates)
		if !ok {
			e.logger.Debug("Discarding unparseable vote",
				zap.String("session", h.ID()),
				zap.String("slot", run.cfg.Name),
			)
			continue
		}
		h.setVote(run.cfg.Name, choice)
		tally.Add(run.cfg.Name, choice)
	}

	totals := tally.Totals()
	winner, _ := tally.Winner(config.DexterSlot)

	meta := map[string]string{"winner": winner}
	for slot, weight := range totals {
		meta["tally."+slot] = strconv.FormatFloat(weight, 'f', -1, 64)
	}
	e.meta(h, entity.PhaseVote, entity.EventVoteTally, winner, meta)
	return totals, winner
}

// compose builds the final answer. Dexter speaks for the team: its
// refinement always wins when present. Otherwise the highest-voted
// refined text, then the best available proposal.
func (e *Engine) compose(h *SessionHandle, totals map[string]float64, winner string) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if dexter, ok := h.slots[config.DexterSlot]; ok && dexter.refined != "" {
		return dexter.refined, nil
	}

	refined := make(map[string]string)
	proposals := make(map[string]string)
	for name, run := range h.slots {
		if run.refined != "" {
			refined[name] = run.refined
		}
		if run.proposal != "" {
			proposals[name] = run.proposal
		}
	}

	if winner != "" {
		if text, ok := refined[winner]; ok {
			return text, nil
		}
	}
	if name, ok := pickBest(refined, totals, h.cfg.Weight); ok {
		return refined[name], nil
	}
	if name, ok := pickBest(proposals, totals, h.cfg.Weight); ok {
		return proposals[name], nil
	}
	return "", errors.NewInternalError("no slot produced a usable answer")
}

// pickBest ranks texts by vote total, then configured weight, then
// lexicographic slot name.
func pickBest(texts map[string]string, totals map[string]float64, weightOf func(string) float64) (string, bool) {
	names := make([]string, 0, len(texts))
	for name := range texts {
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := names[i], names[j]
		if totals[a] != totals[b] {
			return totals[a] > totals[b]
		}
		if wa, wb := weightOf(a), weightOf(b); wa != wb {
			return wa > wb
		}
		return a < b
	})
	return names[0], true
}

// peerContext concatenates every other slot's Phase-1 text, labeled
// with the peer's name and role.
func (e *Engine) peerContext(h *SessionHandle, self *slotRun) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	parts := make([]string, 0, len(h.slots))
	for _, name := range sortedSlotNames(h.slots) {
		run := h.slots[name]
		if name == self.cfg.Name || run.proposal == "" {
			continue
		}
		parts = append(parts, peerLabel(run.cfg, run.proposal))
	}
	if len(parts) == 0 {
		return "(no peer proposals)"
	}
	return strings.Join(parts, "\n")
}

// labeledRefinements renders every refined answer for the vote prompt.
func (e *Engine) labeledRefinements(h *SessionHandle) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	parts := make([]string, 0, len(h.slots))
	for _, name := range sortedSlotNames(h.slots) {
		run := h.slots[name]
		if run.refined == "" {
			continue
		}
		parts = append(parts, peerLabel(run.cfg, run.refined))
	}
	return strings.Join(parts, "\n")
}

// expired handles a dead session context between phases. An explicit
// cancel fails the session; the hard deadline salvages whatever answer
// has accumulated.
func (e *Engine) expired(h *SessionHandle, start time.Time) bool {
	cause := h.Context().Err()
	if cause == nil {
		return false
	}
	if cause == context.Canceled {
		failure := fmt.Errorf("session canceled: %w", cause)
		e.meta(h, entity.PhaseMeta, entity.EventSessionFailed, failure.Error(), nil)
		h.fail(failure)
		return true
	}

	tally := map[string]float64{}
	answer, err := e.compose(h, tally, "")
	if err == nil {
		e.meta(h, entity.PhaseMeta, entity.EventSessionDone, answer, map[string]string{
			"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
			"degraded":    "true",
		})
		h.finish(answer, tally, "")
		return true
	}

	failure := fmt.Errorf("session deadline exceeded: %w", h.Context().Err())
	e.meta(h, entity.PhaseMeta, entity.EventSessionFailed, failure.Error(), nil)
	h.fail(failure)
	return true
}

// warnUnknownWeights flags vote_weights entries naming no configured slot.
func (e *Engine) warnUnknownWeights(h *SessionHandle) {
	for name := range h.cfg.Weights {
		if _, ok := h.cfg.Slots[name]; !ok {
			e.meta(h, entity.PhaseMeta, entity.EventWeightWarning, name, nil)
			e.logger.Warn("vote_weights entry names unknown slot",
				zap.String("slot", name),
			)
		}
	}
}

// meta appends an orchestrator event on the reserved "session" slot.
func (e *Engine) meta(h *SessionHandle, phase entity.Phase, event, text string, meta map[string]string) {
	e.append(h, entity.SlotEvent{
		Slot:    entity.SessionSlot,
		Session: h.ID(),
		Phase:   phase,
		Event:   event,
		Text:    text,
		Meta:    meta,
	})
}

func (e *Engine) append(h *SessionHandle, event entity.SlotEvent) {
	event.Ts = time.Now().Unix()
	if err := e.store.Append(context.Background(), event); err != nil {
		e.logger.Error("Meta event append failed",
			zap.String("session", event.Session),
			zap.String("event", event.Event),
			zap.Error(err),
		)
	}
}

// orderedSlots returns the session's slot runs in name order.
func (h *SessionHandle) orderedSlots() []*slotRun {
	h.mu.RLock()
	defer h.mu.RUnlock()
	runs := make([]*slotRun, 0, len(h.slots))
	for _, name := range sortedSlotNames(h.slots) {
		runs = append(runs, h.slots[name])
	}
	return runs
}

func sortedSlotNames(slots map[string]*slotRun) []string {
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func filterState(slots []*slotRun, state SlotState) []*slotRun {
	out := make([]*slotRun, 0, len(slots))
	for _, run := range slots {
		if run.sm.State() == state {
			out = append(out, run)
		}
	}
	return out
}

func countState(slots []*slotRun, state SlotState) int {
	n := 0
	for _, run := range slots {
		if run.sm.State() == state {
			n++
		}
	}
	return n
}

// wantsSkill detects the build-a-skill intent in the user message.
func wantsSkill(message string) bool {
	m := strings.ToLower(message)
	for _, marker := range []string{"build a skill", "create a skill", "make a skill", "new skill", "write a skill"} {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}
