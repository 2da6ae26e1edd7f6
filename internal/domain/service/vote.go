package service

import (
	"sort"
	"strings"
)

// parseVote normalizes a raw vote reply and matches it against the
// candidate slot names. Models often wrap the name in punctuation or a
// "vote:" prefix; anything that does not resolve to exactly one
// candidate is discarded.
func parseVote(raw string, candidates map[string]bool) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.TrimPrefix(v, "vote:")
	v = strings.Trim(v, " \t\r\n.\"'`*")
	if candidates[v] {
		return v, true
	}
	// Last resort: a single candidate name appearing alone on a line.
	for line := range strings.Lines(v) {
		line = strings.Trim(line, " \t\r\n.\"'`*")
		if candidates[line] {
			return line, true
		}
	}
	return "", false
}

// Tally accumulates weighted votes and picks a winner.
type Tally struct {
	totals  map[string]float64
	weights func(string) float64
}

// NewTally creates an empty tally. weightOf returns a slot's configured
// vote weight and is also the first tie-break criterion.
func NewTally(weightOf func(string) float64) *Tally {
	return &Tally{
		totals:  make(map[string]float64),
		weights: weightOf,
	}
}

// Add records one valid vote: the voter's weight accrues to the choice.
func (t *Tally) Add(voter, choice string) {
	t.totals[choice] += t.weights(voter)
}

// Totals returns a copy of the accumulated per-slot totals.
func (t *Tally) Totals() map[string]float64 {
	out := make(map[string]float64, len(t.totals))
	for k, v := range t.totals {
		out[k] = v
	}
	return out
}

// Winner returns the highest-voted slot, excluding the names in
// ineligible. Ties break by highest configured weight, then by
// lexicographic slot name. Returns false when no eligible slot
// received a vote.
func (t *Tally) Winner(ineligible ...string) (string, bool) {
	skip := make(map[string]bool, len(ineligible))
	for _, name := range ineligible {
		skip[name] = true
	}

	names := make([]string, 0, len(t.totals))
	for name := range t.totals {
		if !skip[name] {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false
	}

	sort.Slice(names, func(i, j int) bool {
		a, b := names[i], names[j]
		if t.totals[a] != t.totals[b] {
			return t.totals[a] > t.totals[b]
		}
		if wa, wb := t.weights(a), t.weights(b); wa != wb {
			return wa > wb
		}
		return a < b
	})
	return names[0], true
}
