package service

import (
	"fmt"
	"strings"

	"github.com/gliksbot/dexter/internal/infrastructure/config"
)

// peerLabel renders one peer's contribution with its name and role.
func peerLabel(slot config.SlotConfig, text string) string {
	role := slot.Role
	if role == "" {
		role = "team member"
	}
	return fmt.Sprintf("[%s (%s)]: %s", slot.Name, role, text)
}

// proposalPrompt builds the Phase-1 user prompt.
func proposalPrompt(slot config.SlotConfig, peers []config.SlotConfig, userMessage string) string {
	names := make([]string, 0, len(peers))
	for _, p := range peers {
		if p.Name != slot.Name {
			names = append(names, p.Name)
		}
	}
	role := slot.Role
	if role == "" {
		role = "a team member"
	}
	return fmt.Sprintf(
		"You are participating in a team with peers %s. The user request follows. Produce your best solution/answer as %s. User: %s",
		strings.Join(names, ", "), role, userMessage,
	)
}

// refinementPrompt builds the Phase-2 user prompt from the slot's own
// proposal and every peer's Phase-1 text.
func refinementPrompt(own string, peerContext string) string {
	return fmt.Sprintf(
		"Your previous proposal was: %s. Your peers proposed: %s. Revise your proposal, integrating peer insights where they improve correctness and clarity. Return only the refined answer.",
		own, peerContext,
	)
}

// votePrompt builds the Phase-3 user prompt from the labeled refined answers.
func votePrompt(labeled string) string {
	return fmt.Sprintf(
		"Each team member's refined answer follows: %s. Choose the best answer by returning exactly the name of one slot, and nothing else.",
		labeled,
	)
}

// withUserInput folds out-of-band user messages into the next prompt.
// They augment context only; they are never counted as votes.
func withUserInput(prompt string, inputs []string) string {
	if len(inputs) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nAdditional guidance from the user arrived during the session:\n")
	for _, in := range inputs {
		b.WriteString("- ")
		b.WriteString(in)
		b.WriteString("\n")
	}
	return b.String()
}
