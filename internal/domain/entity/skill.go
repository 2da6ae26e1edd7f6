package entity

import "time"

// SkillState is the lifecycle state of a skill in the library.
type SkillState string

const (
	SkillDraft  SkillState = "draft"  // extracted but not yet validated
	SkillActive SkillState = "active" // validated by the sandbox, callable
)

// HarvestOutcome summarizes one automatic skill-harvest attempt on a
// winning answer, reported back on the chat response.
type HarvestOutcome struct {
	OK        bool   `json:"ok"`
	SkillName string `json:"skill_name,omitempty"`
	Promoted  bool   `json:"promoted"`
}

// Skill is a unit of executable logic with a run(message string) string
// entry point. Skills are extracted from winning collaboration answers,
// validated in the sandbox, then promoted from draft to active.
type Skill struct {
	id         string
	name       string
	source     string
	state      SkillState
	lastTestOK bool
	createdAt  time.Time
}

// NewSkill creates a draft skill.
func NewSkill(id, name, source string) (*Skill, error) {
	if id == "" {
		return nil, ErrInvalidSkillID
	}
	if name == "" {
		return nil, ErrInvalidSkillName
	}
	if source == "" {
		return nil, ErrEmptySkillSource
	}
	return &Skill{
		id:        id,
		name:      name,
		source:    source,
		state:     SkillDraft,
		createdAt: time.Now(),
	}, nil
}

// Rehydrate reconstructs a skill from persisted fields. Used by repositories.
func Rehydrate(id, name, source string, state SkillState, lastTestOK bool, createdAt time.Time) *Skill {
	return &Skill{
		id:         id,
		name:       name,
		source:     source,
		state:      state,
		lastTestOK: lastTestOK,
		createdAt:  createdAt,
	}
}

func (s *Skill) ID() string { return s.id }
func (s *Skill) Name() string { return s.name }
func (s *Skill) Source() string { return s.source }
func (s *Skill) State() SkillState { return s.state }
func (s *Skill) LastTestOK() bool { return s.lastTestOK }
func (s *Skill) CreatedAt() time.Time { return s.createdAt }

// RecordTest stores the outcome of the latest sandbox validation.
func (s *Skill) RecordTest(ok bool) {
	s.lastTestOK = ok
}

// Promote moves the skill from draft to active. The skill must have
// passed its most recent sandbox test.
func (s *Skill) Promote() error {
	if s.state == SkillActive {
		return nil // idempotent
	}
	if !s.lastTestOK {
		return ErrSkillNotValidated
	}
	s.state = SkillActive
	return nil
}
