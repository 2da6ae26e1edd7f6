package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/domain/repository"
	domainErrors "github.com/gliksbot/dexter/pkg/errors"
)

// MemorySkillRepository keeps the skill library in memory. Used when no
// database is configured and by tests.
type MemorySkillRepository struct {
	mu     sync.RWMutex
	skills map[string]*entity.Skill
}

// NewMemorySkillRepository creates an empty in-memory library.
func NewMemorySkillRepository() repository.SkillRepository {
	return &MemorySkillRepository{skills: make(map[string]*entity.Skill)}
}

// FindByID looks up a skill by id.
func (r *MemorySkillRepository) FindByID(_ context.Context, id string) (*entity.Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	skill, ok := r.skills[id]
	if !ok {
		return nil, domainErrors.NewNotFoundError("skill not found")
	}
	return skill, nil
}

// FindByName looks up a skill by name.
func (r *MemorySkillRepository) FindByName(_ context.Context, name string) (*entity.Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, skill := range r.skills {
		if skill.Name() == name {
			return skill, nil
		}
	}
	return nil, domainErrors.NewNotFoundError("skill not found")
}

// FindAll lists skills, newest first.
func (r *MemorySkillRepository) FindAll(_ context.Context, activeOnly bool) ([]*entity.Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Skill, 0, len(r.skills))
	for _, skill := range r.skills {
		if activeOnly && skill.State() != entity.SkillActive {
			continue
		}
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().After(out[j].CreatedAt()) })
	return out, nil
}

// Save creates or updates a skill.
func (r *MemorySkillRepository) Save(_ context.Context, skill *entity.Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[skill.ID()] = skill
	return nil
}

// Delete removes a skill.
func (r *MemorySkillRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[id]; !ok {
		return domainErrors.NewNotFoundError("skill not found")
	}
	delete(r.skills, id)
	return nil
}
