package repository

import (
	"context"

	"github.com/gliksbot/dexter/internal/domain/entity"
)

// SkillRepository persists the skill library. Defined in the domain
// layer, implemented by the infrastructure layer.
type SkillRepository interface {
	// FindByID looks up a skill by id.
	FindByID(ctx context.Context, id string) (*entity.Skill, error)

	// FindByName looks up a skill by its unique name.
	FindByName(ctx context.Context, name string) (*entity.Skill, error)

	// FindAll lists skills, optionally only active ones.
	FindAll(ctx context.Context, activeOnly bool) ([]*entity.Skill, error)

	// Save creates or updates a skill.
	Save(ctx context.Context, skill *entity.Skill) error

	// Delete removes a skill from the library.
	Delete(ctx context.Context, id string) error
}
