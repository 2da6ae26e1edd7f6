package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/domain/repository"
	"github.com/gliksbot/dexter/internal/infrastructure/persistence/models"
	domainErrors "github.com/gliksbot/dexter/pkg/errors"
)

// GormSkillRepository is the GORM-backed skill library.
type GormSkillRepository struct {
	db *gorm.DB
}

// NewGormSkillRepository creates the repository.
func NewGormSkillRepository(db *gorm.DB) repository.SkillRepository {
	return &GormSkillRepository{db: db}
}

// FindByID looks up a skill by id.
func (r *GormSkillRepository) FindByID(ctx context.Context, id string) (*entity.Skill, error) {
	var model models.SkillModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("skill not found")
		}
		return nil, domainErrors.NewInternalError("failed to find skill: " + err.Error())
	}
	return toEntity(&model), nil
}

// FindByName looks up a skill by name.
func (r *GormSkillRepository) FindByName(ctx context.Context, name string) (*entity.Skill, error) {
	var model models.SkillModel
	if err := r.db.WithContext(ctx).First(&model, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("skill not found")
		}
		return nil, domainErrors.NewInternalError("failed to find skill: " + err.Error())
	}
	return toEntity(&model), nil
}

// FindAll lists skills, newest first.
func (r *GormSkillRepository) FindAll(ctx context.Context, activeOnly bool) ([]*entity.Skill, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if activeOnly {
		query = query.Where("state = ?", string(entity.SkillActive))
	}

	var modelList []models.SkillModel
	if err := query.Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to list skills: " + err.Error())
	}

	skills := make([]*entity.Skill, 0, len(modelList))
	for i := range modelList {
		skills = append(skills, toEntity(&modelList[i]))
	}
	return skills, nil
}

// Save creates or updates a skill.
func (r *GormSkillRepository) Save(ctx context.Context, skill *entity.Skill) error {
	model := toModel(skill)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save skill: " + err.Error())
	}
	return nil
}

// Delete removes a skill.
func (r *GormSkillRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.SkillModel{}, "id = ?", id)
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to delete skill: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("skill not found")
	}
	return nil
}

func toEntity(model *models.SkillModel) *entity.Skill {
	return entity.Rehydrate(
		model.ID,
		model.Name,
		model.Source,
		entity.SkillState(model.State),
		model.LastTestOK,
		model.CreatedAt,
	)
}

func toModel(skill *entity.Skill) *models.SkillModel {
	return &models.SkillModel{
		ID:         skill.ID(),
		Name:       skill.Name(),
		Source:     skill.Source(),
		State:      string(skill.State()),
		LastTestOK: skill.LastTestOK(),
		CreatedAt:  skill.CreatedAt(),
	}
}
