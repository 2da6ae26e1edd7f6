package skills

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/domain/repository"
	"github.com/gliksbot/dexter/internal/infrastructure/sandbox"
	domainErrors "github.com/gliksbot/dexter/pkg/errors"
)

// harvestProbe is the input used to validate a freshly extracted skill.
const harvestProbe = "ping"

// Service manages the skill lifecycle: extraction from winning answers,
// sandbox validation, promotion, and execution of active skills.
type Service struct {
	repo   repository.SkillRepository
	runner sandbox.Runner
	limits sandbox.Limits
	logger *zap.Logger
}

// NewService creates the skill service.
func NewService(repo repository.SkillRepository, runner sandbox.Runner, limits sandbox.Limits, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		runner: runner,
		limits: limits,
		logger: logger.With(zap.String("component", "skills")),
	}
}

// HarvestAnswer extracts a candidate skill from a winning answer,
// validates it in the sandbox, and promotes it on success. Failures are
// logged and swallowed; harvesting never disturbs the session result.
// A nil outcome means the answer carried no skill candidate.
func (s *Service) HarvestAnswer(ctx context.Context, session, answer string) *entity.HarvestOutcome {
	candidate, ok := Extract(answer)
	if !ok {
		s.logger.Debug("No skill candidate in answer",
			zap.String("session", session),
		)
		return nil
	}
	outcome := &entity.HarvestOutcome{SkillName: candidate.Name}

	skill, err := s.CreateDraft(ctx, candidate.Name, candidate.Source)
	if err != nil {
		s.logger.Warn("Skill draft rejected",
			zap.String("session", session),
			zap.String("name", candidate.Name),
			zap.Error(err),
		)
		return outcome
	}

	result, err := s.Test(ctx, skill.ID(), harvestProbe)
	if err != nil || !result.OK {
		s.logger.Info("Skill failed validation, kept as draft",
			zap.String("session", session),
			zap.String("skill", skill.ID()),
			zap.Error(err),
		)
		return outcome
	}
	outcome.OK = true

	if _, err := s.Promote(ctx, skill.ID()); err != nil {
		s.logger.Warn("Skill promotion failed",
			zap.String("skill", skill.ID()),
			zap.Error(err),
		)
		return outcome
	}
	outcome.Promoted = true
	s.logger.Info("Skill harvested and promoted",
		zap.String("session", session),
		zap.String("skill", skill.ID()),
		zap.String("name", skill.Name()),
	)
	return outcome
}

// CreateDraft stores a new draft skill.
func (s *Service) CreateDraft(ctx context.Context, name, source string) (*entity.Skill, error) {
	skill, err := entity.NewSkill(uuid.New().String(), name, source)
	if err != nil {
		return nil, domainErrors.NewInvalidInputError(err.Error())
	}
	if err := s.repo.Save(ctx, skill); err != nil {
		return nil, err
	}
	return skill, nil
}

// Test runs the skill in the sandbox against an input message and
// records the outcome.
func (s *Service) Test(ctx context.Context, id, message string) (*sandbox.Result, error) {
	skill, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := s.runner.Run(ctx, skill.Source(), "run", message, s.limits)
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("sandbox run failed", err)
	}

	skill.RecordTest(result.OK)
	if err := s.repo.Save(ctx, skill); err != nil {
		return nil, err
	}
	return result, nil
}

// Promote moves a validated draft into the active library.
func (s *Service) Promote(ctx context.Context, id string) (*entity.Skill, error) {
	skill, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := skill.Promote(); err != nil {
		return nil, domainErrors.NewInvalidInputError(err.Error())
	}
	if err := s.repo.Save(ctx, skill); err != nil {
		return nil, err
	}
	return skill, nil
}

// Execute runs an active skill against a message and returns its stdout.
func (s *Service) Execute(ctx context.Context, id, message string) (string, error) {
	skill, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if skill.State() != entity.SkillActive {
		return "", domainErrors.NewInvalidInputError("skill is not active")
	}

	result, err := s.runner.Run(ctx, skill.Source(), "run", message, s.limits)
	if err != nil {
		return "", domainErrors.NewInternalErrorWithCause("sandbox run failed", err)
	}
	if !result.OK {
		return "", domainErrors.NewInternalError("skill execution failed: " + result.Stderr)
	}
	return result.Stdout, nil
}

// Get returns one skill.
func (s *Service) Get(ctx context.Context, id string) (*entity.Skill, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns the library contents.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*entity.Skill, error) {
	return s.repo.FindAll(ctx, activeOnly)
}
