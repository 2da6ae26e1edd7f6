package entity

import "errors"

var (
	// Skill errors
	ErrInvalidSkillID    = errors.New("invalid skill id")
	ErrInvalidSkillName  = errors.New("invalid skill name")
	ErrEmptySkillSource  = errors.New("skill source is empty")
	ErrSkillNotValidated = errors.New("skill has not passed a sandbox test")

	// Campaign errors
	ErrInvalidCampaign = errors.New("campaign needs an id and a name")
	ErrCampaignClosed  = errors.New("campaign is closed")
)
