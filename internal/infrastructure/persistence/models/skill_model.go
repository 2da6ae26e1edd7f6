package models

import (
	"time"

	"gorm.io/gorm"
)

// SkillModel is the database representation of a skill.
type SkillModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	Name       string `gorm:"uniqueIndex;size:128;not null"`
	Source     string `gorm:"type:text;not null"`
	State      string `gorm:"size:16;not null"`
	LastTestOK bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

// TableName pins the table name.
func (SkillModel) TableName() string {
	return "skills"
}
