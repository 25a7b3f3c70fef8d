// Package gorm provides GORM-based database operations for roundtable.
package gorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/roundtable/pkg/models"
)

// GORM Models

// User is a human operator row.
type User struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Email        string    `gorm:"type:varchar(255);not null"`
	PasswordHash string    `gorm:"type:text;not null"`
	IsPaid       bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// BeforeCreate hook to ensure timestamps are set.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Project belongs to exactly one user.
type Project struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	UserID      int64     `gorm:"index;not null"`
	User        *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Name        string    `gorm:"type:varchar(255);not null"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index:idx_projects_created,sort:desc;not null"`
}

func (Project) TableName() string { return "projects" }

// BeforeCreate hook to ensure timestamps are set.
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Task belongs to exactly one project.
type Task struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	ProjectID     int64     `gorm:"index;not null"`
	Project       *Project  `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	Name          string    `gorm:"type:text;not null"`
	Description   string    `gorm:"type:text"`
	AssignedAgent string    `gorm:"type:varchar(255)"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (Task) TableName() string { return "tasks" }

// BeforeCreate hook to ensure timestamps are set.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return nil
}

// AgentDefinition stores a named agent's behavioral configuration.
type AgentDefinition struct {
	ID            int64              `gorm:"primaryKey;autoIncrement"`
	AgentName     string             `gorm:"column:agent_name;type:varchar(255);uniqueIndex;not null"`
	SystemMessage string             `gorm:"type:text;not null"`
	ModelConfig   models.ModelConfig `gorm:"type:text"`
	UpdatedAt     time.Time          `gorm:"not null"`
}

func (AgentDefinition) TableName() string { return "agent_definitions" }

// BeforeCreate hook to ensure timestamps are set.
func (d *AgentDefinition) BeforeCreate(tx *gorm.DB) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// Interaction is one logged turn. (task_id, sequence) is unique so re-logging is a no-op.
type Interaction struct {
	ID                int64                  `gorm:"primaryKey;autoIncrement"`
	TaskID            int64                  `gorm:"uniqueIndex:idx_interactions_task_sequence,priority:1;not null"`
	Task              *Task                  `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
	Sequence          int                    `gorm:"uniqueIndex:idx_interactions_task_sequence,priority:2;not null"`
	AgentDefinitionID *int64                 `gorm:"index"`
	AgentDefinition   *AgentDefinition       `gorm:"foreignKey:AgentDefinitionID;constraint:OnDelete:SET NULL"`
	Speaker           string                 `gorm:"type:varchar(255);not null"`
	Message           string                 `gorm:"type:text;not null"`
	InteractionType   models.InteractionType `gorm:"type:varchar(16);check:interaction_type IN ('input', 'output');not null"`
	Metadata          models.JSONMap         `gorm:"type:text"`
	CreatedAt         time.Time              `gorm:"not null"`
}

func (Interaction) TableName() string { return "task_interactions" }

// BeforeCreate hook to ensure timestamps are set.
func (i *Interaction) BeforeCreate(tx *gorm.DB) error {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Feedback is a post-hoc user comment on a task.
type Feedback struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	UserID       int64     `gorm:"index;not null"`
	User         *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	TaskID       int64     `gorm:"index;not null"`
	Task         *Task     `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
	FeedbackText string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (Feedback) TableName() string { return "feedback" }

// BeforeCreate hook to ensure timestamps are set.
func (f *Feedback) BeforeCreate(tx *gorm.DB) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return nil
}

func toModelUser(u *User) *models.User {
	return &models.User{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		IsPaid:       u.IsPaid,
		CreatedAt:    u.CreatedAt,
	}
}

func toModelProject(p *Project) *models.Project {
	return &models.Project{
		ID:          p.ID,
		UserID:      p.UserID,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func toModelTask(t *Task) *models.Task {
	return &models.Task{
		ID:            t.ID,
		ProjectID:     t.ProjectID,
		Name:          t.Name,
		Description:   t.Description,
		AssignedAgent: t.AssignedAgent,
		CreatedAt:     t.CreatedAt,
	}
}

func toModelAgentDefinition(d *AgentDefinition) *models.AgentDefinition {
	return &models.AgentDefinition{
		ID:            d.ID,
		Name:          d.AgentName,
		SystemMessage: d.SystemMessage,
		ModelConfig:   d.ModelConfig.Clone(),
		UpdatedAt:     d.UpdatedAt,
	}
}

func toModelInteraction(i *Interaction) *models.Interaction {
	return &models.Interaction{
		ID:                i.ID,
		TaskID:            i.TaskID,
		AgentDefinitionID: i.AgentDefinitionID,
		Speaker:           i.Speaker,
		Message:           i.Message,
		Type:              i.InteractionType,
		Metadata:          i.Metadata,
		Sequence:          i.Sequence,
		CreatedAt:         i.CreatedAt,
	}
}

func toModelFeedback(f *Feedback) *models.Feedback {
	return &models.Feedback{
		ID:        f.ID,
		UserID:    f.UserID,
		TaskID:    f.TaskID,
		Text:      f.FeedbackText,
		CreatedAt: f.CreatedAt,
	}
}
