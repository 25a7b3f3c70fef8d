// Package gorm provides GORM-based database operations for roundtable.
package gorm

import (
	"fmt"
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/roundtable/pkg/models"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Ownership chain (users -> projects -> tasks)
		{
			ID: "001_users_projects_tasks",
			Migrate: func(tx *gorm.DB) error {
				// AutoMigrate creates tables with all indexes from struct tags
				if err := tx.AutoMigrate(&User{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&Project{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Task{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("tasks", "projects", "users")
			},
		},

		// Migration 002: Agent definitions
		{
			ID: "002_agent_definitions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&AgentDefinition{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("agent_definitions")
			},
		},

		// Migration 003: Task interactions, unique per (task_id, sequence)
		{
			ID: "003_task_interactions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Interaction{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("task_interactions")
			},
		},

		// Migration 004: Feedback
		{
			ID: "004_feedback",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Feedback{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("feedback")
			},
		},

		// Migration 005: Stock agent roster
		{
			ID: "005_seed_agent_definitions",
			Migrate: func(tx *gorm.DB) error {
				now := time.Now().UTC()
				defaults := models.DefaultAgentDefinitions()
				rows := make([]AgentDefinition, 0, len(defaults))
				for _, d := range defaults {
					rows = append(rows, AgentDefinition{
						AgentName:     d.Name,
						SystemMessage: d.SystemMessage,
						ModelConfig:   d.ModelConfig,
						UpdatedAt:     now,
					})
				}

				// INSERT OR IGNORE equivalent in GORM
				return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
			},
			Rollback: func(tx *gorm.DB) error {
				names := make([]string, 0, len(models.Roles))
				for _, role := range models.Roles {
					names = append(names, models.DefaultAgentNames[role])
				}
				return tx.Where("agent_name IN ?", names).Delete(&AgentDefinition{}).Error
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}
