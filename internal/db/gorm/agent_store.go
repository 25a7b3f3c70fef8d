// Package gorm provides GORM-based database operations for roundtable.
package gorm

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/roundtable/pkg/models"
)

// AgentStore provides agent definition operations using GORM.
type AgentStore struct {
	db *gorm.DB
}

// NewAgentStore creates a new agent definition store.
func NewAgentStore(store *Store) *AgentStore {
	return &AgentStore{db: store.DB}
}

// GetAgentDefinitionByName returns the definition stored under name.
func (s *AgentStore) GetAgentDefinitionByName(ctx context.Context, name string) (*models.AgentDefinition, error) {
	var row AgentDefinition
	err := s.db.WithContext(ctx).Where("agent_name = ?", name).First(&row).Error
	if err != nil {
		return nil, translate("get agent definition", err)
	}
	return toModelAgentDefinition(&row), nil
}

// ListAgentDefinitions returns every definition ordered by id.
func (s *AgentStore) ListAgentDefinitions(ctx context.Context) ([]*models.AgentDefinition, error) {
	var rows []AgentDefinition
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, translate("list agent definitions", err)
	}
	out := make([]*models.AgentDefinition, len(rows))
	for i := range rows {
		out[i] = toModelAgentDefinition(&rows[i])
	}
	return out, nil
}

// UpsertAgentDefinition inserts def or replaces the system message and model
// config of the existing row with the same name. Returns the row id.
func (s *AgentStore) UpsertAgentDefinition(ctx context.Context, def *models.AgentDefinition) (int64, error) {
	row := &AgentDefinition{
		AgentName:     def.Name,
		SystemMessage: def.SystemMessage,
		ModelConfig:   def.ModelConfig.Clone(),
		UpdatedAt:     time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"system_message", "model_config", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return 0, translate("upsert agent definition", err)
	}

	// RETURNING is not reliable on the update path, so read the id back.
	var id int64
	err = s.db.WithContext(ctx).Model(&AgentDefinition{}).
		Where("agent_name = ?", def.Name).
		Pluck("id", &id).Error
	if err != nil {
		return 0, translate("upsert agent definition", err)
	}
	return id, nil
}
