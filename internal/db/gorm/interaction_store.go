// Package gorm provides GORM-based database operations for roundtable.
package gorm

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/roundtable/pkg/models"
)

// InteractionStore provides task interaction operations using GORM.
type InteractionStore struct {
	db *gorm.DB
}

// NewInteractionStore creates a new interaction store.
func NewInteractionStore(store *Store) *InteractionStore {
	return &InteractionStore{db: store.DB}
}

// InsertInteraction appends one interaction row. A row already present for the
// same (task_id, sequence) is left untouched and inserted is false.
func (s *InteractionStore) InsertInteraction(ctx context.Context, in *models.Interaction) (inserted bool, err error) {
	row := &Interaction{
		TaskID:            in.TaskID,
		Sequence:          in.Sequence,
		AgentDefinitionID: in.AgentDefinitionID,
		Speaker:           in.Speaker,
		Message:           in.Message,
		InteractionType:   in.Type,
		Metadata:          in.Metadata,
	}

	// INSERT OR IGNORE equivalent in GORM
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}, {Name: "sequence"}},
			DoNothing: true,
		}).
		Create(row)
	if result.Error != nil {
		return false, translate("insert interaction", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MaxSequence returns the highest committed sequence for a task.
// ok is false when the task has no interactions yet.
func (s *InteractionStore) MaxSequence(ctx context.Context, taskID int64) (seq int, ok bool, err error) {
	var max sql.NullInt64
	err = s.db.WithContext(ctx).Model(&Interaction{}).
		Where("task_id = ?", taskID).
		Select("MAX(sequence)").
		Scan(&max).Error
	if err != nil {
		return 0, false, translate("max sequence", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return int(max.Int64), true, nil
}

// ListInteractions returns a task's interactions in sequence order.
func (s *InteractionStore) ListInteractions(ctx context.Context, taskID int64) ([]*models.Interaction, error) {
	var rows []Interaction
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("list interactions", err)
	}
	out := make([]*models.Interaction, len(rows))
	for i := range rows {
		out[i] = toModelInteraction(&rows[i])
	}
	return out, nil
}
