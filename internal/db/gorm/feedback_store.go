// Package gorm provides GORM-based database operations for roundtable.
package gorm

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/roundtable/pkg/models"
)

// FeedbackStore provides feedback operations using GORM.
type FeedbackStore struct {
	db *gorm.DB
}

// NewFeedbackStore creates a new feedback store.
func NewFeedbackStore(store *Store) *FeedbackStore {
	return &FeedbackStore{db: store.DB}
}

// InsertFeedback appends one feedback row.
func (s *FeedbackStore) InsertFeedback(ctx context.Context, userID, taskID int64, text string) (int64, error) {
	row := &Feedback{
		UserID:       userID,
		TaskID:       taskID,
		FeedbackText: text,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, translate("insert feedback", err)
	}
	return row.ID, nil
}

// ListFeedbackByTask returns a task's feedback in insertion order.
func (s *FeedbackStore) ListFeedbackByTask(ctx context.Context, taskID int64) ([]*models.Feedback, error) {
	var rows []Feedback
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, translate("list feedback", err)
	}
	out := make([]*models.Feedback, len(rows))
	for i := range rows {
		out[i] = toModelFeedback(&rows[i])
	}
	return out, nil
}
