// Package gorm provides GORM-based database operations for roundtable.
package gorm

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/roundtable/pkg/models"
)

// ProjectStore provides project and task operations using GORM.
type ProjectStore struct {
	db *gorm.DB
}

// NewProjectStore creates a new project store.
func NewProjectStore(store *Store) *ProjectStore {
	return &ProjectStore{db: store.DB}
}

// CreateProject inserts a project owned by userID.
func (s *ProjectStore) CreateProject(ctx context.Context, userID int64, name, description string) (int64, error) {
	row := &Project{
		UserID:      userID,
		Name:        name,
		Description: description,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, translate("create project", err)
	}
	return row.ID, nil
}

// GetProject retrieves a project by id.
func (s *ProjectStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var row Project
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, translate("get project", err)
	}
	return toModelProject(&row), nil
}

// ListProjectsByUser returns a user's projects, newest first.
func (s *ProjectStore) ListProjectsByUser(ctx context.Context, userID int64, limit int) ([]*models.Project, error) {
	var rows []Project
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, translate("list projects", err)
	}
	out := make([]*models.Project, len(rows))
	for i := range rows {
		out[i] = toModelProject(&rows[i])
	}
	return out, nil
}

// CreateTask inserts a task under projectID. Every call creates a new row.
func (s *ProjectStore) CreateTask(ctx context.Context, projectID int64, name, description, assignedAgent string) (int64, error) {
	row := &Task{
		ProjectID:     projectID,
		Name:          name,
		Description:   description,
		AssignedAgent: assignedAgent,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, translate("create task", err)
	}
	return row.ID, nil
}

// GetTask retrieves a task by id.
func (s *ProjectStore) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	var row Task
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, translate("get task", err)
	}
	return toModelTask(&row), nil
}

// ListTasksByProject returns a project's tasks in creation order.
func (s *ProjectStore) ListTasksByProject(ctx context.Context, projectID int64, limit int) ([]*models.Task, error) {
	var rows []Task
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, translate("list tasks", err)
	}
	out := make([]*models.Task, len(rows))
	for i := range rows {
		out[i] = toModelTask(&rows[i])
	}
	return out, nil
}
