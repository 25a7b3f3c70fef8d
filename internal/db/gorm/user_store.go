// Package gorm provides GORM-based database operations for roundtable.
package gorm

import (
	"context"

	"gorm.io/gorm"

	"github.com/thebtf/roundtable/pkg/models"
)

// UserStore provides user-related database operations using GORM.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore creates a new user store.
func NewUserStore(store *Store) *UserStore {
	return &UserStore{db: store.DB}
}

// CreateUser inserts a user and returns its id.
// A concurrent insert of the same username yields models.ErrDuplicateIdentity.
func (s *UserStore) CreateUser(ctx context.Context, user *models.User) (int64, error) {
	row := &User{
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		IsPaid:       user.IsPaid,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, translate("create user", err)
	}
	return row.ID, nil
}

// GetUserByIdentity looks a user up by username.
func (s *UserStore) GetUserByIdentity(ctx context.Context, username string) (*models.User, error) {
	var row User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if err != nil {
		return nil, translate("get user by identity", err)
	}
	return toModelUser(&row), nil
}

// GetUserByID looks a user up by id.
func (s *UserStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var row User
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, translate("get user", err)
	}
	return toModelUser(&row), nil
}
