// Package models contains domain models for roundtable.
package models

import "time"

// User is a human operator.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsPaid       bool      `json:"is_paid"`
	CreatedAt    time.Time `json:"created_at"`
}

// Project is a unit of engineering work owned by exactly one user.
type Project struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Task is one conversational episode within a project.
type Task struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"project_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	AssignedAgent string    `json:"assigned_agent"`
	CreatedAt     time.Time `json:"created_at"`
}

// Feedback is a post-hoc user comment on a task.
type Feedback struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	TaskID    int64     `json:"task_id"`
	Text      string    `json:"feedback_text"`
	CreatedAt time.Time `json:"created_at"`
}
