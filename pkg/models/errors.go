// Package models contains domain models for roundtable.
package models

import "errors"

var (
	// ErrNotFound is returned when a user, project, task or agent definition does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateIdentity is returned when a unique identity (username, agent name)
	// was inserted by a concurrent writer first.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrPersistence marks store failures that must surface to the caller.
	ErrPersistence = errors.New("persistence error")
)
