// Package models contains domain models for roundtable.
package models

import (
	"strings"
	"time"
)

// InteractionType distinguishes human-authored turns from agent output.
type InteractionType string

const (
	InteractionInput  InteractionType = "input"
	InteractionOutput InteractionType = "output"
)

// InteractionTypeFor returns input for turns authored by the user-proxy seat and output otherwise.
func InteractionTypeFor(speaker, userProxyName string) InteractionType {
	if strings.EqualFold(speaker, userProxyName) {
		return InteractionInput
	}
	return InteractionOutput
}

// Interaction is one logged turn of a task transcript. Rows are append-only.
type Interaction struct {
	ID                int64           `json:"id"`
	TaskID            int64           `json:"task_id"`
	AgentDefinitionID *int64          `json:"agent_definition_id"`
	Speaker           string          `json:"speaker"`
	Message           string          `json:"message"`
	Type              InteractionType `json:"interaction_type"`
	Metadata          JSONMap         `json:"metadata,omitempty"`
	Sequence          int             `json:"sequence"`
	CreatedAt         time.Time       `json:"created_at"`
}

// FailureKind classifies a participant response failure.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureBackend     FailureKind = "backend"
	FailureUnreachable FailureKind = "unreachable"
)

// TurnFailure describes why a synthetic error turn was recorded instead of a reply.
type TurnFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Turn is one {speaker, content} entry of a transcript.
type Turn struct {
	Speaker string       `json:"speaker"`
	Content string       `json:"content"`
	Failure *TurnFailure `json:"failure,omitempty"`
}

// IsError reports whether the turn is a synthetic error marker.
func (t Turn) IsError() bool {
	return t.Failure != nil
}

// ErrorMarker prefixes the content of synthetic error turns.
const ErrorMarker = "[error]"
