// Package orchestrator runs one multi-agent conversation as an explicit state machine.
package orchestrator

import "github.com/thebtf/roundtable/pkg/models"

// EventKind identifies an observable conversation event.
type EventKind string

const (
	EventTurn                EventKind = "turn"
	EventSelectionFallback   EventKind = "selection_fallback"
	EventParticipantExcluded EventKind = "participant_excluded"
	EventStateChanged        EventKind = "state_changed"
)

// Event is delivered synchronously to the Observer from the Run goroutine.
type Event struct {
	Kind     EventKind    `json:"kind"`
	Round    int          `json:"round,omitempty"`
	Sequence int          `json:"sequence,omitempty"`
	Speaker  string       `json:"speaker,omitempty"`
	Nominee  string       `json:"nominee,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	State    State        `json:"-"`
	Turn     *models.Turn `json:"turn,omitempty"`
}

// Observer receives events. It must not block for long.
type Observer func(Event)
