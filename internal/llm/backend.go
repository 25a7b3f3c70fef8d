// Package llm adapts model backends to the participant contract.
package llm

import (
	"context"
	"errors"
	"net"

	"github.com/thebtf/roundtable/pkg/models"
)

// Backend produces an agent's next message from the transcript so far.
type Backend interface {
	Respond(ctx context.Context, def *models.AgentDefinition, transcript []models.Turn) (string, error)
}

// Failure classes returned by backends. Timeout and backend errors are
// transient; unreachable means retrying will not help.
var (
	ErrTimeout     = errors.New("model call timed out")
	ErrBackend     = errors.New("model backend error")
	ErrUnreachable = errors.New("model backend unreachable")
)

// Classify maps an error onto a failure kind. Unrecognized errors count as backend errors.
func Classify(err error) models.FailureKind {
	switch {
	case errors.Is(err, ErrUnreachable):
		return models.FailureUnreachable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return models.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.FailureTimeout
	}
	return models.FailureBackend
}

// IsHard reports whether a failure should remove the participant from the conversation.
func IsHard(kind models.FailureKind) bool {
	return kind == models.FailureUnreachable
}
