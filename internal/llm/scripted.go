// Package llm adapts model backends to the participant contract.
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thebtf/roundtable/pkg/models"
)

// Reply is one scripted response.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Scripted is a deterministic Backend that plays queued replies per agent name.
// When an agent's queue is empty it answers with Fallback, or an acknowledgement.
type Scripted struct {
	mu       sync.Mutex
	queues   map[string][]Reply
	calls    map[string]int
	Fallback func(def *models.AgentDefinition, transcript []models.Turn) string
}

// NewScripted creates an empty scripted backend.
func NewScripted() *Scripted {
	return &Scripted{
		queues: make(map[string][]Reply),
		calls:  make(map[string]int),
	}
}

// Script appends replies to name's queue.
func (s *Scripted) Script(name string, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[name] = append(s.queues[name], replies...)
	return s
}

// Say is shorthand for scripting plain text replies.
func (s *Scripted) Say(name string, texts ...string) *Scripted {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return s.Script(name, replies...)
}

// Calls returns how many times name has been asked to respond.
func (s *Scripted) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// Respond plays the next reply for def.Name.
func (s *Scripted) Respond(ctx context.Context, def *models.AgentDefinition, transcript []models.Turn) (string, error) {
	s.mu.Lock()
	s.calls[def.Name]++
	var (
		reply  Reply
		queued bool
	)
	if q := s.queues[def.Name]; len(q) > 0 {
		reply, queued = q[0], true
		s.queues[def.Name] = q[1:]
	}
	fallback := s.Fallback
	s.mu.Unlock()

	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-timer.C:
		}
	}

	if reply.Err != nil {
		return "", reply.Err
	}
	if queued {
		return reply.Text, nil
	}
	if fallback != nil {
		return fallback(def, transcript), nil
	}
	return fmt.Sprintf("%s acknowledges.", def.Name), nil
}
