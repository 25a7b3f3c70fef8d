package frontend

import (
	"context"
	"sync"

	"github.com/thebtf/roundtable/pkg/models"
)

// Static answers prompts from a fixed list, in order. It records every prompt
// it was asked. Safe for concurrent use.
type Static struct {
	mu      sync.Mutex
	answers []string
	asked   []string
}

// NewStatic creates a prompter that replies with answers in order and then
// returns ErrNoInput.
func NewStatic(answers ...string) *Static {
	return &Static{answers: append([]string(nil), answers...)}
}

// Ask returns the next queued answer.
func (s *Static) Ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, prompt)
	if len(s.answers) == 0 {
		return "", ErrNoInput
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

// Push queues more answers.
func (s *Static) Push(answers ...string) {
	s.mu.Lock()
	s.answers = append(s.answers, answers...)
	s.mu.Unlock()
}

// Asked returns the prompts seen so far.
func (s *Static) Asked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.asked...)
}

// Recorder is a Renderer that keeps everything it was given.
type Recorder struct {
	mu      sync.Mutex
	turns   []models.Turn
	notices []string
}

// Render records turn.
func (r *Recorder) Render(turn models.Turn) {
	r.mu.Lock()
	r.turns = append(r.turns, turn)
	r.mu.Unlock()
}

// Notify records message.
func (r *Recorder) Notify(message string) {
	r.mu.Lock()
	r.notices = append(r.notices, message)
	r.mu.Unlock()
}

// Turns returns the rendered turns.
func (r *Recorder) Turns() []models.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Turn(nil), r.turns...)
}

// Notices returns the notices.
func (r *Recorder) Notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}
