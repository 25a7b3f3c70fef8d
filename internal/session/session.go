// Package session binds a human to a user row, a project and the current task,
// and holds the participant handles for that human's conversations.
package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thebtf/roundtable/internal/frontend"
	"github.com/thebtf/roundtable/internal/orchestrator"
	"github.com/thebtf/roundtable/internal/registry"
	"github.com/thebtf/roundtable/pkg/models"
)

// State is the exportable part of a session, enough to rebuild it after a restart.
type State struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	ProjectID int64  `json:"project_id,omitempty"`
	TaskID    int64  `json:"task_id,omitempty"`
}

// Session is one human's working context.
type Session struct {
	ID        string
	UserID    int64
	Username  string
	StartTime time.Time

	Prompter frontend.Prompter
	Renderer frontend.Renderer

	snapshot     *registry.Snapshot
	participants []orchestrator.Participant

	// projectMu serializes EnsureProject so the human is prompted once.
	projectMu sync.Mutex

	mu         sync.Mutex
	projectID  int64
	taskID     int64
	lastActive time.Time

	// runs holds the cancel funcs of work started with Begin, guarded by mu.
	runs    map[uint64]context.CancelFunc
	nextRun uint64

	busy   atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
}

// ProjectID returns the bound project, or zero.
func (s *Session) ProjectID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// TaskID returns the current task, or zero.
func (s *Session) TaskID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskID
}

// Participants returns the handles in roster order.
func (s *Session) Participants() []orchestrator.Participant {
	return append([]orchestrator.Participant(nil), s.participants...)
}

// Definitions returns copies of the frozen definitions in roster order.
func (s *Session) Definitions() []*models.AgentDefinition {
	names := s.snapshot.Names()
	out := make([]*models.AgentDefinition, 0, len(names))
	for _, name := range names {
		if def, ok := s.snapshot.Resolve(name); ok {
			out = append(out, def)
		}
	}
	return out
}

// Participant returns the handle named name, case-insensitively.
func (s *Session) Participant(name string) (orchestrator.Participant, bool) {
	for _, p := range s.participants {
		if strings.EqualFold(p.Name(), name) {
			return p, true
		}
	}
	return nil, false
}

// State exports the session ids.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:        s.ID,
		UserID:    s.UserID,
		Username:  s.Username,
		ProjectID: s.projectID,
		TaskID:    s.taskID,
	}
}

// Context is cancelled when the session is deleted.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Begin marks the session busy so idle cleanup skips it. The returned context
// ends with ctx or when the session is closed; the returned func ends the work.
func (s *Session) Begin(ctx context.Context) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	s.busy.Add(1)

	s.mu.Lock()
	s.lastActive = time.Now()
	id := s.nextRun
	s.nextRun++
	if s.ctx.Err() != nil {
		cancel()
	} else {
		if s.runs == nil {
			s.runs = make(map[uint64]context.CancelFunc)
		}
		s.runs[id] = cancel
	}
	s.mu.Unlock()

	return runCtx, func() {
		s.mu.Lock()
		delete(s.runs, id)
		s.lastActive = time.Now()
		s.mu.Unlock()
		cancel()
		s.busy.Add(-1)
	}
}

// close cancels the session context and every run started with Begin.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	for id, cancel := range s.runs {
		cancel()
		delete(s.runs, id)
	}
}

// Touch records activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}
