// Package interaction durably logs transcript turns as task interactions.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/roundtable/internal/orchestrator"
	"github.com/thebtf/roundtable/internal/privacy"
	"github.com/thebtf/roundtable/pkg/models"
)

// Store is the persistence surface the logger needs.
type Store interface {
	InsertInteraction(ctx context.Context, in *models.Interaction) (bool, error)
	MaxSequence(ctx context.Context, taskID int64) (int, bool, error)
}

// Resolver maps a speaker name to its agent definition.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*models.AgentDefinition, error)
}

// Logger commits one interaction row per transcript turn. Commits are
// idempotent per (task, sequence) and serialized per task.
type Logger struct {
	store         Store
	resolver      Resolver
	cleaner       *privacy.Cleaner
	tokens        TokenCounter
	userProxyName string

	mu    sync.Mutex
	locks map[int64]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Logger.
type Option func(*Logger)

// WithCleaner redacts turn content before it is stored.
func WithCleaner(c *privacy.Cleaner) Option {
	return func(l *Logger) { l.cleaner = c }
}

// WithTokenCounter overrides the token counter used for metadata.
func WithTokenCounter(c TokenCounter) Option {
	return func(l *Logger) { l.tokens = c }
}

// WithUserProxyName sets the speaker whose turns are logged as input.
func WithUserProxyName(name string) Option {
	return func(l *Logger) { l.userProxyName = name }
}

// NewLogger creates a logger. resolver may be nil, in which case every row
// gets a null agent definition id.
func NewLogger(store Store, resolver Resolver, opts ...Option) *Logger {
	l := &Logger{
		store:         store,
		resolver:      resolver,
		tokens:        DefaultTokenCounter(),
		userProxyName: models.DefaultAgentNames[models.RoleUserProxy],
		locks:         make(map[int64]*taskLock),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Commit writes the turn at position seq. Committing an already-stored
// position is a no-op.
func (l *Logger) Commit(ctx context.Context, taskID int64, seq int, turn models.Turn) error {
	unlock := l.lockTask(taskID)
	defer unlock()
	_, err := l.commitLocked(ctx, taskID, seq, turn)
	return err
}

// LogTranscript commits every turn past the task's watermark in transcript
// order and returns how many rows were written. Running it again with the
// same transcript writes nothing.
func (l *Logger) LogTranscript(ctx context.Context, taskID int64, transcript []models.Turn) (int, error) {
	unlock := l.lockTask(taskID)
	defer unlock()

	start := 0
	maxSeq, ok, err := l.store.MaxSequence(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if ok {
		start = maxSeq + 1
	}

	written := 0
	for seq := start; seq < len(transcript); seq++ {
		inserted, err := l.commitLocked(ctx, taskID, seq, transcript[seq])
		if err != nil {
			return written, err
		}
		if inserted {
			written++
		}
	}
	if start > 0 {
		log.Debug().Int64("task_id", taskID).Int("resumed_at", start).Int("written", written).Msg("Transcript resumed from watermark")
	}
	return written, nil
}

// Sink returns a TurnSink that commits turns for taskID as they happen.
func (l *Logger) Sink(taskID int64) orchestrator.TurnSink {
	return &sink{logger: l, taskID: taskID}
}

type sink struct {
	logger *Logger
	taskID int64
}

func (s *sink) Commit(ctx context.Context, seq int, turn models.Turn) error {
	return s.logger.Commit(ctx, s.taskID, seq, turn)
}

func (l *Logger) commitLocked(ctx context.Context, taskID int64, seq int, turn models.Turn) (bool, error) {
	content := turn.Content
	metadata := models.JSONMap{}
	if l.cleaner != nil {
		if cleaned, changed := l.cleaner.Redact(content); changed {
			content = cleaned
			metadata["redacted"] = true
		}
	}
	metadata["tokens"] = l.tokens.Count(content)
	if turn.Failure != nil {
		metadata["error"] = turn.Failure.Message
		metadata["error_kind"] = string(turn.Failure.Kind)
	}

	in := &models.Interaction{
		TaskID:            taskID,
		AgentDefinitionID: l.resolveID(ctx, turn.Speaker),
		Speaker:           turn.Speaker,
		Message:           content,
		Type:              models.InteractionTypeFor(turn.Speaker, l.userProxyName),
		Metadata:          metadata,
		Sequence:          seq,
	}
	inserted, err := l.store.InsertInteraction(ctx, in)
	if err != nil {
		return false, fmt.Errorf("log interaction %d/%d: %w", taskID, seq, err)
	}
	return inserted, nil
}

// resolveID returns the speaker's definition id, or nil when it does not resolve.
// Lookup failures never drop the row.
func (l *Logger) resolveID(ctx context.Context, speaker string) *int64 {
	if l.resolver == nil || speaker == "" {
		return nil
	}
	def, err := l.resolver.Resolve(ctx, speaker)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Warn().Err(err).Str("speaker", speaker).Msg("Agent lookup failed; logging without definition id")
		}
		return nil
	}
	if def.ID == 0 {
		return nil
	}
	id := def.ID
	return &id
}

// lockTask serializes writers for one task and releases the entry when the last holder leaves.
func (l *Logger) lockTask(taskID int64) func() {
	l.mu.Lock()
	tl, ok := l.locks[taskID]
	if !ok {
		tl = &taskLock{}
		l.locks[taskID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, taskID)
		}
		l.mu.Unlock()
	}
}
