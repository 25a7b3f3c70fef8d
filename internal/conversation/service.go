// Package conversation runs one inbound message through the session, the
// orchestrator and the interaction logger, and collects feedback afterwards.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/roundtable/internal/frontend"
	"github.com/thebtf/roundtable/internal/orchestrator"
	"github.com/thebtf/roundtable/internal/privacy"
	"github.com/thebtf/roundtable/internal/session"
	"github.com/thebtf/roundtable/pkg/models"
)

// TaskDescription is stored on every task opened from an inbound message.
const TaskDescription = "Initial task generated from user input."

// Status values reported to the human.
const (
	StatusCompleted          = "completed"
	StatusCompletedTruncated = "completed (truncated)"
	StatusCouldNotContinue   = "could not continue"
	StatusCancelled          = "cancelled"
)

// ErrEmptyMessage is returned for a blank inbound message.
var ErrEmptyMessage = errors.New("message is empty")

// Sessions binds projects and tasks to a session.
type Sessions interface {
	EnsureProject(ctx context.Context, sess *session.Session) (int64, error)
	BindTask(ctx context.Context, sess *session.Session, name, description, assignee string) (int64, error)
}

// TurnLogger persists transcripts.
type TurnLogger interface {
	Sink(taskID int64) orchestrator.TurnSink
	LogTranscript(ctx context.Context, taskID int64, transcript []models.Turn) (int, error)
}

// FeedbackStore appends feedback rows.
type FeedbackStore interface {
	InsertFeedback(ctx context.Context, userID, taskID int64, text string) (int64, error)
}

// CoordinatorFactory builds the speaker coordinator for a session.
type CoordinatorFactory func(sess *session.Session) orchestrator.Coordinator

// TurnEvent is a turn as it is appended to a task transcript.
type TurnEvent struct {
	SessionID string      `json:"session_id"`
	ProjectID int64       `json:"project_id"`
	TaskID    int64       `json:"task_id"`
	Sequence  int         `json:"sequence"`
	Turn      models.Turn `json:"turn"`
}

// TurnListener receives every appended turn.
type TurnListener func(TurnEvent)

// Outcome reports how one message was handled.
type Outcome struct {
	ProjectID int64                `json:"project_id"`
	TaskID    int64                `json:"task_id"`
	Status    string               `json:"status"`
	Result    *orchestrator.Result `json:"-"`
}

// Service handles inbound messages and feedback.
type Service struct {
	sessions    Sessions
	logger      TurnLogger
	feedback    FeedbackStore
	coordinator CoordinatorFactory
	cfg         orchestrator.Config
	listener    TurnListener
	seedSpeaker string
}

// Option configures a Service.
type Option func(*Service)

// WithTurnListener forwards every turn to fn.
func WithTurnListener(fn TurnListener) Option {
	return func(s *Service) { s.listener = fn }
}

// WithSeedSpeaker sets who authors the inbound message. Defaults to the user-proxy seat.
func WithSeedSpeaker(name string) Option {
	return func(s *Service) { s.seedSpeaker = name }
}

// NewService creates a conversation service.
func NewService(sessions Sessions, logger TurnLogger, feedback FeedbackStore, coordinator CoordinatorFactory, cfg orchestrator.Config, opts ...Option) *Service {
	s := &Service{
		sessions:    sessions,
		logger:      logger,
		feedback:    feedback,
		coordinator: coordinator,
		cfg:         cfg,
		seedSpeaker: models.DefaultAgentNames[models.RoleUserProxy],
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage opens a new task for text under the session's project and runs
// the conversation to completion. A stalled conversation is reported through
// Outcome.Status, not as an error. Setup failures, persistence failures and
// cancellation return an error; once a task exists the Outcome is returned too.
// Closing the session cancels the conversation like cancelling ctx does.
func (s *Service) HandleMessage(ctx context.Context, sess *session.Session, text string) (*Outcome, error) {
	ctx, done := sess.Begin(ctx)
	defer done()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	projectID, err := s.sessions.EnsureProject(ctx, sess)
	if err != nil {
		return nil, err
	}
	taskID, err := s.sessions.BindTask(ctx, sess, text, TaskDescription, models.DefaultAgentNames[models.RolePlanner])
	if err != nil {
		return nil, err
	}
	out := &Outcome{ProjectID: projectID, TaskID: taskID}

	o, err := orchestrator.New(s.cfg, sess.Participants(), s.coordinator(sess),
		orchestrator.WithSink(s.logger.Sink(taskID)),
		orchestrator.WithObserver(s.observe(sess, projectID, taskID)),
	)
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}

	s.publish(TurnEvent{SessionID: sess.ID, ProjectID: projectID, TaskID: taskID, Turn: models.Turn{Speaker: s.seedSpeaker, Content: text}})

	res, runErr := o.Run(ctx, s.seedSpeaker, text)
	out.Result = res
	out.Status = statusFor(res)

	// Turns are committed as they happen; this catches any gap before returning.
	if res != nil && !errors.Is(runErr, models.ErrPersistence) {
		if n, err := s.logger.LogTranscript(context.WithoutCancel(ctx), taskID, res.Transcript); err != nil {
			return out, err
		} else if n > 0 {
			log.Warn().Int64("task_id", taskID).Int("written", n).Msg("Backfilled uncommitted turns")
		}
	}

	log.Info().Str("session_id", sess.ID).Int64("task_id", taskID).Str("status", out.Status).Msg("Message handled")

	switch {
	case runErr == nil, errors.Is(runErr, orchestrator.ErrStall):
		return out, nil
	default:
		return out, runErr
	}
}

func (s *Service) observe(sess *session.Session, projectID, taskID int64) orchestrator.Observer {
	return func(e orchestrator.Event) {
		switch e.Kind {
		case orchestrator.EventTurn:
			sess.Renderer.Render(*e.Turn)
			s.publish(TurnEvent{SessionID: sess.ID, ProjectID: projectID, TaskID: taskID, Sequence: e.Sequence, Turn: *e.Turn})
		case orchestrator.EventParticipantExcluded:
			sess.Renderer.Notify(fmt.Sprintf("%s left the conversation (%s).", e.Speaker, e.Reason))
		}
	}
}

func (s *Service) publish(e TurnEvent) {
	if s.listener != nil {
		s.listener(e)
	}
}

// statusFor maps a result onto the status shown to the human.
func statusFor(res *orchestrator.Result) string {
	if res == nil {
		return StatusCouldNotContinue
	}
	switch {
	case res.State == orchestrator.StateCompleted && res.Truncated:
		return StatusCompletedTruncated
	case res.State == orchestrator.StateCompleted:
		return StatusCompleted
	case res.Reason == orchestrator.ReasonCancelled:
		return StatusCancelled
	default:
		return StatusCouldNotContinue
	}
}

// CollectFeedback asks once for free-text feedback on taskID and stores it.
// Blank feedback is dropped without error. Returns whether a row was written.
func (s *Service) CollectFeedback(ctx context.Context, sess *session.Session, taskID int64) (bool, error) {
	if sess.Prompter == nil {
		return false, nil
	}
	text, err := sess.Prompter.Ask(ctx, frontend.PromptFeedback)
	if errors.Is(err, frontend.ErrNoInput) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ask feedback: %w", err)
	}
	return s.SubmitFeedback(ctx, sess, taskID, text)
}

// SubmitFeedback stores text as feedback on taskID. Private tags are stripped first.
func (s *Service) SubmitFeedback(ctx context.Context, sess *session.Session, taskID int64, text string) (bool, error) {
	text = privacy.Clean(text)
	if text == "" {
		return false, nil
	}
	if _, err := s.feedback.InsertFeedback(ctx, sess.UserID, taskID, text); err != nil {
		return false, fmt.Errorf("store feedback: %w", err)
	}
	sess.Renderer.Notify(frontend.MessageThankYou)
	return true, nil
}
