package conversation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/roundtable/internal/agent"
	gormdb "github.com/thebtf/roundtable/internal/db/gorm"
	"github.com/thebtf/roundtable/internal/frontend"
	"github.com/thebtf/roundtable/internal/interaction"
	"github.com/thebtf/roundtable/internal/llm"
	"github.com/thebtf/roundtable/internal/orchestrator"
	"github.com/thebtf/roundtable/internal/registry"
	"github.com/thebtf/roundtable/internal/session"
	"github.com/thebtf/roundtable/pkg/models"
)

type ServiceSuite struct {
	suite.Suite
	ctx          context.Context
	store        *gormdb.Store
	backend      *llm.Scripted
	manager      *session.Manager
	interactions *gormdb.InteractionStore
	feedback     *gormdb.FeedbackStore
	projects     *gormdb.ProjectStore
	service      *Service
	recorder     *frontend.Recorder

	mu      sync.Mutex
	events  []TurnEvent
	onEvent func(TurnEvent)
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	store, err := gormdb.NewStore(gormdb.Config{
		Path:     filepath.Join(s.T().TempDir(), "test.db"),
		LogLevel: logger.Silent,
	})
	s.Require().NoError(err)
	s.store = store
	s.interactions = gormdb.NewInteractionStore(store)
	s.feedback = gormdb.NewFeedbackStore(store)
	s.projects = gormdb.NewProjectStore(store)
	s.recorder = &frontend.Recorder{}
	s.events = nil
	s.onEvent = nil

	reg := registry.New(gormdb.NewAgentStore(store))
	s.backend = llm.NewScripted()
	factory := &agent.Factory{Backend: s.backend, HumanInputMode: agent.HumanInputNever}
	s.manager = session.NewManager(gormdb.NewUserStore(store), s.projects, reg, factory)

	s.service = NewService(s.manager, interaction.NewLogger(s.interactions, reg), s.feedback,
		func(sess *session.Session) orchestrator.Coordinator {
			return agent.NewCoordinator(s.backend, models.ModelConfig{}, agent.RolesFrom(sess.Definitions()))
		},
		orchestrator.Config{MaxRounds: 6},
		WithTurnListener(func(e TurnEvent) {
			s.mu.Lock()
			s.events = append(s.events, e)
			hook := s.onEvent
			s.mu.Unlock()
			if hook != nil {
				hook(e)
			}
		}),
	)
}

func (s *ServiceSuite) TearDownTest() {
	s.manager.Shutdown()
	s.store.Close()
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) open(answers ...string) *session.Session {
	sess, err := s.manager.Open(s.ctx, "alice",
		session.WithPrompter(frontend.NewStatic(answers...)),
		session.WithRenderer(s.recorder))
	s.Require().NoError(err)
	return sess
}

func (s *ServiceSuite) TestHandleMessageCompletes() {
	s.backend.Say(agent.CoordinatorName, "Planner", "Engineer", "Critic")
	s.backend.Say("Planner", "Plan: loads, then members")
	s.backend.Say("Engineer", "Members sized")
	s.backend.Say("Critic", "Approved. TERMINATE")

	sess := s.open("Bridge", "A footbridge")
	out, err := s.service.HandleMessage(s.ctx, sess, "Design a truss")
	s.Require().NoError(err)
	s.Equal(StatusCompleted, out.Status)

	task, err := s.projects.GetTask(s.ctx, out.TaskID)
	s.Require().NoError(err)
	s.Equal("Design a truss", task.Name)
	s.Equal(TaskDescription, task.Description)
	s.Equal("Planner", task.AssignedAgent)
	s.Equal(out.ProjectID, task.ProjectID)

	rows, err := s.interactions.ListInteractions(s.ctx, out.TaskID)
	s.Require().NoError(err)
	s.Require().Len(rows, 4)
	s.Equal("Admin", rows[0].Speaker)
	s.Equal(models.InteractionInput, rows[0].Type)
	s.Equal("Critic", rows[3].Speaker)

	s.Len(s.recorder.Turns(), 3)
	s.Contains(s.recorder.Notices(), "Created project: Bridge (ID: 1)")
	s.Len(s.events, 4)
	s.Equal(0, s.events[0].Sequence)
	s.Equal(3, s.events[3].Sequence)
}

func (s *ServiceSuite) TestTwoMessagesShareProject() {
	sess := s.open("Bridge", "")
	s.backend.Fallback = func(def *models.AgentDefinition, _ []models.Turn) string {
		if def.Name == agent.CoordinatorName {
			return "Critic"
		}
		return "done TERMINATE"
	}

	first, err := s.service.HandleMessage(s.ctx, sess, "Design a truss")
	s.Require().NoError(err)
	second, err := s.service.HandleMessage(s.ctx, sess, "Now check deflection")
	s.Require().NoError(err)

	s.Equal(first.ProjectID, second.ProjectID)
	s.NotEqual(first.TaskID, second.TaskID)

	tasks, err := s.projects.ListTasksByProject(s.ctx, first.ProjectID, 10)
	s.Require().NoError(err)
	s.Len(tasks, 2)
}

func (s *ServiceSuite) TestRoundCapReportsTruncation() {
	sess := s.open("Bridge", "")
	s.backend.Fallback = func(def *models.AgentDefinition, _ []models.Turn) string {
		if def.Name == agent.CoordinatorName {
			return "nobody"
		}
		return def.Name + " keeps talking"
	}

	out, err := s.service.HandleMessage(s.ctx, sess, "Design a truss")
	s.Require().NoError(err)
	s.Equal(StatusCompletedTruncated, out.Status)
	s.True(out.Result.Truncated)
	s.Len(out.Result.Transcript, 7)

	rows, err := s.interactions.ListInteractions(s.ctx, out.TaskID)
	s.Require().NoError(err)
	s.Len(rows, 7)
}

func (s *ServiceSuite) TestStallReportsCouldNotContinue() {
	s.service.cfg.MaxRounds = 10
	sess := s.open("Bridge", "")
	s.backend.Fallback = func(def *models.AgentDefinition, _ []models.Turn) string { return "Planner" }
	for _, name := range []string{"Planner", "Engineer", "Scientist", "Executor", "Critic"} {
		s.backend.Script(name, llm.Reply{Err: llm.ErrUnreachable})
	}

	// Every agent is excluded in turn, Admin speaks once and then nobody is eligible.
	out, err := s.service.HandleMessage(s.ctx, sess, "Design a truss")
	s.Require().NoError(err)
	s.Equal(StatusCouldNotContinue, out.Status)
	s.Equal(orchestrator.ReasonStalled, out.Result.Reason)
	s.Equal([]string{"Planner", "Engineer", "Scientist", "Executor", "Critic"}, out.Result.Excluded)
	s.Len(out.Result.Transcript, 7)

	rows, err := s.interactions.ListInteractions(s.ctx, out.TaskID)
	s.Require().NoError(err)
	s.Len(rows, 7)
	s.Equal("unreachable", rows[1].Metadata["error_kind"])
	s.Len(s.recorder.Notices(), 6)
}

func (s *ServiceSuite) TestCancelledContext() {
	sess := s.open("Bridge", "")
	ctx, cancel := context.WithCancel(s.ctx)

	s.backend.Fallback = func(def *models.AgentDefinition, _ []models.Turn) string {
		if def.Name == agent.CoordinatorName {
			cancel()
			return "Planner"
		}
		return "unreachable"
	}

	out, err := s.service.HandleMessage(ctx, sess, "Design a truss")
	s.ErrorIs(err, context.Canceled)
	s.Require().NotNil(out)
	s.Equal(StatusCancelled, out.Status)
	s.Zero(s.backend.Calls("Planner"))
}

func (s *ServiceSuite) TestCancelAfterSeedStillLogsSeed() {
	sess := s.open("Bridge", "")
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.onEvent = func(e TurnEvent) {
		if e.Sequence == 0 {
			cancel()
		}
	}

	out, err := s.service.HandleMessage(ctx, sess, "Design a truss")
	s.ErrorIs(err, context.Canceled)
	s.NotErrorIs(err, models.ErrPersistence)
	s.Require().NotNil(out)
	s.Equal(StatusCancelled, out.Status)
	s.Zero(s.backend.Calls(agent.CoordinatorName))

	rows, err := s.interactions.ListInteractions(s.ctx, out.TaskID)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("Admin", rows[0].Speaker)
	s.Equal("Design a truss", rows[0].Message)
}

func (s *ServiceSuite) TestDeletingSessionStopsConversation() {
	sess := s.open("Bridge", "")
	s.backend.Fallback = func(def *models.AgentDefinition, _ []models.Turn) string {
		switch def.Name {
		case agent.CoordinatorName:
			return "Planner"
		case "Planner":
			s.manager.Delete(sess.ID)
			return "Plan drafted"
		}
		return "should not speak"
	}

	out, err := s.service.HandleMessage(s.ctx, sess, "Design a truss")
	s.ErrorIs(err, context.Canceled)
	s.Require().NotNil(out)
	s.Equal(StatusCancelled, out.Status)
	s.Equal(1, s.backend.Calls("Planner"))
	s.Equal(1, s.backend.Calls(agent.CoordinatorName))

	rows, err := s.interactions.ListInteractions(s.ctx, out.TaskID)
	s.Require().NoError(err)
	s.LessOrEqual(len(rows), 2)
	s.Equal("Admin", rows[0].Speaker)
}

func (s *ServiceSuite) TestEmptyMessage() {
	sess := s.open()
	_, err := s.service.HandleMessage(s.ctx, sess, "   ")
	s.ErrorIs(err, ErrEmptyMessage)
}

func (s *ServiceSuite) TestCollectFeedback() {
	sess := s.open("Bridge", "", "Great work <private>internal note</private>")
	s.backend.Fallback = func(def *models.AgentDefinition, _ []models.Turn) string { return "Critic TERMINATE" }

	out, err := s.service.HandleMessage(s.ctx, sess, "Design a truss")
	s.Require().NoError(err)

	stored, err := s.service.CollectFeedback(s.ctx, sess, out.TaskID)
	s.Require().NoError(err)
	s.True(stored)

	rows, err := s.feedback.ListFeedbackByTask(s.ctx, out.TaskID)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("Great work", rows[0].Text)
	s.Equal(sess.UserID, rows[0].UserID)
	s.Contains(s.recorder.Notices(), frontend.MessageThankYou)
}

func (s *ServiceSuite) TestBlankFeedbackWritesNothing() {
	sess := s.open("Bridge", "", "   ")
	s.backend.Fallback = func(def *models.AgentDefinition, _ []models.Turn) string { return "Critic TERMINATE" }

	out, err := s.service.HandleMessage(s.ctx, sess, "Design a truss")
	s.Require().NoError(err)

	stored, err := s.service.CollectFeedback(s.ctx, sess, out.TaskID)
	s.Require().NoError(err)
	s.False(stored)

	rows, err := s.feedback.ListFeedbackByTask(s.ctx, out.TaskID)
	s.Require().NoError(err)
	s.Empty(rows)

	// Closed input is treated like no feedback.
	stored, err = s.service.CollectFeedback(s.ctx, sess, out.TaskID)
	s.NoError(err)
	s.False(stored)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		res  *orchestrator.Result
		want string
	}{
		{&orchestrator.Result{State: orchestrator.StateCompleted, Reason: orchestrator.ReasonTerminated}, StatusCompleted},
		{&orchestrator.Result{State: orchestrator.StateCompleted, Reason: orchestrator.ReasonMaxRounds, Truncated: true}, StatusCompletedTruncated},
		{&orchestrator.Result{State: orchestrator.StateAborted, Reason: orchestrator.ReasonStalled}, StatusCouldNotContinue},
		{&orchestrator.Result{State: orchestrator.StateAborted, Reason: orchestrator.ReasonPersistence}, StatusCouldNotContinue},
		{&orchestrator.Result{State: orchestrator.StateAborted, Reason: orchestrator.ReasonCancelled}, StatusCancelled},
		{nil, StatusCouldNotContinue},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.res))
	}
}
