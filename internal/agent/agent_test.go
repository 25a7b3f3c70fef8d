package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/roundtable/internal/frontend"
	"github.com/thebtf/roundtable/internal/llm"
	"github.com/thebtf/roundtable/internal/orchestrator"
	"github.com/thebtf/roundtable/pkg/models"
)

func defs() []*models.AgentDefinition {
	stock := models.DefaultAgentDefinitions()
	out := make([]*models.AgentDefinition, len(stock))
	for i := range stock {
		out[i] = &stock[i]
	}
	return out
}

func TestAgent_RespondUsesFrozenDefinition(t *testing.T) {
	backend := llm.NewScripted()
	backend.Fallback = func(def *models.AgentDefinition, _ []models.Turn) string {
		return def.SystemMessage
	}

	def := &models.AgentDefinition{Name: "Planner", SystemMessage: "v1"}
	a := New(def, backend)
	def.SystemMessage = "v2"

	got, err := a.Respond(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", got)
	assert.Equal(t, "Planner", a.Name())
	assert.Equal(t, "v1", a.Definition().SystemMessage)
	assert.Equal(t, 1, backend.Calls("Planner"))
}

func TestAgent_PropagatesBackendErrors(t *testing.T) {
	backend := llm.NewScripted().Script("Critic", llm.Reply{Err: llm.ErrUnreachable})
	_, err := New(&models.AgentDefinition{Name: "Critic"}, backend).Respond(context.Background(), nil)
	assert.ErrorIs(t, err, llm.ErrUnreachable)
}

func TestHumanProxy(t *testing.T) {
	tests := []struct {
		name    string
		answers []string
		want    string
		wantErr error
	}{
		{name: "reply is trimmed", answers: []string{"  use steel  "}, want: "use steel"},
		{name: "empty reply terminates", answers: []string{"   "}, want: "DONE"},
		{name: "closed input terminates", answers: nil, want: "DONE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompter := frontend.NewStatic(tt.answers...)
			h := NewHumanProxy("Admin", prompter, "DONE")

			got, err := h.Respond(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.Len(t, prompter.Asked(), 1)
			assert.Contains(t, prompter.Asked()[0], "Admin")
		})
	}
}

type failingPrompter struct{ err error }

func (f failingPrompter) Ask(context.Context, string) (string, error) { return "", f.err }

func TestHumanProxy_Errors(t *testing.T) {
	_, err := NewHumanProxy("Admin", failingPrompter{err: context.DeadlineExceeded}, "").Respond(context.Background(), nil)
	assert.ErrorIs(t, err, llm.ErrTimeout)

	_, err = NewHumanProxy("Admin", failingPrompter{err: errors.New("tty gone")}, "").Respond(context.Background(), nil)
	assert.ErrorIs(t, err, llm.ErrUnreachable)
}

func TestHumanProxy_DefaultToken(t *testing.T) {
	got, err := NewHumanProxy("Admin", frontend.NewStatic(""), "").Respond(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.DefaultTerminationToken, got)
}

func TestFactory(t *testing.T) {
	backend := llm.NewScripted()

	f := &Factory{Backend: backend, Prompter: frontend.NewStatic(), HumanInputMode: HumanInputAlways}
	ps := f.Participants(defs())
	require.Len(t, ps, 6)
	assert.IsType(t, &HumanProxy{}, ps[0])
	for _, p := range ps[1:] {
		assert.IsType(t, &Agent{}, p)
	}

	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name()
	}
	assert.Equal(t, []string{"Admin", "Planner", "Engineer", "Scientist", "Executor", "Critic"}, names)

	never := &Factory{Backend: backend, Prompter: frontend.NewStatic(), HumanInputMode: HumanInputNever}
	admin := never.Participant(defs()[0])
	require.IsType(t, &AutoReply{}, admin)
	got, err := admin.Respond(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Continue.", got)

	custom := &Factory{Backend: backend, AutoReply: "Proceed."}
	got, err = custom.Participant(defs()[0]).Respond(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Proceed.", got)
}

func TestCoordinator_UsesRespondWhenNotCompleter(t *testing.T) {
	backend := llm.NewScripted().Say(CoordinatorName, "  Engineer \n")
	var seen *models.AgentDefinition
	var seenLen int

	c := NewCoordinator(recordingBackend{Backend: backend, seen: &seen, n: &seenLen}, models.ModelConfig{}, RolesFrom(defs()))
	c.window = 2

	transcript := []models.Turn{
		{Speaker: "Admin", Content: "go"},
		{Speaker: "Planner", Content: "plan"},
		{Speaker: "Engineer", Content: "build"},
	}
	got, err := c.Nominate(context.Background(), transcript, []string{"Scientist", "Critic"})
	require.NoError(t, err)
	assert.Equal(t, "Engineer", got)

	require.NotNil(t, seen)
	assert.Equal(t, CoordinatorName, seen.Name)
	assert.Contains(t, seen.SystemMessage, "[Scientist, Critic]")
	assert.Contains(t, seen.SystemMessage, "Scientist: Analyze data")
	assert.Equal(t, 2, seenLen)
}

type recordingBackend struct {
	llm.Backend
	seen **models.AgentDefinition
	n    *int
}

func (r recordingBackend) Respond(ctx context.Context, def *models.AgentDefinition, transcript []models.Turn) (string, error) {
	*r.seen = def
	*r.n = len(transcript)
	return r.Backend.Respond(ctx, def, transcript)
}

type completerBackend struct {
	llm.Backend
	system, user string
}

func (c *completerBackend) Complete(_ context.Context, _ models.ModelConfig, system, user string) (string, error) {
	c.system, c.user = system, user
	return "Critic", nil
}

func TestCoordinator_PrefersCompleter(t *testing.T) {
	b := &completerBackend{Backend: llm.NewScripted()}
	c := NewCoordinator(b, models.ModelConfig{Model: "gpt-4o-mini"}, nil)

	got, err := c.Nominate(context.Background(), []models.Turn{{Speaker: "Admin", Content: "design a truss"}}, []string{"Planner", "Critic"})
	require.NoError(t, err)
	assert.Equal(t, "Critic", got)
	assert.Contains(t, b.system, "- Planner\n")
	assert.Contains(t, b.user, "Admin: design a truss")
}

func TestCoordinatorConfig(t *testing.T) {
	temperature := 0.2
	seed := 7
	planner := &models.AgentDefinition{
		Name:          "Planner",
		SystemMessage: "Plan.",
		ModelConfig:   models.ModelConfig{Temperature: &temperature, Seed: &seed, BaseURL: "http://localhost:8080/v1"},
	}
	critic := &models.AgentDefinition{Name: "Critic", ModelConfig: models.ModelConfig{Model: "critic-model"}}
	fallback := models.ModelConfig{Model: "gpt-4o"}

	got := CoordinatorConfig([]*models.AgentDefinition{critic, planner}, fallback)
	assert.Equal(t, "gpt-4o", got.Model)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-9)
	require.NotNil(t, got.Seed)
	assert.Equal(t, 7, *got.Seed)
	assert.Equal(t, "http://localhost:8080/v1", got.BaseURL)

	// The result is a copy of the frozen definition.
	*got.Seed = 99
	assert.Equal(t, 7, *planner.ModelConfig.Seed)

	planner.ModelConfig.Model = "planner-model"
	assert.Equal(t, "planner-model", CoordinatorConfig([]*models.AgentDefinition{planner}, fallback).Model)

	assert.Equal(t, fallback, CoordinatorConfig([]*models.AgentDefinition{critic}, fallback))
}

func TestBuildTranscriptPrompt(t *testing.T) {
	var transcript []models.Turn
	for i := 0; i < 5; i++ {
		transcript = append(transcript, models.Turn{Speaker: "Planner", Content: strings.Repeat("x", maxTurnChars+10)})
	}

	got := BuildTranscriptPrompt(transcript, 3)
	assert.Contains(t, got, "(2 earlier turns omitted)")
	assert.Equal(t, 3, strings.Count(got, "... (truncated)"))
	assert.True(t, strings.HasSuffix(got, "Who speaks next?"))
}

func TestCoordinatorDrivesOrchestrator(t *testing.T) {
	backend := llm.NewScripted()
	backend.Say(CoordinatorName, "Planner", "Engineer", "Critic")
	backend.Say("Planner", "Plan: size members")
	backend.Say("Engineer", "Members sized")
	backend.Say("Critic", "Looks right. TERMINATE")

	f := &Factory{Backend: backend, HumanInputMode: HumanInputNever}
	all := defs()
	o, err := orchestrator.New(orchestrator.Config{MaxRounds: 10}, f.Participants(all), NewCoordinator(backend, models.ModelConfig{}, RolesFrom(all)))
	require.NoError(t, err)

	res, err := o.Run(context.Background(), "Admin", "Design a truss")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ReasonTerminated, res.Reason)

	speakers := make([]string, len(res.Transcript))
	for i, turn := range res.Transcript {
		speakers[i] = turn.Speaker
	}
	assert.Equal(t, []string{"Admin", "Planner", "Engineer", "Critic"}, speakers)
}
