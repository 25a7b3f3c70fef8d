package agent

import (
	"context"
	"strings"

	"github.com/thebtf/roundtable/internal/llm"
	"github.com/thebtf/roundtable/pkg/models"
)

// CoordinatorName is the speaker name the coordinator uses toward a backend.
const CoordinatorName = "Coordinator"

// Completer is implemented by backends that take a single system+user exchange.
type Completer interface {
	Complete(ctx context.Context, cfg models.ModelConfig, system, user string) (string, error)
}

// Coordinator asks a model who should speak next. Its reply is returned as-is;
// the orchestrator parses it and falls back when it is unusable.
type Coordinator struct {
	backend llm.Backend
	cfg     models.ModelConfig
	roles   map[string]string
	window  int
}

// NewCoordinator creates a model-backed coordinator. roles maps participant
// names to their system messages and is used to describe the seats.
func NewCoordinator(backend llm.Backend, cfg models.ModelConfig, roles map[string]string) *Coordinator {
	return &Coordinator{backend: backend, cfg: cfg.Clone(), roles: roles, window: defaultWindow}
}

// RolesFrom builds the role description map from definitions.
func RolesFrom(defs []*models.AgentDefinition) map[string]string {
	roles := make(map[string]string, len(defs))
	for _, def := range defs {
		roles[def.Name] = def.SystemMessage
	}
	return roles
}

// CoordinatorConfig returns the planner's frozen model config, or fallback when
// defs has no planner. An empty model name is filled from fallback.
func CoordinatorConfig(defs []*models.AgentDefinition, fallback models.ModelConfig) models.ModelConfig {
	planner := models.DefaultAgentNames[models.RolePlanner]
	for _, def := range defs {
		if !strings.EqualFold(def.Name, planner) {
			continue
		}
		cfg := def.ModelConfig.Clone()
		if cfg.Model == "" {
			cfg.Model = fallback.Model
		}
		return cfg
	}
	return fallback.Clone()
}

// Nominate returns the model's raw choice.
func (c *Coordinator) Nominate(ctx context.Context, transcript []models.Turn, eligible []string) (string, error) {
	system := BuildSelectionPrompt(c.roles, eligible)

	if completer, ok := c.backend.(Completer); ok {
		reply, err := completer.Complete(ctx, c.cfg, system, BuildTranscriptPrompt(transcript, c.window))
		return strings.TrimSpace(reply), err
	}

	def := &models.AgentDefinition{Name: CoordinatorName, SystemMessage: system, ModelConfig: c.cfg}
	window := transcript
	if len(window) > c.window {
		window = window[len(window)-c.window:]
	}
	reply, err := c.backend.Respond(ctx, def, window)
	return strings.TrimSpace(reply), err
}
