// Package agent provides the conversation participants: model-backed agents,
// the human proxy seat and the coordinator that nominates speakers.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/roundtable/internal/frontend"
	"github.com/thebtf/roundtable/internal/llm"
	"github.com/thebtf/roundtable/internal/orchestrator"
	"github.com/thebtf/roundtable/pkg/models"
)

// Agent is a participant whose replies come from a model backend.
// Its definition is fixed when the agent is built.
type Agent struct {
	def     *models.AgentDefinition
	backend llm.Backend
}

// New creates a model-backed participant from a copy of def.
func New(def *models.AgentDefinition, backend llm.Backend) *Agent {
	return &Agent{def: def.Clone(), backend: backend}
}

// Name returns the agent's display name.
func (a *Agent) Name() string { return a.def.Name }

// Definition returns a copy of the frozen definition.
func (a *Agent) Definition() *models.AgentDefinition { return a.def.Clone() }

// Respond asks the backend for the next reply.
func (a *Agent) Respond(ctx context.Context, transcript []models.Turn) (string, error) {
	return a.backend.Respond(ctx, a.def, transcript)
}

// HumanProxy speaks for the human. An empty reply or closed input ends the conversation.
type HumanProxy struct {
	name             string
	prompter         frontend.Prompter
	terminationToken string
}

// NewHumanProxy creates the human seat.
func NewHumanProxy(name string, prompter frontend.Prompter, terminationToken string) *HumanProxy {
	if terminationToken == "" {
		terminationToken = orchestrator.DefaultTerminationToken
	}
	return &HumanProxy{name: name, prompter: prompter, terminationToken: terminationToken}
}

// Name returns the seat name.
func (h *HumanProxy) Name() string { return h.name }

// Respond asks the human for a reply.
func (h *HumanProxy) Respond(ctx context.Context, _ []models.Turn) (string, error) {
	reply, err := h.prompter.Ask(ctx, fmt.Sprintf("Reply as %s (leave empty to end the conversation):", h.name))
	switch {
	case errors.Is(err, frontend.ErrNoInput):
		return h.terminationToken, nil
	case errors.Is(err, context.DeadlineExceeded):
		return "", fmt.Errorf("%w: no reply from %s", llm.ErrTimeout, h.name)
	case err != nil:
		return "", fmt.Errorf("%w: %w", llm.ErrUnreachable, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return h.terminationToken, nil
	}
	return reply, nil
}

// AutoReply stands in for the human when human input is disabled.
type AutoReply struct {
	name  string
	reply string
}

// NewAutoReply creates a seat that always answers reply.
func NewAutoReply(name, reply string) *AutoReply {
	return &AutoReply{name: name, reply: reply}
}

// Name returns the seat name.
func (a *AutoReply) Name() string { return a.name }

// Respond returns the fixed reply.
func (a *AutoReply) Respond(context.Context, []models.Turn) (string, error) {
	return a.reply, nil
}

// Factory builds participant handles from frozen definitions.
type Factory struct {
	Backend          llm.Backend
	Prompter         frontend.Prompter
	UserProxyName    string
	HumanInputMode   string
	AutoReply        string
	TerminationToken string
}

// Human input modes.
const (
	HumanInputAlways = "always"
	HumanInputNever  = "never"
)

// Participant returns the handle for def. The user-proxy seat becomes a human
// proxy, or an auto-reply seat when human input is off or no prompter is set.
func (f *Factory) Participant(def *models.AgentDefinition) orchestrator.Participant {
	if strings.EqualFold(def.Name, f.userProxyName()) {
		if f.HumanInputMode == HumanInputNever || f.Prompter == nil {
			reply := f.AutoReply
			if reply == "" {
				reply = "Continue."
			}
			return NewAutoReply(def.Name, reply)
		}
		return NewHumanProxy(def.Name, f.Prompter, f.TerminationToken)
	}
	return New(def, f.Backend)
}

// Participants builds handles for defs in order.
func (f *Factory) Participants(defs []*models.AgentDefinition) []orchestrator.Participant {
	out := make([]orchestrator.Participant, 0, len(defs))
	for _, def := range defs {
		out = append(out, f.Participant(def))
	}
	log.Debug().Int("count", len(out)).Str("human_input", f.HumanInputMode).Msg("Built participants")
	return out
}

func (f *Factory) userProxyName() string {
	if f.UserProxyName != "" {
		return f.UserProxyName
	}
	return models.DefaultAgentNames[models.RoleUserProxy]
}
