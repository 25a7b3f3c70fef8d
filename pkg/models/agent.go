// Package models contains domain models for roundtable.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Role identifies a seat in the fixed agent roster.
type Role string

const (
	RoleUserProxy Role = "user_proxy"
	RolePlanner   Role = "planner"
	RoleEngineer  Role = "engineer"
	RoleScientist Role = "scientist"
	RoleExecutor  Role = "executor"
	RoleCritic    Role = "critic"
)

// Roles lists the roster in group-chat order.
var Roles = []Role{RoleUserProxy, RolePlanner, RoleEngineer, RoleScientist, RoleExecutor, RoleCritic}

// DefaultAgentNames maps each role to the display name its agent definition is stored under.
var DefaultAgentNames = map[Role]string{
	RoleUserProxy: "Admin",
	RolePlanner:   "Planner",
	RoleEngineer:  "Engineer",
	RoleScientist: "Scientist",
	RoleExecutor:  "Executor",
	RoleCritic:    "Critic",
}

// AgentDefinition is a named agent's behavioral configuration.
type AgentDefinition struct {
	ID            int64       `json:"id"`
	Name          string      `json:"agent_name"`
	SystemMessage string      `json:"system_message"`
	ModelConfig   ModelConfig `json:"model_config"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Clone returns a deep copy so snapshots never share mutable state with the store.
func (d *AgentDefinition) Clone() *AgentDefinition {
	if d == nil {
		return nil
	}
	c := *d
	c.ModelConfig = d.ModelConfig.Clone()
	return &c
}

// knownModelConfigKeys are the JSON keys bound to typed ModelConfig fields.
var knownModelConfigKeys = []string{"model", "temperature", "seed", "max_tokens", "timeout", "base_url"}

// ModelConfig holds model parameters. Keys without a typed field are kept in Extra
// and written back unchanged.
type ModelConfig struct {
	Model          string         `json:"model,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	Seed           *int           `json:"seed,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	TimeoutSeconds int            `json:"timeout,omitempty"`
	BaseURL        string         `json:"base_url,omitempty"`
	Extra          map[string]any `json:"-"`
}

// Timeout returns the configured per-call timeout, or zero when unset.
func (c ModelConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Clone returns a deep copy of the config.
func (c ModelConfig) Clone() ModelConfig {
	out := c
	if c.Temperature != nil {
		t := *c.Temperature
		out.Temperature = &t
	}
	if c.Seed != nil {
		s := *c.Seed
		out.Seed = &s
	}
	if c.Extra != nil {
		data, err := json.Marshal(c.Extra)
		if err == nil {
			var extra map[string]any
			if json.Unmarshal(data, &extra) == nil {
				out.Extra = extra
			}
		}
	}
	return out
}

// UnmarshalJSON decodes the typed fields and collects everything else into Extra.
func (c *ModelConfig) UnmarshalJSON(data []byte) error {
	type plain ModelConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownModelConfigKeys {
		delete(raw, k)
	}
	p.Extra = nil
	if len(raw) > 0 {
		p.Extra = raw
	}
	*c = ModelConfig(p)
	return nil
}

// MarshalJSON writes the typed fields and merges Extra at the top level.
// Typed fields win over Extra keys with the same name.
func (c ModelConfig) MarshalJSON() ([]byte, error) {
	type plain ModelConfig
	data, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return data, nil
	}
	merged := make(map[string]any, len(c.Extra)+len(knownModelConfigKeys))
	for k, v := range c.Extra {
		merged[k] = v
	}
	var typed map[string]any
	if err := json.Unmarshal(data, &typed); err != nil {
		return nil, err
	}
	for k, v := range typed {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Scan implements sql.Scanner.
func (c *ModelConfig) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan model config: %w", err)
	}
	if len(data) == 0 {
		*c = ModelConfig{}
		return nil
	}
	return json.Unmarshal(data, c)
}

// Value implements driver.Valuer.
func (c ModelConfig) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// DefaultSystemMessages holds the stock system message for each role.
var DefaultSystemMessages = map[Role]string{
	RoleUserProxy: "Admin: Interface with the user.  Relay user requests, collect feedback, and manage the overall project.  Always ask for clarification if the user's request is ambiguous.",
	RolePlanner:   "Planner: Manage the task workflow, delegate tasks to appropriate agents, and ensure efficient collaboration. Break down complex problems into smaller, manageable sub-tasks.",
	RoleEngineer:  "Engineer: Specialize in structural analysis and design.  Use FEA tools and principles to solve problems. Always provide clear explanations for your decisions.",
	RoleScientist: "Scientist: Analyze data, interpret results, and provide insights. Use statistical methods and visualization tools to communicate findings.",
	RoleExecutor:  "Executor: Execute code, run simulations, and interact with external tools (e.g., CAD software, FEA solvers).  Report results and any errors encountered.",
	RoleCritic:    "Critic: Evaluate the work of other agents, identify potential flaws, and suggest improvements.  Focus on accuracy, efficiency, and adherence to best practices.",
}

// DefaultModelConfig is the model configuration the stock roster ships with.
func DefaultModelConfig() ModelConfig {
	temperature := 0.0
	seed := 221
	return ModelConfig{
		Model:          "gpt-4o",
		Temperature:    &temperature,
		Seed:           &seed,
		TimeoutSeconds: 60,
	}
}

// DefaultAgentDefinitions returns the stock six-role roster in group-chat order.
func DefaultAgentDefinitions() []AgentDefinition {
	defs := make([]AgentDefinition, 0, len(Roles))
	for _, role := range Roles {
		defs = append(defs, AgentDefinition{
			Name:          DefaultAgentNames[role],
			SystemMessage: DefaultSystemMessages[role],
			ModelConfig:   DefaultModelConfig(),
		})
	}
	return defs
}
