// Package registry resolves agent definitions by name.
package registry

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/thebtf/roundtable/pkg/models"
)

// RosterEntry is one agent in the roster file.
type RosterEntry struct {
	Name          string         `yaml:"name"`
	SystemMessage string         `yaml:"system_message"`
	ModelConfig   map[string]any `yaml:"model_config,omitempty"`
}

// rosterFile is the top-level YAML structure.
type rosterFile struct {
	Agents []RosterEntry `yaml:"agents"`
}

// Roster holds agent entries loaded from YAML, keyed by name.
type Roster struct {
	byName map[string]*RosterEntry
	order  []string // preserves definition order
}

// LoadRoster reads the YAML file at path.
// If the file does not exist, LoadRoster returns an empty Roster (not an error).
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Roster{byName: make(map[string]*RosterEntry)}, nil
		}
		return nil, err
	}
	return ParseRoster(data)
}

// ParseRoster decodes roster YAML. Entries without a name are rejected and a
// repeated name replaces the earlier entry.
func ParseRoster(data []byte) (*Roster, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	r := &Roster{byName: make(map[string]*RosterEntry, len(f.Agents))}
	for i := range f.Agents {
		e := &f.Agents[i]
		if e.Name == "" {
			return nil, fmt.Errorf("roster entry %d has no name", i)
		}
		if _, seen := r.byName[e.Name]; !seen {
			r.order = append(r.order, e.Name)
		}
		r.byName[e.Name] = e
	}
	return r, nil
}

// Get returns an entry by name. Returns (nil, false) if not found.
func (r *Roster) Get(name string) (*RosterEntry, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// Len returns the number of entries.
func (r *Roster) Len() int {
	return len(r.order)
}

// Names returns a sorted list of agent names.
func (r *Roster) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Definitions converts the entries to agent definitions in file order.
// Unknown model_config keys survive in ModelConfig.Extra.
func (r *Roster) Definitions() []*models.AgentDefinition {
	out := make([]*models.AgentDefinition, 0, len(r.order))
	for _, name := range r.order {
		e := r.byName[name]
		out = append(out, &models.AgentDefinition{
			Name:          e.Name,
			SystemMessage: e.SystemMessage,
			ModelConfig:   toModelConfig(e.ModelConfig),
		})
	}
	return out
}

func toModelConfig(raw map[string]any) models.ModelConfig {
	var cfg models.ModelConfig
	if len(raw) == 0 {
		return cfg
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return cfg
	}
	_ = json.Unmarshal(data, &cfg)
	return cfg
}

// DefaultRoster returns the stock six-role roster.
func DefaultRoster() *Roster {
	r := &Roster{byName: make(map[string]*RosterEntry)}
	for _, def := range models.DefaultAgentDefinitions() {
		e := &RosterEntry{
			Name:          def.Name,
			SystemMessage: def.SystemMessage,
			ModelConfig:   fromModelConfig(def.ModelConfig),
		}
		r.byName[e.Name] = e
		r.order = append(r.order, e.Name)
	}
	return r
}

func fromModelConfig(cfg models.ModelConfig) map[string]any {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var out map[string]any
	if json.Unmarshal(data, &out) != nil {
		return nil
	}
	return out
}

// Marshal encodes the roster as YAML in definition order.
func (r *Roster) Marshal() ([]byte, error) {
	f := rosterFile{Agents: make([]RosterEntry, 0, len(r.order))}
	for _, name := range r.order {
		f.Agents = append(f.Agents, *r.byName[name])
	}
	return yaml.Marshal(&f)
}

// EnsureRosterFile writes the default roster to path if no file exists there.
func EnsureRosterFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := DefaultRoster().Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
