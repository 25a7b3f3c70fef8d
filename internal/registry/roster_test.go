package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/roundtable/pkg/models"
)

func TestLoadRosterMissingFile(t *testing.T) {
	r, err := LoadRoster("/nonexistent/path/that/does/not/exist.yaml")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Names())
}

func TestLoadRosterValidYAML(t *testing.T) {
	const yamlContent = `
agents:
  - name: Planner
    system_message: Break work down.
    model_config:
      model: gpt-4o
      seed: 42
  - name: Critic
    system_message: Find flaws.
`
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	r, err := LoadRoster(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"Critic", "Planner"}, r.Names())

	e, ok := r.Get("Planner")
	require.True(t, ok)
	assert.Equal(t, "Break work down.", e.SystemMessage)

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "Planner", defs[0].Name)
	assert.Equal(t, "gpt-4o", defs[0].ModelConfig.Model)
	require.NotNil(t, defs[0].ModelConfig.Seed)
	assert.Equal(t, 42, *defs[0].ModelConfig.Seed)
	assert.Empty(t, defs[1].ModelConfig.Model)

	_, ok = r.Get("nonexistent")
	assert.False(t, ok)
}

func TestLoadRosterInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\tinvalid:\tyaml:\t[unclosed"), 0600))

	r, err := LoadRoster(path)
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestParseRoster_Rules(t *testing.T) {
	_, err := ParseRoster([]byte("agents:\n  - system_message: nameless\n"))
	assert.Error(t, err)

	r, err := ParseRoster([]byte("agents:\n  - name: A\n    system_message: one\n  - name: A\n    system_message: two\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
	e, _ := r.Get("A")
	assert.Equal(t, "two", e.SystemMessage)
}

func TestDefaultRosterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, EnsureRosterFile(path))

	// Existing files are left alone.
	require.NoError(t, os.WriteFile(path, []byte("agents: []\n"), 0600))
	require.NoError(t, EnsureRosterFile(path))
	r, err := LoadRoster(path)
	require.NoError(t, err)
	assert.Zero(t, r.Len())

	require.NoError(t, os.Remove(path))
	require.NoError(t, EnsureRosterFile(path))
	r, err = LoadRoster(path)
	require.NoError(t, err)

	defs := r.Definitions()
	require.Len(t, defs, len(models.Roles))
	for i, role := range models.Roles {
		assert.Equal(t, models.DefaultAgentNames[role], defs[i].Name)
		assert.Equal(t, models.DefaultSystemMessages[role], defs[i].SystemMessage)
		assert.Equal(t, "gpt-4o", defs[i].ModelConfig.Model)
	}
}
