// Package config provides configuration management for roundtable.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir     string
	origHomeDir string
}

func (s *ConfigSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "config-test-*")
	s.Require().NoError(err)

	// Save and override HOME
	s.origHomeDir = os.Getenv("HOME")
	os.Setenv("HOME", s.tempDir)
}

func (s *ConfigSuite) TearDownTest() {
	os.Setenv("HOME", s.origHomeDir)
	os.RemoveAll(s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultHTTPPort, cfg.HTTPPort)
	s.Equal(DefaultModel, cfg.Model)
	s.Equal("sqlite", cfg.DBDriver)
	s.Equal(4, cfg.MaxConns)
	s.Equal(50, cfg.MaxRounds)
	s.Equal("TERMINATE", cfg.TerminationToken)
	s.Equal(HumanInputAlways, cfg.HumanInputMode)
	s.Equal(3, cfg.MaxConsecutiveFailures)
	s.False(cfg.AllowRepeatSpeaker)
	s.Equal([]string{"private"}, cfg.PrivateTags)
}

// TestPaths tests data directory derived paths.
func (s *ConfigSuite) TestPaths() {
	s.Contains(DataDir(), ".roundtable")
	s.Contains(DBPath(), "roundtable.db")
	s.Contains(SettingsPath(), "settings.json")
	s.Contains(AgentsPath(), "agents.yaml")
}

// TestEnsureSettings tests settings file creation.
func (s *ConfigSuite) TestEnsureSettings() {
	s.Require().NoError(EnsureDataDir())

	s.NoError(EnsureSettings())
	info, err := os.Stat(SettingsPath())
	s.NoError(err)
	s.False(info.IsDir())

	// Second call should not error (file exists)
	s.NoError(EnsureSettings())

	// The written file loads back to the defaults.
	cfg, err := Load()
	s.NoError(err)
	s.Equal(DefaultMaxRounds, cfg.MaxRounds)
}

// TestEnsureAll tests full initialization.
func (s *ConfigSuite) TestEnsureAll() {
	s.NoError(EnsureAll())

	_, err := os.Stat(DataDir())
	s.NoError(err)
	_, err = os.Stat(SettingsPath())
	s.NoError(err)
}

// TestLoad_TableDriven tests configuration loading with various scenarios.
func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		name          string
		settingsJSON  string
		expectedModel string
		expectedPort  int
		expectedRound int
	}{
		{
			name:          "no settings file",
			expectedPort:  DefaultHTTPPort,
			expectedModel: DefaultModel,
			expectedRound: DefaultMaxRounds,
		},
		{
			name:          "custom port",
			settingsJSON:  `{"ROUNDTABLE_HTTP_PORT": 38888}`,
			expectedPort:  38888,
			expectedModel: DefaultModel,
			expectedRound: DefaultMaxRounds,
		},
		{
			name:          "custom model",
			settingsJSON:  `{"ROUNDTABLE_MODEL": "gpt-4o-mini"}`,
			expectedPort:  DefaultHTTPPort,
			expectedModel: "gpt-4o-mini",
			expectedRound: DefaultMaxRounds,
		},
		{
			name:          "custom rounds",
			settingsJSON:  `{"ROUNDTABLE_MAX_ROUNDS": 12}`,
			expectedPort:  DefaultHTTPPort,
			expectedModel: DefaultModel,
			expectedRound: 12,
		},
		{
			name:          "non-positive rounds ignored",
			settingsJSON:  `{"ROUNDTABLE_MAX_ROUNDS": 0}`,
			expectedPort:  DefaultHTTPPort,
			expectedModel: DefaultModel,
			expectedRound: DefaultMaxRounds,
		},
		{
			name:          "invalid JSON returns defaults",
			settingsJSON:  `{invalid}`,
			expectedPort:  DefaultHTTPPort,
			expectedModel: DefaultModel,
			expectedRound: DefaultMaxRounds,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			tempDir, err := os.MkdirTemp("", "config-test-*")
			s.Require().NoError(err)
			defer os.RemoveAll(tempDir)

			os.Setenv("HOME", tempDir)
			s.Require().NoError(os.MkdirAll(filepath.Join(tempDir, ".roundtable"), 0750))

			if tt.settingsJSON != "" {
				writeErr := os.WriteFile(
					filepath.Join(tempDir, ".roundtable", "settings.json"),
					[]byte(tt.settingsJSON),
					0600,
				)
				s.Require().NoError(writeErr)
			}

			cfg, err := Load()
			s.NoError(err)
			s.NotNil(cfg)
			s.Equal(tt.expectedPort, cfg.HTTPPort)
			s.Equal(tt.expectedModel, cfg.Model)
			s.Equal(tt.expectedRound, cfg.MaxRounds)
		})
	}
}

// TestLoad_OrchestrationSettings tests orchestration-related settings loading.
func (s *ConfigSuite) TestLoad_OrchestrationSettings() {
	s.Require().NoError(EnsureDataDir())

	settingsJSON := `{
		"ROUNDTABLE_TERMINATION_TOKEN": "DONE",
		"ROUNDTABLE_HUMAN_INPUT_MODE": "never",
		"ROUNDTABLE_ALLOW_REPEAT_SPEAKER": true,
		"ROUNDTABLE_MAX_CONSECUTIVE_FAILURES": 5,
		"ROUNDTABLE_PRIVATE_TAGS": "private, secret,,"
	}`
	s.Require().NoError(os.WriteFile(SettingsPath(), []byte(settingsJSON), 0600))

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal("DONE", cfg.TerminationToken)
	s.Equal(HumanInputNever, cfg.HumanInputMode)
	s.True(cfg.AllowRepeatSpeaker)
	s.Equal(5, cfg.MaxConsecutiveFailures)
	s.Equal([]string{"private", "secret"}, cfg.PrivateTags)
}

// TestLoad_EnvOverrides tests environment overrides.
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ROUNDTABLE_DATABASE_URL", "postgres://u:p@localhost/roundtable")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("API_KEY", "sk-test")
	t.Setenv("ROUNDTABLE_MAX_ROUNDS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "postgres://u:p@localhost/roundtable", cfg.DatabaseURL)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, 7, cfg.MaxRounds)
}

// TestSplitTrim tests the splitTrim helper function.
func TestSplitTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: []string{}},
		{name: "single value", input: "private", expected: []string{"private"}},
		{name: "multiple values", input: "private,secret,internal", expected: []string{"private", "secret", "internal"}},
		{name: "values with spaces", input: " private , secret ", expected: []string{"private", "secret"}},
		{name: "empty values filtered", input: "private,,secret,,", expected: []string{"private", "secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitTrim(tt.input))
		})
	}
}

// TestGetHTTPPort_WithEnv tests GetHTTPPort with environment variable.
func TestGetHTTPPort_WithEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	t.Setenv("ROUNDTABLE_HTTP_PORT", "45678")
	assert.Equal(t, 45678, GetHTTPPort())

	// Invalid and zero values fall back to config
	t.Setenv("ROUNDTABLE_HTTP_PORT", "not-a-number")
	assert.Greater(t, GetHTTPPort(), 0)

	t.Setenv("ROUNDTABLE_HTTP_PORT", "0")
	assert.Greater(t, GetHTTPPort(), 0)
}
