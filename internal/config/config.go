// Package config provides configuration management for roundtable.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

const (
	// DefaultHTTPPort is the port the audit API listens on.
	DefaultHTTPPort = 37877
	// DefaultModel is the model used when an agent definition does not name one.
	DefaultModel = "gpt-4o"
	// DefaultMaxRounds bounds a conversation when nothing else is configured.
	DefaultMaxRounds = 50
	// DefaultTerminationToken ends a conversation when a speaker emits it.
	DefaultTerminationToken = "TERMINATE"
	// DefaultAutoReply is what the user proxy says when human input is disabled.
	DefaultAutoReply = "Continue."

	dataDirName  = ".roundtable"
	dbFileName   = "roundtable.db"
	settingsName = "settings.json"
	agentsName   = "agents.yaml"
)

// Human input modes for the user-proxy seat.
const (
	HumanInputAlways = "always"
	HumanInputNever  = "never"
)

// DefaultPrivateTags are the tag names whose content never reaches the store.
var DefaultPrivateTags = []string{"private"}

// Config holds roundtable settings.
type Config struct {
	DBDriver               string   `json:"ROUNDTABLE_DB_DRIVER"`
	DBPath                 string   `json:"ROUNDTABLE_DB_PATH"`
	DatabaseURL            string   `json:"ROUNDTABLE_DATABASE_URL"`
	AgentsPath             string   `json:"ROUNDTABLE_AGENTS_PATH"`
	Backend                string   `json:"ROUNDTABLE_BACKEND"`
	Model                  string   `json:"ROUNDTABLE_MODEL"`
	OpenAIBaseURL          string   `json:"OPENAI_BASE_URL"`
	OpenAIAPIKey           string   `json:"-"`
	TerminationToken       string   `json:"ROUNDTABLE_TERMINATION_TOKEN"`
	HumanInputMode         string   `json:"ROUNDTABLE_HUMAN_INPUT_MODE"`
	AutoReply              string   `json:"ROUNDTABLE_AUTO_REPLY"`
	PrivateTags            []string `json:"-"`
	HTTPPort               int      `json:"ROUNDTABLE_HTTP_PORT"`
	MaxConns               int      `json:"ROUNDTABLE_MAX_CONNS"`
	MaxRounds              int      `json:"ROUNDTABLE_MAX_ROUNDS"`
	TurnTimeoutSeconds     int      `json:"ROUNDTABLE_TURN_TIMEOUT"`
	MaxConsecutiveFailures int      `json:"ROUNDTABLE_MAX_CONSECUTIVE_FAILURES"`
	AllowRepeatSpeaker     bool     `json:"ROUNDTABLE_ALLOW_REPEAT_SPEAKER"`
}

// settingsFile mirrors Config with optional fields so absent keys keep defaults.
type settingsFile struct {
	DBDriver               *string `json:"ROUNDTABLE_DB_DRIVER"`
	DBPath                 *string `json:"ROUNDTABLE_DB_PATH"`
	DatabaseURL            *string `json:"ROUNDTABLE_DATABASE_URL"`
	AgentsPath             *string `json:"ROUNDTABLE_AGENTS_PATH"`
	Backend                *string `json:"ROUNDTABLE_BACKEND"`
	Model                  *string `json:"ROUNDTABLE_MODEL"`
	OpenAIBaseURL          *string `json:"OPENAI_BASE_URL"`
	TerminationToken       *string `json:"ROUNDTABLE_TERMINATION_TOKEN"`
	HumanInputMode         *string `json:"ROUNDTABLE_HUMAN_INPUT_MODE"`
	AutoReply              *string `json:"ROUNDTABLE_AUTO_REPLY"`
	PrivateTags            *string `json:"ROUNDTABLE_PRIVATE_TAGS"`
	HTTPPort               *int    `json:"ROUNDTABLE_HTTP_PORT"`
	MaxConns               *int    `json:"ROUNDTABLE_MAX_CONNS"`
	MaxRounds              *int    `json:"ROUNDTABLE_MAX_ROUNDS"`
	TurnTimeoutSeconds     *int    `json:"ROUNDTABLE_TURN_TIMEOUT"`
	MaxConsecutiveFailures *int    `json:"ROUNDTABLE_MAX_CONSECUTIVE_FAILURES"`
	AllowRepeatSpeaker     *bool   `json:"ROUNDTABLE_ALLOW_REPEAT_SPEAKER"`
}

var (
	global     *Config
	globalOnce sync.Once
)

// DataDir returns the roundtable data directory.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, dataDirName)
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), dbFileName)
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), settingsName)
}

// AgentsPath returns the default agent roster path.
func AgentsPath() string {
	return filepath.Join(DataDir(), agentsName)
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DBDriver:               "sqlite",
		DBPath:                 DBPath(),
		AgentsPath:             AgentsPath(),
		Backend:                "openai",
		Model:                  DefaultModel,
		TerminationToken:       DefaultTerminationToken,
		HumanInputMode:         HumanInputAlways,
		AutoReply:              DefaultAutoReply,
		PrivateTags:            append([]string(nil), DefaultPrivateTags...),
		HTTPPort:               DefaultHTTPPort,
		MaxConns:               4,
		MaxRounds:              DefaultMaxRounds,
		TurnTimeoutSeconds:     120,
		MaxConsecutiveFailures: 3,
	}
}

// EnsureDataDir creates the data directory if needed.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	cfg := Default()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and the settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads settings.json over the defaults and applies environment overrides.
// A missing or malformed settings file yields the defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		var sf settingsFile
		if json.Unmarshal(data, &sf) == nil {
			sf.apply(cfg)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		global = cfg
	})
	return global
}

// GetHTTPPort returns the API port, preferring ROUNDTABLE_HTTP_PORT when it is a valid port.
func GetHTTPPort() int {
	if v := os.Getenv("ROUNDTABLE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().HTTPPort
}

func (sf *settingsFile) apply(cfg *Config) {
	setString(&cfg.DBDriver, sf.DBDriver)
	setString(&cfg.DBPath, sf.DBPath)
	setString(&cfg.DatabaseURL, sf.DatabaseURL)
	setString(&cfg.AgentsPath, sf.AgentsPath)
	setString(&cfg.Backend, sf.Backend)
	setString(&cfg.Model, sf.Model)
	setString(&cfg.OpenAIBaseURL, sf.OpenAIBaseURL)
	setString(&cfg.TerminationToken, sf.TerminationToken)
	setString(&cfg.HumanInputMode, sf.HumanInputMode)
	setString(&cfg.AutoReply, sf.AutoReply)
	if sf.PrivateTags != nil {
		cfg.PrivateTags = splitTrim(*sf.PrivateTags)
	}
	setInt(&cfg.HTTPPort, sf.HTTPPort)
	setInt(&cfg.MaxConns, sf.MaxConns)
	setInt(&cfg.MaxRounds, sf.MaxRounds)
	setInt(&cfg.TurnTimeoutSeconds, sf.TurnTimeoutSeconds)
	setInt(&cfg.MaxConsecutiveFailures, sf.MaxConsecutiveFailures)
	if sf.AllowRepeatSpeaker != nil {
		cfg.AllowRepeatSpeaker = *sf.AllowRepeatSpeaker
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ROUNDTABLE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
		cfg.DBDriver = "postgres"
	}
	if v := os.Getenv("ROUNDTABLE_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	// API_KEY is accepted as a fallback for older deployments.
	for _, key := range []string{"OPENAI_API_KEY", "API_KEY"} {
		if v := os.Getenv(key); v != "" {
			cfg.OpenAIAPIKey = v
			break
		}
	}
	if v := os.Getenv("ROUNDTABLE_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRounds = n
		}
	}
}

func setString(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil && *src > 0 {
		*dst = *src
	}
}

// splitTrim splits a comma-separated list, trimming blanks and dropping empties.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
