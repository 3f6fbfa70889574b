package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/nous-labs/scribe/internal/assembler"
	"github.com/nous-labs/scribe/internal/dispatch"
	"github.com/nous-labs/scribe/internal/executor"
	"github.com/nous-labs/scribe/pkg/reminder"
)

// Config holds the daemon configuration.
type Config struct {
	Name            string `json:"name" yaml:"name" split_words:"true"`
	HTTPAddr        string `json:"http_addr" yaml:"http_addr" split_words:"true"`
	DefaultTimezone string `json:"default_timezone" yaml:"default_timezone" split_words:"true"`
	DataDir         string `json:"data_dir" yaml:"data_dir" split_words:"true"` // scribe.db and matrix credentials

	Matrix     MatrixConfig        `json:"matrix" yaml:"matrix" split_words:"true"`
	Model      ModelConfig         `json:"model" yaml:"model" split_words:"true"`
	Thresholds dispatch.Thresholds `json:"thresholds" yaml:"thresholds" split_words:"true"`
	Executor   ExecutorConfig      `json:"executor" yaml:"executor" split_words:"true"`
	Context    ContextConfig       `json:"context" yaml:"context" split_words:"true"`
	Embeddings EmbeddingsConfig    `json:"embeddings" yaml:"embeddings" split_words:"true"`
	Reminder   ReminderConfig      `json:"reminder" yaml:"reminder" split_words:"true"`
}

// MatrixConfig holds Matrix connection settings. An empty homeserver
// disables the channel.
type MatrixConfig struct {
	Homeserver   string   `json:"homeserver" yaml:"homeserver" split_words:"true"`
	UserID       string   `json:"user_id" yaml:"user_id" split_words:"true"` // localpart
	Password     string   `json:"password" yaml:"password" split_words:"true"`
	ServerName   string   `json:"server_name" yaml:"server_name" split_words:"true"`
	AllowedUsers []string `json:"allowed_users" yaml:"allowed_users" split_words:"true"`
}

// ModelConfig selects the generation service.
type ModelConfig struct {
	Provider          string  `json:"provider" yaml:"provider" split_words:"true"` // gemini, anthropic, openai, scripted
	Model             string  `json:"model" yaml:"model" split_words:"true"`
	APIKey            string  `json:"api_key" yaml:"api_key" split_words:"true"` // may be "$GEMINI_API_KEY"
	BaseURL           string  `json:"base_url,omitempty" yaml:"base_url,omitempty" split_words:"true"`
	Temperature       float64 `json:"temperature" yaml:"temperature" split_words:"true"`
	PromptCeiling     int     `json:"prompt_ceiling,omitempty" yaml:"prompt_ceiling,omitempty" split_words:"true"`
	RequestsPerMinute int     `json:"requests_per_minute,omitempty" yaml:"requests_per_minute,omitempty" split_words:"true"`
}

// ExecutorConfig tunes capability retries.
type ExecutorConfig struct {
	Attempts int    `json:"attempts" yaml:"attempts" split_words:"true"`
	Backoff  string `json:"backoff" yaml:"backoff" split_words:"true"` // e.g. "1s"
}

// ContextConfig sizes the assembled prompt context.
type ContextConfig struct {
	HistoryTurns int `json:"history_turns" yaml:"history_turns" split_words:"true"`
	ActionCount  int `json:"action_count" yaml:"action_count" split_words:"true"`
	MaxChars     int `json:"max_chars" yaml:"max_chars" split_words:"true"`
}

// EmbeddingsConfig holds semantic note search settings.
type EmbeddingsConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" split_words:"true"`
	PostgresURL  string `json:"postgres_url,omitempty" yaml:"postgres_url,omitempty" split_words:"true"`
	TEIURL       string `json:"tei_url,omitempty" yaml:"tei_url,omitempty" split_words:"true"`
	SyncInterval string `json:"sync_interval,omitempty" yaml:"sync_interval,omitempty" split_words:"true"`
	BatchSize    int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty" split_words:"true"`
}

// ReminderConfig holds reminder worker settings.
type ReminderConfig struct {
	Disabled    bool   `json:"disabled,omitempty" yaml:"disabled,omitempty" split_words:"true"`
	Interval    string `json:"interval,omitempty" yaml:"interval,omitempty" split_words:"true"` // default "5m"
	WindowHours int    `json:"window_hours,omitempty" yaml:"window_hours,omitempty" split_words:"true"`
}

// LoadConfig reads config from a JSON or YAML file, then applies SCRIBE_*
// environment overrides. If path is empty, defaults come from the
// environment.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("SCRIBE", cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	// Resolve env var references in secrets and URLs
	cfg.Matrix.Homeserver = resolveEnv(cfg.Matrix.Homeserver)
	cfg.Matrix.UserID = resolveEnv(cfg.Matrix.UserID)
	cfg.Matrix.Password = resolveEnv(cfg.Matrix.Password)
	cfg.Matrix.ServerName = resolveEnv(cfg.Matrix.ServerName)
	cfg.Model.APIKey = resolveEnv(cfg.Model.APIKey)
	cfg.Model.BaseURL = resolveEnv(cfg.Model.BaseURL)
	cfg.Embeddings.PostgresURL = resolveEnv(cfg.Embeddings.PostgresURL)
	cfg.Embeddings.TEIURL = resolveEnv(cfg.Embeddings.TEIURL)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("default_timezone %q: %w", c.DefaultTimezone, err)
	}
	for name, v := range map[string]string{
		"executor.backoff":         c.Executor.Backoff,
		"embeddings.sync_interval": c.Embeddings.SyncInterval,
		"reminder.interval":        c.Reminder.Interval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s %q: %w", name, v, err)
		}
	}
	return nil
}

// resolveEnv replaces $ENV_VAR references with actual values.
func resolveEnv(s string) string {
	if len(s) > 1 && s[0] == '$' {
		if v := os.Getenv(s[1:]); v != "" {
			return v
		}
	}
	return s
}

// duration parses s, returning fallback when s is empty or malformed.
func duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func (c *Config) executorConfig() executor.Config {
	return executor.Config{Attempts: c.Executor.Attempts, Backoff: duration(c.Executor.Backoff, time.Second)}
}

func (c *Config) assemblerConfig() assembler.Config {
	def := assembler.DefaultConfig()
	if c.Context.HistoryTurns > 0 {
		def.HistoryTurns = c.Context.HistoryTurns
	}
	if c.Context.ActionCount > 0 {
		def.ActionCount = c.Context.ActionCount
	}
	if c.Context.MaxChars > 0 {
		def.MaxChars = c.Context.MaxChars
	}
	return def
}

func (c *Config) reminderConfig() reminder.Config {
	def := reminder.DefaultConfig()
	def.Interval = duration(c.Reminder.Interval, def.Interval)
	if c.Reminder.WindowHours > 0 {
		def.Window = time.Duration(c.Reminder.WindowHours) * time.Hour
	}
	return def
}

// defaultConfig returns a config built from environment variables,
// suitable for container deployment.
func defaultConfig() *Config {
	var allowed []string
	if v := envOr("ALLOWED_USERS", ""); v != "" {
		allowed = strings.Split(v, ",")
	}
	return &Config{
		Name:            "scribe",
		HTTPAddr:        ":8080",
		DefaultTimezone: "Europe/Moscow",
		DataDir:         "/data",
		Matrix: MatrixConfig{
			Homeserver:   envOr("MATRIX_HOMESERVER", ""),
			UserID:       envOr("MATRIX_BOT_USER", "scribe"),
			Password:     envOr("MATRIX_BOT_PASSWORD", ""),
			ServerName:   envOr("MATRIX_SERVER_NAME", "matrix.example.com"),
			AllowedUsers: allowed,
		},
		Model: ModelConfig{
			Provider:          "gemini",
			Model:             "gemini-2.5-flash",
			APIKey:            os.Getenv("GEMINI_API_KEY"),
			Temperature:       0.2,
			PromptCeiling:     12000,
			RequestsPerMinute: 60,
		},
		Thresholds: dispatch.DefaultThresholds(),
		Executor:   ExecutorConfig{Attempts: 3, Backoff: "1s"},
		Context: ContextConfig{
			HistoryTurns: 8,
			ActionCount:  5,
			MaxChars:     4000,
		},
		Embeddings: EmbeddingsConfig{
			SyncInterval: "30s",
			BatchSize:    32,
		},
		Reminder: ReminderConfig{Interval: "5m", WindowHours: 24},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
