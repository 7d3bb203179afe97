package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Model is the chat completion model used for summaries.
	Model string `json:"model"`

	// BaseURL is the OpenAI-compatible API root (".../v1").
	// OPENAI_BASE_URL overrides it when set.
	BaseURL string `json:"base_url"`

	// MaxTokens bounds the length of a generated summary.
	MaxTokens int `json:"max_tokens"`

	// Temperature is the sampling temperature sent with every summarize call.
	Temperature float64 `json:"temperature"`

	// RequestTimeoutSeconds bounds a single summarization call.
	// A call that exceeds it fails with TIMEOUT instead of hanging.
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`

	// Bind and Port are where `skim serve` listens.
	Bind string `json:"bind"`
	Port int    `json:"port"`

	// CoordinatorURL is where CLI contexts reach a running `skim serve`.
	// Empty means each CLI invocation runs its own short-lived coordinator.
	CoordinatorURL string `json:"coordinator_url,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// temperatureSet records an explicit temperature in the file, so 0 survives Merge.
	temperatureSet bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:                 "gpt-4o-mini",
		BaseURL:               "https://api.openai.com/v1",
		MaxTokens:             500,
		Temperature:           0.7,
		RequestTimeoutSeconds: 60,
		Bind:                  "127.0.0.1",
		Port:                  7787,
		LogLevel:              "info",
	}
}

// RequestTimeout returns RequestTimeoutSeconds as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.skim.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if envBaseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); envBaseURL != "" {
		cfg.BaseURL = envBaseURL
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	var explicit struct {
		Temperature *float64 `json:"temperature"`
	}
	if err := json.Unmarshal(data, &explicit); err != nil {
		return nil, err
	}
	cfg.temperatureSet = explicit.Temperature != nil

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.Model = firstNonEmpty(overlay.Model, base.Model)
	result.BaseURL = strings.TrimRight(firstNonEmpty(overlay.BaseURL, base.BaseURL), "/")
	result.Bind = firstNonEmpty(overlay.Bind, base.Bind)
	result.CoordinatorURL = strings.TrimRight(firstNonEmpty(overlay.CoordinatorURL, base.CoordinatorURL), "/")
	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)

	result.MaxTokens = firstNonZero(overlay.MaxTokens, base.MaxTokens)
	result.RequestTimeoutSeconds = firstNonZero(overlay.RequestTimeoutSeconds, base.RequestTimeoutSeconds)
	result.Port = firstNonZero(overlay.Port, base.Port)
	result.DBMaxOpenConns = firstNonZero(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstNonZero(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.Temperature = base.Temperature
	if overlay.temperatureSet || overlay.Temperature != 0 {
		result.Temperature = overlay.Temperature
	}

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
