package llm

import (
	"os"
	"strconv"
)

// TaskType identifies the kind of LLM task being performed.
type TaskType string

const (
	TaskCompose      TaskType = "compose"
	TaskSuggestItems TaskType = "suggest_items"
	TaskRefineItem   TaskType = "refine_item"
)

// Provider names a model backend.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderGemini Provider = "gemini"
)

// TaskConfig holds per-task LLM parameters.
type TaskConfig struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutMs   int     `yaml:"timeout_ms"` // overrides global if > 0
}

// LLMConfig holds all configuration for the LLM subsystem.
type LLMConfig struct {
	Enabled    bool                    `yaml:"enabled"`
	LogCalls   bool                    `yaml:"log_calls"`
	Provider   Provider                `yaml:"provider"`
	Endpoint   string                  `yaml:"endpoint"`
	Model      string                  `yaml:"model"`
	APIKey     string                  `yaml:"api_key"`
	TimeoutMs  int                     `yaml:"timeout_ms"`
	MaxRetries int                     `yaml:"max_retries"`
	Tasks      map[TaskType]TaskConfig `yaml:"tasks"`
}

// DefaultConfig returns an LLMConfig with sensible defaults.
// LLM is disabled by default.
func DefaultConfig() LLMConfig {
	return LLMConfig{
		Enabled:    false,
		LogCalls:   false,
		Provider:   ProviderOllama,
		Endpoint:   "http://localhost:11434",
		Model:      "llama3.2",
		TimeoutMs:  8000,
		MaxRetries: 1,
		Tasks: map[TaskType]TaskConfig{
			TaskCompose:      {Temperature: 0.4, MaxTokens: 512, TimeoutMs: 6000},
			TaskSuggestItems: {Temperature: 0.5, MaxTokens: 1024, TimeoutMs: 12000},
			TaskRefineItem:   {Temperature: 0.3, MaxTokens: 256, TimeoutMs: 6000},
		},
	}
}

// LoadConfig reads LLM configuration from environment variables,
// falling back to defaults for any unset values.
func LoadConfig() LLMConfig {
	cfg := DefaultConfig()
	ApplyEnv(&cfg)
	return cfg
}

// ApplyEnv overlays BLUEPRINT_LLM_* environment variables onto cfg.
func ApplyEnv(cfg *LLMConfig) {
	if v := os.Getenv("BLUEPRINT_LLM_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("BLUEPRINT_LLM_LOG_CALLS"); v != "" {
		cfg.LogCalls, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("BLUEPRINT_LLM_PROVIDER"); v != "" {
		cfg.Provider = Provider(v)
	}
	if v := os.Getenv("BLUEPRINT_LLM_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("BLUEPRINT_LLM_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("BLUEPRINT_LLM_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("BLUEPRINT_LLM_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TimeoutMs = n
		}
	}
	if v := os.Getenv("BLUEPRINT_LLM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	applyTaskTimeoutEnv(cfg, TaskCompose, "BLUEPRINT_LLM_COMPOSE_TIMEOUT_MS")
	applyTaskTimeoutEnv(cfg, TaskSuggestItems, "BLUEPRINT_LLM_SUGGEST_TIMEOUT_MS")
	applyTaskTimeoutEnv(cfg, TaskRefineItem, "BLUEPRINT_LLM_REFINE_TIMEOUT_MS")
}

// TaskTimeout returns the effective timeout for a given task type.
// Uses the task-specific timeout if set, otherwise the global timeout.
func (c LLMConfig) TaskTimeout(task TaskType) int {
	if tc, ok := c.Tasks[task]; ok && tc.TimeoutMs > 0 {
		return tc.TimeoutMs
	}
	return c.TimeoutMs
}

func applyTaskTimeoutEnv(cfg *LLMConfig, task TaskType, envName string) {
	v := os.Getenv(envName)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return
	}
	if cfg.Tasks == nil {
		cfg.Tasks = map[TaskType]TaskConfig{}
	}
	tc := cfg.Tasks[task]
	tc.TimeoutMs = n
	cfg.Tasks[task] = tc
}
