package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for the arena system.
type Config struct {
	// LLM endpoint configuration
	LLM LLMConfig `yaml:"llm" validate:"required"`

	// Credential pool configuration
	Credentials []CredentialConfig `yaml:"credentials,omitempty" validate:"omitempty,dive"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage,omitempty"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging,omitempty"`

	// Prompt evolution tuning
	Evolution EvolutionConfig `yaml:"evolution,omitempty" validate:"omitempty"`

	// Episodic memory tuning
	Memory MemoryConfig `yaml:"memory,omitempty" validate:"omitempty"`
}

// LLMConfig holds configuration for the model endpoint.
type LLMConfig struct {
	// Model ID (e.g. claude-sonnet-4-5)
	ModelID string `yaml:"model_id" validate:"required"`

	// Base URL override for the API (used in tests and proxies)
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`

	// Per-attempt wall-clock timeout
	Timeout Duration `yaml:"timeout" validate:"min=0"`

	// Retry configuration
	Retry RetryConfig `yaml:"retry,omitempty"`

	// Generation parameters
	Generation GenerationConfig `yaml:"generation,omitempty"`
}

// RetryConfig holds retry-specific configuration.
type RetryConfig struct {
	// Maximum number of attempts per logical call
	MaxAttempts int `yaml:"max_attempts" validate:"min=1"`

	// Base delay for exponential backoff
	BaseDelay Duration `yaml:"base_delay" validate:"min=0"`

	// Upper bound of the uniform jitter added to each backoff sleep
	MaxJitter Duration `yaml:"max_jitter" validate:"min=0"`
}

// GenerationConfig holds text generation parameters.
type GenerationConfig struct {
	// Maximum tokens to generate
	MaxTokens int `yaml:"max_tokens" validate:"min=1"`

	// Sampling temperature
	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`

	// Token budget for extended thinking mode
	ThinkingBudget int `yaml:"thinking_budget" validate:"min=0"`
}

// CredentialConfig describes one API credential in the pool.
type CredentialConfig struct {
	// Alias identifies the credential in routing and reporting
	Alias string `yaml:"alias" validate:"required"`

	// APIKey holds the literal key; APIKeyEnv names an environment
	// variable to resolve it from instead. Exactly one must yield a key.
	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Provider name
	Provider string `yaml:"provider,omitempty"`

	// Monthly budget ceiling in USD
	MonthlyBudgetUSD float64 `yaml:"monthly_budget_usd" validate:"gt=0"`

	// Token pricing
	CostPer1KInput  float64 `yaml:"cost_per_1k_input" validate:"gte=0"`
	CostPer1KOutput float64 `yaml:"cost_per_1k_output" validate:"gte=0"`
}

// StorageConfig holds durable store configuration.
type StorageConfig struct {
	// Path to the SQLite database file; ":memory:" for ephemeral state
	Path string `yaml:"path"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Minimum severity: DEBUG, INFO, WARN, ERROR
	Level string `yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR FATAL"`

	// Optional JSON log file path
	FilePath string `yaml:"file_path,omitempty"`
}

// EvolutionConfig tunes the prompt evolution engine.
type EvolutionConfig struct {
	// Games between evolution attempts
	EvalEvery int `yaml:"eval_every" validate:"min=1"`

	// Variants requested per evolution
	Candidates int `yaml:"candidates" validate:"min=1"`

	// Minimum pool-wide evaluations before evolution may fire
	MinGames int `yaml:"min_games" validate:"min=0"`

	// Candidate pool size cap
	MaxPool int `yaml:"max_pool" validate:"min=3"`
}

// MemoryConfig tunes episodic recall.
type MemoryConfig struct {
	// How many recent episodes are considered for recall
	RecallWindow int `yaml:"recall_window" validate:"min=1"`

	// Episodes returned per recall
	RecallTopK int `yaml:"recall_top_k" validate:"min=1"`

	// Similarity floor below which episodes are ignored
	MinSimilarity float64 `yaml:"min_similarity" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			ModelID: envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
			Timeout: Duration(60 * time.Second),
			Retry: RetryConfig{
				MaxAttempts: 4,
				BaseDelay:   Duration(1200 * time.Millisecond),
				MaxJitter:   Duration(800 * time.Millisecond),
			},
			Generation: GenerationConfig{
				MaxTokens:      512,
				Temperature:    0.85,
				ThinkingBudget: 800,
			},
		},
		Storage: StorageConfig{
			Path: defaultDBPath(),
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Evolution: EvolutionConfig{
			EvalEvery:  5,
			Candidates: 3,
			MinGames:   3,
			MaxPool:    12,
		},
		Memory: MemoryConfig{
			RecallWindow:  120,
			RecallTopK:    3,
			MinSimilarity: 0.25,
		},
	}
}

// Load reads a YAML configuration file, overlays it on the defaults,
// resolves credentials and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ResolveCredentials(); err != nil {
		return nil, err
	}

	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ResolveCredentials fills in API keys from the environment. When the
// config file declares no credentials at all, the conventional
// ANTHROPIC_API_KEY plus ANTHROPIC_API_KEY_1..8 variables are scanned,
// with KEY_BUDGET_USD / KEY_<n>_BUDGET_USD budgets.
func (c *Config) ResolveCredentials() error {
	if len(c.Credentials) == 0 {
		c.Credentials = credentialsFromEnv()
	}

	seen := make(map[string]bool)
	resolved := c.Credentials[:0]
	for _, cred := range c.Credentials {
		if cred.APIKey == "" && cred.APIKeyEnv != "" {
			cred.APIKey = os.Getenv(cred.APIKeyEnv)
		}
		if cred.APIKey == "" || seen[cred.APIKey] {
			continue
		}
		seen[cred.APIKey] = true
		if cred.Provider == "" {
			cred.Provider = "anthropic"
		}
		if cred.CostPer1KInput == 0 {
			cred.CostPer1KInput = envFloat("COST_INPUT_PER_1K", 0.015)
		}
		if cred.CostPer1KOutput == 0 {
			cred.CostPer1KOutput = envFloat("COST_OUTPUT_PER_1K", 0.075)
		}
		if cred.MonthlyBudgetUSD == 0 {
			cred.MonthlyBudgetUSD = 10.0
		}
		resolved = append(resolved, cred)
	}
	c.Credentials = resolved

	if len(c.Credentials) == 0 {
		return fmt.Errorf(
			"no API credentials found: set ANTHROPIC_API_KEY, or ANTHROPIC_API_KEY_1 " +
				"through ANTHROPIC_API_KEY_8 for rotation, or declare credentials in the config file")
	}
	return nil
}

func credentialsFromEnv() []CredentialConfig {
	var creds []CredentialConfig

	costIn := envFloat("COST_INPUT_PER_1K", 0.015)
	costOut := envFloat("COST_OUTPUT_PER_1K", 0.075)

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		creds = append(creds, CredentialConfig{
			Alias:            "primary",
			APIKey:           key,
			Provider:         "anthropic",
			MonthlyBudgetUSD: envFloat("KEY_BUDGET_USD", 10.0),
			CostPer1KInput:   costIn,
			CostPer1KOutput:  costOut,
		})
	}

	for i := 1; i <= 8; i++ {
		key := os.Getenv(fmt.Sprintf("ANTHROPIC_API_KEY_%d", i))
		if key == "" {
			continue
		}
		creds = append(creds, CredentialConfig{
			Alias:            fmt.Sprintf("key_%d", i),
			APIKey:           key,
			Provider:         "anthropic",
			MonthlyBudgetUSD: envFloat(fmt.Sprintf("KEY_%d_BUDGET_USD", i), 10.0),
			CostPer1KInput:   costIn,
			CostPer1KOutput:  costOut,
		})
	}

	return creds
}

func defaultDBPath() string {
	if override := os.Getenv("ARENA_DB_PATH"); override != "" {
		return override
	}
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "agents.db"
		}
		base = home + "/.local/share"
	}
	dir := base + "/rpg-agents"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "agents.db"
	}
	return dir + "/agents.db"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
		return fallback
	}
	return f
}
