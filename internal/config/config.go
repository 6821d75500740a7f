// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package config collects all process configuration into a single
// immutable value loaded once at startup. No other package reads
// environment variables directly.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the fully resolved process configuration for the peer review
// service. It is loaded once in main and passed explicitly to every
// constructor that needs it.
type Config struct {
	Port        int    `env:"PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=2112"`
	DatabaseURL string `env:"DATABASE_URL,default=postgres://localhost:5432/peer?sslmode=disable"`
	RedisAddr   string `env:"REDIS_ADDR,default=localhost:6379"`

	WebhookSecret string `env:"WEBHOOK_SECRET,required"`

	GitHubAppID             int64  `env:"GITHUB_APP_ID"`
	GitHubAppPrivateKeyPath string `env:"GITHUB_APP_PRIVATE_KEY_PATH"`

	Queue QueueConfig
	LLM   LLMConfig
}

// QueueConfig controls worker concurrency per named queue.
type QueueConfig struct {
	AnalyzeConcurrency int `env:"QUEUE_ANALYZE_CONCURRENCY,default=2"`
	AutofixConcurrency int `env:"QUEUE_AUTOFIX_CONCURRENCY,default=4"`
	ApplyConcurrency   int `env:"QUEUE_APPLY_CONCURRENCY,default=2"`

	// VisibilityTimeout bounds how long a job may be "in flight" before it
	// is considered orphaned (worker crashed) and requeued.
	VisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=5m"`
	MaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=5"`
}

// LLMConfig mirrors the environment variables named in spec §6.
type LLMConfig struct {
	Provider              string        `env:"LLM_PROVIDER"`
	Strategy              string        `env:"LLM_STRATEGY,default=minimal"`
	TimeoutMS             int           `env:"LLM_TIMEOUT_MS,default=20000"`
	GeminiTimeoutMS       int           `env:"LLM_GEMINI_TIMEOUT_MS,default=30000"`
	MaxPatchesPerFile     int           `env:"LLM_MAX_PATCHES_PER_FILE,default=5"`
	CacheTTL              time.Duration `env:"LLM_CACHE_TTL,default=24h"`
	CacheEnabled          bool          `env:"LLM_CACHE_ENABLED,default=true"`
	PreviewTimeBudgetMS   int           `env:"PREVIEW_TIME_BUDGET_MS,default=30000"`
	PreviewInitialMaxFile int           `env:"PREVIEW_INITIAL_MAX_FILES,default=30"`
	EnableComplexity      bool          `env:"PEER_ENABLE_COMPLEXITY,default=true"`

	OpenAIKey     string `env:"OPENAI_API_KEY"`
	GroqKey       string `env:"GROQ_API_KEY"`
	DeepSeekKey   string `env:"DEEPSEEK_API_KEY"`
	OpenRouterKey string `env:"OPENROUTER_API_KEY"`
	GeminiKey     string `env:"GEMINI_API_KEY"`
}

// Load reads the process environment into a Config and validates it.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field invariants that envconfig tags cannot express.
func (c *Config) Validate() error {
	switch c.LLM.Strategy {
	case "minimal", "full":
	default:
		return fmt.Errorf("LLM_STRATEGY must be 'minimal' or 'full', got %q", c.LLM.Strategy)
	}
	if c.Queue.AnalyzeConcurrency < 1 || c.Queue.AutofixConcurrency < 1 || c.Queue.ApplyConcurrency < 1 {
		return fmt.Errorf("queue concurrency values must be >= 1")
	}
	return nil
}
