// Package config centralizes the engine's tunable parameters and wires them
// to cobra flags / viper so every knob called out in the spec (pool size,
// thresholds, ensemble weights, escalation ladder) is configuration, not a
// compiled-in constant.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LadderTier maps one escalation tier to a concrete provider/model pair.
type LadderTier struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// EngineConfig holds every tunable named in the spec. Struct tags bind to
// viper keys; defaults are set in Defaults() so the engine runs unconfigured.
type EngineConfig struct {
	MaxConcurrentJobs   int     `mapstructure:"max_concurrent_jobs"`
	DefaultMaxIterations int    `mapstructure:"default_max_iterations"`
	DefaultMinScore     int     `mapstructure:"default_min_score"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	JobTimeoutSeconds   int     `mapstructure:"job_timeout_seconds"`
	RetentionDays       int     `mapstructure:"retention_days"`
	ThinkingCallTimeoutSeconds   int `mapstructure:"thinking_call_timeout_seconds"`
	ThinkingStrategyTimeoutSeconds int `mapstructure:"thinking_strategy_timeout_seconds"`
	RouterStepTimeoutSeconds int `mapstructure:"router_step_timeout_seconds"`

	// ValidationWeights5 are the default per-model weights when the
	// ValidationEnsemble runs with 5 models; see spec.md §4.4 / Design Notes §9.
	ValidationWeights5 []float64 `mapstructure:"validation_weights_5"`

	// EscalationLadder maps tier index (0-4) to a provider/model pair.
	EscalationLadder []LadderTier `mapstructure:"escalation_ladder"`

	DBPath       string `mapstructure:"db_path"`
	QdrantURL    string `mapstructure:"qdrant_url"`
}

// Defaults returns the built-in configuration the engine uses when no config
// file or environment override is present.
func Defaults() *EngineConfig {
	return &EngineConfig{
		MaxConcurrentJobs:              4,
		DefaultMaxIterations:           10,
		DefaultMinScore:                8,
		ConfidenceThreshold:            0.7,
		JobTimeoutSeconds:              3600,
		RetentionDays:                  7,
		ThinkingCallTimeoutSeconds:     30,
		ThinkingStrategyTimeoutSeconds: 60,
		RouterStepTimeoutSeconds:       10,
		ValidationWeights5:             []float64{0.20, 0.25, 0.20, 0.20, 0.15},
		EscalationLadder: []LadderTier{
			{Provider: "bedrock", Model: "anthropic.claude-3-haiku"},
			{Provider: "bedrock", Model: "anthropic.claude-3-sonnet"},
			{Provider: "vertex", Model: "gemini-1.5-pro"},
			{Provider: "openai", Model: "gpt-4o"},
			{Provider: "anthropic", Model: "claude-3-5-sonnet-latest"},
		},
		DBPath:    "data/engine.db",
		QdrantURL: "localhost:6334",
	}
}

// BindFlags registers the engine's persistent flags on cmd and binds them to
// viper, mirroring the teacher's cmd/root.go convention of flag-then-bind.
func BindFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Int("max-concurrent-jobs", 4, "maximum jobs running concurrently")
	cmd.PersistentFlags().Int("default-max-iterations", 10, "default retry budget for a job")
	cmd.PersistentFlags().Int("default-min-score", 8, "default minimum validation score to accept")
	cmd.PersistentFlags().Float64("confidence-threshold", 0.7, "minimum validator agreement to accept")
	cmd.PersistentFlags().Int("job-timeout-seconds", 3600, "per-job wall clock timeout")
	cmd.PersistentFlags().Int("retention-days", 7, "days a terminal job is retained")
	cmd.PersistentFlags().String("db-path", "data/engine.db", "sqlite database path for job persistence")
	cmd.PersistentFlags().String("qdrant-url", "localhost:6334", "qdrant gRPC endpoint for the memory store")
	cmd.PersistentFlags().String("log-file", "", "log file path (optional)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	for _, name := range []string{
		"max-concurrent-jobs", "default-max-iterations", "default-min-score",
		"confidence-threshold", "job-timeout-seconds", "retention-days",
		"db-path", "qdrant-url", "log-file", "log-level", "log-format",
	} {
		_ = viper.BindPFlag(name, cmd.PersistentFlags().Lookup(name))
	}
}

// Load reads viper-bound flags/env/config-file values over Defaults().
func Load() (*EngineConfig, error) {
	cfg := Defaults()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode engine config: %w", err)
	}

	if viper.IsSet("max-concurrent-jobs") {
		cfg.MaxConcurrentJobs = viper.GetInt("max-concurrent-jobs")
	}
	if viper.IsSet("default-max-iterations") {
		cfg.DefaultMaxIterations = viper.GetInt("default-max-iterations")
	}
	if viper.IsSet("default-min-score") {
		cfg.DefaultMinScore = viper.GetInt("default-min-score")
	}
	if viper.IsSet("confidence-threshold") {
		cfg.ConfidenceThreshold = viper.GetFloat64("confidence-threshold")
	}
	if viper.IsSet("job-timeout-seconds") {
		cfg.JobTimeoutSeconds = viper.GetInt("job-timeout-seconds")
	}
	if viper.IsSet("retention-days") {
		cfg.RetentionDays = viper.GetInt("retention-days")
	}
	if viper.IsSet("db-path") {
		cfg.DBPath = viper.GetString("db-path")
	}
	if viper.IsSet("qdrant-url") {
		cfg.QdrantURL = viper.GetString("qdrant-url")
	}

	if len(cfg.ValidationWeights5) != 5 {
		return nil, fmt.Errorf("validation_weights_5 must have exactly 5 entries, got %d", len(cfg.ValidationWeights5))
	}

	return cfg, nil
}

// LoadDotEnv loads a .env file the same permissive way cmd/root.go does:
// try a few candidate locations and proceed silently if none is found.
func LoadDotEnv(candidates ...string) {
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			_ = godotenv.Load(c)
			return
		}
	}
}
