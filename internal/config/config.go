// Package config defines the top-level configuration for the foresight
// settlement core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FORESIGHT_* environment
// variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Oracle     OracleConfig     `toml:"oracle"`
	Vault      VaultConfig      `toml:"vault"`
	Governor   GovernorConfig   `toml:"governor"`
	Reputation ReputationConfig `toml:"reputation"`
	Registry   RegistryConfig   `toml:"registry"`
	Operator   OperatorConfig   `toml:"operator"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the
// settlement-report archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// OracleConfig holds inference collaborator parameters and the explicit
// fallback policy applied when the remote call cannot complete.
type OracleConfig struct {
	InferenceHost      string `toml:"inference_host"`
	RequestTimeoutSecs int    `toml:"request_timeout_secs"`
	MaxAttempts        int    `toml:"max_attempts"`
	SweepIntervalSecs  int    `toml:"sweep_interval_secs"`

	// FallbackMode controls behavior after MaxAttempts failed remote calls:
	// "manual" leaves the request pending for the operator; "default"
	// applies FallbackOutcome/FallbackConfidence. The source system's
	// silent fixed default is deliberately not the shipped behavior.
	FallbackMode       string `toml:"fallback_mode"`
	FallbackOutcome    int    `toml:"fallback_outcome"`
	FallbackConfidence int    `toml:"fallback_confidence"`
}

// RequestTimeout returns the per-request inference timeout.
func (o OracleConfig) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutSecs) * time.Second
}

// VaultConfig holds insurance vault parameters.
type VaultConfig struct {
	InsuranceThreshold int    `toml:"insurance_threshold"` // confidence below this activates a policy
	PolicyWindowHours  int    `toml:"policy_window_hours"`
	YieldHost          string `toml:"yield_host"`
	YieldCron          string `toml:"yield_cron"`
	MinDeposit         string `toml:"min_deposit"`
	MaxDeposit         string `toml:"max_deposit"`
}

// PolicyWindow returns the claim window opened for each activated policy.
func (v VaultConfig) PolicyWindow() time.Duration {
	return time.Duration(v.PolicyWindowHours) * time.Hour
}

// GovernorConfig holds dispute governor parameters.
type GovernorConfig struct {
	VotingWindowHours int     `toml:"voting_window_hours"`
	QuorumWeight      int64   `toml:"quorum_weight"`
	MinBond           string  `toml:"min_bond"`
	ExpertBoost       float64 `toml:"expert_boost"`
	TallyCron         string  `toml:"tally_cron"`
}

// VotingWindow returns the duration a proposal accepts votes.
func (g GovernorConfig) VotingWindow() time.Duration {
	return time.Duration(g.VotingWindowHours) * time.Hour
}

// ReputationConfig holds reputation ledger parameters.
type ReputationConfig struct {
	CooldownHours    int    `toml:"cooldown_hours"`
	SlashFraction    string `toml:"slash_fraction"` // e.g. "0.10"
	CorrectReward    int64  `toml:"correct_reward"` // score delta per correct vote
	IncorrectPenalty int64  `toml:"incorrect_penalty"`
}

// Cooldown returns the unstake cooldown duration.
func (r ReputationConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownHours) * time.Hour
}

// RegistryConfig holds market registry parameters.
type RegistryConfig struct {
	MinHorizonMinutes  int    `toml:"min_horizon_minutes"`
	ContestWindowHours int    `toml:"contest_window_hours"`
	TradingFeeBps      int    `toml:"trading_fee_bps"`
	InsuranceFeeBps    int    `toml:"insurance_fee_bps"`
	MinBet             string `toml:"min_bet"`
	MaxBet             string `toml:"max_bet"`
	FeeSweepCron       string `toml:"fee_sweep_cron"`
}

// MinHorizon returns the minimum distance between creation and deadline.
func (r RegistryConfig) MinHorizon() time.Duration {
	return time.Duration(r.MinHorizonMinutes) * time.Minute
}

// ContestWindow returns the window after resolution during which a dispute
// may still be opened.
func (r RegistryConfig) ContestWindow() time.Duration {
	return time.Duration(r.ContestWindowHours) * time.Hour
}

// OperatorConfig holds the manual-resolution operator identity.
type OperatorConfig struct {
	Address          string `toml:"address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds settlement notification webhooks.
type NotifyConfig struct {
	DiscordWebhook   string `toml:"discord_webhook"`
	TelegramBotToken string `toml:"telegram_bot_token"`
	TelegramChatID   string `toml:"telegram_chat_id"`
}

// Validate checks the configuration for operationally dangerous mistakes.
// It is deliberately strict about the values that gate settlement.
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Mode) {
	case "core", "api", "worker":
	default:
		problems = append(problems, fmt.Sprintf("mode: unsupported %q", c.Mode))
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		problems = append(problems, "postgres: dsn or host/database/user required")
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "redis: addr required")
	}

	if c.Vault.InsuranceThreshold < 0 || c.Vault.InsuranceThreshold > 100 {
		problems = append(problems, "vault: insurance_threshold must be 0..100")
	}
	if c.Vault.PolicyWindowHours <= 0 {
		problems = append(problems, "vault: policy_window_hours must be positive")
	}

	switch c.Oracle.FallbackMode {
	case "manual", "default":
	default:
		problems = append(problems, fmt.Sprintf("oracle: unsupported fallback_mode %q", c.Oracle.FallbackMode))
	}
	if c.Oracle.FallbackMode == "default" {
		if c.Oracle.FallbackOutcome < 1 || c.Oracle.FallbackOutcome > 3 {
			problems = append(problems, "oracle: fallback_outcome must be 1..3 when fallback_mode is default")
		}
		if c.Oracle.FallbackConfidence < 0 || c.Oracle.FallbackConfidence > 100 {
			problems = append(problems, "oracle: fallback_confidence must be 0..100")
		}
	}

	if c.Governor.QuorumWeight <= 0 {
		problems = append(problems, "governor: quorum_weight must be positive")
	}
	if c.Governor.ExpertBoost < 1 {
		problems = append(problems, "governor: expert_boost must be >= 1")
	}

	if c.Registry.TradingFeeBps < 0 || c.Registry.InsuranceFeeBps < 0 ||
		c.Registry.TradingFeeBps+c.Registry.InsuranceFeeBps >= 10000 {
		problems = append(problems, "registry: fee bps must be non-negative and sum below 10000")
	}
	if c.Registry.MinHorizonMinutes <= 0 {
		problems = append(problems, "registry: min_horizon_minutes must be positive")
	}

	if c.S3.Enabled && (c.S3.Bucket == "" || c.S3.Region == "") {
		problems = append(problems, "s3: bucket and region required when enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
