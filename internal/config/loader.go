package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FORESIGHT_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// Defaults returns the built-in configuration defaults. Settlement
// constants follow the documented protocol parameters.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Oracle: OracleConfig{
			RequestTimeoutSecs: 30,
			MaxAttempts:        3,
			SweepIntervalSecs:  15,
			FallbackMode:       "manual",
			FallbackConfidence: 0,
		},
		Vault: VaultConfig{
			InsuranceThreshold: 80,
			PolicyWindowHours:  72,
			YieldCron:          "@every 1h",
			MinDeposit:         "1",
			MaxDeposit:         "1000000",
		},
		Governor: GovernorConfig{
			VotingWindowHours: 72,
			QuorumWeight:      100,
			MinBond:           "10",
			ExpertBoost:       1.5,
			TallyCron:         "@every 5m",
		},
		Reputation: ReputationConfig{
			CooldownHours:    168,
			SlashFraction:    "0.10",
			CorrectReward:    10,
			IncorrectPenalty: 5,
		},
		Registry: RegistryConfig{
			MinHorizonMinutes:  60,
			ContestWindowHours: 24,
			TradingFeeBps:      200,
			InsuranceFeeBps:    100,
			MinBet:             "0.01",
			MaxBet:             "100000",
			FeeSweepCron:       "@every 1m",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Mode:     "core",
		LogLevel: "info",
	}
}

// applyEnvOverrides reads well-known FORESIGHT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.DSN, "FORESIGHT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FORESIGHT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FORESIGHT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FORESIGHT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FORESIGHT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FORESIGHT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FORESIGHT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "FORESIGHT_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "FORESIGHT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FORESIGHT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FORESIGHT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "FORESIGHT_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "FORESIGHT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FORESIGHT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FORESIGHT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FORESIGHT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FORESIGHT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FORESIGHT_S3_SECRET_KEY")

	setStr(&cfg.Oracle.InferenceHost, "FORESIGHT_ORACLE_INFERENCE_HOST")
	setInt(&cfg.Oracle.RequestTimeoutSecs, "FORESIGHT_ORACLE_REQUEST_TIMEOUT_SECS")
	setStr(&cfg.Oracle.FallbackMode, "FORESIGHT_ORACLE_FALLBACK_MODE")

	setStr(&cfg.Vault.YieldHost, "FORESIGHT_VAULT_YIELD_HOST")
	setInt(&cfg.Vault.InsuranceThreshold, "FORESIGHT_VAULT_INSURANCE_THRESHOLD")

	setStr(&cfg.Operator.Address, "FORESIGHT_OPERATOR_ADDRESS")
	setStr(&cfg.Operator.EncryptedKeyPath, "FORESIGHT_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "FORESIGHT_OPERATOR_KEY_PASSWORD")

	setInt(&cfg.Server.Port, "FORESIGHT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "FORESIGHT_SERVER_API_KEY")

	setStr(&cfg.Notify.DiscordWebhook, "FORESIGHT_NOTIFY_DISCORD_WEBHOOK")
	setStr(&cfg.Notify.TelegramBotToken, "FORESIGHT_NOTIFY_TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FORESIGHT_NOTIFY_TELEGRAM_CHAT_ID")

	setStr(&cfg.Mode, "FORESIGHT_MODE")
	setStr(&cfg.LogLevel, "FORESIGHT_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
