package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RIPTIDE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known RIPTIDE_* environment variables
// and overwrites the corresponding Config fields when a variable is set
// (i.e. not empty). This lets operators inject secrets at deploy time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Data ──
	setStr(&cfg.Data.Source, "RIPTIDE_DATA_SOURCE")
	setStr(&cfg.Data.CSVDir, "RIPTIDE_DATA_CSV_DIR")
	setStringSlice(&cfg.Data.Instruments, "RIPTIDE_DATA_INSTRUMENTS")
	setDuration(&cfg.Data.BarInterval, "RIPTIDE_DATA_BAR_INTERVAL")

	// ── Model ──
	setStr(&cfg.Model.Backend, "RIPTIDE_MODEL_BACKEND")
	setStr(&cfg.Model.Path, "RIPTIDE_MODEL_PATH")
	setStr(&cfg.Model.OnnxLibrary, "RIPTIDE_MODEL_ONNX_LIBRARY")

	// ── Train ──
	setInt(&cfg.Train.Epochs, "RIPTIDE_TRAIN_EPOCHS")
	setFloat64(&cfg.Train.LearningRate, "RIPTIDE_TRAIN_LEARNING_RATE")

	// ── Risk ──
	setFloat64(&cfg.Risk.ConfidenceThreshold, "RIPTIDE_RISK_CONFIDENCE_THRESHOLD")
	setFloat64(&cfg.Risk.BaseOrderPct, "RIPTIDE_RISK_BASE_ORDER_PCT")
	setFloat64(&cfg.Risk.MaxPositionPct, "RIPTIDE_RISK_MAX_POSITION_PCT")
	setFloat64(&cfg.Risk.MaxPortfolioRisk, "RIPTIDE_RISK_MAX_PORTFOLIO_RISK")
	setFloat64(&cfg.Risk.StopLossPct, "RIPTIDE_RISK_STOP_LOSS_PCT")
	setFloat64(&cfg.Risk.TakeProfitPct, "RIPTIDE_RISK_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Risk.MaxDailyLossPct, "RIPTIDE_RISK_MAX_DAILY_LOSS_PCT")

	// ── Execution ──
	setFloat64(&cfg.Execution.SlippageBps, "RIPTIDE_EXECUTION_SLIPPAGE_BPS")
	setFloat64(&cfg.Execution.CommissionBps, "RIPTIDE_EXECUTION_COMMISSION_BPS")
	setFloat64(&cfg.Execution.MaxFillPerBar, "RIPTIDE_EXECUTION_MAX_FILL_PER_BAR")
	setStr(&cfg.Execution.ExitPolicy, "RIPTIDE_EXECUTION_EXIT_POLICY")
	setDuration(&cfg.Execution.SubmitTimeout, "RIPTIDE_EXECUTION_SUBMIT_TIMEOUT")

	// ── Backtest ──
	setFloat64(&cfg.Backtest.InitialCash, "RIPTIDE_BACKTEST_INITIAL_CASH")
	setStr(&cfg.Backtest.ReportDir, "RIPTIDE_BACKTEST_REPORT_DIR")
	setBool(&cfg.Backtest.PersistTrades, "RIPTIDE_BACKTEST_PERSIST_TRADES")
	setBool(&cfg.Backtest.Archive, "RIPTIDE_BACKTEST_ARCHIVE")
	setBool(&cfg.Backtest.Parallel, "RIPTIDE_BACKTEST_PARALLEL")

	// ── Live ──
	setStr(&cfg.Live.Session, "RIPTIDE_LIVE_SESSION")
	setFloat64(&cfg.Live.InitialCash, "RIPTIDE_LIVE_INITIAL_CASH")
	setBool(&cfg.Live.RecoverOnStart, "RIPTIDE_LIVE_RECOVER_ON_START")

	// ── Feed ──
	setStr(&cfg.Feed.Kind, "RIPTIDE_FEED_KIND")
	setStr(&cfg.Feed.WSURL, "RIPTIDE_FEED_WS_URL")
	setDuration(&cfg.Feed.SimInterval, "RIPTIDE_FEED_SIM_INTERVAL")
	setStringSlice(&cfg.Feed.Kafka.Brokers, "RIPTIDE_FEED_KAFKA_BROKERS")
	setStr(&cfg.Feed.Kafka.Topic, "RIPTIDE_FEED_KAFKA_TOPIC")
	setStr(&cfg.Feed.Kafka.GroupID, "RIPTIDE_FEED_KAFKA_GROUP_ID")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RIPTIDE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RIPTIDE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RIPTIDE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RIPTIDE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RIPTIDE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RIPTIDE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RIPTIDE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RIPTIDE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RIPTIDE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RIPTIDE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "RIPTIDE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RIPTIDE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RIPTIDE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RIPTIDE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RIPTIDE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RIPTIDE_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "RIPTIDE_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "RIPTIDE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RIPTIDE_S3_REGION")
	setStr(&cfg.S3.Bucket, "RIPTIDE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RIPTIDE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RIPTIDE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RIPTIDE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RIPTIDE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RIPTIDE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RIPTIDE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RIPTIDE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "RIPTIDE_SERVER_API_KEY")
	setBool(&cfg.Server.Metrics, "RIPTIDE_SERVER_METRICS")
	setInt(&cfg.Server.RateLimit, "RIPTIDE_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RIPTIDE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RIPTIDE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RIPTIDE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RIPTIDE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "RIPTIDE_MODE")
	setStr(&cfg.LogLevel, "RIPTIDE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
