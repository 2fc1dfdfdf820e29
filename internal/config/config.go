// Package config defines the top-level configuration for the trading
// core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from
// a TOML file and then optionally overridden by RIPTIDE_* environment
// variables.
type Config struct {
	Data      DataConfig      `toml:"data"`
	Features  FeaturesConfig  `toml:"features"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Model     ModelConfig     `toml:"model"`
	Label     LabelConfig     `toml:"label"`
	Train     TrainConfig     `toml:"train"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Live      LiveConfig      `toml:"live"`
	Feed      FeedConfig      `toml:"feed"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// DataConfig selects the bar source and universe.
type DataConfig struct {
	Source      string   `toml:"source"` // "csv" or "postgres"
	CSVDir      string   `toml:"csv_dir"`
	Instruments []string `toml:"instruments"`
	BarInterval duration `toml:"bar_interval"`
}

// FeaturesConfig holds indicator lookbacks. The max lookback defines
// the warmup window: bars earlier than that yield no feature vector.
type FeaturesConfig struct {
	RSIPeriod    int `toml:"rsi_period"`
	EMAFast      int `toml:"ema_fast"`
	EMASlow      int `toml:"ema_slow"`
	SlopeSpan    int `toml:"slope_span"`
	VWAPWindow   int `toml:"vwap_window"`
	VolumeWindow int `toml:"volume_window"`
	VolWindow    int `toml:"vol_window"`
	BarsPerYear  int `toml:"bars_per_year"` // annualization for realized vol
}

// StrategyConfig holds per-strategy parameters. Active lists the
// strategy names to run; unknown names fail validation.
type StrategyConfig struct {
	Active        []string            `toml:"active"`
	OrderBlock    OrderBlockConfig    `toml:"order_block"`
	VWAPReversion VWAPReversionConfig `toml:"vwap_reversion"`
	MACross       MACrossConfig       `toml:"ma_cross"`
}

// OrderBlockConfig holds config for the order_block strategy.
type OrderBlockConfig struct {
	Enabled     bool    `toml:"enabled"`
	Lookback    int     `toml:"lookback"`
	MaxRangePct float64 `toml:"max_range_pct"`
	RiskReward  float64 `toml:"risk_reward"`
}

// VWAPReversionConfig holds config for the vwap_reversion strategy.
type VWAPReversionConfig struct {
	Enabled       bool    `toml:"enabled"`
	ZThreshold    float64 `toml:"z_threshold"`
	RSIOverbought float64 `toml:"rsi_overbought"`
	RSIOversold   float64 `toml:"rsi_oversold"`
}

// MACrossConfig holds config for the ma_cross strategy.
type MACrossConfig struct {
	Enabled     bool    `toml:"enabled"`
	MinSlopePct float64 `toml:"min_slope_pct"`
}

// ModelConfig selects the scoring backend and its artifact.
type ModelConfig struct {
	Backend     string `toml:"backend"` // "logistic", "onnx", or "none"
	Path        string `toml:"path"`    // local path or s3:// URI
	OnnxLibrary string `toml:"onnx_library"`
}

// LabelConfig holds labeling parameters for training.
type LabelConfig struct {
	HorizonBars int     `toml:"horizon_bars"`
	Holdout     float64 `toml:"holdout"` // fraction reserved for calibration
}

// TrainConfig holds offline training hyperparameters. Training is
// deterministic: fixed-epoch full-batch gradient descent, no RNG.
type TrainConfig struct {
	Epochs          int     `toml:"epochs"`
	LearningRate    float64 `toml:"learning_rate"`
	L2              float64 `toml:"l2"`
	CalibrationBins int     `toml:"calibration_bins"`
}

// RiskConfig holds the risk manager's limits. Percentages are
// fractions of current equity.
type RiskConfig struct {
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	BaseOrderPct        float64 `toml:"base_order_pct"`
	MaxPositionPct      float64 `toml:"max_position_pct"`
	MaxPortfolioRisk    float64 `toml:"max_portfolio_risk"`
	StopLossPct         float64 `toml:"stop_loss_pct"`
	TakeProfitPct       float64 `toml:"take_profit_pct"`
	MaxDailyLossPct     float64 `toml:"max_daily_loss_pct"`
	MinOrderNotional    float64 `toml:"min_order_notional"`
}

// ExecutionConfig holds fill-simulation and gateway parameters.
type ExecutionConfig struct {
	SlippageBps       float64  `toml:"slippage_bps"`
	AvgVolumeWindow   int      `toml:"avg_volume_window"`
	AvgVolumeFraction float64  `toml:"avg_volume_fraction"`
	CommissionBps     float64  `toml:"commission_bps"`
	CommissionFlat    float64  `toml:"commission_flat"`
	LimitBarsToLive   int      `toml:"limit_bars_to_live"`
	MaxFillPerBar     float64  `toml:"max_fill_per_bar"` // fraction of bar volume
	ExitPolicy        string   `toml:"exit_policy"`      // "stop_first" or "target_first"
	SubmitTimeout     duration `toml:"submit_timeout"`
}

// BacktestConfig holds replay parameters.
type BacktestConfig struct {
	Start         time.Time `toml:"start"`
	End           time.Time `toml:"end"`
	InitialCash   float64   `toml:"initial_cash"`
	ReportDir     string    `toml:"report_dir"`
	PersistTrades bool      `toml:"persist_trades"`
	Archive       bool      `toml:"archive"`
	Parallel      bool      `toml:"parallel"` // per-tick feature fan-out
}

// LiveConfig holds live-session parameters.
type LiveConfig struct {
	Session        string   `toml:"session"`
	InitialCash    float64  `toml:"initial_cash"`
	RecoverOnStart bool     `toml:"recover_on_start"`
	SnapshotKeep   int      `toml:"snapshot_keep"`
	LockTTL        duration `toml:"lock_ttl"`
}

// FeedConfig selects the live bar source.
type FeedConfig struct {
	Kind        string      `toml:"kind"` // "sim", "websocket", or "kafka"
	WSURL       string      `toml:"ws_url"`
	SimInterval duration    `toml:"sim_interval"`
	Kafka       KafkaConfig `toml:"kafka"`
}

// KafkaConfig holds Kafka consumer parameters for the kafka feed.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
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
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP status server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	Metrics         bool     `toml:"metrics"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Data: DataConfig{
			Source:      "csv",
			CSVDir:      "data",
			Instruments: []string{},
			BarInterval: duration{time.Hour},
		},
		Features: FeaturesConfig{
			RSIPeriod:    14,
			EMAFast:      9,
			EMASlow:      21,
			SlopeSpan:    3,
			VWAPWindow:   20,
			VolumeWindow: 20,
			VolWindow:    20,
			BarsPerYear:  8760,
		},
		Strategy: StrategyConfig{
			Active: []string{"order_block", "vwap_reversion", "ma_cross"},
			OrderBlock: OrderBlockConfig{
				Enabled:     true,
				Lookback:    12,
				MaxRangePct: 0.015,
				RiskReward:  2.0,
			},
			VWAPReversion: VWAPReversionConfig{
				Enabled:       true,
				ZThreshold:    2.0,
				RSIOverbought: 70,
				RSIOversold:   30,
			},
			MACross: MACrossConfig{
				Enabled:     true,
				MinSlopePct: 0.0005,
			},
		},
		Model: ModelConfig{
			Backend: "logistic",
			Path:    "artifacts/model.json",
		},
		Label: LabelConfig{
			HorizonBars: 24,
			Holdout:     0.3,
		},
		Train: TrainConfig{
			Epochs:          500,
			LearningRate:    0.05,
			L2:              0.0001,
			CalibrationBins: 10,
		},
		Risk: RiskConfig{
			ConfidenceThreshold: 0.6,
			BaseOrderPct:        0.10,
			MaxPositionPct:      0.20,
			MaxPortfolioRisk:    0.10,
			StopLossPct:         0.02,
			TakeProfitPct:       0.04,
			MaxDailyLossPct:     0.05,
			MinOrderNotional:    10.0,
		},
		Execution: ExecutionConfig{
			SlippageBps:       2.0,
			AvgVolumeWindow:   20,
			AvgVolumeFraction: 0.1,
			CommissionBps:     10.0,
			CommissionFlat:    0.0,
			LimitBarsToLive:   3,
			MaxFillPerBar:     0.25,
			ExitPolicy:        "stop_first",
			SubmitTimeout:     duration{5 * time.Second},
		},
		Backtest: BacktestConfig{
			InitialCash:   100_000,
			ReportDir:     "reports",
			PersistTrades: false,
			Archive:       false,
			Parallel:      false,
		},
		Live: LiveConfig{
			Session:        "default",
			InitialCash:    100_000,
			RecoverOnStart: true,
			SnapshotKeep:   48,
			LockTTL:        duration{30 * time.Second},
		},
		Feed: FeedConfig{
			Kind:        "sim",
			SimInterval: duration{time.Second},
			Kafka: KafkaConfig{
				GroupID: "riptide",
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "riptide",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "riptide-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			Metrics:         true,
			RateLimit:       0,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"order_filled", "risk_halted", "run_complete", "error"},
		},
		Mode:     "backtest",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"backtest": true,
	"live":     true,
	"train":    true,
	"ingest":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validStrategies enumerates the strategies the registry can build.
var validStrategies = map[string]bool{
	"order_block":    true,
	"vwap_reversion": true,
	"ma_cross":       true,
}

// NeedsPostgres reports whether the configured mode dials Postgres.
// Ingest exists to fill it and live persists its session there;
// backtest and train only touch it when it is the data source or a
// persistence flag asks for it.
func (c *Config) NeedsPostgres() bool {
	switch strings.ToLower(c.Mode) {
	case "ingest", "live":
		return true
	case "backtest":
		return c.Data.Source == "postgres" || c.Backtest.PersistTrades
	case "train":
		return c.Data.Source == "postgres"
	default:
		return false
	}
}

// NeedsRedis reports whether live-session coordination is wired. An
// empty addr opts out: the session runs without the singleton lock,
// the signal bus, the shared mark cache and API rate limiting.
func (c *Config) NeedsRedis() bool {
	return strings.ToLower(c.Mode) == "live" && c.Redis.Addr != ""
}

// NeedsS3 reports whether object storage is dialed: report archiving,
// artifact upload after training, or scoring with an s3:// model path.
func (c *Config) NeedsS3() bool {
	switch strings.ToLower(c.Mode) {
	case "backtest":
		if c.Backtest.Archive {
			return true
		}
	case "train":
		return strings.HasPrefix(c.Model.Path, "s3://")
	}
	return c.Model.Backend != "none" && strings.HasPrefix(c.Model.Path, "s3://")
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: backtest, live, train, ingest)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Data
	if c.Data.Source != "csv" && c.Data.Source != "postgres" {
		errs = append(errs, fmt.Sprintf("data: unknown source %q (valid: csv, postgres)", c.Data.Source))
	}
	if c.Data.Source == "csv" && c.Data.CSVDir == "" {
		errs = append(errs, "data: csv_dir must not be empty when source is csv")
	}
	if len(c.Data.Instruments) == 0 {
		errs = append(errs, "data: at least one instrument is required")
	}

	// Features
	if c.Features.RSIPeriod < 2 {
		errs = append(errs, "features: rsi_period must be >= 2")
	}
	if c.Features.EMAFast < 1 || c.Features.EMASlow < 1 {
		errs = append(errs, "features: ema periods must be >= 1")
	}
	if c.Features.EMAFast >= c.Features.EMASlow {
		errs = append(errs, fmt.Sprintf("features: ema_fast (%d) must be shorter than ema_slow (%d)", c.Features.EMAFast, c.Features.EMASlow))
	}
	if c.Features.BarsPerYear < 1 {
		errs = append(errs, "features: bars_per_year must be >= 1")
	}

	// Strategy
	if len(c.Strategy.Active) == 0 {
		errs = append(errs, "strategy: active must list at least one strategy")
	}
	for _, name := range c.Strategy.Active {
		if !validStrategies[name] {
			errs = append(errs, fmt.Sprintf("strategy: unknown strategy %q (valid: order_block, vwap_reversion, ma_cross)", name))
		}
	}
	if c.Strategy.OrderBlock.RiskReward <= 0 {
		errs = append(errs, "strategy: order_block.risk_reward must be > 0")
	}
	if c.Strategy.VWAPReversion.ZThreshold <= 0 {
		errs = append(errs, "strategy: vwap_reversion.z_threshold must be > 0")
	}

	// Model
	switch c.Model.Backend {
	case "logistic", "onnx", "none":
	default:
		errs = append(errs, fmt.Sprintf("model: unknown backend %q (valid: logistic, onnx, none)", c.Model.Backend))
	}
	if c.Model.Backend != "none" && c.Model.Path == "" {
		errs = append(errs, "model: path must be set unless backend is none")
	}

	// Label
	if c.Label.HorizonBars < 1 {
		errs = append(errs, "label: horizon_bars must be >= 1")
	}
	if c.Label.Holdout < 0 || c.Label.Holdout >= 1 {
		errs = append(errs, "label: holdout must be in [0, 1)")
	}

	// Train
	if c.Mode == "train" {
		if c.Train.Epochs < 1 {
			errs = append(errs, "train: epochs must be >= 1")
		}
		if c.Train.LearningRate <= 0 {
			errs = append(errs, "train: learning_rate must be > 0")
		}
		if c.Train.CalibrationBins < 2 {
			errs = append(errs, "train: calibration_bins must be >= 2")
		}
	}

	// Risk
	if c.Risk.ConfidenceThreshold < 0 || c.Risk.ConfidenceThreshold > 1 {
		errs = append(errs, "risk: confidence_threshold must be in [0, 1]")
	}
	if c.Risk.BaseOrderPct <= 0 || c.Risk.BaseOrderPct > 1 {
		errs = append(errs, "risk: base_order_pct must be in (0, 1]")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		errs = append(errs, "risk: max_position_pct must be in (0, 1]")
	}
	if c.Risk.MaxPortfolioRisk <= 0 || c.Risk.MaxPortfolioRisk > 1 {
		errs = append(errs, "risk: max_portfolio_risk must be in (0, 1]")
	}
	if c.Risk.StopLossPct <= 0 {
		errs = append(errs, "risk: stop_loss_pct must be > 0")
	}
	if c.Risk.TakeProfitPct <= 0 {
		errs = append(errs, "risk: take_profit_pct must be > 0")
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 1 {
		errs = append(errs, "risk: max_daily_loss_pct must be in (0, 1]")
	}

	// Execution
	if c.Execution.SlippageBps < 0 {
		errs = append(errs, "execution: slippage_bps must be >= 0")
	}
	if c.Execution.MaxFillPerBar <= 0 || c.Execution.MaxFillPerBar > 1 {
		errs = append(errs, "execution: max_fill_per_bar must be in (0, 1]")
	}
	if c.Execution.LimitBarsToLive < 1 {
		errs = append(errs, "execution: limit_bars_to_live must be >= 1")
	}
	if c.Execution.ExitPolicy != "stop_first" && c.Execution.ExitPolicy != "target_first" {
		errs = append(errs, fmt.Sprintf("execution: unknown exit_policy %q (valid: stop_first, target_first)", c.Execution.ExitPolicy))
	}

	// Backtest
	if c.Mode == "backtest" {
		if c.Backtest.InitialCash <= 0 {
			errs = append(errs, "backtest: initial_cash must be > 0")
		}
		if !c.Backtest.Start.IsZero() && !c.Backtest.End.IsZero() && !c.Backtest.End.After(c.Backtest.Start) {
			errs = append(errs, "backtest: end must be after start")
		}
	}

	// Live
	if c.Mode == "live" {
		if c.Live.Session == "" {
			errs = append(errs, "live: session must not be empty")
		}
		if c.Live.InitialCash <= 0 {
			errs = append(errs, "live: initial_cash must be > 0")
		}
		switch c.Feed.Kind {
		case "sim", "websocket", "kafka":
		default:
			errs = append(errs, fmt.Sprintf("feed: unknown kind %q (valid: sim, websocket, kafka)", c.Feed.Kind))
		}
		if c.Feed.Kind == "websocket" && c.Feed.WSURL == "" {
			errs = append(errs, "feed: ws_url must be set for the websocket feed")
		}
		if c.Feed.Kind == "kafka" && (len(c.Feed.Kafka.Brokers) == 0 || c.Feed.Kafka.Topic == "") {
			errs = append(errs, "feed: kafka.brokers and kafka.topic must be set for the kafka feed")
		}
	}

	// Postgres (only checked when the mode will dial it)
	if c.NeedsPostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.NeedsRedis() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.NeedsS3() {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
