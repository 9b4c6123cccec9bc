// Package config defines all operational configuration for the trading
// engine. Config is loaded from a YAML file (default: configs/config.yaml)
// with overrides from HFT_* environment variables. The symbol registry
// (internal/symbolmeta) is loaded and hot-reloaded separately; it is not
// part of this struct.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RecorderMode selects how the recorder pipeline persists events.
// Resolved once at startup and immutable for the process lifetime;
// changing it requires a restart.
type RecorderMode string

const (
	RecorderModeDirect   RecorderMode = "direct"
	RecorderModeWALFirst RecorderMode = "wal_first"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Bus          BusConfig          `mapstructure:"bus"`
	StormGuard   StormGuardConfig   `mapstructure:"storm_guard"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Recorder     RecorderConfig     `mapstructure:"recorder"`
	DiskPressure DiskPressureConfig `mapstructure:"disk_pressure"`
	Reconcile    ReconcileConfig    `mapstructure:"reconcile"`
	Normalizer   NormalizerConfig   `mapstructure:"normalizer"`
	SymbolFile   string             `mapstructure:"symbol_file"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	API          APIConfig          `mapstructure:"api"`
}

// BusConfig sizes the RingBus.
type BusConfig struct {
	Capacity           uint64        `mapstructure:"capacity"`
	OverflowWindow     time.Duration `mapstructure:"overflow_window"`
	OverflowHaltThresh int           `mapstructure:"overflow_halt_threshold"`
	BatchConsumeMax    int           `mapstructure:"batch_consume_max"`
	LockedMultiWriter  bool          `mapstructure:"locked_multi_writer"`
}

// StormGuardConfig sets per-input thresholds for the health FSM.
type StormGuardConfig struct {
	DrawdownWarnPct   float64 `mapstructure:"drawdown_warn_pct"`
	DrawdownStormPct  float64 `mapstructure:"drawdown_storm_pct"`
	DrawdownHaltPct   float64 `mapstructure:"drawdown_halt_pct"`
	LatencyWarnUs     int64   `mapstructure:"latency_warn_us"`
	LatencyStormUs    int64   `mapstructure:"latency_storm_us"`
	LatencyHaltUs     int64   `mapstructure:"latency_halt_us"`
	FeedGapWarnS      float64 `mapstructure:"feed_gap_warn_s"`
	FeedGapStormS     float64 `mapstructure:"feed_gap_storm_s"`
	FeedGapHaltS      float64 `mapstructure:"feed_gap_halt_s"`
	AllowCancelOnHalt bool    `mapstructure:"allow_cancel_on_halt"`
}

// GatewayConfig tunes OrderAdapter: rate limiting, circuit breaking, deadlines.
type GatewayConfig struct {
	SoftCap          int           `mapstructure:"soft_cap"`
	HardCap          int           `mapstructure:"hard_cap"`
	WindowS          int           `mapstructure:"window_s"`
	CircuitThreshold int           `mapstructure:"circuit_threshold"`
	CircuitTimeoutS  int           `mapstructure:"circuit_timeout_s"`
	DefaultDeadline  time.Duration `mapstructure:"default_deadline"`
	DLQDir           string        `mapstructure:"dlq_dir"`
	BrokerBaseURL    string        `mapstructure:"broker_base_url"`
	MarketFeedURL    string        `mapstructure:"market_feed_url"`
	ExecFeedURL      string        `mapstructure:"exec_feed_url"`
	DryRun           bool          `mapstructure:"dry_run"`
}

// RiskConfig sets hard limits enforced by RiskEngine.
type RiskConfig struct {
	PriceBandPct float64 `mapstructure:"price_band_pct"`
	MaxPriceCap  int64   `mapstructure:"max_price_cap"`
	MaxNotional  int64   `mapstructure:"max_notional"`
	MaxOrderSize int64   `mapstructure:"max_order_size"`
	ContractMult int64   `mapstructure:"contract_multiplier"`
}

// RecorderConfig selects the recorder mode and its batching/writer settings.
type RecorderConfig struct {
	Mode             RecorderMode  `mapstructure:"mode"`
	FlushLimit       int           `mapstructure:"flush_limit"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	MaxBufferSize    int           `mapstructure:"max_buffer_size"`
	BackpressureMode string        `mapstructure:"backpressure_policy"` // drop_newest|drop_oldest|block
	WALDir           string        `mapstructure:"wal_dir"`
	DSN              string        `mapstructure:"dsn"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	MaxFutureSkewS   float64       `mapstructure:"max_future_skew_s"`
}

// DiskPressureConfig tunes the WAL-directory disk-pressure monitor.
type DiskPressureConfig struct {
	CheckInterval time.Duration     `mapstructure:"check_interval"`
	WarnMB        int64             `mapstructure:"warn_mb"`
	CriticalMB    int64             `mapstructure:"critical_mb"`
	HaltMB        int64             `mapstructure:"halt_mb"`
	TablePolicy   map[string]string `mapstructure:"table_policy"` // write|drop|halt under CRITICAL
}

// ReconcileConfig tunes the periodic broker-position reconciliation task.
type ReconcileConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Tolerance int64         `mapstructure:"tolerance"`
}

// NormalizerConfig tunes timestamp coercion and future-clamping.
type NormalizerConfig struct {
	MaxFutureSkew time.Duration `mapstructure:"max_future_skew"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig controls the status/metrics HTTP surface.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with HFT_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// HFT_DISABLE_CLICKHOUSE is a deprecated back-compat alias that forces
	// wal_first mode; HFT_RECORDER_MODE is the supported knob.
	if os.Getenv("HFT_DISABLE_CLICKHOUSE") != "" {
		cfg.Recorder.Mode = RecorderModeWALFirst
	} else if mode := os.Getenv("HFT_RECORDER_MODE"); mode != "" {
		cfg.Recorder.Mode = RecorderMode(strings.ToLower(mode))
	}
	if cfg.Recorder.Mode == "" {
		cfg.Recorder.Mode = RecorderModeDirect
	}

	if dsn := os.Getenv("HFT_RECORDER_DSN"); dsn != "" {
		cfg.Recorder.DSN = dsn
	}

	// Bus overflow escalation defaults, kept here rather than buried in
	// the component so operators can find them.
	if cfg.Bus.OverflowWindow <= 0 {
		cfg.Bus.OverflowWindow = 10 * time.Second
	}
	if cfg.Bus.OverflowHaltThresh <= 0 {
		cfg.Bus.OverflowHaltThresh = 50
	}
	if cfg.Bus.BatchConsumeMax <= 0 {
		cfg.Bus.BatchConsumeMax = 64
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Bus.Capacity == 0 || (c.Bus.Capacity&(c.Bus.Capacity-1)) != 0 {
		return fmt.Errorf("bus.capacity must be a power of 2")
	}
	if c.SymbolFile == "" {
		return fmt.Errorf("symbol_file is required")
	}
	if c.Gateway.SoftCap <= 0 || c.Gateway.HardCap <= 0 || c.Gateway.SoftCap > c.Gateway.HardCap {
		return fmt.Errorf("gateway.soft_cap must be > 0 and <= gateway.hard_cap")
	}
	if c.Risk.MaxOrderSize <= 0 {
		return fmt.Errorf("risk.max_order_size must be > 0")
	}
	if c.Risk.MaxNotional <= 0 {
		return fmt.Errorf("risk.max_notional must be > 0")
	}
	switch c.Recorder.Mode {
	case RecorderModeDirect, RecorderModeWALFirst:
	default:
		return fmt.Errorf("recorder.mode must be %q or %q", RecorderModeDirect, RecorderModeWALFirst)
	}
	if c.Recorder.WALDir == "" {
		return fmt.Errorf("recorder.wal_dir is required")
	}
	if c.Recorder.Mode == RecorderModeDirect && c.Recorder.DSN == "" {
		return fmt.Errorf("recorder.dsn is required when recorder.mode is direct")
	}
	return nil
}
