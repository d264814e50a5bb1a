// Package config defines all configuration for the backtester.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// selected fields overridable via BT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Name     string         `mapstructure:"name"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Account  AccountConfig  `mapstructure:"account"`
	Data     DataConfig     `mapstructure:"data"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// BacktestConfig controls the virtual clock and session lifecycle.
//
//   - Speed: seconds of virtual time advanced per engine tick.
//   - Start/End: range bounds as unix seconds.
//   - StopTime: optional early-cut termination time (0 = run to End).
//   - Restart: when false, resume from a loaded snapshot's cursor.
//   - UseTerminal: delegate margin/profit calculation to the broker bridge.
//   - Preload: eagerly pull tick/rate data per symbol through the bridge.
//   - CloseOpenPositionsOnExit: whether wrap-up closes remaining positions.
type BacktestConfig struct {
	Speed                    int64 `mapstructure:"speed"`
	Start                    int64 `mapstructure:"start"`
	End                      int64 `mapstructure:"end"`
	StopTime                 int64 `mapstructure:"stop_time"`
	Restart                  bool  `mapstructure:"restart"`
	UseTerminal              bool  `mapstructure:"use_terminal"`
	Preload                  bool  `mapstructure:"preload"`
	CloseOpenPositionsOnExit bool  `mapstructure:"close_open_positions_on_exit"`
}

// AccountConfig seeds the simulated account ledger.
type AccountConfig struct {
	Login        int64   `mapstructure:"login"`
	Balance      float64 `mapstructure:"balance"`
	Leverage     int64   `mapstructure:"leverage"`
	Currency     string  `mapstructure:"currency"`
	MarginSoCall float64 `mapstructure:"margin_so_call"` // margin call percent
	MarginSoSo   float64 `mapstructure:"margin_so_so"`   // stop out percent
}

// DataConfig sets where historical market data is read from. Each symbol has
// a ticks file (ticks_<SYMBOL>.json) and optional rate files per timeframe
// (rates_<SYMBOL>_<TF>.json) plus a shared symbols.json catalog.
type DataConfig struct {
	Dir     string   `mapstructure:"dir"`
	Symbols []string `mapstructure:"symbols"`
}

// BridgeConfig points at a terminal gateway for delegated margin/profit
// calculation and data preloading.
type BridgeConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RetryCount  int           `mapstructure:"retry_count"`
	CallsPerSec float64       `mapstructure:"calls_per_sec"`
}

// SnapshotConfig sets where session snapshots and the result report are written.
type SnapshotConfig struct {
	Dir string `mapstructure:"dir"`
}

// StrategyConfig configures the built-in moving-average demo strategy.
// Symbol defaults to the first entry of data.symbols. Stop, take and trail
// distances are in points; risk_pct is the percent of equity risked per
// trade and drives the lot size.
type StrategyConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Symbol           string  `mapstructure:"symbol"`
	FastPeriod       int     `mapstructure:"fast_period"`
	SlowPeriod       int     `mapstructure:"slow_period"`
	StopPoints       int     `mapstructure:"stop_points"`
	TakePoints       int     `mapstructure:"take_points"`
	TrailPoints      int     `mapstructure:"trail_points"`
	Deviation        int     `mapstructure:"deviation"`
	RiskPct          float64 `mapstructure:"risk_pct"`
	MaxOpenPositions int     `mapstructure:"max_open_positions"`
	Magic            int64   `mapstructure:"magic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MonitorConfig controls the progress monitor server.
type MonitorConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Overridable fields use env vars: BT_DATA_DIR, BT_SNAPSHOT_DIR, BT_BRIDGE_BASE_URL, BT_SPEED.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backtest.speed", 60)
	v.SetDefault("backtest.close_open_positions_on_exit", true)
	v.SetDefault("backtest.restart", true)
	v.SetDefault("account.balance", 100_000)
	v.SetDefault("account.leverage", 100)
	v.SetDefault("account.currency", "USD")
	v.SetDefault("account.margin_so_call", 50)
	v.SetDefault("account.margin_so_so", 20)
	v.SetDefault("bridge.timeout", 10*time.Second)
	v.SetDefault("bridge.retry_count", 3)
	v.SetDefault("bridge.calls_per_sec", 10)
	v.SetDefault("snapshot.dir", "data")
	v.SetDefault("strategy.enabled", true)
	v.SetDefault("strategy.fast_period", 50)
	v.SetDefault("strategy.slow_period", 200)
	v.SetDefault("strategy.stop_points", 300)
	v.SetDefault("strategy.take_points", 600)
	v.SetDefault("strategy.deviation", 20)
	v.SetDefault("strategy.risk_pct", 1)
	v.SetDefault("strategy.max_open_positions", 4)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override selected fields from env
	if dir := os.Getenv("BT_DATA_DIR"); dir != "" {
		cfg.Data.Dir = dir
	}
	if dir := os.Getenv("BT_SNAPSHOT_DIR"); dir != "" {
		cfg.Snapshot.Dir = dir
	}
	if url := os.Getenv("BT_BRIDGE_BASE_URL"); url != "" {
		cfg.Bridge.BaseURL = url
	}
	if speed := os.Getenv("BT_SPEED"); speed != "" {
		n, err := strconv.ParseInt(speed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse BT_SPEED: %w", err)
		}
		cfg.Backtest.Speed = n
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Backtest.Speed <= 0 {
		return fmt.Errorf("backtest.speed must be > 0")
	}
	if c.Backtest.Start == 0 || c.Backtest.End == 0 {
		return fmt.Errorf("backtest.start and backtest.end are required")
	}
	if c.Backtest.End <= c.Backtest.Start {
		return fmt.Errorf("backtest.end must be after backtest.start")
	}
	if c.Backtest.StopTime != 0 &&
		(c.Backtest.StopTime <= c.Backtest.Start || c.Backtest.StopTime > c.Backtest.End) {
		return fmt.Errorf("backtest.stop_time must fall inside (start, end]")
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be > 0")
	}
	if c.Account.Leverage <= 0 {
		return fmt.Errorf("account.leverage must be > 0")
	}
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Data.Dir == "" && !c.Backtest.Preload {
		return fmt.Errorf("data.dir is required unless backtest.preload is set")
	}
	if c.Backtest.Preload && c.Bridge.BaseURL == "" {
		return fmt.Errorf("bridge.base_url is required when backtest.preload is set")
	}
	if c.Backtest.UseTerminal && c.Bridge.BaseURL == "" {
		return fmt.Errorf("bridge.base_url is required when backtest.use_terminal is set")
	}
	if len(c.Data.Symbols) == 0 {
		return fmt.Errorf("data.symbols must name at least one symbol")
	}
	if c.Strategy.Enabled {
		if c.Strategy.RiskPct <= 0 || c.Strategy.RiskPct > 100 {
			return fmt.Errorf("strategy.risk_pct must be in (0, 100]")
		}
		if c.Strategy.StopPoints <= 0 {
			return fmt.Errorf("strategy.stop_points must be > 0")
		}
	}
	return nil
}
