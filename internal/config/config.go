package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // exchange timezones resolve without a system zoneinfo

	"github.com/newthinker/breakout/internal/align"
	"github.com/newthinker/breakout/internal/backtest"
	"github.com/newthinker/breakout/internal/core"
	"github.com/newthinker/breakout/internal/storage/archive"
	"github.com/newthinker/breakout/internal/strategy"
	"github.com/newthinker/breakout/internal/strategy/breakout"
	"github.com/spf13/viper"
)

type Config struct {
	Data        DataConfig        `mapstructure:"data"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Filters     FiltersConfig     `mapstructure:"filters"`
	Cost        CostConfig        `mapstructure:"cost"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Alignment   AlignmentConfig   `mapstructure:"alignment"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Output      OutputConfig      `mapstructure:"output"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Log         LogConfig         `mapstructure:"log"`
}

// DataConfig selects where bars come from.
type DataConfig struct {
	Source      string           `mapstructure:"source"` // "csv", "arrow" or "clickhouse"
	Dir         string           `mapstructure:"dir"`    // For csv and arrow
	Timezone    string           `mapstructure:"timezone"`
	DeriveDaily bool             `mapstructure:"derive_daily"`
	Symbols     []string         `mapstructure:"symbols"` // Empty means every symbol the source lists
	ClickHouse  ClickHouseConfig `mapstructure:"clickhouse"`
}

type ClickHouseConfig struct {
	DSN         string `mapstructure:"dsn"`
	DailyTable  string `mapstructure:"daily_table"`
	MinuteTable string `mapstructure:"minute_table"`
}

// StrategyConfig holds the breakout parameters and the traded window.
type StrategyConfig struct {
	Name          string  `mapstructure:"name"`
	K             float64 `mapstructure:"k"`
	StopLoss      float64 `mapstructure:"stop_loss"`
	TakeProfit    float64 `mapstructure:"take_profit"`
	CloseAt       string  `mapstructure:"close_at"` // HH:MM, empty means the last bar
	VolumeConfirm float64 `mapstructure:"volume_confirm"`
	From          string  `mapstructure:"from"`
	To            string  `mapstructure:"to"`
}

type FiltersConfig struct {
	Trend        bool         `mapstructure:"trend"`
	MinAvgValue  float64      `mapstructure:"min_avg_value"`
	Momentum     bool         `mapstructure:"momentum"`
	MinSlope     float64      `mapstructure:"min_slope"`
	MinDisparity float64      `mapstructure:"min_disparity"`
	Recent       RecentConfig `mapstructure:"recent"`
}

// RecentConfig gates entries on the instrument's last trade outcomes.
type RecentConfig struct {
	Window     int     `mapstructure:"window"`
	MinWinRate float64 `mapstructure:"min_win_rate"`
}

type CostConfig struct {
	Commission float64 `mapstructure:"commission"`
	Tax        float64 `mapstructure:"tax"`
	Slippage   float64 `mapstructure:"slippage"`
}

type PerformanceConfig struct {
	EquityMode    string  `mapstructure:"equity_mode"`
	Annualization float64 `mapstructure:"annualization"`
}

type AlignmentConfig struct {
	MaxDerivedDays int `mapstructure:"max_derived_days"`
	MaxStaleDays   int `mapstructure:"max_stale_days"`
}

type BatchConfig struct {
	Workers           int           `mapstructure:"workers"`
	InstrumentTimeout time.Duration `mapstructure:"instrument_timeout"`
	TopTier           TopTierConfig `mapstructure:"top_tier"`
}

// TopTierConfig holds the thresholds for the top-tier list.
type TopTierConfig struct {
	MinProfitFactor float64 `mapstructure:"min_profit_factor"`
	MaxDrawdown     float64 `mapstructure:"max_drawdown"`
	MinTrades       int     `mapstructure:"min_trades"`
}

type OutputConfig struct {
	Type        string   `mapstructure:"type"` // "localfs" or "s3"
	Path        string   `mapstructure:"path"` // For localfs
	S3          S3Config `mapstructure:"s3"`   // For S3
	Formats     []string `mapstructure:"formats"`
	PostgresDSN string   `mapstructure:"postgres_dsn"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// TelemetryConfig holds metrics configuration.
type TelemetryConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads configuration from file over Defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Data: DataConfig{
			Source:   "csv",
			Dir:      "data",
			Timezone: "Asia/Seoul",
			ClickHouse: ClickHouseConfig{
				MinuteTable: "minute_bars",
			},
		},
		Strategy: StrategyConfig{
			Name:     "volatility_breakout",
			K:        0.5,
			StopLoss: 0.02,
		},
		Cost: CostConfig{
			Commission: 0.00015,
			Tax:        0.0018,
			Slippage:   0.001,
		},
		Performance: PerformanceConfig{
			EquityMode:    string(backtest.EquityCompounding),
			Annualization: 252,
		},
		Alignment: AlignmentConfig{
			MaxDerivedDays: 1,
			MaxStaleDays:   10,
		},
		Batch: BatchConfig{
			Workers:           4,
			InstrumentTimeout: 5 * time.Minute,
			TopTier: TopTierConfig{
				MinProfitFactor: 1.2,
				MaxDrawdown:     0.20,
				MinTrades:       15,
			},
		},
		Output: OutputConfig{
			Type:    "localfs",
			Path:    "results",
			Formats: []string{"csv", "json"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for errors. It runs before any
// instrument is simulated.
func (c *Config) Validate() error {
	switch c.Data.Source {
	case "csv", "arrow":
		if c.Data.Dir == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("data.dir required for %s source", c.Data.Source))
		}
	case "clickhouse":
		if c.Data.ClickHouse.DSN == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("data.clickhouse.dsn required for clickhouse source"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown data source %q", c.Data.Source))
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Strategy.Name == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("strategy.name required"))
	}
	if err := c.BreakoutParams().Validate(); err != nil {
		return err
	}
	if c.Strategy.VolumeConfirm < 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("volume_confirm cannot be negative, got %v", c.Strategy.VolumeConfirm))
	}
	if _, err := c.CloseAt(); err != nil {
		return err
	}

	if r := c.Filters.Recent; r.Window < 0 || r.MinWinRate < 0 || r.MinWinRate > 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("recent window must be >= 0 and min_win_rate in [0, 1], got %d and %v", r.Window, r.MinWinRate))
	}

	if _, err := backtest.ParseEquityMode(c.Performance.EquityMode); err != nil {
		return err
	}
	if c.Performance.Annualization <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("annualization must be positive, got %v", c.Performance.Annualization))
	}
	if c.Alignment.MaxDerivedDays < 0 || c.Alignment.MaxStaleDays < 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("alignment bounds cannot be negative"))
	}
	if c.Batch.Workers < 1 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("batch.workers must be >= 1, got %d", c.Batch.Workers))
	}
	for _, f := range c.Output.Formats {
		switch f {
		case "csv", "arrow", "json":
		default:
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown output format %q", f))
		}
	}

	// Cost and window checks are shared with the pipeline
	bt, err := c.Backtest(nil)
	if err != nil {
		return err
	}
	return bt.Validate()
}

// Location resolves data.timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Data.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Data.Timezone)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("timezone %q: %w", c.Data.Timezone, err))
	}
	return loc, nil
}

// CloseAt parses strategy.close_at as a time of day
func (c *Config) CloseAt() (time.Duration, error) {
	if c.Strategy.CloseAt == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", c.Strategy.CloseAt)
	if err != nil {
		return 0, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("close_at %q is not HH:MM", c.Strategy.CloseAt))
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// BreakoutParams returns the strategy parameters in typed form
func (c *Config) BreakoutParams() breakout.Params {
	return breakout.Params{
		K:          c.Strategy.K,
		StopLoss:   c.Strategy.StopLoss,
		TakeProfit: c.Strategy.TakeProfit,
	}
}

// StrategyParams returns the strategy parameters in registry form
func (c *Config) StrategyParams() map[string]any {
	return map[string]any{
		"k":           c.Strategy.K,
		"stop_loss":   c.Strategy.StopLoss,
		"take_profit": c.Strategy.TakeProfit,
	}
}

// FilterChain builds the configured entry filter chain
func (c *Config) FilterChain() strategy.Chain {
	var chain strategy.Chain
	if c.Filters.Trend {
		chain = append(chain, strategy.TrendFilter{})
	}
	if c.Filters.MinAvgValue > 0 {
		chain = append(chain, strategy.LiquidityFilter{MinAvgValue: c.Filters.MinAvgValue})
	}
	if c.Filters.Momentum {
		chain = append(chain, strategy.MomentumFilter{MinSlope: c.Filters.MinSlope, MinDisparity: c.Filters.MinDisparity})
	}
	return chain
}

// Backtest assembles the per-instrument pipeline settings. Extra filters
// are appended after the configured ones.
func (c *Config) Backtest(extra strategy.Chain) (backtest.Config, error) {
	mode, err := backtest.ParseEquityMode(c.Performance.EquityMode)
	if err != nil {
		return backtest.Config{}, err
	}
	closeAt, err := c.CloseAt()
	if err != nil {
		return backtest.Config{}, err
	}
	cfg := backtest.Config{
		Align: align.Options{
			MaxDerivedDays: c.Alignment.MaxDerivedDays,
			MaxStaleDays:   c.Alignment.MaxStaleDays,
		},
		Filters:       append(c.FilterChain(), extra...),
		RecentSize:    c.Filters.Recent.Window,
		Recent:        strategy.RecentFilter{MinWinRate: c.Filters.Recent.MinWinRate},
		CloseAt:       closeAt,
		VolumeConfirm: c.Strategy.VolumeConfirm,
		Cost: backtest.CostModel{
			Commission: c.Cost.Commission,
			Tax:        c.Cost.Tax,
			Slippage:   c.Cost.Slippage,
		},
		Stats: backtest.StatsOptions{Mode: mode, Annualization: c.Performance.Annualization},
	}
	if cfg.From, err = parseOptionalDate("strategy.from", c.Strategy.From); err != nil {
		return backtest.Config{}, err
	}
	if cfg.To, err = parseOptionalDate("strategy.to", c.Strategy.To); err != nil {
		return backtest.Config{}, err
	}
	return cfg, nil
}

// Archive returns the output storage settings
func (c *Config) Archive() archive.Config {
	return archive.Config{
		Type: c.Output.Type,
		Path: c.Output.Path,
		S3: archive.S3Config{
			Bucket:    c.Output.S3.Bucket,
			Endpoint:  c.Output.S3.Endpoint,
			Region:    c.Output.S3.Region,
			AccessKey: c.Output.S3.AccessKey,
			SecretKey: c.Output.S3.SecretKey,
			Prefix:    c.Output.S3.Prefix,
		},
	}
}

func parseOptionalDate(key, s string) (core.Date, error) {
	if s == "" {
		return 0, nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return 0, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("%s: %w", key, err))
	}
	return d, nil
}
