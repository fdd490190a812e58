package main

import (
	"context"
	"fmt"

	"github.com/newthinker/breakout/internal/backtest"
	"github.com/newthinker/breakout/internal/config"
	"github.com/newthinker/breakout/internal/logger"
	"github.com/newthinker/breakout/internal/source"
	"github.com/newthinker/breakout/internal/source/arrowfile"
	"github.com/newthinker/breakout/internal/source/clickhouse"
	"github.com/newthinker/breakout/internal/source/csvfile"
	"github.com/newthinker/breakout/internal/storage/postgres"
	"github.com/newthinker/breakout/internal/strategy"
	"github.com/newthinker/breakout/internal/strategy/breakout"
	"go.uber.org/zap"
)

// setup loads and validates the config and builds the logger
func setup() (*config.Config, *zap.Logger, error) {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Defaults()
	}

	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	log, err := logger.New(debug || cfg.Log.Development, level)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, log, nil
}

// openSource builds the configured bar source. The returned func releases
// any connection it holds.
func openSource(ctx context.Context, cfg *config.Config) (source.Source, func(), error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	opts := source.Options{Location: loc, DeriveDaily: cfg.Data.DeriveDaily}

	switch cfg.Data.Source {
	case "csv":
		return csvfile.New(cfg.Data.Dir, opts), func() {}, nil
	case "arrow":
		return arrowfile.New(cfg.Data.Dir, opts), func() {}, nil
	case "clickhouse":
		conn, err := clickhouse.NewConn(ctx, cfg.Data.ClickHouse.DSN)
		if err != nil {
			return nil, nil, err
		}
		src, err := clickhouse.New(conn, clickhouse.Tables{
			Daily:  cfg.Data.ClickHouse.DailyTable,
			Minute: cfg.Data.ClickHouse.MinuteTable,
		}, opts)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return src, func() { conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}
}

// newRegistry returns the strategies the CLI can run
func newRegistry() *strategy.Registry {
	reg := strategy.NewRegistry()
	reg.Register(breakout.Name, breakout.Factory)
	return reg
}

func newBacktester(cfg *config.Config, log *zap.Logger) (*backtest.Backtester, error) {
	strat, err := newRegistry().Build(cfg.Strategy.Name, cfg.StrategyParams())
	if err != nil {
		return nil, err
	}
	btCfg, err := cfg.Backtest(nil)
	if err != nil {
		return nil, err
	}
	return backtest.New(strat, btCfg, log), nil
}

// openSummaryStore connects to Postgres when output.postgres_dsn is set
func openSummaryStore(ctx context.Context, cfg *config.Config) (*postgres.SummaryStore, func(), error) {
	if cfg.Output.PostgresDSN == "" {
		return nil, func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, cfg.Output.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.NewSummaryStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
