package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newthinker/breakout/internal/align"
	"github.com/newthinker/breakout/internal/core"
	"github.com/newthinker/breakout/internal/strategy"
	"go.uber.org/zap"
)

// Config holds the per-instrument pipeline settings shared by every run
type Config struct {
	Align         align.Options
	Filters       strategy.Chain
	RecentSize    int
	Recent        strategy.RecentFilter
	CloseAt       time.Duration
	VolumeConfirm float64
	Cost          CostModel
	Stats         StatsOptions
	// From and To bound the traded dates; zero means unbounded. Dates
	// before From still feed the prior-day context.
	From core.Date
	To   core.Date
}

// DefaultConfig returns a pipeline with no filters and no costs
func DefaultConfig() Config {
	return Config{
		Align: align.DefaultOptions(),
		Stats: DefaultStatsOptions(),
	}
}

// Validate checks the settings that can be wrong independently of data
func (c Config) Validate() error {
	if err := c.Cost.Validate(); err != nil {
		return err
	}
	if c.RecentSize < 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("recent window size must be >= 0, got %d", c.RecentSize))
	}
	if c.VolumeConfirm < 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("volume confirmation must be >= 0, got %v", c.VolumeConfirm))
	}
	if c.From != 0 && c.To != 0 && c.To < c.From {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("window end %s before start %s", c.To, c.From))
	}
	return nil
}

// Backtester runs one strategy over one instrument at a time. It holds no
// per-run state, so a single value may serve concurrent runs.
type Backtester struct {
	strategy strategy.Strategy
	cfg      Config
	logger   *zap.Logger
}

// New creates a Backtester for the given strategy
func New(strat strategy.Strategy, cfg Config, logger *zap.Logger) *Backtester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{
		strategy: strat,
		cfg:      cfg,
		logger:   logger,
	}
}

// Strategy returns the strategy under test
func (b *Backtester) Strategy() strategy.Strategy {
	return b.strategy
}

// Run aligns the instrument's series and walks its sessions in date order:
// target, filters, recent-results gate, intraday resolution, cost and
// recording. The summary is computed from the finished trade log.
func (b *Backtester) Run(ctx context.Context, inst core.Instrument) (*Result, error) {
	if inst.Minute.Len() == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no minute bars for %s", inst.Symbol))
	}

	sessions, err := align.Align(inst.Daily, inst.Minute, b.cfg.Align)
	if err != nil {
		return nil, err
	}

	log := b.logger.With(zap.String("symbol", inst.Symbol))
	res := &Result{Symbol: inst.Symbol, Strategy: b.strategy.Name()}
	rec := NewRecorder(inst.Symbol, b.cfg.Cost)
	window := strategy.NewRecentWindow(b.cfg.RecentSize)

	for _, s := range sessions {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if (b.cfg.From != 0 && s.Date < b.cfg.From) || (b.cfg.To != 0 && s.Date > b.cfg.To) {
			continue
		}
		res.Sessions++

		if !s.Valid {
			res.Skipped++
			log.Debug("session skipped", zap.Stringer("date", s.Date), zap.String("reason", s.Reason))
			continue
		}
		target, ok := b.strategy.Target(s.Context)
		if !ok {
			res.Skipped++
			continue
		}
		if name, ok := b.cfg.Filters.Check(s.Context); !ok {
			res.Filtered++
			log.Debug("session filtered", zap.Stringer("date", s.Date), zap.String("filter", name))
			continue
		}

		opts := ResolveOptions{CloseAt: b.cfg.CloseAt}
		if b.cfg.VolumeConfirm > 0 {
			avg, ok := s.Context.Indicator(align.IndAvgVolume5)
			if !ok {
				res.Filtered++
				continue
			}
			opts.MinCumVolume = b.cfg.VolumeConfirm * avg
		}

		fill, ok := Resolve(target, s.Bars, opts)
		if !ok {
			continue
		}

		// The window sees every breakout, traded or not, so a blocked
		// instrument can recover.
		_, net := b.cfg.Cost.Net(fill.EntryPrice, fill.ExitPrice)
		allowed := b.cfg.Recent.Allow(window)
		window = window.Push(net > 0)
		if !allowed {
			res.Blocked++
			log.Debug("breakout blocked by recent results", zap.Stringer("date", s.Date))
			continue
		}

		if _, err := rec.Record(s, target.Price, fill); err != nil {
			return nil, err
		}
	}

	res.Trades = rec.Trades()
	res.Summary, err = CalculateStats(res.Trades, b.cfg.Stats)
	if err != nil && !errors.Is(err, core.ErrInsufficientData) {
		return nil, err
	}
	res.Summary.Scope = inst.Symbol
	returns := make([]float64, len(res.Trades))
	for i, t := range res.Trades {
		returns[i] = t.NetReturn
	}
	res.EquityCurve = EquityCurve(returns, res.Summary.Mode)

	log.Info("backtest complete",
		zap.Int("sessions", res.Sessions),
		zap.Int("trades", len(res.Trades)),
		zap.Int("skipped", res.Skipped),
		zap.Int("filtered", res.Filtered),
		zap.Int("blocked", res.Blocked),
	)
	return res, nil
}
