// Package batch runs one strategy over a universe of instruments with a
// bounded worker pool and ranks the results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/breakout/internal/backtest"
	"github.com/newthinker/breakout/internal/core"
	"github.com/newthinker/breakout/internal/metrics"
	"github.com/newthinker/breakout/internal/source"
	"github.com/newthinker/breakout/internal/storage/postgres"
	"go.uber.org/zap"
)

// ErrPanic is the failure code of an instrument whose simulation panicked
var ErrPanic = &core.Error{Code: "PANIC", Message: "instrument simulation panicked"}

// Options configures an Orchestrator
type Options struct {
	Workers           int
	InstrumentTimeout time.Duration // Zero disables the per-instrument deadline
	TopTier           TopTierOptions
	Stats             backtest.StatsOptions
	Params            map[string]any // Recorded in the run manifest
}

// DefaultOptions returns a four-worker pool with no deadline
func DefaultOptions() Options {
	return Options{
		Workers: 4,
		TopTier: DefaultTopTier(),
		Stats:   backtest.DefaultStatsOptions(),
	}
}

// RunStore persists a finished run's summaries
type RunStore interface {
	SaveRun(ctx context.Context, run postgres.Run, summaries []backtest.Summary) error
}

// Failure records an instrument that produced no result
type Failure struct {
	Symbol string
	Code   string
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Symbol, f.Err)
}

// Report is the outcome of one batch run. Per-instrument data of a
// cancelled or failed instrument never appears in Ranked.
type Report struct {
	RunID      uuid.UUID
	Strategy   string
	Params     map[string]any
	StartedAt  time.Time
	FinishedAt time.Time
	Symbols    int

	Ranked    []backtest.Summary // Instruments with at least one trade
	TopTier   []backtest.Summary
	NoTrades  []string
	Failures  []Failure
	Cancelled []string
	Aggregate backtest.Summary

	// IndicatorProfit compares snapshot columns over every ranked trade
	IndicatorProfit []backtest.IndicatorStat
}

// Orchestrator fans instruments out to workers. Each worker owns one
// instrument at a time, so no simulation state is shared.
type Orchestrator struct {
	source  source.Source
	bt      *backtest.Backtester
	opts    Options
	logger  *zap.Logger
	sink    Sink
	store   RunStore
	metrics *metrics.Registry
}

// New creates an Orchestrator
func New(src source.Source, bt *backtest.Backtester, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Orchestrator{
		source: src,
		bt:     bt,
		opts:   opts,
		logger: logger,
	}
}

// SetSink sets where finished outputs are written
func (o *Orchestrator) SetSink(s Sink) {
	o.sink = s
}

// SetStore sets the run summary store
func (o *Orchestrator) SetStore(s RunStore) {
	o.store = s
}

// SetMetrics enables Prometheus instrumentation
func (o *Orchestrator) SetMetrics(m *metrics.Registry) {
	o.metrics = m
}

type outcome struct {
	symbol string
	result *backtest.Result
	status string
	fail   *Failure
}

// Run simulates every symbol; an empty list means all symbols of the
// source. Cancelling ctx stops dispatch and aborts in-flight instruments;
// their outputs are never written while those already written stay. The
// partial report is returned together with ctx's error.
func (o *Orchestrator) Run(ctx context.Context, symbols []string) (*Report, error) {
	started := time.Now()
	if len(symbols) == 0 {
		var err error
		if symbols, err = o.source.Symbols(ctx); err != nil {
			return nil, core.WrapError(core.ErrSourceFailed, fmt.Errorf("list symbols: %w", err))
		}
	}
	symbols = dedupe(symbols)

	rep := &Report{
		RunID:     uuid.New(),
		Strategy:  o.bt.Strategy().Name(),
		Params:    o.opts.Params,
		StartedAt: started.UTC(),
		Symbols:   len(symbols),
	}
	runID := rep.RunID.String()
	log := o.logger.With(zap.String("run_id", runID))

	numWorkers := min(o.opts.Workers, len(symbols))
	log.Info("starting batch",
		zap.String("strategy", rep.Strategy),
		zap.Int("symbols", len(symbols)),
		zap.Int("workers", numWorkers),
	)

	symbolChan := make(chan string)
	resultChan := make(chan outcome, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go o.worker(ctx, i, runID, symbolChan, resultChan, &wg)
	}

	dispatched := 0
dispatch:
	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			break dispatch
		case symbolChan <- sym:
			dispatched++
		}
	}
	close(symbolChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var logs [][]backtest.TradeRecord
	var summaries []backtest.Summary
	for out := range resultChan {
		switch {
		case out.fail != nil:
			rep.Failures = append(rep.Failures, *out.fail)
		case out.status == metrics.StatusCancelled:
			rep.Cancelled = append(rep.Cancelled, out.symbol)
		case !out.result.HasTrades():
			rep.NoTrades = append(rep.NoTrades, out.symbol)
		default:
			summaries = append(summaries, out.result.Summary)
			logs = append(logs, out.result.Trades)
		}
	}
	rep.Cancelled = append(rep.Cancelled, symbols[dispatched:]...)

	sort.Strings(rep.NoTrades)
	sort.Strings(rep.Cancelled)
	sort.Slice(rep.Failures, func(i, j int) bool { return rep.Failures[i].Symbol < rep.Failures[j].Symbol })

	rep.Ranked = Rank(summaries)
	rep.TopTier = TopTier(rep.Ranked, o.opts.TopTier)

	var err error
	rep.Aggregate, err = backtest.Aggregate(logs, o.opts.Stats)
	if err != nil && !errors.Is(err, core.ErrInsufficientData) {
		return nil, err
	}
	rep.IndicatorProfit = backtest.IndicatorProfit(backtest.MergeTrades(logs))
	rep.FinishedAt = time.Now().UTC()

	status := metrics.StatusOK
	if ctx.Err() != nil {
		status = metrics.StatusCancelled
	}
	if o.metrics != nil {
		o.metrics.RecordBatch(status, time.Since(started).Seconds())
	}
	log.Info("batch finished",
		zap.String("status", status),
		zap.Int("ranked", len(rep.Ranked)),
		zap.Int("top_tier", len(rep.TopTier)),
		zap.Int("no_trades", len(rep.NoTrades)),
		zap.Int("failures", len(rep.Failures)),
		zap.Int("cancelled", len(rep.Cancelled)),
		zap.Duration("elapsed", time.Since(started)),
	)

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if err := o.persist(ctx, rep); err != nil {
		return rep, err
	}
	return rep, nil
}

func (o *Orchestrator) persist(ctx context.Context, rep *Report) error {
	if o.sink != nil {
		if err := o.sink.WriteRun(ctx, rep); err != nil {
			return err
		}
	}
	if o.store != nil {
		run := postgres.Run{
			ID:          rep.RunID,
			Strategy:    rep.Strategy,
			Params:      rep.Params,
			StartedAt:   rep.StartedAt,
			FinishedAt:  rep.FinishedAt,
			Instruments: rep.Symbols,
			Failures:    len(rep.Failures),
		}
		if rep.Aggregate.TradeCount > 0 {
			agg := rep.Aggregate
			run.Aggregate = &agg
		}
		if err := o.store.SaveRun(ctx, run, rep.Ranked); err != nil {
			return err
		}
	}
	return nil
}

// worker processes symbols until the channel closes
func (o *Orchestrator) worker(
	ctx context.Context,
	workerID int,
	runID string,
	symbolChan <-chan string,
	resultChan chan<- outcome,
	wg *sync.WaitGroup,
) {
	defer wg.Done()
	if o.metrics != nil {
		o.metrics.WorkerStarted()
		defer o.metrics.WorkerDone()
	}

	for symbol := range symbolChan {
		o.logger.Debug("worker processing symbol",
			zap.Int("worker_id", workerID),
			zap.String("symbol", symbol),
		)
		start := time.Now()
		out := o.process(ctx, runID, symbol)
		if o.metrics != nil {
			o.metrics.RecordInstrument(out.status, time.Since(start).Seconds())
			if out.result != nil {
				for reason, n := range exitCounts(out.result.Trades) {
					o.metrics.RecordTrades(reason, n)
				}
			}
		}
		resultChan <- out
	}
}

// process runs one instrument start to finish, turning errors and panics
// into a Failure.
func (o *Orchestrator) process(ctx context.Context, runID, symbol string) (out outcome) {
	out.symbol = symbol
	log := o.logger.With(zap.String("symbol", symbol))

	defer func() {
		if r := recover(); r != nil {
			log.Error("instrument panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			out = o.failed(symbol, core.WrapError(ErrPanic, fmt.Errorf("%v", r)))
		}
	}()

	instCtx := ctx
	if o.opts.InstrumentTimeout > 0 {
		var cancel context.CancelFunc
		instCtx, cancel = context.WithTimeout(ctx, o.opts.InstrumentTimeout)
		defer cancel()
	}

	res, err := o.run(instCtx, symbol)
	if ctx.Err() != nil {
		log.Debug("instrument cancelled")
		out.status = metrics.StatusCancelled
		return out
	}
	if err != nil {
		log.Warn("instrument failed", zap.Error(err))
		return o.failed(symbol, err)
	}

	if o.sink != nil {
		if err := o.sink.WriteInstrument(ctx, runID, res); err != nil {
			log.Error("writing instrument outputs failed", zap.Error(err))
			return o.failed(symbol, err)
		}
	}

	out.result = res
	out.status = metrics.StatusOK
	if !res.HasTrades() {
		out.status = metrics.StatusNoTrades
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, symbol string) (*backtest.Result, error) {
	inst, err := o.source.Load(ctx, symbol)
	if err != nil {
		return nil, err
	}
	res, err := o.bt.Run(ctx, *inst)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("instrument timed out after %s: %w", o.opts.InstrumentTimeout, err)
	}
	return res, err
}

func (o *Orchestrator) failed(symbol string, err error) outcome {
	code := core.CodeOf(err)
	if code == "" {
		code = "UNKNOWN"
		if errors.Is(err, context.DeadlineExceeded) {
			code = "TIMEOUT"
		}
	}
	return outcome{
		symbol: symbol,
		status: metrics.StatusFailed,
		fail:   &Failure{Symbol: symbol, Code: code, Err: err},
	}
}

func exitCounts(trades []backtest.TradeRecord) map[string]int {
	counts := make(map[string]int)
	for _, t := range trades {
		counts[string(t.ExitReason)]++
	}
	return counts
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
