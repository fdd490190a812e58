package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/newthinker/breakout/internal/backtest"
	"github.com/newthinker/breakout/internal/core"
	"github.com/newthinker/breakout/internal/report"
	"github.com/newthinker/breakout/internal/storage/archive"
)

// Sink receives finished outputs. WriteInstrument is called only for
// instruments whose simulation completed; WriteRun once per uncancelled run.
type Sink interface {
	WriteInstrument(ctx context.Context, runID string, res *backtest.Result) error
	WriteRun(ctx context.Context, rep *Report) error
}

// Trade table formats
const (
	FormatCSV   = "csv"
	FormatArrow = "arrow"
	FormatJSON  = "json"
)

// ArchiveSink lays run outputs out as <run>/<symbol>/<file> in a Storage.
// summary.json is always written since ranking reads it back, and so is
// indicator_profit.csv.
type ArchiveSink struct {
	store   archive.Storage
	formats map[string]bool
	mem     memory.Allocator
}

// NewArchiveSink creates a sink writing the given trade formats
func NewArchiveSink(store archive.Storage, formats []string) *ArchiveSink {
	set := make(map[string]bool, len(formats))
	for _, f := range formats {
		set[f] = true
	}
	return &ArchiveSink{store: store, formats: set, mem: memory.DefaultAllocator}
}

func (s *ArchiveSink) WriteInstrument(ctx context.Context, runID string, res *backtest.Result) error {
	if s.formats[FormatCSV] {
		var buf bytes.Buffer
		if err := report.WriteTradesCSV(&buf, res.Trades); err != nil {
			return sinkErr(res.Symbol, archive.TradesCSV, err)
		}
		if err := s.store.Write(ctx, archive.InstrumentPath(runID, res.Symbol, archive.TradesCSV), buf.Bytes()); err != nil {
			return sinkErr(res.Symbol, archive.TradesCSV, err)
		}
	}
	if s.formats[FormatArrow] {
		var buf bytes.Buffer
		if err := report.WriteTradesArrow(&buf, res.Trades, s.mem); err != nil {
			return sinkErr(res.Symbol, archive.TradesArrow, err)
		}
		if err := s.store.Write(ctx, archive.InstrumentPath(runID, res.Symbol, archive.TradesArrow), buf.Bytes()); err != nil {
			return sinkErr(res.Symbol, archive.TradesArrow, err)
		}
	}

	var buf bytes.Buffer
	if err := report.WriteIndicatorProfitCSV(&buf, backtest.IndicatorProfit(res.Trades)); err != nil {
		return sinkErr(res.Symbol, archive.IndicatorProfitCSV, err)
	}
	if err := s.store.Write(ctx, archive.InstrumentPath(runID, res.Symbol, archive.IndicatorProfitCSV), buf.Bytes()); err != nil {
		return sinkErr(res.Symbol, archive.IndicatorProfitCSV, err)
	}

	doc, err := report.MarshalSummary(res.Summary)
	if err != nil {
		return sinkErr(res.Symbol, archive.SummaryJSON, err)
	}
	if err := s.store.Write(ctx, archive.InstrumentPath(runID, res.Symbol, archive.SummaryJSON), doc); err != nil {
		return sinkErr(res.Symbol, archive.SummaryJSON, err)
	}
	return nil
}

func (s *ArchiveSink) WriteRun(ctx context.Context, rep *Report) error {
	runID := rep.RunID.String()

	var buf bytes.Buffer
	if err := report.WriteRankingCSV(&buf, rep.Ranked); err != nil {
		return sinkErr(runID, archive.RankingCSV, err)
	}
	if err := s.store.Write(ctx, archive.RunPath(runID, archive.RankingCSV), buf.Bytes()); err != nil {
		return sinkErr(runID, archive.RankingCSV, err)
	}

	buf.Reset()
	if err := report.WriteRankingCSV(&buf, rep.TopTier); err != nil {
		return sinkErr(runID, archive.TopTierCSV, err)
	}
	if err := s.store.Write(ctx, archive.RunPath(runID, archive.TopTierCSV), buf.Bytes()); err != nil {
		return sinkErr(runID, archive.TopTierCSV, err)
	}

	buf.Reset()
	if err := report.WriteIndicatorProfitCSV(&buf, rep.IndicatorProfit); err != nil {
		return sinkErr(runID, archive.IndicatorProfitCSV, err)
	}
	if err := s.store.Write(ctx, archive.RunPath(runID, archive.IndicatorProfitCSV), buf.Bytes()); err != nil {
		return sinkErr(runID, archive.IndicatorProfitCSV, err)
	}

	doc, err := json.MarshalIndent(rep.Manifest(), "", "  ")
	if err != nil {
		return sinkErr(runID, archive.RunJSON, err)
	}
	if err := s.store.Write(ctx, archive.RunPath(runID, archive.RunJSON), doc); err != nil {
		return sinkErr(runID, archive.RunJSON, err)
	}
	return nil
}

func sinkErr(scope, file string, err error) error {
	return core.WrapError(core.ErrSinkFailed, fmt.Errorf("%s/%s: %w", scope, file, err))
}

// LoadSummaries reads back every instrument summary stored for a run,
// in symbol order.
func LoadSummaries(ctx context.Context, store archive.Storage, runID string) ([]backtest.Summary, error) {
	paths, err := store.List(ctx, runID+"/")
	if err != nil {
		return nil, core.WrapError(core.ErrSourceFailed, fmt.Errorf("list run %s: %w", runID, err))
	}

	var out []backtest.Summary
	for _, p := range paths {
		if path.Base(p) != archive.SummaryJSON || archive.SymbolOf(runID, p) == "" {
			continue
		}
		data, err := store.Read(ctx, p)
		if err != nil {
			return nil, core.WrapError(core.ErrSourceFailed, fmt.Errorf("read %s: %w", p, err))
		}
		sum, err := report.UnmarshalSummary(data)
		if err != nil {
			return nil, core.WrapError(core.ErrDataQuality, fmt.Errorf("decode %s: %w", p, err))
		}
		out = append(out, sum)
	}
	if len(out) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no summaries stored for run %s", runID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

// LoadManifest reads a run's run.json
func LoadManifest(ctx context.Context, store archive.Storage, runID string) (*Manifest, error) {
	data, err := store.Read(ctx, archive.RunPath(runID, archive.RunJSON))
	if errors.Is(err, archive.ErrNotFound) {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("run %s has no manifest", runID))
	}
	if err != nil {
		return nil, core.WrapError(core.ErrSourceFailed, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, core.WrapError(core.ErrDataQuality, fmt.Errorf("decode manifest %s: %w", runID, err))
	}
	return &m, nil
}

// LatestRun returns the id of the most recently finished run in store
func LatestRun(ctx context.Context, store archive.Storage) (string, error) {
	paths, err := store.List(ctx, "")
	if err != nil {
		return "", core.WrapError(core.ErrSourceFailed, err)
	}

	var latest *Manifest
	for _, p := range paths {
		dir, file := path.Split(p)
		if file != archive.RunJSON || path.Dir(path.Clean(dir)) != "." {
			continue
		}
		m, err := LoadManifest(ctx, store, path.Clean(dir))
		if err != nil {
			return "", err
		}
		if latest == nil || m.FinishedAt.After(latest.FinishedAt) {
			latest = m
		}
	}
	if latest == nil {
		return "", core.WrapError(core.ErrNoData, fmt.Errorf("no finished runs in archive"))
	}
	return latest.RunID, nil
}
