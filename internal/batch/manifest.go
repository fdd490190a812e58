package batch

import (
	"time"

	"github.com/newthinker/breakout/internal/backtest"
)

// Manifest is the run.json document describing a finished run
type Manifest struct {
	RunID      string           `json:"run_id"`
	Strategy   string           `json:"strategy"`
	Params     map[string]any   `json:"params,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Symbols    int              `json:"symbols"`
	Ranked     []string         `json:"ranked"`
	TopTier    []string         `json:"top_tier"`
	NoTrades   []string         `json:"no_trades"`
	Failures   []FailureEntry   `json:"failures"`
	Aggregate  backtest.Summary `json:"aggregate"`
}

// FailureEntry is the serialized form of a Failure
type FailureEntry struct {
	Symbol string `json:"symbol"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// Manifest builds the run document
func (r *Report) Manifest() Manifest {
	m := Manifest{
		RunID:      r.RunID.String(),
		Strategy:   r.Strategy,
		Params:     r.Params,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Symbols:    r.Symbols,
		Ranked:     scopes(r.Ranked),
		TopTier:    scopes(r.TopTier),
		NoTrades:   nonNil(r.NoTrades),
		Failures:   make([]FailureEntry, 0, len(r.Failures)),
		Aggregate:  r.Aggregate,
	}
	for _, f := range r.Failures {
		m.Failures = append(m.Failures, FailureEntry{Symbol: f.Symbol, Code: f.Code, Error: f.Err.Error()})
	}
	return m
}

func scopes(summaries []backtest.Summary) []string {
	out := make([]string, len(summaries))
	for i, s := range summaries {
		out[i] = s.Scope
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
