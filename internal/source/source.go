// Package source loads instrument bar history for the backtester.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/breakout/internal/align"
	"github.com/newthinker/breakout/internal/core"
)

// Source supplies the daily and minute series of each instrument
type Source interface {
	// Name identifies the source in logs
	Name() string

	// Symbols lists every instrument the source can load, sorted
	Symbols(ctx context.Context) ([]string, error)

	// Load reads one instrument's full history
	Load(ctx context.Context, symbol string) (*core.Instrument, error)
}

// Options are shared by the file and database sources
type Options struct {
	// Location interprets naive timestamps and assigns trading dates
	Location *time.Location
	// DeriveDaily rebuilds the daily series from minute bars when an
	// instrument has none
	DeriveDaily bool
}

// Loc returns the configured location, UTC when unset
func (o Options) Loc() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// Complete fills in a missing daily series and checks that the instrument
// has something to trade.
func Complete(inst *core.Instrument, opts Options) error {
	if inst.Minute.Len() == 0 {
		return core.WrapError(core.ErrNoData, fmt.Errorf("%s has no minute bars", inst.Symbol))
	}
	if inst.Daily.Len() > 0 {
		return nil
	}
	if !opts.DeriveDaily {
		return core.WrapError(core.ErrNoData, fmt.Errorf("%s has no daily bars", inst.Symbol))
	}
	inst.Daily = align.ResampleDaily(inst.Minute)
	return nil
}

// Memory is an in-process Source, mainly for tests and replays
type Memory struct {
	mu          sync.RWMutex
	instruments map[string]core.Instrument
}

// NewMemory creates a Memory source holding the given instruments
func NewMemory(instruments ...core.Instrument) *Memory {
	m := &Memory{instruments: make(map[string]core.Instrument)}
	for _, inst := range instruments {
		m.Put(inst)
	}
	return m
}

// Put adds or replaces an instrument
func (m *Memory) Put(inst core.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments[inst.Symbol] = inst
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Symbols(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.instruments))
	for sym := range m.instruments {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Load(ctx context.Context, symbol string) (*core.Instrument, error) {
	m.mu.RLock()
	inst, ok := m.instruments[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("unknown symbol %q", symbol))
	}
	return &inst, nil
}
