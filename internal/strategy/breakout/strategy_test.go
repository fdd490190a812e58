package breakout

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/newthinker/breakout/internal/align"
	"github.com/newthinker/breakout/internal/core"
)

func ctx(open, prevHigh, prevLow float64) align.DailyContext {
	return align.DailyContext{Date: 20240103, Open: open, PrevHigh: prevHigh, PrevLow: prevLow}
}

func TestTarget_Scenario(t *testing.T) {
	s, err := New(Params{K: 0.5})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	target, ok := s.Target(ctx(105, 110, 100))
	if !ok {
		t.Fatal("expected defined target")
	}
	if target.Price != 110 {
		t.Errorf("Price = %v, want 110", target.Price)
	}
	if target.HasStop || target.HasTakeProfit {
		t.Error("stop and take-profit should be disabled")
	}
	if target.Date != 20240103 {
		t.Errorf("Date = %v, want 20240103", target.Date)
	}
}

func TestTarget_StopLevel(t *testing.T) {
	s, _ := New(Params{K: 0.5, StopLoss: 0.02})
	// open 95 + 0.5 * 10 = 100
	target, ok := s.Target(ctx(95, 110, 100))
	if !ok {
		t.Fatal("expected defined target")
	}
	if !target.HasStop || math.Abs(target.Stop-98) > 1e-9 {
		t.Errorf("Stop = %v, want 98", target.Stop)
	}
}

func TestTarget_NegligibleFractions(t *testing.T) {
	s, err := New(Params{K: 0.5, StopLoss: 1e-17, TakeProfit: 1e-17})
	if err != nil {
		t.Fatal(err)
	}
	target, ok := s.Target(ctx(95, 110, 100))
	if !ok {
		t.Fatal("expected defined target")
	}
	if target.HasStop {
		t.Errorf("HasStop = true with Stop %v at price %v", target.Stop, target.Price)
	}
	if target.HasTakeProfit {
		t.Errorf("HasTakeProfit = true with TakeProfit %v at price %v", target.TakeProfit, target.Price)
	}
}

func TestTarget_Undefined(t *testing.T) {
	s, _ := New(Params{K: 0.5, StopLoss: 0.02, TakeProfit: 0.07})

	tests := []struct {
		name string
		ctx  align.DailyContext
	}{
		{"zero range", ctx(100, 105, 105)},
		{"negative range", ctx(100, 100, 105)},
		{"nan high", ctx(100, math.NaN(), 95)},
		{"inf open", ctx(math.Inf(1), 110, 100)},
		{"zero open", ctx(0, 110, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if target, ok := s.Target(tt.ctx); ok {
				t.Errorf("expected undefined target, got %+v", target)
			}
		})
	}
}

func TestTarget_OrderingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		p := Params{
			K:          0.05 + rng.Float64()*0.95,
			StopLoss:   0.001 + rng.Float64()*0.5,
			TakeProfit: 0.001 + rng.Float64()*0.5,
		}
		s, err := New(p)
		if err != nil {
			t.Fatalf("New(%+v) error = %v", p, err)
		}
		low := 1 + rng.Float64()*1000
		high := low + 0.01 + rng.Float64()*100
		open := low + rng.Float64()*(high-low)

		target, ok := s.Target(ctx(open, high, low))
		if !ok {
			t.Fatalf("undefined target for open=%v high=%v low=%v", open, high, low)
		}
		if !(target.Stop < target.Price && target.Price < target.TakeProfit) {
			t.Fatalf("ordering violated: stop=%v price=%v tp=%v params=%+v", target.Stop, target.Price, target.TakeProfit, p)
		}
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"defaults", DefaultParams(), false},
		{"zero k", Params{K: 0}, true},
		{"negative k", Params{K: -0.5}, true},
		{"stop at one", Params{K: 0.5, StopLoss: 1}, true},
		{"negative stop", Params{K: 0.5, StopLoss: -0.01}, true},
		{"negative take profit", Params{K: 0.5, TakeProfit: -0.1}, true},
		{"nan k", Params{K: math.NaN()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestFactory(t *testing.T) {
	s, err := Factory(map[string]any{"k": 0.6, "stop_loss": 0.03, "take_profit": 0})
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	vb := s.(*VolatilityBreakout)
	if vb.Params().K != 0.6 || vb.Params().StopLoss != 0.03 {
		t.Errorf("params = %+v", vb.Params())
	}

	if _, err := Factory(map[string]any{"k": "half"}); err == nil {
		t.Error("expected error for non-numeric k")
	}
}
