package strategy

import (
	"github.com/newthinker/breakout/internal/align"
	"github.com/newthinker/breakout/internal/core"
)

// Target is the per-date entry trigger with optional exit levels.
// When all three are set, Stop < Price < TakeProfit.
type Target struct {
	Date          core.Date
	Price         float64
	Stop          float64
	TakeProfit    float64
	HasStop       bool
	HasTakeProfit bool
}

// Strategy derives a date's Target from its DailyContext. The second
// return value is false when the target is undefined for that date.
type Strategy interface {
	Name() string
	Target(ctx align.DailyContext) (Target, bool)
}

// Filter decides whether a date is eligible for entry at all
type Filter interface {
	Name() string
	Allow(ctx align.DailyContext) bool
}
