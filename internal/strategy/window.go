package strategy

// RecentWindow is a bounded sliding window of recent trade outcomes.
// It is a value: Push returns a new window and never mutates the receiver,
// so one run's history cannot leak into another instrument's run.
type RecentWindow struct {
	size     int
	outcomes []bool
}

// NewRecentWindow creates a window holding at most size outcomes.
// A size of zero disables the window.
func NewRecentWindow(size int) RecentWindow {
	if size < 0 {
		size = 0
	}
	return RecentWindow{size: size}
}

// Push appends an outcome, evicting the oldest once full
func (w RecentWindow) Push(win bool) RecentWindow {
	if w.size == 0 {
		return w
	}
	start := 0
	if len(w.outcomes) == w.size {
		start = 1
	}
	next := make([]bool, 0, w.size)
	next = append(next, w.outcomes[start:]...)
	next = append(next, win)
	return RecentWindow{size: w.size, outcomes: next}
}

// Len returns the number of outcomes held
func (w RecentWindow) Len() int {
	return len(w.outcomes)
}

// Full reports whether the window holds size outcomes
func (w RecentWindow) Full() bool {
	return w.size > 0 && len(w.outcomes) == w.size
}

// WinRate returns the fraction of wins; false when the window is empty
func (w RecentWindow) WinRate() (float64, bool) {
	if len(w.outcomes) == 0 {
		return 0, false
	}
	wins := 0
	for _, o := range w.outcomes {
		if o {
			wins++
		}
	}
	return float64(wins) / float64(len(w.outcomes)), true
}

// RecentFilter blocks entries while a full window's win rate is below MinWinRate
type RecentFilter struct {
	MinWinRate float64
}

// Allow reports whether a new entry is permitted given w
func (f RecentFilter) Allow(w RecentWindow) bool {
	if !w.Full() {
		return true
	}
	rate, _ := w.WinRate()
	return rate >= f.MinWinRate
}
