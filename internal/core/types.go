package core

import (
	"fmt"
	"math"
	"time"
)

// Interval is the bar resolution of a series
type Interval string

const (
	IntervalMinute Interval = "1m"
	IntervalDaily  Interval = "1d"
)

// Date is a civil trading date encoded as YYYYMMDD
type Date int32

// DateOf returns the calendar date of t in t's own location
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date(y*10000 + int(m)*100 + d)
}

// NewDate builds a Date from its parts
func NewDate(year int, month time.Month, day int) Date {
	return Date(year*10000 + int(month)*100 + day)
}

// ParseDate parses "YYYYMMDD" or "YYYY-MM-DD"
func ParseDate(s string) (Date, error) {
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid date %q", s)
}

func (d Date) Year() int         { return int(d) / 10000 }
func (d Date) Month() time.Month { return time.Month(int(d) / 100 % 100) }
func (d Date) Day() int          { return int(d) % 100 }

// Time returns midnight of d in loc
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// DaysSince returns the number of calendar days from other to d
func (d Date) DaysSince(other Date) int {
	return int(d.Time(time.UTC).Sub(other.Time(time.UTC)).Hours() / 24)
}

// MonthKey returns "YYYY-MM"
func (d Date) MonthKey() string {
	return fmt.Sprintf("%04d-%02d", d.Year(), int(d.Month()))
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year(), int(d.Month()), d.Day())
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	v, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Bar represents one OHLCV candle. Extra carries indicator columns
// supplied by an enriched input table.
type Bar struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	Extra  map[string]float64
}

// Date returns the trading date of the bar
func (b Bar) Date() Date {
	return DateOf(b.Time)
}

// TradingValue is close times volume
func (b Bar) TradingValue() float64 {
	return b.Close * float64(b.Volume)
}

// Validate checks price sanity for a single bar
func (b Bar) Validate() error {
	for _, p := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("non-finite price at %s", b.Time.Format(time.RFC3339))
		}
		if p < 0 {
			return fmt.Errorf("negative price %v at %s", p, b.Time.Format(time.RFC3339))
		}
	}
	if b.Volume < 0 {
		return fmt.Errorf("negative volume %d at %s", b.Volume, b.Time.Format(time.RFC3339))
	}
	if b.High < math.Max(b.Open, b.Close) || b.Low > math.Min(b.Open, b.Close) {
		return fmt.Errorf("inconsistent range o=%v h=%v l=%v c=%v at %s",
			b.Open, b.High, b.Low, b.Close, b.Time.Format(time.RFC3339))
	}
	return nil
}

// Series is a chronologically ordered sequence of bars of one resolution
type Series struct {
	Symbol   string
	Interval Interval
	Bars     []Bar
}

// Len returns the number of bars
func (s Series) Len() int {
	return len(s.Bars)
}

// Validate returns ErrDataQuality when any bar is malformed or the
// timestamps are not strictly increasing.
func (s Series) Validate() error {
	for i, b := range s.Bars {
		if err := b.Validate(); err != nil {
			return WrapError(ErrDataQuality, fmt.Errorf("%s %s bar %d: %w", s.Symbol, s.Interval, i, err))
		}
		if i == 0 {
			continue
		}
		prev := s.Bars[i-1]
		if !b.Time.After(prev.Time) {
			return WrapError(ErrDataQuality, fmt.Errorf("%s %s bar %d: timestamp %s not after %s",
				s.Symbol, s.Interval, i, b.Time.Format(time.RFC3339), prev.Time.Format(time.RFC3339)))
		}
		if s.Interval == IntervalDaily && b.Date() == prev.Date() {
			return WrapError(ErrDataQuality, fmt.Errorf("%s daily bar %d: duplicate date %s", s.Symbol, i, b.Date()))
		}
	}
	return nil
}

// Instrument holds both resolutions for one symbol
type Instrument struct {
	Symbol string
	Daily  Series
	Minute Series
}
