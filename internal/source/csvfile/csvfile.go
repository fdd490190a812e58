// Package csvfile reads bar history from per-symbol CSV files laid out as
// <dir>/daily/<symbol>.csv and <dir>/minute/<symbol>.csv.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/breakout/internal/core"
	"github.com/newthinker/breakout/internal/source"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	dailyDir  = "daily"
	minuteDir = "minute"
	ext       = ".csv"
)

// Source reads CSV files below a base directory
type Source struct {
	dir  string
	opts source.Options
}

var _ source.Source = (*Source)(nil)

// New creates a CSV source rooted at dir
func New(dir string, opts source.Options) *Source {
	return &Source{dir: dir, opts: opts}
}

func (s *Source) Name() string { return "csv" }

// Symbols lists the minute files; an instrument without minute bars cannot trade
func (s *Source) Symbols(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, minuteDir))
	if err != nil {
		return nil, core.WrapError(core.ErrSourceFailed, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(out)
	return out, nil
}

func (s *Source) Load(ctx context.Context, symbol string) (*core.Instrument, error) {
	minute, err := s.readFile(filepath.Join(s.dir, minuteDir, symbol+ext), symbol, core.IntervalMinute)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.WrapError(core.ErrNoData, err)
	}
	if err != nil {
		return nil, err
	}
	daily, err := s.readFile(filepath.Join(s.dir, dailyDir, symbol+ext), symbol, core.IntervalDaily)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	inst := &core.Instrument{Symbol: symbol, Daily: daily, Minute: minute}
	if err := source.Complete(inst, s.opts); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Source) readFile(path, symbol string, interval core.Interval) (core.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.Series{Symbol: symbol, Interval: interval}, err
		}
		return core.Series{}, core.WrapError(core.ErrSourceFailed, err)
	}
	defer f.Close()

	bars, err := Read(f, symbol, s.opts.Loc())
	if err != nil {
		return core.Series{}, fmt.Errorf("%s: %w", path, err)
	}
	return core.Series{Symbol: symbol, Interval: interval, Bars: bars}, nil
}

// Read parses one CSV table of bars. The header names the columns:
// either datetime, or date with an optional time, plus open, high, low,
// close and volume. Any other numeric column becomes a Bar extra.
// UTF-8 and UTF-16 byte order marks are honoured.
func Read(r io.Reader, symbol string, loc *time.Location) ([]core.Bar, error) {
	dec := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(dec)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapError(core.ErrDataQuality, err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var bars []core.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, core.WrapError(core.ErrDataQuality, err)
		}
		b, err := cols.bar(rec, symbol, loc)
		if err != nil {
			return nil, core.WrapError(core.ErrDataQuality, fmt.Errorf("line %d: %w", line, err))
		}
		bars = append(bars, b)
	}
	return bars, nil
}

type columns struct {
	datetime, date, clock       int
	open, high, low, close, vol int
	extras                      map[string]int
}

func mapColumns(header []string) (columns, error) {
	c := columns{datetime: -1, date: -1, clock: -1, open: -1, high: -1, low: -1, close: -1, vol: -1, extras: map[string]int{}}
	for i, h := range header {
		switch name := strings.ToLower(strings.TrimSpace(h)); name {
		case "datetime", "timestamp":
			c.datetime = i
		case "date":
			c.date = i
		case "time":
			c.clock = i
		case "open":
			c.open = i
		case "high":
			c.high = i
		case "low":
			c.low = i
		case "close":
			c.close = i
		case "volume":
			c.vol = i
		case "symbol", "code", "":
		default:
			c.extras[name] = i
		}
	}
	if c.datetime < 0 && c.date < 0 {
		return c, core.WrapError(core.ErrDataQuality, fmt.Errorf("header has neither datetime nor date column"))
	}
	for name, idx := range map[string]int{"open": c.open, "high": c.high, "low": c.low, "close": c.close, "volume": c.vol} {
		if idx < 0 {
			return c, core.WrapError(core.ErrDataQuality, fmt.Errorf("header missing %s column", name))
		}
	}
	return c, nil
}

func (c columns) bar(rec []string, symbol string, loc *time.Location) (core.Bar, error) {
	b := core.Bar{Symbol: symbol}
	var err error
	if b.Time, err = c.timestamp(rec, loc); err != nil {
		return b, err
	}
	for _, f := range []struct {
		idx int
		dst *float64
	}{{c.open, &b.Open}, {c.high, &b.High}, {c.low, &b.Low}, {c.close, &b.Close}} {
		if *f.dst, err = strconv.ParseFloat(field(rec, f.idx), 64); err != nil {
			return b, err
		}
	}
	vol, err := strconv.ParseFloat(field(rec, c.vol), 64)
	if err != nil {
		return b, err
	}
	if vol != math.Trunc(vol) || math.Abs(vol) > math.MaxInt64 {
		return b, fmt.Errorf("volume %q is not a whole number", field(rec, c.vol))
	}
	b.Volume = int64(vol)

	for name, idx := range c.extras {
		raw := field(rec, idx)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if b.Extra == nil {
			b.Extra = make(map[string]float64, len(c.extras))
		}
		b.Extra[name] = v
	}
	return b, nil
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"20060102 150405",
	"20060102 1504",
	"2006-01-02",
	"20060102",
}

func (c columns) timestamp(rec []string, loc *time.Location) (time.Time, error) {
	if c.datetime >= 0 {
		return parseTime(field(rec, c.datetime), loc)
	}
	d, err := core.ParseDate(field(rec, c.date))
	if err != nil {
		return time.Time{}, err
	}
	t := d.Time(loc)
	if c.clock < 0 {
		return t, nil
	}
	clock, err := parseClock(field(rec, c.clock))
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(clock), nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}

// parseClock accepts HHMM, HHMMSS, HH:MM and HH:MM:SS
func parseClock(s string) (time.Duration, error) {
	digits := strings.ReplaceAll(s, ":", "")
	if len(digits) == 3 || len(digits) == 5 {
		digits = "0" + digits
	}
	if len(digits) == 4 {
		digits += "00"
	}
	if len(digits) != 6 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, m, sec := n/10000, n/100%100, n%100
	if h > 23 || m > 59 || sec > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
