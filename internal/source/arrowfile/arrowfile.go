// Package arrowfile reads and writes bar history as Arrow IPC streams laid
// out as <dir>/daily/<symbol>.arrow and <dir>/minute/<symbol>.arrow.
package arrowfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/newthinker/breakout/internal/core"
	"github.com/newthinker/breakout/internal/source"
)

const ext = ".arrow"

// Column names of a bar table. Any other numeric column is a Bar extra.
const (
	ColTime   = "ts"
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"
)

// Source reads Arrow IPC files below a base directory
type Source struct {
	dir  string
	opts source.Options
	mem  memory.Allocator
}

var _ source.Source = (*Source)(nil)

// New creates an Arrow source rooted at dir
func New(dir string, opts source.Options) *Source {
	return &Source{dir: dir, opts: opts, mem: memory.NewGoAllocator()}
}

func (s *Source) Name() string { return "arrow" }

func (s *Source) Symbols(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "minute"))
	if err != nil {
		return nil, core.WrapError(core.ErrSourceFailed, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			out = append(out, strings.TrimSuffix(e.Name(), ext))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Source) Load(ctx context.Context, symbol string) (*core.Instrument, error) {
	inst := &core.Instrument{Symbol: symbol}
	var err error
	inst.Minute, err = s.readFile(symbol, "minute", core.IntervalMinute)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.WrapError(core.ErrNoData, err)
	}
	if err != nil {
		return nil, err
	}
	inst.Daily, err = s.readFile(symbol, "daily", core.IntervalDaily)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := source.Complete(inst, s.opts); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Source) readFile(symbol, sub string, interval core.Interval) (core.Series, error) {
	path := filepath.Join(s.dir, sub, symbol+ext)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.Series{Symbol: symbol, Interval: interval}, err
		}
		return core.Series{}, core.WrapError(core.ErrSourceFailed, err)
	}
	defer f.Close()

	bars, err := Read(f, symbol, s.opts.Loc(), s.mem)
	if err != nil {
		return core.Series{}, fmt.Errorf("%s: %w", path, err)
	}
	return core.Series{Symbol: symbol, Interval: interval, Bars: bars}, nil
}

// Read decodes an Arrow IPC stream of bars. The time column may be an int64
// of unix milliseconds or an Arrow timestamp of any unit.
func Read(r io.Reader, symbol string, loc *time.Location, mem memory.Allocator) ([]core.Bar, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, core.WrapError(core.ErrDataQuality, err)
	}
	defer rdr.Release()

	var bars []core.Bar
	for rdr.Next() {
		rec := rdr.Record()
		batch, err := decode(rec, symbol, loc)
		if err != nil {
			return nil, core.WrapError(core.ErrDataQuality, err)
		}
		bars = append(bars, batch...)
	}
	if err := rdr.Err(); err != nil {
		return nil, core.WrapError(core.ErrDataQuality, err)
	}
	return bars, nil
}

var priceColumns = []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume}

func decode(rec arrow.Record, symbol string, loc *time.Location) ([]core.Bar, error) {
	schema := rec.Schema()
	col := func(name string) (arrow.Array, error) {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("missing column %q", name)
		}
		return rec.Column(idx[0]), nil
	}

	ts, err := col(ColTime)
	if err != nil {
		return nil, err
	}
	prices := make([]arrow.Array, len(priceColumns))
	for j, name := range priceColumns {
		if prices[j], err = col(name); err != nil {
			return nil, err
		}
	}
	extras := map[string]arrow.Array{}
	for i, f := range schema.Fields() {
		switch f.Name {
		case ColTime, ColOpen, ColHigh, ColLow, ColClose, ColVolume:
			continue
		}
		if isNumeric(f.Type) {
			extras[f.Name] = rec.Column(i)
		}
	}

	n := int(rec.NumRows())
	out := make([]core.Bar, n)
	for i := 0; i < n; i++ {
		t, err := timeAt(ts, i)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		var vals [5]float64
		for j, c := range prices {
			v, ok := numberAt(c, i)
			if !ok {
				return nil, fmt.Errorf("row %d: null or non-numeric %s", i, priceColumns[j])
			}
			vals[j] = v
		}
		b := core.Bar{
			Symbol: symbol,
			Time:   t.In(loc),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: int64(vals[4]),
		}
		for name, c := range extras {
			if v, ok := numberAt(c, i); ok {
				if b.Extra == nil {
					b.Extra = make(map[string]float64, len(extras))
				}
				b.Extra[name] = v
			}
		}
		out[i] = b
	}
	return out, nil
}

func isNumeric(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.FLOAT64, arrow.FLOAT32, arrow.INT64, arrow.INT32, arrow.UINT64, arrow.UINT32:
		return true
	}
	return false
}

func numberAt(a arrow.Array, i int) (float64, bool) {
	if a.IsNull(i) {
		return 0, false
	}
	switch c := a.(type) {
	case *array.Float64:
		return c.Value(i), true
	case *array.Float32:
		return float64(c.Value(i)), true
	case *array.Int64:
		return float64(c.Value(i)), true
	case *array.Int32:
		return float64(c.Value(i)), true
	case *array.Uint64:
		return float64(c.Value(i)), true
	case *array.Uint32:
		return float64(c.Value(i)), true
	}
	return 0, false
}

func timeAt(a arrow.Array, i int) (time.Time, error) {
	if a.IsNull(i) {
		return time.Time{}, fmt.Errorf("null %s", ColTime)
	}
	switch c := a.(type) {
	case *array.Int64:
		return time.UnixMilli(c.Value(i)), nil
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return c.Value(i).ToTime(unit), nil
	}
	return time.Time{}, fmt.Errorf("column %s has type %s", ColTime, a.DataType())
}

// Write encodes a series as an Arrow IPC stream with a millisecond
// timestamp column and one float64 column per named extra.
func Write(w io.Writer, series core.Series, extras []string, mem memory.Allocator) error {
	fields := []arrow.Field{
		{Name: ColTime, Type: &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}},
		{Name: ColOpen, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColHigh, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColLow, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColClose, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColVolume, Type: arrow.PrimitiveTypes.Int64},
	}
	for _, name := range extras {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for _, bar := range series.Bars {
		b.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(bar.Time.UnixMilli()))
		b.Field(1).(*array.Float64Builder).Append(bar.Open)
		b.Field(2).(*array.Float64Builder).Append(bar.High)
		b.Field(3).(*array.Float64Builder).Append(bar.Low)
		b.Field(4).(*array.Float64Builder).Append(bar.Close)
		b.Field(5).(*array.Int64Builder).Append(bar.Volume)
		for j, name := range extras {
			fb := b.Field(6 + j).(*array.Float64Builder)
			if v, ok := bar.Extra[name]; ok {
				fb.Append(v)
			} else {
				fb.AppendNull()
			}
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := wr.Write(rec); err != nil {
		return fmt.Errorf("writing arrow record: %w", err)
	}
	return wr.Close()
}
