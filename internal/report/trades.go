// Package report serialises trade logs and summaries.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/newthinker/breakout/internal/backtest"
)

var tradeColumns = []string{
	"symbol", "date", "entry_time", "entry_price", "exit_time", "exit_price",
	"target_price", "raw_return", "net_return", "exit_reason",
}

// contextKeys returns the union of snapshot keys, sorted
func contextKeys(trades []backtest.TradeRecord) []string {
	seen := map[string]struct{}{}
	for _, t := range trades {
		for k := range t.Context {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteTradesCSV writes one row per trade followed by the context snapshot
// columns. A snapshot value absent for a trade is an empty cell.
func WriteTradesCSV(w io.Writer, trades []backtest.TradeRecord) error {
	keys := contextKeys(trades)
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, tradeColumns...), keys...)); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.Symbol,
			t.Date.String(),
			t.EntryTime.Format(time.RFC3339),
			formatFloat(t.EntryPrice),
			t.ExitTime.Format(time.RFC3339),
			formatFloat(t.ExitPrice),
			formatFloat(t.TargetPrice),
			formatFloat(t.RawReturn),
			formatFloat(t.NetReturn),
			string(t.ExitReason),
		}
		for _, k := range keys {
			if v, ok := t.Context[k]; ok {
				row = append(row, formatFloat(v))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTradesArrow writes the trade log as one Arrow IPC record batch.
// Snapshot columns are nullable float64.
func WriteTradesArrow(w io.Writer, trades []backtest.TradeRecord, mem memory.Allocator) error {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	keys := contextKeys(trades)
	ts := &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}
	fields := []arrow.Field{
		{Name: "symbol", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: arrow.PrimitiveTypes.Int32},
		{Name: "entry_time", Type: ts},
		{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "exit_time", Type: ts},
		{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "target_price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "raw_return", Type: arrow.PrimitiveTypes.Float64},
		{Name: "net_return", Type: arrow.PrimitiveTypes.Float64},
		{Name: "exit_reason", Type: arrow.BinaryTypes.String},
	}
	for _, k := range keys {
		fields = append(fields, arrow.Field{Name: k, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for _, t := range trades {
		b.Field(0).(*array.StringBuilder).Append(t.Symbol)
		b.Field(1).(*array.Int32Builder).Append(int32(t.Date))
		b.Field(2).(*array.TimestampBuilder).Append(arrow.Timestamp(t.EntryTime.UnixMilli()))
		b.Field(3).(*array.Float64Builder).Append(t.EntryPrice)
		b.Field(4).(*array.TimestampBuilder).Append(arrow.Timestamp(t.ExitTime.UnixMilli()))
		b.Field(5).(*array.Float64Builder).Append(t.ExitPrice)
		b.Field(6).(*array.Float64Builder).Append(t.TargetPrice)
		b.Field(7).(*array.Float64Builder).Append(t.RawReturn)
		b.Field(8).(*array.Float64Builder).Append(t.NetReturn)
		b.Field(9).(*array.StringBuilder).Append(string(t.ExitReason))
		for j, k := range keys {
			fb := b.Field(len(tradeColumns) + j).(*array.Float64Builder)
			if v, ok := t.Context[k]; ok {
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
		return fmt.Errorf("writing trade record batch: %w", err)
	}
	return wr.Close()
}
