// internal/storage/archive/interface_test.go
package archive

import (
	"errors"
	"testing"

	"github.com/newthinker/breakout/internal/core"
)

func TestNew(t *testing.T) {
	s, err := New(Config{Type: "localfs", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("New(localfs): %v", err)
	}
	if _, ok := s.(*LocalFS); !ok {
		t.Errorf("New(localfs) = %T", s)
	}

	if _, err := New(Config{Type: "localfs"}); !errors.Is(err, core.ErrConfigMissing) {
		t.Errorf("missing path: err = %v", err)
	}
	if _, err := New(Config{Type: "s3"}); !errors.Is(err, core.ErrConfigMissing) {
		t.Errorf("missing bucket: err = %v", err)
	}
	if _, err := New(Config{Type: "ftp"}); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("unknown type: err = %v", err)
	}
}

func TestLayout(t *testing.T) {
	p := InstrumentPath("run-1", "005930", SummaryJSON)
	if p != "run-1/005930/summary.json" {
		t.Errorf("InstrumentPath = %q", p)
	}
	if got := SymbolOf("run-1", p); got != "005930" {
		t.Errorf("SymbolOf(%q) = %q", p, got)
	}
	if got := SymbolOf("run-1", RunPath("run-1", RankingCSV)); got != "" {
		t.Errorf("SymbolOf(run file) = %q, want empty", got)
	}
	if got := SymbolOf("run-2", p); got != "" {
		t.Errorf("SymbolOf(other run) = %q, want empty", got)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a/trades.csv":   "text/csv",
		"a/summary.json": "application/json",
		"a/trades.arrow": "application/vnd.apache.arrow.stream",
		"a/unknown.bin":  "application/octet-stream",
	}
	for p, want := range tests {
		if got := contentType(p); got != want {
			t.Errorf("contentType(%q) = %q, want %q", p, got, want)
		}
	}
}
