// internal/storage/archive/interface.go
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/newthinker/breakout/internal/core"
)

// ErrNotFound is returned by Read when nothing is stored at the path
var ErrNotFound = errors.New("archive: object not found")

// Storage defines the interface for run output backends
type Storage interface {
	// Write stores data at the given path, replacing it whole
	Write(ctx context.Context, path string, data []byte) error

	// Read retrieves data from the given path
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths matching the prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the data at the given path
	Delete(ctx context.Context, path string) error

	// Exists checks if data exists at the given path
	Exists(ctx context.Context, path string) (bool, error)
}

// Config selects and configures a backend
type Config struct {
	Type string // localfs or s3
	Path string
	S3   S3Config
}

// New builds the configured backend
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "localfs":
		if cfg.Path == "" {
			return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("output.path is required for localfs"))
		}
		return NewLocalFS(cfg.Path)
	case "s3":
		if cfg.S3.Bucket == "" {
			return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("output.s3.bucket is required"))
		}
		return NewS3(cfg.S3)
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown output type %q", cfg.Type))
	}
}

// Output files of one run, laid out as <run>/<symbol>/<file>.
const (
	TradesCSV   = "trades.csv"
	TradesArrow = "trades.arrow"
	SummaryJSON = "summary.json"
	RankingCSV  = "ranking.csv"
	TopTierCSV  = "top_tier.csv"
	RunJSON     = "run.json"

	IndicatorProfitCSV = "indicator_profit.csv"
)

// InstrumentPath returns the path of one instrument's output file
func InstrumentPath(runID, symbol, file string) string {
	return path.Join(runID, symbol, file)
}

// RunPath returns the path of a run-level output file
func RunPath(runID, file string) string {
	return path.Join(runID, file)
}

// SymbolOf extracts the symbol from an instrument output path, or "" if p
// is not one.
func SymbolOf(runID, p string) string {
	rest, ok := strings.CutPrefix(p, runID+"/")
	if !ok {
		return ""
	}
	sym, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return sym
}

func contentType(p string) string {
	switch path.Ext(p) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".arrow":
		return "application/vnd.apache.arrow.stream"
	default:
		return "application/octet-stream"
	}
}
