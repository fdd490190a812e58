// Package postgres persists run summaries so rankings can be queried
// across runs.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newthinker/breakout/internal/backtest"
	"github.com/newthinker/breakout/internal/core"
)

//go:embed schema.sql
var schema string

// ErrDuplicateRun is returned when a run id was already saved
var ErrDuplicateRun = errors.New("postgres: run already saved")

const pgErrUniqueViolation = "23505"

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Run describes one batch run
type Run struct {
	ID          uuid.UUID
	Strategy    string
	Params      map[string]any
	StartedAt   time.Time
	FinishedAt  time.Time
	Instruments int
	Failures    int
	Aggregate   *backtest.Summary
}

// SummaryStore saves and ranks per-instrument summaries
type SummaryStore struct {
	pool *Pool
}

// NewSummaryStore creates a store over the pool
func NewSummaryStore(pool *Pool) *SummaryStore {
	return &SummaryStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist
func (s *SummaryStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return core.WrapError(core.ErrSinkFailed, fmt.Errorf("apply schema: %w", err))
	}
	return nil
}

func nullable(m backtest.Metric) *float64 {
	if !m.Defined {
		return nil
	}
	v := m.Value
	return &v
}

// SaveRun stores the run and all its summaries in one transaction
func (s *SummaryStore) SaveRun(ctx context.Context, run Run, summaries []backtest.Summary) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	var aggregate []byte
	if run.Aggregate != nil {
		if aggregate, err = json.Marshal(run.Aggregate); err != nil {
			return fmt.Errorf("marshal aggregate: %w", err)
		}
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO backtest_runs (run_id, strategy, params, started_at, finished_at, instruments, failures, aggregate)
			VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)`,
			run.ID.String(), run.Strategy, params, run.StartedAt, run.FinishedAt,
			run.Instruments, run.Failures, aggregate)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, sum := range summaries {
			doc, err := json.Marshal(sum)
			if err != nil {
				return fmt.Errorf("marshal summary %s: %w", sum.Scope, err)
			}
			batch.Queue(`
				INSERT INTO backtest_summaries (
					run_id, symbol, trade_count, total_return, win_rate, profit_factor,
					max_drawdown, expectancy, consecutive_loss_max, sharpe_like, sqn, summary
				) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				run.ID.String(), sum.Scope, sum.TradeCount,
				nullable(sum.TotalReturn), nullable(sum.WinRate), nullable(sum.ProfitFactor),
				nullable(sum.MaxDrawdown), nullable(sum.Expectancy), nullable(sum.ConsecutiveLossMax),
				nullable(sum.SharpeLike), nullable(sum.SQN), doc)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%s: %w", run.ID, ErrDuplicateRun)
		}
		return core.WrapError(core.ErrSinkFailed, fmt.Errorf("save run %s: %w", run.ID, err))
	}
	return nil
}

// Ranked returns a run's summaries by total return descending, then symbol.
// Undefined returns sort last. A limit of zero returns every row.
func (s *SummaryStore) Ranked(ctx context.Context, runID uuid.UUID, limit int) ([]backtest.Summary, error) {
	query := `
		SELECT summary FROM backtest_summaries
		WHERE run_id = $1::uuid
		ORDER BY total_return DESC NULLS LAST, symbol ASC`
	args := []any{runID.String()}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, core.WrapError(core.ErrSourceFailed, fmt.Errorf("query ranking: %w", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (backtest.Summary, error) {
		var doc []byte
		if err := row.Scan(&doc); err != nil {
			return backtest.Summary{}, err
		}
		var sum backtest.Summary
		err := json.Unmarshal(doc, &sum)
		return sum, err
	})
	if err != nil {
		return nil, core.WrapError(core.ErrSourceFailed, fmt.Errorf("read ranking: %w", err))
	}
	return out, nil
}

// LatestRun returns the id of the most recently finished run
func (s *SummaryStore) LatestRun(ctx context.Context) (uuid.UUID, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT run_id::text FROM backtest_runs ORDER BY finished_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, core.WrapError(core.ErrNoData, fmt.Errorf("no runs saved"))
	}
	if err != nil {
		return uuid.Nil, core.WrapError(core.ErrSourceFailed, err)
	}
	return uuid.Parse(id)
}
