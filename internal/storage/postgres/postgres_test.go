package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/breakout/internal/backtest"
	"github.com/newthinker/breakout/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(backtest.Undefined))
	v := nullable(backtest.Known(0))
	require.NotNil(t, v)
	assert.Equal(t, 0.0, *v)
}

func TestSchemaEmbedded(t *testing.T) {
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS backtest_summaries")
}

// setupTestDB starts a PostgreSQL container and returns a store with the
// schema applied.
func setupTestDB(t *testing.T) *SummaryStore {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewSummaryStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema is idempotent")
	return store
}

func TestSummaryStore_Integration(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	run := Run{
		ID:          uuid.New(),
		Strategy:    "volatility_breakout",
		Params:      map[string]any{"k": 0.5},
		StartedAt:   time.Now().Add(-time.Minute),
		FinishedAt:  time.Now(),
		Instruments: 3,
	}
	summaries := []backtest.Summary{
		{Scope: "B", TradeCount: 20, TotalReturn: backtest.Known(0.10)},
		{Scope: "C", TradeCount: 0},
		{Scope: "A", TradeCount: 18, TotalReturn: backtest.Known(0.10), MaxDrawdown: backtest.Known(0.05)},
	}
	require.NoError(t, store.SaveRun(ctx, run, summaries))

	ranked, err := store.Ranked(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{ranked[0].Scope, ranked[1].Scope, ranked[2].Scope})
	assert.Equal(t, backtest.Known(0.05), ranked[0].MaxDrawdown)
	assert.False(t, ranked[2].TotalReturn.Defined)

	top, err := store.Ranked(ctx, run.ID, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	latest, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest)

	err = store.SaveRun(ctx, run, nil)
	assert.ErrorIs(t, err, ErrDuplicateRun)
}

func TestSummaryStore_LatestRunEmpty(t *testing.T) {
	store := setupTestDB(t)
	_, err := store.LatestRun(context.Background())
	assert.ErrorIs(t, err, core.ErrNoData)
}
