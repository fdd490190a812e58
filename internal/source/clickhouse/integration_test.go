package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/newthinker/breakout/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a ClickHouse container with an empty bar table.
func setupTestDB(t *testing.T) *Conn {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Application: Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
			Env: map[string]string{"CLICKHOUSE_DB": "test"},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS minute_bars (
			symbol String,
			ts     DateTime64(3, 'UTC'),
			open   Float64,
			high   Float64,
			low    Float64,
			close  Float64,
			volume UInt64
		) ENGINE = MergeTree()
		ORDER BY (symbol, ts)
	`))
	return conn
}

func TestSource_Integration(t *testing.T) {
	conn := setupTestDB(t)
	ctx := context.Background()

	batch, err := conn.PrepareBatch(ctx, "INSERT INTO minute_bars (symbol, ts, open, high, low, close, volume)")
	require.NoError(t, err)
	t0 := time.Date(2024, 1, 3, 0, 1, 0, 0, time.UTC)
	for i, sym := range []string{"005930", "005930", "000660"} {
		require.NoError(t, batch.Append(sym, t0.Add(time.Duration(i)*time.Minute), 100.0, 102.0, 99.0, 101.0, uint64(10)))
	}
	require.NoError(t, batch.Send())

	kst := time.FixedZone("KST", 9*3600)
	src, err := New(conn, Tables{Minute: "minute_bars"}, source.Options{Location: kst})
	require.NoError(t, err)

	syms, err := src.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"000660", "005930"}, syms)

	inst, err := src.Load(ctx, "005930")
	require.NoError(t, err)
	require.Equal(t, 2, inst.Minute.Len())
	assert.Equal(t, 9, inst.Minute.Bars[0].Time.Hour())
	assert.Equal(t, int64(10), inst.Minute.Bars[0].Volume)
	require.Equal(t, 1, inst.Daily.Len())
	assert.Equal(t, int64(20), inst.Daily.Bars[0].Volume)
}
