package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/bluegreen/internal/history"
)

func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("clickhouse container unavailable: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return container, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() { _ = container.Terminate(ctx) }()

	sink, err := New(Options{Addr: addr, Table: "deploy_history_test"})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, sink.Send(ctx, history.Event{
		ID: "r-1", Kind: history.KindRedeploy, Slot: "server2", OK: true,
		StartedAt: now, FinishedAt: now.Add(30 * time.Second),
	}))
	require.NoError(t, sink.Send(ctx, history.Event{
		ID: "s-1", Kind: history.KindSwap, Slot: "server2", OK: true, Warning: "compensating cancel failed",
		StartedAt: now.Add(time.Minute), FinishedAt: now.Add(time.Minute),
	}))

	evts, err := sink.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "s-1", evts[0].ID)
	assert.Equal(t, "compensating cancel failed", evts[0].Warning)
	assert.Equal(t, history.KindRedeploy, evts[1].Kind)
}

func TestNew_RejectsBadTable(t *testing.T) {
	_, err := New(Options{Addr: "localhost:9000", Table: "x; DROP TABLE y"})
	assert.Error(t, err)
}
