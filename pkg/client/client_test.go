package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"server1":true,"server2":false,"active":"server1","non-active":"server2"}`))
	})
	mux.HandleFunc("POST /swap", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"reason":"non-active is not healthy"}`))
	})
	mux.HandleFunc("POST /redeploy-non-active", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"redeployed":"server2"}`))
	})
	mux.HandleFunc("GET /processes", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"proxy","pid":42,"running":true,"started_at":"2024-01-01T00:00:00Z"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientCalls(t *testing.T) {
	srv := newTestServer(t)
	c := New(Config{BaseURL: srv.URL + "/", Timeout: time.Second})
	ctx := context.Background()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusResponse{Server1: true, Active: "server1", NonActive: "server2"}, st)
	assert.True(t, c.IsReachable(ctx))

	sw, err := c.Swap(ctx)
	require.NoError(t, err)
	assert.False(t, sw.OK)
	assert.Equal(t, "non-active is not healthy", sw.Reason)

	rd, err := c.Redeploy(ctx)
	require.NoError(t, err)
	assert.Equal(t, RedeployResponse{OK: true, Redeployed: "server2"}, rd)

	ps, err := c.Processes(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, 42, ps[0].PID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ps[0].StartedAt)
}

func TestClientNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Swap(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClientUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	assert.False(t, c.IsReachable(context.Background()))
}

func TestDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "http://localhost:9090", c.baseURL)
	assert.Equal(t, 10*time.Second, c.client.Timeout)
}
