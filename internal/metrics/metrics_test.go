package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestObserveMessage(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := New(nil, logger)

	m.ObserveMessage("products", "update", "applied", 10*time.Millisecond)
	m.ObserveMessage("products", "update", "applied", 20*time.Millisecond)
	m.ObserveMessage("orders", "delete", "not_found", time.Millisecond)

	srv := httptest.NewServer(m.Router)
	defer srv.Close()

	_, body := get(t, srv, "/metrics")
	assert.Contains(t, body, `cdc_messages_total{operation="update",outcome="applied",table="products"} 2`)
	assert.Contains(t, body, `cdc_messages_total{operation="delete",outcome="not_found",table="orders"} 1`)
	assert.Contains(t, body, `cdc_message_duration_seconds_count{table="products"} 2`)
}

func TestMetricsEndpoint(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := New(nil, logger)
	m.ObserveMessage("users", "create", "failed", time.Millisecond)
	m.ObserveCommit(nil)
	m.ObserveCommit(errors.New("rebalance in progress"))

	srv := httptest.NewServer(m.Router)
	defer srv.Close()

	status, body := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `cdc_messages_total{operation="create",outcome="failed",table="users"} 1`)
	assert.Contains(t, body, `cdc_offset_commits_total{result="error"} 1`)
	assert.Contains(t, body, `cdc_message_duration_seconds_count{table="users"} 1`)
}

func TestHealthEndpoint(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var down atomic.Bool
	m := New(func(context.Context) error {
		if down.Load() {
			return errors.New("connection refused")
		}
		return nil
	}, logger)

	srv := httptest.NewServer(m.Router)
	defer srv.Close()

	status, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	down.Store(true)
	status, body = get(t, srv, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "connection refused")
}

func TestServeStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := New(nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
