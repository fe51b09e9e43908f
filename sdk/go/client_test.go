package lakeplanesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeplane/internal/app"
	"lakeplane/internal/config"
	"lakeplane/internal/server"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	a := app.WithPlatform(config.Default(), app.Platform{}, nil)
	handler, err := server.New(server.Config{Tools: a.Tools, BasePath: "/v0"})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	status, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", status)

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 5)
	assert.Equal(t, "list_datasets", tools[0].Name)

	env, err := c.Call(ctx, "propose_replay_plan", map[string]any{
		"dataset": "gold_daily_order_metrics", "start_date": "2024-03-01", "end_date": "2024-03-01",
	})
	require.NoError(t, err)
	_, failed := env.Err()
	require.False(t, failed, "%v", env)

	var plan struct {
		Flow       string `json:"flow"`
		ReplayPath []struct {
			Layer string `json:"layer"`
		} `json:"replay_path"`
		ExecutionDisabled bool `json:"execution_disabled"`
	}
	require.NoError(t, env.Decode(&plan))
	assert.Equal(t, "order_created", plan.Flow)
	assert.Len(t, plan.ReplayPath, 3)
	assert.True(t, plan.ExecutionDisabled)
}

func TestClientSeparatesToolAndTransportFailures(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL)

	env, err := c.Call(context.Background(), "explain_data_flow", map[string]any{"dataset": "unknown_thing"})
	require.NoError(t, err)
	msg, failed := env.Err()
	assert.True(t, failed)
	assert.Contains(t, msg, "unknown_thing")

	_, err = c.Call(context.Background(), "drop_table", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClientIsSafeForConcurrentUse(t *testing.T) {
	srv := newServer(t)
	assert.NotNil(t, New(srv.URL).HTTPClient)

	for _, c := range []*Client{New(srv.URL), {BaseURL: srv.URL}} {
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.Call(context.Background(), "explain_data_flow", map[string]any{"dataset": "silver_order_created"})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
	}
}

func TestZeroClientLeavesHTTPClientUnset(t *testing.T) {
	srv := newServer(t)
	c := &Client{BaseURL: srv.URL}
	_, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Nil(t, c.HTTPClient)
}
