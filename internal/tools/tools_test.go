package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeplane/internal/catalog"
	"lakeplane/internal/config"
	"lakeplane/internal/domain"
	"lakeplane/internal/lineage"
	"lakeplane/internal/query"
	"lakeplane/internal/replay"
	"lakeplane/internal/repo"
	"lakeplane/internal/resolver"
)

type fakeCatalog struct {
	mu     sync.Mutex
	tables map[string][]domain.TableSummary
	schema map[string]domain.TableSchema
	listed []string
	err    error
}

func (f *fakeCatalog) ListTables(_ context.Context, database string) ([]domain.TableSummary, error) {
	f.mu.Lock()
	f.listed = append(f.listed, database)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.TableSummary(nil), f.tables[database]...), nil
}

func (f *fakeCatalog) GetTable(_ context.Context, database, table string) (domain.TableSchema, error) {
	s, ok := f.schema[database+"/"+table]
	if !ok {
		return domain.TableSchema{}, fmt.Errorf("%w: %s.%s", catalog.ErrNotFound, database, table)
	}
	return s, nil
}

type fakeMonitor struct {
	mu       sync.Mutex
	runs     []domain.JobRun
	status   *domain.DatasetStatus
	runsErr  error
	limits   []int
	datasets []string
}

func (f *fakeMonitor) RecentRuns(_ context.Context, dataset string, limit int) ([]domain.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	f.datasets = append(f.datasets, dataset)
	return f.runs, f.runsErr
}

func (f *fakeMonitor) CurrentStatus(_ context.Context, _ string) (domain.DatasetStatus, error) {
	if f.status == nil {
		return domain.DatasetStatus{}, repo.ErrNotFound
	}
	return *f.status, nil
}

type panicCatalog struct{ *fakeCatalog }

func (panicCatalog) GetTable(context.Context, string, string) (domain.TableSchema, error) {
	panic("catalog exploded")
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		tables: map[string][]domain.TableSummary{
			"bronze_db": {{Database: "bronze_db", Name: "bronze_order_created", TableType: "EXTERNAL_TABLE"}},
			"silver_db": {{Database: "silver_db", Name: "silver_order_created", TableType: "ICEBERG"}},
			"gold_db": {
				{Database: "gold_db", Name: "gold_daily_order_metrics"},
				{Database: "gold_db", Name: "gold_weekly_order_metrics"},
			},
		},
		schema: map[string]domain.TableSchema{
			"silver_db/silver_order_created": {
				Database:   "silver_db",
				Table:      "silver_order_created",
				Columns:    []domain.Column{{Name: "Order_ID", Type: "string"}, {Name: "amount", Type: "decimal(10,2)"}},
				Partitions: []domain.Column{{Name: "event_date", Type: "date"}},
				TableType:  "EXTERNAL_TABLE",
				Parameters: map[string]string{"table_type": "ICEBERG"},
			},
		},
	}
}

func newService(t *testing.T, cat Catalog, mon Monitor) *Service {
	t.Helper()
	cfg := config.Default()
	reg := lineage.New(cfg)
	return New(Deps{
		Resolver: resolver.New(cfg),
		Catalog:  cat,
		Monitor:  mon,
		Lineage:  reg,
		Replay:   replay.New(cfg, reg),
	})
}

func TestListDatasetsSingleLayer(t *testing.T) {
	cat := newFakeCatalog()
	svc := newService(t, cat, &fakeMonitor{})

	env, err := svc.Call(context.Background(), ToolListDatasets, map[string]any{"layer": "Bronze"})
	require.NoError(t, err)
	_, failed := env.Err()
	require.False(t, failed, "%v", env)

	datasets := env["datasets"].([]any)
	assert.Len(t, datasets, 1)
	assert.EqualValues(t, len(datasets), env["count"])
	first := datasets[0].(map[string]any)
	assert.Equal(t, "bronze_db", first["database"])
	assert.Equal(t, "bronze", first["layer"])
	assert.Equal(t, []string{"bronze_db"}, cat.listed)
}

func TestListDatasetsAllLayersKeepsLayerOrder(t *testing.T) {
	svc := newService(t, newFakeCatalog(), &fakeMonitor{})
	list, err := svc.ListDatasets(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 4, list.Count)
	var layers []string
	for _, d := range list.Datasets {
		layers = append(layers, d.Layer)
	}
	assert.Equal(t, []string{"bronze", "silver", "gold", "gold"}, layers)
}

func TestListDatasetsErrors(t *testing.T) {
	svc := newService(t, newFakeCatalog(), &fakeMonitor{})
	env, err := svc.Call(context.Background(), ToolListDatasets, map[string]any{"layer": "platinum"})
	require.NoError(t, err)
	msg, failed := env.Err()
	assert.True(t, failed)
	assert.Contains(t, msg, "unknown layer")
	assert.Len(t, env, 1)

	broken := newFakeCatalog()
	broken.err = errors.New("AccessDeniedException")
	env, err = newService(t, broken, &fakeMonitor{}).Call(context.Background(), ToolListDatasets, nil)
	require.NoError(t, err)
	msg, _ = env.Err()
	assert.Contains(t, msg, "AccessDeniedException")
}

func TestGetDatasetSchemaPassesThrough(t *testing.T) {
	cat := newFakeCatalog()
	svc := newService(t, cat, &fakeMonitor{})

	got, err := svc.GetDatasetSchema(context.Background(), "silver.silver_order_created")
	require.NoError(t, err)
	assert.Equal(t, cat.schema["silver_db/silver_order_created"], got.TableSchema)
	assert.Equal(t, "silver", got.Layer)

	env, err := svc.Call(context.Background(), ToolGetDatasetSchema, map[string]any{"dataset": "silver.silver_order_created"})
	require.NoError(t, err)
	cols := env["columns"].([]any)
	assert.Equal(t, map[string]any{"name": "Order_ID", "type": "string"}, cols[0])
	assert.Equal(t, "silver_db", env["database"])
	assert.Equal(t, "silver_order_created", env["table"])
}

func TestGetDatasetSchemaErrorsAreInBand(t *testing.T) {
	svc := newService(t, newFakeCatalog(), &fakeMonitor{})
	cases := map[string]map[string]any{
		"not found":     {"dataset": "gold.missing"},
		"unknown layer": {"dataset": "platinum.orders"},
		"ambiguous":     {"dataset": "orders"},
		"missing arg":   {},
		"wrong type":    {"dataset": 12},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			env, err := svc.Call(context.Background(), ToolGetDatasetSchema, args)
			require.NoError(t, err)
			_, failed := env.Err()
			assert.True(t, failed)
		})
	}
}

func TestGetPipelineStatus(t *testing.T) {
	mon := &fakeMonitor{
		runs:   []domain.JobRun{{JobName: "bronze-to-silver-order-created", Status: "SUCCEEDED"}},
		status: &domain.DatasetStatus{Dataset: "silver_order_created"},
	}
	svc := newService(t, newFakeCatalog(), mon)

	env, err := svc.Call(context.Background(), ToolGetPipelineStatus, map[string]any{"dataset": "silver.silver_order_created"})
	require.NoError(t, err)
	assert.Equal(t, "silver_order_created", env["dataset"])
	assert.Len(t, env["recent_runs"], 1)
	assert.NotNil(t, env["current_status"])

	_, err = svc.Call(context.Background(), ToolGetPipelineStatus, map[string]any{"dataset": "x", "limit": float64(500)})
	require.NoError(t, err)
	_, err = svc.Call(context.Background(), ToolGetPipelineStatus, map[string]any{"dataset": "x", "limit": "-3"})
	require.NoError(t, err)
	assert.Equal(t, []int{DefaultStatusLimit, MaxStatusLimit, 1}, mon.limits)
	assert.Equal(t, "silver_order_created", mon.datasets[0])
}

func TestGetPipelineStatusWithoutSnapshot(t *testing.T) {
	svc := newService(t, newFakeCatalog(), &fakeMonitor{})
	status, err := svc.GetPipelineStatus(context.Background(), "gold_daily_order_metrics", 5)
	require.NoError(t, err)
	assert.Nil(t, status.CurrentStatus)
	assert.NotNil(t, status.RecentRuns)
}

func TestGetPipelineStatusQueryFailureCollapses(t *testing.T) {
	mon := &fakeMonitor{runsErr: &query.ExecutionError{ExecutionID: "e1", State: query.StateFailed, Reason: "TABLE_NOT_FOUND"}}
	svc := newService(t, newFakeCatalog(), mon)
	env, err := svc.Call(context.Background(), ToolGetPipelineStatus, map[string]any{"dataset": "silver_order_created", "limit": 2.5})
	require.NoError(t, err)
	msg, _ := env.Err()
	assert.Contains(t, msg, "integer")

	env, err = svc.Call(context.Background(), ToolGetPipelineStatus, map[string]any{"dataset": "silver_order_created"})
	require.NoError(t, err)
	msg, failed := env.Err()
	assert.True(t, failed)
	assert.Contains(t, msg, "FAILED")
	assert.Len(t, env, 1)
}

func TestExplainDataFlow(t *testing.T) {
	svc := newService(t, newFakeCatalog(), &fakeMonitor{})
	env, err := svc.Call(context.Background(), ToolExplainDataFlow, map[string]any{"dataset": "silver_order_created"})
	require.NoError(t, err)
	assert.Equal(t, "order_created", env["event_key"])
	flow := env["flow"].(map[string]any)
	assert.Equal(t, "bronze", flow["replay_strategy"].(map[string]any)["source_of_truth"])

	env, err = svc.Call(context.Background(), ToolExplainDataFlow, map[string]any{"dataset": "unknown_thing"})
	require.NoError(t, err)
	msg, failed := env.Err()
	assert.True(t, failed)
	assert.Contains(t, msg, "unknown_thing")
}

func TestProposeReplayPlan(t *testing.T) {
	svc := newService(t, newFakeCatalog(), &fakeMonitor{})
	env, err := svc.Call(context.Background(), ToolProposeReplayPlan, map[string]any{
		"dataset": "silver_order_created", "start_date": "2024-01-01", "end_date": "2024-01-31",
	})
	require.NoError(t, err)
	assert.Equal(t, true, env["requires_approval"])
	assert.Equal(t, true, env["execution_disabled"])
	steps := env["replay_path"].([]any)
	require.Len(t, steps, 3)
	for i, layer := range []string{"bronze", "silver", "gold"} {
		assert.Equal(t, layer, steps[i].(map[string]any)["layer"])
	}
	assert.EqualValues(t, 31, env["window"].(map[string]any)["days"])

	env, err = svc.Call(context.Background(), ToolProposeReplayPlan, map[string]any{
		"dataset": "silver_order_created", "start_date": "2024-02-01", "end_date": "2024-01-31",
	})
	require.NoError(t, err)
	msg, _ := env.Err()
	assert.Contains(t, msg, "start_date must be <= end_date")
}

func TestCallUnknownToolIsProtocolError(t *testing.T) {
	svc := newService(t, newFakeCatalog(), &fakeMonitor{})
	env, err := svc.Call(context.Background(), "drop_table", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Nil(t, env)
}

func TestCallRecoversPanics(t *testing.T) {
	svc := newService(t, panicCatalog{newFakeCatalog()}, &fakeMonitor{})
	env, err := svc.Call(context.Background(), ToolGetDatasetSchema, map[string]any{"dataset": "silver_order_created"})
	require.NoError(t, err)
	msg, failed := env.Err()
	assert.True(t, failed)
	assert.Contains(t, msg, "catalog exploded")
}

func TestDescriptors(t *testing.T) {
	svc := newService(t, newFakeCatalog(), &fakeMonitor{})
	descs := svc.Descriptors()
	require.Len(t, descs, len(svc.Names()))
	for _, d := range descs {
		_, ok := svc.handlers[d.Name]
		assert.True(t, ok, d.Name)
	}
	d, ok := svc.Describe(ToolProposeReplayPlan)
	require.True(t, ok)
	schema := d.InputSchema()
	assert.Equal(t, []string{"dataset", "start_date", "end_date"}, schema["required"])
}
