package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"bronze", "silver", "gold"}, cfg.LayerNames())
	assert.Equal(t, BackendAthena, cfg.Query.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Query.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Query.Timeout)
	require.Contains(t, cfg.Flows, "order_created")
	assert.Len(t, cfg.Flows["order_created"].Layers, 3)
	assert.Equal(t, DefaultSafetyChecks, cfg.Replay["order_created"].SafetyChecks)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{
			name: "no layers",
			yaml: "monitoring: {database: m, job_runs_table: j, status_table: s}\n",
			msg:  "at least one layer",
		},
		{
			name: "duplicate layer",
			yaml: `layers: [{name: a, database: x}, {name: a, database: y}]
monitoring: {database: m, job_runs_table: j, status_table: s}
`,
			msg: "declared twice",
		},
		{
			name: "poll too slow",
			yaml: `layers: [{name: a, database: x}]
query: {poll_interval: 2s}
monitoring: {database: m, job_runs_table: j, status_table: s}
`,
			msg: "poll_interval",
		},
		{
			name: "bad identifier",
			yaml: `layers: [{name: a, database: x}]
monitoring: {database: m, job_runs_table: "runs; drop", status_table: s}
`,
			msg: "not a valid identifier",
		},
		{
			name: "sqlite without path",
			yaml: `layers: [{name: a, database: x}]
query: {backend: sqlite}
monitoring: {database: m, job_runs_table: j, status_table: s}
`,
			msg: "sqlite_path",
		},
		{
			name: "sqlite with custom monitoring tables",
			yaml: `layers: [{name: a, database: x}]
query: {backend: sqlite, sqlite_path: m.db}
monitoring: {database: m, job_runs_table: runs, status_table: dataset_status}
`,
			msg: "only has tables job_runs and dataset_status",
		},
		{
			name: "flow with unknown layer",
			yaml: `layers: [{name: a, database: x}]
monitoring: {database: m, job_runs_table: j, status_table: s}
flows:
  e: {layers: [{layer: b, table: t}]}
`,
			msg: "unknown layer b",
		},
		{
			name: "replay rules missing layer",
			yaml: `layers: [{name: a, database: x}, {name: b, database: y}]
monitoring: {database: m, job_runs_table: j, status_table: s}
flows:
  e: {layers: [{layer: a, table: t}]}
replay:
  e: {layers: {a: {job: j1, replayable: true}}}
`,
			msg: "missing layer b",
		},
		{
			name: "dataset owned twice",
			yaml: `layers: [{name: a, database: x}]
monitoring: {database: m, job_runs_table: j, status_table: s}
flows:
  e1: {layers: [{layer: a, table: t}]}
  e2: {layers: [{layer: a, table: t}]}
`,
			msg: "registered by flows",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default().LayerNames(), cfg.LayerNames())

	_, err = Load(dir)
	require.Error(t, err)

	custom := `layers: [{name: raw, database: raw_db}]
monitoring: {database: mon, job_runs_table: runs, status_table: status}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lakeplane.yml"), []byte(custom), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"raw"}, cfg.LayerNames())
	assert.Equal(t, "primary", cfg.AWS.Athena.Workgroup)
}

func TestSQLiteBackendAcceptsDefaultTables(t *testing.T) {
	cfg, err := FromYAML([]byte(`layers: [{name: a, database: x}]
query: {backend: sqlite, sqlite_path: m.db}
monitoring: {database: main, job_runs_table: job_runs, status_table: dataset_status}
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultJobRunsTable, cfg.Monitoring.JobRunsTable)
	assert.Equal(t, DefaultStatusTable, cfg.Monitoring.StatusTable)
}
