package query

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	_ "modernc.org/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAthena struct {
	mu      sync.Mutex
	states  []types.QueryExecutionState
	reason  string
	polls   int
	pages   [][][]*string
	started *athena.StartQueryExecutionInput
	stopped []string
}

func (f *fakeAthena) StartQueryExecution(_ context.Context, in *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = in
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("exec-1")}, nil
}

func (f *fakeAthena) GetQueryExecution(_ context.Context, _ *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.polls++
	return &athena.GetQueryExecutionOutput{QueryExecution: &types.QueryExecution{
		Status: &types.QueryExecutionStatus{State: f.states[i], StateChangeReason: aws.String(f.reason)},
	}}, nil
}

func (f *fakeAthena) GetQueryResults(_ context.Context, in *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	i := 0
	if in.NextToken != nil {
		i = int((*in.NextToken)[0] - '0')
	}
	out := &athena.GetQueryResultsOutput{ResultSet: &types.ResultSet{}}
	for _, cells := range f.pages[i] {
		row := types.Row{}
		for _, c := range cells {
			row.Data = append(row.Data, types.Datum{VarCharValue: c})
		}
		out.ResultSet.Rows = append(out.ResultSet.Rows, row)
	}
	if i+1 < len(f.pages) {
		out.NextToken = aws.String(string(rune('0' + i + 1)))
	}
	return out, nil
}

func (f *fakeAthena) StopQueryExecution(_ context.Context, in *athena.StopQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, aws.ToString(in.QueryExecutionId))
	return &athena.StopQueryExecutionOutput{}, nil
}

func s(v string) *string { return &v }

func fastConfig() AthenaConfig {
	return AthenaConfig{Workgroup: "analytics", PollInterval: time.Millisecond, Timeout: time.Second}
}

func TestAthenaRunSucceeds(t *testing.T) {
	api := &fakeAthena{
		states: []types.QueryExecutionState{types.QueryExecutionStateQueued, types.QueryExecutionStateRunning, types.QueryExecutionStateSucceeded},
		pages: [][][]*string{
			{{s("job_name"), s("status")}, {s("bronze-ingest"), s("SUCCEEDED")}},
			{{s("silver-merge"), nil}, {s("gold-agg")}},
		},
	}
	r := NewAthenaRunner(api, fastConfig(), nil)
	rows, err := r.Run(context.Background(), Query{SQL: "SELECT 1 WHERE dataset = ?", Database: "monitoring_db", Params: []string{"o'brien"}})
	require.NoError(t, err)

	assert.Equal(t, "monitoring_db", aws.ToString(api.started.QueryExecutionContext.Database))
	assert.Equal(t, "analytics", aws.ToString(api.started.WorkGroup))
	assert.Equal(t, []string{"'o''brien'"}, api.started.ExecutionParameters)
	assert.Nil(t, api.started.ResultConfiguration)
	assert.Equal(t, 3, api.polls)

	require.Len(t, rows, 3)
	assert.Equal(t, "bronze-ingest", *rows[0]["job_name"])
	assert.Equal(t, "SUCCEEDED", *rows[0]["status"])
	assert.Equal(t, "silver-merge", *rows[1]["job_name"])
	assert.Nil(t, rows[1]["status"])
	assert.Contains(t, rows[2], "status")
	assert.Nil(t, rows[2]["status"])
	assert.Empty(t, api.stopped)
}

func TestAthenaRunFailedStates(t *testing.T) {
	for _, state := range []types.QueryExecutionState{types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled} {
		api := &fakeAthena{states: []types.QueryExecutionState{types.QueryExecutionStateRunning, state}, reason: "SYNTAX_ERROR"}
		_, err := NewAthenaRunner(api, fastConfig(), nil).Run(context.Background(), Query{SQL: "SELEC"})
		var execErr *ExecutionError
		require.True(t, errors.As(err, &execErr), "state %s", state)
		assert.Equal(t, string(state), execErr.State)
		assert.Equal(t, "exec-1", execErr.ExecutionID)
		assert.Contains(t, err.Error(), "SYNTAX_ERROR")
	}
}

func TestAthenaRunBoundedPoll(t *testing.T) {
	api := &fakeAthena{states: []types.QueryExecutionState{types.QueryExecutionStateRunning}}
	cfg := AthenaConfig{PollInterval: 2 * time.Millisecond, Timeout: 40 * time.Millisecond}
	start := time.Now()
	_, err := NewAthenaRunner(api, cfg, nil).Run(context.Background(), Query{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Greater(t, api.polls, 1)
	assert.Equal(t, []string{"exec-1"}, api.stopped)
}

func TestAthenaRunCancelled(t *testing.T) {
	api := &fakeAthena{states: []types.QueryExecutionState{types.QueryExecutionStateRunning}}
	cfg := AthenaConfig{PollInterval: 5 * time.Millisecond, Timeout: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := NewAthenaRunner(api, cfg, nil).Run(ctx, Query{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"exec-1"}, api.stopped)
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", "file:"+t.TempDir()+"/q.db")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Exec(`CREATE TABLE job_runs(dataset TEXT, job_name TEXT, records_processed INTEGER, error_message TEXT)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO job_runs VALUES ('silver_order_created','merge',42,NULL), ('other','x',1,'boom')`)
	require.NoError(t, err)
	return conn
}

func TestSQLRunner(t *testing.T) {
	conn := openSQLite(t)
	rows, err := SQLRunner{DB: conn}.Run(context.Background(), Query{
		SQL:    `SELECT job_name, records_processed, error_message FROM job_runs WHERE dataset = ?`,
		Params: []string{"silver_order_created"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "merge", *rows[0]["job_name"])
	assert.Equal(t, "42", *rows[0]["records_processed"])
	assert.Nil(t, rows[0]["error_message"])
}

func TestSQLRunnerQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT status FROM dataset_status").WithArgs("x").WillReturnError(errors.New("no such table: dataset_status"))

	_, err = SQLRunner{DB: db}.Run(context.Background(), Query{SQL: "SELECT status FROM dataset_status WHERE dataset = ?", Params: []string{"x"}})
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, StateFailed, execErr.State)
	assert.Contains(t, execErr.Reason, "no such table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRunnerWithoutDB(t *testing.T) {
	_, err := SQLRunner{}.Run(context.Background(), Query{SQL: "SELECT 1"})
	assert.Error(t, err)
}
