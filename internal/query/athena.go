package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const stopTimeout = 5 * time.Second

var errStillRunning = errors.New("query still running")

// AthenaAPI is the subset of the Athena client used here. *athena.Client satisfies it.
type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

type AthenaConfig struct {
	Workgroup      string
	OutputLocation string
	PollInterval   time.Duration
	Timeout        time.Duration
}

type AthenaRunner struct {
	api    AthenaAPI
	cfg    AthenaConfig
	logger *zap.Logger
}

func NewAthenaRunner(api AthenaAPI, cfg AthenaConfig, logger *zap.Logger) *AthenaRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &AthenaRunner{api: api, cfg: cfg, logger: logger}
}

// Run submits the query, waits for a terminal state and reads every result page.
func (r *AthenaRunner) Run(ctx context.Context, q Query) ([]Row, error) {
	in := &athena.StartQueryExecutionInput{
		QueryString:           aws.String(q.SQL),
		QueryExecutionContext: &types.QueryExecutionContext{Database: aws.String(q.Database)},
		WorkGroup:             aws.String(r.cfg.Workgroup),
	}
	for _, p := range q.Params {
		in.ExecutionParameters = append(in.ExecutionParameters, quoteLiteral(p))
	}
	if r.cfg.OutputLocation != "" {
		in.ResultConfiguration = &types.ResultConfiguration{OutputLocation: aws.String(r.cfg.OutputLocation)}
	}
	started, err := r.api.StartQueryExecution(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("start query: %w", err)
	}
	id := aws.ToString(started.QueryExecutionId)
	log := r.logger.With(zap.String("execution_id", id), zap.String("database", q.Database))
	log.Debug("query submitted")

	state, reason, err := r.wait(ctx, id)
	if err != nil {
		if errors.Is(err, errStillRunning) || ctx.Err() != nil {
			r.stop(id, log)
		}
		if errors.Is(err, errStillRunning) {
			log.Warn("query poll timed out", zap.Duration("timeout", r.cfg.Timeout))
			return nil, fmt.Errorf("%w (execution %s after %s)", ErrPollTimeout, id, r.cfg.Timeout)
		}
		return nil, err
	}
	if state != types.QueryExecutionStateSucceeded {
		log.Info("query finished without success", zap.String("state", string(state)))
		return nil, &ExecutionError{ExecutionID: id, State: string(state), Reason: reason}
	}
	return r.results(ctx, id)
}

// wait polls at a constant interval until a terminal state, the timeout, or ctx is done.
func (r *AthenaRunner) wait(ctx context.Context, id string) (types.QueryExecutionState, string, error) {
	var state types.QueryExecutionState
	var reason string
	backoff := retry.WithMaxDuration(r.cfg.Timeout, retry.NewConstant(r.cfg.PollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := r.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: aws.String(id)})
		if err != nil {
			return fmt.Errorf("get query execution %s: %w", id, err)
		}
		if out.QueryExecution == nil || out.QueryExecution.Status == nil {
			return retry.RetryableError(errStillRunning)
		}
		state = out.QueryExecution.Status.State
		reason = aws.ToString(out.QueryExecution.Status.StateChangeReason)
		switch state {
		case types.QueryExecutionStateSucceeded, types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			return nil
		}
		return retry.RetryableError(errStillRunning)
	})
	return state, reason, err
}

func (r *AthenaRunner) results(ctx context.Context, id string) ([]Row, error) {
	var header []string
	var data [][]*string
	p := athena.NewGetQueryResultsPaginator(r.api, &athena.GetQueryResultsInput{QueryExecutionId: aws.String(id)})
	first := true
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get query results %s: %w", id, err)
		}
		if page.ResultSet == nil {
			continue
		}
		for _, row := range page.ResultSet.Rows {
			values := make([]*string, 0, len(row.Data))
			for _, d := range row.Data {
				values = append(values, d.VarCharValue)
			}
			if first {
				first = false
				for _, v := range values {
					header = append(header, aws.ToString(v))
				}
				continue
			}
			data = append(data, values)
		}
	}
	return rowsFromTable(header, data), nil
}

// stop cancels an abandoned execution. Failures are logged only.
func (r *AthenaRunner) stop(id string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if _, err := r.api.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{QueryExecutionId: aws.String(id)}); err != nil {
		log.Warn("stop query execution failed", zap.Error(err))
	}
}

// quoteLiteral renders a string execution parameter as a SQL literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
