package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SQLRunner runs monitoring queries against a database/sql handle, such as
// the local SQLite monitoring store. Query.Database is informational only.
type SQLRunner struct {
	DB      *sql.DB
	Timeout time.Duration
	Logger  *zap.Logger
}

func (r SQLRunner) Run(ctx context.Context, q Query) ([]Row, error) {
	if r.DB == nil {
		return nil, errors.New("database connection not established")
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	id := uuid.NewString()
	args := make([]any, 0, len(q.Params))
	for _, p := range q.Params {
		args = append(args, p)
	}
	rows, err := r.DB.QueryContext(ctx, q.SQL, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w (execution %s)", ErrPollTimeout, id)
		}
		logger.Info("query failed", zap.String("execution_id", id), zap.Error(err))
		return nil, &ExecutionError{ExecutionID: id, State: StateFailed, Reason: err.Error()}
	}
	defer rows.Close()

	header, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	var data [][]*string
	for rows.Next() {
		cells := make([]sql.NullString, len(header))
		ptrs := make([]any, len(header))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		values := make([]*string, len(header))
		for i, c := range cells {
			if c.Valid {
				v := c.String
				values[i] = &v
			}
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &ExecutionError{ExecutionID: id, State: StateFailed, Reason: err.Error()}
	}
	logger.Debug("query succeeded", zap.String("execution_id", id), zap.Int("rows", len(data)))
	return rowsFromTable(header, data), nil
}
