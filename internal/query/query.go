// Package query runs SQL against the query service and returns header-keyed rows.
package query

import (
	"context"
	"errors"
	"fmt"
)

// ErrPollTimeout is returned when an execution does not reach a terminal
// state within the configured wait.
var ErrPollTimeout = errors.New("query did not finish before timeout")

// Terminal execution states.
const (
	StateSucceeded = "SUCCEEDED"
	StateFailed    = "FAILED"
	StateCancelled = "CANCELLED"
)

// ExecutionError reports a query that ended in a non-success terminal state.
type ExecutionError struct {
	ExecutionID string
	State       string
	Reason      string
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("query failed with status %s", e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Query is one statement with positional string parameters bound to '?'.
type Query struct {
	SQL      string
	Database string
	Params   []string
}

// Row maps column header to cell value. Nil means the cell was null or absent.
type Row map[string]*string

// Runner executes a query to completion.
type Runner interface {
	Run(ctx context.Context, q Query) ([]Row, error)
}

// rowsFromTable turns a header row plus data rows into Rows.
func rowsFromTable(header []string, data [][]*string) []Row {
	rows := make([]Row, 0, len(data))
	for _, values := range data {
		row := make(Row, len(header))
		for i, h := range header {
			if i < len(values) {
				row[h] = values[i]
			} else {
				row[h] = nil
			}
		}
		rows = append(rows, row)
	}
	return rows
}
