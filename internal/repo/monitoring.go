package repo

import (
	"context"
	"fmt"
	"strconv"

	"lakeplane/internal/domain"
	"lakeplane/internal/query"
)

// Monitoring reads job history and status snapshots through a query.Runner,
// so the same SQL serves Athena and the local SQLite store.
type Monitoring struct {
	Runner       query.Runner
	Database     string
	JobRunsTable string
	StatusTable  string
}

// RecentRuns returns up to limit runs for dataset, most recent first.
func (m Monitoring) RecentRuns(ctx context.Context, dataset string, limit int) ([]domain.JobRun, error) {
	sql := fmt.Sprintf(`SELECT job_name, job_type, status, start_time, end_time, records_processed, error_message
FROM %s WHERE dataset = ? ORDER BY start_time DESC LIMIT %d`, m.JobRunsTable, limit)
	rows, err := m.Runner.Run(ctx, query.Query{SQL: sql, Database: m.Database, Params: []string{dataset}})
	if err != nil {
		return nil, fmt.Errorf("recent job runs: %w", err)
	}
	runs := make([]domain.JobRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, domain.JobRun{
			JobName:          str(row["job_name"]),
			JobType:          str(row["job_type"]),
			Status:           str(row["status"]),
			StartTime:        row["start_time"],
			EndTime:          row["end_time"],
			RecordsProcessed: integer(row["records_processed"]),
			ErrorMessage:     row["error_message"],
		})
	}
	return runs, nil
}

// CurrentStatus returns the status snapshot for dataset, or ErrNotFound.
func (m Monitoring) CurrentStatus(ctx context.Context, dataset string) (domain.DatasetStatus, error) {
	sql := fmt.Sprintf(`SELECT dataset, last_success_time, last_record_count, freshness_minutes, health
FROM %s WHERE dataset = ? LIMIT 1`, m.StatusTable)
	rows, err := m.Runner.Run(ctx, query.Query{SQL: sql, Database: m.Database, Params: []string{dataset}})
	if err != nil {
		return domain.DatasetStatus{}, fmt.Errorf("dataset status: %w", err)
	}
	if len(rows) == 0 {
		return domain.DatasetStatus{}, ErrNotFound
	}
	row := rows[0]
	return domain.DatasetStatus{
		Dataset:          dataset,
		LastSuccessTime:  row["last_success_time"],
		LastRecordCount:  integer(row["last_record_count"]),
		FreshnessMinutes: integer(row["freshness_minutes"]),
		Health:           row["health"],
	}, nil
}

func str(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// integer parses a numeric cell; non-numeric values read as absent.
func integer(v *string) *int64 {
	if v == nil {
		return nil
	}
	n, err := strconv.ParseInt(*v, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(*v, 64)
		if ferr != nil {
			return nil
		}
		n = int64(f)
	}
	return &n
}
