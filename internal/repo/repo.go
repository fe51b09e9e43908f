package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"lakeplane/internal/domain"
)

// Repo writes to the local SQLite monitoring store. It never touches the
// platform; it exists to load job history for the sqlite query backend.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// InsertJobRun appends one job run for dataset.
func (r Repo) InsertJobRun(ctx context.Context, dataset string, run domain.JobRun) (string, error) {
	if dataset == "" {
		return "", errors.New("dataset required")
	}
	if run.JobName == "" || run.Status == "" {
		return "", errors.New("job_name and status required")
	}
	id := uuid.NewString()
	_, err := r.DB.ExecContext(ctx, `INSERT INTO job_runs(run_id,dataset,job_name,job_type,status,start_time,end_time,records_processed,error_message)
VALUES (?,?,?,?,?,?,?,?,?)`,
		id, dataset, run.JobName, nullable(run.JobType), run.Status, run.StartTime, run.EndTime, run.RecordsProcessed, run.ErrorMessage)
	if err != nil {
		return "", fmt.Errorf("insert job run: %w", err)
	}
	return id, nil
}

// UpsertDatasetStatus replaces the status snapshot of a dataset.
func (r Repo) UpsertDatasetStatus(ctx context.Context, st domain.DatasetStatus) error {
	if st.Dataset == "" {
		return errors.New("dataset required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO dataset_status(dataset,last_success_time,last_record_count,freshness_minutes,health) VALUES (?,?,?,?,?)
ON CONFLICT(dataset) DO UPDATE SET last_success_time=excluded.last_success_time, last_record_count=excluded.last_record_count,
freshness_minutes=excluded.freshness_minutes, health=excluded.health`,
		st.Dataset, st.LastSuccessTime, st.LastRecordCount, st.FreshnessMinutes, st.Health)
	if err != nil {
		return fmt.Errorf("upsert dataset status: %w", err)
	}
	return nil
}

// CountJobRuns returns how many runs are stored for dataset.
func (r Repo) CountJobRuns(ctx context.Context, dataset string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_runs WHERE dataset=?`, dataset).Scan(&n)
	return n, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
