package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lakeplane/internal/config"
	"lakeplane/internal/db"
	"lakeplane/internal/domain"
	"lakeplane/internal/migrate"
	"lakeplane/internal/repo"
)

const defaultStorePath = "lakeplane.db"

func devCmd() *cobra.Command {
	dev := &cobra.Command{
		Use:   "dev",
		Short: "Local development helpers",
		Long:  "Helpers for running against the local SQLite monitoring store (query.backend: sqlite). They never touch the platform.",
	}
	dev.AddCommand(devSeedCmd())
	return dev
}

func devSeedCmd() *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the local monitoring store and load demo job history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := cfg.Query.SQLitePath
			if path == "" {
				path = defaultStorePath
			}
			path = db.Resolve(viper.GetString("workspace"), path)
			conn, err := db.Open(path)
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			n, err := seed(cmd.Context(), repo.Repo{DB: conn}, cfg, runs, time.Now().UTC())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"path": path, "schema_version": version, "job_runs": n})
			}
			fmt.Printf("seeded %d job runs into %s (schema v%d)\n", n, path, version)
			if cfg.Query.Backend != config.BackendSQLite {
				fmt.Println("set query.backend: sqlite and query.sqlite_path in lakeplane.yml to query it")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 6, "job runs per dataset")
	return cmd
}

// seed writes hourly runs for every flow table, with the latest run of the
// last layer failing, plus one status snapshot per table.
func seed(ctx context.Context, r repo.Repo, cfg *config.Config, runs int, now time.Time) (int, error) {
	total := 0
	for _, key := range sortedKeys(cfg.Flows) {
		flow := cfg.Flows[key]
		for li, layer := range flow.Layers {
			job := flow.Ingestion.Job
			if rules, ok := cfg.Replay[key]; ok {
				if rule, ok := rules.Layers[layer.Layer]; ok {
					job = rule.Job
				}
			}
			var lastSuccess *string
			var lastCount *int64
			for i := runs - 1; i >= 0; i-- {
				start := now.Add(-time.Duration(i+1) * time.Hour)
				end := start.Add(5 * time.Minute)
				records := int64(1000 * (li + 1) * (runs - i))
				run := domain.JobRun{
					JobName:          job,
					JobType:          "glue",
					Status:           "SUCCEEDED",
					StartTime:        strPtr(start.Format(time.RFC3339)),
					EndTime:          strPtr(end.Format(time.RFC3339)),
					RecordsProcessed: &records,
				}
				if i == 0 && li == len(flow.Layers)-1 {
					run.Status = "FAILED"
					run.RecordsProcessed = nil
					run.ErrorMessage = strPtr("demo failure: upstream partition missing")
				} else {
					lastSuccess, lastCount = run.EndTime, run.RecordsProcessed
				}
				if _, err := r.InsertJobRun(ctx, layer.Table, run); err != nil {
					return total, err
				}
				total++
			}
			health := "healthy"
			var freshness *int64
			if lastSuccess != nil {
				if t, err := time.Parse(time.RFC3339, *lastSuccess); err == nil {
					m := int64(now.Sub(t).Minutes())
					freshness = &m
				}
			}
			if li == len(flow.Layers)-1 {
				health = "degraded"
			}
			if err := r.UpsertDatasetStatus(ctx, domain.DatasetStatus{
				Dataset:          layer.Table,
				LastSuccessTime:  lastSuccess,
				LastRecordCount:  lastCount,
				FreshnessMinutes: freshness,
				Health:           &health,
			}); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func strPtr(s string) *string { return &s }
