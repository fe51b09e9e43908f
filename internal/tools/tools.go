// Package tools exposes the read-only inspection operations as named tools.
//
// Every tool returns an Envelope: the result fields on success, or a single
// "error" key on failure. Call only returns a Go error for protocol problems
// such as an unknown tool name.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lakeplane/internal/domain"
	"lakeplane/internal/lineage"
	"lakeplane/internal/replay"
	"lakeplane/internal/repo"
	"lakeplane/internal/resolver"
)

var (
	ErrUnknownTool     = errors.New("unknown tool")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	DefaultStatusLimit = 5
	MaxStatusLimit     = 100
)

// Envelope is the uniform tool response.
type Envelope map[string]any

// Err returns the in-band error message, if any.
func (e Envelope) Err() (string, bool) {
	msg, ok := e["error"].(string)
	return msg, ok
}

func errorEnvelope(err error) Envelope {
	return Envelope{"error": err.Error()}
}

// Catalog is the part of the catalog client the tools read from.
type Catalog interface {
	ListTables(ctx context.Context, database string) ([]domain.TableSummary, error)
	GetTable(ctx context.Context, database, table string) (domain.TableSchema, error)
}

// Monitor reads pipeline job history and status snapshots.
type Monitor interface {
	RecentRuns(ctx context.Context, dataset string, limit int) ([]domain.JobRun, error)
	CurrentStatus(ctx context.Context, dataset string) (domain.DatasetStatus, error)
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Resolver *resolver.Resolver
	Catalog  Catalog
	Monitor  Monitor
	Lineage  *lineage.Registry
	Replay   *replay.Builder
	Logger   *zap.Logger
}

// Service holds no per-call state; it is safe for concurrent use when its
// collaborators are.
type Service struct {
	resolver *resolver.Resolver
	catalog  Catalog
	monitor  Monitor
	lineage  *lineage.Registry
	replay   *replay.Builder
	logger   *zap.Logger
	handlers map[string]handler
}

type handler func(ctx context.Context, args map[string]any) (any, error)

func New(d Deps) *Service {
	s := &Service{
		resolver: d.Resolver,
		catalog:  d.Catalog,
		monitor:  d.Monitor,
		lineage:  d.Lineage,
		replay:   d.Replay,
		logger:   d.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.handlers = map[string]handler{
		ToolListDatasets:      s.callListDatasets,
		ToolGetDatasetSchema:  s.callGetDatasetSchema,
		ToolGetPipelineStatus: s.callGetPipelineStatus,
		ToolExplainDataFlow:   s.callExplainDataFlow,
		ToolProposeReplayPlan: s.callProposeReplayPlan,
	}
	return s
}

// Call runs the named tool. Tool failures, including panics, come back as an
// error envelope with a nil error.
func (s *Service) Call(ctx context.Context, name string, args map[string]any) (env Envelope, err error) {
	h, ok := s.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownTool, name)
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked", zap.String("tool", name), zap.Any("panic", r))
			env, err = Envelope{"error": fmt.Sprintf("internal error: %v", r)}, nil
		}
		_, failed := env.Err()
		s.logger.Info("tool call",
			zap.String("tool", name),
			zap.Duration("duration", time.Since(start)),
			zap.Bool("error", failed))
	}()
	if args == nil {
		args = map[string]any{}
	}
	result, callErr := h(ctx, args)
	if callErr != nil {
		return errorEnvelope(callErr), nil
	}
	return toEnvelope(result)
}

func toEnvelope(v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorEnvelope(fmt.Errorf("encode result: %w", err)), nil
	}
	env := Envelope{}
	if err := json.Unmarshal(data, &env); err != nil {
		return errorEnvelope(fmt.Errorf("encode result: %w", err)), nil
	}
	return env, nil
}

// Names lists the registered tools in sorted order.
func (s *Service) Names() []string {
	out := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DatasetList is the list_datasets result.
type DatasetList struct {
	Datasets []domain.TableSummary `json:"datasets"`
	Count    int                   `json:"count"`
}

// ListDatasets lists tables in one layer's database, or in every layer when
// layer is empty.
func (s *Service) ListDatasets(ctx context.Context, layer string) (DatasetList, error) {
	layers := s.resolver.Layers()
	if layer = strings.ToLower(strings.TrimSpace(layer)); layer != "" {
		db, err := s.resolver.Database(layer)
		if err != nil {
			return DatasetList{}, err
		}
		layers = []domain.Layer{{Name: layer, Database: db}}
	}

	perLayer := make([][]domain.TableSummary, len(layers))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range layers {
		g.Go(func() error {
			tables, err := s.catalog.ListTables(gctx, l.Database)
			if err != nil {
				return fmt.Errorf("list %s tables: %w", l.Name, err)
			}
			for j := range tables {
				tables[j].Layer = l.Name
			}
			perLayer[i] = tables
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DatasetList{}, err
	}

	out := DatasetList{Datasets: []domain.TableSummary{}}
	for _, tables := range perLayer {
		out.Datasets = append(out.Datasets, tables...)
	}
	out.Count = len(out.Datasets)
	return out, nil
}

// DatasetSchema is the get_dataset_schema result.
type DatasetSchema struct {
	Dataset string `json:"dataset"`
	Layer   string `json:"layer"`
	domain.TableSchema
}

func (s *Service) GetDatasetSchema(ctx context.Context, dataset string) (DatasetSchema, error) {
	target, err := s.resolver.Resolve(dataset)
	if err != nil {
		return DatasetSchema{}, err
	}
	schema, err := s.catalog.GetTable(ctx, target.Database, target.Table)
	if err != nil {
		return DatasetSchema{}, err
	}
	return DatasetSchema{Dataset: dataset, Layer: target.Layer, TableSchema: schema}, nil
}

// PipelineStatus is the get_pipeline_status result. CurrentStatus is nil
// when no snapshot exists for the dataset.
type PipelineStatus struct {
	Dataset       string                `json:"dataset"`
	RecentRuns    []domain.JobRun       `json:"recent_runs"`
	CurrentStatus *domain.DatasetStatus `json:"current_status"`
}

// GetPipelineStatus reads recent runs and the status snapshot concurrently.
// Monitoring rows are keyed by table name, so a layer qualifier is dropped.
func (s *Service) GetPipelineStatus(ctx context.Context, dataset string, limit int) (PipelineStatus, error) {
	table := s.resolver.TableName(dataset)
	if table == "" {
		return PipelineStatus{}, fmt.Errorf("%w: dataset is required", ErrInvalidArgument)
	}
	limit = clampLimit(limit)

	out := PipelineStatus{Dataset: table}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runs, err := s.monitor.RecentRuns(gctx, table, limit)
		out.RecentRuns = runs
		return err
	})
	g.Go(func() error {
		st, err := s.monitor.CurrentStatus(gctx, table)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.CurrentStatus = &st
		return nil
	})
	if err := g.Wait(); err != nil {
		return PipelineStatus{}, err
	}
	if out.RecentRuns == nil {
		out.RecentRuns = []domain.JobRun{}
	}
	return out, nil
}

func clampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultStatusLimit
	case limit < 1:
		return 1
	case limit > MaxStatusLimit:
		return MaxStatusLimit
	}
	return limit
}

// FlowExplanation is the explain_data_flow result.
type FlowExplanation struct {
	Dataset  string          `json:"dataset"`
	EventKey string          `json:"event_key"`
	Flow     domain.DataFlow `json:"flow"`
}

func (s *Service) ExplainDataFlow(_ context.Context, dataset string) (FlowExplanation, error) {
	key, flow, err := s.lineage.FlowForDataset(dataset)
	if err != nil {
		return FlowExplanation{}, err
	}
	return FlowExplanation{Dataset: dataset, EventKey: key, Flow: flow}, nil
}

// ProposeReplayPlan builds a dry-run plan. The plan is never executed.
func (s *Service) ProposeReplayPlan(_ context.Context, dataset, startDate, endDate string) (domain.ReplayPlan, error) {
	plan, err := s.replay.Build(dataset, startDate, endDate)
	if err != nil {
		return domain.ReplayPlan{}, err
	}
	plan.RequiresApproval = true
	plan.ExecutionDisabled = true
	return plan, nil
}
