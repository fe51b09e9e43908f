package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	ToolListDatasets      = "list_datasets"
	ToolGetDatasetSchema  = "get_dataset_schema"
	ToolGetPipelineStatus = "get_pipeline_status"
	ToolExplainDataFlow   = "explain_data_flow"
	ToolProposeReplayPlan = "propose_replay_plan"
)

type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type" enum:"string,integer"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Descriptor documents one tool for listings and agent discovery.
type Descriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"parameters"`
}

// InputSchema renders the parameters as a JSON Schema object.
func (d Descriptor) InputSchema() map[string]any {
	props := map[string]any{}
	required := []string{}
	for _, p := range d.Params {
		props[p.Name] = map[string]any{"type": p.Type, "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

var descriptors = []Descriptor{
	{
		Name:        ToolListDatasets,
		Description: "List datasets in the data lake, optionally filtered to one layer (bronze, silver, gold). Read-only.",
		Params: []Param{
			{Name: "layer", Type: "string", Description: "Layer to list; all layers when omitted."},
		},
	},
	{
		Name:        ToolGetDatasetSchema,
		Description: "Fetch columns, partition keys, table type and properties of a dataset from the catalog.",
		Params: []Param{
			{Name: "dataset", Type: "string", Description: "Dataset name, optionally qualified as <layer>.<table>.", Required: true},
		},
	},
	{
		Name:        ToolGetPipelineStatus,
		Description: "Show recent job runs (most recent first) and the current freshness snapshot of a dataset.",
		Params: []Param{
			{Name: "dataset", Type: "string", Description: "Dataset name.", Required: true},
			{Name: "limit", Type: "integer", Description: fmt.Sprintf("Number of runs to return (default %d, max %d).", DefaultStatusLimit, MaxStatusLimit)},
		},
	},
	{
		Name:        ToolExplainDataFlow,
		Description: "Describe how a dataset's event flows through the layers: source, ingestion, SLAs and replay strategy.",
		Params: []Param{
			{Name: "dataset", Type: "string", Description: "Dataset name, optionally layer-qualified.", Required: true},
		},
	},
	{
		Name:        ToolProposeReplayPlan,
		Description: "Propose a dry-run replay plan for a date window. The plan requires approval and is never executed.",
		Params: []Param{
			{Name: "dataset", Type: "string", Description: "Dataset name.", Required: true},
			{Name: "start_date", Type: "string", Description: "First day, YYYY-MM-DD.", Required: true},
			{Name: "end_date", Type: "string", Description: "Last day, YYYY-MM-DD.", Required: true},
		},
	},
}

// Descriptors returns the tool listing in a stable order.
func (s *Service) Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Describe returns the descriptor for name.
func (s *Service) Describe(name string) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

func (s *Service) callListDatasets(ctx context.Context, args map[string]any) (any, error) {
	layer, err := stringArg(args, "layer", false)
	if err != nil {
		return nil, err
	}
	return s.ListDatasets(ctx, layer)
}

func (s *Service) callGetDatasetSchema(ctx context.Context, args map[string]any) (any, error) {
	dataset, err := stringArg(args, "dataset", true)
	if err != nil {
		return nil, err
	}
	return s.GetDatasetSchema(ctx, dataset)
}

func (s *Service) callGetPipelineStatus(ctx context.Context, args map[string]any) (any, error) {
	dataset, err := stringArg(args, "dataset", true)
	if err != nil {
		return nil, err
	}
	limit, err := intArg(args, "limit", DefaultStatusLimit)
	if err != nil {
		return nil, err
	}
	return s.GetPipelineStatus(ctx, dataset, limit)
}

func (s *Service) callExplainDataFlow(ctx context.Context, args map[string]any) (any, error) {
	dataset, err := stringArg(args, "dataset", true)
	if err != nil {
		return nil, err
	}
	return s.ExplainDataFlow(ctx, dataset)
}

func (s *Service) callProposeReplayPlan(ctx context.Context, args map[string]any) (any, error) {
	dataset, err := stringArg(args, "dataset", true)
	if err != nil {
		return nil, err
	}
	start, err := stringArg(args, "start_date", true)
	if err != nil {
		return nil, err
	}
	end, err := stringArg(args, "end_date", true)
	if err != nil {
		return nil, err
	}
	return s.ProposeReplayPlan(ctx, dataset, start, end)
}

func stringArg(args map[string]any, name string, required bool) (string, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		if required {
			return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
		}
		return "", nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidArgument, name)
	}
	v = strings.TrimSpace(v)
	if v == "" && required {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	return v, nil
}

// intArg accepts JSON numbers, Go ints and numeric strings.
func intArg(args map[string]any, name string, def int) (int, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, name)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, name)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, name)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, name)
}
