// Package replay builds advisory replay plans for a dataset and date window.
package replay

import (
	"errors"
	"fmt"
	"time"

	"lakeplane/internal/config"
	"lakeplane/internal/domain"
	"lakeplane/internal/lineage"
)

const (
	dateLayout    = "2006-01-02"
	secondsPerDay = 24 * 60 * 60
)

var (
	ErrInvalidDateFormat       = errors.New("dates must be in ISO format (YYYY-MM-DD)")
	ErrInvalidDateRange        = errors.New("start_date must be <= end_date")
	ErrNoReplayRulesRegistered = errors.New("no replay rules registered")
)

// Builder produces dry-run replay plans. It never triggers a job.
type Builder struct {
	layers   []string
	rules    map[string]config.ReplayRules
	registry *lineage.Registry
}

func New(cfg *config.Config, registry *lineage.Registry) *Builder {
	b := &Builder{rules: map[string]config.ReplayRules{}, registry: registry}
	if cfg == nil {
		return b
	}
	b.layers = cfg.LayerNames()
	for k, v := range cfg.Replay {
		b.rules[k] = v
	}
	return b
}

// Build validates the window and walks every layer from the source layer forward.
func (b *Builder) Build(dataset, startDate, endDate string) (domain.ReplayPlan, error) {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return domain.ReplayPlan{}, fmt.Errorf("%w: start_date %q", ErrInvalidDateFormat, startDate)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return domain.ReplayPlan{}, fmt.Errorf("%w: end_date %q", ErrInvalidDateFormat, endDate)
	}
	if start.After(end) {
		return domain.ReplayPlan{}, fmt.Errorf("%w (got %s > %s)", ErrInvalidDateRange, startDate, endDate)
	}

	var flowKey string
	var flow domain.DataFlow
	if b.registry != nil {
		flowKey, flow, err = b.registry.FlowForDataset(dataset)
	}
	if b.registry == nil || err != nil {
		return domain.ReplayPlan{}, fmt.Errorf("%w for '%s'", ErrNoReplayRulesRegistered, dataset)
	}
	rules, ok := b.rules[flowKey]
	if !ok {
		return domain.ReplayPlan{}, fmt.Errorf("%w for '%s' (flow %s)", ErrNoReplayRulesRegistered, dataset, flowKey)
	}

	plan := domain.ReplayPlan{
		Dataset: dataset,
		Flow:    flowKey,
		Window: domain.ReplayWindow{
			StartDate: startDate,
			EndDate:   endDate,
			Days:      int((end.Unix()-start.Unix())/secondsPerDay) + 1,
		},
		ReplayPath:        make([]domain.ReplayStep, 0, len(b.layers)),
		ImpactedLayers:    make([]string, 0, len(b.layers)),
		SafetyChecks:      append([]string(nil), rules.SafetyChecks...),
		MaxLateDataHours:  flow.ReplayStrategy.MaxLateDataHours,
		RequiresApproval:  true,
		ExecutionDisabled: true,
	}
	for _, layer := range b.layers {
		rule, ok := rules.Layers[layer]
		if !ok {
			return domain.ReplayPlan{}, fmt.Errorf("%w for layer %s of flow %s", ErrNoReplayRulesRegistered, layer, flowKey)
		}
		plan.ReplayPath = append(plan.ReplayPath, domain.ReplayStep{
			Layer:      layer,
			Job:        rule.Job,
			Replayable: rule.Replayable,
		})
		plan.ImpactedLayers = append(plan.ImpactedLayers, layer)
	}
	return plan, nil
}
