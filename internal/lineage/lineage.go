// Package lineage describes how event types flow through the lake layers.
package lineage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"lakeplane/internal/config"
	"lakeplane/internal/domain"
)

var (
	ErrNotFound         = errors.New("flow not found")
	ErrNoFlowRegistered = errors.New("no data flow registered")
)

// Registry is the read-only catalog of data flows keyed by event key, with an
// index from dataset name to the flow that produces it.
type Registry struct {
	flows    map[string]domain.DataFlow
	datasets map[string]string
	layers   map[string]bool
}

func New(cfg *config.Config) *Registry {
	r := &Registry{
		flows:    map[string]domain.DataFlow{},
		datasets: map[string]string{},
		layers:   map[string]bool{},
	}
	if cfg == nil {
		return r
	}
	for _, l := range cfg.Layers {
		r.layers[l.Name] = true
	}
	for key, flow := range cfg.Flows {
		r.flows[key] = flow
		for _, fl := range flow.Layers {
			r.datasets[fl.Table] = key
		}
		for _, ds := range flow.Datasets {
			r.datasets[ds] = key
		}
	}
	return r
}

// DescribeFlow returns the flow registered under eventKey.
func (r *Registry) DescribeFlow(eventKey string) (domain.DataFlow, error) {
	flow, ok := r.flows[eventKey]
	if !ok {
		return domain.DataFlow{}, fmt.Errorf("%w: '%s'", ErrNotFound, eventKey)
	}
	return flow, nil
}

// EventKey maps a dataset name, optionally layer-qualified, to its event key.
func (r *Registry) EventKey(dataset string) (string, error) {
	name := strings.TrimSpace(dataset)
	if layer, table, ok := strings.Cut(name, "."); ok && r.layers[layer] {
		name = table
	}
	key, ok := r.datasets[name]
	if !ok {
		return "", fmt.Errorf("%w for dataset '%s'", ErrNoFlowRegistered, dataset)
	}
	return key, nil
}

// FlowForDataset resolves a dataset to its event key and flow.
func (r *Registry) FlowForDataset(dataset string) (string, domain.DataFlow, error) {
	key, err := r.EventKey(dataset)
	if err != nil {
		return "", domain.DataFlow{}, err
	}
	flow, err := r.DescribeFlow(key)
	return key, flow, err
}

// EventKeys lists registered event keys in sorted order.
func (r *Registry) EventKeys() []string {
	keys := make([]string, 0, len(r.flows))
	for k := range r.flows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
