// Package resolver maps dataset identifiers to catalog (database, table) pairs.
//
// Identifiers are either "<layer>.<table>" or a bare "<table>". Bare names
// resolve through the dataset registry built from the configured flows; a bare
// name that is not registered only resolves when exactly one layer exists.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"lakeplane/internal/config"
	"lakeplane/internal/domain"
)

var (
	ErrUnknownLayer        = errors.New("unknown layer")
	ErrUnresolvableDataset = errors.New("unable to resolve dataset")
	ErrAmbiguousDataset    = errors.New("ambiguous dataset")
)

const separator = "."

// Target is a resolved dataset.
type Target struct {
	Layer    string
	Database string
	Table    string
}

type Resolver struct {
	layers    []domain.Layer
	databases map[string]string
	registry  map[string]string
}

// New builds a resolver from the layer mapping and the layer tables declared by
// flows. Flow aliases name no layer and are not indexed.
func New(cfg *config.Config) *Resolver {
	r := &Resolver{
		databases: map[string]string{},
		registry:  map[string]string{},
	}
	if cfg == nil {
		return r
	}
	r.layers = append(r.layers, cfg.Layers...)
	for _, l := range cfg.Layers {
		r.databases[l.Name] = l.Database
	}
	for _, flow := range cfg.Flows {
		for _, fl := range flow.Layers {
			r.registry[fl.Table] = fl.Layer
		}
	}
	return r
}

// Layers returns the configured layers in pipeline order.
func (r *Resolver) Layers() []domain.Layer {
	return append([]domain.Layer(nil), r.layers...)
}

// Database returns the database mapped to a layer.
func (r *Resolver) Database(layer string) (string, error) {
	db, ok := r.databases[layer]
	if !ok {
		return "", fmt.Errorf("%w '%s'", ErrUnknownLayer, layer)
	}
	return db, nil
}

// Resolve maps an identifier to its layer, database and table.
func (r *Resolver) Resolve(identifier string) (Target, error) {
	identifier = strings.TrimSpace(identifier)
	if len(r.layers) == 0 {
		return Target{}, fmt.Errorf("%w '%s': no layers configured", ErrUnresolvableDataset, identifier)
	}
	if layer, table, ok := strings.Cut(identifier, separator); ok {
		db, err := r.Database(layer)
		if err != nil {
			return Target{}, err
		}
		if table == "" {
			return Target{}, fmt.Errorf("%w '%s': empty table name", ErrUnresolvableDataset, identifier)
		}
		return Target{Layer: layer, Database: db, Table: table}, nil
	}
	if identifier == "" {
		return Target{}, fmt.Errorf("%w: empty identifier", ErrUnresolvableDataset)
	}
	if layer, ok := r.registry[identifier]; ok {
		return Target{Layer: layer, Database: r.databases[layer], Table: identifier}, nil
	}
	if len(r.layers) == 1 {
		l := r.layers[0]
		return Target{Layer: l.Name, Database: l.Database, Table: identifier}, nil
	}
	return Target{}, fmt.Errorf("%w '%s': qualify it as <layer>.%s (layers: %s)",
		ErrAmbiguousDataset, identifier, identifier, strings.Join(r.layerNames(), ", "))
}

// TableName strips a known layer qualifier from an identifier.
func (r *Resolver) TableName(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if layer, table, ok := strings.Cut(identifier, separator); ok {
		if _, known := r.databases[layer]; known {
			return table
		}
	}
	return identifier
}

func (r *Resolver) layerNames() []string {
	out := make([]string, 0, len(r.layers))
	for _, l := range r.layers {
		out = append(out, l.Name)
	}
	return out
}
