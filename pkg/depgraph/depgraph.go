package depgraph

import (
	"context"
	"errors"
)

// ErrGraphGap marks a crate that has no entry in the dependency graph.
// It is informational only: such crates are treated as having no
// dependencies.
var ErrGraphGap = errors.New("crate missing from dependency graph")

// Graph maps a crate name to the names of its direct dependencies. It may
// be incomplete and may contain cycles.
type Graph map[string][]string

// Dependencies returns the direct dependencies of name and whether the
// crate is known to the graph.
func (g Graph) Dependencies(name string) ([]string, bool) {
	deps, ok := g[name]

	return deps, ok
}

// Provider supplies the dependency graph for an analysis run.
type Provider interface {
	Graph(ctx context.Context) (Graph, error)
}

// Static is a Provider over a fixed graph.
type Static Graph

// Compile-time interface check.
var _ Provider = Static(nil)

// Graph returns the fixed graph.
func (s Static) Graph(context.Context) (Graph, error) {
	return Graph(s), nil
}

// Dependency is one dependency entry of an index record.
type Dependency struct {
	Name     string `json:"name"`
	Req      string `json:"req"`
	Kind     string `json:"kind,omitempty"`
	Optional bool   `json:"optional"`
	// Package is the real crate name when the dependency is renamed.
	Package string `json:"package,omitempty"`
}

// CrateName returns the name of the depended-upon crate.
func (d Dependency) CrateName() string {
	if d.Package != "" {
		return d.Package
	}

	return d.Name
}

// Crate is one published version of a crate as recorded in the index.
type Crate struct {
	Name   string       `json:"name"`
	Vers   string       `json:"vers"`
	Deps   []Dependency `json:"deps"`
	Yanked bool         `json:"yanked"`
}

// BuildGraph derives the dependency graph from index records. Records are
// expected in publication order per crate; the last non-yanked version of
// each crate supplies its dependencies, falling back to the last version
// when all are yanked. Dev-dependencies are excluded since they do not
// affect whether a crate builds.
func BuildGraph(crates []Crate) Graph {
	latest := make(map[string]*Crate, len(crates))

	for i := range crates {
		c := &crates[i]

		prev, ok := latest[c.Name]
		if ok && c.Yanked && !prev.Yanked {
			continue
		}

		latest[c.Name] = c
	}

	graph := make(Graph, len(latest))

	for name, c := range latest {
		seen := make(map[string]struct{}, len(c.Deps))
		deps := make([]string, 0, len(c.Deps))

		for _, d := range c.Deps {
			if d.Kind == "dev" {
				continue
			}

			dep := d.CrateName()
			if _, dup := seen[dep]; dup {
				continue
			}

			seen[dep] = struct{}{}
			deps = append(deps, dep)
		}

		graph[name] = deps
	}

	return graph
}
