package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"
)

// Validate checks a module list before it is run. Names must be non-empty
// and unique, ordinals strictly increasing, and every declared requirement
// must name an earlier module without forming a cycle.
func Validate(modules []Module) error {
	_, err := buildGraph(modules)
	return err
}

func buildGraph(modules []Module) (graph.Graph[string, string], error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	specs := make(map[string]ModuleSpec, len(modules))

	for i, m := range modules {
		spec := m.Spec()
		if strings.TrimSpace(spec.Name) == "" {
			return nil, NewFatalError(fmt.Sprintf("module at position %d has no name", i), nil).
				WithCode(ErrCodeValidation)
		}
		if _, dup := specs[spec.Name]; dup {
			return nil, NewFatalError("duplicate module name", nil).
				WithCode(ErrCodeValidation).WithModule(spec.Name)
		}
		if i > 0 && spec.Ordinal <= modules[i-1].Spec().Ordinal {
			return nil, NewFatalError(
				fmt.Sprintf("ordinal %d does not follow %d", spec.Ordinal, modules[i-1].Spec().Ordinal), nil).
				WithCode(ErrCodeValidation).WithModule(spec.Name)
		}
		specs[spec.Name] = spec
		if err := g.AddVertex(spec.Name); err != nil {
			return nil, fmt.Errorf("failed to add module %s: %w", spec.Name, err)
		}
	}

	// Edges point from a module to the modules it requires.
	for _, m := range modules {
		spec := m.Spec()
		for _, req := range spec.Requires {
			dep, ok := specs[req]
			if !ok {
				return nil, NewFatalError(fmt.Sprintf("requires unknown module %q", req), nil).
					WithCode(ErrCodeValidation).WithModule(spec.Name)
			}
			if dep.Ordinal >= spec.Ordinal {
				return nil, NewFatalError(fmt.Sprintf("requires %q which does not run earlier", req), nil).
					WithCode(ErrCodeValidation).WithModule(spec.Name)
			}
			if err := g.AddEdge(spec.Name, req); err != nil {
				if errors.Is(err, graph.ErrEdgeAlreadyExists) {
					continue
				}
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, NewFatalError(fmt.Sprintf("requirement on %q creates a cycle", req), err).
						WithCode(ErrCodeValidation).WithModule(spec.Name)
				}
				return nil, fmt.Errorf("failed to add requirement %s -> %s: %w", spec.Name, req, err)
			}
		}
	}

	return g, nil
}

// Select returns the named modules in canonical order. With withRequires,
// the transitive requirements of each named module are included too.
func Select(modules []Module, names []string, withRequires bool) ([]Module, error) {
	g, err := buildGraph(modules)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Module, len(modules))
	for _, m := range modules {
		byName[m.Spec().Name] = m
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := byName[name]; !ok {
			return nil, NewFatalError(fmt.Sprintf("unknown module %q", name), nil).
				WithCode(ErrCodeNotFound)
		}
		if !withRequires {
			wanted[name] = true
			continue
		}
		if err := graph.DFS(g, name, func(v string) bool {
			wanted[v] = true
			return false
		}); err != nil {
			return nil, fmt.Errorf("failed to resolve requirements of %s: %w", name, err)
		}
	}

	selected := make([]Module, 0, len(wanted))
	for _, m := range modules {
		if wanted[m.Spec().Name] {
			selected = append(selected, m)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Spec().Ordinal < selected[j].Spec().Ordinal
	})
	return selected, nil
}

// Names returns the module names in list order.
func Names(modules []Module) []string {
	names := make([]string, len(modules))
	for i, m := range modules {
		names[i] = m.Spec().Name
	}
	return names
}
