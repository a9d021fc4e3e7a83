package gateway

import (
	"errors"
	"fmt"
	"sort"

	"github.com/n9te9/go-graphql-auth-gateway/federation/authz"
	"github.com/n9te9/go-graphql-auth-gateway/federation/executor"
	"github.com/n9te9/go-graphql-auth-gateway/federation/graph"
	"github.com/n9te9/go-graphql-auth-gateway/federation/planner"
	"github.com/n9te9/go-graphql-auth-gateway/registry"
)

// executionEngine bundles all read-only components required to serve GraphQL requests.
type executionEngine struct {
	registry   *registry.Registry
	superGraph *graph.SuperGraph
	planner    *planner.Planner
	executor   *executor.Executor
}

// schemaStore holds the current set of raw SDLs, host URLs, and the pre-built engine.
// It is stored in an atomic.Pointer, so every value must be read-only after it is constructed.
type schemaStore struct {
	sdls   map[string]string // subgraph name → SDL string
	hosts  map[string]string // subgraph name → GraphQL endpoint
	engine *executionEngine
}

// buildEngine registers every subgraph, composes the SuperGraph and wraps it
// with a Planner and an Executor. Subgraphs are registered in name order.
func buildEngine(sdls, hosts map[string]string, authzEngine *authz.Engine, opts ...executor.Option) (*executionEngine, error) {
	if len(sdls) == 0 {
		return nil, errors.New("no subgraph schemas to compose")
	}

	names := make([]string, 0, len(sdls))
	for name := range sdls {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := registry.NewRegistry()
	for _, name := range names {
		d, err := registry.NewDescriptor(name, hosts[name], sdls[name])
		if err != nil {
			return nil, fmt.Errorf("failed to build subgraph %q: %w", name, err)
		}
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}

	superGraph, err := graph.Compose(reg.All())
	if err != nil {
		return nil, fmt.Errorf("composition failed: %w", err)
	}

	return &executionEngine{
		registry:   reg,
		superGraph: superGraph,
		planner:    planner.NewPlanner(superGraph),
		executor:   executor.NewExecutor(superGraph, authzEngine, opts...),
	}, nil
}

// copyMap returns a shallow copy of a string map.
func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
