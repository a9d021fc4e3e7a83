package executor

import (
	"context"

	"github.com/n9te9/go-graphql-auth-gateway/federation/authz"
	"github.com/n9te9/go-graphql-auth-gateway/federation/graph"
	"github.com/n9te9/go-graphql-auth-gateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
)

// assemble builds the client response from the merged subgraph data by walking
// the requested selections. Injected key fields are dropped and every non-null
// protected value is checked; a denied value becomes null with a FORBIDDEN error.
func (ex *execution) assemble(ctx context.Context) map[string]any {
	rootType := ex.plan.RootType
	data := make(map[string]any, len(ex.plan.Selections))

	for _, sel := range ex.plan.Selections {
		f, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		key := planner.ResponseKey(f)
		path := []any{key}

		switch f.Name.String() {
		case "__typename":
			data[key] = rootType
			continue
		case "__schema", "__type":
			data[key] = nil
			ex.errors = append(ex.errors, GraphQLError{
				Message:    "introspection is not supported by the gateway",
				Path:       path,
				Extensions: map[string]any{extensionCode: CodeIntrospection},
			})
			continue
		}

		if d := ex.typeDecision(ctx, rootType); !d.Allow {
			data[key] = nil
			ex.deny(path, graph.DirectiveTarget{TypeName: rootType}, d)
			continue
		}
		data[key] = ex.completeField(ctx, rootType, ex.data, f, path)
	}

	return data
}

func (ex *execution) completeField(ctx context.Context, parentType string, parent map[string]any, f *ast.Field, path []any) any {
	raw := parent[planner.ResponseKey(f)]
	if raw == nil {
		return nil
	}

	def, ok := ex.superGraph.Field(parentType, f.Name.String())
	if !ok {
		if len(f.SelectionSet) == 0 {
			return raw
		}
		return ex.completeValue(ctx, "", raw, f.SelectionSet, path)
	}

	if ex.engine.Protected(def.Directives) {
		if d := ex.engine.EvaluateAll(ctx, def.Directives, parent, ex.arguments(f), ex.ac); !d.Allow {
			ex.deny(path, graph.DirectiveTarget{TypeName: parentType, FieldName: def.Name}, d)
			return nil
		}
	}
	if _, composite := ex.superGraph.Type(def.NamedType); composite {
		if d := ex.typeDecision(ctx, def.NamedType); !d.Allow {
			ex.deny(path, graph.DirectiveTarget{TypeName: def.NamedType}, d)
			return nil
		}
	}

	if len(f.SelectionSet) == 0 {
		return raw
	}
	return ex.completeValue(ctx, def.NamedType, raw, f.SelectionSet, path)
}

func (ex *execution) completeValue(ctx context.Context, typeName string, value any, selections []ast.Selection, path []any) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ex.completeValue(ctx, typeName, item, selections, appendAny(path, i))
		}
		return out
	case map[string]any:
		if _, ok := ex.superGraph.Type(typeName); !ok {
			if concrete, ok := v["__typename"].(string); ok {
				typeName = concrete
			}
		}
		out := make(map[string]any, len(selections))
		ex.completeSelections(ctx, typeName, v, selections, path, out)
		return out
	default:
		return value
	}
}

func (ex *execution) completeSelections(ctx context.Context, typeName string, obj map[string]any, selections []ast.Selection, path []any, out map[string]any) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			key := planner.ResponseKey(s)
			if s.Name.String() == "__typename" {
				if tn, ok := obj["__typename"]; ok {
					out[key] = tn
				} else {
					out[key] = typeName
				}
				continue
			}
			out[key] = ex.completeField(ctx, typeName, obj, s, appendAny(path, key))

		case *ast.InlineFragment:
			fragmentType := typeName
			if s.TypeCondition != nil {
				cond := s.TypeCondition.Name.String()
				if _, isObject := ex.superGraph.Type(cond); isObject {
					if tn, ok := obj["__typename"].(string); ok && tn != cond {
						continue
					}
					fragmentType = cond
				}
			}
			ex.completeSelections(ctx, fragmentType, obj, s.SelectionSet, path, out)
		}
	}
}

// arguments resolves the field arguments with variables substituted.
func (ex *execution) arguments(f *ast.Field) map[string]any {
	if len(f.Arguments) == 0 {
		return nil
	}
	args := make(map[string]any, len(f.Arguments))
	for _, arg := range f.Arguments {
		args[arg.Name.String()] = graph.DecodeValue(arg.Value).GoValue(ex.variables)
	}
	return args
}

func (ex *execution) deny(path []any, t graph.DirectiveTarget, d authz.Decision) {
	err := &authz.DeniedError{Target: t, Reason: d.Reason}
	ex.errors = append(ex.errors, GraphQLError{
		Message:    err.Error(),
		Path:       path,
		Extensions: map[string]any{extensionCode: CodeForbidden},
	})
}
