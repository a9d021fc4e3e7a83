package executor

import (
	"errors"
	"sort"
	"strings"

	"github.com/n9te9/go-graphql-auth-gateway/federation/graph"
	"github.com/n9te9/go-graphql-auth-gateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
)

// buildQuery renders the document sent for step. Root steps keep the client's
// operation type; entity steps become an _entities query over representations.
func buildQuery(step *planner.Step, operation string, representations []map[string]any, variables map[string]any) (*Request, error) {
	if step.Kind == planner.StepKindEntity {
		return buildEntityQuery(step, representations, variables)
	}
	return buildRootQuery(step, operation, variables)
}

func buildRootQuery(step *planner.Step, operation string, variables map[string]any) (*Request, error) {
	if operation == "" {
		operation = graph.OperationQuery
	}

	varTypes := make(map[string]string)
	collectVariableTypes(step.SubGraph, step.ParentType, step.SelectionSet, varTypes)

	var sb strings.Builder
	sb.WriteString(operation)
	writeVariableDefinitions(&sb, nil, varTypes, variables)
	sb.WriteString(" {\n")
	for _, sel := range step.SelectionSet {
		writeSelection(&sb, sel, "\t")
	}
	sb.WriteString("}")

	return &Request{
		Query:     sb.String(),
		Variables: usedVariables(varTypes, variables),
	}, nil
}

func buildEntityQuery(step *planner.Step, representations []map[string]any, variables map[string]any) (*Request, error) {
	if len(representations) == 0 {
		return nil, errors.New("representations cannot be empty for entity query")
	}

	varTypes := make(map[string]string)
	collectVariableTypes(step.SubGraph, step.ParentType, step.SelectionSet, varTypes)

	var sb strings.Builder
	sb.WriteString("query")
	writeVariableDefinitions(&sb, []string{"$representations: [_Any!]!"}, varTypes, variables)
	sb.WriteString(" {\n")
	sb.WriteString("\t_entities(representations: $representations) {\n")
	sb.WriteString("\t\t... on ")
	sb.WriteString(step.ParentType)
	sb.WriteString(" {\n")
	for _, sel := range step.SelectionSet {
		writeSelection(&sb, sel, "\t\t\t")
	}
	sb.WriteString("\t\t}\n")
	sb.WriteString("\t}\n")
	sb.WriteString("}")

	vars := usedVariables(varTypes, variables)
	if vars == nil {
		vars = make(map[string]any, 1)
	}
	vars["representations"] = representations

	return &Request{Query: sb.String(), Variables: vars}, nil
}

func writeVariableDefinitions(sb *strings.Builder, fixed []string, varTypes map[string]string, variables map[string]any) {
	names := make([]string, 0, len(varTypes))
	for name := range varTypes {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := append([]string(nil), fixed...)
	for _, name := range names {
		typ := varTypes[name]
		if typ == "" {
			typ = inferVariableType(variables[name])
		}
		defs = append(defs, "$"+name+": "+typ)
	}
	if len(defs) == 0 {
		return
	}
	sb.WriteString(" (")
	sb.WriteString(strings.Join(defs, ", "))
	sb.WriteString(")")
}

// collectVariableTypes records every variable referenced by selections with the
// argument type the subgraph declares for it, or "" when unknown.
func collectVariableTypes(sub *graph.SubGraph, parentType string, selections []ast.Selection, out map[string]string) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				if v, ok := arg.Value.(*ast.Variable); ok {
					if typ := sub.ArgumentType(parentType, s.Name.String(), arg.Name.String()); typ != "" || out[v.Name] == "" {
						out[v.Name] = typ
					}
					continue
				}
				collectNestedVariables(arg.Value, out)
			}
			if len(s.SelectionSet) > 0 {
				collectVariableTypes(sub, fieldType(sub, parentType, s.Name.String()), s.SelectionSet, out)
			}
		case *ast.InlineFragment:
			typ := parentType
			if s.TypeCondition != nil {
				typ = s.TypeCondition.Name.String()
			}
			collectVariableTypes(sub, typ, s.SelectionSet, out)
		}
	}
}

func collectNestedVariables(val ast.Value, out map[string]string) {
	switch v := val.(type) {
	case *ast.Variable:
		if _, ok := out[v.Name]; !ok {
			out[v.Name] = ""
		}
	case *ast.ListValue:
		for _, item := range v.Values {
			collectNestedVariables(item, out)
		}
	case *ast.ObjectValue:
		for _, f := range v.Fields {
			collectNestedVariables(f.Value, out)
		}
	}
}

func fieldType(sub *graph.SubGraph, parentType, fieldName string) string {
	obj, ok := sub.Object(parentType)
	if !ok {
		return ""
	}
	f, ok := obj.Field(fieldName)
	if !ok {
		return ""
	}
	return f.NamedType
}

func inferVariableType(val any) string {
	switch val.(type) {
	case int, int32, int64:
		return "Int"
	case float32, float64:
		return "Float"
	case bool:
		return "Boolean"
	default:
		return "String"
	}
}

func usedVariables(varTypes map[string]string, variables map[string]any) map[string]any {
	if len(varTypes) == 0 {
		return nil
	}
	used := make(map[string]any, len(varTypes))
	for name := range varTypes {
		if v, ok := variables[name]; ok {
			used[name] = v
		}
	}
	return used
}

func writeSelection(sb *strings.Builder, sel ast.Selection, indent string) {
	switch s := sel.(type) {
	case *ast.Field:
		sb.WriteString(indent)
		if s.Alias != nil && s.Alias.String() != "" {
			sb.WriteString(s.Alias.String())
			sb.WriteString(": ")
		}
		sb.WriteString(s.Name.String())

		if len(s.Arguments) > 0 {
			sb.WriteString("(")
			for i, arg := range s.Arguments {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(arg.Name.String())
				sb.WriteString(": ")
				sb.WriteString(graph.DecodeValue(arg.Value).String())
			}
			sb.WriteString(")")
		}

		if len(s.SelectionSet) > 0 {
			sb.WriteString(" {\n")
			for _, sub := range s.SelectionSet {
				writeSelection(sb, sub, indent+"\t")
			}
			sb.WriteString(indent)
			sb.WriteString("}")
		}
		sb.WriteString("\n")

	case *ast.InlineFragment:
		sb.WriteString(indent)
		sb.WriteString("...")
		if s.TypeCondition != nil {
			sb.WriteString(" on ")
			sb.WriteString(s.TypeCondition.Name.String())
		}
		sb.WriteString(" {\n")
		for _, sub := range s.SelectionSet {
			writeSelection(sb, sub, indent+"\t")
		}
		sb.WriteString(indent)
		sb.WriteString("}\n")
	}
}
