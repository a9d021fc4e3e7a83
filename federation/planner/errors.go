package planner

import "fmt"

// PlanningErrorKind classifies why a query could not be planned.
type PlanningErrorKind int

const (
	// UnknownField: the composite schema has no such field.
	UnknownField PlanningErrorKind = iota + 1
	// UnreachableSubgraph: the field has an owner but no step can be routed to it.
	UnreachableSubgraph
)

func (k PlanningErrorKind) String() string {
	switch k {
	case UnknownField:
		return "UnknownField"
	case UnreachableSubgraph:
		return "UnreachableSubgraph"
	default:
		return fmt.Sprintf("PlanningErrorKind(%d)", int(k))
	}
}

// PlanningError is returned by Plan. No partial plan is produced.
type PlanningError struct {
	Kind      PlanningErrorKind
	TypeName  string
	FieldName string
	SubGraph  string
	Path      []string
	Detail    string
}

func (e *PlanningError) Error() string {
	msg := fmt.Sprintf("%s: %s.%s", e.Kind, e.TypeName, e.FieldName)
	if e.SubGraph != "" {
		msg += fmt.Sprintf(" (subgraph %s)", e.SubGraph)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
