package graph

import (
	"fmt"
	"strings"
)

// CompositionErrorKind classifies a static contract violation between subgraphs.
type CompositionErrorKind int

const (
	// ConflictingOwnership: more than one subgraph claims a type or field.
	ConflictingOwnership CompositionErrorKind = iota + 1
	// KeyMismatch: entity keys are missing, unknown or inconsistently typed.
	KeyMismatch
	// MissingCanonicalOwner: a type or field is only ever extended.
	MissingCanonicalOwner
)

func (k CompositionErrorKind) String() string {
	switch k {
	case ConflictingOwnership:
		return "ConflictingOwnership"
	case KeyMismatch:
		return "KeyMismatch"
	case MissingCanonicalOwner:
		return "MissingCanonicalOwner"
	default:
		return fmt.Sprintf("CompositionErrorKind(%d)", int(k))
	}
}

// CompositionError is returned by Compose. No SuperGraph is produced when it occurs.
type CompositionError struct {
	Kind      CompositionErrorKind
	TypeName  string
	FieldName string
	SubGraphs []string
	Detail    string
}

func (e *CompositionError) Error() string {
	target := e.TypeName
	if e.FieldName != "" {
		target += "." + e.FieldName
	}
	msg := fmt.Sprintf("schema composition failed (%s) on %s: %s", e.Kind, target, e.Detail)
	if len(e.SubGraphs) > 0 {
		msg += fmt.Sprintf(" [subgraphs: %s]", strings.Join(e.SubGraphs, ", "))
	}
	return msg
}
