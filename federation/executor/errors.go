package executor

import (
	"fmt"
	"sort"
)

// Error codes set in extensions.code.
const (
	CodeForbidden        = "FORBIDDEN"
	CodeSubGraphFailed   = "SUBGRAPH_REQUEST_FAILED"
	CodeIntrospection    = "INTROSPECTION_DISABLED"
	CodeInternalError    = "INTERNAL_SERVER_ERROR"
	extensionCode        = "code"
	extensionServiceName = "serviceName"
)

// GraphQLError represents a GraphQL error with path information.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// GatewayError wraps the first sub-operation failure of an execution.
type GatewayError struct {
	StepID   int
	SubGraph string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("sub-operation %d (%s) failed: %v", e.StepID, e.SubGraph, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func sortErrors(errs []GraphQLError) {
	sort.SliceStable(errs, func(i, j int) bool {
		return fmt.Sprint(errs[i].Path) < fmt.Sprint(errs[j].Path)
	})
}
