package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/n9te9/go-graphql-auth-gateway/federation/authz"
	"github.com/n9te9/go-graphql-auth-gateway/federation/graph"
	"github.com/n9te9/go-graphql-auth-gateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/n9te9/go-graphql-auth-gateway/federation/executor"

// Response is the assembled GraphQL response.
type Response struct {
	Data   map[string]any `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// Observer is notified after every sub-operation round trip.
type Observer interface {
	ObserveSubOperation(subGraph string, kind planner.StepKind, duration time.Duration, err error)
}

// Executor runs plans against subgraphs and assembles authorized responses.
// It is safe for concurrent use; all per-request state lives in an execution.
type Executor struct {
	superGraph       *graph.SuperGraph
	engine           *authz.Engine
	transport        Transport
	timeout          time.Duration
	subGraphTimeouts map[string]time.Duration
	observer         Observer
	logger           *zap.Logger
	tracer           trace.Tracer
}

type Option func(*Executor)

func WithTransport(t Transport) Option {
	return func(e *Executor) {
		e.transport = t
	}
}

// WithTimeout bounds every sub-operation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithSubGraphTimeout overrides the timeout for one subgraph.
func WithSubGraphTimeout(subGraph string, d time.Duration) Option {
	return func(e *Executor) {
		e.subGraphTimeouts[subGraph] = d
	}
}

func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an Executor. A nil engine enforces the default directive
// without a policy, so every protected field is denied.
func NewExecutor(superGraph *graph.SuperGraph, engine *authz.Engine, opts ...Option) *Executor {
	if engine == nil {
		engine = authz.NewEngine()
	}
	e := &Executor{
		superGraph:       superGraph,
		engine:           engine,
		transport:        NewHTTPTransport(nil),
		subGraphTimeouts: make(map[string]time.Duration),
		logger:           zap.NewNop(),
		tracer:           otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type stepStatus int

const (
	statusPending stepStatus = iota
	statusDone
	statusSkipped
	statusFailed
)

// execution is the state of one Execute call.
type execution struct {
	*Executor

	plan      *planner.Plan
	ac        *authz.Context
	variables map[string]any
	done      []chan struct{}

	mu     sync.Mutex
	data   map[string]any
	errors []GraphQLError
	status []stepStatus

	authMu        sync.Mutex
	typeDecisions map[string]authz.Decision
}

// Execute runs every step of plan, each as soon as its dependencies have
// finished, and assembles the response. The first failed sub-operation is
// returned as a *GatewayError together with the partial response. When ctx is
// cancelled the response is discarded and the error wraps ctx.Err(). A nil ac
// falls back to the caller stored in ctx by authz.WithContext.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, ac *authz.Context, variables map[string]any) (*Response, error) {
	if err := validateDAG(plan); err != nil {
		return nil, err
	}
	if ac == nil {
		ac = authz.FromContext(ctx)
	}

	ex := &execution{
		Executor:      e,
		plan:          plan,
		ac:            ac,
		variables:     variables,
		done:          make([]chan struct{}, len(plan.Steps)),
		data:          make(map[string]any),
		status:        make([]stepStatus, len(plan.Steps)),
		typeDecisions: make(map[string]authz.Decision),
	}
	for i := range ex.done {
		ex.done[i] = make(chan struct{})
	}

	// Steps never cancel each other; Wait reports the first failed step.
	var eg errgroup.Group
	for _, step := range plan.Steps {
		eg.Go(func() error {
			defer close(ex.done[step.ID])
			return ex.run(ctx, step)
		})
	}
	failure := eg.Wait()

	if err := ctx.Err(); err != nil {
		if failure != nil && errors.Is(failure, err) {
			return nil, failure
		}
		return nil, &GatewayError{StepID: -1, Err: err}
	}

	resp := &Response{Data: ex.assemble(ctx)}
	sortErrors(ex.errors)
	resp.Errors = ex.errors

	if failure != nil {
		return resp, failure
	}
	return resp, nil
}

// validateDAG rejects plans whose dependencies are unknown or cyclic.
func validateDAG(plan *planner.Plan) error {
	if plan == nil {
		return errors.New("plan is nil")
	}

	inDegree := make([]int, len(plan.Steps))
	dependents := make([][]int, len(plan.Steps))
	for i, step := range plan.Steps {
		if step.ID != i {
			return fmt.Errorf("step at index %d has ID %d", i, step.ID)
		}
		for _, dep := range step.DependsOn {
			if dep < 0 || dep >= len(plan.Steps) {
				return fmt.Errorf("step %d depends on non-existent step %d", step.ID, dep)
			}
			inDegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	queue := make([]int, 0, len(plan.Steps))
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(plan.Steps) {
		return errors.New("plan contains a dependency cycle")
	}
	return nil
}

// run executes one step once its dependencies have finished. The returned
// error is the step's own failure; skipped steps return nil.
func (ex *execution) run(ctx context.Context, step *planner.Step) error {
	for _, dep := range step.DependsOn {
		select {
		case <-ex.done[dep]:
		case <-ctx.Done():
			return ex.fail(step, ctx.Err(), nil)
		}
	}
	if err := ctx.Err(); err != nil {
		return ex.fail(step, err, nil)
	}
	if !ex.dependenciesDone(step) {
		ex.setStatus(step.ID, statusSkipped)
		return nil
	}

	if d := ex.typeDecision(ctx, step.ParentType); !d.Allow {
		ex.logger.Debug("sub-operation skipped by type authorization",
			zap.Int("step", step.ID),
			zap.String("subgraph", step.SubGraph.Name),
			zap.String("type", step.ParentType),
		)
		ex.setStatus(step.ID, statusSkipped)
		return nil
	}

	var (
		reps   []map[string]any
		groups [][]target
	)
	if step.Kind == planner.StepKindEntity {
		reps, groups = ex.representations(step)
		if len(reps) == 0 {
			ex.setStatus(step.ID, statusDone)
			return nil
		}
	}

	req, err := buildQuery(step, ex.plan.Operation, reps, ex.variables)
	if err != nil {
		return ex.fail(step, err, groups)
	}

	resp, err := ex.send(ctx, step, req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ex.fail(step, ctxErr, nil)
	}
	if err != nil {
		return ex.fail(step, err, groups)
	}

	ex.merge(step, resp, groups)
	return nil
}

func (ex *execution) dependenciesDone(step *planner.Step) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	for _, dep := range step.DependsOn {
		if ex.status[dep] != statusDone {
			return false
		}
	}
	return true
}

func (ex *execution) setStatus(id int, s stepStatus) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.status[id] = s
}

func (ex *execution) send(ctx context.Context, step *planner.Step, req *Request) (*SubGraphResponse, error) {
	timeout := ex.timeout
	if d, ok := ex.subGraphTimeouts[step.SubGraph.Name]; ok {
		timeout = d
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := ex.tracer.Start(ctx, "subgraph "+step.SubGraph.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("graphql.subgraph", step.SubGraph.Name),
			attribute.String("graphql.step.kind", step.Kind.String()),
			attribute.Int("graphql.step.id", step.ID),
			attribute.StringSlice("graphql.step.insertion_path", step.InsertionPath),
		),
	)
	defer span.End()

	ex.logger.Debug("sending sub-operation",
		zap.Int("step", step.ID),
		zap.String("subgraph", step.SubGraph.Name),
		zap.Stringer("kind", step.Kind),
		zap.Strings("insertion_path", step.InsertionPath),
	)

	start := time.Now()
	resp, err := ex.transport.RoundTrip(ctx, step.SubGraph, req)
	if ex.observer != nil {
		ex.observer.ObserveSubOperation(step.SubGraph.Name, step.Kind, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

// representations collects the objects an entity step extends and builds one
// representation per distinct key. groups[i] holds every object sharing
// representation i.
func (ex *execution) representations(step *planner.Step) ([]map[string]any, [][]target) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	var (
		reps   []map[string]any
		groups [][]target
		index  = make(map[string]int)
	)
	for _, t := range collectTargets(ex.data, step.Path) {
		if typename, ok := t.object["__typename"].(string); ok && typename != step.ParentType {
			continue
		}

		rep := map[string]any{"__typename": step.ParentType}
		key := step.ParentType
		complete := true
		for _, k := range step.Keys {
			v, ok := t.object[k]
			if !ok || v == nil {
				complete = false
				break
			}
			rep[k] = v
			key += fmt.Sprintf("|%#v", v)
		}
		if !complete {
			continue
		}

		if i, ok := index[key]; ok {
			groups[i] = append(groups[i], t)
			continue
		}
		index[key] = len(reps)
		reps = append(reps, rep)
		groups = append(groups, []target{t})
	}
	return reps, groups
}

func (ex *execution) merge(step *planner.Step, resp *SubGraphResponse, groups [][]target) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	for _, e := range resp.Errors {
		ex.errors = append(ex.errors, subGraphError(step, e, groups))
	}

	switch step.Kind {
	case planner.StepKindRoot:
		if resp.Data == nil {
			ex.status[step.ID] = statusFailed
			return
		}
		deepMerge(ex.data, resp.Data)

	case planner.StepKindEntity:
		entities, ok := resp.Data["_entities"].([]any)
		if !ok {
			ex.status[step.ID] = statusFailed
			return
		}
		for i, entity := range entities {
			if i >= len(groups) {
				break
			}
			obj, ok := entity.(map[string]any)
			if !ok {
				continue
			}
			for _, t := range groups[i] {
				deepMerge(t.object, obj)
			}
		}
	}
	ex.status[step.ID] = statusDone
}

// subGraphError forwards an error reported by a subgraph. Entity error paths
// are rebased from _entities onto the response path of the object.
func subGraphError(step *planner.Step, e GraphQLError, groups [][]target) GraphQLError {
	ext := make(map[string]any, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		ext[k] = v
	}
	ext[extensionServiceName] = step.SubGraph.Name

	out := GraphQLError{Message: e.Message, Path: e.Path, Extensions: ext}
	if step.Kind != planner.StepKindEntity || len(e.Path) < 2 || e.Path[0] != "_entities" {
		return out
	}

	i, ok := pathIndex(e.Path[1])
	if !ok || i < 0 || i >= len(groups) {
		out.Path = nil
		return out
	}
	path := append([]any(nil), groups[i][0].path...)
	out.Path = append(path, e.Path[2:]...)
	return out
}

func pathIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

// fail marks the step failed and reports the branches it leaves unresolved.
// Cancellation adds no response error.
func (ex *execution) fail(step *planner.Step, err error, groups [][]target) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	ex.status[step.ID] = statusFailed
	gerr := &GatewayError{StepID: step.ID, SubGraph: step.SubGraph.Name, Err: err}
	if errors.Is(err, context.Canceled) {
		return gerr
	}

	ex.logger.Warn("sub-operation failed",
		zap.Int("step", step.ID),
		zap.String("subgraph", step.SubGraph.Name),
		zap.Error(err),
	)

	ext := map[string]any{
		extensionCode:        CodeSubGraphFailed,
		extensionServiceName: step.SubGraph.Name,
	}
	message := fmt.Sprintf("failed to fetch from subgraph %s: %v", step.SubGraph.Name, err)

	var base []any
	if step.Kind == planner.StepKindEntity {
		if len(groups) > 0 {
			base = groups[0][0].path
		} else {
			for _, p := range step.Path {
				base = append(base, p)
			}
		}
	}
	for _, sel := range step.SelectionSet {
		f, ok := sel.(*ast.Field)
		if !ok || f.Name.String() == "__typename" {
			continue
		}
		ex.errors = append(ex.errors, GraphQLError{
			Message:    message,
			Path:       appendAny(base, planner.ResponseKey(f)),
			Extensions: ext,
		})
		if step.Kind == planner.StepKindEntity {
			break
		}
	}
	return gerr
}

// typeDecision evaluates the type-level bindings of typeName once per
// execution. Parent is nil since no object of the type is resolved yet.
func (ex *execution) typeDecision(ctx context.Context, typeName string) authz.Decision {
	ex.authMu.Lock()
	defer ex.authMu.Unlock()

	if d, ok := ex.typeDecisions[typeName]; ok {
		return d
	}
	d := authz.Decision{Allow: true}
	if t, ok := ex.superGraph.Type(typeName); ok && ex.engine.Protected(t.Directives) {
		d = ex.engine.EvaluateAll(ctx, t.Directives, nil, nil, ex.ac)
	}
	ex.typeDecisions[typeName] = d
	return d
}
