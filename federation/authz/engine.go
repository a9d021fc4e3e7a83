package authz

import (
	"context"
	"fmt"
	"net/http"

	"github.com/n9te9/go-graphql-auth-gateway/federation/graph"
	"go.uber.org/zap"
)

const DefaultDirective = "auth"

// Decision is the outcome of evaluating the bindings of one field or type.
type Decision struct {
	Allow  bool
	Reason string
}

// Policy decides whether the binding allows access. parent is the resolved
// parent object (nil for type-level checks made before a sub-operation is
// sent) and args are the field arguments with variables substituted.
type Policy func(ctx context.Context, binding *graph.DirectiveBinding, parent any, args map[string]any, ac *Context) (bool, error)

// ContextFunc derives the caller identity from request headers.
type ContextFunc func(ctx context.Context, header http.Header) (*Context, error)

// Recorder observes decisions, e.g. to export metrics.
type Recorder interface {
	RecordDecision(directive string, target graph.DirectiveTarget, allowed bool)
}

// DeniedError is reported in the response for a denied field. It never aborts
// the request.
type DeniedError struct {
	Target graph.DirectiveTarget
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("not authorized to access %s", e.Target)
	}
	return fmt.Sprintf("not authorized to access %s: %s", e.Target, e.Reason)
}

// Engine locates the bindings of its directive and asks the policy about them.
// It keeps no per-request state.
type Engine struct {
	directive   string
	policy      Policy
	contextFunc ContextFunc
	recorder    Recorder
	logger      *zap.Logger
}

type Option func(*Engine)

// WithDirective sets the directive the engine enforces. Defaults to "auth".
func WithDirective(name string) Option {
	return func(e *Engine) {
		e.directive = name
	}
}

// WithPolicy sets the policy. Without one every protected field is denied.
func WithPolicy(policy Policy) Option {
	return func(e *Engine) {
		e.policy = policy
	}
}

// WithContextFunc sets how the caller identity is built from a request.
func WithContextFunc(fn ContextFunc) Option {
	return func(e *Engine) {
		e.contextFunc = fn
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		directive: DefaultDirective,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Directive returns the name of the enforced directive.
func (e *Engine) Directive() string {
	return e.directive
}

// BuildContext runs the configured ContextFunc. Without one the caller is anonymous.
func (e *Engine) BuildContext(ctx context.Context, header http.Header) (*Context, error) {
	if e.contextFunc == nil {
		return Anonymous(), nil
	}
	ac, err := e.contextFunc(ctx, header)
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization context: %w", err)
	}
	if ac == nil {
		return Anonymous(), nil
	}
	return ac, nil
}

// Evaluate decides a single binding. A missing policy or a policy error denies.
func (e *Engine) Evaluate(ctx context.Context, binding *graph.DirectiveBinding, parent any, args map[string]any, ac *Context) Decision {
	if ac == nil {
		ac = Anonymous()
	}
	d := e.evaluate(ctx, binding, parent, args, ac)
	if e.recorder != nil {
		e.recorder.RecordDecision(binding.Name, binding.Target, d.Allow)
	}
	if !d.Allow {
		e.logger.Debug("authorization denied",
			zap.String("target", binding.Target.String()),
			zap.String("directive", binding.String()),
			zap.String("subject", ac.Subject()),
			zap.String("reason", d.Reason),
		)
	}
	return d
}

func (e *Engine) evaluate(ctx context.Context, binding *graph.DirectiveBinding, parent any, args map[string]any, ac *Context) Decision {
	if e.policy == nil {
		return Decision{Allow: false, Reason: "no authorization policy configured"}
	}

	allowed, err := e.policy(ctx, binding, parent, args, ac)
	if err != nil {
		return Decision{Allow: false, Reason: err.Error()}
	}
	if !allowed {
		return Decision{Allow: false, Reason: fmt.Sprintf("%s rejected", binding.String())}
	}
	return Decision{Allow: true}
}

// EvaluateAll decides every binding of the engine's directive among bindings.
// All of them must allow; the first denial is returned. Targets without such
// bindings are allowed.
func (e *Engine) EvaluateAll(ctx context.Context, bindings []graph.DirectiveBinding, parent any, args map[string]any, ac *Context) Decision {
	for i := range bindings {
		if bindings[i].Name != e.directive {
			continue
		}
		if d := e.Evaluate(ctx, &bindings[i], parent, args, ac); !d.Allow {
			return d
		}
	}
	return Decision{Allow: true}
}

// Protected reports whether any of bindings is the engine's directive.
func (e *Engine) Protected(bindings []graph.DirectiveBinding) bool {
	for _, b := range bindings {
		if b.Name == e.directive {
			return true
		}
	}
	return false
}
