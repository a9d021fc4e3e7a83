package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/n9te9/go-graphql-auth-gateway/federation/authz"
	"github.com/n9te9/go-graphql-auth-gateway/federation/executor"
	"github.com/n9te9/go-graphql-auth-gateway/federation/graph"
	"github.com/n9te9/go-graphql-auth-gateway/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// Error codes of request-level failures.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeParseFailed         = "GRAPHQL_PARSE_FAILED"
	CodeUnknownField        = "UNKNOWN_FIELD"
	CodeUnreachableSubgraph = "UNREACHABLE_SUBGRAPH"
	CodeUnauthenticated     = "UNAUTHENTICATED"
)

// Gateway serves GraphQL requests against the composed subgraphs. The engine
// is swapped atomically on Reload; in-flight requests keep the engine they
// started with.
type Gateway struct {
	option     GatewayOption
	httpClient *http.Client
	authz      *authz.Engine
	metrics    *Metrics
	logger     *zap.Logger
	store      atomic.Pointer[schemaStore]

	enableComplementRequestId   bool
	enableHangOverRequestHeader bool
}

var _ http.Handler = (*Gateway)(nil)

type Option func(*Gateway)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithAuthorizationEngine replaces the header role engine built from the
// authorization section of the config.
func WithAuthorizationEngine(e *authz.Engine) Option {
	return func(g *Gateway) {
		g.authz = e
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

// NewGateway loads every service schema, from schema_files or from the
// service itself, and composes them.
func NewGateway(ctx context.Context, settings GatewayOption, opts ...Option) (*Gateway, error) {
	settings.applyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		option:                      settings,
		logger:                      zap.NewNop(),
		enableComplementRequestId:   true,
		enableHangOverRequestHeader: *settings.EnableHangOverRequestHeader,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.httpClient == nil {
		g.httpClient = &http.Client{}
		if settings.Opentelemetry.TracingSetting.Enable {
			g.httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
		}
	}
	if g.authz == nil {
		g.authz = g.defaultAuthorization()
	}

	if err := g.Reload(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) defaultAuthorization() *authz.Engine {
	a := g.option.Authorization
	opts := []authz.Option{
		authz.WithDirective(a.Directive),
		authz.WithPolicy(authz.RolePolicy(a.RoleArgument, a.DefaultRole)),
		authz.WithContextFunc(authz.HeaderRoles(a.RoleHeader, a.RoleSeparator)),
		authz.WithLogger(g.logger.Named("authz")),
	}
	if g.metrics != nil {
		opts = append(opts, authz.WithRecorder(g.metrics))
	}
	return authz.NewEngine(opts...)
}

// Reload fetches the schemas again and swaps in a newly composed engine. On
// failure the current engine stays in place.
func (g *Gateway) Reload(ctx context.Context) error {
	sdls := make(map[string]string, len(g.option.Services))
	hosts := make(map[string]string, len(g.option.Services))

	for _, s := range g.option.Services {
		hosts[s.Name] = s.Host

		if len(s.SchemaFiles) > 0 {
			var schema []byte
			for _, f := range s.SchemaFiles {
				src, err := os.ReadFile(f)
				if err != nil {
					return fmt.Errorf("service %q: %w", s.Name, err)
				}
				schema = append(schema, src...)
				schema = append(schema, '\n')
			}
			sdls[s.Name] = string(schema)
			continue
		}

		sdl, err := fetchSDL(ctx, s.Host, g.httpClient, g.option.Retry)
		if err != nil {
			return fmt.Errorf("service %q: %w", s.Name, err)
		}
		sdls[s.Name] = sdl
	}

	engine, err := buildEngine(sdls, hosts, g.authz, g.executorOptions()...)
	if err != nil {
		return err
	}

	g.store.Store(&schemaStore{sdls: sdls, hosts: copyMap(hosts), engine: engine})
	g.logger.Info("schema composed",
		zap.Int("subgraphs", engine.registry.Len()),
		zap.Int("types", len(engine.superGraph.Types())),
		zap.Int("directives", len(engine.superGraph.DirectiveDefinitions())),
	)
	if _, ok := engine.superGraph.Directive(g.authz.Directive()); !ok {
		g.logger.Warn("authorization directive is not defined by any subgraph; its arguments get no defaults",
			zap.String("directive", g.authz.Directive()),
		)
	}
	return nil
}

func (g *Gateway) executorOptions() []executor.Option {
	opts := []executor.Option{
		executor.WithTransport(executor.NewHTTPTransport(g.httpClient)),
		executor.WithTimeout(g.option.timeout()),
		executor.WithLogger(g.logger.Named("executor")),
	}
	for _, s := range g.option.Services {
		if d, err := time.ParseDuration(s.Timeout); err == nil {
			opts = append(opts, executor.WithSubGraphTimeout(s.Name, d))
		}
	}
	if g.metrics != nil {
		opts = append(opts, executor.WithObserver(g.metrics))
	}
	return opts
}

// SuperGraph returns the schema currently served.
func (g *Gateway) SuperGraph() *graph.SuperGraph {
	return g.store.Load().engine.superGraph
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName,omitempty"`
}

type errorResponse struct {
	Errors []executor.GraphQLError `json:"errors"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" && g.enableComplementRequestId {
		requestID = uuid.NewString()
	}
	if requestID != "" {
		w.Header().Set(requestIDHeader, requestID)
	}
	logger := g.logger.With(zap.String("request_id", requestID))

	operation, outcome := g.serve(w, r, logger)
	if g.metrics != nil {
		g.metrics.observeRequest(operation, outcome, time.Since(start))
	}
}

// serve handles one request and returns the operation type and outcome for metrics.
func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return "", "bad_request"
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return "", "bad_request"
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "query is required")
		return "", "bad_request"
	}

	ctx := r.Context()
	if g.enableHangOverRequestHeader {
		ctx = executor.WithForwardedHeaders(ctx, r.Header)
	}

	ac, err := g.authz.BuildContext(ctx, r.Header)
	if err != nil {
		logger.Info("authorization context rejected", zap.Error(err))
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, err.Error())
		return "", "unauthenticated"
	}
	ctx = authz.WithContext(ctx, ac)

	doc, parseErrs := parseQuery(req.Query)
	if len(parseErrs) > 0 {
		writeErrors(w, http.StatusOK, CodeParseFailed, parseErrs)
		return "", "parse_error"
	}

	engine := g.store.Load().engine
	plan, err := engine.planner.Plan(doc, req.Variables)
	if err != nil {
		writeError(w, http.StatusOK, planningErrorCode(err), err.Error())
		return "", "planning_error"
	}
	if plan.Operation == graph.OperationSubscription {
		writeError(w, http.StatusOK, CodeBadRequest, "subscriptions are not supported")
		return plan.Operation, "bad_request"
	}

	resp, err := engine.executor.Execute(ctx, plan, ac, req.Variables)
	if err != nil {
		if resp == nil {
			if ctx.Err() != nil {
				logger.Info("request cancelled", zap.Error(err))
				return plan.Operation, "cancelled"
			}
			logger.Error("execution failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, executor.CodeInternalError, err.Error())
			return plan.Operation, "error"
		}
		logger.Warn("partial response", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, resp)
	if len(resp.Errors) > 0 {
		return plan.Operation, "partial"
	}
	return plan.Operation, "success"
}

func parseQuery(query string) (*ast.Document, []string) {
	p := parser.New(lexer.New(query))
	doc := p.ParseDocument()

	var errs []string
	for _, e := range p.Errors() {
		errs = append(errs, fmt.Sprint(e))
	}
	return doc, errs
}

func planningErrorCode(err error) string {
	var perr *planner.PlanningError
	if !errors.As(err, &perr) {
		return CodeBadRequest
	}
	switch perr.Kind {
	case planner.UnknownField:
		return CodeUnknownField
	case planner.UnreachableSubgraph:
		return CodeUnreachableSubgraph
	default:
		return CodeBadRequest
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrors(w, status, code, []string{message})
}

func writeErrors(w http.ResponseWriter, status int, code string, messages []string) {
	resp := errorResponse{Errors: make([]executor.GraphQLError, 0, len(messages))}
	for _, m := range messages {
		resp.Errors = append(resp.Errors, executor.GraphQLError{
			Message:    m,
			Extensions: map[string]any{"code": code},
		})
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
