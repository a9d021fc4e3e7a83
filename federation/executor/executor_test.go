package executor_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/n9te9/go-graphql-auth-gateway/federation/authz"
	"github.com/n9te9/go-graphql-auth-gateway/federation/executor"
	"github.com/n9te9/go-graphql-auth-gateway/federation/graph"
	"github.com/n9te9/go-graphql-auth-gateway/federation/planner"
	"github.com/n9te9/go-graphql-auth-gateway/registry"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
	"go.uber.org/zap/zaptest"
)

const usersSDL = `
enum Role {
	ADMIN
	USER
}

type Query {
	me: User
	user(id: ID!): User
}

type User @key(fields: "id") {
	id: ID!
	name: String!
	email: String @auth(requires: ADMIN)
}
`

const postsSDL = `
type Query {
	posts: [Post!]!
}

type Post @key(fields: "id") {
	id: ID!
	title: String!
	author: User @auth(requires: ADMIN)
}

extend type User @key(fields: "id") {
	id: ID! @external
}
`

// subGraph is a fake subgraph server recording every request it receives.
type subGraph struct {
	*httptest.Server

	mu       sync.Mutex
	requests []executor.Request
}

func newSubGraph(t *testing.T, handler func(r *http.Request, req executor.Request) (int, any)) *subGraph {
	t.Helper()
	sg := &subGraph{}
	sg.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req executor.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode subgraph request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sg.mu.Lock()
		sg.requests = append(sg.requests, req)
		sg.mu.Unlock()

		status, body := handler(r, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(sg.Close)
	return sg
}

func (s *subGraph) Requests() []executor.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]executor.Request(nil), s.requests...)
}

func static(body any) func(*http.Request, executor.Request) (int, any) {
	return func(*http.Request, executor.Request) (int, any) {
		return http.StatusOK, body
	}
}

func compose(t *testing.T, subGraphs map[string]string, hosts map[string]string) *graph.SuperGraph {
	t.Helper()
	var descriptors []registry.Descriptor
	for name, sdl := range subGraphs {
		d, err := registry.NewDescriptor(name, hosts[name], sdl)
		if err != nil {
			t.Fatalf("NewDescriptor(%s) failed: %v", name, err)
		}
		descriptors = append(descriptors, d)
	}
	sg, err := graph.Compose(descriptors)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	return sg
}

func plan(t *testing.T, sg *graph.SuperGraph, query string, variables map[string]any) *planner.Plan {
	t.Helper()
	p := parser.New(lexer.New(query))
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		t.Fatalf("parse error: %v", p.Errors())
	}
	pl, err := planner.NewPlanner(sg).Plan(doc, variables)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	return pl
}

func roleEngine(t *testing.T) *authz.Engine {
	return authz.NewEngine(
		authz.WithPolicy(authz.RolePolicy("requires", "")),
		authz.WithLogger(zaptest.NewLogger(t)),
	)
}

type errorSummary struct {
	Path []any
	Code any
}

func summarize(errs []executor.GraphQLError) []errorSummary {
	var out []errorSummary
	for _, e := range errs {
		out = append(out, errorSummary{Path: e.Path, Code: e.Extensions["code"]})
	}
	return out
}

func TestExecute_FieldAuthorization(t *testing.T) {
	posts := newSubGraph(t, static(map[string]any{
		"data": map[string]any{
			"posts": []any{
				map[string]any{"author": map[string]any{"id": "1"}},
				map[string]any{"author": map[string]any{"id": "2"}},
			},
		},
	}))
	users := newSubGraph(t, static(map[string]any{"data": nil}))

	sg := compose(t,
		map[string]string{"users": usersSDL, "posts": postsSDL},
		map[string]string{"users": users.URL, "posts": posts.URL},
	)

	tests := []struct {
		name       string
		roles      []string
		wantData   map[string]any
		wantErrors []errorSummary
	}{
		{
			name:  "admin sees authors",
			roles: []string{"ADMIN"},
			wantData: map[string]any{
				"posts": []any{
					map[string]any{"author": map[string]any{"id": "1"}},
					map[string]any{"author": map[string]any{"id": "2"}},
				},
			},
		},
		{
			name:  "user gets null authors",
			roles: []string{"USER"},
			wantData: map[string]any{
				"posts": []any{
					map[string]any{"author": nil},
					map[string]any{"author": nil},
				},
			},
			wantErrors: []errorSummary{
				{Path: []any{"posts", 0, "author"}, Code: executor.CodeForbidden},
				{Path: []any{"posts", 1, "author"}, Code: executor.CodeForbidden},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := executor.NewExecutor(sg, roleEngine(t), executor.WithLogger(zaptest.NewLogger(t)))
			p := plan(t, sg, `{ posts { author { id } } }`, nil)

			resp, err := e.Execute(context.Background(), p, authz.NewContext("", tt.roles, nil), nil)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if diff := cmp.Diff(tt.wantData, resp.Data); diff != "" {
				t.Errorf("data mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantErrors, summarize(resp.Errors)); diff != "" {
				t.Errorf("errors mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if n := len(users.Requests()); n != 0 {
		t.Errorf("users must not be queried for key-only selections, got %d requests", n)
	}
}

func TestExecute_CallerFromContext(t *testing.T) {
	posts := newSubGraph(t, static(map[string]any{
		"data": map[string]any{
			"posts": []any{map[string]any{"title": "a", "author": map[string]any{"id": "1"}}},
		},
	}))

	sg := compose(t,
		map[string]string{"users": usersSDL, "posts": postsSDL},
		map[string]string{"users": "http://users.invalid", "posts": posts.URL},
	)
	e := executor.NewExecutor(sg, roleEngine(t))
	p := plan(t, sg, `{ posts { title author { id } } }`, nil)

	tests := []struct {
		name       string
		ctx        context.Context
		wantAuthor any
	}{
		{
			name:       "caller stored in context",
			ctx:        authz.WithContext(context.Background(), authz.NewContext("root", []string{"ADMIN"}, nil)),
			wantAuthor: map[string]any{"id": "1"},
		},
		{name: "no caller is anonymous", ctx: context.Background(), wantAuthor: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.Execute(tt.ctx, p, nil, nil)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			want := map[string]any{"posts": []any{map[string]any{"title": "a", "author": tt.wantAuthor}}}
			if diff := cmp.Diff(want, resp.Data); diff != "" {
				t.Errorf("data mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExecute_EntityMergeAndDedupe(t *testing.T) {
	posts := newSubGraph(t, static(map[string]any{
		"data": map[string]any{
			"posts": []any{
				map[string]any{"title": "a", "author": map[string]any{"__typename": "User", "id": "1"}},
				map[string]any{"title": "b", "author": map[string]any{"__typename": "User", "id": "1"}},
				map[string]any{"title": "c", "author": map[string]any{"__typename": "User", "id": "2"}},
			},
		},
	}))
	users := newSubGraph(t, func(_ *http.Request, req executor.Request) (int, any) {
		reps, _ := req.Variables["representations"].([]any)
		entities := make([]any, len(reps))
		for i, r := range reps {
			id := r.(map[string]any)["id"]
			entities[i] = map[string]any{"name": "user-" + id.(string)}
		}
		return http.StatusOK, map[string]any{"data": map[string]any{"_entities": entities}}
	})

	sg := compose(t,
		map[string]string{"users": usersSDL, "posts": postsSDL},
		map[string]string{"users": users.URL, "posts": posts.URL},
	)
	e := executor.NewExecutor(sg, roleEngine(t))
	p := plan(t, sg, `{ posts { title author { name } } }`, nil)

	resp, err := e.Execute(context.Background(), p, authz.NewContext("", []string{"ADMIN"}, nil), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := map[string]any{
		"posts": []any{
			map[string]any{"title": "a", "author": map[string]any{"name": "user-1"}},
			map[string]any{"title": "b", "author": map[string]any{"name": "user-1"}},
			map[string]any{"title": "c", "author": map[string]any{"name": "user-2"}},
		},
	}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if len(resp.Errors) != 0 {
		t.Errorf("unexpected errors: %+v", resp.Errors)
	}

	reqs := users.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one _entities request, got %d", len(reqs))
	}
	if !strings.Contains(reqs[0].Query, "_entities(representations: $representations)") {
		t.Errorf("unexpected entity query: %s", reqs[0].Query)
	}
	wantReps := []any{
		map[string]any{"__typename": "User", "id": "1"},
		map[string]any{"__typename": "User", "id": "2"},
	}
	if diff := cmp.Diff(wantReps, reqs[0].Variables["representations"]); diff != "" {
		t.Errorf("representations mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_TypeAuthorizationSkipsStep(t *testing.T) {
	protectedUsers := `
type Query {
	me: User
}

type User @key(fields: "id") @auth(requires: USER) {
	id: ID!
	name: String!
}
`
	openPosts := `
type Query {
	posts: [Post!]!
}

type Post @key(fields: "id") {
	id: ID!
	title: String!
	author: User
}

extend type User @key(fields: "id") {
	id: ID! @external
}
`
	posts := newSubGraph(t, static(map[string]any{
		"data": map[string]any{
			"posts": []any{
				map[string]any{"title": "a", "author": map[string]any{"__typename": "User", "id": "1"}},
			},
		},
	}))
	users := newSubGraph(t, static(map[string]any{
		"data": map[string]any{"_entities": []any{map[string]any{"name": "secret"}}},
	}))

	sg := compose(t,
		map[string]string{"users": protectedUsers, "posts": openPosts},
		map[string]string{"users": users.URL, "posts": posts.URL},
	)
	e := executor.NewExecutor(sg, roleEngine(t))
	p := plan(t, sg, `{ posts { title author { name } } }`, nil)

	resp, err := e.Execute(context.Background(), p, authz.Anonymous(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := map[string]any{
		"posts": []any{map[string]any{"title": "a", "author": nil}},
	}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	wantErrors := []errorSummary{{Path: []any{"posts", 0, "author"}, Code: executor.CodeForbidden}}
	if diff := cmp.Diff(wantErrors, summarize(resp.Errors)); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
	if n := len(users.Requests()); n != 0 {
		t.Errorf("denied entity step must not be sent, got %d requests", n)
	}
}

func TestExecute_PartialFailure(t *testing.T) {
	posts := newSubGraph(t, static(map[string]any{
		"data": map[string]any{
			"posts": []any{
				map[string]any{"title": "a", "author": map[string]any{"__typename": "User", "id": "1"}},
			},
		},
	}))
	users := newSubGraph(t, func(*http.Request, executor.Request) (int, any) {
		return http.StatusInternalServerError, map[string]any{}
	})

	sg := compose(t,
		map[string]string{"users": usersSDL, "posts": postsSDL},
		map[string]string{"users": users.URL, "posts": posts.URL},
	)
	e := executor.NewExecutor(sg, roleEngine(t), executor.WithLogger(zaptest.NewLogger(t)))
	p := plan(t, sg, `{ posts { title author { name } } }`, nil)

	resp, err := e.Execute(context.Background(), p, authz.NewContext("", []string{"ADMIN"}, nil), nil)

	var gerr *executor.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *GatewayError, got %v", err)
	}
	if gerr.SubGraph != "users" {
		t.Errorf("failure attributed to %s, want users", gerr.SubGraph)
	}
	if resp == nil {
		t.Fatal("partial response expected")
	}

	want := map[string]any{
		"posts": []any{map[string]any{"title": "a", "author": map[string]any{"name": nil}}},
	}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("expected one error, got %+v", resp.Errors)
	}
	got := resp.Errors[0]
	if diff := cmp.Diff([]any{"posts", 0, "author", "name"}, got.Path); diff != "" {
		t.Errorf("error path mismatch (-want +got):\n%s", diff)
	}
	if got.Extensions["serviceName"] != "users" || got.Extensions["code"] != executor.CodeSubGraphFailed {
		t.Errorf("unexpected extensions: %v", got.Extensions)
	}
}

func TestExecute_FailedStepSkipsDependents(t *testing.T) {
	posts := newSubGraph(t, func(*http.Request, executor.Request) (int, any) {
		return http.StatusBadGateway, map[string]any{}
	})
	users := newSubGraph(t, static(map[string]any{
		"data": map[string]any{"me": map[string]any{"name": "ann"}},
	}))

	sg := compose(t,
		map[string]string{"users": usersSDL, "posts": postsSDL},
		map[string]string{"users": users.URL, "posts": posts.URL},
	)
	e := executor.NewExecutor(sg, roleEngine(t), executor.WithLogger(zaptest.NewLogger(t)))
	p := plan(t, sg, `{ me { name } posts { author { name } } }`, nil)

	postsStep := -1
	for _, step := range p.Steps {
		if step.Kind == planner.StepKindRoot && step.SubGraph.Name == "posts" {
			postsStep = step.ID
		}
	}

	resp, err := e.Execute(context.Background(), p, authz.NewContext("", []string{"ADMIN"}, nil), nil)

	var gerr *executor.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *GatewayError, got %v", err)
	}
	if gerr.StepID != postsStep || gerr.SubGraph != "posts" {
		t.Errorf("failure = step %d on %s, want step %d on posts", gerr.StepID, gerr.SubGraph, postsStep)
	}
	if resp == nil {
		t.Fatal("partial response expected")
	}
	if diff := cmp.Diff(map[string]any{"name": "ann"}, resp.Data["me"]); diff != "" {
		t.Errorf("independent branch mismatch (-want +got):\n%s", diff)
	}

	// Only the root query reaches users; the entity step depending on posts is skipped.
	if n := len(users.Requests()); n != 1 {
		t.Errorf("users received %d requests, want 1", n)
	}
}

func TestExecute_SubGraphErrorsForwarded(t *testing.T) {
	posts := newSubGraph(t, static(map[string]any{
		"data": map[string]any{
			"posts": []any{
				map[string]any{"title": "a", "author": map[string]any{"__typename": "User", "id": "1"}},
				map[string]any{"title": "b", "author": map[string]any{"__typename": "User", "id": "2"}},
			},
		},
	}))
	users := newSubGraph(t, static(map[string]any{
		"data": map[string]any{"_entities": []any{map[string]any{"name": "ann"}, nil}},
		"errors": []any{
			map[string]any{"message": "user 2 not found", "path": []any{"_entities", 1, "name"}},
		},
	}))

	sg := compose(t,
		map[string]string{"users": usersSDL, "posts": postsSDL},
		map[string]string{"users": users.URL, "posts": posts.URL},
	)
	e := executor.NewExecutor(sg, roleEngine(t))
	p := plan(t, sg, `{ posts { title author { name } } }`, nil)

	resp, err := e.Execute(context.Background(), p, authz.NewContext("", []string{"ADMIN"}, nil), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	want := []executor.GraphQLError{{
		Message:    "user 2 not found",
		Path:       []any{"posts", 1, "author", "name"},
		Extensions: map[string]any{"serviceName": "users"},
	}}
	if diff := cmp.Diff(want, resp.Errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_Cancellation(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	users := newSubGraph(t, static(map[string]any{
		"data": map[string]any{"me": map[string]any{"name": "ann"}},
	}))
	posts := newSubGraph(t, func(r *http.Request, _ executor.Request) (int, any) {
		close(arrived)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		return http.StatusOK, map[string]any{"data": map[string]any{"posts": []any{map[string]any{"title": "late"}}}}
	})

	sg := compose(t,
		map[string]string{"users": usersSDL, "posts": postsSDL},
		map[string]string{"users": users.URL, "posts": posts.URL},
	)

	var mu sync.Mutex
	var evaluated []string
	engine := authz.NewEngine(authz.WithPolicy(func(_ context.Context, b *graph.DirectiveBinding, _ any, _ map[string]any, _ *authz.Context) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		evaluated = append(evaluated, b.Target.String())
		return true, nil
	}))

	e := executor.NewExecutor(sg, engine)
	p := plan(t, sg, `{ me { name } posts { title } }`, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-arrived
		for len(users.Requests()) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	resp, err := e.Execute(ctx, p, authz.Anonymous(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	var gerr *executor.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *GatewayError, got %T", err)
	}
	if resp != nil {
		t.Errorf("cancelled execution must not return a response, got %+v", resp)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(evaluated) != 0 {
		t.Errorf("no policy may run for a cancelled execution, got %v", evaluated)
	}
}

func TestExecute_TypenameAndAliases(t *testing.T) {
	posts := newSubGraph(t, static(map[string]any{
		"data": map[string]any{
			"feed": []any{map[string]any{"t": "a", "__typename": "Post"}},
		},
	}))

	sg := compose(t,
		map[string]string{"users": usersSDL, "posts": postsSDL},
		map[string]string{"users": "http://users.invalid", "posts": posts.URL},
	)
	e := executor.NewExecutor(sg, roleEngine(t))
	p := plan(t, sg, `{ __typename feed: posts { t: title __typename } }`, nil)

	resp, err := e.Execute(context.Background(), p, authz.Anonymous(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want := map[string]any{
		"__typename": "Query",
		"feed":       []any{map[string]any{"t": "a", "__typename": "Post"}},
	}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_RepeatedResponseKeys(t *testing.T) {
	users := newSubGraph(t, static(map[string]any{
		"data": map[string]any{"me": map[string]any{"id": "1", "name": "ann"}},
	}))

	sg := compose(t,
		map[string]string{"users": usersSDL, "posts": postsSDL},
		map[string]string{"users": users.URL, "posts": "http://posts.invalid"},
	)
	e := executor.NewExecutor(sg, roleEngine(t))
	p := plan(t, sg, `{ me { id } me { name } }`, nil)

	resp, err := e.Execute(context.Background(), p, authz.Anonymous(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want := map[string]any{"me": map[string]any{"id": "1", "name": "ann"}}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}

	reqs := users.Requests()
	if len(reqs) != 1 {
		t.Fatalf("users received %d requests, want 1", len(reqs))
	}
	if n := strings.Count(reqs[0].Query, "me {"); n != 1 {
		t.Errorf("me selected %d times in %q, want once", n, reqs[0].Query)
	}
}

func TestExecute_DirectiveDefaultArguments(t *testing.T) {
	const accountsSDL = `
directive @auth(requires: Role = ADMIN) on OBJECT | FIELD_DEFINITION

enum Role {
	ADMIN
	USER
}

type Query {
	account: Account
}

type Account {
	owner: String
	secret: String @auth
}
`
	accounts := newSubGraph(t, static(map[string]any{
		"data": map[string]any{"account": map[string]any{"owner": "ann", "secret": "s3"}},
	}))
	sg := compose(t, map[string]string{"accounts": accountsSDL}, map[string]string{"accounts": accounts.URL})
	e := executor.NewExecutor(sg, roleEngine(t))
	p := plan(t, sg, `{ account { owner secret } }`, nil)

	tests := []struct {
		name       string
		roles      []string
		wantSecret any
		wantErrors []errorSummary
	}{
		{name: "default role allows", roles: []string{"ADMIN"}, wantSecret: "s3"},
		{
			name:       "other roles are denied",
			roles:      []string{"USER"},
			wantSecret: nil,
			wantErrors: []errorSummary{{Path: []any{"account", "secret"}, Code: executor.CodeForbidden}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.Execute(context.Background(), p, authz.NewContext("", tt.roles, nil), nil)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			want := map[string]any{"account": map[string]any{"owner": "ann", "secret": tt.wantSecret}}
			if diff := cmp.Diff(want, resp.Data); diff != "" {
				t.Errorf("data mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantErrors, summarize(resp.Errors)); diff != "" {
				t.Errorf("errors mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExecute_SubGraphTimeout(t *testing.T) {
	users := newSubGraph(t, func(r *http.Request, _ executor.Request) (int, any) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
		return http.StatusOK, map[string]any{"data": map[string]any{"me": map[string]any{"name": "late"}}}
	})
	posts := newSubGraph(t, static(map[string]any{
		"data": map[string]any{"posts": []any{map[string]any{"title": "a"}}},
	}))

	sg := compose(t,
		map[string]string{"users": usersSDL, "posts": postsSDL},
		map[string]string{"users": users.URL, "posts": posts.URL},
	)
	e := executor.NewExecutor(sg, roleEngine(t), executor.WithSubGraphTimeout("users", 20*time.Millisecond))
	p := plan(t, sg, `{ me { name } posts { title } }`, nil)

	resp, err := e.Execute(context.Background(), p, authz.Anonymous(), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	want := map[string]any{
		"me":    nil,
		"posts": []any{map[string]any{"title": "a"}},
	}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_InvalidPlan(t *testing.T) {
	sg := compose(t,
		map[string]string{"users": usersSDL},
		map[string]string{"users": "http://users.invalid"},
	)
	e := executor.NewExecutor(sg, nil)

	tests := []struct {
		name string
		plan *planner.Plan
	}{
		{name: "nil plan"},
		{
			name: "cycle",
			plan: &planner.Plan{Steps: []*planner.Step{
				{ID: 0, DependsOn: []int{1}},
				{ID: 1, DependsOn: []int{0}},
			}},
		},
		{
			name: "unknown dependency",
			plan: &planner.Plan{Steps: []*planner.Step{{ID: 0, DependsOn: []int{7}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Execute(context.Background(), tt.plan, nil, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	sg := compose(t,
		map[string]string{"users": usersSDL, "posts": postsSDL},
		map[string]string{"users": "http://users.invalid", "posts": "http://posts.invalid"},
	)

	t.Run("root query declares variables", func(t *testing.T) {
		p := plan(t, sg, `query ($id: ID!) { user(id: $id) { name } }`, map[string]any{"id": "1"})
		req, err := executor.BuildQuery(p.Steps[0], p.Operation, nil, map[string]any{"id": "1", "unused": true})
		if err != nil {
			t.Fatal(err)
		}
		want := "query ($id: ID!) {\n\tuser(id: $id) {\n\t\tname\n\t}\n}"
		if diff := cmp.Diff(want, req.Query); diff != "" {
			t.Errorf("query mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(map[string]any{"id": "1"}, req.Variables); diff != "" {
			t.Errorf("variables mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("inline string arguments use graphql escapes", func(t *testing.T) {
		p := plan(t, sg, `{ user(id: "a\u0000\"b") { name } }`, nil)
		req, err := executor.BuildQuery(p.Steps[0], p.Operation, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		want := "query {\n\tuser(id: \"a\\u0000\\\"b\") {\n\t\tname\n\t}\n}"
		if diff := cmp.Diff(want, req.Query); diff != "" {
			t.Errorf("query mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("entity query", func(t *testing.T) {
		p := plan(t, sg, `{ posts { author { name } } }`, nil)
		reps := []map[string]any{{"__typename": "User", "id": "1"}}
		req, err := executor.BuildQuery(p.Steps[1], p.Operation, reps, nil)
		if err != nil {
			t.Fatal(err)
		}
		want := "query ($representations: [_Any!]!) {\n\t_entities(representations: $representations) {\n\t\t... on User {\n\t\t\tname\n\t\t}\n\t}\n}"
		if diff := cmp.Diff(want, req.Query); diff != "" {
			t.Errorf("query mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("entity query requires representations", func(t *testing.T) {
		p := plan(t, sg, `{ posts { author { name } } }`, nil)
		if _, err := executor.BuildQuery(p.Steps[1], p.Operation, nil, nil); err == nil {
			t.Error("expected error")
		}
	})
}
