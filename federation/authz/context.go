package authz

import "context"

// Context is the caller identity of one request. It is built once per request
// and never modified afterwards.
type Context struct {
	subject string
	roles   []string
	claims  map[string]any
}

// NewContext copies roles and claims into a new Context.
func NewContext(subject string, roles []string, claims map[string]any) *Context {
	c := &Context{
		subject: subject,
		roles:   append([]string(nil), roles...),
		claims:  make(map[string]any, len(claims)),
	}
	for k, v := range claims {
		c.claims[k] = v
	}
	return c
}

// Anonymous returns a Context without subject, roles or claims.
func Anonymous() *Context {
	return NewContext("", nil, nil)
}

func (c *Context) Subject() string { return c.subject }

// Roles returns a copy of the caller's roles.
func (c *Context) Roles() []string {
	return append([]string(nil), c.roles...)
}

func (c *Context) HasRole(role string) bool {
	for _, r := range c.roles {
		if r == role {
			return true
		}
	}
	return false
}

func (c *Context) Claim(name string) (any, bool) {
	v, ok := c.claims[name]
	return v, ok
}

type contextKey struct{}

// WithContext stores ac in ctx.
func WithContext(ctx context.Context, ac *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext returns the Context stored by WithContext, or an anonymous one.
func FromContext(ctx context.Context) *Context {
	if ac, ok := ctx.Value(contextKey{}).(*Context); ok && ac != nil {
		return ac
	}
	return Anonymous()
}
