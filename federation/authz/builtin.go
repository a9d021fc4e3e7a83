package authz

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/n9te9/go-graphql-auth-gateway/federation/graph"
)

// HeaderRoles builds the caller identity from a header listing roles, e.g.
// "x-user: ADMIN,USER". The raw header value becomes the subject.
func HeaderRoles(header, sep string) ContextFunc {
	return func(_ context.Context, h http.Header) (*Context, error) {
		raw := h.Get(header)
		if raw == "" {
			return Anonymous(), nil
		}

		var roles []string
		for _, r := range strings.Split(raw, sep) {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		return NewContext(raw, roles, map[string]any{header: raw}), nil
	}
}

// RolePolicy allows when the caller has the role named by the directive
// argument. A list argument allows any of its roles. defaultRole applies when
// the argument is omitted, mirroring `requires: Role = ADMIN`.
func RolePolicy(argument, defaultRole string) Policy {
	return func(_ context.Context, binding *graph.DirectiveBinding, _ any, _ map[string]any, ac *Context) (bool, error) {
		v, ok := binding.Argument(argument)
		if !ok {
			if defaultRole == "" {
				return false, fmt.Errorf("%s has no %q argument", binding.String(), argument)
			}
			return ac.HasRole(defaultRole), nil
		}

		roles, err := roleNames(v)
		if err != nil {
			return false, fmt.Errorf("%s: %w", binding.String(), err)
		}
		for _, role := range roles {
			if ac.HasRole(role) {
				return true, nil
			}
		}
		return false, nil
	}
}

func roleNames(v graph.Value) ([]string, error) {
	switch val := v.(type) {
	case graph.EnumValue:
		return []string{val.Name}, nil
	case graph.StringValue:
		return []string{val.Text}, nil
	case graph.ListValue:
		var roles []string
		for _, item := range val.Items {
			names, err := roleNames(item)
			if err != nil {
				return nil, err
			}
			roles = append(roles, names...)
		}
		return roles, nil
	default:
		return nil, fmt.Errorf("unsupported role value kind %s", v.Kind())
	}
}
