package registry

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// Descriptor describes one subgraph: its name, the endpoint the gateway sends
// sub-operations to, its raw SDL and the entity keys it declares.
// A Descriptor is immutable once constructed.
type Descriptor struct {
	name       string
	host       string
	sdl        string
	schema     *ast.Document
	entityKeys map[string][]string // typename -> key field sets
}

// NewDescriptor parses sdl and extracts the @key declarations of every object type.
func NewDescriptor(name, host, sdl string) (Descriptor, error) {
	if name == "" {
		return Descriptor{}, fmt.Errorf("subgraph name must not be empty")
	}

	l := lexer.New(sdl)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return Descriptor{}, fmt.Errorf("failed to parse schema of subgraph %q: %v", name, p.Errors())
	}

	keys := make(map[string][]string)
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.ObjectTypeDefinition:
			if fs := keyFieldSets(d.Directives); len(fs) > 0 {
				keys[d.Name.String()] = append(keys[d.Name.String()], fs...)
			}
		case *ast.ObjectTypeExtension:
			if fs := keyFieldSets(d.Directives); len(fs) > 0 {
				keys[d.Name.String()] = append(keys[d.Name.String()], fs...)
			}
		}
	}

	return Descriptor{
		name:       name,
		host:       host,
		sdl:        sdl,
		schema:     doc,
		entityKeys: keys,
	}, nil
}

// keyFieldSets returns the normalized fields argument of every @key directive.
func keyFieldSets(directives []*ast.Directive) []string {
	var sets []string
	for _, d := range directives {
		if d.Name != "key" {
			continue
		}
		for _, arg := range d.Arguments {
			if arg.Name.String() == "fields" {
				fields := strings.Fields(strings.Trim(arg.Value.String(), "\""))
				sets = append(sets, strings.Join(fields, " "))
			}
		}
	}
	return sets
}

func (d Descriptor) Name() string { return d.name }

// Host is the GraphQL endpoint of the subgraph, e.g. http://localhost:4001/graphql.
func (d Descriptor) Host() string { return d.host }

func (d Descriptor) SDL() string { return d.sdl }

// Schema returns the parsed SDL. Callers must not mutate it.
func (d Descriptor) Schema() *ast.Document { return d.schema }

// EntityKeys returns the key field sets declared for typeName, e.g. ["id"] or
// ["number departureDate"].
func (d Descriptor) EntityKeys(typeName string) []string {
	return append([]string(nil), d.entityKeys[typeName]...)
}

// Entities returns the names of every type this subgraph declares a @key for.
func (d Descriptor) Entities() []string {
	names := make([]string, 0, len(d.entityKeys))
	for name := range d.entityKeys {
		names = append(names, name)
	}
	return names
}
