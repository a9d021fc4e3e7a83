package graph

import (
	"fmt"
	"strings"

	"github.com/n9te9/go-graphql-auth-gateway/registry"
	"github.com/n9te9/goliteql/schema"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/token"
)

// EntityKey represents one @key declaration, e.g. @key(fields: "number departureDate").
type EntityKey struct {
	Fields []string
}

func (k EntityKey) FieldSet() string { return strings.Join(k.Fields, " ") }

// FieldDecl is a field as declared by a single subgraph.
type FieldDecl struct {
	Name       string
	TypeRef    string            // printed type, e.g. "[Post!]!"
	NamedType  string            // innermost named type, e.g. "Post"
	Arguments  map[string]string // argument name -> printed type
	External   bool
	directives []*ast.Directive
}

// ObjectDecl is an object type as declared by a single subgraph.
type ObjectDecl struct {
	Name       string
	Extension  bool // `extend type` or `@extends`
	Keys       []EntityKey
	Fields     []*FieldDecl
	directives []*ast.Directive
}

// Field returns the declaration of the named field.
func (o *ObjectDecl) Field(name string) (*FieldDecl, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// IsKeyField reports whether name is part of any key of the declaration.
func (o *ObjectDecl) IsKeyField(name string) bool {
	for _, k := range o.Keys {
		for _, f := range k.Fields {
			if f == name {
				return true
			}
		}
	}
	return false
}

// SubGraph is the parsed view of one registered subgraph.
type SubGraph struct {
	Name   string
	Host   string
	Schema *ast.Document

	objects    map[string]*ObjectDecl
	order      []string
	rootTypes  map[string]string   // operation -> type name declared in a schema block
	enums      map[string][]string // enum name -> values in declaration order
	directives []DirectiveDefinition
}

// NewSubGraph extracts object declarations, entity keys and federation markers
// from the descriptor's schema.
func NewSubGraph(d registry.Descriptor) *SubGraph {
	sg := &SubGraph{
		Name:      d.Name(),
		Host:      d.Host(),
		Schema:    d.Schema(),
		objects:   make(map[string]*ObjectDecl),
		rootTypes: make(map[string]string),
		enums:     collectEnums(d.SDL()),
	}

	for _, def := range sg.Schema.Definitions {
		switch t := def.(type) {
		case *ast.ObjectTypeDefinition:
			sg.addObject(t.Name.String(), hasDirective(t.Directives, "extends"), t.Fields, t.Directives)
		case *ast.ObjectTypeExtension:
			sg.addObject(t.Name.String(), true, t.Fields, t.Directives)
		case *ast.DirectiveDefinition:
			sg.directives = append(sg.directives, newDirectiveDefinition(t))
		case *ast.SchemaDefinition:
			for _, ot := range t.OperationTypes {
				switch ot.Operation {
				case token.QUERY:
					sg.rootTypes[OperationQuery] = ot.Type.Name.String()
				case token.MUTATION:
					sg.rootTypes[OperationMutation] = ot.Type.Name.String()
				case token.SUBSCRIPTION:
					sg.rootTypes[OperationSubscription] = ot.Type.Name.String()
				}
			}
		}
	}

	return sg
}

func (sg *SubGraph) addObject(name string, extension bool, fields []*ast.FieldDefinition, directives []*ast.Directive) {
	obj, exists := sg.objects[name]
	if !exists {
		obj = &ObjectDecl{Name: name, Extension: extension}
		sg.objects[name] = obj
		sg.order = append(sg.order, name)
	} else if !extension {
		// `type X` and `extend type X` in the same subgraph: the definition wins.
		obj.Extension = false
	}

	obj.Keys = append(obj.Keys, parseEntityKeys(directives)...)
	obj.directives = append(obj.directives, directives...)

	for _, field := range fields {
		if _, dup := obj.Field(field.Name.String()); dup {
			continue
		}
		obj.Fields = append(obj.Fields, parseField(field))
	}
}

// Object returns the declaration of typeName in this subgraph.
func (sg *SubGraph) Object(typeName string) (*ObjectDecl, bool) {
	obj, ok := sg.objects[typeName]
	return obj, ok
}

// Objects returns every object declaration in document order.
func (sg *SubGraph) Objects() []*ObjectDecl {
	out := make([]*ObjectDecl, 0, len(sg.order))
	for _, name := range sg.order {
		out = append(out, sg.objects[name])
	}
	return out
}

// IsEntity reports whether the subgraph declares typeName with a @key, which
// means it can resolve representations of it through _entities.
func (sg *SubGraph) IsEntity(typeName string) bool {
	obj, ok := sg.objects[typeName]
	return ok && len(obj.Keys) > 0
}

// ArgumentType returns the printed type of an argument of typeName.fieldName.
func (sg *SubGraph) ArgumentType(typeName, fieldName, argName string) string {
	obj, ok := sg.objects[typeName]
	if !ok {
		return ""
	}
	f, ok := obj.Field(fieldName)
	if !ok {
		return ""
	}
	return f.Arguments[argName]
}

// Enums returns the enum values the subgraph declares, keyed by enum name.
func (sg *SubGraph) Enums() map[string][]string {
	return sg.enums
}

// DirectiveDefinitions returns the directives the subgraph defines.
func (sg *SubGraph) DirectiveDefinitions() []DirectiveDefinition {
	return sg.directives
}

// collectEnums reads enum declarations with the lightweight goliteql schema
// parser. SDL it cannot read contributes no enums; the document was already
// validated by graphql-parser when the descriptor was built.
func collectEnums(sdl string) map[string][]string {
	enums := make(map[string][]string)
	s, err := schema.NewParser(schema.NewLexer()).Parse([]byte(sdl))
	if err != nil {
		return enums
	}

	for _, e := range s.Enums {
		name := fmt.Sprintf("%s", e.Name)
		for _, v := range e.Values {
			enums[name] = append(enums[name], fmt.Sprintf("%s", v.Name))
		}
	}
	return enums
}

// parseEntityKeys parses EntityKey list from @key directives.
func parseEntityKeys(directives []*ast.Directive) []EntityKey {
	var keys []EntityKey
	for _, d := range directives {
		if d.Name != "key" {
			continue
		}
		for _, arg := range d.Arguments {
			if arg.Name.String() == "fields" {
				fieldSet := strings.Trim(arg.Value.String(), "\"")
				keys = append(keys, EntityKey{Fields: strings.Fields(fieldSet)})
			}
		}
	}
	return keys
}

func parseField(field *ast.FieldDefinition) *FieldDecl {
	f := &FieldDecl{
		Name:       field.Name.String(),
		TypeRef:    field.Type.String(),
		NamedType:  namedType(field.Type),
		Arguments:  make(map[string]string),
		External:   hasDirective(field.Directives, "external"),
		directives: field.Directives,
	}
	for _, arg := range field.Arguments {
		f.Arguments[arg.Name.String()] = arg.Type.String()
	}
	return f
}

// namedType returns the named type from a Type.
func namedType(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return namedType(typ.Type)
	case *ast.NonNullType:
		return namedType(typ.Type)
	default:
		return ""
	}
}

// hasDirective checks if a directive with the specified name exists.
func hasDirective(directives []*ast.Directive, name string) bool {
	for _, d := range directives {
		if d.Name == name {
			return true
		}
	}
	return false
}
