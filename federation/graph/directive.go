package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/n9te9/graphql-parser/ast"
)

// ValueKind tags the concrete variant of a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindEnum
	KindInt
	KindFloat
	KindBoolean
	KindNull
	KindList
	KindObject
	KindVariable
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindEnum:
		return "Enum"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindBoolean:
		return "Boolean"
	case KindNull:
		return "Null"
	case KindList:
		return "List"
	case KindObject:
		return "Object"
	case KindVariable:
		return "Variable"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Value is a decoded GraphQL input value. Directive arguments are decoded once
// when the schema is composed so policies never touch the AST.
type Value interface {
	Kind() ValueKind
	// String renders the value in GraphQL syntax.
	String() string
	// GoValue converts the value to plain Go data, resolving variables from vars.
	GoValue(vars map[string]any) any
}

type StringValue struct{ Text string }

type EnumValue struct{ Name string }

type IntValue struct{ Int int64 }

type FloatValue struct{ Float float64 }

type BooleanValue struct{ Bool bool }

type NullValue struct{}

type ListValue struct{ Items []Value }

type ObjectField struct {
	Name  string
	Value Value
}

type ObjectValue struct{ Fields []ObjectField }

type VariableValue struct{ Name string }

func (StringValue) Kind() ValueKind   { return KindString }
func (EnumValue) Kind() ValueKind     { return KindEnum }
func (IntValue) Kind() ValueKind      { return KindInt }
func (FloatValue) Kind() ValueKind    { return KindFloat }
func (BooleanValue) Kind() ValueKind  { return KindBoolean }
func (NullValue) Kind() ValueKind     { return KindNull }
func (ListValue) Kind() ValueKind     { return KindList }
func (ObjectValue) Kind() ValueKind   { return KindObject }
func (VariableValue) Kind() ValueKind { return KindVariable }

func (v EnumValue) String() string     { return v.Name }
func (v IntValue) String() string      { return strconv.FormatInt(v.Int, 10) }
func (v FloatValue) String() string    { return strconv.FormatFloat(v.Float, 'g', -1, 64) }
func (v BooleanValue) String() string  { return strconv.FormatBool(v.Bool) }
func (NullValue) String() string       { return "null" }
func (v VariableValue) String() string { return "$" + v.Name }

// String renders the value as a GraphQL string literal. JSON string escapes
// are a subset of GraphQL's.
func (v StringValue) String() string {
	b, err := json.MarshalNoEscape(v.Text)
	if err != nil {
		return `""`
	}
	return string(b)
}

func (v ListValue) String() string {
	items := make([]string, len(v.Items))
	for i, item := range v.Items {
		items[i] = item.String()
	}
	return "[" + strings.Join(items, ", ") + "]"
}

func (v ObjectValue) String() string {
	fields := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		fields[i] = f.Name + ": " + f.Value.String()
	}
	return "{" + strings.Join(fields, ", ") + "}"
}

func (v StringValue) GoValue(map[string]any) any  { return v.Text }
func (v EnumValue) GoValue(map[string]any) any    { return v.Name }
func (v IntValue) GoValue(map[string]any) any     { return v.Int }
func (v FloatValue) GoValue(map[string]any) any   { return v.Float }
func (v BooleanValue) GoValue(map[string]any) any { return v.Bool }
func (NullValue) GoValue(map[string]any) any      { return nil }

func (v ListValue) GoValue(vars map[string]any) any {
	out := make([]any, len(v.Items))
	for i, item := range v.Items {
		out[i] = item.GoValue(vars)
	}
	return out
}

func (v ObjectValue) GoValue(vars map[string]any) any {
	out := make(map[string]any, len(v.Fields))
	for _, f := range v.Fields {
		out[f.Name] = f.Value.GoValue(vars)
	}
	return out
}

func (v VariableValue) GoValue(vars map[string]any) any {
	return vars[v.Name]
}

// DecodeValue converts a parser value node into a Value.
func DecodeValue(val ast.Value) Value {
	switch v := val.(type) {
	case *ast.StringValue:
		return StringValue{Text: unescape(v.Value)}
	case *ast.EnumValue:
		return EnumValue{Name: v.Value}
	case *ast.IntValue:
		n, err := strconv.ParseInt(fmt.Sprint(v.Value), 10, 64)
		if err != nil {
			return EnumValue{Name: fmt.Sprint(v.Value)}
		}
		return IntValue{Int: n}
	case *ast.FloatValue:
		f, err := strconv.ParseFloat(fmt.Sprint(v.Value), 64)
		if err != nil {
			return EnumValue{Name: fmt.Sprint(v.Value)}
		}
		return FloatValue{Float: f}
	case *ast.BooleanValue:
		return BooleanValue{Bool: v.Value}
	case *ast.Variable:
		return VariableValue{Name: v.Name}
	case *ast.ListValue:
		items := make([]Value, len(v.Values))
		for i, item := range v.Values {
			items[i] = DecodeValue(item)
		}
		return ListValue{Items: items}
	case *ast.ObjectValue:
		fields := make([]ObjectField, len(v.Fields))
		for i, f := range v.Fields {
			fields[i] = ObjectField{Name: f.Name.String(), Value: DecodeValue(f.Value)}
		}
		return ObjectValue{Fields: fields}
	case nil:
		return NullValue{}
	}

	raw := val.String()
	switch {
	case raw == "null":
		return NullValue{}
	case strings.HasPrefix(raw, "\""):
		return StringValue{Text: strings.Trim(raw, "\"")}
	default:
		return EnumValue{Name: raw}
	}
}

// DirectiveTarget identifies where a directive is attached. FieldName is empty
// for type-level (OBJECT) directives.
type DirectiveTarget struct {
	TypeName  string
	FieldName string
}

func (t DirectiveTarget) IsType() bool { return t.FieldName == "" }

func (t DirectiveTarget) String() string {
	if t.IsType() {
		return t.TypeName
	}
	return t.TypeName + "." + t.FieldName
}

type Argument struct {
	Name  string
	Value Value
}

// DirectiveBinding is a directive applied to a composite type or field.
// It is read-only once the SuperGraph has been built.
type DirectiveBinding struct {
	Name      string
	Target    DirectiveTarget
	Arguments []Argument
}

// Argument returns the value of the named argument.
func (b *DirectiveBinding) Argument(name string) (Value, bool) {
	for _, arg := range b.Arguments {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

func (b *DirectiveBinding) String() string {
	var sb strings.Builder
	sb.WriteString("@")
	sb.WriteString(b.Name)
	if len(b.Arguments) > 0 {
		sb.WriteString("(")
		for i, arg := range b.Arguments {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(arg.Name)
			sb.WriteString(": ")
			sb.WriteString(arg.Value.String())
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// federationDirectives are consumed by composition and not carried as bindings.
var federationDirectives = map[string]bool{
	"key":       true,
	"extends":   true,
	"external":  true,
	"requires":  true,
	"provides":  true,
	"shareable": true,
}

// decodeDirectives converts AST directives on target into bindings, skipping
// federation composition markers.
func decodeDirectives(directives []*ast.Directive, target DirectiveTarget) []DirectiveBinding {
	var bindings []DirectiveBinding
	for _, d := range directives {
		if federationDirectives[d.Name] {
			continue
		}
		b := DirectiveBinding{
			Name:   d.Name,
			Target: target,
		}
		for _, arg := range d.Arguments {
			b.Arguments = append(b.Arguments, Argument{
				Name:  arg.Name.String(),
				Value: DecodeValue(arg.Value),
			})
		}
		bindings = append(bindings, b)
	}
	return bindings
}

// DirectiveDefinition is a declared directive with the default values of its
// arguments.
type DirectiveDefinition struct {
	Name     string
	Defaults []Argument
}

func newDirectiveDefinition(def *ast.DirectiveDefinition) DirectiveDefinition {
	d := DirectiveDefinition{Name: def.Name.String()}
	for _, arg := range def.Arguments {
		if arg.DefaultValue == nil {
			continue
		}
		d.Defaults = append(d.Defaults, Argument{Name: arg.Name.String(), Value: DecodeValue(arg.DefaultValue)})
	}
	return d
}

// withDefaults returns b with every defaulted argument it omits filled in.
func (d DirectiveDefinition) withDefaults(b DirectiveBinding) DirectiveBinding {
	for _, def := range d.Defaults {
		if _, ok := b.Argument(def.Name); ok {
			continue
		}
		args := make([]Argument, len(b.Arguments), len(b.Arguments)+1)
		copy(args, b.Arguments)
		b.Arguments = append(args, def)
	}
	return b
}

// appendUniqueBindings appends the bindings of src not already present in dst.
func appendUniqueBindings(dst []DirectiveBinding, src []DirectiveBinding) []DirectiveBinding {
	for _, b := range src {
		dup := false
		for _, existing := range dst {
			if existing.String() == b.String() {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, b)
		}
	}
	return dst
}

// unescape resolves the escape sequences the lexer leaves in string literals.
func unescape(raw string) string {
	if !strings.ContainsRune(raw, '\\') {
		return raw
	}
	var text string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &text); err != nil {
		return raw
	}
	return text
}
