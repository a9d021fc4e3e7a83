package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/n9te9/go-graphql-auth-gateway/registry"
)

const (
	OperationQuery        = "query"
	OperationMutation     = "mutation"
	OperationSubscription = "subscription"
)

var defaultRootTypes = map[string]string{
	OperationQuery:        "Query",
	OperationMutation:     "Mutation",
	OperationSubscription: "Subscription",
}

// Field is a field of the composite schema.
type Field struct {
	Name       string
	TypeRef    string
	NamedType  string
	Owner      string // subgraph that resolves the field
	Directives []DirectiveBinding

	declaredBy []string
}

// CompositeType is an object type merged across every subgraph declaring it.
type CompositeType struct {
	Name       string
	Root       bool
	Owner      string   // canonical owner; empty for root operation types
	Extenders  []string // subgraphs extending the type, sorted
	Keys       []EntityKey
	Fields     []*Field
	Directives []DirectiveBinding

	fieldIndex map[string]int
}

// Field returns the named field.
func (t *CompositeType) Field(name string) (*Field, bool) {
	i, ok := t.fieldIndex[name]
	if !ok {
		return nil, false
	}
	return t.Fields[i], true
}

func (t *CompositeType) IsEntity() bool { return len(t.Keys) > 0 }

func (t *CompositeType) addField(f *Field) {
	t.fieldIndex[f.Name] = len(t.Fields)
	t.Fields = append(t.Fields, f)
}

// SuperGraph is the composed, read-only schema. It is safe for concurrent use.
type SuperGraph struct {
	SubGraphs []*SubGraph // sorted by name

	subGraphIndex map[string]*SubGraph
	types         map[string]*CompositeType
	typeOrder     []string
	rootTypes     map[string]string
	enums         map[string][]string
	directives    []DirectiveDefinition
}

// Compose parses every descriptor and merges them into a SuperGraph.
// The result does not depend on the order of descriptors.
func Compose(descriptors []registry.Descriptor) (*SuperGraph, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("no subgraphs to compose")
	}

	sorted := make([]registry.Descriptor, len(descriptors))
	copy(sorted, descriptors)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	sg := &SuperGraph{
		subGraphIndex: make(map[string]*SubGraph),
		types:         make(map[string]*CompositeType),
		rootTypes:     make(map[string]string),
		enums:         make(map[string][]string),
	}
	for op, name := range defaultRootTypes {
		sg.rootTypes[op] = name
	}

	for _, d := range sorted {
		if _, dup := sg.subGraphIndex[d.Name()]; dup {
			return nil, &registry.DuplicateSubgraphError{Name: d.Name()}
		}
		sub := NewSubGraph(d)
		sg.SubGraphs = append(sg.SubGraphs, sub)
		sg.subGraphIndex[sub.Name] = sub
		for op, name := range sub.rootTypes {
			sg.rootTypes[op] = name
		}
		sg.mergeEnums(sub)
		for _, def := range sub.DirectiveDefinitions() {
			if _, ok := sg.Directive(def.Name); !ok {
				sg.directives = append(sg.directives, def)
			}
		}
	}

	if err := sg.composeTypes(); err != nil {
		return nil, err
	}
	sg.applyDirectiveDefaults()

	return sg, nil
}

// applyDirectiveDefaults completes every binding with the default argument
// values of its directive definition, so `@auth` reads like
// `@auth(requires: ADMIN)` when the definition says `requires: Role = ADMIN`.
func (sg *SuperGraph) applyDirectiveDefaults() {
	if len(sg.directives) == 0 {
		return
	}
	complete := func(bindings []DirectiveBinding) []DirectiveBinding {
		if len(bindings) == 0 {
			return bindings
		}
		out := make([]DirectiveBinding, 0, len(bindings))
		for _, b := range bindings {
			if def, ok := sg.Directive(b.Name); ok {
				b = def.withDefaults(b)
			}
			out = appendUniqueBindings(out, []DirectiveBinding{b})
		}
		return out
	}

	for _, name := range sg.typeOrder {
		t := sg.types[name]
		t.Directives = complete(t.Directives)
		for _, f := range t.Fields {
			f.Directives = complete(f.Directives)
		}
	}
}

// mergeEnums unions the values of enums declared by several subgraphs.
func (sg *SuperGraph) mergeEnums(sub *SubGraph) {
	for name, values := range sub.Enums() {
		for _, v := range values {
			if !containsString(sg.enums[name], v) {
				sg.enums[name] = append(sg.enums[name], v)
			}
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type declRef struct {
	subGraph *SubGraph
	decl     *ObjectDecl
}

func (sg *SuperGraph) composeTypes() error {
	decls := make(map[string][]declRef)
	var names []string
	for _, sub := range sg.SubGraphs {
		for _, obj := range sub.Objects() {
			if _, seen := decls[obj.Name]; !seen {
				names = append(names, obj.Name)
			}
			decls[obj.Name] = append(decls[obj.Name], declRef{subGraph: sub, decl: obj})
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var (
			ct  *CompositeType
			err error
		)
		if sg.IsRootType(name) {
			ct, err = composeRootType(name, decls[name])
		} else {
			ct, err = composeObjectType(name, decls[name])
		}
		if err != nil {
			return err
		}
		sg.types[name] = ct
		sg.typeOrder = append(sg.typeOrder, name)
	}

	return nil
}

// composeRootType merges root operation types. Every subgraph may contribute
// fields, but a field has exactly one owner.
func composeRootType(name string, refs []declRef) (*CompositeType, error) {
	ct := &CompositeType{
		Name:       name,
		Root:       true,
		fieldIndex: make(map[string]int),
	}

	for _, ref := range refs {
		ct.Directives = appendUniqueBindings(ct.Directives, decodeDirectives(ref.decl.directives, DirectiveTarget{TypeName: name}))

		for _, fd := range ref.decl.Fields {
			if isFederationRootField(fd.Name) {
				continue
			}
			if err := mergeField(ct, ref.subGraph.Name, fd); err != nil {
				return nil, err
			}
		}
	}

	if err := checkOwned(ct); err != nil {
		return nil, err
	}
	return ct, nil
}

// composeObjectType merges an object type declared by one canonical owner and
// any number of extending subgraphs.
func composeObjectType(name string, refs []declRef) (*CompositeType, error) {
	var canonical []declRef
	var extensions []declRef
	for _, ref := range refs {
		if ref.decl.Extension {
			extensions = append(extensions, ref)
		} else {
			canonical = append(canonical, ref)
		}
	}

	switch {
	case len(canonical) == 0:
		return nil, &CompositionError{
			Kind:      MissingCanonicalOwner,
			TypeName:  name,
			SubGraphs: subGraphNames(extensions),
			Detail:    "type is only declared as an extension",
		}
	case len(canonical) > 1:
		return nil, &CompositionError{
			Kind:      ConflictingOwnership,
			TypeName:  name,
			SubGraphs: subGraphNames(canonical),
			Detail:    "type is declared without @extends by more than one subgraph",
		}
	}

	owner := canonical[0]
	if err := checkKeysExist(owner); err != nil {
		return nil, err
	}
	for _, ext := range extensions {
		if err := checkExtensionKeys(owner, ext); err != nil {
			return nil, err
		}
	}

	ct := &CompositeType{
		Name:       name,
		Owner:      owner.subGraph.Name,
		Extenders:  subGraphNames(extensions),
		Keys:       owner.decl.Keys,
		fieldIndex: make(map[string]int),
	}

	for _, ref := range append([]declRef{owner}, extensions...) {
		ct.Directives = appendUniqueBindings(ct.Directives, decodeDirectives(ref.decl.directives, DirectiveTarget{TypeName: name}))
		for _, fd := range ref.decl.Fields {
			if err := mergeField(ct, ref.subGraph.Name, fd); err != nil {
				return nil, err
			}
		}
	}

	if err := checkOwned(ct); err != nil {
		return nil, err
	}
	return ct, nil
}

// mergeField adds the declaration fd from subGraph to ct.
func mergeField(ct *CompositeType, subGraph string, fd *FieldDecl) error {
	f, exists := ct.Field(fd.Name)
	if !exists {
		f = &Field{
			Name:      fd.Name,
			TypeRef:   fd.TypeRef,
			NamedType: fd.NamedType,
		}
		ct.addField(f)
	}

	f.declaredBy = append(f.declaredBy, subGraph)
	f.Directives = appendUniqueBindings(f.Directives, decodeDirectives(fd.directives, DirectiveTarget{TypeName: ct.Name, FieldName: fd.Name}))

	if fd.External {
		return nil
	}
	if f.Owner != "" && f.Owner != subGraph {
		// Key fields are resolvable by every subgraph declaring the entity, the
		// canonical owner keeps ownership.
		if isKeyField(ct.Keys, fd.Name) {
			return nil
		}
		return &CompositionError{
			Kind:      ConflictingOwnership,
			TypeName:  ct.Name,
			FieldName: fd.Name,
			SubGraphs: []string{f.Owner, subGraph},
			Detail:    "field is resolvable in more than one subgraph",
		}
	}
	f.Owner = subGraph
	f.TypeRef = fd.TypeRef
	f.NamedType = fd.NamedType
	return nil
}

func checkOwned(ct *CompositeType) error {
	for _, f := range ct.Fields {
		if f.Owner == "" {
			return &CompositionError{
				Kind:      MissingCanonicalOwner,
				TypeName:  ct.Name,
				FieldName: f.Name,
				SubGraphs: f.declaredBy,
				Detail:    "field is only declared @external",
			}
		}
	}
	return nil
}

func checkKeysExist(ref declRef) error {
	for _, key := range ref.decl.Keys {
		if len(key.Fields) == 0 {
			return &CompositionError{
				Kind:      KeyMismatch,
				TypeName:  ref.decl.Name,
				SubGraphs: []string{ref.subGraph.Name},
				Detail:    "@key declares an empty field set",
			}
		}
		for _, name := range key.Fields {
			if _, ok := ref.decl.Field(name); !ok {
				return &CompositionError{
					Kind:      KeyMismatch,
					TypeName:  ref.decl.Name,
					FieldName: name,
					SubGraphs: []string{ref.subGraph.Name},
					Detail:    fmt.Sprintf("@key(fields: %q) names a field the type does not declare", key.FieldSet()),
				}
			}
		}
	}
	return nil
}

// checkExtensionKeys verifies that ext references owner through a key the owner
// declares, with every key field marked @external and typed like the owner's.
func checkExtensionKeys(owner, ext declRef) error {
	name := ext.decl.Name
	subs := []string{owner.subGraph.Name, ext.subGraph.Name}

	if len(ext.decl.Keys) == 0 {
		return &CompositionError{
			Kind:      KeyMismatch,
			TypeName:  name,
			SubGraphs: subs,
			Detail:    "extension declares no @key",
		}
	}
	if err := checkKeysExist(ext); err != nil {
		return err
	}

	for _, key := range ext.decl.Keys {
		if !hasKey(owner.decl.Keys, key) {
			return &CompositionError{
				Kind:      KeyMismatch,
				TypeName:  name,
				SubGraphs: subs,
				Detail:    fmt.Sprintf("extension key %q is not declared by the owner", key.FieldSet()),
			}
		}
		for _, fieldName := range key.Fields {
			extField, _ := ext.decl.Field(fieldName)
			ownerField, _ := owner.decl.Field(fieldName)
			if !extField.External {
				return &CompositionError{
					Kind:      KeyMismatch,
					TypeName:  name,
					FieldName: fieldName,
					SubGraphs: subs,
					Detail:    "key field of an extension must be @external",
				}
			}
			if extField.TypeRef != ownerField.TypeRef {
				return &CompositionError{
					Kind:      KeyMismatch,
					TypeName:  name,
					FieldName: fieldName,
					SubGraphs: subs,
					Detail:    fmt.Sprintf("key field typed %s, owner declares %s", extField.TypeRef, ownerField.TypeRef),
				}
			}
		}
	}
	return nil
}

func hasKey(keys []EntityKey, key EntityKey) bool {
	want := sortedFieldSet(key.Fields)
	for _, k := range keys {
		if sortedFieldSet(k.Fields) == want {
			return true
		}
	}
	return false
}

func sortedFieldSet(fields []string) string {
	s := append([]string(nil), fields...)
	sort.Strings(s)
	return strings.Join(s, " ")
}

func isKeyField(keys []EntityKey, name string) bool {
	for _, k := range keys {
		for _, f := range k.Fields {
			if f == name {
				return true
			}
		}
	}
	return false
}

func isFederationRootField(name string) bool {
	return name == "_service" || name == "_entities"
}

func subGraphNames(refs []declRef) []string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.subGraph.Name)
	}
	sort.Strings(names)
	return names
}

// Type returns the composite object type with the given name.
func (sg *SuperGraph) Type(name string) (*CompositeType, bool) {
	t, ok := sg.types[name]
	return t, ok
}

// Types returns every composite object type sorted by name.
func (sg *SuperGraph) Types() []*CompositeType {
	out := make([]*CompositeType, 0, len(sg.typeOrder))
	for _, name := range sg.typeOrder {
		out = append(out, sg.types[name])
	}
	return out
}

// Field returns typeName.fieldName of the composite schema.
func (sg *SuperGraph) Field(typeName, fieldName string) (*Field, bool) {
	t, ok := sg.types[typeName]
	if !ok {
		return nil, false
	}
	return t.Field(fieldName)
}

// FieldOwner returns the subgraph resolving typeName.fieldName, or nil.
func (sg *SuperGraph) FieldOwner(typeName, fieldName string) *SubGraph {
	f, ok := sg.Field(typeName, fieldName)
	if !ok {
		return nil
	}
	return sg.subGraphIndex[f.Owner]
}

// SubGraph returns the subgraph registered under name.
func (sg *SuperGraph) SubGraph(name string) (*SubGraph, bool) {
	s, ok := sg.subGraphIndex[name]
	return s, ok
}

// IsEntityType reports whether typeName carries a @key.
func (sg *SuperGraph) IsEntityType(typeName string) bool {
	t, ok := sg.types[typeName]
	return ok && t.IsEntity()
}

// KeyFields returns the fields of the key subGraph uses to resolve typeName.
// It prefers the first key the subgraph declares and falls back to the
// canonical owner's first key.
func (sg *SuperGraph) KeyFields(subGraph *SubGraph, typeName string) []string {
	if subGraph != nil {
		if obj, ok := subGraph.Object(typeName); ok && len(obj.Keys) > 0 {
			return obj.Keys[0].Fields
		}
	}
	if t, ok := sg.types[typeName]; ok && len(t.Keys) > 0 {
		return t.Keys[0].Fields
	}
	return nil
}

// RootTypeName returns the root type of an operation ("query", "mutation", "subscription").
func (sg *SuperGraph) RootTypeName(operation string) string {
	return sg.rootTypes[operation]
}

// IsRootType reports whether name is one of the root operation types.
func (sg *SuperGraph) IsRootType(name string) bool {
	for _, root := range sg.rootTypes {
		if root == name {
			return true
		}
	}
	return false
}

// Enum returns the union of the values every subgraph declares for the enum.
func (sg *SuperGraph) Enum(name string) ([]string, bool) {
	values, ok := sg.enums[name]
	return values, ok
}

// DirectiveDefinitions returns every defined directive. When several
// subgraphs define the same name, the first subgraph by name wins.
func (sg *SuperGraph) DirectiveDefinitions() []DirectiveDefinition {
	return sg.directives
}

// Directive returns the definition of the named directive.
func (sg *SuperGraph) Directive(name string) (DirectiveDefinition, bool) {
	for _, d := range sg.directives {
		if d.Name == name {
			return d, true
		}
	}
	return DirectiveDefinition{}, false
}

// TypeDirectives returns the type-level bindings of typeName named name.
func (sg *SuperGraph) TypeDirectives(typeName, name string) []DirectiveBinding {
	t, ok := sg.types[typeName]
	if !ok {
		return nil
	}
	return filterBindings(t.Directives, name)
}

// FieldDirectives returns the bindings named name on typeName.fieldName.
func (sg *SuperGraph) FieldDirectives(typeName, fieldName, name string) []DirectiveBinding {
	f, ok := sg.Field(typeName, fieldName)
	if !ok {
		return nil
	}
	return filterBindings(f.Directives, name)
}

func filterBindings(bindings []DirectiveBinding, name string) []DirectiveBinding {
	var out []DirectiveBinding
	for _, b := range bindings {
		if b.Name == name {
			out = append(out, b)
		}
	}
	return out
}
