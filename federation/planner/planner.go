package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/n9te9/go-graphql-auth-gateway/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/token"
)

// StepKind indicates how a step is sent to its subgraph.
type StepKind int

const (
	// StepKindRoot resolves root operation fields.
	StepKindRoot StepKind = iota
	// StepKindEntity resolves fields of entities produced by another step.
	StepKindEntity
)

func (k StepKind) String() string {
	switch k {
	case StepKindRoot:
		return "root"
	case StepKindEntity:
		return "entity"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Step is one sub-operation sent to a single subgraph.
type Step struct {
	ID         int
	SubGraph   *graph.SubGraph
	Kind       StepKind
	ParentType string // root type for root steps, entity type for entity steps

	// SelectionSet is sent as is for root steps and wrapped in
	// `_entities { ... on ParentType { ... } }` for entity steps.
	SelectionSet []ast.Selection

	// Path is the response path of the objects an entity step extends. Lists
	// along the path are flattened.
	Path []string
	// InsertionPath is Path relative to the selection set of the producing step.
	InsertionPath []string
	DependsOn     []int
	// Keys are the fields sent in each entity representation besides __typename.
	Keys []string

	// Covers lists the response paths of the requested fields this step resolves.
	Covers []string
}

// Plan is a dependency ordered set of steps for one operation.
type Plan struct {
	Steps       []*Step // Steps[i].ID == i
	RootStepIDs []int
	Operation   string
	RootType    string

	// Selections is the operation selection set with fragments expanded and
	// @skip/@include applied. The response is assembled from it.
	Selections []ast.Selection
}

// Coverage returns the step resolving each requested field, keyed by response path.
func (p *Plan) Coverage() map[string]int {
	coverage := make(map[string]int)
	for _, step := range p.Steps {
		for _, path := range step.Covers {
			coverage[path] = step.ID
		}
	}
	return coverage
}

// Planner builds plans against a composed SuperGraph. It holds no per-query
// state and is safe for concurrent use.
type Planner struct {
	SuperGraph *graph.SuperGraph
}

func NewPlanner(superGraph *graph.SuperGraph) *Planner {
	return &Planner{
		SuperGraph: superGraph,
	}
}

// planContext is the mutable state of one Plan call.
type planContext struct {
	plan        *Plan
	fragments   map[string]*ast.FragmentDefinition
	variables   map[string]any
	entitySteps map[string]*Step
}

// Plan decomposes the first operation of doc into steps.
func (p *Planner) Plan(doc *ast.Document, variables map[string]any) (*Plan, error) {
	op := operation(doc)
	if op == nil {
		return nil, errors.New("no operation found")
	}
	if len(op.SelectionSet) == 0 {
		return nil, errors.New("empty selection")
	}

	opType, err := operationType(op)
	if err != nil {
		return nil, err
	}
	rootType := p.SuperGraph.RootTypeName(opType)
	if _, ok := p.SuperGraph.Type(rootType); !ok {
		return nil, fmt.Errorf("schema does not support %s operations", opType)
	}

	pc := &planContext{
		plan: &Plan{
			Operation: opType,
			RootType:  rootType,
		},
		fragments:   fragmentDefinitions(doc),
		variables:   variables,
		entitySteps: make(map[string]*Step),
	}

	selections, err := p.normalize(pc, op.SelectionSet, rootType)
	if err != nil {
		return nil, err
	}
	pc.plan.Selections = selections

	if err := p.planRoot(pc, rootType, selections); err != nil {
		return nil, err
	}

	return pc.plan, nil
}

// planRoot groups contiguous root fields owned by the same subgraph into one
// step. Mutation steps run one after another.
func (p *Planner) planRoot(pc *planContext, rootType string, selections []ast.Selection) error {
	var current *Step
	var previous *Step

	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()
		if isMetaField(name) {
			continue
		}

		def, ok := p.SuperGraph.Field(rootType, name)
		if !ok {
			return &PlanningError{Kind: UnknownField, TypeName: rootType, FieldName: name, Path: []string{responseKey(field)}}
		}
		owner, ok := p.SuperGraph.SubGraph(def.Owner)
		if !ok || owner.Host == "" {
			return &PlanningError{Kind: UnreachableSubgraph, TypeName: rootType, FieldName: name, SubGraph: def.Owner, Detail: "subgraph has no endpoint"}
		}

		if current == nil || current.SubGraph.Name != owner.Name {
			current = pc.newStep(owner, StepKindRoot, rootType)
			pc.plan.RootStepIDs = append(pc.plan.RootStepIDs, current.ID)
			if previous != nil && pc.plan.Operation == graph.OperationMutation {
				current.DependsOn = append(current.DependsOn, previous.ID)
			}
			previous = current
		}

		planned, err := p.planSelections(pc, current, rootType, []ast.Selection{field}, nil, nil)
		if err != nil {
			return err
		}
		current.SelectionSet = append(current.SelectionSet, planned...)
	}

	return nil
}

// planSelections returns the part of selections step resolves itself and
// creates entity steps for the rest. relPath is the position inside the
// step's own selection set, absPath the position in the response.
func (p *Planner) planSelections(pc *planContext, step *Step, parentType string, selections []ast.Selection, relPath, absPath []string) ([]ast.Selection, error) {
	result := make([]ast.Selection, 0, len(selections))
	var keys []string

	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			result = append(result, sel)
			continue
		}

		name := field.Name.String()
		key := responseKey(field)
		fieldPath := appendPath(absPath, key)

		if name == "__typename" {
			result = append(result, field)
			step.cover(fieldPath)
			continue
		}

		def, ok := p.SuperGraph.Field(parentType, name)
		if !ok {
			return nil, &PlanningError{Kind: UnknownField, TypeName: parentType, FieldName: name, Path: fieldPath}
		}

		if p.isLocal(step, parentType, def) {
			planned, err := p.planLocalField(pc, step, field, def, appendPath(relPath, key), fieldPath)
			if err != nil {
				return nil, err
			}
			result = append(result, planned)
			continue
		}

		entityStep, err := p.entityStep(pc, step, parentType, def, relPath, absPath)
		if err != nil {
			return nil, err
		}
		keys = append(keys, entityStep.Keys...)

		planned, err := p.planSelections(pc, entityStep, parentType, []ast.Selection{field}, nil, absPath)
		if err != nil {
			return nil, err
		}
		entityStep.SelectionSet = append(entityStep.SelectionSet, planned...)
	}

	if keys != nil {
		result = injectKeys(result, keys)
	}
	if len(result) == 0 && len(selections) > 0 {
		// Every child moved to another step; keep the object selectable.
		result = append(result, newField("__typename"))
	}

	return result, nil
}

// planLocalField copies field into step, planning its children.
func (p *Planner) planLocalField(pc *planContext, step *Step, field *ast.Field, def *graph.Field, relPath, absPath []string) (ast.Selection, error) {
	step.cover(absPath)

	if len(field.SelectionSet) == 0 {
		return field, nil
	}
	if _, isObject := p.SuperGraph.Type(def.NamedType); !isObject {
		// Interfaces and unions are resolved whole by the owning subgraph.
		p.coverSubtree(step, field.SelectionSet, absPath)
		return field, nil
	}

	children, err := p.planSelections(pc, step, def.NamedType, field.SelectionSet, relPath, absPath)
	if err != nil {
		return nil, err
	}

	return &ast.Field{
		Alias:        field.Alias,
		Name:         field.Name,
		Arguments:    field.Arguments,
		Directives:   field.Directives,
		SelectionSet: children,
	}, nil
}

// isLocal reports whether step can resolve def without another hop.
func (p *Planner) isLocal(step *Step, parentType string, def *graph.Field) bool {
	if def.Owner == step.SubGraph.Name {
		return true
	}
	obj, ok := step.SubGraph.Object(parentType)
	if !ok || !obj.IsKeyField(def.Name) {
		return false
	}
	_, declared := obj.Field(def.Name)
	return declared
}

// entityStep returns the step resolving def on the entities of parentType found
// at absPath, creating it on first use.
func (p *Planner) entityStep(pc *planContext, parent *Step, parentType string, def *graph.Field, relPath, absPath []string) (*Step, error) {
	unreachable := func(detail string) error {
		return &PlanningError{
			Kind:      UnreachableSubgraph,
			TypeName:  parentType,
			FieldName: def.Name,
			SubGraph:  def.Owner,
			Path:      appendPath(absPath, def.Name),
			Detail:    detail,
		}
	}

	owner, ok := p.SuperGraph.SubGraph(def.Owner)
	if !ok {
		return nil, unreachable("owner is not registered")
	}
	if owner.Host == "" {
		return nil, unreachable("subgraph has no endpoint")
	}
	if !p.SuperGraph.IsEntityType(parentType) {
		return nil, unreachable(fmt.Sprintf("%s is not an entity, it cannot be fetched from %s", parentType, parent.SubGraph.Name))
	}
	if !owner.IsEntity(parentType) {
		return nil, unreachable(fmt.Sprintf("%s does not declare a @key for %s", owner.Name, parentType))
	}
	keys := representationKey(parent.SubGraph, owner, parentType)
	if keys == nil {
		return nil, unreachable(fmt.Sprintf("%s cannot provide a key of %s that %s accepts", parent.SubGraph.Name, parentType, owner.Name))
	}

	stepKey := fmt.Sprintf("%d:%s:%s", parent.ID, strings.Join(absPath, "."), owner.Name)
	if existing, ok := pc.entitySteps[stepKey]; ok {
		return existing, nil
	}

	step := pc.newStep(owner, StepKindEntity, parentType)
	step.Path = append([]string(nil), absPath...)
	step.InsertionPath = append([]string(nil), relPath...)
	step.DependsOn = []int{parent.ID}
	step.Keys = keys
	pc.entitySteps[stepKey] = step

	return step, nil
}

// representationKey picks the first key of typeName declared by owner whose
// fields producer can select.
func representationKey(producer, owner *graph.SubGraph, typeName string) []string {
	target, ok := owner.Object(typeName)
	if !ok {
		return nil
	}
	source, ok := producer.Object(typeName)
	if !ok {
		return nil
	}

	for _, key := range target.Keys {
		provided := true
		for _, name := range key.Fields {
			if _, ok := source.Field(name); !ok {
				provided = false
				break
			}
		}
		if provided {
			return key.Fields
		}
	}
	return nil
}

// injectKeys adds __typename and the given key fields to the producing
// step's selection.
func injectKeys(selections []ast.Selection, keyFields []string) []ast.Selection {
	keys := append([]string{"__typename"}, keyFields...)

	present := make(map[string]bool)
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok && f.Alias == nil {
			present[f.Name.String()] = true
		}
	}
	for _, key := range keys {
		if !present[key] {
			selections = append(selections, newField(key))
			present[key] = true
		}
	}
	return selections
}

func (p *Planner) coverSubtree(step *Step, selections []ast.Selection, absPath []string) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			path := appendPath(absPath, responseKey(s))
			step.cover(path)
			p.coverSubtree(step, s.SelectionSet, path)
		case *ast.InlineFragment:
			p.coverSubtree(step, s.SelectionSet, absPath)
		}
	}
}

// normalize expands fragments and applies @skip/@include. Object selections
// are flattened into fields; selections on interfaces and unions keep their
// type conditions with spreads rewritten to inline fragments.
func (p *Planner) normalize(pc *planContext, selections []ast.Selection, typeName string) ([]ast.Selection, error) {
	_, isObject := p.SuperGraph.Type(typeName)
	result := make([]ast.Selection, 0, len(selections))

	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			include, err := pc.included(s.Directives)
			if err != nil {
				return nil, err
			}
			if !include {
				continue
			}
			if len(s.SelectionSet) == 0 {
				result = append(result, s)
				continue
			}

			childType := ""
			if isObject {
				if def, ok := p.SuperGraph.Field(typeName, s.Name.String()); ok {
					childType = def.NamedType
				}
			}
			children, err := p.normalize(pc, s.SelectionSet, childType)
			if err != nil {
				return nil, err
			}
			result = append(result, &ast.Field{
				Alias:        s.Alias,
				Name:         s.Name,
				Arguments:    s.Arguments,
				Directives:   s.Directives,
				SelectionSet: children,
			})

		case *ast.InlineFragment:
			children, err := p.normalize(pc, s.SelectionSet, fragmentType(s.TypeCondition, typeName, isObject))
			if err != nil {
				return nil, err
			}
			if isObject {
				result = append(result, children...)
			} else {
				result = append(result, &ast.InlineFragment{TypeCondition: s.TypeCondition, SelectionSet: children})
			}

		case *ast.FragmentSpread:
			def, ok := pc.fragments[s.Name.String()]
			if !ok {
				return nil, fmt.Errorf("unknown fragment %q", s.Name.String())
			}
			children, err := p.normalize(pc, def.SelectionSet, fragmentType(def.TypeCondition, typeName, isObject))
			if err != nil {
				return nil, err
			}
			if isObject {
				result = append(result, children...)
			} else {
				result = append(result, &ast.InlineFragment{TypeCondition: def.TypeCondition, SelectionSet: children})
			}

		default:
			result = append(result, sel)
		}
	}

	return mergeFields(result), nil
}

// mergeFields collapses fields sharing a response key into the first one,
// concatenating their sub-selections.
func mergeFields(selections []ast.Selection) []ast.Selection {
	result := make([]ast.Selection, 0, len(selections))
	index := make(map[string]int)

	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			result = append(result, sel)
			continue
		}
		key := responseKey(field)
		i, seen := index[key]
		if !seen {
			index[key] = len(result)
			result = append(result, field)
			continue
		}
		if len(field.SelectionSet) == 0 {
			continue
		}

		first := result[i].(*ast.Field)
		children := make([]ast.Selection, 0, len(first.SelectionSet)+len(field.SelectionSet))
		children = append(children, first.SelectionSet...)
		children = append(children, field.SelectionSet...)
		result[i] = &ast.Field{
			Alias:        first.Alias,
			Name:         first.Name,
			Arguments:    first.Arguments,
			Directives:   first.Directives,
			SelectionSet: mergeFields(children),
		}
	}

	return result
}

// fragmentType returns the type the fragment body is planned against.
func fragmentType(cond *ast.NamedType, parent string, parentIsObject bool) string {
	if parentIsObject || cond == nil {
		return parent
	}
	return cond.Name.String()
}

// included evaluates @skip and @include.
func (pc *planContext) included(directives []*ast.Directive) (bool, error) {
	for _, d := range directives {
		if d.Name != "skip" && d.Name != "include" {
			continue
		}
		var cond any
		for _, arg := range d.Arguments {
			if arg.Name.String() == "if" {
				cond = graph.DecodeValue(arg.Value).GoValue(pc.variables)
			}
		}
		b, ok := cond.(bool)
		if !ok {
			return false, fmt.Errorf("@%s requires a Boolean \"if\" argument", d.Name)
		}
		if (d.Name == "skip" && b) || (d.Name == "include" && !b) {
			return false, nil
		}
	}
	return true, nil
}

func (pc *planContext) newStep(sub *graph.SubGraph, kind StepKind, parentType string) *Step {
	step := &Step{
		ID:         len(pc.plan.Steps),
		SubGraph:   sub,
		Kind:       kind,
		ParentType: parentType,
	}
	pc.plan.Steps = append(pc.plan.Steps, step)
	return step
}

func (s *Step) cover(path []string) {
	s.Covers = append(s.Covers, strings.Join(path, "."))
}

func operation(doc *ast.Document) *ast.OperationDefinition {
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			return op
		}
	}
	return nil
}

func operationType(op *ast.OperationDefinition) (string, error) {
	switch op.Operation {
	case ast.Query:
		return graph.OperationQuery, nil
	case ast.Mutation:
		return graph.OperationMutation, nil
	case ast.Subscription:
		return graph.OperationSubscription, nil
	default:
		return "", fmt.Errorf("unknown operation type: %v", op.Operation)
	}
}

func fragmentDefinitions(doc *ast.Document) map[string]*ast.FragmentDefinition {
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if fragDef, ok := def.(*ast.FragmentDefinition); ok {
			fragments[fragDef.Name.String()] = fragDef
		}
	}
	return fragments
}

// responseKey is the alias of a field, or its name.
func responseKey(field *ast.Field) string {
	if field.Alias != nil && field.Alias.String() != "" {
		return field.Alias.String()
	}
	return field.Name.String()
}

// ResponseKey is exported for the executor, which walks the same selections.
func ResponseKey(field *ast.Field) string { return responseKey(field) }

func isMetaField(name string) bool {
	return name == "__typename" || name == "__schema" || name == "__type"
}

func appendPath(path []string, key string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = key
	return out
}

func newField(name string) *ast.Field {
	return &ast.Field{
		Name: &ast.Name{
			Token: token.Token{Type: token.IDENT, Literal: name},
			Value: name,
		},
	}
}
