package deepauth

import (
	"fmt"

	language "github.com/hanpama/deepauth/internal/language"
)

// ActionKind is the edit an Action performs on replay.
type ActionKind int

const (
	ActionSkip ActionKind = iota
	ActionSet
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionSkip:
		return "SKIP"
	case ActionSet:
		return "SET"
	case ActionDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is one pending edit of a field's argument list. Path ends with an
// ArgumentStep. Node is the argument written by SET.
type Action struct {
	Kind ActionKind
	Path Path
	Node *language.Argument
}

// ActionSource produces the actions logged under one location. It is read
// at replay time, after the walk has finished.
type ActionSource func() []Action

// AuthFiltersLoc is the location the authorization rule posts its log to.
const AuthFiltersLoc = "authFilters"

// ActionMap collects action sources by location together with the
// document they apply to.
type ActionMap struct {
	original *language.QueryDocument
	locs     []string
	sources  map[string]ActionSource
}

func NewActionMap(original *language.QueryDocument) *ActionMap {
	return &ActionMap{original: original, sources: map[string]ActionSource{}}
}

// Original returns the document the walk ran over. It must not be modified.
func (m *ActionMap) Original() *language.QueryDocument { return m.original }

// Post registers src under loc, replacing an earlier source there.
func (m *ActionMap) Post(loc string, src ActionSource) {
	if _, ok := m.sources[loc]; !ok {
		m.locs = append(m.locs, loc)
	}
	m.sources[loc] = src
}

func (m *ActionMap) Get(loc string) ActionSource { return m.sources[loc] }

// Locations lists the posted locations in posting order.
func (m *ActionMap) Locations() []string { return append([]string(nil), m.locs...) }

// Coalescer turns the collected actions into the rewritten document.
type Coalescer func(m *ActionMap) (*language.QueryDocument, error)

// Coalesce replays the actions posted under AuthFiltersLoc, in log order,
// against a deep copy of the original document. A DELETE leaves a hole
// until the replay ends, so later actions on the same field still address
// arguments by their original index.
func Coalesce(m *ActionMap) (*language.QueryDocument, error) {
	doc := CloneDocument(m.Original())
	src := m.Get(AuthFiltersLoc)
	if src == nil {
		return doc, nil
	}
	var holed []*language.Field
	for i, a := range src() {
		field, err := apply(doc, a, true)
		if err != nil {
			return nil, fmt.Errorf("replaying action %d (%s %s): %w", i, a.Kind, a.Path, err)
		}
		if a.Kind == ActionDelete {
			holed = append(holed, field)
		}
	}
	for _, field := range holed {
		args := field.Arguments[:0]
		for _, arg := range field.Arguments {
			if arg != nil {
				args = append(args, arg)
			}
		}
		field.Arguments = args
	}
	return doc, nil
}

// Apply performs a on doc in place. SET replaces the argument at the path,
// or appends it when the index equals the argument count. DELETE removes
// it, shifting later arguments down. SKIP does nothing.
func Apply(doc *language.QueryDocument, a Action) error {
	_, err := apply(doc, a, false)
	return err
}

// apply performs a and returns the field it edited. With holes set, DELETE
// clears the slot instead of removing it.
func apply(doc *language.QueryDocument, a Action, holes bool) (*language.Field, error) {
	if a.Kind == ActionSkip {
		return nil, nil
	}
	if len(a.Path) == 0 || a.Path[len(a.Path)-1].Kind != ArgumentStep {
		return nil, fmt.Errorf("path %q does not address an argument", a.Path)
	}
	field, err := resolveField(doc, a.Path[:len(a.Path)-1])
	if err != nil {
		return nil, err
	}
	idx := a.Path[len(a.Path)-1].Index
	switch a.Kind {
	case ActionSet:
		if a.Node == nil {
			return nil, fmt.Errorf("SET at %s without an argument", a.Path)
		}
		arg := cloneArgument(a.Node)
		switch {
		case idx >= 0 && idx < len(field.Arguments):
			field.Arguments[idx] = arg
		case idx == len(field.Arguments):
			field.Arguments = append(field.Arguments, arg)
		default:
			return nil, fmt.Errorf("argument index %d out of range at %s", idx, a.Path)
		}
	case ActionDelete:
		if idx < 0 || idx >= len(field.Arguments) {
			return nil, fmt.Errorf("argument index %d out of range at %s", idx, a.Path)
		}
		if holes {
			field.Arguments[idx] = nil
		} else {
			field.Arguments = append(field.Arguments[:idx:idx], field.Arguments[idx+1:]...)
		}
	default:
		return nil, fmt.Errorf("unknown action %s", a.Kind)
	}
	return field, nil
}

func resolveField(doc *language.QueryDocument, p Path) (*language.Field, error) {
	if len(p) < 2 {
		return nil, fmt.Errorf("path %q does not address a field", p)
	}
	var set language.SelectionSet
	switch root := p[0]; root.Kind {
	case OperationStep:
		if root.Index < 0 || root.Index >= len(doc.Operations) {
			return nil, fmt.Errorf("operation index %d out of range", root.Index)
		}
		set = doc.Operations[root.Index].SelectionSet
	case FragmentStep:
		if root.Index < 0 || root.Index >= len(doc.Fragments) {
			return nil, fmt.Errorf("fragment index %d out of range", root.Index)
		}
		set = doc.Fragments[root.Index].SelectionSet
	default:
		return nil, fmt.Errorf("path %q must start at an operation or fragment", p)
	}

	var sel language.Selection
	for _, step := range p[1:] {
		if step.Kind != SelectionStep {
			return nil, fmt.Errorf("unexpected %s step in %q", step.Kind, p)
		}
		if step.Index < 0 || step.Index >= len(set) {
			return nil, fmt.Errorf("selection index %d out of range in %q", step.Index, p)
		}
		sel = set[step.Index]
		switch s := sel.(type) {
		case *language.Field:
			set = s.SelectionSet
		case *language.InlineFragment:
			set = s.SelectionSet
		default:
			set = nil
		}
	}
	field, ok := sel.(*language.Field)
	if !ok {
		return nil, fmt.Errorf("path %q addresses a %T, not a field", p, sel)
	}
	return field, nil
}
