package deepauth

import (
	"errors"
	"fmt"

	language "github.com/hanpama/deepauth/internal/language"
	schema "github.com/hanpama/deepauth/internal/schema"
)

// NodeKind tags the AST node a Node carries.
type NodeKind int

const (
	DocumentNode NodeKind = iota
	OperationNode
	FragmentNode
	FieldNode
	InlineFragmentNode
	FragmentSpreadNode
)

func (k NodeKind) String() string {
	switch k {
	case DocumentNode:
		return "Document"
	case OperationNode:
		return "OperationDefinition"
	case FragmentNode:
		return "FragmentDefinition"
	case FieldNode:
		return "Field"
	case InlineFragmentNode:
		return "InlineFragment"
	case FragmentSpreadNode:
		return "FragmentSpread"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// Node is the unit visited by Walk. Exactly one of the AST pointers is set,
// matching Kind.
type Node struct {
	Kind NodeKind
	Path Path

	Document       *language.QueryDocument
	Operation      *language.OperationDefinition
	Fragment       *language.FragmentDefinition
	Field          *language.Field
	InlineFragment *language.InlineFragment
	FragmentSpread *language.FragmentSpread

	// ParentType is the composite type the node is selected on. For
	// operations and fragments it is the type of their selection set.
	ParentType *schema.Type
	// FieldDef is the schema definition of Field, nil for unknown fields
	// such as __typename.
	FieldDef *schema.Field
}

// Handler visits one node. It may return ErrSkip or ErrAbort.
type Handler func(n *Node) error

// Handlers holds an optional handler per node kind.
type Handlers struct {
	Document       Handler
	Operation      Handler
	Fragment       Handler
	Field          Handler
	InlineFragment Handler
	FragmentSpread Handler
}

// For returns the handler registered for k, or nil.
func (h Handlers) For(k NodeKind) Handler {
	switch k {
	case DocumentNode:
		return h.Document
	case OperationNode:
		return h.Operation
	case FragmentNode:
		return h.Fragment
	case FieldNode:
		return h.Field
	case InlineFragmentNode:
		return h.InlineFragment
	case FragmentSpreadNode:
		return h.FragmentSpread
	}
	return nil
}

// Rule is a set of handlers run on the way down (Enter) and up (Leave).
type Rule struct {
	Enter Handlers
	Leave Handlers
}

// RuleFactory builds a rule bound to one rewrite.
type RuleFactory func(c *Context) *Rule

// Visitor receives every node of a walk.
type Visitor interface {
	Enter(n *Node) error
	Leave(n *Node) error
}

type parallel struct {
	rules    []*Rule
	skipping []*Node
}

// Parallel runs several rules over one walk, each in order for every node.
// A rule returning ErrSkip stops receiving the subtree of that node while
// the others continue. ErrAbort or any other error ends the walk.
func Parallel(rules ...*Rule) Visitor {
	return &parallel{rules: rules, skipping: make([]*Node, len(rules))}
}

func (p *parallel) Enter(n *Node) error {
	for i, r := range p.rules {
		if p.skipping[i] != nil {
			continue
		}
		h := r.Enter.For(n.Kind)
		if h == nil {
			continue
		}
		err := h(n)
		switch {
		case err == nil:
		case errors.Is(err, ErrSkip):
			p.skipping[i] = n
		default:
			return err
		}
	}
	return nil
}

func (p *parallel) Leave(n *Node) error {
	for i, r := range p.rules {
		if p.skipping[i] != nil {
			if p.skipping[i] == n {
				p.skipping[i] = nil
			}
			continue
		}
		h := r.Leave.For(n.Kind)
		if h == nil {
			continue
		}
		if err := h(n); err != nil && !errors.Is(err, ErrSkip) {
			return err
		}
	}
	return nil
}

// Walk visits doc depth first: the document, then each operation, then
// each fragment definition, with their selections in order. Fragment
// spreads are visited but not followed, so every node is seen once.
// Walk returns ErrAbort when a visitor aborted.
func Walk(doc *language.QueryDocument, s *schema.Schema, v Visitor) error {
	w := &walker{schema: s, visitor: v}
	return w.visit(&Node{Kind: DocumentNode, Document: doc}, func() error {
		for i, op := range doc.Operations {
			n := &Node{
				Kind:       OperationNode,
				Path:       Path{{OperationStep, i}},
				Operation:  op,
				ParentType: s.RootType(op.Operation),
			}
			if err := w.visit(n, func() error { return w.selections(op.SelectionSet, n) }); err != nil {
				return err
			}
		}
		for i, frag := range doc.Fragments {
			n := &Node{
				Kind:       FragmentNode,
				Path:       Path{{FragmentStep, i}},
				Fragment:   frag,
				ParentType: s.Type(frag.TypeCondition),
			}
			if err := w.visit(n, func() error { return w.selections(frag.SelectionSet, n) }); err != nil {
				return err
			}
		}
		return nil
	})
}

type walker struct {
	schema  *schema.Schema
	visitor Visitor
}

func (w *walker) visit(n *Node, children func() error) error {
	if err := w.visitor.Enter(n); err != nil {
		if errors.Is(err, ErrSkip) {
			return nil
		}
		return err
	}
	if children != nil {
		if err := children(); err != nil {
			return err
		}
	}
	err := w.visitor.Leave(n)
	if errors.Is(err, ErrSkip) {
		return nil
	}
	return err
}

func (w *walker) selections(set language.SelectionSet, parent *Node) error {
	for i, sel := range set {
		n := &Node{Path: parent.Path.Append(Step{SelectionStep, i}), ParentType: parent.ParentType}
		var children func() error
		switch sel := sel.(type) {
		case *language.Field:
			n.Kind = FieldNode
			n.Field = sel
			if parent.ParentType != nil {
				n.FieldDef = parent.ParentType.Field(sel.Name)
			}
			if len(sel.SelectionSet) > 0 {
				inner := &Node{Path: n.Path}
				if n.FieldDef != nil {
					inner.ParentType = w.schema.Type(n.FieldDef.Type.GetNamedType())
				}
				children = func() error { return w.selections(sel.SelectionSet, inner) }
			}
		case *language.InlineFragment:
			n.Kind = InlineFragmentNode
			n.InlineFragment = sel
			inner := &Node{Path: n.Path, ParentType: parent.ParentType}
			if sel.TypeCondition != "" {
				inner.ParentType = w.schema.Type(sel.TypeCondition)
			}
			children = func() error { return w.selections(sel.SelectionSet, inner) }
		case *language.FragmentSpread:
			n.Kind = FragmentSpreadNode
			n.FragmentSpread = sel
		default:
			return fmt.Errorf("unexpected selection %T", sel)
		}
		if err := w.visit(n, children); err != nil {
			return err
		}
	}
	return nil
}
