package deepauth

import language "github.com/hanpama/deepauth/internal/language"

// CloneDocument returns a deep copy of the operations and fragments of doc
// down to argument values. Schema definitions attached by validation are
// shared, not copied.
func CloneDocument(doc *language.QueryDocument) *language.QueryDocument {
	if doc == nil {
		return nil
	}
	out := &language.QueryDocument{Position: doc.Position, Comment: doc.Comment}
	for _, op := range doc.Operations {
		out.Operations = append(out.Operations, cloneOperation(op))
	}
	for _, frag := range doc.Fragments {
		out.Fragments = append(out.Fragments, cloneFragment(frag))
	}
	return out
}

func cloneOperation(op *language.OperationDefinition) *language.OperationDefinition {
	if op == nil {
		return nil
	}
	cp := *op
	cp.Directives = cloneDirectives(op.Directives)
	cp.SelectionSet = cloneSelectionSet(op.SelectionSet)
	return &cp
}

func cloneFragment(frag *language.FragmentDefinition) *language.FragmentDefinition {
	if frag == nil {
		return nil
	}
	cp := *frag
	cp.Directives = cloneDirectives(frag.Directives)
	cp.SelectionSet = cloneSelectionSet(frag.SelectionSet)
	return &cp
}

func cloneSelectionSet(set language.SelectionSet) language.SelectionSet {
	if set == nil {
		return nil
	}
	out := make(language.SelectionSet, len(set))
	for i, sel := range set {
		switch sel := sel.(type) {
		case *language.Field:
			cp := *sel
			cp.Arguments = cloneArguments(sel.Arguments)
			cp.Directives = cloneDirectives(sel.Directives)
			cp.SelectionSet = cloneSelectionSet(sel.SelectionSet)
			out[i] = &cp
		case *language.InlineFragment:
			cp := *sel
			cp.Directives = cloneDirectives(sel.Directives)
			cp.SelectionSet = cloneSelectionSet(sel.SelectionSet)
			out[i] = &cp
		case *language.FragmentSpread:
			cp := *sel
			cp.Directives = cloneDirectives(sel.Directives)
			out[i] = &cp
		default:
			out[i] = sel
		}
	}
	return out
}

func cloneDirectives(list language.DirectiveList) language.DirectiveList {
	if list == nil {
		return nil
	}
	out := make(language.DirectiveList, len(list))
	for i, d := range list {
		cp := *d
		cp.Arguments = cloneArguments(d.Arguments)
		out[i] = &cp
	}
	return out
}

func cloneArguments(args language.ArgumentList) language.ArgumentList {
	if args == nil {
		return nil
	}
	out := make(language.ArgumentList, len(args))
	for i, a := range args {
		out[i] = cloneArgument(a)
	}
	return out
}

func cloneArgument(a *language.Argument) *language.Argument {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Value = cloneValue(a.Value)
	return &cp
}

func cloneValue(v *language.Value) *language.Value {
	if v == nil {
		return nil
	}
	cp := *v
	if v.Children != nil {
		cp.Children = make(language.ChildValueList, len(v.Children))
		for i, child := range v.Children {
			cp.Children[i] = &language.ChildValue{Name: child.Name, Value: cloneValue(child.Value), Position: child.Position, Comment: child.Comment}
		}
	}
	return &cp
}
