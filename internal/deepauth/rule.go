package deepauth

import (
	"fmt"

	language "github.com/hanpama/deepauth/internal/language"
	schema "github.com/hanpama/deepauth/internal/schema"
)

// FilterArgument is the field argument that carries a filter.
const FilterArgument = "filter"

// ExistingFilter returns the first argument of field named "filter" and
// its index. Without one, it returns nil and the argument count, which is
// where a new filter is appended.
func ExistingFilter(field *language.Field) (*language.Argument, int) {
	for i, arg := range field.Arguments {
		if arg.Name == FilterArgument {
			return arg, i
		}
	}
	return nil, len(field.Arguments)
}

// AuthorizationFilterRule logs one action per field. A field with a filter
// argument gets it replaced by its coerced value, with predicates merged
// at every filter boundary. A field whose selection is guarded but which
// has no filter gets the predicate as a new filter argument. Anything
// else is skipped.
func AuthorizationFilterRule(c *Context) *Rule {
	return &Rule{Enter: Handlers{
		Document: func(*Node) error {
			c.PostToActionMap(AuthFiltersLoc, c.AuthActions)
			return nil
		},
		Field: func(n *Node) error {
			a, err := authorizeField(c, n)
			if err != nil {
				return err
			}
			c.AddAuthAction(a)
			return nil
		},
	}}
}

func authorizeField(c *Context, n *Node) (Action, error) {
	existing, idx := ExistingFilter(n.Field)
	path := n.Path.Append(Step{ArgumentStep, idx})
	skip := Action{Kind: ActionSkip, Path: path}
	if n.FieldDef == nil {
		return skip, nil
	}

	cfg, err := AuthConfigForField(c.schema, n.FieldDef)
	if err != nil {
		return Action{}, err
	}
	filterRef, filterType := c.FilterInputFor(n.FieldDef)

	switch {
	case existing != nil && filterType != nil:
		co := &coercer{schema: c.schema, ctx: c, vars: c.variables, rootConfig: cfg}
		v, err := co.coerce(existing.Value, filterRef, frame{path: FilterArgument, root: true})
		if err != nil {
			return Action{}, err
		}
		if v == nil || v.Kind == language.NullValue {
			// An absent or null filter selects everything, so a guarded
			// field gets the bare predicate in its place.
			pred, err := co.predicate(filterType, true)
			if err != nil {
				return Action{}, err
			}
			switch {
			case pred != nil:
				v = cloneValue(pred)
			case v == nil:
				return skip, nil
			}
		}
		return Action{Kind: ActionSet, Path: path, Node: &language.Argument{Name: FilterArgument, Value: v, Position: existing.Position}}, nil

	case existing == nil && cfg != nil:
		v, err := c.fieldPredicate(cfg, filterType)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionSet, Path: path, Node: &language.Argument{Name: FilterArgument, Value: v, Position: n.Field.Position}}, nil

	case existing != nil && cfg != nil:
		// Keeping the caller's filter unchecked would drop the predicate.
		return Action{}, &InvalidAuthConfigError{
			Message:  fmt.Sprintf("field %s.%s is guarded but its filter argument is not an input object", n.ParentType.Name, n.FieldDef.Name),
			Position: cfg.Position,
		}
	}
	return skip, nil
}

// fieldPredicate materializes cfg for a field whose filter argument has
// type filterType, which may be nil.
func (c *Context) fieldPredicate(cfg *AuthConfig, filterType *schema.Type) (*language.Value, error) {
	target, err := c.predicateFilterType(cfg, filterType)
	if err != nil {
		return nil, err
	}
	pred, err := MaterializePredicate(c, cfg, target)
	if err != nil {
		return nil, err
	}
	return cloneValue(pred), nil
}
