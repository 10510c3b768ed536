package deepauth

import (
	"fmt"
	"strconv"

	language "github.com/hanpama/deepauth/internal/language"
	schema "github.com/hanpama/deepauth/internal/schema"
)

// ConjunctionField is the input field that holds a list of filters which
// must all hold.
const ConjunctionField = "AND"

// DisjunctionField is the input field that holds a list of alternatives.
const DisjunctionField = "OR"

// isLogicalField reports whether name combines filters of the enclosing
// type rather than following a relationship.
func isLogicalField(name string) bool {
	return name == ConjunctionField || name == DisjunctionField
}

// CoerceInputValue validates value against typ and returns a new literal
// in which the authorization predicate of every filter input type reached
// along the way is merged in. The input literal is never modified.
//
// Variables are substituted from the context's variable values. An absent
// value (nil, or a variable without a value) coerces to nil.
func CoerceInputValue(value *language.Value, typ *schema.TypeRef, c *Context) (*language.Value, error) {
	co := &coercer{schema: c.schema, ctx: c, vars: c.variables}
	return co.coerce(value, typ, frame{root: true})
}

// coerceLiteral checks value against typ without merging any predicate.
func coerceLiteral(s *schema.Schema, value *language.Value, typ *schema.TypeRef) (*language.Value, error) {
	co := &coercer{schema: s}
	return co.coerce(value, typ, frame{root: true})
}

type coercer struct {
	schema *schema.Schema
	ctx    *Context // nil disables authorization merge
	vars   map[string]any

	// rootConfig replaces the index lookup at the outermost input object.
	rootConfig *AuthConfig
}

type frame struct {
	path string
	// skipMerge names a filter type whose predicate was already merged
	// by the enclosing object, so the items of its AND and OR lists are
	// left alone. Relationship fields never inherit it.
	skipMerge string
	root      bool
}

func (f frame) field(name string) frame {
	p := name
	if f.path != "" {
		p = f.path + "." + name
	}
	return frame{path: p}
}

func (f frame) index(i int) frame {
	return frame{path: f.path + "[" + strconv.Itoa(i) + "]", skipMerge: f.skipMerge, root: f.root}
}

func (co *coercer) coerce(v *language.Value, typ *schema.TypeRef, f frame) (*language.Value, error) {
	if v != nil && v.Kind == language.Variable {
		v = co.variable(v, typ)
	}

	if typ.IsNonNull() {
		if v == nil || v.Kind == language.NullValue {
			return nil, &MissingRequiredValueError{Path: f.path, Type: typ.String(), Position: position(v)}
		}
		return co.coerce(v, typ.OfType, f)
	}
	if v == nil {
		return nil, nil
	}
	if v.Kind == language.NullValue {
		return cloneValue(v), nil
	}

	if typ.Kind == schema.TypeRefKindList {
		if v.Kind != language.ListValue {
			// A single item stands for a list of one.
			item, err := co.coerce(v, typ.OfType, f)
			if err != nil {
				return nil, err
			}
			return &language.Value{Kind: language.ListValue, Position: v.Position,
				Children: language.ChildValueList{{Value: item, Position: v.Position}}}, nil
		}
		out := &language.Value{Kind: language.ListValue, Position: v.Position}
		for i, child := range v.Children {
			item, err := co.coerce(child.Value, typ.OfType, f.index(i))
			if err != nil {
				return nil, err
			}
			if item == nil {
				item = nullValue(child.Position)
			}
			out.Children = append(out.Children, &language.ChildValue{Value: item, Position: child.Position})
		}
		return out, nil
	}

	named := co.schema.Type(typ.Named)
	if named == nil {
		return nil, &InvalidLiteralError{Path: f.path, Type: typ.Named, Value: v.String(), Reason: "unknown type", Position: v.Position}
	}
	switch named.Kind {
	case schema.TypeKindInputObject:
		return co.inputObject(v, named, f)
	case schema.TypeKindEnum:
		if v.Kind != language.EnumValue || named.EnumValue(v.Raw) == nil {
			return nil, &InvalidLiteralError{Path: f.path, Type: named.Name, Value: v.String(), Position: v.Position}
		}
		return cloneValue(v), nil
	case schema.TypeKindScalar:
		if err := checkScalar(v, named.Name); err != "" {
			return nil, &InvalidLiteralError{Path: f.path, Type: named.Name, Value: v.String(), Reason: err, Position: v.Position}
		}
		return cloneValue(v), nil
	default:
		return nil, &InvalidLiteralError{Path: f.path, Type: named.Name, Value: v.String(), Reason: "not an input type", Position: v.Position}
	}
}

// variable resolves a variable reference to a literal, or nil when the
// request has no value for it.
func (co *coercer) variable(v *language.Value, typ *schema.TypeRef) *language.Value {
	raw, ok := co.vars[v.Raw]
	if !ok {
		return nil
	}
	lit, ok := typedLiteralFromGo(raw, typ, co.schema)
	if !ok {
		return &language.Value{Kind: language.StringValue, Raw: fmt.Sprint(raw), Position: v.Position}
	}
	lit = cloneValue(lit)
	setPosition(lit, v.Position)
	return lit
}

// checkScalar returns a reason when v is not a literal of the scalar.
// Custom scalars accept any literal.
func checkScalar(v *language.Value, scalar string) string {
	switch scalar {
	case "Int":
		if v.Kind != language.IntValue {
			return "expected an integer"
		}
		if _, err := strconv.ParseInt(v.Raw, 10, 32); err != nil {
			return "not a 32-bit integer"
		}
	case "Float":
		if v.Kind != language.IntValue && v.Kind != language.FloatValue {
			return "expected a number"
		}
	case "String":
		if v.Kind != language.StringValue && v.Kind != language.BlockValue {
			return "expected a string"
		}
	case "Boolean":
		if v.Kind != language.BooleanValue {
			return "expected a boolean"
		}
	case "ID":
		if v.Kind != language.StringValue && v.Kind != language.IntValue {
			return "expected a string or integer"
		}
	}
	return ""
}

func (co *coercer) inputObject(v *language.Value, t *schema.Type, f frame) (*language.Value, error) {
	if v.Kind != language.ObjectValue {
		return nil, &InvalidLiteralError{Path: f.path, Type: t.Name, Value: v.String(), Reason: "expected an input object", Position: v.Position}
	}

	var pred *language.Value
	if co.ctx != nil && t.Name != f.skipMerge {
		p, err := co.predicate(t, f.root)
		if err != nil {
			return nil, err
		}
		pred = p
	}
	if pred != nil && valuesEqual(v, pred, co.vars) {
		return cloneValue(v), nil
	}

	out := &language.Value{Kind: language.ObjectValue, Position: v.Position}
	present := make(map[string]bool, len(v.Children))
	seen := make(map[string]bool, len(v.Children))
	var conj *language.Value
	conjHasPred := false

	for _, child := range v.Children {
		cf := f.field(child.Name)
		if seen[child.Name] {
			return nil, &InvalidLiteralError{Path: cf.path, Type: t.Name, Value: v.String(), Reason: "duplicate field " + child.Name, Position: child.Position}
		}
		seen[child.Name] = true

		def := t.InputField(child.Name)
		if def == nil {
			return nil, &UnknownFieldError{Path: f.path, Field: child.Name, Type: t.Name, Position: child.Position}
		}

		val := child.Value
		if val != nil && val.Kind == language.Variable {
			val = co.variable(val, def.Type)
		}
		if pred != nil && isLogicalField(child.Name) {
			cf.skipMerge = t.Name
		}

		var coerced *language.Value
		var err error
		switch {
		case pred != nil && child.Name == ConjunctionField && val != nil &&
			(val.Kind == language.ListValue || val.Kind == language.NullValue):
			// AND: null counts as an empty list so the predicate lands in it.
			coerced = &language.Value{Kind: language.ListValue, Position: val.Position}
			for i, el := range val.Children {
				item := cloneValue(el.Value)
				if valuesEqual(el.Value, pred, co.vars) {
					conjHasPred = true
				} else if item, err = co.coerce(el.Value, listItemType(def.Type), cf.index(i)); err != nil {
					return nil, err
				}
				if item == nil {
					item = nullValue(el.Position)
				}
				coerced.Children = append(coerced.Children, &language.ChildValue{Value: item, Position: el.Position})
			}
			conj = coerced
		case pred != nil && valuesEqual(val, pred, co.vars):
			coerced = cloneValue(val)
		default:
			coerced, err = co.coerce(val, def.Type, cf)
			if err != nil {
				return nil, err
			}
		}
		if coerced == nil {
			continue
		}
		present[child.Name] = true
		out.Children = append(out.Children, &language.ChildValue{Name: child.Name, Value: coerced, Position: child.Position})
	}

	for _, def := range t.InputFields {
		if present[def.Name] {
			continue
		}
		if def.DefaultValue != nil {
			out.Children = append(out.Children, &language.ChildValue{Name: def.Name, Value: cloneValue(def.DefaultValue)})
			continue
		}
		if def.Type.IsNonNull() {
			return nil, &MissingRequiredValueError{Path: f.field(def.Name).path, Type: def.Type.String(), Position: v.Position}
		}
	}

	switch {
	case pred == nil || conjHasPred:
		return out, nil
	case conj != nil:
		conj.Children = append(conj.Children, &language.ChildValue{Value: cloneValue(pred)})
		return out, nil
	case t.InputField(ConjunctionField) == nil:
		return nil, &UnknownFieldError{Path: f.path, Field: ConjunctionField, Type: t.Name, Position: v.Position}
	default:
		return &language.Value{
			Kind:     language.ObjectValue,
			Position: v.Position,
			Children: language.ChildValueList{{
				Name: ConjunctionField,
				Value: &language.Value{Kind: language.ListValue, Children: language.ChildValueList{
					{Value: cloneValue(pred)},
					{Value: out},
				}},
			}},
		}, nil
	}
}

// predicate returns the materialized predicate guarding filter type t,
// or nil when t guards nothing.
func (co *coercer) predicate(t *schema.Type, root bool) (*language.Value, error) {
	cfg := co.rootConfig
	if !root || cfg == nil {
		var err error
		cfg, err = co.ctx.FilterAuthConfig(t.Name)
		if err != nil || cfg == nil {
			return nil, err
		}
	}
	target, err := co.ctx.predicateFilterType(cfg, t)
	if err != nil {
		return nil, err
	}
	return MaterializePredicate(co.ctx, cfg, target)
}

func listItemType(t *schema.TypeRef) *schema.TypeRef {
	if t.IsNonNull() {
		t = t.OfType
	}
	if t.Kind == schema.TypeRefKindList {
		return t.OfType
	}
	return t
}

func nullValue(pos *language.Position) *language.Value {
	return &language.Value{Kind: language.NullValue, Raw: "null", Position: pos}
}

func position(v *language.Value) *language.Position {
	if v == nil {
		return nil
	}
	return v.Position
}

func setPosition(v *language.Value, pos *language.Position) {
	v.Position = pos
	for _, child := range v.Children {
		child.Position = pos
		setPosition(child.Value, pos)
	}
}
