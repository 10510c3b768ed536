package deepauth

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"

	language "github.com/hanpama/deepauth/internal/language"
	schema "github.com/hanpama/deepauth/internal/schema"
)

// ValueToGo converts a literal into plain Go values: int64, float64,
// string, bool, nil, []any and map[string]any. Variables are read from
// vars and normalised with the same rules, so a literal and an equal
// variable value convert to the same thing.
func ValueToGo(v *language.Value, vars map[string]any) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case language.Variable:
		raw, ok := vars[v.Raw]
		if !ok {
			return nil
		}
		lit, ok := literalFromGo(raw)
		if !ok {
			return raw
		}
		return ValueToGo(lit, nil)
	case language.IntValue:
		if n, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return n
		}
		return v.Raw
	case language.FloatValue:
		if f, err := strconv.ParseFloat(v.Raw, 64); err == nil {
			return f
		}
		return v.Raw
	case language.BooleanValue:
		return v.Raw == "true"
	case language.NullValue:
		return nil
	case language.ListValue:
		out := make([]any, len(v.Children))
		for i, child := range v.Children {
			out[i] = ValueToGo(child.Value, vars)
		}
		return out
	case language.ObjectValue:
		out := make(map[string]any, len(v.Children))
		for _, child := range v.Children {
			out[child.Name] = ValueToGo(child.Value, vars)
		}
		return out
	default:
		return v.Raw
	}
}

// valuesEqual reports deep structural equality of two literals.
func valuesEqual(a, b *language.Value, vars map[string]any) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(ValueToGo(a, vars), ValueToGo(b, vars))
}

// literalFromGo renders a decoded JSON-like Go value as an untyped literal.
func literalFromGo(v any) (*language.Value, bool) {
	switch v := v.(type) {
	case nil:
		return &language.Value{Kind: language.NullValue, Raw: "null"}, true
	case *language.Value:
		return v, true
	case string:
		return &language.Value{Kind: language.StringValue, Raw: v}, true
	case bool:
		return &language.Value{Kind: language.BooleanValue, Raw: strconv.FormatBool(v)}, true
	case int:
		return intLiteral(int64(v)), true
	case int8:
		return intLiteral(int64(v)), true
	case int16:
		return intLiteral(int64(v)), true
	case int32:
		return intLiteral(int64(v)), true
	case int64:
		return intLiteral(v), true
	case uint8:
		return intLiteral(int64(v)), true
	case uint16:
		return intLiteral(int64(v)), true
	case uint32:
		return intLiteral(int64(v)), true
	case float32:
		return floatLiteral(float64(v)), true
	case float64:
		return floatLiteral(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return intLiteral(n), true
		}
		return &language.Value{Kind: language.FloatValue, Raw: v.String()}, true
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := &language.Value{Kind: language.ObjectValue}
		for _, k := range keys {
			child, ok := literalFromGo(v[k])
			if !ok {
				return nil, false
			}
			out.Children = append(out.Children, &language.ChildValue{Name: k, Value: child})
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := &language.Value{Kind: language.ListValue}
		for i := 0; i < rv.Len(); i++ {
			child, ok := literalFromGo(rv.Index(i).Interface())
			if !ok {
				return nil, false
			}
			out.Children = append(out.Children, &language.ChildValue{Value: child})
		}
		return out, true
	}
	return nil, false
}

func intLiteral(n int64) *language.Value {
	return &language.Value{Kind: language.IntValue, Raw: strconv.FormatInt(n, 10)}
}

// floatLiteral renders integral floats as Int literals. JSON decoding
// produces float64 for every number.
func floatLiteral(f float64) *language.Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return intLiteral(int64(f))
	}
	return &language.Value{Kind: language.FloatValue, Raw: strconv.FormatFloat(f, 'g', -1, 64)}
}

// typedLiteralFromGo is literalFromGo guided by the expected input type:
// strings become enum literals where an enum is expected, and object keys
// follow the input type's field order.
func typedLiteralFromGo(v any, typ *schema.TypeRef, s *schema.Schema) (*language.Value, bool) {
	if v == nil || typ == nil {
		return literalFromGo(v)
	}
	switch typ.Kind {
	case schema.TypeRefKindNonNull:
		return typedLiteralFromGo(v, typ.OfType, s)
	case schema.TypeRefKindList:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return typedLiteralFromGo(v, typ.OfType, s)
		}
		out := &language.Value{Kind: language.ListValue}
		for i := 0; i < rv.Len(); i++ {
			child, ok := typedLiteralFromGo(rv.Index(i).Interface(), typ.OfType, s)
			if !ok {
				return nil, false
			}
			out.Children = append(out.Children, &language.ChildValue{Value: child})
		}
		return out, true
	}

	named := s.Type(typ.Named)
	switch {
	case named == nil:
		return literalFromGo(v)
	case named.Kind == schema.TypeKindEnum:
		if str, ok := v.(string); ok {
			return &language.Value{Kind: language.EnumValue, Raw: str}, true
		}
	case named.Kind == schema.TypeKindInputObject:
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		out := &language.Value{Kind: language.ObjectValue}
		done := make(map[string]bool, len(m))
		for _, f := range named.InputFields {
			fv, present := m[f.Name]
			if !present {
				continue
			}
			child, ok := typedLiteralFromGo(fv, f.Type, s)
			if !ok {
				return nil, false
			}
			out.Children = append(out.Children, &language.ChildValue{Name: f.Name, Value: child})
			done[f.Name] = true
		}
		// Undeclared keys are kept so coercion can report them.
		var rest []string
		for k := range m {
			if !done[k] {
				rest = append(rest, k)
			}
		}
		sort.Strings(rest)
		for _, k := range rest {
			child, ok := literalFromGo(m[k])
			if !ok {
				return nil, false
			}
			out.Children = append(out.Children, &language.ChildValue{Name: k, Value: child})
		}
		return out, true
	}
	return literalFromGo(v)
}
