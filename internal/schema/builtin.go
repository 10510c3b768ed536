package schema

// Built-in scalars and directives are shared by every built schema and
// are never rendered back to SDL.
var (
	stringType  = NewType("String", TypeKindScalar, "The `String` scalar type represents textual data, represented as UTF-8 character sequences.")
	intType     = NewType("Int", TypeKindScalar, "The `Int` scalar type represents non-fractional signed whole numeric values.")
	floatType   = NewType("Float", TypeKindScalar, "The `Float` scalar type represents signed double-precision fractional values.")
	booleanType = NewType("Boolean", TypeKindScalar, "The `Boolean` scalar type represents `true` or `false`.")
	idType      = NewType("ID", TypeKindScalar, "The `ID` scalar type represents a unique identifier.")

	includeDirective = conditionDirective("include", "Directs the executor to include this field or fragment only when the `if` argument is true.", "Included when true.")
	skipDirective    = conditionDirective("skip", "Directs the executor to skip this field or fragment when the `if` argument is true.", "Skipped when true.")
)

func conditionDirective(name, description, ifDescription string) *Directive {
	d := NewDirective(name, description).
		AddArgument(NewInputValue("if", ifDescription, NonNullType(NamedType("Boolean"))))
	d.Locations = []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"}
	return d
}

// IsBuiltinScalar reports whether name is one of the five specified scalars.
func IsBuiltinScalar(name string) bool {
	switch name {
	case "String", "Int", "Float", "Boolean", "ID":
		return true
	}
	return false
}

func isBuiltinType(t *Type) bool {
	switch t {
	case stringType, intType, floatType, booleanType, idType:
		return true
	}
	return false
}

func isBuiltinDirective(d *Directive) bool {
	return d == includeDirective || d == skipDirective
}
