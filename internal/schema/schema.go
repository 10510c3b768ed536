package schema

import language "github.com/hanpama/deepauth/internal/language"

// Schema represents the complete GraphQL schema
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type // All named types keyed by name
	Directives       map[string]*Directive
	Description      string
}

// GetQueryType returns the root query type (may be nil if absent)
func (s *Schema) GetQueryType() *Type { return s.Types[s.QueryType] }

// GetMutationType returns the root mutation type (may be nil if absent)
func (s *Schema) GetMutationType() *Type { return s.Types[s.MutationType] }

// GetSubscriptionType returns the root subscription type (may be nil if absent)
func (s *Schema) GetSubscriptionType() *Type { return s.Types[s.SubscriptionType] }

// RootType returns the root type for an operation kind.
func (s *Schema) RootType(op language.Operation) *Type {
	switch op {
	case language.Mutation:
		return s.GetMutationType()
	case language.Subscription:
		return s.GetSubscriptionType()
	default:
		return s.GetQueryType()
	}
}

// Type returns the named type or nil.
func (s *Schema) Type(name string) *Type {
	if s == nil {
		return nil
	}
	return s.Types[name]
}

// Type is a named GraphQL type (object, interface, union, scalar, enum, input).
//
// Directives holds the directives written on the type definition itself.
// Extensions holds the directives of every `extend` node in source order,
// one list per extension, so callers can tell the two apart.
type Type struct {
	Name          string
	Kind          TypeKind
	Description   string
	Fields        []*Field      // For OBJECT and INTERFACE
	Interfaces    []string      // For OBJECT and INTERFACE, declaration order
	PossibleTypes []string      // For INTERFACE and UNION
	EnumValues    []*EnumValue  // For ENUM
	InputFields   []*InputValue // For INPUT_OBJECT
	Directives    language.DirectiveList
	Extensions    []language.DirectiveList
	Position      *language.Position `json:"-"`
}

// Field returns the field named name or nil.
func (t *Type) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// InputField returns the input field named name or nil.
func (t *Type) InputField(name string) *InputValue {
	for _, f := range t.InputFields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// EnumValue returns the enum value named name or nil.
func (t *Type) EnumValue(name string) *EnumValue {
	for _, v := range t.EnumValues {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// IsComposite reports whether t can carry a selection set.
func (t *Type) IsComposite() bool {
	return t != nil && (t.Kind == TypeKindObject || t.Kind == TypeKindInterface || t.Kind == TypeKindUnion)
}

// Field represents a field on an object or interface
type Field struct {
	Name              string
	Description       string
	Type              *TypeRef
	Arguments         []*InputValue
	Directives        language.DirectiveList
	IsDeprecated      bool
	DeprecationReason string
	Position          *language.Position `json:"-"`
}

// Argument returns the argument definition named name or nil.
func (f *Field) Argument(name string) *InputValue {
	for _, a := range f.Arguments {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// TypeKind represents the kind of GraphQL type
type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// TypeRef represents a reference to a type (can be wrapped)
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef // For List and NonNull
	Named  string   // For named types
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

// Helper functions for TypeRef
func (t *TypeRef) IsNonNull() bool {
	return t != nil && t.Kind == TypeRefKindNonNull
}

func (t *TypeRef) IsList() bool {
	if t.Kind == TypeRefKindList {
		return true
	}
	if t.Kind == TypeRefKindNonNull && t.OfType != nil {
		return t.OfType.Kind == TypeRefKindList
	}
	return false
}

func (t *TypeRef) Unwrap() *TypeRef {
	if t.Kind == TypeRefKindNonNull || t.Kind == TypeRefKindList {
		return t.OfType
	}
	return t
}

func (t *TypeRef) GetNamedType() string {
	current := t
	for current != nil {
		if current.Named != "" {
			return current.Named
		}
		current = current.OfType
	}
	return ""
}

// String renders the reference in SDL notation, e.g. `[_TaskFilter!]`.
func (t *TypeRef) String() string {
	switch t.Kind {
	case TypeRefKindNonNull:
		return t.OfType.String() + "!"
	case TypeRefKindList:
		return "[" + t.OfType.String() + "]"
	default:
		return t.Named
	}
}

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

// InputValue is an argument or an input object field.
// DefaultValue is kept as the literal written in the schema.
type InputValue struct {
	Name              string
	Description       string
	Type              *TypeRef
	DefaultValue      *language.Value `json:",omitempty"`
	Directives        language.DirectiveList
	IsDeprecated      bool
	DeprecationReason string
	Position          *language.Position `json:"-"`
}

type Directive struct {
	Name         string
	Description  string
	Locations    []string
	Arguments    []*InputValue
	IsRepeatable bool
}

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }

// IsNonNull reports whether the type is wrapped with Non-Null.
func IsNonNull(t *TypeRef) bool { return t != nil && t.IsNonNull() }

// IsList reports whether the type is (or is wrapped by) a list type.
func IsList(t *TypeRef) bool { return t != nil && t.IsList() }

// Unwrap removes one layer of Non-Null or List wrapping and returns the inner type.
func Unwrap(t *TypeRef) *TypeRef { return t.Unwrap() }

// GetNamedType returns the innermost named type for the given reference.
func GetNamedType(t *TypeRef) string { return t.GetNamedType() }
