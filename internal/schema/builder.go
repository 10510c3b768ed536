package schema

import (
	"sort"

	language "github.com/hanpama/deepauth/internal/language"
)

func NewSchema(description string) *Schema {
	return &Schema{
		Description: description,
		Types:       make(map[string]*Type),
		Directives:  make(map[string]*Directive),
	}
}

func (s *Schema) SetQueryType(name string) *Schema        { s.QueryType = name; return s }
func (s *Schema) SetMutationType(name string) *Schema     { s.MutationType = name; return s }
func (s *Schema) SetSubscriptionType(name string) *Schema { s.SubscriptionType = name; return s }
func (s *Schema) AddType(t *Type) *Schema                 { s.Types[t.Name] = t; return s }
func (s *Schema) AddDirective(d *Directive) *Schema       { s.Directives[d.Name] = d; return s }

func NewType(name string, kind TypeKind, description string) *Type {
	return &Type{Name: name, Kind: kind, Description: description}
}

func (t *Type) AddField(f *Field) *Type                { t.Fields = append(t.Fields, f); return t }
func (t *Type) AddInterface(name string) *Type         { t.Interfaces = append(t.Interfaces, name); return t }
func (t *Type) AddPossibleType(name string) *Type      { t.PossibleTypes = append(t.PossibleTypes, name); return t }
func (t *Type) AddEnumValue(v *EnumValue) *Type        { t.EnumValues = append(t.EnumValues, v); return t }
func (t *Type) AddInputField(v *InputValue) *Type      { t.InputFields = append(t.InputFields, v); return t }
func (t *Type) SetPosition(p *language.Position) *Type { t.Position = p; return t }

// AddExtension records the directives of one `extend` node.
func (t *Type) AddExtension(directives language.DirectiveList) *Type {
	t.Extensions = append(t.Extensions, directives)
	return t
}

func NewField(name, description string, typ *TypeRef) *Field {
	return &Field{Name: name, Description: description, Type: typ}
}

func (f *Field) AddArgument(a *InputValue) *Field { f.Arguments = append(f.Arguments, a); return f }
func (f *Field) Deprecate(reason string) *Field {
	f.IsDeprecated = true
	f.DeprecationReason = reason
	return f
}

func NewInputValue(name, description string, typ *TypeRef) *InputValue {
	return &InputValue{Name: name, Description: description, Type: typ}
}

func (v *InputValue) SetDefault(value *language.Value) *InputValue { v.DefaultValue = value; return v }
func (v *InputValue) Deprecate(reason string) *InputValue {
	v.IsDeprecated = true
	v.DeprecationReason = reason
	return v
}

func NewEnumValue(name, description string) *EnumValue {
	return &EnumValue{Name: name, Description: description}
}

func (v *EnumValue) Deprecate(reason string) *EnumValue {
	v.IsDeprecated = true
	v.DeprecationReason = reason
	return v
}

func NewDirective(name, description string) *Directive {
	return &Directive{Name: name, Description: description}
}

func (d *Directive) SetRepeatable(r bool) *Directive      { d.IsRepeatable = r; return d }
func (d *Directive) AddArgument(a *InputValue) *Directive { d.Arguments = append(d.Arguments, a); return d }

// BuildFromSDL parses an SDL string and returns the corresponding Schema.
func BuildFromSDL(sdl string) (*Schema, error) {
	return Build(&language.Source{Name: "schema.graphql", Input: sdl})
}

// Build parses and merges the given SDL sources into a Schema.
// Extensions are merged into their base definitions, but the directives
// they carry stay on Type.Extensions.
func Build(sources ...*language.Source) (*Schema, error) {
	doc, err := language.ParseSchemas(sources...)
	if err != nil {
		return nil, err
	}
	return BuildFromDocument(doc)
}

// BuildFromDocument builds a Schema from an already parsed document.
func BuildFromDocument(doc *language.SchemaDocument) (*Schema, error) {
	b := &builder{s: NewSchema("")}
	for _, def := range doc.Definitions {
		b.addDefinition(def)
	}
	for _, ext := range doc.Extensions {
		b.addExtension(ext)
	}
	for _, dir := range doc.Directives {
		b.s.AddDirective(buildDirective(dir))
	}
	b.addBuiltins()
	b.setRootTypes(doc)
	b.linkPossibleTypes()
	b.checkReferences()
	if len(b.violations) > 0 {
		return nil, b.violations
	}
	return b.s, nil
}

type builder struct {
	s          *Schema
	violations ValidationError
}

func (b *builder) addDefinition(def *language.Definition) {
	if _, exists := b.s.Types[def.Name]; exists {
		b.violations = append(b.violations, violationDuplicateType(def.Name, def.Position))
		return
	}
	t := NewType(def.Name, kindOf(def.Kind), def.Description).SetPosition(def.Position)
	t.Directives = def.Directives
	b.mergeMembers(t, def)
	b.s.AddType(t)
}

func (b *builder) addExtension(ext *language.Definition) {
	t := b.s.Types[ext.Name]
	if t == nil {
		b.violations = append(b.violations, violationExtendUnknown(ext.Name, ext.Position))
		return
	}
	if kind := kindOf(ext.Kind); kind != t.Kind {
		b.violations = append(b.violations, violationExtendKind(ext.Name, t.Kind, kind, ext.Position))
		return
	}
	t.AddExtension(ext.Directives)
	b.mergeMembers(t, ext)
}

func (b *builder) mergeMembers(t *Type, def *language.Definition) {
	for _, name := range def.Interfaces {
		t.AddInterface(name)
	}
	for _, name := range def.Types {
		t.AddPossibleType(name)
	}
	for _, v := range def.EnumValues {
		ev := NewEnumValue(v.Name, v.Description)
		if reason, ok := deprecation(v.Directives); ok {
			ev.Deprecate(reason)
		}
		t.AddEnumValue(ev)
	}
	for _, fd := range def.Fields {
		if t.Kind == TypeKindInputObject {
			if t.InputField(fd.Name) != nil {
				b.violations = append(b.violations, violationDuplicateField(t.Kind, fd.Name, t.Name, fd.Position))
				continue
			}
			t.AddInputField(buildInputField(fd))
			continue
		}
		if t.Field(fd.Name) != nil {
			b.violations = append(b.violations, violationDuplicateField(t.Kind, fd.Name, t.Name, fd.Position))
			continue
		}
		t.AddField(buildField(fd))
	}
}

func (b *builder) addBuiltins() {
	for _, bt := range []*Type{stringType, intType, floatType, booleanType, idType} {
		if _, ok := b.s.Types[bt.Name]; !ok {
			b.s.AddType(bt)
		}
	}
	for _, bd := range []*Directive{includeDirective, skipDirective} {
		if _, ok := b.s.Directives[bd.Name]; !ok {
			b.s.AddDirective(bd)
		}
	}
}

func (b *builder) setRootTypes(doc *language.SchemaDocument) {
	explicit := false
	for _, list := range [][]*language.SchemaDefinition{doc.Schema, doc.SchemaExtension} {
		for _, sd := range list {
			for _, ot := range sd.OperationTypes {
				explicit = true
				switch ot.Operation {
				case language.Query:
					b.s.SetQueryType(ot.Type)
				case language.Mutation:
					b.s.SetMutationType(ot.Type)
				case language.Subscription:
					b.s.SetSubscriptionType(ot.Type)
				}
			}
		}
	}
	if explicit {
		return
	}
	if _, ok := b.s.Types["Query"]; ok {
		b.s.SetQueryType("Query")
	}
	if _, ok := b.s.Types["Mutation"]; ok {
		b.s.SetMutationType("Mutation")
	}
	if _, ok := b.s.Types["Subscription"]; ok {
		b.s.SetSubscriptionType("Subscription")
	}
}

func (b *builder) linkPossibleTypes() {
	for _, name := range sortedTypeNames(b.s) {
		t := b.s.Types[name]
		if t.Kind != TypeKindObject {
			continue
		}
		for _, iname := range t.Interfaces {
			if it := b.s.Types[iname]; it != nil && it.Kind == TypeKindInterface {
				it.AddPossibleType(t.Name)
			}
		}
	}
}

func (b *builder) checkReferences() {
	for _, name := range sortedTypeNames(b.s) {
		t := b.s.Types[name]
		for _, iname := range t.Interfaces {
			it := b.s.Types[iname]
			if it == nil {
				b.violations = append(b.violations, violationUnknownType(iname, "type "+t.Name, t.Position))
			} else if it.Kind != TypeKindInterface {
				b.violations = append(b.violations, violationNotInterface(iname, t.Name, t.Position))
			}
		}
		if t.Kind == TypeKindUnion {
			for _, member := range t.PossibleTypes {
				b.checkRef(member, "union "+t.Name, t.Position)
			}
		}
		for _, f := range t.Fields {
			b.checkRef(f.Type.GetNamedType(), "field "+t.Name+"."+f.Name, f.Position)
			for _, a := range f.Arguments {
				b.checkRef(a.Type.GetNamedType(), "argument "+t.Name+"."+f.Name+"("+a.Name+")", a.Position)
			}
		}
		for _, f := range t.InputFields {
			b.checkRef(f.Type.GetNamedType(), "input field "+t.Name+"."+f.Name, f.Position)
		}
	}
}

func (b *builder) checkRef(name, where string, pos *language.Position) {
	if _, ok := b.s.Types[name]; !ok {
		b.violations = append(b.violations, violationUnknownType(name, where, pos))
	}
}

func buildField(def *language.FieldDefinition) *Field {
	f := NewField(def.Name, def.Description, buildTypeRef(def.Type))
	f.Directives = def.Directives
	f.Position = def.Position
	if reason, ok := deprecation(def.Directives); ok {
		f.Deprecate(reason)
	}
	for _, arg := range def.Arguments {
		f.AddArgument(buildArgument(arg))
	}
	return f
}

func buildInputField(def *language.FieldDefinition) *InputValue {
	in := NewInputValue(def.Name, def.Description, buildTypeRef(def.Type)).SetDefault(def.DefaultValue)
	in.Directives = def.Directives
	in.Position = def.Position
	if reason, ok := deprecation(def.Directives); ok {
		in.Deprecate(reason)
	}
	return in
}

func buildArgument(def *language.ArgumentDefinition) *InputValue {
	in := NewInputValue(def.Name, def.Description, buildTypeRef(def.Type)).SetDefault(def.DefaultValue)
	in.Directives = def.Directives
	in.Position = def.Position
	if reason, ok := deprecation(def.Directives); ok {
		in.Deprecate(reason)
	}
	return in
}

func buildDirective(def *language.DirectiveDefinition) *Directive {
	d := NewDirective(def.Name, def.Description).SetRepeatable(def.IsRepeatable)
	for _, loc := range def.Locations {
		d.Locations = append(d.Locations, string(loc))
	}
	for _, arg := range def.Arguments {
		d.AddArgument(buildArgument(arg))
	}
	return d
}

func buildTypeRef(t *language.Type) *TypeRef {
	var ref *TypeRef
	if t.Elem != nil {
		ref = ListType(buildTypeRef(t.Elem))
	} else {
		ref = NamedType(t.NamedType)
	}
	if t.NonNull {
		ref = NonNullType(ref)
	}
	return ref
}

func deprecation(directives language.DirectiveList) (string, bool) {
	d := directives.ForName("deprecated")
	if d == nil {
		return "", false
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw, true
	}
	return "No longer supported", true
}

func kindOf(k language.DefinitionKind) TypeKind {
	switch k {
	case language.Object:
		return TypeKindObject
	case language.Interface:
		return TypeKindInterface
	case language.Union:
		return TypeKindUnion
	case language.Enum:
		return TypeKindEnum
	case language.InputObject:
		return TypeKindInputObject
	default:
		return TypeKindScalar
	}
}

func sortedTypeNames(s *Schema) []string {
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
