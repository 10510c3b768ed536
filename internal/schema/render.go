package schema

import (
	"sort"
	"strings"

	language "github.com/hanpama/deepauth/internal/language"
)

// Render produces SDL from the Schema.
// Types and directive definitions are sorted by name. Directives written on
// an extension are rendered as a separate `extend` block after the type so
// that their precedence survives a round trip.
func Render(s *Schema) string {
	if s == nil {
		return ""
	}
	var b strings.Builder

	if s.QueryType != "Query" && s.QueryType != "" || s.MutationType != "" && s.MutationType != "Mutation" ||
		s.SubscriptionType != "" && s.SubscriptionType != "Subscription" {
		renderSchemaDefinition(&b, s)
	}

	for _, name := range sortedTypeNames(s) {
		typ := s.Types[name]
		if isBuiltinType(typ) {
			continue
		}
		renderType(&b, typ)
		for _, ext := range typ.Extensions {
			if len(ext) == 0 {
				continue
			}
			b.WriteString("extend ")
			b.WriteString(keyword(typ.Kind))
			b.WriteString(" ")
			b.WriteString(typ.Name)
			renderDirectives(&b, ext)
			b.WriteString("\n\n")
		}
	}

	directiveNames := make([]string, 0, len(s.Directives))
	for name, d := range s.Directives {
		if !isBuiltinDirective(d) {
			directiveNames = append(directiveNames, name)
		}
	}
	sort.Strings(directiveNames)
	for _, name := range directiveNames {
		renderDirectiveDefinition(&b, s.Directives[name])
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderSchemaDefinition(b *strings.Builder, s *Schema) {
	b.WriteString("schema {\n")
	for _, op := range [][2]string{{"query", s.QueryType}, {"mutation", s.MutationType}, {"subscription", s.SubscriptionType}} {
		if op[1] != "" {
			b.WriteString("  " + op[0] + ": " + op[1] + "\n")
		}
	}
	b.WriteString("}\n\n")
}

func renderType(b *strings.Builder, typ *Type) {
	renderDescription(b, typ.Description, "")
	b.WriteString(keyword(typ.Kind))
	b.WriteString(" ")
	b.WriteString(typ.Name)
	if len(typ.Interfaces) > 0 {
		b.WriteString(" implements ")
		b.WriteString(strings.Join(typ.Interfaces, " & "))
	}
	renderDirectives(b, typ.Directives)

	switch typ.Kind {
	case TypeKindScalar:
	case TypeKindUnion:
		b.WriteString(" = ")
		b.WriteString(strings.Join(typ.PossibleTypes, " | "))
	case TypeKindEnum:
		b.WriteString(" {\n")
		for _, v := range typ.EnumValues {
			renderDescription(b, v.Description, "  ")
			b.WriteString("  ")
			b.WriteString(v.Name)
			if v.IsDeprecated {
				b.WriteString(" @deprecated(reason: ")
				b.WriteString(quote(v.DeprecationReason))
				b.WriteString(")")
			}
			b.WriteString("\n")
		}
		b.WriteString("}")
	case TypeKindInputObject:
		b.WriteString(" {\n")
		for _, f := range typ.InputFields {
			renderDescription(b, f.Description, "  ")
			b.WriteString("  ")
			renderInputValue(b, f)
			b.WriteString("\n")
		}
		b.WriteString("}")
	default:
		b.WriteString(" {\n")
		for _, f := range typ.Fields {
			renderField(b, f)
		}
		b.WriteString("}")
	}
	b.WriteString("\n\n")
}

func renderField(b *strings.Builder, field *Field) {
	renderDescription(b, field.Description, "  ")
	b.WriteString("  ")
	b.WriteString(field.Name)
	renderArguments(b, field.Arguments)
	b.WriteString(": ")
	b.WriteString(field.Type.String())
	renderDirectives(b, field.Directives)
	b.WriteString("\n")
}

func renderArguments(b *strings.Builder, args []*InputValue) {
	if len(args) == 0 {
		return
	}
	b.WriteString("(")
	for i, arg := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		renderInputValue(b, arg)
	}
	b.WriteString(")")
}

func renderInputValue(b *strings.Builder, v *InputValue) {
	b.WriteString(v.Name)
	b.WriteString(": ")
	b.WriteString(v.Type.String())
	if v.DefaultValue != nil {
		b.WriteString(" = ")
		b.WriteString(v.DefaultValue.String())
	}
	renderDirectives(b, v.Directives)
}

func renderDirectives(b *strings.Builder, list language.DirectiveList) {
	for _, d := range list {
		b.WriteString(" @")
		b.WriteString(d.Name)
		if len(d.Arguments) == 0 {
			continue
		}
		b.WriteString("(")
		for i, arg := range d.Arguments {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(arg.Name)
			b.WriteString(": ")
			b.WriteString(arg.Value.String())
		}
		b.WriteString(")")
	}
}

func renderDirectiveDefinition(b *strings.Builder, d *Directive) {
	renderDescription(b, d.Description, "")
	b.WriteString("directive @")
	b.WriteString(d.Name)
	renderArguments(b, d.Arguments)
	if d.IsRepeatable {
		b.WriteString(" repeatable")
	}
	b.WriteString(" on ")
	b.WriteString(strings.Join(d.Locations, " | "))
	b.WriteString("\n\n")
}

func renderDescription(b *strings.Builder, desc, indent string) {
	if desc == "" {
		return
	}
	b.WriteString(indent)
	b.WriteString(quote(desc))
	b.WriteString("\n")
}

func quote(s string) string {
	return (&language.Value{Kind: language.StringValue, Raw: s}).String()
}

func keyword(k TypeKind) string {
	switch k {
	case TypeKindObject:
		return "type"
	case TypeKindInterface:
		return "interface"
	case TypeKindUnion:
		return "union"
	case TypeKindEnum:
		return "enum"
	case TypeKindInputObject:
		return "input"
	default:
		return "scalar"
	}
}
