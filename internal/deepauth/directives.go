package deepauth

import (
	"fmt"
	"strings"

	language "github.com/hanpama/deepauth/internal/language"
	schema "github.com/hanpama/deepauth/internal/schema"
)

// authConfigFrom parses the first @deepAuth directive in list, if any.
func authConfigFrom(list language.DirectiveList) (*AuthConfig, error) {
	d := list.ForName(DirectiveName)
	if d == nil {
		return nil, nil
	}
	return ParseAuthConfig(d)
}

// AuthConfigForType returns the config that applies to selections of t.
//
// For an object type the first match wins in this order: a type extension
// (in source order), the type definition, then the implemented interfaces
// in declaration order. Unions never carry a config.
func AuthConfigForType(s *schema.Schema, t *schema.Type) (*AuthConfig, error) {
	if t == nil {
		return nil, nil
	}
	switch t.Kind {
	case schema.TypeKindObject:
		for _, ext := range t.Extensions {
			if cfg, err := authConfigFrom(ext); cfg != nil || err != nil {
				return cfg, err
			}
		}
		if cfg, err := authConfigFrom(t.Directives); cfg != nil || err != nil {
			return cfg, err
		}
		return authConfigFromInterfaces(s, t.Interfaces)
	case schema.TypeKindInterface:
		return authConfigFromInterfaces(s, []string{t.Name})
	}
	return nil, nil
}

// authConfigFromInterfaces checks each interface's definition, then its
// extensions, before moving on to the next interface.
func authConfigFromInterfaces(s *schema.Schema, names []string) (*AuthConfig, error) {
	for _, name := range names {
		it := s.Type(name)
		if it == nil || it.Kind != schema.TypeKindInterface {
			continue
		}
		if cfg, err := authConfigFrom(it.Directives); cfg != nil || err != nil {
			return cfg, err
		}
		for _, ext := range it.Extensions {
			if cfg, err := authConfigFrom(ext); cfg != nil || err != nil {
				return cfg, err
			}
		}
	}
	return nil, nil
}

// FieldAuthConfig returns the config declared directly on f, if any.
func FieldAuthConfig(f *schema.Field) (*AuthConfig, error) {
	if f == nil {
		return nil, nil
	}
	return authConfigFrom(f.Directives)
}

// AuthConfigForField resolves the config for a selection of f: the field's
// own directive first, then the config of its return type.
func AuthConfigForField(s *schema.Schema, f *schema.Field) (*AuthConfig, error) {
	cfg, err := FieldAuthConfig(f)
	if cfg != nil || err != nil {
		return cfg, err
	}
	return AuthConfigForType(s, s.Type(f.Type.GetNamedType()))
}

// PopulateTemplate substitutes every occurrence of each variable of cfg
// with its request parameter, in configuration order. A string parameter
// whose token sits inside a string literal is escaped so it stays within
// that literal; elsewhere it is inserted verbatim. Any other value is
// rendered as a GraphQL literal.
func PopulateTemplate(cfg *AuthConfig, params Params) (string, error) {
	out := cfg.Path
	for _, name := range cfg.Variables {
		p, ok := params[name]
		if !ok {
			return "", &MissingVariableError{Variable: name, Template: cfg.Path}
		}
		out = substitute(out, name, p)
	}
	return out, nil
}

// substitute replaces every occurrence of name in template with p,
// tracking whether each occurrence is inside a quoted or block string.
func substitute(template, name string, p any) string {
	raw := paramLiteral(p)
	str, isString := p.(string)
	var b strings.Builder
	quoted, block := false, false
	for i := 0; i < len(template); {
		rest := template[i:]
		switch {
		case name != "" && strings.HasPrefix(rest, name):
			if isString && (quoted || block) {
				b.WriteString(escapeString(str, block))
			} else {
				b.WriteString(raw)
			}
			i += len(name)
			continue
		case block && strings.HasPrefix(rest, `\"""`):
			b.WriteString(`\"""`)
			i += 4
			continue
		case !quoted && strings.HasPrefix(rest, `"""`):
			// A block string ends at the last three quotes of a run.
			n := 3
			if block {
				n = len(rest) - len(strings.TrimLeft(rest, `"`))
			}
			block = !block
			b.WriteString(rest[:n])
			i += n
			continue
		case quoted && rest[0] == '\\' && len(rest) > 1:
			b.WriteString(rest[:2])
			i += 2
			continue
		case !block && rest[0] == '"':
			quoted = !quoted
		}
		b.WriteByte(rest[0])
		i++
	}
	return b.String()
}

// escapeString escapes s for the body of a GraphQL string literal.
func escapeString(s string, block bool) string {
	if block {
		return strings.ReplaceAll(s, `"""`, `\"""`)
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func paramLiteral(p any) string {
	switch v := p.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	if lit, ok := literalFromGo(p); ok {
		return lit.String()
	}
	return fmt.Sprint(p)
}

// MaterializePredicate produces the concrete predicate for cfg. When
// filterType is known the predicate is checked against it, so a template
// naming undeclared fields fails here rather than at the data layer.
func MaterializePredicate(c *Context, cfg *AuthConfig, filterType *schema.Type) (*language.Value, error) {
	key := predicateKey{cfg: cfg}
	if filterType != nil {
		key.filter = filterType.Name
	}
	if v, ok := c.predicates[key]; ok {
		return v, nil
	}

	src, err := PopulateTemplate(cfg, c.params)
	if err != nil {
		return nil, err
	}
	pred, err := parsePredicate(c.schema, cfg.Path, src, filterType)
	if err != nil {
		return nil, err
	}
	c.predicates[key] = pred
	return pred, nil
}

func parsePredicate(s *schema.Schema, template, src string, filterType *schema.Type) (*language.Value, error) {
	malformed := func(err error) error {
		e := &MalformedPredicateError{Template: template, Err: err}
		if filterType != nil {
			e.FilterInput = filterType.Name
		}
		return e
	}
	pred, err := language.ParseValue(src)
	if err != nil {
		return nil, malformed(err)
	}
	if pred.Kind != language.ObjectValue {
		return nil, malformed(fmt.Errorf("expected an object literal, got %s", pred.String()))
	}
	if filterType != nil {
		if _, err := coerceLiteral(s, pred, schema.NamedType(filterType.Name)); err != nil {
			return nil, malformed(err)
		}
	}
	return pred, nil
}

type predicateKey struct {
	cfg    *AuthConfig
	filter string
}
