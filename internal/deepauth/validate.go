package deepauth

import (
	"sort"
	"strings"

	language "github.com/hanpama/deepauth/internal/language"
	schema "github.com/hanpama/deepauth/internal/schema"
)

// ValidateSchema checks every @deepAuth directive of s. A directive on a
// type must have a template that parses as an object literal of the
// type's `_<T>Filter` input (or of its filterInput); types without such an
// input are not checked. A directive on a field only has its arguments
// checked. All problems are returned together as a schema.ValidationError.
func ValidateSchema(s *schema.Schema) error {
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		if !strings.HasPrefix(name, "__") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var violations schema.ValidationError
	for _, name := range names {
		t := s.Types[name]
		lists := append([]language.DirectiveList{t.Directives}, t.Extensions...)
		for _, list := range lists {
			for _, d := range list.ForNames(DirectiveName) {
				if v := validateTypeDirective(s, t, d); v != nil {
					violations = append(violations, v)
				}
			}
		}
		for _, f := range t.Fields {
			for _, d := range f.Directives.ForNames(DirectiveName) {
				if v := validateFieldDirective(s, t, f, d); v != nil {
					violations = append(violations, v)
				}
			}
		}
	}
	if len(violations) > 0 {
		return violations
	}
	return nil
}

func validateTypeDirective(s *schema.Schema, t *schema.Type, d *language.Directive) *schema.Violation {
	if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
		return schema.NewViolation(d.Position, "@%s is not allowed on %s %q", DirectiveName, t.Kind, t.Name)
	}
	cfg, err := ParseAuthConfig(d)
	if err != nil {
		return schema.NewViolation(d.Position, "%s: %v", t.Name, err)
	}
	filter := cfg.FilterInput
	if filter == "" {
		filter = ConventionalFilterName(t.Name)
		if s.Type(filter) == nil {
			return nil
		}
	}
	ft := s.Type(filter)
	if ft == nil || ft.Kind != schema.TypeKindInputObject {
		return schema.NewViolation(d.Position, "%s: filterInput %q is not an input object type", t.Name, filter)
	}
	if err := checkTemplate(s, cfg.Path, ft); err != nil {
		return schema.NewViolation(d.Position, "%s: %v", t.Name, err)
	}
	return nil
}

func validateFieldDirective(s *schema.Schema, t *schema.Type, f *schema.Field, d *language.Directive) *schema.Violation {
	cfg, err := ParseAuthConfig(d)
	if err != nil {
		return schema.NewViolation(d.Position, "%s.%s: %v", t.Name, f.Name, err)
	}
	if cfg.FilterInput != "" {
		if ft := s.Type(cfg.FilterInput); ft == nil || ft.Kind != schema.TypeKindInputObject {
			return schema.NewViolation(d.Position, "%s.%s: filterInput %q is not an input object type", t.Name, f.Name, cfg.FilterInput)
		}
	}
	return nil
}

// checkTemplate parses the template as written, leaving any variable
// tokens unresolved, and coerces it against filterType.
func checkTemplate(s *schema.Schema, template string, filterType *schema.Type) error {
	v, err := language.ParseValue(template)
	if err != nil {
		return &MalformedPredicateError{Template: template, FilterInput: filterType.Name, Err: err}
	}
	if v.Kind == language.Variable {
		// A template that is a single placeholder is only known per request.
		return nil
	}
	_, err = parsePredicate(s, template, template, filterType)
	return err
}
