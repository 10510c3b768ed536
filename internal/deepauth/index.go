package deepauth

import (
	"sort"
	"strings"

	schema "github.com/hanpama/deepauth/internal/schema"
)

// IndexEntry ties a filter input type to the type it filters.
type IndexEntry struct {
	Filter string
	Target *schema.Type
	// Field is the field whose filter argument registered the entry, nil
	// for entries found by naming convention.
	Field *schema.Field
}

// Index maps filter input types to their target types and back. It is
// built once per rewrite and never changes afterwards.
type Index struct {
	schema   *schema.Schema
	byFilter map[string]*IndexEntry
	byTarget map[string]string
}

// NewIndex scans every field of every object type. A field registers its
// filter argument type when that argument is a named input object and
// either the field or its return type carries @deepAuth.
func NewIndex(s *schema.Schema) *Index {
	idx := &Index{
		schema:   s,
		byFilter: map[string]*IndexEntry{},
		byTarget: map[string]string{},
	}
	if s == nil {
		return idx
	}
	names := make([]string, 0, len(s.Types))
	for name, t := range s.Types {
		if t.Kind == schema.TypeKindObject {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		for _, f := range s.Types[name].Fields {
			idx.register(f)
		}
	}
	return idx
}

func (idx *Index) register(f *schema.Field) {
	arg := f.Argument(FilterArgument)
	if arg == nil || arg.Type.Kind != schema.TypeRefKindNamed {
		return
	}
	filter := idx.schema.Type(arg.Type.Named)
	target := idx.schema.Type(f.Type.GetNamedType())
	if filter == nil || filter.Kind != schema.TypeKindInputObject || target == nil {
		return
	}
	fieldLevel := f.Directives.ForName(DirectiveName) != nil
	if !fieldLevel && !hasAuthDirective(idx.schema, target) {
		return
	}
	// The first field wins, except that a field-level directive takes over
	// an entry that has none.
	if prev, ok := idx.byFilter[filter.Name]; ok {
		if !fieldLevel || prev.Field.Directives.ForName(DirectiveName) != nil {
			return
		}
	}
	idx.byFilter[filter.Name] = &IndexEntry{Filter: filter.Name, Target: target, Field: f}
	if _, ok := idx.byTarget[target.Name]; !ok {
		idx.byTarget[target.Name] = filter.Name
	}
}

// TargetForFilter returns the entry for the named filter input type. An
// unregistered `_<T>Filter` input maps to T by convention.
func (idx *Index) TargetForFilter(filter string) *IndexEntry {
	if entry, ok := idx.byFilter[filter]; ok {
		return entry
	}
	if !strings.HasPrefix(filter, "_") || !strings.HasSuffix(filter, "Filter") || len(filter) <= len("_Filter") {
		return nil
	}
	if ft := idx.schema.Type(filter); ft == nil || ft.Kind != schema.TypeKindInputObject {
		return nil
	}
	target := idx.schema.Type(strings.TrimSuffix(strings.TrimPrefix(filter, "_"), "Filter"))
	if target == nil || (target.Kind != schema.TypeKindObject && target.Kind != schema.TypeKindInterface) {
		return nil
	}
	return &IndexEntry{Filter: filter, Target: target}
}

// FilterForTarget returns the name of the filter input type for the named
// type, or "".
func (idx *Index) FilterForTarget(typeName string) string {
	if filter, ok := idx.byTarget[typeName]; ok {
		return filter
	}
	filter := ConventionalFilterName(typeName)
	if ft := idx.schema.Type(filter); ft != nil && ft.Kind == schema.TypeKindInputObject {
		return filter
	}
	return ""
}

// Entries returns the registered entries ordered by filter name.
func (idx *Index) Entries() []*IndexEntry {
	out := make([]*IndexEntry, 0, len(idx.byFilter))
	for _, e := range idx.byFilter {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filter < out[j].Filter })
	return out
}

// ConventionalFilterName returns `_<T>Filter`.
func ConventionalFilterName(typeName string) string {
	return "_" + typeName + "Filter"
}

// hasAuthDirective reports whether t or one of its interfaces carries
// @deepAuth on a definition or an extension.
func hasAuthDirective(s *schema.Schema, t *schema.Type) bool {
	has := func(t *schema.Type) bool {
		if t.Directives.ForName(DirectiveName) != nil {
			return true
		}
		for _, ext := range t.Extensions {
			if ext.ForName(DirectiveName) != nil {
				return true
			}
		}
		return false
	}
	switch t.Kind {
	case schema.TypeKindObject:
		if has(t) {
			return true
		}
		for _, name := range t.Interfaces {
			if it := s.Type(name); it != nil && it.Kind == schema.TypeKindInterface && has(it) {
				return true
			}
		}
	case schema.TypeKindInterface:
		return has(t)
	}
	return false
}
