// Package deepauth rewrites GraphQL query documents so that every selection
// guarded by a @deepAuth directive carries its authorization predicate in
// its filter argument.
//
// # Directive
//
// The directive may be placed on object types, interfaces and field
// definitions:
//
//	directive @deepAuth(path: String!, variables: [String], filterInput: String)
//	  on OBJECT | INTERFACE | FIELD_DEFINITION
//
// path is an object literal of the filter input type of the guarded type,
// conventionally `_<T>Filter`. Each token listed in variables is replaced,
// wherever it occurs in path, by the request param of the same name (see
// WithParams). For a selection of a field the first directive found wins:
//  1. the field's own directive,
//  2. a directive on an extension of the return type,
//  3. a directive on the return type's definition,
//  4. a directive on the first implemented interface that has one.
//
// # Rewrite
//
// Translate walks the operation and every fragment once, running the
// composed rules (AuthorizationFilterRule by default) over each field. A
// rule does not edit the document; it logs Actions addressed by Path. Once
// the walk is over the log is replayed by a Coalescer against a copy of the
// document, so a failed rewrite never leaves a partly authorized query.
//
// Existing filters are coerced against their declared input type by
// CoerceInputValue. At every input object whose type filters a guarded
// type, the predicate is merged:
//   - a value equal to the predicate is kept as is,
//   - an AND list that already holds the predicate is kept as is,
//   - an AND list without it gets the predicate appended,
//   - any other value F becomes {AND: [predicate, F]}.
//
// Merging happens at nested boundaries too, so a filter on a related type
// reached through a relationship field is authorized on its own.
//
// # Concurrency
//
// All state lives in a Context built per call. Concurrent calls share only
// the schema, which is read-only.
package deepauth
