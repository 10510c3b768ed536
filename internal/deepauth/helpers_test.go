package deepauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	language "github.com/hanpama/deepauth/internal/language"
	schema "github.com/hanpama/deepauth/internal/schema"
)

const taskSDL = `
directive @deepAuth(path: String!, variables: [String], filterInput: String) on OBJECT | INTERFACE | FIELD_DEFINITION

type Task @deepAuth(
  path: "{ visibleTo_some: { name_contains: \"$user_id\" } }",
  variables: ["$user_id"]
) {
  name: String
  order: [Int]
  visibleTo(filter: _UserFilter): [User]
}

type User @deepAuth(path: "{ name: \"$user_id\" }", variables: ["$user_id"]) {
  name: String
  tasks(filter: _TaskFilter): [Task]
}

type Note {
  text: String
}

enum NoteKind {
  OPEN
  CLOSED
}

input _TaskFilter {
  AND: [_TaskFilter!]
  name: String
  name_contains: String
  order: [Int]
  visibleTo_some: _UserFilter
}

input _UserFilter {
  AND: [_UserFilter!]
  name: String
  name_contains: String
  tasks_some: _TaskFilter
}

input _NoteFilter {
  text: String
}

input PageInput {
  size: Int!
  after: String
  kind: NoteKind = OPEN
}

type Query {
  Task(filter: _TaskFilter, first: Int): [Task]
  User(filter: _UserFilter): [User]
  Note(filter: _NoteFilter, page: PageInput): [Note]
  myTasks(filter: _TaskFilter): [Task] @deepAuth(path: "{ name: \"$filter_task\" }", variables: ["$filter_task"])
}
`

var grootParams = Params{"$user_id": "Groot", "$filter_task": "mine"}

func mustBuildSchema(t *testing.T, sdl string) *schema.Schema {
	t.Helper()
	s, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	return s
}

func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(q)
	require.NoError(t, err)
	return doc
}

func mustParseValue(t *testing.T, literal string) *language.Value {
	t.Helper()
	v, err := language.ParseValue(literal)
	require.NoError(t, err)
	return v
}

// translate rewrites query against s with params and variables.
func translate(t *testing.T, s *schema.Schema, query string, params Params, vars map[string]any, opts ...Option) (*language.QueryDocument, error) {
	t.Helper()
	info, err := ResolveInfoFromDocument(s, mustParseQuery(t, query), "", vars)
	require.NoError(t, err)
	return Translate(WithParams(context.Background(), params), nil, info, opts...)
}

// fieldAt follows selection indexes from the first operation.
func fieldAt(t *testing.T, set language.SelectionSet, idx ...int) *language.Field {
	t.Helper()
	var f *language.Field
	for _, i := range idx {
		require.Less(t, i, len(set))
		switch sel := set[i].(type) {
		case *language.Field:
			f = sel
			set = sel.SelectionSet
		case *language.InlineFragment:
			set = sel.SelectionSet
		default:
			t.Fatalf("selection %d is a %T", i, sel)
		}
	}
	require.NotNil(t, f)
	return f
}

// filterString renders the filter argument of f, or "" when it has none.
func filterString(f *language.Field) string {
	arg, _ := ExistingFilter(f)
	if arg == nil {
		return ""
	}
	return arg.Value.String()
}
