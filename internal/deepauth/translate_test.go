package deepauth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	language "github.com/hanpama/deepauth/internal/language"
)

const grootPredicate = `{visibleTo_some:{name_contains:"Groot"}}`

func TestTranslateAddsPredicateWithoutFilter(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc, err := translate(t, s, `{ Task { name order } }`, grootParams, nil)
	require.NoError(t, err)

	task := fieldAt(t, doc.Operations[0].SelectionSet, 0)
	require.Equal(t, grootPredicate, filterString(task))
	require.Len(t, task.Arguments, 1)
	require.Equal(t, "", filterString(fieldAt(t, doc.Operations[0].SelectionSet, 0, 0)))
}

func TestTranslateWrapsExistingFilter(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc, err := translate(t, s, `{ Task(first: 2, filter: { name: "Groot" }) { name } }`, grootParams, nil)
	require.NoError(t, err)

	task := fieldAt(t, doc.Operations[0].SelectionSet, 0)
	require.Equal(t, `{AND:[`+grootPredicate+`,{name:"Groot"}]}`, filterString(task))
	require.Equal(t, "first", task.Arguments[0].Name)
	require.Len(t, task.Arguments, 2)
}

func TestTranslateUsesFirstFilterArgument(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc := mustParseQuery(t, `{ Task { name } }`)
	field := doc.Operations[0].SelectionSet[0].(*language.Field)
	field.Arguments = language.ArgumentList{
		{Name: "first", Value: &language.Value{Kind: language.IntValue, Raw: "1"}},
		{Name: "filter", Value: mustParseValue(t, `{ name: "a" }`)},
		{Name: "filter", Value: mustParseValue(t, `{ name: "b" }`)},
	}
	info, err := ResolveInfoFromDocument(s, doc, "", nil)
	require.NoError(t, err)

	out, err := Translate(WithParams(context.Background(), grootParams), nil, info)
	require.NoError(t, err)
	args := out.Operations[0].SelectionSet[0].(*language.Field).Arguments
	require.Len(t, args, 3)
	require.Equal(t, `{AND:[`+grootPredicate+`,{name:"a"}]}`, args[1].Value.String())
	require.Equal(t, `{name:"b"}`, args[2].Value.String())
}

func TestTranslateLeavesUnguardedFilter(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc, err := translate(t, s, `{ Note(filter: { text: "x" }) { text } }`, grootParams, nil)
	require.NoError(t, err)
	require.Equal(t, `{text:"x"}`, filterString(fieldAt(t, doc.Operations[0].SelectionSet, 0)))
}

func TestTranslateNestedSelections(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc, err := translate(t, s, `{
		Task(filter: { visibleTo_some: { name: "x" } }) {
			name
			visibleTo { name }
		}
	}`, grootParams, nil)
	require.NoError(t, err)

	set := doc.Operations[0].SelectionSet
	require.Equal(t,
		`{AND:[`+grootPredicate+`,{visibleTo_some:{AND:[{name:"Groot"},{name:"x"}]}}]}`,
		filterString(fieldAt(t, set, 0)))
	require.Equal(t, `{name:"Groot"}`, filterString(fieldAt(t, set, 0, 1)))
}

func TestTranslateFragments(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	inline, err := translate(t, s, `{ User { ... on User { tasks { name } } } }`, grootParams, nil)
	require.NoError(t, err)
	named, err := translate(t, s, `
		{ User { ...UserTasks } }
		fragment UserTasks on User { tasks { name } }
	`, grootParams, nil)
	require.NoError(t, err)

	require.Equal(t, `{name:"Groot"}`, filterString(fieldAt(t, inline.Operations[0].SelectionSet, 0)))
	require.Equal(t, `{name:"Groot"}`, filterString(fieldAt(t, named.Operations[0].SelectionSet, 0)))

	fromInline := filterString(fieldAt(t, inline.Operations[0].SelectionSet, 0, 0, 0))
	require.Len(t, named.Fragments, 1)
	fromFragment := filterString(fieldAt(t, named.Fragments[0].SelectionSet, 0))
	require.Equal(t, grootPredicate, fromInline)
	require.Equal(t, fromInline, fromFragment)
}

func TestTranslateFieldDirective(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)

	doc, err := translate(t, s, `{ myTasks { name } }`, grootParams, nil)
	require.NoError(t, err)
	require.Equal(t, `{name:"mine"}`, filterString(fieldAt(t, doc.Operations[0].SelectionSet, 0)))

	doc, err = translate(t, s, `{ myTasks(filter: { name_contains: "a", visibleTo_some: { name: "b" } }) { name } }`, grootParams, nil)
	require.NoError(t, err)
	require.Equal(t,
		`{AND:[{name:"mine"},{name_contains:"a",visibleTo_some:{AND:[{name:"Groot"},{name:"b"}]}}]}`,
		filterString(fieldAt(t, doc.Operations[0].SelectionSet, 0)))
}

func TestTranslateVariables(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	query := `query Tasks($f: _TaskFilter, $n: String = "dflt") {
		Task(filter: $f) { name }
		User(filter: { name: $n }) { name }
	}`

	doc, err := translate(t, s, query, grootParams, map[string]any{"f": map[string]any{"name": "x"}})
	require.NoError(t, err)
	set := doc.Operations[0].SelectionSet
	require.Equal(t, `{AND:[`+grootPredicate+`,{name:"x"}]}`, filterString(fieldAt(t, set, 0)))
	require.Equal(t, `{AND:[{name:"Groot"},{name:"dflt"}]}`, filterString(fieldAt(t, set, 1)))

	doc, err = translate(t, s, query, grootParams, nil)
	require.NoError(t, err)
	require.Equal(t, grootPredicate, filterString(fieldAt(t, doc.Operations[0].SelectionSet, 0)))
}

func TestTranslateNullFilterGetsPredicate(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)

	doc, err := translate(t, s, `{
		Task(filter: null) { name }
		User { tasks(filter: null) { name } }
		myTasks(filter: null) { name }
		Note(filter: null) { text }
	}`, grootParams, nil)
	require.NoError(t, err)
	set := doc.Operations[0].SelectionSet
	require.Equal(t, grootPredicate, filterString(fieldAt(t, set, 0)))
	require.Equal(t, grootPredicate, filterString(fieldAt(t, set, 1, 0)))
	require.Equal(t, `{name:"mine"}`, filterString(fieldAt(t, set, 2)))
	require.Equal(t, "null", filterString(fieldAt(t, set, 3)))

	query := `query Tasks($f: _TaskFilter, $g: _NoteFilter) { Task(filter: $f) { name } Note(filter: $g) { text } }`
	doc, err = translate(t, s, query, grootParams, map[string]any{"f": nil, "g": nil})
	require.NoError(t, err)
	set = doc.Operations[0].SelectionSet
	require.Equal(t, grootPredicate, filterString(fieldAt(t, set, 0)))
	require.Equal(t, "null", filterString(fieldAt(t, set, 1)))
}

func TestTranslateDoesNotModifyInput(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc := mustParseQuery(t, `{ Task(filter: { name: "a" }) { name } }`)
	before := language.FormatQuery(doc, true)
	info, err := ResolveInfoFromDocument(s, doc, "", nil)
	require.NoError(t, err)

	_, err = Translate(WithParams(context.Background(), grootParams), nil, info)
	require.NoError(t, err)
	require.Equal(t, before, language.FormatQuery(doc, true))
}

func TestTranslateFailsWholeRewrite(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)

	_, err := translate(t, s, `{ Task { name } User(filter: { bogus: 1 }) { name } }`, grootParams, nil)
	var unknown *UnknownFieldError
	require.True(t, errors.As(err, &unknown), "got %v", err)

	_, err = translate(t, s, `{ Task { name } }`, Params{}, nil)
	var missing *MissingVariableError
	require.True(t, errors.As(err, &missing), "got %v", err)
}

func TestTranslateMalformedTemplate(t *testing.T) {
	s := mustBuildSchema(t, `
		directive @deepAuth(path: String!, variables: [String]) on OBJECT
		type Task @deepAuth(path: "name: 1") { name: String }
		input _TaskFilter { AND: [_TaskFilter!] name: String }
		type Query { Task(filter: _TaskFilter): [Task] }
	`)
	_, err := translate(t, s, `{ Task { name } }`, nil, nil)
	var malformed *MalformedPredicateError
	require.True(t, errors.As(err, &malformed), "got %v", err)
	require.Equal(t, "MALFORMED_PREDICATE", Code(err))
}

func TestTranslateAbortKeepsLoggedActions(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	abortAtTask := func(*Context) *Rule {
		return &Rule{Enter: Handlers{Field: func(n *Node) error {
			if n.Field.Name == "Task" {
				return ErrAbort
			}
			return nil
		}}}
	}

	doc, err := translate(t, s, `{ Task { name } User { name } }`, grootParams, nil,
		WithRules(AuthorizationFilterRule, abortAtTask))
	require.NoError(t, err)
	set := doc.Operations[0].SelectionSet
	require.Equal(t, grootPredicate, filterString(fieldAt(t, set, 0)))
	require.Equal(t, "", filterString(fieldAt(t, set, 1)))
}

func TestTranslateRuleError(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	boom := errors.New("boom")
	failing := func(*Context) *Rule {
		return &Rule{Leave: Handlers{Operation: func(*Node) error { return boom }}}
	}
	_, err := translate(t, s, `{ Task { name } }`, grootParams, nil, WithRules(AuthorizationFilterRule, failing))
	require.ErrorIs(t, err, boom)
}

func TestTranslateCustomCoalescer(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	var kinds []ActionKind
	record := func(m *ActionMap) (*language.QueryDocument, error) {
		for _, a := range m.Get(AuthFiltersLoc)() {
			kinds = append(kinds, a.Kind)
		}
		return m.Original(), nil
	}
	doc, err := translate(t, s, `{ Task { name } Note { text } }`, grootParams, nil, WithCoalescer(record))
	require.NoError(t, err)
	require.Equal(t, "", filterString(fieldAt(t, doc.Operations[0].SelectionSet, 0)))
	if diff := cmp.Diff([]ActionKind{ActionSet, ActionSkip, ActionSkip, ActionSkip}, kinds); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyDeepAuth(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc := mustParseQuery(t, `
		query { Task(filter: { name: "Groot" }) { ...TaskFields } }
		fragment TaskFields on Task { name visibleTo { name } }
	`)
	info, err := ResolveInfoFromDocument(s, doc, "", nil)
	require.NoError(t, err)
	args := map[string]any{"filter": map[string]any{"name": "Groot"}, "first": 3}

	res, err := ApplyDeepAuth(WithParams(context.Background(), grootParams), args, info)
	require.NoError(t, err)

	want := map[string]any{
		"first": 3,
		"filter": map[string]any{"AND": []any{
			map[string]any{"visibleTo_some": map[string]any{"name_contains": "Groot"}},
			map[string]any{"name": "Groot"},
		}},
	}
	if diff := cmp.Diff(want, res.AuthParams); diff != "" {
		t.Errorf("auth params mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, map[string]any{"name": "Groot"}, args["filter"], "caller args must not change")

	frag := res.AuthResolveInfo.Fragments["TaskFields"]
	require.NotNil(t, frag)
	require.Equal(t, `{name:"Groot"}`, filterString(fieldAt(t, frag.SelectionSet, 1)))
	require.NotSame(t, info.Operation, res.AuthResolveInfo.Operation)
	require.Same(t, info.Schema, res.AuthResolveInfo.Schema)
}

func TestApplyDeepAuthDropsFilterWhenRootHasNone(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	info, err := ResolveInfoFromDocument(s, mustParseQuery(t, `{ Note { text } }`), "", nil)
	require.NoError(t, err)

	res, err := ApplyDeepAuth(context.Background(), map[string]any{"filter": "stale"}, info)
	require.NoError(t, err)
	require.NotContains(t, res.AuthParams, "filter")
}

func TestResolveInfoFromDocument(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc := mustParseQuery(t, `query A { Task { name } } query B { Note { text } }`)

	_, err := ResolveInfoFromDocument(s, doc, "", nil)
	require.Error(t, err)
	_, err = ResolveInfoFromDocument(s, doc, "C", nil)
	require.Error(t, err)

	info, err := ResolveInfoFromDocument(s, doc, "B", nil)
	require.NoError(t, err)
	require.Equal(t, "B", info.Operation.Name)
}
