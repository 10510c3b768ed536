package deepauth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type visitLog []string

func (l *visitLog) rule(name string, skipAt string) *Rule {
	enter := func(n *Node) error {
		*l = append(*l, fmt.Sprintf("%s enter %s %s", name, n.Kind, label(n)))
		if n.Kind == FieldNode && n.Field.Name == skipAt {
			return ErrSkip
		}
		return nil
	}
	leave := func(n *Node) error {
		*l = append(*l, fmt.Sprintf("%s leave %s %s", name, n.Kind, label(n)))
		return nil
	}
	all := Handlers{Document: enter, Operation: enter, Fragment: enter, Field: enter, InlineFragment: enter, FragmentSpread: enter}
	out := Handlers{Document: leave, Operation: leave, Fragment: leave, Field: leave, InlineFragment: leave, FragmentSpread: leave}
	return &Rule{Enter: all, Leave: out}
}

func label(n *Node) string {
	switch n.Kind {
	case FieldNode:
		return n.Field.Name
	case FragmentNode:
		return n.Fragment.Name
	case FragmentSpreadNode:
		return n.FragmentSpread.Name
	}
	return n.Path.String()
}

func TestWalkOrderAndPaths(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc := mustParseQuery(t, `
		{ User { name ...F ... on User { tasks { name } } } }
		fragment F on User { name }
	`)

	var paths []string
	var parents []string
	rule := &Rule{Enter: Handlers{Field: func(n *Node) error {
		paths = append(paths, n.Path.String())
		parents = append(parents, n.ParentType.Name)
		return nil
	}}}
	require.NoError(t, Walk(doc, s, Parallel(rule)))

	want := []string{
		"operations[0].selections[0]",
		"operations[0].selections[0].selections[0]",
		"operations[0].selections[0].selections[2].selections[0]",
		"operations[0].selections[0].selections[2].selections[0].selections[0]",
		"fragments[0].selections[0]",
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Query", "User", "User", "Task", "User"}, parents); diff != "" {
		t.Errorf("parent types mismatch (-want +got):\n%s", diff)
	}
}

func TestParallelSkipIsPerRule(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc := mustParseQuery(t, `{ Task { name } }`)

	var log visitLog
	require.NoError(t, Walk(doc, s, Parallel(log.rule("a", "Task"), log.rule("b", ""))))

	want := visitLog{
		"a enter Document ",
		"b enter Document ",
		"a enter OperationDefinition operations[0]",
		"b enter OperationDefinition operations[0]",
		"a enter Field Task",
		"b enter Field Task",
		"b enter Field name",
		"b leave Field name",
		"b leave Field Task",
		"a leave OperationDefinition operations[0]",
		"b leave OperationDefinition operations[0]",
		"a leave Document ",
		"b leave Document ",
	}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Errorf("visit log mismatch (-want +got):\n%s", diff)
	}
}

func TestWalkStopsOnError(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc := mustParseQuery(t, `{ Task { name } User { name } }`)

	var seen []string
	boom := errors.New("boom")
	rule := &Rule{Enter: Handlers{Field: func(n *Node) error {
		seen = append(seen, n.Field.Name)
		if n.Field.Name == "name" {
			return boom
		}
		return nil
	}}}
	err := Walk(doc, s, Parallel(rule))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"Task", "name"}, seen)
}

func TestUnknownFieldHasNoDefinition(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	doc := mustParseQuery(t, `{ Task { __typename } }`)

	var defs []bool
	rule := &Rule{Enter: Handlers{Field: func(n *Node) error {
		defs = append(defs, n.FieldDef != nil)
		return nil
	}}}
	require.NoError(t, Walk(doc, s, Parallel(rule)))
	require.Equal(t, []bool{true, false}, defs)
}

func TestComposedRuleSharesContext(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	info, err := ResolveInfoFromDocument(s, mustParseQuery(t, `{ Task { name } Note { text } User { name } }`), "", nil)
	require.NoError(t, err)

	var (
		filterable int
		logged     int
		args       map[string]any
	)
	audit := func(c *Context) *Rule {
		return &Rule{
			Enter: Handlers{Field: func(n *Node) error {
				if n.FieldDef == nil || c.Index().FilterForTarget(n.FieldDef.Type.GetNamedType()) == "" {
					return nil
				}
				count, _ := c.State("filterable").(int)
				c.SetState("filterable", count+1)
				return nil
			}},
			Leave: Handlers{Document: func(*Node) error {
				filterable, _ = c.State("filterable").(int)
				logged = len(c.FromActionMap(AuthFiltersLoc)())
				args = c.Args()
				return nil
			}},
		}
	}

	ctx := WithParams(context.Background(), grootParams)
	_, err = Translate(ctx, map[string]any{"first": 1}, info, WithRules(AuthorizationFilterRule, audit))
	require.NoError(t, err)
	require.Equal(t, 3, filterable)
	require.Equal(t, 6, logged)
	require.Equal(t, map[string]any{"first": 1}, args)
}
