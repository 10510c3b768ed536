package deepauth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	s := mustBuildSchema(t, taskSDL)
	idx := NewIndex(s)

	var filters []string
	for _, e := range idx.Entries() {
		filters = append(filters, e.Filter+"->"+e.Target.Name+"@"+e.Field.Name)
	}
	// Query.myTasks carries its own directive and takes over _TaskFilter.
	require.Equal(t, []string{"_TaskFilter->Task@myTasks", "_UserFilter->User@User"}, filters)

	require.Equal(t, "_TaskFilter", idx.FilterForTarget("Task"))
	require.Equal(t, "_NoteFilter", idx.FilterForTarget("Note"))
	require.Equal(t, "", idx.FilterForTarget("Query"))

	note := idx.TargetForFilter("_NoteFilter")
	require.NotNil(t, note)
	require.Equal(t, "Note", note.Target.Name)
	require.Nil(t, note.Field)

	require.Nil(t, idx.TargetForFilter("PageInput"))
	require.Nil(t, idx.TargetForFilter("_Filter"))
	require.Nil(t, idx.TargetForFilter("_MissingFilter"))
}

func TestIndexSkipsUnguardedAndWrappedFilters(t *testing.T) {
	s := mustBuildSchema(t, `
		directive @deepAuth(path: String!, variables: [String]) on OBJECT | INTERFACE | FIELD_DEFINITION
		interface Node @deepAuth(path: "{ id: 1 }") { id: Int }
		type A implements Node { id: Int }
		type B { id: Int }
		input AFilter { id: Int }
		input BFilter { id: Int }
		type Query {
			a(filter: AFilter): [A]
			aList(filter: [AFilter]): [A]
			b(filter: BFilter): [B]
		}
	`)
	idx := NewIndex(s)
	entries := idx.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "AFilter", entries[0].Filter)
	require.Equal(t, "a", entries[0].Field.Name)
	require.Equal(t, "AFilter", idx.FilterForTarget("A"))

	c := NewContext(s, nil, nil, nil)
	cfg, err := c.FilterAuthConfig("AFilter")
	require.NoError(t, err)
	require.Equal(t, "{ id: 1 }", cfg.Path)
	cfg, err = c.FilterAuthConfig("BFilter")
	require.NoError(t, err)
	require.Nil(t, cfg)
}
