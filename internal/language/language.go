package language

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ParseSchemas parses and merges several SDL sources into one document.
func ParseSchemas(sources ...*Source) (*SchemaDocument, error) {
	doc, err := parser.ParseSchemas(sources...)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// valuePrefix wraps a bare literal so the query parser accepts it.
const valuePrefix = "{q(v:"

// ParseValue parses a single GraphQL value literal such as
// `{ name_contains: "x" }`. Reported columns on the first line are
// relative to the literal, not to the wrapping document.
func ParseValue(literal string) (*Value, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "value", Input: valuePrefix + literal + "\n)}"})
	if err != nil {
		if gerr, ok := err.(*gqlerror.Error); ok {
			for i := range gerr.Locations {
				if gerr.Locations[i].Line == 1 && gerr.Locations[i].Column > len(valuePrefix) {
					gerr.Locations[i].Column -= len(valuePrefix)
				}
			}
		}
		return nil, err
	}
	if len(doc.Operations) != 1 || len(doc.Fragments) != 0 {
		return nil, gqlerror.Errorf("value literal %q is not a single value", literal)
	}
	op := doc.Operations[0]
	if len(op.SelectionSet) != 1 {
		return nil, gqlerror.Errorf("value literal %q is not a single value", literal)
	}
	f, ok := op.SelectionSet[0].(*ast.Field)
	if !ok || f.Name != "q" || f.Alias != "q" || len(f.Arguments) != 1 || len(f.SelectionSet) != 0 || len(f.Directives) != 0 {
		return nil, gqlerror.Errorf("value literal %q is not a single value", literal)
	}
	return f.Arguments[0].Value, nil
}

// FormatQuery prints doc as GraphQL source.
func FormatQuery(doc *QueryDocument, compact bool) string {
	var b strings.Builder
	var opts []formatter.FormatterOption
	if compact {
		opts = append(opts, formatter.WithCompacted())
	} else {
		opts = append(opts, formatter.WithIndent("  "))
	}
	formatter.NewFormatter(&b, opts...).FormatQueryDocument(doc)
	return b.String()
}
