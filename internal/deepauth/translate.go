package deepauth

import (
	"context"
	"errors"
	"fmt"
	"sort"

	language "github.com/hanpama/deepauth/internal/language"
	schema "github.com/hanpama/deepauth/internal/schema"
)

// ResolveInfo is the part of a resolver's execution info the rewrite
// reads: the schema, the operation being executed, the fragments it may
// spread and the request variables.
type ResolveInfo struct {
	Schema         *schema.Schema
	Operation      *language.OperationDefinition
	Fragments      map[string]*language.FragmentDefinition
	VariableValues map[string]any
}

// ResolveInfoFromDocument selects the named operation of doc. An empty
// name selects the only operation.
func ResolveInfoFromDocument(s *schema.Schema, doc *language.QueryDocument, operationName string, variables map[string]any) (*ResolveInfo, error) {
	op := doc.Operations.ForName(operationName)
	if op == nil {
		if operationName == "" {
			return nil, fmt.Errorf("document has %d operations, an operation name is required", len(doc.Operations))
		}
		return nil, fmt.Errorf("operation %q not found", operationName)
	}
	fragments := make(map[string]*language.FragmentDefinition, len(doc.Fragments))
	for _, f := range doc.Fragments {
		fragments[f.Name] = f
	}
	return &ResolveInfo{Schema: s, Operation: op, Fragments: fragments, VariableValues: variables}, nil
}

type options struct {
	rules     []RuleFactory
	coalescer Coalescer
}

// Option configures Translate and ApplyDeepAuth.
type Option func(*options)

// WithRules replaces the rules run over the document. The default is
// AuthorizationFilterRule alone.
func WithRules(rules ...RuleFactory) Option {
	return func(o *options) { o.rules = rules }
}

// WithCoalescer replaces the replay step. The default is Coalesce.
func WithCoalescer(c Coalescer) Option {
	return func(o *options) { o.coalescer = c }
}

// Translate rewrites the operation of info and its fragments so that every
// guarded selection carries its authorization predicate. The request
// params are read from ctx once (see WithParams). The returned document
// holds the operation followed by the fragments in name order; info is
// not modified.
//
// A rule returning ErrAbort ends the walk early and the actions logged so
// far are replayed. Any other error fails the whole rewrite.
func Translate(ctx context.Context, args map[string]any, info *ResolveInfo, opts ...Option) (*language.QueryDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if info == nil || info.Schema == nil || info.Operation == nil {
		return nil, errors.New("deepauth: resolve info needs a schema and an operation")
	}
	o := options{rules: []RuleFactory{AuthorizationFilterRule}, coalescer: Coalesce}
	for _, opt := range opts {
		opt(&o)
	}

	doc := documentOf(info)
	c := NewContext(info.Schema, ParamsFromContext(ctx), args, variableValues(info))
	c.actionMap = NewActionMap(doc)

	rules := make([]*Rule, 0, len(o.rules))
	for _, f := range o.rules {
		if r := f(c); r != nil {
			rules = append(rules, r)
		}
	}
	if err := Walk(doc, info.Schema, Parallel(rules...)); err != nil && !errors.Is(err, ErrAbort) {
		return nil, err
	}
	return o.coalescer(c.actionMap)
}

// Result is the outcome of ApplyDeepAuth.
type Result struct {
	// AuthParams are the resolver arguments with "filter" replaced by the
	// rewritten root filter, or removed when there is none.
	AuthParams map[string]any
	// AuthResolveInfo is info with the rewritten operation and fragments.
	AuthResolveInfo *ResolveInfo
}

// Document reassembles the rewritten operation and its fragments.
func (r *Result) Document() *language.QueryDocument { return documentOf(r.AuthResolveInfo) }

// ApplyDeepAuth runs Translate and splits the rewritten document back into
// resolve info. The filter of the operation's first root field is also
// returned as a plain value in AuthParams, for executors that read it from
// resolver arguments rather than from the document.
func ApplyDeepAuth(ctx context.Context, args map[string]any, info *ResolveInfo, opts ...Option) (*Result, error) {
	doc, err := Translate(ctx, args, info, opts...)
	if err != nil {
		return nil, err
	}
	if len(doc.Operations) == 0 {
		return nil, errors.New("deepauth: rewritten document has no operation")
	}

	authInfo := *info
	authInfo.Operation = doc.Operations[0]
	authInfo.Fragments = make(map[string]*language.FragmentDefinition, len(doc.Fragments))
	for _, f := range doc.Fragments {
		authInfo.Fragments[f.Name] = f
	}

	params := make(map[string]any, len(args)+1)
	for k, v := range args {
		params[k] = v
	}
	delete(params, FilterArgument)
	if sel := authInfo.Operation.SelectionSet; len(sel) > 0 {
		if field, ok := sel[0].(*language.Field); ok {
			if arg, _ := ExistingFilter(field); arg != nil {
				params[FilterArgument] = ValueToGo(arg.Value, variableValues(info))
			}
		}
	}
	return &Result{AuthParams: params, AuthResolveInfo: &authInfo}, nil
}

// documentOf assembles the walked document: the operation followed by
// every fragment of info in name order.
func documentOf(info *ResolveInfo) *language.QueryDocument {
	doc := &language.QueryDocument{Operations: language.OperationList{info.Operation}}
	names := make([]string, 0, len(info.Fragments))
	for name := range info.Fragments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		doc.Fragments = append(doc.Fragments, info.Fragments[name])
	}
	return doc
}

// variableValues returns the request variables with operation defaults
// filled in for the ones not given.
func variableValues(info *ResolveInfo) map[string]any {
	vars := make(map[string]any, len(info.VariableValues))
	for k, v := range info.VariableValues {
		vars[k] = v
	}
	for _, def := range info.Operation.VariableDefinitions {
		if _, ok := vars[def.Variable]; ok || def.DefaultValue == nil {
			continue
		}
		vars[def.Variable] = ValueToGo(def.DefaultValue, nil)
	}
	return vars
}
