package deepauth

import (
	"context"
	"fmt"

	language "github.com/hanpama/deepauth/internal/language"
	schema "github.com/hanpama/deepauth/internal/schema"
)

// Params is the request-scoped bag whose entries replace the variables of
// predicate templates. Keys are the placeholder tokens, e.g. "$user_id".
type Params map[string]any

type contextKey string

// ParamsKey is the context key WithParams stores the bag under.
const ParamsKey contextKey = "deepAuthParams"

// WithParams returns a copy of ctx carrying params.
func WithParams(ctx context.Context, params Params) context.Context {
	return context.WithValue(ctx, ParamsKey, params)
}

// ParamsFromContext returns the bag stored by WithParams, or nil.
func ParamsFromContext(ctx context.Context) Params {
	p, _ := ctx.Value(ParamsKey).(Params)
	return p
}

// Context is the state of a single rewrite. It is built once per call,
// owned by that call and never shared, so it needs no locking.
type Context struct {
	schema    *schema.Schema
	params    Params
	args      map[string]any
	variables map[string]any
	index     *Index

	actions   []Action
	state     map[string]any
	actionMap *ActionMap

	configs    map[string]*AuthConfig
	predicates map[predicateKey]*language.Value
}

// NewContext indexes s and returns an empty context. params is used as
// given; the context never looks it up anywhere else.
func NewContext(s *schema.Schema, params Params, args, variables map[string]any) *Context {
	if variables == nil {
		variables = map[string]any{}
	}
	return &Context{
		schema:     s,
		params:     params,
		args:       args,
		variables:  variables,
		index:      NewIndex(s),
		state:      map[string]any{},
		actionMap:  NewActionMap(nil),
		configs:    map[string]*AuthConfig{},
		predicates: map[predicateKey]*language.Value{},
	}
}

func (c *Context) Schema() *schema.Schema                { return c.schema }
func (c *Context) Params() Params                        { return c.params }
func (c *Context) Args() map[string]any                  { return c.args }
func (c *Context) VariableValues() map[string]any        { return c.variables }
func (c *Context) Index() *Index                         { return c.index }
func (c *Context) AddAuthAction(a Action)                { c.actions = append(c.actions, a) }
func (c *Context) AuthActions() []Action                 { return c.actions }
func (c *Context) SetState(key string, value any)        { c.state[key] = value }
func (c *Context) State(key string) any                  { return c.state[key] }
func (c *Context) ActionMap() *ActionMap                 { return c.actionMap }
func (c *Context) FromActionMap(loc string) ActionSource { return c.actionMap.Get(loc) }

// PostToActionMap registers src under loc for the coalescer.
func (c *Context) PostToActionMap(loc string, src ActionSource) {
	c.actionMap.Post(loc, src)
}

// FilterAuthConfig returns the config guarding values of the named filter
// input type at nested boundaries, or nil. The filtered type's own config
// comes first: a nested filter selects related objects of that type, not
// the field that registered the filter in the index, whose directive
// applies only to that field's own argument (see AuthConfigForField). The
// field-level config recorded by the index is used when the type has none.
func (c *Context) FilterAuthConfig(filter string) (*AuthConfig, error) {
	if cfg, ok := c.configs[filter]; ok {
		return cfg, nil
	}
	entry := c.index.TargetForFilter(filter)
	if entry == nil {
		c.configs[filter] = nil
		return nil, nil
	}
	cfg, err := AuthConfigForType(c.schema, entry.Target)
	if err != nil {
		return nil, err
	}
	if cfg == nil && entry.Field != nil {
		if cfg, err = FieldAuthConfig(entry.Field); err != nil {
			return nil, err
		}
	}
	c.configs[filter] = cfg
	return cfg, nil
}

// FilterInputFor returns the declared type of f's filter argument when it
// is an input object.
func (c *Context) FilterInputFor(f *schema.Field) (*schema.TypeRef, *schema.Type) {
	arg := f.Argument(FilterArgument)
	if arg == nil {
		return nil, nil
	}
	t := c.schema.Type(arg.Type.GetNamedType())
	if t == nil || t.Kind != schema.TypeKindInputObject {
		return nil, nil
	}
	return arg.Type, t
}

// predicateFilterType picks the input type a predicate of cfg is checked
// against: its filterInput when set, fallback otherwise.
func (c *Context) predicateFilterType(cfg *AuthConfig, fallback *schema.Type) (*schema.Type, error) {
	if cfg.FilterInput == "" {
		return fallback, nil
	}
	t := c.schema.Type(cfg.FilterInput)
	if t == nil || t.Kind != schema.TypeKindInputObject {
		return nil, &InvalidAuthConfigError{
			Message:  fmt.Sprintf("filterInput %q is not an input object type", cfg.FilterInput),
			Position: cfg.Position,
		}
	}
	return t, nil
}
