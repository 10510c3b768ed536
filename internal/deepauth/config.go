package deepauth

import (
	"fmt"

	language "github.com/hanpama/deepauth/internal/language"
)

// DirectiveName is the name of the authorization directive.
const DirectiveName = "deepAuth"

// AuthConfig is the parsed form of a @deepAuth directive.
type AuthConfig struct {
	// Path is the predicate template, written as an object literal of the
	// target filter input type.
	Path string
	// Variables lists placeholder tokens in Path, substituted from the
	// request params in this order.
	Variables []string
	// FilterInput optionally names the input type the predicate is
	// coerced against.
	FilterInput string

	Position *language.Position
}

// ParseAuthConfig reads the arguments of a @deepAuth directive.
func ParseAuthConfig(d *language.Directive) (*AuthConfig, error) {
	cfg := &AuthConfig{Position: d.Position}
	seenPath := false
	for _, arg := range d.Arguments {
		switch arg.Name {
		case "path":
			s, err := stringArg(arg)
			if err != nil {
				return nil, err
			}
			cfg.Path = s
			seenPath = true
		case "variables":
			vars, err := stringListArg(arg)
			if err != nil {
				return nil, err
			}
			cfg.Variables = vars
		case "filterInput":
			if arg.Value != nil && arg.Value.Kind == language.NullValue {
				continue
			}
			s, err := stringArg(arg)
			if err != nil {
				return nil, err
			}
			cfg.FilterInput = s
		default:
			return nil, &InvalidAuthConfigError{Message: fmt.Sprintf("unknown argument %q", arg.Name), Position: arg.Position}
		}
	}
	if !seenPath {
		return nil, &InvalidAuthConfigError{Message: `argument "path" is required`, Position: d.Position}
	}
	return cfg, nil
}

func stringArg(arg *language.Argument) (string, error) {
	if arg.Value == nil || (arg.Value.Kind != language.StringValue && arg.Value.Kind != language.BlockValue) {
		return "", &InvalidAuthConfigError{Message: fmt.Sprintf("argument %q must be a string", arg.Name), Position: arg.Position}
	}
	return arg.Value.Raw, nil
}

func stringListArg(arg *language.Argument) ([]string, error) {
	v := arg.Value
	switch {
	case v == nil || v.Kind == language.NullValue:
		return nil, nil
	case v.Kind == language.StringValue:
		return []string{v.Raw}, nil
	case v.Kind != language.ListValue:
		return nil, &InvalidAuthConfigError{Message: fmt.Sprintf("argument %q must be a list of strings", arg.Name), Position: arg.Position}
	}
	out := make([]string, 0, len(v.Children))
	for _, child := range v.Children {
		if child.Value.Kind != language.StringValue {
			return nil, &InvalidAuthConfigError{Message: fmt.Sprintf("argument %q must be a list of strings", arg.Name), Position: child.Value.Position}
		}
		out = append(out, child.Value.Raw)
	}
	return out, nil
}
