package deepauth

import (
	"errors"
	"fmt"

	language "github.com/hanpama/deepauth/internal/language"
)

// Walk control values. A rule handler returns ErrSkip to stop visiting the
// current node's subtree for that rule only, and ErrAbort to stop the
// whole walk. Neither is reported as a failure.
var (
	ErrSkip  = errors.New("deepauth: skip subtree")
	ErrAbort = errors.New("deepauth: abort walk")
)

// MalformedPredicateError reports a predicate template that does not
// produce an object literal of the target filter input type.
type MalformedPredicateError struct {
	Template    string
	FilterInput string
	Err         error
}

func (e *MalformedPredicateError) Error() string {
	if e.FilterInput != "" {
		return fmt.Sprintf("malformed deepAuth predicate %q for %s: %v", e.Template, e.FilterInput, e.Err)
	}
	return fmt.Sprintf("malformed deepAuth predicate %q: %v", e.Template, e.Err)
}

func (e *MalformedPredicateError) Unwrap() error { return e.Err }

// MissingRequiredValueError reports a null or absent value for a non-null
// input type that has no default.
type MissingRequiredValueError struct {
	Path     string
	Type     string
	Position *language.Position
}

func (e *MissingRequiredValueError) Error() string {
	return fmt.Sprintf("%s: value of non-null type %s is required", displayPath(e.Path), e.Type)
}

// InvalidLiteralError reports a literal that does not fit its declared type.
type InvalidLiteralError struct {
	Path     string
	Type     string
	Value    string
	Reason   string
	Position *language.Position
}

func (e *InvalidLiteralError) Error() string {
	msg := fmt.Sprintf("%s: %s is not a valid %s", displayPath(e.Path), e.Value, e.Type)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// UnknownFieldError reports a key that the input object type does not declare.
type UnknownFieldError struct {
	Path     string
	Field    string
	Type     string
	Position *language.Position
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s: field %q is not defined on %s", displayPath(e.Path), e.Field, e.Type)
}

// MissingVariableError reports a predicate variable absent from the
// request parameters.
type MissingVariableError struct {
	Variable string
	Template string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("deepAuth variable %s is not present in request params (template %q)", e.Variable, e.Template)
}

// InvalidAuthConfigError reports a @deepAuth directive whose arguments
// have the wrong shape.
type InvalidAuthConfigError struct {
	Message  string
	Position *language.Position
}

func (e *InvalidAuthConfigError) Error() string {
	if e.Position != nil {
		return fmt.Sprintf("invalid @%s directive at %d:%d: %s", DirectiveName, e.Position.Line, e.Position.Column, e.Message)
	}
	return fmt.Sprintf("invalid @%s directive: %s", DirectiveName, e.Message)
}

// Code returns a stable machine readable code for err, used as the
// `extensions.code` of transport errors.
func Code(err error) string {
	var (
		malformed *MalformedPredicateError
		missing   *MissingRequiredValueError
		literal   *InvalidLiteralError
		unknown   *UnknownFieldError
		variable  *MissingVariableError
		config    *InvalidAuthConfigError
	)
	switch {
	case errors.As(err, &malformed):
		return "MALFORMED_PREDICATE"
	case errors.As(err, &missing):
		return "MISSING_REQUIRED_VALUE"
	case errors.As(err, &literal):
		return "INVALID_LITERAL"
	case errors.As(err, &unknown):
		return "UNKNOWN_FIELD"
	case errors.As(err, &variable):
		return "MISSING_VARIABLE"
	case errors.As(err, &config):
		return "INVALID_AUTH_CONFIG"
	default:
		return "INTERNAL"
	}
}

func displayPath(p string) string {
	if p == "" {
		return "value"
	}
	return p
}
