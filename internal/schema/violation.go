package schema

import (
	"fmt"

	language "github.com/hanpama/deepauth/internal/language"
)

// Violation is a single problem found in a schema, located in its source.
type Violation struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationError aggregates every violation found in one pass.
type ValidationError []*Violation

func (e ValidationError) Error() string {
	msg := "violations found:\n"
	for _, v := range e {
		line := "- " + v.Message
		if v.File != "" || v.Line > 0 {
			line += fmt.Sprintf(" %s:%d:%d", v.File, v.Line, v.Column)
		}
		msg += line + "\n"
	}
	return msg
}

// NewViolation creates a violation at pos. pos may be nil.
func NewViolation(pos *language.Position, format string, args ...any) *Violation {
	v := &Violation{Message: fmt.Sprintf(format, args...)}
	if pos != nil {
		v.Line = pos.Line
		v.Column = pos.Column
		if pos.Src != nil {
			v.File = pos.Src.Name
		}
	}
	return v
}

func violationDuplicateType(name string, pos *language.Position) *Violation {
	return NewViolation(pos, "Duplicate type %q", name)
}

func violationDuplicateField(kind TypeKind, fieldName, typeName string, pos *language.Position) *Violation {
	return NewViolation(pos, "Duplicate field %q found in %s %q", fieldName, kind, typeName)
}

func violationUnknownType(name, where string, pos *language.Position) *Violation {
	return NewViolation(pos, "Unknown type %q referenced by %s", name, where)
}

func violationExtendUnknown(name string, pos *language.Position) *Violation {
	return NewViolation(pos, "Cannot extend undefined type %q", name)
}

func violationExtendKind(name string, want, got TypeKind, pos *language.Position) *Violation {
	return NewViolation(pos, "Cannot extend %s %q with a %s extension", want, name, got)
}

func violationNotInterface(name, typeName string, pos *language.Position) *Violation {
	return NewViolation(pos, "Type %q implements %q which is not an interface", typeName, name)
}
