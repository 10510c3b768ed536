package deepauth

import (
	"strconv"
	"strings"
)

// StepKind selects which child list a Step indexes into.
type StepKind int

const (
	OperationStep StepKind = iota // document operations
	FragmentStep                  // document fragments
	SelectionStep                 // selection set of the current node
	ArgumentStep                  // arguments of the current field
)

func (k StepKind) String() string {
	switch k {
	case OperationStep:
		return "operations"
	case FragmentStep:
		return "fragments"
	case SelectionStep:
		return "selections"
	case ArgumentStep:
		return "arguments"
	default:
		return "step(" + strconv.Itoa(int(k)) + ")"
	}
}

// Step is one child selector of a Path.
type Step struct {
	Kind  StepKind
	Index int
}

// Path locates a node of a query document by child index, starting at
// the document.
type Path []Step

// Append returns a new path extended by s. p itself is not modified.
func (p Path) Append(s Step) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, s)
}

func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Kind.String())
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(s.Index))
		b.WriteByte(']')
	}
	return b.String()
}
