package vm

import "fmt"

// Tag identifies which of the four heap object shapes an Object carries.
type Tag int

const (
	TagString Tag = iota
	TagArray
	TagSexp
	TagClosure
)

func (t Tag) String() string {
	switch t {
	case TagString:
		return "STRING"
	case TagArray:
		return "ARRAY"
	case TagSexp:
		return "SEXP"
	case TagClosure:
		return "CLOSURE"
	default:
		return fmt.Sprintf("Tag(%d)", int(t))
	}
}

// Object is the core's view of a heap-allocated value. The interpreter
// treats it as opaque except in the two places the data model calls out:
// the closure discriminator (ST[C]/LD[C], CALLC) and the pattern-test
// opcodes.
type Object struct {
	Tag Tag

	Str string // TagString

	Elems []Word // TagArray: elements; TagSexp: fields, left to right

	SexpTagHash Word // TagSexp only

	ClosureTarget   int    // TagClosure: callee code offset, slot 0
	ClosureCaptures []Word // TagClosure: capture values, slots 1..n
}
