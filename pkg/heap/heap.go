// Package heap implements vm.Allocator on top of the Go runtime's own
// memory management: every heap value is an ordinary *vm.Object held in
// the Heap's handle table. Objects are never released while the Heap is
// alive, whether or not a Word handle to them is still on the Machine's
// stacks; the Go runtime reclaims them together with the Heap. There is
// no mark/sweep, no free list, and no generational bookkeeping.
package heap

import (
	"fmt"
	"io"
	"os"

	"github.com/chazu/slvm/pkg/vm"
)

// Heap is a handle table mapping boxed vm.Word values to *vm.Object. It
// is not safe for concurrent use: the interpreter it backs is
// single-threaded per instruction, matching the reference machine's
// execution model.
type Heap struct {
	objects []*vm.Object

	// Out and In back Lwrite/Lread; a program's own terminal I/O
	// (SPEC_FULL.md §6.A). They default to os.Stdout/os.Stdin but tests
	// redirect them to assert on a program's printed output.
	Out io.Writer
	In  io.Reader
}

// New returns an empty Heap wired to the process's standard streams.
func New() *Heap {
	return &Heap{Out: os.Stdout, In: os.Stdin}
}

// Box registers obj and returns a boxed handle referring to it. The
// handle's low bit is always 0 (boxed), distinguishing it from an
// unboxed integer produced by vm.Box.
func (h *Heap) Box(obj vm.Object) vm.Word {
	h.objects = append(h.objects, &obj)
	idx := len(h.objects) - 1
	return vm.Word(idx << 1)
}

// Deref resolves a handle back to its Object. It returns ok=false for an
// unboxed value (low bit set) or an out-of-range handle.
func (h *Heap) Deref(v vm.Word) (vm.Object, bool) {
	if !v.IsBoxed() {
		return vm.Object{}, false
	}
	idx := int(v) >> 1
	if idx < 0 || idx >= len(h.objects) {
		return vm.Object{}, false
	}
	return *h.objects[idx], true
}

func (h *Heap) derefPtr(v vm.Word) (*vm.Object, bool) {
	if !v.IsBoxed() {
		return nil, false
	}
	idx := int(v) >> 1
	if idx < 0 || idx >= len(h.objects) {
		return nil, false
	}
	return h.objects[idx], true
}

// Bstring allocates a STRING object copying s.
func (h *Heap) Bstring(s []byte) vm.Object {
	return vm.Object{Tag: vm.TagString, Str: string(s)}
}

// Bsexp allocates a SEXP object with the given fields and precomputed tag
// hash.
func (h *Heap) Bsexp(fields []vm.Word, tagHash vm.Word) vm.Object {
	return vm.Object{Tag: vm.TagSexp, Elems: fields, SexpTagHash: tagHash}
}

// Bclosure allocates a CLOSURE object targeting the given code offset and
// capturing the given values.
func (h *Heap) Bclosure(target int, captures []vm.Word) vm.Object {
	return vm.Object{Tag: vm.TagClosure, ClosureTarget: target, ClosureCaptures: captures}
}

// Barray allocates an ARRAY object holding elems.
func (h *Heap) Barray(elems []vm.Word) vm.Object {
	return vm.Object{Tag: vm.TagArray, Elems: elems}
}

// Bsta implements the STA opcode's store-by-index semantics: dst is an
// ARRAY/SEXP handle (idx selects the element) or a CLOSURE handle (idx
// selects the capture). Any other destination is an error. It returns val.
func (h *Heap) Bsta(dst, idx, val vm.Word) (vm.Word, error) {
	obj, ok := h.derefPtr(dst)
	if !ok {
		return 0, fmt.Errorf("%w: STA destination is not a heap handle", vm.ErrInvalidOperand)
	}
	i := int(vm.Unbox(idx))
	switch obj.Tag {
	case vm.TagArray, vm.TagSexp:
		if i < 0 || i >= len(obj.Elems) {
			return 0, fmt.Errorf("%w: STA index %d outside [0, %d)", vm.ErrIndexOutOfRange, i, len(obj.Elems))
		}
		obj.Elems[i] = val
	case vm.TagClosure:
		if i < 0 || i >= len(obj.ClosureCaptures) {
			return 0, fmt.Errorf("%w: STA capture index %d outside [0, %d)", vm.ErrIndexOutOfRange, i, len(obj.ClosureCaptures))
		}
		obj.ClosureCaptures[i] = val
	default:
		return 0, fmt.Errorf("%w: STA destination tag %v is not indexable", vm.ErrInvalidOperand, obj.Tag)
	}
	return val, nil
}

// Belem implements the ELEM opcode: index into an ARRAY or SEXP, or take
// the i-th byte of a STRING as an unboxed character code.
func (h *Heap) Belem(arr, idx vm.Word) (vm.Word, error) {
	obj, ok := h.derefPtr(arr)
	if !ok {
		return 0, fmt.Errorf("%w: ELEM source is not a heap handle", vm.ErrInvalidOperand)
	}
	i := int(vm.Unbox(idx))
	switch obj.Tag {
	case vm.TagArray, vm.TagSexp:
		if i < 0 || i >= len(obj.Elems) {
			return 0, fmt.Errorf("%w: ELEM index %d outside [0, %d)", vm.ErrIndexOutOfRange, i, len(obj.Elems))
		}
		return obj.Elems[i], nil
	case vm.TagString:
		if i < 0 || i >= len(obj.Str) {
			return 0, fmt.Errorf("%w: ELEM index %d outside [0, %d)", vm.ErrIndexOutOfRange, i, len(obj.Str))
		}
		return vm.Box(int64(obj.Str[i])), nil
	default:
		return 0, fmt.Errorf("%w: ELEM source tag %v is not indexable", vm.ErrInvalidOperand, obj.Tag)
	}
}

// Btag implements the TAG pattern check: v must be a boxed handle whose
// dynamic tag matches tagHash (for a SEXP) and whose field count matches
// the tagged integer n.
func (h *Heap) Btag(v, tagHash, n vm.Word) vm.Word {
	obj, ok := h.derefPtr(v)
	if !ok || obj.Tag != vm.TagSexp {
		return vm.Box(0)
	}
	if obj.SexpTagHash != tagHash {
		return vm.Box(0)
	}
	if int64(len(obj.Elems)) != vm.Unbox(n) {
		return vm.Box(0)
	}
	return vm.Box(1)
}

// BarrayPatt implements the ARRAY pattern check: v must be a boxed handle
// to an ARRAY of exactly n elements, n being a tagged integer.
func (h *Heap) BarrayPatt(v, n vm.Word) vm.Word {
	obj, ok := h.derefPtr(v)
	if !ok || obj.Tag != vm.TagArray {
		return vm.Box(0)
	}
	if int64(len(obj.Elems)) != vm.Unbox(n) {
		return vm.Box(0)
	}
	return vm.Box(1)
}

func (h *Heap) tagPatt(v vm.Word, want vm.Tag) vm.Word {
	obj, ok := h.derefPtr(v)
	if !ok || obj.Tag != want {
		return vm.Box(0)
	}
	return vm.Box(1)
}

func (h *Heap) BstringTagPatt(v vm.Word) vm.Word  { return h.tagPatt(v, vm.TagString) }
func (h *Heap) BarrayTagPatt(v vm.Word) vm.Word   { return h.tagPatt(v, vm.TagArray) }
func (h *Heap) BsexpTagPatt(v vm.Word) vm.Word    { return h.tagPatt(v, vm.TagSexp) }
func (h *Heap) BclosureTagPatt(v vm.Word) vm.Word { return h.tagPatt(v, vm.TagClosure) }

func (h *Heap) BboxedPatt(v vm.Word) vm.Word {
	if v.IsBoxed() {
		return vm.Box(1)
	}
	return vm.Box(0)
}

func (h *Heap) BunboxedPatt(v vm.Word) vm.Word {
	if !v.IsBoxed() {
		return vm.Box(1)
	}
	return vm.Box(0)
}

// BstringPatt implements the STRCMP pattern check: both operands must be
// boxed STRING handles with identical content.
func (h *Heap) BstringPatt(a, b vm.Word) vm.Word {
	oa, ok := h.derefPtr(a)
	if !ok || oa.Tag != vm.TagString {
		return vm.Box(0)
	}
	ob, ok := h.derefPtr(b)
	if !ok || ob.Tag != vm.TagString {
		return vm.Box(0)
	}
	if oa.Str == ob.Str {
		return vm.Box(1)
	}
	return vm.Box(0)
}

// LtagHash computes the stable hash used to compare SEXP tag names
// without carrying the name itself into the frequently-compared
// SexpTagHash field. FNV-1a is not the reference runtime's own hash (that
// algorithm never appeared in the retrieved sources); it is a standard,
// well-distributed 32-bit hash that satisfies the same contract: equal
// strings hash equal, and collisions are rare enough not to matter for a
// tag namespace sized by a single program's constructor set.
func (h *Heap) LtagHash(s string) vm.Word {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	hash := uint32(offset32)
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= prime32
	}
	return vm.Word(hash)
}

// Lread, Lwrite, Llength, and Lstring are the four LD-builtin runtime
// entry points; the terminal I/O they perform is the externally supplied
// contract (SPEC_FULL.md §6.A), so Heap only owns the heap-shape side of
// each.
func (h *Heap) Lread() vm.Word {
	var n int64
	_, _ = fmt.Fscan(h.In, &n)
	return vm.Box(n)
}

func (h *Heap) Lwrite(v vm.Word) vm.Word {
	fmt.Fprintln(h.Out, vm.Unbox(v))
	return vm.Box(0)
}

func (h *Heap) Llength(v vm.Word) vm.Word {
	obj, ok := h.derefPtr(v)
	if !ok {
		return vm.Box(0)
	}
	switch obj.Tag {
	case vm.TagString:
		return vm.Box(int64(len(obj.Str)))
	case vm.TagArray, vm.TagSexp:
		return vm.Box(int64(len(obj.Elems)))
	case vm.TagClosure:
		return vm.Box(int64(len(obj.ClosureCaptures)))
	default:
		return vm.Box(0)
	}
}

// Lstring renders v's runtime representation as a fresh STRING object,
// mirroring the reference printer's format for each tag.
func (h *Heap) Lstring(v vm.Word) vm.Object {
	if !v.IsBoxed() {
		return vm.Object{Tag: vm.TagString, Str: fmt.Sprintf("%d", vm.Unbox(v))}
	}
	obj, ok := h.derefPtr(v)
	if !ok {
		return vm.Object{Tag: vm.TagString, Str: "<invalid>"}
	}
	switch obj.Tag {
	case vm.TagString:
		return vm.Object{Tag: vm.TagString, Str: obj.Str}
	case vm.TagArray:
		return vm.Object{Tag: vm.TagString, Str: fmt.Sprintf("<array %d>", len(obj.Elems))}
	case vm.TagSexp:
		return vm.Object{Tag: vm.TagString, Str: fmt.Sprintf("<sexp %d>", len(obj.Elems))}
	case vm.TagClosure:
		return vm.Object{Tag: vm.TagString, Str: fmt.Sprintf("<closure %#x>", obj.ClosureTarget)}
	default:
		return vm.Object{Tag: vm.TagString, Str: "<unknown>"}
	}
}
