package vm_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/chazu/slvm/pkg/bytecode"
	"github.com/chazu/slvm/pkg/heap"
	"github.com/chazu/slvm/pkg/vm"
)

// asm assembles a code section byte-by-byte, tracking the current offset
// so tests can compute jump targets without hand-counting bytes.
type asm struct {
	buf []byte
}

func (a *asm) op(o bytecode.Opcode) *asm {
	a.buf = append(a.buf, byte(o))
	return a
}

func (a *asm) i32(v int32) *asm {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	a.buf = append(a.buf, tmp[:]...)
	return a
}

func (a *asm) offset() int32 {
	return int32(len(a.buf))
}

// u8 appends a single raw byte, used for the loc-kind byte ahead of each
// CLOSURE capture's index (CLOSURE's capture list isn't itself an
// Opcode, just a kind nibble followed by an i32 index).
func (a *asm) u8(b byte) *asm {
	a.buf = append(a.buf, b)
	return a
}

// buildImage packs code into a minimal single-public ("main", offset 0)
// bytecode file, matching the loader's on-disk layout exactly.
func buildImage(t *testing.T, globalAreaSize int32, code []byte) []byte {
	t.Helper()
	stringTable := append([]byte("main"), 0)

	var buf []byte
	appendI32 := func(v int32) {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(v))
		buf = append(buf, tmp[:]...)
	}
	appendI32(int32(len(stringTable)))
	appendI32(globalAreaSize)
	appendI32(1)
	appendI32(0) // name_offset
	appendI32(0) // code_offset
	buf = append(buf, stringTable...)
	buf = append(buf, code...)
	return buf
}

// buildImageWithStrings is buildImage generalized to carry extra
// NUL-terminated strings in the string table (e.g. a SEXP/TAG tag name)
// beyond the "main" entry every image needs. It returns the image bytes
// and the byte offset of each extra string, in the order given.
func buildImageWithStrings(t *testing.T, globalAreaSize int32, code []byte, extra ...string) ([]byte, []int32) {
	t.Helper()
	stringTable := append([]byte("main"), 0)
	offsets := make([]int32, len(extra))
	for i, s := range extra {
		offsets[i] = int32(len(stringTable))
		stringTable = append(stringTable, append([]byte(s), 0)...)
	}

	var buf []byte
	appendI32 := func(v int32) {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(v))
		buf = append(buf, tmp[:]...)
	}
	appendI32(int32(len(stringTable)))
	appendI32(globalAreaSize)
	appendI32(1)
	appendI32(0) // name_offset
	appendI32(0) // code_offset
	buf = append(buf, stringTable...)
	buf = append(buf, code...)
	return buf, offsets
}

// newRun loads data as an image and returns a bootstrapped Machine and
// Interpreter over a fresh Heap, without running it — used by tests that
// need to inspect Machine state (VTop) before and after Run, not just
// captured stdout.
func newRun(t *testing.T, globalAreaSize int, data []byte, out *bytes.Buffer) (*bytecode.Image, *vm.Machine, *vm.Interpreter) {
	t.Helper()
	img, err := bytecode.LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	h := heap.New()
	h.Out = out
	m := vm.NewMachine(h, globalAreaSize)
	if err := m.Bootstrap(img.CodeSize()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	return img, m, vm.NewInterpreter(img, m, h)
}

// run loads code as an image, bootstraps a Machine over a fresh Heap, and
// executes it to completion, returning whatever Run returns.
func run(t *testing.T, globalAreaSize int32, code []byte, out *bytes.Buffer) error {
	t.Helper()
	data := buildImage(t, globalAreaSize, code)
	img, err := bytecode.LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	h := heap.New()
	h.Out = out
	m := vm.NewMachine(h, int(globalAreaSize))
	if err := m.Bootstrap(img.CodeSize()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	ip := vm.NewInterpreter(img, m, h)
	return ip.Run(context.Background())
}

func TestConstAndWritePrintsValue(t *testing.T) {
	a := &asm{}
	a.op(bytecode.OpConst).i32(42)
	a.op(bytecode.OpLwrite)
	a.op(bytecode.OpStop)

	var out bytes.Buffer
	if err := run(t, 0, a.buf, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "42\n" {
		t.Fatalf("output = %q, want %q", out.String(), "42\n")
	}
}

func TestAddTwoIntegers(t *testing.T) {
	a := &asm{}
	a.op(bytecode.OpConst).i32(2)
	a.op(bytecode.OpConst).i32(3)
	a.op(bytecode.OpBinopAdd)
	a.op(bytecode.OpLwrite)
	a.op(bytecode.OpStop)

	var out bytes.Buffer
	if err := run(t, 0, a.buf, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "5\n" {
		t.Fatalf("output = %q, want %q", out.String(), "5\n")
	}
}

func TestDivisionByZeroFaults(t *testing.T) {
	a := &asm{}
	a.op(bytecode.OpConst).i32(5)
	a.op(bytecode.OpConst).i32(0)
	a.op(bytecode.OpBinopDiv)
	a.op(bytecode.OpStop)

	var out bytes.Buffer
	err := run(t, 0, a.buf, &out)
	if err == nil {
		t.Fatal("expected a DivisionByZero fault, got nil")
	}
	var f *vm.Fault
	if !errors.As(err, &f) {
		t.Fatalf("error %v is not a *vm.Fault", err)
	}
	if f.Kind != vm.FaultDivisionByZero {
		t.Fatalf("Kind = %v, want FaultDivisionByZero", f.Kind)
	}
}

func TestUnconditionalJmpSkipsDeadCode(t *testing.T) {
	a := &asm{}
	jmpAt := a.offset()
	a.op(bytecode.OpJmp).i32(0) // patched below once the target offset is known

	// Dead code: never reached, would print 999 if it were.
	a.op(bytecode.OpConst).i32(999)
	a.op(bytecode.OpLwrite)
	a.op(bytecode.OpStop)

	target := a.offset()
	a.op(bytecode.OpConst).i32(7)
	a.op(bytecode.OpLwrite)
	a.op(bytecode.OpStop)

	binary.LittleEndian.PutUint32(a.buf[jmpAt+1:jmpAt+5], uint32(target))

	var out bytes.Buffer
	if err := run(t, 0, a.buf, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "7\n" {
		t.Fatalf("output = %q, want %q", out.String(), "7\n")
	}
}

func TestFailSurfacesLineAndColumn(t *testing.T) {
	a := &asm{}
	a.op(bytecode.OpFail).i32(10).i32(3)

	var out bytes.Buffer
	err := run(t, 0, a.buf, &out)
	if err == nil {
		t.Fatal("expected a RuntimeFailure fault, got nil")
	}
	var f *vm.Fault
	if !errors.As(err, &f) {
		t.Fatalf("error %v is not a *vm.Fault", err)
	}
	if f.Kind != vm.FaultRuntimeFailure {
		t.Fatalf("Kind = %v, want FaultRuntimeFailure", f.Kind)
	}
	if f.Line != 10 || f.Col != 3 {
		t.Fatalf("Line,Col = %d,%d, want 10,3", f.Line, f.Col)
	}
}

func TestDupAndSwap(t *testing.T) {
	a := &asm{}
	a.op(bytecode.OpConst).i32(1)
	a.op(bytecode.OpConst).i32(2)
	a.op(bytecode.OpSwap) // stack, top first: 1, 2
	a.op(bytecode.OpDup)  // stack, top first: 1, 1, 2
	a.op(bytecode.OpLwrite)
	a.op(bytecode.OpDrop) // LWRITE pushes its own result; discard it
	a.op(bytecode.OpLwrite)
	a.op(bytecode.OpDrop)
	a.op(bytecode.OpLwrite)
	a.op(bytecode.OpStop)

	var out bytes.Buffer
	if err := run(t, 0, a.buf, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Before swap: top=2, second=1. After swap: top=1, second=2, and DUP
	// copies the 1. Each LWRITE pops and prints the top, so the output is
	// 1, 1, then 2.
	if out.String() != "1\n1\n2\n" {
		t.Fatalf("output = %q, want %q", out.String(), "1\n1\n2\n")
	}
}

func TestBarrayAndElemRoundTrip(t *testing.T) {
	a := &asm{}
	a.op(bytecode.OpConst).i32(1)
	a.op(bytecode.OpConst).i32(2)
	a.op(bytecode.OpConst).i32(3)
	a.op(bytecode.OpBarray).i32(3)
	a.op(bytecode.OpConst).i32(1)
	a.op(bytecode.OpElem)
	a.op(bytecode.OpLwrite)
	a.op(bytecode.OpStop)

	var out bytes.Buffer
	if err := run(t, 0, a.buf, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "2\n" {
		t.Fatalf("output = %q, want %q", out.String(), "2\n")
	}
}

// TestCallBeginEndReturnsValueAndRestoresStackHeight exercises CALL,
// BEGIN, and END together: a one-argument function adds 1 to its arg and
// returns the sum. It checks both the returned value and the exact
// post-call value-stack height from spec.md §8: "the matching END
// restores sp_top to exactly sp_before_call − 1 + (retval?1:0)" — here,
// one arg consumed and one return value produced net to no change in
// height relative to right after the argument was pushed.
func TestCallBeginEndReturnsValueAndRestoresStackHeight(t *testing.T) {
	a := &asm{}
	a.op(bytecode.OpConst).i32(5)
	callAt := a.offset()
	a.op(bytecode.OpCall).i32(0).i32(1) // addr patched below; nargs=1
	a.op(bytecode.OpLwrite)
	a.op(bytecode.OpStop)

	funcAddr := a.offset()
	a.op(bytecode.OpBegin).i32(1).i32(0)
	a.op(bytecode.OpLdArg).i32(0)
	a.op(bytecode.OpConst).i32(1)
	a.op(bytecode.OpBinopAdd)
	a.op(bytecode.OpEnd)

	binary.LittleEndian.PutUint32(a.buf[callAt+1:callAt+5], uint32(funcAddr))

	data := buildImage(t, 0, a.buf)
	var out bytes.Buffer
	_, m, ip := newRun(t, 0, data, &out)

	spBeforeCall := m.VTop() // sp_top right after bootstrap, before CONST 5
	if err := ip.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "6\n" {
		t.Fatalf("output = %q, want %q", out.String(), "6\n")
	}
	// CONST 5 pushed the lone argument (sp_before_call, in spec.md §8's
	// sense, is that pushed height); END restores sp_top to
	// sp_before_call-1+1 = sp_before_call. LWRITE then pops that return
	// value and pushes its own result, so the final height sits exactly
	// one word above the pre-CONST baseline captured here.
	if got, want := m.VTop(), spBeforeCall-1; got != want {
		t.Fatalf("VTop after Run = %d, want %d (baseline %d)", got, want, spBeforeCall)
	}
}

// TestCallcClosureRoundTrip builds a closure over a global, invokes it
// through CALLC, and checks both the capture round trip (LD[C]) and the
// is_closure-flagged frame teardown in END.
func TestCallcClosureRoundTrip(t *testing.T) {
	a := &asm{}
	a.op(bytecode.OpConst).i32(10)
	a.op(bytecode.OpStGlobal).i32(0)
	a.op(bytecode.OpDrop) // ST leaves its value on the stack too; discard it

	closureAt := a.offset()
	a.op(bytecode.OpClosure).i32(0).i32(1).u8(byte(bytecode.LocGlobal)).i32(0) // addr patched below
	a.op(bytecode.OpCallc).i32(0)
	a.op(bytecode.OpLwrite)
	a.op(bytecode.OpStop)

	funcAddr := a.offset()
	a.op(bytecode.OpBegin).i32(0).i32(0)
	a.op(bytecode.OpLdClosur).i32(0)
	a.op(bytecode.OpConst).i32(5)
	a.op(bytecode.OpBinopAdd)
	a.op(bytecode.OpEnd)

	binary.LittleEndian.PutUint32(a.buf[closureAt+1:closureAt+5], uint32(funcAddr))

	var out bytes.Buffer
	if err := run(t, 1, a.buf, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "15\n" {
		t.Fatalf("output = %q, want %q", out.String(), "15\n")
	}
}

// TestPatternOpcodesThroughDispatch exercises TAG, ARRAY, and PATT
// through the normal decode/dispatch path (not pkg/heap's standalone
// unit tests): a SEXP matched by TAG, a BARRAY matched by ARRAY, and a
// STRING matched by PATT IsString, each printed as a boxed boolean.
func TestPatternOpcodesThroughDispatch(t *testing.T) {
	// First pass just to compute the extra strings' offsets; they don't
	// depend on the code that will reference them.
	_, offs := buildImageWithStrings(t, 0, nil, "Pair", "hi")
	pairOff, hiOff := offs[0], offs[1]

	a := &asm{}
	a.op(bytecode.OpConst).i32(7)
	a.op(bytecode.OpConst).i32(8)
	a.op(bytecode.OpSexp).i32(pairOff).i32(2)
	a.op(bytecode.OpTag).i32(pairOff).i32(2)
	a.op(bytecode.OpLwrite)

	a.op(bytecode.OpConst).i32(1)
	a.op(bytecode.OpConst).i32(2)
	a.op(bytecode.OpConst).i32(3)
	a.op(bytecode.OpBarray).i32(3)
	a.op(bytecode.OpArray).i32(3)
	a.op(bytecode.OpLwrite)

	a.op(bytecode.OpString).i32(hiOff)
	a.op(bytecode.OpPattString)
	a.op(bytecode.OpLwrite)
	a.op(bytecode.OpStop)

	data, _ := buildImageWithStrings(t, 0, a.buf, "Pair", "hi")

	var out bytes.Buffer
	_, _, ip := newRun(t, 0, data, &out)
	if err := ip.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "1\n1\n1\n" {
		t.Fatalf("output = %q, want %q", out.String(), "1\n1\n1\n")
	}
}
