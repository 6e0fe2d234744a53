package vm

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/chazu/slvm/pkg/bytecode"
)

// Interpreter implements Processor by executing each opcode's semantics
// against a Machine and an Allocator: the per-opcode behavior described
// by spec.md §4.E, transcribed from the reference interpreter's BINOP/
// BINOP_DIV macros and its vstack_pop/vstack_push/processEnd bodies.
type Interpreter struct {
	img   *bytecode.Image
	m     *Machine
	cur   *bytecode.Cursor
	alloc Allocator

	// Logger, if set, receives a trace line per instruction (enabled by
	// cmd/slvm's -trace flag) and the BEGIN/CBEGIN distinction noted in
	// spec.md §9(b). A nil Logger disables all of this at zero cost.
	Logger *log.Logger
}

// NewInterpreter builds an Interpreter bound to img and m, calling out to
// alloc for every heap operation.
func NewInterpreter(img *bytecode.Image, m *Machine, alloc Allocator) *Interpreter {
	return &Interpreter{img: img, m: m, alloc: alloc}
}

// Run drives the decode/dispatch loop from the image's entrypoint until
// the STOP opcode or the outermost call frame's END sets the cursor to
// code_size, checking ctx between instructions so a caller can cancel a
// runaway program. No opcode itself suspends; this is cooperative,
// pull-based cancellation of the outer loop only (SPEC_FULL.md §4.E).
func (ip *Interpreter) Run(ctx context.Context) error {
	cur, err := bytecode.NewCursorAt(ip.img, ip.img.EntrypointOffset())
	if err != nil {
		return err
	}
	ip.cur = cur

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		offset := cur.Offset()
		opByte, err := cur.PeekU8()
		if err != nil {
			return err
		}
		ip.m.SetDiag(offset, opByte)

		if ip.Logger != nil {
			ip.Logger.Debug("step", "offset", offset, "opcode", bytecode.Opcode(opByte).String(), "sp", ip.m.VTop())
		}

		_, halted, err := Dispatch(cur, ip.img, ip)
		if err != nil {
			return err
		}
		if halted || cur.Done() {
			return nil
		}
	}
}

// translateAllocErr wraps an Allocator-raised sentinel error into a Fault
// carrying the interpreter's current diagnostic context. Errors the
// Allocator never raises (nil) pass through unchanged.
func (ip *Interpreter) translateAllocErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrIndexOutOfRange):
		return ip.m.newFault(FaultIndexOutOfRange, "%v", err)
	case errors.Is(err, ErrInvalidOperand):
		return ip.m.newFault(FaultInvalidBytecode, "%v", err)
	default:
		return err
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// ProcessBinop implements every BINOP family member: pop rhs then lhs,
// compute lhs⊕rhs on the unboxed operands, push the re-boxed result.
func (ip *Interpreter) ProcessBinop(op BinOp) error {
	rhsWord, err := ip.m.VPop()
	if err != nil {
		return err
	}
	lhsWord, err := ip.m.VPop()
	if err != nil {
		return err
	}
	lhs, rhs := Unbox(lhsWord), Unbox(rhsWord)

	var result int64
	switch op {
	case BinAdd:
		result = lhs + rhs
	case BinSub:
		result = lhs - rhs
	case BinMul:
		result = lhs * rhs
	case BinDiv:
		if rhs == 0 {
			return ip.m.newFault(FaultDivisionByZero, "attempt to divide %d by zero", lhs)
		}
		result = lhs / rhs
	case BinMod:
		if rhs == 0 {
			return ip.m.newFault(FaultDivisionByZero, "attempt to compute %d %% 0", lhs)
		}
		result = lhs % rhs
	case BinLt:
		result = boolToInt(lhs < rhs)
	case BinLe:
		result = boolToInt(lhs <= rhs)
	case BinGt:
		result = boolToInt(lhs > rhs)
	case BinGe:
		result = boolToInt(lhs >= rhs)
	case BinEq:
		result = boolToInt(lhs == rhs)
	case BinNeq:
		result = boolToInt(lhs != rhs)
	case BinAnd:
		result = boolToInt(lhs != 0 && rhs != 0)
	case BinOr:
		result = boolToInt(lhs != 0 || rhs != 0)
	default:
		return ip.m.newFault(FaultInvalidBytecode, "unrecognized BINOP member %d", int(op))
	}
	return ip.m.VPush(Box(result))
}

// ProcessConst pushes the boxed literal.
func (ip *Interpreter) ProcessConst(n int32) error {
	return ip.m.VPush(Box(int64(n)))
}

// ProcessString allocates a heap string copy and pushes its handle.
func (ip *Interpreter) ProcessString(s string) error {
	obj := ip.alloc.Bstring([]byte(s))
	return ip.m.VPush(ip.alloc.Box(obj))
}

// ProcessSexp pops the top n values (args[n-1]..args[0] from the top
// downward, per spec.md §4.E) and constructs a sexp with the hashed tag
// and those fields in natural left-to-right argument order.
func (ip *Interpreter) ProcessSexp(tag string, n int32) error {
	if n < 0 {
		return ip.m.newFault(FaultInvalidBytecode, "SEXP with negative arity %d", n)
	}
	fields := make([]Word, n)
	for i := int32(0); i < n; i++ {
		v, err := ip.m.VPop()
		if err != nil {
			return err
		}
		fields[n-1-i] = v
	}
	tagHash := ip.alloc.LtagHash(tag)
	obj := ip.alloc.Bsexp(fields, tagHash)
	return ip.m.VPush(ip.alloc.Box(obj))
}

// ProcessSti is unsupported: the reference interpreter never implements
// it, and spec.md §9 declares it InvalidBytecode.
func (ip *Interpreter) ProcessSti() error {
	return ip.m.newFault(FaultInvalidBytecode, "STI is not supported")
}

// ProcessSta pops val, idx, dst (in that order, top first) and delegates
// to the allocator's Bsta, pushing its result.
func (ip *Interpreter) ProcessSta() error {
	val, err := ip.m.VPop()
	if err != nil {
		return err
	}
	idx, err := ip.m.VPop()
	if err != nil {
		return err
	}
	dst, err := ip.m.VPop()
	if err != nil {
		return err
	}
	result, err := ip.alloc.Bsta(dst, idx, val)
	if err != nil {
		return ip.translateAllocErr(err)
	}
	return ip.m.VPush(result)
}

// ProcessJmp moves the cursor to the absolute code offset.
func (ip *Interpreter) ProcessJmp(addr int32) error {
	return ip.cur.Seek(int(addr))
}

// ProcessEnd tears down the current call frame: pops a return value iff
// the value stack holds something above the frame's locals region, resets
// sp_top to discard locals, args and (for a CALLC frame) the closure cell,
// pushes the return value back if there was one, restores the caller's
// cursor position, and pops the 5-word call frame.
func (ip *Interpreter) ProcessEnd() error {
	nlocals, err := ip.m.NLocals()
	if err != nil {
		return err
	}
	nargs, err := ip.m.NArgs()
	if err != nil {
		return err
	}
	fp, err := ip.m.FramePointer()
	if err != nil {
		return err
	}
	isClosure, err := ip.m.IsClosureFrame()
	if err != nil {
		return err
	}
	returnOffset, err := ip.m.ReturnOffset()
	if err != nil {
		return err
	}

	var retval Word
	hasRetval := false
	localsTop := fp - nlocals
	if ip.m.VTop() < localsTop {
		retval, err = ip.m.VPop()
		if err != nil {
			return err
		}
		hasRetval = true
	}

	closureSlot := 0
	if isClosure {
		closureSlot = 1
	}
	newTop := fp + nargs + closureSlot
	if err := ip.m.SetVTop(newTop); err != nil {
		return err
	}
	if hasRetval {
		if err := ip.m.VPush(retval); err != nil {
			return err
		}
	}

	if err := ip.cur.Seek(returnOffset); err != nil {
		return err
	}
	return ip.m.PopFrame()
}

// ProcessRet is unsupported, matching the reference and spec.md §9.
func (ip *Interpreter) ProcessRet() error {
	return ip.m.newFault(FaultInvalidBytecode, "RET is not supported")
}

func (ip *Interpreter) ProcessDrop() error {
	_, err := ip.m.VPop()
	return err
}

func (ip *Interpreter) ProcessDup() error {
	v, err := ip.m.VPop()
	if err != nil {
		return err
	}
	if err := ip.m.VPush(v); err != nil {
		return err
	}
	return ip.m.VPush(v)
}

// ProcessSwap exchanges the top two value-stack slots.
func (ip *Interpreter) ProcessSwap() error {
	top, err := ip.m.VPop()
	if err != nil {
		return err
	}
	second, err := ip.m.VPop()
	if err != nil {
		return err
	}
	if err := ip.m.VPush(top); err != nil {
		return err
	}
	return ip.m.VPush(second)
}

// ProcessElem pops idx then arr and pushes the allocator's element lookup.
func (ip *Interpreter) ProcessElem() error {
	idx, err := ip.m.VPop()
	if err != nil {
		return err
	}
	arr, err := ip.m.VPop()
	if err != nil {
		return err
	}
	result, err := ip.alloc.Belem(arr, idx)
	if err != nil {
		return ip.translateAllocErr(err)
	}
	return ip.m.VPush(result)
}

func (ip *Interpreter) ProcessLd(loc bytecode.Loc) error {
	v, err := ip.m.LoadLoc(loc)
	if err != nil {
		return err
	}
	return ip.m.VPush(v)
}

// ProcessLda is unsupported, matching the reference and spec.md §9.
func (ip *Interpreter) ProcessLda(bytecode.Loc) error {
	return ip.m.newFault(FaultInvalidBytecode, "LDA is not supported")
}

// ProcessSt pops the value, stores it at loc, and pushes it back so the
// store also leaves a result on the stack (spec.md §4.E).
func (ip *Interpreter) ProcessSt(loc bytecode.Loc) error {
	v, err := ip.m.VPop()
	if err != nil {
		return err
	}
	if err := ip.m.StoreLoc(loc, v); err != nil {
		return err
	}
	return ip.m.VPush(v)
}

// ProcessCJmp pops the condition and branches iff nz matches its
// unboxed truth value.
func (ip *Interpreter) ProcessCJmp(addr int32, nz bool) error {
	v, err := ip.m.VPop()
	if err != nil {
		return err
	}
	if Truthy(v) == nz {
		return ip.cur.Seek(int(addr))
	}
	return nil
}

// ProcessBegin opens a new frame at the current sp_top, then zero-fills
// n_locals slots.
func (ip *Interpreter) ProcessBegin(nargs, nlocals int32) error {
	return ip.beginFrame(nargs, nlocals, false)
}

// ProcessCBegin is handled identically to ProcessBegin (spec.md §9(b)),
// but is logged separately in trace mode so the curried-closure entry
// variant stays distinguishable for a future extension.
func (ip *Interpreter) ProcessCBegin(nargs, nlocals int32) error {
	if ip.Logger != nil {
		ip.Logger.Debug("cbegin", "nargs", nargs, "nlocals", nlocals)
	}
	return ip.beginFrame(nargs, nlocals, true)
}

func (ip *Interpreter) beginFrame(nargs, nlocals int32, curried bool) error {
	_ = curried
	fp := Word(ip.m.VTop())
	if err := ip.m.CPush(fp); err != nil {
		return err
	}
	if err := ip.m.CPush(Word(nargs)); err != nil {
		return err
	}
	if err := ip.m.CPush(Word(nlocals)); err != nil {
		return err
	}
	for i := int32(0); i < nlocals; i++ {
		if err := ip.m.VPush(Box(0)); err != nil {
			return err
		}
	}
	return nil
}

// ProcessClosure loads each captured location's current value, builds a
// closure object targeting addr, and pushes its handle.
func (ip *Interpreter) ProcessClosure(addr int32, locs []bytecode.Loc) error {
	captures := make([]Word, len(locs))
	for i, loc := range locs {
		v, err := ip.m.LoadLoc(loc)
		if err != nil {
			return err
		}
		captures[i] = v
	}
	obj := ip.alloc.Bclosure(int(addr), captures)
	return ip.m.VPush(ip.alloc.Box(obj))
}

// ProcessCallC peeks n slots above sp_top to find the closure cell being
// invoked through, reads its target code offset, pushes the call-frame
// header, and jumps.
func (ip *Interpreter) ProcessCallC(nargs int32) error {
	cell, err := ip.m.Peek(int(nargs))
	if err != nil {
		return err
	}
	obj, ok := ip.alloc.Deref(cell)
	if !ok || obj.Tag != TagClosure {
		return ip.m.newFault(FaultNotAClosure, "CALLC target is not a closure")
	}
	returnOffset := ip.cur.Offset()
	if err := ip.m.CPush(1); err != nil {
		return err
	}
	if err := ip.m.CPush(Word(returnOffset)); err != nil {
		return err
	}
	return ip.cur.Seek(obj.ClosureTarget)
}

// ProcessCall pushes the call-frame header (not a closure call) and jumps.
func (ip *Interpreter) ProcessCall(addr int32, nargs int32) error {
	_ = nargs
	returnOffset := ip.cur.Offset()
	if err := ip.m.CPush(0); err != nil {
		return err
	}
	if err := ip.m.CPush(Word(returnOffset)); err != nil {
		return err
	}
	return ip.cur.Seek(int(addr))
}

// ProcessTag pops dst and pushes the allocator's structural pattern test.
func (ip *Interpreter) ProcessTag(tag string, length int32) error {
	dst, err := ip.m.VPop()
	if err != nil {
		return err
	}
	tagHash := ip.alloc.LtagHash(tag)
	return ip.m.VPush(ip.alloc.Btag(dst, tagHash, Box(int64(length))))
}

// ProcessArray pops dst and pushes the allocator's array-shape pattern test.
func (ip *Interpreter) ProcessArray(n int32) error {
	dst, err := ip.m.VPop()
	if err != nil {
		return err
	}
	return ip.m.VPush(ip.alloc.BarrayPatt(dst, Box(int64(n))))
}

// ProcessFail raises the program's own pattern-match exhaustion failure.
func (ip *Interpreter) ProcessFail(line, col int32) error {
	return ip.m.newRuntimeFailure(line, col)
}

// ProcessLine is debug info and is always a no-op.
func (ip *Interpreter) ProcessLine(int32) error {
	return nil
}

// ProcessPatt implements the seven PATT checks. PattStrEq pops two
// operands (top first); the rest pop one.
func (ip *Interpreter) ProcessPatt(kind PattKind) error {
	switch kind {
	case PattStrEq:
		top, err := ip.m.VPop()
		if err != nil {
			return err
		}
		second, err := ip.m.VPop()
		if err != nil {
			return err
		}
		return ip.m.VPush(ip.alloc.BstringPatt(top, second))
	case PattIsString:
		return ip.unaryPatt(ip.alloc.BstringTagPatt)
	case PattIsArray:
		return ip.unaryPatt(ip.alloc.BarrayTagPatt)
	case PattIsSexp:
		return ip.unaryPatt(ip.alloc.BsexpTagPatt)
	case PattIsBoxed:
		return ip.unaryPatt(ip.alloc.BboxedPatt)
	case PattIsUnboxed:
		return ip.unaryPatt(ip.alloc.BunboxedPatt)
	case PattIsClosure:
		return ip.unaryPatt(ip.alloc.BclosureTagPatt)
	default:
		return ip.m.newFault(FaultInvalidBytecode, "unrecognized PATT kind %d", int(kind))
	}
}

func (ip *Interpreter) unaryPatt(check func(Word) Word) error {
	v, err := ip.m.VPop()
	if err != nil {
		return err
	}
	return ip.m.VPush(check(v))
}

func (ip *Interpreter) ProcessLread() error {
	return ip.m.VPush(ip.alloc.Lread())
}

func (ip *Interpreter) ProcessLwrite() error {
	v, err := ip.m.VPop()
	if err != nil {
		return err
	}
	return ip.m.VPush(ip.alloc.Lwrite(v))
}

func (ip *Interpreter) ProcessLlength() error {
	v, err := ip.m.VPop()
	if err != nil {
		return err
	}
	return ip.m.VPush(ip.alloc.Llength(v))
}

func (ip *Interpreter) ProcessLstring() error {
	v, err := ip.m.VPop()
	if err != nil {
		return err
	}
	obj := ip.alloc.Lstring(v)
	return ip.m.VPush(ip.alloc.Box(obj))
}

// ProcessBarray pops n elements (top-most first) and constructs an array
// in natural left-to-right element order.
func (ip *Interpreter) ProcessBarray(n int32) error {
	if n < 0 {
		return ip.m.newFault(FaultInvalidBytecode, "BARRAY with negative length %d", n)
	}
	elems := make([]Word, n)
	for i := int32(0); i < n; i++ {
		v, err := ip.m.VPop()
		if err != nil {
			return err
		}
		elems[n-1-i] = v
	}
	obj := ip.alloc.Barray(elems)
	return ip.m.VPush(ip.alloc.Box(obj))
}
