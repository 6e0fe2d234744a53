package vm

import (
	"fmt"

	"github.com/chazu/slvm/pkg/bytecode"
)

// BinOp is a decoded BINOP family member.
type BinOp int

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinLt
	BinLe
	BinGt
	BinGe
	BinEq
	BinNeq
	BinAnd
	BinOr
)

func (op BinOp) String() string {
	names := [...]string{"+", "-", "*", "/", "%", "<", "<=", ">", ">=", "==", "!=", "&&", "||"}
	if int(op) < 0 || int(op) >= len(names) {
		return fmt.Sprintf("BinOp(%d)", int(op))
	}
	return names[op]
}

// PattKind is a decoded PATT family member.
type PattKind byte

const (
	PattStrEq PattKind = iota
	PattIsString
	PattIsArray
	PattIsSexp
	PattIsBoxed
	PattIsUnboxed
	PattIsClosure
)

// Processor abstracts what to do with each decoded opcode. The
// interpreter (interpreter.go) and the reachability analyzer
// (pkg/analyzer) are the two implementations; Dispatch decodes exactly
// one instruction and invokes the matching method.
type Processor interface {
	ProcessBinop(op BinOp) error
	ProcessConst(n int32) error
	ProcessString(s string) error
	ProcessSexp(tag string, n int32) error
	ProcessSti() error
	ProcessSta() error
	ProcessJmp(addr int32) error
	ProcessEnd() error
	ProcessRet() error
	ProcessDrop() error
	ProcessDup() error
	ProcessSwap() error
	ProcessElem() error
	ProcessLd(loc bytecode.Loc) error
	ProcessLda(loc bytecode.Loc) error
	ProcessSt(loc bytecode.Loc) error
	ProcessCJmp(addr int32, nz bool) error
	ProcessBegin(nargs, nlocals int32) error
	ProcessCBegin(nargs, nlocals int32) error
	ProcessClosure(addr int32, locs []bytecode.Loc) error
	ProcessCallC(nargs int32) error
	ProcessCall(addr int32, nargs int32) error
	ProcessTag(tag string, length int32) error
	ProcessArray(n int32) error
	ProcessFail(line, col int32) error
	ProcessLine(n int32) error
	ProcessPatt(kind PattKind) error
	ProcessLread() error
	ProcessLwrite() error
	ProcessLlength() error
	ProcessLstring() error
	ProcessBarray(n int32) error
}

// NoopProcessor gives every Processor method a do-nothing default.
// Embed it and override only the handful of methods a given use wants;
// pkg/analyzer's reachability walk is built this way.
type NoopProcessor struct{}

func (NoopProcessor) ProcessBinop(BinOp) error                   { return nil }
func (NoopProcessor) ProcessConst(int32) error                   { return nil }
func (NoopProcessor) ProcessString(string) error                 { return nil }
func (NoopProcessor) ProcessSexp(string, int32) error             { return nil }
func (NoopProcessor) ProcessSti() error                           { return nil }
func (NoopProcessor) ProcessSta() error                           { return nil }
func (NoopProcessor) ProcessJmp(int32) error                      { return nil }
func (NoopProcessor) ProcessEnd() error                           { return nil }
func (NoopProcessor) ProcessRet() error                           { return nil }
func (NoopProcessor) ProcessDrop() error                          { return nil }
func (NoopProcessor) ProcessDup() error                           { return nil }
func (NoopProcessor) ProcessSwap() error                          { return nil }
func (NoopProcessor) ProcessElem() error                          { return nil }
func (NoopProcessor) ProcessLd(bytecode.Loc) error                { return nil }
func (NoopProcessor) ProcessLda(bytecode.Loc) error               { return nil }
func (NoopProcessor) ProcessSt(bytecode.Loc) error                { return nil }
func (NoopProcessor) ProcessCJmp(int32, bool) error               { return nil }
func (NoopProcessor) ProcessBegin(int32, int32) error             { return nil }
func (NoopProcessor) ProcessCBegin(int32, int32) error            { return nil }
func (NoopProcessor) ProcessClosure(int32, []bytecode.Loc) error  { return nil }
func (NoopProcessor) ProcessCallC(int32) error                    { return nil }
func (NoopProcessor) ProcessCall(int32, int32) error              { return nil }
func (NoopProcessor) ProcessTag(string, int32) error              { return nil }
func (NoopProcessor) ProcessArray(int32) error                    { return nil }
func (NoopProcessor) ProcessFail(int32, int32) error              { return nil }
func (NoopProcessor) ProcessLine(int32) error                     { return nil }
func (NoopProcessor) ProcessPatt(PattKind) error                  { return nil }
func (NoopProcessor) ProcessLread() error                         { return nil }
func (NoopProcessor) ProcessLwrite() error                        { return nil }
func (NoopProcessor) ProcessLlength() error                       { return nil }
func (NoopProcessor) ProcessLstring() error                       { return nil }
func (NoopProcessor) ProcessBarray(int32) error                   { return nil }

// Dispatch decodes one instruction at cur's current position and invokes
// the matching Processor method. It reports the decoded opcode (so
// callers like the analyzer can classify terminators without a second
// decode pass) and whether the opcode was STOP.
func Dispatch(cur *bytecode.Cursor, img *bytecode.Image, proc Processor) (op bytecode.Opcode, halted bool, err error) {
	opByte, err := cur.ReadU8()
	if err != nil {
		return 0, false, err
	}
	op = bytecode.Opcode(opByte)

	switch op.Family() {
	case bytecode.FamilyBinop:
		member := op.Member()
		if member < 1 || member > 13 {
			return op, false, fmt.Errorf("%w: unrecognized BINOP member %d", bytecode.ErrInvalidBytecode, member)
		}
		return op, false, proc.ProcessBinop(BinOp(member - 1))

	case bytecode.FamilyMisc1:
		err = dispatchMisc1(cur, img, proc, op)
		return op, false, err

	case bytecode.FamilyLd:
		loc, err := cur.ReadLoc(op.Member())
		if err != nil {
			return op, false, err
		}
		return op, false, proc.ProcessLd(loc)

	case bytecode.FamilyLda:
		loc, err := cur.ReadLoc(op.Member())
		if err != nil {
			return op, false, err
		}
		return op, false, proc.ProcessLda(loc)

	case bytecode.FamilySt:
		loc, err := cur.ReadLoc(op.Member())
		if err != nil {
			return op, false, err
		}
		return op, false, proc.ProcessSt(loc)

	case bytecode.FamilyCflow:
		err = dispatchCflow(cur, img, proc, op)
		return op, false, err

	case bytecode.FamilyPatt:
		member := op.Member()
		if member > byte(PattIsClosure) {
			return op, false, fmt.Errorf("%w: unrecognized PATT member %d", bytecode.ErrInvalidBytecode, member)
		}
		return op, false, proc.ProcessPatt(PattKind(member))

	case bytecode.FamilyBuiltin:
		err = dispatchBuiltin(cur, proc, op)
		return op, false, err

	case bytecode.FamilyStop:
		return op, true, nil

	default:
		return op, false, fmt.Errorf("%w: unrecognized opcode %#02x at offset %d", bytecode.ErrInvalidBytecode, opByte, cur.Offset()-1)
	}
}

func dispatchMisc1(cur *bytecode.Cursor, img *bytecode.Image, proc Processor, op bytecode.Opcode) error {
	switch op {
	case bytecode.OpConst:
		n, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessConst(n)
	case bytecode.OpString:
		s, err := cur.ReadStringRef(img)
		if err != nil {
			return err
		}
		return proc.ProcessString(s)
	case bytecode.OpSexp:
		s, err := cur.ReadStringRef(img)
		if err != nil {
			return err
		}
		n, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessSexp(s, n)
	case bytecode.OpSti:
		return proc.ProcessSti()
	case bytecode.OpSta:
		return proc.ProcessSta()
	case bytecode.OpJmp:
		addr, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessJmp(addr)
	case bytecode.OpEnd:
		return proc.ProcessEnd()
	case bytecode.OpRet:
		return proc.ProcessRet()
	case bytecode.OpDrop:
		return proc.ProcessDrop()
	case bytecode.OpDup:
		return proc.ProcessDup()
	case bytecode.OpSwap:
		return proc.ProcessSwap()
	case bytecode.OpElem:
		return proc.ProcessElem()
	default:
		return fmt.Errorf("%w: unrecognized MISC1 opcode %#02x", bytecode.ErrInvalidBytecode, byte(op))
	}
}

func dispatchCflow(cur *bytecode.Cursor, img *bytecode.Image, proc Processor, op bytecode.Opcode) error {
	switch op {
	case bytecode.OpCjmpz:
		addr, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessCJmp(addr, false)
	case bytecode.OpCjmpnz:
		addr, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessCJmp(addr, true)
	case bytecode.OpBegin:
		a, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		l, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessBegin(a, l)
	case bytecode.OpCbegin:
		a, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		l, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessCBegin(a, l)
	case bytecode.OpClosure:
		addr, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		nLocs, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		locs := make([]bytecode.Loc, 0, nLocs)
		for i := int32(0); i < nLocs; i++ {
			kind, err := cur.ReadU8()
			if err != nil {
				return err
			}
			loc, err := cur.ReadLoc(kind)
			if err != nil {
				return err
			}
			locs = append(locs, loc)
		}
		return proc.ProcessClosure(addr, locs)
	case bytecode.OpCallc:
		n, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessCallC(n)
	case bytecode.OpCall:
		addr, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		n, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessCall(addr, n)
	case bytecode.OpTag:
		s, err := cur.ReadStringRef(img)
		if err != nil {
			return err
		}
		n, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessTag(s, n)
	case bytecode.OpArray:
		n, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessArray(n)
	case bytecode.OpFail:
		line, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		col, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessFail(line, col)
	case bytecode.OpLine:
		n, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessLine(n)
	default:
		return fmt.Errorf("%w: unrecognized CFLOW opcode %#02x", bytecode.ErrInvalidBytecode, byte(op))
	}
}

func dispatchBuiltin(cur *bytecode.Cursor, proc Processor, op bytecode.Opcode) error {
	switch op {
	case bytecode.OpLread:
		return proc.ProcessLread()
	case bytecode.OpLwrite:
		return proc.ProcessLwrite()
	case bytecode.OpLlength:
		return proc.ProcessLlength()
	case bytecode.OpLstring:
		return proc.ProcessLstring()
	case bytecode.OpBarray:
		n, err := cur.ReadI32LE()
		if err != nil {
			return err
		}
		return proc.ProcessBarray(n)
	default:
		return fmt.Errorf("%w: unrecognized BUILTIN opcode %#02x", bytecode.ErrInvalidBytecode, byte(op))
	}
}
