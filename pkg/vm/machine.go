package vm

import "github.com/chazu/slvm/pkg/bytecode"

// VStackSize and CStackSize are the fixed sizes of the two stacks, in
// words.
const (
	VStackSize = 1 << 20
	CStackSize = 1 << 20
)

// Machine owns the two fixed stacks and the frame-layout arithmetic
// described by the data model: a GC-scanned value stack (sp_top, sp_bot)
// and a call stack of 5-word frames, growing toward low addresses. It is
// the single long-lived value an interpreter or analyzer run is built
// around.
type Machine struct {
	vstack []Word
	spTop  int // most recently pushed slot (lower address); spBot when empty
	spBot  int // exclusive upper bound; set once at construction

	cstack []Word
	cTop   int // most recently pushed slot (lower address); len(cstack) when empty

	globalAreaSize int
	alloc          Allocator

	lastOffset int
	lastOpcode byte
}

// NewMachine allocates both stacks at their spec.md default size (2^20
// words each) and records the global region size. The caller must still
// call Bootstrap before running any code.
func NewMachine(alloc Allocator, globalAreaSize int) *Machine {
	return NewMachineWithStacks(alloc, globalAreaSize, VStackSize, CStackSize)
}

// NewMachineWithStacks is NewMachine generalized to caller-chosen stack
// sizes, the hook pkg/config's [stack] table drives: a non-default
// config never changes bytecode semantics, only how far a program can
// recurse or push before hitting an Overflow Fault.
func NewMachineWithStacks(alloc Allocator, globalAreaSize, vstackWords, cstackWords int) *Machine {
	m := &Machine{
		vstack:         make([]Word, vstackWords),
		cstack:         make([]Word, cstackWords),
		globalAreaSize: globalAreaSize,
		alloc:          alloc,
	}
	m.spBot = len(m.vstack)
	m.spTop = m.spBot
	m.cTop = len(m.cstack)
	return m
}

// SetDiag records the instruction offset and opcode byte currently being
// processed, so a Fault raised by any stack or accessor operation during
// its handling carries accurate diagnostic context.
func (m *Machine) SetDiag(offset int, opcode byte) {
	m.lastOffset = offset
	m.lastOpcode = opcode
}

// Bootstrap pushes the (zero-initialized) global region, the two
// argc/argv placeholders, and the outermost call frame's two header
// words, per the data model's bootstrap sequence. codeSize is used as
// the sentinel return offset that signals the top-level interpretation
// loop to stop.
func (m *Machine) Bootstrap(codeSize int) error {
	for i := 0; i < m.globalAreaSize; i++ {
		if err := m.VPush(0); err != nil {
			return err
		}
	}
	if err := m.VPush(0); err != nil { // argc placeholder
		return err
	}
	if err := m.VPush(0); err != nil { // argv placeholder
		return err
	}
	if err := m.CPush(0); err != nil { // is_closure = false
		return err
	}
	if err := m.CPush(Word(codeSize)); err != nil { // return_offset = code_size
		return err
	}
	return nil
}

// VPush decrements sp_top and stores v.
func (m *Machine) VPush(v Word) error {
	if m.spTop == 0 {
		return m.newFault(FaultValueStackOverflow, "pushing %v", v)
	}
	m.spTop--
	m.vstack[m.spTop] = v
	return nil
}

// VPop reads *sp_top and increments it.
func (m *Machine) VPop() (Word, error) {
	if m.spTop >= m.spBot {
		return 0, m.newFault(FaultValueStackUnderflow, "popping value stack")
	}
	v := m.vstack[m.spTop]
	m.spTop++
	return v, nil
}

// VTop returns the current value-stack top pointer (for diagnostics and
// the testable END-height property).
func (m *Machine) VTop() int {
	return m.spTop
}

// Peek returns the value n slots above sp_top without popping it.
func (m *Machine) Peek(n int) (Word, error) {
	idx := m.spTop + n
	if err := m.checkVStackIndex(idx, "peek"); err != nil {
		return 0, err
	}
	return m.vstack[idx], nil
}

// SetVTop resets sp_top directly; used by END to discard a frame's
// locals/args/closure cell in one step.
func (m *Machine) SetVTop(pos int) error {
	if pos < 0 || pos > m.spBot {
		return m.newFault(FaultValueStackUnderflow, "resetting sp_top to %d", pos)
	}
	m.spTop = pos
	return nil
}

// CPush mirrors VPush on the call stack.
func (m *Machine) CPush(v Word) error {
	if m.cTop == 0 {
		return m.newFault(FaultCallStackOverflow, "pushing %v", v)
	}
	m.cTop--
	m.cstack[m.cTop] = v
	return nil
}

// CPop mirrors VPop on the call stack.
func (m *Machine) CPop() (Word, error) {
	if m.cTop >= len(m.cstack) {
		return 0, m.newFault(FaultCallStackUnderflow, "popping call stack")
	}
	v := m.cstack[m.cTop]
	m.cTop++
	return v, nil
}

// PopFrame discards the current 5-word call frame without interpreting
// its fields; used by END once its fields have already been read.
func (m *Machine) PopFrame() error {
	if m.cTop+5 > len(m.cstack) {
		return m.newFault(FaultCallStackUnderflow, "popping call frame")
	}
	m.cTop += 5
	return nil
}

func (m *Machine) frameField(offset int, name string) (Word, error) {
	idx := m.cTop + offset
	if idx >= len(m.cstack) {
		return 0, m.newFault(FaultCallStackUnderflow, "reading %s", name)
	}
	return m.cstack[idx], nil
}

// NLocals, NArgs, FramePointer, ReturnOffset, and IsClosureFrame read the
// current call frame's 5 fields directly off the call stack, matching
// the data model's layout exactly: no separate cached copy is kept.
func (m *Machine) NLocals() (int, error) {
	v, err := m.frameField(0, "n_locals")
	return int(v), err
}

func (m *Machine) NArgs() (int, error) {
	v, err := m.frameField(1, "n_args")
	return int(v), err
}

func (m *Machine) FramePointer() (int, error) {
	v, err := m.frameField(2, "frame_pointer")
	return int(v), err
}

func (m *Machine) ReturnOffset() (int, error) {
	v, err := m.frameField(3, "return_offset")
	return int(v), err
}

func (m *Machine) IsClosureFrame() (bool, error) {
	v, err := m.frameField(4, "is_closure_flag")
	return v != 0, err
}

func (m *Machine) checkVStackIndex(idx int, what string) error {
	if idx < m.spTop || idx >= m.spBot {
		return m.newFault(FaultIndexOutOfRange, "%s location %d outside live range [%d, %d)", what, idx, m.spTop, m.spBot)
	}
	return nil
}

func (m *Machine) globalIndex(i int) (int, error) {
	if i < 0 || i >= m.globalAreaSize {
		return 0, m.newFault(FaultIndexOutOfRange, "global %d outside [0, %d)", i, m.globalAreaSize)
	}
	idx := m.spBot - m.globalAreaSize + i
	return idx, m.checkVStackIndex(idx, "global")
}

func (m *Machine) localIndex(i int) (int, error) {
	n, err := m.NLocals()
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= n {
		return 0, m.newFault(FaultIndexOutOfRange, "local %d outside [0, %d)", i, n)
	}
	fp, err := m.FramePointer()
	if err != nil {
		return 0, err
	}
	idx := fp - n + i
	return idx, m.checkVStackIndex(idx, "local")
}

func (m *Machine) argIndex(i int) (int, error) {
	n, err := m.NArgs()
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= n {
		return 0, m.newFault(FaultIndexOutOfRange, "arg %d outside [0, %d)", i, n)
	}
	fp, err := m.FramePointer()
	if err != nil {
		return 0, err
	}
	idx := fp + n - 1 - i
	return idx, m.checkVStackIndex(idx, "arg")
}

func (m *Machine) closureCellIndex() (int, error) {
	n, err := m.NArgs()
	if err != nil {
		return 0, err
	}
	fp, err := m.FramePointer()
	if err != nil {
		return 0, err
	}
	idx := fp + n
	return idx, m.checkVStackIndex(idx, "closure")
}

// Global, Local, Arg read a slot per the frame layout; the Set variants
// mutate it in place. LoadLoc/StoreLoc dispatch on a decoded Loc.
func (m *Machine) Global(i int) (Word, error) {
	idx, err := m.globalIndex(i)
	if err != nil {
		return 0, err
	}
	return m.vstack[idx], nil
}

func (m *Machine) SetGlobal(i int, v Word) error {
	idx, err := m.globalIndex(i)
	if err != nil {
		return err
	}
	m.vstack[idx] = v
	return nil
}

func (m *Machine) Local(i int) (Word, error) {
	idx, err := m.localIndex(i)
	if err != nil {
		return 0, err
	}
	return m.vstack[idx], nil
}

func (m *Machine) SetLocal(i int, v Word) error {
	idx, err := m.localIndex(i)
	if err != nil {
		return err
	}
	m.vstack[idx] = v
	return nil
}

func (m *Machine) Arg(i int) (Word, error) {
	idx, err := m.argIndex(i)
	if err != nil {
		return 0, err
	}
	return m.vstack[idx], nil
}

func (m *Machine) SetArg(i int, v Word) error {
	idx, err := m.argIndex(i)
	if err != nil {
		return err
	}
	m.vstack[idx] = v
	return nil
}

// ClosureCell returns the Word held at the current frame's closure cell
// (fp + n_args): the closure value this invocation was made through, if
// any.
func (m *Machine) ClosureCell() (Word, error) {
	idx, err := m.closureCellIndex()
	if err != nil {
		return 0, err
	}
	return m.vstack[idx], nil
}

// closureObject resolves the current frame's closure cell to its Object,
// failing NotAClosure if it doesn't hold one.
func (m *Machine) closureObject() (Object, error) {
	cell, err := m.ClosureCell()
	if err != nil {
		return Object{}, err
	}
	obj, ok := m.alloc.Deref(cell)
	if !ok || obj.Tag != TagClosure {
		return Object{}, m.newFault(FaultNotAClosure, "closure cell does not hold a CLOSURE object")
	}
	return obj, nil
}

// ClosureSlot returns logical capture i (capture-slot i+1 in the
// object's physical layout; slot 0 is the target code offset and is
// never exposed through this accessor).
func (m *Machine) ClosureSlot(i int) (Word, error) {
	obj, err := m.closureObject()
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= len(obj.ClosureCaptures) {
		return 0, m.newFault(FaultIndexOutOfRange, "closure capture %d outside [0, %d)", i, len(obj.ClosureCaptures))
	}
	return obj.ClosureCaptures[i], nil
}

// SetClosureSlot mutates logical capture i in place.
func (m *Machine) SetClosureSlot(i int, v Word) error {
	obj, err := m.closureObject()
	if err != nil {
		return err
	}
	if i < 0 || i >= len(obj.ClosureCaptures) {
		return m.newFault(FaultIndexOutOfRange, "closure capture %d outside [0, %d)", i, len(obj.ClosureCaptures))
	}
	obj.ClosureCaptures[i] = v
	return nil
}

// LoadLoc and StoreLoc dispatch a decoded location descriptor to the
// matching region accessor.
func (m *Machine) LoadLoc(loc bytecode.Loc) (Word, error) {
	switch loc.Kind {
	case bytecode.LocGlobal:
		return m.Global(loc.Index)
	case bytecode.LocLocal:
		return m.Local(loc.Index)
	case bytecode.LocArg:
		return m.Arg(loc.Index)
	case bytecode.LocClosure:
		return m.ClosureSlot(loc.Index)
	default:
		return 0, m.newFault(FaultInvalidBytecode, "unrecognized loc kind %v", loc.Kind)
	}
}

func (m *Machine) StoreLoc(loc bytecode.Loc, v Word) error {
	switch loc.Kind {
	case bytecode.LocGlobal:
		return m.SetGlobal(loc.Index, v)
	case bytecode.LocLocal:
		return m.SetLocal(loc.Index, v)
	case bytecode.LocArg:
		return m.SetArg(loc.Index, v)
	case bytecode.LocClosure:
		return m.SetClosureSlot(loc.Index, v)
	default:
		return m.newFault(FaultInvalidBytecode, "unrecognized loc kind %v", loc.Kind)
	}
}

// Alloc exposes the configured Allocator so interpreter handlers can
// call heap builtins directly.
func (m *Machine) Alloc() Allocator {
	return m.alloc
}
