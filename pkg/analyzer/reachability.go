// Package analyzer implements the static reachability walk and idiom
// miner from spec.md §4.F: it reuses pkg/bytecode's cursor and
// pkg/vm's dispatch layer through the same Processor interface the
// interpreter implements, but never executes anything — it only
// classifies what each reachable instruction does to the work stack.
package analyzer

import (
	"github.com/chazu/slvm/pkg/bytecode"
	"github.com/chazu/slvm/pkg/vm"
)

// Fragment is one decoded instruction's span in the code section.
type Fragment struct {
	Begin  int
	Length int
}

// Bytes returns the code-section slice a Fragment spans.
func (f Fragment) Bytes(img *bytecode.Image) []byte {
	return img.Code()[f.Begin : f.Begin+f.Length]
}

// Report is Walk's result.
type Report struct {
	// Fragments holds every reachable instruction, one entry each, in
	// the order Walk visited them (a work-stack traversal, not a
	// program order).
	Fragments []Fragment

	// Terminators marks the offsets of instructions that do not fall
	// through to the next address (END, FAIL, JMP, STOP).
	Terminators map[int]bool

	// ControlFlow marks the offsets of every instruction that can
	// redirect control (Terminators plus CJMPZ/CJMPNZ/CALL/CLOSURE):
	// MineIdioms never starts a bigram at one of these, since pairing
	// a branch with whatever instruction happens to follow it at the
	// next code address is not a meaningful idiom.
	ControlFlow map[int]bool

	// Entrypoints marks every public symbol's code offset.
	Entrypoints map[int]bool

	// VisitedCount is the number of distinct offsets visited.
	VisitedCount int
}

// reachWalker implements vm.Processor purely to classify the
// currently-decoded instruction: which offsets (if any) it contributes
// to the work stack, and whether it is a terminator. Walk resets
// targets/terminator before each Dispatch call and reads them back
// immediately after.
type reachWalker struct {
	vm.NoopProcessor
	targets    []int
	terminator bool
}

func (w *reachWalker) reset() {
	w.targets = w.targets[:0]
	w.terminator = false
}

func (w *reachWalker) ProcessJmp(addr int32) error {
	w.targets = append(w.targets, int(addr))
	w.terminator = true
	return nil
}

func (w *reachWalker) ProcessCJmp(addr int32, nz bool) error {
	w.targets = append(w.targets, int(addr))
	return nil
}

func (w *reachWalker) ProcessCall(addr int32, n int32) error {
	w.targets = append(w.targets, int(addr))
	return nil
}

func (w *reachWalker) ProcessClosure(addr int32, locs []bytecode.Loc) error {
	w.targets = append(w.targets, int(addr))
	return nil
}

func (w *reachWalker) ProcessEnd() error {
	w.terminator = true
	return nil
}

func (w *reachWalker) ProcessFail(line, col int32) error {
	w.terminator = true
	return nil
}

// Walk traces every instruction reachable from a public entrypoint, per
// spec.md §4.F: seed the work stack with every public symbol's code
// offset, decode-and-classify one instruction per pop, push
// JMP/CJMPZ/CJMPNZ/CALL/CLOSURE targets, and push the fall-through
// offset unless the instruction is a terminator (END, FAIL, JMP, STOP).
// Fall-through from any incoming branch target yields implicit
// basic-block boundaries, matching the spec's note that no separate
// basic-block pass is needed.
func Walk(img *bytecode.Image) (*Report, error) {
	entrypoints := make(map[int]bool)
	var work []int
	for i := 0; i < img.PublicCount(); i++ {
		off, err := img.PublicOffset(i)
		if err != nil {
			return nil, err
		}
		entrypoints[off] = true
		work = append(work, off)
	}

	visited := make(map[int]bool)
	terminators := make(map[int]bool)
	controlFlow := make(map[int]bool)
	var fragments []Fragment

	w := &reachWalker{}
	for len(work) > 0 {
		off := work[len(work)-1]
		work = work[:len(work)-1]
		if visited[off] {
			continue
		}
		visited[off] = true

		cur, err := bytecode.NewCursorAt(img, off)
		if err != nil {
			return nil, err
		}
		w.reset()
		_, halted, err := vm.Dispatch(cur, img, w)
		if err != nil {
			return nil, err
		}
		length := cur.Offset() - off
		fragments = append(fragments, Fragment{Begin: off, Length: length})

		isTerminator := w.terminator || halted
		if isTerminator {
			terminators[off] = true
		}
		if isTerminator || len(w.targets) > 0 {
			controlFlow[off] = true
		}

		for _, t := range w.targets {
			work = append(work, t)
		}
		if !isTerminator {
			work = append(work, cur.Offset())
		}
	}

	return &Report{
		Fragments:    fragments,
		Terminators:  terminators,
		ControlFlow:  controlFlow,
		Entrypoints:  entrypoints,
		VisitedCount: len(visited),
	}, nil
}
