package vm

import "errors"

// ErrInvalidOperand and ErrIndexOutOfRange are the sentinels an Allocator
// implementation raises for operand-shape and bounds violations that it
// detects itself, deep inside Bsta/Belem and friends, without access to
// the Machine's diagnostic context. Interpreter.translateAllocErr turns
// either into a properly annotated Fault before it reaches the caller.
var (
	ErrInvalidOperand  = errors.New("invalid operand")
	ErrIndexOutOfRange = errors.New("index out of range")
)
