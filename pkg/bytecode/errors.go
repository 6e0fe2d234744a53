package bytecode

import "errors"

// Sentinel errors for image loading. Wrapped with fmt.Errorf("%w: ...", ...)
// at the call site so callers can still errors.Is against these.
var (
	// ErrIO is returned when the underlying file could not be opened or read.
	ErrIO = errors.New("bytecode: io error")

	// ErrInvalidImage is returned when the file header is malformed, the
	// public or string tables overrun the file, or no public symbol named
	// "main" exists to serve as entrypoint.
	ErrInvalidImage = errors.New("bytecode: invalid image")

	// ErrInvalidBytecode is returned by the decoder and its callers when a
	// cursor read would step outside the code section, or an unknown
	// opcode is encountered.
	ErrInvalidBytecode = errors.New("bytecode: invalid bytecode")
)
