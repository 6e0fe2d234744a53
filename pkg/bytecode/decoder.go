package bytecode

import (
	"encoding/binary"
	"fmt"
)

// Cursor walks the code section of an Image one instruction at a time.
// Every read is bounds-checked against the code section; a violation is
// ErrInvalidBytecode, matching the fatal InvalidBytecode failure mode
// used everywhere else in the decode/dispatch path.
type Cursor struct {
	code []byte
	pos  int
}

// NewCursor returns a Cursor positioned at the start of the image's code
// section.
func NewCursor(img *Image) *Cursor {
	return &Cursor{code: img.Code()}
}

// NewCursorAt returns a Cursor positioned at offset within the image's
// code section. offset may equal len(code); that is the sentinel
// "completed" position used by the outermost call frame's return offset.
func NewCursorAt(img *Image, offset int) (*Cursor, error) {
	c := &Cursor{code: img.Code()}
	if err := c.Seek(offset); err != nil {
		return nil, err
	}
	return c, nil
}

// Offset returns the cursor's current position within the code section.
func (c *Cursor) Offset() int {
	return c.pos
}

// Done reports whether the cursor has reached the end of the code
// section, i.e. is sitting at the "completed" sentinel offset.
func (c *Cursor) Done() bool {
	return c.pos >= len(c.code)
}

// Seek repositions the cursor. offset must be in [0, len(code)].
func (c *Cursor) Seek(offset int) error {
	if offset < 0 || offset > len(c.code) {
		return fmt.Errorf("%w: offset %d outside code section [0, %d]", ErrInvalidBytecode, offset, len(c.code))
	}
	c.pos = offset
	return nil
}

// PeekU8 reads the next byte without consuming it, so a caller can record
// diagnostic context (offset, opcode) before invoking a handler that may
// fail — mirroring ProcessorState's habit of stashing the opcode byte on
// itself ahead of dispatch.
func (c *Cursor) PeekU8() (byte, error) {
	if c.pos+1 > len(c.code) {
		return 0, fmt.Errorf("%w: peek_u8 at offset %d steps outside code section (size %d)", ErrInvalidBytecode, c.pos, len(c.code))
	}
	return c.code[c.pos], nil
}

// ReadU8 reads and consumes one byte.
func (c *Cursor) ReadU8() (byte, error) {
	if c.pos+1 > len(c.code) {
		return 0, fmt.Errorf("%w: read_u8 at offset %d steps outside code section (size %d)", ErrInvalidBytecode, c.pos, len(c.code))
	}
	b := c.code[c.pos]
	c.pos++
	return b, nil
}

// ReadI32LE reads and consumes a little-endian 32-bit signed integer.
func (c *Cursor) ReadI32LE() (int32, error) {
	if c.pos+4 > len(c.code) {
		return 0, fmt.Errorf("%w: read_i32_le at offset %d steps outside code section (size %d)", ErrInvalidBytecode, c.pos, len(c.code))
	}
	v := int32(binary.LittleEndian.Uint32(c.code[c.pos : c.pos+4]))
	c.pos += 4
	return v, nil
}

// ReadStringRef reads an i32 string-table offset and resolves it against
// img's string table.
func (c *Cursor) ReadStringRef(img *Image) (string, error) {
	off, err := c.ReadI32LE()
	if err != nil {
		return "", err
	}
	s, err := img.StringAt(int(off))
	if err != nil {
		return "", err
	}
	return s, nil
}

// ReadLoc reads the i32 index following an already-decoded loc-kind
// nibble and returns the combined location descriptor.
func (c *Cursor) ReadLoc(kind byte) (Loc, error) {
	if kind > byte(LocClosure) {
		return Loc{}, fmt.Errorf("%w: unrecognized loc kind %d", ErrInvalidBytecode, kind)
	}
	idx, err := c.ReadI32LE()
	if err != nil {
		return Loc{}, err
	}
	return Loc{Kind: LocKind(kind), Index: int(idx)}, nil
}
