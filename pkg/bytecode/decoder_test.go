package bytecode

import (
	"errors"
	"testing"
)

func TestCursorReadSequence(t *testing.T) {
	code := []byte{
		byte(OpConst), 0x2A, 0x00, 0x00, 0x00, // CONST 42
		byte(OpEnd),
	}
	data := buildImage(t, "main", 0, code)
	img, err := LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	cur := NewCursor(img)
	op, err := cur.ReadU8()
	if err != nil || Opcode(op) != OpConst {
		t.Fatalf("ReadU8 = %v, %v, want OpConst, nil", op, err)
	}
	n, err := cur.ReadI32LE()
	if err != nil || n != 42 {
		t.Fatalf("ReadI32LE = %d, %v, want 42, nil", n, err)
	}
	op, err = cur.ReadU8()
	if err != nil || Opcode(op) != OpEnd {
		t.Fatalf("ReadU8 = %v, %v, want OpEnd, nil", op, err)
	}
	if !cur.Done() {
		t.Fatalf("cursor should be done at offset %d (code size %d)", cur.Offset(), img.CodeSize())
	}
}

func TestCursorReadPastEndFails(t *testing.T) {
	data := buildImage(t, "main", 0, []byte{byte(OpConst), 0x01})
	img, err := LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	cur := NewCursor(img)
	if _, err := cur.ReadU8(); err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	if _, err := cur.ReadI32LE(); !errors.Is(err, ErrInvalidBytecode) {
		t.Fatalf("err = %v, want ErrInvalidBytecode", err)
	}
}

func TestCursorSeekBounds(t *testing.T) {
	data := buildImage(t, "main", 0, []byte{byte(OpStop)})
	img, err := LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	cur := NewCursor(img)
	if err := cur.Seek(img.CodeSize()); err != nil {
		t.Fatalf("Seek(code_size) should be valid sentinel position: %v", err)
	}
	if !cur.Done() {
		t.Fatal("cursor at code_size should report Done")
	}
	if err := cur.Seek(img.CodeSize() + 1); !errors.Is(err, ErrInvalidBytecode) {
		t.Fatalf("err = %v, want ErrInvalidBytecode", err)
	}
	if err := cur.Seek(-1); !errors.Is(err, ErrInvalidBytecode) {
		t.Fatalf("err = %v, want ErrInvalidBytecode", err)
	}
}

func TestCursorReadLocRejectsUnknownKind(t *testing.T) {
	data := buildImage(t, "main", 0, []byte{byte(OpStop)})
	img, err := LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	cur := NewCursor(img)
	if _, err := cur.ReadLoc(7); !errors.Is(err, ErrInvalidBytecode) {
		t.Fatalf("err = %v, want ErrInvalidBytecode", err)
	}
}

func TestCursorReadStringRef(t *testing.T) {
	code := []byte{byte(OpString), 0x00, 0x00, 0x00, 0x00}
	data := buildImage(t, "main", 0, code)
	img, err := LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	cur := NewCursor(img)
	if _, err := cur.ReadU8(); err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	s, err := cur.ReadStringRef(img)
	if err != nil || s != "main" {
		t.Fatalf("ReadStringRef = %q, %v, want \"main\", nil", s, err)
	}
}
