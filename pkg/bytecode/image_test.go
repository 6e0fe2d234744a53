package bytecode

import (
	"errors"
	"testing"
)

func TestLoadBytesValid(t *testing.T) {
	code := []byte{byte(OpStop)}
	data := buildImage(t, "main", 3, code)

	img, err := LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if img.GlobalAreaSize() != 3 {
		t.Errorf("GlobalAreaSize = %d, want 3", img.GlobalAreaSize())
	}
	if img.EntrypointOffset() != 0 {
		t.Errorf("EntrypointOffset = %d, want 0", img.EntrypointOffset())
	}
	if img.CodeSize() != len(code) {
		t.Errorf("CodeSize = %d, want %d", img.CodeSize(), len(code))
	}
	name, err := img.PublicName(0)
	if err != nil || name != "main" {
		t.Errorf("PublicName(0) = %q, %v, want \"main\", nil", name, err)
	}
}

func TestLoadBytesTooShort(t *testing.T) {
	_, err := LoadBytes([]byte{1, 2, 3})
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("err = %v, want ErrInvalidImage", err)
	}
}

func TestLoadBytesNoMainSymbol(t *testing.T) {
	data := buildImage(t, "notmain", 0, []byte{byte(OpStop)})
	_, err := LoadBytes(data)
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("err = %v, want ErrInvalidImage", err)
	}
}

func TestLoadBytesTablesOverrunFile(t *testing.T) {
	data := buildImage(t, "main", 0, []byte{byte(OpStop)})
	// Lie about the string table size so it claims more than the file has.
	data[0] = 0x7F
	_, err := LoadBytes(data)
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("err = %v, want ErrInvalidImage", err)
	}
}

func TestLoadBytesNegativeHeaderField(t *testing.T) {
	data := buildImage(t, "main", -1, []byte{byte(OpStop)})
	_, err := LoadBytes(data)
	if err == nil {
		t.Fatal("expected error for negative global area size")
	}
}

func TestStringAtOutOfRange(t *testing.T) {
	data := buildImage(t, "main", 0, []byte{byte(OpStop)})
	img, err := LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if _, err := img.StringAt(1000); !errors.Is(err, ErrInvalidBytecode) {
		t.Fatalf("err = %v, want ErrInvalidBytecode", err)
	}
}

func TestPublicOffsetBounds(t *testing.T) {
	data := buildImage(t, "main", 0, []byte{byte(OpStop)})
	img, err := LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if _, err := img.PublicOffset(5); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("err = %v, want ErrInvalidImage", err)
	}
	off, err := img.PublicOffset(0)
	if err != nil || off != 0 {
		t.Fatalf("PublicOffset(0) = %d, %v, want 0, nil", off, err)
	}
}
