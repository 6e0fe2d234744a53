package bytecode

import (
	"encoding/binary"
	"testing"
)

// buildImage assembles a minimal valid image file in memory: a string
// table containing name (NUL-terminated) at offset 0, one public symbol
// ("main" by default) pointing at code offset 0, and the given code
// bytes. Used across this package's tests so each test can focus on the
// behavior it's checking rather than hand-rolling header bytes.
func buildImage(t *testing.T, publicName string, globalAreaSize int32, code []byte) []byte {
	t.Helper()

	stringTable := append([]byte(publicName), 0)

	var buf []byte
	appendI32 := func(v int32) {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(v))
		buf = append(buf, tmp[:]...)
	}

	appendI32(int32(len(stringTable)))
	appendI32(globalAreaSize)
	appendI32(1) // public_count

	appendI32(0) // name_offset for the one public symbol
	appendI32(0) // code_offset

	buf = append(buf, stringTable...)
	buf = append(buf, code...)
	return buf
}
