package bytecode

import (
	"encoding/binary"
	"fmt"
	"os"
)

// headerSize is the fixed 12-byte header: three little-endian i32 fields
// (string_table_size, global_area_size, public_count) ahead of the public
// table, string table, and code section.
const headerSize = 12

// publicEntrySize is the size in bytes of one (name_offset, code_offset)
// pair in the public table.
const publicEntrySize = 8

// mainSymbol is the public symbol name the loader requires as entrypoint.
const mainSymbol = "main"

// PublicSymbol is one entry of the image's public table: a name, resolved
// against the string table, and the code offset it designates.
type PublicSymbol struct {
	NameOffset int
	CodeOffset int
}

// Image is the parsed, validated in-memory representation of a bytecode
// file. It owns the raw file bytes; StringAt and the code cursor in
// decoder.go slice directly into that allocation rather than copying.
type Image struct {
	stringTableSize int
	globalAreaSize  int

	publics []PublicSymbol

	stringTable []byte
	code        []byte

	entrypointOffset int
}

// Load reads the bytecode file at path and parses it into an Image.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}
	return LoadBytes(data)
}

// LoadBytes parses an Image from an in-memory file, without touching the
// filesystem. Every test in this repo that needs an image goes through
// this entrypoint; Load calls it after reading the file.
func LoadBytes(data []byte) (*Image, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: file too short for header: got %d bytes, need %d", ErrInvalidImage, len(data), headerSize)
	}

	stringTableSize := int(int32(binary.LittleEndian.Uint32(data[0:4])))
	globalAreaSize := int(int32(binary.LittleEndian.Uint32(data[4:8])))
	publicCount := int(int32(binary.LittleEndian.Uint32(data[8:12])))

	if stringTableSize < 0 {
		return nil, fmt.Errorf("%w: negative string table size %d", ErrInvalidImage, stringTableSize)
	}
	if globalAreaSize < 0 {
		return nil, fmt.Errorf("%w: negative global area size %d", ErrInvalidImage, globalAreaSize)
	}
	if publicCount < 0 {
		return nil, fmt.Errorf("%w: negative public symbol count %d", ErrInvalidImage, publicCount)
	}

	publicTableSize := publicCount * publicEntrySize
	if publicCount*2*4+stringTableSize > len(data) {
		return nil, fmt.Errorf("%w: public table (%d) + string table (%d) exceeds file size %d",
			ErrInvalidImage, publicTableSize, stringTableSize, len(data))
	}

	stringTableStart := headerSize + publicTableSize
	codeStart := stringTableStart + stringTableSize
	if codeStart > len(data) {
		return nil, fmt.Errorf("%w: header and tables (%d bytes) exceed file size %d", ErrInvalidImage, codeStart, len(data))
	}

	img := &Image{
		stringTableSize: stringTableSize,
		globalAreaSize:  globalAreaSize,
		stringTable:     data[stringTableStart:codeStart],
		code:            data[codeStart:],
	}

	img.publics = make([]PublicSymbol, publicCount)
	for i := 0; i < publicCount; i++ {
		off := headerSize + i*publicEntrySize
		nameOff := int(int32(binary.LittleEndian.Uint32(data[off : off+4])))
		codeOff := int(int32(binary.LittleEndian.Uint32(data[off+4 : off+8])))
		if nameOff < 0 || nameOff >= stringTableSize {
			return nil, fmt.Errorf("%w: public symbol %d name offset %d outside string table [0, %d)",
				ErrInvalidImage, i, nameOff, stringTableSize)
		}
		img.publics[i] = PublicSymbol{NameOffset: nameOff, CodeOffset: codeOff}
	}

	entrypoint, ok := img.lookupEntrypoint()
	if !ok {
		return nil, fmt.Errorf("%w: no public symbol named %q", ErrInvalidImage, mainSymbol)
	}
	if entrypoint < 0 || entrypoint >= len(img.code) {
		return nil, fmt.Errorf("%w: entrypoint offset %d outside code section [0, %d)",
			ErrInvalidImage, entrypoint, len(img.code))
	}
	img.entrypointOffset = entrypoint

	return img, nil
}

// lookupEntrypoint scans the public table for a symbol named "main".
func (img *Image) lookupEntrypoint() (int, bool) {
	for _, pub := range img.publics {
		name, err := img.StringAt(pub.NameOffset)
		if err == nil && name == mainSymbol {
			return pub.CodeOffset, true
		}
	}
	return 0, false
}

// StringAt returns the NUL-terminated string starting at offset in the
// string table. offset must lie in [0, string_table_size]; anything else
// is a loader-time programming error surfaced as ErrInvalidBytecode so
// callers (e.g. the decoder resolving a STRING operand) can treat it
// uniformly with other out-of-range reads.
func (img *Image) StringAt(offset int) (string, error) {
	if offset < 0 || offset > img.stringTableSize {
		return "", fmt.Errorf("%w: string offset %d outside [0, %d]", ErrInvalidBytecode, offset, img.stringTableSize)
	}
	end := offset
	for end < len(img.stringTable) && img.stringTable[end] != 0 {
		end++
	}
	if end >= len(img.stringTable) {
		return "", fmt.Errorf("%w: unterminated string at offset %d", ErrInvalidBytecode, offset)
	}
	return string(img.stringTable[offset:end]), nil
}

// PublicCount returns the number of public symbols.
func (img *Image) PublicCount() int {
	return len(img.publics)
}

// PublicName returns the name of the i-th public symbol.
func (img *Image) PublicName(i int) (string, error) {
	if i < 0 || i >= len(img.publics) {
		return "", fmt.Errorf("%w: public symbol index %d outside [0, %d)", ErrInvalidImage, i, len(img.publics))
	}
	return img.StringAt(img.publics[i].NameOffset)
}

// PublicOffset returns the code offset of the i-th public symbol.
func (img *Image) PublicOffset(i int) (int, error) {
	if i < 0 || i >= len(img.publics) {
		return 0, fmt.Errorf("%w: public symbol index %d outside [0, %d)", ErrInvalidImage, i, len(img.publics))
	}
	return img.publics[i].CodeOffset, nil
}

// EntrypointOffset returns the code offset of the "main" public symbol.
func (img *Image) EntrypointOffset() int {
	return img.entrypointOffset
}

// CodeSize returns the number of bytes in the code section.
func (img *Image) CodeSize() int {
	return len(img.code)
}

// GlobalAreaSize returns the number of machine words the global region
// must hold. The buffer itself is allocated and zeroed by pkg/vm's
// Machine, not here; the image only carries the required size.
func (img *Image) GlobalAreaSize() int {
	return img.globalAreaSize
}

// StringTableSize returns the byte length of the string table.
func (img *Image) StringTableSize() int {
	return img.stringTableSize
}

// Code returns the raw code section bytes. Callers (the decoder) must not
// mutate the returned slice.
func (img *Image) Code() []byte {
	return img.code
}
