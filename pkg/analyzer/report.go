package analyzer

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/slvm/pkg/bytecode"
)

// IdiomEntry is one idiom's wire-format shape: the raw bytes (for a
// byte-exact consumer) plus its count and a pre-rendered disassembly,
// so a machine reader doesn't need its own copy of the opcode table.
type IdiomEntry struct {
	Count       int    `json:"count" cbor:"count"`
	Bytes       []byte `json:"bytes" cbor:"bytes"`
	Disassembly string `json:"disassembly" cbor:"disassembly"`
}

// TopIdioms packages a Walk/MineIdioms run for cmd/slvm-analyze's
// -format json|cbor output. It is the structured counterpart of the
// text report printed by default.
type TopIdioms struct {
	VisitedCount  int          `json:"visited_count" cbor:"visited_count"`
	FragmentCount int          `json:"fragment_count" cbor:"fragment_count"`
	Idioms        []IdiomEntry `json:"idioms" cbor:"idioms"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("analyzer: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// BuildTopIdioms truncates idioms to its top n by count (n<=0 means
// unlimited) and renders the wire-format report.
func BuildTopIdioms(img *bytecode.Image, report *Report, idioms []Idiom, n int) TopIdioms {
	if n > 0 && n < len(idioms) {
		idioms = idioms[:n]
	}
	entries := make([]IdiomEntry, len(idioms))
	for i, idiom := range idioms {
		entries[i] = IdiomEntry{
			Count:       idiom.Count,
			Bytes:       idiom.Bytes,
			Disassembly: idiom.Disassemble(img),
		}
	}
	return TopIdioms{
		VisitedCount:  report.VisitedCount,
		FragmentCount: len(report.Fragments),
		Idioms:        entries,
	}
}

// EncodeJSON renders t as indented JSON.
func EncodeJSON(t TopIdioms) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// EncodeCBOR renders t as canonical CBOR, the same EncMode-caching idiom
// used by the teacher's distribution-wire encoder.
func EncodeCBOR(t TopIdioms) ([]byte, error) {
	return cborEncMode.Marshal(t)
}
