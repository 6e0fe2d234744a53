package analyzer

import (
	"fmt"
	"sort"

	"github.com/chazu/slvm/pkg/bytecode"
)

// Idiom is one byte-exact instruction sequence of length 1 or 2
// observed among a program's reachable fragments, together with its
// occurrence count. Equivalence is purely byte-exact (spec.md §8):
// two occurrences are the same idiom iff their code bytes are
// identical, independent of where they were found.
type Idiom struct {
	Bytes       []byte
	Count       int
	InstrCount  int // 1 for a single fragment, 2 for a bigram
	SampleBegin int // offset of the first occurrence seen, for disassembly
}

// Disassemble renders an Idiom's first one or two instructions by
// re-decoding its sample occurrence out of img, so operands that
// reference the string table (STRING, SEXP, TAG) resolve correctly
// rather than being shown as raw bytes.
func (idiom Idiom) Disassemble(img *bytecode.Image) string {
	text1, next, err := bytecode.DisassembleAt(img, idiom.SampleBegin)
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	if idiom.InstrCount == 1 {
		return text1
	}
	text2, _, err := bytecode.DisassembleAt(img, next)
	if err != nil {
		return fmt.Sprintf("%s; <error: %v>", text1, err)
	}
	return fmt.Sprintf("%s; %s", text1, text2)
}

type idiomAccum struct {
	bytes       []byte
	count       int
	instrCount  int
	sampleBegin int
}

// MineIdioms groups Report's single-instruction fragments, plus every
// adjacent pair that forms a valid bigram per spec.md §4.F, by
// byte-exact equality and returns them sorted by descending count
// (ties broken by byte content for a deterministic report). A fragment
// that is itself a control transfer, or whose immediate successor is
// the start of another public entrypoint, never begins a bigram — a
// "sequence" that jumps into someone else's prologue is not an idiom.
func MineIdioms(report *Report, img *bytecode.Image) []Idiom {
	byBegin := make(map[int]Fragment, len(report.Fragments))
	for _, f := range report.Fragments {
		byBegin[f.Begin] = f
	}

	groups := make(map[string]*idiomAccum)
	observe := func(begin int, b []byte, instrCount int) {
		key := string(b)
		g, ok := groups[key]
		if !ok {
			g = &idiomAccum{bytes: append([]byte(nil), b...), instrCount: instrCount, sampleBegin: begin}
			groups[key] = g
		}
		g.count++
	}

	for _, f := range report.Fragments {
		observe(f.Begin, f.Bytes(img), 1)
	}

	for _, f := range report.Fragments {
		if report.ControlFlow[f.Begin] {
			continue
		}
		succOff := f.Begin + f.Length
		succ, ok := byBegin[succOff]
		if !ok || report.Entrypoints[succOff] {
			continue
		}
		bigram := make([]byte, f.Length+succ.Length)
		copy(bigram, f.Bytes(img))
		copy(bigram[f.Length:], succ.Bytes(img))
		observe(f.Begin, bigram, 2)
	}

	idioms := make([]Idiom, 0, len(groups))
	for _, g := range groups {
		idioms = append(idioms, Idiom{
			Bytes:       g.bytes,
			Count:       g.count,
			InstrCount:  g.instrCount,
			SampleBegin: g.sampleBegin,
		})
	}
	sort.Slice(idioms, func(i, j int) bool {
		if idioms[i].Count != idioms[j].Count {
			return idioms[i].Count > idioms[j].Count
		}
		return string(idioms[i].Bytes) < string(idioms[j].Bytes)
	})
	return idioms
}
