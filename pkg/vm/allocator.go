package vm

// Allocator is the GC/heap collaborator's contract. The core never builds
// or inspects a heap object's representation directly; it calls through
// this interface and treats the Word it gets back as opaque. pkg/heap
// supplies the one implementation this repo wires up.
type Allocator interface {
	Bstring(s []byte) Object
	Bsexp(fields []Word, tagHash Word) Object
	Bclosure(target int, captures []Word) Object
	Barray(elems []Word) Object

	Bsta(dst, idx, val Word) (Word, error)
	Belem(arr, idx Word) (Word, error)

	Btag(v Word, tagHash Word, n Word) Word
	BarrayPatt(v Word, n Word) Word
	BstringTagPatt(v Word) Word
	BarrayTagPatt(v Word) Word
	BsexpTagPatt(v Word) Word
	BboxedPatt(v Word) Word
	BunboxedPatt(v Word) Word
	BclosureTagPatt(v Word) Word
	BstringPatt(a, b Word) Word

	LtagHash(s string) Word
	Lread() Word
	Lwrite(v Word) Word
	Llength(v Word) Word
	Lstring(v Word) Object

	// Box and Deref round-trip an Object through the tagged Word encoding;
	// see SPEC_FULL.md §6.A.
	Box(o Object) Word
	Deref(v Word) (Object, bool)
}
