package bytecode

import (
	"fmt"
	"strings"
)

// DisassembleAt decodes exactly one instruction at offset within img's
// code section and returns its rendered mnemonic/operands plus the
// offset immediately following it. pkg/analyzer uses this to render a
// mined idiom's sample occurrence without re-deriving a full listing.
func DisassembleAt(img *Image, offset int) (text string, next int, err error) {
	cur, err := NewCursorAt(img, offset)
	if err != nil {
		return "", 0, err
	}
	text, err = disassembleInstruction(img, cur)
	if err != nil {
		return "", 0, err
	}
	return text, cur.Offset(), nil
}

// Disassemble returns a human-readable listing of the entire code section,
// decoded linearly from offset 0 regardless of reachability. Use
// pkg/analyzer for a reachability-aware view.
func Disassemble(img *Image) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; code section: %d bytes, entrypoint 0x%04X\n", img.CodeSize(), img.EntrypointOffset())

	cur := NewCursor(img)
	for !cur.Done() {
		offset := cur.Offset()
		line, err := disassembleInstruction(img, cur)
		if err != nil {
			fmt.Fprintf(&sb, "%04X  <error: %v>\n", offset, err)
			return sb.String(), err
		}
		fmt.Fprintf(&sb, "%04X  %s\n", offset, line)
	}
	return sb.String(), nil
}

// disassembleInstruction decodes one instruction at the cursor's current
// position, advancing it past the instruction, and returns its rendered
// mnemonic and operands.
func disassembleInstruction(img *Image, cur *Cursor) (string, error) {
	opByte, err := cur.ReadU8()
	if err != nil {
		return "", err
	}
	op := Opcode(opByte)

	switch op.Family() {
	case FamilyBinop:
		return op.String(), nil

	case FamilyMisc1:
		return disassembleMisc1(img, cur, op)

	case FamilyLd, FamilyLda, FamilySt:
		loc, err := cur.ReadLoc(op.Member())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s\t%s", familyMnemonic(op.Family()), loc), nil

	case FamilyCflow:
		return disassembleCflow(img, cur, op)

	case FamilyPatt:
		return op.String(), nil

	case FamilyBuiltin:
		if op == OpBarray {
			n, err := cur.ReadI32LE()
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("BARRAY\t%d", n), nil
		}
		return op.String(), nil

	case FamilyStop:
		return "STOP", nil

	default:
		return "", fmt.Errorf("%w: unrecognized opcode %#02x at offset %d", ErrInvalidBytecode, opByte, cur.Offset()-1)
	}
}

func familyMnemonic(f Family) string {
	switch f {
	case FamilyLd:
		return "LD"
	case FamilyLda:
		return "LDA"
	case FamilySt:
		return "ST"
	default:
		return f.String()
	}
}

func disassembleMisc1(img *Image, cur *Cursor, op Opcode) (string, error) {
	switch op {
	case OpConst:
		n, err := cur.ReadI32LE()
		return fmt.Sprintf("CONST\t%d", n), err
	case OpString:
		s, err := cur.ReadStringRef(img)
		return fmt.Sprintf("STRING\t%q", s), err
	case OpSexp:
		s, err := cur.ReadStringRef(img)
		if err != nil {
			return "", err
		}
		n, err := cur.ReadI32LE()
		return fmt.Sprintf("SEXP\t%q, %d", s, n), err
	case OpSti:
		return "STI", nil
	case OpSta:
		return "STA", nil
	case OpJmp:
		target, err := cur.ReadI32LE()
		return fmt.Sprintf("JMP\t0x%04X", target), err
	case OpEnd:
		return "END", nil
	case OpRet:
		return "RET", nil
	case OpDrop:
		return "DROP", nil
	case OpDup:
		return "DUP", nil
	case OpSwap:
		return "SWAP", nil
	case OpElem:
		return "ELEM", nil
	default:
		return "", fmt.Errorf("%w: unrecognized MISC1 opcode %#02x at offset %d", ErrInvalidBytecode, byte(op), cur.Offset()-1)
	}
}

func disassembleCflow(img *Image, cur *Cursor, op Opcode) (string, error) {
	switch op {
	case OpCjmpz:
		target, err := cur.ReadI32LE()
		return fmt.Sprintf("CJMPZ\t0x%04X", target), err
	case OpCjmpnz:
		target, err := cur.ReadI32LE()
		return fmt.Sprintf("CJMPNZ\t0x%04X", target), err
	case OpBegin:
		a, err := cur.ReadI32LE()
		if err != nil {
			return "", err
		}
		l, err := cur.ReadI32LE()
		return fmt.Sprintf("BEGIN\t%d, %d", a, l), err
	case OpCbegin:
		a, err := cur.ReadI32LE()
		if err != nil {
			return "", err
		}
		l, err := cur.ReadI32LE()
		return fmt.Sprintf("CBEGIN\t%d, %d", a, l), err
	case OpClosure:
		addr, err := cur.ReadI32LE()
		if err != nil {
			return "", err
		}
		nLocs, err := cur.ReadI32LE()
		if err != nil {
			return "", err
		}
		locs := make([]string, 0, nLocs)
		for i := int32(0); i < nLocs; i++ {
			kind, err := cur.ReadU8()
			if err != nil {
				return "", err
			}
			loc, err := cur.ReadLoc(kind)
			if err != nil {
				return "", err
			}
			locs = append(locs, loc.String())
		}
		return fmt.Sprintf("CLOSURE\t0x%04X, %d, [%s]", addr, nLocs, strings.Join(locs, ", ")), nil
	case OpCallc:
		n, err := cur.ReadI32LE()
		return fmt.Sprintf("CALLC\t%d", n), err
	case OpCall:
		addr, err := cur.ReadI32LE()
		if err != nil {
			return "", err
		}
		n, err := cur.ReadI32LE()
		return fmt.Sprintf("CALL\t0x%04X, %d", addr, n), err
	case OpTag:
		s, err := cur.ReadStringRef(img)
		if err != nil {
			return "", err
		}
		n, err := cur.ReadI32LE()
		return fmt.Sprintf("TAG\t%q, %d", s, n), err
	case OpArray:
		n, err := cur.ReadI32LE()
		return fmt.Sprintf("ARRAY\t%d", n), err
	case OpFail:
		line, err := cur.ReadI32LE()
		if err != nil {
			return "", err
		}
		col, err := cur.ReadI32LE()
		return fmt.Sprintf("FAIL\t%d:%d", line, col), err
	case OpLine:
		n, err := cur.ReadI32LE()
		return fmt.Sprintf("LINE\t%d", n), err
	default:
		return "", fmt.Errorf("%w: unrecognized CFLOW opcode %#02x at offset %d", ErrInvalidBytecode, byte(op), cur.Offset()-1)
	}
}
