// Package bytecode defines the 32-bit fixed-width instruction encoding, the
// opcode set, and the Prototype (compiled function) record that the
// compiler emits, the optimizer rewrites in place, and the VM executes.
//
// Instruction layout follows the teacher VM's register encoding (itself
// modeled on Lua 5.x): four shapes packed into one uint32, decoded with
// shifts and masks rather than a tagged union, so dispatch never leaves L1.
package bytecode

// Instruction is one 32-bit fixed-width bytecode word.
type Instruction uint32

const (
	posOp = 0
	posA  = 8
	posB  = 16
	posC  = 24

	sizeOp = 8
	sizeA  = 8
	sizeB  = 8
	sizeC  = 8
	sizeBx = 16
	sizeAx = 24

	maskOp = (1 << sizeOp) - 1
	maskA  = (1 << sizeA) - 1
	maskB  = (1 << sizeB) - 1
	maskC  = (1 << sizeC) - 1
	maskBx = (1 << sizeBx) - 1
	maskAx = (1 << sizeAx) - 1

	// MaxRegisters is the hard one-byte-operand register cap from §4.1.
	MaxRegisters = 255

	// biasSBx centers the 16-bit signed jump/literal field.
	biasSBx = maskBx >> 1
)

// MakeABC encodes the iABC shape: Op:8 A:8 B:8 C:8.
func MakeABC(op OpCode, a, b, c uint8) Instruction {
	return Instruction(op) | Instruction(a)<<posA | Instruction(b)<<posB | Instruction(c)<<posC
}

// MakeABx encodes the iABx shape: Op:8 A:8 Bx:16 (unsigned).
func MakeABx(op OpCode, a uint8, bx uint16) Instruction {
	return Instruction(op) | Instruction(a)<<posA | Instruction(bx)<<posB
}

// MakeAsBx encodes the iAsBx shape: Op:8 A:8 sBx:16 (bias-encoded signed).
func MakeAsBx(op OpCode, a uint8, sbx int32) Instruction {
	return MakeABx(op, a, uint16(sbx+biasSBx))
}

// MakeAx encodes the iAx shape: Op:8 Ax:24.
func MakeAx(op OpCode, ax uint32) Instruction {
	return Instruction(op) | Instruction(ax&maskAx)<<posA
}

func (i Instruction) OpCode() OpCode { return OpCode(i & maskOp) }
func (i Instruction) A() uint8       { return uint8((i >> posA) & maskA) }
func (i Instruction) B() uint8       { return uint8((i >> posB) & maskB) }
func (i Instruction) C() uint8       { return uint8((i >> posC) & maskC) }
func (i Instruction) Bx() uint16     { return uint16((i >> posB) & maskBx) }
func (i Instruction) sBx() int32     { return int32(i.Bx()) - biasSBx }
func (i Instruction) SBx() int32     { return i.sBx() }
func (i Instruction) Ax() uint32     { return uint32((i >> posA) & maskAx) }

// WithA returns i with its A field replaced, used by peephole rewrites that
// retarget an instruction's destination without re-encoding everything.
func (i Instruction) WithA(a uint8) Instruction {
	return (i &^ (Instruction(maskA) << posA)) | Instruction(a)<<posA
}

// WithB returns i with its B field replaced.
func (i Instruction) WithB(b uint8) Instruction {
	return (i &^ (Instruction(maskB) << posB)) | Instruction(b)<<posB
}

// WithC returns i with its C field replaced.
func (i Instruction) WithC(c uint8) Instruction {
	return (i &^ (Instruction(maskC) << posC)) | Instruction(c)<<posC
}

// WithOp returns i with only its opcode replaced, preserving every operand
// field. Used by quickening (generic -> specialized) and by Unquicken
// (specialized -> generic) since both only ever change the opcode byte.
func (i Instruction) WithOp(op OpCode) Instruction {
	return (i &^ Instruction(maskOp)) | Instruction(op)
}

// PatchSBx rewrites only the signed jump-offset field of i, used by the
// compiler's back-patcher and by the optimizer's jump-threading pass.
func (i Instruction) PatchSBx(sbx int32) Instruction {
	return MakeABx(i.OpCode(), i.A(), uint16(sbx+biasSBx))
}

// MaxSBx / MinSBx bound the signed offset/literal field; an encode that
// would overflow these is a compilation error per §4.1.
const (
	MaxSBx = int32(maskBx) - biasSBx
	MinSBx = -biasSBx
)
