package optimizer

import "github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"

// fuseSuperinstructions recognizes the two-instruction shapes the compiler
// emits for common idioms — increment/decrement a local, add an immediate,
// and compare-then-branch against a constant — and rewrites them into the
// single fused opcodes from the §4.2 superinstruction catalogue. The
// producer instruction becomes Nop; compactNops removes it afterward.
func fuseSuperinstructions(p *bytecode.Prototype) {
	code := p.Code
	for i := 0; i+1 < len(code); i++ {
		load := code[i]
		next := code[i+1]
		if load.OpCode() != bytecode.OpLoadInt || !isArith(next.OpCode()) {
			continue
		}
		fuseImmArith(code, i, load, next)
	}

	fuseCompareJump(p)
}

func isArith(op bytecode.OpCode) bool {
	return op == bytecode.OpAdd || op == bytecode.OpSub
}

// fuseImmArith recognizes "LoadInt tmp, k; Add/Sub dst, B, C" where tmp
// feeds exactly one operand of the arithmetic instruction, and rewrites it
// to a single superinstruction. Two shapes collapse further than a plain
// AddIntImm: when the other operand is dst itself (an in-place
// accumulation, "x = x + k"), a unit step becomes IncrLocal/DecrLocal.
func fuseImmArith(code []bytecode.Instruction, loadPC int, load, arith bytecode.Instruction) {
	tmp := load.A()
	k := load.SBx()
	dst := arith.A()
	op := arith.OpCode()

	var other uint8
	switch {
	case arith.C() == tmp:
		other = arith.B()
	case arith.B() == tmp && op == bytecode.OpAdd:
		// addition commutes, so "k + x" (tmp on the left) fuses the same way
		other = arith.C()
	default:
		return
	}

	nop := bytecode.MakeABC(bytecode.OpNop, 0, 0, 0)

	if dst == other {
		step := k
		if op == bytecode.OpSub {
			step = -k
		}
		if step == 1 {
			code[loadPC] = nop
			code[loadPC+1] = bytecode.MakeABC(bytecode.OpIncrLocal, dst, 0, 0)
			return
		}
		if step == -1 {
			code[loadPC] = nop
			code[loadPC+1] = bytecode.MakeABC(bytecode.OpDecrLocal, dst, 0, 0)
			return
		}
	}

	if op == bytecode.OpAdd && int32(int8(k)) == k {
		code[loadPC] = nop
		code[loadPC+1] = bytecode.MakeABC(bytecode.OpAddIntImm, dst, other, uint8(int8(k)))
	}
}

var compareToJmpK = map[bytecode.OpCode]bytecode.OpCode{
	bytecode.OpLt:  bytecode.OpLtJmpConst,
	bytecode.OpLe:  bytecode.OpLeJmpConst,
	bytecode.OpEq:  bytecode.OpEqJmpConst,
	bytecode.OpNeq: bytecode.OpNeJmpConst,
	bytecode.OpGt:  bytecode.OpGtJmpConst,
	bytecode.OpGe:  bytecode.OpGeJmpConst,
}

// fuseCompareJump recognizes "LoadInt K; Compare A,B,K; JumpIfFalse A, sBx"
// triples and collapses them into one constant-compare-and-branch
// superinstruction from the supplemental catalogue. The fused form is iABC
// (R(A) <cmp> floatConst[B], branching by int8(C) when the compare fails)
// rather than iABx, so it can only carry an
// 8-bit constant-pool index and an 8-bit signed branch offset; triples that
// don't fit either limit are left unfused and run through the generic
// Compare+JumpIfFalse pair instead.
func fuseCompareJump(p *bytecode.Prototype) {
	code := p.Code
	for i := 0; i+2 < len(code); i++ {
		load := code[i]
		cmp := code[i+1]
		jmp := code[i+2]
		if load.OpCode() != bytecode.OpLoadInt {
			continue
		}
		jk, ok := compareToJmpK[cmp.OpCode()]
		if !ok {
			continue
		}
		if cmp.C() != load.A() || jmp.OpCode() != bytecode.OpJumpIfFalse || jmp.A() != cmp.A() {
			continue
		}
		offset := jmp.SBx()
		if offset < -128 || offset > 127 {
			continue
		}
		k := load.SBx()
		constIdx := addFloatConst(p, float64(k))
		if constIdx > 255 {
			continue
		}
		code[i] = bytecode.MakeABC(bytecode.OpNop, 0, 0, 0)
		code[i+1] = bytecode.MakeABC(bytecode.OpNop, 0, 0, 0)
		code[i+2] = bytecode.MakeABC(jk, cmp.B(), uint8(constIdx), uint8(int8(offset)))
	}
}
