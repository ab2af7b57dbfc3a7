package optimizer

import "github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"

// compactNops is the pass that actually shrinks Code: every Nop left behind
// by constantFold, peephole, fuseSuperinstructions, and removeDeadCode is
// dropped, and every surviving branch's offset is remapped to account for
// the instructions removed between it and its target. A branch that used
// to land on a Nop now lands on whatever kept instruction follows it.
func compactNops(p *bytecode.Prototype) {
	code := p.Code
	n := len(code)
	if n == 0 {
		return
	}

	keep := make([]bool, n)
	newPos := make([]int, n)
	count := 0
	for i := 0; i < n; i++ {
		keep[i] = code[i].OpCode() != bytecode.OpNop
		if keep[i] {
			newPos[i] = count
			count++
		}
	}

	// nextKeptPos[i] is where a branch landing on old pc i ends up: its own
	// new position if i survives, otherwise the next surviving instruction's
	// new position (or count, i.e. past the end, if nothing survives after i).
	nextKeptPos := make([]int, n+1)
	nextKeptPos[n] = count
	for i := n - 1; i >= 0; i-- {
		if keep[i] {
			nextKeptPos[i] = newPos[i]
		} else {
			nextKeptPos[i] = nextKeptPos[i+1]
		}
	}

	out := make([]bytecode.Instruction, 0, count)
	for i := 0; i < n; i++ {
		if !keep[i] {
			continue
		}
		instr := code[i]
		if target, ok := branchTarget(i, instr); ok {
			if target < 0 {
				target = 0
			} else if target > n {
				target = n
			}
			offset := nextKeptPos[target] - newPos[i] - 1
			instr = rewriteBranchOffset(instr, offset)
		}
		out = append(out, instr)
	}
	p.Code = out
}

func rewriteBranchOffset(instr bytecode.Instruction, offset int) bytecode.Instruction {
	switch instr.OpCode() {
	case bytecode.OpJump, bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse,
		bytecode.OpJumpIfNil, bytecode.OpJumpIfNotNil,
		bytecode.OpForPrep, bytecode.OpForLoop, bytecode.OpIterNext:
		return instr.PatchSBx(int32(offset))
	case bytecode.OpCmpLtJmp, bytecode.OpLtJmpConst, bytecode.OpLeJmpConst, bytecode.OpEqJmpConst,
		bytecode.OpNeJmpConst, bytecode.OpGtJmpConst, bytecode.OpGeJmpConst:
		return instr.WithC(uint8(int8(offset)))
	default:
		return instr
	}
}
