package optimizer

import "github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"

// branchTarget returns the pc an instruction at pc branches to when taken,
// covering both the plain sBx jump family and the iABC CmpLtJmp/*JmpConst
// fused forms (offset packed into the C byte).
func branchTarget(pc int, instr bytecode.Instruction) (int, bool) {
	switch instr.OpCode() {
	case bytecode.OpJump, bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse,
		bytecode.OpJumpIfNil, bytecode.OpJumpIfNotNil,
		bytecode.OpForPrep, bytecode.OpForLoop, bytecode.OpIterNext:
		return pc + 1 + int(instr.SBx()), true
	case bytecode.OpCmpLtJmp, bytecode.OpLtJmpConst, bytecode.OpLeJmpConst, bytecode.OpEqJmpConst,
		bytecode.OpNeJmpConst, bytecode.OpGtJmpConst, bytecode.OpGeJmpConst:
		return pc + 1 + int(int8(instr.C())), true
	default:
		return 0, false
	}
}

// removeDeadCode walks the control-flow graph from pc 0 and marks every
// instruction the walk never reaches as Nop. It does not shrink Code or
// touch any offset — compactNops does both, in one pass, afterward — so
// this pass never has to worry about invalidating a target it hasn't
// visited yet.
func removeDeadCode(p *bytecode.Prototype) {
	code := p.Code
	if len(code) == 0 {
		return
	}
	reachable := make([]bool, len(code))
	stack := []int{0}
	reachable[0] = true
	for len(stack) > 0 {
		pc := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		instr := code[pc]

		if target, ok := branchTarget(pc, instr); ok && target >= 0 && target < len(code) && !reachable[target] {
			reachable[target] = true
			stack = append(stack, target)
		}
		if !bytecode.IsTerminator(instr.OpCode()) {
			if next := pc + 1; next < len(code) && !reachable[next] {
				reachable[next] = true
				stack = append(stack, next)
			}
		}
	}
	for pc, live := range reachable {
		if !live {
			code[pc] = bytecode.MakeABC(bytecode.OpNop, 0, 0, 0)
		}
	}
}
