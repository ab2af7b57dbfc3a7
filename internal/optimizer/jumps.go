package optimizer

import "github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"

// maxThreadDepth bounds chain-chasing so a pathological cycle of Jumps
// (which a correct compiler never emits, but a hand-built prototype in a
// test might) can't hang the pass.
const maxThreadDepth = 8

// threadJumps collapses "jump to a jump" chains: when a branch's target is
// itself a bare unconditional Jump, the branch is retargeted straight to
// that Jump's own destination. This runs before fuseSuperinstructions, so
// every branch here still carries a plain sBx offset — the iABC *JmpConst
// fused forms don't exist yet, and CmpLtJmp (offset in C) is skipped.
func threadJumps(p *bytecode.Prototype) {
	code := p.Code
	for i, instr := range code {
		if !hasSBxJump(instr.OpCode()) {
			continue
		}
		target := i + 1 + int(instr.SBx())
		final := chaseJump(code, target)
		if final != target {
			code[i] = instr.PatchSBx(int32(final - i - 1))
		}
	}
}

func hasSBxJump(op bytecode.OpCode) bool {
	switch op {
	case bytecode.OpJump, bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse,
		bytecode.OpJumpIfNil, bytecode.OpJumpIfNotNil,
		bytecode.OpForPrep, bytecode.OpForLoop, bytecode.OpIterNext:
		return true
	default:
		return false
	}
}

// chaseJump follows a run of bare Jump instructions starting at target and
// returns the first non-Jump landing spot (or target itself if it's out of
// range or not a Jump at all).
func chaseJump(code []bytecode.Instruction, target int) int {
	seen := target
	for depth := 0; depth < maxThreadDepth; depth++ {
		if seen < 0 || seen >= len(code) || code[seen].OpCode() != bytecode.OpJump {
			return seen
		}
		next := seen + 1 + int(code[seen].SBx())
		if next == seen {
			return seen
		}
		seen = next
	}
	return seen
}
