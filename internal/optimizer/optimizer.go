// Package optimizer implements the post-compile bytecode passes from §4.2:
// constant folding, peephole rewrites, jump threading, dead-code
// elimination, nop compaction, and superinstruction fusion. Passes run
// once per prototype (recursively over Nested) and are idempotent — a
// second run over already-optimized code is a no-op (§8.2).
package optimizer

import (
	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/config"
)

// Optimize runs every pass over p and its nested prototypes in place, then
// marks p Frozen so the VM knows quickening is the only mutation left.
// Equivalent to OptimizeWith(p, config.DefaultPassToggles()).
func Optimize(p *bytecode.Prototype) {
	OptimizeWith(p, config.DefaultPassToggles())
}

// OptimizeWith runs only the passes passes enables, gated overall by
// passes.PeepholeOptimizer (the master switch from axm/src/conf.rs: "disable
// only when debugging raw bytecode"). compactNops always runs when the
// master switch is on — Nop compaction is bookkeeping after
// whichever passes ran, not an optimization a user would reasonably want
// to turn off independently, so conf.rs names no separate toggle for it.
func OptimizeWith(p *bytecode.Prototype, passes config.PassToggles) {
	if p.Frozen {
		return
	}
	if passes.PeepholeOptimizer {
		if passes.ConstantFolding {
			constantFold(p)
		}
		if passes.Peephole {
			peephole(p)
		}
		if passes.JumpThreading {
			threadJumps(p)
		}
		if passes.Superinstructions {
			fuseSuperinstructions(p)
		}
		if passes.DeadCode {
			removeDeadCode(p)
		}
		compactNops(p)
	}
	p.Frozen = true

	for _, nested := range p.Nested {
		OptimizeWith(nested, passes)
	}
}
