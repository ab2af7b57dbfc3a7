package optimizer

import (
	"testing"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
)

func proto(code ...bytecode.Instruction) *bytecode.Prototype {
	p := bytecode.NewPrototype("test")
	p.Code = code
	p.NumRegisters = 8
	return p
}

func TestConstantFoldsLiteralArithmetic(t *testing.T) {
	p := proto(
		bytecode.MakeAsBx(bytecode.OpLoadInt, 0, 2),
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 3),
		bytecode.MakeABC(bytecode.OpAdd, 2, 0, 1),
		bytecode.MakeABC(bytecode.OpReturn, 2, 0, 0),
	)
	Optimize(p)

	if len(p.Code) != 2 {
		t.Fatalf("expected dead loads compacted away, got %d instructions", len(p.Code))
	}
	load := p.Code[0]
	if load.OpCode() != bytecode.OpLoadInt || load.A() != 2 || load.SBx() != 5 {
		t.Fatalf("expected folded LoadInt R2, 5; got %v A=%d sBx=%d", load.OpCode(), load.A(), load.SBx())
	}
	if p.Code[1].OpCode() != bytecode.OpReturn {
		t.Fatalf("expected trailing Return, got %v", p.Code[1].OpCode())
	}
}

func TestPeepholeCollapsesSelfMoveAndNilReturn(t *testing.T) {
	p := proto(
		bytecode.MakeABC(bytecode.OpMove, 0, 0, 0),
		bytecode.MakeABC(bytecode.OpLoadNil, 1, 0, 0),
		bytecode.MakeABC(bytecode.OpReturn, 1, 0, 0),
	)
	Optimize(p)

	if len(p.Code) != 1 {
		t.Fatalf("expected self-move and LoadNil+Return to compact to 1 instruction, got %d", len(p.Code))
	}
	if p.Code[0].OpCode() != bytecode.OpNilReturn {
		t.Fatalf("expected NilReturn, got %v", p.Code[0].OpCode())
	}
}

func TestFuseIncrLocal(t *testing.T) {
	p := proto(
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 1),
		bytecode.MakeABC(bytecode.OpAdd, 0, 0, 1),
		bytecode.MakeABC(bytecode.OpReturn, 0, 0, 0),
	)
	Optimize(p)

	if len(p.Code) != 2 {
		t.Fatalf("expected fused IncrLocal + Return, got %d instructions", len(p.Code))
	}
	if p.Code[0].OpCode() != bytecode.OpIncrLocal || p.Code[0].A() != 0 {
		t.Fatalf("expected IncrLocal R0, got %v A=%d", p.Code[0].OpCode(), p.Code[0].A())
	}
}

func TestFuseCompareJumpAgainstConstant(t *testing.T) {
	// R0 = 10; if !(R1 < R0) { jump +2 }; <dead arm>; <landing>
	p := proto(
		bytecode.MakeAsBx(bytecode.OpLoadInt, 0, 10),
		bytecode.MakeABC(bytecode.OpLt, 2, 1, 0),
		bytecode.MakeAsBx(bytecode.OpJumpIfFalse, 2, 2),
		bytecode.MakeABC(bytecode.OpReturn, 1, 0, 0),
		bytecode.MakeABC(bytecode.OpReturn, 1, 0, 0),
		bytecode.MakeABC(bytecode.OpReturn, 1, 0, 0),
	)
	Optimize(p)

	found := false
	for _, instr := range p.Code {
		if instr.OpCode() == bytecode.OpLtJmpConst {
			found = true
			if instr.A() != 1 {
				t.Fatalf("expected fused compare to read R1, got A=%d", instr.A())
			}
		}
	}
	if !found {
		t.Fatalf("expected an LtJmpConst in optimized code, got %v", opNames(p.Code))
	}
}

func TestRemoveDeadCodeDropsUnreachableBranch(t *testing.T) {
	// Jump(+1) over a Return that nothing can reach, then a real Return.
	p := proto(
		bytecode.MakeAsBx(bytecode.OpJump, 0, 1),
		bytecode.MakeABC(bytecode.OpReturn, 9, 0, 0), // unreachable
		bytecode.MakeABC(bytecode.OpReturnNil, 0, 0, 0),
	)
	Optimize(p)

	for _, instr := range p.Code {
		if instr.OpCode() == bytecode.OpReturn {
			t.Fatalf("unreachable Return should have been compacted away, got %v", opNames(p.Code))
		}
	}
	last := p.Code[len(p.Code)-1]
	if last.OpCode() != bytecode.OpReturnNil {
		t.Fatalf("expected ReturnNil to survive as the final instruction, got %v", opNames(p.Code))
	}
}

func TestOptimizeIsIdempotent(t *testing.T) {
	p := proto(
		bytecode.MakeAsBx(bytecode.OpLoadInt, 0, 2),
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 3),
		bytecode.MakeABC(bytecode.OpAdd, 2, 0, 1),
		bytecode.MakeABC(bytecode.OpReturn, 2, 0, 0),
	)
	Optimize(p)
	before := append([]bytecode.Instruction(nil), p.Code...)

	Optimize(p) // Frozen guard should make this a no-op
	if len(p.Code) != len(before) {
		t.Fatalf("second Optimize pass changed code length: %d vs %d", len(p.Code), len(before))
	}
	for i := range before {
		if p.Code[i] != before[i] {
			t.Fatalf("second Optimize pass mutated instruction %d", i)
		}
	}
}

func TestOptimizeRecursesIntoNestedPrototypes(t *testing.T) {
	nested := proto(
		bytecode.MakeABC(bytecode.OpMove, 0, 0, 0),
		bytecode.MakeABC(bytecode.OpReturn, 0, 0, 0),
	)
	p := proto(bytecode.MakeABC(bytecode.OpReturnNil, 0, 0, 0))
	p.Nested = []*bytecode.Prototype{nested}

	Optimize(p)

	if !nested.Frozen {
		t.Fatalf("expected nested prototype to be optimized and frozen too")
	}
	if len(nested.Code) != 1 || nested.Code[0].OpCode() != bytecode.OpReturn {
		t.Fatalf("expected nested self-move compacted away, got %v", opNames(nested.Code))
	}
}

func opNames(code []bytecode.Instruction) []string {
	names := make([]string, len(code))
	for i, instr := range code {
		names[i] = instr.OpCode().String()
	}
	return names
}
