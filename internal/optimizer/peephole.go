package optimizer

import "github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"

// peephole rewrites single redundant instructions in place (§4.2): a
// self-move is always a no-op, and a bare `LoadNil; Return` pair collapses
// to the fused NilReturn opcode the VM dispatches in one step.
func peephole(p *bytecode.Prototype) {
	code := p.Code
	for i, instr := range code {
		if instr.OpCode() == bytecode.OpMove && instr.A() == instr.B() {
			code[i] = bytecode.MakeABC(bytecode.OpNop, 0, 0, 0)
		}
	}
	for i := 0; i+1 < len(code); i++ {
		if code[i].OpCode() == bytecode.OpLoadNil && code[i+1].OpCode() == bytecode.OpReturn &&
			code[i].A() == code[i+1].A() {
			code[i] = bytecode.MakeABC(bytecode.OpNop, 0, 0, 0)
			code[i+1] = bytecode.MakeABC(bytecode.OpNilReturn, 0, 0, 0)
		}
	}
}
