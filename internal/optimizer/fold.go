package optimizer

import "github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"

// constantFold recognizes "load const; load const; arith" triples the
// compiler emits for literal-only expressions and collapses them to a
// single load, replacing the two producer instructions with Nop. This is
// safe without a full liveness analysis because the compiler only ever
// allocates a temporary register for exactly the lifetime of the
// sub-expression that produced it — by construction, the operand registers
// of an arithmetic instruction emitted immediately after their two
// producers are not read again until the arithmetic instruction consumes
// them.
func constantFold(p *bytecode.Prototype) {
	code := p.Code
	for i := 2; i < len(code); i++ {
		arith := code[i]
		op := arith.OpCode()
		if !isFoldableArith(op) {
			continue
		}
		loadB := code[i-2]
		loadA := code[i-1]
		if loadB.A() != arith.B() || loadA.A() != arith.C() {
			continue
		}
		lv, ok1 := constOperand(p, loadB)
		rv, ok2 := constOperand(p, loadA)
		if !ok1 || !ok2 {
			continue
		}
		result, ok := foldArith(op, lv, rv)
		if !ok {
			continue
		}
		dst := arith.A()
		code[i-2] = bytecode.MakeABC(bytecode.OpNop, 0, 0, 0)
		code[i-1] = bytecode.MakeABC(bytecode.OpNop, 0, 0, 0)
		if iv, isInt := result.(int64); isInt && iv >= int64(bytecode.MinSBx) && iv <= int64(bytecode.MaxSBx) {
			code[i] = bytecode.MakeAsBx(bytecode.OpLoadInt, dst, int32(iv))
		} else {
			f := toFloat(result)
			idx := addFloatConst(p, f)
			code[i] = bytecode.MakeABx(bytecode.OpLoadFloat, dst, idx)
		}
	}
}

func isFoldableArith(op bytecode.OpCode) bool {
	switch op {
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv:
		return true
	default:
		return false
	}
}

// constOperand reports the constant numeric value an instruction loads, if
// it is one of the pure literal-load opcodes.
func constOperand(p *bytecode.Prototype, instr bytecode.Instruction) (any, bool) {
	switch instr.OpCode() {
	case bytecode.OpLoadInt:
		return int64(instr.SBx()), true
	case bytecode.OpLoadFloat:
		idx := int(instr.Bx())
		if idx < len(p.FloatConstants) {
			return p.FloatConstants[idx], true
		}
	}
	return nil, false
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func foldArith(op bytecode.OpCode, l, r any) (any, bool) {
	li, lIsInt := l.(int64)
	ri, rIsInt := r.(int64)
	if lIsInt && rIsInt {
		switch op {
		case bytecode.OpAdd:
			return li + ri, true
		case bytecode.OpSub:
			return li - ri, true
		case bytecode.OpMul:
			return li * ri, true
		case bytecode.OpDiv:
			if ri == 0 {
				return nil, false
			}
			if li%ri == 0 {
				return li / ri, true
			}
			return float64(li) / float64(ri), true
		}
	}
	lf, rf := toFloat(l), toFloat(r)
	switch op {
	case bytecode.OpAdd:
		return lf + rf, true
	case bytecode.OpSub:
		return lf - rf, true
	case bytecode.OpMul:
		return lf * rf, true
	case bytecode.OpDiv:
		if rf == 0 {
			return nil, false
		}
		return lf / rf, true
	}
	return nil, false
}

func addFloatConst(p *bytecode.Prototype, f float64) uint16 {
	for i, existing := range p.FloatConstants {
		if existing == f {
			return uint16(i)
		}
	}
	p.FloatConstants = append(p.FloatConstants, f)
	return uint16(len(p.FloatConstants) - 1)
}
