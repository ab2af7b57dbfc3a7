package compiler

import (
	"github.com/pro-grammer-SD/axiom-sub000/internal/ast"
	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

func (c *Compiler) VisitNumber(n *ast.Number) any {
	r := c.alloc()
	if n.Value == float64(int64(n.Value)) && n.Value >= float64(bytecode.MinSBx) && n.Value <= float64(bytecode.MaxSBx) {
		c.emit(bytecode.MakeAsBx(bytecode.OpLoadInt, uint8(r), int32(n.Value)))
		return r
	}
	idx := c.addFloatConst(n.Value)
	c.emit(bytecode.MakeABx(bytecode.OpLoadFloat, uint8(r), idx))
	return r
}

func (c *Compiler) VisitString(n *ast.String) any {
	r := c.alloc()
	idx := c.addStringConst(n.Value)
	c.emit(bytecode.MakeABx(bytecode.OpLoadString, uint8(r), uint16(idx)))
	return r
}

func (c *Compiler) VisitBoolean(n *ast.Boolean) any {
	r := c.alloc()
	op := bytecode.OpLoadFalse
	if n.Value {
		op = bytecode.OpLoadTrue
	}
	c.emit(bytecode.MakeABC(op, uint8(r), 0, 0))
	return r
}

func (c *Compiler) VisitIdentifier(n *ast.Identifier) any {
	r := c.alloc()
	if lr, ok := c.resolveLocal(n.Name); ok {
		c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(r), uint8(lr), 0))
		return r
	}
	if uv, ok := c.resolveUpvalue(n.Name); ok {
		c.emit(bytecode.MakeABC(bytecode.OpGetUpval, uint8(r), uint8(uv), 0))
		return r
	}
	id := c.globalID(n.Name)
	c.emitAt(n.Span.Line, bytecode.MakeABx(bytecode.OpGetGlobal, uint8(r), id))
	return r
}

func (c *Compiler) VisitSelfRef(n *ast.SelfRef) any {
	if r, ok := c.resolveLocal("self"); ok {
		out := c.alloc()
		c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(out), uint8(r), 0))
		return out
	}
	c.errorf("'self' used outside a method (%s:%d)", n.Span.File, n.Span.Line)
	r := c.alloc()
	c.emit(bytecode.MakeABC(bytecode.OpLoadNil, uint8(r), 0, 0))
	return r
}

func (c *Compiler) VisitUnaryOp(n *ast.UnaryOp) any {
	operand := c.compileExpr(n.Operand)
	r := c.alloc()
	switch n.Operator {
	case "-":
		c.emit(bytecode.MakeABC(bytecode.OpNeg, uint8(r), uint8(operand), 0))
	case "!", "not":
		c.emit(bytecode.MakeABC(bytecode.OpNot, uint8(r), uint8(operand), 0))
	default:
		c.errorf("unknown unary operator %q", n.Operator)
	}
	c.free(operand)
	return r
}

var binaryOps = map[string]bytecode.OpCode{
	"+": bytecode.OpAdd, "-": bytecode.OpSub, "*": bytecode.OpMul,
	"/": bytecode.OpDiv, "%": bytecode.OpMod, "**": bytecode.OpPow,
	"==": bytecode.OpEq, "!=": bytecode.OpNeq,
	"<": bytecode.OpLt, "<=": bytecode.OpLe, ">": bytecode.OpGt, ">=": bytecode.OpGe,
}

func (c *Compiler) VisitBinaryOp(n *ast.BinaryOp) any {
	switch n.Operator {
	case "&&", "and":
		return c.compileShortCircuit(n, true)
	case "||", "or":
		return c.compileShortCircuit(n, false)
	}
	left := c.compileExpr(n.Left)
	c.lock(left)
	right := c.compileExpr(n.Right)
	c.unlock(left)
	op, ok := binaryOps[n.Operator]
	if !ok {
		c.errorf("unknown binary operator %q", n.Operator)
		op = bytecode.OpAdd
	}
	dst := c.alloc()
	c.emitAt(n.Span.Line, bytecode.MakeABC(op, uint8(dst), uint8(left), uint8(right)))
	c.free(left)
	c.free(right)
	return dst
}

// compileShortCircuit implements && and || without evaluating the right
// operand unless necessary (§4.1): evaluate left, branch past the right
// side if it already decides the result.
func (c *Compiler) compileShortCircuit(n *ast.BinaryOp, isAnd bool) int {
	dst := c.alloc()
	left := c.compileExpr(n.Left)
	c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(dst), uint8(left), 0))
	c.free(left)

	var skip int
	if isAnd {
		skip = c.emit(bytecode.MakeAsBx(bytecode.OpJumpIfFalse, uint8(dst), 0))
	} else {
		skip = c.emit(bytecode.MakeAsBx(bytecode.OpJumpIfTrue, uint8(dst), 0))
	}

	right := c.compileExpr(n.Right)
	c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(dst), uint8(right), 0))
	c.free(right)

	c.patchJumpHere(skip)
	return dst
}

func (c *Compiler) VisitAssign(n *ast.Assign) any {
	val := c.compileExpr(n.Value)
	switch target := n.Target.(type) {
	case *ast.Identifier:
		if lr, ok := c.resolveLocal(target.Name); ok {
			c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(lr), uint8(val), 0))
			break
		}
		if uv, ok := c.resolveUpvalue(target.Name); ok {
			c.emit(bytecode.MakeABC(bytecode.OpSetUpval, uint8(val), uint8(uv), 0))
			break
		}
		id := c.globalID(target.Name)
		c.emit(bytecode.MakeABx(bytecode.OpSetGlobal, uint8(val), id))
	case *ast.MemberAccess:
		obj := c.compileExpr(target.Receiver)
		idx := c.addStringConst(target.Name)
		c.emit(bytecode.MakeABC(bytecode.OpSetProp, uint8(obj), uint8(val), idx))
		c.free(obj)
	case *ast.Index:
		coll := c.compileExpr(target.Collection)
		key := c.compileExpr(target.Key)
		c.emit(bytecode.MakeABC(bytecode.OpSetIndex, uint8(coll), uint8(key), uint8(val)))
		c.free(coll)
		c.free(key)
	default:
		c.errorf("invalid assignment target")
	}
	out := c.alloc()
	c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(out), uint8(val), 0))
	c.free(val)
	return out
}

func (c *Compiler) VisitCall(n *ast.Call) any {
	base := c.callArgs(n.Callee, n.Args)
	dst := c.alloc()
	c.emitAt(n.Span.Line, bytecode.MakeABC(bytecode.OpCall, uint8(dst), uint8(base), uint8(len(n.Args))))
	c.freeCallRun(base, len(n.Args))
	return dst
}

// freeCallRun releases the callee+args register run reserved by callArgs
// once the Call/NewObj/Spawn instruction consuming it has been emitted.
func (c *Compiler) freeCallRun(base, argc int) {
	for i := 0; i <= argc; i++ {
		c.free(base + i)
	}
}

// callArgs evaluates callee and args into a freshly reserved contiguous
// register run, matching the Call/NewObj calling convention (§4.1 "call
// arguments are passed in consecutive registers"). The callee expression is
// compiled first into a scratch register (so nested calls in the argument
// list can't collide with the reserved range) and then moved into place.
func (c *Compiler) callArgs(calleeExpr ast.Expr, args []ast.Expr) int {
	calleeVal := c.compileExpr(calleeExpr)
	c.lock(calleeVal)
	argVals := make([]int, len(args))
	for i, a := range args {
		argVals[i] = c.compileExpr(a)
	}
	c.unlock(calleeVal)

	base := c.reserveConsecutive(1 + len(args))
	c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(base), uint8(calleeVal), 0))
	c.free(calleeVal)
	for i, v := range argVals {
		c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(base+1+i), uint8(v), 0))
		c.free(v)
	}
	return base
}

// callArgsWithCallee is like callArgs but the callee has already been
// evaluated into calleeVal (used by method calls, where the callee is a
// bound method value produced by GetMethod rather than a plain expression).
func (c *Compiler) callArgsWithCallee(calleeVal int, args []ast.Expr) int {
	c.lock(calleeVal)
	argVals := make([]int, len(args))
	for i, a := range args {
		argVals[i] = c.compileExpr(a)
	}
	c.unlock(calleeVal)

	base := c.reserveConsecutive(1 + len(args))
	c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(base), uint8(calleeVal), 0))
	c.free(calleeVal)
	for i, v := range argVals {
		c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(base+1+i), uint8(v), 0))
		c.free(v)
	}
	return base
}

func (c *Compiler) VisitMethodCall(n *ast.MethodCall) any {
	recv := c.compileExpr(n.Receiver)
	idx := c.addStringConst(n.Method)
	method := c.alloc()
	c.emit(bytecode.MakeABC(bytecode.OpGetMethod, uint8(method), uint8(recv), idx))
	c.free(recv)
	base := c.callArgsWithCallee(method, n.Args)
	dst := c.alloc()
	c.emitAt(n.Span.Line, bytecode.MakeABC(bytecode.OpCall, uint8(dst), uint8(base), uint8(len(n.Args))))
	c.freeCallRun(base, len(n.Args))
	return dst
}

func (c *Compiler) VisitMemberAccess(n *ast.MemberAccess) any {
	obj := c.compileExpr(n.Receiver)
	idx := c.addStringConst(n.Name)
	dst := c.alloc()
	c.emitAt(n.Span.Line, bytecode.MakeABC(bytecode.OpGetProp, uint8(dst), uint8(obj), idx))
	c.free(obj)
	return dst
}

func (c *Compiler) VisitIndex(n *ast.Index) any {
	coll := c.compileExpr(n.Collection)
	key := c.compileExpr(n.Key)
	dst := c.alloc()
	c.emitAt(n.Span.Line, bytecode.MakeABC(bytecode.OpGetIndex, uint8(dst), uint8(coll), uint8(key)))
	c.free(coll)
	c.free(key)
	return dst
}

func (c *Compiler) VisitNew(n *ast.New) any {
	id := c.globalID(n.ClassName)
	classReg := c.alloc()
	c.emit(bytecode.MakeABx(bytecode.OpGetGlobal, uint8(classReg), id))
	base := c.callArgsWithCallee(classReg, n.Args)
	dst := c.alloc()
	c.emitAt(n.Span.Line, bytecode.MakeABC(bytecode.OpNewObj, uint8(dst), uint8(base), uint8(len(n.Args))))
	c.freeCallRun(base, len(n.Args))
	return dst
}

func (c *Compiler) VisitList(n *ast.List) any {
	dst := c.alloc()
	c.emit(bytecode.MakeABC(bytecode.OpNewList, uint8(dst), 0, 0))
	for _, el := range n.Elements {
		v := c.compileExpr(el)
		c.emit(bytecode.MakeABC(bytecode.OpListPush, uint8(dst), uint8(v), 0))
		c.free(v)
	}
	return dst
}

func (c *Compiler) VisitInterpolatedString(n *ast.InterpolatedString) any {
	dst := c.alloc()
	first := true
	for _, part := range n.Parts {
		var partReg int
		if part.Expr != nil {
			partReg = c.compileExpr(part.Expr)
		} else {
			partReg = c.alloc()
			idx := c.addStringConst(part.Literal)
			c.emit(bytecode.MakeABx(bytecode.OpLoadString, uint8(partReg), uint16(idx)))
		}
		if first {
			c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(dst), uint8(partReg), 0))
			first = false
		} else {
			c.emit(bytecode.MakeABC(bytecode.OpConcat, uint8(dst), uint8(dst), uint8(partReg)))
		}
		c.free(partReg)
	}
	if first {
		idx := c.addStringConst("")
		c.emit(bytecode.MakeABx(bytecode.OpLoadString, uint8(dst), uint16(idx)))
	}
	return dst
}

func (c *Compiler) VisitLambda(n *ast.Lambda) any {
	child := &Compiler{parent: c, proto: bytecode.NewPrototype("<lambda>"), globals: c.globals}
	child.pushScope()
	for _, p := range n.Params {
		child.defineLocal(p)
	}
	child.proto.NumParams = len(n.Params)
	child.proto.IsVariadic = n.IsVariadic
	for _, s := range n.Body {
		child.compileStmt(s)
	}
	child.emit(bytecode.MakeABC(bytecode.OpNilReturn, 0, 0, 0))
	child.finish()
	c.errors = append(c.errors, child.errors...)

	c.proto.Nested = append(c.proto.Nested, child.proto)
	idx := len(c.proto.Nested) - 1
	dst := c.alloc()
	c.emit(bytecode.MakeABx(bytecode.OpClosure, uint8(dst), uint16(idx)))
	return dst
}

// constValueForLiteral evaluates a compile-time-constant literal expression
// to a value.Value, used for class field defaults, which must be number or
// boolean literals (or absent, giving nil).
func constValueForLiteral(e ast.Expr) (value.Value, bool) {
	switch n := e.(type) {
	case *ast.Number:
		if n.Value == float64(int64(n.Value)) {
			return value.Int(int64(n.Value)), true
		}
		return value.Float(n.Value), true
	case *ast.Boolean:
		return value.Bool(n.Value), true
	case nil:
		return value.Nil(), true
	}
	return value.Nil(), false
}
