package compiler

import (
	"github.com/pro-grammer-SD/axiom-sub000/internal/ast"
	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
)

func (c *Compiler) VisitLet(n *ast.Let) any {
	v := c.compileExpr(n.Value)
	if existing, ok := c.scope.locals[n.Name]; ok {
		// Re-declaration in the same scope rebinds rather than shadows,
		// matching the teacher's compileLetStmt.
		c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(existing), uint8(v), 0))
		c.free(v)
		return nil
	}
	r := c.defineLocal(n.Name)
	c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(r), uint8(v), 0))
	c.free(v)
	return nil
}

func (c *Compiler) VisitExprStmt(n *ast.ExprStmt) any {
	r := c.compileExpr(n.Expr)
	c.free(r)
	return nil
}

func (c *Compiler) VisitOut(n *ast.Out) any {
	r := c.compileExpr(n.Value)
	c.emit(bytecode.MakeABC(bytecode.OpPrint, uint8(r), 0, 0))
	c.free(r)
	return nil
}

func (c *Compiler) VisitReturn(n *ast.Return) any {
	if n.Value == nil {
		c.emit(bytecode.MakeABC(bytecode.OpNilReturn, 0, 0, 0))
		return nil
	}
	r := c.compileExpr(n.Value)
	c.emit(bytecode.MakeABC(bytecode.OpReturn, uint8(r), 0, 0))
	c.free(r)
	return nil
}

func (c *Compiler) VisitIf(n *ast.If) any {
	cond := c.compileExpr(n.Cond)
	jumpElse := c.emit(bytecode.MakeAsBx(bytecode.OpJumpIfFalse, uint8(cond), 0))
	c.free(cond)

	c.compileBlock(n.Then)

	if len(n.Else) > 0 {
		jumpEnd := c.emit(bytecode.MakeAsBx(bytecode.OpJump, 0, 0))
		c.patchJumpHere(jumpElse)
		c.compileBlock(n.Else)
		c.patchJumpHere(jumpEnd)
	} else {
		c.patchJumpHere(jumpElse)
	}
	return nil
}

func (c *Compiler) VisitWhile(n *ast.While) any {
	start := len(c.proto.Code)
	cond := c.compileExpr(n.Cond)
	exit := c.emit(bytecode.MakeAsBx(bytecode.OpJumpIfFalse, uint8(cond), 0))
	c.free(cond)

	c.compileBlock(n.Body)
	c.emitBackJump(bytecode.OpJump, 0, start)
	c.patchJumpHere(exit)
	return nil
}

// VisitFor compiles `for x in iterable` using the first-class iterator pair
// (§SPEC_FULL supplemental): IterInit binds an iterator state to a separate
// state register, IterNext writes the next item into that register or jumps
// past the loop when exhausted, and a Move copies the item into the loop
// variable.
func (c *Compiler) VisitFor(n *ast.For) any {
	iter := c.compileExpr(n.Iter)
	state := c.alloc()
	c.emit(bytecode.MakeABC(bytecode.OpIterInit, uint8(state), uint8(iter), 0))
	c.free(iter)

	c.pushScope()
	item := c.defineLocal(n.Var)
	start := len(c.proto.Code)
	exit := c.emit(bytecode.MakeAsBx(bytecode.OpIterNext, uint8(state), 0))
	c.emit(bytecode.MakeABC(bytecode.OpMove, uint8(item), uint8(state), 0))

	for _, s := range n.Body {
		c.compileStmt(s)
	}
	c.emitBackJump(bytecode.OpJump, 0, start)
	c.patchJumpHere(exit)
	c.popScope()
	c.free(state)
	return nil
}

func (c *Compiler) VisitBlock(n *ast.Block) any {
	c.compileBlock(n.Stmts)
	return nil
}

func (c *Compiler) VisitMatch(n *ast.Match) any {
	scrutinee := c.compileExpr(n.Scrutine)
	c.lock(scrutinee)

	var endJumps []int
	var nextArm int
	for i, arm := range n.Arms {
		if arm.Pattern != nil {
			pat := c.compileExpr(arm.Pattern)
			cmp := c.alloc()
			c.emit(bytecode.MakeABC(bytecode.OpEq, uint8(cmp), uint8(scrutinee), uint8(pat)))
			c.free(pat)
			nextArm = c.emit(bytecode.MakeAsBx(bytecode.OpJumpIfFalse, uint8(cmp), 0))
			c.free(cmp)
		}
		c.compileBlock(arm.Body)
		if i < len(n.Arms)-1 {
			endJumps = append(endJumps, c.emit(bytecode.MakeAsBx(bytecode.OpJump, 0, 0)))
		}
		if arm.Pattern != nil {
			c.patchJumpHere(nextArm)
		}
	}
	for _, j := range endJumps {
		c.patchJumpHere(j)
	}
	c.unlock(scrutinee)
	c.free(scrutinee)
	return nil
}

func (c *Compiler) VisitGoSpawn(n *ast.GoSpawn) any {
	call, ok := n.Call.(*ast.Call)
	if !ok {
		c.errorf("go-spawn target must be a call expression")
		return nil
	}
	base := c.callArgs(call.Callee, call.Args)
	dst := c.alloc()
	c.emit(bytecode.MakeABC(bytecode.OpSpawn, uint8(dst), uint8(base), uint8(len(call.Args))))
	c.freeCallRun(base, len(call.Args))
	c.free(dst)
	return nil
}
