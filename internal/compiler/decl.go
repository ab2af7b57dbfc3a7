package compiler

import (
	"github.com/pro-grammer-SD/axiom-sub000/internal/ast"
	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
)

func (c *Compiler) VisitFunctionDecl(n *ast.FunctionDecl) any {
	proto := c.compileFunctionBody(n.Name, paramNames(n.Params), n.IsVariadic, n.Body, false)
	c.proto.Nested = append(c.proto.Nested, proto)
	idx := len(c.proto.Nested) - 1
	dst := c.alloc()
	c.emit(bytecode.MakeABx(bytecode.OpClosure, uint8(dst), uint16(idx)))
	id := c.globalID(n.Name)
	c.emit(bytecode.MakeABx(bytecode.OpSetGlobal, uint8(dst), id))
	c.free(dst)
	return nil
}

func paramNames(params []ast.Param) []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return names
}

// compileFunctionBody compiles one function/method/lambda body into its own
// child Prototype, returning the finished Prototype for the caller to
// attach to Nested. isMethod reserves register 0 for the implicit `self`
// binding SelfRef resolves against.
func (c *Compiler) compileFunctionBody(name string, params []string, isVariadic bool, body []ast.Stmt, isMethod bool) *bytecode.Prototype {
	child := &Compiler{parent: c, proto: bytecode.NewPrototype(name), globals: c.globals}
	child.pushScope()
	if isMethod {
		child.defineLocal("self")
	}
	for _, p := range params {
		child.defineLocal(p)
	}
	child.proto.NumParams = len(params)
	if isMethod {
		child.proto.NumParams++
	}
	child.proto.IsVariadic = isVariadic
	for _, s := range body {
		child.compileStmt(s)
	}
	child.emit(bytecode.MakeABC(bytecode.OpNilReturn, 0, 0, 0))
	child.finish()
	c.errors = append(c.errors, child.errors...)
	return child.proto
}

func (c *Compiler) VisitEnumDecl(n *ast.EnumDecl) any {
	dst := c.alloc()
	c.emit(bytecode.MakeABC(bytecode.OpNewMap, uint8(dst), 0, 0))
	for i, variant := range n.Variants {
		val := c.alloc()
		c.emit(bytecode.MakeAsBx(bytecode.OpLoadInt, uint8(val), int32(i)))
		idx := c.addStringConst(variant)
		c.emit(bytecode.MakeABC(bytecode.OpSetProp, uint8(dst), uint8(val), idx))
		c.free(val)
	}
	id := c.globalID(n.Name)
	c.emit(bytecode.MakeABx(bytecode.OpSetGlobal, uint8(dst), id))
	c.free(dst)
	return nil
}

func (c *Compiler) VisitLoadStmt(n *ast.LoadStmt) any {
	c.proto.Loads = append(c.proto.Loads, n.Path)
	return nil
}

func (c *Compiler) VisitLibDecl(n *ast.LibDecl) any {
	c.proto.Libs = append(c.proto.Libs, n.Name)
	return nil
}

func (c *Compiler) VisitStatement(n *ast.StatementItem) any {
	c.compileStmt(n.Stmt)
	return nil
}
