// Package compiler lowers the ast package's tree into bytecode.Prototype,
// following the register-allocation and back-patching style of the
// teacher's internal/compregister package, generalized to the full node set
// from §6 and the register-based instruction model of §4.
package compiler

import (
	"fmt"

	"github.com/pro-grammer-SD/axiom-sub000/internal/ast"
	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

// Compiler turns one function body (or the top-level program) into a
// Prototype. Nested functions, lambdas, and methods get their own child
// Compiler chained through parent, the same way a closure's free variables
// are resolved by walking outward through enclosing scopes.
type Compiler struct {
	parent *Compiler
	proto  *bytecode.Prototype

	scope *scope

	nextReg  int
	maxReg   int
	freeRegs []int
	locked   map[int]bool

	globals *globalTable

	errors []error
}

type scope struct {
	parent *scope
	locals map[string]int
}

type globalTable struct {
	names map[string]uint16
	next  uint16
}

// Compile lowers a whole program (as produced by parsing a source file,
// out of scope here per §1) into its top-level Prototype. Function, class,
// and enum declarations are hoisted ahead of plain statements (§4.1).
func Compile(items []ast.Item) (*bytecode.Prototype, []error) {
	c := &Compiler{
		proto:   bytecode.NewPrototype("main"),
		globals: &globalTable{names: map[string]uint16{}},
	}
	c.pushScope()

	var decls, rest []ast.Item
	for _, it := range items {
		if ast.IsDecl(it) {
			decls = append(decls, it)
		} else {
			rest = append(rest, it)
		}
	}
	for _, it := range decls {
		c.compileItem(it)
	}
	for _, it := range rest {
		c.compileItem(it)
	}
	c.emit(bytecode.MakeABC(bytecode.OpNilReturn, 0, 0, 0))
	c.finish()
	return c.proto, c.errors
}

func (c *Compiler) errorf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Errorf(format, args...))
}

func (c *Compiler) finish() {
	c.proto.NumRegisters = c.maxReg
	if c.parent == nil {
		names := make([]string, len(c.globals.names))
		for name, id := range c.globals.names {
			names[id] = name
		}
		c.proto.GlobalNames = names
	}
}

// --- register allocation, grounded on compregister.RegisterAllocator ---

func (c *Compiler) alloc() int {
	if n := len(c.freeRegs); n > 0 {
		r := c.freeRegs[n-1]
		c.freeRegs = c.freeRegs[:n-1]
		return r
	}
	r := c.nextReg
	c.nextReg++
	if c.nextReg > c.maxReg {
		c.maxReg = c.nextReg
	}
	if c.nextReg > bytecode.MaxRegisters {
		c.errorf("function exceeds %d registers", bytecode.MaxRegisters)
	}
	return r
}

func (c *Compiler) free(r int) {
	if c.locked == nil || !c.locked[r] {
		c.freeRegs = append(c.freeRegs, r)
	}
}

func (c *Compiler) lock(r int) {
	if c.locked == nil {
		c.locked = map[int]bool{}
	}
	c.locked[r] = true
}

func (c *Compiler) unlock(r int) {
	delete(c.locked, r)
}

// reserveConsecutive reserves n consecutive fresh registers, used for call
// and instantiation argument lists where the instruction encoding requires
// a contiguous run. It bumps nextReg directly rather than drawing from
// freeRegs, so a stale freed index already inside the reserved range can
// never be handed out again while the run is live.
func (c *Compiler) reserveConsecutive(n int) int {
	base := c.nextReg
	c.nextReg += n
	if c.nextReg > c.maxReg {
		c.maxReg = c.nextReg
	}
	if c.nextReg > bytecode.MaxRegisters {
		c.errorf("function exceeds %d registers", bytecode.MaxRegisters)
	}
	return base
}

// --- scope ---

func (c *Compiler) pushScope() {
	c.scope = &scope{parent: c.scope, locals: map[string]int{}}
}

func (c *Compiler) popScope() {
	for _, r := range c.scope.locals {
		c.free(r)
	}
	c.scope = c.scope.parent
}

func (c *Compiler) defineLocal(name string) int {
	r := c.alloc()
	c.scope.locals[name] = r
	return r
}

func (c *Compiler) resolveLocal(name string) (int, bool) {
	for s := c.scope; s != nil; s = s.parent {
		if r, ok := s.locals[name]; ok {
			return r, true
		}
	}
	return 0, false
}

// resolveUpvalue walks outward through enclosing compilers, threading a new
// UpvalueDesc through every intermediate function so a doubly-nested
// closure still resolves correctly (§3.3).
func (c *Compiler) resolveUpvalue(name string) (int, bool) {
	if c.parent == nil {
		return 0, false
	}
	if r, ok := c.parent.resolveLocal(name); ok {
		return c.addUpvalue(name, true, uint8(r)), true
	}
	if idx, ok := c.parent.resolveUpvalue(name); ok {
		return c.addUpvalue(name, false, uint8(idx)), true
	}
	return 0, false
}

func (c *Compiler) addUpvalue(name string, inStack bool, index uint8) int {
	for i, uv := range c.proto.Upvalues {
		if uv.Name == name && uv.InStack == inStack && uv.Index == index {
			return i
		}
	}
	c.proto.Upvalues = append(c.proto.Upvalues, bytecode.UpvalueDesc{
		Name: name, InStack: inStack, Index: index,
	})
	return len(c.proto.Upvalues) - 1
}

// --- globals ---

func (c *Compiler) globalID(name string) uint16 {
	if id, ok := c.globals.names[name]; ok {
		return id
	}
	id := c.globals.next
	c.globals.next++
	c.globals.names[name] = id
	return id
}

// --- constant pools ---

func (c *Compiler) emit(i bytecode.Instruction) int {
	c.proto.Code = append(c.proto.Code, i)
	c.proto.Lines = append(c.proto.Lines, 0)
	return len(c.proto.Code) - 1
}

func (c *Compiler) emitAt(line int, i bytecode.Instruction) int {
	pc := c.emit(i)
	c.proto.Lines[pc] = int32(line)
	return pc
}

func (c *Compiler) addFloatConst(f float64) uint16 {
	for i, existing := range c.proto.FloatConstants {
		if existing == f {
			return uint16(i)
		}
	}
	c.proto.FloatConstants = append(c.proto.FloatConstants, f)
	return uint16(len(c.proto.FloatConstants) - 1)
}

func (c *Compiler) addStringConst(s string) uint8 {
	for i, existing := range c.proto.StringConstants {
		if existing == s {
			return uint8(i)
		}
	}
	if len(c.proto.StringConstants) >= 255 {
		c.errorf("function exceeds 255 distinct property/method names")
	}
	c.proto.StringConstants = append(c.proto.StringConstants, s)
	return uint8(len(c.proto.StringConstants) - 1)
}

func (c *Compiler) addConst(v value.Value) uint16 {
	c.proto.Constants = append(c.proto.Constants, v)
	return uint16(len(c.proto.Constants) - 1)
}

// --- jump back-patching, grounded on compregister.patchJump ---

func (c *Compiler) patchJumpHere(pc int) {
	offset := int32(len(c.proto.Code) - pc - 1)
	c.proto.Code[pc] = c.proto.Code[pc].PatchSBx(offset)
}

func (c *Compiler) emitBackJump(op bytecode.OpCode, a uint8, target int) {
	offset := int32(target - len(c.proto.Code) - 1)
	c.emit(bytecode.MakeAsBx(op, a, offset))
}

// compileExpr evaluates e and returns the register holding its value. Every
// ast.Expr dispatches through Accept into the matching Visit method below.
func (c *Compiler) compileExpr(e ast.Expr) int {
	return e.Accept(c).(int)
}

func (c *Compiler) compileStmt(s ast.Stmt) {
	s.Accept(c)
}

func (c *Compiler) compileItem(it ast.Item) {
	it.Accept(c)
}

func (c *Compiler) compileBlock(stmts []ast.Stmt) {
	c.pushScope()
	for _, s := range stmts {
		c.compileStmt(s)
	}
	c.popScope()
}
