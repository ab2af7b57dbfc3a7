package compiler

import (
	"github.com/pro-grammer-SD/axiom-sub000/internal/ast"
	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
)

// VisitClassDecl compiles a class declaration (§SPEC_FULL supplemental
// single-inheritance classes) into a ClassTemplate materialized at runtime
// by OpMakeClass, followed by OpInherit when a superclass is declared.
// Methods compile as ordinary nested prototypes with an implicit `self`
// register 0; they capture no upvalues of their own beyond what any other
// nested function would (self is a parameter, not a closure capture).
func (c *Compiler) VisitClassDecl(n *ast.ClassDecl) any {
	tmpl := &bytecode.ClassTemplate{
		Name:           n.Name,
		ParentName:     n.Parent,
		MethodNested:   map[string]int{},
		ConstructorIdx: -1,
	}

	for _, f := range n.Fields {
		def, ok := constValueForLiteral(f.Default)
		if !ok {
			c.errorf("class %s field %s: default must be a compile-time constant", n.Name, f.Name)
			def, _ = constValueForLiteral(nil)
		}
		tmpl.Fields = append(tmpl.Fields, bytecode.FieldTemplate{Name: f.Name, Default: def})
	}

	for _, m := range n.Methods {
		proto := c.compileFunctionBody(n.Name+"."+m.Name, paramNames(m.Params), m.IsVariadic, m.Body, true)
		c.proto.Nested = append(c.proto.Nested, proto)
		idx := len(c.proto.Nested) - 1
		tmpl.MethodNested[m.Name] = idx
		if m.Name == "new" {
			tmpl.ConstructorIdx = idx
		}
	}

	c.proto.ClassTemplates = append(c.proto.ClassTemplates, tmpl)
	tIdx := len(c.proto.ClassTemplates) - 1

	dst := c.alloc()
	c.emitAt(n.Span.Line, bytecode.MakeABx(bytecode.OpMakeClass, uint8(dst), uint16(tIdx)))

	if n.Parent != "" {
		parentID := c.globalID(n.Parent)
		parentReg := c.alloc()
		c.emit(bytecode.MakeABx(bytecode.OpGetGlobal, uint8(parentReg), parentID))
		c.emit(bytecode.MakeABC(bytecode.OpInherit, uint8(dst), uint8(parentReg), 0))
		c.free(parentReg)
	}

	id := c.globalID(n.Name)
	c.emit(bytecode.MakeABx(bytecode.OpSetGlobal, uint8(dst), id))
	c.free(dst)
	return nil
}
