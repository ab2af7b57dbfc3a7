package compiler

import (
	"testing"

	"github.com/pro-grammer-SD/axiom-sub000/internal/ast"
	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
)

func TestCompileLetAndReturn(t *testing.T) {
	items := []ast.Item{
		&ast.StatementItem{Stmt: &ast.Let{Name: "x", Value: &ast.Number{Value: 41}}},
		&ast.StatementItem{Stmt: &ast.Return{
			Value: &ast.BinaryOp{Operator: "+", Left: &ast.Identifier{Name: "x"}, Right: &ast.Number{Value: 1}},
		}},
	}
	proto, errs := Compile(items)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	var sawAdd, sawReturn bool
	for _, instr := range proto.Code {
		switch instr.OpCode() {
		case bytecode.OpAdd:
			sawAdd = true
		case bytecode.OpReturn:
			sawReturn = true
		}
	}
	if !sawAdd || !sawReturn {
		t.Fatalf("expected ADD and RETURN in compiled code: %v", proto.Code)
	}
}

func TestCompileIfElseBranchesPatchCorrectly(t *testing.T) {
	items := []ast.Item{
		&ast.StatementItem{Stmt: &ast.If{
			Cond: &ast.Boolean{Value: true},
			Then: []ast.Stmt{&ast.Out{Value: &ast.Number{Value: 1}}},
			Else: []ast.Stmt{&ast.Out{Value: &ast.Number{Value: 2}}},
		}},
	}
	proto, errs := Compile(items)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	for i, instr := range proto.Code {
		if instr.OpCode() == bytecode.OpJumpIfFalse || instr.OpCode() == bytecode.OpJump {
			target := i + 1 + int(instr.SBx())
			if target < 0 || target > len(proto.Code) {
				t.Fatalf("jump at %d targets out-of-range pc %d (len=%d)", i, target, len(proto.Code))
			}
		}
	}
}

func TestCompileWhileLoopBackJump(t *testing.T) {
	items := []ast.Item{
		&ast.StatementItem{Stmt: &ast.Let{Name: "i", Value: &ast.Number{Value: 0}}},
		&ast.StatementItem{Stmt: &ast.While{
			Cond: &ast.BinaryOp{Operator: "<", Left: &ast.Identifier{Name: "i"}, Right: &ast.Number{Value: 10}},
			Body: []ast.Stmt{&ast.ExprStmt{Expr: &ast.Assign{
				Target: &ast.Identifier{Name: "i"},
				Value:  &ast.BinaryOp{Operator: "+", Left: &ast.Identifier{Name: "i"}, Right: &ast.Number{Value: 1}},
			}}},
		}},
	}
	proto, errs := Compile(items)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	foundBackJump := false
	for i, instr := range proto.Code {
		if instr.OpCode() == bytecode.OpJump && instr.SBx() < 0 {
			target := i + 1 + int(instr.SBx())
			if target >= 0 && target < i {
				foundBackJump = true
			}
		}
	}
	if !foundBackJump {
		t.Fatalf("expected a backward JUMP closing the while loop")
	}
}

func TestCompileFunctionDeclHoistedAsGlobal(t *testing.T) {
	items := []ast.Item{
		&ast.StatementItem{Stmt: &ast.ExprStmt{Expr: &ast.Call{
			Callee: &ast.Identifier{Name: "double"},
			Args:   []ast.Expr{&ast.Number{Value: 21}},
		}}},
		&ast.FunctionDecl{
			Name:   "double",
			Params: []ast.Param{{Name: "n"}},
			Body: []ast.Stmt{&ast.Return{
				Value: &ast.BinaryOp{Operator: "*", Left: &ast.Identifier{Name: "n"}, Right: &ast.Number{Value: 2}},
			}},
		},
	}
	proto, errs := Compile(items)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(proto.Nested) != 1 {
		t.Fatalf("expected 1 nested prototype for double(), got %d", len(proto.Nested))
	}
	var sawCall bool
	for _, instr := range proto.Code {
		if instr.OpCode() == bytecode.OpCall {
			sawCall = true
		}
	}
	if !sawCall {
		t.Fatalf("expected a CALL instruction even though double() is declared after its use site")
	}
}

func TestCompileLambdaCapturesEnclosingLocalAsUpvalue(t *testing.T) {
	items := []ast.Item{
		&ast.StatementItem{Stmt: &ast.Let{Name: "base", Value: &ast.Number{Value: 100}}},
		&ast.StatementItem{Stmt: &ast.Let{Name: "addBase", Value: &ast.Lambda{
			Params: []string{"n"},
			Body: []ast.Stmt{&ast.Return{
				Value: &ast.BinaryOp{Operator: "+", Left: &ast.Identifier{Name: "n"}, Right: &ast.Identifier{Name: "base"}},
			}},
		}}},
	}
	proto, errs := Compile(items)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(proto.Nested) != 1 {
		t.Fatalf("expected 1 nested lambda prototype, got %d", len(proto.Nested))
	}
	lambda := proto.Nested[0]
	if len(lambda.Upvalues) != 1 || lambda.Upvalues[0].Name != "base" || !lambda.Upvalues[0].InStack {
		t.Fatalf("expected lambda to capture 'base' as a stack upvalue, got %+v", lambda.Upvalues)
	}
}

func TestCompileClassWithMethodAndField(t *testing.T) {
	items := []ast.Item{
		&ast.ClassDecl{
			Name: "Counter",
			Fields: []ast.Field{
				{Name: "count", Default: &ast.Number{Value: 0}},
			},
			Methods: []*ast.FunctionDecl{
				{Name: "new", Body: []ast.Stmt{&ast.Return{}}},
				{Name: "bump", Body: []ast.Stmt{&ast.Return{
					Value: &ast.MemberAccess{Receiver: &ast.SelfRef{}, Name: "count"},
				}}},
			},
		},
	}
	proto, errs := Compile(items)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(proto.ClassTemplates) != 1 {
		t.Fatalf("expected 1 class template, got %d", len(proto.ClassTemplates))
	}
	tmpl := proto.ClassTemplates[0]
	if tmpl.ConstructorIdx < 0 {
		t.Fatalf("expected constructor to be recognized via method named 'new'")
	}
	if len(tmpl.Fields) != 1 || tmpl.Fields[0].Name != "count" {
		t.Fatalf("expected field 'count' with a constant default, got %+v", tmpl.Fields)
	}
	bumpProto := proto.Nested[tmpl.MethodNested["bump"]]
	if bumpProto.NumParams != 1 {
		t.Fatalf("expected method to reserve register 0 for self, NumParams=%d", bumpProto.NumParams)
	}
}
