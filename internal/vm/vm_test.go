package vm

import (
	"bytes"
	"context"
	"testing"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/config"
	"github.com/pro-grammer-SD/axiom-sub000/internal/heap"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

func newTestVM() *VM {
	return New(context.Background(), config.Default())
}

// runProto wraps proto in a single frame and runs it to completion, the way
// vm.Run does for a real program, without going through compiler/optimizer.
func runProto(t *testing.T, vmInst *VM, proto *bytecode.Prototype) value.Value {
	t.Helper()
	proto.GlobalNames = nil
	vmInst.ensureProtoTables(proto)
	es := vmInst.newExecState(proto, 0)
	vmInst.bindNatives(es, proto)
	result, err := vmInst.run(es)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return result
}

func TestFibonacciRecursive(t *testing.T) {
	// fib(n): if n < 2 { return n } return fib(n-1) + fib(n-2)
	fib := bytecode.NewPrototype("fib")
	fib.NumParams = 1
	fib.NumRegisters = 6
	fib.Code = []bytecode.Instruction{
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 2),     // 0: R1 = 2
		bytecode.MakeABC(bytecode.OpLt, 2, 0, 1),        // 1: R2 = R0 < R1
		bytecode.MakeAsBx(bytecode.OpJumpIfFalse, 2, 1), // 2: if !R2 goto 4
		bytecode.MakeABC(bytecode.OpReturn, 0, 0, 0),    // 3: return R0
		bytecode.MakeABx(bytecode.OpGetGlobal, 2, 0),    // 4: R2 = fib
		bytecode.MakeAsBx(bytecode.OpLoadInt, 3, 1),     // 5: R3 = 1
		bytecode.MakeABC(bytecode.OpSub, 3, 0, 3),       // 6: R3 = R0 - R3
		bytecode.MakeABC(bytecode.OpCall, 2, 2, 1),      // 7: R2 = fib(R3) [base=2,argc=1]
		bytecode.MakeABx(bytecode.OpGetGlobal, 3, 0),    // 8: R3 = fib
		bytecode.MakeAsBx(bytecode.OpLoadInt, 4, 2),     // 9: R4 = 2
		bytecode.MakeABC(bytecode.OpSub, 4, 0, 4),       // 10: R4 = R0 - R4
		bytecode.MakeABC(bytecode.OpCall, 3, 3, 1),      // 11: R3 = fib(R4) [base=3,argc=1]
		bytecode.MakeABC(bytecode.OpAdd, 0, 2, 3),       // 12: R0 = R2 + R3
		bytecode.MakeABC(bytecode.OpReturn, 0, 0, 0),    // 13: return R0
	}
	fib.GlobalNames = []string{"fib"}

	main := bytecode.NewPrototype("main")
	main.NumRegisters = 3
	main.GlobalNames = []string{"fib"}
	main.Code = []bytecode.Instruction{
		bytecode.MakeABx(bytecode.OpGetGlobal, 0, 0), // 0: R0 = fib
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 10), // 1: R1 = 10
		bytecode.MakeABC(bytecode.OpCall, 0, 0, 1),   // 2: R0 = fib(R1) [base=0,argc=1]
		bytecode.MakeABC(bytecode.OpReturn, 0, 0, 0), // 3: return R0
	}

	vmInst := newTestVM()
	es := vmInst.newExecState(main, 0)
	vmInst.ensureProtoTables(main)
	vmInst.ensureProtoTables(fib)

	closure := vmInst.Heap.NewClosure(es, func() *heap.ClosureObj {
		return &heap.ClosureObj{Proto: fib, BoundSelf: value.Nil()}
	})
	es.globals[0] = closure
	es.globalSet[0] = true

	result, err := vmInst.run(es)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.IsInt() || result.AsInt() != 55 {
		t.Fatalf("fib(10) = %v, want 55", result)
	}
}

func TestTailCallDoesNotGrowStack(t *testing.T) {
	// countdown(n): if n <= 0 { return n } return countdown(n-1)  [tail call]
	countdown := bytecode.NewPrototype("countdown")
	countdown.NumParams = 1
	countdown.NumRegisters = 4
	countdown.GlobalNames = []string{"countdown"}
	countdown.Code = []bytecode.Instruction{
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 0),     // 0: R1 = 0
		bytecode.MakeABC(bytecode.OpLe, 2, 0, 1),        // 1: R2 = R0 <= R1
		bytecode.MakeAsBx(bytecode.OpJumpIfFalse, 2, 1), // 2: if !R2 goto 4
		bytecode.MakeABC(bytecode.OpReturn, 0, 0, 0),    // 3: return R0
		bytecode.MakeABx(bytecode.OpGetGlobal, 2, 0),    // 4: R2 = countdown
		bytecode.MakeAsBx(bytecode.OpLoadInt, 3, 1),     // 5: R3 = 1
		bytecode.MakeABC(bytecode.OpSub, 3, 0, 3),       // 6: R3 = R0 - R3
		bytecode.MakeABC(bytecode.OpCallTail, 2, 2, 1),  // 7: tailcall countdown(R3)
	}

	main := bytecode.NewPrototype("main")
	main.NumRegisters = 3
	main.GlobalNames = []string{"countdown"}
	main.Code = []bytecode.Instruction{
		bytecode.MakeABx(bytecode.OpGetGlobal, 0, 0),    // 0: R0 = countdown
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 100000), // 1: R1 = 100000
		bytecode.MakeABC(bytecode.OpCall, 0, 0, 1),      // 2: R0 = countdown(R1)
		bytecode.MakeABC(bytecode.OpReturn, 0, 0, 0),    // 3: return R0
	}

	vmInst := newTestVM()
	vmInst.Config.CallDepthLimit = 50 // a non-tail call would blow this immediately
	es := vmInst.newExecState(main, 0)
	vmInst.ensureProtoTables(main)
	vmInst.ensureProtoTables(countdown)

	closure := vmInst.Heap.NewClosure(es, func() *heap.ClosureObj {
		return &heap.ClosureObj{Proto: countdown, BoundSelf: value.Nil()}
	})
	es.globals[0] = closure
	es.globalSet[0] = true

	result, err := vmInst.run(es)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.IsInt() || result.AsInt() != 0 {
		t.Fatalf("countdown(100000) = %v, want 0", result)
	}
}

func TestClosureCapturesUpvalue(t *testing.T) {
	// inner(): return R(upval 0)  — captures the enclosing frame's R0
	inner := bytecode.NewPrototype("inner")
	inner.NumRegisters = 1
	inner.Upvalues = []bytecode.UpvalueDesc{{Name: "x", InStack: true, Index: 0}}
	inner.Code = []bytecode.Instruction{
		bytecode.MakeABC(bytecode.OpGetUpval, 0, 0, 0),
		bytecode.MakeABC(bytecode.OpReturn, 0, 0, 0),
	}

	main := bytecode.NewPrototype("main")
	main.NumRegisters = 3
	main.Nested = []*bytecode.Prototype{inner}
	main.Code = []bytecode.Instruction{
		bytecode.MakeAsBx(bytecode.OpLoadInt, 0, 42),  // 0: R0 = 42
		bytecode.MakeABx(bytecode.OpClosure, 1, 0),    // 1: R1 = closure(inner)
		bytecode.MakeABC(bytecode.OpCall, 1, 1, 0),    // 2: R1 = R1()
		bytecode.MakeABC(bytecode.OpReturn, 1, 0, 0),  // 3: return R1
	}

	vmInst := newTestVM()
	result := runProto(t, vmInst, main)
	if !result.IsInt() || result.AsInt() != 42 {
		t.Fatalf("closure() = %v, want 42", result)
	}
}

func TestDeoptOnTypeMismatch(t *testing.T) {
	// A quickened AddInt site whose operand turns out to be a float must
	// deopt to the generic Add and still produce the correct result, rather
	// than raising a spurious type error (§4.3).
	proto := bytecode.NewPrototype("main")
	proto.NumRegisters = 3
	proto.FloatConstants = []float64{2.5}
	proto.Code = []bytecode.Instruction{
		bytecode.MakeABx(bytecode.OpLoadFloat, 0, 0),
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 5), // R1 = int, not float
		bytecode.MakeABC(bytecode.OpAddFloat, 2, 0, 1),
		bytecode.MakeABC(bytecode.OpReturn, 2, 0, 0),
	}

	vmInst := newTestVM()
	result := runProto(t, vmInst, proto)
	if !result.IsFloat() || result.AsFloat() != 7.5 {
		t.Fatalf("deopt add = %v, want 7.5", result)
	}
	// The site itself should have been rewritten back to generic Add.
	if proto.Code[2].OpCode() != bytecode.OpAdd {
		t.Fatalf("site not deopted: opcode = %v", proto.Code[2].OpCode())
	}
}

func TestListPushAndLen(t *testing.T) {
	main := bytecode.NewPrototype("main")
	main.NumRegisters = 3
	main.Code = []bytecode.Instruction{
		bytecode.MakeABC(bytecode.OpNewList, 0, 0, 0),
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 7),
		bytecode.MakeABC(bytecode.OpListPush, 0, 1, 0),
		bytecode.MakeABC(bytecode.OpListLen, 2, 0, 0),
		bytecode.MakeABC(bytecode.OpReturn, 2, 0, 0),
	}
	vmInst := newTestVM()
	result := runProto(t, vmInst, main)
	if !result.IsInt() || result.AsInt() != 1 {
		t.Fatalf("list len = %v, want 1", result)
	}
}

func TestHandConstructedAndOr(t *testing.T) {
	main := bytecode.NewPrototype("main")
	main.NumRegisters = 3
	main.Code = []bytecode.Instruction{
		bytecode.MakeABC(bytecode.OpLoadTrue, 0, 0, 0),
		bytecode.MakeABC(bytecode.OpLoadFalse, 1, 0, 0),
		bytecode.MakeABC(bytecode.OpAnd, 2, 0, 1),
		bytecode.MakeABC(bytecode.OpReturn, 2, 0, 0),
	}
	vmInst := newTestVM()
	result := runProto(t, vmInst, main)
	if !result.IsBool() || result.AsBool() != false {
		t.Fatalf("true and false = %v, want false", result)
	}

	main2 := bytecode.NewPrototype("main2")
	main2.NumRegisters = 3
	main2.Code = []bytecode.Instruction{
		bytecode.MakeABC(bytecode.OpLoadFalse, 0, 0, 0),
		bytecode.MakeABC(bytecode.OpLoadTrue, 1, 0, 0),
		bytecode.MakeABC(bytecode.OpOr, 2, 0, 1),
		bytecode.MakeABC(bytecode.OpReturn, 2, 0, 0),
	}
	vmInst2 := newTestVM()
	result2 := runProto(t, vmInst2, main2)
	if !result2.IsBool() || result2.AsBool() != true {
		t.Fatalf("false or true = %v, want true", result2)
	}
}

func TestHandConstructedCmpLtJmp(t *testing.T) {
	// R0 < R1 fails, so CmpLtJmp (lt + jump-false) should branch past the
	// "not taken" Return.
	main := bytecode.NewPrototype("main")
	main.NumRegisters = 3
	main.Code = []bytecode.Instruction{
		bytecode.MakeAsBx(bytecode.OpLoadInt, 0, 2), // 0: R0 = 2
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 1), // 1: R1 = 1
		bytecode.MakeABC(bytecode.OpCmpLtJmp, 0, 1, uint8(int8(1))), // 2: if !(R0<R1) goto 4
		bytecode.MakeABC(bytecode.OpReturn, 0, 0, 0),                // 3: return R0 = 2 (skipped)
		bytecode.MakeAsBx(bytecode.OpLoadInt, 2, 1),                 // 4: R2 = 1
		bytecode.MakeABC(bytecode.OpReturn, 2, 0, 0),                // 5: return R2
	}
	vmInst := newTestVM()
	result := runProto(t, vmInst, main)
	if !result.IsInt() || result.AsInt() != 1 {
		t.Fatalf("CmpLtJmp result = %v, want 1 (branch taken)", result)
	}
}

func TestHandConstructedForPrepForLoop(t *testing.T) {
	// Classic numeric for-loop over registers A(index)/A+1(limit)/A+2(step),
	// inclusive of the limit (ForLoop's condition is next<=limit for a
	// positive step): sums 0,1,2,3,4 into R3. ForPrep biases the index by
	// -step so the first ForLoop re-adds it back to the starting value.
	main := bytecode.NewPrototype("main")
	main.NumRegisters = 5
	main.Code = []bytecode.Instruction{
		bytecode.MakeAsBx(bytecode.OpLoadInt, 0, 0),  // 0: R0 = 0 (index)
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 4),  // 1: R1 = 4 (limit, inclusive)
		bytecode.MakeAsBx(bytecode.OpLoadInt, 2, 1),  // 2: R2 = 1 (step)
		bytecode.MakeAsBx(bytecode.OpLoadInt, 3, 0),  // 3: R3 = 0 (sum accumulator)
		bytecode.MakeAsBx(bytecode.OpForPrep, 0, 1),  // 4: R0 -= step; goto 6
		bytecode.MakeABC(bytecode.OpAdd, 3, 3, 0),    // 5: R3 += R0
		bytecode.MakeAsBx(bytecode.OpForLoop, 0, -2), // 6: R0 += step; if in range goto 5
		bytecode.MakeABC(bytecode.OpReturn, 3, 0, 0), // 7: return R3
	}
	vmInst := newTestVM()
	result := runProto(t, vmInst, main)
	if !result.IsInt() || result.AsInt() != 10 {
		t.Fatalf("for-loop sum(0..5) = %v, want 10", result)
	}
}

func TestHandConstructedSuperAndInherit(t *testing.T) {
	parent := &bytecode.ClassTemplate{
		Name:           "Base",
		ParentName:     "",
		Fields:         nil,
		MethodNested:   map[string]int{"greet": 0},
		ConstructorIdx: -1,
	}
	child := &bytecode.ClassTemplate{
		Name:           "Child",
		ParentName:     "Base",
		Fields:         nil,
		MethodNested:   map[string]int{},
		ConstructorIdx: -1,
	}
	greet := bytecode.NewPrototype("greet")
	greet.NumRegisters = 1
	greet.NumParams = 1
	greet.Code = []bytecode.Instruction{
		bytecode.MakeAsBx(bytecode.OpLoadInt, 0, 7),
		bytecode.MakeABC(bytecode.OpReturn, 0, 0, 0),
	}

	main := bytecode.NewPrototype("main")
	main.NumRegisters = 5
	main.Nested = []*bytecode.Prototype{greet}
	main.ClassTemplates = []*bytecode.ClassTemplate{parent, child}
	main.StringConstants = []string{"greet"}
	main.Code = []bytecode.Instruction{
		bytecode.MakeABx(bytecode.OpMakeClass, 0, 0), // 0: R0 = class Base
		bytecode.MakeABx(bytecode.OpMakeClass, 1, 1), // 1: R1 = class Child
		bytecode.MakeABC(bytecode.OpInherit, 1, 0, 0), // 2: Child.Parent = Base
		bytecode.MakeABC(bytecode.OpNewObj, 2, 1, 0),  // 3: R2 = new Child() [base=1,argc=0]
		bytecode.MakeABC(bytecode.OpSuper, 3, 2, 0),   // 4: R3 = super(R2).greet
		bytecode.MakeABC(bytecode.OpCall, 3, 3, 0),    // 5: R3 = R3()
		bytecode.MakeABC(bytecode.OpReturn, 3, 0, 0),  // 6: return R3
	}
	vmInst := newTestVM()
	result := runProto(t, vmInst, main)
	if !result.IsInt() || result.AsInt() != 7 {
		t.Fatalf("super().greet() = %v, want 7", result)
	}
}

func TestHandConstructedCallNative(t *testing.T) {
	main := bytecode.NewPrototype("main")
	main.NumRegisters = 4
	main.GlobalNames = []string{"len"}
	main.Code = []bytecode.Instruction{
		bytecode.MakeABx(bytecode.OpGetGlobal, 0, 0),   // 0: R0 = len
		bytecode.MakeABx(bytecode.OpLoadString, 1, 0),  // 1: R1 = "hello"
		bytecode.MakeABC(bytecode.OpCallNative, 2, 0, 1), // 2: R2 = len(R1) [base=0,argc=1]
		bytecode.MakeABC(bytecode.OpReturn, 2, 0, 0),
	}
	main.StringConstants = []string{"hello"}

	vmInst := newTestVM()
	vmInst.ensureProtoTables(main)
	es := vmInst.newExecState(main, 0)
	vmInst.bindNatives(es, main)
	result, err := vmInst.run(es)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.IsInt() || result.AsInt() != 5 {
		t.Fatalf("len(\"hello\") = %v, want 5", result)
	}
}

func TestHandConstructedProfile(t *testing.T) {
	main := bytecode.NewPrototype("main")
	main.NumRegisters = 3
	main.Code = []bytecode.Instruction{
		bytecode.MakeABx(bytecode.OpProfile, 0, 0),   // 0: ExecCounts[0]++
		bytecode.MakeAsBx(bytecode.OpLoadInt, 0, 1),  // 1: R0 = 1
		bytecode.MakeABC(bytecode.OpReturn, 0, 0, 0), // 2: return R0
	}
	vmInst := newTestVM()
	result := runProto(t, vmInst, main)
	if !result.IsInt() || result.AsInt() != 1 {
		t.Fatalf("result = %v, want 1", result)
	}
	if main.ExecCounts[0] != 1 {
		t.Fatalf("ExecCounts[0] = %d, want 1", main.ExecCounts[0])
	}
}

func TestHandConstructedCloseUpvalAndUnquicken(t *testing.T) {
	main := bytecode.NewPrototype("main")
	main.NumRegisters = 3
	main.Code = []bytecode.Instruction{
		bytecode.MakeABC(bytecode.OpCloseUpval, 0, 0, 0), // 0: no-op
		bytecode.MakeABC(bytecode.OpUnquicken, 4, 0, 0),  // 1: force-deopt Code[4] back to generic
		bytecode.MakeAsBx(bytecode.OpLoadInt, 1, 3),      // 2: R1 = 3
		bytecode.MakeABC(bytecode.OpReturn, 1, 0, 0),     // 3: return R1
		bytecode.MakeABC(bytecode.OpAddInt, 2, 0, 0),     // 4: specialized site, never executed
	}
	vmInst := newTestVM()
	result := runProto(t, vmInst, main)
	if !result.IsInt() || result.AsInt() != 3 {
		t.Fatalf("result = %v, want 3", result)
	}
	if main.Code[4].OpCode() != bytecode.OpAdd {
		t.Fatalf("Unquicken did not deopt Code[4]: opcode = %v, want OpAdd", main.Code[4].OpCode())
	}
}

func TestPrintWritesToConfiguredStdout(t *testing.T) {
	main := bytecode.NewPrototype("main")
	main.NumRegisters = 2
	main.StringConstants = []string{"hi"}
	main.Code = []bytecode.Instruction{
		bytecode.MakeABx(bytecode.OpLoadString, 0, 0),
		bytecode.MakeABC(bytecode.OpPrint, 0, 0, 0),
		bytecode.MakeABC(bytecode.OpReturnNil, 0, 0, 0),
	}
	vmInst := newTestVM()
	var buf bytes.Buffer
	vmInst.Stdout = &buf
	_ = runProto(t, vmInst, main)
	if got := buf.String(); got != "hi\n" {
		t.Fatalf("stdout = %q, want %q", got, "hi\n")
	}
}
