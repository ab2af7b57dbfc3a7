package vm

import (
	"fmt"
	"math"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/diag"
	"github.com/pro-grammer-SD/axiom-sub000/internal/heap"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

// branch applies a jump's sBx offset to frame's program counter, recording a
// profiler back-edge whenever the offset is negative — every loop body in
// this language closes with exactly one backward branch (§4.5/§4.6).
func (vm *VM) branch(frame *Frame, pc int, offset int32) {
	if offset < 0 {
		vm.Profiler.RecordBackEdge(pc)
	}
	frame.PC = pc + 1 + int(offset)
}

// deopt rewrites a type-specialized instruction back to its generic form and
// rewinds the program counter so the dispatch loop re-executes the same site
// the very next iteration, this time through the generic handler (§4.3 "a
// quickened site whose type feedback no longer holds deopts in place").
func (vm *VM) deopt(frame *Frame, pc int, specialized bytecode.OpCode) {
	generic, ok := bytecode.GenericOf(specialized)
	if !ok {
		generic = specialized
	}
	frame.Proto.Code[pc] = frame.Proto.Code[pc].WithOp(generic)
	frame.PC = pc
}

// run is the register-machine dispatch loop (§4.5): it executes es's top
// frame until the frame stack empties, at which point the thread of control
// (the top-level program, or one spawned task) is finished.
func (vm *VM) run(es *execState) (value.Value, error) {
	for {
		frame := es.frames[len(es.frames)-1]
		code := frame.Proto.Code

		if frame.PC >= len(code) {
			done, result := vm.popFrame(es, value.Nil())
			if done {
				return result, nil
			}
			continue
		}

		pc := frame.PC
		instr := code[pc]
		frame.PC++
		op := instr.OpCode()
		vm.Profiler.RecordOp(op)
		regs := es.registers[frame.RegBase:]

		switch op {

		// --- Loads ---
		case bytecode.OpLoadNil:
			regs[instr.A()] = value.Nil()
		case bytecode.OpLoadTrue:
			regs[instr.A()] = value.Bool(true)
		case bytecode.OpLoadFalse:
			regs[instr.A()] = value.Bool(false)
		case bytecode.OpLoadInt:
			regs[instr.A()] = value.Int(int64(instr.SBx()))
		case bytecode.OpLoadFloat:
			regs[instr.A()] = value.Float(frame.Proto.FloatConstants[instr.Bx()])
		case bytecode.OpLoadString:
			regs[instr.A()] = value.InternedString(vm.Interner.Intern(frame.Proto.StringConstants[instr.Bx()]))
		case bytecode.OpLoadConst:
			regs[instr.A()] = frame.Proto.Constants[instr.Bx()]
		case bytecode.OpMove:
			regs[instr.A()] = regs[instr.B()]
		case bytecode.OpGetGlobal:
			idx := instr.Bx()
			if int(idx) >= len(es.globals) || !es.globalSet[idx] {
				name := ""
				if int(idx) < len(es.globalNames) {
					name = es.globalNames[idx]
				}
				if suggestion := diag.Suggest(name, es.definedGlobalNames(), 3); suggestion != "" {
					return value.Nil(), vm.raiseErr(es, diag.UndefinedVariable, "undefined variable %q (did you mean %q?)", name, suggestion)
				}
				return value.Nil(), vm.raiseErr(es, diag.UndefinedVariable, "undefined variable %q", name)
			}
			regs[instr.A()] = es.globals[idx]
		case bytecode.OpSetGlobal:
			idx := instr.Bx()
			es.ensureGlobals(int(idx) + 1)
			es.globals[idx] = regs[instr.A()]
			es.globalSet[idx] = true

		// --- Upvalues ---
		case bytecode.OpGetUpval:
			regs[instr.A()] = frame.Closure.Upvals[instr.B()]
		case bytecode.OpSetUpval:
			frame.Closure.Upvals[instr.B()] = regs[instr.A()]
			vm.Heap.WriteBarrier(frame.Closure, regs[instr.A()])
		case bytecode.OpCloseUpval:
			// Upvalues are captured by value at closure-creation time (see
			// heap.ClosureObj), so there is nothing open left to close.

		// --- Generic arithmetic ---
		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			a, b := regs[instr.B()], regs[instr.C()]
			result, tag, err := vm.binaryOp(es, genericKind(op), a, b)
			if err != nil {
				return value.Nil(), err
			}
			regs[instr.A()] = result
			vm.maybeQuicken(frame.Proto, pc, op, tag)
		case bytecode.OpPow:
			a, b := regs[instr.B()], regs[instr.C()]
			if !a.IsNumber() || !b.IsNumber() {
				return value.Nil(), vm.raiseErr(es, diag.TypeMismatch, "** requires numbers, got %s and %s", vm.typeName(a), vm.typeName(b))
			}
			regs[instr.A()] = value.Float(math.Pow(a.AsNumber(), b.AsNumber()))
		case bytecode.OpNeg:
			a := regs[instr.B()]
			switch {
			case a.IsInt():
				regs[instr.A()] = value.Int(wrapInt(-a.AsInt()))
			case a.IsFloat():
				regs[instr.A()] = value.Float(-a.AsFloat())
			default:
				return value.Nil(), vm.raiseErr(es, diag.TypeMismatch, "- requires a number, got %s", vm.typeName(a))
			}

		// --- Type-specialized arithmetic (quickened; deopt on type miss) ---
		case bytecode.OpAddInt, bytecode.OpSubInt, bytecode.OpMulInt, bytecode.OpDivInt:
			a, b := regs[instr.B()], regs[instr.C()]
			if !a.IsInt() || !b.IsInt() {
				vm.deopt(frame, pc, op)
				continue
			}
			ai, bi := a.AsInt(), b.AsInt()
			switch op {
			case bytecode.OpAddInt:
				regs[instr.A()] = value.Int(wrapInt(ai + bi))
			case bytecode.OpSubInt:
				regs[instr.A()] = value.Int(wrapInt(ai - bi))
			case bytecode.OpMulInt:
				regs[instr.A()] = value.Int(wrapInt(ai * bi))
			case bytecode.OpDivInt:
				if bi == 0 {
					return value.Nil(), vm.raiseErr(es, diag.DivisionByZero, "integer division by zero")
				}
				regs[instr.A()] = value.Int(wrapInt(ai / bi))
			}
		case bytecode.OpAddFloat, bytecode.OpSubFloat, bytecode.OpMulFloat, bytecode.OpDivFloat:
			a, b := regs[instr.B()], regs[instr.C()]
			if !a.IsFloat() || !b.IsFloat() {
				vm.deopt(frame, pc, op)
				continue
			}
			af, bf := a.AsFloat(), b.AsFloat()
			switch op {
			case bytecode.OpAddFloat:
				regs[instr.A()] = value.Float(af + bf)
			case bytecode.OpSubFloat:
				regs[instr.A()] = value.Float(af - bf)
			case bytecode.OpMulFloat:
				regs[instr.A()] = value.Float(af * bf)
			case bytecode.OpDivFloat:
				regs[instr.A()] = value.Float(af / bf)
			}

		case bytecode.OpConcat:
			a, b := regs[instr.B()], regs[instr.C()]
			regs[instr.A()] = value.InternedString(vm.Interner.Intern(vm.display(a) + vm.display(b)))

		// --- Generic comparisons ---
		case bytecode.OpEq:
			regs[instr.A()] = value.Bool(value.Equal(regs[instr.B()], regs[instr.C()]))
		case bytecode.OpNeq:
			regs[instr.A()] = value.Bool(!value.Equal(regs[instr.B()], regs[instr.C()]))
		case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
			a, b := regs[instr.B()], regs[instr.C()]
			cmp, ok, tag := vm.compare(a, b)
			if !ok {
				return value.Nil(), vm.raiseErr(es, diag.TypeMismatch, "cannot compare %s and %s", vm.typeName(a), vm.typeName(b))
			}
			regs[instr.A()] = value.Bool(compareTakes(op, cmp))
			vm.maybeQuicken(frame.Proto, pc, op, tag)

		// --- Specialized comparisons ---
		case bytecode.OpLtInt, bytecode.OpLeInt:
			a, b := regs[instr.B()], regs[instr.C()]
			if !a.IsInt() || !b.IsInt() {
				vm.deopt(frame, pc, op)
				continue
			}
			ai, bi := a.AsInt(), b.AsInt()
			if op == bytecode.OpLtInt {
				regs[instr.A()] = value.Bool(ai < bi)
			} else {
				regs[instr.A()] = value.Bool(ai <= bi)
			}
		case bytecode.OpLtFloat, bytecode.OpLeFloat:
			a, b := regs[instr.B()], regs[instr.C()]
			if !a.IsFloat() || !b.IsFloat() {
				vm.deopt(frame, pc, op)
				continue
			}
			af, bf := a.AsFloat(), b.AsFloat()
			if op == bytecode.OpLtFloat {
				regs[instr.A()] = value.Bool(af < bf)
			} else {
				regs[instr.A()] = value.Bool(af <= bf)
			}

		// --- Logic ---
		case bytecode.OpNot:
			regs[instr.A()] = value.Bool(!regs[instr.B()].Truthy())
		case bytecode.OpAnd:
			regs[instr.A()] = value.Bool(regs[instr.B()].Truthy() && regs[instr.C()].Truthy())
		case bytecode.OpOr:
			regs[instr.A()] = value.Bool(regs[instr.B()].Truthy() || regs[instr.C()].Truthy())

		// --- Control flow ---
		case bytecode.OpJump:
			vm.branch(frame, pc, instr.SBx())
		case bytecode.OpJumpIfTrue:
			if regs[instr.A()].Truthy() {
				vm.branch(frame, pc, instr.SBx())
			}
		case bytecode.OpJumpIfFalse:
			if !regs[instr.A()].Truthy() {
				vm.branch(frame, pc, instr.SBx())
			}
		case bytecode.OpJumpIfNil:
			if regs[instr.A()].IsNil() {
				vm.branch(frame, pc, instr.SBx())
			}
		case bytecode.OpJumpIfNotNil:
			if !regs[instr.A()].IsNil() {
				vm.branch(frame, pc, instr.SBx())
			}

		// --- Calls ---
		case bytecode.OpCall, bytecode.OpCallTail:
			b := int(instr.B())
			argc := int(instr.C())
			callee := regs[b]
			args := make([]value.Value, argc)
			copy(args, regs[b+1:b+1+argc])
			if err := vm.callValue(es, callee, args, instr.A(), op == bytecode.OpCallTail); err != nil {
				return value.Nil(), err
			}
		case bytecode.OpCallNative:
			b := int(instr.B())
			argc := int(instr.C())
			callee := regs[b]
			args := make([]value.Value, argc)
			copy(args, regs[b+1:b+1+argc])
			result, err := vm.callNative(es, callee, args)
			if err != nil {
				return value.Nil(), err
			}
			regs[instr.A()] = result
		case bytecode.OpSpawn:
			b := int(instr.B())
			argc := int(instr.C())
			callee := regs[b]
			args := make([]value.Value, argc)
			copy(args, regs[b+1:b+1+argc])
			taskID, err := vm.spawn(es, callee, args)
			if err != nil {
				return value.Nil(), err
			}
			regs[instr.A()] = value.Int(taskID)
		case bytecode.OpReturn:
			done, result := vm.popFrame(es, regs[instr.A()])
			if done {
				return result, nil
			}
		case bytecode.OpReturnNil, bytecode.OpNilReturn:
			done, result := vm.popFrame(es, value.Nil())
			if done {
				return result, nil
			}

		// --- Property / index access ---
		case bytecode.OpGetProp:
			name := frame.Proto.StringConstants[instr.C()]
			v, err := vm.getProp(es, frame.Proto, pc, regs[instr.B()], name)
			if err != nil {
				return value.Nil(), err
			}
			regs[instr.A()] = v
		case bytecode.OpSetProp:
			name := frame.Proto.StringConstants[instr.C()]
			if err := vm.setProp(es, frame.Proto, pc, regs[instr.A()], regs[instr.B()], name); err != nil {
				return value.Nil(), err
			}
		case bytecode.OpGetIndex:
			v, err := vm.getIndex(es, regs[instr.B()], regs[instr.C()])
			if err != nil {
				return value.Nil(), err
			}
			regs[instr.A()] = v
		case bytecode.OpSetIndex:
			if err := vm.setIndex(es, regs[instr.A()], regs[instr.B()], regs[instr.C()]); err != nil {
				return value.Nil(), err
			}
		case bytecode.OpGetMethod:
			name := frame.Proto.StringConstants[instr.C()]
			v, err := vm.getMethod(es, frame.Proto, pc, regs[instr.B()], name)
			if err != nil {
				return value.Nil(), err
			}
			regs[instr.A()] = v

		// --- Collections ---
		case bytecode.OpNewList:
			regs[instr.A()] = vm.Heap.NewList(es, func() []value.Value { return nil })
		case bytecode.OpNewMap:
			regs[instr.A()] = vm.Heap.NewMap(es, func() map[string]value.Value { return nil })
		case bytecode.OpListLen:
			l, err := vm.listObj(es, regs[instr.B()])
			if err != nil {
				return value.Nil(), err
			}
			regs[instr.A()] = value.Int(int64(len(l.Elems)))
		case bytecode.OpListPush:
			l, err := vm.listObj(es, regs[instr.A()])
			if err != nil {
				return value.Nil(), err
			}
			val := regs[instr.B()]
			l.Elems = append(l.Elems, val)
			vm.Heap.WriteBarrier(l, val)

		// --- Objects ---
		case bytecode.OpMakeClass:
			tmpl := frame.Proto.ClassTemplates[instr.Bx()]
			regs[instr.A()] = vm.makeClass(es, frame.Proto, tmpl)
		case bytecode.OpNewObj:
			b := int(instr.B())
			argc := int(instr.C())
			classVal := regs[b]
			args := make([]value.Value, argc)
			copy(args, regs[b+1:b+1+argc])
			if err := vm.newObj(es, classVal, args, instr.A()); err != nil {
				return value.Nil(), err
			}
		case bytecode.OpInherit:
			if err := vm.setParent(es, regs[instr.A()], regs[instr.B()]); err != nil {
				return value.Nil(), err
			}
		case bytecode.OpSuper:
			name := frame.Proto.StringConstants[instr.C()]
			v, err := vm.super(es, regs[instr.B()], name)
			if err != nil {
				return value.Nil(), err
			}
			regs[instr.A()] = v

		// --- Closures ---
		case bytecode.OpClosure:
			regs[instr.A()] = vm.makeClosure(es, frame, frame.Proto.Nested[instr.Bx()])

		// --- Iteration ---
		case bytecode.OpIterInit:
			st, err := vm.iterInit(es, regs[instr.B()])
			if err != nil {
				return value.Nil(), err
			}
			if frame.Iterators == nil {
				frame.Iterators = make(map[uint8]*iterState)
			}
			frame.Iterators[instr.A()] = st
		case bytecode.OpIterNext:
			st := frame.Iterators[instr.A()]
			if item, ok := vm.iterAdvance(st); ok {
				regs[instr.A()] = item
			} else {
				delete(frame.Iterators, instr.A())
				vm.branch(frame, pc, instr.SBx())
			}

		// --- Superinstructions ---
		case bytecode.OpAddIntImm:
			b := regs[instr.B()]
			if !b.IsInt() {
				return value.Nil(), vm.raiseErr(es, diag.TypeMismatch, "+ requires a number, got %s", vm.typeName(b))
			}
			regs[instr.A()] = value.Int(wrapInt(b.AsInt() + int64(int8(instr.C()))))
		case bytecode.OpIncrLocal:
			a := regs[instr.A()]
			if !a.IsInt() {
				return value.Nil(), vm.raiseErr(es, diag.TypeMismatch, "+ requires a number, got %s", vm.typeName(a))
			}
			regs[instr.A()] = value.Int(wrapInt(a.AsInt() + 1))
		case bytecode.OpDecrLocal:
			a := regs[instr.A()]
			if !a.IsInt() {
				return value.Nil(), vm.raiseErr(es, diag.TypeMismatch, "- requires a number, got %s", vm.typeName(a))
			}
			regs[instr.A()] = value.Int(wrapInt(a.AsInt() - 1))
		case bytecode.OpCmpLtJmp:
			a, b := regs[instr.A()], regs[instr.B()]
			if cmp, ok, _ := vm.compare(a, b); ok && cmp >= 0 {
				vm.branch(frame, pc, int32(int8(instr.C())))
			}
		case bytecode.OpLtJmpConst, bytecode.OpLeJmpConst, bytecode.OpEqJmpConst,
			bytecode.OpNeJmpConst, bytecode.OpGtJmpConst, bytecode.OpGeJmpConst:
			a := regs[instr.A()]
			k := frame.Proto.FloatConstants[instr.B()]
			if cmp, ok, _ := vm.compare(a, value.Float(k)); ok && !compareTakes(jmpConstGeneric(op), cmp) {
				vm.branch(frame, pc, int32(int8(instr.C())))
			}
		case bytecode.OpForPrep:
			a := instr.A()
			regs[a] = value.Int(wrapInt(regs[a].AsInt() - regs[a+2].AsInt()))
			vm.branch(frame, pc, instr.SBx())
		case bytecode.OpForLoop:
			a := instr.A()
			step := regs[a+2].AsInt()
			next := wrapInt(regs[a].AsInt() + step)
			regs[a] = value.Int(next)
			limit := regs[a+1].AsInt()
			if (step > 0 && next <= limit) || (step < 0 && next >= limit) {
				vm.branch(frame, pc, instr.SBx())
			}

		// --- Profiling ---
		case bytecode.OpProfile:
			site := int(instr.Bx())
			if site >= 0 && site < len(frame.Proto.ExecCounts) {
				frame.Proto.ExecCounts[site]++
			}
		case bytecode.OpLoopBack:
			vm.Profiler.RecordBackEdge(pc)
			frame.PC = pc + 1 + int(instr.SBx())

		// --- Deopt ---
		case bytecode.OpUnquicken:
			idx := int(instr.A())
			if idx >= 0 && idx < len(frame.Proto.Code) {
				if generic, ok := bytecode.GenericOf(frame.Proto.Code[idx].OpCode()); ok {
					frame.Proto.Code[idx] = frame.Proto.Code[idx].WithOp(generic)
				}
			}

		// --- Misc ---
		case bytecode.OpNop:
			// nothing
		case bytecode.OpPrint:
			fmt.Fprintln(vm.Stdout, vm.display(regs[instr.A()]))

		default:
			return value.Nil(), vm.raiseErr(es, diag.InternalError, "unhandled opcode %s", op)
		}
	}
}

func genericKind(op bytecode.OpCode) opKind {
	switch op {
	case bytecode.OpAdd:
		return opAdd
	case bytecode.OpSub:
		return opSub
	case bytecode.OpMul:
		return opMul
	case bytecode.OpDiv:
		return opDiv
	default:
		return opMod
	}
}

// compareTakes applies a comparison opcode's operator to a three-way
// comparison result, shared by the generic Lt/Le/Gt/Ge handlers and the
// fused *JmpConst family (which reuses the same operator set against a
// float-constant operand instead of a second register).
func compareTakes(op bytecode.OpCode, cmp int) bool {
	switch op {
	case bytecode.OpLt:
		return cmp < 0
	case bytecode.OpLe:
		return cmp <= 0
	case bytecode.OpGt:
		return cmp > 0
	case bytecode.OpGe:
		return cmp >= 0
	case bytecode.OpEq:
		return cmp == 0
	case bytecode.OpNeq:
		return cmp != 0
	default:
		return false
	}
}

// jmpConstGeneric maps a fused *JmpConst opcode to the generic comparison
// operator compareTakes should apply.
func jmpConstGeneric(op bytecode.OpCode) bytecode.OpCode {
	switch op {
	case bytecode.OpLtJmpConst:
		return bytecode.OpLt
	case bytecode.OpLeJmpConst:
		return bytecode.OpLe
	case bytecode.OpEqJmpConst:
		return bytecode.OpEq
	case bytecode.OpNeJmpConst:
		return bytecode.OpNeq
	case bytecode.OpGtJmpConst:
		return bytecode.OpGt
	case bytecode.OpGeJmpConst:
		return bytecode.OpGe
	default:
		return bytecode.OpEq
	}
}

// callValue dispatches a Call/CallTail site's callee: a compiled closure
// pushes a new frame (or, for a tail call, replaces the current one in
// place), a native runs synchronously and deposits its result immediately.
func (vm *VM) callValue(es *execState, callee value.Value, args []value.Value, destReg uint8, tail bool) error {
	if !callee.IsHandle() {
		return vm.raiseErr(es, diag.NotCallable, "cannot call value of type %s", vm.typeName(callee))
	}
	switch c := vm.Heap.Resolve(callee.AsHandle()).(type) {
	case *heap.ClosureObj:
		if tail {
			return vm.tailCallClosure(es, c, args)
		}
		return vm.pushClosureFrame(es, c, args, destReg, false, value.Nil())
	case *heap.NativeObj:
		result, err := vm.invokeNative(es, c, args)
		if err != nil {
			return err
		}
		top := es.frames[len(es.frames)-1]
		es.registers[top.RegBase+int(destReg)] = result
		return nil
	default:
		return vm.raiseErr(es, diag.NotCallable, "cannot call value of type %s", vm.typeName(callee))
	}
}

// callNative backs OpCallNative, the direct native-trampoline opcode: unlike
// Call, it rejects a compiled-closure callee rather than silently running it.
func (vm *VM) callNative(es *execState, callee value.Value, args []value.Value) (value.Value, error) {
	if !callee.IsHandle() {
		return value.Nil(), vm.raiseErr(es, diag.NotCallable, "CallNative target is not a native function")
	}
	nat, ok := vm.Heap.Resolve(callee.AsHandle()).(*heap.NativeObj)
	if !ok {
		return value.Nil(), vm.raiseErr(es, diag.NotCallable, "CallNative target is not a native function")
	}
	return vm.invokeNative(es, nat, args)
}

func (vm *VM) invokeNative(es *execState, nat *heap.NativeObj, args []value.Value) (value.Value, error) {
	if nat.Arity >= 0 && len(args) != nat.Arity {
		return value.Nil(), vm.raiseErr(es, diag.ArityMismatch, "native %q expects %d argument(s), got %d", nat.Name, nat.Arity, len(args))
	}
	result, err := nat.Fn(args)
	if err != nil {
		return value.Nil(), vm.raiseErr(es, diag.Generic, "native %q: %v", nat.Name, err)
	}
	return result, nil
}

// tailCallClosure reuses the current top frame's activation record to run a
// different closure, the mechanism that keeps self- and mutual-tail-recursion
// at constant stack depth (§8.4 "tail recursion to 1,000,000 iterations").
func (vm *VM) tailCallClosure(es *execState, c *heap.ClosureObj, args []value.Value) error {
	frame := es.frames[len(es.frames)-1]
	proto := c.Proto
	vm.ensureProtoTables(proto)

	base := frame.RegBase
	size := proto.FrameSize()
	es.ensureRegisters(base + size)
	regs := es.registers[base : base+size]

	offset := 0
	if !c.BoundSelf.IsNil() {
		regs[0] = c.BoundSelf
		offset = 1
	}
	n := proto.NumParams - offset
	for i := 0; i < n; i++ {
		if i < len(args) {
			regs[offset+i] = args[i]
		} else {
			regs[offset+i] = value.Nil()
		}
	}
	for i := offset + n; i < size; i++ {
		regs[i] = value.Nil()
	}

	vm.Profiler.ExitCall(es.taskID)
	frame.Proto = proto
	frame.Closure = c
	frame.PC = 0
	frame.Iterators = nil
	// ReturnReg, IsConstructor, and ConstructorSelf belong to the call this
	// frame was originally pushed for, not the tail-callee: a constructor
	// body that tail-calls another function must still deposit the
	// instance under construction into the caller's register, not whatever
	// the tail-callee returns (§6 NewObj's implicit-self-return contract).
	vm.Profiler.EnterCall(es.taskID, proto.Name)
	return nil
}

// newObj backs OpNewObj: it allocates the instance, then (if the class
// declares `new`) pushes a constructor frame bound to it, so the eventual
// Return deposits the constructed instance rather than the constructor
// body's own return value (§6 NewObj's implicit-self-return convention).
func (vm *VM) newObj(es *execState, classVal value.Value, args []value.Value, destReg uint8) error {
	inst, ctor, err := vm.newInstance(es, classVal)
	if err != nil {
		return err
	}
	if ctor.IsNil() {
		top := es.frames[len(es.frames)-1]
		es.registers[top.RegBase+int(destReg)] = inst
		return nil
	}
	bound, err := vm.bindClosure(es, ctor, inst)
	if err != nil {
		return err
	}
	closure := vm.Heap.Resolve(bound.AsHandle()).(*heap.ClosureObj)
	return vm.pushClosureFrame(es, closure, args, destReg, true, inst)
}

// spawn launches callee(args) as a new cooperative task (§5), giving it a
// private execState seeded from a snapshot of the spawning task's globals.
func (vm *VM) spawn(es *execState, callee value.Value, args []value.Value) (int64, error) {
	if !callee.IsHandle() {
		return 0, vm.raiseErr(es, diag.NotCallable, "cannot spawn value of type %s", vm.typeName(callee))
	}
	closure, ok := vm.Heap.Resolve(callee.AsHandle()).(*heap.ClosureObj)
	if !ok {
		return 0, vm.raiseErr(es, diag.NotCallable, "cannot spawn non-function value")
	}

	globals := append([]value.Value(nil), es.globals...)
	globalSet := append([]bool(nil), es.globalSet...)

	taskID := vm.Tasks.Spawn(func(taskID int64) error {
		child := &execState{
			taskID:      taskID,
			globals:     globals,
			globalSet:   globalSet,
			globalNames: es.globalNames,
		}
		if err := vm.pushClosureFrame(child, closure, args, 0, false, value.Nil()); err != nil {
			return err
		}
		_, err := vm.run(child)
		return err
	})
	return taskID, nil
}

// makeClosure materializes a Closure instruction: every upvalue descriptor
// on the nested prototype is resolved against either the enclosing frame's
// own registers (InStack) or the enclosing closure's already-captured
// upvalues, each copied by value (§3.4). The resolution happens inside the
// allocation's build callback rather than before calling NewClosure: build
// runs after NewClosure's own GC safepoint, so regs is read post-collection
// and can't capture a stale handle the way a local slice built beforehand
// could (heap.Heap.alloc's doc comment).
func (vm *VM) makeClosure(es *execState, frame *Frame, nested *bytecode.Prototype) value.Value {
	return vm.Heap.NewClosure(es, func() *heap.ClosureObj {
		regs := es.registers[frame.RegBase:]
		upvals := make([]value.Value, len(nested.Upvalues))
		for i, uv := range nested.Upvalues {
			if uv.InStack {
				upvals[i] = regs[uv.Index]
			} else if frame.Closure != nil && int(uv.Index) < len(frame.Closure.Upvals) {
				upvals[i] = frame.Closure.Upvals[uv.Index]
			} else {
				upvals[i] = value.Nil()
			}
		}
		return &heap.ClosureObj{Proto: nested, Upvals: upvals, BoundSelf: value.Nil()}
	})
}
