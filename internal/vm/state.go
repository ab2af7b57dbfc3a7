package vm

import (
	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/diag"
	"github.com/pro-grammer-SD/axiom-sub000/internal/heap"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

// Frame is one activation record: which Prototype is running, where its
// register window starts in the shared execState.registers slice, and its
// own instruction pointer (§4.5).
type Frame struct {
	Proto   *bytecode.Prototype
	Closure *heap.ClosureObj // nil for the synthetic top-level frame
	RegBase int
	PC      int

	// ReturnReg is the caller's register that gets this frame's return
	// value once it pops.
	ReturnReg uint8

	// IsConstructor marks a frame pushed by NewObj to run a class's `new`
	// method: on return, ConstructorSelf is deposited into ReturnReg
	// instead of whatever the body's own `ret` expression evaluated to,
	// implementing the implicit-self-return OOP convention (§6 NewObj).
	IsConstructor   bool
	ConstructorSelf value.Value

	// Iterators is a per-frame side table keyed by the register a `for`
	// loop's IterInit wrote its state into, since two nested loops in the
	// same frame use different registers and must not share state.
	Iterators map[uint8]*iterState
}

// iterState is the live cursor behind one `for` loop's IterInit/IterNext
// pair (§SPEC_FULL supplemental). coll is kept as a Value, not a bare
// heap.Handle, so execState.Roots() can hand the GC a pointer to it: a
// minor collection mid-loop must be able to rewrite it like any other live
// reference.
type iterState struct {
	coll  value.Value
	index int
	keys  []string // non-nil only when iterating a map, snapshotted once
}

// execState is one thread of control's mutable machine state: its call
// stack, its register file (grown on demand, never shrunk), and its own
// private view of globals (§5: a spawned task "shares a snapshot of
// globals and classes taken at spawn time").
type execState struct {
	taskID int64

	registers []value.Value
	frames    []*Frame

	globals     []value.Value
	globalSet   []bool
	globalNames []string
}

// Roots implements heap.RootProvider: every live register, every global
// slot, and every live frame's open iterator cursors.
func (es *execState) Roots() []*value.Value {
	roots := make([]*value.Value, 0, len(es.registers)+len(es.globals))
	for i := range es.registers {
		roots = append(roots, &es.registers[i])
	}
	for i := range es.globals {
		roots = append(roots, &es.globals[i])
	}
	for _, f := range es.frames {
		for _, it := range f.Iterators {
			roots = append(roots, &it.coll)
		}
	}
	return roots
}

// definedGlobalNames lists every global that has actually been assigned,
// the candidate pool for an UndefinedVariable "did you mean" suggestion —
// a declared-but-never-set name (there is no such thing at compile time,
// since ids are allocated purely by reference) would otherwise suggest
// itself right back.
func (es *execState) definedGlobalNames() []string {
	out := make([]string, 0, len(es.globalNames))
	for i, ok := range es.globalSet {
		if ok && i < len(es.globalNames) {
			out = append(out, es.globalNames[i])
		}
	}
	return out
}

// ensureGlobals grows the global slot table to hold index n-1, zero-filling
// the new slots. A SetGlobal to a name the compiler assigned after this
// execState was built (a `load`-ed library introducing new globals) would
// otherwise index past the end of a table sized only from the entry
// prototype's own GlobalNames.
func (es *execState) ensureGlobals(n int) {
	if n <= len(es.globals) {
		return
	}
	grownVals := make([]value.Value, n)
	grownSet := make([]bool, n)
	copy(grownVals, es.globals)
	copy(grownSet, es.globalSet)
	for i := len(es.globals); i < n; i++ {
		grownVals[i] = value.Nil()
	}
	es.globals = grownVals
	es.globalSet = grownSet
}

// ensureRegisters grows the register file so index n is valid, zero-filling
// the new slots.
func (es *execState) ensureRegisters(n int) {
	if n <= len(es.registers) {
		return
	}
	grown := make([]value.Value, n)
	copy(grown, es.registers)
	for i := len(es.registers); i < n; i++ {
		grown[i] = value.Nil()
	}
	es.registers = grown
}

// nextFrameBase allocates the register window for a newly pushed frame,
// stacked directly after the current top frame's own window.
func (es *execState) nextFrameBase() int {
	if len(es.frames) == 0 {
		return 0
	}
	top := es.frames[len(es.frames)-1]
	return top.RegBase + top.Proto.FrameSize()
}

// pushClosureFrame pushes a new frame to run closure with args, honoring a
// bound-method receiver (BoundSelf) and the lenient truncate-or-pad-with-nil
// parameter count rule (§4.5 Call).
func (vm *VM) pushClosureFrame(es *execState, closure *heap.ClosureObj, args []value.Value, returnReg uint8, isConstructor bool, ctorSelf value.Value) error {
	if len(es.frames) >= vm.Config.CallDepthLimit {
		return vm.raiseErr(es, diag.StackOverflow, "call stack exceeded depth %d", vm.Config.CallDepthLimit)
	}
	proto := closure.Proto
	vm.ensureProtoTables(proto)

	base := es.nextFrameBase()
	size := proto.FrameSize()
	es.ensureRegisters(base + size)
	regs := es.registers[base : base+size]

	offset := 0
	if !closure.BoundSelf.IsNil() {
		regs[0] = closure.BoundSelf
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

	f := &Frame{
		Proto:           proto,
		Closure:         closure,
		RegBase:         base,
		ReturnReg:       returnReg,
		IsConstructor:   isConstructor,
		ConstructorSelf: ctorSelf,
	}
	es.frames = append(es.frames, f)
	vm.Profiler.EnterCall(es.taskID, proto.Name)
	return nil
}

// popFrame pops es's top frame, depositing its return value (or, for a
// constructor frame, the instance under construction) into the caller's
// return register. done is true once the frame stack empties, meaning this
// thread of control has finished; result is only meaningful when done.
func (vm *VM) popFrame(es *execState, retVal value.Value) (done bool, result value.Value) {
	top := es.frames[len(es.frames)-1]
	es.frames = es.frames[:len(es.frames)-1]
	vm.Profiler.ExitCall(es.taskID)

	out := retVal
	if top.IsConstructor {
		out = top.ConstructorSelf
	}
	if len(es.frames) == 0 {
		return true, out
	}
	caller := es.frames[len(es.frames)-1]
	es.registers[caller.RegBase+int(top.ReturnReg)] = out
	return false, value.Nil()
}
