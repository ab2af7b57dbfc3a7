// Package vm implements the §4.5 dispatch loop: the register machine that
// executes a compiled, optimized Prototype against the shared heap, shape
// table, intern table, and inline-cache state every other package in this
// module produces or consults.
//
// Grounded on the teacher's internal/vm.VM, generalized from its stack
// machine to the register machine §4 specifies, and widened with the
// cooperative task scheduler (package task) the teacher's VM has no
// equivalent of.
package vm

import (
	"context"
	"io"
	"os"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/config"
	"github.com/pro-grammer-SD/axiom-sub000/internal/diag"
	"github.com/pro-grammer-SD/axiom-sub000/internal/heap"
	"github.com/pro-grammer-SD/axiom-sub000/internal/intern"
	"github.com/pro-grammer-SD/axiom-sub000/internal/profiler"
	"github.com/pro-grammer-SD/axiom-sub000/internal/shape"
	"github.com/pro-grammer-SD/axiom-sub000/internal/task"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

// maxConcurrentTasks bounds how many `go`-spawned tasks hold a scheduler
// semaphore slot at once (§5); each spawn still gets its own goroutine,
// and the ones beyond the bound wait for a slot.
const maxConcurrentTasks = 64

// nativeDef is one registered native callable, bound into a compiled
// program's globals by name after compilation (§6 native ABI).
type nativeDef struct {
	arity int
	fn    heap.NativeFunc
}

// VM owns every piece of shared state one compiled program's execution (and
// every task it spawns) runs against.
type VM struct {
	Heap     *heap.Heap
	Shapes   *shape.Table
	Interner *intern.Table
	Profiler *profiler.Profiler
	Tasks    *task.Scheduler
	Config   config.Config

	// Stdout is where OpPrint writes (§6 `out`). Defaults to os.Stdout;
	// tests substitute a buffer to assert on program output.
	Stdout io.Writer

	natives map[string]nativeDef
}

// New wires a fresh VM: its own heap, shape table, interner, profiler, and
// task scheduler, plus the default native function set (§6 supplemental
// stdlib).
func New(ctx context.Context, cfg config.Config) *VM {
	vm := &VM{
		Heap:     heap.New(cfg.Heap),
		Shapes:   shape.New(),
		Interner: intern.New(),
		Profiler: profiler.New(cfg.HotLoopThreshold),
		Tasks:    task.NewScheduler(ctx, maxConcurrentTasks),
		Config:   cfg,
		Stdout:   os.Stdout,
	}
	vm.natives = defaultNatives(vm)
	if cfg.Passes.ProfilingEnabled && cfg.Passes.Profiling {
		vm.Profiler.Enable()
	}
	return vm
}

// RegisterNative adds or replaces a native callable, bound into globals by
// name the next time Run compiles a program that references it. arity -1
// means variadic (§7 ArityMismatch only fires for a fixed-arity native).
func (vm *VM) RegisterNative(name string, arity int, fn heap.NativeFunc) {
	vm.natives[name] = nativeDef{arity: arity, fn: fn}
}

// Run executes proto as the top-level program: every `go`-spawned task runs
// to completion before Run returns, and the returned Value is whatever the
// top-level frame returned (or nil, if it ran off the end).
func (vm *VM) Run(proto *bytecode.Prototype) (value.Value, error) {
	vm.ensureProtoTables(proto)

	es := vm.newExecState(proto, 0)
	vm.bindNatives(es, proto)

	var result value.Value
	err := vm.Tasks.RunExclusive(func() error {
		var runErr error
		result, runErr = vm.run(es)
		return runErr
	})

	// Wait outside RunExclusive: a spawned task acquires the same lock to
	// run its own body, so holding it here would deadlock against it.
	if waitErr := vm.Tasks.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	return result, err
}

// newExecState builds a fresh thread-of-control: its own register file and
// frame stack, but a private copy of globals (every task "shares a snapshot
// of globals and classes taken at spawn time", §5).
func (vm *VM) newExecState(proto *bytecode.Prototype, taskID int64) *execState {
	es := &execState{
		taskID:      taskID,
		globals:     make([]value.Value, len(proto.GlobalNames)),
		globalSet:   make([]bool, len(proto.GlobalNames)),
		globalNames: proto.GlobalNames,
	}
	for i := range es.globals {
		es.globals[i] = value.Nil()
	}
	es.registers = make([]value.Value, proto.FrameSize())
	f := &Frame{Proto: proto, RegBase: 0}
	es.frames = append(es.frames, f)
	return es
}

// bindNatives matches every registered native against the compiled
// program's global name table and writes it into the corresponding slot,
// since the compiler assigns global ids purely by first-reference order
// with no ahead-of-time registration (§6).
func (vm *VM) bindNatives(es *execState, proto *bytecode.Prototype) {
	for idx, name := range proto.GlobalNames {
		def, ok := vm.natives[name]
		if !ok {
			continue
		}
		es.globals[idx] = vm.Heap.NewNative(es, name, def.arity, def.fn)
		es.globalSet[idx] = true
	}
}

// ensureProtoTables lazily sizes ExecCounts and ICs to len(Code): neither
// the compiler nor the optimizer populates them (§4.4/§4.6), and doing it
// once per prototype the first time a frame runs it is cheap and safe since
// the scheduler's heap lock serializes all execution that could race it.
func (vm *VM) ensureProtoTables(proto *bytecode.Prototype) {
	if len(proto.ExecCounts) < len(proto.Code) {
		grown := make([]uint64, len(proto.Code))
		copy(grown, proto.ExecCounts)
		proto.ExecCounts = grown
	}
	if len(proto.ICs) < len(proto.Code) {
		grown := make([]bytecode.CacheSlot, len(proto.Code))
		copy(grown, proto.ICs)
		proto.ICs = grown
	}
	for _, nested := range proto.Nested {
		vm.ensureProtoTables(nested)
	}
}

// typeName resolves a Value's user-facing type name, consulting the heap
// for handle kinds.
func (vm *VM) typeName(v value.Value) string {
	return v.TypeName(func(h value.Handle) string { return vm.Heap.KindOf(h).String() })
}

// raiseErr builds an AxiomError carrying es's current call stack, the way
// every runtime fault (§7) is reported.
func (vm *VM) raiseErr(es *execState, kind diag.Kind, format string, args ...any) error {
	e := diag.New(kind, format, args...)
	for i := len(es.frames) - 1; i >= 0; i-- {
		f := es.frames[i]
		line := frameLine(f)
		e.WithFrame(f.Proto.Name, line)
	}
	if len(es.frames) > 0 {
		top := es.frames[len(es.frames)-1]
		e.Span = diag.SourceSpan{Line: frameLine(top)}
	}
	return diag.Wrap(e)
}

func frameLine(f *Frame) int {
	idx := f.PC - 1
	if idx >= 0 && idx < len(f.Proto.Lines) {
		return int(f.Proto.Lines[idx])
	}
	return 0
}
