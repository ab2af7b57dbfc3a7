package vm

import (
	"fmt"
	"strconv"

	"github.com/pro-grammer-SD/axiom-sub000/internal/heap"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

// defaultNatives builds the supplemental stdlib every VM starts with (§6
// native ABI), grounded on the teacher's RegisterStdlib: a handful of
// small, fixed-arity functions bound into globals by name. Per the native
// ABI's scope limitation (DESIGN.md), none of these allocate on vm.Heap —
// `push` mutates a ListObj's own Elems slice in place rather than producing
// a new collection, so a NativeFunc never needs a RootProvider of its own.
func defaultNatives(vm *VM) map[string]nativeDef {
	return map[string]nativeDef{
		"len":   {arity: 1, fn: vm.nativeLen},
		"type":  {arity: 1, fn: vm.nativeType},
		"str":   {arity: 1, fn: vm.nativeStr},
		"int":   {arity: 1, fn: vm.nativeInt},
		"float": {arity: 1, fn: vm.nativeFloat},
		"push":  {arity: 2, fn: vm.nativePush},
	}
}

// nativeLen mirrors the teacher's "len expects string or array" builtin,
// widened to accept a map too (item count).
func (vm *VM) nativeLen(args []value.Value) (value.Value, error) {
	v := args[0]
	if v.IsString() {
		return value.Int(int64(len(vm.Interner.Lookup(v.AsStringID())))), nil
	}
	if v.IsHandle() {
		switch o := vm.Heap.Resolve(v.AsHandle()).(type) {
		case *heap.ListObj:
			return value.Int(int64(len(o.Elems))), nil
		case *heap.MapObj:
			return value.Int(int64(len(o.Items))), nil
		}
	}
	return value.Nil(), fmt.Errorf("len expects a string, list, or map, got %s", vm.typeName(v))
}

func (vm *VM) nativeType(args []value.Value) (value.Value, error) {
	name := vm.typeName(args[0])
	return value.InternedString(vm.Interner.Intern(name)), nil
}

func (vm *VM) nativeStr(args []value.Value) (value.Value, error) {
	return value.InternedString(vm.Interner.Intern(vm.display(args[0]))), nil
}

func (vm *VM) nativeInt(args []value.Value) (value.Value, error) {
	v := args[0]
	switch {
	case v.IsInt():
		return v, nil
	case v.IsFloat():
		return value.Int(int64(v.AsFloat())), nil
	case v.IsString():
		n, err := strconv.ParseInt(vm.Interner.Lookup(v.AsStringID()), 10, 64)
		if err != nil {
			return value.Nil(), fmt.Errorf("int: cannot parse %q", vm.Interner.Lookup(v.AsStringID()))
		}
		return value.Int(n), nil
	default:
		return value.Nil(), fmt.Errorf("int expects a number or string, got %s", vm.typeName(v))
	}
}

func (vm *VM) nativeFloat(args []value.Value) (value.Value, error) {
	v := args[0]
	switch {
	case v.IsFloat():
		return v, nil
	case v.IsInt():
		return value.Float(float64(v.AsInt())), nil
	case v.IsString():
		f, err := strconv.ParseFloat(vm.Interner.Lookup(v.AsStringID()), 64)
		if err != nil {
			return value.Nil(), fmt.Errorf("float: cannot parse %q", vm.Interner.Lookup(v.AsStringID()))
		}
		return value.Float(f), nil
	default:
		return value.Nil(), fmt.Errorf("float expects a number or string, got %s", vm.typeName(v))
	}
}

// nativePush appends args[1] to the list args[0] in place and returns the
// list, so `push(xs, v)` composes the same way ListPush's superinstruction
// does for a compiler-known local.
func (vm *VM) nativePush(args []value.Value) (value.Value, error) {
	list := args[0]
	if !list.IsHandle() {
		return value.Nil(), fmt.Errorf("push expects a list, got %s", vm.typeName(list))
	}
	l, ok := vm.Heap.Resolve(list.AsHandle()).(*heap.ListObj)
	if !ok {
		return value.Nil(), fmt.Errorf("push expects a list, got %s", vm.typeName(list))
	}
	l.Elems = append(l.Elems, args[1])
	vm.Heap.WriteBarrier(l, args[1])
	return list, nil
}
