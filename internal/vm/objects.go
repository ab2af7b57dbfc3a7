package vm

import (
	"sort"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/diag"
	"github.com/pro-grammer-SD/axiom-sub000/internal/heap"
	"github.com/pro-grammer-SD/axiom-sub000/internal/ic"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

// getProp resolves objVal.name through the site's inline cache, falling
// back to a shape-table lookup on a miss (§4.4 GetProp). Enums compile down
// to plain maps (VisitEnumDecl), so a map receiver is accepted here too,
// read by key rather than by cached slot.
func (vm *VM) getProp(es *execState, proto *bytecode.Prototype, pc int, objVal value.Value, name string) (value.Value, error) {
	if !objVal.IsHandle() {
		return value.Nil(), vm.raiseErr(es, diag.TypeMismatch, "cannot read property %q of %s", name, vm.typeName(objVal))
	}
	obj := vm.Heap.Resolve(objVal.AsHandle())
	if m, ok := obj.(*heap.MapObj); ok {
		if v, ok := m.Items[name]; ok {
			return v, nil
		}
		return value.Nil(), nil
	}
	inst, ok := obj.(*heap.InstanceObj)
	if !ok {
		return value.Nil(), vm.raiseErr(es, diag.TypeMismatch, "cannot read property %q of %s", name, vm.typeName(objVal))
	}
	slot := &proto.ICs[pc]
	if vm.Config.Passes.InlineCache {
		if entry, ok := ic.LookupProp(slot, inst.ShapeID); ok {
			return inst.Slots[entry.Slot], nil
		}
	}
	sh := vm.Shapes.Lookup(inst.ShapeID)
	if sh != nil {
		if slotIdx, ok := sh.Slot(name); ok {
			if vm.Config.Passes.InlineCache && vm.Config.Passes.ShapeOptimization {
				ic.ObserveProp(slot, inst.ShapeID, slotIdx, false)
			}
			return inst.Slots[slotIdx], nil
		}
	}
	return value.Nil(), nil
}

// setProp writes objVal.name = val, transitioning the instance's shape if
// name is a field it hasn't declared before (§3.5/§3.6). Assigning an
// already-declared field never transitions the shape (shape.Table.With is
// idempotent for a known name), so repeated writes stay on the fast path.
func (vm *VM) setProp(es *execState, proto *bytecode.Prototype, pc int, objVal, val value.Value, name string) error {
	if !objVal.IsHandle() {
		return vm.raiseErr(es, diag.TypeMismatch, "cannot set property %q of %s", name, vm.typeName(objVal))
	}
	obj := vm.Heap.Resolve(objVal.AsHandle())
	switch o := obj.(type) {
	case *heap.MapObj:
		o.Items[name] = val
		vm.Heap.WriteBarrier(o, val)
		return nil
	case *heap.InstanceObj:
		sh := vm.Shapes.Lookup(o.ShapeID)
		if sh != nil {
			if slotIdx, ok := sh.Slot(name); ok {
				o.Slots[slotIdx] = val
				vm.Heap.WriteBarrier(o, val)
				if vm.Config.Passes.InlineCache && vm.Config.Passes.ShapeOptimization {
					ic.ObserveProp(&proto.ICs[pc], o.ShapeID, slotIdx, false)
				}
				return nil
			}
		}
		next := vm.Shapes.With(sh, name)
		o.Slots = append(o.Slots, val)
		o.ShapeID = next.ID()
		vm.Heap.WriteBarrier(o, val)
		if vm.Config.Passes.InlineCache && vm.Config.Passes.ShapeOptimization {
			ic.ObserveProp(&proto.ICs[pc], o.ShapeID, len(o.Slots)-1, false)
		}
		return nil
	default:
		return vm.raiseErr(es, diag.TypeMismatch, "cannot set property %q of %s", name, vm.typeName(objVal))
	}
}

// resolveMethod walks a class's parent chain looking for name, used by both
// GetMethod (starting at the receiver's own class) and Super (starting one
// level up).
func (vm *VM) resolveMethod(classVal value.Value, name string) (value.Value, bool) {
	for classVal.IsHandle() {
		cls, ok := vm.Heap.Resolve(classVal.AsHandle()).(*heap.ClassObj)
		if !ok {
			return value.Nil(), false
		}
		if m, ok := cls.Methods[name]; ok {
			return m, true
		}
		classVal = cls.Parent
	}
	return value.Nil(), false
}

// bindClosure wraps methodVal's underlying closure with self baked in as
// BoundSelf, the mechanism every bound-method value in this VM uses (§3.6).
func (vm *VM) bindClosure(es *execState, methodVal, self value.Value) (value.Value, error) {
	if !methodVal.IsHandle() {
		return value.Nil(), vm.raiseErr(es, diag.Generic, "method target is not callable")
	}
	closure, ok := vm.Heap.Resolve(methodVal.AsHandle()).(*heap.ClosureObj)
	if !ok {
		return value.Nil(), vm.raiseErr(es, diag.Generic, "method target is not callable")
	}
	return vm.Heap.NewClosure(es, func() *heap.ClosureObj {
		return &heap.ClosureObj{Proto: closure.Proto, Upvals: closure.Upvals, BoundSelf: self}
	}), nil
}

// getMethod resolves recv.name to a bound method, consulting the strictly
// monomorphic call IC before falling back to the class method table
// (§4.4 ObserveCall/LookupCall).
func (vm *VM) getMethod(es *execState, proto *bytecode.Prototype, pc int, recv value.Value, name string) (value.Value, error) {
	inst, err := vm.instanceOf(es, recv, name)
	if err != nil {
		return value.Nil(), err
	}
	slot := &proto.ICs[pc]
	if vm.Config.Passes.CallIC {
		if target, ok := ic.LookupCall(slot, inst.ShapeID); ok {
			return vm.bindClosure(es, target, recv)
		}
	}
	method, ok := vm.resolveMethod(inst.Class, name)
	if !ok {
		return value.Nil(), vm.raiseErr(es, diag.PropertyError, "no method %q on %s", name, vm.className(inst))
	}
	if vm.Config.Passes.CallIC {
		ic.ObserveCall(slot, inst.ShapeID, method)
	}
	return vm.bindClosure(es, method, recv)
}

// super resolves recv's class's *parent*'s method named name, the `super.x`
// idiom's single runtime primitive (§6 OpSuper).
func (vm *VM) super(es *execState, recv value.Value, name string) (value.Value, error) {
	inst, err := vm.instanceOf(es, recv, name)
	if err != nil {
		return value.Nil(), err
	}
	cls, ok := vm.Heap.Resolve(inst.Class.AsHandle()).(*heap.ClassObj)
	if !ok {
		return value.Nil(), vm.raiseErr(es, diag.Generic, "receiver has no class")
	}
	method, ok := vm.resolveMethod(cls.Parent, name)
	if !ok {
		return value.Nil(), vm.raiseErr(es, diag.PropertyError, "no super method %q for %s", name, vm.className(inst))
	}
	return vm.bindClosure(es, method, recv)
}

func (vm *VM) instanceOf(es *execState, recv value.Value, methodName string) (*heap.InstanceObj, error) {
	if !recv.IsHandle() {
		return nil, vm.raiseErr(es, diag.TypeMismatch, "cannot call method %q on %s", methodName, vm.typeName(recv))
	}
	inst, ok := vm.Heap.Resolve(recv.AsHandle()).(*heap.InstanceObj)
	if !ok {
		return nil, vm.raiseErr(es, diag.TypeMismatch, "cannot call method %q on %s", methodName, vm.typeName(recv))
	}
	return inst, nil
}

// newInstance allocates an instance of class with its declared fields'
// defaults, returning it alongside the constructor closure (nil-valued if
// the class declares no `new`). Single inheritance only wires method
// resolution through the parent chain; it does not merge a parent's field
// declarations into a subclass's slot layout, matching how OpMakeClass
// builds ClassTemplate.Fields from only the class's own declaration
// (DESIGN.md).
func (vm *VM) newInstance(es *execState, classVal value.Value) (value.Value, value.Value, error) {
	cls, ok := vm.Heap.Resolve(classVal.AsHandle()).(*heap.ClassObj)
	if !ok {
		return value.Nil(), value.Nil(), vm.raiseErr(es, diag.NotCallable, "cannot instantiate non-class value of type %s", vm.typeName(classVal))
	}
	slots := make([]value.Value, len(cls.Fields))
	for i, f := range cls.Fields {
		slots[i] = f.Default
	}
	inst := vm.Heap.NewInstance(es, func() *heap.InstanceObj {
		return &heap.InstanceObj{ShapeID: cls.ShapeID, Class: classVal, Slots: slots}
	})
	return inst, cls.Constructor, nil
}

// makeClass materializes a ClassTemplate into a live ClassObj: a method
// table of fresh, unbound closures (BoundSelf nil), a shape built by transitioning the root
// shape through every declared field in order, and a constructor reference
// if the class declares `new` (§6 OpMakeClass).
func (vm *VM) makeClass(es *execState, proto *bytecode.Prototype, tmpl *bytecode.ClassTemplate) value.Value {
	sh := vm.Shapes.Root()
	fields := make([]heap.FieldDefault, len(tmpl.Fields))
	for i, f := range tmpl.Fields {
		fields[i] = heap.FieldDefault{Name: f.Name, Default: f.Default}
		sh = vm.Shapes.With(sh, f.Name)
	}
	methods := make(map[string]value.Value, len(tmpl.MethodNested))
	for name, nestedIdx := range tmpl.MethodNested {
		mProto := proto.Nested[nestedIdx]
		methods[name] = vm.Heap.NewClosure(es, func() *heap.ClosureObj {
			return &heap.ClosureObj{Proto: mProto, BoundSelf: value.Nil()}
		})
	}
	ctor := value.Nil()
	if m, ok := methods["new"]; ok {
		ctor = m
	}
	shapeID := sh.ID()
	return vm.Heap.NewClass(es, func() *heap.ClassObj {
		return &heap.ClassObj{
			Name:        tmpl.Name,
			Fields:      fields,
			Methods:     methods,
			Constructor: ctor,
			Parent:      value.Nil(),
			ShapeID:     shapeID,
		}
	})
}

// setParent wires classVal.Parent = parentVal for OpInherit, single
// inheritance's only runtime effect: it does not merge parentVal's fields
// into classVal's shape (DESIGN.md), only its method-resolution chain
// (resolveMethod/super walk Parent).
func (vm *VM) setParent(es *execState, classVal, parentVal value.Value) error {
	if !classVal.IsHandle() {
		return vm.raiseErr(es, diag.TypeMismatch, "cannot set parent of non-class value")
	}
	cls, ok := vm.Heap.Resolve(classVal.AsHandle()).(*heap.ClassObj)
	if !ok {
		return vm.raiseErr(es, diag.TypeMismatch, "cannot set parent of non-class value")
	}
	if !parentVal.IsHandle() {
		return vm.raiseErr(es, diag.TypeMismatch, "cannot inherit from a non-class value")
	}
	if _, ok := vm.Heap.Resolve(parentVal.AsHandle()).(*heap.ClassObj); !ok {
		return vm.raiseErr(es, diag.TypeMismatch, "cannot inherit from a non-class value")
	}
	cls.Parent = parentVal
	vm.Heap.WriteBarrier(cls, parentVal)
	return nil
}

// --- Collections ---

func (vm *VM) listObj(es *execState, v value.Value) (*heap.ListObj, error) {
	if v.IsHandle() {
		if l, ok := vm.Heap.Resolve(v.AsHandle()).(*heap.ListObj); ok {
			return l, nil
		}
	}
	return nil, vm.raiseErr(es, diag.TypeMismatch, "expected a list, got %s", vm.typeName(v))
}

func (vm *VM) getIndex(es *execState, coll, key value.Value) (value.Value, error) {
	if !coll.IsHandle() {
		return value.Nil(), vm.raiseErr(es, diag.TypeMismatch, "cannot index into %s", vm.typeName(coll))
	}
	switch o := vm.Heap.Resolve(coll.AsHandle()).(type) {
	case *heap.ListObj:
		idx, err := vm.listIndex(es, o, key)
		if err != nil {
			return value.Nil(), err
		}
		return o.Elems[idx], nil
	case *heap.MapObj:
		if v, ok := o.Items[vm.keyString(key)]; ok {
			return v, nil
		}
		return value.Nil(), nil
	default:
		return value.Nil(), vm.raiseErr(es, diag.TypeMismatch, "cannot index into %s", vm.typeName(coll))
	}
}

func (vm *VM) setIndex(es *execState, coll, key, val value.Value) error {
	if !coll.IsHandle() {
		return vm.raiseErr(es, diag.TypeMismatch, "cannot index into %s", vm.typeName(coll))
	}
	switch o := vm.Heap.Resolve(coll.AsHandle()).(type) {
	case *heap.ListObj:
		idx, err := vm.listIndex(es, o, key)
		if err != nil {
			return err
		}
		o.Elems[idx] = val
		vm.Heap.WriteBarrier(o, val)
		return nil
	case *heap.MapObj:
		k := vm.keyString(key)
		o.Items[k] = val
		vm.Heap.WriteBarrier(o, val)
		return nil
	default:
		return vm.raiseErr(es, diag.TypeMismatch, "cannot index into %s", vm.typeName(coll))
	}
}

func (vm *VM) listIndex(es *execState, l *heap.ListObj, key value.Value) (int, error) {
	if !key.IsInt() {
		return 0, vm.raiseErr(es, diag.TypeMismatch, "list index must be an int, got %s", vm.typeName(key))
	}
	n := key.AsInt()
	idx := int(n)
	if idx < 0 {
		idx += len(l.Elems)
	}
	if idx < 0 || idx >= len(l.Elems) {
		return 0, vm.raiseErr(es, diag.IndexOutOfBounds, "list index %d out of bounds for length %d", n, len(l.Elems))
	}
	return idx, nil
}

// --- Iteration ---

func (vm *VM) iterInit(es *execState, coll value.Value) (*iterState, error) {
	if !coll.IsHandle() {
		return nil, vm.raiseErr(es, diag.TypeMismatch, "cannot iterate over %s", vm.typeName(coll))
	}
	switch o := vm.Heap.Resolve(coll.AsHandle()).(type) {
	case *heap.ListObj:
		return &iterState{coll: coll}, nil
	case *heap.MapObj:
		keys := make([]string, 0, len(o.Items))
		for k := range o.Items {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return &iterState{coll: coll, keys: keys}, nil
	default:
		return nil, vm.raiseErr(es, diag.TypeMismatch, "cannot iterate over %s", vm.typeName(coll))
	}
}

// iterAdvance resolves the collection fresh from the handle on every call
// rather than caching the *heap.ListObj/*heap.MapObj pointer, since a minor
// GC between iterations can relocate it.
func (vm *VM) iterAdvance(st *iterState) (value.Value, bool) {
	obj := vm.Heap.Resolve(st.coll.AsHandle())
	if st.keys != nil {
		m := obj.(*heap.MapObj)
		if st.index >= len(st.keys) {
			return value.Nil(), false
		}
		k := st.keys[st.index]
		st.index++
		return m.Items[k], true
	}
	l := obj.(*heap.ListObj)
	if st.index >= len(l.Elems) {
		return value.Nil(), false
	}
	v := l.Elems[st.index]
	st.index++
	return v, true
}
