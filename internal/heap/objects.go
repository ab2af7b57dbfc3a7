package heap

import (
	"unsafe"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/shape"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

// Kind tags the four heap-allocated value kinds from §3.1: list, map,
// function (represented here as a closure, since a bare Prototype has no
// per-call identity), and instance. Class descriptors are also heap objects
// so NewObj can reference one by Value the same way globals do.
type Kind uint8

const (
	KindList Kind = iota
	KindMap
	KindClosure
	KindInstance
	KindClass
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindClosure:
		return "function"
	case KindInstance:
		return "instance"
	case KindClass:
		return "class"
	case KindNative:
		return "native function"
	default:
		return "object"
	}
}

// Header is the logical per-object metadata every heap object carries:
// conceptually the spec's "16-byte header" (kind, generational age, mark
// bit, object-kind tag) — Go structs aren't byte-packed, but the fields are
// exactly the ones §4.7 requires, with a forwarding address expressed as a
// slot reassignment (see heap.go) rather than a raw pointer rewrite.
type Header struct {
	Kind   Kind
	Age    uint8
	Old    bool
	Marked bool
}

func (h *Header) header() *Header { return h }

// Object is anything the heap can allocate, move, and trace. Concrete types
// are always pointers so identity-keyed maps (the GC's forwarding table)
// work without a side index.
type Object interface {
	header() *Header
	// walkRefs invokes fn on every Value field that might hold a heap
	// handle, allowing the GC to rewrite it in place when the referent
	// moves. fn may be called on fields that turn out not to be handles;
	// implementations don't need to pre-filter.
	walkRefs(fn func(*value.Value))
	approxSize() int
}

// ListObj backs the language's list value.
type ListObj struct {
	Header
	Elems []value.Value
}

func (o *ListObj) walkRefs(fn func(*value.Value)) {
	for i := range o.Elems {
		fn(&o.Elems[i])
	}
}

func (o *ListObj) approxSize() int {
	return int(unsafe.Sizeof(*o)) + len(o.Elems)*int(unsafe.Sizeof(value.Value(0)))
}

// MapObj backs the language's map value. Keys are plain strings (property
// names and map keys share the same representation); absent-key reads
// return nil per §8.3, enforced by the VM rather than here.
type MapObj struct {
	Header
	Items map[string]value.Value
}

func (o *MapObj) walkRefs(fn func(*value.Value)) {
	for k, v := range o.Items {
		nv := v
		fn(&nv)
		if nv != v {
			o.Items[k] = nv
		}
	}
}

func (o *MapObj) approxSize() int {
	return int(unsafe.Sizeof(*o)) + len(o.Items)*48
}

// ClosureObj binds a shared Prototype to upvalues captured by value at
// closure-creation time (§3.4): Upvals holds a snapshot, not a pointer back
// into the enclosing frame, so later writes to the outer scope are not
// observed. Implementers wanting true closed-over mutable bindings would
// replace Upvals's element type with a boxed cell.
type ClosureObj struct {
	Header
	Proto  *bytecode.Prototype
	Upvals []value.Value

	// BoundSelf is set for a method closure handed back by GetMethod/Super:
	// the receiver is baked into the closure itself rather than passed as
	// an ordinary call argument, since the method's shared Prototype is
	// one object reused across every instance of the class. Nil-valued
	// (value.Nil()) for a plain function closure.
	BoundSelf value.Value
}

func (o *ClosureObj) walkRefs(fn func(*value.Value)) {
	for i := range o.Upvals {
		fn(&o.Upvals[i])
	}
	fn(&o.BoundSelf)
}

func (o *ClosureObj) approxSize() int {
	return int(unsafe.Sizeof(*o)) + len(o.Upvals)*int(unsafe.Sizeof(value.Value(0)))
}

// ClassObj is a class descriptor: method table, optional constructor, and
// an optional parent for single inheritance (§SPEC_FULL supplemental).
type ClassObj struct {
	Header
	Name        string
	Fields      []FieldDefault
	Methods     map[string]value.Value // closures
	Constructor value.Value            // nil-valued if absent
	Parent      value.Value            // nil-valued if no superclass
	ShapeID     shape.ID               // shape new instances start at
}

// FieldDefault is one declared instance field and its default-value
// expression result, evaluated once at class-declaration time.
type FieldDefault struct {
	Name    string
	Default value.Value
}

func (o *ClassObj) walkRefs(fn func(*value.Value)) {
	for i := range o.Fields {
		fn(&o.Fields[i].Default)
	}
	for k, v := range o.Methods {
		nv := v
		fn(&nv)
		if nv != v {
			o.Methods[k] = nv
		}
	}
	fn(&o.Constructor)
	fn(&o.Parent)
}

func (o *ClassObj) approxSize() int {
	return int(unsafe.Sizeof(*o)) + len(o.Fields)*32 + len(o.Methods)*48
}

// InstanceObj owns a shape reference and a dense slot array (§3.6): field
// read/write at a cached slot is O(1) array indexing.
type InstanceObj struct {
	Header
	ShapeID shape.ID
	Class   value.Value
	Slots   []value.Value
}

func (o *InstanceObj) walkRefs(fn func(*value.Value)) {
	fn(&o.Class)
	for i := range o.Slots {
		fn(&o.Slots[i])
	}
}

func (o *InstanceObj) approxSize() int {
	return int(unsafe.Sizeof(*o)) + len(o.Slots)*int(unsafe.Sizeof(value.Value(0)))
}

// NativeFunc is a host-provided callable, invoked through the same Call
// opcode as a compiled closure (§6 native function ABI: "a vector of
// values in, a single value out").
type NativeFunc func(args []value.Value) (value.Value, error)

// NativeObj wraps a NativeFunc as a heap value so it can sit in a register
// or a global slot alongside every other callable. It carries no
// sub-values of its own, so it has nothing for the GC to trace.
type NativeObj struct {
	Header
	Name string
	Fn   NativeFunc
	// Arity is the fixed argument count the ABI requires; -1 means
	// variadic (any argument count is accepted). A strict-arity native
	// called with the wrong count raises ArityMismatch (§7), unlike a
	// compiled call's lenient truncate-or-pad-with-nil behavior.
	Arity int
}

func (o *NativeObj) walkRefs(fn func(*value.Value)) {}

func (o *NativeObj) approxSize() int { return int(unsafe.Sizeof(*o)) }
