// Package heap implements the generational garbage collector from §4.7: a
// bump-allocated young generation collected by semi-space copying, and a
// list-based old generation collected by mark-sweep, connected by a
// remembered-set write barrier.
//
// Go's own runtime already garbage-collects every object this package
// allocates — what this package adds on top is the *language's* GC
// discipline: generational promotion, stop-the-world minor/major cycles
// triggered by the VM's own size budgets, and the address-reassignment
// behavior (§8.1 invariant 6: "copies may change addresses, but semantic
// reachability is preserved") that a real mobile collector exhibits. A
// survivor isn't physically relocated in memory (Go gives no safe way to do
// that); instead its (generation, slot) handle is reassigned and every
// value.Value that referenced the old handle is rewritten to the new one,
// which is observably identical to true forwarding-pointer relocation.
package heap

import "github.com/pro-grammer-SD/axiom-sub000/internal/value"

// Config holds the tunables from §4.7's defaults, read once at VM
// construction from the §6 configuration table (see package config).
type Config struct {
	NurseryBytes     int // default 2 MiB
	PromotionAge     uint8 // default 2 surviving minor cycles
	OldGenBytesLimit int // default 16 MiB
}

func DefaultConfig() Config {
	return Config{
		NurseryBytes:     2 << 20,
		PromotionAge:     2,
		OldGenBytesLimit: 16 << 20,
	}
}

// RootProvider is implemented by the VM (and by tests) to expose every live
// Value slot the collector must treat as a root: frame registers, upvalue
// vectors, return-value slots, globals, and goroutine task inboxes (§4.7
// root set). The returned pointers are mutated in place by the collector.
type RootProvider interface {
	Roots() []*value.Value
}

// Heap owns both generations and the remembered set.
type Heap struct {
	cfg Config

	young      []Object
	youngBytes int

	old      []Object
	oldFree  []uint32
	oldBytes int

	// remembered holds old-generation objects that have written a pointer
	// into the young generation since the last minor collection, so those
	// writes are rooted without rescanning the whole old generation
	// (§4.7 write barrier).
	remembered map[Object]struct{}

	Stats Stats
}

// Stats accumulates lifetime collector counters. The profiler does not read
// them; they are exposed as the Heap.Stats field.
type Stats struct {
	MinorCycles    int
	MajorCycles    int
	BytesAllocated int64
	ObjectsAlive   int
	Promotions     int64
}

func New(cfg Config) *Heap {
	return &Heap{
		cfg:        cfg,
		remembered: make(map[Object]struct{}),
	}
}

// --- Allocation ---

// alloc runs a minor collection if the nursery is full, then invokes build
// to construct the new object. build runs *after* the GC safepoint so any
// register/upvalue values it reads (to populate the new object's fields)
// are already fixed up to their post-collection handles.
func (h *Heap) alloc(build func() Object, roots RootProvider) value.Value {
	if h.youngBytes >= h.cfg.NurseryBytes {
		h.MinorGC(roots)
	}
	obj := build()
	size := obj.approxSize()
	idx := uint32(len(h.young))
	h.young = append(h.young, obj)
	h.youngBytes += size
	h.Stats.BytesAllocated += int64(size)
	h.Stats.ObjectsAlive++

	if h.oldBytes >= h.cfg.OldGenBytesLimit {
		h.MajorGC(roots)
	}
	return value.FromHandle(value.Handle{Old: false, Slot: idx})
}

func (h *Heap) NewList(roots RootProvider, build func() []value.Value) value.Value {
	return h.alloc(func() Object {
		return &ListObj{Header: Header{Kind: KindList}, Elems: build()}
	}, roots)
}

func (h *Heap) NewMap(roots RootProvider, build func() map[string]value.Value) value.Value {
	return h.alloc(func() Object {
		items := build()
		if items == nil {
			items = map[string]value.Value{}
		}
		return &MapObj{Header: Header{Kind: KindMap}, Items: items}
	}, roots)
}

func (h *Heap) NewClosure(roots RootProvider, build func() *ClosureObj) value.Value {
	return h.alloc(func() Object {
		c := build()
		c.Kind = KindClosure
		return c
	}, roots)
}

func (h *Heap) NewInstance(roots RootProvider, build func() *InstanceObj) value.Value {
	return h.alloc(func() Object {
		o := build()
		o.Kind = KindInstance
		return o
	}, roots)
}

func (h *Heap) NewClass(roots RootProvider, build func() *ClassObj) value.Value {
	return h.alloc(func() Object {
		c := build()
		c.Kind = KindClass
		return c
	}, roots)
}

func (h *Heap) NewNative(roots RootProvider, name string, arity int, fn NativeFunc) value.Value {
	return h.alloc(func() Object {
		return &NativeObj{Header: Header{Kind: KindNative}, Name: name, Arity: arity, Fn: fn}
	}, roots)
}

// Resolve dereferences a handle to its current object. Callers must only
// hold handles read fresh from a root (register, upvalue, global, or a
// field of another live object) since a collection can reassign them.
func (h *Heap) Resolve(hv value.Handle) Object {
	if hv.Old {
		return h.old[hv.Slot]
	}
	return h.young[hv.Slot]
}

// KindOf reports the object kind behind a handle, used by TypeName and by
// diagnostics that don't want to import the full Object interface.
func (h *Heap) KindOf(hv value.Handle) Kind {
	return h.Resolve(hv).header().Kind
}

// WriteBarrier must be called whenever a field of owner is mutated to hold
// newVal. If owner lives in the old generation and newVal points into the
// young generation, owner is recorded in the remembered set so the next
// minor collection treats it as a root (§4.7).
func (h *Heap) WriteBarrier(owner Object, newVal value.Value) {
	if !owner.header().Old || !newVal.IsHandle() {
		return
	}
	if newVal.AsHandle().Old {
		return
	}
	h.remembered[owner] = struct{}{}
}

// --- Minor collection: semi-space copy of the nursery ---

func (h *Heap) MinorGC(roots RootProvider) {
	h.Stats.MinorCycles++

	newYoung := make([]Object, 0, len(h.young)/2+1)
	newYoungBytes := 0
	resolved := make(map[Object]value.Handle, len(h.young))
	var queue []Object

	promote := func(o Object) value.Handle {
		if hv, ok := resolved[o]; ok {
			return hv
		}
		hdr := o.header()
		hdr.Age++
		var hv value.Handle
		if hdr.Age >= h.cfg.PromotionAge {
			hdr.Old = true
			hv = value.Handle{Old: true, Slot: h.oldAlloc(o)}
			h.oldBytes += o.approxSize()
			h.Stats.Promotions++
		} else {
			hv = value.Handle{Old: false, Slot: uint32(len(newYoung))}
			newYoung = append(newYoung, o)
			newYoungBytes += o.approxSize()
		}
		resolved[o] = hv
		queue = append(queue, o)
		return hv
	}

	fix := func(v *value.Value) {
		if !v.IsHandle() {
			return
		}
		hv := v.AsHandle()
		if hv.Old {
			return // already tenured; minor GC doesn't trace the old gen
		}
		obj := h.young[hv.Slot]
		*v = value.FromHandle(promote(obj))
	}

	for _, r := range roots.Roots() {
		fix(r)
	}
	for obj := range h.remembered {
		obj.walkRefs(fix)
	}
	for i := 0; i < len(queue); i++ {
		queue[i].walkRefs(fix)
	}

	h.young = newYoung
	h.youngBytes = newYoungBytes
	h.remembered = make(map[Object]struct{})
}

// --- Major collection: mark-sweep over the old generation ---

func (h *Heap) oldAlloc(o Object) uint32 {
	if n := len(h.oldFree); n > 0 {
		idx := h.oldFree[n-1]
		h.oldFree = h.oldFree[:n-1]
		h.old[idx] = o
		return idx
	}
	idx := uint32(len(h.old))
	h.old = append(h.old, o)
	return idx
}

func (h *Heap) MajorGC(roots RootProvider) {
	h.Stats.MajorCycles++

	visited := make(map[Object]struct{})
	var mark func(Object)
	mark = func(o Object) {
		if _, ok := visited[o]; ok {
			return
		}
		visited[o] = struct{}{}
		o.header().Marked = true
		o.walkRefs(func(v *value.Value) {
			if !v.IsHandle() {
				return
			}
			hv := v.AsHandle()
			if hv.Old {
				if hv.Slot < uint32(len(h.old)) && h.old[hv.Slot] != nil {
					mark(h.old[hv.Slot])
				}
			} else if hv.Slot < uint32(len(h.young)) {
				mark(h.young[hv.Slot])
			}
		})
	}

	for _, r := range roots.Roots() {
		if !r.IsHandle() {
			continue
		}
		hv := r.AsHandle()
		if hv.Old {
			if hv.Slot < uint32(len(h.old)) && h.old[hv.Slot] != nil {
				mark(h.old[hv.Slot])
			}
		} else if hv.Slot < uint32(len(h.young)) {
			mark(h.young[hv.Slot])
		}
	}
	// Objects still only reachable via the remembered set (old->young
	// writes not yet observed by a minor GC) must survive too.
	for obj := range h.remembered {
		mark(obj)
	}

	newOldBytes := 0
	for i, o := range h.old {
		if o == nil {
			continue
		}
		if o.header().Marked {
			o.header().Marked = false
			newOldBytes += o.approxSize()
		} else {
			h.old[i] = nil
			h.oldFree = append(h.oldFree, uint32(i))
		}
	}
	h.oldBytes = newOldBytes
}

// SliceRoots is a convenience RootProvider for a flat slice of Values, used by
// tests and by any caller with no frame machinery of its own.
type SliceRoots []*value.Value

func (s SliceRoots) Roots() []*value.Value { return s }
