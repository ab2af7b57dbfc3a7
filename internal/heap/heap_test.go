package heap

import (
	"testing"

	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

func newTinyHeap() *Heap {
	return New(Config{NurseryBytes: 1, PromotionAge: 2, OldGenBytesLimit: 1 << 20})
}

func TestMinorGCSurvivesRootedObject(t *testing.T) {
	h := newTinyHeap()
	var root value.Value
	roots := SliceRoots{&root}

	root = h.NewList(roots, func() []value.Value {
		return []value.Value{value.Int(42)}
	})

	// Second allocation observes the nursery already "full" (NurseryBytes:1)
	// and triggers a minor collection before building the new object.
	var other value.Value
	roots2 := SliceRoots{&root, &other}
	other = h.NewList(roots2, func() []value.Value {
		return []value.Value{value.Int(7)}
	})

	if !root.IsHandle() {
		t.Fatalf("root lost its handle across minor GC")
	}
	obj := h.Resolve(root.AsHandle())
	list, ok := obj.(*ListObj)
	if !ok {
		t.Fatalf("expected ListObj, got %T", obj)
	}
	if len(list.Elems) != 1 || list.Elems[0].AsInt() != 42 {
		t.Fatalf("survivor data corrupted: %+v", list.Elems)
	}
	if h.Stats.MinorCycles == 0 {
		t.Fatalf("expected at least one minor cycle")
	}
	_ = other
}

func TestMinorGCDropsUnrootedObject(t *testing.T) {
	h := newTinyHeap()
	var root value.Value
	roots := SliceRoots{&root}

	// Allocate an object but never root it.
	h.NewList(roots, func() []value.Value {
		return []value.Value{value.Int(1)}
	})
	preLen := len(h.young)

	root = h.NewList(roots, func() []value.Value {
		return []value.Value{value.Int(2)}
	})

	if len(h.young) >= preLen+1 {
		t.Fatalf("unrooted garbage survived minor GC: young has %d objects", len(h.young))
	}
	if !root.IsHandle() {
		t.Fatalf("rooted object lost its handle")
	}
}

func TestPromotionAfterAgeThreshold(t *testing.T) {
	h := New(Config{NurseryBytes: 1, PromotionAge: 1, OldGenBytesLimit: 1 << 20})
	var root value.Value
	roots := SliceRoots{&root}

	root = h.NewMap(roots, func() map[string]value.Value {
		return map[string]value.Value{"x": value.Int(1)}
	})

	// Force one minor GC. PromotionAge of 1 means the object is tenured the
	// first time it's found still live.
	h.MinorGC(roots)

	if !root.IsHandle() {
		t.Fatalf("root lost handle")
	}
	if !root.AsHandle().Old {
		t.Fatalf("expected object to be promoted to old generation")
	}
	if h.Stats.Promotions == 0 {
		t.Fatalf("expected a recorded promotion")
	}
}

func TestMajorGCSweepsAndReusesFreelistSlot(t *testing.T) {
	h := New(Config{NurseryBytes: 1, PromotionAge: 1, OldGenBytesLimit: 1 << 20})
	var root value.Value
	roots := SliceRoots{&root}

	root = h.NewList(roots, func() []value.Value { return nil })
	h.MinorGC(roots) // promote it
	if !root.AsHandle().Old {
		t.Fatalf("setup failed: object not promoted")
	}
	freedSlot := root.AsHandle().Slot

	// Drop the only reference and collect.
	root = value.Nil()
	h.MajorGC(roots)

	if len(h.oldFree) != 1 || h.oldFree[0] != freedSlot {
		t.Fatalf("expected slot %d on freelist, got %v", freedSlot, h.oldFree)
	}
	if h.old[freedSlot] != nil {
		t.Fatalf("swept slot should be nil")
	}

	// A fresh object promoted afterward should reuse the freed slot.
	var root2 value.Value
	roots2 := SliceRoots{&root2}
	root2 = h.NewList(roots2, func() []value.Value { return nil })
	h.MinorGC(roots2)

	if !root2.AsHandle().Old || root2.AsHandle().Slot != freedSlot {
		t.Fatalf("expected freelist slot reuse, got handle %+v", root2.AsHandle())
	}
	if len(h.oldFree) != 0 {
		t.Fatalf("freelist should be drained after reuse")
	}
}

func TestWriteBarrierRecordsOldToYoungReference(t *testing.T) {
	h := New(Config{NurseryBytes: 1 << 20, PromotionAge: 1, OldGenBytesLimit: 1 << 20})
	var parent, child value.Value
	roots := SliceRoots{&parent, &child}

	parent = h.NewMap(roots, func() map[string]value.Value { return map[string]value.Value{} })
	h.MinorGC(roots) // promote parent into the old generation

	child = h.NewList(roots, func() []value.Value { return []value.Value{value.Int(9)} })

	parentObj := h.Resolve(parent.AsHandle()).(*MapObj)
	parentObj.Items["child"] = child
	h.WriteBarrier(parentObj, child)

	if _, tracked := h.remembered[parentObj]; !tracked {
		t.Fatalf("expected write barrier to remember the old->young reference")
	}

	// A minor GC must now trace through the remembered set, even though
	// the only other root (parent itself) is an old-generation handle the
	// minor collector does not walk.
	h.MinorGC(SliceRoots{&parent})

	childVal := parentObj.Items["child"]
	if !childVal.IsHandle() {
		t.Fatalf("child reference lost across minor GC")
	}
	obj := h.Resolve(childVal.AsHandle())
	list, ok := obj.(*ListObj)
	if !ok || len(list.Elems) != 1 || list.Elems[0].AsInt() != 9 {
		t.Fatalf("child object corrupted after remembered-set trace: %+v", obj)
	}
}
