package ic

import (
	"testing"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/shape"
)

func TestPropICStateMachine(t *testing.T) {
	var slot bytecode.CacheSlot

	if slot.State != bytecode.Uninitialized {
		t.Fatalf("zero-value slot should start Uninitialized")
	}

	ObserveProp(&slot, 1, 0, false)
	if slot.State != bytecode.Monomorphic {
		t.Fatalf("expected Monomorphic after first observation, got %v", slot.State)
	}
	if entry, ok := LookupProp(&slot, 1); !ok || entry.Slot != 0 {
		t.Fatalf("expected a cache hit for shape 1, got %+v ok=%v", entry, ok)
	}
	if _, ok := LookupProp(&slot, 2); ok {
		t.Fatalf("expected a miss for an unobserved shape")
	}

	ObserveProp(&slot, 2, 1, false)
	if slot.State != bytecode.Polymorphic || slot.Count != 2 {
		t.Fatalf("expected Polymorphic with 2 entries, got %v count=%d", slot.State, slot.Count)
	}

	ObserveProp(&slot, 3, 2, false)
	ObserveProp(&slot, 4, 3, false)
	if slot.State != bytecode.Polymorphic || slot.Count != 4 {
		t.Fatalf("expected Polymorphic to hold all 4 entries, got %v count=%d", slot.State, slot.Count)
	}

	for _, id := range []shape.ID{1, 2, 3, 4} {
		if _, ok := LookupProp(&slot, id); !ok {
			t.Fatalf("expected hit for shape %d while polymorphic", id)
		}
	}

	ObserveProp(&slot, 5, 4, false)
	if slot.State != bytecode.Megamorphic {
		t.Fatalf("expected a 5th distinct shape to go Megamorphic, got %v", slot.State)
	}
	if _, ok := LookupProp(&slot, 1); ok {
		t.Fatalf("megamorphic site must never report a cache hit")
	}
}

func TestCallICRetiresToMegamorphicOnShapeMismatch(t *testing.T) {
	var slot bytecode.CacheSlot

	ObserveCall(&slot, 10, 0x1)
	if slot.State != bytecode.Monomorphic {
		t.Fatalf("expected Monomorphic after first call observation")
	}
	if target, ok := LookupCall(&slot, 10); !ok || target != 0x1 {
		t.Fatalf("expected cached target 0x1, got %v ok=%v", target, ok)
	}

	ObserveCall(&slot, 11, 0x2)
	if slot.State != bytecode.Megamorphic {
		t.Fatalf("expected a mismatched shape to retire the call site to Megamorphic")
	}
	if _, ok := LookupCall(&slot, 10); ok {
		t.Fatalf("megamorphic call site must not serve cached lookups")
	}
}

func TestBinaryOpQuickensOnlyAfterStableThreshold(t *testing.T) {
	var slot bytecode.CacheSlot
	const threshold = 16

	for i := 0; i < threshold-1; i++ {
		ObserveBinaryOp(&slot, TypeInt)
	}
	if _, ok := ShouldQuicken(&slot, threshold); ok {
		t.Fatalf("should not quicken before threshold executions")
	}

	ObserveBinaryOp(&slot, TypeInt)
	tag, ok := ShouldQuicken(&slot, threshold)
	if !ok || tag != TypeInt {
		t.Fatalf("expected quicken to Int at threshold, got tag=%d ok=%v", tag, ok)
	}
}

func TestBinaryOpMixedTypesNeverQuickens(t *testing.T) {
	var slot bytecode.CacheSlot
	for i := 0; i < 32; i++ {
		if i%2 == 0 {
			ObserveBinaryOp(&slot, TypeInt)
		} else {
			ObserveBinaryOp(&slot, TypeFloat)
		}
	}
	if _, ok := ShouldQuicken(&slot, 16); ok {
		t.Fatalf("a site observing mixed types must never quicken")
	}
}

func TestDebugEntriesSortedByShapeID(t *testing.T) {
	var slot bytecode.CacheSlot
	ObserveProp(&slot, 5, 0, false)
	ObserveProp(&slot, 2, 1, false)
	ObserveProp(&slot, 9, 2, false)

	entries := DebugEntries(&slot)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].ShapeID > entries[i].ShapeID {
			t.Fatalf("expected entries sorted by shape id, got %+v", entries)
		}
	}
}
