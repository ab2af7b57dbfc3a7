// Package ic implements the polymorphic inline caches and binary-op type
// feedback from §4.4: per-site memoization of the last-observed property
// slot, call target, or operand type, consulted before falling back to a
// full shape-table or generic-dispatch lookup.
//
// The cache storage itself (bytecode.CacheSlot / bytecode.CacheEntry) lives
// in package bytecode, next to the Prototype that owns one slot per site —
// this package only holds the state-machine logic that reads and mutates
// it, the way the teacher keeps its opcode table in one package and the
// dispatch behavior that interprets it in another.
package ic

import (
	"golang.org/x/exp/slices"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/shape"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

// ObserveProp records a property access at a GetProp/SetProp site and runs
// the UNINITIALIZED → MONOMORPHIC → POLYMORPHIC → MEGAMORPHIC state machine
// from §4.4. A repeat observation of an already-cached shape is a no-op.
func ObserveProp(slot *bytecode.CacheSlot, shapeID shape.ID, slotIdx int, isMethod bool) {
	entry := bytecode.CacheEntry{ShapeID: uint32(shapeID), Slot: uint16(slotIdx), IsMethod: isMethod}

	switch slot.State {
	case bytecode.Uninitialized:
		slot.Entries[0] = entry
		slot.Count = 1
		slot.State = bytecode.Monomorphic

	case bytecode.Monomorphic:
		if slot.Entries[0].ShapeID == entry.ShapeID {
			return
		}
		slot.Entries[1] = entry
		slot.Count = 2
		slot.State = bytecode.Polymorphic

	case bytecode.Polymorphic:
		for i := 0; i < int(slot.Count); i++ {
			if slot.Entries[i].ShapeID == entry.ShapeID {
				return
			}
		}
		if int(slot.Count) < len(slot.Entries) {
			slot.Entries[slot.Count] = entry
			slot.Count++
			return
		}
		slot.State = bytecode.Megamorphic

	case bytecode.Megamorphic:
		// already fell back; every further site access goes through the
		// shape table directly and never touches this cache again.
	}
}

// LookupProp resolves shapeID against slot's cached entries, in at most
// slot.Count comparisons (§8.1 invariant 4). ok is false on a cache miss or
// when the site has gone megamorphic, in which case the caller must fall
// back to a direct shape-table lookup.
func LookupProp(slot *bytecode.CacheSlot, shapeID shape.ID) (bytecode.CacheEntry, bool) {
	switch slot.State {
	case bytecode.Monomorphic, bytecode.Polymorphic:
		for i := 0; i < int(slot.Count); i++ {
			if slot.Entries[i].ShapeID == uint32(shapeID) {
				return slot.Entries[i], true
			}
		}
	}
	return bytecode.CacheEntry{}, false
}

// ObserveCall records a method-call dispatch. The call IC is strictly
// monomorphic (§4.4): a second, different receiver shape retires the site
// to MEGAMORPHIC rather than growing a polymorphic table.
func ObserveCall(slot *bytecode.CacheSlot, shapeID shape.ID, target value.Value) {
	switch slot.State {
	case bytecode.Uninitialized:
		slot.Entries[0] = bytecode.CacheEntry{ShapeID: uint32(shapeID), IsMethod: true, Target: target}
		slot.Count = 1
		slot.State = bytecode.Monomorphic
	case bytecode.Monomorphic:
		if slot.Entries[0].ShapeID != uint32(shapeID) {
			slot.State = bytecode.Megamorphic
		}
	}
}

// LookupCall resolves a cached bound-method target for shapeID, returning
// ok=false if the site is uninitialized, megamorphic, or the shape
// mismatches the single cached entry.
func LookupCall(slot *bytecode.CacheSlot, shapeID shape.ID) (value.Value, bool) {
	if slot.State == bytecode.Monomorphic && slot.Entries[0].ShapeID == uint32(shapeID) {
		return slot.Entries[0].Target, true
	}
	return value.Value(0), false
}

// Binary-op type-feedback tags, stored in CacheEntry.TypeTag.
const (
	TypeUnknown uint8 = iota
	TypeInt
	TypeFloat
	TypeString
	TypeMixed
)

// ObserveBinaryOp accumulates type feedback for a generic binary-op site
// (§4.4), tracked in Entries[0]: TypeTag holds the stably-observed type (or
// Mixed once two different types are seen), Count the number of
// observations, MonoHits a running total gating the quicken threshold.
func ObserveBinaryOp(slot *bytecode.CacheSlot, tag uint8) {
	e := &slot.Entries[0]
	if e.TypeTag == TypeMixed {
		slot.MonoHits++
		return
	}
	if e.Count == 0 {
		e.TypeTag = tag
	} else if e.TypeTag != tag {
		e.TypeTag = TypeMixed
	}
	e.Count++
	slot.MonoHits++
}

// ShouldQuicken reports whether a binary-op site has crossed threshold
// executions with a stable Int or Float type observation, in which case
// the VM should rewrite the instruction to its specialized opcode via
// bytecode.QuickenTarget.
func ShouldQuicken(slot *bytecode.CacheSlot, threshold uint32) (tag uint8, ok bool) {
	if slot.MonoHits < threshold {
		return TypeUnknown, false
	}
	switch slot.Entries[0].TypeTag {
	case TypeInt, TypeFloat:
		return slot.Entries[0].TypeTag, true
	default:
		return TypeUnknown, false
	}
}

// DebugEntries returns a site's live entries sorted by shape id, so that
// the output is deterministic.
func DebugEntries(slot *bytecode.CacheSlot) []bytecode.CacheEntry {
	out := append([]bytecode.CacheEntry(nil), slot.Entries[:slot.Count]...)
	slices.SortFunc(out, func(a, b bytecode.CacheEntry) int {
		return int(a.ShapeID) - int(b.ShapeID)
	})
	return out
}
