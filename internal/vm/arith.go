package vm

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/diag"
	"github.com/pro-grammer-SD/axiom-sub000/internal/heap"
	"github.com/pro-grammer-SD/axiom-sub000/internal/ic"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

func floatMod(a, b float64) float64 { return math.Mod(a, b) }

// intBits is the width of value.Int's representable range (§3.1: a 48-bit
// signed payload). wrapInt masks a raw Go int64 arithmetic result back into
// that range before it is handed to value.Int, so "integer overflow wraps
// (two's complement)" (§8.3) actually wraps within the language's own
// native width instead of silently promoting to float — which is what
// value.Int does on its own for anything outside [-2^47, 2^47).
const intBits = 48

func wrapInt(n int64) int64 {
	const mask = int64(1)<<intBits - 1
	n &= mask
	if n&(int64(1)<<(intBits-1)) != 0 {
		n |= ^mask
	}
	return n
}

// display renders v the way `out`, string interpolation, and str() do:
// human-readable text, not a debug dump.
func (vm *VM) display(v value.Value) string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsBool():
		if v.AsBool() {
			return "true"
		}
		return "false"
	case v.IsInt():
		return strconv.FormatInt(v.AsInt(), 10)
	case v.IsFloat():
		return strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
	case v.IsString():
		return vm.Interner.Lookup(v.AsStringID())
	case v.IsHandle():
		return vm.displayObject(v)
	default:
		return "?"
	}
}

func (vm *VM) displayObject(v value.Value) string {
	switch o := vm.Heap.Resolve(v.AsHandle()).(type) {
	case *heap.ListObj:
		parts := make([]string, len(o.Elems))
		for i, e := range o.Elems {
			parts[i] = vm.display(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *heap.MapObj:
		keys := make([]string, 0, len(o.Items))
		for k := range o.Items {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + vm.display(o.Items[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *heap.ClosureObj:
		return "<function " + o.Proto.Name + ">"
	case *heap.ClassObj:
		return "<class " + o.Name + ">"
	case *heap.InstanceObj:
		return "<instance of " + vm.className(o) + ">"
	case *heap.NativeObj:
		return "<native " + o.Name + ">"
	default:
		return "<object>"
	}
}

func (vm *VM) className(inst *heap.InstanceObj) string {
	if !inst.Class.IsHandle() {
		return "?"
	}
	cls, ok := vm.Heap.Resolve(inst.Class.AsHandle()).(*heap.ClassObj)
	if !ok {
		return "?"
	}
	return cls.Name
}

// keyString projects a Value into a map/property key: strings use their
// interned text directly, anything else falls back to its display form so
// e.g. m[0] = "x" and m["0"] = "x" address the same map entry.
func (vm *VM) keyString(v value.Value) string {
	if v.IsString() {
		return vm.Interner.Lookup(v.AsStringID())
	}
	return vm.display(v)
}

// binaryOp dispatches a generic Add/Sub/Mul/Div/Mod/Pow by operand type,
// returning the binary-op type-feedback tag for quickening (§4.4) alongside
// the result.
func (vm *VM) binaryOp(es *execState, op opKind, a, b value.Value) (value.Value, uint8, error) {
	switch op {
	case opAdd:
		return vm.genericAdd(es, a, b)
	case opSub:
		return vm.genericArith(es, a, b, "-", func(x, y int64) int64 { return x - y }, func(x, y float64) float64 { return x - y })
	case opMul:
		return vm.genericArith(es, a, b, "*", func(x, y int64) int64 { return x * y }, func(x, y float64) float64 { return x * y })
	case opDiv:
		return vm.genericDiv(es, a, b)
	case opMod:
		return vm.genericMod(es, a, b)
	}
	return value.Nil(), ic.TypeUnknown, vm.raiseErr(es, diag.InternalError, "unhandled binary op")
}

type opKind uint8

const (
	opAdd opKind = iota
	opSub
	opMul
	opDiv
	opMod
)

func (vm *VM) genericAdd(es *execState, a, b value.Value) (value.Value, uint8, error) {
	if a.IsString() || b.IsString() {
		s := vm.display(a) + vm.display(b)
		return value.InternedString(vm.Interner.Intern(s)), ic.TypeString, nil
	}
	if !a.IsNumber() || !b.IsNumber() {
		return value.Nil(), ic.TypeUnknown, vm.raiseErr(es, diag.TypeMismatch, "+ requires numbers or strings, got %s and %s", vm.typeName(a), vm.typeName(b))
	}
	if a.IsInt() && b.IsInt() {
		return value.Int(wrapInt(a.AsInt() + b.AsInt())), ic.TypeInt, nil
	}
	return value.Float(a.AsNumber() + b.AsNumber()), ic.TypeFloat, nil
}

func (vm *VM) genericArith(es *execState, a, b value.Value, sym string, intOp func(int64, int64) int64, floatOp func(float64, float64) float64) (value.Value, uint8, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return value.Nil(), ic.TypeUnknown, vm.raiseErr(es, diag.TypeMismatch, "%s requires numbers, got %s and %s", sym, vm.typeName(a), vm.typeName(b))
	}
	if a.IsInt() && b.IsInt() {
		return value.Int(wrapInt(intOp(a.AsInt(), b.AsInt()))), ic.TypeInt, nil
	}
	return value.Float(floatOp(a.AsNumber(), b.AsNumber())), ic.TypeFloat, nil
}

func (vm *VM) genericDiv(es *execState, a, b value.Value) (value.Value, uint8, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return value.Nil(), ic.TypeUnknown, vm.raiseErr(es, diag.TypeMismatch, "/ requires numbers, got %s and %s", vm.typeName(a), vm.typeName(b))
	}
	if a.IsInt() && b.IsInt() {
		bi := b.AsInt()
		if bi == 0 {
			return value.Nil(), ic.TypeInt, vm.raiseErr(es, diag.DivisionByZero, "integer division by zero")
		}
		return value.Int(wrapInt(a.AsInt() / bi)), ic.TypeInt, nil
	}
	// Float division by zero follows IEEE-754 (±Inf or NaN) and does not
	// raise (§8.3).
	return value.Float(a.AsNumber() / b.AsNumber()), ic.TypeFloat, nil
}

func (vm *VM) genericMod(es *execState, a, b value.Value) (value.Value, uint8, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return value.Nil(), ic.TypeUnknown, vm.raiseErr(es, diag.TypeMismatch, "%% requires numbers, got %s and %s", vm.typeName(a), vm.typeName(b))
	}
	if a.IsInt() && b.IsInt() {
		bi := b.AsInt()
		if bi == 0 {
			return value.Nil(), ic.TypeInt, vm.raiseErr(es, diag.DivisionByZero, "integer modulo by zero")
		}
		return value.Int(wrapInt(a.AsInt() % bi)), ic.TypeInt, nil
	}
	return value.Float(floatMod(a.AsNumber(), b.AsNumber())), ic.TypeFloat, nil
}

// compare orders a and b: numeric operands promote mixed int/float,
// strings compare lexicographically, anything else is not comparable
// (§4.5 "ordering compares numerics with mixed int/float promotion and
// strings lexicographically").
func (vm *VM) compare(a, b value.Value) (cmp int, ok bool, tag uint8) {
	if a.IsNumber() && b.IsNumber() {
		af, bf := a.AsNumber(), b.AsNumber()
		switch {
		case af < bf:
			cmp = -1
		case af > bf:
			cmp = 1
		}
		if a.IsInt() && b.IsInt() {
			return cmp, true, ic.TypeInt
		}
		return cmp, true, ic.TypeFloat
	}
	if a.IsString() && b.IsString() {
		as, bs := vm.Interner.Lookup(a.AsStringID()), vm.Interner.Lookup(b.AsStringID())
		return strings.Compare(as, bs), true, ic.TypeString
	}
	return 0, false, ic.TypeUnknown
}

// maybeQuicken feeds a binary-op or comparison site's observed operand type
// into its inline cache and rewrites the instruction to its type-specialized
// form once it has crossed the configured execution threshold (§4.3/§4.4).
// Sites that never produce a stable Int/Float tag (string concatenation,
// mixed-type sites) simply never quicken — ShouldQuicken only fires for
// TypeInt/TypeFloat.
func (vm *VM) maybeQuicken(proto *bytecode.Prototype, pc int, op bytecode.OpCode, tag uint8) {
	if !vm.Config.Passes.Quickening {
		return
	}
	slot := &proto.ICs[pc]
	ic.ObserveBinaryOp(slot, tag)
	observed, ok := ic.ShouldQuicken(slot, uint32(vm.Config.QuickenThreshold))
	if !ok {
		return
	}
	specialized, ok := bytecode.QuickenTarget(op, observed == ic.TypeFloat)
	if !ok {
		return
	}
	proto.Code[pc] = proto.Code[pc].WithOp(specialized)
}
