package bytecode

import "testing"

func TestABCRoundTrip(t *testing.T) {
	i := MakeABC(OpAdd, 1, 2, 3)
	if i.OpCode() != OpAdd || i.A() != 1 || i.B() != 2 || i.C() != 3 {
		t.Fatalf("ABC round trip failed: %+v", i)
	}
}

func TestABxRoundTrip(t *testing.T) {
	i := MakeABx(OpLoadConst, 5, 4000)
	if i.OpCode() != OpLoadConst || i.A() != 5 || i.Bx() != 4000 {
		t.Fatalf("ABx round trip failed")
	}
}

func TestAsBxRoundTripSignedRange(t *testing.T) {
	for _, off := range []int32{0, 1, -1, 1000, -1000, MaxSBx, MinSBx} {
		i := MakeAsBx(OpJump, 0, off)
		if got := i.SBx(); got != off {
			t.Fatalf("sBx round trip: got %d want %d", got, off)
		}
	}
}

func TestPatchSBx(t *testing.T) {
	i := MakeAsBx(OpJumpIfFalse, 2, 10)
	i = i.PatchSBx(-5)
	if i.SBx() != -5 || i.A() != 2 || i.OpCode() != OpJumpIfFalse {
		t.Fatalf("patch must only touch sBx: %+v", i)
	}
}

func TestWithOpPreservesOperands(t *testing.T) {
	i := MakeABC(OpAdd, 1, 2, 3)
	q := i.WithOp(OpAddInt)
	if q.OpCode() != OpAddInt || q.A() != 1 || q.B() != 2 || q.C() != 3 {
		t.Fatalf("WithOp must preserve operand fields")
	}
}

func TestFrameSizeMinimumAndMargin(t *testing.T) {
	p := NewPrototype("f")
	p.NumRegisters = 2
	if got := p.FrameSize(); got != 8+RegisterMargin {
		t.Fatalf("expected minimum 8 + margin, got %d", got)
	}
	p.NumRegisters = 200
	if got := p.FrameSize(); got != 200+RegisterMargin {
		t.Fatalf("expected declared count + margin, got %d", got)
	}
}

func TestQuickenAndGenericOfRoundTrip(t *testing.T) {
	sp, ok := QuickenTarget(OpAdd, false)
	if !ok || sp != OpAddInt {
		t.Fatalf("expected AddInt, got %v ok=%v", sp, ok)
	}
	g, ok := GenericOf(sp)
	if !ok || g != OpAdd {
		t.Fatalf("expected generic Add back, got %v ok=%v", g, ok)
	}
}
