package cache

import (
	"context"
	"testing"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/value"
)

func samplePrototype() *bytecode.Prototype {
	p := bytecode.NewPrototype("fib")
	p.Code = []bytecode.Instruction{
		bytecode.MakeABC(bytecode.OpAdd, 0, 1, 2),
		bytecode.MakeABx(bytecode.OpLoadConst, 3, 0),
	}
	p.Lines = []int32{1, 2}
	p.FloatConstants = []float64{3.14}
	p.StringConstants = []string{"hello"}
	p.Constants = []value.Value{value.Int(42)}
	p.NumRegisters = 4
	p.NumParams = 1
	p.IsVariadic = false
	p.Upvalues = []bytecode.UpvalueDesc{{Name: "x", InStack: true, Index: 0}}
	p.Loads = []string{"math"}
	p.Libs = []string{"stdlib"}
	p.GlobalNames = []string{"fib"}
	p.ClassTemplates = []*bytecode.ClassTemplate{
		{
			Name:           "Point",
			ParentName:     "",
			Fields:         []bytecode.FieldTemplate{{Name: "x", Default: value.Int(0)}},
			MethodNested:   map[string]int{"move": 0},
			ConstructorIdx: -1,
		},
	}
	p.Nested = []*bytecode.Prototype{bytecode.NewPrototype("inner")}
	return p
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := samplePrototype()
	blob, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != p.Name || len(got.Code) != len(p.Code) || got.NumRegisters != p.NumRegisters {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
	if len(got.ClassTemplates) != 1 || got.ClassTemplates[0].Name != "Point" {
		t.Fatalf("class template not preserved: %+v", got.ClassTemplates)
	}
	if len(got.Nested) != 1 || got.Nested[0].Name != "inner" {
		t.Fatalf("nested prototype not preserved: %+v", got.Nested)
	}
}

func TestStorePutGet(t *testing.T) {
	s, err := Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	key := Key([]byte("fn fib(n) { return n; }"))

	if _, ok, err := s.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss before Put, got ok=%v err=%v", ok, err)
	}

	p := samplePrototype()
	if err := s.Put(ctx, key, p); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit after Put, got ok=%v err=%v", ok, err)
	}
	if got.Name != p.Name {
		t.Fatalf("got name %q, want %q", got.Name, p.Name)
	}
}

func TestKeyIsContentAddressed(t *testing.T) {
	a := Key([]byte("same source"))
	b := Key([]byte("same source"))
	c := Key([]byte("different source"))
	if a != b {
		t.Fatalf("same content produced different keys: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("different content produced the same key")
	}
}

func TestCompatible(t *testing.T) {
	cases := []struct {
		stored, current string
		want            bool
	}{
		{"v1.0.0", "v1.0.0", true},
		{"v1.0.0", "v1.1.0", true},
		{"v1.1.0", "v1.0.0", false},
		{"v2.0.0", "v1.0.0", false},
		{"garbage", "v1.0.0", false},
	}
	for _, c := range cases {
		if got := compatible(c.stored, c.current); got != c.want {
			t.Errorf("compatible(%q, %q) = %v, want %v", c.stored, c.current, got, c.want)
		}
	}
}
