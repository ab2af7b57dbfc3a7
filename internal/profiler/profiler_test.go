package profiler

import (
	"strings"
	"testing"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
)

func TestDisabledProfilerIsANoOp(t *testing.T) {
	p := New(100)
	p.RecordOp(bytecode.OpAdd)
	p.RecordBackEdge(5)
	p.EnterCall(0, "fib")
	p.ExitCall(0)
	p.RecordAlloc(1024)

	if p.OpCount(bytecode.OpAdd) != 0 {
		t.Fatalf("expected no-op while disabled")
	}
	if p.IsHot(5) {
		t.Fatalf("expected no hot loop while disabled")
	}
	if stats := p.CallStats(); len(stats) != 0 {
		t.Fatalf("expected no call stats while disabled, got %v", stats)
	}
}

func TestOpCounterIncrementsPerExecution(t *testing.T) {
	p := New(100)
	p.Enable()
	for i := 0; i < 7; i++ {
		p.RecordOp(bytecode.OpAdd)
	}
	p.RecordOp(bytecode.OpSub)
	if p.OpCount(bytecode.OpAdd) != 7 {
		t.Fatalf("expected 7 Add executions, got %d", p.OpCount(bytecode.OpAdd))
	}
	if p.OpCount(bytecode.OpSub) != 1 {
		t.Fatalf("expected 1 Sub execution, got %d", p.OpCount(bytecode.OpSub))
	}
}

func TestBackEdgePromotesHotLoopAtThreshold(t *testing.T) {
	p := New(100)
	p.Enable()
	for i := 0; i < 99; i++ {
		p.RecordBackEdge(42)
	}
	if p.IsHot(42) {
		t.Fatalf("loop should not be hot before crossing the threshold")
	}
	p.RecordBackEdge(42)
	if !p.IsHot(42) {
		t.Fatalf("expected loop at IP 42 to be hot after 100 back-edges")
	}
	if p.BackEdgeCount(42) != 100 {
		t.Fatalf("expected exactly 100 recorded back-edges, got %d", p.BackEdgeCount(42))
	}
}

func TestCallTrackerRecordsExactlyNEntries(t *testing.T) {
	p := New(100)
	p.Enable()
	for i := 0; i < 5; i++ {
		p.EnterCall(0, "fib")
		p.ExitCall(0)
	}
	stats := p.CallStats()
	fib, ok := stats["fib"]
	if !ok {
		t.Fatalf("expected call stats recorded for fib")
	}
	if fib.Calls != 5 {
		t.Fatalf("expected 5 recorded calls, got %d", fib.Calls)
	}
}

func TestCallTrackerNestedSelfTimeExcludesChildren(t *testing.T) {
	p := New(100)
	p.Enable()
	p.EnterCall(0, "outer")
	p.EnterCall(0, "inner")
	p.ExitCall(0) // inner
	p.ExitCall(0) // outer

	stats := p.CallStats()
	outer, ok := stats["outer"]
	if !ok {
		t.Fatalf("expected stats for outer")
	}
	if outer.Self > outer.Total {
		t.Fatalf("self time %v must not exceed total time %v", outer.Self, outer.Total)
	}
}

func TestAllocationRateAccumulates(t *testing.T) {
	p := New(100)
	p.Enable()
	p.RecordAlloc(1024)
	p.RecordAlloc(2048)
	bps, aps := p.AllocRate()
	if bps <= 0 || aps <= 0 {
		t.Fatalf("expected positive allocation rate, got bytes/s=%v allocs/s=%v", bps, aps)
	}
}

func TestFoldedStacksFormatsSamples(t *testing.T) {
	p := New(100)
	p.Enable()
	p.EnterCall(0, "main")
	p.EnterCall(0, "fib")
	p.Sample(0)
	p.ExitCall(0)
	p.ExitCall(0)

	folded := p.FoldedStacks()
	if !strings.Contains(folded, "main;fib 1") {
		t.Fatalf("expected folded-stack line for main;fib, got %q", folded)
	}
}
