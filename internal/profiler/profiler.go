// Package profiler implements the §4.6 instrumentation surface: a flat
// opcode counter, a back-edge/hot-loop tracker, a per-function call tracker,
// an allocation-rate tracker, and an optional flame-graph sampler. Every
// path is gated by a master switch (Enabled) so a disabled profiler costs a
// single boolean check per call site, grounded on the teacher's own
// call-count-map style in internal/jit.Profiler — minus the JIT compilation
// decision that map feeds into there, which is out of scope here.
package profiler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
)

// Profiler aggregates every instrumentation surface behind one master
// switch. The zero value is disabled and safe to use (every method is a
// no-op) so a VM can always hold a *Profiler without a nil check.
type Profiler struct {
	Enabled bool

	mu sync.Mutex

	opCounts [bytecode.NumOpCodes]uint64

	backEdges map[int]uint64
	hotLoops  map[int]bool
	hotThresh uint64

	callStacks map[int64][]callFrame // per-goroutine task id -> active call stack
	funcStats  map[string]*FuncStats

	allocBytes int64
	allocCount int64
	startedAt  time.Time

	sampler *flameSampler
}

// FuncStats accumulates (self, total) elapsed time for one function name
// across every call, independent of the VM's own frame stack (§4.6).
type FuncStats struct {
	Calls uint64
	Self  time.Duration
	Total time.Duration
}

type callFrame struct {
	name     string
	start    time.Time
	childSum time.Duration
}

// New returns a disabled profiler; call Enable to turn every tracker on.
func New(hotLoopThreshold uint64) *Profiler {
	return &Profiler{
		hotThresh:  hotLoopThreshold,
		backEdges:  make(map[int]uint64),
		hotLoops:   make(map[int]bool),
		callStacks: make(map[int64][]callFrame),
		funcStats:  make(map[string]*FuncStats),
		startedAt:  time.Now(),
		sampler:    newFlameSampler(),
	}
}

func (p *Profiler) Enable()  { p.Enabled = true }
func (p *Profiler) Disable() { p.Enabled = false }

// RecordOp increments the flat per-opcode counter.
func (p *Profiler) RecordOp(op bytecode.OpCode) {
	if !p.Enabled {
		return
	}
	atomic.AddUint64(&p.opCounts[op], 1)
}

// OpCount returns how many times op has executed.
func (p *Profiler) OpCount(op bytecode.OpCode) uint64 {
	return atomic.LoadUint64(&p.opCounts[op])
}

// RecordBackEdge increments the back-edge counter for a backward branch's
// source IP (a LoopBack, or any branch with a negative offset) and promotes it into the hot-loops set once it crosses the configured
// threshold (default 100, §8.4 scenario 6). Crossing the threshold is a
// one-time signal: hot loops stay hot even if later execution slows down.
func (p *Profiler) RecordBackEdge(sourceIP int) {
	if !p.Enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backEdges[sourceIP]++
	if p.backEdges[sourceIP] >= p.hotThresh {
		p.hotLoops[sourceIP] = true
	}
}

// IsHot reports whether sourceIP has been promoted to the hot-loops set.
func (p *Profiler) IsHot(sourceIP int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hotLoops[sourceIP]
}

// BackEdgeCount returns the raw back-edge count observed at sourceIP.
func (p *Profiler) BackEdgeCount(sourceIP int) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backEdges[sourceIP]
}

// EnterCall pushes a call-tracker frame for taskID's call stack, recording
// name and the current time. taskID lets the cooperative scheduler's
// concurrently-running tasks keep independent call stacks within one
// profiler instance.
func (p *Profiler) EnterCall(taskID int64, name string) {
	if !p.Enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callStacks[taskID] = append(p.callStacks[taskID], callFrame{name: name, start: time.Now()})
	if p.sampler != nil {
		p.sampler.push(taskID, name)
	}
}

// ExitCall pops the top frame of taskID's call stack and folds its elapsed
// time into funcStats as (self_time, total_time): total includes every
// nested call, self excludes time already attributed to children.
func (p *Profiler) ExitCall(taskID int64) {
	if !p.Enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	stack := p.callStacks[taskID]
	if len(stack) == 0 {
		return
	}
	top := stack[len(stack)-1]
	stack = stack[:len(stack)-1]
	p.callStacks[taskID] = stack

	elapsed := time.Since(top.start)
	self := elapsed - top.childSum
	if self < 0 {
		self = 0
	}
	if len(stack) > 0 {
		stack[len(stack)-1].childSum += elapsed
	}

	stats, ok := p.funcStats[top.name]
	if !ok {
		stats = &FuncStats{}
		p.funcStats[top.name] = stats
	}
	stats.Calls++
	stats.Self += self
	stats.Total += elapsed

	if p.sampler != nil {
		p.sampler.pop(taskID)
	}
}

// CallStats returns a snapshot of the call tracker's per-function stats.
func (p *Profiler) CallStats() map[string]FuncStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]FuncStats, len(p.funcStats))
	for name, s := range p.funcStats {
		out[name] = *s
	}
	return out
}

// RecordAlloc accumulates an allocation's byte size into the atomic
// allocation-rate counters. Safe to call concurrently from tasks allocating
// on their own region of the heap.
func (p *Profiler) RecordAlloc(bytes int64) {
	if !p.Enabled {
		return
	}
	atomic.AddInt64(&p.allocBytes, bytes)
	atomic.AddInt64(&p.allocCount, 1)
}

// AllocRate returns (bytes/sec, allocations/sec) since the profiler was
// created, formatted for humans with go-humanize by the caller.
func (p *Profiler) AllocRate() (bytesPerSec, allocsPerSec float64) {
	elapsed := time.Since(p.startedAt).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	return float64(atomic.LoadInt64(&p.allocBytes)) / elapsed, float64(atomic.LoadInt64(&p.allocCount)) / elapsed
}

// Report renders a human-readable summary line, grounded on the teacher's
// preference for humanize.Bytes/humanize.Time over raw numbers in
// diagnostic output.
func (p *Profiler) Report() string {
	bps, aps := p.AllocRate()
	return fmt.Sprintf("alive %s, %s/s allocated (%.1f allocs/s), %d hot loop(s)",
		humanize.Time(p.startedAt), humanize.Bytes(uint64(bps)), aps, len(p.hotLoops))
}

// Sample takes one flame-graph sample of taskID's current call stack. The
// caller decides sampling cadence (e.g. every N dispatched instructions).
func (p *Profiler) Sample(taskID int64) {
	if !p.Enabled || p.sampler == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sampler.sample(taskID)
}

// FoldedStacks renders accumulated flame samples as folded-stack text
// ("a;b;c count" per line, sorted for deterministic output), the format
// flamegraph.pl and its descendants consume.
func (p *Profiler) FoldedStacks() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sampler == nil {
		return ""
	}
	return p.sampler.fold()
}

// flameSampler accumulates (stack-of-names, count) observations per task.
type flameSampler struct {
	stacks  map[int64][]string
	samples map[string]int
}

func newFlameSampler() *flameSampler {
	return &flameSampler{
		stacks:  make(map[int64][]string),
		samples: make(map[string]int),
	}
}

func (f *flameSampler) push(taskID int64, name string) {
	f.stacks[taskID] = append(f.stacks[taskID], name)
}

func (f *flameSampler) pop(taskID int64) {
	s := f.stacks[taskID]
	if len(s) > 0 {
		f.stacks[taskID] = s[:len(s)-1]
	}
}

func (f *flameSampler) sample(taskID int64) {
	s := f.stacks[taskID]
	if len(s) == 0 {
		return
	}
	key := strings.Join(s, ";")
	f.samples[key]++
}

func (f *flameSampler) fold() string {
	keys := make([]string, 0, len(f.samples))
	for k := range f.samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s %d\n", k, f.samples[k])
	}
	return b.String()
}
