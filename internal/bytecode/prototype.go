package bytecode

import "github.com/pro-grammer-SD/axiom-sub000/internal/value"

// UpvalueDesc describes where a closure captures one free variable from,
// per §3.3: either a parent frame's local register, or an upvalue slot of
// the enclosing closure.
type UpvalueDesc struct {
	Name    string
	InStack bool // true: capture R(Index) of the enclosing frame
	Index   uint8
}

// Prototype is a compiled function: immutable-after-optimization code plus
// every constant pool and piece of metadata the VM needs to run it. One
// Prototype is shared by every closure created over it (§3.2 lifecycle).
type Prototype struct {
	Name string

	Code  []Instruction
	Lines []int32 // per-instruction source line, best-effort (§7)

	FloatConstants  []float64
	StringConstants []string // interned at load time; held here as raw text
	// for a disk-cached prototype that hasn't been re-interned yet.

	// Constants holds boxed values that don't fit the fast-path pools above
	// (integer literals outside LoadInt's sBx range, and any pre-boxed
	// constant the compiler wants to share across sites). Addressed by
	// OpLoadConst's Bx.
	Constants []value.Value

	Nested []*Prototype

	NumRegisters int
	NumParams    int
	IsVariadic   bool

	Upvalues []UpvalueDesc

	// ExecCounts tracks per-instruction execution counts for the profiler
	// and for the JIT-adjacent hot-loop signal (§4.6); indexed in lockstep
	// with Code.
	ExecCounts []uint64

	// ICs holds one inline-cache slot per cachable site, indexed by the
	// site's position in Code (only GetProp/SetProp/GetMethod/binary-op
	// sites have a populated entry; see package ic).
	ICs []CacheSlot

	// Frozen is set once the optimizer has finished; quickening may still
	// mutate Code in place afterward (§9), but the optimizer passes never
	// run twice.
	Frozen bool

	// Loads and Libs record `load`/`lib` directives (§6 LoadStmt, LibDecl)
	// seen while compiling this prototype. They carry no bytecode of their
	// own; the host resolves and runs them before execution starts.
	Loads []string
	Libs  []string

	// ClassTemplates holds one entry per class declaration compiled into
	// this prototype, materialized at runtime by OpMakeClass. Field
	// defaults are restricted to compile-time-constant expressions (number,
	// boolean, or no default).
	ClassTemplates []*ClassTemplate

	// GlobalNames maps a global slot index to its source name, populated
	// only on the top-level (main) Prototype since globals are shared
	// program-wide rather than per-function. The VM consults it to name an
	// UndefinedVariable diagnostic and to build Suggest's candidate list;
	// nested prototypes leave this nil and resolve globals through the
	// owning VM's shared table instead.
	GlobalNames []string
}

// FieldTemplate is one declared instance field and its default value.
type FieldTemplate struct {
	Name    string
	Default value.Value
}

// ClassTemplate is the compile-time description of a class declaration,
// referenced by Bx from OpMakeClass. MethodNested indexes into the owning
// Prototype's Nested slice.
type ClassTemplate struct {
	Name           string
	ParentName     string // "" if no declared superclass
	Fields         []FieldTemplate
	MethodNested   map[string]int
	ConstructorIdx int // index into MethodNested's targets, -1 if absent
}

// CacheSlot is an opaque per-site inline-cache record. The bytecode package
// only needs to carry it around; package ic interprets and mutates it.
type CacheSlot struct {
	State    CacheState
	Entries  [4]CacheEntry
	Count    uint8
	MonoHits uint32 // for binary-op sites: executions since last reset
}

type CacheState uint8

const (
	Uninitialized CacheState = iota
	Monomorphic
	Polymorphic
	Megamorphic
)

// CacheEntry is one (shape, slot) or (type, count) observation, shaped
// generically enough to serve both the property IC and the binary-op type
// feedback table (§4.4).
type CacheEntry struct {
	ShapeID  uint32
	Slot     uint16
	IsMethod bool
	Target   value.Value // resolved method target, for call sites

	TypeTag uint8 // binary-op feedback: observed operand type
	Count   uint32
}

// NewPrototype creates an empty prototype ready for the compiler to emit
// into. The register safety margin (§4.5) is not stored here; FrameSize
// adds it when the VM sizes a frame.
func NewPrototype(name string) *Prototype {
	return &Prototype{Name: name}
}

const RegisterMargin = 4

// FrameSize is how large a register file the VM must allocate for this
// prototype: declared count, at least 8, plus a safety margin (§4.5).
func (p *Prototype) FrameSize() int {
	n := p.NumRegisters
	if n < 8 {
		n = 8
	}
	return n + RegisterMargin
}
