// Package config holds the runtime's tunables (§6 configuration table):
// GC sizing, quickening and hot-loop thresholds, the call-depth guard, and
// the per-pass/per-subsystem enable switches from PassToggles. Grounded on
// the teacher's flat-struct interpreter options pattern; kept a simple
// string-keyed override map on top so cmd/axiom can accept
// "-set nursery_bytes=4194304"-style flags without new struct fields per
// knob, the way the teacher's own CLI favors plain string flags. The
// toggle property names themselves are grounded on the original Rust
// interpreter's ~/.axiom/conf.txt schema (axm/src/conf.rs's ALL_PROPS),
// which this module reads as a flat Config struct instead of a loaded
// file, since there is no "axm conf set"-style persistent CLI surface here
// (§1 scope: no CLI/file-format front-end, only the execution core).
package config

import (
	"fmt"
	"strconv"

	"github.com/pro-grammer-SD/axiom-sub000/internal/heap"
)

// Config is every tunable the VM, compiler, and cache consult.
type Config struct {
	Heap heap.Config

	// CallDepthLimit caps nested VM frames before raising StackOverflow
	// (§7); tail calls never grow this count (§8.4 scenario: tail
	// recursion to 1,000,000 iterations must not overflow).
	CallDepthLimit int

	// QuickenThreshold is the execution count at which a generic opcode
	// is rewritten to its type-specialized form (§4.3 default 16).
	QuickenThreshold uint64

	// HotLoopThreshold is the number of times a back-edge must be taken
	// before the profiler reports the loop as hot (§4.6 default 100).
	HotLoopThreshold uint64

	// MegamorphicThreshold is how many distinct shapes an inline cache
	// observes before falling back to a megamorphic, uncached lookup
	// (§4.4: capacity 4 before megamorphic).
	MegamorphicThreshold int

	// Passes holds every per-pass/per-subsystem enable switch, the Go
	// equivalent of the original interpreter's ~/.axiom/conf.txt property
	// table (grounded on axm/src/conf.rs's ALL_PROPS list): each optimizer
	// pass, the quickening/shape-optimization specializations, and the
	// profiler's own subsystems can be independently toggled without
	// touching the size/threshold tunables above.
	Passes PassToggles
}

// PassToggles mirrors axm/src/conf.rs's boolean properties that govern
// *whether* a pass or subsystem runs at all, as opposed to the numeric
// tunables (thresholds, sizes) that stay in Config directly. Every field
// name matches the corresponding conf.rs property name so Overrides can
// read "-set superinstructions=off" the same way `axm conf set
// superinstructions=off` would.
type PassToggles struct {
	// Optimizer passes (conf.rs Category::Optimization).
	ConstantFolding   bool
	Peephole          bool
	DeadCode          bool
	JumpThreading     bool
	Superinstructions bool
	// PeepholeOptimizer is the master switch gating every pass above,
	// matching conf.rs's peephole_optimizer master toggle.
	PeepholeOptimizer bool

	// Specialization (conf.rs Category::Specialization / Category::Cache).
	Quickening        bool
	ShapeOptimization bool
	InlineCache       bool
	CallIC            bool

	// Profiler subsystems (conf.rs Category::Profiling).
	Profiling       bool
	OpcodeCounters  bool
	HotLoopDetect   bool
	FlameGraph      bool
	AllocTracking   bool
	// ProfilingEnabled is the master switch gating every profiler
	// subsystem above, matching conf.rs's profiling_enabled master toggle.
	ProfilingEnabled bool

	// GCEnabled mirrors conf.rs's gc_enabled master toggle; this module
	// never disables GC outright (unbounded leak-on-purpose isn't a mode
	// the heap package implements), but the flag is carried through so a
	// config dump/describe surface can report it honestly.
	GCEnabled bool
}

// DefaultPassToggles mirrors axm/src/conf.rs's ALL_PROPS defaults: every
// optimizer pass, quickening, shape optimization, and both inline-cache
// kinds default on; profiler subsystems other than opcode_counters and
// hot_loop_detect default off, matching the original's "off unless asked"
// stance on profiling overhead.
func DefaultPassToggles() PassToggles {
	return PassToggles{
		ConstantFolding:   true,
		Peephole:          true,
		DeadCode:          true,
		JumpThreading:     true,
		Superinstructions: true,
		PeepholeOptimizer: true,

		Quickening:        true,
		ShapeOptimization: true,
		InlineCache:       true,
		CallIC:            true,

		Profiling:        false,
		OpcodeCounters:   true,
		HotLoopDetect:    true,
		FlameGraph:       false,
		AllocTracking:    false,
		ProfilingEnabled: true,

		GCEnabled: true,
	}
}

func Default() Config {
	return Config{
		Heap:                 heap.DefaultConfig(),
		CallDepthLimit:       500,
		QuickenThreshold:     16,
		HotLoopThreshold:     100,
		MegamorphicThreshold: 4,
		Passes:               DefaultPassToggles(),
	}
}

// Overrides applies string-keyed overrides, e.g. from repeated "-set k=v"
// CLI flags, onto a base Config. Unknown keys are reported individually so
// the caller can decide whether to treat them as fatal.
func (c Config) Overrides(kv map[string]string) (Config, []error) {
	var errs []error
	for k, v := range kv {
		var err error
		switch k {
		case "nursery_bytes":
			c.Heap.NurseryBytes, err = atoi(v)
		case "promotion_age":
			var n int
			n, err = atoi(v)
			c.Heap.PromotionAge = uint8(n)
		case "old_gen_bytes_limit":
			c.Heap.OldGenBytesLimit, err = atoi(v)
		case "call_depth_limit":
			c.CallDepthLimit, err = atoi(v)
		case "quicken_threshold":
			var n int
			n, err = atoi(v)
			c.QuickenThreshold = uint64(n)
		case "hot_loop_threshold":
			var n int
			n, err = atoi(v)
			c.HotLoopThreshold = uint64(n)
		case "megamorphic_threshold":
			c.MegamorphicThreshold, err = atoi(v)

		case "constant_folding":
			c.Passes.ConstantFolding = parseBool(v)
		case "peephole":
			c.Passes.Peephole = parseBool(v)
		case "dead_code":
			c.Passes.DeadCode = parseBool(v)
		case "jump_threading":
			c.Passes.JumpThreading = parseBool(v)
		case "superinstructions":
			c.Passes.Superinstructions = parseBool(v)
		case "peephole_optimizer":
			c.Passes.PeepholeOptimizer = parseBool(v)
		case "quickening":
			c.Passes.Quickening = parseBool(v)
		case "shape_optimization":
			c.Passes.ShapeOptimization = parseBool(v)
		case "inline_cache":
			c.Passes.InlineCache = parseBool(v)
		case "call_ic":
			c.Passes.CallIC = parseBool(v)
		case "profiling":
			c.Passes.Profiling = parseBool(v)
		case "opcode_counters":
			c.Passes.OpcodeCounters = parseBool(v)
		case "hot_loop_detect":
			c.Passes.HotLoopDetect = parseBool(v)
		case "flame_graph":
			c.Passes.FlameGraph = parseBool(v)
		case "alloc_tracking":
			c.Passes.AllocTracking = parseBool(v)
		case "profiling_enabled":
			c.Passes.ProfilingEnabled = parseBool(v)
		case "gc_enabled":
			c.Passes.GCEnabled = parseBool(v)

		default:
			err = fmt.Errorf("unknown config key %q", k)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("config %q=%q: %w", k, v, err))
		}
	}
	return c, errs
}

func atoi(s string) (int, error) {
	return strconv.Atoi(s)
}

// parseBool mirrors axm/src/conf.rs's AxConf::get_bool: "on"/"true"/"yes"/"1"
// is true, anything else (including an unrecognized value) is false. A
// pass toggle is never worth failing config parsing over, so this never
// returns an error the way atoi does.
func parseBool(s string) bool {
	switch s {
	case "on", "true", "yes", "1":
		return true
	default:
		return false
	}
}
