package compile

import (
	"sync"

	"github.com/wazerocore/compile/internal/wasm"
)

// NativeModule holds installed compiled functions for one wasm.Module, one
// slot per local (code-section-relative) function. Install and Lookup take
// absolute function indices and map them to that slot by subtracting the
// module's imported-function count. Finisher is the
// sole writer; readers (e.g. an instance builder, out of scope here) may
// read concurrently once the module has finished compiling.
type NativeModule struct {
	Module *wasm.Module

	mu         sync.RWMutex
	code       []installedFunction
	traceFlags TraceFlags
	traceSink  TraceSink
}

type installedFunction struct {
	tier ExecutionTier
	fn   *CompiledFunction
	set  bool
}

// NewNativeModule allocates a NativeModule with room for n local functions.
func NewNativeModule(module *wasm.Module, n int) *NativeModule {
	return &NativeModule{Module: module, code: make([]installedFunction, n)}
}

// SetTrace enables trace output on sink for this NativeModule's Install
// calls and for any other subsystem sharing its lifetime (e.g. lazy
// compilation, which has no CompilationState of its own to carry trace
// configuration). Called once by a driver right after construction; a
// NativeModule with no SetTrace call emits no trace output.
func (n *NativeModule) SetTrace(flags TraceFlags, sink TraceSink) {
	n.traceFlags = flags
	n.traceSink = sink
}

// Trace emits a trace message for flag if it is enabled, reusing the sink
// installed by SetTrace.
func (n *NativeModule) Trace(flag TraceFlags, format string, args ...interface{}) {
	emitTrace(n.traceSink, n.traceFlags, flag, format, args...)
}

// Install records unit's result as the compiled code for its function,
// replacing any previously installed code for the same function at the
// same or a lower tier: an Optimized result may replace a Baseline result,
// but never the reverse. It returns false if the unit carried an error
// instead of a result, or does not name a local function, in which case
// nothing is installed.
func (n *NativeModule) Install(unit *Unit) bool {
	if unit.Result == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	i := n.slot(unit.FuncIndex)
	if i < 0 {
		return false
	}
	cur := n.code[i]
	if cur.set && cur.tier == TierOptimized && unit.Tier == TierBaseline {
		return false
	}
	n.code[i] = installedFunction{tier: unit.Tier, fn: unit.Result, set: true}
	emitTrace(n.traceSink, n.traceFlags, TraceInstances, "installed func[%d] at %s tier", unit.FuncIndex, unit.Tier)
	return true
}

// Lookup returns the currently installed function for idx, if any.
func (n *NativeModule) Lookup(idx uint32) (*CompiledFunction, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	i := n.slot(idx)
	if i < 0 || !n.code[i].set {
		return nil, false
	}
	return n.code[i].fn, true
}

// slot maps an absolute function index to its local slot, or returns -1
// when idx names an imported function or lies past the last local one.
func (n *NativeModule) slot(idx uint32) int {
	local := int(idx)
	if n.Module != nil {
		local -= n.Module.ImportFuncCount()
	}
	if local < 0 || local >= len(n.code) {
		return -1
	}
	return local
}
