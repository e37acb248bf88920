package compile

import "github.com/wazerocore/compile/internal/wasm"

// UnitBuilder batches newly-discovered functions into Units and publishes
// them to a CompilationState atomically. A driver
// owns one UnitBuilder at a time; Commit moves its buffered units into the
// state under the state's mutex in one step, so the state never observes a
// partially-published batch.
type UnitBuilder struct {
	state  *CompilationState
	module *wasm.Module
	wire   *WireBytes

	baseline []*Unit
	tiering  []*Unit
}

// NewUnitBuilder returns a builder that will publish units built from
// module/wire into state.
func NewUnitBuilder(state *CompilationState, module *wasm.Module, wire *WireBytes) *UnitBuilder {
	return &UnitBuilder{state: state, module: module, wire: wire}
}

// Add buffers the compilation unit(s) for one function index. In Regular
// mode it appends one baseline-tier unit; in Tiering mode it appends one
// Baseline and one Optimized unit, to be consumed independently.
func (b *UnitBuilder) Add(funcIndex uint32) {
	b.baseline = append(b.baseline, newUnit(funcIndex, TierBaseline, b.module, b.wire))
	if b.state.mode == ModeTiering {
		b.tiering = append(b.tiering, newUnit(funcIndex, TierOptimized, b.module, b.wire))
	}
}

// Commit publishes every buffered unit to the CompilationState and clears
// the builder. Committing an empty builder is a no-op that returns false
// and leaves the state's pending queues unchanged.
func (b *UnitBuilder) Commit() bool {
	if len(b.baseline) == 0 && len(b.tiering) == 0 {
		return false
	}
	b.state.AddUnits(b.baseline, b.tiering)
	b.baseline, b.tiering = nil, nil
	return true
}

// Clear discards buffered units without publishing them.
func (b *UnitBuilder) Clear() {
	b.baseline, b.tiering = nil, nil
}

// Empty reports whether the builder currently holds no buffered units.
// Callers should check this before letting a builder go out of scope.
func (b *UnitBuilder) Empty() bool {
	return len(b.baseline) == 0 && len(b.tiering) == 0
}
