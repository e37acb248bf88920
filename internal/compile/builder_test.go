package compile

import (
	"testing"

	"github.com/wazerocore/compile/internal/wasm"
)

func TestUnitBuilder_Regular_AddsOneBaselineUnitPerFunction(t *testing.T) {
	module := &wasm.Module{}
	native := NewNativeModule(module, 2)
	runner := &recordingRunner{}
	state := NewCompilationState(ModeRegular, 1, 0, runner, runner, nil, native)

	b := NewUnitBuilder(state, module, nil)
	if !b.Empty() {
		t.Fatal("new builder is not Empty()")
	}
	b.Add(0)
	b.Add(1)
	if b.Empty() {
		t.Fatal("builder with buffered units reports Empty()")
	}
	if len(b.baseline) != 2 || len(b.tiering) != 0 {
		t.Fatalf("baseline=%d tiering=%d, want 2, 0", len(b.baseline), len(b.tiering))
	}
}

func TestUnitBuilder_Tiering_AddsBaselineAndOptimizedUnit(t *testing.T) {
	module := &wasm.Module{}
	native := NewNativeModule(module, 1)
	runner := &recordingRunner{}
	state := NewCompilationState(ModeTiering, 1, 0, runner, runner, nil, native)

	b := NewUnitBuilder(state, module, nil)
	b.Add(0)
	if len(b.baseline) != 1 || len(b.tiering) != 1 {
		t.Fatalf("baseline=%d tiering=%d, want 1, 1", len(b.baseline), len(b.tiering))
	}
}

func TestUnitBuilder_CommitOfEmptyBuilderIsNoopReturningFalse(t *testing.T) {
	module := &wasm.Module{}
	native := NewNativeModule(module, 1)
	runner := &recordingRunner{}
	state := NewCompilationState(ModeRegular, 1, 0, runner, runner, nil, native)

	b := NewUnitBuilder(state, module, nil)
	if b.Commit() {
		t.Fatal("Commit() on an empty builder returned true")
	}
	pending, _ := state.OutstandingCounts()
	if pending != 0 {
		t.Fatalf("OutstandingCounts baseline = %d, want 0 (set_total was never called)", pending)
	}
	if state.pendingBaseline.len() != 0 {
		t.Fatal("pendingBaseline was mutated by committing an empty builder")
	}
}

func TestUnitBuilder_CommitPublishesAndClears(t *testing.T) {
	module := &wasm.Module{}
	native := NewNativeModule(module, 2)
	runner := &recordingRunner{}
	state := NewCompilationState(ModeRegular, 1, 0, runner, runner, nil, native)

	b := NewUnitBuilder(state, module, nil)
	b.Add(0)
	b.Add(1)
	if !b.Commit() {
		t.Fatal("Commit() on a non-empty builder returned false")
	}
	if !b.Empty() {
		t.Fatal("builder not Empty() after Commit()")
	}
	if state.pendingBaseline.len() != 2 {
		t.Fatalf("pendingBaseline.len() = %d, want 2", state.pendingBaseline.len())
	}
}

func TestUnitBuilder_ClearDiscardsWithoutPublishing(t *testing.T) {
	module := &wasm.Module{}
	native := NewNativeModule(module, 1)
	runner := &recordingRunner{}
	state := NewCompilationState(ModeRegular, 1, 0, runner, runner, nil, native)

	b := NewUnitBuilder(state, module, nil)
	b.Add(0)
	b.Clear()
	if !b.Empty() {
		t.Fatal("builder not Empty() after Clear()")
	}
	if state.pendingBaseline.len() != 0 {
		t.Fatal("Clear() published units to the state")
	}
}
