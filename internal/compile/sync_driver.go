package compile

import (
	"context"

	"github.com/wazerocore/compile/api"
	"github.com/wazerocore/compile/internal/wasm"
)

// CompileSync is the Sync Driver's blocking top-level entry point. module
// must already be decoded; composing decode + compile is the public
// package's job (see the root package's Runtime.CompileModule).
//
// It chooses the Sequential flavor when there is no worker pool to use
// (Config.NumCompilationTasks == 0) or the module has no compilable
// functions, and the Parallel flavor otherwise.
func CompileSync(module *wasm.Module, wire *WireBytes, cfg Config, codegen CodeGenerator, runner TaskRunner, tasks TaskManager) (*NativeModule, error) {
	if cfg.NumCompilationTasks == 0 || module.FunctionCount() == 0 {
		return compileSequential(module, wire, cfg, codegen)
	}
	return compileParallel(module, wire, cfg, codegen, runner, tasks)
}

// compileSequential iterates functions in module order, calling the code
// generator directly with no concurrency and no unit-queue bookkeeping; it
// stops at the first failure.
func compileSequential(module *wasm.Module, wire *WireBytes, cfg Config, codegen CodeGenerator) (*NativeModule, error) {
	native := NewNativeModule(module, module.FunctionCount())
	native.SetTrace(cfg.TraceFlags, cfg.TraceSink)
	var detected api.CoreFeatures

	tiers := []ExecutionTier{TierBaseline}
	if cfg.Mode == ModeTiering {
		tiers = append(tiers, TierOptimized)
	}

	for localIdx := range module.CodeSection {
		funcIndex := uint32(module.ImportFuncCount() + localIdx)
		for _, tier := range tiers {
			unit := newUnit(funcIndex, tier, module, wire)
			result, err := codegen.Compile(context.Background(), unit, &detected, NoopMetrics{})
			if err != nil {
				return nil, &CompileError{Module: module, FuncIndex: funcIndex, Cause: err}
			}
			unit.Result = result
			native.Install(unit)
		}
	}
	return native, nil
}

// compileParallel publishes every function as units via the Unit Builder,
// then has the calling thread alternate between acting as an extra worker
// (FetchAndRun) and acting as the finisher (a drain loop) until baseline
// compilation is finished. On completion, in Tiering mode, it clears
// finisher_running so background workers spawned by RestartWorkers can
// keep finishing top-tier units asynchronously after this call returns.
func compileParallel(module *wasm.Module, wire *WireBytes, cfg Config, codegen CodeGenerator, runner TaskRunner, tasks TaskManager) (*NativeModule, error) {
	native := NewNativeModule(module, module.FunctionCount())
	native.SetTrace(cfg.TraceFlags, cfg.TraceSink)
	state := NewCompilationState(cfg.Mode, cfg.NumCompilationTasks, cfg.FinisherYieldBudgetNS, runner, tasks, codegen, native)
	state.SetTrace(cfg.TraceFlags, cfg.TraceSink)
	state.SetWireBytesStorage(wire)
	if err := state.SetTotal(module.FunctionCount()); err != nil {
		return nil, err
	}

	// Claim the finisher flag before publishing any unit: the calling
	// thread is about to act as the finisher via drainFinished below, so
	// ScheduleForFinishing must never see finisher_running == false and
	// post a competing RunFinisher task onto the foreground runner.
	state.SetFinisherRunning(true)

	builder := NewUnitBuilder(state, module, wire)
	for localIdx := range module.CodeSection {
		builder.Add(uint32(module.ImportFuncCount() + localIdx))
	}
	builder.Commit()

	for {
		baseline, _ := state.OutstandingCounts()
		if baseline == 0 || state.Failed() {
			break
		}
		FetchAndRun(state)
		drainFinished(state)
	}

	if state.Failed() {
		return nil, state.CompileError()
	}

	if cfg.Mode == ModeTiering {
		state.SetFinisherRunning(false)
	}
	return native, nil
}

// drainFinished is the sync driver's inline finisher: it installs every
// currently-finished unit without posting a foreground task, since the
// calling thread is itself acting as the foreground here.
func drainFinished(state *CompilationState) {
	for {
		unit, ok := state.NextFinished()
		if !ok {
			return
		}
		if state.Failed() {
			return
		}
		state.NativeModule().Install(unit)
		state.OnFinishedUnit(unit.Tier)
	}
}
