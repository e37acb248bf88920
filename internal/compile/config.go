// Package compile implements the module compilation orchestrator: the
// concurrent state machine that coordinates decoding, background
// compilation workers, per-function tier selection, foreground
// finalization, error propagation, and event notification.
//
// Its pieces break down as:
//
//	Work Unit            -> Unit, CompiledFunction
//	Unit Queue           -> unitStack (queue.go)
//	Compilation State    -> CompilationState
//	Unit Builder         -> UnitBuilder
//	Background Worker    -> RunWorker / FetchAndRun
//	Finisher             -> RunFinisher
//	Sync Driver          -> CompileSync
//	Async Driver         -> AsyncCompileJob
//	Stream Driver        -> StreamingCompileJob
package compile

import (
	"github.com/wazerocore/compile/api"
)

// CompileMode fixes, at CompilationState construction, whether each
// function yields one unit (Regular) or two (Tiering).
type CompileMode int

const (
	ModeRegular CompileMode = iota
	ModeTiering
)

// ExecutionTier routes a finished unit into the correct completion stream.
type ExecutionTier int

const (
	TierBaseline ExecutionTier = iota
	TierOptimized
)

func (t ExecutionTier) String() string {
	if t == TierOptimized {
		return "optimized"
	}
	return "baseline"
}

// TrapHandlerMode selects how out-of-bounds memory accesses are detected.
type TrapHandlerMode int

const (
	TrapHandlerPreferred TrapHandlerMode = iota
	TrapHandlerDisabled
)

// TraceFlags are independent bits enabling trace output for pipeline
// subsystems.
type TraceFlags uint32

const (
	TraceCompiler TraceFlags = 1 << iota
	TraceStreaming
	TraceLazy
	TraceInstances
)

// Config is the runtime-settable configuration consumed by every driver in
// this package. It is immutable once constructed, following a
// `RuntimeConfig`/`clone()`-per-`With*` idiom.
type Config struct {
	Mode                  CompileMode
	LazyCompilation       bool
	NumCompilationTasks   int
	TrapHandlerMode       TrapHandlerMode
	TraceFlags            TraceFlags
	TraceSink             TraceSink
	EnabledFeatures       api.CoreFeatures
	FinisherYieldBudgetNS int64
}

// DefaultConfig returns the documented defaults: Tiering mode,
// foreground+background compilation, preferred trap handling, no tracing,
// and a 1ms finisher yield budget.
func DefaultConfig() Config {
	return Config{
		Mode:                  ModeTiering,
		NumCompilationTasks:   4,
		TrapHandlerMode:       TrapHandlerPreferred,
		EnabledFeatures:       api.CoreFeaturesV1,
		FinisherYieldBudgetNS: 1_000_000,
	}
}

// WithMode returns a copy of c configured for the given CompileMode.
func (c Config) WithMode(m CompileMode) Config {
	c.Mode = m
	return c
}

// WithLazyCompilation returns a copy of c with lazy compilation toggled.
func (c Config) WithLazyCompilation(enabled bool) Config {
	c.LazyCompilation = enabled
	return c
}

// WithNumCompilationTasks returns a copy of c with the worker pool size
// set. Zero means foreground-only, deterministic compilation.
func (c Config) WithNumCompilationTasks(n int) Config {
	c.NumCompilationTasks = n
	return c
}

// WithTrapHandlerMode returns a copy of c with the trap handler mode set.
func (c Config) WithTrapHandlerMode(m TrapHandlerMode) Config {
	c.TrapHandlerMode = m
	return c
}

// WithTraceFlags returns a copy of c with the given trace bits enabled.
func (c Config) WithTraceFlags(f TraceFlags) Config {
	c.TraceFlags = f
	return c
}

// WithTraceSink returns a copy of c that routes trace output enabled by
// TraceFlags to sink instead of discarding it.
func (c Config) WithTraceSink(sink TraceSink) Config {
	c.TraceSink = sink
	return c
}

// WithEnabledFeatures returns a copy of c with the engine-wide enabled
// feature set replaced.
func (c Config) WithEnabledFeatures(f api.CoreFeatures) Config {
	c.EnabledFeatures = f
	return c
}
