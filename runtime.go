// Package compile is the module compilation orchestrator's public surface:
// a host embeds a Runtime, hands it wire bytes through CompileModule (or
// its async and streaming counterparts), and gets back a CompiledModule
// ready for instantiation (instantiation itself is out of scope here).
package compile

import (
	"github.com/wazerocore/compile/api"
	icompile "github.com/wazerocore/compile/internal/compile"
	"github.com/wazerocore/compile/internal/decoder"
	"github.com/wazerocore/compile/internal/task"
	"github.com/wazerocore/compile/internal/wasm"
)

// RuntimeConfig controls how every CompileModule call on a Runtime behaves,
// with NewRuntimeConfig as the default implementation. It follows the same
// clone()-per-With* idiom as the internal compile configuration it wraps,
// so callers never mutate a config another goroutine is reading.
type RuntimeConfig struct {
	inner icompile.Config
}

// NewRuntimeConfig returns a RuntimeConfig with tiering compilation, a
// four-task background worker pool, and v1 core features enabled.
func NewRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{inner: icompile.DefaultConfig()}
}

// WithSingleTier disables tiering: every function compiles once, at the
// baseline tier, and never gets a later optimizing recompile.
func (c RuntimeConfig) WithSingleTier() RuntimeConfig {
	c.inner = c.inner.WithMode(icompile.ModeRegular)
	return c
}

// WithTiering enables two-pass compilation: every function gets a fast
// baseline compile first, then an optimizing recompile in the background.
func (c RuntimeConfig) WithTiering() RuntimeConfig {
	c.inner = c.inner.WithMode(icompile.ModeTiering)
	return c
}

// WithLazyCompilation defers compiling a function until its first call,
// instead of compiling the whole module up front.
func (c RuntimeConfig) WithLazyCompilation(enabled bool) RuntimeConfig {
	c.inner = c.inner.WithLazyCompilation(enabled)
	return c
}

// WithCompilationWorkers sets the background worker pool size. Zero means
// foreground-only, deterministic compilation with no background workers at
// all — useful for tests and for hosts without a task-runner platform.
func (c RuntimeConfig) WithCompilationWorkers(n int) RuntimeConfig {
	c.inner = c.inner.WithNumCompilationTasks(n)
	return c
}

// WithEnabledFeatures replaces the engine-wide enabled core feature set.
func (c RuntimeConfig) WithEnabledFeatures(f api.CoreFeatures) RuntimeConfig {
	c.inner = c.inner.WithEnabledFeatures(f)
	return c
}

// WithTraceFlags enables trace output for the given pipeline subsystems.
// Has no observable effect until a sink is also set with WithTraceSink.
func (c RuntimeConfig) WithTraceFlags(f TraceFlags) RuntimeConfig {
	c.inner = c.inner.WithTraceFlags(f)
	return c
}

// WithTraceSink routes trace output enabled by WithTraceFlags to sink
// instead of discarding it.
func (c RuntimeConfig) WithTraceSink(sink TraceSink) RuntimeConfig {
	c.inner = c.inner.WithTraceSink(sink)
	return c
}

// TraceFlags are independent bits enabling trace output for pipeline
// subsystems; combine them with bitwise OR.
type TraceFlags = icompile.TraceFlags

const (
	TraceCompiler  = icompile.TraceCompiler
	TraceStreaming = icompile.TraceStreaming
	TraceLazy      = icompile.TraceLazy
	TraceInstances = icompile.TraceInstances
)

// TraceSink receives trace output for whichever subsystems TraceFlags
// enables; a host implements this to route trace text to its own logging.
type TraceSink = icompile.TraceSink

// CompiledModule is a module whose functions have finished (at least
// baseline) compilation, ready to be handed to an instance builder. In
// Tiering mode, background workers may still be upgrading functions to the
// optimized tier after CompileModule returns; Close stops them.
type CompiledModule struct {
	Module *wasm.Module
	Native *icompile.NativeModule

	tasks   icompile.TaskManager
	codegen icompile.CodeGenerator
	wire    *icompile.WireBytes
}

// Close cancels any background compilation still in flight for this module
// (top-tier recompiles in Tiering mode) and waits for it to stop. Safe to
// call on a module compiled with no background workers. Idempotent.
func (m *CompiledModule) Close() {
	m.tasks.CancelAndWait()
}

// CompileFunction compiles funcIndex on the caller's goroutine if it hasn't
// been installed yet, and returns the installed code either way. Only
// meaningful on a module compiled with RuntimeConfig.WithLazyCompilation(true);
// calling it on an eagerly-compiled module is harmless but redundant, since
// every function is already installed by the time CompileModule returns.
func (m *CompiledModule) CompileFunction(funcIndex uint32) (*icompile.CompiledFunction, error) {
	return icompile.CompileFunctionLazily(m.Module, m.wire, funcIndex, m.codegen, m.Native)
}

// Resolver is the external continuation for CompileModuleAsync and
// streaming compilation; a host implementation settles a promise or
// future, while tests use a channel-backed implementation.
type Resolver = icompile.Resolver

// ErrAborted is returned or passed to a Resolver when compilation is
// cancelled before it completes.
var ErrAborted = icompile.ErrAborted

// Runtime is the entry point a host constructs once and reuses across
// compiles. It owns the collaborators every driver needs: a decoder, a
// code generator, a wrapper generator, and a task runner.
type Runtime struct {
	cfg      RuntimeConfig
	dec      decoder.Decoder
	codegen  icompile.CodeGenerator
	wrappers icompile.WrapperGenerator
	newTasks func(workers int) (icompile.TaskRunner, icompile.TaskManager)
}

// NewRuntime constructs a Runtime. codegen and wrappers are the host's
// function-level code generator and JS-to-Wasm wrapper generator; this
// repository ships a reference implementation of both in internal/codegen
// but treats them as pluggable external collaborators.
func NewRuntime(cfg RuntimeConfig, codegen icompile.CodeGenerator, wrappers icompile.WrapperGenerator) *Runtime {
	return &Runtime{
		cfg:      cfg,
		dec:      decoder.New(),
		codegen:  codegen,
		wrappers: wrappers,
		newTasks: defaultTaskRunnerFactory,
	}
}

// defaultTaskRunnerFactory selects a real background worker pool
// (internal/task.Runner) when the config asks for workers, or the inline
// internal/task.SyncRunner when it asks for zero — matching
// RuntimeConfig.WithCompilationWorkers(0)'s documented deterministic mode.
func defaultTaskRunnerFactory(workers int) (icompile.TaskRunner, icompile.TaskManager) {
	if workers <= 0 {
		r := task.NewSyncRunner()
		return r, r
	}
	r := task.NewRunner(workers)
	return r, r
}

// CompileModule decodes wireBytes and blocks until at least baseline
// compilation of every function has finished — unless the Runtime was
// configured with WithLazyCompilation(true), in which case it returns
// immediately with nothing compiled, and each function compiles on its
// first CompiledModule.CompileFunction call instead.
func (rt *Runtime) CompileModule(wireBytes []byte) (*CompiledModule, error) {
	module, err := rt.dec.DecodeModule(wireBytes, wasm.OriginWasm, rt.cfg.inner.EnabledFeatures)
	if err != nil {
		return nil, err
	}
	wire := icompile.NewWireBytes(wireBytes)

	if rt.cfg.inner.LazyCompilation {
		native := icompile.NewNativeModule(module, module.FunctionCount())
		native.SetTrace(rt.cfg.inner.TraceFlags, rt.cfg.inner.TraceSink)
		_, tasks := rt.newTasks(0)
		return &CompiledModule{Module: module, Native: native, tasks: tasks, codegen: rt.codegen, wire: wire}, nil
	}

	runner, tasks := rt.newTasks(rt.cfg.inner.NumCompilationTasks)
	native, err := icompile.CompileSync(module, wire, rt.cfg.inner, rt.codegen, runner, tasks)
	if err != nil {
		tasks.CancelAndWait()
		return nil, err
	}
	return &CompiledModule{Module: module, Native: native, tasks: tasks, codegen: rt.codegen, wire: wire}, nil
}

// CompileModuleAsync starts a non-blocking compile and returns immediately;
// resolver is notified on a foreground task once the module either finishes
// or fails.
func (rt *Runtime) CompileModuleAsync(wireBytes []byte, resolver Resolver) *icompile.AsyncCompileJob {
	runner, tasks := rt.newTasks(rt.cfg.inner.NumCompilationTasks)
	job := icompile.NewAsyncCompileJob(wireBytes, rt.cfg.inner, rt.decodeModule, rt.codegen, rt.wrappers, runner, tasks, resolver)
	job.Start()
	return job
}

func (rt *Runtime) decodeModule(wireBytes []byte) (*wasm.Module, error) {
	return rt.dec.DecodeModule(wireBytes, wasm.OriginWasm, rt.cfg.inner.EnabledFeatures)
}

// NewStreamingCompile starts a new incremental compile. The caller feeds it
// the module header, each section, and each function body as they arrive
// (e.g. off an HTTP response body), then calls OnFinishedStream once the
// byte stream ends.
func (rt *Runtime) NewStreamingCompile(resolver Resolver) *icompile.StreamingCompileJob {
	runner, tasks := rt.newTasks(rt.cfg.inner.NumCompilationTasks)
	job := icompile.NewStreamingCompileJob(rt.cfg.inner, rt.codegen, rt.wrappers, runner, tasks, resolver)
	job.Start(wasm.OriginWasm, rt.cfg.inner.EnabledFeatures)
	return job
}
