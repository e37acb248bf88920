package compile

import (
	"sync"

	"github.com/wazerocore/compile/api"
	"github.com/wazerocore/compile/internal/wasm"
)

// AsyncCompileJob is a self-driving state machine that advances itself
// through decode, compile, wrapper generation, and finish by repeatedly
// posting its own continuation back onto the host's TaskRunner. It never
// blocks the caller of Start: every step after the first runs on a
// foreground or worker task.
type AsyncCompileJob struct {
	cfg      Config
	decode   func([]byte) (*wasm.Module, error)
	codegen  CodeGenerator
	wrappers WrapperGenerator
	runner   TaskRunner
	tasks    TaskManager
	resolver Resolver

	wireBytes []byte

	mu         sync.Mutex
	cancelled  bool
	generation int

	outstandingFinishers int
	resolved             bool

	module *wasm.Module
	state  *CompilationState
	native *NativeModule
}

// NewAsyncCompileJob constructs a job but does not start it; call Start.
func NewAsyncCompileJob(wireBytes []byte, cfg Config, decode func([]byte) (*wasm.Module, error), codegen CodeGenerator, wrappers WrapperGenerator, runner TaskRunner, tasks TaskManager, resolver Resolver) *AsyncCompileJob {
	return &AsyncCompileJob{
		cfg: cfg, decode: decode, codegen: codegen, wrappers: wrappers,
		runner: runner, tasks: tasks, resolver: resolver, wireBytes: wireBytes,
	}
}

// Start posts the job's first step, Decode, to the worker pool, since
// parsing a binary module is CPU-bound and must not block the foreground.
func (j *AsyncCompileJob) Start() {
	j.postWorker(j.stepDecode)
}

// Cancel marks the job cancelled and bumps its generation counter, so any
// foreground or worker task this job already posted but which has not yet
// run becomes stale and no-ops when it does run — there is no handle to
// reach into the host's task queue and remove it directly. If compilation
// has already begun, the underlying CompilationState is aborted too, which
// unblocks any background workers waiting on the error latch. Because every
// task posted by this job is now stale, Cancel settles the Resolver itself,
// on the calling goroutine, with ErrAborted (unless it was already settled).
func (j *AsyncCompileJob) Cancel() {
	j.mu.Lock()
	j.cancelled = true
	j.generation++
	state := j.state
	j.mu.Unlock()
	if state != nil {
		state.Abort()
	}
	if j.markResolved() {
		j.resolver.OnFailure(ErrAborted)
	}
}

func (j *AsyncCompileJob) postForeground(fn func()) {
	j.mu.Lock()
	gen := j.generation
	j.mu.Unlock()
	j.runner.PostForeground(func() {
		if j.stale(gen) {
			return
		}
		fn()
	})
}

func (j *AsyncCompileJob) postWorker(fn func()) {
	j.mu.Lock()
	gen := j.generation
	j.mu.Unlock()
	j.runner.PostWorker(func() {
		if j.stale(gen) {
			return
		}
		fn()
	})
}

func (j *AsyncCompileJob) stale(gen int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled || gen != j.generation
}

// stepDecode parses the wire bytes into a Module. A decode failure and a
// compile failure both funnel into stepCompileFailed so the resolver sees
// one failure path regardless of which phase produced the error.
func (j *AsyncCompileJob) stepDecode() {
	module, err := j.decode(j.wireBytes)
	if err != nil {
		j.postForeground(func() { j.stepCompileFailed(err) })
		return
	}
	j.module = module
	j.postForeground(j.stepPrepareAndStartCompile)
}

// stepPrepareAndStartCompile builds the CompilationState, publishes every
// function as a Unit, and registers the callback that watches for the
// event that lets FinishModule run. It then kicks wrapper generation off
// in parallel on the worker pool: Finish must wait on both paths, tracked
// by outstandingFinishers.
func (j *AsyncCompileJob) stepPrepareAndStartCompile() {
	wire := NewWireBytes(j.wireBytes)
	j.native = NewNativeModule(j.module, j.module.FunctionCount())
	j.native.SetTrace(j.cfg.TraceFlags, j.cfg.TraceSink)
	j.state = NewCompilationState(j.cfg.Mode, j.cfg.NumCompilationTasks, j.cfg.FinisherYieldBudgetNS, j.runner, j.tasks, j.codegen, j.native)
	j.state.SetTrace(j.cfg.TraceFlags, j.cfg.TraceSink)
	j.state.SetWireBytesStorage(wire)

	j.mu.Lock()
	j.outstandingFinishers = 2 // main compile path + wrapper generation path
	j.mu.Unlock()

	j.state.AddCallback(func(e Event) {
		switch e {
		case EventFinishedBaselineCompilation:
			j.onFinisherDone()
		case EventFailedCompilation:
			j.postForeground(func() { j.stepCompileFailed(j.state.CompileError()) })
		}
	})

	if err := j.state.SetTotal(j.module.FunctionCount()); err != nil {
		j.stepCompileFailed(err)
		return
	}
	builder := NewUnitBuilder(j.state, j.module, wire)
	for localIdx := range j.module.CodeSection {
		builder.Add(uint32(j.module.ImportFuncCount() + localIdx))
	}
	builder.Commit()

	if j.module.FunctionCount() == 0 {
		// No locally-defined functions: no unit will ever reach
		// OnFinishedUnit, so EventFinishedBaselineCompilation will never
		// fire. Settle the compile half of the rendezvous directly.
		j.onFinisherDone()
	}

	j.postWorker(j.stepCompileWrappers)
}

// stepCompileWrappers generates one JS-to-Wasm adapter per export, then
// signals its half of the finisher rendezvous. A module with no function
// exports still runs this step so the rendezvous count is symmetric.
func (j *AsyncCompileJob) stepCompileWrappers() {
	for _, exp := range j.module.ExportSection {
		if exp.Type != api.ExternTypeFunc {
			continue
		}
		sig := j.signatureOf(exp.Index)
		if sig == nil {
			continue
		}
		isImport := int(exp.Index) < j.module.ImportFuncCount()
		if _, err := j.wrappers.CompileJSToWasm(j.module, sig, isImport); err != nil {
			j.postForeground(func() { j.stepCompileFailed(err) })
			return
		}
	}
	j.onFinisherDone()
}

// signatureOf resolves the signature of an absolute function index,
// whether it names an imported or a locally-defined function; Module's own
// TypeOfFunction only handles the local case.
func (j *AsyncCompileJob) signatureOf(idx uint32) *wasm.FunctionType {
	if int(idx) >= j.module.ImportFuncCount() {
		return j.module.TypeOfFunction(idx)
	}
	n := 0
	for _, imp := range j.module.ImportSection {
		if imp.Type != api.ExternTypeFunc {
			continue
		}
		if uint32(n) == idx {
			return &j.module.TypeSection[imp.DescFuncTypeIndex]
		}
		n++
	}
	return nil
}

func (j *AsyncCompileJob) onFinisherDone() {
	j.mu.Lock()
	j.outstandingFinishers--
	ready := j.outstandingFinishers == 0
	j.mu.Unlock()
	if ready {
		j.postForeground(j.stepFinishModule)
	}
}

// stepFinishModule is the terminal success step: it hands the caller's
// Resolver the finished module. In Tiering mode, top-tier units may still
// be compiling in the background and will upgrade NativeModule entries in
// place as they land; the resolver is not blocked on them.
func (j *AsyncCompileJob) stepFinishModule() {
	if !j.markResolved() {
		return
	}
	j.resolver.OnSuccess(j.native)
}

// stepCompileFailed is the terminal failure step, reached from decode,
// prepare, wrapper generation, or the state's own error latch. Guarded by
// markResolved so a wrapper-generation failure racing a successful main
// compile path (or vice versa) settles the resolver exactly once.
func (j *AsyncCompileJob) stepCompileFailed(err error) {
	if !j.markResolved() {
		return
	}
	if j.state != nil {
		j.state.CancelAndWait()
	}
	j.resolver.OnFailure(err)
}

// markResolved reports whether this call is the first to reach a terminal
// step, atomically claiming that status if so.
func (j *AsyncCompileJob) markResolved() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.resolved {
		return false
	}
	j.resolved = true
	return true
}
