package compile

import (
	"sync"

	"github.com/wazerocore/compile/api"
	"github.com/wazerocore/compile/internal/decoder"
	"github.com/wazerocore/compile/internal/wasm"
)

// StreamingCompileJob drives compilation incrementally as a framer feeds it
// one module header, one section, and one function body at a time, rather
// than requiring the whole module up front. As soon as the function section
// has been parsed, it starts publishing Units for each function body as
// that body arrives — compilation overlaps the remainder of decoding
// instead of waiting for end of stream.
//
// Two independent completion paths must both land before the job resolves:
// the incremental decode reaching OnFinishedStream, and the
// CompilationState finishing baseline compilation. That rendezvous is
// outstandingFinishers, seeded at 2.
type StreamingCompileJob struct {
	cfg      Config
	dec      decoder.IncrementalDecoder
	codegen  CodeGenerator
	wrappers WrapperGenerator
	runner   TaskRunner
	tasks    TaskManager
	resolver Resolver

	mu                   sync.Mutex
	outstandingFinishers int
	resolved             bool
	aborted              bool

	builder *UnitBuilder
	wire    *WireBytes
	module  *wasm.Module
	state   *CompilationState
	native  *NativeModule
}

// NewStreamingCompileJob constructs a job. Callers must call Start before
// feeding it any bytes.
func NewStreamingCompileJob(cfg Config, codegen CodeGenerator, wrappers WrapperGenerator, runner TaskRunner, tasks TaskManager, resolver Resolver) *StreamingCompileJob {
	return &StreamingCompileJob{
		cfg: cfg, dec: decoder.New(), codegen: codegen, wrappers: wrappers,
		runner: runner, tasks: tasks, resolver: resolver,
		outstandingFinishers: 2,
	}
}

// Start resets the job for a new stream.
func (j *StreamingCompileJob) Start(origin wasm.Origin, features api.CoreFeatures) {
	j.dec.Start(origin, features)
}

// ProcessModuleHeader parses the 8-byte magic+version header.
func (j *StreamingCompileJob) ProcessModuleHeader(b []byte, offset uint64) error {
	if err := j.dec.DecodeModuleHeader(b, offset); err != nil {
		j.OnError(err)
		return err
	}
	return nil
}

// ProcessSection parses one non-code section. Once the function section has
// been seen, the job has enough information (function count, import count)
// to start compiling, even though no function bodies have arrived yet.
func (j *StreamingCompileJob) ProcessSection(id wasm.SectionID, b []byte, offset uint64) error {
	if err := j.dec.DecodeSection(id, b, offset); err != nil {
		j.OnError(err)
		return err
	}
	emitTrace(j.cfg.TraceSink, j.cfg.TraceFlags, TraceStreaming, "decoded section %d (%d bytes)", id, len(b))
	if id == wasm.SectionIDFunction {
		j.initCompileState()
	}
	return nil
}

// ProcessCodeSectionHeader cross-checks the code section's declared vector
// length against the function section's length before any bodies are read.
func (j *StreamingCompileJob) ProcessCodeSectionHeader(count uint32) error {
	if err := j.dec.CheckFunctionsCount(count); err != nil {
		j.OnError(err)
		return err
	}
	return nil
}

// ProcessFunctionBody parses one function body and immediately publishes it
// as a compilation Unit, so a background worker may start on it before the
// rest of the code section has arrived.
func (j *StreamingCompileJob) ProcessFunctionBody(index uint32, b []byte, offset uint64) error {
	if err := j.dec.DecodeFunctionBody(index, b, offset); err != nil {
		j.OnError(err)
		return err
	}
	emitTrace(j.cfg.TraceSink, j.cfg.TraceFlags, TraceStreaming, "decoded function body %d (%d bytes)", index, len(b))
	if j.builder != nil {
		j.builder.Add(uint32(j.module.ImportFuncCount()) + index)
		j.builder.Commit()
	}
	return nil
}

// OnFinishedStream signals that no more bytes are coming. It completes
// decoding and settles the decode half of the finisher rendezvous. A module
// with no function section at all never triggers initCompileState from
// ProcessSection, so this also covers that case.
func (j *StreamingCompileJob) OnFinishedStream() {
	module, err := j.dec.FinishDecoding(false)
	if err != nil {
		j.OnError(err)
		return
	}
	if j.state == nil {
		j.startCompileState(module)
	}
	j.decrementFinishers()
}

// OnError aborts the job with a decode-time error.
func (j *StreamingCompileJob) OnError(err error) {
	j.markAborted()
	if j.state != nil {
		j.state.Abort()
	}
	j.resolveFailure(err)
}

// OnAbort cancels an in-flight streaming job, e.g. because the network
// connection delivering chunks closed early.
func (j *StreamingCompileJob) OnAbort() {
	j.OnError(ErrAborted)
}

func (j *StreamingCompileJob) initCompileState() {
	if j.state != nil {
		return
	}
	module := j.dec.Module()
	if module == nil {
		return
	}
	j.startCompileState(module)
}

func (j *StreamingCompileJob) startCompileState(module *wasm.Module) {
	if j.state != nil {
		return
	}
	size := len(module.FunctionSection)
	j.module = module
	j.native = NewNativeModule(module, size)
	j.native.SetTrace(j.cfg.TraceFlags, j.cfg.TraceSink)
	j.state = NewCompilationState(j.cfg.Mode, j.cfg.NumCompilationTasks, j.cfg.FinisherYieldBudgetNS, j.runner, j.tasks, j.codegen, j.native)
	j.state.SetTrace(j.cfg.TraceFlags, j.cfg.TraceSink)
	j.wire = NewWireBytes(nil)
	j.state.SetWireBytesStorage(j.wire)
	j.builder = NewUnitBuilder(j.state, module, j.wire)

	j.state.AddCallback(func(e Event) {
		switch e {
		case EventFinishedBaselineCompilation:
			j.onCompileFinished()
		case EventFailedCompilation:
			j.onCompileFailed(j.state.CompileError())
		}
	})

	if err := j.state.SetTotal(size); err != nil {
		j.onCompileFailed(err)
		return
	}
	if size == 0 {
		// No locally-defined functions: baseline compilation is trivially
		// complete and OnFinishedUnit will never be called to say so.
		j.onCompileFinished()
	}
}

func (j *StreamingCompileJob) onCompileFailed(err error) {
	j.markAborted()
	j.resolveFailure(err)
}

func (j *StreamingCompileJob) onCompileFinished() {
	j.decrementFinishers()
}

func (j *StreamingCompileJob) decrementFinishers() {
	j.mu.Lock()
	j.outstandingFinishers--
	ready := j.outstandingFinishers == 0
	j.mu.Unlock()
	if ready {
		j.runner.PostForeground(j.resolveSuccess)
	}
}

func (j *StreamingCompileJob) resolveSuccess() {
	if !j.markResolved() {
		return
	}
	j.resolver.OnSuccess(j.native)
}

func (j *StreamingCompileJob) resolveFailure(err error) {
	j.runner.PostForeground(func() {
		if !j.markResolved() {
			return
		}
		j.resolver.OnFailure(err)
	})
}

func (j *StreamingCompileJob) markResolved() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.resolved {
		return false
	}
	j.resolved = true
	return true
}

func (j *StreamingCompileJob) markAborted() {
	j.mu.Lock()
	j.aborted = true
	j.mu.Unlock()
}
