package compile

import (
	"sync"
	"sync/atomic"

	"github.com/wazerocore/compile/api"
)

// CompilationState is the per-module coordinator: queues, counters, error
// latch, event callbacks, and worker accounting. One CompilationState
// exists per in-flight compile (sync, async, or streaming); it is
// destroyed once its driver finishes.
type CompilationState struct {
	mode CompileMode

	// mu guards every field below up to (not including) compileErr, which
	// is a lock-free atomic optional error record with acquire/release
	// semantics.
	mu sync.Mutex

	pendingBaseline, pendingTiering   unitStack
	finishedBaseline, finishedTiering unitStack

	outstandingBaseline, outstandingTiering int
	totalSet                                bool

	detectedFeatures api.CoreFeatures

	numWorkersRunning, maxWorkers int
	finisherRunning               bool
	finisherBudgetNanos           int64

	traceFlags TraceFlags
	traceSink  TraceSink

	callbacks []EventCallback

	wire *WireBytes

	native  *NativeModule
	codegen CodeGenerator
	runner  TaskRunner
	tasks   TaskManager

	cancelled bool

	// compileErr holds an errBox wrapping the latched error (a *CompileError
	// from a worker, or ErrAborted from Abort), or nil. Stored with release
	// semantics, loaded with acquire for inspection, and with relaxed
	// ordering (via plain atomic.Value load, Go gives no cheaper option)
	// for the fast-path check in worker loops — see Failed().
	compileErr atomic.Value
}

// NewCompilationState constructs a CompilationState in its initial,
// freshly-created state. maxWorkers bounds concurrent background workers;
// clamping it to the host's worker count is the caller's responsibility —
// a Config.NumCompilationTasks of zero means "foreground only" and the
// caller should pass a TaskRunner whose PostWorker is synchronous, not
// maxWorkers=0. finisherBudgetNanos is the foreground time budget passed
// to every RunFinisher invocation; a value <= 0 falls back to
// defaultFinisherBudgetNanos.
func NewCompilationState(mode CompileMode, maxWorkers int, finisherBudgetNanos int64, runner TaskRunner, tasks TaskManager, codegen CodeGenerator, native *NativeModule) *CompilationState {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if finisherBudgetNanos <= 0 {
		finisherBudgetNanos = defaultFinisherBudgetNanos
	}
	return &CompilationState{
		mode:                mode,
		maxWorkers:          maxWorkers,
		finisherBudgetNanos: finisherBudgetNanos,
		runner:              runner,
		tasks:               tasks,
		codegen:             codegen,
		native:              native,
	}
}

// AddCallback registers an event sink. Mutated only from the foreground,
// so callers must not call this concurrently with event delivery from a
// different goroutine.
func (s *CompilationState) AddCallback(cb EventCallback) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

func (s *CompilationState) fire(e Event) {
	s.mu.Lock()
	cbs := append([]EventCallback(nil), s.callbacks...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(e)
	}
}

// SetWireBytesStorage installs the shared, reference-counted wire-bytes
// handle so that workers spawned after this call may read it.
func (s *CompilationState) SetWireBytesStorage(w *WireBytes) {
	s.mu.Lock()
	s.wire = w
	s.mu.Unlock()
}

// SetTotal sets the outstanding-unit counters. Must be called exactly once
// before the first AddUnits call; it fails if called more than once or
// after an error has already been latched.
func (s *CompilationState) SetTotal(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.totalSet {
		return errAlreadyStarted
	}
	if s.Failed() {
		return ErrAborted
	}
	s.outstandingBaseline = n
	if s.mode == ModeTiering {
		s.outstandingTiering = n
	}
	s.totalSet = true
	return nil
}

var errAlreadyStarted = &stateError{"set_total called more than once"}

type stateError struct{ msg string }

func (e *stateError) Error() string { return e.msg }

// AddUnits appends newly-built units to the pending queues and restarts
// the worker pool to drain them. Called by UnitBuilder.Commit.
func (s *CompilationState) AddUnits(baseline, tiering []*Unit) {
	if s.Failed() {
		return
	}
	s.mu.Lock()
	for _, u := range baseline {
		s.pendingBaseline.push(u)
	}
	for _, u := range tiering {
		s.pendingTiering.push(u)
	}
	s.mu.Unlock()
	s.RestartWorkers(-1) // -1 == unbounded
}

// NextUnit pops the next pending unit for a worker to compile, preferring
// baseline work until it is exhausted.
func (s *CompilationState) NextUnit() (*Unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.pendingBaseline.pop(); ok {
		return u, true
	}
	return s.pendingTiering.pop()
}

// NextFinished pops the next unit ready for finalization. While baseline
// work is still outstanding, baseline-finished units are drained first, so
// that FinishedBaselineCompilation can fire as early as possible even in
// Tiering mode.
func (s *CompilationState) NextFinished() (*Unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstandingBaseline > 0 {
		if u, ok := s.finishedBaseline.pop(); ok {
			return u, true
		}
		return nil, false
	}
	if u, ok := s.finishedBaseline.pop(); ok {
		return u, true
	}
	return s.finishedTiering.pop()
}

// ScheduleForFinishing pushes a worker's result onto the appropriate
// finished queue and, if no finisher is currently running and the state
// hasn't failed, posts a new finisher task.
func (s *CompilationState) ScheduleForFinishing(unit *Unit, tier ExecutionTier) {
	s.mu.Lock()
	if tier == TierBaseline {
		s.finishedBaseline.push(unit)
	} else {
		s.finishedTiering.push(unit)
	}
	needFinisher := !s.finisherRunning && !s.failedLocked()
	if needFinisher {
		s.finisherRunning = true
	}
	s.mu.Unlock()

	if needFinisher {
		s.runner.PostForeground(func() { RunFinisher(s, s.finisherBudgetNanos) })
	}
}

// OnFinishedUnit decrements the outstanding counter for tier and fires the
// corresponding completion event(s) when it reaches zero. In Regular mode FinishedTopTierCompilation fires simultaneously with
// FinishedBaselineCompilation, since every unit is a baseline unit there.
func (s *CompilationState) OnFinishedUnit(tier ExecutionTier) {
	s.mu.Lock()
	var fireBaseline, fireTopTier bool
	if tier == TierBaseline {
		s.outstandingBaseline--
		if s.outstandingBaseline == 0 {
			fireBaseline = true
			if s.mode == ModeRegular {
				fireTopTier = true
			}
		}
	} else {
		s.outstandingTiering--
		if s.outstandingTiering == 0 && s.outstandingBaseline == 0 {
			fireTopTier = true
		}
	}
	failed := s.failedLocked()
	s.mu.Unlock()

	if failed {
		return
	}
	if fireBaseline {
		s.fire(EventFinishedBaselineCompilation)
	}
	if fireTopTier {
		s.fire(EventFinishedTopTierCompilation)
	}
}

// SetError attempts to latch compile_error. Only the first call wins: it
// stores the error and posts a foreground task that fires
// FailedCompilation; every subsequent call (even with a different err) is
// ignored, guaranteeing exactly one FailedCompilation
// event ever fires.
func (s *CompilationState) SetError(err error) {
	if !s.compileErr.CompareAndSwap(nil, errBox{err}) {
		return
	}
	s.drainQueuesLocked()
	s.runner.PostForeground(func() { s.fire(EventFailedCompilation) })
}

// errBox works around atomic.Value requiring a consistent concrete type
// across Store calls, since the error values passed to SetError may have
// different dynamic types (*CompileError from workers, ErrAborted from
// Abort, ...).
type errBox struct{ err error }

func (s *CompilationState) drainQueuesLocked() {
	s.mu.Lock()
	s.pendingBaseline.drain()
	s.pendingTiering.drain()
	s.finishedBaseline.drain()
	s.finishedTiering.drain()
	s.mu.Unlock()
}

// Failed reports whether the error latch has been set. This is the
// lock-free fast path used in worker loops.
func (s *CompilationState) Failed() bool {
	return s.compileErr.Load() != nil
}

func (s *CompilationState) failedLocked() bool {
	return s.compileErr.Load() != nil
}

// CompileError returns the latched error, or nil if none has been set.
func (s *CompilationState) CompileError() error {
	v := s.compileErr.Load()
	if v == nil {
		return nil
	}
	return v.(errBox).err
}

// Abort latches a generic error if none is set yet, cancels all background
// tasks and waits for them, then releases callback resources on the
// foreground. Idempotent.
func (s *CompilationState) Abort() {
	s.SetError(ErrAborted)
	s.tasks.CancelAndWait()
	s.runner.PostForeground(func() {
		s.mu.Lock()
		s.callbacks = nil
		s.mu.Unlock()
	})
}

// CancelAndWait blocks until every background and foreground task spawned
// by this state has completed or been cancelled. Idempotent.
func (s *CompilationState) CancelAndWait() {
	s.tasks.CancelAndWait()
}

// RestartWorkers computes how many new workers can be spawned right now
// (bounded by max, by the number of pending units, and by remaining worker
// capacity) and spawns exactly that many. Pass a negative max to spawn as
// many as capacity and pending work allow.
func (s *CompilationState) RestartWorkers(max int) {
	s.mu.Lock()
	pending := s.pendingBaseline.len() + s.pendingTiering.len()
	capacity := s.maxWorkers - s.numWorkersRunning
	n := capacity
	if pending < n {
		n = pending
	}
	if max >= 0 && max < n {
		n = max
	}
	if n < 0 {
		n = 0
	}
	s.numWorkersRunning += n
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		s.runner.PostWorker(func() { RunWorker(s) })
	}
}

// OnWorkerStopped accounts for one fewer running worker and unions its
// locally-detected features into the module-wide set.
func (s *CompilationState) OnWorkerStopped(detected api.CoreFeatures) {
	s.mu.Lock()
	s.numWorkersRunning--
	s.detectedFeatures = s.detectedFeatures.Union(detected)
	s.mu.Unlock()
}

// SetFinisherRunning compare-and-sets finisher_running to value, returning
// whether it actually changed.
func (s *CompilationState) SetFinisherRunning(value bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.finisherRunning != value
	s.finisherRunning = value
	return changed
}

func (s *CompilationState) finisherRunningValue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finisherRunning
}

// PublishFeatures unions detected into the module-wide feature set.
// A real host would additionally report feature usage via telemetry; this
// repository has no such external collaborator, so publishing is local.
func (s *CompilationState) PublishFeatures(detected api.CoreFeatures) {
	s.mu.Lock()
	s.detectedFeatures = s.detectedFeatures.Union(detected)
	s.mu.Unlock()
}

// DetectedFeatures returns the features unioned across every compiled
// function so far.
func (s *CompilationState) DetectedFeatures() api.CoreFeatures {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectedFeatures
}

// SetTrace enables TraceCompiler output on sink for every subsequent
// unit compiled by a worker through this state.
func (s *CompilationState) SetTrace(flags TraceFlags, sink TraceSink) {
	s.traceFlags = flags
	s.traceSink = sink
}

func (s *CompilationState) trace(flag TraceFlags, format string, args ...interface{}) {
	emitTrace(s.traceSink, s.traceFlags, flag, format, args...)
}

// NativeModule returns the NativeModule code is installed into.
func (s *CompilationState) NativeModule() *NativeModule { return s.native }

// Generator returns the code generator workers call.
func (s *CompilationState) Generator() CodeGenerator { return s.codegen }

// WireBytes returns the shared wire-bytes handle.
func (s *CompilationState) WireBytes() *WireBytes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wire
}

// OutstandingCounts returns a snapshot of the two outstanding counters,
// exposed for the Sync Driver's completion check and tests.
func (s *CompilationState) OutstandingCounts() (baseline, tiering int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstandingBaseline, s.outstandingTiering
}
