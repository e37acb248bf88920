package compile_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wazerocore/compile/api"
	"github.com/wazerocore/compile/internal/compile"
	"github.com/wazerocore/compile/internal/task"
	"github.com/wazerocore/compile/internal/wasm"
)

// fakeGenerator compiles every unit to a one-byte placeholder, unless its
// function index is listed in fail, in which case it returns an error.
type fakeGenerator struct {
	fail map[uint32]bool
}

func (g *fakeGenerator) Compile(_ context.Context, unit *compile.Unit, _ *api.CoreFeatures, _ compile.MetricsSink) (*compile.CompiledFunction, error) {
	if g.fail[unit.FuncIndex] {
		return nil, fmt.Errorf("boom at %d", unit.FuncIndex)
	}
	return &compile.CompiledFunction{Index: unit.FuncIndex, Tier: unit.Tier, Code: []byte{byte(unit.Tier)}}, nil
}

func moduleWithFunctions(n int) *wasm.Module {
	m := &wasm.Module{
		Origin:          wasm.OriginWasm,
		TypeSection:     []wasm.FunctionType{{}},
		FunctionSection: make([]uint32, n),
		CodeSection:     make([]wasm.Code, n),
	}
	for i := range m.CodeSection {
		m.CodeSection[i] = wasm.Code{Body: []byte{0x0b}}
	}
	return m
}

func TestCompileSync_Sequential_EmptyModule(t *testing.T) {
	m := moduleWithFunctions(0)
	wire := compile.NewWireBytes(nil)
	cfg := compile.DefaultConfig().WithNumCompilationTasks(0)
	runner := task.NewSyncRunner()

	native, err := compile.CompileSync(m, wire, cfg, &fakeGenerator{}, runner, runner)
	require.NoError(t, err)
	require.NotNil(t, native)
}

func TestCompileSync_Sequential_TwoFunctions_Regular(t *testing.T) {
	m := moduleWithFunctions(2)
	wire := compile.NewWireBytes(nil)
	cfg := compile.DefaultConfig().WithMode(compile.ModeRegular).WithNumCompilationTasks(0)
	runner := task.NewSyncRunner()

	native, err := compile.CompileSync(m, wire, cfg, &fakeGenerator{}, runner, runner)
	require.NoError(t, err)
	for i := uint32(0); i < 2; i++ {
		fn, ok := native.Lookup(i)
		require.True(t, ok)
		require.Equal(t, compile.TierBaseline, fn.Tier)
	}
}

func TestCompileSync_Parallel_TwoFunctions_Tiering(t *testing.T) {
	m := moduleWithFunctions(2)
	wire := compile.NewWireBytes(nil)
	cfg := compile.DefaultConfig().WithMode(compile.ModeTiering).WithNumCompilationTasks(2)
	runner := task.NewSyncRunner()

	native, err := compile.CompileSync(m, wire, cfg, &fakeGenerator{}, runner, runner)
	require.NoError(t, err)
	for i := uint32(0); i < 2; i++ {
		fn, ok := native.Lookup(i)
		require.True(t, ok)
		// With an inline (synchronous) runner both tiers finish before
		// CompileSync returns, so the optimized result should have already
		// superseded the baseline one.
		require.Equal(t, compile.TierOptimized, fn.Tier)
	}
}

func TestCompileSync_Parallel_ThreeFunctionsOneFails(t *testing.T) {
	m := moduleWithFunctions(3)
	wire := compile.NewWireBytes(nil)
	cfg := compile.DefaultConfig().WithMode(compile.ModeRegular).WithNumCompilationTasks(2)
	runner := task.NewSyncRunner()
	gen := &fakeGenerator{fail: map[uint32]bool{1: true}}

	native, err := compile.CompileSync(m, wire, cfg, gen, runner, runner)
	require.Error(t, err)
	require.Nil(t, native)
	require.Equal(t, `Compiling wasm function "wasm-function[1]" failed: boom at 1`, err.Error())
}

// TestCompileSync_Parallel_RealWorkerPoolDoesNotRaceTheCallingFinisher runs
// compileParallel against a real goroutine-backed task.Runner instead of
// the inline SyncRunner the other parallel tests use: with a real pool, a
// worker finishing a unit runs ScheduleForFinishing concurrently with the
// calling goroutine's own drainFinished loop. If the calling goroutine
// hadn't claimed finisher_running before publishing units, a worker could
// observe it false and post a second RunFinisher onto the runner's
// foreground goroutine, installing code from two goroutines at once.
func TestCompileSync_Parallel_RealWorkerPoolDoesNotRaceTheCallingFinisher(t *testing.T) {
	m := moduleWithFunctions(50)
	wire := compile.NewWireBytes(nil)
	cfg := compile.DefaultConfig().WithMode(compile.ModeTiering).WithNumCompilationTasks(8)
	runner := task.NewRunner(8)
	defer runner.CancelAndWait()

	native, err := compile.CompileSync(m, wire, cfg, &fakeGenerator{}, runner, runner)
	require.NoError(t, err)
	for i := uint32(0); i < 50; i++ {
		fn, ok := native.Lookup(i)
		require.True(t, ok)
		require.NotNil(t, fn)
	}
}

// recordingResolver captures the single terminal call a Resolver may
// receive.
type recordingResolver struct {
	success *compile.NativeModule
	failure error
}

func (r *recordingResolver) OnSuccess(m *compile.NativeModule) { r.success = m }
func (r *recordingResolver) OnFailure(err error)               { r.failure = err }

func decodeOK(m *wasm.Module) func([]byte) (*wasm.Module, error) {
	return func([]byte) (*wasm.Module, error) { return m, nil }
}

func TestAsyncCompileJob_Success(t *testing.T) {
	m := moduleWithFunctions(2)
	m.ExportSection = []wasm.Export{{Name: "f", Type: api.ExternTypeFunc, Index: 0}}
	runner := task.NewSyncRunner()
	res := &recordingResolver{}

	job := compile.NewAsyncCompileJob([]byte("ignored"), compile.DefaultConfig().WithNumCompilationTasks(1),
		decodeOK(m), &fakeGenerator{}, fakeWrapperGenerator{}, runner, runner, res)
	job.Start()

	require.NotNil(t, res.success)
	require.Nil(t, res.failure)
	fn, ok := res.success.Lookup(0)
	require.True(t, ok)
	require.NotNil(t, fn)
}

func TestAsyncCompileJob_CompileFailurePropagatesToResolver(t *testing.T) {
	m := moduleWithFunctions(2)
	runner := task.NewSyncRunner()
	res := &recordingResolver{}
	gen := &fakeGenerator{fail: map[uint32]bool{0: true}}

	job := compile.NewAsyncCompileJob([]byte("ignored"), compile.DefaultConfig().WithNumCompilationTasks(1),
		decodeOK(m), gen, fakeWrapperGenerator{}, runner, runner, res)
	job.Start()

	require.Nil(t, res.success)
	require.Error(t, res.failure)
}

// TestAsyncCompileJob_EmptyModuleResolvesImmediately covers spec scenario 1:
// a module with zero compilable functions must still resolve, since no unit
// will ever fire EventFinishedBaselineCompilation to settle the compile
// half of the outstandingFinishers rendezvous.
func TestAsyncCompileJob_EmptyModuleResolvesImmediately(t *testing.T) {
	m := moduleWithFunctions(0)
	runner := task.NewSyncRunner()
	res := &recordingResolver{}

	job := compile.NewAsyncCompileJob([]byte("ignored"), compile.DefaultConfig(),
		decodeOK(m), &fakeGenerator{}, fakeWrapperGenerator{}, runner, runner, res)
	job.Start()

	require.NoError(t, res.failure)
	require.NotNil(t, res.success)
}

func TestAsyncCompileJob_DecodeFailurePropagatesToResolver(t *testing.T) {
	runner := task.NewSyncRunner()
	res := &recordingResolver{}
	decodeErr := fmt.Errorf("bad magic")

	job := compile.NewAsyncCompileJob([]byte("junk"), compile.DefaultConfig(),
		func([]byte) (*wasm.Module, error) { return nil, decodeErr },
		&fakeGenerator{}, fakeWrapperGenerator{}, runner, runner, res)
	job.Start()

	require.Nil(t, res.success)
	require.ErrorIs(t, res.failure, decodeErr)
}

// slowGenerator holds every worker for a short, fixed duration before
// returning a placeholder result, simulating real compilation work long
// enough for a concurrently-issued Cancel to land mid-flight.
type slowGenerator struct{ delay time.Duration }

func (g slowGenerator) Compile(_ context.Context, unit *compile.Unit, _ *api.CoreFeatures, _ compile.MetricsSink) (*compile.CompiledFunction, error) {
	time.Sleep(g.delay)
	return &compile.CompiledFunction{Index: unit.FuncIndex, Tier: unit.Tier, Code: []byte{0}}, nil
}

// TestAsyncCompileJob_CancelDuringCompilationAbortsAndReportsFailure starts
// a real goroutine-backed compile of many functions, cancels it while
// workers are still running, and verifies the resolver is settled with a
// failure (never silently hangs, never succeeds) with no deadlock.
func TestAsyncCompileJob_CancelDuringCompilationAbortsAndReportsFailure(t *testing.T) {
	m := moduleWithFunctions(100)
	runner := task.NewRunner(4)
	defer runner.CancelAndWait()

	done := make(chan struct{})
	res := &syncResolver{done: done}

	job := compile.NewAsyncCompileJob([]byte("ignored"), compile.DefaultConfig().WithNumCompilationTasks(4),
		decodeOK(m), slowGenerator{delay: 10 * time.Millisecond}, fakeWrapperGenerator{}, runner, runner, res)
	job.Start()

	time.Sleep(10 * time.Millisecond)
	job.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("resolver was never settled after Cancel; job deadlocked")
	}

	res.mu.Lock()
	defer res.mu.Unlock()
	require.Nil(t, res.success)
	require.Error(t, res.failure)
}

// syncResolver is recordingResolver plus a close-once done signal and a
// mutex, since it is read from the test goroutine concurrently with writes
// from the job's foreground goroutine.
type syncResolver struct {
	mu      sync.Mutex
	once    sync.Once
	done    chan struct{}
	success *compile.NativeModule
	failure error
}

func (r *syncResolver) OnSuccess(m *compile.NativeModule) {
	r.mu.Lock()
	r.success = m
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

func (r *syncResolver) OnFailure(err error) {
	r.mu.Lock()
	r.failure = err
	r.mu.Unlock()
	r.once.Do(func() { close(r.done) })
}

type fakeWrapperGenerator struct{}

func (fakeWrapperGenerator) CompileJSToWasm(_ *wasm.Module, sig *wasm.FunctionType, isImport bool) ([]byte, error) {
	return []byte(sig.String()), nil
}
