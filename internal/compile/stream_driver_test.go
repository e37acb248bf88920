package compile_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wazerocore/compile/api"
	"github.com/wazerocore/compile/internal/compile"
	"github.com/wazerocore/compile/internal/task"
	"github.com/wazerocore/compile/internal/wasm"
)

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newStreamJob(cfg compile.Config, gen compile.CodeGenerator, res compile.Resolver) *compile.StreamingCompileJob {
	runner := task.NewSyncRunner()
	job := compile.NewStreamingCompileJob(cfg, gen, fakeWrapperGenerator{}, runner, runner, res)
	job.Start(wasm.OriginWasm, api.CoreFeaturesV1)
	return job
}

func TestStreamingCompileJob_EndToEnd(t *testing.T) {
	res := &recordingResolver{}
	job := newStreamJob(compile.DefaultConfig().WithMode(compile.ModeRegular).WithNumCompilationTasks(1), &fakeGenerator{}, res)

	require.NoError(t, job.ProcessModuleHeader(wasmHeader, 0))
	require.NoError(t, job.ProcessSection(wasm.SectionIDType, []byte{0x01, 0x60, 0x00, 0x00}, 8))
	require.NoError(t, job.ProcessSection(wasm.SectionIDFunction, []byte{0x02, 0x00, 0x00}, 8))
	require.NoError(t, job.ProcessCodeSectionHeader(2))
	require.NoError(t, job.ProcessFunctionBody(0, []byte{0x00, 0x0b}, 8))
	require.NoError(t, job.ProcessFunctionBody(1, []byte{0x00, 0x0b}, 8))
	job.OnFinishedStream()

	require.Nil(t, res.failure)
	require.NotNil(t, res.success)
	for i := uint32(0); i < 2; i++ {
		fn, ok := res.success.Lookup(i)
		require.True(t, ok)
		require.Equal(t, compile.TierBaseline, fn.Tier)
	}
}

func TestStreamingCompileJob_NoFunctionsResolvesImmediately(t *testing.T) {
	res := &recordingResolver{}
	job := newStreamJob(compile.DefaultConfig(), &fakeGenerator{}, res)

	require.NoError(t, job.ProcessModuleHeader(wasmHeader, 0))
	job.OnFinishedStream()

	require.Nil(t, res.failure)
	require.NotNil(t, res.success)
}

func TestStreamingCompileJob_FunctionBodyFailureAbortsStream(t *testing.T) {
	res := &recordingResolver{}
	job := newStreamJob(compile.DefaultConfig().WithMode(compile.ModeRegular).WithNumCompilationTasks(1), &fakeGenerator{}, res)

	require.NoError(t, job.ProcessModuleHeader(wasmHeader, 0))
	require.NoError(t, job.ProcessSection(wasm.SectionIDType, []byte{0x01, 0x60, 0x00, 0x00}, 8))
	require.NoError(t, job.ProcessSection(wasm.SectionIDFunction, []byte{0x01, 0x00}, 8))
	require.NoError(t, job.ProcessCodeSectionHeader(1))
	// A body with no bytes at all fails to decode (truncated locals count).
	err := job.ProcessFunctionBody(0, nil, 8)
	require.Error(t, err)

	require.Nil(t, res.success)
	require.Error(t, res.failure)
}

func TestStreamingCompileJob_OnAbort(t *testing.T) {
	res := &recordingResolver{}
	job := newStreamJob(compile.DefaultConfig(), &fakeGenerator{}, res)

	require.NoError(t, job.ProcessModuleHeader(wasmHeader, 0))
	job.OnAbort()

	require.Nil(t, res.success)
	require.ErrorIs(t, res.failure, compile.ErrAborted)
}
