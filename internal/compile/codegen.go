package compile

import (
	"context"

	"github.com/wazerocore/compile/api"
	"github.com/wazerocore/compile/internal/wasm"
)

// MetricsSink receives per-compile timing samples. It is a narrow
// interface rather than a concrete type so that a host without a metrics
// pipeline can pass a no-op implementation (see NoopMetrics).
type MetricsSink interface {
	RecordCompile(tier ExecutionTier, funcIndex uint32, nanos int64)
}

// NoopMetrics discards every sample.
type NoopMetrics struct{}

func (NoopMetrics) RecordCompile(ExecutionTier, uint32, int64) {}

// CodeGenerator is the function-level code generator external
// collaborator: it turns one function body into native code. Background
// workers call it once per Unit; it must not touch host-heap objects and
// must not retain the wire bytes beyond the call.
type CodeGenerator interface {
	Compile(ctx context.Context, unit *Unit, detected *api.CoreFeatures, metrics MetricsSink) (*CompiledFunction, error)
}

// WrapperGenerator produces JS↔Wasm call adapters for a module's exported
// functions, used by the Async Driver's wrapper-compilation step.
// Implementations must memoize by (isImport, signature) — see
// internal/codegen.MemoizingWrapperGenerator.
type WrapperGenerator interface {
	CompileJSToWasm(module *wasm.Module, sig *wasm.FunctionType, isImport bool) ([]byte, error)
}
