package compile

import (
	"context"
	"fmt"

	"github.com/wazerocore/compile/api"
	"github.com/wazerocore/compile/internal/wasm"
)

// CompileFunctionLazily compiles one function on the caller's goroutine,
// bypassing the queue/worker/finisher machinery entirely: no CompilationState
// exists for a lazily-compiled module. It is idempotent — a function already
// installed in native is returned without recompiling.
//
// Per the lazy-compile contract, a validated module must not fail to
// compile; an error here is wrapped in ErrLazyCompileFailed rather than
// reported as an ordinary CompileError.
func CompileFunctionLazily(module *wasm.Module, wire *WireBytes, funcIndex uint32, codegen CodeGenerator, native *NativeModule) (*CompiledFunction, error) {
	if fn, ok := native.Lookup(funcIndex); ok {
		return fn, nil
	}
	native.Trace(TraceLazy, "lazily compiling func[%d]", funcIndex)

	unit := newUnit(funcIndex, TierBaseline, module, wire)
	var detected api.CoreFeatures
	result, err := codegen.Compile(context.Background(), unit, &detected, NoopMetrics{})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrLazyCompileFailed, err)
	}
	unit.Result = result
	native.Install(unit)
	return result, nil
}
