package compile

import (
	"errors"
	"fmt"

	"github.com/wazerocore/compile/internal/wasm"
	"github.com/wazerocore/compile/internal/wasmdebug"
)

// CompileError records one function's translation failure. Apart from
// ErrAborted, which CompilationState.Abort latches, it is the only error
// that travels through the error latch (CompilationState.compileErr):
// decode failures and resource failures are reported directly to the
// Resolver by the driver that detected them, without going through a Unit.
type CompileError struct {
	Module    *wasm.Module
	FuncIndex uint32
	Offset    uint64
	Cause     error
}

func (e *CompileError) Error() string {
	name := wasmdebug.FuncName(e.Module.ModuleName(), e.Module.FunctionName(e.FuncIndex), e.FuncIndex)
	return fmt.Sprintf("Compiling wasm function %q failed: %s", name, e.Cause.Error())
}

func (e *CompileError) Unwrap() error { return e.Cause }

// ResourceError reports an allocation or guard-region failure. It is
// surfaced verbatim to the user via the thrower rather than formatted
// like a CompileError.
type ResourceError struct {
	Cause error
}

func (e *ResourceError) Error() string { return e.Cause.Error() }
func (e *ResourceError) Unwrap() error { return e.Cause }

// ErrAborted is the generic error latched by CompilationState.Abort to
// unblock any tasks waiting on the error latch or on cancel_and_wait.
var ErrAborted = errors.New("Compilation aborted")

// ErrLazyCompileFailed marks a fatal contract violation: lazy compilation
// of an already-validated module must not fail.
var ErrLazyCompileFailed = errors.New("lazy compilation failed on a validated module")
