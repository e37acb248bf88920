// Package codegen provides the repository's only implementation of the
// CodeGenerator and WrapperGenerator external collaborators. Specifying
// the actual machine-code output is out of scope, so this is a reference
// implementation: it decodes a function body just far enough to report a
// realistic failure for malformed bodies and otherwise produces a
// placeholder "native code" blob, mirroring the shape of an interpreter
// engine that builds one compiled function per wasm.Module lazily, without
// reimplementing an actual WebAssembly interpreter loop.
package codegen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wazerocore/compile/api"
	"github.com/wazerocore/compile/internal/compile"
	"github.com/wazerocore/compile/internal/wasm"
)

// ReferenceGenerator is a CodeGenerator that validates a function body's
// gross shape (non-empty, ends in the `end` opcode for wasm-origin
// modules) and otherwise "compiles" it into a tier-tagged placeholder code
// blob. TrapHandler controls whether it simulates the guard-region
// allocation fallback used when bounds checks can't be elided.
type ReferenceGenerator struct {
	TrapHandler compile.TrapHandlerMode
}

var _ compile.CodeGenerator = (*ReferenceGenerator)(nil)

// Compile implements compile.CodeGenerator.
func (g *ReferenceGenerator) Compile(ctx context.Context, unit *compile.Unit, detected *api.CoreFeatures, metrics compile.MetricsSink) (*compile.CompiledFunction, error) {
	start := time.Now()
	defer func() {
		metrics.RecordCompile(unit.Tier, unit.FuncIndex, time.Since(start).Nanoseconds())
	}()

	body := unit.Module.CodeSection[localIndex(unit.Module, unit.FuncIndex)].Body
	if len(body) == 0 {
		return nil, fmt.Errorf("empty function body")
	}
	if unit.Module.Origin == wasm.OriginWasm && body[len(body)-1] != 0x0b {
		return nil, fmt.Errorf("function body does not end with `end`")
	}

	for _, b := range body {
		switch b {
		case 0xfc: // bulk-memory / misc prefix, used as a stand-in detector
			*detected = detected.Union(api.CoreFeatureBulkMemoryOperations)
		case 0xc2, 0xc3, 0xc4: // sign-extension ops
			*detected = detected.Union(api.CoreFeatureSignExtensionOps)
		}
	}

	if g.TrapHandler == compile.TrapHandlerPreferred && !canAllocateGuardRegion() {
		*detected = detected.Union(api.CoreFeatureThreads) // stand-in signal the fallback engaged
	}

	code := make([]byte, 0, len(body)+1)
	code = append(code, byte(unit.Tier))
	code = append(code, body...)

	return &compile.CompiledFunction{Index: unit.FuncIndex, Tier: unit.Tier, Code: code}, nil
}

func localIndex(m *wasm.Module, funcIndex uint32) int {
	return int(funcIndex) - m.ImportFuncCount()
}

// canAllocateGuardRegion simulates the host's ability to reserve a guard
// region for bounds-check elision. A real implementation would call into
// platform-specific virtual memory APIs; this reference generator always
// succeeds.
func canAllocateGuardRegion() bool { return true }

// MemoizingWrapperGenerator implements compile.WrapperGenerator, caching
// one wrapper per (isImport, signature) pair.
type MemoizingWrapperGenerator struct {
	mu    sync.Mutex
	cache map[wrapperKey][]byte
}

type wrapperKey struct {
	isImport bool
	sig      string
}

func NewMemoizingWrapperGenerator() *MemoizingWrapperGenerator {
	return &MemoizingWrapperGenerator{cache: make(map[wrapperKey][]byte)}
}

var _ compile.WrapperGenerator = (*MemoizingWrapperGenerator)(nil)

// CompileJSToWasm implements compile.WrapperGenerator.
func (g *MemoizingWrapperGenerator) CompileJSToWasm(module *wasm.Module, sig *wasm.FunctionType, isImport bool) ([]byte, error) {
	key := wrapperKey{isImport: isImport, sig: sig.String()}

	g.mu.Lock()
	defer g.mu.Unlock()
	if w, ok := g.cache[key]; ok {
		return w, nil
	}
	w := []byte(fmt.Sprintf("wrapper(%s,import=%v)", sig.String(), isImport))
	g.cache[key] = w
	return w, nil
}
