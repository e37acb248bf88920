package compile

import (
	"github.com/wazerocore/compile/internal/wasm"
)

// WireBytes is the reference-counted handle to a module's wire bytes. It
// is kept alive as long as any worker may still read from it, independent
// of the lifetime of whatever buffer the caller originally supplied.
type WireBytes struct {
	refs  int32
	Bytes []byte
}

// NewWireBytes wraps b with an initial reference count of one, owned by
// the caller.
func NewWireBytes(b []byte) *WireBytes {
	return &WireBytes{refs: 1, Bytes: b}
}

// Retain increments the reference count, for a component that needs the
// bytes to outlive its caller. No driver in this package calls it: workers
// share the single handle installed with SetWireBytesStorage.
func (w *WireBytes) Retain() *WireBytes {
	w.refs++
	return w
}

// Release decrements the reference count. The zero-crossing is not
// otherwise observable here: Go's garbage collector reclaims the backing
// array once the last *WireBytes reference itself is dropped, so Release
// exists to make ownership transfers explicit in the code reading this
// package even where the host language would reclaim memory anyway.
func (w *WireBytes) Release() {
	w.refs--
}

// CompiledFunction is the product of running the external code generator
// over one Unit: either native code at a tier, or nothing (the Unit's Err
// then holds the failure).
type CompiledFunction struct {
	Index uint32
	Tier  ExecutionTier
	Code  []byte
}

// Unit is one function's compilation work, tagged with a target tier. A
// Unit is owned by exactly one location at any time: the pending queue, a
// worker, or the finished queue — ownership transfer is expressed here
// simply by which slice currently holds the pointer, enforced by
// CompilationState's mutex.
type Unit struct {
	FuncIndex uint32
	Tier      ExecutionTier
	Module    *wasm.Module
	Wire      *WireBytes

	Result *CompiledFunction
	Err    error
}

func newUnit(funcIndex uint32, tier ExecutionTier, module *wasm.Module, wire *WireBytes) *Unit {
	return &Unit{FuncIndex: funcIndex, Tier: tier, Module: module, Wire: wire}
}
