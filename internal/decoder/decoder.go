// Package decoder turns a WebAssembly binary into a *wasm.Module. It is
// consumed by the compilation pipeline's drivers (internal/compile), but
// the binary format it parses is explicitly a non-goal of correctness for
// this repository — it decodes enough of the module to route compilation
// work, not to be a conformant WebAssembly parser.
package decoder

import (
	"errors"
	"fmt"

	"github.com/wazerocore/compile/api"
	"github.com/wazerocore/compile/internal/wasm"
)

// DecodeError wraps a failure to parse the module binary, surfaced to the
// resolver as a compile failure.
type DecodeError struct {
	Offset uint64
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at offset %d: %s", e.Offset, e.Msg)
}

var errMagicMismatch = errors.New("decoder: invalid wasm magic number")

// Decoder turns wire bytes into a validated, decoded Module in one call.
// It is the bulk-mode counterpart to IncrementalDecoder.
type Decoder interface {
	DecodeModule(bytes []byte, origin wasm.Origin, features api.CoreFeatures) (*wasm.Module, error)
}

// IncrementalDecoder is the streaming counterpart consumed by
// internal/compile's Stream Driver. Bytes arrive in arbitrary chunks; the
// caller (an external byte-stream framer, out of scope here) is
// responsible for buffering a chunk until it forms a complete header,
// section, or function body before calling in.
type IncrementalDecoder interface {
	// Start resets internal state for a new incremental decode.
	Start(origin wasm.Origin, features api.CoreFeatures)
	// DecodeModuleHeader parses the 8-byte magic+version header.
	DecodeModuleHeader(bytes []byte, offset uint64) error
	// DecodeSection parses one non-code section in full.
	DecodeSection(sectionID wasm.SectionID, bytes []byte, offset uint64) error
	// CheckFunctionsCount cross-checks the code section's declared vector
	// length against the function section's length.
	CheckFunctionsCount(count uint32) error
	// DecodeFunctionBody parses one function body from the code section
	// and appends it to the in-progress module's CodeSection.
	DecodeFunctionBody(index uint32, bytes []byte, offset uint64) error
	// FinishDecoding completes the module. When verifyFunctions is true,
	// each function body decoded so far is additionally validated;
	// streaming callers that already validated on the fly pass false.
	FinishDecoding(verifyFunctions bool) (*wasm.Module, error)
	// Module returns the in-progress module built so far, or nil before
	// Start. The Stream Driver reads this to publish compilation units for
	// functions whose bodies have already arrived, before the stream ends.
	Module() *wasm.Module
}

// New returns the repository's only Decoder/IncrementalDecoder
// implementation: a binary-format decoder.
func New() *BinaryDecoder {
	return &BinaryDecoder{}
}
