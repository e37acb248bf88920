// Package api includes constants and interfaces shared by the public
// surface of this module and its internal packages.
package api

import "fmt"

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

const (
	ExternTypeFuncName   = "func"
	ExternTypeTableName  = "table"
	ExternTypeMemoryName = "memory"
	ExternTypeGlobalName = "global"
)

// ExternTypeName returns the name of the given ExternType.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return ExternTypeFuncName
	case ExternTypeTable:
		return ExternTypeTableName
	case ExternTypeMemory:
		return ExternTypeMemoryName
	case ExternTypeGlobal:
		return ExternTypeGlobalName
	}
	return fmt.Sprintf("%#x", et)
}

// ValueType describes a numeric type used in a WebAssembly function
// signature or local variable declaration.
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName returns the name of the given ValueType.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return fmt.Sprintf("%#x", t)
}

// CoreFeatures is a bit set of optional WebAssembly core proposals. It is
// used both as engine-wide configuration (which proposals are enabled) and
// as a per-compile accumulator of which proposals a module actually used.
type CoreFeatures uint64

const (
	CoreFeatureSignExtensionOps CoreFeatures = 1 << iota
	CoreFeatureMultiValue
	CoreFeatureBulkMemoryOperations
	CoreFeatureReferenceTypes
	CoreFeatureTailCall
	CoreFeatureThreads
)

// CoreFeaturesV1 are the features finished as of WebAssembly 1.0.
const CoreFeaturesV1 = CoreFeatureSignExtensionOps | CoreFeatureMultiValue

// Is returns true if all bits of f are set in c.
func (c CoreFeatures) Is(f CoreFeatures) bool {
	return c&f == f
}

// Set returns a copy of c with f enabled or disabled.
func (c CoreFeatures) Set(f CoreFeatures, enabled bool) CoreFeatures {
	if enabled {
		return c | f
	}
	return c &^ f
}

// Union returns the bitwise union of two CoreFeatures sets. Used to merge a
// worker's locally-detected features into the module-wide set.
func (c CoreFeatures) Union(other CoreFeatures) CoreFeatures {
	return c | other
}

// String renders the set of enabled feature names, comma separated.
func (c CoreFeatures) String() string {
	if c == 0 {
		return "none"
	}
	names := []struct {
		bit  CoreFeatures
		name string
	}{
		{CoreFeatureSignExtensionOps, "sign-extension-ops"},
		{CoreFeatureMultiValue, "multi-value"},
		{CoreFeatureBulkMemoryOperations, "bulk-memory"},
		{CoreFeatureReferenceTypes, "reference-types"},
		{CoreFeatureTailCall, "tail-call"},
		{CoreFeatureThreads, "threads"},
	}
	s := ""
	for _, n := range names {
		if c.Is(n.bit) {
			if s != "" {
				s += ","
			}
			s += n.name
		}
	}
	return s
}
