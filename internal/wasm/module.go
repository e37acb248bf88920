// Package wasm holds the decoded-module data model consumed by the
// compilation pipeline. It intentionally models only what the pipeline
// needs to route and label compilation work — the binary format itself,
// and anything beyond a pass/fail validation contract, are non-goals of
// this repository.
package wasm

import (
	"crypto/sha256"
	"fmt"

	"github.com/wazerocore/compile/api"
)

// SectionID identifies a WebAssembly module section.
type SectionID = byte

const (
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
)

// SectionIDName returns the name of the given SectionID, or "unknown" if it
// doesn't match a known section.
func SectionIDName(id SectionID) string {
	switch id {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	}
	return "unknown"
}

// Origin distinguishes modules compiled from a WebAssembly binary from
// those synthesized from asm.js source: "wasm"-origin modules are
// validated, "asm.js"-origin modules are not. This type makes that
// distinction an explicit field instead of a process-wide flag.
type Origin int

const (
	OriginWasm Origin = iota
	OriginAsmJS
)

// ModuleID uniquely identifies a decoded module, derived from its wire
// bytes. A host can use it as the cache key for a compiled-module table;
// this repository keeps no such table. The bulk decoder fills it in; the
// incremental decoder leaves it zero.
type ModuleID [sha256.Size]byte

func ModuleIDFromBytes(b []byte) ModuleID {
	return sha256.Sum256(b)
}

func (id ModuleID) String() string {
	return fmt.Sprintf("%x", [sha256.Size]byte(id))
}

// FunctionType is a WebAssembly function signature.
type FunctionType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// String renders a compact signature such as "i32f64_i64", used as half of
// the wrapper generator's memoization key (the other half is isImport).
func (t *FunctionType) String() string {
	ps := valueTypesString(t.Params)
	rs := valueTypesString(t.Results)
	return ps + "_" + rs
}

func valueTypesString(types []api.ValueType) string {
	if len(types) == 0 {
		return "null"
	}
	s := ""
	for _, t := range types {
		s += api.ValueTypeName(t)
	}
	return s
}

// Import describes one imported definition.
type Import struct {
	Module, Name string
	Type         api.ExternType
	// DescFuncTypeIndex is only meaningful when Type == api.ExternTypeFunc.
	DescFuncTypeIndex uint32
}

// Export describes one exported definition.
type Export struct {
	Name  string
	Type  api.ExternType
	Index uint32
}

// Code is one function body as decoded from the code section: its local
// variable declarations and its (still encoded) instruction bytes. This is
// the "function body" that the code generator, an external collaborator,
// turns into native code; this repository never interprets the
// instruction bytes itself.
type Code struct {
	LocalTypes []api.ValueType
	Body       []byte
}

// NameSection holds optional debug names decoded from the custom "name"
// section. A module without one is valid; Module.FunctionName then falls
// back to an index-based name.
type NameSection struct {
	ModuleName    string
	FunctionNames map[uint32]string
}

// Module is the immutable, decoded representation of one WebAssembly
// module. Once produced by a Decoder it is never mutated again — workers
// hold a reference to it and read it concurrently without synchronization.
type Module struct {
	ID     ModuleID
	Origin Origin

	TypeSection     []FunctionType
	ImportSection   []Import
	FunctionSection []uint32 // one type index per non-imported function
	CodeSection     []Code   // parallel to FunctionSection
	ExportSection   []Export
	NameSection     *NameSection

	// IsHostModule marks modules synthesized by the host to expose Go
	// functions; such modules have no CodeSection to compile.
	IsHostModule bool
}

// ImportFuncCount returns the number of imported functions, which is the
// offset added to a CodeSection index to obtain an absolute function index.
func (m *Module) ImportFuncCount() int {
	n := 0
	for _, imp := range m.ImportSection {
		if imp.Type == api.ExternTypeFunc {
			n++
		}
	}
	return n
}

// FunctionCount returns the number of locally-defined (compilable)
// functions, i.e. len(CodeSection).
func (m *Module) FunctionCount() int {
	return len(m.CodeSection)
}

// TypeOfFunction returns the signature of the absolute function index idx,
// which must be a locally-defined function (idx >= ImportFuncCount()).
func (m *Module) TypeOfFunction(idx uint32) *FunctionType {
	local := int(idx) - m.ImportFuncCount()
	typeIdx := m.FunctionSection[local]
	return &m.TypeSection[typeIdx]
}

// FunctionName returns a debug name for the absolute function index idx,
// preferring the name section and falling back to an index-based name.
func (m *Module) FunctionName(idx uint32) string {
	if m.NameSection != nil {
		if name, ok := m.NameSection.FunctionNames[idx]; ok {
			return name
		}
	}
	return fmt.Sprintf("wasm-function[%d]", idx)
}

// ModuleName returns the module's debug name, or "" if it has none.
func (m *Module) ModuleName() string {
	if m.NameSection != nil {
		return m.NameSection.ModuleName
	}
	return ""
}
