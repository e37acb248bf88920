package decoder

import (
	"bytes"
	"fmt"

	"github.com/wazerocore/compile/api"
	"github.com/wazerocore/compile/internal/leb128"
	"github.com/wazerocore/compile/internal/wasm"
)

var wasmMagic = [4]byte{0x00, 0x61, 0x73, 0x6d}
var wasmVersion = [4]byte{0x01, 0x00, 0x00, 0x00}

// BinaryDecoder implements Decoder and IncrementalDecoder over an
// in-progress *wasm.Module, so that bulk decoding (DecodeModule) and
// streaming decoding (the Start/DecodeModuleHeader/... sequence) share one
// code path: bulk decoding is simply driving the incremental state machine
// to completion in one call.
type BinaryDecoder struct {
	module           *wasm.Module
	origin           wasm.Origin
	features         api.CoreFeatures
	sawCodeSection   bool
	declaredFuncs    uint32
	codeSectionCount uint32
}

var _ Decoder = (*BinaryDecoder)(nil)
var _ IncrementalDecoder = (*BinaryDecoder)(nil)

func (d *BinaryDecoder) Start(origin wasm.Origin, features api.CoreFeatures) {
	d.module = &wasm.Module{Origin: origin}
	d.origin = origin
	d.features = features
	d.sawCodeSection = false
	d.declaredFuncs = 0
	d.codeSectionCount = 0
}

func (d *BinaryDecoder) DecodeModuleHeader(b []byte, offset uint64) error {
	if len(b) < 8 {
		return &DecodeError{Offset: offset, Msg: "truncated module header"}
	}
	var magic, version [4]byte
	copy(magic[:], b[0:4])
	copy(version[:], b[4:8])
	if magic != wasmMagic {
		return &DecodeError{Offset: offset, Msg: errMagicMismatch.Error()}
	}
	if version != wasmVersion {
		return &DecodeError{Offset: offset + 4, Msg: "unsupported wasm version"}
	}
	return nil
}

func (d *BinaryDecoder) DecodeSection(id wasm.SectionID, b []byte, offset uint64) error {
	if d.module == nil {
		return &DecodeError{Offset: offset, Msg: "DecodeSection called before Start"}
	}
	r := bytes.NewReader(b)
	switch id {
	case wasm.SectionIDType:
		count, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return sectionErr(offset, "type", err)
		}
		d.module.TypeSection = make([]wasm.FunctionType, 0, count)
		for i := uint32(0); i < count; i++ {
			ft, err := decodeFunctionType(r)
			if err != nil {
				return sectionErr(offset, "type", err)
			}
			d.module.TypeSection = append(d.module.TypeSection, ft)
		}
	case wasm.SectionIDImport:
		count, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return sectionErr(offset, "import", err)
		}
		d.module.ImportSection = make([]wasm.Import, 0, count)
		for i := uint32(0); i < count; i++ {
			imp, err := decodeImport(r)
			if err != nil {
				return sectionErr(offset, "import", err)
			}
			d.module.ImportSection = append(d.module.ImportSection, imp)
		}
	case wasm.SectionIDFunction:
		count, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return sectionErr(offset, "function", err)
		}
		d.module.FunctionSection = make([]uint32, 0, count)
		for i := uint32(0); i < count; i++ {
			typeIdx, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return sectionErr(offset, "function", err)
			}
			d.module.FunctionSection = append(d.module.FunctionSection, typeIdx)
		}
		d.declaredFuncs = uint32(len(d.module.FunctionSection))
	case wasm.SectionIDExport:
		count, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return sectionErr(offset, "export", err)
		}
		d.module.ExportSection = make([]wasm.Export, 0, count)
		for i := uint32(0); i < count; i++ {
			exp, err := decodeExport(r)
			if err != nil {
				return sectionErr(offset, "export", err)
			}
			d.module.ExportSection = append(d.module.ExportSection, exp)
		}
	case wasm.SectionIDCode:
		// The caller drives function bodies individually via
		// DecodeFunctionBody/CheckFunctionsCount; a bulk decode passes the
		// whole code section here instead, so decode it inline.
		count, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return sectionErr(offset, "code", err)
		}
		if err := d.CheckFunctionsCount(count); err != nil {
			return err
		}
		for i := uint32(0); i < count; i++ {
			bodySize, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return sectionErr(offset, "code", err)
			}
			body := make([]byte, bodySize)
			if _, err := r.Read(body); err != nil {
				return sectionErr(offset, "code", err)
			}
			if err := d.DecodeFunctionBody(i, body, offset); err != nil {
				return err
			}
		}
	case wasm.SectionIDTable, wasm.SectionIDMemory, wasm.SectionIDGlobal,
		wasm.SectionIDStart, wasm.SectionIDElement, wasm.SectionIDData, wasm.SectionIDCustom:
		// Not needed to route compilation work; decoded shape is a
		// non-goal beyond pass/fail. Accepted, not inspected.
	default:
		return &DecodeError{Offset: offset, Msg: fmt.Sprintf("unknown section id %d", id)}
	}
	return nil
}

func (d *BinaryDecoder) CheckFunctionsCount(count uint32) error {
	d.sawCodeSection = true
	d.codeSectionCount = count
	if count != d.declaredFuncs {
		return &DecodeError{Msg: fmt.Sprintf(
			"code section count %d does not match function section count %d", count, d.declaredFuncs)}
	}
	return nil
}

func (d *BinaryDecoder) DecodeFunctionBody(index uint32, b []byte, offset uint64) error {
	r := bytes.NewReader(b)
	localDeclCount, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return &DecodeError{Offset: offset, Msg: "truncated function body locals"}
	}
	var locals []api.ValueType
	for i := uint32(0); i < localDeclCount; i++ {
		n, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return &DecodeError{Offset: offset, Msg: "truncated local decl"}
		}
		vt, err := r.ReadByte()
		if err != nil {
			return &DecodeError{Offset: offset, Msg: "truncated local type"}
		}
		for j := uint32(0); j < n; j++ {
			locals = append(locals, vt)
		}
	}
	rest := make([]byte, r.Len())
	_, _ = r.Read(rest)

	if d.origin == wasm.OriginWasm && (len(rest) == 0 || rest[len(rest)-1] != 0x0b) {
		return &DecodeError{Offset: offset, Msg: fmt.Sprintf(
			"function body %d does not end with the `end` opcode", index)}
	}

	for uint32(len(d.module.CodeSection)) <= index {
		d.module.CodeSection = append(d.module.CodeSection, wasm.Code{})
	}
	d.module.CodeSection[index] = wasm.Code{LocalTypes: locals, Body: rest}
	return nil
}

func (d *BinaryDecoder) FinishDecoding(verifyFunctions bool) (*wasm.Module, error) {
	m := d.module
	if m == nil {
		return nil, &DecodeError{Msg: "FinishDecoding called before Start"}
	}
	if len(m.FunctionSection) > 0 && !d.sawCodeSection {
		return nil, &DecodeError{Msg: "module declares functions but has no code section"}
	}
	if verifyFunctions && m.Origin == wasm.OriginWasm {
		for i, c := range m.CodeSection {
			if len(c.Body) == 0 {
				return nil, &DecodeError{Msg: fmt.Sprintf("function %d has an empty body", i)}
			}
		}
	}
	return m, nil
}

func (d *BinaryDecoder) Module() *wasm.Module {
	return d.module
}

// DecodeModule implements Decoder by driving the incremental state machine
// over the whole binary in one call.
func (d *BinaryDecoder) DecodeModule(b []byte, origin wasm.Origin, features api.CoreFeatures) (*wasm.Module, error) {
	d.Start(origin, features)
	if err := d.DecodeModuleHeader(b, 0); err != nil {
		return nil, err
	}
	offset := uint64(8)
	r := bytes.NewReader(b[8:])
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, &DecodeError{Offset: offset, Msg: "truncated section header"}
		}
		offset++
		size, n, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, &DecodeError{Offset: offset, Msg: "truncated section size"}
		}
		offset += n
		payload := make([]byte, size)
		if read, err := r.Read(payload); err != nil || uint32(read) != size {
			return nil, &DecodeError{Offset: offset, Msg: "truncated section payload"}
		}
		if err := d.DecodeSection(id, payload, offset); err != nil {
			return nil, err
		}
		offset += uint64(size)
	}
	d.module.ID = wasm.ModuleIDFromBytes(b)
	return d.FinishDecoding(true)
}

func decodeFunctionType(r *bytes.Reader) (wasm.FunctionType, error) {
	form, err := r.ReadByte()
	if err != nil || form != 0x60 {
		return wasm.FunctionType{}, fmt.Errorf("invalid functype form")
	}
	params, err := decodeValueTypeVec(r)
	if err != nil {
		return wasm.FunctionType{}, err
	}
	results, err := decodeValueTypeVec(r)
	if err != nil {
		return wasm.FunctionType{}, err
	}
	return wasm.FunctionType{Params: params, Results: results}, nil
}

func decodeValueTypeVec(r *bytes.Reader) ([]api.ValueType, error) {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]api.ValueType, count)
	for i := range out {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func decodeName(r *bytes.Reader) (string, error) {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeImport(r *bytes.Reader) (wasm.Import, error) {
	mod, err := decodeName(r)
	if err != nil {
		return wasm.Import{}, err
	}
	name, err := decodeName(r)
	if err != nil {
		return wasm.Import{}, err
	}
	kind, err := r.ReadByte()
	if err != nil {
		return wasm.Import{}, err
	}
	imp := wasm.Import{Module: mod, Name: name, Type: kind}
	switch kind {
	case api.ExternTypeFunc:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return wasm.Import{}, err
		}
		imp.DescFuncTypeIndex = idx
	case api.ExternTypeTable:
		if _, err := r.ReadByte(); err != nil { // elem type
			return wasm.Import{}, err
		}
		if err := skipLimits(r); err != nil {
			return wasm.Import{}, err
		}
	case api.ExternTypeMemory:
		if err := skipLimits(r); err != nil {
			return wasm.Import{}, err
		}
	case api.ExternTypeGlobal:
		if _, err := r.ReadByte(); err != nil { // val type
			return wasm.Import{}, err
		}
		if _, err := r.ReadByte(); err != nil { // mutability
			return wasm.Import{}, err
		}
	}
	return imp, nil
}

func skipLimits(r *bytes.Reader) error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	if _, _, err := leb128.DecodeUint32(r); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		if _, _, err := leb128.DecodeUint32(r); err != nil {
			return err
		}
	}
	return nil
}

func decodeExport(r *bytes.Reader) (wasm.Export, error) {
	name, err := decodeName(r)
	if err != nil {
		return wasm.Export{}, err
	}
	kind, err := r.ReadByte()
	if err != nil {
		return wasm.Export{}, err
	}
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return wasm.Export{}, err
	}
	return wasm.Export{Name: name, Type: kind, Index: idx}, nil
}

func sectionErr(offset uint64, section string, err error) error {
	return &DecodeError{Offset: offset, Msg: fmt.Sprintf("%s section: %s", section, err.Error())}
}
