package codegen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wazerocore/compile/api"
	"github.com/wazerocore/compile/internal/compile"
	"github.com/wazerocore/compile/internal/wasm"
)

func moduleWithOneFunc(body []byte) *wasm.Module {
	return &wasm.Module{
		Origin:          wasm.OriginWasm,
		TypeSection:     []wasm.FunctionType{{}},
		FunctionSection: []uint32{0},
		CodeSection:     []wasm.Code{{Body: body}},
	}
}

func TestReferenceGenerator_CompileSuccess(t *testing.T) {
	g := &ReferenceGenerator{TrapHandler: compile.TrapHandlerPreferred}
	m := moduleWithOneFunc([]byte{0x0b})
	unit := &compile.Unit{FuncIndex: 0, Tier: compile.TierBaseline, Module: m}

	var detected api.CoreFeatures
	cf, err := g.Compile(context.Background(), unit, &detected, compile.NoopMetrics{})
	require.NoError(t, err)
	require.Equal(t, uint32(0), cf.Index)
	require.Equal(t, compile.TierBaseline, cf.Tier)
}

func TestReferenceGenerator_RejectsMissingEnd(t *testing.T) {
	g := &ReferenceGenerator{}
	m := moduleWithOneFunc([]byte{0x01})
	unit := &compile.Unit{FuncIndex: 0, Tier: compile.TierBaseline, Module: m}

	var detected api.CoreFeatures
	_, err := g.Compile(context.Background(), unit, &detected, compile.NoopMetrics{})
	require.Error(t, err)
}

func TestMemoizingWrapperGenerator_Memoizes(t *testing.T) {
	g := NewMemoizingWrapperGenerator()
	sig := &wasm.FunctionType{Params: []api.ValueType{api.ValueTypeI32}}

	w1, err := g.CompileJSToWasm(nil, sig, false)
	require.NoError(t, err)
	w2, err := g.CompileJSToWasm(nil, sig, false)
	require.NoError(t, err)
	require.Equal(t, w1, w2)
	require.Len(t, g.cache, 1)

	w3, err := g.CompileJSToWasm(nil, sig, true)
	require.NoError(t, err)
	require.NotEqual(t, w1, w3)
	require.Len(t, g.cache, 2)
}
