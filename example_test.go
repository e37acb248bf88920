package compile_test

import (
	"fmt"

	wazerocore "github.com/wazerocore/compile"
	"github.com/wazerocore/compile/internal/codegen"
)

// This is an example of compiling a minimal WebAssembly module with a
// single background compilation worker and tiering enabled.
func Example() {
	rt := wazerocore.NewRuntime(
		wazerocore.NewRuntimeConfig().WithTiering().WithCompilationWorkers(1),
		&codegen.ReferenceGenerator{},
		codegen.NewMemoizingWrapperGenerator(),
	)

	// A minimal module: one type, one locally-defined function of that
	// type, with a body that is just the `end` opcode.
	wire := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type section: 1 func type, ()->()
		0x03, 0x02, 0x01, 0x00, // function section: 1 function, type 0
		0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b, // code section: 1 body, 0 locals, `end`
	}

	m, err := rt.CompileModule(wire)
	if err != nil {
		fmt.Println("compile failed:", err)
		return
	}
	defer m.Close()

	_, ok := m.Native.Lookup(0)
	fmt.Println("function 0 compiled:", ok)

	// Output:
	// function 0 compiled: true
}
