// Package wasmdebug formats human-readable names for compile diagnostics,
// producing the surfaced error format:
// `Compiling wasm function "<name_or_index>" failed: <msg>`.
package wasmdebug

import "fmt"

// FuncName renders a debug name for a function, preferring the decoded
// name section entry and falling back to an index-based placeholder when
// either the module or function has no recorded name.
func FuncName(moduleName, funcName string, funcIdx uint32) string {
	if funcName == "" {
		funcName = fmt.Sprintf("$%d", funcIdx)
	}
	if moduleName == "" {
		return funcName
	}
	return moduleName + "." + funcName
}
