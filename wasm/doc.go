// Package wasm provides the small slice of the WebAssembly binary format the
// extension host needs.
//
// # Scanning
//
// Scan validates the module header and walks every section, checking that
// each declared section length stays inside the binary. It does not decode
// function bodies; wazero validates those at compile time. A truncated or
// corrupt provider artifact is rejected here before it reaches the engine:
//
//	sum, err := wasm.Scan(data)
//	if err != nil {
//	    return err // truncated or not a wasm module
//	}
//	meta, ok := sum.Custom("tanoshi.provider")
//
// # Encoding
//
// Module.Encode builds core modules from types, imports, functions, memories,
// globals, exports, code, data and custom sections. Asm assembles the handful
// of instructions used by generated guests and tooling:
//
//	body := wasm.NewAsm().LocalGet(0).I64ExtendI32U().End().Bytes()
//
// WithCustomSection replaces or appends a custom section in an existing
// binary without re-encoding the rest of it.
package wasm
