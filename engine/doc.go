// Package engine runs provider modules in wazero sandboxes.
//
// # Architecture
//
// The engine package provides three main types:
//
//	WazeroEngine   - Owns the wazero runtime, the tanoshi host module and WASI
//	WazeroModule   - A compiled provider binary, checked against the ABI
//	WazeroInstance - One isolated instance with its own linear memory
//
// # Provider ABI
//
//	export memory
//	export alloc(size i32) -> i32
//	export dealloc(ptr i32, size i32)          optional
//	export search|latest|detail|chapter(ptr i32, len i32) -> i64   ptr<<32 | len
//	import tanoshi.fetch(ptr i32, len i32) -> i64                  0 = no response
//	import tanoshi.log(level i32, ptr i32, len i32)
//
// Invoke allocates a request buffer through alloc, copies the payload in,
// calls the export and copies the response out. Returned slices never alias
// guest memory.
//
// # Failure classification
//
//	wasm trap, host panic       errors.KindTrapped
//	context deadline            errors.KindTimeout (the module is closed)
//	bad or oversized buffers    errors.KindMalformed
//
// After any of these the instance reports Broken and refuses further calls.
//
// # Thread Safety
//
// WazeroEngine and WazeroModule are safe for concurrent use.
// WazeroInstance is NOT thread-safe and should be used by a single goroutine.
package engine
