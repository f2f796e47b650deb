// Package wasm parses and encodes WebAssembly binary modules.
//
// The package covers the feature set the sandbox admits: WebAssembly 2.0
// core (value types, functions, tables, memories, globals, control flow,
// bulk memory, reference types) plus SIMD. Modules using proposals the
// sandbox rejects (GC, threads/atomics, exception handling, tail calls)
// fail to parse with a descriptive error, which load-time validation
// surfaces as a compilation error.
//
// # Parsing and encoding
//
//	module, err := wasm.ParseModule(data)
//	...
//	encoded := module.Encode()
//
// Round-tripping preserves module semantics. Custom sections are carried
// through opaquely.
//
// # Instructions
//
// Function bodies decode into instructions with typed immediates:
//
//	instrs, err := wasm.DecodeInstructions(body.Code)
//
// and encode back with EncodeInstructions. The instruction layer exists
// so fuel instrumentation can walk bodies, find loop back-edges, and
// renumber function indices after prepending an import.
package wasm
