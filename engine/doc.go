// Package engine executes sandboxed WebAssembly modules on wazero.
//
// The engine owns one wazero runtime per module class, each configured
// with that class's linear-memory ceiling and with context-done closing
// enabled so wall-clock deadlines interrupt running guest code. Both
// host namespaces are instantiated on every runtime before any guest
// runs.
//
// # Compilation
//
// Compile validates a raw binary against the sandbox's feature and
// import surface, rewrites it with fuel charges, and hands the result
// to wazero's compiler:
//
//  1. Parse and validate the binary (feature scope, import surface,
//     required exports, declared memory within the class ceiling).
//  2. Instrument it so function entries and loop headers charge the
//     invocation's fuel meter.
//  3. Compile the instrumented binary once; the compiled artifact is
//     shared by all subsequent invocations.
//
// # Invocation Flow
//
// Execute creates a fresh, anonymous instance per call. Nothing is
// shared between invocations except the compiled artifact:
//
//  1. Clone the caller's ExecutionContext.
//  2. Attach a fuel meter and per-call host state to the context and
//     bound it with the class deadline.
//  3. Instantiate, call alloc, write the marshaled request, and call
//     the class entry point.
//  4. Read the length-prefixed result from guest memory, decode it per
//     class, and tear the instance down.
//
// # Error Mapping
//
// Guest failures surface as typed errors from the errors package. Fuel
// exhaustion arrives as a forced module exit with a sentinel code,
// deadline expiry as wazero's deadline exit, a failed alloc as a
// memory resource error, and anything else the guest does wrong as a
// trap. The host process is never taken down by a guest fault.
package engine
