// Package wasmsandbox provides a sandboxed WebAssembly module-execution
// runtime for reverse-proxy request paths.
//
// Untrusted compiled modules (WAF analyzers and custom edge functions) run
// inside per-call isolated instances with bounded CPU, bounded memory, a
// fixed wall-clock budget, and full crash isolation: a misbehaving module
// yields a typed error, never a host fault.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	wasmsandbox/     Root package with the shared data model
//	├── registry/    Module lifecycle: load, unload, list, hot reload
//	├── engine/      Per-call isolated execution and resource enforcement
//	├── hostapi/     The fixed capability surface modules may import
//	├── marshal/     Host/guest buffer protocol (length-prefixed JSON)
//	├── fuel/        Load-time instruction metering instrumentation
//	├── policy/      Per-class resource limits and failure modes
//	├── wasm/        Core WASM binary primitives (LEB128, instructions)
//	└── errors/      Typed error taxonomy for all failure paths
//
// # Quick Start
//
// Load and invoke a WAF module:
//
//	eng, err := engine.New(ctx, policy.Default(), hostapi.NewMemoryCache())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	reg := registry.New(eng, nil)
//	meta := wasmsandbox.Metadata{Class: wasmsandbox.ClassWAF}
//	if err := reg.Load(ctx, "waf-owasp", artifact, meta); err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := reg.Execute(ctx, "waf-owasp", execCtx)
//	if err == nil && res.WAF.Blocked {
//	    // reject the request
//	}
//
// # Guest ABI
//
// Every module exports alloc(size)->ptr, dealloc(ptr, size), and exactly
// one entry point for its class: analyze_request(ptr, len)->ptr for WAF,
// handle_request(ptr, len)->ptr for edge functions. Results are returned
// as a 4-byte little-endian length prefix followed by a JSON payload.
//
// # Thread Safety
//
// Registry and Engine are safe for concurrent use. An ExecutionContext is
// owned by exactly one in-flight call and must not be shared.
package wasmsandbox
