// Package registry publishes compiled modules for execution and applies
// the per-class failure policy around them.
//
// # Publication
//
// Load validates and compiles bytecode through the engine, then swaps a
// new id-to-record snapshot into place. The snapshot is copy-on-write:
// readers dereference one atomic pointer and never observe a
// half-applied load or unload. Replacing a published id is how hot
// reload works; calls that pinned the old record before the swap run to
// completion against it, calls that resolve after see only the new one.
// Nothing is cancelled. A displaced record's compiled artifact is
// reclaimed as soon as the last call pinning it drains, so sustained
// reloading never accumulates machine code.
//
// Identical concurrent loads of the same bytecode collapse into one
// compilation via singleflight.
//
// # Execution
//
// Execute resolves the record and delegates to the engine. Every call
// is observed by the prometheus collectors: a per-class duration
// histogram and a per-class, per-outcome counter.
//
// # Failure modes
//
// Dispatcher wraps Execute for the request pipeline. A WAF module error
// under fail-closed policy becomes a block verdict; an edge-function
// error under fail-open hands the caller's context back untouched. An
// unknown module id is a caller error and is never absorbed by either
// mode.
package registry
