// Package hostapi implements the fixed set of host functions a guest may
// import. Anything outside this surface fails validation at load time, so
// guests have no filesystem, network, process, or threading access.
//
// Functions are exported under two namespaces. "aegis" carries the full
// surface; "env" carries the legacy subset (log, cache_get, cache_set,
// get_shared_buffer) older guests link against.
//
//	consume_fuel(amount i64)                          fuel charge (injected only)
//	log(ptr, len u32)                                 guest diagnostics
//	request_header_get(np, nl u32) -> i32             value into shared buffer
//	response_header_get(np, nl u32) -> i32            value into shared buffer
//	response_header_set(np, nl, vp, vl u32) -> i32
//	body_read(dst, cap u32) -> i32                    bounded streaming read
//	cache_get(kp, kl u32) -> i32                      value into shared buffer
//	cache_set(kp, kl, vp, vl u32, ttl_secs u32) -> i32
//	respond(status u32, bp, bl u32)                   respond now + terminate
//	clock_monotonic_us() -> i64                       time since call start
//	get_shared_buffer(dst, off, len u32) -> i32       drain shared buffer
//
// consume_fuel is the one exception to the importable surface: the
// instrumentation pass injects it after validation, and a guest binary
// that declares the import itself fails to load. Charges that are not
// positive are dropped so a guest can never grow its own budget.
//
// Variable-size host results (headers, cache hits) land in a per-call
// shared buffer; the guest allocates space and drains it with
// get_shared_buffer. All pointers and lengths are bounds-checked against
// guest memory before any copy.
//
// Per-call state travels in the context. The engine attaches a State
// before invoking the entry point; host functions fail soft (negative
// return) when called outside an invocation.
package hostapi
