// Package policy holds the per-class resource governance data.
//
// Limits are a property of the module class, never of an individual call:
// WAF modules get a strict budget (1M fuel, 10MB, 10ms) because they sit
// on every request; edge functions get a permissive one (5M fuel, 50MB,
// 50ms). The engine reads limits once per call and never mutates them.
//
// The package also carries the failure-mode policy: what the caller should
// do when a module errors at run time. WAF defaults to fail-closed (treat
// as blocked, the module is a security gate); edge functions default to
// fail-open (skip the function, it is a value-add). Both are configuration,
// not hardcoded behavior.
//
// Deployments can override limits and failure modes from a YAML file:
//
//	waf:
//	  fuel: 2000000
//	  memory_bytes: 16777216
//	  deadline_ms: 15
//	  failure_mode: fail-closed
//	edge_function:
//	  deadline_ms: 100
//	  failure_mode: fail-open
package policy
