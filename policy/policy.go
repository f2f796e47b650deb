package policy

import (
	"fmt"
	"time"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
)

// ResourceLimits bounds one invocation of a module.
type ResourceLimits struct {
	// Fuel is the abstract instruction budget for one call.
	Fuel uint64
	// MemoryBytes caps the guest linear memory. Rounded up to wasm pages
	// (64KiB) by the engine.
	MemoryBytes uint64
	// Deadline is the wall-clock budget for one call.
	Deadline time.Duration
}

// MemoryPages returns the linear memory cap in 64KiB wasm pages.
func (l ResourceLimits) MemoryPages() uint32 {
	const pageSize = 65536
	return uint32((l.MemoryBytes + pageSize - 1) / pageSize)
}

// FailureMode decides what the request pipeline does when a module errors
// at run time.
type FailureMode string

const (
	// FailClosed treats a module error as a block verdict. Default for WAF.
	FailClosed FailureMode = "fail-closed"
	// FailOpen skips the failing module and continues the pipeline with the
	// context unmodified. Default for edge functions.
	FailOpen FailureMode = "fail-open"
)

// Valid reports whether m is a known failure mode.
func (m FailureMode) Valid() bool {
	return m == FailClosed || m == FailOpen
}

// ClassPolicy is the full governance record for one module class.
type ClassPolicy struct {
	Limits      ResourceLimits
	FailureMode FailureMode
}

// Policy maps every module class to its governance record.
type Policy struct {
	classes map[wasmsandbox.ModuleClass]ClassPolicy
}

// Default returns the built-in policy: WAF modules are strict and
// fail-closed, edge functions are permissive and fail-open.
func Default() *Policy {
	return &Policy{classes: map[wasmsandbox.ModuleClass]ClassPolicy{
		wasmsandbox.ClassWAF: {
			Limits: ResourceLimits{
				Fuel:        1_000_000,
				MemoryBytes: 10 << 20,
				Deadline:    10 * time.Millisecond,
			},
			FailureMode: FailClosed,
		},
		wasmsandbox.ClassEdgeFunction: {
			Limits: ResourceLimits{
				Fuel:        5_000_000,
				MemoryBytes: 50 << 20,
				Deadline:    50 * time.Millisecond,
			},
			FailureMode: FailOpen,
		},
	}}
}

// For returns the policy for class. Unknown classes get the WAF policy,
// the strictest one.
func (p *Policy) For(class wasmsandbox.ModuleClass) ClassPolicy {
	if cp, ok := p.classes[class]; ok {
		return cp
	}
	return p.classes[wasmsandbox.ClassWAF]
}

// Limits returns the resource limits for class.
func (p *Policy) Limits(class wasmsandbox.ModuleClass) ResourceLimits {
	return p.For(class).Limits
}

// Set replaces the record for class. Used by configuration loading; the
// policy is not safe for mutation after it is handed to a registry.
func (p *Policy) Set(class wasmsandbox.ModuleClass, cp ClassPolicy) error {
	if !class.Valid() {
		return fmt.Errorf("unknown module class %q", class)
	}
	if !cp.FailureMode.Valid() {
		return fmt.Errorf("class %q: unknown failure mode %q", class, cp.FailureMode)
	}
	if cp.Limits.Fuel == 0 || cp.Limits.MemoryBytes == 0 || cp.Limits.Deadline <= 0 {
		return fmt.Errorf("class %q: limits must be positive", class)
	}
	p.classes[class] = cp
	return nil
}
