// Package errors defines the typed failure taxonomy of the sandbox runtime.
//
// Every way a module load or invocation can fail is a first-class error
// value. Guest faults never unwind through the host as panics; the engine
// converts them into these values so callers are forced to handle them.
//
// # Taxonomy
//
//	KindModuleNotFound    - no module published under the requested id
//	KindCompilation       - malformed or unverifiable artifact at load time
//	KindResourceExceeded  - fuel, memory, or wall-clock budget exhausted
//	KindTrap              - guest fault during execution (illegal op,
//	                        out-of-bounds access, explicit abort)
//	KindSerialization     - malformed marshaling payload or guest pointer
//	KindHostCall          - a Host API call failed (e.g. cache backend down)
//
// Resource-exceeded errors carry the exhausted dimension:
//
//	ResourceFuel, ResourceMemory, ResourceTimeout
//
// # Matching
//
// Errors match with errors.Is by kind (and resource dimension when set):
//
//	if errors.Is(err, &errors.Error{Kind: errors.KindTrap}) { ... }
//
// or with the helpers:
//
//	if errors.IsResourceExceeded(err, errors.ResourceTimeout) { ... }
package errors
