package wasmsandbox

import "time"

// WAFMatch is one triggered rule in a WAF analysis result.
type WAFMatch struct {
	RuleID       uint32 `json:"rule_id"`
	Description  string `json:"description"`
	Severity     uint8  `json:"severity"` // 1..5, 5 is critical
	Category     string `json:"category"`
	MatchedValue string `json:"matched_value"`
	Location     string `json:"location"` // URI, Method, Header:<name>, Body
}

// WAFResult is the verdict a WAF-class module returns.
type WAFResult struct {
	Blocked         bool       `json:"blocked"`
	Matches         []WAFMatch `json:"matches"`
	ExecutionTimeUs uint64     `json:"execution_time_us"` // set by the host
}

// EdgeResult is the response delta an edge-function module returns. The
// engine applies it to the invocation's ExecutionContext: headers are
// appended, status and body are set only when present.
type EdgeResult struct {
	ResponseStatus  int
	ResponseHeaders []Header
	ResponseBody    []byte
	TerminateEarly  bool
}

// ExecutionResult is the tagged outcome of one invocation. Exactly one of
// WAF or Context is set, decided by Class.
type ExecutionResult struct {
	Class ModuleClass

	// WAF holds the verdict for ClassWAF invocations.
	WAF *WAFResult

	// Context holds the (possibly mutated) context for ClassEdgeFunction
	// invocations.
	Context *ExecutionContext

	// Duration is the host-measured wall time of the call.
	Duration time.Duration
}
