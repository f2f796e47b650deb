package wasmsandbox

import (
	"encoding/json"
	"time"
)

// ModuleClass distinguishes WAF-analysis modules from edge functions.
// The class decides resource limits, the entry point the engine calls,
// and how the result buffer is interpreted.
type ModuleClass string

const (
	// ClassWAF is the strict class: small fuel budget, 10ms, 10MB.
	ClassWAF ModuleClass = "waf"
	// ClassEdgeFunction is the permissive class: 50ms, 50MB.
	ClassEdgeFunction ModuleClass = "edge_function"
)

// EntryPoint returns the exported function name the engine invokes for
// this class.
func (c ModuleClass) EntryPoint() string {
	if c == ClassWAF {
		return "analyze_request"
	}
	return "handle_request"
}

// Valid reports whether c is a known module class.
func (c ModuleClass) Valid() bool {
	return c == ClassWAF || c == ClassEdgeFunction
}

// Metadata describes a published module. It is observability data only;
// the runtime never interprets OriginRef.
type Metadata struct {
	Name      string      `json:"name"`
	Version   string      `json:"version"`
	Class     ModuleClass `json:"class"`
	OriginRef string      `json:"origin_ref,omitempty"`
	LoadedAt  time.Time   `json:"loaded_at"`
}

// Header is a single request or response header. Order is preserved and
// duplicate names are allowed, so headers are a list, not a map. On the
// wire a header is a two-element array, matching how guests serialize
// header pairs.
type Header struct {
	Name  string
	Value string
}

// MarshalJSON encodes the header as ["name", "value"].
func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{h.Name, h.Value})
}

// UnmarshalJSON decodes a ["name", "value"] pair.
func (h *Header) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	h.Name, h.Value = pair[0], pair[1]
	return nil
}

// ExecutionContext carries the request/response state for one invocation.
// It is owned by exactly one in-flight call.
type ExecutionContext struct {
	RequestMethod  string   `json:"request_method"`
	RequestURI     string   `json:"request_uri"`
	RequestHeaders []Header `json:"request_headers"`
	RequestBody    []byte   `json:"request_body"`

	ResponseStatus  int      `json:"response_status,omitempty"`
	ResponseHeaders []Header `json:"response_headers"`
	ResponseBody    []byte   `json:"response_body"`

	// TerminateEarly means "respond now": the caller should skip the
	// remaining pipeline stages and send the response as-is.
	TerminateEarly bool `json:"terminate_early"`
}

// Clone returns a deep copy. The engine hands a clone to each call so a
// guest can never mutate state observed by a concurrent invocation.
func (c *ExecutionContext) Clone() *ExecutionContext {
	out := &ExecutionContext{
		RequestMethod:  c.RequestMethod,
		RequestURI:     c.RequestURI,
		ResponseStatus: c.ResponseStatus,
		TerminateEarly: c.TerminateEarly,
	}
	if c.RequestHeaders != nil {
		out.RequestHeaders = append([]Header(nil), c.RequestHeaders...)
	}
	if c.ResponseHeaders != nil {
		out.ResponseHeaders = append([]Header(nil), c.ResponseHeaders...)
	}
	if c.RequestBody != nil {
		out.RequestBody = append([]byte(nil), c.RequestBody...)
	}
	if c.ResponseBody != nil {
		out.ResponseBody = append([]byte(nil), c.ResponseBody...)
	}
	return out
}

// RequestHeader returns the first request header matching name, or "".
func (c *ExecutionContext) RequestHeader(name string) (string, bool) {
	for _, h := range c.RequestHeaders {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// SetResponseHeader replaces the first response header matching name, or
// appends when absent.
func (c *ExecutionContext) SetResponseHeader(name, value string) {
	for i, h := range c.ResponseHeaders {
		if h.Name == name {
			c.ResponseHeaders[i].Value = value
			return
		}
	}
	c.ResponseHeaders = append(c.ResponseHeaders, Header{Name: name, Value: value})
}
