package marshal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
)

// PrefixSize is the width of the result length prefix in bytes.
const PrefixSize = 4

// request is the JSON shape handed to guest entry points.
type request struct {
	Method  string              `json:"method"`
	URI     string              `json:"uri"`
	Headers []wasmsandbox.Header `json:"headers"`
	Body    string              `json:"body"`
}

// EncodeRequest serializes the invocation context for the guest. The body
// is carried as a string with invalid UTF-8 replaced, matching what JSON
// guests expect.
func EncodeRequest(ctx *wasmsandbox.ExecutionContext) ([]byte, error) {
	headers := ctx.RequestHeaders
	if headers == nil {
		headers = []wasmsandbox.Header{}
	}
	data, err := json.Marshal(request{
		Method:  ctx.RequestMethod,
		URI:     ctx.RequestURI,
		Headers: headers,
		Body:    lossyString(ctx.RequestBody),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return data, nil
}

// lossyString converts bytes to a string, replacing invalid UTF-8
// sequences with U+FFFD.
func lossyString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

// ResultLength reads the little-endian length prefix and validates it
// against the memory ceiling. The prefix slice must be PrefixSize bytes.
func ResultLength(prefix []byte, memoryBytes uint64) (uint32, error) {
	if len(prefix) != PrefixSize {
		return 0, fmt.Errorf("result prefix is %d bytes, want %d", len(prefix), PrefixSize)
	}
	n := binary.LittleEndian.Uint32(prefix)
	if uint64(n) > memoryBytes {
		return 0, fmt.Errorf("result length %d exceeds memory ceiling %d", n, memoryBytes)
	}
	return n, nil
}

// DecodeWAFResult parses a WAF verdict payload.
func DecodeWAFResult(payload []byte) (*wasmsandbox.WAFResult, error) {
	var res wasmsandbox.WAFResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decoding WAF result: %w", err)
	}
	return &res, nil
}

// edgeResultWire is the guest-side shape of an edge response delta. The
// body crosses as a string to match the request encoding.
type edgeResultWire struct {
	ResponseStatus  int                  `json:"response_status"`
	ResponseHeaders []wasmsandbox.Header `json:"response_headers"`
	ResponseBody    string               `json:"response_body"`
	TerminateEarly  bool                 `json:"terminate_early"`
}

// DecodeEdgeResult parses an edge function payload.
func DecodeEdgeResult(payload []byte) (*wasmsandbox.EdgeResult, error) {
	var wire edgeResultWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("decoding edge result: %w", err)
	}
	res := &wasmsandbox.EdgeResult{
		ResponseStatus:  wire.ResponseStatus,
		ResponseHeaders: wire.ResponseHeaders,
		TerminateEarly:  wire.TerminateEarly,
	}
	if wire.ResponseBody != "" {
		res.ResponseBody = []byte(wire.ResponseBody)
	}
	return res, nil
}

// EncodeEdgeResult serializes a response delta the way a guest would.
// Test fixtures and the interactive runner use it.
func EncodeEdgeResult(res *wasmsandbox.EdgeResult) ([]byte, error) {
	headers := res.ResponseHeaders
	if headers == nil {
		headers = []wasmsandbox.Header{}
	}
	return json.Marshal(edgeResultWire{
		ResponseStatus:  res.ResponseStatus,
		ResponseHeaders: headers,
		ResponseBody:    string(res.ResponseBody),
		TerminateEarly:  res.TerminateEarly,
	})
}

// AppendPrefix prepends the little-endian length prefix to a payload,
// producing the exact buffer layout guests return.
func AppendPrefix(payload []byte) []byte {
	out := make([]byte, PrefixSize+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[PrefixSize:], payload)
	return out
}
