package marshal

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
)

func TestEncodeRequest(t *testing.T) {
	ctx := &wasmsandbox.ExecutionContext{
		RequestMethod: "GET",
		RequestURI:    "/files/report.pdf",
		RequestHeaders: []wasmsandbox.Header{
			{Name: "Host", Value: "example.com"},
			{Name: "X-Dup", Value: "1"},
			{Name: "X-Dup", Value: "2"},
		},
		RequestBody: []byte("hello"),
	}
	data, err := EncodeRequest(ctx)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	var decoded struct {
		Method  string      `json:"method"`
		URI     string      `json:"uri"`
		Headers [][2]string `json:"headers"`
		Body    string      `json:"body"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Method != "GET" || decoded.URI != "/files/report.pdf" || decoded.Body != "hello" {
		t.Errorf("decoded = %+v", decoded)
	}
	want := [][2]string{{"Host", "example.com"}, {"X-Dup", "1"}, {"X-Dup", "2"}}
	if diff := cmp.Diff(want, decoded.Headers); diff != "" {
		t.Errorf("headers preserve order and duplicates (-want +got):\n%s", diff)
	}
}

func TestEncodeRequest_EmptyAndNonASCII(t *testing.T) {
	data, err := EncodeRequest(&wasmsandbox.ExecutionContext{
		RequestMethod: "POST",
		RequestURI:    "/π/路径",
		RequestBody:   nil,
	})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["uri"] != "/π/路径" {
		t.Errorf("uri = %v", decoded["uri"])
	}
	if decoded["body"] != "" {
		t.Errorf("empty body should encode as empty string, got %v", decoded["body"])
	}
	if _, ok := decoded["headers"].([]interface{}); !ok {
		t.Error("nil headers should encode as an empty array, not null")
	}
}

func TestEncodeRequest_InvalidUTF8Body(t *testing.T) {
	data, err := EncodeRequest(&wasmsandbox.ExecutionContext{
		RequestMethod: "POST",
		RequestURI:    "/upload",
		RequestBody:   []byte{0x80, 0xFF, 'o', 'k'},
	})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(raw["body"], new(string)); err != nil {
		t.Fatalf("body is not a valid JSON string: %v", err)
	}
}

func TestEncodeRequest_RoundTripStable(t *testing.T) {
	// Serializing, parsing the wire form back, and serializing again
	// must produce identical bytes, so host and guest builds can hash
	// or cache the encoded request interchangeably.
	tests := []struct {
		name string
		ctx  *wasmsandbox.ExecutionContext
	}{
		{"bare request", &wasmsandbox.ExecutionContext{
			RequestMethod: "GET",
			RequestURI:    "/",
		}},
		{"duplicate headers", &wasmsandbox.ExecutionContext{
			RequestMethod: "GET",
			RequestURI:    "/files/report.pdf",
			RequestHeaders: []wasmsandbox.Header{
				{Name: "X-Dup", Value: "1"},
				{Name: "X-Dup", Value: "2"},
				{Name: "Host", Value: "example.com"},
			},
		}},
		{"non-ascii", &wasmsandbox.ExecutionContext{
			RequestMethod:  "POST",
			RequestURI:     "/π/路径",
			RequestHeaders: []wasmsandbox.Header{{Name: "X-City", Value: "Zürich"}},
			RequestBody:    []byte("café ☕"),
		}},
		{"binary body", &wasmsandbox.ExecutionContext{
			RequestMethod: "POST",
			RequestURI:    "/upload",
			RequestBody:   []byte{0x00, 0x80, 0xFF, 'o', 'k'},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := EncodeRequest(tt.ctx)
			if err != nil {
				t.Fatalf("EncodeRequest: %v", err)
			}

			var wire struct {
				Method  string      `json:"method"`
				URI     string      `json:"uri"`
				Headers [][2]string `json:"headers"`
				Body    string      `json:"body"`
			}
			if err := json.Unmarshal(first, &wire); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			rebuilt := &wasmsandbox.ExecutionContext{
				RequestMethod: wire.Method,
				RequestURI:    wire.URI,
				RequestBody:   []byte(wire.Body),
			}
			for _, h := range wire.Headers {
				rebuilt.RequestHeaders = append(rebuilt.RequestHeaders,
					wasmsandbox.Header{Name: h[0], Value: h[1]})
			}

			second, err := EncodeRequest(rebuilt)
			if err != nil {
				t.Fatalf("EncodeRequest (rebuilt): %v", err)
			}
			if !bytes.Equal(first, second) {
				t.Errorf("re-encoding drifted:\n first = %s\nsecond = %s", first, second)
			}
		})
	}
}

func TestResultLength(t *testing.T) {
	if _, err := ResultLength([]byte{1, 2}, 1<<20); err == nil {
		t.Error("short prefix should be rejected")
	}

	n, err := ResultLength([]byte{0x10, 0x00, 0x00, 0x00}, 1<<20)
	if err != nil || n != 16 {
		t.Errorf("ResultLength = %d, %v", n, err)
	}

	// A guest claiming a result larger than its memory ceiling.
	if _, err := ResultLength([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 10<<20); err == nil {
		t.Error("oversized length prefix should be rejected")
	}
}

func TestDecodeWAFResult(t *testing.T) {
	payload := []byte(`{
		"blocked": true,
		"matches": [{
			"rule_id": 930100,
			"description": "Path traversal attack detected",
			"severity": 5,
			"category": "path-traversal",
			"matched_value": "../",
			"location": "URI"
		}],
		"execution_time_us": 0
	}`)
	res, err := DecodeWAFResult(payload)
	if err != nil {
		t.Fatalf("DecodeWAFResult: %v", err)
	}
	if !res.Blocked || len(res.Matches) != 1 {
		t.Fatalf("result = %+v", res)
	}
	m := res.Matches[0]
	if m.RuleID != 930100 || m.Category != "path-traversal" || m.Severity != 5 {
		t.Errorf("match = %+v", m)
	}
}

func TestDecodeWAFResult_Malformed(t *testing.T) {
	if _, err := DecodeWAFResult([]byte(`{"blocked": `)); err == nil {
		t.Error("truncated JSON should fail")
	}
	if _, err := DecodeWAFResult([]byte(`[]`)); err == nil {
		t.Error("wrong JSON shape should fail")
	}
}

func TestEdgeResult_RoundTrip(t *testing.T) {
	original := &wasmsandbox.EdgeResult{
		ResponseStatus:  418,
		ResponseHeaders: []wasmsandbox.Header{{Name: "X-Processed-By", Value: "edge"}},
		ResponseBody:    []byte("short and stout"),
		TerminateEarly:  true,
	}
	payload, err := EncodeEdgeResult(original)
	if err != nil {
		t.Fatalf("EncodeEdgeResult: %v", err)
	}
	decoded, err := DecodeEdgeResult(payload)
	if err != nil {
		t.Fatalf("DecodeEdgeResult: %v", err)
	}
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeEdgeResult_Defaults(t *testing.T) {
	res, err := DecodeEdgeResult([]byte(`{"response_headers": [["X-A","1"]]}`))
	if err != nil {
		t.Fatalf("DecodeEdgeResult: %v", err)
	}
	if res.ResponseStatus != 0 || res.TerminateEarly || res.ResponseBody != nil {
		t.Errorf("defaults = %+v", res)
	}
	if len(res.ResponseHeaders) != 1 || res.ResponseHeaders[0].Name != "X-A" {
		t.Errorf("headers = %+v", res.ResponseHeaders)
	}
}

func TestAppendPrefix(t *testing.T) {
	buf := AppendPrefix([]byte(`{"ok":true}`))
	n, err := ResultLength(buf[:PrefixSize], 1<<20)
	if err != nil {
		t.Fatalf("ResultLength: %v", err)
	}
	if int(n) != len(buf)-PrefixSize {
		t.Errorf("prefix = %d, payload = %d", n, len(buf)-PrefixSize)
	}
}
