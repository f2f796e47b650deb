package wasmtest

import (
	"testing"

	"github.com/aegisedge/wasm-sandbox/fuel"
	"github.com/aegisedge/wasm-sandbox/wasm"
)

func TestFixturesParseAndInstrument(t *testing.T) {
	fixtures := map[string][]byte{
		"waf":       WAFModule(),
		"edge":      EdgeHeaderModule(),
		"respond":   RespondModule(),
		"loop":      LoopForeverModule("handle_request"),
		"trap":      TrapModule("analyze_request"),
		"allocfail": AllocFailModule("analyze_request"),
		"oversized": OversizedResultModule("analyze_request"),
		"badimport": BadImportModule("analyze_request"),
		"hugemem":   HugeMemoryModule("analyze_request"),
		"noalloc":   NoAllocModule("analyze_request"),
	}
	for name, bin := range fixtures {
		if _, err := wasm.ParseModule(bin); err != nil {
			t.Errorf("%s: ParseModule: %v", name, err)
			continue
		}
		instrumented, err := fuel.InstrumentBinary(bin)
		if err != nil {
			t.Errorf("%s: InstrumentBinary: %v", name, err)
			continue
		}
		if _, err := wasm.ParseModule(instrumented); err != nil {
			t.Errorf("%s: instrumented binary does not re-parse: %v", name, err)
		}
	}
}
