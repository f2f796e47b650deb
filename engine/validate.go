package engine

import (
	"fmt"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
	"github.com/aegisedge/wasm-sandbox/hostapi"
	"github.com/aegisedge/wasm-sandbox/policy"
	"github.com/aegisedge/wasm-sandbox/wasm"
)

// validateGuest checks a parsed module against the sandbox contract:
// only known host functions are imported, the marshaling exports exist
// with the right signatures, and the declared memory fits the class
// ceiling. Feature-scope violations were already rejected by the parser.
func validateGuest(m *wasm.Module, class wasmsandbox.ModuleClass, limits policy.ResourceLimits) error {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			return fmt.Errorf("import %s.%s: only function imports are allowed", imp.Module, imp.Name)
		}
		if !hostapi.Allowed(imp.Module, imp.Name) {
			return fmt.Errorf("import %s.%s is not part of the host surface", imp.Module, imp.Name)
		}
	}

	if len(m.Memories) == 0 {
		return fmt.Errorf("module declares no linear memory")
	}
	if min := m.Memories[0].Limits.Min * wasm.PageSize; min > limits.MemoryBytes {
		return fmt.Errorf("declared memory minimum %d bytes exceeds class limit %d", min, limits.MemoryBytes)
	}

	if !hasMemoryExport(m) {
		return fmt.Errorf("missing %q memory export", memoryExport)
	}
	if err := checkFuncExport(m, allocExport,
		[]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32}); err != nil {
		return err
	}
	if err := checkFuncExport(m, deallocExport,
		[]wasm.ValType{wasm.ValI32, wasm.ValI32}, nil); err != nil {
		return err
	}
	return checkFuncExport(m, class.EntryPoint(),
		[]wasm.ValType{wasm.ValI32, wasm.ValI32}, []wasm.ValType{wasm.ValI32})
}

func hasMemoryExport(m *wasm.Module) bool {
	for _, exp := range m.Exports {
		if exp.Kind == wasm.KindMemory && exp.Name == memoryExport {
			return true
		}
	}
	return false
}

func checkFuncExport(m *wasm.Module, name string, params, results []wasm.ValType) error {
	idx, ok := m.ExportedFunc(name)
	if !ok {
		return fmt.Errorf("missing %q function export", name)
	}
	ft := m.FuncTypeAt(idx)
	if ft == nil {
		return fmt.Errorf("export %q references an unknown function", name)
	}
	want := wasm.FuncType{Params: params, Results: results}
	if !ft.Equal(want) {
		return fmt.Errorf("export %q has signature %v, want %v", name, *ft, want)
	}
	return nil
}
