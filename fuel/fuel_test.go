package fuel

import (
	"context"
	"testing"

	"github.com/aegisedge/wasm-sandbox/wasm"
)

func TestMeter(t *testing.T) {
	m := NewMeter(10)
	if !m.Consume(4) {
		t.Error("consume within budget should succeed")
	}
	if m.Remaining() != 6 {
		t.Errorf("remaining = %d, want 6", m.Remaining())
	}
	if m.Consume(7) {
		t.Error("overdraw should report exhaustion")
	}
	if !m.Exhausted() {
		t.Error("meter should be exhausted")
	}
	if m.Remaining() != 0 {
		t.Errorf("exhausted remaining = %d, want 0", m.Remaining())
	}
}

func TestMeterContext(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("bare context should carry no meter")
	}
	m := NewMeter(1)
	ctx := WithMeter(context.Background(), m)
	if FromContext(ctx) != m {
		t.Error("meter did not round-trip through context")
	}
}

// loopModule has one imported function and one defined function containing
// a loop that calls the defined function recursively and references the
// import.
func loopModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{}, // ()->()
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "tick", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs: []uint32{0},
		Exports: []wasm.Export{
			{Name: "run", Kind: wasm.KindFunc, Idx: 1},
			{Name: "tick_alias", Kind: wasm.KindFunc, Idx: 0},
		},
		Code: []wasm.FuncBody{
			{Code: []byte{
				wasm.OpLoop, 0x40,
				wasm.OpCall, 0x00, // the import
				wasm.OpCall, 0x01, // self
				wasm.OpBr, 0x00,
				wasm.OpEnd,
				wasm.OpEnd,
			}},
		},
	}
}

func TestInstrument_Renumbering(t *testing.T) {
	m := loopModule()
	if err := Instrument(m); err != nil {
		t.Fatalf("Instrument: %v", err)
	}

	imp := m.Imports[len(m.Imports)-1]
	if imp.Module != ImportModule || imp.Name != ImportName {
		t.Fatalf("charge import = %s.%s", imp.Module, imp.Name)
	}
	chargeType := m.Types[imp.Desc.TypeIdx]
	if len(chargeType.Params) != 1 || chargeType.Params[0] != wasm.ValI64 || len(chargeType.Results) != 0 {
		t.Errorf("charge import signature = %+v", chargeType)
	}

	// The defined function moved from index 1 to 2; the env import stays 0.
	if idx, _ := m.ExportedFunc("run"); idx != 2 {
		t.Errorf("run export = %d, want 2", idx)
	}
	if idx, _ := m.ExportedFunc("tick_alias"); idx != 0 {
		t.Errorf("tick_alias export = %d, want 0", idx)
	}

	instrs, err := wasm.DecodeInstructions(m.Code[0].Code)
	if err != nil {
		t.Fatalf("decode instrumented body: %v", err)
	}
	var targets []uint32
	for _, in := range instrs {
		if in.Opcode == wasm.OpCall {
			targets = append(targets, in.Imm.(wasm.CallImm).FuncIdx)
		}
	}
	// entry charge, loop charge, import call, self call (renumbered).
	want := []uint32{1, 1, 0, 2}
	if len(targets) != len(want) {
		t.Fatalf("call targets = %v, want %v", targets, want)
	}
	for i := range want {
		if targets[i] != want[i] {
			t.Errorf("call %d targets %d, want %d", i, targets[i], want[i])
		}
	}
}

func TestInstrument_ChargesEveryLoopIteration(t *testing.T) {
	m := loopModule()
	if err := Instrument(m); err != nil {
		t.Fatalf("Instrument: %v", err)
	}

	instrs, err := wasm.DecodeInstructions(m.Code[0].Code)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	// The first instruction after the loop opcode must be the charge
	// constant so a br back to the loop label pays again.
	for i, in := range instrs {
		if in.Opcode != wasm.OpLoop {
			continue
		}
		if instrs[i+1].Opcode != wasm.OpI64Const {
			t.Fatalf("instruction after loop is 0x%02x, want i64.const", instrs[i+1].Opcode)
		}
		if instrs[i+2].Opcode != wasm.OpCall {
			t.Fatalf("loop charge is not a call")
		}
		amount := instrs[i+1].Imm.(wasm.I64Imm).Value
		if amount <= 0 {
			t.Errorf("loop charge amount = %d, want positive", amount)
		}
	}
}

func TestInstrument_StartAndElements(t *testing.T) {
	start := uint32(0)
	m := &wasm.Module{
		Types:  []wasm.FuncType{{}},
		Funcs:  []uint32{0},
		Start:  &start,
		Tables: []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1}}},
		Elements: []wasm.Element{
			{Flags: 0, Offset: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd}, FuncIdxs: []uint32{0}},
		},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValFuncRef}, Init: []byte{wasm.OpRefFunc, 0x00, wasm.OpEnd}},
		},
		Code: []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
	}
	if err := Instrument(m); err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	if *m.Start != 1 {
		t.Errorf("start = %d, want 1", *m.Start)
	}
	if m.Elements[0].FuncIdxs[0] != 1 {
		t.Errorf("element funcidx = %d, want 1", m.Elements[0].FuncIdxs[0])
	}
	gi, err := wasm.DecodeInstructions(m.Globals[0].Init)
	if err != nil {
		t.Fatalf("decode global init: %v", err)
	}
	if gi[0].Imm.(wasm.IndexImm).Idx != 1 {
		t.Errorf("global ref.func = %d, want 1", gi[0].Imm.(wasm.IndexImm).Idx)
	}
}

func TestInstrumentBinary_RoundTrips(t *testing.T) {
	data := loopModule().Encode()
	out, err := InstrumentBinary(data)
	if err != nil {
		t.Fatalf("InstrumentBinary: %v", err)
	}
	if _, err := wasm.ParseModule(out); err != nil {
		t.Fatalf("instrumented module does not parse: %v", err)
	}
}
