package wasm

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLEB128_RoundTrip(t *testing.T) {
	unsigned := []uint32{0, 1, 127, 128, 16384, 624485, 0xFFFFFFFF}
	for _, v := range unsigned {
		var buf bytes.Buffer
		WriteLEB128u(&buf, v)
		got, err := ReadLEB128u(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("ReadLEB128u(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d -> %d", v, got)
		}
	}

	signed := []int32{0, 1, -1, 63, 64, -64, -65, 624485, -624485, -2147483648, 2147483647}
	for _, v := range signed {
		var buf bytes.Buffer
		WriteLEB128s(&buf, v)
		got, err := ReadLEB128s(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("ReadLEB128s(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d -> %d", v, got)
		}
	}

	signed64 := []int64{0, -1, 9223372036854775807, -9223372036854775808}
	for _, v := range signed64 {
		var buf bytes.Buffer
		WriteLEB128s64(&buf, v)
		got, err := ReadLEB128s64(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("ReadLEB128s64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d -> %d", v, got)
		}
	}
}

func TestLEB128_KnownEncodings(t *testing.T) {
	var buf bytes.Buffer
	WriteLEB128u(&buf, 624485)
	if !bytes.Equal(buf.Bytes(), []byte{0xE5, 0x8E, 0x26}) {
		t.Errorf("624485 encoded as % x", buf.Bytes())
	}

	buf.Reset()
	WriteLEB128s(&buf, -123456)
	if !bytes.Equal(buf.Bytes(), []byte{0xC0, 0xBB, 0x78}) {
		t.Errorf("-123456 encoded as % x", buf.Bytes())
	}
}

func TestLEB128_Overflow(t *testing.T) {
	if _, err := ReadLEB128u(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestParseModule_Header(t *testing.T) {
	if _, err := ParseModule([]byte{0x00, 0x61, 0x73}); err != ErrInvalidMagic {
		t.Errorf("truncated header: got %v", err)
	}
	if _, err := ParseModule([]byte{0xDE, 0xAD, 0xBE, 0xEF, 1, 0, 0, 0}); err != ErrInvalidMagic {
		t.Errorf("bad magic: got %v", err)
	}
	if _, err := ParseModule([]byte{0x00, 0x61, 0x73, 0x6D, 2, 0, 0, 0}); err != ErrInvalidVersion {
		t.Errorf("bad version: got %v", err)
	}

	m, err := ParseModule([]byte{0x00, 0x61, 0x73, 0x6D, 1, 0, 0, 0})
	if err != nil {
		t.Fatalf("empty module: %v", err)
	}
	if len(m.Types) != 0 || len(m.Code) != 0 {
		t.Error("empty module should have no sections")
	}
}

// testModule builds a module exercising every section the parser supports.
func testModule() *Module {
	maxPages := uint64(160)
	m := &Module{
		Types: []FuncType{
			{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}},
			{Params: nil, Results: nil},
		},
		Imports: []Import{
			{Module: "env", Name: "log", Desc: ImportDesc{Kind: KindFunc, TypeIdx: 0}},
		},
		Funcs: []uint32{0, 1},
		Tables: []TableType{
			{ElemType: ValFuncRef, Limits: Limits{Min: 1, Max: &maxPages}},
		},
		Memories: []MemoryType{
			{Limits: Limits{Min: 1, Max: &maxPages}},
		},
		Globals: []Global{
			{Type: GlobalType{ValType: ValI32, Mutable: true}, Init: []byte{OpI32Const, 0x00, OpEnd}},
		},
		Exports: []Export{
			{Name: "add", Kind: KindFunc, Idx: 1},
			{Name: "memory", Kind: KindMemory, Idx: 0},
		},
		Elements: []Element{
			{Flags: 0, Offset: []byte{OpI32Const, 0x00, OpEnd}, FuncIdxs: []uint32{1}},
		},
		Code: []FuncBody{
			{Code: []byte{OpLocalGet, 0x00, OpLocalGet, 0x01, OpI32Add, OpEnd}},
			{Locals: []LocalEntry{{Count: 2, ValType: ValI64}}, Code: []byte{OpEnd}},
		},
		Data: []DataSegment{
			{Flags: 0, Offset: []byte{OpI32Const, 0x08, OpEnd}, Init: []byte("hello")},
		},
	}
	return m
}

func TestModule_EncodeParseRoundTrip(t *testing.T) {
	original := testModule()
	parsed, err := ParseModule(original.Encode())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if diff := cmp.Diff(original, parsed); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseModule_ZeroLocalsStayNil(t *testing.T) {
	parsed, err := ParseModule(testModule().Encode())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if parsed.Code[0].Locals != nil {
		t.Errorf("Locals = %#v for a local-free body, want nil", parsed.Code[0].Locals)
	}
}

func TestParseModule_RejectsUnsupported(t *testing.T) {
	// Type section with a GC struct type (0x5F).
	gcModule := append([]byte{0x00, 0x61, 0x73, 0x6D, 1, 0, 0, 0},
		SectionType, 3, 1, 0x5F, 0)
	if _, err := ParseModule(gcModule); err == nil {
		t.Error("GC struct type should be rejected")
	}

	// Tag section (exception handling).
	tagModule := append([]byte{0x00, 0x61, 0x73, 0x6D, 1, 0, 0, 0},
		SectionTag, 1, 0)
	if _, err := ParseModule(tagModule); err == nil {
		t.Error("tag section should be rejected")
	}

	// Shared memory (threads).
	sharedMem := append([]byte{0x00, 0x61, 0x73, 0x6D, 1, 0, 0, 0},
		SectionMemory, 4, 1, LimitsShared | LimitsHasMax, 1, 1)
	if _, err := ParseModule(sharedMem); err == nil {
		t.Error("shared memory should be rejected")
	}
}

func TestParseModule_CodeCountMismatch(t *testing.T) {
	m := testModule()
	m.Code = m.Code[:1]
	if _, err := ParseModule(m.Encode()); err == nil {
		t.Error("mismatched function/code counts should be rejected")
	}
}

func TestDecodeInstructions(t *testing.T) {
	code := []byte{
		OpBlock, 0x40,
		OpLoop, 0x40,
		OpLocalGet, 0x00,
		OpI32Const, 0x01,
		OpI32Sub,
		OpLocalTee, 0x00,
		OpBrIf, 0x00,
		OpEnd,
		OpEnd,
		OpCall, 0x02,
		OpEnd,
	}
	instrs, err := DecodeInstructions(code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}

	var loops, calls int
	for _, in := range instrs {
		switch in.Opcode {
		case OpLoop:
			loops++
		case OpCall:
			calls++
			if in.Imm.(CallImm).FuncIdx != 2 {
				t.Errorf("call target = %d, want 2", in.Imm.(CallImm).FuncIdx)
			}
		}
	}
	if loops != 1 || calls != 1 {
		t.Errorf("got %d loops and %d calls, want 1 and 1", loops, calls)
	}

	if !bytes.Equal(EncodeInstructions(instrs), code) {
		t.Error("re-encoded bytecode differs from input")
	}
}

func TestDecodeInstructions_MemArgAndConsts(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(OpI32Const)
	WriteLEB128s(&buf, -42)
	buf.WriteByte(OpI64Const)
	WriteLEB128s64(&buf, 1<<40)
	buf.WriteByte(OpF64Const)
	WriteFloat64(&buf, 3.5)
	buf.WriteByte(OpI32Load)
	WriteLEB128u(&buf, 2)     // align
	WriteLEB128u64(&buf, 16)  // offset
	buf.WriteByte(OpI32Store)
	WriteLEB128u(&buf, 2)
	WriteLEB128u64(&buf, 0)
	buf.WriteByte(OpEnd)

	instrs, err := DecodeInstructions(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	if got := instrs[0].Imm.(I32Imm).Value; got != -42 {
		t.Errorf("i32.const = %d, want -42", got)
	}
	if got := instrs[3].Imm.(MemoryImm); got.Align != 2 || got.Offset != 16 {
		t.Errorf("i32.load memarg = %+v", got)
	}
	if !bytes.Equal(EncodeInstructions(instrs), buf.Bytes()) {
		t.Error("re-encoded bytecode differs from input")
	}
}

func TestDecodeInstructions_RejectsProposals(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"gc prefix", []byte{OpPrefixGC, 0x00, 0x00}},
		{"atomic prefix", []byte{OpPrefixAtomic, 0x10, 0x02, 0x00}},
		{"tail call", []byte{0x12, 0x00}},
		{"try", []byte{0x06, 0x40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeInstructions(tt.code); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestModule_Helpers(t *testing.T) {
	m := testModule()

	if n := m.NumImportedFuncs(); n != 1 {
		t.Errorf("NumImportedFuncs = %d, want 1", n)
	}

	ft := m.FuncTypeAt(0) // the import
	if ft == nil || len(ft.Params) != 2 {
		t.Errorf("FuncTypeAt(0) = %+v", ft)
	}
	if ft := m.FuncTypeAt(2); ft == nil || len(ft.Params) != 0 {
		t.Errorf("FuncTypeAt(2) = %+v", ft)
	}
	if m.FuncTypeAt(99) != nil {
		t.Error("out-of-range function index should yield nil")
	}

	if idx, ok := m.ExportedFunc("add"); !ok || idx != 1 {
		t.Errorf("ExportedFunc(add) = %d, %v", idx, ok)
	}
	if _, ok := m.ExportedFunc("memory"); ok {
		t.Error("memory export is not a function")
	}

	// AddType reuses identical signatures.
	if idx := m.AddType(FuncType{Params: []ValType{ValI32, ValI32}, Results: []ValType{ValI32}}); idx != 0 {
		t.Errorf("AddType reuse = %d, want 0", idx)
	}
	if idx := m.AddType(FuncType{Params: []ValType{ValI64}}); idx != 2 {
		t.Errorf("AddType new = %d, want 2", idx)
	}
}
