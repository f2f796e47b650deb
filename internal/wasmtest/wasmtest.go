// Package wasmtest assembles small guest modules in memory so runtime
// tests can execute real WebAssembly without checked-in binaries. Every
// fixture carries the standard guest contract: an exported memory, a
// bump allocator, and a class entry point that returns a
// length-prefixed result buffer.
package wasmtest

import (
	"bytes"
	"encoding/json"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
	"github.com/aegisedge/wasm-sandbox/marshal"
	"github.com/aegisedge/wasm-sandbox/wasm"
)

// Guest memory layout shared by the fixtures. Data segments sit below
// the bump allocator's heap base.
const (
	resultAddr = 16
	cleanAddr  = 1024
	logAddr    = 2048
	bodyAddr   = 2560
	heapBase   = 4096
)

// BlockedRuleID is the rule the scanner fixture reports on a hit.
const BlockedRuleID = 930100

var (
	sigAlloc   = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
	sigDealloc = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}}
	sigEntry   = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
)

type builder struct {
	m          *wasm.Module
	numImports uint32
}

func newBuilder() *builder {
	return &builder{m: &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 2}}},
		Exports:  []wasm.Export{{Name: "memory", Kind: wasm.KindMemory, Idx: 0}},
	}}
}

func (b *builder) importFunc(module, name string, ft wasm.FuncType) uint32 {
	idx := b.numImports
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: b.m.AddType(ft)},
	})
	b.numImports++
	return idx
}

// addFunc defines a function and exports it when name is non-empty. All
// imports must be declared before the first defined function.
func (b *builder) addFunc(name string, ft wasm.FuncType, locals []wasm.LocalEntry, body []wasm.Instruction) uint32 {
	idx := b.numImports + uint32(len(b.m.Funcs))
	b.m.Funcs = append(b.m.Funcs, b.m.AddType(ft))
	b.m.Code = append(b.m.Code, wasm.FuncBody{Locals: locals, Code: wasm.EncodeInstructions(body)})
	if name != "" {
		b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Idx: idx})
	}
	return idx
}

func (b *builder) data(addr int32, payload []byte) {
	b.m.Data = append(b.m.Data, wasm.DataSegment{Offset: constExpr(addr), Init: payload})
}

// stdAllocator adds a mutable heap-pointer global plus the alloc and
// dealloc exports every well-formed guest carries.
func (b *builder) stdAllocator() {
	b.m.Globals = append(b.m.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: constExpr(heapBase),
	})
	heap := uint32(len(b.m.Globals) - 1)

	// old = heap; heap += n; return old
	b.addFunc("alloc", sigAlloc, i32Locals(1), []wasm.Instruction{
		imm(wasm.OpGlobalGet, wasm.IndexImm{Idx: heap}),
		imm(wasm.OpLocalSet, wasm.IndexImm{Idx: 1}),
		imm(wasm.OpLocalGet, wasm.IndexImm{Idx: 1}),
		imm(wasm.OpLocalGet, wasm.IndexImm{Idx: 0}),
		op(wasm.OpI32Add),
		imm(wasm.OpGlobalSet, wasm.IndexImm{Idx: heap}),
		imm(wasm.OpLocalGet, wasm.IndexImm{Idx: 1}),
		op(wasm.OpEnd),
	})
	b.addFunc("dealloc", sigDealloc, nil, []wasm.Instruction{op(wasm.OpEnd)})
}

func (b *builder) build() []byte {
	return b.m.Encode()
}

func op(opcode byte) wasm.Instruction {
	return wasm.Instruction{Opcode: opcode}
}

func imm(opcode byte, i interface{}) wasm.Instruction {
	return wasm.Instruction{Opcode: opcode, Imm: i}
}

func i32c(v int32) wasm.Instruction {
	return imm(wasm.OpI32Const, wasm.I32Imm{Value: v})
}

func voidBlock(opcode byte) wasm.Instruction {
	return imm(opcode, wasm.BlockImm{Type: wasm.BlockTypeVoid})
}

func i32Locals(count uint32) []wasm.LocalEntry {
	return []wasm.LocalEntry{{Count: count, ValType: wasm.ValI32}}
}

func constExpr(v int32) []byte {
	var buf bytes.Buffer
	buf.WriteByte(wasm.OpI32Const)
	wasm.WriteLEB128s(&buf, v)
	buf.WriteByte(wasm.OpEnd)
	return buf.Bytes()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// WAFModule builds an analyzer that scans the marshaled request for a
// "../" byte sequence. A hit returns a blocked verdict with a
// path-traversal match; anything else returns a clean verdict.
func WAFModule() []byte {
	b := newBuilder()
	b.stdAllocator()

	blocked := mustJSON(wasmsandbox.WAFResult{
		Blocked: true,
		Matches: []wasmsandbox.WAFMatch{{
			RuleID:       BlockedRuleID,
			Description:  "Path Traversal Attack (/../)",
			Severity:     5,
			Category:     "path-traversal",
			MatchedValue: "../",
			Location:     "URI",
		}},
	})
	clean := mustJSON(wasmsandbox.WAFResult{Matches: []wasmsandbox.WAFMatch{}})
	b.data(resultAddr, marshal.AppendPrefix(blocked))
	b.data(cleanAddr, marshal.AppendPrefix(clean))

	// params: ptr, len; locals: i, limit
	load8 := func(offset uint64) []wasm.Instruction {
		return []wasm.Instruction{
			imm(wasm.OpLocalGet, wasm.IndexImm{Idx: 0}),
			imm(wasm.OpLocalGet, wasm.IndexImm{Idx: 2}),
			op(wasm.OpI32Add),
			imm(wasm.OpI32Load8U, wasm.MemoryImm{Offset: offset}),
		}
	}
	var body []wasm.Instruction
	body = append(body,
		voidBlock(wasm.OpBlock),
		imm(wasm.OpLocalGet, wasm.IndexImm{Idx: 1}),
		i32c(3),
		op(wasm.OpI32LtU),
		imm(wasm.OpBrIf, wasm.BranchImm{LabelIdx: 0}),
		i32c(0),
		imm(wasm.OpLocalSet, wasm.IndexImm{Idx: 2}),
		imm(wasm.OpLocalGet, wasm.IndexImm{Idx: 1}),
		i32c(2),
		op(wasm.OpI32Sub),
		imm(wasm.OpLocalSet, wasm.IndexImm{Idx: 3}),
		voidBlock(wasm.OpLoop),
	)
	body = append(body, load8(0)...)
	body = append(body, i32c('.'), op(wasm.OpI32Eq), voidBlock(wasm.OpIf))
	body = append(body, load8(1)...)
	body = append(body, i32c('.'), op(wasm.OpI32Eq), voidBlock(wasm.OpIf))
	body = append(body, load8(2)...)
	body = append(body,
		i32c('/'),
		op(wasm.OpI32Eq),
		voidBlock(wasm.OpIf),
		i32c(resultAddr),
		op(wasm.OpReturn),
		op(wasm.OpEnd),
		op(wasm.OpEnd),
		op(wasm.OpEnd),
		imm(wasm.OpLocalGet, wasm.IndexImm{Idx: 2}),
		i32c(1),
		op(wasm.OpI32Add),
		imm(wasm.OpLocalSet, wasm.IndexImm{Idx: 2}),
		imm(wasm.OpLocalGet, wasm.IndexImm{Idx: 2}),
		imm(wasm.OpLocalGet, wasm.IndexImm{Idx: 3}),
		op(wasm.OpI32LtU),
		imm(wasm.OpBrIf, wasm.BranchImm{LabelIdx: 0}),
		op(wasm.OpEnd), // loop
		op(wasm.OpEnd), // block
		i32c(cleanAddr),
		op(wasm.OpEnd),
	)
	b.addFunc(wasmsandbox.ClassWAF.EntryPoint(), sigEntry, i32Locals(2), body)
	return b.build()
}

// WAFBlockAllModule builds an analyzer that blocks every request. Hot
// reload tests swap it in over the scanner to observe the new verdict.
func WAFBlockAllModule() []byte {
	b := newBuilder()
	b.stdAllocator()

	blocked := mustJSON(wasmsandbox.WAFResult{
		Blocked: true,
		Matches: []wasmsandbox.WAFMatch{{
			RuleID:      BlockedRuleID,
			Description: "Deny all",
			Severity:    5,
			Category:    "lockdown",
			Location:    "URI",
		}},
	})
	b.data(resultAddr, marshal.AppendPrefix(blocked))

	b.addFunc(wasmsandbox.ClassWAF.EntryPoint(), sigEntry, nil, []wasm.Instruction{
		i32c(resultAddr),
		op(wasm.OpEnd),
	})
	return b.build()
}

// EdgeHeaderModule builds an edge function whose response delta adds an
// X-Processed-By header and nothing else.
func EdgeHeaderModule() []byte {
	b := newBuilder()
	b.stdAllocator()

	delta, err := marshal.EncodeEdgeResult(&wasmsandbox.EdgeResult{
		ResponseHeaders: []wasmsandbox.Header{{Name: "X-Processed-By", Value: "edge"}},
	})
	if err != nil {
		panic(err)
	}
	b.data(resultAddr, marshal.AppendPrefix(delta))

	b.addFunc(wasmsandbox.ClassEdgeFunction.EntryPoint(), sigEntry, nil, []wasm.Instruction{
		i32c(resultAddr),
		op(wasm.OpEnd),
	})
	return b.build()
}

// RespondModule builds an edge function that logs a line and short-
// circuits the request through the respond host call, then returns an
// empty delta.
func RespondModule() []byte {
	b := newBuilder()
	logFn := b.importFunc("aegis", "log", wasm.FuncType{
		Params: []wasm.ValType{wasm.ValI32, wasm.ValI32},
	})
	respondFn := b.importFunc("aegis", "respond", wasm.FuncType{
		Params: []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32},
	})
	b.stdAllocator()

	logMsg := []byte("blocking")
	respBody := []byte("denied")
	b.data(logAddr, logMsg)
	b.data(bodyAddr, respBody)
	delta, err := marshal.EncodeEdgeResult(&wasmsandbox.EdgeResult{})
	if err != nil {
		panic(err)
	}
	b.data(resultAddr, marshal.AppendPrefix(delta))

	b.addFunc(wasmsandbox.ClassEdgeFunction.EntryPoint(), sigEntry, nil, []wasm.Instruction{
		i32c(logAddr),
		i32c(int32(len(logMsg))),
		imm(wasm.OpCall, wasm.CallImm{FuncIdx: logFn}),
		i32c(403),
		i32c(bodyAddr),
		i32c(int32(len(respBody))),
		imm(wasm.OpCall, wasm.CallImm{FuncIdx: respondFn}),
		i32c(resultAddr),
		op(wasm.OpEnd),
	})
	return b.build()
}

// LoopForeverModule builds a guest whose entry point never returns. The
// fuel meter or the deadline has to stop it.
func LoopForeverModule(entry string) []byte {
	b := newBuilder()
	b.stdAllocator()
	b.addFunc(entry, sigEntry, nil, []wasm.Instruction{
		voidBlock(wasm.OpLoop),
		imm(wasm.OpBr, wasm.BranchImm{LabelIdx: 0}),
		op(wasm.OpEnd),
		i32c(resultAddr),
		op(wasm.OpEnd),
	})
	return b.build()
}

// TrapModule builds a guest whose entry point executes unreachable.
func TrapModule(entry string) []byte {
	b := newBuilder()
	b.stdAllocator()
	b.addFunc(entry, sigEntry, nil, []wasm.Instruction{
		op(wasm.OpUnreachable),
		op(wasm.OpEnd),
	})
	return b.build()
}

// AllocFailModule builds a guest whose allocator always reports
// exhaustion by returning the null pointer.
func AllocFailModule(entry string) []byte {
	b := newBuilder()
	b.addFunc("alloc", sigAlloc, nil, []wasm.Instruction{
		i32c(0),
		op(wasm.OpEnd),
	})
	b.addFunc("dealloc", sigDealloc, nil, []wasm.Instruction{op(wasm.OpEnd)})
	b.addFunc(entry, sigEntry, nil, []wasm.Instruction{
		i32c(resultAddr),
		op(wasm.OpEnd),
	})
	return b.build()
}

// OversizedResultModule builds a guest whose result buffer claims a
// payload far larger than any memory ceiling allows.
func OversizedResultModule(entry string) []byte {
	b := newBuilder()
	b.stdAllocator()
	b.data(resultAddr, []byte{0xFF, 0xFF, 0xFF, 0x7F})
	b.addFunc(entry, sigEntry, nil, []wasm.Instruction{
		i32c(resultAddr),
		op(wasm.OpEnd),
	})
	return b.build()
}

// BadImportModule builds a guest importing a function outside the host
// surface. Compilation must reject it.
func BadImportModule(entry string) []byte {
	b := newBuilder()
	b.importFunc("aegis", "http_get", wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	b.stdAllocator()
	b.addFunc(entry, sigEntry, nil, []wasm.Instruction{
		i32c(resultAddr),
		op(wasm.OpEnd),
	})
	return b.build()
}

// MeterImportModule builds a guest declaring the metering import
// itself, positioned to call it with forged amounts. Compilation must
// reject it.
func MeterImportModule(entry string) []byte {
	b := newBuilder()
	b.importFunc("aegis", "consume_fuel", wasm.FuncType{
		Params: []wasm.ValType{wasm.ValI64},
	})
	b.stdAllocator()
	b.addFunc(entry, sigEntry, nil, []wasm.Instruction{
		i32c(resultAddr),
		op(wasm.OpEnd),
	})
	return b.build()
}

// HugeMemoryModule builds a guest declaring a minimum memory beyond
// every class ceiling.
func HugeMemoryModule(entry string) []byte {
	b := newBuilder()
	b.m.Memories[0].Limits.Min = 65536 // 4GiB
	b.stdAllocator()
	b.addFunc(entry, sigEntry, nil, []wasm.Instruction{
		i32c(resultAddr),
		op(wasm.OpEnd),
	})
	return b.build()
}

// NoAllocModule builds a guest missing the alloc export.
func NoAllocModule(entry string) []byte {
	b := newBuilder()
	b.addFunc("dealloc", sigDealloc, nil, []wasm.Instruction{op(wasm.OpEnd)})
	b.addFunc(entry, sigEntry, nil, []wasm.Instruction{
		i32c(resultAddr),
		op(wasm.OpEnd),
	})
	return b.build()
}
