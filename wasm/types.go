package wasm

// Module is a parsed WebAssembly module.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type indices of defined functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section, required when
	// bulk memory instructions reference data indices.
	DataCount *uint32

	CustomSections []CustomSection
}

// ValType is a WebAssembly value type byte.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (t FuncType) Equal(o FuncType) bool {
	if len(t.Params) != len(o.Params) || len(t.Results) != len(o.Results) {
		return false
	}
	for i := range t.Params {
		if t.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range t.Results {
		if t.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// Import is an imported function, table, memory, or global.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// ImportDesc describes an imported item. Kind is one of KindFunc,
// KindTable, KindMemory, KindGlobal.
type ImportDesc struct {
	Kind    byte
	TypeIdx uint32 // KindFunc
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
}

// TableType describes a table.
type TableType struct {
	ElemType ValType // ValFuncRef or ValExtern
	Limits   Limits
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Limits Limits
}

// Limits bounds a table or memory.
type Limits struct {
	Min uint64
	Max *uint64
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a global variable definition. Init holds the raw init
// expression bytes including the end opcode.
type Global struct {
	Type GlobalType
	Init []byte
}

// Export is an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element is an element segment. Flags follow the binary format:
//
//	0: active, table 0, offset expr, vec(funcidx)
//	1: passive, elemkind, vec(funcidx)
//	2: active, tableidx, offset expr, elemkind, vec(funcidx)
//	3: declarative, elemkind, vec(funcidx)
//	4: active, table 0, offset expr, vec(expr)
//	5: passive, reftype, vec(expr)
//	6: active, tableidx, offset expr, reftype, vec(expr)
//	7: declarative, reftype, vec(expr)
type Element struct {
	Flags    uint32
	TableIdx uint32
	Offset   []byte
	ElemKind byte
	RefType  ValType
	FuncIdxs []uint32
	Exprs    [][]byte
}

// FuncBody is a defined function's locals and bytecode. Code includes the
// trailing end opcode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// LocalEntry declares Count locals of the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment is a data segment. Flags: 0 active (memory 0), 1 passive,
// 2 active with explicit memory index.
type DataSegment struct {
	Flags  uint32
	MemIdx uint32
	Offset []byte
	Init   []byte
}

// CustomSection holds a named custom section's raw contents.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions. Imported
// functions occupy the low end of the function index space.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			n++
		}
	}
	return n
}

// FuncTypeAt returns the signature of the function at funcIdx in the
// combined import+defined index space, or nil when out of range.
func (m *Module) FuncTypeAt(funcIdx uint32) *FuncType {
	imported := uint32(m.NumImportedFuncs())
	if funcIdx < imported {
		var i uint32
		for idx := range m.Imports {
			if m.Imports[idx].Desc.Kind != KindFunc {
				continue
			}
			if i == funcIdx {
				return m.typeAt(m.Imports[idx].Desc.TypeIdx)
			}
			i++
		}
		return nil
	}
	local := funcIdx - imported
	if int(local) >= len(m.Funcs) {
		return nil
	}
	return m.typeAt(m.Funcs[local])
}

func (m *Module) typeAt(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// AddType returns the index of ft in the type section, appending it when
// no identical signature exists.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// ExportedFunc returns the function index exported under name.
func (m *Module) ExportedFunc(name string) (uint32, bool) {
	for _, e := range m.Exports {
		if e.Kind == KindFunc && e.Name == name {
			return e.Idx, true
		}
	}
	return 0, false
}
