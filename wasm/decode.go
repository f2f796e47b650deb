package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a WebAssembly binary module. Modules using the GC,
// threads, exception handling, or memory64 proposals are rejected.
func ParseModule(data []byte) (*Module, error) {
	if len(data) < 8 {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[0:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[4:8]) != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	r := bytes.NewReader(data[8:])

	var lastSection byte
	for {
		id, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("section header: %w", err)
		}

		if id != SectionCustom {
			if sectionOrder(id) <= sectionOrder(lastSection) {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			lastSection = id
		}

		size, err := ReadLEB128u(r)
		if err != nil {
			return nil, fmt.Errorf("section size: %w", err)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("section %d body: %w", id, err)
		}
		sr := bytes.NewReader(body)

		switch id {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			err = parseCodeSection(sr, m)
		case SectionData:
			err = parseDataSection(sr, m)
		case SectionDataCount:
			err = parseDataCountSection(sr, m)
		case SectionTag:
			err = errors.New("exception handling is not supported")
		default:
			err = fmt.Errorf("unknown section ID 0x%02x", id)
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
		if sr.Len() != 0 && id != SectionCustom {
			return nil, fmt.Errorf("section %d: %d trailing bytes", id, sr.Len())
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function section declares %d functions, code section has %d bodies",
			len(m.Funcs), len(m.Code))
	}
	return m, nil
}

// sectionOrder maps a section ID to its canonical position. The binary
// order differs from the ID order for DataCount.
func sectionOrder(id byte) int {
	switch id {
	case SectionCustom:
		return 0
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return 100
	}
}

func readName(r *bytes.Reader) (string, error) {
	n, err := ReadLEB128u(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("name is not valid UTF-8")
	}
	return string(buf), nil
}

func readValType(r *bytes.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern:
		return ValType(b), nil
	default:
		return 0, fmt.Errorf("unsupported value type 0x%02x", b)
	}
}

func readLimits(r *bytes.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsShared != 0 {
		return Limits{}, errors.New("shared memories are not supported")
	}
	if flags != LimitsNoMax && flags != LimitsHasMax {
		return Limits{}, fmt.Errorf("unsupported limits flags 0x%02x", flags)
	}
	min, err := ReadLEB128u(r)
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Min: uint64(min)}
	if flags == LimitsHasMax {
		max, err := ReadLEB128u(r)
		if err != nil {
			return Limits{}, err
		}
		m := uint64(max)
		l.Max = &m
	}
	return l, nil
}

func readFuncType(r *bytes.Reader) (FuncType, error) {
	var ft FuncType
	nParams, err := ReadLEB128u(r)
	if err != nil {
		return ft, err
	}
	ft.Params = make([]ValType, nParams)
	for i := range ft.Params {
		if ft.Params[i], err = readValType(r); err != nil {
			return ft, err
		}
	}
	nResults, err := ReadLEB128u(r)
	if err != nil {
		return ft, err
	}
	ft.Results = make([]ValType, nResults)
	for i := range ft.Results {
		if ft.Results[i], err = readValType(r); err != nil {
			return ft, err
		}
	}
	return ft, nil
}

// readExpr reads a constant expression through its end opcode and returns
// the raw bytes, end included.
func readExpr(r *bytes.Reader) ([]byte, error) {
	start := r.Size() - int64(r.Len())
	depth := 0
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpEnd:
			if depth == 0 {
				end := r.Size() - int64(r.Len())
				out := make([]byte, end-start)
				if _, err := r.Seek(start, io.SeekStart); err != nil {
					return nil, err
				}
				if _, err := io.ReadFull(r, out); err != nil {
					return nil, err
				}
				return out, nil
			}
			depth--
		case OpBlock, OpLoop, OpIf:
			depth++
			if _, err := ReadLEB128s(r); err != nil {
				return nil, err
			}
		case OpI32Const:
			if _, err := ReadLEB128s(r); err != nil {
				return nil, err
			}
		case OpI64Const:
			if _, err := ReadLEB128s64(r); err != nil {
				return nil, err
			}
		case OpF32Const:
			if _, err := ReadFloat32(r); err != nil {
				return nil, err
			}
		case OpF64Const:
			if _, err := ReadFloat64(r); err != nil {
				return nil, err
			}
		case OpGlobalGet, OpRefFunc:
			if _, err := ReadLEB128u(r); err != nil {
				return nil, err
			}
		case OpRefNull:
			if _, err := ReadLEB128s64(r); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unsupported opcode 0x%02x in constant expression", op)
		}
	}
}

func parseCustomSection(r *bytes.Reader, m *Module) error {
	name, err := readName(r)
	if err != nil {
		return err
	}
	rest := make([]byte, r.Len())
	if _, err := io.ReadFull(r, rest); err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: rest})
	return nil
}

func parseTypeSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := range m.Types {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: form 0x%02x is not a function type (GC types are not supported)", i, form)
		}
		if m.Types[i], err = readFuncType(r); err != nil {
			return err
		}
	}
	return nil
}

func parseImportSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := range m.Imports {
		imp := Import{}
		if imp.Module, err = readName(r); err != nil {
			return err
		}
		if imp.Name, err = readName(r); err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp.Desc.Kind = kind
		switch kind {
		case KindFunc:
			if imp.Desc.TypeIdx, err = ReadLEB128u(r); err != nil {
				return err
			}
		case KindTable:
			tt, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &tt
		case KindMemory:
			limits, err := readLimits(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &MemoryType{Limits: limits}
		case KindGlobal:
			gt, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &gt
		default:
			return fmt.Errorf("import %d: unsupported kind 0x%02x", i, kind)
		}
		m.Imports[i] = imp
	}
	return nil
}

func readTableType(r *bytes.Reader) (TableType, error) {
	et, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	if et != ValFuncRef && et != ValExtern {
		return TableType{}, fmt.Errorf("table element type %s is not a reference type", et)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: et, Limits: limits}, nil
}

func readGlobalType(r *bytes.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability flag 0x%02x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

func parseFunctionSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = ReadLEB128u(r); err != nil {
			return err
		}
		if int(m.Funcs[i]) >= len(m.Types) {
			return fmt.Errorf("function %d: type index %d out of range", i, m.Funcs[i])
		}
	}
	return nil
}

func parseTableSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := range m.Tables {
		if m.Tables[i], err = readTableType(r); err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := range m.Memories {
		limits, err := readLimits(r)
		if err != nil {
			return err
		}
		m.Memories[i] = MemoryType{Limits: limits}
	}
	return nil
}

func parseGlobalSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := range m.Globals {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readExpr(r)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{Type: gt, Init: init}
	}
	return nil
}

func parseExportSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	seen := make(map[string]struct{}, count)
	for i := range m.Exports {
		name, err := readName(r)
		if err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate export %q", name)
		}
		seen[name] = struct{}{}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("export %q: unsupported kind 0x%02x", name, kind)
		}
		idx, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func parseStartSection(r *bytes.Reader, m *Module) error {
	idx, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := range m.Elements {
		flags, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("element %d: invalid flags %d", i, flags)
		}
		el := Element{Flags: flags}

		// Active segments with explicit table index (flags 2, 6).
		if flags == 2 || flags == 6 {
			if el.TableIdx, err = ReadLEB128u(r); err != nil {
				return err
			}
		}
		// Active segments carry an offset expression (flags 0, 2, 4, 6).
		if flags&1 == 0 {
			if el.Offset, err = readExpr(r); err != nil {
				return err
			}
		}
		// Non-zero flags other than 4 carry an elemkind or reftype.
		if flags != 0 && flags != 4 {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			if flags < 4 {
				if b != 0 {
					return fmt.Errorf("element %d: unsupported elemkind 0x%02x", i, b)
				}
				el.ElemKind = b
			} else {
				el.RefType = ValType(b)
			}
		}

		n, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		if flags < 4 {
			el.FuncIdxs = make([]uint32, n)
			for j := range el.FuncIdxs {
				if el.FuncIdxs[j], err = ReadLEB128u(r); err != nil {
					return err
				}
			}
		} else {
			el.Exprs = make([][]byte, n)
			for j := range el.Exprs {
				if el.Exprs[j], err = readExpr(r); err != nil {
					return err
				}
			}
		}
		m.Elements[i] = el
	}
	return nil
}

func parseCodeSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := range m.Code {
		size, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}
		br := bytes.NewReader(body)

		nLocals, err := ReadLEB128u(br)
		if err != nil {
			return err
		}
		// Stay nil for zero locals so encode and parse agree structurally.
		var locals []LocalEntry
		if nLocals > 0 {
			locals = make([]LocalEntry, nLocals)
		}
		for j := range locals {
			if locals[j].Count, err = ReadLEB128u(br); err != nil {
				return err
			}
			if locals[j].ValType, err = readValType(br); err != nil {
				return err
			}
		}
		code := make([]byte, br.Len())
		if _, err := io.ReadFull(br, code); err != nil {
			return err
		}
		if len(code) == 0 || code[len(code)-1] != OpEnd {
			return fmt.Errorf("function body %d does not end with end opcode", i)
		}
		m.Code[i] = FuncBody{Locals: locals, Code: code}
	}
	return nil
}

func parseDataSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	if m.DataCount != nil && *m.DataCount != count {
		return fmt.Errorf("data count section says %d segments, data section has %d", *m.DataCount, count)
	}
	m.Data = make([]DataSegment, count)
	for i := range m.Data {
		flags, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		seg := DataSegment{Flags: flags}
		switch flags {
		case 0:
			if seg.Offset, err = readExpr(r); err != nil {
				return err
			}
		case 1:
			// passive
		case 2:
			if seg.MemIdx, err = ReadLEB128u(r); err != nil {
				return err
			}
			if seg.Offset, err = readExpr(r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("data segment %d: invalid flags %d", i, flags)
		}
		n, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		seg.Init = make([]byte, n)
		if _, err := io.ReadFull(r, seg.Init); err != nil {
			return err
		}
		m.Data[i] = seg
	}
	return nil
}

func parseDataCountSection(r *bytes.Reader, m *Module) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}
