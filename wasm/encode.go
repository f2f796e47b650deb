package wasm

import (
	"bytes"
	"encoding/binary"
)

// Encode serializes the module to the WebAssembly binary format. Sections
// are emitted in canonical order; empty sections are omitted. Custom
// sections are appended after the data section.
func (m *Module) Encode() []byte {
	var out bytes.Buffer

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], Version)
	out.Write(header[:])

	if len(m.Types) > 0 {
		writeSection(&out, SectionType, m.encodeTypeSection())
	}
	if len(m.Imports) > 0 {
		writeSection(&out, SectionImport, m.encodeImportSection())
	}
	if len(m.Funcs) > 0 {
		writeSection(&out, SectionFunction, m.encodeFunctionSection())
	}
	if len(m.Tables) > 0 {
		writeSection(&out, SectionTable, m.encodeTableSection())
	}
	if len(m.Memories) > 0 {
		writeSection(&out, SectionMemory, m.encodeMemorySection())
	}
	if len(m.Globals) > 0 {
		writeSection(&out, SectionGlobal, m.encodeGlobalSection())
	}
	if len(m.Exports) > 0 {
		writeSection(&out, SectionExport, m.encodeExportSection())
	}
	if m.Start != nil {
		var buf bytes.Buffer
		WriteLEB128u(&buf, *m.Start)
		writeSection(&out, SectionStart, buf.Bytes())
	}
	if len(m.Elements) > 0 {
		writeSection(&out, SectionElement, m.encodeElementSection())
	}
	if m.DataCount != nil {
		var buf bytes.Buffer
		WriteLEB128u(&buf, *m.DataCount)
		writeSection(&out, SectionDataCount, buf.Bytes())
	}
	if len(m.Code) > 0 {
		writeSection(&out, SectionCode, m.encodeCodeSection())
	}
	if len(m.Data) > 0 {
		writeSection(&out, SectionData, m.encodeDataSection())
	}
	for _, cs := range m.CustomSections {
		var buf bytes.Buffer
		writeName(&buf, cs.Name)
		buf.Write(cs.Data)
		writeSection(&out, SectionCustom, buf.Bytes())
	}

	return out.Bytes()
}

func writeSection(out *bytes.Buffer, id byte, body []byte) {
	out.WriteByte(id)
	WriteLEB128u(out, uint32(len(body)))
	out.Write(body)
}

func writeName(buf *bytes.Buffer, name string) {
	WriteLEB128u(buf, uint32(len(name)))
	buf.WriteString(name)
}

func writeLimits(buf *bytes.Buffer, l Limits) {
	if l.Max != nil {
		buf.WriteByte(LimitsHasMax)
		WriteLEB128u(buf, uint32(l.Min))
		WriteLEB128u(buf, uint32(*l.Max))
	} else {
		buf.WriteByte(LimitsNoMax)
		WriteLEB128u(buf, uint32(l.Min))
	}
}

func writeFuncType(buf *bytes.Buffer, ft FuncType) {
	buf.WriteByte(FuncTypeByte)
	WriteLEB128u(buf, uint32(len(ft.Params)))
	for _, p := range ft.Params {
		buf.WriteByte(byte(p))
	}
	WriteLEB128u(buf, uint32(len(ft.Results)))
	for _, r := range ft.Results {
		buf.WriteByte(byte(r))
	}
}

func (m *Module) encodeTypeSection() []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, uint32(len(m.Types)))
	for _, ft := range m.Types {
		writeFuncType(&buf, ft)
	}
	return buf.Bytes()
}

func (m *Module) encodeImportSection() []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		writeName(&buf, imp.Module)
		writeName(&buf, imp.Name)
		buf.WriteByte(imp.Desc.Kind)
		switch imp.Desc.Kind {
		case KindFunc:
			WriteLEB128u(&buf, imp.Desc.TypeIdx)
		case KindTable:
			buf.WriteByte(byte(imp.Desc.Table.ElemType))
			writeLimits(&buf, imp.Desc.Table.Limits)
		case KindMemory:
			writeLimits(&buf, imp.Desc.Memory.Limits)
		case KindGlobal:
			buf.WriteByte(byte(imp.Desc.Global.ValType))
			if imp.Desc.Global.Mutable {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	}
	return buf.Bytes()
}

func (m *Module) encodeFunctionSection() []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, uint32(len(m.Funcs)))
	for _, typeIdx := range m.Funcs {
		WriteLEB128u(&buf, typeIdx)
	}
	return buf.Bytes()
}

func (m *Module) encodeTableSection() []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, uint32(len(m.Tables)))
	for _, t := range m.Tables {
		buf.WriteByte(byte(t.ElemType))
		writeLimits(&buf, t.Limits)
	}
	return buf.Bytes()
}

func (m *Module) encodeMemorySection() []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, uint32(len(m.Memories)))
	for _, mem := range m.Memories {
		writeLimits(&buf, mem.Limits)
	}
	return buf.Bytes()
}

func (m *Module) encodeGlobalSection() []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, uint32(len(m.Globals)))
	for _, g := range m.Globals {
		buf.WriteByte(byte(g.Type.ValType))
		if g.Type.Mutable {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		buf.Write(g.Init)
	}
	return buf.Bytes()
}

func (m *Module) encodeExportSection() []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, uint32(len(m.Exports)))
	for _, e := range m.Exports {
		writeName(&buf, e.Name)
		buf.WriteByte(e.Kind)
		WriteLEB128u(&buf, e.Idx)
	}
	return buf.Bytes()
}

func (m *Module) encodeElementSection() []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, uint32(len(m.Elements)))
	for _, el := range m.Elements {
		WriteLEB128u(&buf, el.Flags)
		if el.Flags == 2 || el.Flags == 6 {
			WriteLEB128u(&buf, el.TableIdx)
		}
		if el.Flags&1 == 0 {
			buf.Write(el.Offset)
		}
		if el.Flags != 0 && el.Flags != 4 {
			if el.Flags < 4 {
				buf.WriteByte(el.ElemKind)
			} else {
				buf.WriteByte(byte(el.RefType))
			}
		}
		if el.Flags < 4 {
			WriteLEB128u(&buf, uint32(len(el.FuncIdxs)))
			for _, idx := range el.FuncIdxs {
				WriteLEB128u(&buf, idx)
			}
		} else {
			WriteLEB128u(&buf, uint32(len(el.Exprs)))
			for _, expr := range el.Exprs {
				buf.Write(expr)
			}
		}
	}
	return buf.Bytes()
}

func (m *Module) encodeCodeSection() []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, uint32(len(m.Code)))
	for _, body := range m.Code {
		var b bytes.Buffer
		WriteLEB128u(&b, uint32(len(body.Locals)))
		for _, l := range body.Locals {
			WriteLEB128u(&b, l.Count)
			b.WriteByte(byte(l.ValType))
		}
		b.Write(body.Code)

		WriteLEB128u(&buf, uint32(b.Len()))
		buf.Write(b.Bytes())
	}
	return buf.Bytes()
}

func (m *Module) encodeDataSection() []byte {
	var buf bytes.Buffer
	WriteLEB128u(&buf, uint32(len(m.Data)))
	for _, seg := range m.Data {
		WriteLEB128u(&buf, seg.Flags)
		switch seg.Flags {
		case 0:
			buf.Write(seg.Offset)
		case 2:
			WriteLEB128u(&buf, seg.MemIdx)
			buf.Write(seg.Offset)
		}
		WriteLEB128u(&buf, uint32(len(seg.Init)))
		buf.Write(seg.Init)
	}
	return buf.Bytes()
}
