package wasm

import (
	"bytes"
	"fmt"
)

// Instruction is a decoded instruction with its typed immediate.
type Instruction struct {
	Opcode byte
	Imm    interface{}
}

// BlockImm holds the block type for block, loop, and if.
type BlockImm struct {
	Type int32 // BlockTypeVoid, a negated value type, or a type index
}

// BranchImm holds the label index for br and br_if.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// IndexImm holds the single index immediate shared by local, global, and
// table access, memory.size/grow, and ref.func.
type IndexImm struct {
	Idx uint32
}

// MemoryImm holds memarg parameters for loads and stores.
type MemoryImm struct {
	Align  uint32
	Offset uint64
}

// I32Imm, I64Imm, F32Imm, F64Imm hold constant immediates.
type (
	I32Imm struct{ Value int32 }
	I64Imm struct{ Value int64 }
	F32Imm struct{ Value float32 }
	F64Imm struct{ Value float64 }
)

// RefNullImm holds the heap type for ref.null.
type RefNullImm struct {
	HeapType int64
}

// SelectTypeImm holds value types for typed select.
type SelectTypeImm struct {
	Types []ValType
}

// MiscImm holds the sub-opcode and operand indices for 0xFC instructions.
type MiscImm struct {
	SubOpcode uint32
	Operands  []uint32
}

// SIMDImm holds 0xFD instruction immediates.
type SIMDImm struct {
	SubOpcode uint32
	MemArg    *MemoryImm
	LaneIdx   *byte
	V128Bytes []byte
}

// DecodeInstructions decodes a bytecode sequence. Instructions from the
// GC, threads, exception handling, tail call, and typed function
// reference proposals fail with an error.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := bytes.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Len() > 0 {
		op, err := r.ReadByte()
		if err != nil {
			break
		}
		instr := Instruction{Opcode: op}

		switch {
		case op == OpBlock || op == OpLoop || op == OpIf:
			bt, err := ReadLEB128s(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BlockImm{Type: bt}

		case op == OpBr || op == OpBrIf:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BranchImm{LabelIdx: idx}

		case op == OpBrTable:
			count, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			labels := make([]uint32, count)
			for i := range labels {
				if labels[i], err = ReadLEB128u(r); err != nil {
					return nil, err
				}
			}
			def, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = BrTableImm{Labels: labels, Default: def}

		case op == OpCall:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = CallImm{FuncIdx: idx}

		case op == OpCallIndirect:
			typeIdx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			tableIdx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

		case op >= OpLocalGet && op <= OpTableSet, // locals, globals, tables
			op == OpMemorySize, op == OpMemoryGrow, op == OpRefFunc:
			idx, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = IndexImm{Idx: idx}

		case op >= OpI32Load && op <= OpI64Store32:
			imm, err := readMemArg(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = imm

		case op == OpI32Const:
			v, err := ReadLEB128s(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = I32Imm{Value: v}

		case op == OpI64Const:
			v, err := ReadLEB128s64(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = I64Imm{Value: v}

		case op == OpF32Const:
			v, err := ReadFloat32(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = F32Imm{Value: v}

		case op == OpF64Const:
			v, err := ReadFloat64(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = F64Imm{Value: v}

		case op == OpRefNull:
			ht, err := ReadLEB128s64(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = RefNullImm{HeapType: ht}

		case op == OpSelectType:
			count, err := ReadLEB128u(r)
			if err != nil {
				return nil, err
			}
			types := make([]ValType, count)
			for i := range types {
				b, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				types[i] = ValType(b)
			}
			instr.Imm = SelectTypeImm{Types: types}

		case op == OpUnreachable, op == OpNop, op == OpElse, op == OpEnd,
			op == OpReturn, op == OpDrop, op == OpSelect, op == OpRefIsNull,
			op >= OpI32Eqz && op <= OpI64Extend32S:
			// no immediate

		case op == OpPrefixMisc:
			imm, err := decodeMiscImmediate(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = imm

		case op == OpPrefixSIMD:
			imm, err := decodeSIMDImmediate(r)
			if err != nil {
				return nil, err
			}
			instr.Imm = imm

		case op == OpPrefixGC:
			return nil, fmt.Errorf("GC instructions (0xFB prefix) are not supported")

		case op == OpPrefixAtomic:
			return nil, fmt.Errorf("atomic instructions (0xFE prefix) are not supported")

		default:
			return nil, fmt.Errorf("unsupported opcode 0x%02x", op)
		}

		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func decodeMiscImmediate(r *bytes.Reader) (MiscImm, error) {
	subOp, err := ReadLEB128u(r)
	if err != nil {
		return MiscImm{}, err
	}
	imm := MiscImm{SubOpcode: subOp}

	var nOperands int
	switch subOp {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U, MiscI32TruncSatF64S, MiscI32TruncSatF64U,
		MiscI64TruncSatF32S, MiscI64TruncSatF32U, MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		nOperands = 0
	case MiscDataDrop, MiscMemoryFill, MiscElemDrop, MiscTableGrow, MiscTableSize, MiscTableFill:
		nOperands = 1
	case MiscMemoryInit, MiscMemoryCopy, MiscTableInit, MiscTableCopy:
		nOperands = 2
	default:
		return MiscImm{}, fmt.Errorf("unsupported 0xFC sub-opcode 0x%02x", subOp)
	}

	if nOperands > 0 {
		imm.Operands = make([]uint32, nOperands)
		for i := range imm.Operands {
			if imm.Operands[i], err = ReadLEB128u(r); err != nil {
				return MiscImm{}, err
			}
		}
	}
	return imm, nil
}

func decodeSIMDImmediate(r *bytes.Reader) (SIMDImm, error) {
	subOp, err := ReadLEB128u(r)
	if err != nil {
		return SIMDImm{}, err
	}
	imm := SIMDImm{SubOpcode: subOp}

	switch {
	case subOp <= SimdV128Load64Splat || subOp == SimdV128Store,
		subOp == SimdV128Load32Zero, subOp == SimdV128Load64Zero:
		memArg, err := readMemArg(r)
		if err != nil {
			return SIMDImm{}, err
		}
		imm.MemArg = &memArg

	case subOp == SimdV128Const, subOp == SimdI8x16Shuffle:
		raw := make([]byte, 16)
		for i := range raw {
			if raw[i], err = r.ReadByte(); err != nil {
				return SIMDImm{}, err
			}
		}
		imm.V128Bytes = raw

	case subOp >= SimdI8x16ExtractLaneS && subOp <= SimdF64x2ReplaceLane:
		b, err := r.ReadByte()
		if err != nil {
			return SIMDImm{}, err
		}
		imm.LaneIdx = &b

	case subOp >= SimdV128Load8Lane && subOp <= SimdV128Store64Lane:
		memArg, err := readMemArg(r)
		if err != nil {
			return SIMDImm{}, err
		}
		imm.MemArg = &memArg
		b, err := r.ReadByte()
		if err != nil {
			return SIMDImm{}, err
		}
		imm.LaneIdx = &b

	default:
		// no immediates
	}
	return imm, nil
}

func readMemArg(r *bytes.Reader) (MemoryImm, error) {
	align, err := ReadLEB128u(r)
	if err != nil {
		return MemoryImm{}, err
	}
	offset, err := ReadLEB128u64(r)
	if err != nil {
		return MemoryImm{}, err
	}
	return MemoryImm{Align: align, Offset: offset}, nil
}

// EncodeInstructionTo appends one instruction's binary encoding to buf.
func EncodeInstructionTo(buf *bytes.Buffer, instr *Instruction) {
	buf.WriteByte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case nil:
		// no immediate
	case BlockImm:
		WriteLEB128s(buf, imm.Type)
	case BranchImm:
		WriteLEB128u(buf, imm.LabelIdx)
	case BrTableImm:
		WriteLEB128u(buf, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			WriteLEB128u(buf, l)
		}
		WriteLEB128u(buf, imm.Default)
	case CallImm:
		WriteLEB128u(buf, imm.FuncIdx)
	case CallIndirectImm:
		WriteLEB128u(buf, imm.TypeIdx)
		WriteLEB128u(buf, imm.TableIdx)
	case IndexImm:
		WriteLEB128u(buf, imm.Idx)
	case MemoryImm:
		writeMemArg(buf, imm)
	case I32Imm:
		WriteLEB128s(buf, imm.Value)
	case I64Imm:
		WriteLEB128s64(buf, imm.Value)
	case F32Imm:
		WriteFloat32(buf, imm.Value)
	case F64Imm:
		WriteFloat64(buf, imm.Value)
	case RefNullImm:
		WriteLEB128s64(buf, imm.HeapType)
	case SelectTypeImm:
		WriteLEB128u(buf, uint32(len(imm.Types)))
		for _, t := range imm.Types {
			buf.WriteByte(byte(t))
		}
	case MiscImm:
		WriteLEB128u(buf, imm.SubOpcode)
		for _, op := range imm.Operands {
			WriteLEB128u(buf, op)
		}
	case SIMDImm:
		WriteLEB128u(buf, imm.SubOpcode)
		if imm.MemArg != nil {
			writeMemArg(buf, *imm.MemArg)
		}
		if len(imm.V128Bytes) > 0 {
			buf.Write(imm.V128Bytes)
		}
		if imm.LaneIdx != nil {
			buf.WriteByte(*imm.LaneIdx)
		}
	}
}

func writeMemArg(buf *bytes.Buffer, imm MemoryImm) {
	WriteLEB128u(buf, imm.Align)
	WriteLEB128u64(buf, imm.Offset)
}

// EncodeInstructions encodes a sequence back to bytecode.
func EncodeInstructions(instrs []Instruction) []byte {
	var buf bytes.Buffer
	buf.Grow(len(instrs) * 3)
	for i := range instrs {
		EncodeInstructionTo(&buf, &instrs[i])
	}
	return buf.Bytes()
}
