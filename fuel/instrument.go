package fuel

import (
	"bytes"
	"fmt"

	"github.com/aegisedge/wasm-sandbox/wasm"
)

// Instrument rewrites a parsed module so every function entry and loop
// header charges the fuel meter through an imported host function. The
// module is modified in place; callers re-encode it afterwards.
//
// Adding the import shifts every defined function index up by one, so all
// call sites, ref.func uses, exports, element segments, and the start
// function are renumbered.
func Instrument(m *wasm.Module) error {
	chargeType := m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}})

	// The charge import goes after existing imports, giving it the first
	// index past the imported functions and shifting defined functions by
	// exactly one.
	firstDefined := uint32(m.NumImportedFuncs())
	chargeIdx := firstDefined
	m.Imports = append(m.Imports, wasm.Import{
		Module: ImportModule,
		Name:   ImportName,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: chargeType},
	})

	for i := range m.Code {
		if err := instrumentBody(&m.Code[i], firstDefined, chargeIdx); err != nil {
			return fmt.Errorf("function body %d: %w", i, err)
		}
	}

	for i := range m.Exports {
		if m.Exports[i].Kind == wasm.KindFunc && m.Exports[i].Idx >= firstDefined {
			m.Exports[i].Idx++
		}
	}
	if m.Start != nil && *m.Start >= firstDefined {
		*m.Start++
	}
	for i := range m.Elements {
		el := &m.Elements[i]
		for j, idx := range el.FuncIdxs {
			if idx >= firstDefined {
				el.FuncIdxs[j] = idx + 1
			}
		}
		for j, expr := range el.Exprs {
			renumbered, err := renumberExpr(expr, firstDefined)
			if err != nil {
				return fmt.Errorf("element %d expr %d: %w", i, j, err)
			}
			el.Exprs[j] = renumbered
		}
	}
	for i := range m.Globals {
		renumbered, err := renumberExpr(m.Globals[i].Init, firstDefined)
		if err != nil {
			return fmt.Errorf("global %d init: %w", i, err)
		}
		m.Globals[i].Init = renumbered
	}
	return nil
}

// instrumentBody renumbers call targets and injects charges. The entry
// charge covers the whole body; each loop header charges its own body
// again on every iteration.
func instrumentBody(body *wasm.FuncBody, firstDefined, chargeIdx uint32) error {
	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		return err
	}

	for i := range instrs {
		switch imm := instrs[i].Imm.(type) {
		case wasm.CallImm:
			if imm.FuncIdx >= firstDefined {
				imm.FuncIdx++
				instrs[i].Imm = imm
			}
		case wasm.IndexImm:
			if instrs[i].Opcode == wasm.OpRefFunc && imm.Idx >= firstDefined {
				imm.Idx++
				instrs[i].Imm = imm
			}
		}
	}

	loopCosts := loopBodyCosts(instrs)

	var buf bytes.Buffer
	writeCharge(&buf, uint64(len(instrs)), chargeIdx)
	for i := range instrs {
		wasm.EncodeInstructionTo(&buf, &instrs[i])
		if instrs[i].Opcode == wasm.OpLoop {
			writeCharge(&buf, loopCosts[i], chargeIdx)
		}
	}
	body.Code = buf.Bytes()
	return nil
}

// loopBodyCosts returns, for each loop instruction position, the number
// of instructions enclosed by that loop (at least one).
func loopBodyCosts(instrs []wasm.Instruction) map[int]uint64 {
	costs := make(map[int]uint64)
	var stack []int // positions of open loops
	depthAtLoop := make(map[int]int)
	depth := 0

	for i, in := range instrs {
		switch in.Opcode {
		case wasm.OpLoop:
			stack = append(stack, i)
			depthAtLoop[i] = depth
			depth++
		case wasm.OpBlock, wasm.OpIf:
			depth++
		case wasm.OpEnd:
			depth--
			if len(stack) > 0 && depthAtLoop[stack[len(stack)-1]] == depth {
				open := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cost := uint64(i - open - 1)
				if cost == 0 {
					cost = 1
				}
				costs[open] = cost
			}
		}
	}
	// Unbalanced bodies leave open loops; charge them minimally. The
	// engine's compile step rejects such modules anyway.
	for _, open := range stack {
		costs[open] = 1
	}
	return costs
}

// renumberExpr shifts ref.func indices in a constant expression.
func renumberExpr(expr []byte, firstDefined uint32) ([]byte, error) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil {
		return nil, err
	}
	changed := false
	for i := range instrs {
		if instrs[i].Opcode != wasm.OpRefFunc {
			continue
		}
		imm := instrs[i].Imm.(wasm.IndexImm)
		if imm.Idx >= firstDefined {
			imm.Idx++
			instrs[i].Imm = imm
			changed = true
		}
	}
	if !changed {
		return expr, nil
	}
	return wasm.EncodeInstructions(instrs), nil
}

func writeCharge(buf *bytes.Buffer, amount uint64, chargeIdx uint32) {
	buf.WriteByte(wasm.OpI64Const)
	wasm.WriteLEB128s64(buf, int64(amount))
	buf.WriteByte(wasm.OpCall)
	wasm.WriteLEB128u(buf, chargeIdx)
}

// InstrumentBinary parses, instruments, and re-encodes a binary module.
func InstrumentBinary(data []byte) ([]byte, error) {
	m, err := wasm.ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := Instrument(m); err != nil {
		return nil, err
	}
	return m.Encode(), nil
}
