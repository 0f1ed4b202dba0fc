package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble renders a whole chunk's Code as the textual disassembly
// surface spec.md §6 describes: one line per instruction, offset, mnemonic,
// and a resolved operand where one applies.
func Disassemble(c *Chunk) string {
	var b strings.Builder
	offset := 0
	for offset < len(c.Code) {
		next, line := disassembleInstruction(c, offset)
		b.WriteString(line)
		b.WriteByte('\n')
		offset = next
	}
	return b.String()
}

// DisassembleAt renders the single instruction at offset, returning the
// offset of the instruction following it. Used by the --trace CLI surface
// to print one line per executed instruction without re-rendering the
// whole chunk each step.
func DisassembleAt(c *Chunk, offset int) (next int, line string) {
	return disassembleInstruction(c, offset)
}

func disassembleInstruction(c *Chunk, offset int) (int, string) {
	op := Opcode(c.Code[offset])

	switch op {
	case OpStructBlueprint:
		return disassembleBlueprint(c, offset)
	case OpImpl:
		return disassembleImpl(c, offset)
	}

	width := operandWidth(op)
	body := c.Code[offset+1 : offset+1+width]

	var operandText string
	switch op {
	case OpConst:
		idx := binary.BigEndian.Uint32(body)
		operandText = fmt.Sprintf("%d (%v)", idx, c.Consts[idx])
	case OpStr:
		idx := binary.BigEndian.Uint32(body)
		operandText = fmt.Sprintf("%d (%q)", idx, c.Strings[idx])
	case OpSetGlobal, OpGetGlobal, OpGetGlobalPtr, OpSetAttr, OpGetAttr, OpGetAttrPtr, OpStruct:
		idx := binary.BigEndian.Uint32(body)
		operandText = fmt.Sprintf("%d (%q)", idx, c.Strings[idx])
	case OpJz, OpJmp:
		disp := int16(binary.BigEndian.Uint16(body))
		operandText = fmt.Sprintf("%+d -> %d", disp, offset+1+width+int(disp))
	case OpDeepSet, OpDeepGet, OpDeepGetPtr, OpCall:
		operandText = fmt.Sprintf("%d", body[0])
	case OpCallMethod:
		idx := binary.BigEndian.Uint32(body[0:4])
		operandText = fmt.Sprintf("%q argc=%d", c.Strings[idx], body[4])
	case OpFuncVal:
		nameIdx := binary.BigEndian.Uint32(body[0:4])
		params := binary.BigEndian.Uint32(body[4:8])
		entry := binary.BigEndian.Uint32(body[8:12])
		operandText = fmt.Sprintf("%q/%d @%d", c.Strings[nameIdx], params, entry)
	}

	line := fmt.Sprintf("%04d %-16s %s", offset, op, operandText)
	return offset + 1 + width, strings.TrimRight(line, " ")
}

// disassembleBlueprint decodes a STRUCT_BLUEPRINT instruction's own header
// to find its length, instead of consulting operandWidth (see
// sentinelVariableOperand).
func disassembleBlueprint(c *Chunk, offset int) (int, string) {
	pos := offset + 1
	nameIdx := binary.BigEndian.Uint32(c.Code[pos : pos+4])
	pos += 4
	propCount := binary.BigEndian.Uint16(c.Code[pos : pos+2])
	pos += 2
	props := make([]string, 0, propCount)
	for i := 0; i < int(propCount); i++ {
		idx := binary.BigEndian.Uint32(c.Code[pos : pos+4])
		pos += 4
		props = append(props, c.Strings[idx])
	}
	line := fmt.Sprintf("%04d %-16s %q fields=%v", offset, OpStructBlueprint, c.Strings[nameIdx], props)
	return pos, line
}

// disassembleImpl decodes an IMPL instruction's own header (see
// sentinelVariableOperand).
func disassembleImpl(c *Chunk, offset int) (int, string) {
	pos := offset + 1
	blueprintIdx := binary.BigEndian.Uint32(c.Code[pos : pos+4])
	pos += 4
	methodCount := binary.BigEndian.Uint16(c.Code[pos : pos+2])
	pos += 2
	var methods []string
	for i := 0; i < int(methodCount); i++ {
		selIdx := binary.BigEndian.Uint32(c.Code[pos : pos+4])
		pos += 4
		paramCount := c.Code[pos]
		pos++
		entry := binary.BigEndian.Uint32(c.Code[pos : pos+4])
		pos += 4
		methods = append(methods, fmt.Sprintf("%s/%d@%d", c.Strings[selIdx], paramCount, entry))
	}
	line := fmt.Sprintf("%04d %-16s %q methods=%v", offset, OpImpl, c.Strings[blueprintIdx], methods)
	return pos, line
}
