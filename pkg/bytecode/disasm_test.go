package bytecode

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisassembleFixedWidthInstructions(t *testing.T) {
	c := buildSampleChunk()
	out := Disassemble(c)
	require.Contains(t, out, "CONST")
	require.Contains(t, out, "42")
	require.Contains(t, out, "STR")
	require.Contains(t, out, `"hello"`)
	require.Contains(t, out, "PRINT")
	require.Contains(t, out, "RET")
}

func TestDisassembleStructBlueprint(t *testing.T) {
	c := NewChunk()
	nameIdx := c.AddString("Point")
	xIdx := c.AddString("x")
	yIdx := c.AddString("y")

	c.Code = append(c.Code, byte(OpStructBlueprint))
	c.Code = binary.BigEndian.AppendUint32(c.Code, nameIdx)
	c.Code = binary.BigEndian.AppendUint16(c.Code, 2)
	c.Code = binary.BigEndian.AppendUint32(c.Code, xIdx)
	c.Code = binary.BigEndian.AppendUint32(c.Code, yIdx)
	c.Code = append(c.Code, byte(OpRet))

	out := Disassemble(c)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "STRUCT_BLUEPRINT")
	require.Contains(t, lines[0], "Point")
	require.Contains(t, lines[0], "x")
	require.Contains(t, lines[0], "y")
	require.Contains(t, lines[1], "RET")
}

func TestDisassembleJumpShowsTarget(t *testing.T) {
	c := NewChunk()
	c.Code = append(c.Code, byte(OpJmp))
	c.Code = binary.BigEndian.AppendUint16(c.Code, 1) // target = offset+1+2+1 = 4
	c.Code = append(c.Code, byte(OpRet))

	out := Disassemble(c)
	require.Contains(t, out, "JMP")
	require.Contains(t, out, "-> 4")
}
