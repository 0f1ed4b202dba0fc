package compiler

import (
	"testing"

	"github.com/emberlang/ember/pkg/bytecode"
	"github.com/emberlang/ember/pkg/parser"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, src string) *bytecode.Chunk {
	t.Helper()
	p := parser.New(src)
	program, err := p.Parse()
	require.NoError(t, err, p.Errors())
	c := New()
	chunk, err := c.Compile(program)
	require.NoError(t, err)
	return chunk
}

func TestCompileNumberLiteralPrint(t *testing.T) {
	chunk := mustCompile(t, "print 42;")
	require.Contains(t, chunk.Consts, 42.0)
	disasm := bytecode.Disassemble(chunk)
	require.Contains(t, disasm, "CONST")
	require.Contains(t, disasm, "PRINT")
}

func TestCompileGlobalLetRoundTripsThroughGlobalOpcodes(t *testing.T) {
	chunk := mustCompile(t, "let x = 1; print x;")
	disasm := bytecode.Disassemble(chunk)
	require.Contains(t, disasm, "SET_GLOBAL")
	require.Contains(t, disasm, "GET_GLOBAL")
}

func TestCompileLocalLetUsesDeepGetNotGlobal(t *testing.T) {
	chunk := mustCompile(t, "fn f(a) { let x = a; print x; return x; }")
	disasm := bytecode.Disassemble(chunk)
	require.Contains(t, disasm, "DEEPGET")
	require.NotContains(t, disasm, "GET_GLOBAL ")
}

func TestCompileIfElseEmitsJumps(t *testing.T) {
	chunk := mustCompile(t, `
let x = 1;
if x < 10 {
	print 1;
} else {
	print 2;
}
`)
	disasm := bytecode.Disassemble(chunk)
	require.Contains(t, disasm, "JZ")
	require.Contains(t, disasm, "JMP")
}

func TestCompileWhileLoopsBackward(t *testing.T) {
	chunk := mustCompile(t, `
let x = 0;
while x < 3 {
	x = x + 1;
}
`)
	disasm := bytecode.Disassemble(chunk)
	require.Contains(t, disasm, "JZ")
	require.Contains(t, disasm, "JMP")
}

func TestCompileFunctionEmitsFuncValAndGuardJump(t *testing.T) {
	chunk := mustCompile(t, `fn add(a, b) { return a + b; } print add(1, 2);`)
	disasm := bytecode.Disassemble(chunk)
	require.Contains(t, disasm, "FUNCVAL")
	require.Contains(t, disasm, "CALL")
}

func TestCompileStructAndImpl(t *testing.T) {
	chunk := mustCompile(t, `
struct Point { x, y }
impl Point {
	fn sum(self) { return self.x + self.y; }
}
let p = Point { x: 1, y: 2 };
print p.sum();
`)
	disasm := bytecode.Disassemble(chunk)
	require.Contains(t, disasm, "STRUCT_BLUEPRINT")
	require.Contains(t, disasm, "IMPL")
	require.Contains(t, disasm, "CALL_METHOD")
	require.Contains(t, disasm, "GETATTR")
}

func TestCompileAddressOfAndDeref(t *testing.T) {
	chunk := mustCompile(t, "let x = 1; let p = &x; let y = *p;")
	disasm := bytecode.Disassemble(chunk)
	require.Contains(t, disasm, "GET_GLOBAL_PTR")
	require.Contains(t, disasm, "DEREF")
}

func TestCompileShortCircuitAnd(t *testing.T) {
	chunk := mustCompile(t, "let x = true && false;")
	disasm := bytecode.Disassemble(chunk)
	require.Contains(t, disasm, "JZ")
}

func TestCompileBitwiseOperators(t *testing.T) {
	chunk := mustCompile(t, "let x = 1 & 2 | 3 ^ 4 << 1 >> 1 % 2;")
	disasm := bytecode.Disassemble(chunk)
	for _, op := range []string{"BITAND", "BITOR", "BITXOR", "BITSHL", "BITSHR", "MOD"} {
		require.Contains(t, disasm, op)
	}
}
