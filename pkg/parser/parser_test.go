package parser

import (
	"testing"

	"github.com/emberlang/ember/pkg/ast"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, input string) *ast.Program {
	t.Helper()
	p := New(input)
	program, err := p.Parse()
	require.NoError(t, err, p.Errors())
	return program
}

func TestParseLetStatement(t *testing.T) {
	program := mustParse(t, "let x = 42;")
	require.Len(t, program.Statements, 1)
	let, ok := program.Statements[0].(*ast.LetStatement)
	require.True(t, ok)
	require.Equal(t, "x", let.Name)
	num, ok := let.Value.(*ast.NumberLiteral)
	require.True(t, ok)
	require.Equal(t, 42.0, num.Value)
}

func TestParsePrintStatement(t *testing.T) {
	program := mustParse(t, `print "hello";`)
	stmt, ok := program.Statements[0].(*ast.PrintStatement)
	require.True(t, ok)
	str, ok := stmt.Value.(*ast.StringLiteral)
	require.True(t, ok)
	require.Equal(t, "hello", str.Value)
}

func TestParseIfElse(t *testing.T) {
	program := mustParse(t, `if x < 10 { print 1; } else { print 2; }`)
	ifs, ok := program.Statements[0].(*ast.IfStatement)
	require.True(t, ok)
	require.NotNil(t, ifs.Then)
	require.NotNil(t, ifs.Else)
}

func TestParseWhile(t *testing.T) {
	program := mustParse(t, `while x < 10 { x = x + 1; }`)
	ws, ok := program.Statements[0].(*ast.WhileStatement)
	require.True(t, ok)
	require.NotNil(t, ws.Body)
}

func TestParseFunctionDeclaration(t *testing.T) {
	program := mustParse(t, `fn add(a, b) { return a + b; }`)
	fn, ok := program.Statements[0].(*ast.FunctionStatement)
	require.True(t, ok)
	require.Equal(t, "add", fn.Name)
	require.Equal(t, []string{"a", "b"}, fn.Parameters)
}

func TestParseStructAndImpl(t *testing.T) {
	program := mustParse(t, `
struct Point { x, y }
impl Point {
	fn sum(self) { return self.x + self.y; }
}
`)
	st, ok := program.Statements[0].(*ast.StructStatement)
	require.True(t, ok)
	require.Equal(t, "Point", st.Name)
	require.Equal(t, []string{"x", "y"}, st.Properties)

	impl, ok := program.Statements[1].(*ast.ImplStatement)
	require.True(t, ok)
	require.Equal(t, "Point", impl.StructName)
	require.Len(t, impl.Methods, 1)
}

func TestParseStructLiteralAndMemberAccess(t *testing.T) {
	program := mustParse(t, `let p = Point { x: 1, y: 2 }; print p.x;`)
	let := program.Statements[0].(*ast.LetStatement)
	lit, ok := let.Value.(*ast.StructLiteral)
	require.True(t, ok)
	require.Equal(t, "Point", lit.Blueprint)
	require.Len(t, lit.Fields, 2)

	ps := program.Statements[1].(*ast.PrintStatement)
	member, ok := ps.Value.(*ast.MemberExpr)
	require.True(t, ok)
	require.Equal(t, "x", member.Field)
}

func TestParseMethodCallChain(t *testing.T) {
	program := mustParse(t, `p.move(1, 2).scale(3);`)
	stmt := program.Statements[0].(*ast.ExpressionStatement)
	outer, ok := stmt.Expr.(*ast.MethodCallExpr)
	require.True(t, ok)
	require.Equal(t, "scale", outer.Method)
	inner, ok := outer.Receiver.(*ast.MethodCallExpr)
	require.True(t, ok)
	require.Equal(t, "move", inner.Method)
}

func TestParseAddressOfAndDeref(t *testing.T) {
	program := mustParse(t, `let p = &x; let v = *p;`)
	let1 := program.Statements[0].(*ast.LetStatement)
	addr, ok := let1.Value.(*ast.UnaryExpr)
	require.True(t, ok)
	require.Equal(t, "&", addr.Operator)

	let2 := program.Statements[1].(*ast.LetStatement)
	deref, ok := let2.Value.(*ast.UnaryExpr)
	require.True(t, ok)
	require.Equal(t, "*", deref.Operator)
}

func TestParseErrorsAccumulate(t *testing.T) {
	p := New("let = ;")
	_, err := p.Parse()
	require.Error(t, err)
	require.NotEmpty(t, p.Errors())
}
