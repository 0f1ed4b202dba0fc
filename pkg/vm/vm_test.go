package vm

import (
	"bytes"
	"testing"

	"github.com/emberlang/ember/pkg/compiler"
	"github.com/emberlang/ember/pkg/parser"
	"github.com/stretchr/testify/require"
)

func mustRun(t *testing.T, src string) string {
	t.Helper()
	p := parser.New(src)
	program, err := p.Parse()
	require.NoError(t, err, p.Errors())
	c := compiler.New()
	chunk, err := c.Compile(program)
	require.NoError(t, err)

	m := New(chunk)
	var out bytes.Buffer
	m.Out = &out
	require.NoError(t, m.Run())
	return out.String()
}

func TestPrintNumberLiteral(t *testing.T) {
	require.Equal(t, "42\n", mustRun(t, "print 42;"))
}

func TestPrintStringLiteral(t *testing.T) {
	require.Equal(t, "hello\n", mustRun(t, `print "hello";`))
}

func TestArithmetic(t *testing.T) {
	require.Equal(t, "7\n", mustRun(t, "print 1 + 2 * 3;"))
}

func TestStringConcatViaAdd(t *testing.T) {
	require.Equal(t, "foobar\n", mustRun(t, `print "foo" + "bar";`))
}

func TestDivisionByZeroYieldsInfinity(t *testing.T) {
	require.Equal(t, "+Inf\n", mustRun(t, "print 1 / 0;"))
}

func TestModuloIsIEEEFmod(t *testing.T) {
	require.Equal(t, "1.5\n", mustRun(t, "print 5.5 % 2;"))
}

func TestIfElse(t *testing.T) {
	require.Equal(t, "yes\n", mustRun(t, `
if 1 < 2 {
	print "yes";
} else {
	print "no";
}
`))
}

func TestWhileLoop(t *testing.T) {
	require.Equal(t, "0\n1\n2\n", mustRun(t, `
let i = 0;
while i < 3 {
	print i;
	i = i + 1;
}
`))
}

func TestFunctionCallAndReturn(t *testing.T) {
	require.Equal(t, "3\n", mustRun(t, `
fn add(a, b) { return a + b; }
print add(1, 2);
`))
}

func TestRecursiveFunction(t *testing.T) {
	require.Equal(t, "120\n", mustRun(t, `
fn fact(n) {
	if n < 2 {
		return 1;
	}
	return n * fact(n - 1);
}
print fact(5);
`))
}

func TestStructConstructionAndFieldAccess(t *testing.T) {
	require.Equal(t, "3\n", mustRun(t, `
struct Point { x, y }
let p = Point { x: 1, y: 2 };
print p.x + p.y;
`))
}

func TestStructMethodCall(t *testing.T) {
	require.Equal(t, "3\n", mustRun(t, `
struct Point { x, y }
impl Point {
	fn sum(self) { return self.x + self.y; }
}
let p = Point { x: 1, y: 2 };
print p.sum();
`))
}

func TestStructFieldMutationThroughMethod(t *testing.T) {
	require.Equal(t, "5\n", mustRun(t, `
struct Counter { n }
impl Counter {
	fn bump(self, by) { self.n = self.n + by; }
}
let c = Counter { n: 2 };
c.bump(3);
print c.n;
`))
}

func TestAddressOfAndDerefRoundTrip(t *testing.T) {
	require.Equal(t, "9\n", mustRun(t, `
let x = 1;
let p = &x;
*p = 9;
print x;
`))
}

func TestAddressOfFieldAndDerefSet(t *testing.T) {
	require.Equal(t, "10\n", mustRun(t, `
struct Box { v }
let b = Box { v: 1 };
let p = &b.v;
*p = 10;
print b.v;
`))
}

func TestStructuralEqualityByBlueprint(t *testing.T) {
	require.Equal(t, "true\n", mustRun(t, `
struct Point { x, y }
let a = Point { x: 1, y: 2 };
let b = Point { x: 1, y: 2 };
print a == b;
`))
}

func TestCrossTypeEqualityFaults(t *testing.T) {
	p := parser.New("print 1 == \"1\";")
	program, err := p.Parse()
	require.NoError(t, err)
	c := compiler.New()
	chunk, err := c.Compile(program)
	require.NoError(t, err)
	m := New(chunk)
	m.Out = &bytes.Buffer{}
	err = m.Run()
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot compare")
}

func TestArityMismatchFaults(t *testing.T) {
	p := parser.New("fn add(a, b) { return a + b; } print add(1);")
	program, err := p.Parse()
	require.NoError(t, err)
	c := compiler.New()
	chunk, err := c.Compile(program)
	require.NoError(t, err)
	m := New(chunk)
	m.Out = &bytes.Buffer{}
	err = m.Run()
	require.Error(t, err)
	require.Contains(t, err.Error(), "expects")
}

func TestBitwiseOperators(t *testing.T) {
	require.Equal(t, "6\n", mustRun(t, "print 2 | 4;"))
	require.Equal(t, "0\n", mustRun(t, "print 2 & 4;"))
}

func TestShortCircuitAndSkipsRightOperand(t *testing.T) {
	require.Equal(t, "false\n", mustRun(t, "print false && (undefined_thing > 0);"))
}

func TestShortCircuitOrSkipsRightOperand(t *testing.T) {
	require.Equal(t, "true\n", mustRun(t, "print true || (undefined_thing > 0);"))
}

func TestShortCircuitAndEvaluatesRightOperand(t *testing.T) {
	require.Equal(t, "true\n", mustRun(t, "print true && 1 < 2;"))
}

func TestShortCircuitOrEvaluatesRightOperand(t *testing.T) {
	require.Equal(t, "true\n", mustRun(t, "print false || 1 < 2;"))
}

func TestBitwiseOnNaNYieldsZero(t *testing.T) {
	require.Equal(t, "0\n", mustRun(t, "print (0 / 0) & 1;"))
}

func TestUndefinedPropertyFaults(t *testing.T) {
	p := parser.New(`
struct Point { x, y }
let p = Point { x: 1, y: 2 };
print p.z;
`)
	program, err := p.Parse()
	require.NoError(t, err)
	c := compiler.New()
	chunk, err := c.Compile(program)
	require.NoError(t, err)
	m := New(chunk)
	m.Out = &bytes.Buffer{}
	err = m.Run()
	require.Error(t, err)
	require.Contains(t, err.Error(), "undefined property")
}

func TestStructLiteralLeavesOmittedFieldsNull(t *testing.T) {
	require.Equal(t, "null\n", mustRun(t, `
struct Point { x, y }
let p = Point { x: 1 };
print p.y;
`))
}

func TestDeepRecursionFaultsWithStackOverflow(t *testing.T) {
	p := parser.New(`
fn loop(n) { return 1 + loop(n + 1); }
print loop(0);
`)
	program, err := p.Parse()
	require.NoError(t, err)
	c := compiler.New()
	chunk, err := c.Compile(program)
	require.NoError(t, err)
	m := New(chunk)
	m.Out = &bytes.Buffer{}
	err = m.Run()
	require.Error(t, err)
	require.Contains(t, err.Error(), "overflow")
}
