package parse

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semihM/exmat-sub000/src/bytecode"
	"github.com/semihM/exmat-sub000/src/lerrors"
)

var ret = bytecode.IAB(bytecode.RETURN, bytecode.NoTarget, 0)

func TestParser_LocalAssign(t *testing.T) {
	t.Parallel()
	fn := compile(t, `var a = 1 + 2;`)
	assertByteCodes(t, fn,
		bytecode.IAsBx(bytecode.LOADINT, 2, 1),
		bytecode.IAsBx(bytecode.LOADINT, 3, 2),
		bytecode.IABC(bytecode.ADD, 2, 2, 3),
		ret,
	)
	assert.Equal(t, 4, fn.StackSize)
	assert.Equal(t, []LocalInfo{
		{Name: "a", Slot: 2, StartPC: 3, EndPC: 4},
		{Name: "vargv", Slot: 1, StartPC: 0, EndPC: 4},
		{Name: "this", Slot: 0, StartPC: 0, EndPC: 4},
	}, fn.Locals)
}

func TestParser_NewSlot(t *testing.T) {
	t.Parallel()
	fn := compile(t, `x <- 5`)
	assert.Equal(t, []any{"x"}, fn.Literals)
	assertByteCodes(t, fn,
		bytecode.IABx(bytecode.LOAD, 2, 0),
		bytecode.IAsBx(bytecode.LOADINT, 3, 5),
		bytecode.IABCD(bytecode.NEWSLOT, 2, 0, 2, 3),
		ret,
	)
}

func TestParser_CompoundAssign(t *testing.T) {
	t.Parallel()

	t.Run("member", func(t *testing.T) {
		t.Parallel()
		fn := compile(t, `this.x += 2`)
		assertByteCodes(t, fn,
			bytecode.IABx(bytecode.LOAD, 2, 0),
			bytecode.IAsBx(bytecode.LOADINT, 3, 2),
			bytecode.IABCD(bytecode.GET, 4, 0, 2, 1),
			bytecode.IABC(bytecode.ADD, 4, 4, 3),
			bytecode.IABCD(bytecode.SET, 4, 0, 2, 4),
			bytecode.IAB(bytecode.MOVE, 2, 4),
			ret,
		)
	})

	t.Run("local", func(t *testing.T) {
		t.Parallel()
		fn := compile(t, `var a = 1; a *= 3`)
		assertByteCodes(t, fn,
			bytecode.IAsBx(bytecode.LOADINT, 2, 1),
			bytecode.IAsBx(bytecode.LOADINT, 3, 3),
			bytecode.IABC(bytecode.MLT, 2, 2, 3),
			ret,
		)
	})
}

func TestParser_FunctionStat(t *testing.T) {
	t.Parallel()
	fn := compile(t, `function add(a, b) { return a + b }`)
	assertByteCodes(t, fn,
		bytecode.IABx(bytecode.LOAD, 2, 0),
		bytecode.IABx(bytecode.CLOSURE, 3, 0),
		bytecode.IABCD(bytecode.NEWSLOT, 2, 0, 2, 3),
		ret,
	)
	require.Len(t, fn.FnTable, 1)
	add := fn.FnTable[0]
	assert.Equal(t, "add", add.Name)
	assert.Equal(t, KindFunction, add.Kind)
	assert.Equal(t, []string{"this", "a", "b"}, add.Params)
	assert.Equal(t, 2, add.Arity())
	assertByteCodes(t, add,
		bytecode.IABC(bytecode.ADD, 3, 1, 2),
		bytecode.IAB(bytecode.RETURN, 3, 0),
		ret,
	)
}

func TestParser_Call(t *testing.T) {
	t.Parallel()
	fn := compile(t, `print("hi")`)
	assert.Equal(t, []any{"print", "hi"}, fn.Literals)
	assertByteCodes(t, fn,
		bytecode.IABx(bytecode.LOAD, 2, 0),
		bytecode.IABCD(bytecode.PREPCALL, 2, 2, 0, 3),
		bytecode.IABx(bytecode.LOAD, 4, 1),
		bytecode.IABCD(bytecode.CALL, 2, 2, 3, 2),
		ret,
	)
}

func TestParser_TailCall(t *testing.T) {
	t.Parallel()

	t.Run("function", func(t *testing.T) {
		t.Parallel()
		fn := compile(t, `function f(n) { return g(n) }`)
		assertByteCodes(t, fn.FnTable[0],
			bytecode.IABx(bytecode.LOAD, 2, 0),
			bytecode.IABCD(bytecode.PREPCALL, 2, 2, 0, 3),
			bytecode.IAB(bytecode.MOVE, 4, 1),
			bytecode.IABCD(bytecode.TAILCALL, 2, 2, 3, 2),
			bytecode.IAB(bytecode.RETURN, 2, 0),
			ret,
		)
	})

	t.Run("sequence never tail calls", func(t *testing.T) {
		t.Parallel()
		fn := compile(t, `seq s(n) { 0: 1 } => s(n - 1)`)
		assert.NotContains(t, ops(fn.FnTable[0]), bytecode.TAILCALL)
		assert.Contains(t, ops(fn.FnTable[0]), bytecode.CALL)
	})
}

func TestParser_Callables(t *testing.T) {
	t.Parallel()

	t.Run("rule", func(t *testing.T) {
		t.Parallel()
		fn := compile(t, `rule pos(x) => x > 0;`)
		rule := fn.FnTable[0]
		assert.Equal(t, KindRule, rule.Kind)
		assertByteCodes(t, rule,
			bytecode.IAsBx(bytecode.LOADINT, 2, 0),
			bytecode.IABCD(bytecode.CMP, 2, 1, 2, bytecode.CmpGt),
			bytecode.IAB(bytecode.RETURNBOOL, 2, 0),
			bytecode.IAB(bytecode.RETURNBOOL, bytecode.NoTarget, 0),
		)
	})

	t.Run("cluster", func(t *testing.T) {
		t.Parallel()
		fn := compile(t, `cluster pts { x in @R, y in @Z+^2 } => x;`)
		cluster := fn.FnTable[0]
		assert.Equal(t, KindCluster, cluster.Kind)
		assert.Equal(t, []string{"this", "x", "y"}, cluster.Params)
		assert.Equal(t, []SpaceSpec{{Domain: "R"}, {Domain: "Z", Sign: "+", Dims: []int{2}}}, cluster.Constraints)
	})

	t.Run("sequence", func(t *testing.T) {
		t.Parallel()
		fn := compile(t, `const ONE = 1; seq fib(n) { 0: 0, 1: ONE, 2.5: -1 } => fib(n - 1) + fib(n - 2)`)
		fib := fn.FnTable[0]
		assert.Equal(t, KindSequence, fib.Kind)
		assert.Equal(t, []SeqTerm{{0, int64(0)}, {1, int64(1)}, {2.5, int64(-1)}}, fib.SeqTerms)
	})

	t.Run("lambda", func(t *testing.T) {
		t.Parallel()
		fn := compile(t, `var f = @(a) a * 2`)
		assert.Equal(t, KindLambda, fn.FnTable[0].Kind)
		assertByteCodes(t, fn,
			bytecode.IABx(bytecode.CLOSURE, 2, 0),
			ret,
		)
	})

	t.Run("default params", func(t *testing.T) {
		t.Parallel()
		fn := compile(t, `function f(a, b = 2, c = "x") {}`)
		f := fn.FnTable[0]
		assert.Equal(t, []int{3, 4}, f.DefaultParams)
		assertByteCodes(t, fn,
			bytecode.IABx(bytecode.LOAD, 2, 0),
			bytecode.IAsBx(bytecode.LOADINT, 3, 2),
			bytecode.IABx(bytecode.LOAD, 4, 1),
			bytecode.IABx(bytecode.CLOSURE, 3, 0),
			bytecode.IABCD(bytecode.NEWSLOT, 2, 0, 2, 3),
			ret,
		)
	})

	t.Run("varargs", func(t *testing.T) {
		t.Parallel()
		fn := compile(t, `function f(a, ...) {}`)
		assert.True(t, fn.FnTable[0].Varargs)
		assert.Equal(t, []string{"this", "a", "vargv"}, fn.FnTable[0].Params)
	})
}

func TestParser_Outers(t *testing.T) {
	t.Parallel()
	fn := compile(t, `function outer() { var x = 1; return @() x }`)
	outer := fn.FnTable[0]
	assertByteCodes(t, outer,
		bytecode.IAsBx(bytecode.LOADINT, 1, 1),
		bytecode.IABx(bytecode.CLOSURE, 2, 0),
		bytecode.IAB(bytecode.RETURN, 2, 0),
		ret,
	)
	lambda := outer.FnTable[0]
	assert.Equal(t, []OuterDesc{{Name: "x", FromStack: true, Index: 1}}, lambda.Outers)
	assertByteCodes(t, lambda,
		bytecode.IAB(bytecode.GETOUTER, 1, 0),
		bytecode.IAB(bytecode.RETURN, 1, 0),
		ret,
	)

	t.Run("nested outers chain through the parent", func(t *testing.T) {
		t.Parallel()
		fn := compile(t, `function a() { var x = 1; return @() @() x }`)
		inner := fn.FnTable[0].FnTable[0].FnTable[0]
		middle := fn.FnTable[0].FnTable[0]
		assert.Equal(t, []OuterDesc{{Name: "x", FromStack: true, Index: 1}}, middle.Outers)
		assert.Equal(t, []OuterDesc{{Name: "x", FromStack: false, Index: 0}}, inner.Outers)
	})
}

func TestParser_CloseCapturedLoopLocals(t *testing.T) {
	t.Parallel()
	fn := compile(t, `
var fns = []
for (var i = 0; i < 3; i++) {
	var j = i
	fns.append(@() j)
}
`)
	assert.Contains(t, ops(fn), bytecode.CLOSE)

	fn = compile(t, `for (var i = 0; i < 3; i++) { var j = i }`)
	assert.NotContains(t, ops(fn), bytecode.CLOSE)

	fn = compile(t, `while (true) { var j = 1; var f = @() j; break }`)
	closes := 0
	for _, op := range ops(fn) {
		if op == bytecode.CLOSE {
			closes++
		}
	}
	assert.Equal(t, 2, closes, "one close for break and one for the scope end")
}

func TestParser_Foreach(t *testing.T) {
	t.Parallel()
	fn := compile(t, `foreach (i, v in [1, 2]) {}`)
	assertByteCodes(t, fn,
		bytecode.IABCD(bytecode.NEWOBJECT, 2, bytecode.ObjArray, 2, 0),
		bytecode.IAsBx(bytecode.LOADINT, 3, 1),
		bytecode.IAB(bytecode.APPENDTOARRAY, 2, 3),
		bytecode.IAsBx(bytecode.LOADINT, 3, 2),
		bytecode.IAB(bytecode.APPENDTOARRAY, 2, 3),
		bytecode.IAB(bytecode.LOADNULL, 3, 2),
		bytecode.IAsBx(bytecode.LOADINT, 5, 0),
		bytecode.IABsC(bytecode.FOREACH, 2, 3, 1),
		bytecode.IABsC(bytecode.POSTFOREACH, 2, 3, -2),
		ret,
	)
}

func TestParser_Loops(t *testing.T) {
	t.Parallel()
	fn := compile(t, `var a = 0; while (a < 3) { a++; if (a == 2) continue; }`)
	code := ops(fn)
	assert.Contains(t, code, bytecode.PINCL)
	assert.Contains(t, code, bytecode.JZ)

	fn = compile(t, `var a = 0; do { a += 1 } while (a < 3)`)
	assert.Equal(t, bytecode.JMP, ops(fn)[len(fn.ByteCodes)-2])
	assert.Negative(t, bytecode.GetsBx(fn.ByteCodes[len(fn.ByteCodes)-2]))
}

func TestParser_Constants(t *testing.T) {
	t.Parallel()
	fn := compile(t, `const PI = 3.14; const E = { x = 1, y = -2i }; enum C { A, B = 5, D }; var a = PI; var b = C.D; var c = E.y`)
	assert.Equal(t, []any{3.14, complex(0, -2)}, fn.Literals)
	assertByteCodes(t, fn,
		bytecode.IABx(bytecode.LOADFLOAT, 2, 0),
		bytecode.IAsBx(bytecode.LOADINT, 3, 6),
		bytecode.IABx(bytecode.LOADCOMPLEX, 4, 1),
		ret,
	)

	p := New().WithConstants(map[string]any{"TAU": 6.28})
	fn, err := p.Parse("test", strings.NewReader(`var t = TAU`))
	require.NoError(t, err)
	assert.Equal(t, []any{6.28}, fn.Literals)
	assert.Contains(t, p.Constants(), "TAU")
}

func TestParser_LineTrace(t *testing.T) {
	t.Parallel()
	fn := compile(t, "var a = 1\n\nvar b = 2")
	require.Len(t, fn.LineTrace, 3)
	assert.Equal(t, int64(1), fn.LineTrace[0].Line)
	assert.Equal(t, int64(3), fn.LineTrace[1].Line)
	assert.Contains(t, fn.String(), "LOADINT")
}

func TestParser_Classes(t *testing.T) {
	t.Parallel()
	fn := compile(t, `
class Point {
	x = 0; y = 0;
	constructor(x, y) { this.x = x; this.y = y }
	function len() { return this.x + this.y }
}
class Point3 extends Point {
	z = 0
}`)
	code := ops(fn)
	assert.Contains(t, code, bytecode.NEWOBJECT)
	require.Len(t, fn.FnTable, 2)
	assert.Equal(t, KindConstructor, fn.FnTable[0].Kind)
	assert.Equal(t, "Point.constructor", fn.FnTable[0].Name)
	assert.Equal(t, KindMember, fn.FnTable[1].Kind)

	var classes []uint64
	for _, inst := range fn.ByteCodes {
		if bytecode.GetOp(inst) == bytecode.NEWOBJECT {
			classes = append(classes, inst)
		}
	}
	require.Len(t, classes, 2)
	assert.Equal(t, int64(bytecode.ObjClass), bytecode.GetB(classes[0]))
	assert.Equal(t, int64(0), bytecode.GetD(classes[0]))
	assert.Equal(t, int64(1), bytecode.GetD(classes[1]))
}

func TestParser_Errors(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		`1 = 2`:                            "can't assign expression",
		`break`:                            "'break' has to be in a loop block",
		`continue`:                         "'continue' has to be in a loop block",
		`var a = `:                         "expression expected",
		`function f(a = 1, b) {}`:          "expected '='",
		`function f(a = 1, ...) {}`:        "cannot have variable number of parameters",
		`rule r(a = 1) => a`:               "rule 'r' cannot have default parameters",
		`cluster c {} => 1`:                "requires at least one constraint",
		`seq s(n) { "a": 1 } => n`:         "initial index must be a number",
		`const A = 1; const A = 2`:         "constant 'A' already exists",
		`const A = 1; A = 2`:               "cannot assign to a constant",
		`var a; a <- 1`:                    "can't create a local slot",
		`f(1,)`:                            "expression expected, found ')'",
		`++1`:                              "can't '++' an expression",
		`delete 1`:                         "can't delete an expression",
		`base = 1`:                         "'base' cannot be modified",
		`{ var a = 1`:                      "expected '}'",
		`enum E { A }; var x = E.B`:        "invalid constant [E.B]",
		`class A { 1 }`:                    "in class body",
		`var a = [1 2]`:                    "expected ']' or ','",
		`foreach (x in [1]) { break; } }`:  "expression expected",
		`function f() { return }; f(1 2)`:  "expected ')' or ','",
		`var b = { [1] 2 }`:                "expected '='",
		`var s = @R; s = "unterminated`:    "unfinished string",
		`const X = { a = [] }`:             "scalar constant expected",
		`function f(a, ... b) {}`:          "expected ')' after '...'",
		`var t = 1 ? 2`:                    "expected ':'",
	}
	for src, msg := range tests {
		_, err := New().Parse("test", strings.NewReader(src))
		require.Error(t, err, src)
		assert.Contains(t, err.Error(), msg, src)
		var exErr *lerrors.Error
		require.ErrorAs(t, err, &exErr, src)
		assert.NotZero(t, exErr.Line, src)
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	t.Parallel()
	_, err := New().Parse("test.exm", strings.NewReader("var a = 1\nvar b = )"))
	require.Error(t, err)
	var exErr *lerrors.Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, lerrors.ParserErr, exErr.Kind)
	assert.Equal(t, int64(2), exErr.Line)
	assert.Equal(t, int64(9), exErr.Column)
	assert.Equal(t, "Parse Error: test.exm:2:9 expression expected, found ')'", err.Error())
}

func compile(t *testing.T, src string) *FnProto {
	t.Helper()
	fn, err := New().Parse("test", bytes.NewBufferString(src))
	require.NoError(t, err)
	return fn
}

func ops(fn *FnProto) []bytecode.Op {
	out := make([]bytecode.Op, len(fn.ByteCodes))
	for i, inst := range fn.ByteCodes {
		out[i] = bytecode.GetOp(inst)
	}
	return out
}

func assertByteCodes(t *testing.T, fn *FnProto, code ...uint64) {
	t.Helper()
	assert.Equal(t, code, fn.ByteCodes, `
Bytcodes are not equal.
expected:
%s
actual:
%s`,
		fmtBytecodes(code),
		fmtBytecodes(fn.ByteCodes),
	)
}

func fmtBytecodes(codes []uint64) string {
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprintf("\t%d: %s", i, bytecode.ToString(code))
	}
	return strings.Join(parts, "\n")
}
