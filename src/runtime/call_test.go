package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptCase struct {
	desc   string
	src    string
	result string
	err    string
}

func testScripts(t *testing.T, testcases []scriptCase) {
	t.Helper()
	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			vm := newTestVM(t, nil)
			res, err := evalSrc(t, vm, tc.src)
			if tc.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.result, res.String())
			}
			assert.Equal(t, 0, vm.Top())
			assert.Equal(t, 0, vm.Depth())
		})
	}
}

func TestCall_Params(t *testing.T) {
	t.Parallel()
	testScripts(t, []scriptCase{
		{desc: "exact arity", src: `function f(a, b) { return a + b } return f(1, 2)`, result: "3"},
		{desc: "too few", src: `function f(a, b) { return a + b } return f(1)`, err: "'f' takes exactly 2 arguments (1 given)"},
		{desc: "defaults", src: `function f(a, b = 10) { return a + b } return [f(1), f(1, 2)]`, result: "[11, 3]"},
		{desc: "defaults too many", src: `function f(a, b = 10) { return a } return f(1, 2, 3)`, err: "'f' takes min:1 max:2 arguments (3 given)"},
		{desc: "default marker", src: `function f(a, b = 10, c = 20) { return a + b + c } return f(1, default, 2)`, result: "13"},
		{desc: "default marker without default", src: `function f(a, b = 1) { return a } return f(default)`, err: "'f' parameter 1 has no default value"},
		{desc: "defaults are evaluated once", src: `
var n = 1;
function f(a = n) { return a }
n = 2;
return f()`, result: "1"},
		{desc: "varargs", src: `function f(a, ...) { return [a, vargv] } return f(1, 2, 3)`, result: "[1, [2, 3]]"},
		{desc: "varargs empty", src: `function f(...) { return vargv.len() } return f()`, result: "0"},
		{desc: "varargs too few", src: `function f(a, b, ...) { return a } return f(1)`, err: "'f' takes at least 2 arguments (1 given)"},
		{desc: "lambda", src: `var sq = @(x) x * x; return sq(7)`, result: "49"},
		{desc: "script arguments", src: `return vargv.len()`, result: "0"},
	})
}

func TestCall_Rules(t *testing.T) {
	t.Parallel()
	testScripts(t, []scriptCase{
		{desc: "returns bool", src: `rule pos(x) => x > 0; return [pos(1), pos(-1), pos(0.5)]`, result: "[true, false, true]"},
		{desc: "coerces to bool", src: `rule id(x) => x; return [id(0), id("s"), id(null)]`, result: "[false, true, false]"},
		{desc: "block body", src: `rule small(x) { return x < 10 } return small(3)`, result: "true"},
		{desc: "exact arity", src: `rule pos(x) => x > 0; return pos(1, 2)`, err: "'pos' takes exactly 1 arguments (2 given)"},
	})
}

func TestCall_Clusters(t *testing.T) {
	t.Parallel()
	testScripts(t, []scriptCase{
		{desc: "accepts", src: `cluster c { x in @Z, y in @R+ } => x * y; return c(2, 1.5)`, result: "3.0"},
		{desc: "rejects", src: `cluster c { x in @Z, y in @R+ } => x * y; return c(1.5, 1)`, err: "'c' argument 1 (1.5) is not in @Z"},
		{desc: "rejects sign", src: `cluster c { x in @Z, y in @R+ } => x * y; return c(1, -1)`, err: "'c' argument 2 (-1) is not in @R+"},
		{desc: "arity", src: `cluster c { x in @Z, y in @Z } => x; return c(1)`, err: "'c' takes exactly 2 arguments (1 given)"},
		{desc: "single constraint collects arguments", src: `cluster v { p in @R^3 } => p[0] + p[1] + p[2]; return [v(1, 2, 3), v([1, 2, 3])]`, result: "[6, 6]"},
		{desc: "single constraint rejects collected", src: `cluster v { p in @R^3 } => p[0]; return v(1, 2)`, err: "'v' argument 1 ([1, 2]) is not in @R^3"},
		{desc: "block body", src: `cluster half { x in @N } { return x / 2 } return half(8)`, result: "4"},
	})
}

func TestCall_Sequences(t *testing.T) {
	t.Parallel()
	testScripts(t, []scriptCase{
		{desc: "fibonacci", src: `seq fib(n) { 0: 0, 1: 1 } => fib(n - 1) + fib(n - 2); return fib(60)`, result: "1548008755920"},
		{desc: "initial terms", src: `seq s(n) { 0: 5, 1: 7 } => 0; return [s(0), s(1), s(1.0)]`, result: "[5, 7, 7]"},
		{desc: "block body", src: `seq tri(n) { 0: 0 } { return n + tri(n - 1) } return tri(10)`, result: "55"},
		{desc: "index must be a number", src: `seq s(n) { 0: 1 } => n; return s("a")`, err: "sequence 's' index must be a number, found string"},
		{desc: "one index", src: `seq s(n) { 0: 1 } => n; return s(1, 2)`, err: "'s' takes exactly 1 arguments (2 given)"},
	})
}

func TestCall_SequenceMemoizes(t *testing.T) {
	t.Parallel()
	res := mustEval(t, `
calls <- 0;
function tick() { ::calls += 1 }
seq tri(n) { 0: 0 } { tick(); return n + tri(n - 1) }
var first = tri(10);
var ncalls = ::calls;
var second = tri(10);
return [first, second, ncalls, ::calls]`)
	assert.Equal(t, "[55, 55, 10, 10]", res.String())
}

func TestCall_Classes(t *testing.T) {
	t.Parallel()
	testScripts(t, []scriptCase{
		{desc: "constructor and method", src: `
class Point {
	x = 0; y = 0
	constructor(x, y) { this.x = x; this.y = y }
	function len2() { return this.x * this.x + this.y * this.y }
}
var p = Point(3, 4);
return [p.len2(), p instanceof Point, typeof p]`, result: `[25, true, "instance"]`},
		{desc: "fields are per instance", src: `
class C { items = 0 }
var a = C(); var b = C();
a.items = 5;
return [a.items, b.items]`, result: "[5, 0]"},
		{desc: "inheritance and base", src: `
class A {
	function name() { return "a" }
	function hello() { return "hello " + this.name() }
}
class B extends A {
	function name() { return "b" }
	function baseName() { return base.name() }
}
var b = B();
return [b.hello(), b.baseName(), b instanceof A, A() instanceof B]`, result: `["hello b", "a", true, false]`},
		{desc: "no constructor", src: `class E {} return E(1)`, err: "class 'E' has no constructor but was given 1 arguments"},
		{desc: "constructor arity", src: `class P { constructor(a) {} } return P()`, err: "'P.constructor' takes exactly 1 arguments (0 given)"},
		{desc: "extends non class", src: `class E extends 1 {}`, err: "class can only extend a class, found int"},
		{desc: "instanceof non class", src: `return 1 instanceof 2`, err: "cannot apply instanceof between int and int"},
		{desc: "_call", src: `
class Adder { n = 1; function _call(x) { return this.n + x } }
var a = Adder();
return a(41)`, result: "42"},
		{desc: "class expression", src: `var K = class { v = 3 }; return K().v`, result: "3"},
		{desc: "members added later", src: `
class C {}
C.twice <- @(x) x * 2;
return C().twice(4)`, result: "8"},
	})
}

func TestCall_Natives(t *testing.T) {
	t.Parallel()
	testScripts(t, []scriptCase{
		{desc: "exact arity", src: `return type()`, err: "'type' takes exactly 1 arguments (0 given)"},
		{desc: "masks", src: `return sleep("a")`, err: "'sleep' argument 1 must be int|float, found string"},
		{desc: "default", src: `assert(true); return 1`, result: "1"},
		{desc: "at least", src: `return call()`, err: "'call' takes at least 1 arguments (0 given)"},
	})
}

func TestCall_Native(t *testing.T) {
	t.Parallel()
	vm := newTestVM(t, nil)
	vm.Register("sum", func(vm *VM, nargs int) NativeResult {
		var total int64
		for _, arg := range vm.Args() {
			total += arg.ToInt()
		}
		return vm.Push(Int(total))
	}, AtLeast(1), nil)
	vm.Register("greet", func(vm *VM, _ int) NativeResult {
		return vm.Push(String(vm.Arg(1).Str() + vm.Arg(2).Str()))
	}, 2, []Type{TypeString, TypeString}, String("!"))

	res, err := evalSrc(t, vm, `return [sum(1, 2, 3), greet("hi"), greet("hi", "?")]`)
	require.NoError(t, err)
	assert.Equal(t, `[6, "hi!", "hi?"]`, res.String())

	sum, ok := vm.Root().Get("sum")
	require.True(t, ok)
	res, err = vm.Call(sum, DictValue(vm.Root()), Int(4), Int(5))
	require.NoError(t, err)
	assert.Equal(t, Int(9), res)
	assert.Equal(t, 0, vm.Top())
}
