package runtime

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semihM/exmat-sub000/src/conf"
	"github.com/semihM/exmat-sub000/src/lerrors"
)

func TestStd_Print(t *testing.T) {
	t.Parallel()
	vm := newTestVM(t, nil)
	var buf bytes.Buffer
	vm.Stdout = &buf
	_, err := evalSrc(t, vm, `
class P { function _tostring() { return "P!" } }
print("a", 1);
println("b", [1, "c"]);
println(P());
print()`)
	require.NoError(t, err)
	assert.Equal(t, "a 1b [1, \"c\"]\nP!\n", buf.String())
}

func TestStd_Assert(t *testing.T) {
	t.Parallel()
	testcases := []struct {
		src string
		msg string
	}{
		{`assert(1 > 2, "boom")`, "boom"},
		{`assert(false)`, "assertion failed"},
		{`assert(null, 42)`, "(error object is a int value) 42"},
	}
	for _, tc := range testcases {
		t.Run(tc.src, func(t *testing.T) {
			t.Parallel()
			rtErr := evalErr(t, tc.src)
			assert.Equal(t, lerrors.UserErr, rtErr.Kind)
			assert.Equal(t, tc.msg, rtErr.Err.Error())
		})
	}
}

func TestStd_Exit(t *testing.T) {
	t.Parallel()
	vm := newTestVM(t, nil)
	_, err := evalSrc(t, vm, `function f() { exit(3) } f(); return 1`)
	var interrupt *Interrupt
	require.ErrorAs(t, err, &interrupt)
	assert.Equal(t, 3, interrupt.Code())
	assert.Equal(t, InterruptExit, interrupt.Kind())
	assert.Equal(t, 0, vm.Depth())
	assert.Equal(t, 0, vm.Top())

	res, err := evalSrc(t, vm, `return 2`)
	require.NoError(t, err)
	assert.Equal(t, Int(2), res)

	_, err = evalSrc(t, vm, `map([1], @(x) exit())`)
	require.ErrorAs(t, err, &interrupt)
	assert.Equal(t, 0, interrupt.Code())
}

func TestStd_Functions(t *testing.T) {
	t.Parallel()
	testScripts(t, []scriptCase{
		{desc: "version", src: `return _version_`, result: conf.EXMATVERSION},
		{desc: "type", src: `return [type(1.5), type(null), type(print)]`, result: `["float", "null", "nativeclosure"]`},
		{desc: "tostring", src: `return tostring([1, 2]) + "!"`, result: "[1, 2]!"},
		{desc: "map", src: `return map([1, 2], @(x) x + 1)`, result: "[2, 3]"},
		{desc: "filter", src: `return filter([1, 2, 3, 4], @(x) x % 2 == 0)`, result: "[2, 4]"},
		{desc: "map error", src: `return map([1], @(x) x.nope)`, err: "the index 'nope' does not exist"},
		{desc: "call", src: `return call(@(a, b) a * b, 6, 7)`, result: "42"},
		{desc: "call a class", src: `class P { v = 2 } return call(P).v`, result: "2"},
		{desc: "sleep", src: `sleep(1); return 1`, result: "1"},
		{desc: "weakref to a scalar", src: `return weakref(5)`, result: "5"},
		{desc: "weakref", src: `
var a = [1];
var w = weakref(a);
var alive = w.ref();
a = null;
alive = null;
return [typeof w, w.ref()]`, result: `["weakref", null]`},
		{desc: "weakref alive", src: `var a = [1]; var w = weakref(a); return w.ref()`, result: "[1]"},
		{desc: "compilestring", src: `var f = compilestring("return 1 + 2"); return f()`, result: "3"},
		{desc: "compilestring error", src: `compilestring("return (", "chunk")`, err: "chunk"},
		{desc: "bindenv", src: `
var d = {v = 5};
var f = function() { return this.v };
var g = f.bindenv(d);
return g()`, result: "5"},
		{desc: "call delegate", src: `var f = function(x) { return this.v + x }; return f.call({v = 1}, 2)`, result: "3"},
		{desc: "partial", src: `var add = @(a, b, c) a + b * c; var p = add.partial(1, 2); return p(3)`, result: "7"},
		{desc: "date format", src: `return date("%Y").len()`, result: "4"},
		{desc: "date mask", src: `return date(1)`, err: "'date' argument 1 must be string, found int"},
	})
}

func TestStd_Date(t *testing.T) {
	t.Parallel()
	vm := newTestVM(t, nil)
	res, err := evalSrc(t, vm, `return [date("%Y"), date()]`)
	require.NoError(t, err)
	items := res.Array().Items()
	assert.Equal(t, time.Now().Format("2006"), items[0].Str())
	_, err = time.ParseInLocation("2006-01-02 15:04:05", items[1].Str(), time.Local)
	assert.NoError(t, err)
}

func TestStd_Register(t *testing.T) {
	t.Parallel()
	vm := newTestVM(t, nil)
	vm.Register("twice", func(vm *VM, _ int) NativeResult {
		val, err := vm.Call(vm.Arg(1), DictValue(vm.Root()), vm.Arg(2))
		if err != nil {
			return vm.Raise(err)
		}
		return vm.Push(Int(val.ToInt() * 2))
	}, 2, []Type{TypeCallable, TypeInt})
	vm.Register("fail", func(vm *VM, _ int) NativeResult {
		return vm.Errorf("failed with %d", vm.Arg(1).ToInt())
	}, 1, nil)

	res, err := evalSrc(t, vm, `return twice(@(x) x + 1, 4)`)
	require.NoError(t, err)
	assert.Equal(t, Int(10), res)

	_, err = evalSrc(t, vm, `function f() { fail(7) } f()`)
	var rtErr *lerrors.Error
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, lerrors.RuntimeErr, rtErr.Kind)
	assert.Equal(t, "failed with 7", rtErr.Err.Error())
	require.Len(t, rtErr.Traceback, 2)
	assert.Equal(t, "f", rtErr.Traceback[0].Name)
}
