package runtime

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semihM/exmat-sub000/src/bytecode"
	"github.com/semihM/exmat-sub000/src/conf"
	"github.com/semihM/exmat-sub000/src/lerrors"
	"github.com/semihM/exmat-sub000/src/parse"
)

func newTestVM(t *testing.T, cfg *conf.Config) *VM {
	t.Helper()
	vm := New(context.Background(), cfg)
	t.Cleanup(func() { _ = vm.Close() })
	return vm
}

func evalSrc(t *testing.T, vm *VM, src string) (Value, error) {
	t.Helper()
	fn, err := parse.New().Parse("test", strings.NewReader(src))
	require.NoError(t, err)
	return vm.Eval(fn)
}

func mustEval(t *testing.T, src string) Value {
	t.Helper()
	res, err := evalSrc(t, newTestVM(t, nil), src)
	require.NoError(t, err)
	return res
}

func evalErr(t *testing.T, src string) *lerrors.Error {
	t.Helper()
	_, err := evalSrc(t, newTestVM(t, nil), src)
	require.Error(t, err)
	var rtErr *lerrors.Error
	require.ErrorAs(t, err, &rtErr)
	return rtErr
}

func mainProto(literals []any, code ...uint64) *parse.FnProto {
	return &parse.FnProto{
		Name:      "main",
		Filename:  "test",
		Kind:      parse.KindMain,
		Params:    []string{"this", "vargv"},
		Varargs:   true,
		Literals:  literals,
		ByteCodes: code,
		StackSize: 10,
	}
}

func TestVM_ByteCode(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		desc     string
		literals []any
		code     []uint64
		result   string
		err      string
	}{
		{
			desc:     "LOAD",
			literals: []any{"hello"},
			code: []uint64{
				bytecode.IABx(bytecode.LOAD, 2, 0),
				bytecode.IAB(bytecode.RETURN, 2, 0),
			},
			result: "hello",
		},
		{
			desc:     "LOADFLOAT LOADCOMPLEX ADD",
			literals: []any{1.5, complex(0, 2)},
			code: []uint64{
				bytecode.IABx(bytecode.LOADFLOAT, 2, 0),
				bytecode.IABx(bytecode.LOADCOMPLEX, 3, 1),
				bytecode.IABC(bytecode.ADD, 4, 2, 3),
				bytecode.IAB(bytecode.RETURN, 4, 0),
			},
			result: "(1.5+2i)",
		},
		{
			desc: "MOVE",
			code: []uint64{
				bytecode.IAsBx(bytecode.LOADINT, 2, 23),
				bytecode.IAB(bytecode.MOVE, 3, 2),
				bytecode.IAB(bytecode.RETURN, 3, 0),
			},
			result: "23",
		},
		{
			desc: "DMOVE",
			code: []uint64{
				bytecode.IAsBx(bytecode.LOADINT, 2, 7),
				bytecode.IAsBx(bytecode.LOADINT, 3, 9),
				bytecode.IABCD(bytecode.DMOVE, 4, 2, 5, 3),
				bytecode.IABC(bytecode.SUB, 6, 4, 5),
				bytecode.IAB(bytecode.RETURN, 6, 0),
			},
			result: "-2",
		},
		{
			desc: "LOADNULL",
			code: []uint64{
				bytecode.IAsBx(bytecode.LOADINT, 2, 1),
				bytecode.IAsBx(bytecode.LOADINT, 3, 1),
				bytecode.IAB(bytecode.LOADNULL, 2, 2),
				bytecode.IAB(bytecode.RETURN, 3, 0),
			},
			result: "null",
		},
		{
			desc: "LOADBOOL NOT",
			code: []uint64{
				bytecode.IAB(bytecode.LOADBOOL, 2, 0),
				bytecode.IAB(bytecode.NOT, 3, 2),
				bytecode.IAB(bytecode.RETURN, 3, 0),
			},
			result: "true",
		},
		{
			desc: "JZ skips when false",
			code: []uint64{
				bytecode.IAsBx(bytecode.LOADINT, 3, 0),
				bytecode.IAB(bytecode.LOADBOOL, 2, 0),
				bytecode.IAsBx(bytecode.JZ, 2, 1),
				bytecode.IAsBx(bytecode.LOADINT, 3, 1),
				bytecode.IAB(bytecode.RETURN, 3, 0),
			},
			result: "0",
		},
		{
			desc: "AND short circuits",
			code: []uint64{
				bytecode.IAB(bytecode.LOADBOOL, 2, 0),
				bytecode.IABsC(bytecode.AND, 3, 2, 1),
				bytecode.IAsBx(bytecode.LOADINT, 3, 5),
				bytecode.IAB(bytecode.RETURN, 3, 0),
			},
			result: "false",
		},
		{
			desc: "OR falls through",
			code: []uint64{
				bytecode.IAB(bytecode.LOADBOOL, 2, 0),
				bytecode.IABsC(bytecode.OR, 3, 2, 1),
				bytecode.IAsBx(bytecode.LOADINT, 3, 5),
				bytecode.IAB(bytecode.RETURN, 3, 0),
			},
			result: "5",
		},
		{
			desc: "FOREACH POSTFOREACH",
			code: []uint64{
				bytecode.IABCD(bytecode.NEWOBJECT, 2, bytecode.ObjArray, 2, 0),
				bytecode.IAsBx(bytecode.LOADINT, 3, 10),
				bytecode.IAB(bytecode.APPENDTOARRAY, 2, 3),
				bytecode.IAsBx(bytecode.LOADINT, 3, 20),
				bytecode.IAB(bytecode.APPENDTOARRAY, 2, 3),
				bytecode.IAsBx(bytecode.LOADINT, 6, 0),
				bytecode.IAB(bytecode.LOADNULL, 3, 2),
				bytecode.IAsBx(bytecode.LOADINT, 5, 0),
				bytecode.IABsC(bytecode.FOREACH, 2, 3, 2),
				bytecode.IABC(bytecode.ADD, 6, 6, 4),
				bytecode.IABsC(bytecode.POSTFOREACH, 2, 3, -3),
				bytecode.IAB(bytecode.RETURN, 6, 0),
			},
			result: "30",
		},
		{
			desc: "INCL PINCL",
			code: []uint64{
				bytecode.IAsBx(bytecode.LOADINT, 2, 5),
				bytecode.IABCD(bytecode.PINCL, 3, 2, 0, 1),
				bytecode.IABCD(bytecode.INCL, 2, 2, 0, 10),
				bytecode.IABx(bytecode.NEWOBJECT, 4, bytecode.ObjArray),
				bytecode.IAB(bytecode.APPENDTOARRAY, 4, 3),
				bytecode.IAB(bytecode.APPENDTOARRAY, 4, 2),
				bytecode.IAB(bytecode.RETURN, 4, 0),
			},
			result: "[5, 16]",
		},
		{
			desc: "BITW CMP",
			code: []uint64{
				bytecode.IAsBx(bytecode.LOADINT, 2, 6),
				bytecode.IAsBx(bytecode.LOADINT, 3, 3),
				bytecode.IABCD(bytecode.BITW, 4, 2, 3, bytecode.BitAnd),
				bytecode.IABCD(bytecode.CMP, 5, 4, 3, bytecode.CmpLt),
				bytecode.IAB(bytecode.RETURN, 5, 0),
			},
			result: "true",
		},
		{
			desc: "NEWSLOT GET on a dict",
			literals: []any{"k"},
			code: []uint64{
				bytecode.IABCD(bytecode.NEWOBJECT, 2, bytecode.ObjDict, 0, 0),
				bytecode.IABx(bytecode.LOAD, 3, 0),
				bytecode.IAsBx(bytecode.LOADINT, 4, 42),
				bytecode.IABCD(bytecode.NEWSLOT, bytecode.NoTarget, 2, 3, 4),
				bytecode.IABCD(bytecode.GET, 5, 2, 3, 0),
				bytecode.IAB(bytecode.RETURN, 5, 0),
			},
			result: "42",
		},
		{
			desc:     "GET missing",
			literals: []any{"k"},
			code: []uint64{
				bytecode.IABCD(bytecode.NEWOBJECT, 2, bytecode.ObjDict, 0, 0),
				bytecode.IABx(bytecode.LOAD, 3, 0),
				bytecode.IABCD(bytecode.GET, 5, 2, 3, 0),
				bytecode.IAB(bytecode.RETURN, 5, 0),
			},
			err: "the index 'k' does not exist",
		},
		{
			desc: "ADD incompatible types",
			code: []uint64{
				bytecode.IAB(bytecode.LOADNULL, 2, 1),
				bytecode.IAsBx(bytecode.LOADINT, 3, 1),
				bytecode.IABC(bytecode.ADD, 4, 2, 3),
			},
			err: "cannot perform '+' on null and int",
		},
		{
			desc: "CALL non callable",
			code: []uint64{
				bytecode.IAsBx(bytecode.LOADINT, 2, 1),
				bytecode.IAB(bytecode.MOVE, 3, 0),
				bytecode.IABCD(bytecode.CALL, 2, 2, 3, 1),
			},
			err: "attempt to call 'int'",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			vm := newTestVM(t, nil)
			res, err := vm.Eval(mainProto(tc.literals, tc.code...))
			if tc.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.result, res.String())
			assert.Equal(t, 0, vm.Top())
			assert.Equal(t, 0, vm.Depth())
		})
	}
}

func TestVM_Scripts(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		desc   string
		src    string
		result string
	}{
		{"assignment", `var x = 1; x = x + 2; return x`, "3"},
		{"closures capture each loop iteration", `
var fns = [];
for (var i = 0; i < 3; i++) {
	var j = i;
	fns.append(@() j);
}
return fns[0]() + fns[1]() * 10 + fns[2]() * 100`, "210"},
		{"closures see the loop variable when it is closed", `
var fs = [];
for (var i = 0; i < 3; i++) fs.append(@() i);
return [fs[0](), fs[2]()]`, "[3, 3]"},
		{"foreach closures see the last element", `
var fs = [];
foreach (v in [10, 20, 30]) fs.append(@() v);
return [fs[0](), fs[2]()]`, "[30, 30]"},
		{"shared outer", `
function counter() {
	var n = 0;
	return @() ++n;
}
var c = counter();
c(); c();
return c()`, "3"},
		{"nested break and continue", `
var total = 0;
for (var i = 0; i < 5; i++) {
	if (i == 1) continue;
	for (var j = 0; j < 5; j++) {
		if (j == 0) continue;
		if (j == 3) break;
		total += 1;
	}
	if (i == 3) break;
}
return total`, "6"},
		{"while and do", `
var a = 0; var b = 0;
while (a < 4) a++;
do { b += 2 } while (b < 5);
return [a, b]`, "[4, 6]"},
		{"foreach dict keeps insertion order", `
var out = "";
foreach (k, v in {z = 1, a = 2, m = 3}) out += k + v;
return out`, "z1a2m3"},
		{"foreach string", `
var out = [];
foreach (i, c in "ab") out.append(c + i);
return out`, `["a0", "b1"]`},
		{"ternary and logic", `var a = 1 > 2 ? "x" : "y"; return [a, null || 3, 0 && 1]`, `["y", 3, 0]`},
		{"matrix multiply", `return [[1, 2], [3, 4]] .* [[5], [6]]`, "[[17], [39]]"},
		{"transpose", `return [[1, 2], [3, 4]]'`, "[[1, 3], [2, 4]]"},
		{"cartesian", `return [1, 2] *. ["a"]`, `[[1, "a"], [2, "a"]]`},
		{"typeof", `return [typeof 1, typeof 1.5, typeof "s", typeof [], typeof {}, typeof @R]`,
			`["int", "float", "string", "array", "dict", "space"]`},
		{"root access", `x <- 5; function f() { return ::x } return f()`, "5"},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.result, mustEval(t, tc.src).String())
		})
	}
}

func TestVM_MatrixErrors(t *testing.T) {
	t.Parallel()
	err := evalErr(t, `return [[1, 2]] .* [[1, 2]]`)
	assert.Contains(t, err.Error(), "inner dimensions do not match: 1x2 and 1x2")
	err = evalErr(t, `return [[1, 2], [3]] .* [[1], [2]]`)
	assert.Contains(t, err.Error(), "rows of a matrix must have equal length")
}

func TestVM_ErrorUnwinding(t *testing.T) {
	t.Parallel()
	vm := newTestVM(t, nil)
	_, err := evalSrc(t, vm, `function inner(x) {
	return x + 1
}
function outer() {
	var r = inner(null);
	return r
}
outer()`)
	require.Error(t, err)
	var rtErr *lerrors.Error
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, lerrors.RuntimeErr, rtErr.Kind)
	assert.Equal(t, "test", rtErr.Filename)
	require.Len(t, rtErr.Traceback, 3)
	assert.Equal(t, []string{"inner", "outer", "main"}, []string{
		rtErr.Traceback[0].Name, rtErr.Traceback[1].Name, rtErr.Traceback[2].Name,
	})
	assert.Equal(t, int64(2), rtErr.Line)
	assert.Equal(t, int64(5), rtErr.Traceback[1].Line)
	assert.Equal(t, 0, vm.Top())
	assert.Equal(t, 0, vm.Depth())

	res, err := evalSrc(t, vm, `return 1`)
	require.NoError(t, err)
	assert.Equal(t, Int(1), res)
}

func TestVM_NativeDepthIsFatal(t *testing.T) {
	t.Parallel()
	vm := newTestVM(t, nil)
	_, err := evalSrc(t, vm, `function f(n) { return call(f, n + 1) } f(0)`)
	require.Error(t, err)
	var rtErr *lerrors.Error
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, lerrors.FatalErr, rtErr.Kind)
	assert.Contains(t, err.Error(), "native stack overflow")

	_, err = evalSrc(t, vm, `return 1`)
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, lerrors.FatalErr, rtErr.Kind)
}

func TestVM_MetamethodDepthIsFatal(t *testing.T) {
	t.Parallel()
	cfg := conf.Default()
	cfg.VM.MaxStackSize = 1 << 24
	vm := newTestVM(t, cfg)
	_, err := evalSrc(t, vm, `
class G { function _get(key) { return this.zz } }
return G().a`)
	var rtErr *lerrors.Error
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, lerrors.FatalErr, rtErr.Kind)
	assert.Contains(t, err.Error(), "native stack overflow, more than 100 nested calls")
}

func TestVM_StackLimitIsFatal(t *testing.T) {
	t.Parallel()
	cfg := conf.Default()
	cfg.VM.MaxStackSize = 512
	vm := newTestVM(t, cfg)
	_, err := evalSrc(t, vm, `function r(n) { return 1 + r(n + 1) } r(0)`)
	var rtErr *lerrors.Error
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, lerrors.FatalErr, rtErr.Kind)
	assert.Contains(t, err.Error(), "stack overflow")
}

func TestVM_TailCallsReuseTheFrame(t *testing.T) {
	t.Parallel()
	cfg := conf.Default()
	cfg.VM.MaxStackSize = 512
	vm := newTestVM(t, cfg)
	res, err := evalSrc(t, vm, `
function loop(n, acc) {
	if (n == 0) return acc;
	return loop(n - 1, acc + n)
}
return loop(10000, 0)`)
	require.NoError(t, err)
	assert.Equal(t, Int(50005000), res)
}

func TestVM_ContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	vm := New(ctx, nil)
	cancel()
	_, err := evalSrc(t, vm, `while (true) {}`)
	require.ErrorIs(t, err, context.Canceled)
}

func TestVM_DivisionByZero(t *testing.T) {
	t.Parallel()
	res := mustEval(t, `return [5 / 0, -5 / 0, 5 % 0]`)
	items := res.Array().Items()
	assert.True(t, math.IsInf(items[0].ToFloat(), 1))
	assert.True(t, math.IsInf(items[1].ToFloat(), -1))
	assert.True(t, math.IsInf(items[2].ToFloat(), 1))
	assert.True(t, math.IsNaN(mustEval(t, `var z = 0; return z / 0`).ToFloat()))
}
