package runtime

import (
	"math/cmplx"
	"slices"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type delegateFn struct {
	name     string
	fn       NativeFn
	nparams  int
	masks    []Type
	defaults []Value
}

// registerDelegates builds the default delegate table of each type. Members
// are looked up after the raw slots of a value so a dictionary key shadows
// the delegate of the same name.
func registerDelegates(vm *VM) {
	numeric := []delegateFn{
		{name: "tofloat", fn: numToFloat},
		{name: "tointeger", fn: numToInteger},
		{name: "tostring", fn: delegateToString},
	}
	callable := []delegateFn{
		{name: "call", fn: closureCall, nparams: AtLeast(1)},
		{name: "bindenv", fn: closureBindEnv, nparams: 1},
		{name: "partial", fn: closurePartial, nparams: AtLeast(1)},
	}
	tables := map[Type][]delegateFn{
		TypeArray: {
			{name: "len", fn: delegateLen},
			{name: "append", fn: arrayAppend, nparams: 1},
			{name: "pop", fn: arrayPop},
			{name: "map", fn: arrayMap, nparams: 1, masks: []Type{TypeCallable | TypeInstance}},
			{name: "filter", fn: arrayFilter, nparams: 1, masks: []Type{TypeCallable | TypeInstance}},
			{name: "reverse", fn: arrayReverse},
		},
		TypeString: {
			{name: "len", fn: delegateLen},
			{name: "upper", fn: stringUpper},
			{name: "lower", fn: stringLower},
			{name: "slice", fn: stringSlice, nparams: 2, masks: []Type{TypeInt, TypeInt | TypeNull}, defaults: []Value{Null()}},
		},
		TypeDict: {
			{name: "len", fn: delegateLen},
			{name: "keys", fn: dictKeys},
			{name: "values", fn: dictValues},
			{name: "has", fn: dictHas, nparams: 1, masks: []Type{TypeString}},
		},
		TypeInt:   numeric,
		TypeFloat: numeric,
		TypeComplex: {
			{name: "real", fn: complexReal},
			{name: "imag", fn: complexImag},
			{name: "abs", fn: complexAbs},
			{name: "tostring", fn: delegateToString},
		},
		TypeClosure:       callable,
		TypeNativeClosure: callable[:1],
		TypeWeakRef: {
			{name: "ref", fn: weakRefGet},
		},
		TypeSpace: {
			{name: "dim", fn: spaceDim},
			{name: "domain", fn: spaceDomain},
		},
	}
	for kind, fns := range tables {
		delegate := NewDict()
		for _, dfn := range fns {
			delegate.NewSlot(dfn.name, NativeValue(NewNative(dfn.name, dfn.fn, dfn.nparams, dfn.masks, dfn.defaults...)))
		}
		DictValue(delegate).retain()
		vm.delegates[kind] = delegate
	}
}

func delegateLen(vm *VM, _ int) NativeResult {
	switch this := vm.Arg(0); this.Kind() {
	case TypeArray:
		return vm.Push(Int(int64(this.Array().Len())))
	case TypeDict:
		return vm.Push(Int(int64(this.Dict().Len())))
	case TypeString:
		return vm.Push(Int(int64(utf8.RuneCountInString(this.s))))
	default:
		return vm.Errorf("cannot take the length of %s", this.TypeName())
	}
}

func delegateToString(vm *VM, _ int) NativeResult {
	return vm.Push(String(vm.Arg(0).String()))
}

func arrayAppend(vm *VM, _ int) NativeResult {
	this := vm.Arg(0)
	this.Array().Append(vm.Arg(1))
	return vm.Push(this)
}

func arrayPop(vm *VM, _ int) NativeResult {
	val, ok := vm.Arg(0).Array().Remove(-1)
	if !ok {
		return vm.Errorf("pop from an empty array")
	}
	res := vm.Push(val)
	val.release()
	return res
}

func arrayMap(vm *VM, _ int) NativeResult {
	val, err := vm.mapArray(vm.Arg(0).Array(), vm.Arg(1))
	if err != nil {
		return vm.Raise(err)
	}
	return vm.Push(val)
}

func arrayFilter(vm *VM, _ int) NativeResult {
	val, err := vm.filterArray(vm.Arg(0).Array(), vm.Arg(1))
	if err != nil {
		return vm.Raise(err)
	}
	return vm.Push(val)
}

func arrayReverse(vm *VM, _ int) NativeResult {
	items := slices.Clone(vm.Arg(0).Array().items)
	slices.Reverse(items)
	return vm.Push(ArrayValue(NewArray(items...)))
}

func stringUpper(vm *VM, _ int) NativeResult {
	return vm.Push(String(cases.Upper(language.Und).String(vm.Arg(0).s)))
}

func stringLower(vm *VM, _ int) NativeResult {
	return vm.Push(String(cases.Lower(language.Und).String(vm.Arg(0).s)))
}

// stringSlice takes the runes in [start, end), negative positions count from
// the end and a null end means the length.
func stringSlice(vm *VM, _ int) NativeResult {
	runes := []rune(vm.Arg(0).s)
	length := int64(len(runes))
	start, end := vm.Arg(1).n, length
	if !vm.Arg(2).IsNull() {
		end = vm.Arg(2).n
	}
	if start < 0 {
		start += length
	}
	if end < 0 {
		end += length
	}
	if start < 0 || end > length || start > end {
		return vm.Errorf("slice [%d:%d] out of range for string of length %d", vm.Arg(1).n, end, length)
	}
	return vm.Push(String(string(runes[start:end])))
}

func dictKeys(vm *VM, _ int) NativeResult {
	keys := NewArray()
	for _, key := range vm.Arg(0).Dict().keys {
		keys.Append(String(key))
	}
	return vm.Push(ArrayValue(keys))
}

func dictValues(vm *VM, _ int) NativeResult {
	dict := vm.Arg(0).Dict()
	values := NewArray()
	for _, key := range dict.keys {
		values.Append(dict.items[key])
	}
	return vm.Push(ArrayValue(values))
}

func dictHas(vm *VM, _ int) NativeResult {
	_, ok := vm.Arg(0).Dict().Get(vm.Arg(1).s)
	return vm.Push(Bool(ok))
}

func numToFloat(vm *VM, _ int) NativeResult {
	return vm.Push(Float(vm.Arg(0).ToFloat()))
}

func numToInteger(vm *VM, _ int) NativeResult {
	return vm.Push(Int(vm.Arg(0).ToInt()))
}

func complexReal(vm *VM, _ int) NativeResult {
	return vm.Push(Float(real(vm.Arg(0).c)))
}

func complexImag(vm *VM, _ int) NativeResult {
	return vm.Push(Float(imag(vm.Arg(0).c)))
}

func complexAbs(vm *VM, _ int) NativeResult {
	return vm.Push(Float(cmplx.Abs(vm.Arg(0).c)))
}

// closureCall calls this with an explicit receiver: fn.call(env, args...).
func closureCall(vm *VM, _ int) NativeResult {
	args := vm.Args()
	val, err := vm.Call(vm.Arg(0), args[0], slices.Clone(args[1:])...)
	if err != nil {
		return vm.Raise(err)
	}
	return vm.Push(val)
}

func closureBindEnv(vm *VM, _ int) NativeResult {
	return vm.Push(ClosureValue(vm.Arg(0).Closure().bind(vm.Arg(1))))
}

// closurePartial fixes the leading arguments of this. The result is a native
// that holds the closure and the fixed arguments as outers.
func closurePartial(vm *VM, _ int) NativeResult {
	fn := vm.Arg(0)
	outers := append([]Value{fn}, vm.Args()...)
	name := fn.Closure().proto.Name
	partial := NewNative(name, callPartial, AtLeast(0), nil).WithOuters(outers...)
	return vm.Push(NativeValue(partial))
}

func callPartial(vm *VM, _ int) NativeResult {
	nc := vm.native.closure
	args := append(slices.Clone(nc.outers[1:]), vm.Args()...)
	val, err := vm.Call(nc.outers[0], vm.Arg(0), args...)
	if err != nil {
		return vm.Raise(err)
	}
	return vm.Push(val)
}

func weakRefGet(vm *VM, _ int) NativeResult {
	return vm.Push(vm.Arg(0).WeakRef().Get())
}

func spaceDim(vm *VM, _ int) NativeResult {
	dims := NewArray()
	for _, dim := range vm.Arg(0).Space().Dims {
		dims.Append(Int(int64(dim)))
	}
	return vm.Push(ArrayValue(dims))
}

func spaceDomain(vm *VM, _ int) NativeResult {
	sp := vm.Arg(0).Space()
	return vm.Push(String(sp.Domain + sp.Sign))
}
