package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/semihM/exmat-sub000/src/conf"
)

const defaultDateFormat = "%Y-%m-%d %H:%M:%S"

func registerStd(vm *VM) {
	vm.root.NewSlot("_version_", String(conf.EXMATVERSION))
	vm.Register("print", stdPrint, AtLeast(0), nil)
	vm.Register("println", stdPrintln, AtLeast(0), nil)
	vm.Register("type", stdType, 1, nil)
	vm.Register("assert", stdAssert, 2, nil, String("assertion failed"))
	vm.Register("tostring", stdToString, 1, nil)
	vm.Register("exit", stdExit, 1, []Type{TypeInt | TypeBool}, Int(0))
	vm.Register("sleep", stdSleep, 1, []Type{TypeNumber})
	vm.Register("date", stdDate, 1, []Type{TypeString}, String(defaultDateFormat))
	vm.Register("map", stdMap, 2, []Type{TypeArray, TypeCallable | TypeInstance})
	vm.Register("filter", stdFilter, 2, []Type{TypeArray, TypeCallable | TypeInstance})
	vm.Register("call", stdCall, AtLeast(1), []Type{TypeCallable | TypeInstance})
	vm.Register("weakref", stdWeakRef, 1, nil)
	vm.Register("compilestring", stdCompileString, 2, []Type{TypeString, TypeString}, String("compilestring"))
}

// ToString renders v the way print does, calling _tostring on instances.
func (vm *VM) ToString(v Value) (string, error) {
	if method, ok := vm.metamethod(v, "_tostring"); ok {
		res, err := vm.callMeta(method, v)
		if err != nil {
			return "", err
		}
		return res.String(), nil
	}
	return v.String(), nil
}

func stdprintaux(vm *VM, sep string) NativeResult {
	args := vm.Args()
	parts := make([]string, len(args))
	for i, arg := range args {
		str, err := vm.ToString(arg)
		if err != nil {
			return vm.Raise(err)
		}
		parts[i] = str
	}
	if _, err := fmt.Fprint(vm.Stdout, strings.Join(parts, " ")+sep); err != nil {
		return vm.Raise(err)
	}
	return ResultVoid
}

func stdPrint(vm *VM, _ int) NativeResult   { return stdprintaux(vm, "") }
func stdPrintln(vm *VM, _ int) NativeResult { return stdprintaux(vm, "\n") }

func stdType(vm *VM, _ int) NativeResult {
	return vm.Push(String(vm.Arg(1).TypeName()))
}

func stdAssert(vm *VM, _ int) NativeResult {
	if vm.Arg(1).Truthy() {
		return ResultVoid
	}
	return vm.Throw(vm.Arg(2))
}

func stdToString(vm *VM, _ int) NativeResult {
	str, err := vm.ToString(vm.Arg(1))
	if err != nil {
		return vm.Raise(err)
	}
	return vm.Push(String(str))
}

func stdExit(vm *VM, _ int) NativeResult {
	return vm.Raise(&Interrupt{kind: InterruptExit, code: int(vm.Arg(1).ToInt())})
}

func stdSleep(vm *VM, _ int) NativeResult {
	timer := time.NewTimer(time.Duration(vm.Arg(1).ToFloat() * float64(time.Millisecond)))
	defer timer.Stop()
	select {
	case <-vm.ctx.Done():
		return vm.Raise(vm.ctx.Err())
	case <-timer.C:
		return ResultVoid
	}
}

func stdDate(vm *VM, _ int) NativeResult {
	str, err := strftime.Format(vm.Arg(1).Str(), time.Now())
	if err != nil {
		return vm.Errorf("invalid date format %q: %v", vm.Arg(1).Str(), err)
	}
	return vm.Push(String(str))
}

// mapArray calls fn on every element of arr collecting the results.
func (vm *VM) mapArray(arr *Array, fn Value) (Value, error) {
	result := NewArray()
	items := append([]Value{}, arr.items...)
	for _, item := range items {
		val, err := vm.Call(fn, DictValue(vm.root), item)
		if err != nil {
			return Null(), err
		}
		result.Append(val)
	}
	return ArrayValue(result), nil
}

// filterArray keeps the elements of arr for which fn is truthy.
func (vm *VM) filterArray(arr *Array, fn Value) (Value, error) {
	result := NewArray()
	items := append([]Value{}, arr.items...)
	for _, item := range items {
		val, err := vm.Call(fn, DictValue(vm.root), item)
		if err != nil {
			return Null(), err
		} else if val.Truthy() {
			result.Append(item)
		}
	}
	return ArrayValue(result), nil
}

func stdMap(vm *VM, _ int) NativeResult {
	val, err := vm.mapArray(vm.Arg(1).Array(), vm.Arg(2))
	if err != nil {
		return vm.Raise(err)
	}
	return vm.Push(val)
}

func stdFilter(vm *VM, _ int) NativeResult {
	val, err := vm.filterArray(vm.Arg(1).Array(), vm.Arg(2))
	if err != nil {
		return vm.Raise(err)
	}
	return vm.Push(val)
}

func stdCall(vm *VM, _ int) NativeResult {
	args := append([]Value{}, vm.Args()[1:]...)
	val, err := vm.Call(vm.Arg(1), DictValue(vm.root), args...)
	if err != nil {
		return vm.Raise(err)
	}
	return vm.Push(val)
}

func stdWeakRef(vm *VM, _ int) NativeResult {
	target := vm.Arg(1)
	if target.obj == nil {
		return vm.Push(target)
	}
	return vm.Push(objValue(TypeWeakRef, NewWeakRef(target)))
}

func stdCompileString(vm *VM, _ int) NativeResult {
	fn, err := vm.parser.Parse(vm.Arg(2).Str(), strings.NewReader(vm.Arg(1).Str()))
	if err != nil {
		return vm.Raise(err)
	}
	cl := vm.Load(fn)
	res := vm.Push(cl)
	cl.release()
	return res
}
