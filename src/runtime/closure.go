package runtime

import (
	"github.com/semihM/exmat-sub000/src/parse"
)

type (
	// Closure is a prototype bound to its captured outers and the default
	// parameter values seen when it was created.
	Closure struct {
		refCount
		proto    *parse.FnProto
		outers   []*Outer
		defaults []Value
		base     *Class
		env      Value
		cache    map[float64]Value
	}
	// NativeResult tells the vm what a native function left behind.
	NativeResult int
	// NativeFn is a host function. nargs is the number of arguments not
	// counting this, they are read with vm.Arg.
	NativeFn func(vm *VM, nargs int) NativeResult
	// NativeClosure is a host function with its parameter checks.
	NativeClosure struct {
		refCount
		name     string
		fn       NativeFn
		nparams  int
		masks    []Type
		defaults []Value
		outers   []Value
		env      Value
	}
)

const (
	// ResultValue means the result was pushed on top of the stack.
	ResultValue NativeResult = iota
	// ResultVoid means the call returns null.
	ResultVoid
	// ResultError means the error was recorded with vm.Errorf or vm.Raise.
	ResultError
	// ResultExit means the script asked to exit.
	ResultExit
)

func newClosure(proto *parse.FnProto) *Closure {
	cl := &Closure{proto: proto}
	if proto.Kind == parse.KindSequence {
		cl.cache = make(map[float64]Value, len(proto.SeqTerms))
		for _, term := range proto.SeqTerms {
			val := literalValue(term.Value)
			val.retain()
			cl.cache[term.Key] = val
		}
	}
	return cl
}

// Proto is the prototype the closure runs.
func (cl *Closure) Proto() *parse.FnProto { return cl.proto }

// Cached returns the memoized result of a sequence for index.
func (cl *Closure) Cached(index float64) (Value, bool) {
	val, ok := cl.cache[index]
	return val, ok
}

func (cl *Closure) memoize(index float64, val Value) {
	old, ok := cl.cache[index]
	val.retain()
	cl.cache[index] = val
	if ok {
		old.release()
	}
}

// bind copies the closure with a new environment, sharing outers and defaults.
func (cl *Closure) bind(env Value) *Closure {
	bound := &Closure{proto: cl.proto, outers: cl.outers, defaults: cl.defaults, base: cl.base}
	for _, outer := range bound.outers {
		objValue(TypeOuter, outer).retain()
	}
	bound.defaults = make([]Value, len(cl.defaults))
	for i, def := range cl.defaults {
		assign(&bound.defaults[i], def)
	}
	if bound.base != nil {
		ClassValue(bound.base).retain()
	}
	if cl.cache != nil {
		bound.cache = make(map[float64]Value, len(cl.cache))
		for key, val := range cl.cache {
			val.retain()
			bound.cache[key] = val
		}
	}
	assign(&bound.env, env)
	return bound
}

func (cl *Closure) setBase(base *Class) {
	if cl.base == base {
		return
	}
	if base != nil {
		ClassValue(base).retain()
	}
	if old := cl.base; old != nil {
		ClassValue(old).release()
	}
	cl.base = base
}

func (cl *Closure) finalize() {
	outers, defaults, cache, env := cl.outers, cl.defaults, cl.cache, cl.env
	cl.outers, cl.defaults, cl.cache, cl.env = nil, nil, nil, Null()
	for _, outer := range outers {
		objValue(TypeOuter, outer).release()
	}
	for _, def := range defaults {
		def.release()
	}
	for _, val := range cache {
		val.release()
	}
	env.release()
	cl.setBase(nil)
}

// AtLeast is the nparams of a native taking n or more arguments.
func AtLeast(n int) int { return -n - 1 }

// NewNative creates a native closure. nparams is the exact number of
// arguments, or a minimum built with AtLeast. masks constrain the
// arguments in order, a zero mask accepts anything. defaults fill the last
// parameters when fewer arguments are given.
func NewNative(name string, fn NativeFn, nparams int, masks []Type, defaults ...Value) *NativeClosure {
	nc := &NativeClosure{name: name, fn: fn, nparams: nparams, masks: masks}
	for _, def := range defaults {
		def.retain()
		nc.defaults = append(nc.defaults, def)
	}
	return nc
}

// WithOuters attaches values the native can read back with vm.Outer.
func (nc *NativeClosure) WithOuters(outers ...Value) *NativeClosure {
	for _, outer := range outers {
		outer.retain()
		nc.outers = append(nc.outers, outer)
	}
	return nc
}

// Name is the name the native was registered with.
func (nc *NativeClosure) Name() string { return nc.name }

func (nc *NativeClosure) finalize() {
	defaults, outers, env := nc.defaults, nc.outers, nc.env
	nc.defaults, nc.outers, nc.env = nil, nil, Null()
	for _, def := range defaults {
		def.release()
	}
	for _, outer := range outers {
		outer.release()
	}
	env.release()
}

// literalValue converts a compile time literal.
func literalValue(lit any) Value {
	switch val := lit.(type) {
	case int64:
		return Int(val)
	case float64:
		return Float(val)
	case complex128:
		return Complex(val)
	case string:
		return String(val)
	case bool:
		return Bool(val)
	default:
		return Null()
	}
}
