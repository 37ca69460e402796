package runtime

import (
	"fmt"

	"github.com/semihM/exmat-sub000/src/parse"
)

// callValue calls fn with this at stack[base] and nargs arguments above it.
// Closures get a new frame that run picks up, everything else completes
// before callValue returns.
func (vm *VM) callValue(fn Value, base, nargs, target int) error {
	switch fn.Kind() {
	case TypeClosure:
		return vm.startCall(fn.Closure(), base, nargs, target)
	case TypeNativeClosure:
		return vm.callNative(fn.Native(), base, nargs, target)
	case TypeClass:
		return vm.instantiate(fn.Class(), base, nargs, target)
	case TypeInstance:
		if method, ok := fn.Instance().class.Lookup("_call"); ok {
			method.retain()
			defer method.release()
			assign(&vm.stack[base], fn)
			return vm.callValue(method, base, nargs, target)
		}
	}
	return fmt.Errorf("attempt to call '%s'", fn.TypeName())
}

// startCall binds the arguments at base to the parameters of cl according to
// its kind and pushes its frame.
func (vm *VM) startCall(cl *Closure, base, nargs, target int) error {
	proto := cl.proto
	nparams := len(proto.Params)
	if err := vm.ensureStack(max(base+proto.StackSize, base+nargs+1) + 1); err != nil {
		return err
	}
	if !cl.env.IsNull() && proto.Kind != parse.KindConstructor {
		assign(&vm.stack[base], cl.env)
	}

	var err error
	switch proto.Kind {
	case parse.KindCluster:
		nargs, err = vm.bindCluster(cl, base, nargs)
	case parse.KindSequence:
		return vm.startSequence(cl, base, nargs, target)
	case parse.KindRule:
		if nargs != proto.Arity() {
			err = fmt.Errorf("'%s' takes exactly %d arguments (%d given)", proto.Name, proto.Arity(), nargs)
		}
	default:
		nargs, err = vm.bindParams(cl, base, nargs)
	}
	if err != nil {
		return err
	}
	vm.clearStack(base+nparams, max(base+proto.StackSize, base+nargs+1))
	_, err = vm.pushFrame(cl, base, target)
	return err
}

// bindParams handles varargs, defaults and the default marker. It returns
// the number of bound arguments.
func (vm *VM) bindParams(cl *Closure, base, nargs int) (int, error) {
	proto := cl.proto
	arity := proto.Arity()
	if proto.Varargs {
		required := arity - 1
		if nargs < required {
			return nargs, fmt.Errorf("'%s' takes at least %d arguments (%d given)", proto.Name, required, nargs)
		}
		vargv := NewArray(vm.stack[base+1+required : base+1+nargs]...)
		vm.clearStack(base+1+required, base+1+nargs)
		assign(&vm.stack[base+1+required], ArrayValue(vargv))
		return arity, nil
	}

	ndefaults := len(cl.defaults)
	minArgs := arity - ndefaults
	if ndefaults > 0 && (nargs < minArgs || nargs > arity) {
		return nargs, fmt.Errorf("'%s' takes min:%d max:%d arguments (%d given)", proto.Name, minArgs, arity, nargs)
	} else if ndefaults == 0 && nargs != arity {
		return nargs, fmt.Errorf("'%s' takes exactly %d arguments (%d given)", proto.Name, arity, nargs)
	}
	for i := range nargs {
		if vm.stack[base+1+i].Kind() != TypeDefault {
			continue
		} else if i < minArgs {
			return nargs, fmt.Errorf("'%s' parameter %d has no default value", proto.Name, i+1)
		}
		assign(&vm.stack[base+1+i], cl.defaults[i-minArgs])
	}
	for i := nargs; i < arity; i++ {
		assign(&vm.stack[base+1+i], cl.defaults[i-minArgs])
	}
	return arity, nil
}

// bindCluster checks every argument against the space of its parameter. A
// cluster with a single constraint collects several arguments into an array.
func (vm *VM) bindCluster(cl *Closure, base, nargs int) (int, error) {
	proto := cl.proto
	if len(proto.Constraints) == 1 && nargs != 1 {
		arr := NewArray(vm.stack[base+1 : base+1+nargs]...)
		vm.clearStack(base+1, base+1+nargs)
		assign(&vm.stack[base+1], ArrayValue(arr))
		nargs = 1
	}
	if nargs != proto.Arity() {
		return nargs, fmt.Errorf("'%s' takes exactly %d arguments (%d given)", proto.Name, proto.Arity(), nargs)
	}
	for i, space := range proto.Constraints {
		arg := vm.stack[base+1+i]
		if !spaceContains(space.Domain, space.Sign, space.Dims, arg) {
			return nargs, fmt.Errorf("'%s' argument %d (%v) is not in %v", proto.Name, i+1, arg, space)
		}
	}
	return nargs, nil
}

// startSequence answers from the cache when it can, otherwise runs the body
// and memoizes its result on return.
func (vm *VM) startSequence(cl *Closure, base, nargs, target int) error {
	proto := cl.proto
	if nargs != 1 {
		return fmt.Errorf("'%s' takes exactly 1 arguments (%d given)", proto.Name, nargs)
	}
	index := vm.stack[base+1]
	if !index.Is(TypeNumber) {
		return fmt.Errorf("sequence '%s' index must be a number, found %s", proto.Name, index.TypeName())
	}
	key := index.ToFloat()
	if val, ok := cl.Cached(key); ok {
		val.retain()
		vm.clearStack(base, base+nargs+1)
		vm.writeResult(target, val)
		val.release()
		return nil
	}
	vm.clearStack(base+len(proto.Params), base+proto.StackSize)
	f, err := vm.pushFrame(cl, base, target)
	if err != nil {
		return err
	}
	f.memoize, f.seqKey = true, key
	return nil
}

// tailCall replaces the running frame with a call to cl. The result goes
// wherever the replaced frame would have returned to.
func (vm *VM) tailCall(cl *Closure, base, nargs int) error {
	f := vm.currentFrame()
	ClosureValue(cl).retain()
	defer ClosureValue(cl).release()
	newBase, target, top := f.base, f.target, f.top
	vm.closeOuters(newBase)
	for i := 0; i <= nargs; i++ {
		assign(&vm.stack[newBase+i], vm.stack[base+i])
	}
	vm.clearStack(newBase+nargs+1, max(top, base+nargs+1))
	vm.popFrame()
	return vm.startCall(cl, newBase, nargs, target)
}

// instantiate creates an instance of cls and runs its constructor with the
// instance as this.
func (vm *VM) instantiate(cls *Class, base, nargs, target int) error {
	inst := InstanceValue(NewInstance(cls))
	assign(&vm.stack[base], inst)
	ctor, ok := cls.Lookup("constructor")
	switch {
	case ok && ctor.Kind() == TypeClosure:
		return vm.startCall(ctor.Closure(), base, nargs, target)
	case ok && ctor.Kind() == TypeNativeClosure:
		inst.retain()
		defer inst.release()
		if err := vm.callNative(ctor.Native(), base, nargs, noTarget); err != nil {
			return err
		}
		vm.writeResult(target, inst)
		return nil
	case nargs > 0:
		return fmt.Errorf("class '%s' has no constructor but was given %d arguments", cls.name, nargs)
	}
	inst.retain()
	vm.clearStack(base, base+1)
	vm.writeResult(target, inst)
	inst.release()
	return nil
}

// ret finishes the innermost frame with res.
func (vm *VM) ret(res Value) {
	f := vm.currentFrame()
	if f.returnThis {
		res = vm.stack[f.base]
	}
	res.retain()
	if f.memoize {
		f.closure.memoize(f.seqKey, res)
	}
	target := f.target
	vm.closeOuters(f.base)
	vm.clearStack(f.base, f.top)
	vm.popFrame()
	vm.writeResult(target, res)
	res.release()
}

// callNative runs a host function. Arguments are checked against its arity,
// defaults and masks before it is called.
func (vm *VM) callNative(nc *NativeClosure, base, nargs, target int) error {
	if err := vm.ensureStack(base + nargs + len(nc.defaults) + 2); err != nil {
		return err
	}
	ndefaults := len(nc.defaults)
	switch {
	case nc.nparams < 0 && nargs < -nc.nparams-1:
		return fmt.Errorf("'%s' takes at least %d arguments (%d given)", nc.name, -nc.nparams-1, nargs)
	case nc.nparams >= 0 && ndefaults == 0 && nargs != nc.nparams:
		return fmt.Errorf("'%s' takes exactly %d arguments (%d given)", nc.name, nc.nparams, nargs)
	case nc.nparams >= 0 && (nargs < nc.nparams-ndefaults || nargs > nc.nparams):
		return fmt.Errorf("'%s' takes min:%d max:%d arguments (%d given)", nc.name, nc.nparams-ndefaults, nc.nparams, nargs)
	}
	for ; nc.nparams >= 0 && nargs < nc.nparams; nargs++ {
		assign(&vm.stack[base+1+nargs], nc.defaults[nargs-(nc.nparams-ndefaults)])
	}
	for i, mask := range nc.masks {
		if i >= nargs {
			break
		} else if arg := vm.stack[base+1+i]; mask != 0 && !arg.Is(mask) {
			return fmt.Errorf("'%s' argument %d must be %s, found %s", nc.name, i+1, mask, arg.TypeName())
		}
	}
	if !nc.env.IsNull() {
		assign(&vm.stack[base], nc.env)
	}

	prevNative, prevTop := vm.native, vm.top
	vm.native = nativeCall{closure: nc, base: base, nargs: nargs}
	vm.top = base + nargs + 1
	result := nc.fn(vm, nargs)
	vm.native = prevNative

	var res Value
	var err error
	switch result {
	case ResultValue:
		if vm.top > base+nargs+1 {
			res = vm.stack[vm.top-1]
		}
	case ResultError:
		if err, vm.lastErr = vm.lastErr, nil; err == nil {
			err = fmt.Errorf("'%s' failed", nc.name)
		}
	case ResultExit:
		if vm.exit == nil {
			vm.exit = &Interrupt{kind: InterruptExit}
		}
		err = vm.exit
	}
	res.retain()
	vm.clearStack(base, vm.top)
	vm.top = prevTop
	if err == nil {
		vm.writeResult(target, res)
	}
	res.release()
	return err
}
