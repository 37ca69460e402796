package runtime

// Arg returns argument i of the running native function, 0 is this. Missing
// arguments are null.
func (vm *VM) Arg(i int) Value {
	if vm.native.closure == nil || i < 0 || i > vm.native.nargs {
		return Null()
	}
	return vm.stack[vm.native.base+i]
}

// Args returns the arguments of the running native function without this.
func (vm *VM) Args() []Value {
	if vm.native.closure == nil {
		return nil
	}
	return vm.stack[vm.native.base+1 : vm.native.base+1+vm.native.nargs]
}

// Push leaves v on top of the stack, a native returning ResultValue returns
// the last value pushed.
func (vm *VM) Push(v Value) NativeResult {
	if err := vm.ensureStack(vm.top + 1); err != nil {
		return vm.Raise(err)
	}
	assign(&vm.stack[vm.top], v)
	vm.top++
	return ResultValue
}

// Outer returns the i'th value attached to the running native with
// WithOuters.
func (vm *VM) Outer(i int) Value {
	nc := vm.native.closure
	if nc == nil || i < 0 || i >= len(nc.outers) {
		return Null()
	}
	return nc.outers[i]
}

// Register adds a native function to the root table.
func (vm *VM) Register(name string, fn NativeFn, nparams int, masks []Type, defaults ...Value) {
	vm.root.NewSlot(name, NativeValue(NewNative(name, fn, nparams, masks, defaults...)))
}
