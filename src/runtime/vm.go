// Package runtime executes compiled prototypes. Values are reference counted
// and live on a single value stack shared by every call frame.
package runtime

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/semihM/exmat-sub000/src/bytecode"
	"github.com/semihM/exmat-sub000/src/conf"
	"github.com/semihM/exmat-sub000/src/parse"
)

type (
	// VM is the interpreter runtime that does everything in memory. It is not
	// safe for concurrent use.
	VM struct {
		ctx         context.Context
		cfg         conf.VMConfig
		stack       []Value
		top         int
		frames      []*callFrame
		depth       int
		openOuters  *Outer
		root        *Dict
		delegates   map[Type]*Dict
		literals    map[*parse.FnProto][]Value
		native      nativeCall
		nativeCalls int
		retval      Value
		lastErr     error
		fatal       error
		exit        *Interrupt
		parser      *parse.Parser
		Stdout      io.Writer
	}
	nativeCall struct {
		closure *NativeClosure
		base    int
		nargs   int
	}
)

var log = commonlog.GetLogger("exmat.runtime")

// New will create a new vm for evaluating. It will establish the initial stack
// and frames from the config and setup the root table with the native library.
// A nil config uses the defaults.
func New(ctx context.Context, cfg *conf.Config) *VM {
	if cfg == nil {
		cfg = conf.Default()
	}
	vm := &VM{
		ctx:       ctx,
		cfg:       cfg.VM,
		stack:     make([]Value, cfg.VM.InitialStackSize),
		frames:    make([]*callFrame, cfg.VM.InitialFrames),
		root:      NewDict(),
		literals:  map[*parse.FnProto][]Value{},
		parser:    parse.New(),
		Stdout:    os.Stdout,
		delegates: map[Type]*Dict{},
	}
	DictValue(vm.root).retain()
	registerStd(vm)
	registerDelegates(vm)
	log.Debugf("vm ready: stack %d/%d, max native calls %d", len(vm.stack), vm.cfg.MaxStackSize, vm.cfg.MaxNativeCalls)
	return vm
}

// Root is the root table, the this of the main chunk.
func (vm *VM) Root() *Dict { return vm.root }

// Top is the current top of the value stack.
func (vm *VM) Top() int { return vm.top }

// Depth is the number of active call frames.
func (vm *VM) Depth() int { return vm.depth }

// Parser is the parser used by compilestring and the repl. It keeps the
// constants defined so far.
func (vm *VM) Parser() *parse.Parser { return vm.parser }

// Load wraps a main prototype in a closure ready to be called. The closure
// holds a reference of its own so it can be called more than once.
func (vm *VM) Load(fn *parse.FnProto) Value {
	cl := ClosureValue(newClosure(fn))
	cl.retain()
	return cl
}

// Eval will take in the parsed fnproto returned from parse and evaluate it
// with the root table as this. args are collected into vargv.
func (vm *VM) Eval(fn *parse.FnProto, args ...Value) (Value, error) {
	log.Debugf("eval %s", fn.Filename)
	cl := vm.Load(fn)
	defer cl.release()
	return vm.Call(cl, DictValue(vm.root), args...)
}

// Call calls fn with this and args and waits for its result. Natives use it to
// reenter the interpreter. The result stays valid until the next call.
func (vm *VM) Call(fn Value, this Value, args ...Value) (Value, error) {
	return vm.execute(fn, this, args)
}

// Close releases everything the vm holds. The vm cannot be used afterwards.
func (vm *VM) Close() error {
	vm.closeOuters(0)
	vm.clearStack(0, len(vm.stack))
	vm.retval.release()
	vm.retval = Null()
	for _, lits := range vm.literals {
		for _, lit := range lits {
			lit.release()
		}
	}
	vm.literals = map[*parse.FnProto][]Value{}
	if vm.root != nil {
		DictValue(vm.root).release()
		vm.root = nil
	}
	for kind, delegate := range vm.delegates {
		DictValue(delegate).release()
		delete(vm.delegates, kind)
	}
	vm.fatal = fatalErr(fmt.Errorf("vm is closed"))
	return nil
}

func (vm *VM) execute(fn Value, this Value, args []Value) (Value, error) {
	if vm.fatal != nil {
		return Null(), vm.fatal
	}

	base, entry := vm.top, vm.depth
	if entry > 0 {
		if err := vm.enterNative(); err != nil {
			return Null(), err
		}
		defer func() { vm.nativeCalls-- }()
	}
	if err := vm.ensureStack(base + len(args) + 1); err != nil {
		return Null(), vm.unwind(entry, err)
	}
	assign(&vm.stack[base], this)
	for i, arg := range args {
		assign(&vm.stack[base+1+i], arg)
	}
	fn.retain()
	defer fn.release()
	assign(&vm.retval, Null())
	vm.top = base + len(args) + 1
	err := vm.callValue(fn, base, len(args), retTarget)
	if err == nil {
		err = vm.run(entry)
	}
	if err != nil {
		err = vm.unwind(entry, err)
		if entry == 0 {
			vm.exit = nil
		}
	}
	vm.closeOuters(base)
	vm.clearStack(base, vm.top)
	vm.top = base
	if err != nil {
		return Null(), err
	}
	return vm.retval, nil
}

func (vm *VM) run(entry int) error {
	for vm.depth > entry {
		if err := vm.ctx.Err(); err != nil {
			return err
		} else if vm.exit != nil {
			return vm.exit
		}
		f := vm.frames[vm.depth-1]
		instruction := f.code[f.ip]
		f.ip++
		if err := vm.step(f, instruction); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) reg(f *callFrame, idx int64) Value { return vm.stack[f.base+int(idx)] }

func (vm *VM) setReg(f *callFrame, idx int64, val Value) {
	assign(&vm.stack[f.base+int(idx)], val)
}

// step executes one instruction of f. Every failure is returned to run which
// leaves the unwinding to execute.
func (vm *VM) step(f *callFrame, instruction uint64) error {
	a := bytecode.GetA(instruction)
	switch op := bytecode.GetOp(instruction); op {
	case bytecode.LOAD, bytecode.LOADFLOAT, bytecode.LOADCOMPLEX:
		vm.setReg(f, a, f.literals[bytecode.GetBx(instruction)])
	case bytecode.LOADINT:
		vm.setReg(f, a, Int(bytecode.GetsBx(instruction)))
	case bytecode.LOADBOOL:
		vm.setReg(f, a, Bool(bytecode.GetB(instruction) != 0))
	case bytecode.LOADNULL:
		if bytecode.GetC(instruction) == 1 {
			vm.setReg(f, a, DefaultMarker())
			return nil
		}
		for i := range bytecode.GetB(instruction) {
			vm.setReg(f, a+i, Null())
		}
	case bytecode.LOADSPACE:
		vm.setReg(f, a, SpaceValue(NewSpace(f.proto.Spaces[bytecode.GetBx(instruction)])))
	case bytecode.LOADROOT:
		vm.setReg(f, a, DictValue(vm.root))
	case bytecode.MOVE:
		vm.setReg(f, a, vm.reg(f, bytecode.GetB(instruction)))
	case bytecode.DMOVE:
		vm.setReg(f, a, vm.reg(f, bytecode.GetB(instruction)))
		vm.setReg(f, bytecode.GetC(instruction), vm.reg(f, bytecode.GetD(instruction)))
	case bytecode.NEWOBJECT:
		return vm.newObject(f, a, instruction)
	case bytecode.APPENDTOARRAY:
		arr := vm.reg(f, a).Array()
		if arr == nil {
			return fmt.Errorf("cannot append to %s", vm.reg(f, a).TypeName())
		}
		arr.Append(vm.reg(f, bytecode.GetB(instruction)))
	case bytecode.GET:
		val, err := vm.get(vm.reg(f, bytecode.GetB(instruction)), vm.reg(f, bytecode.GetC(instruction)), bytecode.GetD(instruction) == 1)
		if err != nil {
			return err
		}
		vm.setReg(f, a, val)
	case bytecode.SET, bytecode.NEWSLOT:
		obj, key := vm.reg(f, bytecode.GetB(instruction)), vm.reg(f, bytecode.GetC(instruction))
		val := vm.reg(f, bytecode.GetD(instruction))
		var err error
		if op == bytecode.SET {
			err = vm.set(obj, key, val)
		} else {
			err = vm.newSlot(obj, key, val)
		}
		if err != nil {
			return err
		} else if a != bytecode.NoTarget {
			vm.setReg(f, a, val)
		}
	case bytecode.DELETE:
		val, err := vm.delete(vm.reg(f, bytecode.GetB(instruction)), vm.reg(f, bytecode.GetC(instruction)))
		if err != nil {
			return err
		}
		vm.setReg(f, a, val)
		val.release()
	case bytecode.GETOUTER:
		vm.setReg(f, a, f.closure.outers[bytecode.GetB(instruction)].Get())
	case bytecode.SETOUTER:
		val := vm.reg(f, bytecode.GetC(instruction))
		f.closure.outers[bytecode.GetB(instruction)].Set(val)
		if a != bytecode.NoTarget {
			vm.setReg(f, a, val)
		}
	case bytecode.GETBASE:
		if base := f.closure.base; base != nil {
			vm.setReg(f, a, ClassValue(base))
		} else {
			vm.setReg(f, a, Null())
		}
	case bytecode.ADD, bytecode.SUB, bytecode.MLT, bytecode.DIV, bytecode.MOD, bytecode.EXP,
		bytecode.MMLT, bytecode.CARTESIAN:
		val, err := vm.arith(op, vm.reg(f, bytecode.GetB(instruction)), vm.reg(f, bytecode.GetC(instruction)))
		if err != nil {
			return err
		}
		vm.setReg(f, a, val)
	case bytecode.BITW:
		val, err := bitwise(bytecode.GetD(instruction), vm.reg(f, bytecode.GetB(instruction)), vm.reg(f, bytecode.GetC(instruction)))
		if err != nil {
			return err
		}
		vm.setReg(f, a, val)
	case bytecode.TRANSPOSE:
		val, err := transpose(vm.reg(f, bytecode.GetB(instruction)))
		if err != nil {
			return err
		}
		vm.setReg(f, a, val)
	case bytecode.NEG:
		val, err := vm.negate(vm.reg(f, bytecode.GetB(instruction)))
		if err != nil {
			return err
		}
		vm.setReg(f, a, val)
	case bytecode.NOT:
		vm.setReg(f, a, Bool(!vm.reg(f, bytecode.GetB(instruction)).Truthy()))
	case bytecode.BNOT:
		src := vm.reg(f, bytecode.GetB(instruction))
		if src.Kind() != TypeInt {
			return fmt.Errorf("cannot perform '~' on %s", src.TypeName())
		}
		vm.setReg(f, a, Int(^src.n))
	case bytecode.EQ, bytecode.NE:
		eq := valuesEqual(vm.reg(f, bytecode.GetB(instruction)), vm.reg(f, bytecode.GetC(instruction)))
		vm.setReg(f, a, Bool(eq == (op == bytecode.EQ)))
	case bytecode.CMP:
		val, err := vm.compare(bytecode.GetD(instruction), vm.reg(f, bytecode.GetB(instruction)), vm.reg(f, bytecode.GetC(instruction)))
		if err != nil {
			return err
		}
		vm.setReg(f, a, Bool(val))
	case bytecode.EXISTS:
		found, err := vm.exists(vm.reg(f, bytecode.GetC(instruction)), vm.reg(f, bytecode.GetB(instruction)))
		if err != nil {
			return err
		}
		vm.setReg(f, a, Bool(found))
	case bytecode.INSTANCEOF:
		inst, cls := vm.reg(f, bytecode.GetB(instruction)), vm.reg(f, bytecode.GetC(instruction))
		if cls.Kind() != TypeClass {
			return fmt.Errorf("cannot apply instanceof between %s and %s", inst.TypeName(), cls.TypeName())
		}
		vm.setReg(f, a, Bool(inst.Kind() == TypeInstance && inst.Instance().class.IsSubclassOf(cls.Class())))
	case bytecode.TYPEOF:
		val, err := vm.typeOf(vm.reg(f, bytecode.GetB(instruction)))
		if err != nil {
			return err
		}
		vm.setReg(f, a, val)
	case bytecode.INC, bytecode.PINC:
		return vm.incMember(f, op, a, instruction)
	case bytecode.INCL, bytecode.PINCL:
		src := vm.reg(f, bytecode.GetB(instruction))
		val, err := vm.arith(bytecode.ADD, src, Int(bytecode.GetsD(instruction)))
		if err != nil {
			return err
		}
		if op == bytecode.PINCL {
			vm.setReg(f, a, src)
		} else {
			vm.setReg(f, a, val)
		}
		vm.setReg(f, bytecode.GetB(instruction), val)
	case bytecode.JMP:
		f.ip += int(bytecode.GetsBx(instruction))
	case bytecode.JZ:
		if !vm.reg(f, a).Truthy() {
			f.ip += int(bytecode.GetsBx(instruction))
		}
	case bytecode.AND, bytecode.OR:
		first := vm.reg(f, bytecode.GetB(instruction))
		if first.Truthy() == (op == bytecode.OR) {
			vm.setReg(f, a, first)
			f.ip += int(bytecode.GetsC(instruction))
		}
	case bytecode.CLOSURE:
		vm.setReg(f, a, ClosureValue(vm.newClosure(f, f.proto.FnTable[bytecode.GetBx(instruction)])))
	case bytecode.PREPCALL:
		obj, key := vm.reg(f, bytecode.GetC(instruction)), vm.reg(f, bytecode.GetB(instruction))
		fn, err := vm.get(obj, key, bytecode.GetC(instruction) == 0)
		if err != nil {
			return err
		}
		obj.retain()
		fn.retain()
		vm.setReg(f, bytecode.GetD(instruction), obj)
		vm.setReg(f, a, fn)
		obj.release()
		fn.release()
	case bytecode.CALL, bytecode.TAILCALL:
		fn := vm.reg(f, bytecode.GetB(instruction))
		base := f.base + int(bytecode.GetC(instruction))
		nargs := int(bytecode.GetD(instruction)) - 1
		target := noTarget
		if a != bytecode.NoTarget {
			target = f.base + int(a)
		}
		if op == bytecode.TAILCALL && fn.Kind() == TypeClosure && fn.Closure().proto.Kind != parse.KindSequence {
			return vm.tailCall(fn.Closure(), base, nargs)
		}
		return vm.callValue(fn, base, nargs, target)
	case bytecode.RETURN, bytecode.RETURNBOOL:
		res := Null()
		if a != bytecode.NoTarget {
			res = vm.reg(f, a)
		}
		if op == bytecode.RETURNBOOL {
			res = Bool(res.Truthy())
		}
		vm.ret(res)
	case bytecode.FOREACH:
		key, val, ok, err := vm.iterate(vm.reg(f, a), vm.reg(f, bytecode.GetB(instruction)+2).n)
		if err != nil {
			return err
		} else if !ok {
			f.ip += int(bytecode.GetsC(instruction))
			return nil
		}
		vm.setReg(f, bytecode.GetB(instruction), key)
		vm.setReg(f, bytecode.GetB(instruction)+1, val)
	case bytecode.POSTFOREACH:
		iter := bytecode.GetB(instruction) + 2
		vm.setReg(f, iter, Int(vm.reg(f, iter).n+1))
		f.ip += int(bytecode.GetsC(instruction))
	case bytecode.CLOSE:
		vm.closeOuters(f.base + int(bytecode.GetB(instruction)))
	default:
		panic("unknown opcode this should never happen")
	}
	return nil
}

func (vm *VM) newObject(f *callFrame, a int64, instruction uint64) error {
	switch bytecode.GetB(instruction) {
	case bytecode.ObjArray:
		arr := &Array{items: make([]Value, 0, bytecode.GetC(instruction))}
		vm.setReg(f, a, ArrayValue(arr))
	case bytecode.ObjDict:
		dict := &Dict{items: make(map[string]Value, bytecode.GetC(instruction))}
		vm.setReg(f, a, DictValue(dict))
	case bytecode.ObjClass:
		var base *Class
		if bytecode.GetD(instruction) == 1 {
			baseVal := vm.reg(f, bytecode.GetC(instruction))
			if base = baseVal.Class(); base == nil {
				return fmt.Errorf("class can only extend a class, found %s", baseVal.TypeName())
			}
		}
		vm.setReg(f, a, ClassValue(NewClass("", base)))
	default:
		return fmt.Errorf("unknown object kind %d", bytecode.GetB(instruction))
	}
	return nil
}

// newClosure resolves the outers of proto in the running frame and snapshots
// its default parameters.
func (vm *VM) newClosure(f *callFrame, proto *parse.FnProto) *Closure {
	cl := newClosure(proto)
	for _, desc := range proto.Outers {
		var outer *Outer
		if desc.FromStack {
			outer = vm.captureOuter(desc.Name, f.base+int(desc.Index))
		} else {
			outer = f.closure.outers[desc.Index]
		}
		objValue(TypeOuter, outer).retain()
		cl.outers = append(cl.outers, outer)
	}
	for _, slot := range proto.DefaultParams {
		def := vm.reg(f, int64(slot))
		def.retain()
		cl.defaults = append(cl.defaults, def)
	}
	return cl
}

func (vm *VM) incMember(f *callFrame, op bytecode.Op, a int64, instruction uint64) error {
	obj, key := vm.reg(f, bytecode.GetB(instruction)), vm.reg(f, bytecode.GetC(instruction))
	old, err := vm.get(obj, key, false)
	if err != nil {
		return err
	}
	old.retain()
	defer old.release()
	val, err := vm.arith(bytecode.ADD, old, Int(bytecode.GetsD(instruction)))
	if err != nil {
		return err
	} else if err := vm.set(obj, key, val); err != nil {
		return err
	}
	if op == bytecode.PINC {
		vm.setReg(f, a, old)
	} else {
		vm.setReg(f, a, val)
	}
	return nil
}

func (vm *VM) literalsOf(proto *parse.FnProto) []Value {
	if lits, ok := vm.literals[proto]; ok {
		return lits
	}
	lits := make([]Value, len(proto.Literals))
	for i, lit := range proto.Literals {
		lits[i] = literalValue(lit)
	}
	vm.literals[proto] = lits
	return lits
}

// ensureStack grows the stack so that index size-1 is addressable.
func (vm *VM) ensureStack(size int) error {
	if size <= len(vm.stack) {
		return nil
	} else if size > vm.cfg.MaxStackSize {
		return vm.setFatal(fmt.Errorf("stack overflow, %d slots exceeds the limit of %d", size, vm.cfg.MaxStackSize))
	}
	newSize := min(max(len(vm.stack)*2, size), vm.cfg.MaxStackSize)
	newStack := make([]Value, newSize)
	copy(newStack, vm.stack)
	vm.stack = newStack
	return nil
}

// clearStack releases the slots in [from, to).
func (vm *VM) clearStack(from, to int) {
	to = min(to, len(vm.stack))
	for i := from; i < to; i++ {
		val := vm.stack[i]
		vm.stack[i] = Value{}
		val.release()
	}
}

func (vm *VM) writeResult(target int, val Value) {
	switch {
	case target == retTarget:
		assign(&vm.retval, val)
	case target >= 0:
		assign(&vm.stack[target], val)
	}
}

// enterNative counts a reentry of the interpreter from host code, a native
// or a metamethod, while frames are still active.
func (vm *VM) enterNative() error {
	if vm.nativeCalls+1 > vm.cfg.MaxNativeCalls {
		return vm.setFatal(fmt.Errorf("native stack overflow, more than %d nested calls", vm.cfg.MaxNativeCalls))
	}
	vm.nativeCalls++
	return nil
}
