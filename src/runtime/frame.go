package runtime

import "github.com/semihM/exmat-sub000/src/parse"

const (
	// retTarget writes a frame result into vm.retval.
	retTarget = -1
	// noTarget drops a frame result.
	noTarget = -2
)

// callFrame is one activation of a closure. base is the stack index of this,
// parameters and locals follow it up to top.
type callFrame struct {
	closure    *Closure
	proto      *parse.FnProto
	literals   []Value
	code       []uint64
	ip         int
	base       int
	top        int
	prevTop    int
	target     int
	returnThis bool
	memoize    bool
	seqKey     float64
}

// pushFrame activates cl at base. Frames are reused between calls so their
// pointers stay valid while the frame is active.
func (vm *VM) pushFrame(cl *Closure, base, target int) (*callFrame, error) {
	top := base + cl.proto.StackSize
	if err := vm.ensureStack(top + 1); err != nil {
		return nil, err
	}
	if vm.depth == len(vm.frames) {
		grown := make([]*callFrame, max(len(vm.frames)*2, 8))
		copy(grown, vm.frames)
		vm.frames = grown
	}
	f := vm.frames[vm.depth]
	if f == nil {
		f = &callFrame{}
		vm.frames[vm.depth] = f
	}
	ClosureValue(cl).retain()
	*f = callFrame{
		closure:    cl,
		proto:      cl.proto,
		literals:   vm.literalsOf(cl.proto),
		code:       cl.proto.ByteCodes,
		base:       base,
		top:        top,
		prevTop:    vm.top,
		target:     target,
		returnThis: cl.proto.Kind == parse.KindConstructor,
	}
	vm.depth++
	vm.top = top
	return f, nil
}

// popFrame deactivates the innermost frame and restores the top it was
// called with. The caller is responsible for its slots and outers.
func (vm *VM) popFrame() {
	vm.depth--
	f := vm.frames[vm.depth]
	cl := f.closure
	vm.top = f.prevTop
	*f = callFrame{}
	ClosureValue(cl).release()
}

func (vm *VM) currentFrame() *callFrame {
	if vm.depth == 0 {
		return nil
	}
	return vm.frames[vm.depth-1]
}
