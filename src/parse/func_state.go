package parse

import (
	"fmt"

	"github.com/semihM/exmat-sub000/src/bytecode"
	"github.com/semihM/exmat-sub000/src/conf"
)

type (
	// local is one slot of the virtual stack. Temporaries have no name.
	local struct {
		name     string
		captured bool
		startPC  int
	}
	// loopState records where a loop starts so that break and continue only
	// resolve the jumps of the innermost loop.
	loopState struct {
		nbreaks    int
		ncontinues int
		stackSize  int
	}
	// scope is the snapshot taken when a block is entered.
	scope struct {
		stackSize int
		captured  int
	}
	// funcState is the compile time state of the function being emitted.
	// Nested callables push a child state and pop back when finished.
	funcState struct {
		parent    *funcState
		fn        *FnProto
		vlocals   []*local
		targets   []int
		captured  int
		breaks    []int
		continues []int
		loops     []loopState
		literals  map[any]int
	}
)

func newFuncState(parent *funcState, fn *FnProto) *funcState {
	return &funcState{
		parent:   parent,
		fn:       fn,
		literals: map[any]int{},
	}
}

func (fs *funcState) pc() int { return len(fs.fn.ByteCodes) }

func (fs *funcState) code(inst uint64, linfo LineInfo) int {
	fs.fn.ByteCodes = append(fs.fn.ByteCodes, inst)
	fs.fn.LineTrace = append(fs.fn.LineTrace, linfo)
	return len(fs.fn.ByteCodes) - 1
}

func (fs *funcState) lastOp() (bytecode.Op, uint64, bool) {
	if len(fs.fn.ByteCodes) == 0 {
		return 0, 0, false
	}
	inst := fs.fn.ByteCodes[len(fs.fn.ByteCodes)-1]
	return bytecode.GetOp(inst), inst, true
}

// patchJump points the sBx jump at pos to the instruction at dst.
func (fs *funcState) patchJump(pos, dst int) {
	fs.fn.ByteCodes[pos] = bytecode.SetsBx(fs.fn.ByteCodes[pos], int32(dst-pos-1))
}

// patchShortJump points the signed C jump at pos to the instruction at dst.
func (fs *funcState) patchShortJump(pos, dst int) error {
	offset := dst - pos - 1
	if offset > conf.MAXJUMP || offset < -conf.MAXJUMP {
		return fmt.Errorf("jump of %d instructions is too long", offset)
	}
	fs.fn.ByteCodes[pos] = bytecode.SetsC(fs.fn.ByteCodes[pos], int16(offset))
	return nil
}

func (fs *funcState) addLiteral(val any) (uint32, error) {
	if idx, found := fs.literals[val]; found {
		return uint32(idx), nil
	}
	if len(fs.fn.Literals) >= conf.MAXLITERALS {
		return 0, fmt.Errorf("literal overflow while adding %v", val)
	}
	fs.fn.Literals = append(fs.fn.Literals, val)
	fs.literals[val] = len(fs.fn.Literals) - 1
	return uint32(len(fs.fn.Literals) - 1), nil
}

func (fs *funcState) addFn(fn *FnProto) uint32 {
	fs.fn.FnTable = append(fs.fn.FnTable, fn)
	return uint32(len(fs.fn.FnTable) - 1)
}

func (fs *funcState) stackSize() int { return len(fs.vlocals) }

func (fs *funcState) allocStackPos() (int, error) {
	npos := len(fs.vlocals)
	if npos >= conf.MAXLOCALS {
		return 0, fmt.Errorf("too many locals or temporaries in %v", fs.fn.Name)
	}
	fs.vlocals = append(fs.vlocals, &local{})
	if len(fs.vlocals) > fs.fn.StackSize {
		fs.fn.StackSize = len(fs.vlocals)
	}
	return npos, nil
}

// pushTarget pushes a fresh temporary on the target stack.
func (fs *funcState) pushTarget() (int, error) {
	npos, err := fs.allocStackPos()
	if err != nil {
		return 0, err
	}
	fs.targets = append(fs.targets, npos)
	return npos, nil
}

// pushTargetAt pushes an existing slot, usually a local, as a target.
func (fs *funcState) pushTargetAt(pos int) int {
	fs.targets = append(fs.targets, pos)
	return pos
}

// popTarget pops the top target freeing its slot if it was a temporary.
func (fs *funcState) popTarget() int {
	npos := fs.targets[len(fs.targets)-1]
	if npos == len(fs.vlocals)-1 && fs.vlocals[npos].name == "" {
		fs.vlocals = fs.vlocals[:npos]
	}
	fs.targets = fs.targets[:len(fs.targets)-1]
	return npos
}

func (fs *funcState) topTarget() int { return fs.targets[len(fs.targets)-1] }

// isLocalTarget is true if the top target is a named local and not a temporary.
func (fs *funcState) isLocalTarget() bool {
	top := fs.topTarget()
	return top < len(fs.vlocals) && fs.vlocals[top].name != ""
}

func (fs *funcState) pushLocal(name string) (int, error) {
	pos := len(fs.vlocals)
	if pos >= conf.MAXLOCALS {
		return 0, fmt.Errorf("too many locals in %v while adding %v", fs.fn.Name, name)
	}
	fs.vlocals = append(fs.vlocals, &local{name: name, startPC: fs.pc()})
	if len(fs.vlocals) > fs.fn.StackSize {
		fs.fn.StackSize = len(fs.vlocals)
	}
	return pos, nil
}

func (fs *funcState) findLocal(name string) int {
	for i := len(fs.vlocals) - 1; i >= 0; i-- {
		if fs.vlocals[i].name == name {
			return i
		}
	}
	return -1
}

// findOuter resolves a free variable through the enclosing function states,
// marking the enclosing local as captured so that its scope emits CLOSE.
func (fs *funcState) findOuter(name string) (int, error) {
	for i, outer := range fs.fn.Outers {
		if outer.Name == name {
			return i, nil
		}
	}
	if fs.parent == nil {
		return -1, nil
	}
	if pos := fs.parent.findLocal(name); pos >= 0 {
		if lcl := fs.parent.vlocals[pos]; !lcl.captured {
			lcl.captured = true
			fs.parent.captured++
		}
		return fs.addOuter(name, true, pos)
	}
	idx, err := fs.parent.findOuter(name)
	if err != nil || idx < 0 {
		return idx, err
	}
	return fs.addOuter(name, false, idx)
}

func (fs *funcState) addOuter(name string, fromStack bool, index int) (int, error) {
	if len(fs.fn.Outers) >= conf.MAXOUTERS {
		return 0, fmt.Errorf("outer overflow while adding %v", name)
	}
	fs.fn.Outers = append(fs.fn.Outers, OuterDesc{Name: name, FromStack: fromStack, Index: uint16(index)})
	return len(fs.fn.Outers) - 1, nil
}

// capturedAbove counts the captured locals at or above slot n.
func (fs *funcState) capturedAbove(n int) int {
	count := 0
	for i := n; i < len(fs.vlocals); i++ {
		if fs.vlocals[i].captured {
			count++
		}
	}
	return count
}

// setStackSize truncates the virtual stack to n, closing the debug ranges of
// the named locals that go out of scope.
func (fs *funcState) setStackSize(n int) {
	for len(fs.vlocals) > n {
		lcl := fs.vlocals[len(fs.vlocals)-1]
		if lcl.name != "" {
			if lcl.captured {
				fs.captured--
			}
			fs.fn.Locals = append(fs.fn.Locals, LocalInfo{
				Name:    lcl.name,
				Slot:    len(fs.vlocals) - 1,
				StartPC: lcl.startPC,
				EndPC:   fs.pc(),
			})
		}
		fs.vlocals = fs.vlocals[:len(fs.vlocals)-1]
	}
}

func (fs *funcState) beginScope() scope {
	return scope{stackSize: fs.stackSize(), captured: fs.captured}
}

// endScope truncates the locals of the block and reports if a CLOSE is needed.
func (fs *funcState) endScope(sc scope) bool {
	if fs.stackSize() == sc.stackSize {
		return false
	}
	before := fs.captured
	fs.setStackSize(sc.stackSize)
	return before != fs.captured
}

func (fs *funcState) beginLoop() {
	fs.loops = append(fs.loops, loopState{
		nbreaks:    len(fs.breaks),
		ncontinues: len(fs.continues),
		stackSize:  fs.stackSize(),
	})
}

func (fs *funcState) inLoop() bool { return len(fs.loops) > 0 }

func (fs *funcState) currentLoop() loopState { return fs.loops[len(fs.loops)-1] }

// endLoop patches the jumps of the innermost loop.
func (fs *funcState) endLoop(continueTarget, breakTarget int) {
	loop := fs.currentLoop()
	for _, pos := range fs.continues[loop.ncontinues:] {
		fs.patchJump(pos, continueTarget)
	}
	for _, pos := range fs.breaks[loop.nbreaks:] {
		fs.patchJump(pos, breakTarget)
	}
	fs.continues = fs.continues[:loop.ncontinues]
	fs.breaks = fs.breaks[:loop.nbreaks]
	fs.loops = fs.loops[:len(fs.loops)-1]
}
