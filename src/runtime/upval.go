package runtime

import "fmt"

// Outer is a captured variable. While open it refers to a live stack slot by
// index so that the stack can be reallocated, once closed it owns the value.
// Open outers are linked from the vm in descending index order and the chain
// holds one reference to each of them.
type Outer struct {
	refCount
	name  string
	index int
	open  bool
	value Value
	next  *Outer
	vm    *VM
}

func (o *Outer) String() string {
	return fmt.Sprintf("<-id: %v name: %v open: %v->", o.index, o.name, o.open)
}

// Get reads the captured value.
func (o *Outer) Get() Value {
	if o.open {
		return o.vm.stack[o.index]
	}
	return o.value
}

// Set writes the captured value.
func (o *Outer) Set(val Value) {
	if o.open {
		assign(&o.vm.stack[o.index], val)
		return
	}
	assign(&o.value, val)
}

func (o *Outer) close() {
	if !o.open {
		return
	}
	assign(&o.value, o.vm.stack[o.index])
	o.open = false
}

func (o *Outer) finalize() {
	o.open = false
	val := o.value
	o.value = Null()
	val.release()
}

// captureOuter returns the open outer of the stack slot at index, creating
// and linking one in order if there is none.
func (vm *VM) captureOuter(name string, index int) *Outer {
	prev := (*Outer)(nil)
	cur := vm.openOuters
	for cur != nil && cur.index > index {
		prev, cur = cur, cur.next
	}
	if cur != nil && cur.index == index {
		return cur
	}
	outer := &Outer{name: name, index: index, open: true, next: cur, vm: vm}
	objValue(TypeOuter, outer).retain()
	if prev == nil {
		vm.openOuters = outer
	} else {
		prev.next = outer
	}
	return outer
}

// closeOuters closes every open outer at or above cutoff in one pass.
func (vm *VM) closeOuters(cutoff int) {
	for vm.openOuters != nil && vm.openOuters.index >= cutoff {
		outer := vm.openOuters
		vm.openOuters = outer.next
		outer.next = nil
		outer.close()
		objValue(TypeOuter, outer).release()
	}
}
