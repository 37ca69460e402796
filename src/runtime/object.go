package runtime

import (
	"slices"
	"strings"
)

type (
	// heapObject is a payload shared between values. finalize is called once
	// when the count drops to zero and releases every child it holds.
	heapObject interface {
		counter() *refCount
		finalize()
	}
	refCount struct {
		count int
	}
	// Array is an ordered list of values.
	Array struct {
		refCount
		items []Value
	}
	// Dict is a string keyed table. Keys iterate in insertion order so that
	// foreach and printing are deterministic.
	Dict struct {
		refCount
		items map[string]Value
		keys  []string
	}
	// Class holds the members shared by its instances. Closures stored in it
	// are methods, everything else is copied into new instances as a field.
	Class struct {
		refCount
		name    string
		base    *Class
		members Dict
	}
	// Instance is an object created by calling a class.
	Instance struct {
		refCount
		class  *Class
		fields Dict
	}
	// WeakRef points at a payload without holding a count on it.
	WeakRef struct {
		refCount
		kind   Type
		target heapObject
	}
)

func (rc *refCount) counter() *refCount { return rc }

// NewArray creates an array holding items.
func NewArray(items ...Value) *Array {
	arr := &Array{items: make([]Value, 0, len(items))}
	for _, item := range items {
		arr.Append(item)
	}
	return arr
}

// Len is the number of elements.
func (arr *Array) Len() int { return len(arr.items) }

// Items returns the elements, the slice must not be modified.
func (arr *Array) Items() []Value { return arr.items }

// Append adds v to the end of the array.
func (arr *Array) Append(v Value) {
	v.retain()
	arr.items = append(arr.items, v)
}

func (arr *Array) index(i int64) (int, bool) {
	if i < 0 {
		i += int64(len(arr.items))
	}
	return int(i), i >= 0 && i < int64(len(arr.items))
}

// Get returns the element at i, negative indexes count from the end.
func (arr *Array) Get(i int64) (Value, bool) {
	idx, ok := arr.index(i)
	if !ok {
		return Null(), false
	}
	return arr.items[idx], true
}

// Set replaces the element at i.
func (arr *Array) Set(i int64, v Value) bool {
	idx, ok := arr.index(i)
	if ok {
		assign(&arr.items[idx], v)
	}
	return ok
}

// Remove takes the element at i out of the array. The reference the array
// held is handed to the caller.
func (arr *Array) Remove(i int64) (Value, bool) {
	idx, ok := arr.index(i)
	if !ok {
		return Null(), false
	}
	val := arr.items[idx]
	arr.items = slices.Delete(arr.items, idx, idx+1)
	return val, true
}

func (arr *Array) finalize() {
	items := arr.items
	arr.items = nil
	for _, item := range items {
		item.release()
	}
}

// NewDict creates an empty dictionary.
func NewDict() *Dict { return &Dict{items: map[string]Value{}} }

// Len is the number of keys.
func (dict *Dict) Len() int { return len(dict.keys) }

// Keys returns the keys in insertion order, the slice must not be modified.
func (dict *Dict) Keys() []string { return dict.keys }

// Get looks up key.
func (dict *Dict) Get(key string) (Value, bool) {
	val, ok := dict.items[key]
	return val, ok
}

// Set overwrites an existing key and reports if it existed.
func (dict *Dict) Set(key string, v Value) bool {
	old, ok := dict.items[key]
	if ok {
		assign(&old, v)
		dict.items[key] = old
	}
	return ok
}

// NewSlot creates or overwrites key.
func (dict *Dict) NewSlot(key string, v Value) {
	if dict.Set(key, v) {
		return
	}
	if dict.items == nil {
		dict.items = map[string]Value{}
	}
	v.retain()
	dict.items[key] = v
	dict.keys = append(dict.keys, key)
}

// Delete takes key out of the dictionary handing its reference to the caller.
func (dict *Dict) Delete(key string) (Value, bool) {
	val, ok := dict.items[key]
	if !ok {
		return Null(), false
	}
	delete(dict.items, key)
	dict.keys = slices.DeleteFunc(dict.keys, func(k string) bool { return k == key })
	return val, true
}

func (dict *Dict) finalize() {
	items := dict.items
	dict.items, dict.keys = map[string]Value{}, nil
	for _, item := range items {
		item.release()
	}
}

func (dict *Dict) format(depth int) string {
	parts := make([]string, len(dict.keys))
	for i, key := range dict.keys {
		parts[i] = key + " = " + toString(dict.items[key], true, depth+1)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// NewClass creates a class, base may be nil.
func NewClass(name string, base *Class) *Class {
	cls := &Class{name: name, base: base, members: Dict{items: map[string]Value{}}}
	if base != nil {
		ClassValue(base).retain()
	}
	return cls
}

// Name is the name the class was declared with.
func (cls *Class) Name() string { return cls.name }

// Base is the class this class extends, or nil.
func (cls *Class) Base() *Class { return cls.base }

// Lookup finds a member through the base chain.
func (cls *Class) Lookup(key string) (Value, bool) {
	for c := cls; c != nil; c = c.base {
		if val, ok := c.members.Get(key); ok {
			return val, true
		}
	}
	return Null(), false
}

// IsSubclassOf reports if cls is other or extends it.
func (cls *Class) IsSubclassOf(other *Class) bool {
	for c := cls; c != nil; c = c.base {
		if c == other {
			return true
		}
	}
	return false
}

func (cls *Class) finalize() {
	cls.members.finalize()
	if base := cls.base; base != nil {
		cls.base = nil
		ClassValue(base).release()
	}
}

// NewInstance creates an instance of cls with the fields of the class chain,
// base class fields first so that derived classes override them.
func NewInstance(cls *Class) *Instance {
	ClassValue(cls).retain()
	inst := &Instance{class: cls, fields: Dict{items: map[string]Value{}}}
	chain := []*Class{}
	for c := cls; c != nil; c = c.base {
		chain = append(chain, c)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for _, key := range chain[i].members.keys {
			if val := chain[i].members.items[key]; !val.Is(TypeCallable) {
				inst.fields.NewSlot(key, val)
			}
		}
	}
	return inst
}

// Class is the class the instance was created from.
func (inst *Instance) Class() *Class { return inst.class }

func (inst *Instance) finalize() {
	inst.fields.finalize()
	if cls := inst.class; cls != nil {
		inst.class = nil
		ClassValue(cls).release()
	}
}

// NewWeakRef creates a weak reference to the payload of v.
func NewWeakRef(v Value) *WeakRef {
	return &WeakRef{kind: v.Kind(), target: v.obj}
}

// Get returns the target while it is still held somewhere, null otherwise.
func (wr *WeakRef) Get() Value {
	if wr.target == nil || wr.target.counter().count == 0 {
		return Null()
	}
	return objValue(wr.kind, wr.target)
}

func (wr *WeakRef) finalize() { wr.target = nil }
