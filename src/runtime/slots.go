package runtime

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// metamethod finds a callable member of an instance's class.
func (vm *VM) metamethod(obj Value, name string) (Value, bool) {
	inst := obj.Instance()
	if inst == nil || name == "" {
		return Null(), false
	}
	method, ok := inst.class.Lookup(name)
	if !ok || !method.Is(TypeCallable) {
		return Null(), false
	}
	return method, true
}

func (vm *VM) callMeta(method, this Value, args ...Value) (Value, error) {
	return vm.Call(method, this, args...)
}

// get reads obj[key]. The lookup falls back from the raw value to the _get
// metamethod, then to the delegate of the type and finally, for identifiers
// that are not locals, to the root table.
func (vm *VM) get(obj, key Value, root bool) (Value, error) {
	if val, ok := rawGet(obj, key); ok {
		return val, nil
	} else if method, ok := vm.metamethod(obj, "_get"); ok {
		return vm.callMeta(method, obj, key)
	} else if delegate, ok := vm.delegates[obj.Kind()]; ok && key.Kind() == TypeString {
		if val, ok := delegate.Get(key.s); ok {
			return val, nil
		}
	}
	if root && key.Kind() == TypeString {
		if val, ok := vm.root.Get(key.s); ok {
			return val, nil
		}
	}
	return Null(), fmt.Errorf("the index '%v' does not exist", key)
}

func rawGet(obj, key Value) (Value, bool) {
	switch obj.Kind() {
	case TypeDict:
		if key.Kind() == TypeString {
			return obj.Dict().Get(key.s)
		}
	case TypeArray:
		if idx, ok := intKey(key); ok {
			return obj.Array().Get(idx)
		}
	case TypeString:
		if idx, ok := intKey(key); ok {
			runes := []rune(obj.s)
			if idx < 0 {
				idx += int64(len(runes))
			}
			if idx >= 0 && idx < int64(len(runes)) {
				return String(string(runes[idx])), true
			}
		}
	case TypeInstance:
		if key.Kind() == TypeString {
			inst := obj.Instance()
			if val, ok := inst.fields.Get(key.s); ok {
				return val, true
			}
			return inst.class.Lookup(key.s)
		}
	case TypeClass:
		if key.Kind() == TypeString {
			return obj.Class().Lookup(key.s)
		}
	}
	return Null(), false
}

func intKey(key Value) (int64, bool) {
	switch key.Kind() {
	case TypeInt:
		return key.n, true
	case TypeFloat:
		if isIntegral(key) {
			return int64(key.f), true
		}
	}
	return 0, false
}

// set overwrites an existing obj[key]. Missing keys are an error, NEWSLOT
// creates them.
func (vm *VM) set(obj, key, val Value) error {
	switch obj.Kind() {
	case TypeDict:
		if key.Kind() == TypeString && obj.Dict().Set(key.s, val) {
			return nil
		}
	case TypeArray:
		arr := obj.Array()
		if idx, ok := intKey(key); ok {
			if !arr.Set(idx, val) {
				return fmt.Errorf("index %d out of range for array of length %d", idx, arr.Len())
			}
			return nil
		}
	case TypeInstance:
		if key.Kind() == TypeString && obj.Instance().fields.Set(key.s, val) {
			return nil
		} else if method, ok := vm.metamethod(obj, "_set"); ok {
			_, err := vm.callMeta(method, obj, key, val)
			return err
		}
	case TypeClass:
		if key.Kind() == TypeString && obj.Class().members.Set(key.s, val) {
			return nil
		}
	default:
		return fmt.Errorf("cannot set index '%v' of %s", key, obj.TypeName())
	}
	return fmt.Errorf("the index '%v' does not exist", key)
}

// newSlot creates or overwrites obj[key].
func (vm *VM) newSlot(obj, key, val Value) error {
	if cls := val.Class(); cls != nil && cls.name == "" && key.Kind() == TypeString {
		cls.name = key.s
	}
	switch obj.Kind() {
	case TypeDict:
		if key.Kind() != TypeString {
			return fmt.Errorf("dictionary keys must be strings, found %s", key.TypeName())
		}
		obj.Dict().NewSlot(key.s, val)
	case TypeClass:
		if key.Kind() != TypeString {
			return fmt.Errorf("class members must be named by strings, found %s", key.TypeName())
		}
		cls := obj.Class()
		if cl := val.Closure(); cl != nil {
			cl.setBase(cls.base)
		}
		cls.members.NewSlot(key.s, val)
	case TypeInstance:
		if key.Kind() != TypeString {
			return fmt.Errorf("instance fields must be named by strings, found %s", key.TypeName())
		}
		inst := obj.Instance()
		if inst.fields.Set(key.s, val) {
			return nil
		} else if method, ok := vm.metamethod(obj, "_newslot"); ok {
			_, err := vm.callMeta(method, obj, key, val)
			return err
		}
		inst.fields.NewSlot(key.s, val)
	case TypeArray:
		arr := obj.Array()
		idx, ok := intKey(key)
		if !ok {
			return fmt.Errorf("array index must be an integer, found %s", key.TypeName())
		} else if idx == int64(arr.Len()) {
			arr.Append(val)
		} else if !arr.Set(idx, val) {
			return fmt.Errorf("index %d out of range for array of length %d", idx, arr.Len())
		}
	default:
		return fmt.Errorf("cannot create index '%v' of %s", key, obj.TypeName())
	}
	return nil
}

// delete removes obj[key]. The reference the container held is handed to the
// caller.
func (vm *VM) delete(obj, key Value) (Value, error) {
	var val Value
	var ok bool
	switch obj.Kind() {
	case TypeDict:
		if key.Kind() == TypeString {
			val, ok = obj.Dict().Delete(key.s)
		}
	case TypeArray:
		if idx, isInt := intKey(key); isInt {
			val, ok = obj.Array().Remove(idx)
		}
	case TypeInstance:
		if method, found := vm.metamethod(obj, "_delslot"); found {
			res, err := vm.callMeta(method, obj, key)
			res.retain()
			return res, err
		} else if key.Kind() == TypeString {
			val, ok = obj.Instance().fields.Delete(key.s)
		}
	case TypeClass:
		if key.Kind() == TypeString {
			val, ok = obj.Class().members.Delete(key.s)
		}
	default:
		return Null(), fmt.Errorf("cannot delete index '%v' of %s", key, obj.TypeName())
	}
	if !ok {
		return Null(), fmt.Errorf("the index '%v' does not exist", key)
	}
	return val, nil
}

// exists is the in operator: membership for arrays, keys for tables and
// classes, substrings for strings and domains for spaces.
func (vm *VM) exists(container, key Value) (bool, error) {
	switch container.Kind() {
	case TypeArray:
		for _, item := range container.Array().items {
			if valuesEqual(item, key) {
				return true, nil
			}
		}
		return false, nil
	case TypeDict:
		if key.Kind() != TypeString {
			return false, nil
		}
		_, ok := container.Dict().Get(key.s)
		return ok, nil
	case TypeString:
		if key.Kind() != TypeString {
			return false, fmt.Errorf("cannot search for %s in a string", key.TypeName())
		}
		return strings.Contains(container.s, key.s), nil
	case TypeInstance, TypeClass:
		_, ok := rawGet(container, key)
		return ok, nil
	case TypeSpace:
		return container.Space().Contains(key), nil
	default:
		return false, fmt.Errorf("cannot use 'in' on %s", container.TypeName())
	}
}

// iterate returns the key and value at position iter of container and false
// once iteration is done.
func (vm *VM) iterate(container Value, iter int64) (Value, Value, bool, error) {
	fromDict := func(dict *Dict) (Value, Value, bool, error) {
		if iter >= int64(len(dict.keys)) {
			return Null(), Null(), false, nil
		}
		key := dict.keys[iter]
		return String(key), dict.items[key], true, nil
	}
	switch container.Kind() {
	case TypeArray:
		arr := container.Array()
		if iter >= int64(len(arr.items)) {
			return Null(), Null(), false, nil
		}
		return Int(iter), arr.items[iter], true, nil
	case TypeDict:
		return fromDict(container.Dict())
	case TypeString:
		if iter >= int64(utf8.RuneCountInString(container.s)) {
			return Null(), Null(), false, nil
		}
		return Int(iter), String(string([]rune(container.s)[iter])), true, nil
	case TypeInstance:
		return fromDict(&container.Instance().fields)
	case TypeClass:
		return fromDict(&container.Class().members)
	default:
		return Null(), Null(), false, fmt.Errorf("cannot iterate %s", container.TypeName())
	}
}

func (vm *VM) typeOf(v Value) (Value, error) {
	if method, ok := vm.metamethod(v, "_typeof"); ok {
		return vm.callMeta(method, v)
	}
	return String(v.TypeName()), nil
}
