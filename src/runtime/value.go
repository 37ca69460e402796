package runtime

import (
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
	"strings"
)

type (
	// Type is the tag of a value. Tags are single bits so that native
	// parameter checks can accept a set of them as a mask.
	Type uint32
	// Value is the tagged union the vm works with. Scalars and strings are
	// held inline, every other kind points to a reference counted payload.
	// Copying a Value does not change the count, storing it into a container
	// does (see assign).
	Value struct {
		kind Type
		n    int64
		f    float64
		c    complex128
		s    string
		obj  heapObject
	}
)

const (
	// TypeNull is the null value.
	TypeNull Type = 1 << iota
	// TypeBool is true or false.
	TypeBool
	// TypeInt is a 64 bit integer.
	TypeInt
	// TypeFloat is a 64 bit float.
	TypeFloat
	// TypeComplex is a complex128.
	TypeComplex
	// TypeString is an immutable string.
	TypeString
	// TypeArray is an ordered list of values.
	TypeArray
	// TypeDict is a string keyed dictionary.
	TypeDict
	// TypeClosure is a compiled callable with its captures.
	TypeClosure
	// TypeNativeClosure is a host function.
	TypeNativeClosure
	// TypeClass is a class.
	TypeClass
	// TypeInstance is an instance of a class.
	TypeInstance
	// TypeOuter is a captured variable.
	TypeOuter
	// TypeWeakRef is a reference that does not keep its target alive.
	TypeWeakRef
	// TypeSpace is a domain and dimension constraint like @R^3.
	TypeSpace
	// TypeDefault is the marker passed to ask for a parameter's default value.
	TypeDefault

	// TypeNumber matches ints and floats.
	TypeNumber = TypeInt | TypeFloat
	// TypeNumeric matches anything arithmetic works on without metamethods.
	TypeNumeric = TypeNumber | TypeComplex | TypeBool
	// TypeCallable matches every value that can be called directly.
	TypeCallable = TypeClosure | TypeNativeClosure | TypeClass
)

var typeNames = map[Type]string{
	TypeNull:          "null",
	TypeBool:          "bool",
	TypeInt:           "int",
	TypeFloat:         "float",
	TypeComplex:       "complex",
	TypeString:        "string",
	TypeArray:         "array",
	TypeDict:          "dict",
	TypeClosure:       "closure",
	TypeNativeClosure: "nativeclosure",
	TypeClass:         "class",
	TypeInstance:      "instance",
	TypeOuter:         "outer",
	TypeWeakRef:       "weakref",
	TypeSpace:         "space",
	TypeDefault:       "default",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	names := []string{}
	for bit := TypeNull; bit <= TypeDefault; bit <<= 1 {
		if t&bit != 0 {
			names = append(names, typeNames[bit])
		}
	}
	return strings.Join(names, "|")
}

// Null returns the null value, the zero Value is null as well.
func Null() Value { return Value{kind: TypeNull} }

// Bool wraps a bool.
func Bool(b bool) Value {
	if b {
		return Value{kind: TypeBool, n: 1}
	}
	return Value{kind: TypeBool}
}

// Int wraps an int64.
func Int(i int64) Value { return Value{kind: TypeInt, n: i} }

// Float wraps a float64.
func Float(f float64) Value { return Value{kind: TypeFloat, f: f} }

// Complex wraps a complex128.
func Complex(c complex128) Value { return Value{kind: TypeComplex, c: c} }

// String wraps a string.
func String(s string) Value { return Value{kind: TypeString, s: s} }

// DefaultMarker is the value of the default keyword.
func DefaultMarker() Value { return Value{kind: TypeDefault} }

func objValue(kind Type, obj heapObject) Value { return Value{kind: kind, obj: obj} }

// ArrayValue wraps an array.
func ArrayValue(arr *Array) Value { return objValue(TypeArray, arr) }

// DictValue wraps a dictionary.
func DictValue(dict *Dict) Value { return objValue(TypeDict, dict) }

// ClassValue wraps a class.
func ClassValue(cls *Class) Value { return objValue(TypeClass, cls) }

// InstanceValue wraps an instance.
func InstanceValue(inst *Instance) Value { return objValue(TypeInstance, inst) }

// ClosureValue wraps a closure.
func ClosureValue(cl *Closure) Value { return objValue(TypeClosure, cl) }

// NativeValue wraps a native closure.
func NativeValue(nc *NativeClosure) Value { return objValue(TypeNativeClosure, nc) }

// SpaceValue wraps a space.
func SpaceValue(sp *Space) Value { return objValue(TypeSpace, sp) }

// Kind is the tag of the value.
func (v Value) Kind() Type {
	if v.kind == 0 {
		return TypeNull
	}
	return v.kind
}

// Is reports if the tag of the value is in mask.
func (v Value) Is(mask Type) bool { return v.Kind()&mask != 0 }

// IsNull reports if v is null.
func (v Value) IsNull() bool { return v.Kind() == TypeNull }

// TypeName is the name typeof reports.
func (v Value) TypeName() string { return v.Kind().String() }

// ToBool returns the bool payload.
func (v Value) ToBool() bool { return v.n != 0 }

// ToInt returns the payload of an int, bool or float value as an int.
func (v Value) ToInt() int64 {
	switch v.Kind() {
	case TypeFloat:
		return int64(v.f)
	case TypeComplex:
		return int64(real(v.c))
	default:
		return v.n
	}
}

// ToFloat returns the payload of a numeric value as a float.
func (v Value) ToFloat() float64 {
	switch v.Kind() {
	case TypeFloat:
		return v.f
	case TypeInt, TypeBool:
		return float64(v.n)
	case TypeComplex:
		return real(v.c)
	default:
		return math.NaN()
	}
}

// ToComplex returns the payload of a numeric value as a complex.
func (v Value) ToComplex() complex128 {
	if v.Kind() == TypeComplex {
		return v.c
	}
	return complex(v.ToFloat(), 0)
}

// Str returns the payload of a string value.
func (v Value) Str() string { return v.s }

// Array returns the payload of an array value or nil.
func (v Value) Array() *Array {
	arr, _ := v.obj.(*Array)
	return arr
}

// Dict returns the payload of a dictionary value or nil.
func (v Value) Dict() *Dict {
	dict, _ := v.obj.(*Dict)
	return dict
}

// Class returns the payload of a class value or nil.
func (v Value) Class() *Class {
	cls, _ := v.obj.(*Class)
	return cls
}

// Instance returns the payload of an instance value or nil.
func (v Value) Instance() *Instance {
	inst, _ := v.obj.(*Instance)
	return inst
}

// Closure returns the payload of a closure value or nil.
func (v Value) Closure() *Closure {
	cl, _ := v.obj.(*Closure)
	return cl
}

// Native returns the payload of a native closure value or nil.
func (v Value) Native() *NativeClosure {
	nc, _ := v.obj.(*NativeClosure)
	return nc
}

// Space returns the payload of a space value or nil.
func (v Value) Space() *Space {
	sp, _ := v.obj.(*Space)
	return sp
}

// WeakRef returns the payload of a weak reference value or nil.
func (v Value) WeakRef() *WeakRef {
	wr, _ := v.obj.(*WeakRef)
	return wr
}

// RefCount is the number of containers holding the payload, 0 for scalars.
func (v Value) RefCount() int {
	if v.obj == nil {
		return 0
	}
	return v.obj.counter().count
}

// Truthy is the condition value used by jumps, ! and rules. Null, false and
// numeric zeros are false.
func (v Value) Truthy() bool {
	switch v.Kind() {
	case TypeNull, TypeDefault:
		return false
	case TypeBool, TypeInt:
		return v.n != 0
	case TypeFloat:
		return v.f != 0
	case TypeComplex:
		return v.c != 0
	default:
		return true
	}
}

func (v Value) retain() {
	if v.obj != nil {
		v.obj.counter().count++
	}
}

// release drops one reference and finalizes the payload on the last one. The
// count never goes below zero.
func (v Value) release() {
	if v.obj == nil {
		return
	}
	rc := v.obj.counter()
	if rc.count <= 0 {
		return
	}
	rc.count--
	if rc.count == 0 {
		v.obj.finalize()
	}
}

// assign stores v into dst, retaining the new value before releasing the old
// one so that self assignment never finalizes.
func assign(dst *Value, v Value) {
	v.retain()
	dst.release()
	*dst = v
}

// valuesEqual is the equality of == and of element lookups. Numbers compare
// across int, float and complex, heap values by identity.
func valuesEqual(a, b Value) bool {
	ak, bk := a.Kind(), b.Kind()
	if ak&(TypeInt|TypeFloat|TypeComplex) != 0 && bk&(TypeInt|TypeFloat|TypeComplex) != 0 {
		if ak == TypeInt && bk == TypeInt {
			return a.n == b.n
		} else if ak == TypeComplex || bk == TypeComplex {
			return a.ToComplex() == b.ToComplex()
		}
		return a.ToFloat() == b.ToFloat()
	}
	if ak != bk {
		return false
	}
	switch ak {
	case TypeNull, TypeDefault:
		return true
	case TypeBool:
		return a.n == b.n
	case TypeString:
		return a.s == b.s
	default:
		return a.obj == b.obj
	}
}

func (v Value) String() string { return toString(v, false, 0) }

const maxPrintDepth = 16

func toString(v Value, quote bool, depth int) string {
	switch v.Kind() {
	case TypeNull:
		return "null"
	case TypeDefault:
		return "default"
	case TypeBool:
		return strconv.FormatBool(v.n != 0)
	case TypeInt:
		return strconv.FormatInt(v.n, 10)
	case TypeFloat:
		return formatFloat(v.f)
	case TypeComplex:
		return formatComplex(v.c)
	case TypeString:
		if quote {
			return strconv.Quote(v.s)
		}
		return v.s
	case TypeArray:
		if depth > maxPrintDepth {
			return "[...]"
		}
		arr := v.Array()
		parts := make([]string, len(arr.items))
		for i, item := range arr.items {
			parts[i] = toString(item, true, depth+1)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeDict:
		if depth > maxPrintDepth {
			return "{...}"
		}
		return v.Dict().format(depth)
	case TypeClosure:
		return fmt.Sprintf("<closure %s>", v.Closure().proto.Name)
	case TypeNativeClosure:
		return fmt.Sprintf("<native %s>", v.Native().name)
	case TypeClass:
		return fmt.Sprintf("<class %s>", v.Class().name)
	case TypeInstance:
		return fmt.Sprintf("<instance %s>", v.Instance().class.name)
	case TypeSpace:
		return v.Space().String()
	case TypeWeakRef:
		return "<weakref>"
	default:
		return fmt.Sprintf("<%s>", v.TypeName())
	}
}

func formatFloat(f float64) string {
	str := strconv.FormatFloat(f, 'g', -1, 64)
	if !math.IsInf(f, 0) && !math.IsNaN(f) && !strings.ContainsAny(str, ".e") {
		str += ".0"
	}
	return str
}

func formatComplex(c complex128) string {
	if cmplx.IsNaN(c) {
		return "NaN"
	}
	return strconv.FormatComplex(c, 'g', -1, 128)
}
