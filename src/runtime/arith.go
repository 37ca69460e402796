package runtime

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/semihM/exmat-sub000/src/bytecode"
)

var (
	arithNames = map[bytecode.Op]string{
		bytecode.ADD:       "+",
		bytecode.SUB:       "-",
		bytecode.MLT:       "*",
		bytecode.DIV:       "/",
		bytecode.MOD:       "%",
		bytecode.EXP:       "**",
		bytecode.MMLT:      ".*",
		bytecode.CARTESIAN: "*.",
	}
	arithMeta = map[bytecode.Op]string{
		bytecode.ADD: "_add",
		bytecode.SUB: "_sub",
		bytecode.MLT: "_mul",
		bytecode.DIV: "_div",
		bytecode.MOD: "_mod",
		bytecode.EXP: "_exp",
	}
	bitNames = map[int64]string{
		bytecode.BitAnd:  "&",
		bytecode.BitOr:   "|",
		bytecode.BitXor:  "^",
		bytecode.BitShl:  "<<",
		bytecode.BitShr:  ">>",
		bytecode.BitUShr: ">>>",
	}
)

// arith evaluates a binary arithmetic operator. Ints stay ints, anything with
// a float becomes a float and anything with a complex becomes a complex.
func (vm *VM) arith(op bytecode.Op, lhs, rhs Value) (Value, error) {
	switch op {
	case bytecode.MMLT:
		return matMul(lhs, rhs)
	case bytecode.CARTESIAN:
		return cartesian(lhs, rhs)
	}
	if lhs.Is(TypeNumeric) && rhs.Is(TypeNumeric) {
		return arithNumbers(op, lhs, rhs)
	} else if op == bytecode.ADD && concatenable(lhs, rhs) {
		return String(lhs.String() + rhs.String()), nil
	} else if method, ok := vm.metamethod(lhs, arithMeta[op]); ok {
		return vm.callMeta(method, lhs, rhs)
	}
	return Null(), fmt.Errorf("cannot perform '%s' on %s and %s", arithNames[op], lhs.TypeName(), rhs.TypeName())
}

// concatenable reports whether + joins lhs and rhs as strings. One side must
// be a string and the other a string, a number or null.
func concatenable(lhs, rhs Value) bool {
	scalars := TypeString | TypeNumeric | TypeNull
	return (lhs.Kind() == TypeString || rhs.Kind() == TypeString) && lhs.Is(scalars) && rhs.Is(scalars)
}

func arithNumbers(op bytecode.Op, lhs, rhs Value) (Value, error) {
	lk, rk := lhs.Kind(), rhs.Kind()
	switch {
	case lk == TypeComplex || rk == TypeComplex:
		if op == bytecode.MOD {
			return Null(), fmt.Errorf("cannot perform '%%' on %s and %s", lhs.TypeName(), rhs.TypeName())
		}
		return Complex(roundComplex(complexArith(op, lhs.ToComplex(), rhs.ToComplex()))), nil
	case lk == TypeFloat || rk == TypeFloat:
		return Float(floatArith(op, lhs.ToFloat(), rhs.ToFloat())), nil
	default:
		return intArith(op, lhs.n, rhs.n), nil
	}
}

func intArith(op bytecode.Op, a, b int64) Value {
	switch op {
	case bytecode.ADD:
		return Int(a + b)
	case bytecode.SUB:
		return Int(a - b)
	case bytecode.MLT:
		return Int(a * b)
	case bytecode.DIV:
		if b == 0 {
			return Float(divZero(float64(a)))
		}
		return Int(a / b)
	case bytecode.MOD:
		if b == 0 {
			return Float(divZero(float64(a)))
		}
		return Int(a % b)
	case bytecode.EXP:
		if b < 0 {
			return Float(math.Pow(float64(a), float64(b)))
		}
		return Int(ipow(a, b))
	default:
		panic("unknown arithmetic operation")
	}
}

func floatArith(op bytecode.Op, a, b float64) float64 {
	switch op {
	case bytecode.ADD:
		return a + b
	case bytecode.SUB:
		return a - b
	case bytecode.MLT:
		return a * b
	case bytecode.DIV:
		if b == 0 {
			return divZero(a)
		}
		return a / b
	case bytecode.MOD:
		if b == 0 {
			return divZero(a)
		}
		return math.Mod(a, b)
	case bytecode.EXP:
		return math.Pow(a, b)
	default:
		panic("unknown arithmetic operation")
	}
}

func complexArith(op bytecode.Op, a, b complex128) complex128 {
	switch op {
	case bytecode.ADD:
		return a + b
	case bytecode.SUB:
		return a - b
	case bytecode.MLT:
		return a * b
	case bytecode.DIV:
		return a / b
	case bytecode.EXP:
		return cmplx.Pow(a, b)
	default:
		panic("unknown arithmetic operation")
	}
}

// divZero is the result of dividing a by zero: infinity with the sign of a,
// or NaN when a is zero as well.
func divZero(a float64) float64 {
	switch {
	case a > 0:
		return math.Inf(1)
	case a < 0:
		return math.Inf(-1)
	default:
		return math.NaN()
	}
}

func ipow(base, exp int64) int64 {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

// roundComplex drops the noise of complex functions past 15 decimals.
func roundComplex(c complex128) complex128 {
	return complex(round15(real(c)), round15(imag(c)))
}

func round15(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > 1e15 {
		return x
	}
	return math.Round(x*1e15) / 1e15
}

func (vm *VM) negate(v Value) (Value, error) {
	switch v.Kind() {
	case TypeInt, TypeBool:
		return Int(-v.n), nil
	case TypeFloat:
		return Float(-v.f), nil
	case TypeComplex:
		return Complex(-v.c), nil
	}
	if method, ok := vm.metamethod(v, "_unm"); ok {
		return vm.callMeta(method, v)
	}
	return Null(), fmt.Errorf("cannot perform '-' on %s", v.TypeName())
}

func bitwise(kind int64, lhs, rhs Value) (Value, error) {
	if !lhs.Is(TypeInt|TypeBool) || !rhs.Is(TypeInt|TypeBool) {
		return Null(), fmt.Errorf("cannot perform '%s' on %s and %s", bitNames[kind], lhs.TypeName(), rhs.TypeName())
	}
	a, b := lhs.n, rhs.n
	switch kind {
	case bytecode.BitAnd:
		return Int(a & b), nil
	case bytecode.BitOr:
		return Int(a | b), nil
	case bytecode.BitXor:
		return Int(a ^ b), nil
	}
	if b < 0 {
		return Null(), fmt.Errorf("negative shift count %d", b)
	}
	switch kind {
	case bytecode.BitShl:
		return Int(a << b), nil
	case bytecode.BitShr:
		return Int(a >> b), nil
	case bytecode.BitUShr:
		return Int(int64(uint64(a) >> b)), nil
	default:
		return Null(), fmt.Errorf("unknown bitwise operation %d", kind)
	}
}

// compare evaluates <, <=, > and >= on numbers, strings and instances with a
// _cmp metamethod returning a negative, zero or positive number.
func (vm *VM) compare(kind int64, lhs, rhs Value) (bool, error) {
	var order int
	switch {
	case lhs.Kind() == TypeInt && rhs.Kind() == TypeInt:
		order = cmpOrdered(lhs.n, rhs.n)
	case lhs.Is(TypeNumber|TypeBool) && rhs.Is(TypeNumber|TypeBool):
		a, b := lhs.ToFloat(), rhs.ToFloat()
		if math.IsNaN(a) || math.IsNaN(b) {
			return false, nil
		}
		order = cmpOrdered(a, b)
	case lhs.Kind() == TypeString && rhs.Kind() == TypeString:
		order = cmpOrdered(lhs.s, rhs.s)
	default:
		method, ok := vm.metamethod(lhs, "_cmp")
		if !ok {
			return false, fmt.Errorf("cannot compare %s and %s", lhs.TypeName(), rhs.TypeName())
		}
		res, err := vm.callMeta(method, lhs, rhs)
		if err != nil {
			return false, err
		} else if !res.Is(TypeNumber) {
			return false, fmt.Errorf("_cmp must return a number, found %s", res.TypeName())
		}
		order = cmpOrdered(res.ToFloat(), 0)
	}
	switch kind {
	case bytecode.CmpLt:
		return order < 0, nil
	case bytecode.CmpLe:
		return order <= 0, nil
	case bytecode.CmpGt:
		return order > 0, nil
	default:
		return order >= 0, nil
	}
}

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// matrix reads v as rows of equal length.
func matrix(v Value) ([][]Value, error) {
	arr := v.Array()
	if arr == nil {
		return nil, fmt.Errorf("expected a matrix, found %s", v.TypeName())
	}
	rows := make([][]Value, len(arr.items))
	for i, row := range arr.items {
		rowArr := row.Array()
		if rowArr == nil {
			return nil, fmt.Errorf("expected a matrix, row %d is %s", i, row.TypeName())
		} else if i > 0 && len(rowArr.items) != len(rows[0]) {
			return nil, fmt.Errorf("rows of a matrix must have equal length")
		}
		rows[i] = rowArr.items
	}
	return rows, nil
}

func matrixCols(rows [][]Value) int {
	if len(rows) == 0 {
		return 0
	}
	return len(rows[0])
}

func matMul(lhs, rhs Value) (Value, error) {
	a, err := matrix(lhs)
	if err != nil {
		return Null(), err
	}
	b, err := matrix(rhs)
	if err != nil {
		return Null(), err
	}
	n, m, p, q := len(a), matrixCols(a), len(b), matrixCols(b)
	if m != p {
		return Null(), fmt.Errorf("inner dimensions do not match: %dx%d and %dx%d", n, m, p, q)
	}
	result := NewArray()
	for i := range n {
		row := NewArray()
		for j := range q {
			sum := Int(0)
			for k := range m {
				x, y := a[i][k], b[k][j]
				if !x.Is(TypeNumeric) || !y.Is(TypeNumeric) {
					return Null(), fmt.Errorf("cannot multiply matrices of %s and %s", x.TypeName(), y.TypeName())
				}
				prod, err := arithNumbers(bytecode.MLT, x, y)
				if err != nil {
					return Null(), err
				}
				if sum, err = arithNumbers(bytecode.ADD, sum, prod); err != nil {
					return Null(), err
				}
			}
			row.Append(sum)
		}
		result.Append(ArrayValue(row))
	}
	return ArrayValue(result), nil
}

func cartesian(lhs, rhs Value) (Value, error) {
	a, b := lhs.Array(), rhs.Array()
	if a == nil || b == nil {
		return Null(), fmt.Errorf("cannot perform '*.' on %s and %s", lhs.TypeName(), rhs.TypeName())
	}
	result := NewArray()
	for _, x := range a.items {
		for _, y := range b.items {
			result.Append(ArrayValue(NewArray(x, y)))
		}
	}
	return ArrayValue(result), nil
}

// transpose flips a matrix. A flat array becomes a column vector.
func transpose(v Value) (Value, error) {
	arr := v.Array()
	if arr == nil {
		return Null(), fmt.Errorf("cannot transpose %s", v.TypeName())
	}
	result := NewArray()
	if len(arr.items) == 0 {
		return ArrayValue(result), nil
	} else if arr.items[0].Kind() != TypeArray {
		for _, item := range arr.items {
			if item.Kind() == TypeArray {
				return Null(), fmt.Errorf("rows of a matrix must have equal length")
			}
			result.Append(ArrayValue(NewArray(item)))
		}
		return ArrayValue(result), nil
	}
	rows, err := matrix(v)
	if err != nil {
		return Null(), err
	}
	for j := range matrixCols(rows) {
		col := NewArray()
		for i := range rows {
			col.Append(rows[i][j])
		}
		result.Append(ArrayValue(col))
	}
	return ArrayValue(result), nil
}
