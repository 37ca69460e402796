package runtime

import (
	"math"

	"github.com/semihM/exmat-sub000/src/parse"
)

// Space is a domain with optional sign and dimensions, used to constrain the
// parameters of clusters and tested with the in operator.
type Space struct {
	refCount
	parse.SpaceSpec
}

// NewSpace creates a space from its compile time description.
func NewSpace(spec parse.SpaceSpec) *Space {
	return &Space{SpaceSpec: parse.SpaceSpec{
		Domain: spec.Domain,
		Sign:   spec.Sign,
		Dims:   append([]int{}, spec.Dims...),
	}}
}

func (sp *Space) finalize() {}

// Contains reports if v belongs to the space. Dimensions require nested
// arrays of exactly that length, outermost first.
func (sp *Space) Contains(v Value) bool {
	return spaceContains(sp.Domain, sp.Sign, sp.Dims, v)
}

func spaceContains(domain, sign string, dims []int, v Value) bool {
	if len(dims) > 0 {
		arr := v.Array()
		if arr == nil || arr.Len() != dims[0] {
			return false
		}
		for _, item := range arr.items {
			if !spaceContains(domain, sign, dims[1:], item) {
				return false
			}
		}
		return true
	}
	switch domain {
	case "A":
		return true
	case "C":
		if !v.Is(TypeInt | TypeFloat | TypeComplex) {
			return false
		}
		return signMatches(sign, real(v.ToComplex()))
	case "R":
		return v.Is(TypeNumber) && signMatches(sign, v.ToFloat())
	case "Z":
		return isIntegral(v) && signMatches(sign, v.ToFloat())
	case "N":
		if !isIntegral(v) || v.ToFloat() < 0 {
			return false
		}
		return signMatches(sign, v.ToFloat())
	default:
		return false
	}
}

func isIntegral(v Value) bool {
	switch v.Kind() {
	case TypeInt:
		return true
	case TypeFloat:
		return !math.IsInf(v.f, 0) && v.f == math.Trunc(v.f)
	default:
		return false
	}
}

func signMatches(sign string, f float64) bool {
	switch sign {
	case "+":
		return f > 0
	case "-":
		return f < 0
	default:
		return true
	}
}
