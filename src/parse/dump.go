package parse

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/semihM/exmat-sub000/src/conf"
)

type (
	literalKind uint8
	// dumpedLiteral keeps the go type of a literal across the encoding since
	// cbor would decode every number in an interface as uint64 or float64.
	dumpedLiteral struct {
		Kind  literalKind `cbor:"1,keyasint"`
		Int   int64       `cbor:"2,keyasint,omitempty"`
		Float float64     `cbor:"3,keyasint,omitempty"`
		Imag  float64     `cbor:"4,keyasint,omitempty"`
		Str   string      `cbor:"5,keyasint,omitempty"`
	}
	dumpedTerm struct {
		Key   float64       `cbor:"1,keyasint"`
		Value dumpedLiteral `cbor:"2,keyasint"`
	}
	dumpedProto struct {
		Name          string          `cbor:"1,keyasint"`
		Filename      string          `cbor:"2,keyasint"`
		Kind          ClosureKind     `cbor:"3,keyasint"`
		Params        []string        `cbor:"4,keyasint"`
		DefaultParams []int           `cbor:"5,keyasint,omitempty"`
		Varargs       bool            `cbor:"6,keyasint,omitempty"`
		Literals      []dumpedLiteral `cbor:"7,keyasint,omitempty"`
		Spaces        []SpaceSpec     `cbor:"8,keyasint,omitempty"`
		Constraints   []SpaceSpec     `cbor:"9,keyasint,omitempty"`
		SeqTerms      []dumpedTerm    `cbor:"10,keyasint,omitempty"`
		Outers        []OuterDesc     `cbor:"11,keyasint,omitempty"`
		ByteCodes     []uint64        `cbor:"12,keyasint"`
		LineTrace     []LineInfo      `cbor:"13,keyasint,omitempty"`
		FnTable       []*dumpedProto  `cbor:"14,keyasint,omitempty"`
		Locals        []LocalInfo     `cbor:"15,keyasint,omitempty"`
		StackSize     int             `cbor:"16,keyasint"`
		Line          int64           `cbor:"17,keyasint"`
		Column        int64           `cbor:"18,keyasint"`
	}
	dumpedChunk struct {
		Version string       `cbor:"1,keyasint"`
		Format  int          `cbor:"2,keyasint"`
		Main    *dumpedProto `cbor:"3,keyasint"`
	}
)

const (
	litNull literalKind = iota
	litInt
	litFloat
	litComplex
	litString
	litBool
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("parse: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Dump will serialize fnproto data into a byte array for writing out to a
// file. Stripping drops the debug information about locals and lines.
func (fn *FnProto) Dump(strip bool) ([]byte, error) {
	dumped, err := dumpProto(fn, strip)
	if err != nil {
		return nil, errors.Wrapf(err, "dump %s", fn.Name)
	}
	data, err := cborEncMode.Marshal(dumpedChunk{
		Version: conf.EXMATVERSION,
		Format:  conf.EXMATFORMAT,
		Main:    dumped,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode chunk")
	}
	return append([]byte(conf.EXMATSIGNATURE), data...), nil
}

func hasBinaryPrefix(src io.ReadSeeker) bool {
	prefix := make([]byte, len(conf.EXMATSIGNATURE))
	n, _ := io.ReadFull(src, prefix)
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return false
	}
	return n == len(prefix) && string(prefix) == conf.EXMATSIGNATURE
}

// Undump will deserialize fnproto data into a new fnproto ready for interpreting.
func Undump(src io.Reader) (*FnProto, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, errors.Wrap(err, "read chunk")
	} else if !bytes.HasPrefix(data, []byte(conf.EXMATSIGNATURE)) {
		return nil, errors.New("invalid signature")
	}
	var chunk dumpedChunk
	if err := cbor.Unmarshal(data[len(conf.EXMATSIGNATURE):], &chunk); err != nil {
		return nil, errors.Wrap(err, "decode chunk")
	} else if chunk.Version != conf.EXMATVERSION {
		return nil, errors.Errorf("unsupported version, current %v, found %v", conf.EXMATVERSION, chunk.Version)
	} else if chunk.Format != conf.EXMATFORMAT {
		return nil, errors.Errorf("unsupported format, current %v, found %v", conf.EXMATFORMAT, chunk.Format)
	} else if chunk.Main == nil {
		return nil, errors.New("chunk has no main function")
	}
	return undumpProto(chunk.Main)
}

func dumpProto(fn *FnProto, strip bool) (*dumpedProto, error) {
	dumped := &dumpedProto{
		Name:          fn.Name,
		Filename:      fn.Filename,
		Kind:          fn.Kind,
		Params:        fn.Params,
		DefaultParams: fn.DefaultParams,
		Varargs:       fn.Varargs,
		Spaces:        fn.Spaces,
		Constraints:   fn.Constraints,
		Outers:        fn.Outers,
		ByteCodes:     fn.ByteCodes,
		StackSize:     fn.StackSize,
		Line:          fn.Line,
		Column:        fn.Column,
	}
	if !strip {
		dumped.LineTrace = fn.LineTrace
		dumped.Locals = fn.Locals
	}
	for _, lit := range fn.Literals {
		dlit, err := dumpLiteral(lit)
		if err != nil {
			return nil, err
		}
		dumped.Literals = append(dumped.Literals, dlit)
	}
	for _, term := range fn.SeqTerms {
		dlit, err := dumpLiteral(term.Value)
		if err != nil {
			return nil, err
		}
		dumped.SeqTerms = append(dumped.SeqTerms, dumpedTerm{Key: term.Key, Value: dlit})
	}
	for _, child := range fn.FnTable {
		dchild, err := dumpProto(child, strip)
		if err != nil {
			return nil, errors.Wrapf(err, "dump %s", child.Name)
		}
		dumped.FnTable = append(dumped.FnTable, dchild)
	}
	return dumped, nil
}

func undumpProto(dumped *dumpedProto) (*FnProto, error) {
	fn := &FnProto{
		Name:          dumped.Name,
		Filename:      dumped.Filename,
		Kind:          dumped.Kind,
		Params:        dumped.Params,
		DefaultParams: dumped.DefaultParams,
		Varargs:       dumped.Varargs,
		Spaces:        dumped.Spaces,
		Constraints:   dumped.Constraints,
		Outers:        dumped.Outers,
		ByteCodes:     dumped.ByteCodes,
		LineTrace:     dumped.LineTrace,
		Locals:        dumped.Locals,
		StackSize:     dumped.StackSize,
		LineInfo:      LineInfo{Line: dumped.Line, Column: dumped.Column},
	}
	if len(fn.Params) == 0 {
		return nil, errors.Errorf("function %s has no this parameter", fn.Name)
	}
	for _, dlit := range dumped.Literals {
		fn.Literals = append(fn.Literals, undumpLiteral(dlit))
	}
	for _, term := range dumped.SeqTerms {
		fn.SeqTerms = append(fn.SeqTerms, SeqTerm{Key: term.Key, Value: undumpLiteral(term.Value)})
	}
	for _, dchild := range dumped.FnTable {
		child, err := undumpProto(dchild)
		if err != nil {
			return nil, err
		}
		fn.FnTable = append(fn.FnTable, child)
	}
	return fn, nil
}

func dumpLiteral(val any) (dumpedLiteral, error) {
	switch tval := val.(type) {
	case nil:
		return dumpedLiteral{Kind: litNull}, nil
	case int64:
		return dumpedLiteral{Kind: litInt, Int: tval}, nil
	case float64:
		return dumpedLiteral{Kind: litFloat, Float: tval}, nil
	case complex128:
		return dumpedLiteral{Kind: litComplex, Float: real(tval), Imag: imag(tval)}, nil
	case string:
		return dumpedLiteral{Kind: litString, Str: tval}, nil
	case bool:
		dlit := dumpedLiteral{Kind: litBool}
		if tval {
			dlit.Int = 1
		}
		return dlit, nil
	default:
		return dumpedLiteral{}, errors.Errorf("cannot dump literal of type %T", val)
	}
}

func undumpLiteral(dlit dumpedLiteral) any {
	switch dlit.Kind {
	case litInt:
		return dlit.Int
	case litFloat:
		return dlit.Float
	case litComplex:
		return complex(dlit.Float, dlit.Imag)
	case litString:
		return dlit.Str
	case litBool:
		return dlit.Int == 1
	default:
		return nil
	}
}
