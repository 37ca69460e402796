package parse

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/semihM/exmat-sub000/src/bytecode"
)

type (
	// ClosureKind tags how a prototype binds its parameters and returns.
	ClosureKind uint8
	// OuterDesc describes where a captured variable comes from when a closure
	// is created. FromStack means a local slot of the enclosing frame,
	// otherwise Index is an outer of the enclosing closure.
	OuterDesc struct {
		Name      string
		FromStack bool
		Index     uint16
	}
	// LocalInfo is the debug range of a named local.
	LocalInfo struct {
		Name    string
		Slot    int
		StartPC int
		EndPC   int
	}
	// SpaceSpec is the compile time description of a space: a domain letter
	// (R, Z, N, C, A), an optional sign and nested dimensions, outermost first.
	SpaceSpec struct {
		Domain string
		Sign   string
		Dims   []int
	}
	// SeqTerm is a declared initial term of a sequence.
	SeqTerm struct {
		Key   float64
		Value any
	}
	// LineInfo is a shared struct that is used for tracking where the behviour
	// originated from in the sourcecode.
	LineInfo struct {
		Line   int64
		Column int64
	}
	// FnProto is the compiled form of one callable. The main chunk of a file
	// is also a FnProto. It is immutable once the parser returns it.
	FnProto struct {
		Name          string
		Filename      string
		Kind          ClosureKind
		Params        []string    // parameter names, this first
		DefaultParams []int       // slots in the enclosing frame holding default values
		Varargs       bool        // last param collects excess arguments
		Literals      []any       // int64, float64, complex128 or string
		Spaces        []SpaceSpec // space literals
		Constraints   []SpaceSpec // cluster parameter spaces, one per param after this
		SeqTerms      []SeqTerm   // sequence initial terms
		Outers        []OuterDesc
		ByteCodes     []uint64
		LineTrace     []LineInfo
		FnTable       []*FnProto
		Locals        []LocalInfo
		StackSize     int
		LineInfo
	}
)

const (
	// KindFunction is an ordinary function.
	KindFunction ClosureKind = iota
	// KindLambda is an expression bodied function.
	KindLambda
	// KindConstructor is a class constructor.
	KindConstructor
	// KindMember is a class method.
	KindMember
	// KindRule is a boolean predicate with exact arity.
	KindRule
	// KindCluster is a relation with domain constrained parameters.
	KindCluster
	// KindSequence is a memoized recurrence over a numeric index.
	KindSequence
	// KindMain is the top level chunk.
	KindMain
)

const fnProtoTemplate = `{{.Kind}} {{.Name}} <{{.Filename}}:{{.Line}}> ({{.ByteCodes | len}} instructions)
{{.Params | len}}{{if .Varargs}}+{{end}} params, {{.DefaultParams | len}} defaults, {{.Outers | len}} outers,
{{- .StackSize}} slots, {{.Literals | len}} literals, {{.FnTable | len}} functions
{{- range $i, $code := .ByteCodes}}
	{{$i}}	[{{with $li := index $.LineTrace $i}}{{$li.Line}}{{end}}]	{{$code | codeString}} {{$code | codeMeta -}}
{{end}}
{{range .FnTable}}
{{. -}}
{{end}}`

func (kind ClosureKind) String() string {
	switch kind {
	case KindFunction:
		return "function"
	case KindLambda:
		return "lambda"
	case KindConstructor:
		return "constructor"
	case KindMember:
		return "method"
	case KindRule:
		return "rule"
	case KindCluster:
		return "cluster"
	case KindSequence:
		return "sequence"
	case KindMain:
		return "main"
	default:
		return "unknown"
	}
}

// Arity is the number of parameters excluding this.
func (fn *FnProto) Arity() int { return len(fn.Params) - 1 }

// GetLiteral gets a literal from the literal pool of the fn.
func (fn *FnProto) GetLiteral(idx int64) any {
	if idx < 0 || int(idx) >= len(fn.Literals) {
		return nil
	}
	return fn.Literals[idx]
}

// LineAt returns the source position of the instruction at pc.
func (fn *FnProto) LineAt(pc int) LineInfo {
	if len(fn.LineTrace) == 0 {
		return fn.LineInfo
	}
	if pc < 0 {
		pc = 0
	} else if pc >= len(fn.LineTrace) {
		pc = len(fn.LineTrace) - 1
	}
	return fn.LineTrace[pc]
}

func (space SpaceSpec) String() string {
	var sb strings.Builder
	sb.WriteString("@" + space.Domain + space.Sign)
	for _, dim := range space.Dims {
		sb.WriteString("^" + strconv.Itoa(dim))
	}
	return sb.String()
}

func (fn *FnProto) String() string {
	var buf bytes.Buffer
	tmpl := template.New("fnproto")
	tmpl.Funcs(map[string]any{
		"codeString": bytecode.ToString,
		"codeMeta": func(op uint64) string {
			switch bytecode.GetOp(op) {
			case bytecode.LOAD, bytecode.LOADFLOAT, bytecode.LOADCOMPLEX:
				return fmt.Sprintf("\t; %v", literalString(fn.GetLiteral(bytecode.GetBx(op))))
			case bytecode.LOADSPACE:
				return fmt.Sprintf("\t; %v", fn.Spaces[bytecode.GetBx(op)])
			case bytecode.CLOSURE:
				return "\t; " + fn.FnTable[bytecode.GetBx(op)].Name
			case bytecode.JMP, bytecode.JZ:
				return fmt.Sprintf("\t; to %v", bytecode.GetsBx(op))
			case bytecode.CALL, bytecode.TAILCALL:
				return fmt.Sprintf("\t; %v args", bytecode.GetD(op))
			}
			return ""
		},
	})
	tmpl = template.Must(tmpl.Parse(fnProtoTemplate))
	if err := tmpl.Execute(&buf, fn); err != nil {
		panic(err)
	}
	return buf.String()
}

func literalString(val any) string {
	switch tval := val.(type) {
	case string:
		return strconv.Quote(tval)
	case complex128:
		return strconv.FormatFloat(imag(tval), 'g', -1, 64) + "i"
	default:
		return fmt.Sprint(tval)
	}
}
