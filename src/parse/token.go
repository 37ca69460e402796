package parse

import (
	"fmt"

	"github.com/semihM/exmat-sub000/src/bytecode"
)

type (
	// MetaMethod is the enum of valid meta methods.
	MetaMethod string
	tokenType  string
	token      struct {
		LineInfo
		Kind      tokenType
		StringVal string
		FloatVal  float64
		IntVal    int64
		Space     SpaceSpec
	}
)

const (
	tokenAdd          tokenType = "+"
	tokenMinus        tokenType = "-"
	tokenMultiply     tokenType = "*"
	tokenDivide       tokenType = "/"
	tokenModulo       tokenType = "%"
	tokenExponent     tokenType = "**"
	tokenMatMul       tokenType = ".*"
	tokenCartesian    tokenType = "*."
	tokenBitwiseAnd   tokenType = "&"
	tokenBitwiseOr    tokenType = "|"
	tokenBitwiseXor   tokenType = "^"
	tokenBitwiseNot   tokenType = "~"
	tokenNot          tokenType = "!"
	tokenShiftLeft    tokenType = "<<"
	tokenShiftRight   tokenType = ">>"
	tokenUShiftRight  tokenType = ">>>"
	tokenAssign       tokenType = "="
	tokenNewSlot      tokenType = "<-"
	tokenPlusEq       tokenType = "+="
	tokenMinusEq      tokenType = "-="
	tokenMulEq        tokenType = "*="
	tokenDivEq        tokenType = "/="
	tokenModEq        tokenType = "%="
	tokenPlusPlus     tokenType = "++"
	tokenMinusMinus   tokenType = "--"
	tokenAnd          tokenType = "&&"
	tokenOr           tokenType = "||"
	tokenEq           tokenType = "=="
	tokenNe           tokenType = "!="
	tokenGe           tokenType = ">="
	tokenGt           tokenType = ">"
	tokenLe           tokenType = "<="
	tokenLt           tokenType = "<"
	tokenQuestion     tokenType = "?"
	tokenColon        tokenType = ":"
	tokenDoubleColon  tokenType = "::"
	tokenArrow        tokenType = "=>"
	tokenComma        tokenType = ","
	tokenPeriod       tokenType = "."
	tokenDots         tokenType = "..."
	tokenSemiColon    tokenType = ";"
	tokenTranspose    tokenType = "'"
	tokenLambda       tokenType = "@"
	tokenOpenParen    tokenType = "("
	tokenCloseParen   tokenType = ")"
	tokenOpenCurly    tokenType = "{"
	tokenCloseCurly   tokenType = "}"
	tokenOpenBracket  tokenType = "["
	tokenCloseBracket tokenType = "]"
	tokenVar          tokenType = "var"
	tokenConst        tokenType = "const"
	tokenEnum         tokenType = "enum"
	tokenFunction     tokenType = "function"
	tokenRule         tokenType = "rule"
	tokenCluster      tokenType = "cluster"
	tokenSeq          tokenType = "seq"
	tokenClass        tokenType = "class"
	tokenExtends      tokenType = "extends"
	tokenConstructor  tokenType = "constructor"
	tokenThis         tokenType = "this"
	tokenBase         tokenType = "base"
	tokenIf           tokenType = "if"
	tokenElse         tokenType = "else"
	tokenWhile        tokenType = "while"
	tokenDo           tokenType = "do"
	tokenFor          tokenType = "for"
	tokenForeach      tokenType = "foreach"
	tokenIn           tokenType = "in"
	tokenBreak        tokenType = "break"
	tokenContinue     tokenType = "continue"
	tokenReturn       tokenType = "return"
	tokenTrue         tokenType = "true"
	tokenFalse        tokenType = "false"
	tokenNull         tokenType = "null"
	tokenTypeof       tokenType = "typeof"
	tokenInstanceof   tokenType = "instanceof"
	tokenDelete       tokenType = "delete"
	tokenDefault      tokenType = "default"
	tokenFloat        tokenType = "float"
	tokenInteger      tokenType = "integer"
	tokenComplex      tokenType = "complex"
	tokenSpace        tokenType = "space"
	tokenIdentifier   tokenType = "identifier"
	tokenString       tokenType = "string"
	tokenEOS          tokenType = "<EOS>"

	// MetaAdd is the _add metamethod.
	MetaAdd MetaMethod = "_add"
	// MetaSub is the _sub metamethod.
	MetaSub MetaMethod = "_sub"
	// MetaMul is the _mul metamethod.
	MetaMul MetaMethod = "_mul"
	// MetaDiv is the _div metamethod.
	MetaDiv MetaMethod = "_div"
	// MetaMod is the _mod metamethod.
	MetaMod MetaMethod = "_mod"
	// MetaExp is the _exp metamethod.
	MetaExp MetaMethod = "_exp"
	// MetaUNM is the _unm metamethod.
	MetaUNM MetaMethod = "_unm"
	// MetaCmp is the _cmp metamethod.
	MetaCmp MetaMethod = "_cmp"
	// MetaGet is the _get metamethod.
	MetaGet MetaMethod = "_get"
	// MetaSet is the _set metamethod.
	MetaSet MetaMethod = "_set"
	// MetaNewSlot is the _newslot metamethod.
	MetaNewSlot MetaMethod = "_newslot"
	// MetaDelSlot is the _delslot metamethod.
	MetaDelSlot MetaMethod = "_delslot"
	// MetaCall is the _call metamethod.
	MetaCall MetaMethod = "_call"
	// MetaToString is the _tostring metamethod.
	MetaToString MetaMethod = "_tostring"
)

var (
	// Keywords is the table of reserved words, exported for error messages
	// and completion in the repl.
	Keywords = map[string]tokenType{
		string(tokenVar):         tokenVar,
		string(tokenConst):       tokenConst,
		string(tokenEnum):        tokenEnum,
		string(tokenFunction):    tokenFunction,
		string(tokenRule):        tokenRule,
		string(tokenCluster):     tokenCluster,
		string(tokenSeq):         tokenSeq,
		string(tokenClass):       tokenClass,
		string(tokenExtends):     tokenExtends,
		string(tokenConstructor): tokenConstructor,
		string(tokenThis):        tokenThis,
		string(tokenBase):        tokenBase,
		string(tokenIf):          tokenIf,
		string(tokenElse):        tokenElse,
		string(tokenWhile):       tokenWhile,
		string(tokenDo):          tokenDo,
		string(tokenFor):         tokenFor,
		string(tokenForeach):     tokenForeach,
		string(tokenIn):          tokenIn,
		string(tokenBreak):       tokenBreak,
		string(tokenContinue):    tokenContinue,
		string(tokenReturn):      tokenReturn,
		string(tokenTrue):        tokenTrue,
		string(tokenFalse):       tokenFalse,
		string(tokenNull):        tokenNull,
		string(tokenTypeof):      tokenTypeof,
		string(tokenInstanceof):  tokenInstanceof,
		string(tokenDelete):      tokenDelete,
		string(tokenDefault):     tokenDefault,
	}
	arithOps = map[tokenType]bytecode.Op{
		tokenAdd:       bytecode.ADD,
		tokenMinus:     bytecode.SUB,
		tokenMultiply:  bytecode.MLT,
		tokenDivide:    bytecode.DIV,
		tokenModulo:    bytecode.MOD,
		tokenExponent:  bytecode.EXP,
		tokenMatMul:    bytecode.MMLT,
		tokenCartesian: bytecode.CARTESIAN,
		tokenPlusEq:    bytecode.ADD,
		tokenMinusEq:   bytecode.SUB,
		tokenMulEq:     bytecode.MLT,
		tokenDivEq:     bytecode.DIV,
		tokenModEq:     bytecode.MOD,
	}
	bitwiseOps = map[tokenType]uint16{
		tokenBitwiseAnd:  bytecode.BitAnd,
		tokenBitwiseOr:   bytecode.BitOr,
		tokenBitwiseXor:  bytecode.BitXor,
		tokenShiftLeft:   bytecode.BitShl,
		tokenShiftRight:  bytecode.BitShr,
		tokenUShiftRight: bytecode.BitUShr,
	}
	compareOps = map[tokenType]uint16{
		tokenLt: bytecode.CmpLt,
		tokenLe: bytecode.CmpLe,
		tokenGt: bytecode.CmpGt,
		tokenGe: bytecode.CmpGe,
	}
)

func (tk *token) String() string {
	switch tk.Kind {
	case tokenString, tokenIdentifier:
		return fmt.Sprintf("%s(%q)", tk.Kind, tk.StringVal)
	case tokenInteger:
		return fmt.Sprintf("%s(%d)", tk.Kind, tk.IntVal)
	case tokenFloat, tokenComplex:
		return fmt.Sprintf("%s(%v)", tk.Kind, tk.FloatVal)
	case tokenSpace:
		return fmt.Sprintf("%s(%v)", tk.Kind, tk.Space)
	}
	if _, isKeyword := Keywords[string(tk.Kind)]; isKeyword {
		return fmt.Sprintf("keyword '%s'", tk.Kind)
	}
	return fmt.Sprintf("'%s'", tk.Kind)
}

func isAssignment(kind tokenType) bool {
	switch kind {
	case tokenAssign, tokenNewSlot, tokenPlusEq, tokenMinusEq, tokenMulEq, tokenDivEq, tokenModEq:
		return true
	default:
		return false
	}
}
