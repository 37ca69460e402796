package parse

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/semihM/exmat-sub000/src/bytecode"
	"github.com/semihM/exmat-sub000/src/lerrors"
)

type (
	// LoadMode are flags to indicate how to load/parse a chunk of data.
	LoadMode uint
	// Parser is the object that will parse a file an be able to return bytecode
	// ready for the VM. The constant table outlives a single Parse call so
	// that a repl keeps its constants between lines.
	Parser struct {
		lex           *lexer
		filename      string
		consts        map[string]any
		lastTokenInfo LineInfo
	}
)

const (
	// ModeText implies that the chunk of text being loaded is plain text.
	ModeText LoadMode = 0b01
	// ModeBinary implies that the chunk of data being loaded is pre parsed binary.
	ModeBinary LoadMode = 0b10
)

var log = commonlog.GetLogger("exmat.parse")

// New creates a new parser.
func New() *Parser {
	return &Parser{consts: map[string]any{}}
}

// WithConstants seeds the constant table with host provided constants. Values
// must be int64, float64, complex128, string, bool or map[string]any of those.
func (p *Parser) WithConstants(consts map[string]any) *Parser {
	for name, val := range consts {
		p.consts[name] = val
	}
	return p
}

// Constants returns the names defined in the constant table.
func (p *Parser) Constants() map[string]any { return p.consts }

// File is a helper function around Parse to open and close a file automatically.
func File(path string, mode LoadMode) (*FnProto, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	return Parse(path, src, mode)
}

// Parse will, depending on the LoadMode, parse a text file and return bytecode
// or if the load mode is binary, it will undump an already parsed fnproto.
func Parse(filename string, src io.ReadSeeker, mode LoadMode) (*FnProto, error) {
	if mode&ModeBinary == ModeBinary && hasBinaryPrefix(src) {
		return Undump(src)
	}
	return New().Parse(filename, src)
}

// Parse compiles a whole chunk into its main prototype. Nothing is returned
// unless the whole chunk compiled.
func (p *Parser) Parse(filename string, src io.Reader) (*FnProto, error) {
	fn := &FnProto{
		Name:     "main",
		Filename: filename,
		Kind:     KindMain,
		Params:   []string{"this", "vargv"},
		Varargs:  true,
		LineInfo: LineInfo{Line: 1, Column: 1},
	}
	fs := newFuncState(nil, fn)
	if _, err := fs.pushLocal("this"); err != nil {
		return nil, err
	} else if _, err := fs.pushLocal("vargv"); err != nil {
		return nil, err
	}
	p.filename = filename
	p.lex = newLexer(filename, src)
	for {
		tk, err := p.peek()
		if err != nil {
			return nil, err
		} else if tk.Kind == tokenEOS {
			break
		}
		if err := p.statement(fs); err != nil {
			return nil, err
		}
	}
	p.code(fs, bytecode.IAB(bytecode.RETURN, bytecode.NoTarget, 0))
	fs.setStackSize(0)
	log.Debugf("compiled %s: %d instructions, %d functions", filename, len(fn.ByteCodes), len(fn.FnTable))
	return fn, nil
}

func (p *Parser) parseErr(tk *token, err error) error {
	if err == nil {
		return nil
	}
	var exErr *lerrors.Error
	if errors.As(err, &exErr) {
		return err
	}
	newErr := &lerrors.Error{
		Kind:     lerrors.ParserErr,
		Filename: p.filename,
		Err:      err,
	}
	if tk != nil {
		newErr.Line = tk.Line
		newErr.Column = tk.Column
	} else {
		newErr.Line = p.lastTokenInfo.Line
		newErr.Column = p.lastTokenInfo.Column
	}
	return newErr
}

func (p *Parser) errorf(tk *token, format string, args ...any) error {
	return p.parseErr(tk, fmt.Errorf(format, args...))
}

func (p *Parser) peek() (*token, error) {
	tk, err := p.lex.Peek()
	if err != nil {
		return tk, p.parseErr(tk, err)
	}
	return tk, nil
}

func (p *Parser) peekIs(tt tokenType) bool {
	tk, err := p.peek()
	return err == nil && tk.Kind == tt
}

func (p *Parser) consumeToken(tt tokenType) (*token, error) {
	tk, err := p.lex.Next()
	if errors.Is(err, io.EOF) {
		return nil, p.errorf(&token{LineInfo: p.lex.LineInfo}, "expected '%s' but reached end of source", tt)
	} else if err != nil {
		return nil, p.parseErr(tk, err)
	} else if tt != tk.Kind {
		return nil, p.errorf(tk, "expected '%s' but found %v", tt, tk)
	}
	p.lastTokenInfo = tk.LineInfo
	return tk, nil
}

func (p *Parser) next(tt tokenType) error {
	_, err := p.consumeToken(tt)
	return err
}

// nextToken consumes whatever token is next.
func (p *Parser) nextToken() (*token, error) {
	tk, err := p.lex.Next()
	if errors.Is(err, io.EOF) {
		return &token{Kind: tokenEOS, LineInfo: p.lex.LineInfo}, nil
	} else if err != nil {
		return nil, p.parseErr(tk, err)
	}
	p.lastTokenInfo = tk.LineInfo
	return tk, nil
}

// case something goes funky.
func (p *Parser) mustnext(tt tokenType) *token {
	tk, err := p.consumeToken(tt)
	if err != nil {
		panic(err)
	}
	return tk
}

func (p *Parser) optionalSemicolon() error {
	if p.peekIs(tokenSemiColon) {
		return p.next(tokenSemiColon)
	}
	return nil
}

func (p *Parser) code(fs *funcState, inst uint64) int {
	return fs.code(inst, p.lastTokenInfo)
}

func (p *Parser) endScope(fs *funcState, sc scope) {
	if fs.endScope(sc) {
		p.code(fs, bytecode.IAB(bytecode.CLOSE, 0, uint16(sc.stackSize)))
	}
}

func (p *Parser) statement(fs *funcState) error {
	tk, err := p.peek()
	if err != nil {
		return err
	}
	switch tk.Kind {
	case tokenSemiColon:
		return p.next(tokenSemiColon)
	case tokenIf:
		return p.ifstat(fs)
	case tokenWhile:
		return p.whilestat(fs)
	case tokenDo:
		return p.dostat(fs)
	case tokenFor:
		return p.forstat(fs)
	case tokenForeach:
		return p.foreachstat(fs)
	case tokenBreak, tokenContinue:
		return p.jumpstat(fs)
	case tokenReturn:
		return p.retstat(fs)
	case tokenVar:
		return p.localstat(fs)
	case tokenConst:
		return p.conststat()
	case tokenEnum:
		return p.enumstat()
	case tokenFunction:
		return p.funcstat(fs, tokenFunction, KindFunction)
	case tokenRule:
		return p.funcstat(fs, tokenRule, KindRule)
	case tokenCluster:
		return p.funcstat(fs, tokenCluster, KindCluster)
	case tokenSeq:
		return p.funcstat(fs, tokenSeq, KindSequence)
	case tokenClass:
		return p.classstat(fs)
	case tokenOpenCurly:
		sc := fs.beginScope()
		if err := p.block(fs); err != nil {
			return err
		}
		p.endScope(fs, sc)
		return nil
	default:
		if err := p.expression(fs); err != nil {
			return err
		}
		fs.popTarget()
		return p.optionalSemicolon()
	}
}

// block -> '{' {statement} '}'. The caller owns the scope.
func (p *Parser) block(fs *funcState) error {
	if err := p.next(tokenOpenCurly); err != nil {
		return err
	}
	for {
		tk, err := p.peek()
		if err != nil {
			return err
		} else if tk.Kind == tokenCloseCurly {
			break
		} else if tk.Kind == tokenEOS {
			return p.errorf(tk, "expected '}' but reached end of source")
		}
		if err := p.statement(fs); err != nil {
			return err
		}
	}
	return p.next(tokenCloseCurly)
}

// scopedStatement compiles a statement in its own scope.
func (p *Parser) scopedStatement(fs *funcState) error {
	sc := fs.beginScope()
	if err := p.statement(fs); err != nil {
		return err
	}
	p.endScope(fs, sc)
	return nil
}

// condition -> '(' expression ')' and returns the slot of the result.
func (p *Parser) condition(fs *funcState) (int, error) {
	if err := p.next(tokenOpenParen); err != nil {
		return 0, err
	} else if err := p.expression(fs); err != nil {
		return 0, err
	}
	return fs.popTarget(), p.next(tokenCloseParen)
}

// ifstat -> IF '(' exp ')' statement [ELSE statement].
func (p *Parser) ifstat(fs *funcState) error {
	p.mustnext(tokenIf)
	cond, err := p.condition(fs)
	if err != nil {
		return err
	}
	ijz := p.code(fs, bytecode.IAsBx(bytecode.JZ, uint8(cond), 0))
	if err := p.scopedStatement(fs); err != nil {
		return err
	}
	if !p.peekIs(tokenElse) {
		fs.patchJump(ijz, fs.pc())
		return nil
	}
	p.mustnext(tokenElse)
	ijmp := p.code(fs, bytecode.IAsBx(bytecode.JMP, 0, 0))
	fs.patchJump(ijz, fs.pc())
	if err := p.scopedStatement(fs); err != nil {
		return err
	}
	fs.patchJump(ijmp, fs.pc())
	return nil
}

// whilestat -> WHILE '(' exp ')' statement.
func (p *Parser) whilestat(fs *funcState) error {
	p.mustnext(tokenWhile)
	istart := fs.pc()
	cond, err := p.condition(fs)
	if err != nil {
		return err
	}
	ijz := p.code(fs, bytecode.IAsBx(bytecode.JZ, uint8(cond), 0))
	fs.beginLoop()
	if err := p.scopedStatement(fs); err != nil {
		return err
	}
	fs.patchJump(p.code(fs, bytecode.IAsBx(bytecode.JMP, 0, 0)), istart)
	iend := fs.pc()
	fs.patchJump(ijz, iend)
	fs.endLoop(istart, iend)
	return nil
}

// dostat -> DO statement WHILE '(' exp ')'.
func (p *Parser) dostat(fs *funcState) error {
	p.mustnext(tokenDo)
	istart := fs.pc()
	fs.beginLoop()
	if err := p.scopedStatement(fs); err != nil {
		return err
	} else if err := p.next(tokenWhile); err != nil {
		return err
	}
	icond := fs.pc()
	cond, err := p.condition(fs)
	if err != nil {
		return err
	}
	ijz := p.code(fs, bytecode.IAsBx(bytecode.JZ, uint8(cond), 0))
	fs.patchJump(p.code(fs, bytecode.IAsBx(bytecode.JMP, 0, 0)), istart)
	iend := fs.pc()
	fs.patchJump(ijz, iend)
	fs.endLoop(icond, iend)
	return p.optionalSemicolon()
}

// forstat -> FOR '(' [init] ';' [cond] ';' [incr] ')' statement.
// The increment is compiled before the body and moved after it.
func (p *Parser) forstat(fs *funcState) error {
	p.mustnext(tokenFor)
	if err := p.next(tokenOpenParen); err != nil {
		return err
	}
	sc := fs.beginScope()
	if p.peekIs(tokenVar) {
		if err := p.localstat(fs); err != nil {
			return err
		}
	} else if !p.peekIs(tokenSemiColon) {
		if err := p.expression(fs); err != nil {
			return err
		}
		fs.popTarget()
		if err := p.next(tokenSemiColon); err != nil {
			return err
		}
	} else {
		p.mustnext(tokenSemiColon)
	}

	icond, ijz := fs.pc(), -1
	if !p.peekIs(tokenSemiColon) {
		if err := p.expression(fs); err != nil {
			return err
		}
		ijz = p.code(fs, bytecode.IAsBx(bytecode.JZ, uint8(fs.popTarget()), 0))
	}
	if err := p.next(tokenSemiColon); err != nil {
		return err
	}

	iincr := fs.pc()
	if !p.peekIs(tokenCloseParen) {
		if err := p.expression(fs); err != nil {
			return err
		}
		fs.popTarget()
	}
	if err := p.next(tokenCloseParen); err != nil {
		return err
	}
	incr := append([]uint64{}, fs.fn.ByteCodes[iincr:]...)
	incrLines := append([]LineInfo{}, fs.fn.LineTrace[iincr:]...)
	fs.fn.ByteCodes = fs.fn.ByteCodes[:iincr]
	fs.fn.LineTrace = fs.fn.LineTrace[:iincr]

	fs.beginLoop()
	if err := p.scopedStatement(fs); err != nil {
		return err
	}
	icontinue := fs.pc()
	for i, inst := range incr {
		fs.code(inst, incrLines[i])
	}
	fs.patchJump(p.code(fs, bytecode.IAsBx(bytecode.JMP, 0, 0)), icond)
	iend := fs.pc()
	if ijz >= 0 {
		fs.patchJump(ijz, iend)
	}
	fs.endLoop(icontinue, iend)
	p.endScope(fs, sc)
	return nil
}

// foreachstat -> FOREACH '(' [key ','] value IN exp ')' statement.
func (p *Parser) foreachstat(fs *funcState) error {
	p.mustnext(tokenForeach)
	if err := p.next(tokenOpenParen); err != nil {
		return err
	}
	first, err := p.consumeToken(tokenIdentifier)
	if err != nil {
		return err
	}
	keyName, valName := "@key", first.StringVal
	if p.peekIs(tokenComma) {
		p.mustnext(tokenComma)
		second, err := p.consumeToken(tokenIdentifier)
		if err != nil {
			return err
		}
		keyName, valName = first.StringVal, second.StringVal
	}
	if err := p.next(tokenIn); err != nil {
		return err
	}

	sc := fs.beginScope()
	if err := p.expression(fs); err != nil {
		return err
	} else if err := p.next(tokenCloseParen); err != nil {
		return err
	}
	src := fs.popTarget()
	container, err := fs.pushLocal("@container")
	if err != nil {
		return p.parseErr(first, err)
	} else if container != src {
		p.code(fs, bytecode.IAB(bytecode.MOVE, uint8(container), uint16(src)))
	}
	keyPos, err := fs.pushLocal(keyName)
	if err != nil {
		return p.parseErr(first, err)
	} else if _, err := fs.pushLocal(valName); err != nil {
		return p.parseErr(first, err)
	}
	iterPos, err := fs.pushLocal("@iterator")
	if err != nil {
		return p.parseErr(first, err)
	}
	p.code(fs, bytecode.IAB(bytecode.LOADNULL, uint8(keyPos), 2))
	p.code(fs, bytecode.IAsBx(bytecode.LOADINT, uint8(iterPos), 0))

	fs.beginLoop()
	iforeach := p.code(fs, bytecode.IABsC(bytecode.FOREACH, uint8(container), uint16(keyPos), 0))
	if err := p.scopedStatement(fs); err != nil {
		return err
	}
	ipost := p.code(fs, bytecode.IABsC(bytecode.POSTFOREACH, uint8(container), uint16(keyPos), 0))
	if err := fs.patchShortJump(ipost, iforeach); err != nil {
		return p.parseErr(first, err)
	}
	iend := fs.pc()
	if err := fs.patchShortJump(iforeach, iend); err != nil {
		return p.parseErr(first, err)
	}
	fs.endLoop(ipost, iend)
	p.endScope(fs, sc)
	return nil
}

// jumpstat -> BREAK | CONTINUE.
func (p *Parser) jumpstat(fs *funcState) error {
	tk, err := p.nextToken()
	if err != nil {
		return err
	} else if !fs.inLoop() {
		return p.errorf(tk, "'%s' has to be in a loop block", tk.Kind)
	}
	loop := fs.currentLoop()
	if fs.capturedAbove(loop.stackSize) > 0 {
		p.code(fs, bytecode.IAB(bytecode.CLOSE, 0, uint16(loop.stackSize)))
	}
	ijmp := p.code(fs, bytecode.IAsBx(bytecode.JMP, 0, 0))
	if tk.Kind == tokenBreak {
		fs.breaks = append(fs.breaks, ijmp)
	} else {
		fs.continues = append(fs.continues, ijmp)
	}
	return p.optionalSemicolon()
}

// retstat -> RETURN [exp].
func (p *Parser) retstat(fs *funcState) error {
	p.mustnext(tokenReturn)
	retOp := bytecode.RETURN
	if fs.fn.Kind == KindRule {
		retOp = bytecode.RETURNBOOL
	}
	tk, err := p.peek()
	if err != nil {
		return err
	}
	switch tk.Kind {
	case tokenSemiColon, tokenCloseCurly, tokenEOS:
		p.code(fs, bytecode.IAB(retOp, bytecode.NoTarget, 0))
		return p.optionalSemicolon()
	}
	if err := p.expression(fs); err != nil {
		return err
	}
	ret := fs.popTarget()
	if op, inst, ok := fs.lastOp(); ok && op == bytecode.CALL && bytecode.GetA(inst) == int64(ret) && canTailCall(fs.fn.Kind) {
		last := len(fs.fn.ByteCodes) - 1
		fs.fn.ByteCodes[last] = inst&^0xFF | uint64(bytecode.TAILCALL)
	}
	p.code(fs, bytecode.IAB(retOp, uint8(ret), 0))
	return p.optionalSemicolon()
}

func canTailCall(kind ClosureKind) bool {
	switch kind {
	case KindFunction, KindLambda, KindMember, KindCluster:
		return true
	default:
		return false
	}
}

// localstat -> VAR name ['=' exp] {',' name ['=' exp]}.
func (p *Parser) localstat(fs *funcState) error {
	p.mustnext(tokenVar)
	for {
		name, err := p.consumeToken(tokenIdentifier)
		if err != nil {
			return err
		}
		if p.peekIs(tokenAssign) {
			p.mustnext(tokenAssign)
			if err := p.expression(fs); err != nil {
				return err
			}
			src := fs.popTarget()
			dst, err := fs.pushTarget()
			if err != nil {
				return p.parseErr(name, err)
			} else if dst != src {
				p.code(fs, bytecode.IAB(bytecode.MOVE, uint8(dst), uint16(src)))
			}
		} else {
			dst, err := fs.pushTarget()
			if err != nil {
				return p.parseErr(name, err)
			}
			p.code(fs, bytecode.IAB(bytecode.LOADNULL, uint8(dst), 1))
		}
		fs.popTarget()
		if _, err := fs.pushLocal(name.StringVal); err != nil {
			return p.parseErr(name, err)
		}
		if !p.peekIs(tokenComma) {
			break
		}
		p.mustnext(tokenComma)
	}
	return p.optionalSemicolon()
}

// conststat -> CONST name '=' (scalar | '{' name '=' scalar {',' ...} '}').
func (p *Parser) conststat() error {
	p.mustnext(tokenConst)
	name, err := p.consumeToken(tokenIdentifier)
	if err != nil {
		return err
	} else if _, exists := p.consts[name.StringVal]; exists {
		return p.errorf(name, "constant '%s' already exists", name.StringVal)
	} else if err := p.next(tokenAssign); err != nil {
		return err
	}
	var val any
	if p.peekIs(tokenOpenCurly) {
		val, err = p.constDict()
	} else {
		val, err = p.constScalar()
	}
	if err != nil {
		return err
	}
	p.consts[name.StringVal] = val
	return p.optionalSemicolon()
}

// enumstat -> ENUM name '{' name ['=' scalar] {',' ...} '}'.
func (p *Parser) enumstat() error {
	p.mustnext(tokenEnum)
	name, err := p.consumeToken(tokenIdentifier)
	if err != nil {
		return err
	} else if _, exists := p.consts[name.StringVal]; exists {
		return p.errorf(name, "constant '%s' already exists", name.StringVal)
	} else if err := p.next(tokenOpenCurly); err != nil {
		return err
	}
	members := map[string]any{}
	var nextVal int64
	for !p.peekIs(tokenCloseCurly) {
		member, err := p.consumeToken(tokenIdentifier)
		if err != nil {
			return err
		}
		val := any(nextVal)
		if p.peekIs(tokenAssign) {
			p.mustnext(tokenAssign)
			if val, err = p.constScalar(); err != nil {
				return err
			}
		}
		if ival, isInt := val.(int64); isInt {
			nextVal = ival + 1
		}
		members[member.StringVal] = val
		if p.peekIs(tokenComma) {
			p.mustnext(tokenComma)
		}
	}
	p.mustnext(tokenCloseCurly)
	p.consts[name.StringVal] = members
	return p.optionalSemicolon()
}

func (p *Parser) constDict() (map[string]any, error) {
	p.mustnext(tokenOpenCurly)
	dict := map[string]any{}
	for !p.peekIs(tokenCloseCurly) {
		key, err := p.nextToken()
		if err != nil {
			return nil, err
		} else if key.Kind != tokenIdentifier && key.Kind != tokenString {
			return nil, p.errorf(key, "expected constant key but found %v", key)
		}
		if p.peekIs(tokenColon) {
			p.mustnext(tokenColon)
		} else if err := p.next(tokenAssign); err != nil {
			return nil, err
		}
		val, err := p.constScalar()
		if err != nil {
			return nil, err
		}
		dict[key.StringVal] = val
		if p.peekIs(tokenComma) {
			p.mustnext(tokenComma)
		}
	}
	p.mustnext(tokenCloseCurly)
	return dict, nil
}

// constScalar parses a literal scalar, a negated number or the name of
// another scalar constant.
func (p *Parser) constScalar() (any, error) {
	tk, err := p.nextToken()
	if err != nil {
		return nil, err
	}
	switch tk.Kind {
	case tokenInteger:
		return tk.IntVal, nil
	case tokenFloat:
		return tk.FloatVal, nil
	case tokenComplex:
		return complex(0, tk.FloatVal), nil
	case tokenString:
		return tk.StringVal, nil
	case tokenTrue:
		return true, nil
	case tokenFalse:
		return false, nil
	case tokenMinus:
		val, err := p.constScalar()
		if err != nil {
			return nil, err
		}
		switch tval := val.(type) {
		case int64:
			return -tval, nil
		case float64:
			return -tval, nil
		case complex128:
			return -tval, nil
		}
		return nil, p.errorf(tk, "cannot negate constant %v", val)
	case tokenIdentifier:
		if val, ok := p.consts[tk.StringVal]; ok {
			if _, isDict := val.(map[string]any); !isDict {
				return val, nil
			}
		}
	}
	return nil, p.errorf(tk, "scalar constant expected, found %v", tk)
}

// funcstat -> (FUNCTION | RULE | CLUSTER | SEQ) name {'.' name} head body.
// The callable is stored with NEWSLOT into this.
func (p *Parser) funcstat(fs *funcState, tt tokenType, kind ClosureKind) error {
	p.mustnext(tt)
	name, err := p.consumeToken(tokenIdentifier)
	if err != nil {
		return err
	}
	fs.pushTargetAt(0)
	if err := p.loadLiteral(fs, name, name.StringVal); err != nil {
		return err
	}
	for p.peekIs(tokenPeriod) {
		if err := p.emitGet(fs, name); err != nil {
			return err
		}
		p.mustnext(tokenPeriod)
		if name, err = p.consumeToken(tokenIdentifier); err != nil {
			return err
		} else if err := p.loadLiteral(fs, name, name.StringVal); err != nil {
			return err
		}
	}
	if err := p.closure(fs, name, name.StringVal, kind); err != nil {
		return err
	}
	if err := p.emitDerefOp(fs, name, bytecode.NEWSLOT); err != nil {
		return err
	}
	fs.popTarget()
	return p.optionalSemicolon()
}

// classstat -> CLASS name [EXTENDS exp] classbody.
func (p *Parser) classstat(fs *funcState) error {
	p.mustnext(tokenClass)
	name, err := p.consumeToken(tokenIdentifier)
	if err != nil {
		return err
	}
	fs.pushTargetAt(0)
	if err := p.loadLiteral(fs, name, name.StringVal); err != nil {
		return err
	} else if err := p.classExp(fs, name); err != nil {
		return err
	} else if err := p.emitDerefOp(fs, name, bytecode.NEWSLOT); err != nil {
		return err
	}
	fs.popTarget()
	return p.optionalSemicolon()
}

func (p *Parser) classExp(fs *funcState, name *token) error {
	base, hasBase := 0, uint16(0)
	if p.peekIs(tokenExtends) {
		p.mustnext(tokenExtends)
		if err := p.expression(fs); err != nil {
			return err
		}
		base, hasBase = fs.popTarget(), 1
	}
	cls, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(name, err)
	}
	p.code(fs, bytecode.IABCD(bytecode.NEWOBJECT, uint8(cls), bytecode.ObjClass, uint16(base), hasBase))
	if err := p.next(tokenOpenCurly); err != nil {
		return err
	}
	for !p.peekIs(tokenCloseCurly) {
		tk, err := p.nextToken()
		if err != nil {
			return err
		}
		switch tk.Kind {
		case tokenFunction:
			member, err := p.consumeToken(tokenIdentifier)
			if err != nil {
				return err
			} else if err := p.loadLiteral(fs, member, member.StringVal); err != nil {
				return err
			} else if err := p.closure(fs, member, name.StringVal+"."+member.StringVal, KindMember); err != nil {
				return err
			}
		case tokenConstructor:
			if err := p.loadLiteral(fs, tk, "constructor"); err != nil {
				return err
			} else if err := p.closure(fs, tk, name.StringVal+".constructor", KindConstructor); err != nil {
				return err
			}
		case tokenOpenBracket:
			if err := p.expression(fs); err != nil {
				return err
			} else if err := p.next(tokenCloseBracket); err != nil {
				return err
			} else if err := p.next(tokenAssign); err != nil {
				return err
			} else if err := p.expression(fs); err != nil {
				return err
			}
		case tokenIdentifier:
			if err := p.loadLiteral(fs, tk, tk.StringVal); err != nil {
				return err
			} else if err := p.next(tokenAssign); err != nil {
				return err
			} else if err := p.expression(fs); err != nil {
				return err
			}
		default:
			return p.errorf(tk, "unexpected %v in class body", tk)
		}
		if p.peekIs(tokenSemiColon) || p.peekIs(tokenComma) {
			if _, err := p.nextToken(); err != nil {
				return err
			}
		}
		val := fs.popTarget()
		key := fs.popTarget()
		p.code(fs, bytecode.IABCD(bytecode.NEWSLOT, bytecode.NoTarget, uint16(fs.topTarget()), uint16(key), uint16(val)))
	}
	return p.next(tokenCloseCurly)
}

// closure compiles a nested callable whose head starts at the next token and
// pushes a CLOSURE of it on the target stack.
func (p *Parser) closure(fs *funcState, tk *token, name string, kind ClosureKind) error {
	idx, err := p.callable(fs, tk, name, kind)
	if err != nil {
		return err
	}
	target, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	p.code(fs, bytecode.IABx(bytecode.CLOSURE, uint8(target), idx))
	return nil
}

// callable parses the head (parameters, constraints or initial terms) and the
// body of a nested callable under a child function state.
func (p *Parser) callable(fs *funcState, tk *token, name string, kind ClosureKind) (uint32, error) {
	fn := &FnProto{
		Name:     name,
		Filename: p.filename,
		Kind:     kind,
		Params:   []string{"this"},
		LineInfo: tk.LineInfo,
	}
	cfs := newFuncState(fs, fn)
	if _, err := cfs.pushLocal("this"); err != nil {
		return 0, p.parseErr(tk, err)
	}

	var err error
	switch kind {
	case KindCluster:
		err = p.clusterHead(cfs, tk)
	case KindSequence:
		err = p.sequenceHead(cfs, tk)
	default:
		err = p.paramList(fs, cfs, tk)
	}
	if err != nil {
		return 0, err
	}

	retOp := bytecode.RETURN
	if kind == KindRule {
		retOp = bytecode.RETURNBOOL
	}
	switch {
	case kind == KindLambda:
		err = p.exprBody(cfs, retOp)
	case (kind == KindRule || kind == KindCluster || kind == KindSequence) && p.peekIs(tokenArrow):
		p.mustnext(tokenArrow)
		err = p.exprBody(cfs, retOp)
	default:
		err = p.block(cfs)
	}
	if err != nil {
		return 0, err
	}
	p.code(cfs, bytecode.IAB(retOp, bytecode.NoTarget, 0))
	cfs.setStackSize(0)
	return fs.addFn(fn), nil
}

func (p *Parser) exprBody(cfs *funcState, retOp bytecode.Op) error {
	if err := p.expression(cfs); err != nil {
		return err
	}
	p.code(cfs, bytecode.IAB(retOp, uint8(cfs.popTarget()), 0))
	return nil
}

// paramList -> '(' [name ['=' exp] {',' name ['=' exp]}] [',' '...'] ')'.
// Default values are evaluated in the enclosing function.
func (p *Parser) paramList(fs, cfs *funcState, tk *token) error {
	if err := p.next(tokenOpenParen); err != nil {
		return err
	}
	ndefaults := 0
	for !p.peekIs(tokenCloseParen) {
		if p.peekIs(tokenDots) {
			dots := p.mustnext(tokenDots)
			if ndefaults > 0 {
				return p.errorf(dots, "function with default parameters cannot have variable number of parameters")
			} else if cfs.fn.Kind == KindRule {
				return p.errorf(dots, "rule '%s' cannot have variable number of parameters", cfs.fn.Name)
			}
			cfs.fn.Params = append(cfs.fn.Params, "vargv")
			cfs.fn.Varargs = true
			if _, err := cfs.pushLocal("vargv"); err != nil {
				return p.parseErr(dots, err)
			} else if !p.peekIs(tokenCloseParen) {
				return p.errorf(dots, "expected ')' after '...'")
			}
			break
		}
		param, err := p.consumeToken(tokenIdentifier)
		if err != nil {
			return err
		}
		cfs.fn.Params = append(cfs.fn.Params, param.StringVal)
		if _, err := cfs.pushLocal(param.StringVal); err != nil {
			return p.parseErr(param, err)
		}
		if p.peekIs(tokenAssign) {
			eq := p.mustnext(tokenAssign)
			if cfs.fn.Kind == KindRule {
				return p.errorf(eq, "rule '%s' cannot have default parameters", cfs.fn.Name)
			} else if err := p.expression(fs); err != nil {
				return err
			}
			cfs.fn.DefaultParams = append(cfs.fn.DefaultParams, fs.topTarget())
			ndefaults++
		} else if ndefaults > 0 {
			return p.errorf(param, "expected '=' after parameter '%s' following default parameters", param.StringVal)
		}
		if p.peekIs(tokenComma) {
			p.mustnext(tokenComma)
		} else if !p.peekIs(tokenCloseParen) {
			next, _ := p.peek()
			return p.errorf(next, "expected ')' or ',' but found %v", next)
		}
	}
	for range ndefaults {
		fs.popTarget()
	}
	return p.next(tokenCloseParen)
}

// clusterHead -> '{' name IN space {',' name IN space} '}'.
func (p *Parser) clusterHead(cfs *funcState, tk *token) error {
	if err := p.next(tokenOpenCurly); err != nil {
		return err
	}
	for !p.peekIs(tokenCloseCurly) {
		param, err := p.consumeToken(tokenIdentifier)
		if err != nil {
			return err
		} else if err := p.next(tokenIn); err != nil {
			return err
		}
		space, err := p.consumeToken(tokenSpace)
		if err != nil {
			return err
		}
		cfs.fn.Params = append(cfs.fn.Params, param.StringVal)
		cfs.fn.Constraints = append(cfs.fn.Constraints, space.Space)
		if _, err := cfs.pushLocal(param.StringVal); err != nil {
			return p.parseErr(param, err)
		}
		if p.peekIs(tokenComma) {
			p.mustnext(tokenComma)
		}
	}
	p.mustnext(tokenCloseCurly)
	if len(cfs.fn.Constraints) == 0 {
		return p.errorf(tk, "cluster '%s' requires at least one constraint", cfs.fn.Name)
	}
	return nil
}

// sequenceHead -> '(' name ')' '{' number ':' number {',' ...} '}'.
func (p *Parser) sequenceHead(cfs *funcState, tk *token) error {
	if err := p.next(tokenOpenParen); err != nil {
		return err
	}
	index, err := p.consumeToken(tokenIdentifier)
	if err != nil {
		return err
	} else if err := p.next(tokenCloseParen); err != nil {
		return err
	}
	cfs.fn.Params = append(cfs.fn.Params, index.StringVal)
	if _, err := cfs.pushLocal(index.StringVal); err != nil {
		return p.parseErr(index, err)
	}
	if err := p.next(tokenOpenCurly); err != nil {
		return err
	}
	for !p.peekIs(tokenCloseCurly) {
		keyTk, _ := p.peek()
		key, err := p.constScalar()
		if err != nil {
			return err
		}
		fkey, isNum := numericConst(key)
		if !isNum {
			return p.errorf(keyTk, "sequence '%s' initial index must be a number, found %v", cfs.fn.Name, key)
		} else if err := p.next(tokenColon); err != nil {
			return err
		}
		valTk, _ := p.peek()
		val, err := p.constScalar()
		if err != nil {
			return err
		} else if _, isNum := numericConst(val); !isNum {
			return p.errorf(valTk, "sequence '%s' initial value must be a number, found %v", cfs.fn.Name, val)
		}
		cfs.fn.SeqTerms = append(cfs.fn.SeqTerms, SeqTerm{Key: fkey, Value: val})
		if p.peekIs(tokenComma) {
			p.mustnext(tokenComma)
		}
	}
	p.mustnext(tokenCloseCurly)
	return nil
}

func numericConst(val any) (float64, bool) {
	switch tval := val.(type) {
	case int64:
		return float64(tval), true
	case float64:
		return tval, true
	default:
		return 0, false
	}
}
