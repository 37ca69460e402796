package parse

import (
	"math"

	"github.com/semihM/exmat-sub000/src/bytecode"
)

type (
	expKind uint8
	// expState describes what the last parsed expression resolved to so that
	// the surrounding expression can decide how to read or write it.
	expState struct {
		kind  expKind
		pos   int  // slot for locals, outer index for outers
		noGet bool // the caller wants the container and key left on the stack
	}
)

const (
	expExpr   expKind = iota // value sits in a target slot
	expLocal                 // value is a named local
	expOuter                 // value is an outer not yet loaded
	expObject                // container and key are on the target stack
	expBase                  // result of 'base'
	expConst                 // value loaded from the constant table
)

// expression -> logicalOr [assignop expression | '?' expression ':' expression].
func (p *Parser) expression(fs *funcState) error {
	es := &expState{kind: expExpr, pos: -1}
	if err := p.logicalOr(fs, es); err != nil {
		return err
	}
	tk, err := p.peek()
	if err != nil {
		return err
	}
	switch {
	case isAssignment(tk.Kind):
		return p.assignment(fs, es, tk)
	case tk.Kind == tokenQuestion:
		return p.ternary(fs)
	}
	return nil
}

func (p *Parser) assignment(fs *funcState, es *expState, tk *token) error {
	p.mustnext(tk.Kind)
	switch es.kind {
	case expExpr:
		return p.errorf(tk, "can't assign expression")
	case expBase:
		return p.errorf(tk, "'base' cannot be modified")
	case expConst:
		return p.errorf(tk, "cannot assign to a constant")
	}
	if err := p.expression(fs); err != nil {
		return err
	}
	switch tk.Kind {
	case tokenNewSlot:
		if es.kind != expObject {
			return p.errorf(tk, "can't create a local slot, use var")
		}
		return p.emitDerefOp(fs, tk, bytecode.NEWSLOT)
	case tokenAssign:
		switch es.kind {
		case expLocal:
			src := fs.popTarget()
			dst := fs.topTarget()
			p.code(fs, bytecode.IAB(bytecode.MOVE, uint8(dst), uint16(src)))
		case expObject:
			return p.emitDerefOp(fs, tk, bytecode.SET)
		case expOuter:
			src := fs.popTarget()
			dst, err := fs.pushTarget()
			if err != nil {
				return p.parseErr(tk, err)
			}
			p.code(fs, bytecode.IABC(bytecode.SETOUTER, uint8(dst), uint16(es.pos), uint16(src)))
		}
		return nil
	default:
		return p.compoundArith(fs, es, tk)
	}
}

// compoundArith compiles a op= b as a = a op b reading the target once.
func (p *Parser) compoundArith(fs *funcState, es *expState, tk *token) error {
	op := arithOps[tk.Kind]
	switch es.kind {
	case expLocal:
		val := fs.popTarget()
		lcl := fs.topTarget()
		p.code(fs, bytecode.IABC(op, uint8(lcl), uint16(lcl), uint16(val)))
	case expOuter:
		val := fs.topTarget()
		tmp, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IAB(bytecode.GETOUTER, uint8(tmp), uint16(es.pos)))
		p.code(fs, bytecode.IABC(op, uint8(tmp), uint16(tmp), uint16(val)))
		fs.popTarget()
		fs.popTarget()
		dst, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IABC(bytecode.SETOUTER, uint8(dst), uint16(es.pos), uint16(tmp)))
	case expObject:
		ntargets := len(fs.targets)
		src, key, val := fs.targets[ntargets-3], fs.targets[ntargets-2], fs.targets[ntargets-1]
		tmp, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IABCD(bytecode.GET, uint8(tmp), uint16(src), uint16(key), rootFlag(src)))
		p.code(fs, bytecode.IABC(op, uint8(tmp), uint16(tmp), uint16(val)))
		p.code(fs, bytecode.IABCD(bytecode.SET, uint8(tmp), uint16(src), uint16(key), uint16(tmp)))
		fs.popTarget()
		fs.popTarget()
		fs.popTarget()
		fs.popTarget()
		dst, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		} else if dst != tmp {
			p.code(fs, bytecode.IAB(bytecode.MOVE, uint8(dst), uint16(tmp)))
		}
	}
	return nil
}

// ternary -> '?' expression ':' expression, the condition is on the target stack.
func (p *Parser) ternary(fs *funcState) error {
	tk := p.mustnext(tokenQuestion)
	cond := fs.popTarget()
	ijz := p.code(fs, bytecode.IAsBx(bytecode.JZ, uint8(cond), 0))
	trg, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	if err := p.expression(fs); err != nil {
		return err
	}
	if first := fs.popTarget(); first != trg {
		p.code(fs, bytecode.IAB(bytecode.MOVE, uint8(trg), uint16(first)))
	}
	ijmp := p.code(fs, bytecode.IAsBx(bytecode.JMP, 0, 0))
	if err := p.next(tokenColon); err != nil {
		return err
	}
	fs.patchJump(ijz, fs.pc())
	if err := p.expression(fs); err != nil {
		return err
	}
	if second := fs.popTarget(); second != trg {
		p.code(fs, bytecode.IAB(bytecode.MOVE, uint8(trg), uint16(second)))
	}
	fs.patchJump(ijmp, fs.pc())
	return nil
}

// shortCircuit compiles the right hand side of && and ||. The jump skips the
// right hand side leaving the left value in the target.
func (p *Parser) shortCircuit(fs *funcState, es *expState, op bytecode.Op, operand func(*funcState, *expState) error) error {
	tk, err := p.nextToken()
	if err != nil {
		return err
	}
	first := fs.popTarget()
	trg, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	ijmp := p.code(fs, bytecode.IABsC(op, uint8(trg), uint16(first), 0))
	if err := operand(fs, &expState{kind: expExpr, pos: -1}); err != nil {
		return err
	}
	if second := fs.popTarget(); second != trg {
		p.code(fs, bytecode.IAB(bytecode.MOVE, uint8(trg), uint16(second)))
	}
	if err := fs.patchShortJump(ijmp, fs.pc()); err != nil {
		return p.parseErr(tk, err)
	}
	es.kind = expExpr
	return nil
}

func (p *Parser) logicalOr(fs *funcState, es *expState) error {
	if err := p.logicalAnd(fs, es); err != nil {
		return err
	}
	if p.peekIs(tokenOr) {
		return p.shortCircuit(fs, es, bytecode.OR, p.logicalOr)
	}
	return nil
}

func (p *Parser) logicalAnd(fs *funcState, es *expState) error {
	if err := p.bitwiseOr(fs, es); err != nil {
		return err
	}
	if p.peekIs(tokenAnd) {
		return p.shortCircuit(fs, es, bytecode.AND, p.logicalAnd)
	}
	return nil
}

// binExp consumes the operator, compiles the right operand and emits
// op target, left, right with an extra D operand.
func (p *Parser) binExp(fs *funcState, es *expState, op bytecode.Op, d uint16, operand func(*funcState, *expState) error) error {
	tk, err := p.nextToken()
	if err != nil {
		return err
	} else if err := operand(fs, &expState{kind: expExpr, pos: -1}); err != nil {
		return err
	}
	right := fs.popTarget()
	left := fs.popTarget()
	trg, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	p.code(fs, bytecode.IABCD(op, uint8(trg), uint16(left), uint16(right), d))
	es.kind = expExpr
	return nil
}

func (p *Parser) bitwiseOr(fs *funcState, es *expState) error {
	if err := p.bitwiseXor(fs, es); err != nil {
		return err
	}
	for p.peekIs(tokenBitwiseOr) {
		if err := p.binExp(fs, es, bytecode.BITW, bytecode.BitOr, p.bitwiseXor); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) bitwiseXor(fs *funcState, es *expState) error {
	if err := p.bitwiseAnd(fs, es); err != nil {
		return err
	}
	for p.peekIs(tokenBitwiseXor) {
		if err := p.binExp(fs, es, bytecode.BITW, bytecode.BitXor, p.bitwiseAnd); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) bitwiseAnd(fs *funcState, es *expState) error {
	if err := p.equality(fs, es); err != nil {
		return err
	}
	for p.peekIs(tokenBitwiseAnd) {
		if err := p.binExp(fs, es, bytecode.BITW, bytecode.BitAnd, p.equality); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) equality(fs *funcState, es *expState) error {
	if err := p.relational(fs, es); err != nil {
		return err
	}
	for {
		tk, err := p.peek()
		if err != nil {
			return err
		}
		switch tk.Kind {
		case tokenEq:
			err = p.binExp(fs, es, bytecode.EQ, 0, p.relational)
		case tokenNe:
			err = p.binExp(fs, es, bytecode.NE, 0, p.relational)
		default:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (p *Parser) relational(fs *funcState, es *expState) error {
	if err := p.shift(fs, es); err != nil {
		return err
	}
	for {
		tk, err := p.peek()
		if err != nil {
			return err
		}
		switch tk.Kind {
		case tokenLt, tokenLe, tokenGt, tokenGe:
			err = p.binExp(fs, es, bytecode.CMP, compareOps[tk.Kind], p.shift)
		case tokenIn:
			err = p.binExp(fs, es, bytecode.EXISTS, 0, p.shift)
		case tokenInstanceof:
			err = p.binExp(fs, es, bytecode.INSTANCEOF, 0, p.shift)
		default:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (p *Parser) shift(fs *funcState, es *expState) error {
	if err := p.additive(fs, es); err != nil {
		return err
	}
	for {
		tk, err := p.peek()
		if err != nil {
			return err
		}
		switch tk.Kind {
		case tokenShiftLeft, tokenShiftRight, tokenUShiftRight:
			if err := p.binExp(fs, es, bytecode.BITW, bitwiseOps[tk.Kind], p.additive); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (p *Parser) additive(fs *funcState, es *expState) error {
	if err := p.multiplicative(fs, es); err != nil {
		return err
	}
	for {
		tk, err := p.peek()
		if err != nil {
			return err
		}
		switch tk.Kind {
		case tokenAdd, tokenMinus:
			if err := p.binExp(fs, es, arithOps[tk.Kind], 0, p.multiplicative); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (p *Parser) multiplicative(fs *funcState, es *expState) error {
	if err := p.unary(fs, es); err != nil {
		return err
	}
	for {
		tk, err := p.peek()
		if err != nil {
			return err
		}
		switch tk.Kind {
		case tokenMultiply, tokenDivide, tokenModulo, tokenExponent, tokenMatMul, tokenCartesian:
			if err := p.binExp(fs, es, arithOps[tk.Kind], 0, p.unary); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// unary -> ('-' | '!' | '~' | TYPEOF) unary | ('++' | '--') prefixed | DELETE prefixed | prefixed.
func (p *Parser) unary(fs *funcState, es *expState) error {
	tk, err := p.peek()
	if err != nil {
		return err
	}
	switch tk.Kind {
	case tokenMinus:
		return p.unaryOp(fs, es, bytecode.NEG)
	case tokenNot:
		return p.unaryOp(fs, es, bytecode.NOT)
	case tokenBitwiseNot:
		return p.unaryOp(fs, es, bytecode.BNOT)
	case tokenTypeof:
		return p.unaryOp(fs, es, bytecode.TYPEOF)
	case tokenPlusPlus, tokenMinusMinus:
		return p.prefixIncDec(fs, es)
	case tokenDelete:
		return p.deleteExp(fs, es)
	default:
		return p.prefixed(fs, es)
	}
}

func (p *Parser) unaryOp(fs *funcState, es *expState, op bytecode.Op) error {
	tk, err := p.nextToken()
	if err != nil {
		return err
	} else if err := p.unary(fs, &expState{kind: expExpr, pos: -1}); err != nil {
		return err
	}
	src := fs.popTarget()
	trg, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	p.code(fs, bytecode.IAB(op, uint8(trg), uint16(src)))
	es.kind = expExpr
	return nil
}

func incDiff(kind tokenType) int16 {
	if kind == tokenPlusPlus {
		return 1
	}
	return -1
}

func (p *Parser) prefixIncDec(fs *funcState, es *expState) error {
	tk, err := p.nextToken()
	if err != nil {
		return err
	}
	diff := incDiff(tk.Kind)
	sub := &expState{kind: expExpr, pos: -1, noGet: true}
	if err := p.prefixed(fs, sub); err != nil {
		return err
	}
	switch sub.kind {
	case expExpr, expConst, expBase:
		return p.errorf(tk, "can't '%s' an expression", tk.Kind)
	case expObject:
		key := fs.popTarget()
		obj := fs.popTarget()
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IABCD(bytecode.INC, uint8(trg), uint16(obj), uint16(key), uint16(diff)))
	case expLocal:
		src := fs.topTarget()
		p.code(fs, bytecode.IABCD(bytecode.INCL, uint8(src), uint16(src), 0, uint16(diff)))
	case expOuter:
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IAB(bytecode.GETOUTER, uint8(trg), uint16(sub.pos)))
		p.code(fs, bytecode.IABCD(bytecode.INCL, uint8(trg), uint16(trg), 0, uint16(diff)))
		p.code(fs, bytecode.IABC(bytecode.SETOUTER, uint8(trg), uint16(sub.pos), uint16(trg)))
	}
	es.kind = expExpr
	return nil
}

func (p *Parser) postfixIncDec(fs *funcState, es *expState) error {
	tk, err := p.nextToken()
	if err != nil {
		return err
	}
	diff := incDiff(tk.Kind)
	switch es.kind {
	case expExpr, expConst, expBase:
		return p.errorf(tk, "can't '%s' an expression", tk.Kind)
	case expObject:
		if es.noGet {
			return p.errorf(tk, "can't '%s' an expression", tk.Kind)
		}
		key := fs.popTarget()
		obj := fs.popTarget()
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IABCD(bytecode.PINC, uint8(trg), uint16(obj), uint16(key), uint16(diff)))
	case expLocal:
		src := fs.popTarget()
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IABCD(bytecode.PINCL, uint8(trg), uint16(src), 0, uint16(diff)))
	case expOuter:
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		tmp, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IAB(bytecode.GETOUTER, uint8(tmp), uint16(es.pos)))
		p.code(fs, bytecode.IABCD(bytecode.PINCL, uint8(trg), uint16(tmp), 0, uint16(diff)))
		p.code(fs, bytecode.IABC(bytecode.SETOUTER, uint8(tmp), uint16(es.pos), uint16(tmp)))
		fs.popTarget()
	}
	es.kind = expExpr
	return nil
}

func (p *Parser) deleteExp(fs *funcState, es *expState) error {
	tk := p.mustnext(tokenDelete)
	sub := &expState{kind: expExpr, pos: -1, noGet: true}
	if err := p.prefixed(fs, sub); err != nil {
		return err
	} else if sub.kind != expObject {
		return p.errorf(tk, "can't delete an expression")
	}
	key := fs.popTarget()
	obj := fs.popTarget()
	trg, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	p.code(fs, bytecode.IABC(bytecode.DELETE, uint8(trg), uint16(obj), uint16(key)))
	es.kind = expExpr
	return nil
}

// needGet reports whether a slot access should be read now or left for the
// operator that follows it.
func (p *Parser) needGet(es *expState) bool {
	tk, err := p.peek()
	if err != nil {
		return true
	}
	switch tk.Kind {
	case tokenAssign, tokenOpenParen, tokenNewSlot, tokenPlusEq, tokenMinusEq,
		tokenMulEq, tokenDivEq, tokenModEq, tokenPlusPlus, tokenMinusMinus:
		return false
	}
	return !es.noGet || tk.Kind == tokenPeriod || tk.Kind == tokenOpenBracket
}

// rootFlag marks reads on this so that a miss falls back to the root table.
func rootFlag(obj int) uint16 {
	if obj == 0 {
		return 1
	}
	return 0
}

// emitGet pops a container and key and reads the slot into a new target.
func (p *Parser) emitGet(fs *funcState, tk *token) error {
	key := fs.popTarget()
	obj := fs.popTarget()
	trg, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	p.code(fs, bytecode.IABCD(bytecode.GET, uint8(trg), uint16(obj), uint16(key), rootFlag(obj)))
	return nil
}

// emitDerefOp pops a container, key and value and emits a slot write.
func (p *Parser) emitDerefOp(fs *funcState, tk *token, op bytecode.Op) error {
	val := fs.popTarget()
	key := fs.popTarget()
	obj := fs.popTarget()
	trg, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	p.code(fs, bytecode.IABCD(op, uint8(trg), uint16(obj), uint16(key), uint16(val)))
	return nil
}

func (p *Parser) loadLiteral(fs *funcState, tk *token, val any) error {
	idx, err := fs.addLiteral(val)
	if err != nil {
		return p.parseErr(tk, err)
	}
	trg, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	op := bytecode.LOAD
	switch val.(type) {
	case float64:
		op = bytecode.LOADFLOAT
	case complex128:
		op = bytecode.LOADCOMPLEX
	}
	p.code(fs, bytecode.IABx(op, uint8(trg), idx))
	return nil
}

// loadConst pushes a scalar constant into a new target.
func (p *Parser) loadConst(fs *funcState, tk *token, val any) error {
	switch tval := val.(type) {
	case int64:
		if tval < math.MinInt32 || tval > math.MaxInt32 {
			return p.loadLiteral(fs, tk, tval)
		}
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IAsBx(bytecode.LOADINT, uint8(trg), int32(tval)))
	case bool:
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		var bval uint16
		if tval {
			bval = 1
		}
		p.code(fs, bytecode.IAB(bytecode.LOADBOOL, uint8(trg), bval))
	case nil:
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IAB(bytecode.LOADNULL, uint8(trg), 1))
	default:
		return p.loadLiteral(fs, tk, val)
	}
	return nil
}

// prefixed -> factor {'.' name | '[' exp ']' | '\'' | '(' args ')' | '++' | '--'}.
func (p *Parser) prefixed(fs *funcState, es *expState) error {
	if err := p.factor(fs, es); err != nil {
		return err
	}
	for {
		tk, err := p.peek()
		if err != nil {
			return err
		}
		switch tk.Kind {
		case tokenPeriod, tokenOpenBracket:
			p.mustnext(tk.Kind)
			if tk.Kind == tokenPeriod {
				name, err := p.consumeToken(tokenIdentifier)
				if err != nil {
					return err
				} else if err := p.loadLiteral(fs, name, name.StringVal); err != nil {
					return err
				}
			} else {
				if err := p.expression(fs); err != nil {
					return err
				} else if err := p.next(tokenCloseBracket); err != nil {
					return err
				}
			}
			if es.kind == expBase {
				if err := p.emitGet(fs, tk); err != nil {
					return err
				}
				es.kind = expExpr
			} else {
				if p.needGet(es) {
					if err := p.emitGet(fs, tk); err != nil {
						return err
					}
				}
				es.kind = expObject
			}
		case tokenTranspose:
			p.mustnext(tokenTranspose)
			src := fs.popTarget()
			trg, err := fs.pushTarget()
			if err != nil {
				return p.parseErr(tk, err)
			}
			p.code(fs, bytecode.IAB(bytecode.TRANSPOSE, uint8(trg), uint16(src)))
			es.kind = expExpr
		case tokenPlusPlus, tokenMinusMinus:
			return p.postfixIncDec(fs, es)
		case tokenOpenParen:
			if err := p.prepCall(fs, es, tk); err != nil {
				return err
			}
			p.mustnext(tokenOpenParen)
			if err := p.callArgs(fs, tk); err != nil {
				return err
			}
			es.kind = expExpr
		default:
			return nil
		}
	}
}

// prepCall leaves the callee and the this value on top of the target stack.
func (p *Parser) prepCall(fs *funcState, es *expState, tk *token) error {
	switch es.kind {
	case expObject:
		key := fs.popTarget()
		obj := fs.popTarget()
		closure, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		this, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IABCD(bytecode.PREPCALL, uint8(closure), uint16(key), uint16(obj), uint16(this)))
		return nil
	case expOuter:
		closure, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IAB(bytecode.GETOUTER, uint8(closure), uint16(es.pos)))
	}
	this, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	p.code(fs, bytecode.IAB(bytecode.MOVE, uint8(this), 0))
	return nil
}

// callArgs -> [expression {',' expression}] ')'. Arguments are placed in
// consecutive slots right after the this value.
func (p *Parser) callArgs(fs *funcState, tk *token) error {
	nargs := 1
	for !p.peekIs(tokenCloseParen) {
		if err := p.expression(fs); err != nil {
			return err
		}
		if fs.isLocalTarget() {
			src := fs.popTarget()
			dst, err := fs.pushTarget()
			if err != nil {
				return p.parseErr(tk, err)
			}
			p.code(fs, bytecode.IAB(bytecode.MOVE, uint8(dst), uint16(src)))
		}
		nargs++
		if p.peekIs(tokenComma) {
			comma := p.mustnext(tokenComma)
			if p.peekIs(tokenCloseParen) {
				return p.errorf(comma, "expression expected, found ')'")
			}
		} else if !p.peekIs(tokenCloseParen) {
			next, _ := p.peek()
			return p.errorf(next, "expected ')' or ',' but found %v", next)
		}
	}
	if err := p.next(tokenCloseParen); err != nil {
		return err
	}
	for range nargs - 1 {
		fs.popTarget()
	}
	stackbase := fs.popTarget()
	closure := fs.popTarget()
	trg, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	p.code(fs, bytecode.IABCD(bytecode.CALL, uint8(trg), uint16(closure), uint16(stackbase), uint16(nargs)))
	return nil
}

func (p *Parser) factor(fs *funcState, es *expState) error {
	tk, err := p.nextToken()
	if err != nil {
		return err
	}
	switch tk.Kind {
	case tokenString:
		return p.loadLiteral(fs, tk, tk.StringVal)
	case tokenInteger:
		return p.loadConst(fs, tk, tk.IntVal)
	case tokenFloat:
		return p.loadLiteral(fs, tk, tk.FloatVal)
	case tokenComplex:
		return p.loadLiteral(fs, tk, complex(0, tk.FloatVal))
	case tokenTrue, tokenFalse:
		return p.loadConst(fs, tk, tk.Kind == tokenTrue)
	case tokenNull:
		return p.loadConst(fs, tk, nil)
	case tokenDefault:
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IABC(bytecode.LOADNULL, uint8(trg), 1, 1))
		return nil
	case tokenSpace:
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		fs.fn.Spaces = append(fs.fn.Spaces, tk.Space)
		p.code(fs, bytecode.IABx(bytecode.LOADSPACE, uint8(trg), uint32(len(fs.fn.Spaces)-1)))
		return nil
	case tokenIdentifier:
		return p.identifier(fs, es, tk, tk.StringVal)
	case tokenThis:
		return p.identifier(fs, es, tk, "this")
	case tokenBase:
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IAB(bytecode.GETBASE, uint8(trg), 0))
		es.kind, es.pos = expBase, trg
		return nil
	case tokenDoubleColon:
		trg, err := fs.pushTarget()
		if err != nil {
			return p.parseErr(tk, err)
		}
		p.code(fs, bytecode.IAB(bytecode.LOADROOT, uint8(trg), 0))
		name, err := p.consumeToken(tokenIdentifier)
		if err != nil {
			return err
		} else if err := p.loadLiteral(fs, name, name.StringVal); err != nil {
			return err
		}
		if p.needGet(es) {
			if err := p.emitGet(fs, name); err != nil {
				return err
			}
		}
		es.kind = expObject
		return nil
	case tokenOpenParen:
		if err := p.expression(fs); err != nil {
			return err
		}
		return p.next(tokenCloseParen)
	case tokenOpenBracket:
		return p.arrayLiteral(fs, tk)
	case tokenOpenCurly:
		return p.dictLiteral(fs, tk)
	case tokenFunction:
		return p.closure(fs, tk, "@function", KindFunction)
	case tokenLambda:
		return p.closure(fs, tk, "@lambda", KindLambda)
	case tokenClass:
		return p.classExp(fs, &token{Kind: tokenIdentifier, StringVal: "@class", LineInfo: tk.LineInfo})
	default:
		return p.errorf(tk, "expression expected, found %v", tk)
	}
}

// identifier resolves a name as a local, an outer, a constant or finally a
// slot of this.
func (p *Parser) identifier(fs *funcState, es *expState, tk *token, name string) error {
	if pos := fs.findLocal(name); pos >= 0 {
		fs.pushTargetAt(pos)
		es.kind, es.pos = expLocal, pos
		return nil
	}
	idx, err := fs.findOuter(name)
	if err != nil {
		return p.parseErr(tk, err)
	} else if idx >= 0 {
		if p.needGet(es) {
			trg, err := fs.pushTarget()
			if err != nil {
				return p.parseErr(tk, err)
			}
			p.code(fs, bytecode.IAB(bytecode.GETOUTER, uint8(trg), uint16(idx)))
			es.kind, es.pos = expExpr, trg
		} else {
			es.kind, es.pos = expOuter, idx
		}
		return nil
	}
	if val, ok := p.consts[name]; ok {
		if dict, isDict := val.(map[string]any); isDict {
			if err := p.next(tokenPeriod); err != nil {
				return err
			}
			field, err := p.consumeToken(tokenIdentifier)
			if err != nil {
				return err
			}
			if val, ok = dict[field.StringVal]; !ok {
				return p.errorf(field, "invalid constant [%s.%s]", name, field.StringVal)
			}
		}
		if err := p.loadConst(fs, tk, val); err != nil {
			return err
		}
		es.kind, es.pos = expConst, fs.topTarget()
		return nil
	}
	fs.pushTargetAt(0)
	if err := p.loadLiteral(fs, tk, name); err != nil {
		return err
	}
	if p.needGet(es) {
		if err := p.emitGet(fs, tk); err != nil {
			return err
		}
	}
	es.kind = expObject
	return nil
}

// arrayLiteral -> '[' [expression {',' expression}] ']'.
func (p *Parser) arrayLiteral(fs *funcState, tk *token) error {
	trg, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	inew := p.code(fs, bytecode.IABCD(bytecode.NEWOBJECT, uint8(trg), bytecode.ObjArray, 0, 0))
	size := 0
	for !p.peekIs(tokenCloseBracket) {
		if err := p.expression(fs); err != nil {
			return err
		}
		if p.peekIs(tokenComma) {
			p.mustnext(tokenComma)
		} else if !p.peekIs(tokenCloseBracket) {
			next, _ := p.peek()
			return p.errorf(next, "expected ']' or ',' but found %v", next)
		}
		val := fs.popTarget()
		p.code(fs, bytecode.IAB(bytecode.APPENDTOARRAY, uint8(fs.topTarget()), uint16(val)))
		size++
	}
	p.mustnext(tokenCloseBracket)
	fs.fn.ByteCodes[inew] = bytecode.IABCD(bytecode.NEWOBJECT, uint8(trg), bytecode.ObjArray, uint16(min(size, math.MaxUint16)), 0)
	return nil
}

// dictLiteral -> '{' [field {(',' | ';') field}] '}' where a field is
// name '=' exp, name ':' exp, string ':' exp, '[' exp ']' '=' exp or a function.
func (p *Parser) dictLiteral(fs *funcState, tk *token) error {
	trg, err := fs.pushTarget()
	if err != nil {
		return p.parseErr(tk, err)
	}
	inew := p.code(fs, bytecode.IABCD(bytecode.NEWOBJECT, uint8(trg), bytecode.ObjDict, 0, 0))
	size := 0
	for !p.peekIs(tokenCloseCurly) {
		key, err := p.nextToken()
		if err != nil {
			return err
		}
		switch key.Kind {
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
		case tokenFunction:
			name, err := p.consumeToken(tokenIdentifier)
			if err != nil {
				return err
			} else if err := p.loadLiteral(fs, name, name.StringVal); err != nil {
				return err
			} else if err := p.closure(fs, name, name.StringVal, KindFunction); err != nil {
				return err
			}
		case tokenIdentifier, tokenString:
			if err := p.loadLiteral(fs, key, key.StringVal); err != nil {
				return err
			}
			if p.peekIs(tokenColon) {
				p.mustnext(tokenColon)
			} else if err := p.next(tokenAssign); err != nil {
				return err
			}
			if err := p.expression(fs); err != nil {
				return err
			}
		default:
			return p.errorf(key, "unexpected %v in dict literal", key)
		}
		if p.peekIs(tokenComma) || p.peekIs(tokenSemiColon) {
			if _, err := p.nextToken(); err != nil {
				return err
			}
		}
		val := fs.popTarget()
		slot := fs.popTarget()
		p.code(fs, bytecode.IABCD(bytecode.NEWSLOT, bytecode.NoTarget, uint16(fs.topTarget()), uint16(slot), uint16(val)))
		size++
	}
	p.mustnext(tokenCloseCurly)
	fs.fn.ByteCodes[inew] = bytecode.IABCD(bytecode.NEWOBJECT, uint8(trg), bytecode.ObjDict, uint16(min(size, math.MaxUint16)), 0)
	return nil
}
