package parse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/semihM/exmat-sub000/src/lerrors"
)

var escapeCodes = map[rune]rune{
	'a':  '\x07', // bell
	'b':  '\x08', // backspace
	'f':  '\x0C', // form feed
	'n':  '\n',   // newline
	'r':  '\r',   // carriage return
	't':  '\t',   // tab
	'v':  '\x0B', // vertical tab
	'0':  '\x00', // null
	'\\': '\\',   // backslach
	'"':  '"',    // quote
	'\'': '\'',   // apostrophe
}

// space domains that may follow '@'.
var spaceDomains = map[rune]bool{'R': true, 'Z': true, 'N': true, 'C': true, 'A': true}

type lexer struct {
	filename string
	rdr      *bufio.Reader
	peeked   []*token
	LineInfo
}

func newLexer(filename string, src io.Reader) *lexer {
	return &lexer{
		filename: filename,
		LineInfo: LineInfo{Line: 1},
		rdr:      bufio.NewReaderSize(src, 4096),
		peeked:   []*token{},
	}
}

func (lex *lexer) errf(msg string, data ...any) error {
	return lex.err(fmt.Errorf(msg, data...))
}

func (lex *lexer) err(err error) error {
	if errors.Is(err, io.EOF) {
		return err
	}
	return &lerrors.Error{
		Filename: lex.filename,
		Kind:     lerrors.LexerErr,
		Line:     lex.Line,
		Column:   lex.Column,
		Err:      err,
	}
}

func (lex *lexer) peek() rune {
	return lex.peekAt(0)
}

// peekAt looks ahead without consuming, only ascii lookahead is needed.
func (lex *lexer) peekAt(n int) rune {
	chs, _ := lex.rdr.Peek(n + 1)
	if len(chs) <= n {
		return 0
	}
	return rune(chs[n])
}

func (lex *lexer) next() (rune, error) {
	ch, _, err := lex.rdr.ReadRune()
	if err != nil {
		return ch, lex.err(err)
	}
	if ch == '\n' {
		lex.Line++
		lex.Column = 0
		return ch, nil
	}
	lex.Column++
	return ch, nil
}

func (lex *lexer) skip(n int) error {
	for range n {
		if _, err := lex.next(); err != nil {
			return err
		}
	}
	return nil
}

func (lex *lexer) skipWhitespaceAndComments() error {
	for {
		switch ch := lex.peek(); {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			if _, err := lex.next(); err != nil {
				return err
			}
		case ch == '/' && lex.peekAt(1) == '/':
			if err := lex.skipLineComment(); err != nil {
				return err
			}
		case ch == '#' && lex.Line == 1 && lex.Column == 0:
			if err := lex.skipLineComment(); err != nil {
				return err
			}
		case ch == '/' && lex.peekAt(1) == '*':
			if err := lex.skipBlockComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (lex *lexer) skipLineComment() error {
	for {
		ch, err := lex.next()
		if err != nil || ch == '\n' {
			return err
		}
	}
}

func (lex *lexer) skipBlockComment() error {
	start := lex.LineInfo
	if err := lex.skip(2); err != nil {
		return err
	}
	for {
		ch, err := lex.next()
		if errors.Is(err, io.EOF) {
			return &lerrors.Error{
				Filename: lex.filename,
				Kind:     lerrors.LexerErr,
				Line:     start.Line,
				Column:   start.Column,
				Err:      errors.New("unfinished block comment"),
			}
		} else if err != nil {
			return err
		} else if ch == '*' && lex.peek() == '/' {
			_, err := lex.next()
			return err
		}
	}
}

// allow for FIFO stack.
func (lex *lexer) back(tk *token) {
	lex.peeked = append(lex.peeked, tk)
}

func (lex *lexer) Peek() (*token, error) {
	if len(lex.peeked) == 0 {
		tk, err := lex.Next()
		if err != nil && !errors.Is(err, io.EOF) {
			return &token{Kind: tokenEOS, LineInfo: lex.LineInfo}, err
		} else if err != nil && errors.Is(err, io.EOF) {
			return &token{Kind: tokenEOS, LineInfo: lex.LineInfo}, nil
		}
		lex.peeked = append(lex.peeked, tk)
	}
	return lex.peeked[len(lex.peeked)-1], nil
}

func (lex *lexer) Next() (*token, error) {
	if len(lex.peeked) != 0 {
		top := lex.peeked[len(lex.peeked)-1]
		lex.peeked = lex.peeked[:len(lex.peeked)-1]
		return top, nil
	}
	if err := lex.skipWhitespaceAndComments(); err != nil {
		return nil, err
	}
	ch, err := lex.next()
	if err != nil {
		return nil, err
	}
	linfo := lex.LineInfo
	tk := func(kind tokenType) (*token, error) {
		if err := lex.skip(len(kind) - 1); err != nil {
			return nil, err
		}
		return &token{Kind: kind, LineInfo: linfo}, nil
	}
	p1, p2 := lex.peek(), lex.peekAt(1)
	switch ch {
	case '+':
		switch p1 {
		case '+':
			return tk(tokenPlusPlus)
		case '=':
			return tk(tokenPlusEq)
		}
		return tk(tokenAdd)
	case '-':
		switch p1 {
		case '-':
			return tk(tokenMinusMinus)
		case '=':
			return tk(tokenMinusEq)
		}
		return tk(tokenMinus)
	case '*':
		switch {
		case p1 == '*':
			return tk(tokenExponent)
		case p1 == '=':
			return tk(tokenMulEq)
		case p1 == '.' && !unicode.IsDigit(p2):
			return tk(tokenCartesian)
		}
		return tk(tokenMultiply)
	case '/':
		if p1 == '=' {
			return tk(tokenDivEq)
		}
		return tk(tokenDivide)
	case '%':
		if p1 == '=' {
			return tk(tokenModEq)
		}
		return tk(tokenModulo)
	case '=':
		switch p1 {
		case '=':
			return tk(tokenEq)
		case '>':
			return tk(tokenArrow)
		}
		return tk(tokenAssign)
	case '!':
		if p1 == '=' {
			return tk(tokenNe)
		}
		return tk(tokenNot)
	case '<':
		switch p1 {
		case '=':
			return tk(tokenLe)
		case '<':
			return tk(tokenShiftLeft)
		case '-':
			return tk(tokenNewSlot)
		}
		return tk(tokenLt)
	case '>':
		switch {
		case p1 == '=':
			return tk(tokenGe)
		case p1 == '>' && p2 == '>':
			return tk(tokenUShiftRight)
		case p1 == '>':
			return tk(tokenShiftRight)
		}
		return tk(tokenGt)
	case '&':
		if p1 == '&' {
			return tk(tokenAnd)
		}
		return tk(tokenBitwiseAnd)
	case '|':
		if p1 == '|' {
			return tk(tokenOr)
		}
		return tk(tokenBitwiseOr)
	case '^':
		return tk(tokenBitwiseXor)
	case '~':
		return tk(tokenBitwiseNot)
	case '.':
		switch {
		case unicode.IsDigit(p1):
			return lex.parseNumber(ch, linfo)
		case p1 == '.' && p2 == '.':
			return tk(tokenDots)
		case p1 == '*':
			return tk(tokenMatMul)
		}
		return tk(tokenPeriod)
	case ':':
		if p1 == ':' {
			return tk(tokenDoubleColon)
		}
		return tk(tokenColon)
	case '?':
		return tk(tokenQuestion)
	case ',':
		return tk(tokenComma)
	case ';':
		return tk(tokenSemiColon)
	case '\'':
		return tk(tokenTranspose)
	case '(':
		return tk(tokenOpenParen)
	case ')':
		return tk(tokenCloseParen)
	case '{':
		return tk(tokenOpenCurly)
	case '}':
		return tk(tokenCloseCurly)
	case '[':
		return tk(tokenOpenBracket)
	case ']':
		return tk(tokenCloseBracket)
	case '@':
		if spaceDomains[p1] {
			return lex.parseSpace(linfo)
		}
		return tk(tokenLambda)
	case '"':
		return lex.parseString(ch, linfo)
	}
	if unicode.IsDigit(ch) {
		return lex.parseNumber(ch, linfo)
	} else if unicode.IsLetter(ch) || ch == '_' {
		return lex.parseIdentifier(ch, linfo)
	}
	return nil, lex.errf("unexpected character %v", string(ch))
}

func (lex *lexer) parseIdentifier(start rune, linfo LineInfo) (*token, error) {
	var ident bytes.Buffer
	ident.WriteRune(start)
	for {
		if peekCh := lex.peek(); unicode.IsLetter(peekCh) || unicode.IsDigit(peekCh) || peekCh == '_' {
			if err := lex.writeNext(&ident); err != nil {
				return nil, err
			}
		} else {
			break
		}
	}
	strVal := ident.String()
	if kw, ok := Keywords[strVal]; ok {
		return &token{Kind: kw, LineInfo: linfo}, nil
	}
	return &token{
		Kind:      tokenIdentifier,
		StringVal: strVal,
		LineInfo:  linfo,
	}, nil
}

// parseSpace reads space literals of the form @R, @Z+, @N^3, @C^2^2.
func (lex *lexer) parseSpace(linfo LineInfo) (*token, error) {
	domain, err := lex.next()
	if err != nil {
		return nil, err
	}
	space := SpaceSpec{Domain: string(domain)}
	if ch := lex.peek(); ch == '+' || ch == '-' {
		space.Sign = string(ch)
		if _, err := lex.next(); err != nil {
			return nil, err
		}
	}
	for lex.peek() == '^' {
		if _, err := lex.next(); err != nil {
			return nil, err
		}
		var number bytes.Buffer
		if err := lex.consumeDigits(&number, false); err != nil {
			return nil, err
		} else if number.Len() == 0 {
			return nil, lex.errf("expected dimension after '^' in space literal")
		}
		dim, err := strconv.Atoi(number.String())
		if err != nil {
			return nil, lex.err(fmt.Errorf("parse dimension: %w", errors.Unwrap(err)))
		}
		space.Dims = append(space.Dims, dim)
	}
	return &token{Kind: tokenSpace, Space: space, LineInfo: linfo}, nil
}

func (lex *lexer) parseString(delimiter rune, linfo LineInfo) (*token, error) {
	var str bytes.Buffer
	for {
		if ch, err := lex.next(); errors.Is(err, io.EOF) {
			return nil, &lerrors.Error{
				Filename: lex.filename,
				Kind:     lerrors.LexerErr,
				Line:     linfo.Line,
				Column:   linfo.Column,
				Err:      errors.New("unfinished string"),
			}
		} else if err != nil {
			return nil, err
		} else if ch == '\\' {
			if ch, err := lex.next(); err != nil {
				return nil, err
			} else if esc, ok := escapeCodes[ch]; ok {
				str.WriteRune(esc)
			} else if ch == 'u' {
				if err := lex.parseUnicodeEscape(&str); err != nil {
					return nil, err
				}
			} else {
				return nil, lex.err(fmt.Errorf("unexpected escape code \\%s", string(ch)))
			}
		} else if ch == '\n' {
			return nil, lex.errf("newline in string")
		} else if ch == delimiter {
			return &token{
				Kind:      tokenString,
				StringVal: str.String(),
				LineInfo:  linfo,
			}, nil
		} else {
			str.WriteRune(ch)
		}
	}
}

func (lex *lexer) parseUnicodeEscape(str *bytes.Buffer) error {
	if ch, err := lex.next(); err != nil {
		return err
	} else if ch != '{' {
		return lex.errf("expected '{' after \\u")
	}
	var hexNumber bytes.Buffer
	if err := lex.consumeDigits(&hexNumber, true); err != nil {
		return err
	}
	ivalue, err := strconv.ParseInt(hexNumber.String(), 16, 64)
	if err != nil {
		return lex.err(fmt.Errorf("parse int: %w", errors.Unwrap(err)))
	}
	str.WriteRune(rune(ivalue))
	if ch, err := lex.next(); err != nil {
		return err
	} else if ch != '}' {
		return lex.errf("expected '}' after unicode escape")
	}
	return nil
}

func (lex *lexer) parseNumber(start rune, linfo LineInfo) (*token, error) {
	var number bytes.Buffer
	isHex, isFloat := false, false

	if start != '.' {
		number.WriteRune(start)
		if peekCh := lex.peek(); start == '0' && (peekCh == 'x' || peekCh == 'X') {
			isHex = true
			if err := lex.writeNext(&number); err != nil {
				return nil, err
			}
		}
		if err := lex.consumeDigits(&number, isHex); err != nil {
			return nil, err
		}
		if lex.peek() == '.' && unicode.IsDigit(lex.peekAt(1)) && !isHex {
			isFloat = true
			if err := lex.writeNext(&number); err != nil {
				return nil, err
			} else if err := lex.consumeDigits(&number, false); err != nil {
				return nil, err
			}
		}
	} else {
		number.WriteString("0.")
		isFloat = true
		if err := lex.consumeDigits(&number, false); err != nil {
			return nil, err
		}
	}

	if peekCh := lex.peek(); !isHex && (peekCh == 'e' || peekCh == 'E') {
		isFloat = true
		if err := lex.parseExponent(&number); err != nil {
			return nil, err
		}
	}

	if lex.peek() == 'i' && !isIdentChar(lex.peekAt(1)) {
		if _, err := lex.next(); err != nil {
			return nil, err
		}
		fval, err := parseFloat(number.String())
		if err != nil {
			return nil, lex.err(err)
		}
		return &token{Kind: tokenComplex, FloatVal: fval, LineInfo: linfo}, nil
	}

	if isFloat {
		fval, err := parseFloat(number.String())
		if err != nil {
			return nil, lex.err(err)
		}
		return &token{Kind: tokenFloat, FloatVal: fval, LineInfo: linfo}, nil
	}

	strNum := number.String()
	if !isHex {
		strNum = strings.TrimLeft(strNum, "0")
		if len(strNum) == 0 {
			return &token{Kind: tokenInteger, IntVal: 0, LineInfo: linfo}, nil
		}
	}
	ivalue, err := strconv.ParseInt(strNum, 0, 64)
	if err != nil {
		return nil, lex.err(fmt.Errorf("parse int: %w", errors.Unwrap(err)))
	}
	return &token{Kind: tokenInteger, IntVal: ivalue, LineInfo: linfo}, nil
}

func parseFloat(str string) (float64, error) {
	fval, _, err := big.ParseFloat(str, 10, 53, big.ToNearestEven)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	num, _ := fval.Float64()
	return num, nil
}

func (lex *lexer) consumeDigits(number *bytes.Buffer, withHex bool) error {
	for {
		ch := lex.peek()
		if !unicode.IsDigit(ch) && (!withHex || !isHexDigit(ch)) {
			return nil
		} else if err := lex.writeNext(number); err != nil {
			return err
		}
	}
}

func (lex *lexer) parseExponent(number *bytes.Buffer) error {
	if err := lex.writeNext(number); err != nil {
		return err
	}
	if tk := lex.peek(); tk == '-' || tk == '+' {
		if err := lex.writeNext(number); err != nil {
			return err
		}
	}
	return lex.consumeDigits(number, false)
}

func (lex *lexer) writeNext(number *bytes.Buffer) error {
	ch, err := lex.next()
	if err != nil {
		return err
	}
	number.WriteRune(ch)
	return nil
}

func isHexDigit(ch rune) bool {
	return unicode.IsDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func isIdentChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}
