package parse

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semihM/exmat-sub000/src/lerrors"
)

type parseTokenTest struct {
	src   string
	token *token
}

func TestNextToken(t *testing.T) {
	t.Parallel()
	linfo := LineInfo{Line: 1, Column: 1}
	tests := []parseTokenTest{
		{`"this is a string"`, &token{Kind: tokenString, StringVal: "this is a string", LineInfo: linfo}},
		{`"tab\there"`, &token{Kind: tokenString, StringVal: "tab\there", LineInfo: linfo}},
		{`"\u{41}\u{1F600}"`, &token{Kind: tokenString, StringVal: "A\U0001F600", LineInfo: linfo}},
		{"22", &token{Kind: tokenInteger, IntVal: 22, LineInfo: linfo}},
		{"08", &token{Kind: tokenInteger, IntVal: 8, LineInfo: linfo}},
		{"0", &token{Kind: tokenInteger, IntVal: 0, LineInfo: linfo}},
		{"0xAF2", &token{Kind: tokenInteger, IntVal: 2802, LineInfo: linfo}},
		{"23.43", &token{Kind: tokenFloat, FloatVal: 23.43, LineInfo: linfo}},
		{"23.43e-12", &token{Kind: tokenFloat, FloatVal: 23.43e-12, LineInfo: linfo}},
		{"23.43e5", &token{Kind: tokenFloat, FloatVal: 23.43e5, LineInfo: linfo}},
		{"2E3", &token{Kind: tokenFloat, FloatVal: 2000, LineInfo: linfo}},
		{".5", &token{Kind: tokenFloat, FloatVal: 0.5, LineInfo: linfo}},
		{"2i", &token{Kind: tokenComplex, FloatVal: 2, LineInfo: linfo}},
		{"1.5i", &token{Kind: tokenComplex, FloatVal: 1.5, LineInfo: linfo}},
		{"foobar", &token{Kind: tokenIdentifier, StringVal: "foobar", LineInfo: linfo}},
		{"foobar42", &token{Kind: tokenIdentifier, StringVal: "foobar42", LineInfo: linfo}},
		{"_foo_bar42", &token{Kind: tokenIdentifier, StringVal: "_foo_bar42", LineInfo: linfo}},
		{"@R", &token{Kind: tokenSpace, Space: SpaceSpec{Domain: "R"}, LineInfo: linfo}},
		{"@Z+", &token{Kind: tokenSpace, Space: SpaceSpec{Domain: "Z", Sign: "+"}, LineInfo: linfo}},
		{"@N^3", &token{Kind: tokenSpace, Space: SpaceSpec{Domain: "N", Dims: []int{3}}, LineInfo: linfo}},
		{"@C^2^4", &token{Kind: tokenSpace, Space: SpaceSpec{Domain: "C", Dims: []int{2, 4}}, LineInfo: linfo}},
		{"@(", &token{Kind: tokenLambda, LineInfo: linfo}},
		{"*.5", &token{Kind: tokenMultiply, LineInfo: linfo}},
		{"// comment\n5", &token{Kind: tokenInteger, IntVal: 5, LineInfo: LineInfo{Line: 2, Column: 1}}},
		{"/* block\n comment */ 5", &token{Kind: tokenInteger, IntVal: 5, LineInfo: LineInfo{Line: 2, Column: 13}}},
		{"#!/usr/bin/exmat\n5", &token{Kind: tokenInteger, IntVal: 5, LineInfo: LineInfo{Line: 2, Column: 1}}},
	}

	operators := []tokenType{
		tokenAdd, tokenMinus, tokenMultiply, tokenDivide, tokenModulo, tokenExponent,
		tokenMatMul, tokenCartesian, tokenBitwiseAnd, tokenBitwiseOr, tokenBitwiseXor,
		tokenBitwiseNot, tokenNot, tokenShiftLeft, tokenShiftRight, tokenUShiftRight,
		tokenAssign, tokenNewSlot, tokenPlusEq, tokenMinusEq, tokenMulEq, tokenDivEq,
		tokenModEq, tokenPlusPlus, tokenMinusMinus, tokenAnd, tokenOr, tokenEq, tokenNe,
		tokenGe, tokenGt, tokenLe, tokenLt, tokenQuestion, tokenColon, tokenDoubleColon,
		tokenArrow, tokenComma, tokenPeriod, tokenDots, tokenSemiColon, tokenTranspose,
		tokenOpenParen, tokenCloseParen, tokenOpenCurly, tokenCloseCurly,
		tokenOpenBracket, tokenCloseBracket,
	}
	for _, op := range operators {
		tests = append(tests, parseTokenTest{string(op), &token{Kind: op, LineInfo: linfo}})
	}
	for key, kw := range Keywords {
		tests = append(tests, parseTokenTest{key, &token{Kind: kw, LineInfo: linfo}})
	}

	for _, test := range tests {
		out, err := lex(test.src)
		require.NoError(t, err, test.src)
		assert.Equal(t, test.token, out, test.src)
	}
}

func TestLexErrors(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		`"unfinished`:          "unfinished string",
		"\"new\nline\"":        "newline in string",
		`"\q"`:                 "unexpected escape code",
		"/* never closed":      "unfinished block comment",
		"$":                    "unexpected character",
		"@R^":                  "expected dimension",
		`"\u41"`:               "expected '{'",
		"99999999999999999999": "parse int",
	}
	for src, msg := range tests {
		_, err := lex(src)
		require.Error(t, err, src)
		var exErr *lerrors.Error
		require.ErrorAs(t, err, &exErr, src)
		assert.Equal(t, lerrors.LexerErr, exErr.Kind)
		assert.Contains(t, err.Error(), msg, src)
	}
}

func TestLexSource(t *testing.T) {
	t.Parallel()
	src := `
var fib = @(n) n < 2 ? n : fib(n - 1) + fib(n - 2);
println(fib(10))
`
	lexer := newLexer("test", bytes.NewBufferString(src))
	tokens := []*token{}
	var tk *token
	var err error
	for {
		tk, err = lexer.Next()
		if err != nil {
			break
		}
		tokens = append(tokens, tk)
	}
	assert.Len(t, tokens, 34)
	assert.True(t, errors.Is(err, io.EOF))
	assert.Equal(t, LineInfo{Line: 3, Column: 1}, tokens[27].LineInfo)
}

func TestLexPeek(t *testing.T) {
	t.Parallel()
	lexer := newLexer("test", bytes.NewBufferString(`var a = 1`))
	tk, err := lexer.Peek()
	require.NoError(t, err)
	assert.Equal(t, tokenVar, tk.Kind)
	tk, err = lexer.Peek()
	require.NoError(t, err)
	assert.Equal(t, tokenVar, tk.Kind)
	tk, err = lexer.Next()
	require.NoError(t, err)
	assert.Equal(t, tokenVar, tk.Kind)

	tk, err = lexer.Next()
	require.NoError(t, err)
	assert.Equal(t, tokenIdentifier, tk.Kind)

	tk, err = lexer.Next()
	require.NoError(t, err)
	assert.Equal(t, tokenAssign, tk.Kind)

	tk, err = lexer.Next()
	require.NoError(t, err)
	assert.Equal(t, tokenInteger, tk.Kind)

	tk, err = lexer.Peek()
	require.NoError(t, err)
	assert.Equal(t, tokenEOS, tk.Kind)
}

func lex(str string) (*token, error) {
	return newLexer("test", bytes.NewBufferString(str)).Next()
}
