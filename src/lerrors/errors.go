// Package lerrors are a unified errors package for exmat parsing and runtime so
// that they can be formatted in a unified way and handled in a unified way.
package lerrors

import (
	"fmt"
	"strings"
)

type (
	// ErrorKind is an enum to describe where the error originates from.
	ErrorKind int
	// Trace is one unwound frame of a runtime error.
	Trace struct {
		Line   int64
		Column int64
		Name   string
	}
	// Error captures all errors in the exmat runtime. It distinguishes between lexer, parser
	// runtime, user and fatal errors and will format them accordingly. This is so that
	// errors can be handled in a uniform way in the runtime.
	Error struct {
		Line      int64
		Column    int64
		Kind      ErrorKind
		Err       error
		Filename  string
		Traceback []Trace
	}
)

const (
	// RuntimeErr is an error that originates from the runtime.
	RuntimeErr ErrorKind = iota
	// ParserErr is an error that originates from the parser.
	ParserErr
	// LexerErr is an error that originates from the lexer.
	LexerErr
	// UserErr is an error raised from user code by the user.
	UserErr
	// FatalErr is a resource exhaustion of the vm. A vm that returned one
	// cannot run anything else.
	FatalErr
)

func (kind ErrorKind) String() string {
	switch kind {
	case RuntimeErr:
		return "runtime"
	case ParserErr:
		return "parser"
	case LexerErr:
		return "lexer"
	case UserErr:
		return "user"
	case FatalErr:
		return "fatal"
	default:
		return "unknown"
	}
}

func (err *Error) Error() string {
	switch err.Kind {
	case RuntimeErr, UserErr:
		return fmt.Sprintf(
			"exmat:%v:%v:%v %v\nstack traceback:\n%v",
			err.Filename,
			err.Line,
			err.Column,
			err.Err,
			err.FormatTraceback(),
		)
	case ParserErr:
		return fmt.Sprintf(`Parse Error: %s:%v:%v %v`, err.Filename, err.Line, err.Column, err.Err)
	case LexerErr:
		return fmt.Sprintf("Lex Error: %v", err.Err.Error())
	case FatalErr:
		return fmt.Sprintf("Fatal Error: %v", err.Err)
	default:
		return err.Err.Error()
	}
}

func (err *Error) Unwrap() error { return err.Err }

// FormatTraceback renders the trace one frame per line, innermost first.
func (err *Error) FormatTraceback() string {
	parts := make([]string, 0, len(err.Traceback))
	for _, tr := range err.Traceback {
		parts = append(parts, fmt.Sprintf("\t%v:%v:%v: in %v", err.Filename, tr.Line, tr.Column, tr.Name))
	}
	return strings.Join(parts, "\n")
}

// Positions returns the (line, column) pairs of the trace.
func (err *Error) Positions() [][2]int64 {
	pos := make([][2]int64, 0, len(err.Traceback))
	for _, tr := range err.Traceback {
		pos = append(pos, [2]int64{tr.Line, tr.Column})
	}
	return pos
}
