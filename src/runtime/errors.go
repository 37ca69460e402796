package runtime

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/semihM/exmat-sub000/src/lerrors"
)

type (
	// InterruptKind is why an Interrupt stopped the vm.
	InterruptKind int
	// Interrupt is not a failure but a request to stop running, it unwinds
	// every frame without collecting a trace.
	Interrupt struct {
		kind InterruptKind
		code int
	}
	userError struct {
		val Value
	}
)

const (
	// InterruptExit is raised by exit().
	InterruptExit InterruptKind = iota
)

func (i *Interrupt) Error() string {
	return fmt.Sprintf("exit with code %d", i.code)
}

// Code is the exit code requested by the script.
func (i *Interrupt) Code() int { return i.code }

// Kind is why the vm was interrupted.
func (i *Interrupt) Kind() InterruptKind { return i.kind }

func (err *userError) Error() string {
	if err.val.Kind() == TypeString {
		return err.val.s
	}
	return fmt.Sprintf("(error object is a %v value) %v", err.val.TypeName(), err.val)
}

func fatalErr(err error) *lerrors.Error {
	return &lerrors.Error{Kind: lerrors.FatalErr, Err: err}
}

// setFatal marks the vm as unusable. Every later call fails with the same
// error.
func (vm *VM) setFatal(err error) error {
	if vm.fatal == nil {
		log.Errorf("fatal: %v", err)
		vm.fatal = fatalErr(err)
	}
	return vm.fatal
}

// unwind pops the frames above entry, releasing their slots and collecting
// one trace entry per frame, innermost first.
func (vm *VM) unwind(entry int, err error) error {
	var interrupt *Interrupt
	if errors.As(err, &interrupt) {
		for vm.depth > entry {
			vm.dropFrame()
		}
		return interrupt
	}

	var filename string
	traces := []lerrors.Trace{}
	for vm.depth > entry {
		f := vm.currentFrame()
		li := f.proto.LineAt(f.ip - 1)
		traces = append(traces, lerrors.Trace{Line: li.Line, Column: li.Column, Name: f.proto.Name})
		if filename == "" {
			filename = f.proto.Filename
		}
		vm.dropFrame()
	}

	var rtErr *lerrors.Error
	if errors.As(err, &rtErr) {
		if rtErr.Kind != lerrors.ParserErr && rtErr.Kind != lerrors.LexerErr {
			rtErr.Traceback = append(rtErr.Traceback, traces...)
			if rtErr.Filename == "" {
				rtErr.Filename = filename
			}
		}
		return rtErr
	}

	kind := lerrors.RuntimeErr
	var uErr *userError
	if errors.As(err, &uErr) {
		kind = lerrors.UserErr
	}
	rtErr = &lerrors.Error{Kind: kind, Err: err, Filename: filename, Traceback: traces}
	if len(traces) > 0 {
		rtErr.Line, rtErr.Column = traces[0].Line, traces[0].Column
	}
	log.Debugf("unwound %d frames: %v", len(traces), err)
	return rtErr
}

func (vm *VM) dropFrame() {
	f := vm.currentFrame()
	vm.closeOuters(f.base)
	vm.clearStack(f.base, f.top)
	vm.popFrame()
}

// Errorf records a runtime error for a native function to return.
func (vm *VM) Errorf(format string, args ...any) NativeResult {
	vm.lastErr = fmt.Errorf(format, args...)
	return ResultError
}

// Raise records err for a native function to return. Interrupts stop the vm.
func (vm *VM) Raise(err error) NativeResult {
	var interrupt *Interrupt
	if errors.As(err, &interrupt) {
		vm.exit = interrupt
		return ResultExit
	}
	vm.lastErr = err
	return ResultError
}

// Throw raises val as a user error.
func (vm *VM) Throw(val Value) NativeResult {
	val.retain()
	vm.lastErr = &userError{val: val}
	return ResultError
}
