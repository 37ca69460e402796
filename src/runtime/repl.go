package runtime

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/semihM/exmat-sub000/src/parse"
)

const (
	replPrompt     = "> "
	replContPrompt = "...> "
)

// REPL will start an interactive repl parsing and running exmat code. Every
// line runs as its own chunk with the root table as this, so slots created
// with <- and named functions outlive the line while locals do not.
func (vm *VM) REPL() error {
	rl, err := readline.New(replPrompt)
	if err != nil {
		return err
	}
	defer func() { _ = rl.Close() }()

	var buf strings.Builder
	for {
		src, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if buf.Len() > 0 {
					rl.SetPrompt(replPrompt)
					buf.Reset()
					fmt.Fprint(os.Stderr, "Press ctrl-c again to quit.\n")
					continue
				}
			}
			return nil
		}
		buf.WriteString(src + "\n")

		fn, err := vm.compileLine(buf.String())
		if err != nil {
			if strings.Contains(err.Error(), "reached end of source") {
				rl.SetPrompt(replContPrompt)
				continue
			}
			rl.SetPrompt(replPrompt)
			buf.Reset()
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		rl.SetPrompt(replPrompt)
		buf.Reset()

		res, err := vm.Eval(fn)
		var interrupt *Interrupt
		if errors.As(err, &interrupt) {
			return interrupt
		} else if err != nil {
			fmt.Fprintln(os.Stderr, err)
			if vm.fatal != nil {
				return vm.fatal
			}
		} else if !res.IsNull() {
			str, err := vm.ToString(res)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			fmt.Fprintln(vm.Stdout, str)
		}
	}
}

// compileLine compiles src as an expression to print its value, falling back
// to statements. Constants defined by input that failed to compile are
// dropped.
func (vm *VM) compileLine(src string) (*parse.FnProto, error) {
	consts := maps.Clone(vm.parser.Constants())
	if fn, err := vm.parser.Parse("<repl>", strings.NewReader("return ("+src+");")); err == nil {
		return fn, nil
	}
	vm.parser = parse.New().WithConstants(consts)
	fn, err := vm.parser.Parse("<repl>", strings.NewReader(src))
	if err != nil {
		vm.parser = parse.New().WithConstants(consts)
		return nil, err
	}
	return fn, nil
}
