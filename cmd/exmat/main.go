// Package main is the main entrypoint to the exmat application
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/pprof"
	"slices"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/semihM/exmat-sub000/src/conf"
	"github.com/semihM/exmat-sub000/src/parse"
	"github.com/semihM/exmat-sub000/src/runtime"
)

var (
	vm          *runtime.VM
	listOpcodes bool
	parseOnly   bool
	showVersion bool
	executeStat string
	interactive bool
	outputPath  string
	configPath  string
	log         = commonlog.GetLogger("exmat.cli")
)

func init() {
	flag.BoolVar(&listOpcodes, "l", false, "list opcodes")
	flag.BoolVar(&parseOnly, "p", false, "parse only")
	flag.BoolVar(&showVersion, "v", false, "show version information")
	flag.StringVar(&executeStat, "e", "", "execute string 'stat'")
	flag.BoolVar(&interactive, "i", false, "enter interactive mode after executing a script")
	flag.StringVar(&outputPath, "o", "", "dump the compiled chunk to file")
	flag.StringVar(&configPath, "c", "", "load the configuration from file")
}

func main() {
	if os.Getenv("EXMAT_PROFILE") != "" {
		defer runProfiling(os.Getenv("EXMAT_PROFILE"))()
	}
	flag.Usage = printUsage
	flag.Parse()

	cfg := loadConfig()
	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)
	log.Debugf("config loaded from %q", cfg.Path)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	vm = runtime.New(ctx, cfg)
	defer func() { _ = vm.Close() }()

	args := flag.Args()
	if idx := slices.Index(args, "--"); idx >= 0 {
		args = args[:idx]
	}

	if showVersion {
		printVersion()
	}
	if stat, _ := os.Stdin.Stat(); (stat.Mode() & os.ModeCharDevice) == 0 {
		data, err := io.ReadAll(os.Stdin)
		checkErr(err)
		parseSrc("<stdin>", strings.NewReader(string(data)), nil)
	} else if executeStat != "" {
		parseSrc("<string>", strings.NewReader(executeStat), nil)
	} else if len(args) == 0 && !showVersion {
		runREPL()
	} else if len(args) > 0 {
		if info, err := os.Stat(args[0]); err == nil && !info.IsDir() {
			src, err := os.Open(args[0])
			checkErr(err)
			defer func() { _ = src.Close() }()
			parseSrc(args[0], src, args[1:])
		} else {
			checkErr(fmt.Errorf("cannot open %s", args[0]))
		}
	} else if !showVersion {
		printUsage()
	}
}

func loadConfig() *conf.Config {
	if configPath != "" {
		cfg, err := conf.Load(configPath)
		checkErr(err)
		return cfg
	}
	wd, err := os.Getwd()
	checkErr(err)
	cfg, err := conf.FindAndLoad(wd)
	checkErr(err)
	return cfg
}

func printVersion() {
	fmt.Fprintf(os.Stderr, "%v\n", conf.FullVersion())
}

func printUsage() {
	printVersion()
	fmt.Fprint(os.Stderr, "\nUsage: exmat [options] [script [args]]\n")
	flag.PrintDefaults()
}

func checkErr(err error) {
	if err == nil {
		return
	}
	var interrupt *runtime.Interrupt
	if errors.As(err, &interrupt) {
		os.Exit(interrupt.Code())
	}
	fmt.Fprintf(os.Stderr, "%v\n", err)
	os.Exit(1)
}

func parseSrc(path string, src io.ReadSeeker, scriptArgs []string) {
	fn, err := parse.Parse(path, src, parse.ModeText|parse.ModeBinary)
	checkErr(err)
	if listOpcodes {
		fmt.Fprintln(os.Stderr, fn.String())
	}
	if outputPath != "" {
		data, err := fn.Dump(false)
		checkErr(err)
		checkErr(os.WriteFile(outputPath, data, 0o644))
		log.Infof("wrote %d bytes to %s", len(data), outputPath)
	}
	if !parseOnly {
		vargv := make([]runtime.Value, len(scriptArgs))
		for i, arg := range scriptArgs {
			vargv[i] = runtime.String(arg)
		}
		_, err = vm.Eval(fn, vargv...)
		checkErr(err)
	}
	if interactive {
		runREPL()
	}
}

func runREPL() {
	printVersion()
	fmt.Fprint(os.Stderr, "Press ctrl-c to quit or clear current buffer.\n")
	checkErr(vm.REPL())
}

func runProfiling(filename string) func() {
	f, err := os.Create(filename)
	checkErr(err)
	checkErr(pprof.StartCPUProfile(f))
	return pprof.StopCPUProfile
}
