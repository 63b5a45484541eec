package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chazu/ecmavm/asm"
	"github.com/chazu/ecmavm/manifest"
	"github.com/chazu/ecmavm/realm"
	"github.com/chazu/ecmavm/vm"
)

// runOptions collects the settings of one run, merged from the manifest and
// the command line.
type runOptions struct {
	module  bool
	timeout time.Duration
	config  *manifest.Manifest
}

// handleRunCommand processes the `ecmavm run` subcommand.
// Usage:
//
//	ecmavm run                      # [run] entry of the nearest ecmavm.toml
//	ecmavm run prog.easm
//	ecmavm run -module -timeout 2s prog.snap
func handleRunCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	module := fs.Bool("module", false, "Run the program as a module body")
	timeout := fs.Duration("timeout", 0, "Abort the script after this long")
	dir := fs.String("C", ".", "Directory to search for ecmavm.toml")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		return 1
	}
	if m == nil {
		m = &manifest.Manifest{}
	}

	path := fs.Arg(0)
	if path == "" {
		path = m.EntryPath()
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Error: no program given and no [run] entry in ecmavm.toml")
		return 2
	}

	opts := runOptions{module: *module || m.Run.Module, timeout: *timeout, config: m}
	if opts.timeout == 0 {
		opts.timeout, _ = m.Timeout()
	}

	code, err := loadProgram(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	status, err := runProgram(code, opts, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return status
}

// compileEval lets eval take assembly text.
func compileEval(source string, strict bool) (*vm.Code, error) {
	code, err := asm.ParseString(source, "eval")
	if err != nil {
		return nil, err
	}
	if strict {
		code.Flags |= vm.FlagStrict
	}
	return code, nil
}

// runProgram executes code in a fresh realm and engine, drains the job
// queue and prints an uncaught exception. The status is 1 when the script
// threw.
func runProgram(code *vm.Code, opts runOptions, out io.Writer) (int, error) {
	r := realm.New(realm.Options{Output: out, Compile: compileEval})
	cfg := opts.config.EngineConfig(r)
	e, err := vm.New(cfg)
	if err != nil {
		return 0, err
	}
	defer e.Close()
	defer r.Release()

	if d, ok := cfg.Debugger.(*vm.DebugServer); ok {
		done := make(chan struct{})
		defer close(done)
		go reportDebugEvents(d, done)
	}

	if opts.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		e.SetHaltHandler(e.ContextHalt(ctx), 0)
	}

	var result vm.Value
	if opts.module {
		mod := vm.NewModule(code)
		defer mod.Release()
		result = e.RunModule(mod)
	} else {
		result = e.RunGlobal(code)
	}
	defer result.Free()
	_, abort := r.RunJobs()
	defer abort.Free()

	if result.IsException() {
		fmt.Fprintf(out, "Uncaught %s\n", vm.ErrorMessage(result))
		return 1, nil
	}
	if abort.IsAbort() {
		fmt.Fprintf(out, "Uncaught %s\n", vm.ErrorMessage(abort))
		return 1, nil
	}
	if !opts.module && !result.IsUndefined() {
		s, exc := r.ToString(result)
		if exc.IsException() {
			exc.Free()
			return 0, nil
		}
		fmt.Fprintln(out, s)
	}
	return 0, nil
}

// reportDebugEvents logs debugger events to stderr. A blocking server is
// resumed immediately since the CLI has no interactive client.
func reportDebugEvents(d *vm.DebugServer, done <-chan struct{}) {
	for {
		select {
		case ev := <-d.Events():
			where := ""
			if ev.Frame.Source != "" {
				where = fmt.Sprintf(" at %s:%d", filepath.Base(ev.Frame.Source), ev.Frame.Line)
			}
			fmt.Fprintf(os.Stderr, "debugger: %s%s %s\n", ev.Type, where, ev.Reason)
			if d.IsPaused() {
				d.Continue()
			}
		case <-done:
			return
		}
	}
}
