// ecmavm CLI - runs, assembles and inspects bytecode programs
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/ecmavm/asm"
	"github.com/chazu/ecmavm/snapshot"
	"github.com/chazu/ecmavm/vm"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 errors only, 1 info, 2 debug)")
	logFile := flag.String("log", "", "Write logs to this file instead of stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ecmavm [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run [program]          Run a snapshot or .easm program\n")
		fmt.Fprintf(os.Stderr, "  asm -o out.snap in.easm  Assemble a program into a snapshot\n")
		fmt.Fprintf(os.Stderr, "  disasm program         Print the bytecode of every unit\n")
		fmt.Fprintf(os.Stderr, "  info program           Summarize a program's units\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nWith no program, run uses [run] entry from the nearest ecmavm.toml.\n")
	}
	flag.Parse()

	if *logFile != "" {
		commonlog.Configure(*verbosity, logFile)
	} else {
		commonlog.Configure(*verbosity, nil)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var code int
	switch args[0] {
	case "run":
		code = handleRunCommand(args[1:])
	case "asm":
		code = handleAsmCommand(args[1:])
	case "disasm":
		code = handleDisasmCommand(args[1:])
	case "info":
		code = handleInfoCommand(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", args[0])
		flag.Usage()
		code = 2
	}
	os.Exit(code)
}

// loadProgram reads a program from an assembly source (.easm) or a snapshot.
func loadProgram(path string) (*vm.Code, error) {
	if strings.EqualFold(filepath.Ext(path), ".easm") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return asm.Parse(f, path)
	}
	s, err := snapshot.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.Code, nil
}

// units lists every code unit reachable from root, root first.
func units(root *vm.Code) []*vm.Code {
	var out []*vm.Code
	seen := make(map[*vm.Code]bool)
	var walk func(c *vm.Code)
	walk = func(c *vm.Code) {
		if seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
		for i := range c.Literals {
			if f := c.Literals[i].Func; f != nil {
				walk(f)
			}
		}
	}
	walk(root)
	return out
}
