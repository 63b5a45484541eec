package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/ecmavm/asm"
	"github.com/chazu/ecmavm/snapshot"
	"github.com/chazu/ecmavm/vm"
)

// handleAsmCommand processes the `ecmavm asm` subcommand.
// Usage:
//
//	ecmavm asm prog.easm             # writes prog.snap
//	ecmavm asm -o out.snap prog.easm
func handleAsmCommand(args []string) int {
	fs := flag.NewFlagSet("asm", flag.ContinueOnError)
	output := fs.String("o", "", "Output snapshot path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: asm takes one source file")
		return 2
	}
	src := fs.Arg(0)
	out := *output
	if out == "" {
		out = trimExt(src) + ".snap"
	}
	if err := assemble(src, out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func assemble(src, out string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	code, err := asm.Parse(f, src)
	if err != nil {
		return err
	}
	return snapshot.WriteFile(out, snapshot.New(code))
}

func trimExt(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// handleDisasmCommand processes the `ecmavm disasm` subcommand.
func handleDisasmCommand(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: disasm takes one program")
		return 2
	}
	code, err := loadProgram(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	disassemble(os.Stdout, code)
	return 0
}

func disassemble(w io.Writer, root *vm.Code) {
	for i, c := range units(root) {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "; %s  args=%d registers=%d literals=%d stack=%d\n",
			unitName(c), c.ArgumentEnd, c.RegisterEnd, c.LiteralEnd, c.StackLimit)
		for j, lit := range c.Literals {
			fmt.Fprintf(w, ";   #%d %s\n", c.RegisterEnd+j, describeLiteral(lit))
		}
		fmt.Fprintln(w, vm.Disassemble(c))
	}
}

func describeLiteral(lit vm.Literal) string {
	switch lit.Kind {
	case vm.LiteralIdent, vm.LiteralString:
		return fmt.Sprintf("%s %q", lit.Kind, lit.Str)
	case vm.LiteralNumber:
		return fmt.Sprintf("%s %s", lit.Kind, vm.FormatNumber(lit.Num))
	case vm.LiteralBigInt:
		return fmt.Sprintf("%s %sn", lit.Kind, lit.Str)
	case vm.LiteralRegExp:
		return fmt.Sprintf("%s /%s/%s", lit.Kind, lit.Str, lit.Flags)
	case vm.LiteralFunction:
		return fmt.Sprintf("%s %s", lit.Kind, unitName(lit.Func))
	}
	return lit.Kind.String()
}

func unitName(c *vm.Code) string {
	if c == nil || c.Name == "" {
		return "<anonymous>"
	}
	return c.Name
}

// handleInfoCommand processes the `ecmavm info` subcommand.
func handleInfoCommand(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: info takes one program")
		return 2
	}
	path := args[0]
	if s, err := snapshot.ReadFile(path); err == nil {
		fmt.Printf("snapshot %s\n", s.ID)
		summarize(os.Stdout, s.Code)
		return 0
	}
	code, err := loadProgram(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	summarize(os.Stdout, code)
	return 0
}

func summarize(w io.Writer, root *vm.Code) {
	all := units(root)
	total := 0
	for _, c := range all {
		total += len(c.Bytecode)
	}
	fmt.Fprintf(w, "%d units, %d bytes of bytecode\n", len(all), total)
	for _, c := range all {
		fmt.Fprintf(w, "  %-20s %5d bytes  frame %3d  flags %#04x\n", unitName(c), len(c.Bytecode), c.FrameSize(), uint16(c.Flags))
	}
}
