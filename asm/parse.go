package asm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chazu/ecmavm/vm"
)

// ---------------------------------------------------------------------------
// Text syntax
// ---------------------------------------------------------------------------
//
// One instruction or directive per line; ';' starts a comment.
//
//	.func add          begin a nested unit, closed by .end
//	.params 2          argument registers
//	.registers 3       total registers
//	.stack 8           operand stack bound (computed when absent)
//	.flags strict arrow generator async method class derived arguments noenv
//	.line 12           source line of the following instructions
//	loop:              label
//	PUSH r0            register
//	PUSH "text"        string constant
//	PUSH 1.5           number constant
//	PUSH 10n           bigint constant
//	PUSH undefined     also null, true, false
//	PUSH /a+/g         regexp template
//	PUSH $add          function template of a nested unit
//	PUSH counter       identifier
//	ARRAY_LITERAL 2    byte operand
//	JUMP_FORWARD loop  branch; width suffixes are accepted and ignored
//
// Nested units must be defined before they are referenced.

var opcodesByName map[string]vm.Opcode

func init() {
	opcodesByName = make(map[string]vm.Opcode)
	for op := vm.Opcode(0); op < vm.OpcodeLimit; op++ {
		if !op.Valid() {
			continue
		}
		info := op.Info()
		if info.Branch > 1 {
			continue
		}
		opcodesByName[info.Name] = op
	}
}

var flagNames = map[string]vm.CodeFlags{
	"strict":    vm.FlagStrict,
	"arrow":     vm.FlagArrow,
	"generator": vm.FlagGenerator,
	"async":     vm.FlagAsync,
	"method":    vm.FlagMethod,
	"class":     vm.FlagClassConstructor,
	"derived":   vm.FlagDerivedConstructor | vm.FlagClassConstructor,
	"arguments": vm.FlagArgumentsNeeded,
	"noenv":     vm.FlagLexicalEnvNotNeeded,
	"nodebug":   vm.FlagDebuggerIgnore,
}

// OpcodeByName looks up an opcode by its disassembly name. Branch names with
// a width suffix resolve to the base form of their family.
func OpcodeByName(name string) (vm.Opcode, bool) {
	name = strings.ToUpper(name)
	if op, ok := opcodesByName[name]; ok {
		return op, true
	}
	if i := strings.LastIndexByte(name, '_'); i > 0 {
		switch name[i+1:] {
		case "2", "3":
			op, ok := opcodesByName[name[:i]]
			return op, ok && op.Info().Branch == 1
		}
	}
	return 0, false
}

type unit struct {
	b      *Builder
	labels map[string]*Label
	funcs  map[string]*vm.Code
	parent *unit

	explicitLines bool // .line seen; otherwise text lines are recorded
}

func (u *unit) label(name string) *Label {
	l, ok := u.labels[name]
	if !ok {
		l = u.b.NewLabel(name)
		u.labels[name] = l
	}
	return l
}

func (u *unit) lookupFunc(name string) (*vm.Code, bool) {
	for s := u; s != nil; s = s.parent {
		if c, ok := s.funcs[name]; ok {
			return c, true
		}
	}
	return nil, false
}

type parser struct {
	source string
	sc     *bufio.Scanner
	lineNo int
}

// Parse assembles the text read from r into a code unit called name.
func Parse(r io.Reader, name string) (*vm.Code, error) {
	p := &parser{source: name, sc: bufio.NewScanner(r)}
	root := p.newUnit(name, nil)
	code, closed, err := p.parseUnit(root)
	if err != nil {
		return nil, err
	}
	if closed {
		return nil, p.errorf(name, ".end without .func")
	}
	return code, nil
}

// ParseString is Parse over a string.
func ParseString(src, name string) (*vm.Code, error) {
	return Parse(strings.NewReader(src), name)
}

func (p *parser) newUnit(name string, parent *unit) *unit {
	b := New(name)
	b.SetSource(p.source)
	return &unit{b: b, labels: make(map[string]*Label), funcs: make(map[string]*vm.Code), parent: parent}
}

func (p *parser) errorf(unit, format string, args ...any) error {
	return &Error{Unit: unit, Line: p.lineNo, Msg: fmt.Sprintf(format, args...)}
}

// parseUnit reads lines into u until .end or end of input. closed reports
// whether .end was seen.
func (p *parser) parseUnit(u *unit) (code *vm.Code, closed bool, err error) {
	name := u.b.name
	for p.sc.Scan() {
		p.lineNo++
		line := stripComment(p.sc.Text())
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ":") && !strings.ContainsAny(line, " \t\"") {
			u.b.Mark(u.label(strings.TrimSuffix(line, ":")))
			continue
		}
		fields, err := splitFields(line)
		if err != nil {
			return nil, false, p.errorf(name, "%v", err)
		}
		head := fields[0]
		args := fields[1:]
		if strings.HasPrefix(head, ".") {
			if head == ".end" {
				closed = true
				break
			}
			if err := p.directive(u, head, args); err != nil {
				return nil, false, err
			}
			continue
		}
		if err := p.instruction(u, head, args); err != nil {
			return nil, false, err
		}
	}
	if err := p.sc.Err(); err != nil {
		return nil, false, fmt.Errorf("asm: reading %s: %w", p.source, err)
	}
	code, err = u.b.Build()
	return code, closed, err
}

func (p *parser) directive(u *unit, head string, args []string) error {
	name := u.b.name
	intArg := func() (int, error) {
		if len(args) != 1 {
			return 0, p.errorf(name, "%s takes one number", head)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return 0, p.errorf(name, "%s: bad count %q", head, args[0])
		}
		return n, nil
	}
	switch head {
	case ".func":
		if len(args) != 1 {
			return p.errorf(name, ".func takes a name")
		}
		child := p.newUnit(args[0], u)
		code, closed, err := p.parseUnit(child)
		if err != nil {
			return err
		}
		if !closed {
			return p.errorf(args[0], "missing .end")
		}
		u.funcs[args[0]] = code
	case ".params":
		n, err := intArg()
		if err != nil {
			return err
		}
		u.b.SetParams(n)
	case ".registers":
		n, err := intArg()
		if err != nil {
			return err
		}
		u.b.SetRegisters(n)
	case ".stack":
		n, err := intArg()
		if err != nil {
			return err
		}
		u.b.SetStackLimit(n)
	case ".line":
		n, err := intArg()
		if err != nil {
			return err
		}
		u.explicitLines = true
		u.b.Line(n)
	case ".flags":
		var f vm.CodeFlags
		for _, a := range args {
			bit, ok := flagNames[a]
			if !ok {
				return p.errorf(name, "unknown flag %q", a)
			}
			f |= bit
		}
		u.b.SetFlags(f)
	default:
		return p.errorf(name, "unknown directive %s", head)
	}
	return nil
}

func (p *parser) instruction(u *unit, mnemonic string, args []string) error {
	name := u.b.name
	op, ok := OpcodeByName(mnemonic)
	if !ok {
		return p.errorf(name, "unknown opcode %s", mnemonic)
	}
	info := op.Info()
	if !u.explicitLines {
		u.b.Line(p.lineNo)
	}
	switch {
	case info.Branch > 0:
		if len(args) != 1 {
			return p.errorf(name, "%s takes a label", info.Name)
		}
		u.b.Jump(op, u.label(args[0]))
		return u.b.err
	case info.ByteOperand:
		if len(args) == 0 {
			return p.errorf(name, "%s takes a byte operand", info.Name)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return p.errorf(name, "%s: bad byte operand %q", info.Name, args[0])
		}
		ops, err := p.operands(u, args[1:])
		if err != nil {
			return err
		}
		u.b.EmitByte(op, n, ops...)
		return u.b.err
	}
	ops, err := p.operands(u, args)
	if err != nil {
		return err
	}
	u.b.Emit(op, ops...)
	return u.b.err
}

func (p *parser) operands(u *unit, args []string) ([]Operand, error) {
	ops := make([]Operand, 0, len(args))
	for _, a := range args {
		o, err := p.operand(u, a)
		if err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}
	return ops, nil
}

func (p *parser) operand(u *unit, tok string) (Operand, error) {
	b := u.b
	switch {
	case tok == "undefined":
		return b.Undefined(), nil
	case tok == "null":
		return b.Null(), nil
	case tok == "true":
		return b.True(), nil
	case tok == "false":
		return b.False(), nil
	case strings.HasPrefix(tok, `"`):
		s, err := strconv.Unquote(tok)
		if err != nil {
			return Operand{}, p.errorf(b.name, "bad string %s", tok)
		}
		return b.String(s), nil
	case strings.HasPrefix(tok, "/"):
		end := strings.LastIndexByte(tok, '/')
		if end == 0 {
			return Operand{}, p.errorf(b.name, "unterminated regexp %s", tok)
		}
		return b.RegExp(tok[1:end], tok[end+1:]), nil
	case strings.HasPrefix(tok, "$"):
		code, ok := u.lookupFunc(tok[1:])
		if !ok {
			return Operand{}, p.errorf(b.name, "undefined function %s", tok[1:])
		}
		return b.Func(code), nil
	case len(tok) > 1 && tok[0] == 'r' && isDigits(tok[1:]):
		n, _ := strconv.Atoi(tok[1:])
		return b.Reg(n), nil
	case strings.HasSuffix(tok, "n") && isDigits(strings.TrimPrefix(tok[:len(tok)-1], "-")):
		return b.BigInt(tok[:len(tok)-1]), nil
	case isNumberStart(tok):
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return Operand{}, p.errorf(b.name, "bad number %s", tok)
		}
		return b.Number(f), nil
	}
	return b.Ident(tok), nil
}

func stripComment(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && inString:
			i++
		case c == '"':
			inString = !inString
		case c == ';' && !inString:
			return strings.TrimSpace(line[:i])
		}
	}
	return strings.TrimSpace(line)
}

// splitFields splits on blanks, keeping quoted strings whole.
func splitFields(line string) ([]string, error) {
	var fields []string
	for i := 0; i < len(line); {
		c := line[i]
		if c == ' ' || c == '\t' || c == ',' {
			i++
			continue
		}
		start := i
		if c == '"' {
			i++
			for i < len(line) && line[i] != '"' {
				if line[i] == '\\' {
					i++
				}
				i++
			}
			if i >= len(line) {
				return nil, fmt.Errorf("unterminated string")
			}
			i++
		} else {
			for i < len(line) && line[i] != ' ' && line[i] != '\t' && line[i] != ',' {
				i++
			}
		}
		fields = append(fields, line[start:i])
	}
	return fields, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isNumberStart(s string) bool {
	c := s[0]
	if c == '-' || c == '+' || c == '.' {
		return len(s) > 1
	}
	return c >= '0' && c <= '9' || s == "Infinity" || s == "NaN"
}
