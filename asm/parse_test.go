package asm

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/ecmavm/vm"
)

const counterSource = `
; counts to three through a closure
.func inc
.flags arrow
	PUSH_POS_BYTE 0          ; 1
	PUSH n
	ADD
	ASSIGN_PUSH n
	RETURN
.end

.registers 1
	CREATE_LET n
	PUSH 0
	INIT_BINDING n
	PUSH $inc
	ASSIGN r0
loop:
	PUSH r0
	CALL_BLOCK 0
	PUSH r0
	POP
	PUSH n
	LESS_RIGHT_LITERAL 3
	BRANCH_IF_TRUE_BACKWARD loop
`

func TestParseProgram(t *testing.T) {
	c, err := ParseString(counterSource, "counter.easm")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.RegisterEnd != 1 {
		t.Errorf("RegisterEnd = %d", c.RegisterEnd)
	}
	var fn *vm.Code
	for _, lit := range c.Literals {
		if lit.Kind == vm.LiteralFunction {
			fn = lit.Func
		}
	}
	if fn == nil || fn.Name != "inc" || fn.Flags&vm.FlagArrow == 0 {
		t.Fatalf("nested function = %+v", fn)
	}
	dis := vm.Disassemble(c)
	for _, want := range []string{"CREATE_LET", "INIT_BINDING", "CALL_BLOCK 0", "LESS_RIGHT_LITERAL", "BRANCH_IF_TRUE_BACKWARD"} {
		if !strings.Contains(dis, want) {
			t.Errorf("disassembly lacks %s:\n%s", want, dis)
		}
	}
	if c.LineAt(0) == 0 {
		t.Error("text lines not recorded")
	}
}

func TestParseOperands(t *testing.T) {
	src := `
.registers 1
	PUSH "a;b"       ; string with a semicolon
	PUSH 12n
	PUSH -2.5
	PUSH Infinity
	PUSH null
	PUSH /x+/gi
	PUSH r0
	PUSH total
	RETURN
`
	c, err := ParseString(src, "operands")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	byKind := map[vm.LiteralKind]vm.Literal{}
	for _, lit := range c.Literals {
		byKind[lit.Kind] = lit
	}
	if byKind[vm.LiteralString].Str != "a;b" {
		t.Errorf("string = %q", byKind[vm.LiteralString].Str)
	}
	if byKind[vm.LiteralBigInt].Str != "12" {
		t.Errorf("bigint = %q", byKind[vm.LiteralBigInt].Str)
	}
	if re := byKind[vm.LiteralRegExp]; re.Str != "x+" || re.Flags != "gi" {
		t.Errorf("regexp = %+v", re)
	}
	if byKind[vm.LiteralIdent].Str != "total" {
		t.Errorf("ident = %q", byKind[vm.LiteralIdent].Str)
	}
	if _, ok := byKind[vm.LiteralNull]; !ok {
		t.Error("null constant missing")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown opcode", "FROB", "unknown opcode"},
		{"unknown directive", ".frob 1", "unknown directive"},
		{"unknown flag", ".flags shiny\nRETURN_FUNCTION_END", "unknown flag"},
		{"missing end", ".func f\nRETURN_FUNCTION_END", "missing .end"},
		{"stray end", "RETURN_FUNCTION_END\n.end", ".end without .func"},
		{"undefined function", "PUSH $nope\nRETURN", "undefined function"},
		{"bad string", `PUSH "abc`, "unterminated"},
		{"bad byte", "CALL x", "bad byte operand"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.src, tt.name)
			var aerr *Error
			if !errors.As(err, &aerr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestOpcodeByName(t *testing.T) {
	tests := []struct {
		name string
		want vm.Opcode
		ok   bool
	}{
		{"PUSH", vm.OpPush, true},
		{"push", vm.OpPush, true},
		{"JUMP_FORWARD_2", vm.OpJumpForward, true},
		{"FOR_AWAIT_OF_STEP", vm.OpForAwaitOfStep, true},
		{"ADD_TWO_LITERALS", vm.TwoLiterals(vm.OpAdd), true},
		{"PUSH_2", 0, false},
		{"NOPE", 0, false},
	}
	for _, tt := range tests {
		got, ok := OpcodeByName(tt.name)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("OpcodeByName(%q) = %s, %v", tt.name, got, ok)
		}
	}
}
