package asm

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/ecmavm/vm"
)

func TestBuildSimpleUnit(t *testing.T) {
	b := New("simple")
	b.Emit(vm.OpPush, b.String("hi"))
	b.Emit(vm.OpReturn)
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []byte{byte(vm.OpPush), 0, byte(vm.OpReturn)}
	if string(c.Bytecode) != string(want) {
		t.Errorf("bytecode = %v, want %v", c.Bytecode, want)
	}
	if c.RegisterEnd != 0 || c.IdentEnd != 0 || c.ConstLiteralEnd != 1 || c.LiteralEnd != 1 {
		t.Errorf("ranges = %d/%d/%d/%d", c.RegisterEnd, c.IdentEnd, c.ConstLiteralEnd, c.LiteralEnd)
	}
	if c.Literals[0].Kind != vm.LiteralString || c.Literals[0].Str != "hi" {
		t.Errorf("literal 0 = %+v", c.Literals[0])
	}
	if c.StackLimit < 1 {
		t.Errorf("StackLimit = %d", c.StackLimit)
	}
}

func TestLiteralLayout(t *testing.T) {
	b := New("layout")
	b.SetParams(1).SetRegisters(2)
	x := b.Ident("x")
	s1 := b.String("a")
	s2 := b.String("a")
	n := b.Number(3)
	re := b.RegExp("a+", "g")
	if s1 != s2 {
		t.Errorf("equal strings got distinct operands")
	}
	b.Emit(vm.OpPush, x)
	b.Emit(vm.OpPush, s1)
	b.Emit(vm.OpPush, n)
	b.Emit(vm.OpPush, re)
	b.Emit(vm.OpAssign, b.Reg(1))
	b.Emit(vm.OpPop)
	b.Emit(vm.OpPop)
	b.Emit(vm.OpReturnFunctionEnd)
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if c.ArgumentEnd != 1 || c.RegisterEnd != 2 || c.IdentEnd != 3 || c.ConstLiteralEnd != 5 || c.LiteralEnd != 6 {
		t.Fatalf("ranges = %d/%d/%d/%d/%d", c.ArgumentEnd, c.RegisterEnd, c.IdentEnd, c.ConstLiteralEnd, c.LiteralEnd)
	}
	kinds := []vm.LiteralKind{vm.LiteralIdent, vm.LiteralString, vm.LiteralNumber, vm.LiteralRegExp}
	for i, k := range kinds {
		if c.Literals[i].Kind != k {
			t.Errorf("literal %d kind = %s, want %s", i, c.Literals[i].Kind, k)
		}
	}
	in, err := vm.DecodeInstruction(c.Bytecode, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if in.Op != vm.OpPush || in.Literals[0] != 2 {
		t.Errorf("first instruction = %s", vm.FormatInstruction(in))
	}
}

func TestExtendedOpcodeEncoding(t *testing.T) {
	b := New("gen")
	b.SetFlags(vm.FlagGenerator)
	b.Emit(vm.OpCreateGenerator)
	b.Emit(vm.OpReturnFunctionEnd)
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if c.Bytecode[0] != vm.OpExt || vm.Opcode(0x100|uint16(c.Bytecode[1])) != vm.OpCreateGenerator {
		t.Errorf("bytecode = %v", c.Bytecode)
	}
}

func TestBranchRelaxation(t *testing.T) {
	tests := []struct {
		name  string
		nops  int
		width int
	}{
		{"short", 10, 1},
		{"medium", 300, 2},
		{"long", 70000, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.name)
			end := b.NewLabel("end")
			b.Jump(vm.OpJumpForward, end)
			for i := 0; i < tt.nops; i++ {
				b.Emit(vm.OpNop)
			}
			b.Mark(end)
			b.Emit(vm.OpReturnFunctionEnd)
			c, err := b.Build()
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			in, err := vm.DecodeInstruction(c.Bytecode, 0, false)
			if err != nil {
				t.Fatal(err)
			}
			if in.Op != vm.BranchWidth(vm.OpJumpForward, tt.width) {
				t.Errorf("op = %s, want width %d", in.Op, tt.width)
			}
			if want := len(c.Bytecode) - 1; in.Target != want {
				t.Errorf("target = %d, want %d", in.Target, want)
			}
		})
	}
}

func TestBranchDirectionFlip(t *testing.T) {
	b := New("loop")
	b.SetRegisters(1)
	top := b.NewLabel("top")
	b.Mark(top)
	b.Emit(vm.OpPushTrue)
	b.Jump(vm.OpBranchIfFalseForward, top)
	b.Emit(vm.OpReturnFunctionEnd)
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	in, err := vm.DecodeInstruction(c.Bytecode, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if in.Op != vm.OpBranchIfFalseBackward || in.Target != 0 {
		t.Errorf("branch = %s", vm.FormatInstruction(in))
	}
}

func TestBranchWithoutBackwardForm(t *testing.T) {
	b := New("bad")
	top := b.NewLabel("top")
	b.Mark(top)
	b.Emit(vm.OpPushUndefined)
	b.Jump(vm.OpTry, top)
	_, err := b.Build()
	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if !strings.Contains(aerr.Msg, "direction") {
		t.Errorf("msg = %q", aerr.Msg)
	}
}

func TestFullLiteralEncoding(t *testing.T) {
	b := New("many")
	for i := 0; i < 600; i++ {
		b.Emit(vm.OpPush, b.Number(float64(i)))
		b.Emit(vm.OpPop)
	}
	b.Emit(vm.OpReturnFunctionEnd)
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if c.Flags&vm.FlagFullLiteralEncoding == 0 {
		t.Fatal("full literal encoding not selected")
	}
	pos := 0
	for i := 0; i < 600; i++ {
		in, err := vm.DecodeInstruction(c.Bytecode, pos, true)
		if err != nil {
			t.Fatal(err)
		}
		if in.Literals[0] != i {
			t.Fatalf("push %d decoded literal %d", i, in.Literals[0])
		}
		pos = in.Next + 1 // skip POP
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
		want  string
	}{
		{"operand count", func(b *Builder) { b.Emit(vm.OpPush) }, "literal operands"},
		{"missing byte", func(b *Builder) { b.Emit(vm.OpCall) }, "byte operand"},
		{"label needed", func(b *Builder) { b.Emit(vm.OpJumpForward) }, "needs a label"},
		{"unmarked", func(b *Builder) {
			b.Jump(vm.OpJumpForward, b.NewLabel("nowhere"))
			b.Emit(vm.OpReturnFunctionEnd)
		}, "never marked"},
		{"register range", func(b *Builder) {
			b.Emit(vm.OpPush, b.Reg(4))
			b.Emit(vm.OpReturn)
		}, "outside"},
		{"empty", func(b *Builder) {}, "no instructions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.name)
			tt.build(b)
			_, err := b.Build()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestMarkTwicePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	b := New("twice")
	l := b.NewLabel("l")
	b.Mark(l)
	b.Mark(l)
}

func TestLineTable(t *testing.T) {
	b := New("lines")
	b.Line(3)
	b.Emit(vm.OpPushTrue)
	b.Emit(vm.OpPop)
	b.Line(4)
	b.Emit(vm.OpReturnFunctionEnd)
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(c.Lines) != 2 {
		t.Fatalf("lines = %+v", c.Lines)
	}
	if got := c.LineAt(1); got != 3 {
		t.Errorf("LineAt(1) = %d", got)
	}
	if got := c.LineAt(2); got != 4 {
		t.Errorf("LineAt(2) = %d", got)
	}
}
