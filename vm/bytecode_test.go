package vm

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op          Opcode
		name        string
		extended    bool
		branch      int
		backward    bool
		literals    int
		byteOperand bool
		putIdent    bool
	}{
		{OpNop, "NOP", false, 0, false, 0, false, false},
		{OpPush, "PUSH", false, 0, false, 1, false, false},
		{OpPushTwo, "PUSH_TWO", false, 0, false, 2, false, false},
		{OpPushPosByte, "PUSH_POS_BYTE", false, 0, false, 0, true, false},
		{OpAssign, "ASSIGN", false, 0, false, 0, false, true},
		{OpCreateLet, "CREATE_LET", false, 0, false, 1, false, false},
		{OpCall, "CALL", false, 0, false, 0, true, false},
		{OpAdd, "ADD", false, 0, false, 0, false, false},
		{RightLiteral(OpLess), "LESS_RIGHT_LITERAL", false, 0, false, 1, false, false},
		{TwoLiterals(OpMul), "MUL_TWO_LITERALS", false, 0, false, 2, false, false},
		{OpJumpForward, "JUMP_FORWARD", false, 1, false, 0, false, false},
		{BranchWidth(OpJumpBackward, 3), "JUMP_BACKWARD_3", false, 3, true, 0, false, false},
		{OpForOfHasNext, "FOR_OF_HAS_NEXT", false, 1, true, 0, false, false},
		{OpYield, "YIELD", true, 0, false, 0, false, false},
		{OpCreateArguments, "CREATE_ARGUMENTS", true, 0, false, 0, false, true},
		{BranchWidth(OpForAwaitOfStep, 2), "FOR_AWAIT_OF_STEP_2", true, 2, false, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.op.Info()
			if info.Name != tt.name {
				t.Errorf("Name = %q, want %q", info.Name, tt.name)
			}
			if info.Extended != tt.extended {
				t.Errorf("Extended = %v, want %v", info.Extended, tt.extended)
			}
			if info.Branch != tt.branch || info.Backward != tt.backward {
				t.Errorf("Branch = %d/%v, want %d/%v", info.Branch, info.Backward, tt.branch, tt.backward)
			}
			if info.Literals != tt.literals {
				t.Errorf("Literals = %d, want %d", info.Literals, tt.literals)
			}
			if info.ByteOperand != tt.byteOperand || info.PutIdent != tt.putIdent {
				t.Errorf("ByteOperand/PutIdent = %v/%v", info.ByteOperand, info.PutIdent)
			}
		})
	}
}

func TestOpcodeSpace(t *testing.T) {
	names := make(map[string]Opcode)
	for op := Opcode(0); op < OpcodeLimit; op++ {
		if !op.Valid() {
			continue
		}
		name := op.Name()
		if prev, dup := names[name]; dup {
			t.Errorf("opcodes %d and %d share the name %s", prev, op, name)
		}
		names[name] = op
		if op < extBase && op >= OpExt {
			t.Errorf("basic opcode %s collides with the extension byte", name)
		}
	}
	if !strings.HasPrefix(Opcode(OpExt).Name(), "UNKNOWN_") {
		t.Errorf("escape byte decodes as %s", Opcode(OpExt).Name())
	}
}

// ---------------------------------------------------------------------------
// Encoding tests
// ---------------------------------------------------------------------------

func TestLiteralIndexEncoding(t *testing.T) {
	tests := []struct {
		idx  int
		full bool
		size int
	}{
		{0, false, 1},
		{254, false, 1},
		{255, false, 2},
		{MaxSmallLiteral, false, 2},
		{127, true, 1},
		{128, true, 2},
		{MaxFullLiteral, true, 2},
	}
	for _, tt := range tests {
		bc := AppendLiteralIndex(nil, tt.idx, tt.full)
		if len(bc) != tt.size {
			t.Errorf("index %d (full %v) encodes in %d bytes, want %d", tt.idx, tt.full, len(bc), tt.size)
		}
		got, next := readLiteralIndex(bc, 0, tt.full)
		if got != tt.idx || next != tt.size {
			t.Errorf("index %d (full %v) decodes as %d ending at %d", tt.idx, tt.full, got, next)
		}
	}
}

func TestDecodeInstruction(t *testing.T) {
	bc := []byte{
		byte(OpPush), 3, // 0
		byte(BranchWidth(OpJumpForward, 2)), 0x01, 0x02, // 2
		byte(OpCall), 2, // 5
		OpExt, byte(OpYield - extBase), // 7
		byte(OpJumpBackward), 9, // 9
	}
	tests := []struct {
		offset   int
		op       Opcode
		literals []int
		byteOp   int
		target   int
		next     int
	}{
		{0, OpPush, []int{3}, 0, -1, 2},
		{2, BranchWidth(OpJumpForward, 2), nil, 0, 2 + 0x0102, 5},
		{5, OpCall, nil, 2, -1, 7},
		{7, OpYield, nil, 0, -1, 9},
		{9, OpJumpBackward, nil, 0, 0, 11},
	}
	for _, tt := range tests {
		in, err := DecodeInstruction(bc, tt.offset, false)
		if err != nil {
			t.Fatalf("offset %d: %v", tt.offset, err)
		}
		if in.Op != tt.op || in.Byte != tt.byteOp || in.Target != tt.target || in.Next != tt.next {
			t.Errorf("offset %d: got %s byte=%d target=%d next=%d", tt.offset, in.Op, in.Byte, in.Target, in.Next)
		}
		if len(in.Literals) != len(tt.literals) {
			t.Errorf("offset %d: literals %v, want %v", tt.offset, in.Literals, tt.literals)
		}
	}

	if _, err := DecodeInstruction([]byte{0xFE}, 0, false); err == nil {
		t.Error("expected an error for an undefined opcode")
	}
}

func TestDisassemble(t *testing.T) {
	c := &Code{
		Name:            "demo",
		RegisterEnd:     1,
		IdentEnd:        2,
		ConstLiteralEnd: 2,
		LiteralEnd:      2,
		Literals:        []Literal{{Kind: LiteralIdent, Str: "x"}},
		StackLimit:      4,
		Bytecode: []byte{
			byte(OpPush), 1,
			byte(OpBranchIfTrueForward), 3,
			byte(OpPopBlock),
		},
	}
	want := strings.Join([]string{
		"0000  PUSH #1",
		"0002  BRANCH_IF_TRUE_FORWARD (-> 0005)",
		"0004  POP_BLOCK",
	}, "\n")
	if got := Disassemble(c); got != want {
		t.Errorf("Disassemble =\n%s\nwant\n%s", got, want)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Validation tests
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	base := func() *Code {
		return &Code{
			Name:        "unit",
			RegisterEnd: 1,
			IdentEnd:    2,
			LiteralEnd:  2,
			Literals:    []Literal{{Kind: LiteralIdent, Str: "x"}},
			StackLimit:  2,
			Bytecode:    []byte{byte(OpPush), 1, byte(OpPopBlock)},
		}
	}
	tests := []struct {
		name   string
		mutate func(c *Code)
		want   string
	}{
		{"valid", func(c *Code) {}, ""},
		{"empty bytecode", func(c *Code) { c.Bytecode = nil }, "empty bytecode"},
		{"arguments outside registers", func(c *Code) { c.ArgumentEnd = 2 }, "argument end"},
		{"literal table size", func(c *Code) { c.Literals = nil }, "literal table"},
		{"constant in identifier range", func(c *Code) { c.Literals[0] = Literal{Kind: LiteralString, Str: "x"} }, "identifier range"},
		{"literal out of range", func(c *Code) { c.Bytecode[1] = 7 }, "out of range"},
		{"truncated", func(c *Code) { c.Bytecode = []byte{byte(OpPush)} }, "truncated"},
		{"branch past end", func(c *Code) { c.Bytecode = []byte{byte(OpJumpForward), 40} }, "branch target"},
		{"block result without registers", func(c *Code) {
			c.RegisterEnd, c.Bytecode = 0, []byte{byte(OpPopBlock)}
			c.IdentEnd, c.ConstLiteralEnd, c.LiteralEnd, c.Literals = 0, 0, 0, nil
		}, "without registers"},
		{"nested template", func(c *Code) {
			c.ConstLiteralEnd = 2
			c.LiteralEnd = 3
			c.Literals = append(c.Literals, Literal{Kind: LiteralFunction, Func: &Code{Name: "inner"}})
		}, "inner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			c.ConstLiteralEnd = c.IdentEnd
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected an error containing %q", tt.want)
			}
			if !errors.Is(err, ErrInvalidCode) {
				t.Errorf("error %v does not wrap ErrInvalidCode", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Heap accounting
// ---------------------------------------------------------------------------

func TestHeapCounts(t *testing.T) {
	h := NewHeap()
	s := h.NewString("a")
	obj, _ := h.NewObject(Null, ClassObject)
	if h.Live() != 2 || h.LiveByKind(CellString) != 1 || h.LiveByKind(CellObject) != 1 {
		t.Fatalf("live = %d (%+v)", h.Live(), h.Stats().LiveByKind)
	}
	c := s.Copy()
	s.Free()
	if h.Live() != 2 {
		t.Errorf("string destroyed while a copy is held")
	}
	c.Free()
	obj.Free()
	st := h.Stats()
	if st.Live != 0 || st.Allocated != 2 || st.Freed != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestHeapDoubleFreeIsFatal(t *testing.T) {
	h := NewHeap()
	var got *FatalError
	h.onFatal = func(err *FatalError) { got = err }
	s := h.NewString("once")
	s.Free()
	s.Free()
	if got == nil || got.Code != FatalRefcount {
		t.Fatalf("onFatal saw %v", got)
	}
	if !strings.Contains(got.Error(), "refcount") {
		t.Errorf("message %q", got.Error())
	}
}
