package vm_test

import (
	"strings"
	"testing"

	"github.com/chazu/ecmavm/vm"
)

func TestEval(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
		exc  bool
	}{
		{
			name: "direct eval sees the caller's lexical bindings",
			src: `
.func f
	CREATE_LET secret
	PUSH "inner"
	INIT_BINDING secret
	PUSH eval
	PUSH ".registers 1\nPUSH secret\nPOP_BLOCK"
	EVAL
	CALL_PUSH 1
	RETURN
.end
.registers 1
	PUSH $f
	CALL_BLOCK 0
`,
			want: "inner",
		},
		{
			name: "indirect eval runs in the global scope",
			src: `
.func f
	CREATE_LET secret
	PUSH "inner"
	INIT_BINDING secret
	PUSH eval
	PUSH ".registers 1\nPUSH secret\nPOP_BLOCK"
	CALL_PUSH 1
	RETURN
.end
.registers 1
	PUSH $f
	CALL_BLOCK 0
`,
			want: "ReferenceError: secret is not defined",
			exc:  true,
		},
		{
			name: "indirect eval binds this to the global object",
			src: `
.func f
.flags strict
	PUSH eval
	PUSH ".registers 1\nPUSH_THIS\nPUSH globalThis\nSTRICT_EQUAL\nPOP_BLOCK"
	CALL_PUSH 1
	RETURN
.end
.registers 1
	PUSH $f
	CALL_BLOCK 0
`,
			want: "true",
		},
		{
			name: "direct eval keeps the caller's this",
			src: `
.func f
	PUSH eval
	PUSH ".registers 1\nPUSH_THIS\nPOP_BLOCK"
	EVAL
	CALL_PUSH 1
	PROP_GET_LITERAL "tag"
	RETURN
.end
.registers 1
	PUSH_OBJECT
	PUSH "mine"
	SET_PROPERTY "tag"
	PUSH "f"
	PUSH $f
	CALL_PROP_BLOCK 0
`,
			want: "mine",
		},
		{
			name: "sloppy eval declares vars in the global scope",
			src: `
.registers 1
	PUSH eval
	PUSH "CREATE_VAR leaked\nPUSH 1\nASSIGN leaked"
	CALL 1
	TYPEOF_IDENT leaked
	POP_BLOCK
`,
			want: "number",
		},
		{
			name: "strict eval keeps its vars",
			src: `
.registers 1
	PUSH eval
	PUSH ".flags strict\nCREATE_VAR leaked\nPUSH 1\nASSIGN leaked"
	CALL 1
	TYPEOF_IDENT leaked
	POP_BLOCK
`,
			want: "undefined",
		},
		{
			name: "non-string argument is returned as is",
			src: `
.registers 1
	PUSH eval
	PUSH 7
	CALL_BLOCK 1
`,
			want: "7",
		},
		{
			name: "bad source is a SyntaxError",
			src: `
	PUSH eval
	PUSH "NOT_AN_OPCODE"
	CALL 1
`,
			want: "SyntaxError",
			exc:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			v := h.run(tt.src)
			if !tt.exc {
				h.expect(v, tt.want)
				return
			}
			if !v.IsException() {
				t.Fatalf("completed with %q, want %s", h.text(v), tt.want)
			}
			if got := vm.ErrorMessage(v); !strings.HasPrefix(got, tt.want) {
				t.Errorf("exception = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestEvalChainIndex(t *testing.T) {
	tests := []struct {
		name  string
		index int
		want  string
	}{
		{"innermost environment", 0, "local"},
		{"enclosing environment", 1, "global"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			body := assemble(t, ".registers 1\nPUSH x\nPOP_BLOCK")
			at := h.keep(h.engine.NewNative("evalAt", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
				return e.RunEval(body, vm.EvalOptions{Direct: true, ChainIndex: tt.index})
			}, nil))
			h.realm.GlobalObject().Object().SetOwn(vm.StringKey("evalAt"), at.Copy(), vm.MethodFlags)
			v := h.run(`
.func f
	CREATE_LET x
	PUSH "local"
	INIT_BINDING x
	PUSH evalAt
	CALL_PUSH 0
	RETURN
.end
.registers 1
	CREATE_LET x
	PUSH "global"
	INIT_BINDING x
	PUSH $f
	CALL_BLOCK 0
`)
			h.expect(v, tt.want)
		})
	}
}

func TestRunModule(t *testing.T) {
	h := newHarness(t)
	mod := vm.NewModule(assemble(t, `
.registers 1
	CREATE_LET answer
	PUSH 42
	INIT_BINDING answer
	PUSH_THIS
	POP_BLOCK
`))
	defer mod.Release()

	if _, ok := mod.Lookup("answer"); ok {
		t.Error("binding visible before the module ran")
	}
	v := h.keep(h.engine.RunModule(mod))
	if v.IsException() {
		t.Fatalf("uncaught %s", vm.ErrorMessage(v))
	}
	if !v.IsUndefined() {
		t.Errorf("module this = %q, want undefined", h.text(v))
	}

	got, ok := mod.Lookup("answer")
	h.keep(got)
	if !ok {
		t.Fatal("answer not found")
	}
	if got.Number() != 42 {
		t.Errorf("answer = %v", got.Number())
	}
	if _, ok := mod.Lookup("missing"); ok {
		t.Error("missing binding found")
	}

	h.expect(h.run(".registers 1\nTYPEOF_IDENT answer\nPOP_BLOCK"), "undefined")

	mod.Release()
	if _, ok := mod.Lookup("answer"); ok {
		t.Error("binding still visible after Release")
	}
}

func TestModuleIsStrict(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"assignment to an undeclared name", "PUSH 1\nASSIGN undeclared", "ReferenceError: undeclared is not defined"},
		{"reading an undeclared name", "PUSH undeclared\nPOP", "ReferenceError: undeclared is not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			mod := vm.NewModule(assemble(t, tt.src))
			defer mod.Release()
			h.expectThrow(h.keep(h.engine.RunModule(mod)), tt.want)
			h.expect(h.run(".registers 1\nTYPEOF_IDENT undeclared\nPOP_BLOCK"), "undefined")
		})
	}
}
