package vm_test

import (
	"testing"

	"github.com/chazu/ecmavm/vm"
)

func TestTryCatchFinally(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		want   string
		output string
	}{
		{
			name: "catch receives the payload",
			src: `
.registers 2
	TRY h
	PUSH "boom"
	THROW
h:
	CATCH c
	ASSIGN r1
	PUSH r1
	ADD_RIGHT_LITERAL "!"
	POP_BLOCK
c:
	CONTEXT_END
`,
			want: "boom!",
		},
		{
			name: "catch sees engine errors",
			src: `
.registers 1
	TRY h
	PUSH missing
	POP
h:
	CATCH c
	PROP_GET_LITERAL "name"
	POP_BLOCK
c:
	CONTEXT_END
`,
			want: "ReferenceError",
		},
		{
			name: "normal flow skips catch",
			src: `
.registers 1
	TRY h
	PUSH "body"
	POP_BLOCK
h:
	CATCH c
	POP
	PUSH "handler"
	POP_BLOCK
c:
	CONTEXT_END
`,
			want: "body",
		},
		{
			name: "finally runs in normal flow",
			src: `
.registers 1
	TRY h
	PUSH "body"
	POP_BLOCK
h:
	FINALLY e
	PUSH print
	PUSH "finally"
	CALL 1
e:
	CONTEXT_END
`,
			want:   "body",
			output: "finally\n",
		},
		{
			name: "finally after catch",
			src: `
.registers 1
	TRY h
	PUSH "first"
	THROW
h:
	CATCH c
	POP_BLOCK
c:
	FINALLY e
	PUSH print
	PUSH "finally"
	CALL 1
e:
	CONTEXT_END
`,
			want:   "first",
			output: "finally\n",
		},
		{
			name: "finally overrides return",
			src: `
.func f
	TRY h
	RETURN_LITERAL 1
h:
	FINALLY e
	RETURN_LITERAL 2
e:
	CONTEXT_END
	RETURN_FUNCTION_END
.end
.registers 1
	PUSH $f
	CALL_BLOCK 0
`,
			want: "2",
		},
		{
			name: "return passes through finally",
			src: `
.func f
	TRY h
	RETURN_LITERAL "kept"
h:
	FINALLY e
	PUSH print
	PUSH "cleanup"
	CALL 1
e:
	CONTEXT_END
	RETURN_FUNCTION_END
.end
.registers 1
	PUSH $f
	CALL_BLOCK 0
`,
			want:   "kept",
			output: "cleanup\n",
		},
		{
			name: "jump out through finally",
			src: `
.registers 2
	PUSH_ZERO
	ASSIGN r1
	TRY h
	JUMP_FORWARD_EXIT_CONTEXT out
	PUSH_POS_BYTE 99
	ASSIGN r1
h:
	FINALLY e
	PUSH r1
	INCR
	ASSIGN r1
e:
	CONTEXT_END
	PUSH_POS_BYTE 50
	ASSIGN r1
out:
	PUSH r1
	POP_BLOCK
`,
			want: "1",
		},
		{
			name: "throw across frames reaches caller catch",
			src: `
.func inner
	PUSH "from inner"
	THROW
.end
.registers 1
	TRY h
	PUSH $inner
	CALL 0
h:
	CATCH c
	POP_BLOCK
c:
	CONTEXT_END
`,
			want: "from inner",
		},
		{
			name: "rethrow from catch",
			src: `
.registers 1
	TRY outer
	TRY h
	PUSH "again"
	THROW
h:
	CATCH c
	THROW
c:
	CONTEXT_END
outer:
	CATCH oc
	POP_BLOCK
oc:
	CONTEXT_END
`,
			want: "again",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.expect(h.run(tt.src), tt.want)
			if got := h.out.String(); got != tt.output {
				t.Errorf("output = %q, want %q", got, tt.output)
			}
		})
	}
}

func TestFinallyRethrows(t *testing.T) {
	h := newHarness(t)
	v := h.run(`
	TRY h
	PUSH "inner"
	THROW
h:
	FINALLY e
	PUSH print
	PUSH "cleanup"
	CALL 1
e:
	CONTEXT_END
`)
	h.expectThrow(v, "inner")
	if got := h.out.String(); got != "cleanup\n" {
		t.Errorf("output = %q", got)
	}
}

func TestAbortSkipsCatch(t *testing.T) {
	h := newHarness(t)
	h.engine.SetHaltHandler(func() vm.Value { return h.engine.NewString("stop") }, 1)
	v := h.run(`
.registers 1
	TRY h
loop:
	NOP
	JUMP_BACKWARD loop
h:
	CATCH c
	POP_BLOCK
c:
	FINALLY f
	PUSH print
	PUSH "finally"
	CALL 1
f:
	CONTEXT_END
`)
	if !v.IsAbort() {
		t.Fatalf("result %q is not an abort", h.text(v))
	}
	if msg := vm.ErrorMessage(v); msg != "stop" {
		t.Errorf("payload = %q", msg)
	}
	if got := h.out.String(); got != "finally\n" {
		t.Errorf("output = %q", got)
	}
}

func TestFinallyCannotCancelAbort(t *testing.T) {
	h := newHarness(t)
	h.engine.SetHaltHandler(func() vm.Value { return h.engine.NewString("stop") }, 1)
	v := h.run(`
	TRY h
loop:
	NOP
	JUMP_BACKWARD loop
h:
	FINALLY e
	JUMP_FORWARD_EXIT_CONTEXT out
e:
	CONTEXT_END
out:
	PUSH print
	PUSH "escaped"
	CALL 1
`)
	if !v.IsAbort() {
		t.Fatalf("result %q is not an abort", h.text(v))
	}
	if got := h.out.String(); got != "" {
		t.Errorf("code after the finally ran: %q", got)
	}
}

func TestAbortCrossesFrames(t *testing.T) {
	h := newHarness(t)
	h.engine.SetHaltHandler(func() vm.Value { return h.engine.NewString("stop") }, 1)
	v := h.run(`
.func spin
top:
	NOP
	JUMP_BACKWARD top
.end
.registers 1
	TRY h
	PUSH $spin
	CALL 0
h:
	CATCH c
	PUSH "caught"
	POP_BLOCK
c:
	CONTEXT_END
`)
	if !v.IsAbort() {
		t.Fatalf("result %q is not an abort", h.text(v))
	}
	if d := h.engine.Depth(); d != 0 {
		t.Errorf("depth = %d after abort", d)
	}
}

func TestAbortEscapesPromiseExecutor(t *testing.T) {
	h := newHarness(t)
	h.engine.SetHaltHandler(func() vm.Value { return h.engine.NewString("halted") }, 1)
	v := h.run(`
.func exec
.params 2
top:
	NOP
	JUMP_BACKWARD top
.end
.registers 1
	PUSH Promise
	PUSH $exec
	NEW 1
	POP
	PUSH "continued"
	POP_BLOCK
`)
	if !v.IsAbort() {
		t.Fatalf("result %q is not an abort", h.text(v))
	}
	if got := vm.ErrorMessage(v); got != "halted" {
		t.Errorf("abort = %q, want halted", got)
	}
}

func TestAbortInJobStopsQueue(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{
			name: "then handler",
			src: `
.func spin
.params 1
top:
	NOP
	JUMP_BACKWARD top
.end
.func recover
.params 1
	PUSH print
	PUSH "recovered"
	CALL 1
	RETURN_FUNCTION_END
.end
.registers 1
	PUSH Promise
	PROP_REFERENCE "resolve"
	PUSH 1
	CALL_PROP_PUSH 1
	PROP_REFERENCE "then"
	PUSH $spin
	CALL_PROP_PUSH 1
	PROP_REFERENCE "catch"
	PUSH $recover
	CALL_PROP 1
	PUSH "sync"
	POP_BLOCK
`,
		},
		{
			name: "thenable resolution",
			src: `
.func spin
.params 2
top:
	NOP
	JUMP_BACKWARD top
.end
.func exec
.params 2
	PUSH r0
	PUSH_OBJECT
	PUSH $spin
	SET_PROPERTY "then"
	CALL 1
	RETURN_FUNCTION_END
.end
.func recover
.params 1
	PUSH print
	PUSH "recovered"
	CALL 1
	RETURN_FUNCTION_END
.end
.registers 1
	PUSH Promise
	PUSH $exec
	NEW 1
	PROP_REFERENCE "catch"
	PUSH $recover
	CALL_PROP 1
	PUSH "sync"
	POP_BLOCK
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.SetHaltHandler(func() vm.Value { return h.engine.NewString("halted") }, 1)
			h.expect(h.run(tt.src), "sync")
			if !h.jobAbort.IsAbort() {
				t.Fatal("job queue did not report the abort")
			}
			if got := vm.ErrorMessage(h.jobAbort); got != "halted" {
				t.Errorf("abort = %q, want halted", got)
			}
			if got := h.out.String(); got != "" {
				t.Errorf("output = %q, rejection handlers ran", got)
			}
		})
	}
}

func TestBreakClosesIterator(t *testing.T) {
	h := newHarness(t)
	v := h.run(`
.func gen
.flags generator
	CREATE_GENERATOR
	POP
	TRY h
	PUSH 1
	YIELD
	POP
	PUSH 2
	YIELD
	POP
h:
	FINALLY fe
	PUSH print
	PUSH "closed"
	CALL 1
fe:
	CONTEXT_END
	RETURN_FUNCTION_END
.end
.registers 1
	PUSH $gen
	CALL_PUSH 0
	FOR_OF_INIT end
body:
	FOR_OF_GET_NEXT
	POP_BLOCK
	JUMP_FORWARD_EXIT_CONTEXT end
	FOR_OF_HAS_NEXT body
end:
	NOP
`)
	h.expect(v, "1")
	if got := h.out.String(); got != "closed\n" {
		t.Errorf("output = %q", got)
	}
}

func TestThrowFromLoopBodyClosesIteratorOnce(t *testing.T) {
	h := newHarness(t)
	v := h.run(`
.func gen
.flags generator
	CREATE_GENERATOR
	POP
	TRY h
	PUSH 1
	YIELD
	POP
	PUSH 2
	YIELD
	POP
	PUSH 3
	YIELD
	POP
h:
	FINALLY fe
	PUSH print
	PUSH "closed"
	CALL 1
fe:
	CONTEXT_END
	RETURN_FUNCTION_END
.end
.registers 1
	TRY handler
	PUSH $gen
	CALL_PUSH 0
	FOR_OF_INIT end
body:
	FOR_OF_GET_NEXT
	LESS_RIGHT_LITERAL 2
	BRANCH_IF_TRUE_FORWARD next
	PUSH "stop"
	THROW
next:
	FOR_OF_HAS_NEXT body
end:
	NOP
handler:
	CATCH done
	POP_BLOCK
done:
	CONTEXT_END
`)
	h.expect(v, "stop")
	if got := h.out.String(); got != "closed\n" {
		t.Errorf("output = %q, want one close", got)
	}
}

func TestForOfSumsArray(t *testing.T) {
	h := newHarness(t)
	v := h.run(`
.registers 2
	PUSH_ZERO
	ASSIGN r1
	PUSH 1
	PUSH 2
	PUSH 3
	ARRAY_LITERAL 3
	FOR_OF_INIT end
body:
	FOR_OF_GET_NEXT
	PUSH r1
	ADD
	ASSIGN r1
	FOR_OF_HAS_NEXT body
end:
	PUSH r1
	POP_BLOCK
`)
	h.expect(v, "6")
}
