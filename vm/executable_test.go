package vm_test

import (
	"testing"

	"github.com/chazu/ecmavm/realm"
	"github.com/chazu/ecmavm/vm"
)

const counterGenerator = `
.func counter
.flags generator
	CREATE_GENERATOR
	POP
	PUSH "a"
	YIELD
	ADD_RIGHT_LITERAL "!"
	YIELD
	POP
	RETURN_LITERAL "end"
.end
.registers 1
	PUSH $counter
	CALL_BLOCK 0
`

func TestGeneratorResume(t *testing.T) {
	h := newHarness(t)
	gen := h.run(counterGenerator)
	if gen.IsException() {
		t.Fatalf("uncaught %s", vm.ErrorMessage(gen))
	}
	if vm.ExecutableOf(gen) == nil {
		t.Fatal("generator object has no executable")
	}
	if n := h.engine.Heap().Stats().ExecutableFrames; n != 1 {
		t.Errorf("executable frames = %d after creation, want 1", n)
	}

	steps := []struct {
		send string
		want string
		done bool
	}{
		{"", "a", false},
		{"x", "x!", false},
		{"", "end", true},
		{"", "undefined", true},
	}
	for i, s := range steps {
		send := vm.Undefined
		if s.send != "" {
			send = h.keep(h.engine.NewString(s.send))
		}
		v, done := h.engine.Resume(gen, vm.ResumeNext, send)
		h.keep(v)
		if done != s.done {
			t.Errorf("step %d: done = %v, want %v", i, done, s.done)
		}
		h.expect(v, s.want)
	}
	if n := h.engine.Heap().Stats().ExecutableFrames; n != 0 {
		t.Errorf("executable frames = %d after completion", n)
	}
}

func TestGeneratorThrowAndReturn(t *testing.T) {
	tests := []struct {
		name string
		mode vm.ResumeMode
		want string
		exc  bool
	}{
		{"throw completes with the exception", vm.ResumeThrow, "injected", true},
		{"return completes with the value", vm.ResumeReturn, "injected", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			gen := h.run(counterGenerator)
			v, _ := h.engine.Resume(gen, vm.ResumeNext, vm.Undefined)
			h.keep(v)

			payload := h.keep(h.engine.NewString("injected"))
			v, done := h.engine.Resume(gen, tt.mode, payload)
			h.keep(v)
			if !done {
				t.Error("generator still suspended")
			}
			if tt.exc {
				h.expectThrow(v, tt.want)
			} else {
				h.expect(v, tt.want)
			}
			if n := h.engine.Heap().Stats().ExecutableFrames; n != 0 {
				t.Errorf("executable frames = %d", n)
			}
		})
	}
}

func TestGeneratorMethods(t *testing.T) {
	h := newHarness(t)
	v := h.run(`
.func pair
.flags generator
	CREATE_GENERATOR
	POP
	PUSH 1
	YIELD
	POP
	PUSH 2
	YIELD
	POP
	RETURN_FUNCTION_END
.end
.registers 3
	PUSH $pair
	CALL_PUSH 0
	ASSIGN r1
	PUSH r1
	PROP_REFERENCE "next"
	CALL_PROP_PUSH 0
	PROP_GET_LITERAL "value"
	ASSIGN r2
	PUSH r1
	PROP_REFERENCE "next"
	CALL_PROP_PUSH 0
	PROP_GET_LITERAL "value"
	PUSH r2
	ADD
	POP_BLOCK
`)
	h.expect(v, "3")
}

func TestGeneratorRejectsReentry(t *testing.T) {
	h := newHarness(t)
	var gen vm.Value
	reenter := h.keep(h.engine.NewNative("reenter", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		v, _ := e.Resume(gen, vm.ResumeNext, vm.Undefined)
		return v
	}, nil))
	h.realm.GlobalObject().Object().SetOwn(vm.StringKey("reenter"), reenter.Copy(), vm.MethodFlags)

	gen = h.run(`
.func g
.flags generator
	CREATE_GENERATOR
	POP
	PUSH reenter
	CALL_PUSH 0
	YIELD
	RETURN_FUNCTION_END
.end
.registers 1
	PUSH $g
	CALL_BLOCK 0
`)
	v, done := h.engine.Resume(gen, vm.ResumeNext, vm.Undefined)
	h.keep(v)
	if !done {
		t.Error("generator still suspended after the throw")
	}
	h.expectThrow(v, "TypeError: Generator is already running")
}

func TestAsyncFunction(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		state realm.PromiseState
		want  string
	}{
		{"fulfills after await", `
	PUSH 20
	AWAIT
	ADD_RIGHT_LITERAL 1
	RETURN
`, realm.Fulfilled, "21"},
		{"rejects after await", `
	PUSH_UNDEFINED
	AWAIT
	POP
	PUSH "bad"
	THROW
`, realm.Rejected, "bad"},
		{"settles without await", `
	RETURN_LITERAL "sync"
`, realm.Fulfilled, "sync"},
		{"awaits a chain", `
	PUSH 1
	AWAIT
	ADD_RIGHT_LITERAL 1
	AWAIT
	ADD_RIGHT_LITERAL 1
	AWAIT
	RETURN
`, realm.Fulfilled, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p := h.run(".func work\n.flags async\n" + tt.body + ".end\n.registers 1\n\tPUSH $work\n\tCALL_BLOCK 0\n")
			state, result, ok := h.realm.PromiseResult(p)
			if !ok {
				t.Fatalf("result %q is not a promise", h.text(p))
			}
			if state != tt.state {
				t.Fatalf("state = %v, want %v", state, tt.state)
			}
			h.expect(result, tt.want)
			if n := h.engine.Heap().Stats().ExecutableFrames; n != 0 {
				t.Errorf("executable frames = %d after settling", n)
			}
		})
	}
}

func TestAsyncFunctionSuspendsUntilJobsRun(t *testing.T) {
	h := newHarness(t)
	p := h.keep(h.engine.RunGlobal(assemble(t, `
.func work
.flags async
	PUSH "later"
	AWAIT
	RETURN
.end
.registers 1
	PUSH $work
	CALL_BLOCK 0
`)))
	if state, _, _ := h.realm.PromiseResult(p); state != realm.Pending {
		t.Fatalf("state = %v before the job queue ran", state)
	}
	if n := h.engine.Heap().Stats().ExecutableFrames; n != 1 {
		t.Errorf("executable frames = %d while suspended", n)
	}
	h.realm.RunJobs()
	state, result, _ := h.realm.PromiseResult(p)
	if state != realm.Fulfilled {
		t.Fatalf("state = %v after RunJobs", state)
	}
	h.expect(result, "later")
}

func TestAbandonedGeneratorRunsFinally(t *testing.T) {
	h := newHarness(t)
	h.run(`
.func g
.flags generator
	CREATE_GENERATOR
	POP
	TRY h
	PUSH 1
	YIELD
	POP
h:
	FINALLY e
	PUSH print
	PUSH "finalized"
	CALL 1
e:
	CONTEXT_END
	RETURN_FUNCTION_END
.end
.registers 1
	PUSH $g
	CALL_PUSH 0
	PROP_REFERENCE "next"
	CALL_PROP_BLOCK 0
`)
	if got := h.out.String(); got != "finalized\n" {
		t.Errorf("output = %q", got)
	}
	if n := h.engine.Heap().Stats().ExecutableFrames; n != 0 {
		t.Errorf("executable frames = %d", n)
	}
}

func TestGeneratorsDoNotLeak(t *testing.T) {
	h := newHarness(t)
	code := assemble(t, `
.func g
.flags generator
	CREATE_GENERATOR
	POP
	PUSH "v"
	YIELD
	POP
	RETURN_FUNCTION_END
.end
.registers 2
	PUSH $g
	CALL_PUSH 0
	ASSIGN r1
	PUSH r1
	PROP_REFERENCE "next"
	CALL_PROP_BLOCK 0
	PUSH r1
	PROP_REFERENCE "next"
	CALL_PROP_BLOCK 0
`)
	h.engine.RunGlobal(code).Free()
	live := h.engine.Heap().Live()
	for i := 0; i < 3; i++ {
		h.engine.RunGlobal(code).Free()
	}
	if got := h.engine.Heap().Live(); got != live {
		t.Errorf("live cells grew from %d to %d", live, got)
	}
}
