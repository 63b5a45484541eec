package vm_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/chazu/ecmavm/vm"
)

func TestNewRequiresRealm(t *testing.T) {
	if _, err := vm.New(vm.Config{}); !errors.Is(err, vm.ErrNoRealm) {
		t.Errorf("err = %v, want ErrNoRealm", err)
	}
}

func TestScriptCompletion(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"block result", `
.registers 1
	PUSH_POS_BYTE 40
	PUSH_POS_BYTE 0
	ADD
	POP_BLOCK
`, "42"},
		{"literal operands", `
.registers 1
	MUL_TWO_LITERALS 6 7
	POP_BLOCK
`, "42"},
		{"string concatenation", `
.registers 1
	PUSH "ecma"
	ADD_RIGHT_LITERAL "vm"
	POP_BLOCK
`, "ecmavm"},
		{"bigint arithmetic", `
.registers 1
	PUSH 9007199254740993n
	ADD_RIGHT_LITERAL 1n
	POP_BLOCK
`, "9007199254740994"},
		{"typeof unresolvable", `
.registers 1
	TYPEOF_IDENT nowhere
	POP_BLOCK
`, "undefined"},
		{"logical branch keeps value", `
.registers 1
	PUSH "left"
	BRANCH_IF_LOGICAL_TRUE done
	PUSH "right"
done:
	POP_BLOCK
`, "left"},
		{"counting loop", `
.registers 2
	PUSH_ZERO
	ASSIGN r1
top:
	PUSH r1
	INCR
	ASSIGN_PUSH r1
	LESS_RIGHT_LITERAL 10
	BRANCH_IF_TRUE_BACKWARD top
	PUSH r1
	POP_BLOCK
`, "10"},
		{"no registers completes undefined", `
	PUSH_TRUE
	POP
`, "undefined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.expect(h.run(tt.src), tt.want)
		})
	}
}

func TestCallsAndClosures(t *testing.T) {
	h := newHarness(t)
	v := h.run(`
.func inc
.flags arrow
	PUSH n
	INCR
	ASSIGN_PUSH n
	RETURN
.end
.registers 2
	CREATE_LET n
	PUSH 10
	INIT_BINDING n
	PUSH $inc
	ASSIGN r1
	PUSH r1
	CALL 0
	PUSH r1
	CALL_BLOCK 0
`)
	h.expect(v, "12")
}

func TestArgumentsAndThis(t *testing.T) {
	h := newHarness(t)
	v := h.run(`
.func describe
.params 2
.flags strict
	PUSH_THIS
	PROP_GET_LITERAL "tag"
	PUSH r0
	ADD
	PUSH r1
	ADD
	RETURN
.end
.registers 2
	PUSH_OBJECT
	PUSH "obj:"
	SET_PROPERTY "tag"
	ASSIGN r1
	PUSH r1
	PUSH "describe"
	PUSH $describe
	PUSH "a"
	PUSH "b"
	CALL_PROP_BLOCK 2
`)
	h.expect(v, "obj:ab")
}

func TestNativeFunctions(t *testing.T) {
	h := newHarness(t)
	var seen []string
	fn := h.keep(h.engine.NewNative("record", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		for _, a := range args {
			seen = append(seen, h.text(a))
		}
		return e.NewString("recorded")
	}, nil))
	r := h.keep(h.engine.Call(fn, vm.Undefined, []vm.Value{vm.FromInt(1), vm.True}))
	h.expect(r, "recorded")
	if strings.Join(seen, ",") != "1,true" {
		t.Errorf("native saw %v", seen)
	}

	notFn := h.keep(h.engine.Call(vm.FromInt(3), vm.Undefined, nil))
	h.expectThrow(notFn, "TypeError: 3 is not a function")

	ctor := h.keep(h.engine.Construct(fn, nil, fn))
	h.expectThrow(ctor, "TypeError: record is not a constructor")
}

func TestPrintOutput(t *testing.T) {
	h := newHarness(t)
	h.run(`
	PUSH print
	PUSH "hello"
	PUSH 42
	CALL 2
	PUSH console
	PROP_REFERENCE "log"
	PUSH "again"
	CALL_PROP 1
`)
	if got := h.out.String(); got != "hello 42\nagain\n" {
		t.Errorf("output = %q", got)
	}
}

func TestCallDepthLimit(t *testing.T) {
	h := newHarness(t, func(c *vm.Config) { c.MaxDepth = 40 })
	v := h.run(`
.func rec
	PUSH rec
	CALL_PUSH 0
	RETURN
.end
	CREATE_VAR rec
	PUSH $rec
	ASSIGN rec
	PUSH rec
	CALL 0
`)
	h.expectThrow(v, "RangeError: Maximum call stack size exceeded")
	if d := h.engine.Depth(); d != 0 {
		t.Errorf("depth after unwinding = %d", d)
	}
}

// nestedCalls builds a script whose call chain is k functions deep before
// it reaches the global depth native.
func nestedCalls(k int) string {
	var b strings.Builder
	callee := "depth"
	for i := 1; i <= k; i++ {
		name := fmt.Sprintf("level%d", i)
		fmt.Fprintf(&b, ".func %s\n\tPUSH %s\n\tCALL 0\n\tRETURN_FUNCTION_END\n.end\n", name, callee)
		callee = "$" + name
	}
	fmt.Fprintf(&b, "\tPUSH %s\n\tCALL 0\n", callee)
	return b.String()
}

func TestNativeSeesCallDepth(t *testing.T) {
	tests := []struct {
		name   string
		levels int
		want   int
	}{
		{"called from the script", 0, 2},
		{"one function deep", 1, 3},
		{"three functions deep", 3, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			seen := -1
			fn := h.keep(h.engine.NewNative("depth", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
				seen = e.Depth()
				return vm.Undefined
			}, nil))
			h.realm.GlobalObject().Object().SetOwn(vm.StringKey("depth"), fn.Copy(), vm.MethodFlags)
			if v := h.run(nestedCalls(tt.levels)); v.IsException() {
				t.Fatalf("uncaught %s", vm.ErrorMessage(v))
			}
			if seen != tt.want {
				t.Errorf("depth inside the native = %d, want %d", seen, tt.want)
			}
			if d := h.engine.Depth(); d != 0 {
				t.Errorf("depth after the run = %d", d)
			}
		})
	}
}

func TestReferenceErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unresolvable", "PUSH missing\nPOP", "ReferenceError: missing is not defined"},
		{"temporal dead zone", "CREATE_LET later\nPUSH later\nPOP", "ReferenceError: Cannot access 'later' before initialization"},
		{"const assignment", "CREATE_CONST k\nPUSH 1\nINIT_BINDING k\nPUSH 2\nASSIGN k", "TypeError: Assignment to constant variable."},
		{"thrown string", "PUSH \"plain\"\nTHROW", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.expectThrow(h.run(tt.src), tt.want)
		})
	}
}

func TestOnThrowSeesEachExceptionOnce(t *testing.T) {
	count := 0
	h := newHarness(t, func(c *vm.Config) {
		c.OnThrow = func(e *vm.Engine, exc vm.Value) { count++ }
	})
	v := h.run(`
.func f
	PUSH "deep"
	THROW
.end
.func g
	PUSH $f
	CALL_PUSH 0
	RETURN
.end
	PUSH $g
	CALL 0
`)
	h.expectThrow(v, "deep")
	if count != 1 {
		t.Errorf("OnThrow called %d times, want 1", count)
	}
}

func TestInvalidCodeRaisesSyntaxError(t *testing.T) {
	h := newHarness(t)
	code := &vm.Code{Name: "broken", Bytecode: []byte{byte(vm.OpPush), 0}}
	v := h.keep(h.engine.RunGlobal(code))
	if !v.IsException() || !strings.HasPrefix(vm.ErrorMessage(v), "SyntaxError: invalid code") {
		t.Errorf("result = %v", vm.ErrorMessage(v))
	}
}

func TestHaltHandlerAbortsLoop(t *testing.T) {
	h := newHarness(t)
	polls := 0
	h.engine.SetHaltHandler(func() vm.Value {
		polls++
		if polls < 3 {
			return vm.Undefined
		}
		return h.engine.NewString("halted")
	}, 5)
	v := h.run(`
top:
	NOP
	JUMP_BACKWARD top
`)
	if !v.IsAbort() {
		t.Fatalf("result is not an abort: %s", h.text(v))
	}
	if vm.ErrorMessage(v) != "halted" {
		t.Errorf("payload = %q", vm.ErrorMessage(v))
	}
	if polls != 3 {
		t.Errorf("handler polled %d times, want 3", polls)
	}
}

func TestContextHalt(t *testing.T) {
	h := newHarness(t, func(c *vm.Config) { c.HaltFrequency = 64 })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	h.engine.SetHaltHandler(h.engine.ContextHalt(ctx), 0)
	v := h.run(`
top:
	NOP
	JUMP_BACKWARD top
`)
	if !v.IsAbort() || vm.ErrorMessage(v) != context.DeadlineExceeded.Error() {
		t.Errorf("result = %q (abort %v)", vm.ErrorMessage(v), v.IsAbort())
	}
}

func TestFrameSizeLimitIsFatal(t *testing.T) {
	var fatal *vm.FatalError
	h := newHarness(t, func(c *vm.Config) {
		c.MaxFrameSlots = 4
		c.OnFatal = func(err *vm.FatalError) { fatal = err }
	})
	code := assemble(t, ".registers 8\nPUSH_TRUE\nPOP_BLOCK")
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic")
		}
		if fatal == nil || fatal.Code != vm.FatalFrameSize {
			t.Errorf("OnFatal saw %v", fatal)
		}
		if err, ok := r.(*vm.FatalError); !ok || err != fatal {
			t.Errorf("panic value = %v", r)
		}
	}()
	h.engine.RunGlobal(code)
}

func TestContextEndWithoutContextIsFatal(t *testing.T) {
	var fatal *vm.FatalError
	h := newHarness(t, func(c *vm.Config) {
		c.OnFatal = func(err *vm.FatalError) { fatal = err }
	})
	code := assemble(t, "CONTEXT_END")
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic")
		}
		if fatal == nil || fatal.Code != vm.FatalCorruptContext {
			t.Errorf("OnFatal saw %v", fatal)
		}
	}()
	h.engine.RunGlobal(code)
}

func TestRepeatedRunsDoNotLeak(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		want  string
		abort bool
	}{
		{
			name: "calls and arrays",
			src: `
.func pair
.params 2
	PUSH r0
	PUSH r1
	ARRAY_LITERAL 2
	RETURN
.end
.registers 2
	PUSH $pair
	ASSIGN r1
	PUSH r1
	PUSH "a"
	PUSH_OBJECT
	CALL_PUSH 2
	PROP_GET_LITERAL "length"
	POP_BLOCK
`,
			want: "2",
		},
		{
			name: "for-in",
			src: `
.registers 2
	PUSH ""
	ASSIGN r1
	PUSH_OBJECT
	PUSH 1
	SET_PROPERTY "a"
	PUSH 2
	SET_PROPERTY "b"
	FOR_IN_INIT end
body:
	FOR_IN_GET_NEXT
	PUSH r1
	ADD
	ASSIGN r1
	FOR_IN_HAS_NEXT body
end:
	PUSH r1
	POP_BLOCK
`,
			want: "ba",
		},
		{
			name: "block and with",
			src: `
.registers 1
	BLOCK_CREATE_CONTEXT bend
	CREATE_LET inner
	PUSH "block"
	INIT_BINDING inner
	PUSH_OBJECT
	PUSH inner
	SET_PROPERTY "field"
	WITH wend
	PUSH field
	POP_BLOCK
wend:
	CONTEXT_END
bend:
	CONTEXT_END
`,
			want: "block",
		},
		{
			name: "try catch finally",
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
	FINALLY f
	PUSH r0
	ADD_RIGHT_LITERAL "?"
	POP_BLOCK
f:
	CONTEXT_END
`,
			want: "boom!?",
		},
		{
			name: "throw out of for-of",
			src: `
.registers 1
	TRY h
	PUSH 1
	PUSH 2
	ARRAY_LITERAL 2
	FOR_OF_INIT end
body:
	FOR_OF_GET_NEXT
	THROW
	FOR_OF_HAS_NEXT body
end:
	NOP
h:
	CATCH c
	POP_BLOCK
c:
	CONTEXT_END
`,
			want: "1",
		},
		{
			name: "abort through for-of and finally",
			src: `
.registers 1
	TRY h
	PUSH 1
	PUSH 2
	ARRAY_LITERAL 2
	FOR_OF_INIT end
body:
	FOR_OF_GET_NEXT
	POP
	FOR_OF_HAS_NEXT body
end:
	NOP
h:
	FINALLY f
	PUSH "finally"
	POP_BLOCK
f:
	CONTEXT_END
`,
			abort: true,
		},
		{
			name: "array and object destructuring",
			src: `
.registers 3
	PUSH "x"
	PUSH "y"
	ARRAY_LITERAL 2
	ITERATOR_CONTEXT_CREATE
	ITERATOR_STEP
	ASSIGN r1
	REST_INITIALIZER
	PROP_GET_LITERAL "length"
	ASSIGN r2
	ITERATOR_CONTEXT_END
	PUSH_OBJECT
	PUSH "z"
	SET_PROPERTY "a"
	PUSH 1
	SET_PROPERTY "b"
	OBJ_INIT_CONTEXT_CREATE
	OBJ_INIT_PUSH_PROP "a"
	PUSH r1
	ADD
	ASSIGN r1
	OBJ_INIT_PUSH_REST
	PROP_GET_LITERAL "b"
	PUSH r2
	ADD
	ASSIGN r2
	OBJ_INIT_CONTEXT_END
	PUSH r1
	PUSH r2
	ADD
	POP_BLOCK
`,
			want: "zx2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.abort {
				h.engine.SetHaltHandler(func() vm.Value { return h.engine.NewString("halted") }, 1)
			}
			code := assemble(t, tt.src)
			first := h.engine.RunGlobal(code)
			if tt.abort {
				if !first.IsAbort() {
					t.Fatalf("result %q is not an abort", h.text(first))
				}
			} else {
				h.expect(first, tt.want)
			}
			first.Free()
			live := h.engine.Heap().Live()
			for i := 0; i < 5; i++ {
				h.engine.RunGlobal(code).Free()
			}
			if got := h.engine.Heap().Live(); got != live {
				t.Errorf("live cells grew from %d to %d: %+v", live, got, h.engine.Heap().Stats().LiveByKind)
			}
		})
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.run(`
.registers 1
	PUSH print
	PUSH "x"
	CALL 1
	PUSH 1
	PUSH "two"
	ARRAY_LITERAL 2
	POP_BLOCK
`)
	heap := h.engine.Heap()
	h.close()
	if heap.Live() != 0 {
		t.Errorf("%d cells still live after close: %+v", heap.Live(), heap.Stats().LiveByKind)
	}
}
