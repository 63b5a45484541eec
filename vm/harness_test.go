package vm_test

import (
	"bytes"
	"testing"

	"github.com/chazu/ecmavm/asm"
	"github.com/chazu/ecmavm/realm"
	"github.com/chazu/ecmavm/vm"
)

// harness pairs an engine with a reference realm whose output is captured.
type harness struct {
	t      *testing.T
	realm  *realm.Realm
	engine *vm.Engine
	out    bytes.Buffer
	owned  []vm.Value
	closed bool

	// jobAbort is the abort the job queue stopped on during the last run.
	jobAbort vm.Value
}

func newHarness(t *testing.T, configure ...func(*vm.Config)) *harness {
	t.Helper()
	h := &harness{t: t}
	h.realm = realm.New(realm.Options{Output: &h.out, Compile: compileEval})
	cfg := vm.Config{Realm: h.realm, CheckInvariants: true}
	for _, c := range configure {
		c(&cfg)
	}
	e, err := vm.New(cfg)
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	h.engine = e
	t.Cleanup(h.close)
	return h
}

func (h *harness) close() {
	if h.closed {
		return
	}
	h.closed = true
	for _, v := range h.owned {
		v.Free()
	}
	h.owned = nil
	h.realm.Release()
	h.engine.Close()
}

// keep hands v to the harness, which frees it at cleanup.
func (h *harness) keep(v vm.Value) vm.Value {
	h.owned = append(h.owned, v)
	return v
}

// compileEval lets eval take assembly text.
func compileEval(source string, strict bool) (*vm.Code, error) {
	c, err := asm.ParseString(source, "eval")
	if err != nil {
		return nil, err
	}
	if strict {
		c.Flags |= vm.FlagStrict
	}
	return c, nil
}

func assemble(t *testing.T, src string) *vm.Code {
	t.Helper()
	c, err := asm.ParseString(src, t.Name())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return c
}

// run assembles src, runs it as a script and drains the job queue.
func (h *harness) run(src string) vm.Value {
	h.t.Helper()
	v := h.keep(h.engine.RunGlobal(assemble(h.t, src)))
	_, abort := h.realm.RunJobs()
	h.jobAbort = h.keep(abort)
	return v
}

// text renders a completion value: exceptions as their message, everything
// else through ToString.
func (h *harness) text(v vm.Value) string {
	h.t.Helper()
	if v.IsException() {
		return vm.ErrorMessage(v)
	}
	s, exc := h.realm.ToString(v)
	if exc.IsException() {
		h.t.Fatalf("ToString: %s", vm.ErrorMessage(exc))
	}
	return s
}

func (h *harness) expect(v vm.Value, want string) {
	h.t.Helper()
	if v.IsException() {
		h.t.Fatalf("uncaught %s", vm.ErrorMessage(v))
	}
	if got := h.text(v); got != want {
		h.t.Errorf("result = %q, want %q", got, want)
	}
}

func (h *harness) expectThrow(v vm.Value, want string) {
	h.t.Helper()
	if !v.IsException() {
		h.t.Fatalf("completed with %q, want exception %q", h.text(v), want)
	}
	if got := vm.ErrorMessage(v); got != want {
		h.t.Errorf("exception = %q, want %q", got, want)
	}
}
