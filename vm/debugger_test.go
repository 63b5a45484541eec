package vm_test

import (
	"testing"
	"time"

	"github.com/chazu/ecmavm/vm"
)

func withDebugger(d vm.Debugger) func(*vm.Config) {
	return func(c *vm.Config) { c.Debugger = d }
}

func nextEvent(t *testing.T, d *vm.DebugServer) vm.DebugEvent {
	t.Helper()
	select {
	case ev := <-d.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a debug event")
	}
	return vm.DebugEvent{}
}

func TestBreakpointHit(t *testing.T) {
	d := vm.NewDebugServer(false)
	d.SetBreakpoint(t.Name(), 11)
	h := newHarness(t, withDebugger(d))
	h.run(`
.line 10
	BREAKPOINT_ENABLED
.line 11
	BREAKPOINT_ENABLED
.line 12
	BREAKPOINT_DISABLED
`)
	ev := nextEvent(t, d)
	if ev.Type != "breakpointHit" || ev.Reason != "breakpoint" {
		t.Errorf("event = %s/%s", ev.Type, ev.Reason)
	}
	if ev.Frame.Line != 11 || ev.Frame.Source != t.Name() {
		t.Errorf("stopped at %s:%d", ev.Frame.Source, ev.Frame.Line)
	}
	if d.IsPaused() {
		t.Error("non-blocking server left paused")
	}
	select {
	case extra := <-d.Events():
		t.Errorf("unexpected event %+v", extra)
	default:
	}
}

func TestRemovedBreakpointIsSilent(t *testing.T) {
	d := vm.NewDebugServer(false)
	d.SetBreakpoint(t.Name(), 3)
	d.RemoveBreakpoint(t.Name(), 3)
	h := newHarness(t, withDebugger(d))
	h.run(".line 3\n\tBREAKPOINT_ENABLED\n")
	select {
	case ev := <-d.Events():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestExceptionEvent(t *testing.T) {
	d := vm.NewDebugServer(false)
	h := newHarness(t, withDebugger(d))
	h.expectThrow(h.run(`
.func fail
	PUSH "boom"
	THROW
.end
	PUSH $fail
	CALL 0
`), "boom")
	ev := nextEvent(t, d)
	if ev.Type != "exception" || ev.Reason != "boom" {
		t.Errorf("event = %s/%s", ev.Type, ev.Reason)
	}
	if ev.Frame.Name != "fail" {
		t.Errorf("exception reported in %q", ev.Frame.Name)
	}
}

func TestDebuggerIgnoredCode(t *testing.T) {
	d := vm.NewDebugServer(false)
	d.SetBreakpoint(t.Name(), 2)
	h := newHarness(t, withDebugger(d))
	h.run(".flags nodebug\n.line 2\n\tBREAKPOINT_ENABLED\n")
	select {
	case ev := <-d.Events():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestBlockingStepInto(t *testing.T) {
	d := vm.NewDebugServer(true)
	d.SetBreakpoint(t.Name(), 10)
	h := newHarness(t, withDebugger(d))

	events := make(chan vm.DebugEvent, 4)
	go func() {
		ev := <-d.Events()
		events <- ev
		d.StepInto(ev.Frame)
		ev = <-d.Events()
		events <- ev
		d.Continue()
	}()

	h.run(`
.line 10
	BREAKPOINT_ENABLED
.line 11
	BREAKPOINT_DISABLED
.line 12
	BREAKPOINT_DISABLED
`)
	first, second := <-events, <-events
	if first.Type != "breakpointHit" || first.Frame.Line != 10 {
		t.Errorf("first event %s at line %d", first.Type, first.Frame.Line)
	}
	if second.Type != "stopped" || second.Reason != "step" || second.Frame.Line != 11 {
		t.Errorf("second event %s/%s at line %d", second.Type, second.Reason, second.Frame.Line)
	}
	if d.Stepping() || d.IsPaused() {
		t.Error("server still stepping after Continue")
	}
}

func TestBacktrace(t *testing.T) {
	var names []string
	h := newHarness(t)
	capture := h.keep(h.engine.NewNative("capture", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		for _, fi := range e.Backtrace(0) {
			names = append(names, fi.Name)
		}
		return vm.Undefined
	}, nil))
	h.realm.GlobalObject().Object().SetOwn(vm.StringKey("capture"), capture.Copy(), vm.MethodFlags)
	h.run(`
.func inner
	PUSH capture
	CALL 0
	RETURN_FUNCTION_END
.end
.func outer
	PUSH $inner
	CALL 0
	RETURN_FUNCTION_END
.end
	PUSH $outer
	CALL 0
`)
	want := []string{"inner", "outer", t.Name()}
	if len(names) != len(want) {
		t.Fatalf("backtrace = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, names[i], want[i])
		}
	}
}
