package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Debugger hooks
// ---------------------------------------------------------------------------

// FrameInfo describes one frame of the frame chain. This and Function are
// borrowed and valid only while the frame is live.
type FrameInfo struct {
	Name     string
	Source   string
	Line     int
	Cursor   int
	Depth    int
	This     Value
	Function Value
}

// Debugger receives breakpoint and exception notifications. Breakpoint may
// return an exception marker to raise it at the breakpoint.
type Debugger interface {
	Breakpoint(e *Engine, info FrameInfo, enabled bool) Value
	Exception(e *Engine, exc Value)
	Stepping() bool
}

func (e *Engine) frameInfo(f *Frame, depth int) FrameInfo {
	name := f.code.Name
	if name == "" {
		name = "<anonymous>"
	}
	return FrameInfo{
		Name:     name,
		Source:   f.code.Source,
		Line:     f.code.LineAt(f.last),
		Cursor:   f.last,
		Depth:    depth,
		This:     f.this,
		Function: f.function,
	}
}

// Backtrace returns up to max frames of the frame chain, innermost first.
// max <= 0 returns every frame.
func (e *Engine) Backtrace(max int) []FrameInfo {
	var out []FrameInfo
	depth := 0
	for f := e.top; f != nil; f = f.prev {
		if f.code.Flags&FlagDebuggerIgnore == 0 {
			out = append(out, e.frameInfo(f, depth))
			if max > 0 && len(out) == max {
				break
			}
		}
		depth++
	}
	return out
}

// breakpoint handles BREAKPOINT_ENABLED and BREAKPOINT_DISABLED. Disabled
// breakpoints only report while the debugger is stepping.
func (e *Engine) breakpoint(f *Frame, enabled bool) Value {
	d := e.debugger
	if d == nil || f.code.Flags&FlagDebuggerIgnore != 0 {
		return Undefined
	}
	if !enabled && !d.Stepping() {
		return Undefined
	}
	return d.Breakpoint(e, e.frameInfo(f, 0), enabled)
}

// ---------------------------------------------------------------------------
// DebugServer: line breakpoints and stepping for IDE integration
// ---------------------------------------------------------------------------

// StepMode indicates the current stepping mode.
type StepMode int

const (
	StepNone StepMode = iota
	StepOver
	StepInto
	StepOut
)

// DebugEvent is sent to clients when execution stops or an exception is
// thrown.
type DebugEvent struct {
	Type   string // "stopped", "breakpointHit", "exception"
	Reason string
	Frame  FrameInfo
}

type breakpointKey struct {
	source string
	line   int
}

// DebugServer is a Debugger with source-line breakpoints and stepping. When
// execution stops the engine goroutine blocks until Continue or a Step call
// from another goroutine.
type DebugServer struct {
	mu          sync.Mutex
	breakpoints map[breakpointKey]bool
	stepMode    StepMode
	stepDepth   int
	stepLine    int
	paused      bool
	blocking    bool
	stopOnThrow bool

	resumeChan chan struct{}
	eventChan  chan DebugEvent
}

// NewDebugServer creates a debug server. When blocking is false the server
// records events but never waits for a resume.
func NewDebugServer(blocking bool) *DebugServer {
	return &DebugServer{
		breakpoints: make(map[breakpointKey]bool),
		resumeChan:  make(chan struct{}, 1),
		eventChan:   make(chan DebugEvent, 16),
		blocking:    blocking,
	}
}

// Events returns the event channel.
func (d *DebugServer) Events() <-chan DebugEvent { return d.eventChan }

// SetBreakpoint enables a breakpoint at source:line.
func (d *DebugServer) SetBreakpoint(source string, line int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[breakpointKey{source, line}] = true
}

// RemoveBreakpoint deletes a breakpoint.
func (d *DebugServer) RemoveBreakpoint(source string, line int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.breakpoints, breakpointKey{source, line})
}

// Continue resumes execution without stepping.
func (d *DebugServer) Continue() { d.resume(StepNone, 0, 0) }

// StepOver resumes until the next line at the same or an outer depth.
func (d *DebugServer) StepOver(info FrameInfo) { d.resume(StepOver, info.Depth, info.Line) }

// StepInto resumes until the next line anywhere.
func (d *DebugServer) StepInto(info FrameInfo) { d.resume(StepInto, info.Depth, info.Line) }

// StepOut resumes until execution returns to an outer frame.
func (d *DebugServer) StepOut(info FrameInfo) { d.resume(StepOut, info.Depth, info.Line) }

func (d *DebugServer) resume(mode StepMode, depth, line int) {
	d.mu.Lock()
	d.stepMode = mode
	d.stepDepth = depth
	d.stepLine = line
	d.paused = false
	d.mu.Unlock()
	select {
	case d.resumeChan <- struct{}{}:
	default:
	}
}

// IsPaused reports whether execution is stopped.
func (d *DebugServer) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Stepping implements Debugger.
func (d *DebugServer) Stepping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stepMode != StepNone
}

// Breakpoint implements Debugger.
func (d *DebugServer) Breakpoint(e *Engine, info FrameInfo, enabled bool) Value {
	info.Depth = e.Depth()
	reason := d.shouldBreak(info, enabled)
	if reason == "" {
		return Undefined
	}
	typ := "stopped"
	if reason == "breakpoint" {
		typ = "breakpointHit"
	}
	d.sendEvent(DebugEvent{Type: typ, Reason: reason, Frame: info})
	if d.blocking {
		<-d.resumeChan
	} else {
		d.mu.Lock()
		d.paused = false
		d.mu.Unlock()
	}
	return Undefined
}

// SetStopOnException makes a blocking server pause whenever an exception
// starts propagating.
func (d *DebugServer) SetStopOnException(stop bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopOnThrow = stop
}

// Exception implements Debugger.
func (d *DebugServer) Exception(e *Engine, exc Value) {
	ev := DebugEvent{Type: "exception", Reason: ErrorMessage(exc)}
	if bt := e.Backtrace(1); len(bt) > 0 {
		ev.Frame = bt[0]
	}
	d.mu.Lock()
	stop := d.stopOnThrow && d.blocking
	if stop {
		d.paused = true
	}
	d.mu.Unlock()
	d.sendEvent(ev)
	if stop {
		<-d.resumeChan
	}
}

func (d *DebugServer) shouldBreak(info FrameInfo, enabled bool) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if enabled && d.breakpoints[breakpointKey{info.Source, info.Line}] {
		d.paused = true
		return "breakpoint"
	}
	hit := false
	switch d.stepMode {
	case StepInto:
		hit = info.Line != d.stepLine || info.Depth != d.stepDepth
	case StepOver:
		hit = info.Depth <= d.stepDepth && info.Line != d.stepLine
	case StepOut:
		hit = info.Depth < d.stepDepth
	}
	if !hit {
		return ""
	}
	d.stepMode = StepNone
	d.paused = true
	return "step"
}

func (d *DebugServer) sendEvent(ev DebugEvent) {
	select {
	case d.eventChan <- ev:
	default:
		// Channel full, drop event
	}
}
