package vm

import "fmt"

// ---------------------------------------------------------------------------
// Frame storage
// ---------------------------------------------------------------------------

// DefaultArenaSize is the slot capacity of the default frame arena.
const DefaultArenaSize = 64 * 1024

// FrameAllocator provides value storage for frames. Frames are released in
// LIFO order, except frames moved to the heap by generators and async
// functions, which are released while they are still on top.
type FrameAllocator interface {
	AllocFrame(slots int) []Value
	FreeFrame(slots []Value)
}

// ArenaAllocator is a LIFO bump allocator over one preallocated buffer.
// Requests that do not fit fall back to the Go heap.
type ArenaAllocator struct {
	buf   []Value
	top   int
	marks []int // start of each live allocation, -1 for overflow
}

// NewArenaAllocator returns an arena holding size slots.
func NewArenaAllocator(size int) *ArenaAllocator {
	return &ArenaAllocator{buf: make([]Value, size)}
}

// AllocFrame implements FrameAllocator.
func (a *ArenaAllocator) AllocFrame(n int) []Value {
	if a.top+n <= len(a.buf) {
		s := a.buf[a.top : a.top+n : a.top+n]
		a.marks = append(a.marks, a.top)
		a.top += n
		return s
	}
	a.marks = append(a.marks, -1)
	return make([]Value, n)
}

// FreeFrame implements FrameAllocator.
func (a *ArenaAllocator) FreeFrame(s []Value) {
	clear(s)
	if len(a.marks) == 0 {
		return
	}
	m := a.marks[len(a.marks)-1]
	a.marks = a.marks[:len(a.marks)-1]
	if m >= 0 {
		a.top = m
	}
}

// InUse returns the number of arena slots currently allocated.
func (a *ArenaAllocator) InUse() int { return a.top }

// ---------------------------------------------------------------------------
// Frame Context
// ---------------------------------------------------------------------------

type frameFlags uint8

const (
	frameStrict frameFlags = 1 << iota
	frameDirectEval
	frameEvalNext // the next call is a direct eval candidate
	frameOnHeap
)

type injectKind uint8

const (
	injectNone injectKind = iota
	injectThrow
	injectReturn
)

// Frame is the execution state of one invocation of a code unit. Registers
// occupy slots [0, regEnd); the operand stack occupies [regEnd, regEnd+sp).
// Context entries live in their own stack, but their sizes are charged
// against the same StackLimit as operands.
type Frame struct {
	code *Code
	pool *literalPool

	function  Value
	newTarget Value
	this      Value
	env       *Cell
	varEnv    *Cell
	args      []Value

	slots  []Value
	regEnd int
	sp     int

	contexts     []contextEntry
	contextDepth int

	cursor int
	last   int // offset of the instruction being executed
	prev   *Frame
	flags  frameFlags

	exec    *Executable
	execObj Value // held while the executable runs

	inject      injectKind
	injectValue Value

	// Completion or suspension value handed to the trampoline.
	result     Value
	jumpTarget int
	pending    pendingOp
}

// Code returns the code unit being executed.
func (f *Frame) Code() *Code { return f.code }

// Cursor returns the offset of the next instruction.
func (f *Frame) Cursor() int { return f.cursor }

// Prev returns the calling frame, or nil.
func (f *Frame) Prev() *Frame { return f.prev }

func (f *Frame) strict() bool { return f.flags&frameStrict != 0 }

// newFrame allocates a frame for code. this, env and varEnv are consumed;
// function, newTarget and args are borrowed.
func (e *Engine) newFrame(code *Code, function, this, newTarget Value, env, varEnv *Cell, args []Value) *Frame {
	size := code.FrameSize()
	if e.config.MaxFrameSlots > 0 && size > e.config.MaxFrameSlots {
		e.fatal(&FatalError{Code: FatalFrameSize, Detail: fmt.Sprintf("%s needs %d slots, limit %d", code.Name, size, e.config.MaxFrameSlots), Offset: -1})
	}
	slots := e.alloc.AllocFrame(size)
	if len(slots) != size {
		e.fatal(&FatalError{Code: FatalFrameSize, Detail: "allocator returned a short frame", Offset: -1})
	}
	f := &Frame{
		code:      code,
		pool:      e.poolFor(code),
		function:  function.Copy(),
		newTarget: newTarget.Copy(),
		this:      this,
		env:       env,
		varEnv:    varEnv,
		slots:     slots,
		regEnd:    code.RegisterEnd,
	}
	if code.Strict() {
		f.flags |= frameStrict
	}
	for i := 0; i < code.RegisterEnd; i++ {
		if i < code.ArgumentEnd && i < len(args) {
			slots[i] = args[i].Copy()
		} else {
			slots[i] = Undefined
		}
	}
	if code.Flags&FlagArgumentsNeeded != 0 {
		f.args = make([]Value, len(args))
		for i, a := range args {
			f.args[i] = a.Copy()
		}
	}
	return f
}

// freeFrame releases everything a finished or abandoned frame owns.
func (e *Engine) freeFrame(f *Frame) {
	for len(f.contexts) > 0 {
		e.popContext(f, false)
	}
	freeValues(f.slots[:f.regEnd+f.sp])
	f.sp = 0
	freeValues(f.args)
	f.args = nil
	f.function.Free()
	f.newTarget.Free()
	f.this.Free()
	f.injectValue.Free()
	f.result.Free()
	f.execObj.Free()
	f.pending.release()
	f.function, f.newTarget, f.this, f.injectValue, f.result, f.execObj = Undefined, Undefined, Undefined, Undefined, Undefined, Undefined
	if f.env != nil {
		f.env.release()
		f.env = nil
	}
	if f.varEnv != nil {
		f.varEnv.release()
		f.varEnv = nil
	}
	if f.flags&frameOnHeap != 0 {
		e.heap.execFrames--
		f.flags &^= frameOnHeap
	} else {
		e.alloc.FreeFrame(f.slots)
	}
	f.slots = nil
}

// moveToHeap relocates the frame's slots off the allocator so the frame can
// outlive the call that created it.
func (e *Engine) moveToHeap(f *Frame) {
	if f.flags&frameOnHeap != 0 {
		return
	}
	slots := make([]Value, len(f.slots))
	copy(slots, f.slots)
	e.alloc.FreeFrame(f.slots)
	f.slots = slots
	f.flags |= frameOnHeap
	e.heap.execFrames++
	log.Debugf("frame of %s moved to the heap (%d slots)", f.code.Name, len(slots))
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

// push places an owned value on the operand stack.
func (e *Engine) push(f *Frame, v Value) {
	if f.sp+f.contextDepth >= f.code.StackLimit {
		v.Free()
		e.fatal(&FatalError{Code: FatalFrameSize, Detail: "operand stack overflow in " + f.code.Name, Offset: f.cursor})
		return
	}
	f.slots[f.regEnd+f.sp] = v
	f.sp++
}

// pop removes the top operand and returns it owned.
func (f *Frame) pop() Value {
	f.sp--
	i := f.regEnd + f.sp
	v := f.slots[i]
	f.slots[i] = Undefined
	return v
}

// peek returns the operand n positions below the top (borrowed).
func (f *Frame) peek(n int) Value {
	return f.slots[f.regEnd+f.sp-1-n]
}

// popN removes the top n operands and returns them owned, bottom first.
func (f *Frame) popN(n int) []Value {
	out := make([]Value, n)
	start := f.regEnd + f.sp - n
	copy(out, f.slots[start:start+n])
	clear(f.slots[start : start+n])
	f.sp -= n
	return out
}

// truncate frees operands above base.
func (f *Frame) truncate(base int) {
	for f.sp > base {
		f.pop().Free()
	}
}

// setRegister stores an owned value into register idx.
func (f *Frame) setRegister(idx int, v Value) {
	old := f.slots[idx]
	f.slots[idx] = v
	old.Free()
}
