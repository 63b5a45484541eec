package vm

import "fmt"

// ---------------------------------------------------------------------------
// Trampoline
// ---------------------------------------------------------------------------

// step is the outcome of running a frame until it needs outside help.
type step uint8

const (
	stepCompleted step = iota // f.result holds the return value or exception
	stepPending               // f.pending holds a call, construct or super call
	stepSuspended             // the frame belongs to its executable
)

// loop runs dispatch and unwinding until the frame completes, needs a call
// performed, or suspends.
func (e *Engine) loop(f *Frame) step {
	for {
		if f.inject != injectNone {
			kind := exitThrow
			if f.inject == injectReturn {
				kind = exitReturn
			}
			f.inject = injectNone
			f.result = f.injectValue
			f.injectValue = Undefined
			if !e.unwind(f, kind) {
				return stepCompleted
			}
		}

		switch x := e.dispatch(f); x {
		case exitReturn, exitThrow, exitJump:
			if !e.unwind(f, x) {
				return stepCompleted
			}
		case exitCall, exitConstruct, exitSuperCall:
			return stepPending
		case exitYield:
			if f.exec == nil {
				f.result.Free()
				f.result = Undefined
				e.injectError(f, SyntaxError, "yield outside a generator")
				continue
			}
			return stepSuspended
		case exitAwait:
			if e.await(f) {
				return stepSuspended
			}
		case exitCreated:
			if e.createGenerator(f) {
				return stepSuspended
			}
		}
	}
}

// injectError makes the frame observe a thrown error at its cursor.
func (e *Engine) injectError(f *Frame, kind ErrorKind, msg string) {
	f.inject = injectThrow
	f.injectValue = e.ThrowError(kind, msg)
}

// execute drives f to completion or suspension, performing the calls the
// dispatch loop requests and placing their results.
func (e *Engine) execute(f *Frame) step {
	for {
		s := e.loop(f)
		if e.config.CheckInvariants {
			e.checkContexts(f, s)
		}
		if s != stepPending {
			return s
		}
		p := f.pending
		f.pending = pendingOp{}
		if e.config.Trace {
			log.Debugf("%s at %s:%d: %d args", p.kind, f.code.Name, f.last, len(p.args))
		}
		r := e.perform(f, &p)
		put := p.put
		p.release()
		if r.IsException() {
			f.inject = injectThrow
			f.injectValue = r
			continue
		}
		switch {
		case put&putStack != 0:
			e.push(f, r)
		case put&putBlock != 0:
			f.setRegister(0, r)
		default:
			r.Free()
		}
	}
}

// checkContexts verifies that the frame's context charge matches its entries
// and that a completed frame left none behind.
func (e *Engine) checkContexts(f *Frame, s step) {
	sum := 0
	for i := range f.contexts {
		sum += contextSize[f.contexts[i].kind]
	}
	switch {
	case sum != f.contextDepth:
		e.fatal(&FatalError{Code: FatalCorruptContext, Detail: fmt.Sprintf("%s: context depth %d, entries charge %d", f.code.Name, f.contextDepth, sum), Offset: f.cursor})
	case s == stepCompleted && (f.contextDepth != 0 || len(f.contexts) != 0):
		e.fatal(&FatalError{Code: FatalCorruptContext, Detail: fmt.Sprintf("%s completed with %d open contexts", f.code.Name, len(f.contexts)), Offset: f.cursor})
	}
}

// perform executes a pending call. The operation's values stay owned by p.
func (e *Engine) perform(f *Frame, p *pendingOp) Value {
	args := p.args
	if p.spread {
		expanded, exc := e.expandSpread(args)
		if exc.IsException() {
			return exc
		}
		defer freeValues(expanded)
		args = expanded
	}
	switch p.kind {
	case exitConstruct:
		return e.Construct(p.fn, args, p.fn)
	case exitSuperCall:
		return e.superCall(f, args)
	}
	if p.directEval {
		e.directEvalPending = true
		defer func() { e.directEvalPending = false }()
	}
	return e.Call(p.fn, p.this, args)
}

// runFrame pushes f on the frame chain and executes it. A completed frame is
// freed; when wantThis is set its final this binding is returned as well.
func (e *Engine) runFrame(f *Frame, wantThis bool) (Value, Value) {
	f.prev = e.top
	e.top = f
	e.depth++
	s := e.execute(f)
	e.top = f.prev
	f.prev = nil
	e.depth--

	result := f.result
	f.result = Undefined
	execObj := f.execObj
	f.execObj = Undefined
	ex := f.exec

	if s == stepSuspended {
		if ex.async {
			result.Free()
			result = ex.promise.Copy()
		}
		ex.running = false
		execObj.Free()
		return result, Undefined
	}

	this := Undefined
	if wantThis {
		this = f.this.Copy()
	}
	async := f.code.Flags&FlagAsync != 0 && f.code.Flags&FlagGenerator == 0
	var promise Value
	if ex != nil {
		promise = ex.promise
		ex.promise = Undefined
		e.completeExecutable(ex)
	} else {
		e.freeFrame(f)
	}
	if async {
		result = e.settleAsync(promise, result)
	}
	execObj.Free()
	return result, this
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Call invokes fn with the given receiver and arguments (all borrowed). The
// result is owned and may be an exception marker.
func (e *Engine) Call(fn, this Value, args []Value) Value {
	f := FunctionOf(fn)
	if f == nil || (f.Kind == FuncNative && f.Native == nil) {
		return e.ThrowError(TypeError, describe(fn)+" is not a function")
	}
	if e.depth >= e.maxDepth {
		return e.ThrowError(RangeError, "Maximum call stack size exceeded")
	}
	if f.Kind == FuncNative {
		e.depth++
		r := f.Native(e, this, args)
		e.depth--
		return r
	}
	e.directEvalPending = false
	if f.Kind == FuncClassConstructor || f.Kind == FuncDerivedConstructor {
		return e.ThrowError(TypeError, "Class constructor "+f.Name+" cannot be invoked without 'new'")
	}
	thisVal := e.bindThis(f, this)
	if thisVal.IsException() {
		return thisVal
	}
	frame := e.functionFrame(fn, f, thisVal, Undefined, args)
	r, _ := e.runFrame(frame, false)
	return r
}

// Construct invokes fn as a constructor. newTarget is usually fn itself.
func (e *Engine) Construct(fn Value, args []Value, newTarget Value) Value {
	f := FunctionOf(fn)
	if f == nil || !f.IsConstructor() {
		return e.ThrowError(TypeError, describe(fn)+" is not a constructor")
	}
	if e.depth >= e.maxDepth {
		return e.ThrowError(RangeError, "Maximum call stack size exceeded")
	}
	if f.Kind == FuncNative {
		e.depth++
		r := f.NativeCtor(e, newTarget, args)
		e.depth--
		return r
	}

	derived := f.Kind == FuncDerivedConstructor
	this := Empty
	if !derived {
		this = e.realm.CreateThis(newTarget)
		if this.IsException() {
			return this
		}
	}
	frame := e.functionFrame(fn, f, this, newTarget, args)
	result, thisOut := e.runFrame(frame, true)
	if result.IsException() {
		thisOut.Free()
		return result
	}
	if result.IsObject() {
		thisOut.Free()
		return result
	}
	if derived && !result.IsUndefined() {
		result.Free()
		thisOut.Free()
		return e.ThrowError(TypeError, "Derived constructors may only return object or undefined")
	}
	result.Free()
	if thisOut.IsEmpty() {
		return e.ThrowError(ReferenceError, "Must call super constructor in derived class before accessing 'this' or returning from derived constructor")
	}
	return thisOut
}

// superCall runs the parent constructor for the derived constructor
// executing in f and binds the frame's this.
func (e *Engine) superCall(f *Frame, args []Value) Value {
	obj := f.function.Object()
	if obj == nil {
		return e.ThrowError(SyntaxError, "'super' keyword unexpected here")
	}
	parent := obj.Proto()
	if !IsConstructor(parent) {
		return e.ThrowError(TypeError, "Super constructor "+describe(parent)+" of anonymous class is not a constructor")
	}
	r := e.Construct(parent, args, f.newTarget)
	if r.IsException() {
		return r
	}
	if !f.this.IsEmpty() {
		r.Free()
		return e.ThrowError(ReferenceError, "Super constructor may only be called once")
	}
	f.this = r.Copy()
	if fn := FunctionOf(f.function); fn != nil && !fn.FieldInit.IsUndefined() {
		x := e.Call(fn.FieldInit, f.this, nil)
		if x.IsException() {
			r.Free()
			return x
		}
		x.Free()
	}
	return r
}

// bindThis computes the this binding of a script function call.
func (e *Engine) bindThis(f *Function, this Value) Value {
	switch {
	case f.Kind == FuncArrow:
		return f.This.Copy()
	case f.Code.Strict():
		return this.Copy()
	case this.IsNullish():
		return e.realm.GlobalObject().Copy()
	case this.IsPrimitive():
		return e.realm.ToObject(this)
	}
	return this.Copy()
}

// functionFrame builds the frame of a script function invocation. this is
// consumed.
func (e *Engine) functionFrame(fn Value, f *Function, this, newTarget Value, args []Value) *Frame {
	scope := f.Scope
	if scope == nil {
		scope = e.globalScope
	}
	var env *Cell
	if f.Code.Flags&FlagLexicalEnvNotNeeded != 0 {
		scope.retain()
		env = scope
	} else {
		env = e.heap.NewDeclarativeEnv(scope)
	}
	env.retain()
	return e.newFrame(f.Code, fn, this, newTarget, env, env, args)
}

// describe names a value in error messages without running script code.
func describe(v Value) string {
	if fn := FunctionOf(v); fn != nil && fn.Name != "" {
		return fn.Name
	}
	if v.kind == KindObject {
		return "object"
	}
	return v.String()
}
