package vm

// ---------------------------------------------------------------------------
// Executable objects: suspended generator and async frames
// ---------------------------------------------------------------------------

// ResumeMode selects how a suspended executable continues.
type ResumeMode uint8

const (
	ResumeNext ResumeMode = iota
	ResumeThrow
	ResumeReturn
)

func (m ResumeMode) String() string {
	switch m {
	case ResumeNext:
		return "next"
	case ResumeThrow:
		return "throw"
	case ResumeReturn:
		return "return"
	}
	return "unknown"
}

// Executable owns a frame that outlives its call. It is the internal
// payload of an object of class ClassAsyncState.
type Executable struct {
	engine  *Engine
	frame   *Frame
	running bool
	async   bool
	promise Value // result promise of an async function
}

// Running reports whether the executable's frame is on the frame chain.
func (x *Executable) Running() bool { return x.running }

// Completed reports whether the frame has finished.
func (x *Executable) Completed() bool { return x.frame == nil }

// Release implements Releaser.
func (x *Executable) Release() {
	if x.frame != nil && !x.running {
		f := x.frame
		x.frame = nil
		f.exec = nil
		x.engine.freeFrame(f)
	}
	x.promise.Free()
	x.promise = Undefined
}

// ExecutableOf returns the executable behind an executable object or a
// generator object whose Internal payload exposes one.
func ExecutableOf(v Value) *Executable {
	obj := v.Object()
	if obj == nil {
		return nil
	}
	switch in := obj.Internal.(type) {
	case *Executable:
		return in
	case interface{ Continuation() Value }:
		return ExecutableOf(in.Continuation())
	}
	return nil
}

// newExecutable moves f to the heap and wraps it in an executable object.
// The frame holds the returned object's only reference until it suspends.
func (e *Engine) newExecutable(f *Frame, async bool) *Executable {
	e.moveToHeap(f)
	ex := &Executable{engine: e, frame: f, running: true, async: async}
	obj, o := e.heap.NewObject(Null, ClassAsyncState)
	o.Internal = ex
	f.exec = ex
	f.execObj = obj
	return ex
}

// createGenerator handles CREATE_GENERATOR: the frame becomes the body of a
// new generator object, which completes the call. It returns false when the
// frame must continue with an injected error.
func (e *Engine) createGenerator(f *Frame) bool {
	if f.exec != nil {
		e.injectError(f, SyntaxError, "generator created twice")
		return false
	}
	e.newExecutable(f, false)
	gen := e.realm.NewGenerator(f.function, f.execObj)
	if gen.IsException() {
		f.inject = injectThrow
		f.injectValue = gen
		return false
	}
	f.result = gen
	return true
}

// await suspends f on the value in f.result. The first await of an async
// function moves the frame to the heap and creates its result promise. It
// returns false when the frame must continue with an injected error.
func (e *Engine) await(f *Frame) bool {
	awaited := f.result
	f.result = Undefined
	if f.code.Flags&FlagAsync == 0 {
		awaited.Free()
		e.injectError(f, SyntaxError, "await is only valid in async functions")
		return false
	}
	if f.exec == nil {
		ex := e.newExecutable(f, true)
		ex.promise = e.realm.NewPromise()
		if ex.promise.IsException() {
			f.inject = injectThrow
			f.injectValue = ex.promise
			ex.promise = Undefined
			awaited.Free()
			return false
		}
	}
	r := e.realm.Await(f.execObj, awaited)
	awaited.Free()
	if r.IsException() {
		f.inject = injectThrow
		f.injectValue = r
		return false
	}
	r.Free()
	return true
}

// completeExecutable frees the frame of a finished executable.
func (e *Engine) completeExecutable(ex *Executable) {
	f := ex.frame
	if f == nil {
		return
	}
	ex.frame = nil
	ex.running = false
	f.exec = nil
	e.freeFrame(f)
}

// settleAsync resolves or rejects the result promise of an async function
// with its completion. promise is consumed and created when Undefined. The
// returned promise is owned. Aborts bypass the promise.
func (e *Engine) settleAsync(promise, result Value) Value {
	if result.IsAbort() {
		promise.Free()
		return result
	}
	if promise.IsUndefined() {
		promise = e.realm.NewPromise()
		if promise.IsException() {
			result.Free()
			return promise
		}
	}
	var r Value
	if result.IsException() {
		reason := e.heap.UnwrapException(result, true)
		r = e.realm.RejectPromise(promise, reason)
		reason.Free()
	} else {
		r = e.realm.ResolvePromise(promise, result)
		result.Free()
	}
	if r.IsException() {
		promise.Free()
		return r
	}
	r.Free()
	return promise
}

// Resume continues a suspended executable. For generators the result is the
// yielded or returned value and done reports completion. For async functions
// Resume is called by the realm when an awaited value settles; the result is
// then the function's promise once it completes, or undefined.
func (e *Engine) Resume(target Value, mode ResumeMode, value Value) (Value, bool) {
	ex := ExecutableOf(target)
	if ex == nil {
		return e.ThrowError(TypeError, "resume target is not a suspended function"), true
	}
	if ex.running {
		return e.ThrowError(TypeError, "Generator is already running"), true
	}
	if ex.frame == nil {
		switch mode {
		case ResumeThrow:
			return e.Throw(value.Copy()), true
		case ResumeReturn:
			return value.Copy(), true
		}
		return Undefined, true
	}
	if e.depth >= e.maxDepth {
		return e.ThrowError(RangeError, "Maximum call stack size exceeded"), true
	}

	f := ex.frame
	ex.running = true
	f.execObj = target.Copy()
	switch mode {
	case ResumeNext:
		e.push(f, value.Copy())
	case ResumeThrow:
		f.inject = injectThrow
		f.injectValue = e.Throw(value.Copy())
	case ResumeReturn:
		f.inject = injectReturn
		f.injectValue = value.Copy()
	}

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

	done := s != stepSuspended
	if done {
		promise := ex.promise
		ex.promise = Undefined
		e.completeExecutable(ex)
		if ex.async {
			result = e.settleAsync(promise, result)
		}
	} else {
		ex.running = false
	}
	execObj.Free()
	if e.depth == 0 {
		e.RunFinalizers()
	}
	return result, done
}

// ---------------------------------------------------------------------------
// Finalization of abandoned executables
// ---------------------------------------------------------------------------

// finalizeExecutable is the heap hook consulted before an executable object
// is destroyed. Suspended frames with pending finally blocks or open
// iterators are kept alive and queued for a forced return.
func (e *Engine) finalizeExecutable(c *Cell) bool {
	ex, _ := c.obj.Internal.(*Executable)
	if ex == nil || ex.frame == nil || ex.running || e.closed || !ex.frame.needsCleanup() {
		return false
	}
	c.refs = 1
	e.finalizeQueue = append(e.finalizeQueue, Value{kind: KindObject, cell: c})
	log.Debugf("queued suspended %s for finalization", ex.frame.code.Name)
	return true
}

// RunFinalizers forces a return through every queued executable so its
// finally blocks run and its iterators close. Executables that suspend again
// are abandoned.
func (e *Engine) RunFinalizers() {
	if e.finalizing {
		return
	}
	e.finalizing = true
	defer func() { e.finalizing = false }()

	for len(e.finalizeQueue) > 0 {
		v := e.finalizeQueue[0]
		e.finalizeQueue = e.finalizeQueue[1:]
		ex := ExecutableOf(v)
		r, _ := e.Resume(v, ResumeReturn, Undefined)
		if r.IsException() {
			log.Warningf("finalizer raised %s", ErrorMessage(r))
		}
		r.Free()
		if ex.frame != nil {
			e.abandon(ex)
		}
		v.Free()
	}
}

// abandon drops a suspended executable without running its code, closing
// iterators that are still open.
func (e *Engine) abandon(ex *Executable) {
	f := ex.frame
	for len(f.contexts) > 0 {
		if r := e.popContext(f, true); r.IsException() {
			log.Warningf("iterator close raised %s", ErrorMessage(r))
			r.Free()
		}
	}
	e.completeExecutable(ex)
}
