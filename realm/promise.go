package realm

import (
	"github.com/chazu/ecmavm/vm"
)

// ---------------------------------------------------------------------------
// Promises
// ---------------------------------------------------------------------------

// PromiseState is the settlement state of a promise.
type PromiseState uint8

const (
	Pending PromiseState = iota
	Fulfilled
	Rejected
)

func (s PromiseState) String() string {
	switch s {
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	}
	return "pending"
}

// Promise is the payload of a promise object.
type Promise struct {
	state     PromiseState
	result    vm.Value
	reactions []*reaction
}

// reaction is one pending consumer of a promise: either a suspended async
// function (resume) or a then registration settling derived.
type reaction struct {
	resume      vm.Value
	onFulfilled vm.Value
	onRejected  vm.Value
	derived     vm.Value
}

func (rx *reaction) release() {
	rx.resume.Free()
	rx.onFulfilled.Free()
	rx.onRejected.Free()
	rx.derived.Free()
}

// Release implements vm.Releaser.
func (p *Promise) Release() {
	p.result.Free()
	p.result = vm.Undefined
	for _, rx := range p.reactions {
		rx.release()
	}
	p.reactions = nil
}

func promiseOf(v vm.Value) *Promise {
	if o := v.Object(); o != nil {
		p, _ := o.Internal.(*Promise)
		return p
	}
	return nil
}

// PromiseResult reports the state of a promise and its result (borrowed).
func (r *Realm) PromiseResult(v vm.Value) (PromiseState, vm.Value, bool) {
	p := promiseOf(v)
	if p == nil {
		return Pending, vm.Undefined, false
	}
	return p.state, p.result, true
}

// NewPromise implements vm.PromiseOps.
func (r *Realm) NewPromise() vm.Value {
	return r.newPromise(r.promiseProto)
}

func (r *Realm) newPromise(proto vm.Value) vm.Value {
	obj, o := r.newObject(proto, vm.ClassPromise)
	o.Internal = &Promise{result: vm.Undefined}
	return obj
}

// ResolvePromise implements vm.PromiseOps.
func (r *Realm) ResolvePromise(promise, value vm.Value) vm.Value {
	p := promiseOf(promise)
	if p == nil {
		return r.throw(vm.TypeError, "not a promise")
	}
	if p.state == Pending {
		return r.resolve(promise, value)
	}
	return vm.Undefined
}

// RejectPromise implements vm.PromiseOps.
func (r *Realm) RejectPromise(promise, reason vm.Value) vm.Value {
	p := promiseOf(promise)
	if p == nil {
		return r.throw(vm.TypeError, "not a promise")
	}
	if p.state == Pending {
		r.settle(p, Rejected, reason)
	}
	return vm.Undefined
}

// resolve runs the promise resolution procedure: promises are adopted,
// thenables are called from a job, anything else fulfills. The result is
// Undefined or an abort raised while reading then, which the caller must
// propagate.
func (r *Realm) resolve(promise, value vm.Value) vm.Value {
	p := promiseOf(promise)
	if value.Same(promise) {
		exc := r.throw(vm.TypeError, "Chaining cycle detected for promise #<Promise>")
		r.rejectWith(p, exc)
		return vm.Undefined
	}
	if vp := promiseOf(value); vp != nil {
		r.addReaction(vp, &reaction{
			resume:      vm.Undefined,
			onFulfilled: vm.Undefined,
			onRejected:  vm.Undefined,
			derived:     promise.Copy(),
		})
		return vm.Undefined
	}
	if !value.IsObject() {
		r.settle(p, Fulfilled, value)
		return vm.Undefined
	}
	then := r.get(value, vm.StringKey("then"))
	if then.IsAbort() {
		return then
	}
	if then.IsException() {
		r.rejectWith(p, then)
		return vm.Undefined
	}
	if !vm.IsCallable(then) {
		then.Free()
		r.settle(p, Fulfilled, value)
		return vm.Undefined
	}
	thenable := value.Copy()
	target := promise.Copy()
	r.enqueue(func() {
		resolveFn, rejectFn := r.resolvingFunctions(target)
		res := r.engine.Call(then, thenable, []vm.Value{resolveFn, rejectFn})
		if res.IsAbort() {
			r.holdAbort(res)
		} else if res.IsException() {
			reason := r.heap.UnwrapException(res, true)
			x := r.engine.Call(rejectFn, vm.Undefined, []vm.Value{reason})
			x.Free()
			reason.Free()
		} else {
			res.Free()
		}
		resolveFn.Free()
		rejectFn.Free()
		then.Free()
		thenable.Free()
		target.Free()
	})
	return vm.Undefined
}

// rejectWith rejects p with the payload of an exception marker, which is
// consumed.
func (r *Realm) rejectWith(p *Promise, exc vm.Value) {
	reason := r.heap.UnwrapException(exc, true)
	r.settle(p, Rejected, reason)
	reason.Free()
}

// settle records the result (borrowed) and schedules every reaction.
func (r *Realm) settle(p *Promise, state PromiseState, value vm.Value) {
	p.state = state
	p.result = value.Copy()
	reactions := p.reactions
	p.reactions = nil
	for _, rx := range reactions {
		r.schedule(rx, state, p.result)
	}
	if state == Rejected && len(reactions) == 0 {
		log.Debugf("promise rejected with no handler: %s", vm.ErrorMessage(value))
	}
}

func (r *Realm) addReaction(p *Promise, rx *reaction) {
	if p.state == Pending {
		p.reactions = append(p.reactions, rx)
		return
	}
	r.schedule(rx, p.state, p.result)
}

// schedule queues the job running rx with a settled value (borrowed).
func (r *Realm) schedule(rx *reaction, state PromiseState, value vm.Value) {
	v := value.Copy()
	r.enqueue(func() {
		r.runReaction(rx, state, v)
		rx.release()
		v.Free()
	})
}

func (r *Realm) runReaction(rx *reaction, state PromiseState, value vm.Value) {
	if !rx.resume.IsUndefined() {
		mode := vm.ResumeNext
		if state == Rejected {
			mode = vm.ResumeThrow
		}
		res, _ := r.engine.Resume(rx.resume, mode, value)
		if res.IsAbort() {
			r.holdAbort(res)
			return
		}
		if res.IsException() {
			log.Warningf("async continuation failed: %s", vm.ErrorMessage(res))
		}
		res.Free()
		return
	}
	handler := rx.onFulfilled
	if state == Rejected {
		handler = rx.onRejected
	}
	if handler.IsUndefined() {
		if state == Fulfilled {
			r.holdAbort(r.resolve(rx.derived, value))
		} else if d := promiseOf(rx.derived); d.state == Pending {
			r.settle(d, Rejected, value)
		}
		return
	}
	res := r.engine.Call(handler, vm.Undefined, []vm.Value{value})
	if res.IsAbort() {
		r.holdAbort(res)
		return
	}
	if res.IsException() {
		if d := promiseOf(rx.derived); d.state == Pending {
			r.rejectWith(d, res)
		} else {
			res.Free()
		}
		return
	}
	if d := promiseOf(rx.derived); d != nil && d.state == Pending {
		r.holdAbort(r.resolve(rx.derived, res))
	}
	res.Free()
}

// Await implements vm.PromiseOps.
func (r *Realm) Await(continuation, awaited vm.Value) vm.Value {
	p := awaited.Copy()
	if promiseOf(awaited) == nil {
		p.Free()
		p = r.NewPromise()
		if exc := r.resolve(p, awaited); exc.IsAbort() {
			p.Free()
			return exc
		}
	}
	r.addReaction(promiseOf(p), &reaction{
		resume:      continuation.Copy(),
		onFulfilled: vm.Undefined,
		onRejected:  vm.Undefined,
		derived:     vm.Undefined,
	})
	p.Free()
	return vm.Undefined
}

// ---------------------------------------------------------------------------
// Job queue
// ---------------------------------------------------------------------------

func (r *Realm) enqueue(job func()) {
	r.jobs = append(r.jobs, job)
}

// holdAbort records an abort raised inside a job so RunJobs can hand it to
// the host. Only the first one is kept. Anything but an abort is ignored.
func (r *Realm) holdAbort(exc vm.Value) {
	if !exc.IsAbort() {
		return
	}
	if r.abort.IsAbort() {
		exc.Free()
		return
	}
	log.Debugf("job aborted: %s", vm.ErrorMessage(exc))
	r.abort = exc
}

// Pending reports the number of queued jobs.
func (r *Realm) Pending() int { return len(r.jobs) }

// RunJobs drains the job queue, including jobs queued while it runs, and
// returns the number of jobs run. A job that aborts stops the drain: the
// abort marker is returned (owned) and the remaining jobs stay queued.
// Otherwise the second result is Undefined.
func (r *Realm) RunJobs() (int, vm.Value) {
	n := 0
	for len(r.jobs) > 0 && !r.abort.IsAbort() {
		job := r.jobs[0]
		r.jobs[0] = nil
		r.jobs = r.jobs[1:]
		job()
		n++
	}
	if n > 0 {
		r.engine.RunFinalizers()
	}
	abort := r.abort
	r.abort = vm.Undefined
	return n, abort
}

// ---------------------------------------------------------------------------
// Resolving functions
// ---------------------------------------------------------------------------

// resolvingState is shared by one resolve/reject pair. Only the first call
// of either function has an effect.
type resolvingState struct {
	promise vm.Value
	done    bool
	refs    int
}

// Release implements vm.Releaser; the promise is dropped with the last
// function of the pair.
func (s *resolvingState) Release() {
	s.refs--
	if s.refs == 0 {
		s.promise.Free()
		s.promise = vm.Undefined
	}
}

func (r *Realm) resolvingFunctions(promise vm.Value) (vm.Value, vm.Value) {
	st := &resolvingState{promise: promise.Copy(), refs: 2}
	resolve := r.engine.NewNative("", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if !st.done {
			st.done = true
			return r.resolve(st.promise, arg(args, 0))
		}
		return vm.Undefined
	}, nil)
	reject := r.engine.NewNative("", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if !st.done {
			st.done = true
			r.settle(promiseOf(st.promise), Rejected, arg(args, 0))
		}
		return vm.Undefined
	}, nil)
	vm.FunctionOf(resolve).Data = st
	vm.FunctionOf(reject).Data = st
	return resolve, reject
}

// ---------------------------------------------------------------------------
// Promise built-ins
// ---------------------------------------------------------------------------

func (r *Realm) registerPromisePrimitives(ctor vm.Value) {
	// then - register fulfillment and rejection handlers
	r.method(r.promiseProto, "then", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.then(this, arg(args, 0), arg(args, 1))
	})
	// catch - register a rejection handler
	r.method(r.promiseProto, "catch", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.then(this, vm.Undefined, arg(args, 0))
	})
	// Promise.resolve - wrap a value in a promise
	r.method(ctor, "resolve", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		v := arg(args, 0)
		if promiseOf(v) != nil {
			return v.Copy()
		}
		p := r.NewPromise()
		if exc := r.resolve(p, v); exc.IsAbort() {
			p.Free()
			return exc
		}
		return p
	})
	// Promise.reject - create a rejected promise
	r.method(ctor, "reject", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		p := r.NewPromise()
		r.settle(promiseOf(p), Rejected, arg(args, 0))
		return p
	})
}

func (r *Realm) then(this, onFulfilled, onRejected vm.Value) vm.Value {
	p := promiseOf(this)
	if p == nil {
		return r.throw(vm.TypeError, "Method Promise.prototype.then called on incompatible receiver "+r.display(this))
	}
	derived := r.NewPromise()
	rx := &reaction{
		resume:      vm.Undefined,
		onFulfilled: vm.Undefined,
		onRejected:  vm.Undefined,
		derived:     derived.Copy(),
	}
	if vm.IsCallable(onFulfilled) {
		rx.onFulfilled = onFulfilled.Copy()
	}
	if vm.IsCallable(onRejected) {
		rx.onRejected = onRejected.Copy()
	}
	r.addReaction(p, rx)
	return derived
}

// promiseConstruct implements new Promise(executor).
func (r *Realm) promiseConstruct(e *vm.Engine, newTarget vm.Value, args []vm.Value) vm.Value {
	executor := arg(args, 0)
	if !vm.IsCallable(executor) {
		return r.throw(vm.TypeError, "Promise resolver "+r.display(executor)+" is not a function")
	}
	p := r.NewPromise()
	resolveFn, rejectFn := r.resolvingFunctions(p)
	res := e.Call(executor, vm.Undefined, []vm.Value{resolveFn, rejectFn})
	if res.IsAbort() {
		resolveFn.Free()
		rejectFn.Free()
		p.Free()
		return res
	}
	if res.IsException() {
		reason := r.heap.UnwrapException(res, true)
		x := e.Call(rejectFn, vm.Undefined, []vm.Value{reason})
		x.Free()
		reason.Free()
	} else {
		res.Free()
	}
	resolveFn.Free()
	rejectFn.Free()
	return p
}
