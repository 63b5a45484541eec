package vm

// ---------------------------------------------------------------------------
// Iteration contexts
// ---------------------------------------------------------------------------

// loopOp executes the for-in, for-of and for-await-of instructions. subject is
// the popped operand of the init instructions. It returns ok=false with an
// exit kind when the instruction leaves the dispatch loop.
func (e *Engine) loopOp(f *Frame, group opGroup, subject Value, target int) (exitKind, bool) {
	switch group {
	case groupForInInit:
		if subject.IsNullish() {
			f.cursor = target
			return 0, true
		}
		obj := e.realm.ToObject(subject)
		subject.Free()
		if obj.IsException() {
			f.result = obj
			return exitThrow, false
		}
		keys, exc := e.realm.EnumerateKeys(obj)
		if exc.IsException() {
			obj.Free()
			f.result = exc
			return exitThrow, false
		}
		if len(keys) == 0 {
			obj.Free()
			f.cursor = target
			return 0, true
		}
		ctx := e.pushContext(f, ctxForIn, target)
		ctx.object = obj
		ctx.keys = keys

	case groupForInGetNext:
		ctx := f.topContext()
		key := ctx.keys[ctx.index]
		ctx.keys[ctx.index] = Undefined
		ctx.index++
		e.push(f, key)

	case groupForInHasNext:
		ctx := f.topContext()
		for ctx.index < len(ctx.keys) {
			has := e.realm.HasProperty(ctx.object, ctx.keys[ctx.index])
			if has.IsException() {
				f.result = has
				return exitThrow, false
			}
			if has.Bool() {
				f.cursor = target
				return e.backwardPoll(f)
			}
			ctx.keys[ctx.index].Free()
			ctx.keys[ctx.index] = Undefined
			ctx.index++
		}
		e.popContext(f, false)

	case groupForOfInit:
		iter, next := e.realm.GetIterator(subject, false)
		subject.Free()
		if iter.IsException() {
			f.result = iter
			return exitThrow, false
		}
		step := e.realm.IteratorStep(iter, next)
		if step.IsException() || (step.IsBool() && !step.Bool()) {
			iter.Free()
			next.Free()
			if step.IsException() {
				f.result = step
				return exitThrow, false
			}
			f.cursor = target
			return 0, true
		}
		value := e.realm.IteratorValue(step)
		step.Free()
		if value.IsException() {
			iter.Free()
			next.Free()
			f.result = value
			return exitThrow, false
		}
		ctx := e.pushContext(f, ctxForOf, target)
		ctx.iterator, ctx.next, ctx.value = iter, next, value
		ctx.closeIterator = true

	case groupForOfGetNext:
		ctx := f.topContext()
		v := ctx.value
		ctx.value = Undefined
		e.push(f, v)

	case groupForOfHasNext:
		ctx := f.topContext()
		ctx.closeIterator = false
		step := e.realm.IteratorStep(ctx.iterator, ctx.next)
		if step.IsException() {
			f.result = step
			return exitThrow, false
		}
		if step.IsBool() && !step.Bool() {
			e.popContext(f, false)
			return 0, true
		}
		value := e.realm.IteratorValue(step)
		step.Free()
		if value.IsException() {
			f.result = value
			return exitThrow, false
		}
		ctx = f.topContext()
		ctx.value.Free()
		ctx.value = value
		ctx.closeIterator = true
		f.cursor = target
		return e.backwardPoll(f)

	case groupForAwaitOfInit:
		iter, next := e.realm.GetIterator(subject, true)
		subject.Free()
		if iter.IsException() {
			f.result = iter
			return exitThrow, false
		}
		ctx := e.pushContext(f, ctxForAwaitOf, target)
		ctx.iterator, ctx.next = iter, next
		r := e.realm.IteratorNext(iter, next, Undefined)
		if r.IsException() {
			f.result = r
			return exitThrow, false
		}
		f.result = r
		return exitAwait, false

	case groupForAwaitOfStep:
		// subject is the awaited next() result.
		done := e.realm.IteratorComplete(subject)
		if done.IsException() {
			subject.Free()
			f.result = done
			return exitThrow, false
		}
		if done.Bool() {
			subject.Free()
			e.popContext(f, false)
			f.cursor = target
			return 0, true
		}
		value := e.realm.IteratorValue(subject)
		subject.Free()
		if value.IsException() {
			f.result = value
			return exitThrow, false
		}
		ctx := f.topContext()
		ctx.value.Free()
		ctx.value = value
		ctx.closeIterator = true

	case groupForAwaitOfHasNext:
		ctx := f.topContext()
		ctx.closeIterator = false
		r := e.realm.IteratorNext(ctx.iterator, ctx.next, Undefined)
		if r.IsException() {
			f.result = r
			return exitThrow, false
		}
		f.cursor = target
		if x, ok := e.backwardPoll(f); !ok {
			r.Free()
			return x, false
		}
		f.result = r
		return exitAwait, false
	}
	return 0, true
}

// backwardPoll runs the halt check that guards every backward branch.
func (e *Engine) backwardPoll(f *Frame) (exitKind, bool) {
	if exc := e.pollHalt(); exc.IsException() {
		f.result = exc
		return exitThrow, false
	}
	return 0, true
}

// ---------------------------------------------------------------------------
// Destructuring contexts
// ---------------------------------------------------------------------------

// destructureOp executes array and object destructuring instructions.
func (e *Engine) destructureOp(f *Frame, group opGroup, subject Value) (exitKind, bool) {
	switch group {
	case groupIteratorContextCreate:
		iter, next := e.realm.GetIterator(subject, false)
		subject.Free()
		if iter.IsException() {
			f.result = iter
			return exitThrow, false
		}
		ctx := e.pushContext(f, ctxIterator, 0)
		ctx.iterator, ctx.next = iter, next
		ctx.closeIterator = true

	case groupIteratorStep:
		ctx := f.topContext()
		if ctx.done {
			e.push(f, Undefined)
			return 0, true
		}
		ctx.closeIterator = false
		step := e.realm.IteratorStep(ctx.iterator, ctx.next)
		if step.IsException() {
			ctx.done = true
			f.result = step
			return exitThrow, false
		}
		if step.IsBool() && !step.Bool() {
			ctx.done = true
			e.push(f, Undefined)
			return 0, true
		}
		value := e.realm.IteratorValue(step)
		step.Free()
		if value.IsException() {
			ctx.done = true
			f.result = value
			return exitThrow, false
		}
		ctx.closeIterator = true
		e.push(f, value)

	case groupRestInitializer:
		ctx := f.topContext()
		var items []Value
		ctx.closeIterator = false
		for !ctx.done {
			step := e.realm.IteratorStep(ctx.iterator, ctx.next)
			if step.IsException() {
				ctx.done = true
				freeValues(items)
				f.result = step
				return exitThrow, false
			}
			if step.IsBool() && !step.Bool() {
				ctx.done = true
				break
			}
			value := e.realm.IteratorValue(step)
			step.Free()
			if value.IsException() {
				ctx.done = true
				freeValues(items)
				f.result = value
				return exitThrow, false
			}
			items = append(items, value)
		}
		arr := e.realm.NewArray(items)
		freeValues(items)
		if arr.IsException() {
			f.result = arr
			return exitThrow, false
		}
		e.push(f, arr)

	case groupIteratorContextEnd:
		if r := e.popContext(f, true); r.IsException() {
			f.result = r
			return exitThrow, false
		}

	case groupObjInitContextCreate:
		if subject.IsNullish() {
			msg := "Cannot destructure '" + subject.String() + "' as it is " + subject.String() + "."
			f.result = e.ThrowError(TypeError, msg)
			return exitThrow, false
		}
		ctx := e.pushContext(f, ctxObjInit, 0)
		ctx.object = subject

	case groupObjInitPushProp:
		// subject is the literal key.
		ctx := f.topContext()
		v := e.realm.GetProperty(ctx.object, subject)
		if v.IsException() {
			subject.Free()
			f.result = v
			return exitThrow, false
		}
		ctx.keys = append(ctx.keys, subject)
		e.push(f, v)

	case groupObjInitPushRest:
		ctx := f.topContext()
		rest := e.realm.CopyDataProperties(ctx.object, ctx.keys)
		if rest.IsException() {
			f.result = rest
			return exitThrow, false
		}
		e.push(f, rest)

	case groupObjInitContextEnd:
		e.popContext(f, false)
	}
	return 0, true
}

// ---------------------------------------------------------------------------
// Spread arguments
// ---------------------------------------------------------------------------

// expandSpread returns a new owned slice with every spread-marked item
// replaced by the values it iterates to. items stay owned by the caller.
func (e *Engine) expandSpread(items []Value) ([]Value, Value) {
	out := make([]Value, 0, len(items))
	for i := 0; i < len(items); i++ {
		if !items[i].isSpreadMarker() {
			out = append(out, items[i].Copy())
			continue
		}
		i++
		iter, next := e.realm.GetIterator(items[i], false)
		if iter.IsException() {
			freeValues(out)
			return nil, iter
		}
		for {
			step := e.realm.IteratorStep(iter, next)
			if step.IsException() {
				iter.Free()
				next.Free()
				freeValues(out)
				return nil, step
			}
			if step.IsBool() && !step.Bool() {
				break
			}
			v := e.realm.IteratorValue(step)
			step.Free()
			if v.IsException() {
				iter.Free()
				next.Free()
				freeValues(out)
				return nil, v
			}
			out = append(out, v)
		}
		iter.Free()
		next.Free()
	}
	return out, Undefined
}
