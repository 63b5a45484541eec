package vm

// ---------------------------------------------------------------------------
// Abrupt completions
// ---------------------------------------------------------------------------

// handlerAt decodes the handler instruction (CATCH, FINALLY or CONTEXT_END)
// that ends a try or catch region.
func (f *Frame) handlerAt(offset int) Instruction {
	in, err := DecodeInstruction(f.code.Bytecode, offset, f.code.Flags&FlagFullLiteralEncoding != 0)
	if err != nil {
		return Instruction{Offset: offset, Op: OpContextEnd, Target: -1, Next: offset + 1}
	}
	return in
}

// hasFinally reports whether a try or catch entry leads into a finally block.
func (f *Frame) hasFinally(ctx *contextEntry) bool {
	h := f.handlerAt(ctx.end)
	if ctx.kind == ctxTry && h.Op.base() == OpCatch {
		h = f.handlerAt(h.Target)
	}
	return h.Op.base() == OpFinally
}

// unwind routes an abrupt completion through the context stack of f.
// kind is exitThrow or exitReturn with the completion value in f.result, or
// exitJump with f.jumpTarget. It returns true when execution continues in f
// at f.cursor, and false when the completion leaves the frame; f.result then
// holds the return value or exception marker.
func (e *Engine) unwind(f *Frame, kind exitKind) bool {
	if kind == exitThrow {
		e.notifyThrow(f.result)
	}
	for len(f.contexts) > 0 {
		ctx := f.topContext()
		f.truncate(ctx.base)

		if kind == exitJump {
			t := f.jumpTarget
			switch {
			case ctx.kind.isFinally():
				if ctx.start <= t && t < ctx.end {
					f.cursor = t
					return true
				}
			case ctx.kind == ctxTry || ctx.kind == ctxCatch:
				if t <= ctx.end {
					f.cursor = t
					return true
				}
			default:
				if t < ctx.end {
					f.cursor = t
					return true
				}
			}
		}

		switch ctx.kind {
		case ctxTry:
			h := f.handlerAt(ctx.end)
			if h.Op.base() == OpCatch {
				if kind == exitThrow && !f.result.IsAbort() {
					f.popContextEnv(ctx)
					ctx = f.convertContext(ctxCatch)
					ctx.end = h.Target
					payload := e.heap.UnwrapException(f.result, true)
					f.result = Undefined
					e.push(f, payload)
					f.cursor = h.Next
					return true
				}
				h = f.handlerAt(h.Target)
			}
			if h.Op.base() == OpFinally {
				e.enterFinally(f, kind, h)
				return true
			}
			e.popContext(f, false)

		case ctxCatch:
			if h := f.handlerAt(ctx.end); h.Op.base() == OpFinally {
				e.enterFinally(f, kind, h)
				return true
			}
			e.popContext(f, false)

		case ctxFinallyJump, ctxFinallyThrow, ctxFinallyReturn:
			stored := ctx.value
			ctx.value = Undefined
			if stored.IsAbort() && !(kind == exitThrow && f.result.IsAbort()) {
				// A pending abort survives any completion raised by the finally body.
				if kind != exitJump {
					f.result.Free()
				}
				f.result = stored
				kind = exitThrow
			} else {
				stored.Free()
			}
			e.popContext(f, false)

		case ctxForOf, ctxForAwaitOf, ctxIterator:
			if r := e.popContext(f, true); r.IsException() {
				if kind == exitThrow {
					r.Free()
				} else {
					if kind == exitReturn {
						f.result.Free()
					}
					f.result = r
					kind = exitThrow
					e.notifyThrow(r)
				}
			}

		default:
			e.popContext(f, false)
		}
	}

	if kind == exitJump {
		f.cursor = f.jumpTarget
		return true
	}
	f.truncate(0)
	return false
}

// enterFinally converts the top try or catch entry into a finally entry that
// remembers the completion, and continues at the finally body.
func (e *Engine) enterFinally(f *Frame, kind exitKind, fin Instruction) {
	ctx := f.topContext()
	f.popContextEnv(ctx)
	switch kind {
	case exitThrow:
		ctx = f.convertContext(ctxFinallyThrow)
		ctx.value = f.result
	case exitReturn:
		ctx = f.convertContext(ctxFinallyReturn)
		ctx.value = f.result
	default:
		ctx = f.convertContext(ctxFinallyJump)
		ctx.target = f.jumpTarget
	}
	f.result = Undefined
	ctx.start = fin.Next
	ctx.end = fin.Target
	f.cursor = fin.Next
}

// notifyThrow reports an exception to the throw hooks the first time it is
// seen.
func (e *Engine) notifyThrow(exc Value) {
	if !exc.IsException() {
		return
	}
	rec := exc.cell.exc
	if rec.reported {
		return
	}
	rec.reported = true
	if e.config.OnThrow != nil {
		e.config.OnThrow(e, exc)
	}
	if e.debugger != nil && (e.top == nil || e.top.code.Flags&FlagDebuggerIgnore == 0) {
		e.debugger.Exception(e, exc)
	}
}
