package vm

import "fmt"

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// exitKind tells the trampoline why dispatch returned.
type exitKind uint8

const (
	exitReturn exitKind = iota // f.result holds the return value
	exitThrow                  // f.result holds an exception marker
	exitJump                   // f.jumpTarget leaves one or more contexts
	exitCall                   // f.pending holds a call
	exitConstruct              // f.pending holds a construct
	exitSuperCall              // f.pending holds a super call
	exitYield                  // f.result holds the yielded value
	exitAwait                  // f.result holds the awaited value
	exitCreated                // generator object must be created
)

var exitNames = [...]string{"return", "throw", "jump", "call", "construct", "super call", "yield", "await", "created"}

func (k exitKind) String() string {
	if int(k) < len(exitNames) {
		return exitNames[k]
	}
	return fmt.Sprintf("exitKind(%d)", uint8(k))
}

// pendingOp is a call the dispatch loop hands to the trampoline.
type pendingOp struct {
	kind       exitKind
	fn         Value
	this       Value
	args       []Value
	put        opPut
	spread     bool
	directEval bool
}

func (p *pendingOp) release() {
	p.fn.Free()
	p.this.Free()
	freeValues(p.args)
	*p = pendingOp{}
}

// dispatch executes instructions of f until the frame needs the trampoline:
// an abrupt completion, a call, or a suspension.
func (e *Engine) dispatch(f *Frame) exitKind {
	bc := f.code.Bytecode
	full := f.code.Flags&FlagFullLiteralEncoding != 0

	for {
		start := f.cursor
		if start >= len(bc) {
			return e.functionEnd(f)
		}
		f.last = start
		op, pos := decodeOpcode(bc, start)
		if !op.valid() {
			e.fatal(&FatalError{Code: FatalInvalidOpcode, Detail: f.code.Name, Opcode: op, Offset: start})
			return exitThrow
		}
		d := &decodeTable[op]

		target := -1
		if d.branch > 0 {
			off := readBranchOffset(bc, pos, int(d.branch))
			pos += int(d.branch)
			if d.backward {
				target = start - off
			} else {
				target = start + off
			}
		}
		b := 0
		if d.args == argByte {
			b = int(bc[pos])
			pos++
		}

		// Operand fetch.
		var left, right Value
		var idx int
		switch d.args {
		case argStack:
			left = f.pop()
		case argStackStack:
			right = f.pop()
			left = f.pop()
		case argLiteral:
			idx, pos = readLiteralIndex(bc, pos, full)
			left = e.literal(f, idx)
			if left.IsException() {
				f.cursor = pos
				f.result = left
				return exitThrow
			}
		case argLiteralLiteral:
			idx, pos = readLiteralIndex(bc, pos, full)
			left = e.literal(f, idx)
			if left.IsException() {
				f.cursor = pos
				f.result = left
				return exitThrow
			}
			idx, pos = readLiteralIndex(bc, pos, full)
			right = e.literal(f, idx)
			if right.IsException() {
				left.Free()
				f.cursor = pos
				f.result = right
				return exitThrow
			}
		case argStackLiteral:
			left = f.pop()
			idx, pos = readLiteralIndex(bc, pos, full)
			right = e.literal(f, idx)
			if right.IsException() {
				left.Free()
				f.cursor = pos
				f.result = right
				return exitThrow
			}
		case argThisLiteral:
			if f.this.IsEmpty() {
				f.cursor = pos
				f.result = e.ThrowError(ReferenceError, "Must call super constructor in derived class before accessing 'this'")
				return exitThrow
			}
			left = f.this.Copy()
			idx, pos = readLiteralIndex(bc, pos, full)
			right = e.literal(f, idx)
			if right.IsException() {
				left.Free()
				f.cursor = pos
				f.result = right
				return exitThrow
			}
		}

		ident := -1
		switch d.group {
		case groupTypeofIdent, groupCreateBinding, groupInitBinding:
			ident, pos = readLiteralIndex(bc, pos, full)
		}
		if d.put&putIdent != 0 {
			ident, pos = readLiteralIndex(bc, pos, full)
		}
		f.cursor = pos

		var result Value
		switch d.group {
		case groupNop:
			continue

		case groupPop:
			f.pop().Free()
			continue

		case groupPopBlock:
			f.setRegister(0, f.pop())
			continue

		case groupPush:
			result = left

		case groupPushTwo:
			e.push(f, left)
			e.push(f, right)
			continue

		case groupPushImmediate:
			switch op {
			case OpPushUndefined:
				result = Undefined
			case OpPushNull:
				result = Null
			case OpPushTrue:
				result = True
			case OpPushFalse:
				result = False
			case OpPushZero:
				result = FromInt(0)
			case OpPushPosByte:
				result = FromInt(int64(b) + 1)
			case OpPushNegByte:
				result = FromInt(-int64(b) - 1)
			}

		case groupPushThis:
			if f.this.IsEmpty() {
				f.result = e.ThrowError(ReferenceError, "Must call super constructor in derived class before accessing 'this'")
				return exitThrow
			}
			result = f.this.Copy()

		case groupPushObject:
			result = e.realm.NewObject()

		case groupArrayLiteral:
			items := f.popN(b)
			expanded, exc := e.expandSpread(items)
			freeValues(items)
			if exc.IsException() {
				f.result = exc
				return exitThrow
			}
			result = e.realm.NewArray(expanded)
			freeValues(expanded)

		case groupSetProperty, groupSetComputedProperty:
			// SET_PROPERTY: left=value, right=key. SET_COMPUTED_PROPERTY: left=key, right=value.
			key, value := right, left
			if d.group == groupSetComputedProperty {
				key, value = left, right
			}
			r := e.realm.DefineProperty(f.peek(0), key, value, DefaultFlags)
			key.Free()
			value.Free()
			if r.IsException() {
				f.result = r
				return exitThrow
			}
			r.Free()
			continue

		case groupPropGet:
			result = e.realm.GetProperty(left, right)
			left.Free()
			right.Free()

		case groupPropReference:
			value := e.realm.GetProperty(left, right)
			if value.IsException() {
				left.Free()
				right.Free()
				f.result = value
				return exitThrow
			}
			e.push(f, left)
			e.push(f, right)
			e.push(f, value)
			continue

		case groupPropDelete:
			result = e.realm.DeleteProperty(left, right, f.strict())
			left.Free()
			right.Free()

		case groupAssign:
			if d.put&putReference != 0 {
				key := f.pop()
				base := f.pop()
				r := e.realm.SetProperty(base, key, left, f.strict())
				base.Free()
				key.Free()
				if r.IsException() {
					left.Free()
					f.result = r
					return exitThrow
				}
				r.Free()
				if d.put&putStack != 0 {
					e.push(f, left)
				} else {
					left.Free()
				}
				continue
			}
			result = left

		case groupBinary:
			operator := d.operator
			if r, ok := fastBinary(operator, left, right); ok {
				result = r
			} else {
				result = e.realm.BinaryOp(operator, left, right)
			}
			left.Free()
			right.Free()

		case groupStrictEqual:
			eq := StrictEquals(left, right)
			left.Free()
			right.Free()
			result = FromBool(eq == (d.operator == OperatorStrictEqual))

		case groupUnary:
			result = e.realm.UnaryOp(d.operator, left)
			left.Free()

		case groupIncrDecr:
			if left.kind == KindInt {
				if d.operator == OperatorIncrement {
					result = FromInt(left.Int() + 1)
				} else {
					result = FromInt(left.Int() - 1)
				}
			} else {
				result = e.realm.UnaryOp(d.operator, left)
				left.Free()
			}

		case groupNot:
			result = FromBool(!e.realm.ToBoolean(left))
			left.Free()

		case groupVoid:
			left.Free()
			result = Undefined

		case groupTypeof:
			result = e.realm.TypeOf(left)
			left.Free()

		case groupTypeofIdent:
			if ident < f.regEnd {
				result = e.realm.TypeOf(f.slots[ident])
			} else {
				name, key := f.identName(ident)
				result = e.typeofIdent(f.env, name, key)
			}

		case groupCreateBinding:
			name, key := f.identName(ident)
			var r Value
			switch op {
			case OpCreateVar:
				r = e.createVar(f.varEnv, name, key)
			default:
				r = e.declareLexical(f, name, op == OpCreateLet)
			}
			if r.IsException() {
				f.result = r
				return exitThrow
			}
			r.Free()
			continue

		case groupInitBinding:
			var r Value
			if ident < f.regEnd {
				f.setRegister(ident, left)
				r = Undefined
			} else {
				name, key := f.identName(ident)
				r = e.initializeBinding(f.env, name, key, left)
			}
			if r.IsException() {
				f.result = r
				return exitThrow
			}
			r.Free()
			continue

		case groupCreateArguments:
			result = e.realm.NewArguments(f.function, f.args, f.strict())

		case groupJump:
			f.cursor = target
			if d.backward {
				if exc := e.pollHalt(); exc.IsException() {
					f.result = exc
					return exitThrow
				}
			}
			continue

		case groupBranchIf:
			truthy := e.realm.ToBoolean(left)
			left.Free()
			if truthy == (op.base() == OpBranchIfTrueForward || op.base() == OpBranchIfTrueBackward) {
				f.cursor = target
				if d.backward {
					if exc := e.pollHalt(); exc.IsException() {
						f.result = exc
						return exitThrow
					}
				}
			}
			continue

		case groupBranchLogical:
			truthy := e.realm.ToBoolean(f.peek(0))
			if truthy == (op.base() == OpBranchIfLogicalTrue) {
				f.cursor = target
			} else {
				f.pop().Free()
			}
			continue

		case groupBranchStrictEqual:
			caseValue := f.pop()
			eq := StrictEquals(f.peek(0), caseValue)
			caseValue.Free()
			if eq {
				f.pop().Free()
				f.cursor = target
			}
			continue

		case groupDefaultInitializer:
			if !f.peek(0).IsUndefined() {
				f.cursor = target
			} else {
				f.pop().Free()
			}
			continue

		case groupCall, groupNew, groupSpreadCall, groupSuperCall:
			e.preparePending(f, op, b, d.put)
			return f.pending.kind

		case groupEval:
			f.flags |= frameEvalNext
			continue

		case groupRunFieldInit:
			fn := FunctionOf(f.function)
			if fn == nil || fn.FieldInit.IsUndefined() {
				continue
			}
			f.pending = pendingOp{kind: exitCall, fn: fn.FieldInit.Copy(), this: f.this.Copy()}
			return exitCall

		case groupSpreadElement:
			v := f.pop()
			e.push(f, spreadMarker)
			e.push(f, v)
			continue

		case groupReturn:
			switch op {
			case OpReturn, OpReturnLiteral:
				f.result = left
			case OpReturnBlock:
				f.result = f.slots[0].Copy()
			default:
				return e.functionEnd(f)
			}
			return exitReturn

		case groupThrow:
			f.result = e.Throw(left)
			return exitThrow

		case groupThrowReferenceError:
			msg := left.Str() + " is not defined"
			left.Free()
			f.result = e.ThrowError(ReferenceError, msg)
			return exitThrow

		case groupThrowConstAssignment:
			f.result = e.ThrowError(TypeError, "Assignment to constant variable.")
			return exitThrow

		case groupContextEnd:
			if x, ok := e.contextEnd(f, start); !ok {
				return x
			}
			continue

		case groupJumpExitContext:
			f.jumpTarget = target
			return exitJump

		case groupBlockContext:
			ctx := e.pushContext(f, ctxBlock, target)
			e.pushContextEnv(f, ctx)
			continue

		case groupWith:
			obj := e.realm.ToObject(left)
			left.Free()
			if obj.IsException() {
				f.result = obj
				return exitThrow
			}
			ctx := e.pushContext(f, ctxWith, target)
			env := e.heap.NewObjectEnv(obj, nil, true)
			obj.Free()
			env.env.outer = f.env
			f.env = env
			ctx.hasEnv = true
			continue

		case groupTry:
			e.pushContext(f, ctxTry, target)
			continue

		case groupCatch:
			// Reached only in normal flow: skip the catch body.
			f.cursor = target
			continue

		case groupFinally:
			ctx := f.topContext()
			f.truncate(ctx.base)
			f.popContextEnv(ctx)
			ctx = f.convertContext(ctxFinallyJump)
			ctx.start = pos
			ctx.end = target
			ctx.target = target
			continue

		case groupTryCreateEnv:
			e.pushContextEnv(f, f.topContext())
			continue

		case groupForInInit, groupForInGetNext, groupForInHasNext,
			groupForOfInit, groupForOfGetNext, groupForOfHasNext,
			groupForAwaitOfInit, groupForAwaitOfStep, groupForAwaitOfHasNext:
			if x, ok := e.loopOp(f, d.group, left, target); !ok {
				return x
			}
			continue

		case groupIteratorContextCreate, groupIteratorStep, groupIteratorContextEnd, groupRestInitializer,
			groupObjInitContextCreate, groupObjInitPushProp, groupObjInitPushRest, groupObjInitContextEnd:
			if x, ok := e.destructureOp(f, d.group, left); !ok {
				return x
			}
			continue

		case groupCreateGenerator:
			return exitCreated

		case groupYield:
			f.result = left
			return exitYield

		case groupAwait:
			f.result = left
			return exitAwait

		case groupInitClass:
			ctor, heritage, derived := left, Undefined, false
			if op == OpInitDerivedClass {
				ctor, heritage, derived = right, left, true
			}
			proto := e.realm.InitClass(ctor, heritage, derived)
			heritage.Free()
			if proto.IsException() {
				ctor.Free()
				f.result = proto
				return exitThrow
			}
			e.push(f, ctor)
			e.push(f, proto)
			continue

		case groupDefineMethod:
			home := f.peek(0)
			if op == OpDefineStaticMethod {
				home = f.peek(1)
			}
			r := e.realm.DefineProperty(home, right, left, MethodFlags)
			left.Free()
			right.Free()
			if r.IsException() {
				f.result = r
				return exitThrow
			}
			r.Free()
			continue

		case groupSetFieldInit:
			if fn := FunctionOf(f.peek(1)); fn != nil {
				old := fn.FieldInit
				fn.FieldInit = left
				old.Free()
			} else {
				left.Free()
			}
			continue

		case groupFinalizeClass:
			f.pop().Free()
			continue

		case groupPushSuperConstructor:
			if obj := f.function.Object(); obj != nil {
				result = obj.Proto().Copy()
			} else {
				result = Undefined
			}

		case groupPushNewTarget:
			result = f.newTarget.Copy()

		case groupBreakpoint:
			if exc := e.breakpoint(f, op == OpBreakpointEnabled); exc.IsException() {
				f.result = exc
				return exitThrow
			}
			continue

		default:
			e.fatal(&FatalError{Code: FatalInvalidOpcode, Detail: fmt.Sprintf("unhandled group %d", d.group), Opcode: op, Offset: start})
			return exitThrow
		}

		if result.IsException() {
			f.result = result
			return exitThrow
		}
		if exc := e.put(f, d.put, ident, result); exc.IsException() {
			f.result = exc
			return exitThrow
		}
	}
}

// functionEnd completes a frame that ran off its last instruction. Scripts
// complete with their block result, functions with undefined.
func (e *Engine) functionEnd(f *Frame) exitKind {
	if f.function.IsUndefined() && f.regEnd > 0 {
		f.result = f.slots[0].Copy()
	} else {
		f.result = Undefined
	}
	return exitReturn
}

// put places an owned result according to the instruction's put flags.
func (e *Engine) put(f *Frame, put opPut, ident int, v Value) Value {
	if put&putIdent != 0 {
		keep := put&(putStack|putBlock) != 0
		stored := v
		if keep {
			stored = v.Copy()
		}
		var r Value
		if ident < f.regEnd {
			f.setRegister(ident, stored)
			r = Undefined
		} else {
			name, key := f.identName(ident)
			r = e.assignIdent(f.env, name, key, stored, f.strict())
		}
		if r.IsException() {
			if keep {
				v.Free()
			}
			return r
		}
		r.Free()
		if !keep {
			return Undefined
		}
	}
	switch {
	case put&putStack != 0:
		e.push(f, v)
	case put&putBlock != 0:
		f.setRegister(0, v)
	default:
		v.Free()
	}
	return Undefined
}

// declareLexical creates an uninitialized let or const binding in the
// innermost declarative environment.
func (e *Engine) declareLexical(f *Frame, name string, mutable bool) Value {
	for c := f.env; c != nil; c = c.env.outer {
		if c.env.kind == envDeclarative {
			c.env.Declare(name, Undefined, mutable, false)
			return Undefined
		}
	}
	return e.ThrowError(SyntaxError, "no declarative scope for "+name)
}

// preparePending moves the operands of a call instruction into f.pending.
func (e *Engine) preparePending(f *Frame, op Opcode, argc int, put opPut) {
	p := pendingOp{kind: exitCall, put: put, this: Undefined}
	p.args = f.popN(argc)
	switch op {
	case OpCall, OpCallPush, OpCallBlock, OpSpreadCall, OpSpreadCallPush:
		p.fn = f.pop()
	case OpCallProp, OpCallPropPush, OpCallPropBlock, OpSpreadCallProp, OpSpreadCallPropPush:
		p.fn = f.pop()
		f.pop().Free()
		p.this = f.pop()
	case OpNew, OpSpreadNew:
		p.kind = exitConstruct
		p.fn = f.pop()
	case OpSuperCall, OpSpreadSuperCall:
		p.kind = exitSuperCall
	}
	switch op {
	case OpSpreadCall, OpSpreadCallPush, OpSpreadCallProp, OpSpreadCallPropPush, OpSpreadNew, OpSpreadSuperCall:
		p.spread = true
	}
	if f.flags&frameEvalNext != 0 {
		f.flags &^= frameEvalNext
		p.directEval = p.kind == exitCall
	}
	f.pending = p
}

// fastBinary evaluates operators on two small integers without the realm.
func fastBinary(op Operator, l, r Value) (Value, bool) {
	if l.kind != KindInt || r.kind != KindInt {
		return Value{}, false
	}
	a, b := l.Int(), r.Int()
	switch op {
	case OperatorAdd:
		return FromInt(a + b), true
	case OperatorSub:
		return FromInt(a - b), true
	case OperatorMul:
		return FromFloat(float64(a) * float64(b)), true
	case OperatorBitAnd:
		return FromInt(int64(int32(a) & int32(b))), true
	case OperatorBitOr:
		return FromInt(int64(int32(a) | int32(b))), true
	case OperatorBitXor:
		return FromInt(int64(int32(a) ^ int32(b))), true
	case OperatorEqual:
		return FromBool(a == b), true
	case OperatorNotEqual:
		return FromBool(a != b), true
	case OperatorLess:
		return FromBool(a < b), true
	case OperatorGreater:
		return FromBool(a > b), true
	case OperatorLessEqual:
		return FromBool(a <= b), true
	case OperatorGreaterEqual:
		return FromBool(a >= b), true
	}
	return Value{}, false
}

// contextEnd executes CONTEXT_END at offset at. It returns ok=false with the
// exit kind when the instruction completes abruptly.
func (e *Engine) contextEnd(f *Frame, at int) (exitKind, bool) {
	ctx := f.topContext()
	if ctx == nil {
		e.fatal(&FatalError{Code: FatalCorruptContext, Detail: "context end without context", Offset: at})
		return exitThrow, false
	}
	switch ctx.kind {
	case ctxFinallyJump:
		target := ctx.target
		e.popContext(f, false)
		if target == at {
			return 0, true
		}
		f.jumpTarget = target
		return exitJump, false
	case ctxFinallyThrow, ctxFinallyReturn:
		kind := exitThrow
		if ctx.kind == ctxFinallyReturn {
			kind = exitReturn
		}
		v := ctx.value
		ctx.value = Undefined
		e.popContext(f, false)
		f.result = v
		return kind, false
	}
	if r := e.popContext(f, true); r.IsException() {
		f.result = r
		return exitThrow, false
	}
	return 0, true
}
