package vm

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// Operator selects the algorithm for BinaryOp and UnaryOp. Binary operators
// share their numbering with the binary opcodes.
type Operator uint8

const (
	OperatorAdd Operator = iota
	OperatorSub
	OperatorMul
	OperatorDiv
	OperatorMod
	OperatorExp
	OperatorBitOr
	OperatorBitXor
	OperatorBitAnd
	OperatorShl
	OperatorShr
	OperatorUShr
	OperatorEqual
	OperatorNotEqual
	OperatorStrictEqual
	OperatorStrictNotEqual
	OperatorLess
	OperatorGreater
	OperatorLessEqual
	OperatorGreaterEqual
	OperatorIn
	OperatorInstanceof

	OperatorPlus
	OperatorNegate
	OperatorBitNot
	OperatorIncrement
	OperatorDecrement
)

func (op Operator) String() string {
	if op < OperatorPlus {
		return binaryNames[op]
	}
	switch op {
	case OperatorPlus:
		return "PLUS"
	case OperatorNegate:
		return "NEGATE"
	case OperatorBitNot:
		return "BIT_NOT"
	case OperatorIncrement:
		return "INCREMENT"
	case OperatorDecrement:
		return "DECREMENT"
	}
	return "UNKNOWN"
}

// ---------------------------------------------------------------------------
// Realm hooks
// ---------------------------------------------------------------------------
//
// The engine performs no language algorithm itself beyond control flow,
// scoping and calls. Everything else is delegated to a Realm. Conventions for
// every hook: arguments are borrowed, the result is owned by the caller, and
// failures are reported by returning an exception marker.

// PropertyOps covers property access on arbitrary values.
type PropertyOps interface {
	GetProperty(base, key Value) Value
	SetProperty(base, key, value Value, strict bool) Value
	DeleteProperty(base, key Value, strict bool) Value
	DefineProperty(obj, key, value Value, flags PropertyFlags) Value
	HasProperty(obj, key Value) Value

	// EnumerateKeys returns the for-in keys of obj. The second result is an
	// exception marker or Undefined.
	EnumerateKeys(obj Value) ([]Value, Value)

	// CopyDataProperties returns a new object holding the own enumerable
	// properties of src except the excluded keys.
	CopyDataProperties(src Value, excluded []Value) Value
}

// Operators covers the abstract operations behind operator opcodes.
type Operators interface {
	BinaryOp(op Operator, left, right Value) Value
	UnaryOp(op Operator, v Value) Value
	ToBoolean(v Value) bool
	ToObject(v Value) Value
	TypeOf(v Value) Value
}

// IteratorOps covers the iteration protocol.
type IteratorOps interface {
	// GetIterator returns the iterator object and its next method.
	GetIterator(v Value, async bool) (iter, next Value)
	IteratorNext(iter, next, arg Value) Value
	// IteratorStep returns the next result object, or False when done.
	IteratorStep(iter, next Value) Value
	IteratorComplete(result Value) Value
	IteratorValue(result Value) Value
	IteratorClose(iter Value) Value
}

// PromiseOps covers the promise machinery used by async functions.
type PromiseOps interface {
	NewPromise() Value
	ResolvePromise(promise, value Value) Value
	RejectPromise(promise, reason Value) Value

	// Await arranges for continuation (an executable object) to be resumed
	// through Engine.Resume once awaited settles: ResumeNext with the
	// fulfillment value or ResumeThrow with the rejection reason.
	Await(continuation, awaited Value) Value
}

// ObjectFactory creates the objects the engine needs.
type ObjectFactory interface {
	NewObject() Value
	NewArray(items []Value) Value
	NewFunction(fn *Function) Value
	NewGenerator(fn, continuation Value) Value
	CompileRegExp(pattern, flags string) (any, Value)
	NewRegExp(compiled any) Value
	NewError(kind ErrorKind, msg string) Value
	NewArguments(callee Value, args []Value, strict bool) Value

	// CreateThis allocates the receiver for [[Construct]] from newTarget's
	// prototype property.
	CreateThis(newTarget Value) Value

	// InitClass wires ctor to heritage and returns the new prototype object.
	InitClass(ctor, heritage Value, derived bool) Value
}

// Realm is the full hook surface an embedder provides.
type Realm interface {
	PropertyOps
	Operators
	IteratorOps
	PromiseOps
	ObjectFactory

	// Bind is called once by New before any hook.
	Bind(e *Engine)

	// GlobalObject returns the global object (borrowed).
	GlobalObject() Value
}
