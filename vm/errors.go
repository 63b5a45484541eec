package vm

import "fmt"

// ---------------------------------------------------------------------------
// Fatal errors
// ---------------------------------------------------------------------------

// FatalCode identifies an unrecoverable engine failure.
type FatalCode int

const (
	FatalRefcount FatalCode = iota + 1
	FatalInvalidOpcode
	FatalFrameSize
	FatalCorruptContext
)

func (c FatalCode) String() string {
	switch c {
	case FatalRefcount:
		return "refcount"
	case FatalInvalidOpcode:
		return "invalid opcode"
	case FatalFrameSize:
		return "frame size"
	case FatalCorruptContext:
		return "corrupt context stack"
	}
	return fmt.Sprintf("FatalCode(%d)", int(c))
}

// FatalError reports an invariant violation the engine cannot recover from.
// It is delivered to Config.OnFatal; the default handler panics with it.
type FatalError struct {
	Code   FatalCode
	Detail string
	Opcode Opcode
	Offset int // bytecode offset, -1 when unknown
}

func (e *FatalError) Error() string {
	if e.Offset >= 0 && e.Code == FatalInvalidOpcode {
		return fmt.Sprintf("fatal: %s 0x%03X at %d: %s", e.Code, uint16(e.Opcode), e.Offset, e.Detail)
	}
	return fmt.Sprintf("fatal: %s: %s", e.Code, e.Detail)
}

func (e *Engine) fatal(err *FatalError) {
	log.Criticalf("%s", err.Error())
	if e.config.OnFatal != nil {
		e.config.OnFatal(err)
	}
	panic(err)
}

// ---------------------------------------------------------------------------
// Script errors
// ---------------------------------------------------------------------------

// ErrorKind selects the constructor used for engine-raised errors.
type ErrorKind uint8

const (
	ErrorCommon ErrorKind = iota
	TypeError
	RangeError
	ReferenceError
	SyntaxError
	EvalError
	URIError
)

var errorKindNames = [...]string{
	"Error", "TypeError", "RangeError", "ReferenceError", "SyntaxError", "EvalError", "URIError",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return "Error"
}

// ThrowError creates an error object of the given kind through the realm and
// returns it wrapped in an exception marker.
func (e *Engine) ThrowError(kind ErrorKind, msg string) Value {
	errObj := e.realm.NewError(kind, msg)
	if errObj.IsException() {
		return errObj
	}
	return e.Throw(errObj)
}

// Throw wraps value in an exception marker. It consumes value.
func (e *Engine) Throw(value Value) Value {
	return e.heap.NewException(value, false)
}

// ErrorMessage formats a thrown payload for host diagnostics. Error objects
// render as "Kind: message" when the realm stored name and message as own
// data properties.
func ErrorMessage(v Value) string {
	if v.IsException() {
		v = v.cell.exc.payload
	}
	obj := v.Object()
	if obj == nil {
		if v.IsString() {
			return v.Str()
		}
		return v.String()
	}
	var name, msg string
	if p, ok := obj.GetOwn(StringKey("message")); ok && p.Value.IsString() {
		msg = p.Value.Str()
	}
	for o := obj; o != nil; o = o.proto.Object() {
		if p, ok := o.GetOwn(StringKey("name")); ok && p.Value.IsString() {
			name = p.Value.Str()
			break
		}
	}
	switch {
	case name == "":
		return msg
	case msg == "":
		return name
	}
	return name + ": " + msg
}
