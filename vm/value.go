package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Value: the tagged value representation
// ---------------------------------------------------------------------------

// Kind discriminates the variants of a Value. A value's kind fully
// determines how its payload is interpreted.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindInt // small integer in [MinSmallInt, MaxSmallInt]
	KindFloat
	KindEmpty // internal sentinels, never visible to scripts
	KindString
	KindSymbol
	KindBigInt
	KindObject
	KindException // exception marker wrapping a thrown payload
)

var kindNames = [...]string{
	KindUndefined: "undefined",
	KindNull:      "null",
	KindBool:      "boolean",
	KindInt:       "int",
	KindFloat:     "float",
	KindEmpty:     "empty",
	KindString:    "string",
	KindSymbol:    "symbol",
	KindBigInt:    "bigint",
	KindObject:    "object",
	KindException: "exception",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Small integers are kept immediate; anything outside this range is a Float.
const (
	MaxSmallInt = 1<<27 - 1
	MinSmallInt = -(1 << 27)
)

// Value is a language value or an exception marker. Values that reference a
// heap Cell participate in reference counting: Copy takes a new reference and
// Free drops one. Immediates ignore both.
//
// Ownership: a function returning a Value hands one reference to the caller;
// a function taking a Value parameter borrows it unless documented otherwise.
type Value struct {
	kind Kind
	bits uint64
	cell *Cell
}

// Sentinel payloads for KindEmpty.
const (
	sentinelEmpty uint64 = iota
	sentinelSpread
)

// Immediate values.
var (
	Undefined = Value{kind: KindUndefined}
	Null      = Value{kind: KindNull}
	True      = Value{kind: KindBool, bits: 1}
	False     = Value{kind: KindBool}
	Empty     = Value{kind: KindEmpty, bits: sentinelEmpty}

	// spreadMarker precedes a spread argument on the operand stack.
	spreadMarker = Value{kind: KindEmpty, bits: sentinelSpread}
)

// exception marker flag bits
const excAbort uint64 = 1

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromBool returns True or False.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromInt returns a small integer when i fits, and a float otherwise.
func FromInt(i int64) Value {
	if i >= MinSmallInt && i <= MaxSmallInt {
		return Value{kind: KindInt, bits: uint64(i)}
	}
	return Value{kind: KindFloat, bits: math.Float64bits(float64(i))}
}

// FromFloat returns a number value. Integral floats that fit the small
// integer range are normalized to KindInt; negative zero stays a float.
func FromFloat(f float64) Value {
	if i := int64(f); float64(i) == f && i >= MinSmallInt && i <= MaxSmallInt {
		if i != 0 || !math.Signbit(f) {
			return Value{kind: KindInt, bits: uint64(i)}
		}
	}
	return Value{kind: KindFloat, bits: math.Float64bits(f)}
}

// ---------------------------------------------------------------------------
// Predicates and accessors
// ---------------------------------------------------------------------------

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsNullish() bool   { return v.kind == KindUndefined || v.kind == KindNull }
func (v Value) IsBool() bool      { return v.kind == KindBool }
func (v Value) IsInt() bool       { return v.kind == KindInt }
func (v Value) IsNumber() bool    { return v.kind == KindInt || v.kind == KindFloat }
func (v Value) IsString() bool    { return v.kind == KindString }
func (v Value) IsSymbol() bool    { return v.kind == KindSymbol }
func (v Value) IsBigInt() bool    { return v.kind == KindBigInt }
func (v Value) IsObject() bool    { return v.kind == KindObject }

// IsEmpty reports whether v is the Empty sentinel. It is used for holes,
// uninitialized this bindings and "no value" slots.
func (v Value) IsEmpty() bool { return v.kind == KindEmpty && v.bits == sentinelEmpty }

func (v Value) isSpreadMarker() bool { return v.kind == KindEmpty && v.bits == sentinelSpread }

// IsException reports whether v is an exception marker.
func (v Value) IsException() bool { return v.kind == KindException }

// IsAbort reports whether v is an exception marker requesting a forced abort.
func (v Value) IsAbort() bool { return v.kind == KindException && v.bits&excAbort != 0 }

// IsPrimitive reports whether v is a language value that is not an object.
func (v Value) IsPrimitive() bool {
	return v.kind != KindObject && v.kind != KindException && v.kind != KindEmpty
}

// Bool returns the payload of a boolean.
func (v Value) Bool() bool { return v.bits != 0 }

// Int returns the payload of a small integer.
func (v Value) Int() int64 { return int64(v.bits) }

// Number returns the numeric payload of a small integer or float.
func (v Value) Number() float64 {
	if v.kind == KindInt {
		return float64(int64(v.bits))
	}
	return math.Float64frombits(v.bits)
}

// Str returns the contents of a string or the description of a symbol.
func (v Value) Str() string {
	if v.cell == nil {
		return ""
	}
	return v.cell.str
}

// Object returns the object payload of v, or nil.
func (v Value) Object() *Object {
	if v.kind != KindObject {
		return nil
	}
	return v.cell.obj
}

// Cell returns the heap allocation referenced by v, or nil for immediates.
func (v Value) Cell() *Cell { return v.cell }

// Same reports identity: same kind and same payload or same heap cell.
func (v Value) Same(o Value) bool {
	return v.kind == o.kind && v.bits == o.bits && v.cell == o.cell
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// Copy returns v after taking one more reference to its heap cell.
func (v Value) Copy() Value {
	if v.cell != nil {
		v.cell.retain()
	}
	return v
}

// Free drops one reference. The cell is destroyed when the count reaches zero.
func (v Value) Free() {
	if v.cell != nil {
		v.cell.release()
	}
}

func freeValues(vals []Value) {
	for i := range vals {
		vals[i].Free()
		vals[i] = Undefined
	}
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

// StrictEquals implements the IsStrictlyEqual comparison.
func StrictEquals(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		if a.kind == KindInt && b.kind == KindInt {
			return a.bits == b.bits
		}
		return a.Number() == b.Number()
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindBool:
		return a.bits == b.bits
	case KindString:
		return a.cell == b.cell || a.cell.str == b.cell.str
	case KindBigInt:
		return a.cell == b.cell || a.cell.big.Cmp(b.cell.big) == 0
	default:
		return a.cell == b.cell
	}
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// String formats v for diagnostics. It never calls into script code.
func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindInt:
		return strconv.FormatInt(v.Int(), 10)
	case KindFloat:
		return FormatNumber(v.Number())
	case KindEmpty:
		if v.isSpreadMarker() {
			return "<spread>"
		}
		return "<empty>"
	case KindString:
		return strconv.Quote(v.cell.str)
	case KindSymbol:
		return "Symbol(" + v.cell.str + ")"
	case KindBigInt:
		return v.cell.big.String() + "n"
	case KindObject:
		return fmt.Sprintf("<%s object>", v.cell.obj.Class)
	case KindException:
		prefix := "exception"
		if v.IsAbort() {
			prefix = "abort"
		}
		return prefix + ": " + v.cell.exc.payload.String()
	}
	return "<invalid>"
}

// FormatNumber renders a float the way Number.prototype.toString does for
// the common cases (integers, NaN, infinities, shortest round trip).
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
