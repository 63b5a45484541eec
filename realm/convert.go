package realm

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/chazu/ecmavm/vm"
)

// ---------------------------------------------------------------------------
// Type conversion
// ---------------------------------------------------------------------------

type hint uint8

const (
	hintDefault hint = iota
	hintNumber
	hintString
)

// ToPrimitive converts v to a primitive, calling valueOf and toString on
// objects. The result is owned.
func (r *Realm) ToPrimitive(v vm.Value, h hint) vm.Value {
	if !v.IsObject() {
		return v.Copy()
	}
	order := [2]string{"valueOf", "toString"}
	if h == hintString {
		order = [2]string{"toString", "valueOf"}
	}
	for _, name := range order {
		m := r.get(v, vm.StringKey(name))
		if m.IsException() {
			return m
		}
		if !vm.IsCallable(m) {
			m.Free()
			continue
		}
		res := r.engine.Call(m, v, nil)
		m.Free()
		if res.IsException() || !res.IsObject() {
			return res
		}
		res.Free()
	}
	return r.throw(vm.TypeError, "Cannot convert object to primitive value")
}

// ToString implements the ToString abstract operation.
func (r *Realm) ToString(v vm.Value) (string, vm.Value) {
	switch v.Kind() {
	case vm.KindUndefined:
		return "undefined", vm.Undefined
	case vm.KindNull:
		return "null", vm.Undefined
	case vm.KindBool:
		return strconv.FormatBool(v.Bool()), vm.Undefined
	case vm.KindInt:
		return strconv.FormatInt(v.Int(), 10), vm.Undefined
	case vm.KindFloat:
		return vm.FormatNumber(v.Number()), vm.Undefined
	case vm.KindString:
		return v.Str(), vm.Undefined
	case vm.KindSymbol:
		return "", r.throw(vm.TypeError, "Cannot convert a Symbol value to a string")
	case vm.KindBigInt:
		return v.BigInt().String(), vm.Undefined
	case vm.KindObject:
		p := r.ToPrimitive(v, hintString)
		if p.IsException() {
			return "", p
		}
		defer p.Free()
		return r.ToString(p)
	}
	return "", r.throw(vm.TypeError, "Cannot convert "+v.String()+" to a string")
}

// toStringValue is ToString returning an owned string value or exception.
func (r *Realm) toStringValue(v vm.Value) vm.Value {
	if v.IsString() {
		return v.Copy()
	}
	s, exc := r.ToString(v)
	if exc.IsException() {
		return exc
	}
	return r.str(s)
}

// ToNumber implements the ToNumber abstract operation.
func (r *Realm) ToNumber(v vm.Value) (float64, vm.Value) {
	switch v.Kind() {
	case vm.KindUndefined:
		return math.NaN(), vm.Undefined
	case vm.KindNull:
		return 0, vm.Undefined
	case vm.KindBool:
		if v.Bool() {
			return 1, vm.Undefined
		}
		return 0, vm.Undefined
	case vm.KindInt, vm.KindFloat:
		return v.Number(), vm.Undefined
	case vm.KindString:
		return StringToNumber(v.Str()), vm.Undefined
	case vm.KindSymbol:
		return 0, r.throw(vm.TypeError, "Cannot convert a Symbol value to a number")
	case vm.KindBigInt:
		return 0, r.throw(vm.TypeError, "Cannot convert a BigInt value to a number")
	case vm.KindObject:
		p := r.ToPrimitive(v, hintNumber)
		if p.IsException() {
			return 0, p
		}
		defer p.Free()
		return r.ToNumber(p)
	}
	return math.NaN(), vm.Undefined
}

// toNumeric converts v to a number or bigint value. The result is owned.
func (r *Realm) toNumeric(v vm.Value) vm.Value {
	if v.IsNumber() || v.IsBigInt() {
		return v.Copy()
	}
	p := r.ToPrimitive(v, hintNumber)
	if p.IsException() || p.IsBigInt() {
		return p
	}
	n, exc := r.ToNumber(p)
	p.Free()
	if exc.IsException() {
		return exc
	}
	return vm.FromFloat(n)
}

// StringToNumber parses a numeric string literal. Unparseable input is NaN.
func StringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			b, ok := new(big.Int).SetString(s[2:], base)
			if !ok {
				return math.NaN()
			}
			f, _ := new(big.Float).SetInt(b).Float64()
			return f
		}
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789.eE+-", c) {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

// ToInt32 implements the ToInt32 abstract operation on a number.
func ToInt32(f float64) int32 {
	return int32(ToUint32(f))
}

// ToUint32 implements the ToUint32 abstract operation on a number.
func ToUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Mod(math.Trunc(f), 1<<32)
	if f < 0 {
		f += 1 << 32
	}
	return uint32(f)
}

// ---------------------------------------------------------------------------
// Operators hooks: ToBoolean, ToObject, TypeOf
// ---------------------------------------------------------------------------

// ToBoolean implements vm.Operators.
func (r *Realm) ToBoolean(v vm.Value) bool {
	switch v.Kind() {
	case vm.KindUndefined, vm.KindNull:
		return false
	case vm.KindBool:
		return v.Bool()
	case vm.KindInt:
		return v.Int() != 0
	case vm.KindFloat:
		f := v.Number()
		return f != 0 && !math.IsNaN(f)
	case vm.KindString:
		return v.Str() != ""
	case vm.KindBigInt:
		return v.BigInt().Sign() != 0
	}
	return true
}

// ToObject implements vm.Operators.
func (r *Realm) ToObject(v vm.Value) vm.Value {
	switch {
	case v.IsObject():
		return v.Copy()
	case v.IsNullish():
		return r.throw(vm.TypeError, "Cannot convert undefined or null to object")
	}
	obj, o := r.newObject(r.protoFor(v), vm.ClassBoxed)
	o.Internal = &Boxed{Value: v.Copy()}
	return obj
}

// TypeOfString returns the typeof tag of v.
func (r *Realm) TypeOfString(v vm.Value) string {
	switch v.Kind() {
	case vm.KindUndefined:
		return "undefined"
	case vm.KindNull:
		return "object"
	case vm.KindBool:
		return "boolean"
	case vm.KindInt, vm.KindFloat:
		return "number"
	case vm.KindString:
		return "string"
	case vm.KindSymbol:
		return "symbol"
	case vm.KindBigInt:
		return "bigint"
	}
	if vm.IsCallable(v) {
		return "function"
	}
	return "object"
}

// TypeOf implements vm.Operators.
func (r *Realm) TypeOf(v vm.Value) vm.Value {
	return r.str(r.TypeOfString(v))
}

// display renders v for error messages without calling script code.
func (r *Realm) display(v vm.Value) string {
	switch v.Kind() {
	case vm.KindString:
		return v.Str()
	case vm.KindObject:
		if fn := vm.FunctionOf(v); fn != nil {
			return "function " + fn.Name
		}
		if arrayOf(v.Object()) != nil {
			return "[object Array]"
		}
		return "[object Object]"
	}
	return v.String()
}

// unbox returns the primitive inside a wrapper object, or v itself.
func unbox(v vm.Value) vm.Value {
	if o := v.Object(); o != nil {
		if b, ok := o.Internal.(*Boxed); ok {
			return b.Value
		}
	}
	return v
}
