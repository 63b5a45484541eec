package realm

import (
	"math"
	"math/big"
	"strings"

	"github.com/chazu/ecmavm/vm"
)

// ---------------------------------------------------------------------------
// Binary operators
// ---------------------------------------------------------------------------

// BinaryOp implements vm.Operators.
func (r *Realm) BinaryOp(op vm.Operator, left, right vm.Value) vm.Value {
	switch op {
	case vm.OperatorAdd:
		return r.add(left, right)
	case vm.OperatorEqual, vm.OperatorNotEqual:
		eq, exc := r.LooseEquals(left, right)
		if exc.IsException() {
			return exc
		}
		return vm.FromBool(eq == (op == vm.OperatorEqual))
	case vm.OperatorStrictEqual:
		return vm.FromBool(vm.StrictEquals(left, right))
	case vm.OperatorStrictNotEqual:
		return vm.FromBool(!vm.StrictEquals(left, right))
	case vm.OperatorLess:
		return r.compare(left, right, false, false)
	case vm.OperatorGreater:
		return r.compare(right, left, true, false)
	case vm.OperatorLessEqual:
		return r.compare(right, left, true, true)
	case vm.OperatorGreaterEqual:
		return r.compare(left, right, false, true)
	case vm.OperatorIn:
		if !right.IsObject() {
			return r.throw(vm.TypeError, "Cannot use 'in' operator to search for '"+r.display(left)+"' in "+r.display(right))
		}
		return r.HasProperty(right, left)
	case vm.OperatorInstanceof:
		return r.instanceOf(left, right)
	}

	ln := r.toNumeric(left)
	if ln.IsException() {
		return ln
	}
	rn := r.toNumeric(right)
	if rn.IsException() {
		ln.Free()
		return rn
	}
	defer ln.Free()
	defer rn.Free()
	if ln.IsBigInt() || rn.IsBigInt() {
		if !ln.IsBigInt() || !rn.IsBigInt() {
			return r.throw(vm.TypeError, "Cannot mix BigInt and other types, use explicit conversions")
		}
		return r.bigintOp(op, ln.BigInt(), rn.BigInt())
	}
	return vm.FromFloat(numberOp(op, ln.Number(), rn.Number()))
}

func numberOp(op vm.Operator, a, b float64) float64 {
	switch op {
	case vm.OperatorSub:
		return a - b
	case vm.OperatorMul:
		return a * b
	case vm.OperatorDiv:
		return a / b
	case vm.OperatorMod:
		return math.Mod(a, b)
	case vm.OperatorExp:
		if math.IsNaN(b) || (math.Abs(a) == 1 && math.IsInf(b, 0)) {
			return math.NaN()
		}
		return math.Pow(a, b)
	case vm.OperatorBitOr:
		return float64(ToInt32(a) | ToInt32(b))
	case vm.OperatorBitXor:
		return float64(ToInt32(a) ^ ToInt32(b))
	case vm.OperatorBitAnd:
		return float64(ToInt32(a) & ToInt32(b))
	case vm.OperatorShl:
		return float64(ToInt32(a) << (ToUint32(b) & 31))
	case vm.OperatorShr:
		return float64(ToInt32(a) >> (ToUint32(b) & 31))
	case vm.OperatorUShr:
		return float64(ToUint32(a) >> (ToUint32(b) & 31))
	}
	return math.NaN()
}

func (r *Realm) bigintOp(op vm.Operator, a, b *big.Int) vm.Value {
	z := new(big.Int)
	switch op {
	case vm.OperatorSub:
		z.Sub(a, b)
	case vm.OperatorMul:
		z.Mul(a, b)
	case vm.OperatorDiv, vm.OperatorMod:
		if b.Sign() == 0 {
			return r.throw(vm.RangeError, "Division by zero")
		}
		if op == vm.OperatorDiv {
			z.Quo(a, b)
		} else {
			z.Rem(a, b)
		}
	case vm.OperatorExp:
		if b.Sign() < 0 {
			return r.throw(vm.RangeError, "Exponent must be non-negative")
		}
		z.Exp(a, b, nil)
	case vm.OperatorBitOr:
		z.Or(a, b)
	case vm.OperatorBitXor:
		z.Xor(a, b)
	case vm.OperatorBitAnd:
		z.And(a, b)
	case vm.OperatorShl, vm.OperatorShr:
		if !b.IsInt64() {
			return r.throw(vm.RangeError, "Maximum BigInt size exceeded")
		}
		n := b.Int64()
		if op == vm.OperatorShr {
			n = -n
		}
		if n >= 0 {
			z.Lsh(a, uint(n))
		} else {
			z.Rsh(a, uint(-n))
		}
	case vm.OperatorUShr:
		return r.throw(vm.TypeError, "BigInts have no unsigned right shift, use >> instead")
	}
	return r.heap.NewBigInt(z)
}

// add implements the + operator.
func (r *Realm) add(left, right vm.Value) vm.Value {
	if left.IsString() && right.IsString() {
		return r.str(left.Str() + right.Str())
	}
	lp := r.ToPrimitive(left, hintDefault)
	if lp.IsException() {
		return lp
	}
	defer lp.Free()
	rp := r.ToPrimitive(right, hintDefault)
	if rp.IsException() {
		return rp
	}
	defer rp.Free()
	if lp.IsString() || rp.IsString() {
		ls, exc := r.ToString(lp)
		if exc.IsException() {
			return exc
		}
		rs, exc := r.ToString(rp)
		if exc.IsException() {
			return exc
		}
		return r.str(ls + rs)
	}
	ln := r.toNumeric(lp)
	if ln.IsException() {
		return ln
	}
	defer ln.Free()
	rn := r.toNumeric(rp)
	if rn.IsException() {
		return rn
	}
	defer rn.Free()
	if ln.IsBigInt() || rn.IsBigInt() {
		if !ln.IsBigInt() || !rn.IsBigInt() {
			return r.throw(vm.TypeError, "Cannot mix BigInt and other types, use explicit conversions")
		}
		return r.heap.NewBigInt(new(big.Int).Add(ln.BigInt(), rn.BigInt()))
	}
	return vm.FromFloat(ln.Number() + rn.Number())
}

// compare implements the relational operators. It evaluates a < b; swap
// flips the conversion order back to source order and orEqual turns the
// result into the negated comparison (a >= b is !(a < b)).
func (r *Realm) compare(a, b vm.Value, swap, orEqual bool) vm.Value {
	first, second := a, b
	if swap {
		first, second = b, a
	}
	fp := r.ToPrimitive(first, hintNumber)
	if fp.IsException() {
		return fp
	}
	defer fp.Free()
	sp := r.ToPrimitive(second, hintNumber)
	if sp.IsException() {
		return sp
	}
	defer sp.Free()
	ap, bp := fp, sp
	if swap {
		ap, bp = sp, fp
	}

	var less, undefined bool
	switch {
	case ap.IsString() && bp.IsString():
		less = strings.Compare(ap.Str(), bp.Str()) < 0
	case ap.IsBigInt() || bp.IsBigInt():
		c, ok := r.mixedCompare(ap, bp)
		if !ok {
			undefined = true
		}
		less = c < 0
	default:
		x, exc := r.ToNumber(ap)
		if exc.IsException() {
			return exc
		}
		y, exc := r.ToNumber(bp)
		if exc.IsException() {
			return exc
		}
		if math.IsNaN(x) || math.IsNaN(y) {
			undefined = true
		}
		less = x < y
	}
	if undefined {
		return vm.False
	}
	if orEqual {
		return vm.FromBool(!less)
	}
	return vm.FromBool(less)
}

// mixedCompare compares a bigint with a bigint, number or numeric string.
func (r *Realm) mixedCompare(a, b vm.Value) (int, bool) {
	af, aok := bigFloat(a)
	bf, bok := bigFloat(b)
	if !aok || !bok {
		return 0, false
	}
	return af.Cmp(bf), true
}

func bigFloat(v vm.Value) (*big.Float, bool) {
	switch {
	case v.IsBigInt():
		return new(big.Float).SetInt(v.BigInt()), true
	case v.IsNumber():
		f := v.Number()
		if math.IsNaN(f) {
			return nil, false
		}
		return big.NewFloat(f), true
	case v.IsString():
		if b, ok := new(big.Int).SetString(strings.TrimSpace(v.Str()), 10); ok {
			return new(big.Float).SetInt(b), true
		}
		f := StringToNumber(v.Str())
		if math.IsNaN(f) {
			return nil, false
		}
		return big.NewFloat(f), true
	case v.IsBool():
		if v.Bool() {
			return big.NewFloat(1), true
		}
		return big.NewFloat(0), true
	}
	return nil, false
}

// LooseEquals implements the == comparison.
func (r *Realm) LooseEquals(a, b vm.Value) (bool, vm.Value) {
	switch {
	case a.Kind() == b.Kind() || (a.IsNumber() && b.IsNumber()):
		return vm.StrictEquals(a, b), vm.Undefined
	case a.IsNullish() && b.IsNullish():
		return true, vm.Undefined
	case a.IsNullish() || b.IsNullish():
		return false, vm.Undefined
	case a.IsNumber() && b.IsString():
		return a.Number() == StringToNumber(b.Str()), vm.Undefined
	case a.IsString() && b.IsNumber():
		return StringToNumber(a.Str()) == b.Number(), vm.Undefined
	case a.IsBigInt() || b.IsBigInt():
		if a.IsObject() || b.IsObject() {
			break
		}
		c, ok := r.mixedCompare(a, b)
		return ok && c == 0, vm.Undefined
	case a.IsBool():
		return r.LooseEquals(vm.FromFloat(boolNumber(a)), b)
	case b.IsBool():
		return r.LooseEquals(a, vm.FromFloat(boolNumber(b)))
	}
	if a.IsObject() != b.IsObject() {
		obj, prim := a, b
		if b.IsObject() {
			obj, prim = b, a
		}
		if prim.IsObject() {
			return false, vm.Undefined
		}
		p := r.ToPrimitive(obj, hintDefault)
		if p.IsException() {
			return false, p
		}
		defer p.Free()
		return r.LooseEquals(p, prim)
	}
	return false, vm.Undefined
}

func boolNumber(v vm.Value) float64 {
	if v.Bool() {
		return 1
	}
	return 0
}

// instanceOf implements OrdinaryHasInstance.
func (r *Realm) instanceOf(v, ctor vm.Value) vm.Value {
	if !ctor.IsObject() {
		return r.throw(vm.TypeError, "Right-hand side of 'instanceof' is not an object")
	}
	if !vm.IsCallable(ctor) {
		return r.throw(vm.TypeError, "Right-hand side of 'instanceof' is not callable")
	}
	if !v.IsObject() {
		return vm.False
	}
	proto := r.get(ctor, vm.StringKey("prototype"))
	if proto.IsException() {
		return proto
	}
	defer proto.Free()
	if !proto.IsObject() {
		return r.throw(vm.TypeError, "Function has non-object prototype '"+proto.String()+"' in instanceof check")
	}
	for p := v.Object().Proto(); p.IsObject(); p = p.Object().Proto() {
		if p.Same(proto) {
			return vm.True
		}
	}
	return vm.False
}

// ---------------------------------------------------------------------------
// Unary operators
// ---------------------------------------------------------------------------

// UnaryOp implements vm.Operators.
func (r *Realm) UnaryOp(op vm.Operator, v vm.Value) vm.Value {
	if op == vm.OperatorPlus {
		n, exc := r.ToNumber(v)
		if exc.IsException() {
			return exc
		}
		return vm.FromFloat(n)
	}
	num := r.toNumeric(v)
	if num.IsException() {
		return num
	}
	defer num.Free()
	if b := num.BigInt(); b != nil {
		z := new(big.Int)
		switch op {
		case vm.OperatorNegate:
			z.Neg(b)
		case vm.OperatorBitNot:
			z.Not(b)
		case vm.OperatorIncrement:
			z.Add(b, big.NewInt(1))
		case vm.OperatorDecrement:
			z.Sub(b, big.NewInt(1))
		}
		return r.heap.NewBigInt(z)
	}
	f := num.Number()
	switch op {
	case vm.OperatorNegate:
		return vm.FromFloat(-f)
	case vm.OperatorBitNot:
		return vm.FromFloat(float64(^ToInt32(f)))
	case vm.OperatorIncrement:
		return vm.FromFloat(f + 1)
	case vm.OperatorDecrement:
		return vm.FromFloat(f - 1)
	}
	return r.throw(vm.TypeError, "unsupported operator "+op.String())
}
