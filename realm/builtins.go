package realm

import (
	"fmt"
	"math"
	"strings"

	"github.com/chazu/ecmavm/vm"
)

// ---------------------------------------------------------------------------
// Intrinsics bootstrap
// ---------------------------------------------------------------------------

func (r *Realm) buildIntrinsics() {
	h := r.heap
	r.objectProto, _ = h.NewObject(vm.Null, vm.ClassObject)
	plain := func(proto vm.Value) vm.Value {
		v, _ := h.NewObject(proto, vm.ClassObject)
		return v
	}
	r.functionProto = plain(r.objectProto)
	r.arrayProto = plain(r.objectProto)
	r.stringProto = plain(r.objectProto)
	r.numberProto = plain(r.objectProto)
	r.booleanProto = plain(r.objectProto)
	r.symbolProto = plain(r.objectProto)
	r.bigintProto = plain(r.objectProto)
	r.iteratorProto = plain(r.objectProto)
	r.arrayIteratorProto = plain(r.iteratorProto)
	r.generatorProto = plain(r.iteratorProto)
	r.promiseProto = plain(r.objectProto)
	r.regexpProto = plain(r.objectProto)
	r.errorProtos[vm.ErrorCommon] = plain(r.objectProto)
	for k := vm.TypeError; k <= vm.URIError; k++ {
		r.errorProtos[k] = plain(r.errorProtos[vm.ErrorCommon])
	}
	r.symIterator = h.NewSymbol("Symbol.iterator")
	r.symAsyncIterator = h.NewSymbol("Symbol.asyncIterator")
	r.global = plain(r.objectProto)

	r.registerGlobalPrimitives()
	r.registerObjectPrimitives()
	r.registerFunctionPrimitives()
	r.registerErrorPrimitives()
	r.registerArrayPrimitives()
	r.registerStringPrimitives()
	r.registerNumberPrimitives()
	r.registerSymbolPrimitives()
	r.registerIteratorPrimitives()
	r.registerGeneratorPrimitives()
	r.registerRegExpPrimitives()
	r.registerMathPrimitives()

	promise := r.constructor("Promise", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.throw(vm.TypeError, "Promise constructor cannot be invoked without 'new'")
	}, r.promiseConstruct, r.promiseProto)
	r.registerPromisePrimitives(promise)
}

// constructor defines a global constructor named name whose prototype
// property is proto, and returns it (borrowed from the global object).
func (r *Realm) constructor(name string, call vm.NativeFunc, construct vm.NativeConstructor, proto vm.Value) vm.Value {
	f := r.engine.NewNative(name, call, construct)
	f.Object().SetOwn(vm.StringKey("prototype"), proto.Copy(), 0)
	proto.Object().SetOwn(vm.StringKey("constructor"), f.Copy(), vm.MethodFlags)
	r.global.Object().SetOwn(vm.StringKey(name), f, vm.MethodFlags)
	return f
}

// ---------------------------------------------------------------------------
// Global object
// ---------------------------------------------------------------------------

func (r *Realm) registerGlobalPrimitives() {
	g := r.global
	data(g, "globalThis", g.Copy(), vm.MethodFlags)
	data(g, "undefined", vm.Undefined, 0)
	data(g, "NaN", vm.FromFloat(math.NaN()), 0)
	data(g, "Infinity", vm.FromFloat(math.Inf(1)), 0)

	// print - write arguments separated by spaces
	r.method(g, "print", r.print)

	console := r.plainObject()
	data(g, "console", console, vm.MethodFlags)
	// console.log - alias of print
	r.method(console, "log", r.print)
	// console.error - alias of print
	r.method(console, "error", r.print)

	// eval - compile and run source through the configured compiler
	r.method(g, "eval", r.eval)

	// isNaN - ToNumber then NaN test
	r.method(g, "isNaN", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		n, exc := r.ToNumber(arg(args, 0))
		if exc.IsException() {
			return exc
		}
		return vm.FromBool(math.IsNaN(n))
	})

	// parseFloat - parse the longest numeric prefix
	r.method(g, "parseFloat", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		s, exc := r.ToString(arg(args, 0))
		if exc.IsException() {
			return exc
		}
		return vm.FromFloat(parseFloatPrefix(strings.TrimSpace(s)))
	})

	// parseInt - parse an integer in the given radix
	r.method(g, "parseInt", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		s, exc := r.ToString(arg(args, 0))
		if exc.IsException() {
			return exc
		}
		radix := 0
		if rv := arg(args, 1); !rv.IsUndefined() {
			n, exc := r.ToNumber(rv)
			if exc.IsException() {
				return exc
			}
			radix = int(ToInt32(n))
		}
		return vm.FromFloat(parseIntPrefix(strings.TrimSpace(s), radix))
	})
}

func (r *Realm) plainObject() vm.Value {
	v, _ := r.newObject(r.objectProto, vm.ClassObject)
	return v
}

func (r *Realm) print(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
	parts := make([]string, len(args))
	for i, a := range args {
		s, exc := r.ToString(a)
		if exc.IsException() {
			return exc
		}
		parts[i] = s
	}
	fmt.Fprintln(r.opts.Output, strings.Join(parts, " "))
	return vm.Undefined
}

// eval implements the global eval function. A direct call runs the source in
// the caller's scope.
func (r *Realm) eval(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
	direct := e.DirectEvalPending()
	src := arg(args, 0)
	if !src.IsString() {
		return src.Copy()
	}
	if r.opts.Compile == nil {
		return r.throw(vm.EvalError, "eval is not supported by this host")
	}
	code, err := r.opts.Compile(src.Str(), false)
	if err != nil {
		return r.throw(vm.SyntaxError, err.Error())
	}
	return e.RunEval(code, vm.EvalOptions{Direct: direct})
}

func parseFloatPrefix(s string) float64 {
	if strings.HasPrefix(s, "Infinity") || strings.HasPrefix(s, "+Infinity") {
		return math.Inf(1)
	}
	if strings.HasPrefix(s, "-Infinity") {
		return math.Inf(-1)
	}
	end := 0
	seenDot, seenExp, seenDigit := false, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
			end = i + 1
		case (c == '+' || c == '-') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
		case (c == 'e' || c == 'E') && seenDigit && !seenExp:
			seenExp = true
		default:
			i = len(s)
		}
	}
	if !seenDigit {
		return math.NaN()
	}
	return StringToNumber(s[:end])
}

func parseIntPrefix(s string, radix int) float64 {
	sign := 1.0
	if s != "" && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}
	if radix == 0 || radix == 16 {
		if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
			s = s[2:]
			radix = 16
		}
	}
	if radix == 0 {
		radix = 10
	}
	if radix < 2 || radix > 36 {
		return math.NaN()
	}
	result, digits := 0.0, 0
	for _, c := range strings.ToLower(s) {
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'z':
			d = int(c-'a') + 10
		default:
			d = radix
		}
		if d >= radix {
			break
		}
		result = result*float64(radix) + float64(d)
		digits++
	}
	if digits == 0 {
		return math.NaN()
	}
	return sign * result
}

// ---------------------------------------------------------------------------
// Object and Function
// ---------------------------------------------------------------------------

func (r *Realm) registerObjectPrimitives() {
	ctor := r.constructor("Object", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if v := arg(args, 0); !v.IsNullish() {
			return r.ToObject(v)
		}
		return r.NewObject()
	}, func(e *vm.Engine, newTarget vm.Value, args []vm.Value) vm.Value {
		if v := arg(args, 0); !v.IsNullish() {
			return r.ToObject(v)
		}
		return r.NewObject()
	}, r.objectProto)

	// hasOwnProperty - own property test
	r.method(r.objectProto, "hasOwnProperty", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		k, exc := r.toKey(arg(args, 0))
		if exc.IsException() {
			return exc
		}
		o := r.ToObject(this)
		if o.IsException() {
			return o
		}
		defer o.Free()
		return vm.FromBool(r.hasOwn(o, k))
	})
	// toString - "[object Tag]"
	r.method(r.objectProto, "toString", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		switch {
		case this.IsUndefined():
			return r.str("[object Undefined]")
		case this.IsNull():
			return r.str("[object Null]")
		}
		tag := "Object"
		if o := this.Object(); o != nil {
			switch o.Class {
			case vm.ClassArray, vm.ClassFunction, vm.ClassError, vm.ClassArguments, vm.ClassRegExp:
				tag = o.Class.String()
			}
		}
		return r.str("[object " + tag + "]")
	})
	// valueOf - the receiver itself
	r.method(r.objectProto, "valueOf", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.ToObject(this)
	})

	// Object.keys - own enumerable string keys
	r.method(ctor, "keys", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		o := r.ToObject(arg(args, 0))
		if o.IsException() {
			return o
		}
		defer o.Free()
		var keys []vm.Value
		for _, k := range ownEnumerable(o.Object()) {
			keys = append(keys, k.Value(r.heap))
		}
		return r.newArrayOwned(keys)
	})
	// Object.values - own enumerable values
	r.method(ctor, "values", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.ownEntries(arg(args, 0), false)
	})
	// Object.entries - own enumerable [key, value] pairs
	r.method(ctor, "entries", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.ownEntries(arg(args, 0), true)
	})
	// Object.getPrototypeOf
	r.method(ctor, "getPrototypeOf", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		o := r.ToObject(arg(args, 0))
		if o.IsException() {
			return o
		}
		defer o.Free()
		return o.Object().Proto().Copy()
	})
	// Object.setPrototypeOf
	r.method(ctor, "setPrototypeOf", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		target, proto := arg(args, 0), arg(args, 1)
		if !proto.IsObject() && !proto.IsNull() {
			return r.throw(vm.TypeError, "Object prototype may only be an Object or null: "+r.display(proto))
		}
		if o := target.Object(); o != nil {
			for p := proto; p.IsObject(); p = p.Object().Proto() {
				if p.Same(target) {
					return r.throw(vm.TypeError, "Cyclic __proto__ value")
				}
			}
			o.SetProto(proto)
		}
		return target.Copy()
	})
	// Object.create - new object with the given prototype
	r.method(ctor, "create", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		proto := arg(args, 0)
		if !proto.IsObject() && !proto.IsNull() {
			return r.throw(vm.TypeError, "Object prototype may only be an Object or null: "+r.display(proto))
		}
		obj, _ := r.newObject(proto, vm.ClassObject)
		return obj
	})
	// Object.defineProperty - data and accessor descriptors
	r.method(ctor, "defineProperty", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		target, key, desc := arg(args, 0), arg(args, 1), arg(args, 2)
		if !target.IsObject() {
			return r.throw(vm.TypeError, "Object.defineProperty called on non-object")
		}
		if !desc.IsObject() {
			return r.throw(vm.TypeError, "Property description must be an object: "+r.display(desc))
		}
		if exc := r.defineFromDescriptor(target, key, desc); exc.IsException() {
			return exc
		}
		return target.Copy()
	})
	// Object.freeze - make every own property read-only
	r.method(ctor, "freeze", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		v := arg(args, 0)
		if o := v.Object(); o != nil {
			o.Extensible = false
			for _, k := range o.OwnKeys() {
				p, _ := o.GetOwn(k)
				p.Flags &^= vm.Configurable
				if p.Flags&vm.Accessor == 0 {
					p.Flags &^= vm.Writable
				}
			}
		}
		return v.Copy()
	})
	// Object.isFrozen
	r.method(ctor, "isFrozen", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		o := arg(args, 0).Object()
		if o == nil {
			return vm.True
		}
		if o.Extensible {
			return vm.False
		}
		for _, k := range o.OwnKeys() {
			p, _ := o.GetOwn(k)
			if p.Flags&(vm.Configurable|vm.Writable) != 0 {
				return vm.False
			}
		}
		return vm.True
	})
}

func (r *Realm) hasOwn(v vm.Value, k vm.PropertyKey) bool {
	o := v.Object()
	if a := arrayOf(o); a != nil {
		if i, ok := arrayIndex(k); ok {
			return i < len(a.Elems) && !a.Elems[i].IsEmpty()
		}
		if k == vm.StringKey("length") {
			return true
		}
	}
	if _, ok := o.GetOwn(k); ok {
		return true
	}
	if vm.FunctionOf(v) != nil && k == vm.StringKey("prototype") {
		if p, ok := r.lazyOwn(v, k); ok {
			p.Free()
			return true
		}
	}
	return false
}

func (r *Realm) ownEntries(v vm.Value, pairs bool) vm.Value {
	o := r.ToObject(v)
	if o.IsException() {
		return o
	}
	defer o.Free()
	var out []vm.Value
	for _, k := range ownEnumerable(o.Object()) {
		val := r.get(o, k)
		if val.IsException() {
			for _, x := range out {
				x.Free()
			}
			return val
		}
		if pairs {
			val = r.newArrayOwned([]vm.Value{k.Value(r.heap), val})
		}
		out = append(out, val)
	}
	return r.newArrayOwned(out)
}

// defineFromDescriptor applies a property descriptor object to target.
func (r *Realm) defineFromDescriptor(target, key, desc vm.Value) vm.Value {
	k, exc := r.toKey(key)
	if exc.IsException() {
		return exc
	}
	var flags vm.PropertyFlags
	for _, f := range []struct {
		name string
		flag vm.PropertyFlags
	}{{"writable", vm.Writable}, {"enumerable", vm.Enumerable}, {"configurable", vm.Configurable}} {
		v := r.get(desc, vm.StringKey(f.name))
		if v.IsException() {
			return v
		}
		if r.ToBoolean(v) {
			flags |= f.flag
		}
		v.Free()
	}
	get := r.get(desc, vm.StringKey("get"))
	if get.IsException() {
		return get
	}
	set := r.get(desc, vm.StringKey("set"))
	if set.IsException() {
		get.Free()
		return set
	}
	if !get.IsUndefined() || !set.IsUndefined() {
		if (!get.IsUndefined() && !vm.IsCallable(get)) || (!set.IsUndefined() && !vm.IsCallable(set)) {
			get.Free()
			set.Free()
			return r.throw(vm.TypeError, "Getter and setter must be functions")
		}
		target.Object().SetAccessor(k, get, set, flags&^vm.Writable)
		return vm.Undefined
	}
	value := r.get(desc, vm.StringKey("value"))
	if value.IsException() {
		return value
	}
	defer value.Free()
	kv := k.Value(r.heap)
	defer kv.Free()
	return r.DefineProperty(target, kv, value, flags)
}

func (r *Realm) registerFunctionPrimitives() {
	// call - invoke with an explicit receiver
	r.method(r.functionProto, "call", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		var rest []vm.Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return e.Call(this, arg(args, 0), rest)
	})
	// apply - invoke with an array-like of arguments
	r.method(r.functionProto, "apply", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		list := arg(args, 1)
		if list.IsNullish() {
			return e.Call(this, arg(args, 0), nil)
		}
		items, exc := r.listFromArrayLike(list)
		if exc.IsException() {
			return exc
		}
		res := e.Call(this, arg(args, 0), items)
		for _, v := range items {
			v.Free()
		}
		return res
	})
	// toString - source text is not retained
	r.method(r.functionProto, "toString", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		fn := vm.FunctionOf(this)
		if fn == nil {
			return r.throw(vm.TypeError, "Function.prototype.toString requires that 'this' be a Function")
		}
		return r.str("function " + fn.Name + "() { [native code] }")
	})
}

// listFromArrayLike copies the elements of an array-like into an owned slice.
func (r *Realm) listFromArrayLike(v vm.Value) ([]vm.Value, vm.Value) {
	if !v.IsObject() {
		return nil, r.throw(vm.TypeError, "CreateListFromArrayLike called on non-object")
	}
	n, exc := r.lengthOf(v)
	if exc.IsException() {
		return nil, exc
	}
	out := make([]vm.Value, 0, n)
	for i := 0; i < n; i++ {
		x := r.get(v, indexKey(i))
		if x.IsException() {
			for _, y := range out {
				y.Free()
			}
			return nil, x
		}
		out = append(out, x)
	}
	return out, vm.Undefined
}

// ---------------------------------------------------------------------------
// Errors, iterators, Math
// ---------------------------------------------------------------------------

func (r *Realm) registerErrorPrimitives() {
	var base vm.Value
	for k := vm.ErrorCommon; k <= vm.URIError; k++ {
		proto := r.errorProtos[k]
		data(proto, "name", r.str(k.String()), vm.MethodFlags)
		data(proto, "message", r.str(""), vm.MethodFlags)
		call, construct := r.errorConstructor(k)
		ctor := r.constructor(k.String(), call, construct, proto)
		if k == vm.ErrorCommon {
			base = ctor
		} else {
			ctor.Object().SetProto(base)
		}
	}
	// toString - "name: message"
	r.method(r.errorProtos[vm.ErrorCommon], "toString", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if !this.IsObject() {
			return r.throw(vm.TypeError, "Error.prototype.toString called on non-object")
		}
		return r.str(vm.ErrorMessage(this))
	})
}

func (r *Realm) registerIteratorPrimitives() {
	// [Symbol.iterator] - iterators are iterable
	r.symbolMethod(r.iteratorProto, r.symIterator, "[Symbol.iterator]", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return this.Copy()
	})
	// next - advance an array or string iterator
	r.method(r.arrayIteratorProto, "next", r.listIteratorNext)
}

func (r *Realm) registerMathPrimitives() {
	m := r.plainObject()
	data(r.global, "Math", m, vm.MethodFlags)
	data(m, "PI", vm.FromFloat(math.Pi), 0)
	data(m, "E", vm.FromFloat(math.E), 0)

	unary := func(name string, fn func(float64) float64) {
		r.method(m, name, func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
			n, exc := r.ToNumber(arg(args, 0))
			if exc.IsException() {
				return exc
			}
			return vm.FromFloat(fn(n))
		})
	}
	unary("abs", math.Abs)
	unary("floor", math.Floor)
	unary("ceil", math.Ceil)
	unary("trunc", math.Trunc)
	unary("sqrt", math.Sqrt)
	unary("round", func(f float64) float64 { return math.Floor(f + 0.5) })
	unary("sign", func(f float64) float64 {
		switch {
		case f > 0:
			return 1
		case f < 0:
			return -1
		}
		return f
	})

	extreme := func(name string, start float64, better func(a, b float64) bool) {
		r.method(m, name, func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
			best := start
			for _, a := range args {
				n, exc := r.ToNumber(a)
				if exc.IsException() {
					return exc
				}
				if math.IsNaN(n) {
					best = n
				} else if !math.IsNaN(best) && better(n, best) {
					best = n
				}
			}
			return vm.FromFloat(best)
		})
	}
	extreme("max", math.Inf(-1), func(a, b float64) bool { return a > b })
	extreme("min", math.Inf(1), func(a, b float64) bool { return a < b })

	// pow - exponentiation
	r.method(m, "pow", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.BinaryOp(vm.OperatorExp, arg(args, 0), arg(args, 1))
	})
}
