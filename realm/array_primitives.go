package realm

import (
	"strings"

	"github.com/chazu/ecmavm/vm"
)

// thisArray returns the element storage of an array receiver.
func (r *Realm) thisArray(this vm.Value, method string) (*Array, vm.Value) {
	if a := arrayOf(this.Object()); a != nil {
		return a, vm.Undefined
	}
	return nil, r.throw(vm.TypeError, "Array.prototype."+method+" called on non-array "+r.display(this))
}

// callbackArg returns args[0] when it is callable.
func (r *Realm) callbackArg(args []vm.Value) (vm.Value, vm.Value) {
	fn := arg(args, 0)
	if !vm.IsCallable(fn) {
		return vm.Undefined, r.throw(vm.TypeError, r.display(fn)+" is not a function")
	}
	return fn, vm.Undefined
}

// element returns an owned copy of a[i], treating holes as undefined.
func element(a *Array, i int) vm.Value {
	if i >= len(a.Elems) || a.Elems[i].IsEmpty() {
		return vm.Undefined
	}
	return a.Elems[i].Copy()
}

// relativeIndex clamps a relative index argument to [0, length].
func (r *Realm) relativeIndex(v vm.Value, length, def int) (int, vm.Value) {
	if v.IsUndefined() {
		return def, vm.Undefined
	}
	n, exc := r.ToNumber(v)
	if exc.IsException() {
		return 0, exc
	}
	if n != n {
		return 0, vm.Undefined
	}
	i := int(n)
	if n < 0 {
		i = length + int(n)
		if i < 0 {
			i = 0
		}
	}
	if i > length {
		i = length
	}
	return i, vm.Undefined
}

// eachElement calls fn(element, index, array) for every element and passes
// the owned result to visit. visit returns false to stop.
func (r *Realm) eachElement(e *vm.Engine, this vm.Value, a *Array, fn, thisArg vm.Value, visit func(i int, elem, res vm.Value) bool) vm.Value {
	for i := 0; i < len(a.Elems); i++ {
		elem := element(a, i)
		res := e.Call(fn, thisArg, []vm.Value{elem, vm.FromInt(int64(i)), this})
		if res.IsException() {
			elem.Free()
			return res
		}
		more := visit(i, elem, res)
		elem.Free()
		if !more {
			break
		}
	}
	return vm.Undefined
}

func (r *Realm) registerArrayPrimitives() {
	ctor := r.constructor("Array", r.arrayConstruct, func(e *vm.Engine, newTarget vm.Value, args []vm.Value) vm.Value {
		return r.arrayConstruct(e, vm.Undefined, args)
	}, r.arrayProto)

	// Array.isArray
	r.method(ctor, "isArray", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		o := arg(args, 0).Object()
		return vm.FromBool(o != nil && o.Class == vm.ClassArray)
	})
	// Array.of - array of the arguments
	r.method(ctor, "of", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.NewArray(args)
	})
	// Array.from - collect an iterable or array-like
	r.method(ctor, "from", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		src := arg(args, 0)
		items, exc := r.collect(src)
		if exc.IsException() {
			return exc
		}
		if mapFn := arg(args, 1); vm.IsCallable(mapFn) {
			for i, v := range items {
				m := e.Call(mapFn, vm.Undefined, []vm.Value{v, vm.FromInt(int64(i))})
				v.Free()
				if m.IsException() {
					for _, rest := range items[i+1:] {
						rest.Free()
					}
					for _, done := range items[:i] {
						done.Free()
					}
					return m
				}
				items[i] = m
			}
		}
		return r.newArrayOwned(items)
	})

	proto := r.arrayProto

	// push - append elements, returning the new length
	r.method(proto, "push", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "push")
		if exc.IsException() {
			return exc
		}
		for _, v := range args {
			a.Elems = append(a.Elems, v.Copy())
		}
		return vm.FromInt(int64(len(a.Elems)))
	})
	// pop - remove and return the last element
	r.method(proto, "pop", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "pop")
		if exc.IsException() {
			return exc
		}
		if len(a.Elems) == 0 {
			return vm.Undefined
		}
		last := a.Elems[len(a.Elems)-1]
		a.Elems = a.Elems[:len(a.Elems)-1]
		if last.IsEmpty() {
			return vm.Undefined
		}
		return last
	})
	// shift - remove and return the first element
	r.method(proto, "shift", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "shift")
		if exc.IsException() {
			return exc
		}
		if len(a.Elems) == 0 {
			return vm.Undefined
		}
		first := a.Elems[0]
		a.Elems = append(a.Elems[:0], a.Elems[1:]...)
		if first.IsEmpty() {
			return vm.Undefined
		}
		return first
	})
	// unshift - prepend elements, returning the new length
	r.method(proto, "unshift", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "unshift")
		if exc.IsException() {
			return exc
		}
		elems := make([]vm.Value, 0, len(args)+len(a.Elems))
		for _, v := range args {
			elems = append(elems, v.Copy())
		}
		a.Elems = append(elems, a.Elems...)
		return vm.FromInt(int64(len(a.Elems)))
	})
	// join - concatenate string forms with a separator
	r.method(proto, "join", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		sep := ","
		if s := arg(args, 0); !s.IsUndefined() {
			str, exc := r.ToString(s)
			if exc.IsException() {
				return exc
			}
			sep = str
		}
		return r.join(this, sep)
	})
	// toString - join with commas
	r.method(proto, "toString", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.join(this, ",")
	})
	// indexOf - first strictly equal element
	r.method(proto, "indexOf", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "indexOf")
		if exc.IsException() {
			return exc
		}
		start, exc := r.relativeIndex(arg(args, 1), len(a.Elems), 0)
		if exc.IsException() {
			return exc
		}
		for i := start; i < len(a.Elems); i++ {
			if !a.Elems[i].IsEmpty() && vm.StrictEquals(a.Elems[i], arg(args, 0)) {
				return vm.FromInt(int64(i))
			}
		}
		return vm.FromInt(-1)
	})
	// includes - SameValueZero membership
	r.method(proto, "includes", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "includes")
		if exc.IsException() {
			return exc
		}
		x := arg(args, 0)
		for i := range a.Elems {
			v := a.Elems[i]
			if v.IsEmpty() {
				v = vm.Undefined
			}
			if vm.StrictEquals(v, x) || (isNaNValue(v) && isNaNValue(x)) {
				return vm.True
			}
		}
		return vm.False
	})
	// slice - copy a range
	r.method(proto, "slice", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "slice")
		if exc.IsException() {
			return exc
		}
		start, exc := r.relativeIndex(arg(args, 0), len(a.Elems), 0)
		if exc.IsException() {
			return exc
		}
		end, exc := r.relativeIndex(arg(args, 1), len(a.Elems), len(a.Elems))
		if exc.IsException() {
			return exc
		}
		if end < start {
			end = start
		}
		return r.NewArray(a.Elems[start:end])
	})
	// concat - join arrays and values into a new array
	r.method(proto, "concat", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "concat")
		if exc.IsException() {
			return exc
		}
		out := r.NewArray(a.Elems)
		dst := arrayOf(out.Object())
		for _, v := range args {
			if src := arrayOf(v.Object()); src != nil && v.Object().Class == vm.ClassArray {
				for _, x := range src.Elems {
					dst.Elems = append(dst.Elems, x.Copy())
				}
				continue
			}
			dst.Elems = append(dst.Elems, v.Copy())
		}
		return out
	})
	// reverse - reverse in place
	r.method(proto, "reverse", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "reverse")
		if exc.IsException() {
			return exc
		}
		for i, j := 0, len(a.Elems)-1; i < j; i, j = i+1, j-1 {
			a.Elems[i], a.Elems[j] = a.Elems[j], a.Elems[i]
		}
		return this.Copy()
	})
	// map - new array of callback results
	r.method(proto, "map", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "map")
		if exc.IsException() {
			return exc
		}
		fn, exc := r.callbackArg(args)
		if exc.IsException() {
			return exc
		}
		var out []vm.Value
		exc = r.eachElement(e, this, a, fn, arg(args, 1), func(i int, elem, res vm.Value) bool {
			out = append(out, res)
			return true
		})
		if exc.IsException() {
			for _, v := range out {
				v.Free()
			}
			return exc
		}
		return r.newArrayOwned(out)
	})
	// filter - new array of elements passing the callback
	r.method(proto, "filter", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "filter")
		if exc.IsException() {
			return exc
		}
		fn, exc := r.callbackArg(args)
		if exc.IsException() {
			return exc
		}
		var out []vm.Value
		exc = r.eachElement(e, this, a, fn, arg(args, 1), func(i int, elem, res vm.Value) bool {
			if r.ToBoolean(res) {
				out = append(out, elem.Copy())
			}
			res.Free()
			return true
		})
		if exc.IsException() {
			for _, v := range out {
				v.Free()
			}
			return exc
		}
		return r.newArrayOwned(out)
	})
	// forEach - call the callback for every element
	r.method(proto, "forEach", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "forEach")
		if exc.IsException() {
			return exc
		}
		fn, exc := r.callbackArg(args)
		if exc.IsException() {
			return exc
		}
		return r.eachElement(e, this, a, fn, arg(args, 1), func(i int, elem, res vm.Value) bool {
			res.Free()
			return true
		})
	})
	// some - any element passes
	r.method(proto, "some", r.arrayPredicate("some", true))
	// every - all elements pass
	r.method(proto, "every", r.arrayPredicate("every", false))
	// find - first element passing the callback
	r.method(proto, "find", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "find")
		if exc.IsException() {
			return exc
		}
		fn, exc := r.callbackArg(args)
		if exc.IsException() {
			return exc
		}
		found := vm.Undefined
		exc = r.eachElement(e, this, a, fn, arg(args, 1), func(i int, elem, res vm.Value) bool {
			hit := r.ToBoolean(res)
			res.Free()
			if hit {
				found = elem.Copy()
			}
			return !hit
		})
		if exc.IsException() {
			return exc
		}
		return found
	})
	// reduce - fold left
	r.method(proto, "reduce", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, "reduce")
		if exc.IsException() {
			return exc
		}
		fn, exc := r.callbackArg(args)
		if exc.IsException() {
			return exc
		}
		i := 0
		var acc vm.Value
		if len(args) > 1 {
			acc = args[1].Copy()
		} else {
			for i < len(a.Elems) && a.Elems[i].IsEmpty() {
				i++
			}
			if i == len(a.Elems) {
				return r.throw(vm.TypeError, "Reduce of empty array with no initial value")
			}
			acc = a.Elems[i].Copy()
			i++
		}
		for ; i < len(a.Elems); i++ {
			if a.Elems[i].IsEmpty() {
				continue
			}
			elem := a.Elems[i].Copy()
			next := e.Call(fn, vm.Undefined, []vm.Value{acc, elem, vm.FromInt(int64(i)), this})
			elem.Free()
			acc.Free()
			if next.IsException() {
				return next
			}
			acc = next
		}
		return acc
	})

	// values, keys, entries - list iterators
	values := func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		o := r.ToObject(this)
		if o.IsException() {
			return o
		}
		defer o.Free()
		return r.newListIterator(o, iterValues)
	}
	r.method(proto, "values", values)
	r.symbolMethod(proto, r.symIterator, "[Symbol.iterator]", values)
	r.method(proto, "keys", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.newListIterator(this, iterKeys)
	})
	r.method(proto, "entries", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.newListIterator(this, iterEntries)
	})
}

// arrayConstruct implements Array(len) and Array(...items).
func (r *Realm) arrayConstruct(e *vm.Engine, _ vm.Value, args []vm.Value) vm.Value {
	if len(args) == 1 && args[0].IsNumber() {
		n := args[0].Number()
		l := int(n)
		if float64(l) != n || l < 0 {
			return r.throw(vm.RangeError, "Invalid array length")
		}
		elems := make([]vm.Value, l)
		for i := range elems {
			elems[i] = vm.Empty
		}
		return r.newArrayOwned(elems)
	}
	return r.NewArray(args)
}

func (r *Realm) arrayPredicate(name string, want bool) vm.NativeFunc {
	return func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		a, exc := r.thisArray(this, name)
		if exc.IsException() {
			return exc
		}
		fn, exc := r.callbackArg(args)
		if exc.IsException() {
			return exc
		}
		result := !want
		exc = r.eachElement(e, this, a, fn, arg(args, 1), func(i int, elem, res vm.Value) bool {
			hit := r.ToBoolean(res) == want
			res.Free()
			if hit {
				result = want
			}
			return !hit
		})
		if exc.IsException() {
			return exc
		}
		return vm.FromBool(result)
	}
}

func (r *Realm) join(this vm.Value, sep string) vm.Value {
	a, exc := r.thisArray(this, "join")
	if exc.IsException() {
		return exc
	}
	parts := make([]string, len(a.Elems))
	for i, v := range a.Elems {
		if v.IsNullish() || v.IsEmpty() {
			continue
		}
		s, exc := r.ToString(v)
		if exc.IsException() {
			return exc
		}
		parts[i] = s
	}
	return r.str(strings.Join(parts, sep))
}

// collect returns the items of an iterable, or of an array-like when the
// value is not iterable.
func (r *Realm) collect(v vm.Value) ([]vm.Value, vm.Value) {
	if v.IsNullish() {
		return nil, r.throw(vm.TypeError, r.display(v)+" is not iterable")
	}
	method := r.GetProperty(v, r.symIterator)
	if method.IsException() {
		return nil, method
	}
	iterable := vm.IsCallable(method)
	method.Free()
	if !iterable {
		return r.listFromArrayLike(v)
	}
	iter, next := r.GetIterator(v, false)
	if iter.IsException() {
		return nil, iter
	}
	defer iter.Free()
	defer next.Free()
	var items []vm.Value
	for {
		step := r.IteratorStep(iter, next)
		if step.IsException() {
			for _, x := range items {
				x.Free()
			}
			return nil, step
		}
		if step.IsBool() {
			return items, vm.Undefined
		}
		value := r.IteratorValue(step)
		step.Free()
		if value.IsException() {
			for _, x := range items {
				x.Free()
			}
			return nil, value
		}
		items = append(items, value)
	}
}

func isNaNValue(v vm.Value) bool {
	return v.Kind() == vm.KindFloat && v.Number() != v.Number()
}
