package realm

import (
	"github.com/chazu/ecmavm/vm"
)

// ---------------------------------------------------------------------------
// Iteration protocol
// ---------------------------------------------------------------------------

// GetIterator implements vm.IteratorOps. An async request on a value without
// Symbol.asyncIterator falls back to its sync iterator.
func (r *Realm) GetIterator(v vm.Value, async bool) (vm.Value, vm.Value) {
	if v.IsNullish() {
		return r.throw(vm.TypeError, r.display(v)+" is not iterable"), vm.Undefined
	}
	var method vm.Value
	if async {
		method = r.GetProperty(v, r.symAsyncIterator)
		if method.IsException() {
			return method, vm.Undefined
		}
	}
	if method.IsNullish() {
		method = r.GetProperty(v, r.symIterator)
		if method.IsException() {
			return method, vm.Undefined
		}
	}
	if !vm.IsCallable(method) {
		method.Free()
		return r.throw(vm.TypeError, r.display(v)+" is not iterable"), vm.Undefined
	}
	iter := r.engine.Call(method, v, nil)
	method.Free()
	if iter.IsException() {
		return iter, vm.Undefined
	}
	if !iter.IsObject() {
		iter.Free()
		return r.throw(vm.TypeError, "Result of the Symbol.iterator method is not an object"), vm.Undefined
	}
	next := r.get(iter, vm.StringKey("next"))
	if next.IsException() {
		iter.Free()
		return next, vm.Undefined
	}
	return iter, next
}

// IteratorNext implements vm.IteratorOps.
func (r *Realm) IteratorNext(iter, next, arg vm.Value) vm.Value {
	res := r.engine.Call(next, iter, []vm.Value{arg})
	if res.IsException() {
		return res
	}
	if !res.IsObject() {
		defer res.Free()
		return r.throw(vm.TypeError, "Iterator result "+r.display(res)+" is not an object")
	}
	return res
}

// IteratorStep implements vm.IteratorOps.
func (r *Realm) IteratorStep(iter, next vm.Value) vm.Value {
	res := r.IteratorNext(iter, next, vm.Undefined)
	if res.IsException() {
		return res
	}
	done := r.IteratorComplete(res)
	if done.IsException() {
		res.Free()
		return done
	}
	if done.Bool() {
		res.Free()
		return vm.False
	}
	return res
}

// IteratorComplete implements vm.IteratorOps.
func (r *Realm) IteratorComplete(result vm.Value) vm.Value {
	d := r.get(result, vm.StringKey("done"))
	if d.IsException() {
		return d
	}
	defer d.Free()
	return vm.FromBool(r.ToBoolean(d))
}

// IteratorValue implements vm.IteratorOps.
func (r *Realm) IteratorValue(result vm.Value) vm.Value {
	return r.get(result, vm.StringKey("value"))
}

// IteratorClose implements vm.IteratorOps.
func (r *Realm) IteratorClose(iter vm.Value) vm.Value {
	ret := r.get(iter, vm.StringKey("return"))
	if ret.IsException() || ret.IsNullish() {
		return ret
	}
	res := r.engine.Call(ret, iter, nil)
	ret.Free()
	if res.IsException() {
		return res
	}
	defer res.Free()
	if !res.IsObject() {
		return r.throw(vm.TypeError, "Iterator result "+r.display(res)+" is not an object")
	}
	return vm.Undefined
}

// ---------------------------------------------------------------------------
// Built-in list iterators
// ---------------------------------------------------------------------------

type iterKind uint8

const (
	iterValues iterKind = iota
	iterKeys
	iterEntries
)

// listIterator walks an array-like or a string.
type listIterator struct {
	target vm.Value
	index  int
	kind   iterKind
	done   bool
}

// Release implements vm.Releaser.
func (it *listIterator) Release() {
	it.target.Free()
	it.target = vm.Undefined
}

func (r *Realm) newListIterator(target vm.Value, kind iterKind) vm.Value {
	obj, o := r.newObject(r.arrayIteratorProto, vm.ClassIterator)
	o.Internal = &listIterator{target: target.Copy(), kind: kind}
	return obj
}

// listIteratorNext advances a list iterator.
func (r *Realm) listIteratorNext(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
	o := this.Object()
	var it *listIterator
	if o != nil {
		it, _ = o.Internal.(*listIterator)
	}
	if it == nil {
		return r.throw(vm.TypeError, "next method called on incompatible receiver "+r.display(this))
	}
	if it.done {
		return r.iterResult(vm.Undefined, true)
	}
	if it.target.IsString() {
		runes := []rune(it.target.Str())
		if it.index >= len(runes) {
			it.done = true
			return r.iterResult(vm.Undefined, true)
		}
		c := runes[it.index]
		it.index++
		return r.iterResult(r.str(string(c)), false)
	}
	length, exc := r.lengthOf(it.target)
	if exc.IsException() {
		return exc
	}
	if it.index >= length {
		it.done = true
		return r.iterResult(vm.Undefined, true)
	}
	i := it.index
	it.index++
	switch it.kind {
	case iterKeys:
		return r.iterResult(vm.FromInt(int64(i)), false)
	case iterEntries:
		v := r.get(it.target, indexKey(i))
		if v.IsException() {
			return v
		}
		pair := r.newArrayOwned([]vm.Value{vm.FromInt(int64(i)), v})
		return r.iterResult(pair, false)
	}
	v := r.get(it.target, indexKey(i))
	if v.IsException() {
		return v
	}
	return r.iterResult(v, false)
}

// lengthOf reads the length of an array-like.
func (r *Realm) lengthOf(v vm.Value) (int, vm.Value) {
	if a := arrayOf(v.Object()); a != nil {
		return len(a.Elems), vm.Undefined
	}
	l := r.get(v, vm.StringKey("length"))
	if l.IsException() {
		return 0, l
	}
	defer l.Free()
	n, exc := r.ToNumber(l)
	if exc.IsException() {
		return 0, exc
	}
	if n != n || n < 0 {
		return 0, vm.Undefined
	}
	return int(n), vm.Undefined
}
