package realm

import (
	"github.com/chazu/ecmavm/vm"
)

// ---------------------------------------------------------------------------
// Object factory
// ---------------------------------------------------------------------------

// NewObject implements vm.ObjectFactory.
func (r *Realm) NewObject() vm.Value {
	obj, _ := r.newObject(r.objectProto, vm.ClassObject)
	return obj
}

// NewArray implements vm.ObjectFactory. items are borrowed.
func (r *Realm) NewArray(items []vm.Value) vm.Value {
	obj, o := r.newObject(r.arrayProto, vm.ClassArray)
	elems := make([]vm.Value, len(items))
	for i, v := range items {
		elems[i] = v.Copy()
	}
	o.Internal = &Array{Elems: elems}
	return obj
}

// newArrayOwned creates an array that takes ownership of elems.
func (r *Realm) newArrayOwned(elems []vm.Value) vm.Value {
	obj, o := r.newObject(r.arrayProto, vm.ClassArray)
	o.Internal = &Array{Elems: elems}
	return obj
}

// NewFunction implements vm.ObjectFactory. The function object takes
// ownership of fn.
func (r *Realm) NewFunction(fn *vm.Function) vm.Value {
	obj, o := r.newObject(r.functionProto, vm.ClassFunction)
	o.Internal = fn
	o.SetOwn(vm.StringKey("name"), r.str(fn.Name), vm.Configurable)
	length := 0
	if fn.Code != nil {
		length = fn.Code.ArgumentEnd
	}
	o.SetOwn(vm.StringKey("length"), vm.FromInt(int64(length)), vm.Configurable)
	return obj
}

// CreateThis implements vm.ObjectFactory.
func (r *Realm) CreateThis(newTarget vm.Value) vm.Value {
	proto := r.get(newTarget, vm.StringKey("prototype"))
	if proto.IsException() {
		return proto
	}
	defer proto.Free()
	if !proto.IsObject() {
		return r.NewObject()
	}
	obj, _ := r.newObject(proto, vm.ClassObject)
	return obj
}

// InitClass implements vm.ObjectFactory.
func (r *Realm) InitClass(ctor, heritage vm.Value, derived bool) vm.Value {
	protoParent := r.objectProto.Copy()
	ctorParent := r.functionProto
	if derived {
		protoParent.Free()
		switch {
		case heritage.IsNull():
			protoParent = vm.Null
		case !vm.IsConstructor(heritage):
			return r.throw(vm.TypeError, "Class extends value "+r.display(heritage)+" is not a constructor or null")
		default:
			protoParent = r.get(heritage, vm.StringKey("prototype"))
			if protoParent.IsException() {
				return protoParent
			}
			if !protoParent.IsObject() && !protoParent.IsNull() {
				protoParent.Free()
				return r.throw(vm.TypeError, "Class extends value does not have valid prototype property")
			}
			ctorParent = heritage
		}
	}
	proto, p := r.newObject(protoParent, vm.ClassObject)
	protoParent.Free()
	c := ctor.Object()
	c.SetProto(ctorParent)
	c.SetOwn(vm.StringKey("prototype"), proto.Copy(), 0)
	p.SetOwn(vm.StringKey("constructor"), ctor.Copy(), vm.MethodFlags)
	return proto
}

// NewArguments implements vm.ObjectFactory.
func (r *Realm) NewArguments(callee vm.Value, args []vm.Value, strict bool) vm.Value {
	obj, o := r.newObject(r.objectProto, vm.ClassArguments)
	elems := make([]vm.Value, len(args))
	for i, v := range args {
		elems[i] = v.Copy()
	}
	o.Internal = &Array{Elems: elems}
	if !strict {
		o.SetOwn(vm.StringKey("callee"), callee.Copy(), vm.MethodFlags)
	}
	values := r.get(r.arrayProto, vm.StringKey("values"))
	key, _ := vm.KeyOf(r.symIterator)
	o.SetOwn(key, values, vm.MethodFlags)
	return obj
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// NewError implements vm.ObjectFactory.
func (r *Realm) NewError(kind vm.ErrorKind, msg string) vm.Value {
	if int(kind) >= len(r.errorProtos) {
		kind = vm.ErrorCommon
	}
	obj, o := r.newObject(r.errorProtos[kind], vm.ClassError)
	if msg != "" {
		o.SetOwn(vm.StringKey("message"), r.str(msg), vm.MethodFlags)
	}
	return obj
}

// errorConstructor builds the native behind Error, TypeError and friends.
// Calling and constructing both create an error.
func (r *Realm) errorConstructor(kind vm.ErrorKind) (vm.NativeFunc, vm.NativeConstructor) {
	build := func(e *vm.Engine, proto vm.Value, args []vm.Value) vm.Value {
		obj, o := r.newObject(proto, vm.ClassError)
		if m := arg(args, 0); !m.IsUndefined() {
			s := r.toStringValue(m)
			if s.IsException() {
				obj.Free()
				return s
			}
			o.SetOwn(vm.StringKey("message"), s, vm.MethodFlags)
		}
		return obj
	}
	call := func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return build(e, r.errorProtos[kind], args)
	}
	construct := func(e *vm.Engine, newTarget vm.Value, args []vm.Value) vm.Value {
		proto := r.get(newTarget, vm.StringKey("prototype"))
		if proto.IsException() {
			return proto
		}
		defer proto.Free()
		if !proto.IsObject() {
			return build(e, r.errorProtos[kind], args)
		}
		return build(e, proto, args)
	}
	return call, construct
}
