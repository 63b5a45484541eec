package realm

import (
	"strconv"
	"unicode/utf8"

	"github.com/chazu/ecmavm/vm"
)

// ---------------------------------------------------------------------------
// Array storage
// ---------------------------------------------------------------------------

// Array is the element storage of arrays and arguments objects. Holes are
// vm.Empty.
type Array struct {
	Elems []vm.Value
}

// Release implements vm.Releaser.
func (a *Array) Release() {
	for i := range a.Elems {
		a.Elems[i].Free()
	}
	a.Elems = nil
}

func arrayOf(obj *vm.Object) *Array {
	if obj == nil {
		return nil
	}
	a, _ := obj.Internal.(*Array)
	return a
}

// arrayIndex parses a canonical array index.
func arrayIndex(k vm.PropertyKey) (int, bool) {
	if k.IsSymbol() {
		return 0, false
	}
	s := k.Name()
	if s == "" || len(s) > 10 || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 1<<32-1 {
		return 0, false
	}
	return int(n), true
}

// Boxed is the payload of a primitive wrapper object.
type Boxed struct {
	Value vm.Value
}

// Release implements vm.Releaser.
func (b *Boxed) Release() {
	b.Value.Free()
	b.Value = vm.Undefined
}

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

// toKey converts a value to a property key. The second result is an
// exception marker or Undefined.
func (r *Realm) toKey(v vm.Value) (vm.PropertyKey, vm.Value) {
	if k, ok := vm.KeyOf(v); ok {
		return k, vm.Undefined
	}
	switch {
	case v.IsInt():
		return vm.StringKey(strconv.FormatInt(v.Int(), 10)), vm.Undefined
	case v.IsNumber():
		return vm.StringKey(vm.FormatNumber(v.Number())), vm.Undefined
	}
	p := r.ToPrimitive(v, hintString)
	if p.IsException() {
		return vm.PropertyKey{}, p
	}
	defer p.Free()
	if k, ok := vm.KeyOf(p); ok {
		return k, vm.Undefined
	}
	s, exc := r.ToString(p)
	if exc.IsException() {
		return vm.PropertyKey{}, exc
	}
	return vm.StringKey(s), vm.Undefined
}

// protoFor returns the prototype used for property lookup on a primitive.
func (r *Realm) protoFor(v vm.Value) vm.Value {
	switch v.Kind() {
	case vm.KindString:
		return r.stringProto
	case vm.KindInt, vm.KindFloat:
		return r.numberProto
	case vm.KindBool:
		return r.booleanProto
	case vm.KindSymbol:
		return r.symbolProto
	case vm.KindBigInt:
		return r.bigintProto
	}
	return r.objectProto
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

// GetProperty implements vm.PropertyOps.
func (r *Realm) GetProperty(base, key vm.Value) vm.Value {
	if base.IsNullish() {
		return r.throw(vm.TypeError, "Cannot read properties of "+base.String()+" (reading '"+keyString(key)+"')")
	}
	k, exc := r.toKey(key)
	if exc.IsException() {
		return exc
	}
	return r.get(base, k)
}

// Get reads a string-named property of v.
func (r *Realm) Get(v vm.Value, name string) vm.Value {
	if v.IsNullish() {
		return r.throw(vm.TypeError, "Cannot read properties of "+v.String()+" (reading '"+name+"')")
	}
	return r.get(v, vm.StringKey(name))
}

func (r *Realm) get(receiver vm.Value, k vm.PropertyKey) vm.Value {
	holder := receiver
	if !receiver.IsObject() {
		if receiver.IsString() {
			if v, ok := r.stringOwn(receiver.Str(), k); ok {
				return v
			}
		}
		holder = r.protoFor(receiver)
	}
	for link := holder; link.IsObject(); link = link.Object().Proto() {
		obj := link.Object()
		if a := arrayOf(obj); a != nil {
			if i, ok := arrayIndex(k); ok {
				if i < len(a.Elems) && !a.Elems[i].IsEmpty() {
					return a.Elems[i].Copy()
				}
				continue
			}
			if k == vm.StringKey("length") {
				return vm.FromInt(int64(len(a.Elems)))
			}
		}
		p, ok := obj.GetOwn(k)
		if !ok {
			if v, ok := r.lazyOwn(link, k); ok {
				return v
			}
			continue
		}
		if p.Flags&vm.Accessor != 0 {
			if p.Getter.IsUndefined() {
				return vm.Undefined
			}
			return r.engine.Call(p.Getter, receiver, nil)
		}
		return p.Value.Copy()
	}
	return vm.Undefined
}

// stringOwn resolves length and index properties of a string primitive.
// Strings are indexed by code point.
func (r *Realm) stringOwn(s string, k vm.PropertyKey) (vm.Value, bool) {
	if k == vm.StringKey("length") {
		return vm.FromInt(int64(utf8.RuneCountInString(s))), true
	}
	if i, ok := arrayIndex(k); ok {
		for j, c := range []rune(s) {
			if j == i {
				return r.str(string(c)), true
			}
		}
	}
	return vm.Undefined, false
}

// lazyOwn materializes the prototype property of script constructors and
// generator functions on first access.
func (r *Realm) lazyOwn(fnVal vm.Value, k vm.PropertyKey) (vm.Value, bool) {
	obj := fnVal.Object()
	fn, _ := obj.Internal.(*vm.Function)
	if fn == nil || k != vm.StringKey("prototype") {
		return vm.Undefined, false
	}
	var proto vm.Value
	switch fn.Kind {
	case vm.FuncNormal:
		var p *vm.Object
		proto, p = r.newObject(r.objectProto, vm.ClassObject)
		p.SetOwn(vm.StringKey("constructor"), fnVal.Copy(), vm.MethodFlags)
	case vm.FuncGenerator:
		proto, _ = r.newObject(r.generatorProto, vm.ClassObject)
	default:
		return vm.Undefined, false
	}
	obj.SetOwn(k, proto.Copy(), vm.Writable)
	return proto, true
}

// ---------------------------------------------------------------------------
// Set, define, delete, has
// ---------------------------------------------------------------------------

// SetProperty implements vm.PropertyOps.
func (r *Realm) SetProperty(base, key, value vm.Value, strict bool) vm.Value {
	if base.IsNullish() {
		return r.throw(vm.TypeError, "Cannot set properties of "+base.String()+" (setting '"+keyString(key)+"')")
	}
	k, exc := r.toKey(key)
	if exc.IsException() {
		return exc
	}
	return r.set(base, k, value, strict)
}

func (r *Realm) set(base vm.Value, k vm.PropertyKey, value vm.Value, strict bool) vm.Value {
	target := base.Object()
	holder := base
	if target == nil {
		holder = r.protoFor(base)
	}
	for obj := holder.Object(); obj != nil; obj = obj.Proto().Object() {
		if obj == target && arrayOf(obj) != nil {
			if _, ok := arrayIndex(k); ok || k == vm.StringKey("length") {
				return r.setElement(obj, k, value)
			}
		}
		p, ok := obj.GetOwn(k)
		if !ok {
			continue
		}
		if p.Flags&vm.Accessor != 0 {
			if p.Setter.IsUndefined() {
				if strict {
					return r.throw(vm.TypeError, "Cannot set property "+k.Name()+" which has only a getter")
				}
				return vm.Undefined
			}
			x := r.engine.Call(p.Setter, base, []vm.Value{value})
			if x.IsException() {
				return x
			}
			x.Free()
			return vm.Undefined
		}
		if p.Flags&vm.Writable == 0 {
			if strict {
				return r.throw(vm.TypeError, "Cannot assign to read only property '"+k.Name()+"'")
			}
			return vm.Undefined
		}
		if obj == target {
			old := p.Value
			p.Value = value.Copy()
			old.Free()
			return vm.Undefined
		}
		break
	}
	if target == nil {
		if strict {
			return r.throw(vm.TypeError, "Cannot create property '"+k.Name()+"' on "+r.TypeOfString(base)+" '"+r.display(base)+"'")
		}
		return vm.Undefined
	}
	if !target.Extensible {
		if strict {
			return r.throw(vm.TypeError, "Cannot add property "+k.Name()+", object is not extensible")
		}
		return vm.Undefined
	}
	target.SetOwn(k, value.Copy(), vm.DefaultFlags)
	return vm.Undefined
}

// setElement writes an index or the length of an array.
func (r *Realm) setElement(obj *vm.Object, k vm.PropertyKey, value vm.Value) vm.Value {
	a := arrayOf(obj)
	if k == vm.StringKey("length") {
		n, exc := r.ToNumber(value)
		if exc.IsException() {
			return exc
		}
		l := int(n)
		if float64(l) != n || l < 0 {
			return r.throw(vm.RangeError, "Invalid array length")
		}
		r.setLength(a, l)
		return vm.Undefined
	}
	i, _ := arrayIndex(k)
	if i >= len(a.Elems) {
		r.setLength(a, i+1)
	}
	old := a.Elems[i]
	a.Elems[i] = value.Copy()
	old.Free()
	return vm.Undefined
}

func (r *Realm) setLength(a *Array, l int) {
	for l < len(a.Elems) {
		last := len(a.Elems) - 1
		a.Elems[last].Free()
		a.Elems = a.Elems[:last]
	}
	for len(a.Elems) < l {
		a.Elems = append(a.Elems, vm.Empty)
	}
}

// DefineProperty implements vm.PropertyOps.
func (r *Realm) DefineProperty(obj, key, value vm.Value, flags vm.PropertyFlags) vm.Value {
	o := obj.Object()
	if o == nil {
		return r.throw(vm.TypeError, "Object.defineProperty called on non-object")
	}
	k, exc := r.toKey(key)
	if exc.IsException() {
		return exc
	}
	if a := arrayOf(o); a != nil {
		if _, ok := arrayIndex(k); ok {
			return r.setElement(o, k, value)
		}
	}
	if p, ok := o.GetOwn(k); ok && p.Flags&vm.Configurable == 0 && p.Flags&vm.Writable == 0 {
		return r.throw(vm.TypeError, "Cannot redefine property: "+k.Name())
	}
	o.SetOwn(k, value.Copy(), flags)
	return vm.Undefined
}

// DeleteProperty implements vm.PropertyOps.
func (r *Realm) DeleteProperty(base, key vm.Value, strict bool) vm.Value {
	if base.IsNullish() {
		return r.throw(vm.TypeError, "Cannot convert undefined or null to object")
	}
	o := base.Object()
	if o == nil {
		return vm.True
	}
	k, exc := r.toKey(key)
	if exc.IsException() {
		return exc
	}
	if a := arrayOf(o); a != nil {
		if i, ok := arrayIndex(k); ok {
			if i < len(a.Elems) {
				a.Elems[i].Free()
				a.Elems[i] = vm.Empty
			}
			return vm.True
		}
		if k == vm.StringKey("length") {
			if strict {
				return r.throw(vm.TypeError, "Cannot delete property 'length' of [object Array]")
			}
			return vm.False
		}
	}
	if p, ok := o.GetOwn(k); ok && p.Flags&vm.Configurable == 0 {
		if strict {
			return r.throw(vm.TypeError, "Cannot delete property '"+k.Name()+"'")
		}
		return vm.False
	}
	o.DeleteOwn(k)
	return vm.True
}

// HasProperty implements vm.PropertyOps.
func (r *Realm) HasProperty(obj, key vm.Value) vm.Value {
	k, exc := r.toKey(key)
	if exc.IsException() {
		return exc
	}
	return vm.FromBool(r.has(obj, k))
}

func (r *Realm) has(v vm.Value, k vm.PropertyKey) bool {
	for link := v; link.IsObject(); link = link.Object().Proto() {
		o := link.Object()
		if a := arrayOf(o); a != nil {
			if i, ok := arrayIndex(k); ok {
				if i < len(a.Elems) && !a.Elems[i].IsEmpty() {
					return true
				}
				continue
			}
			if k == vm.StringKey("length") {
				return true
			}
		}
		if _, ok := o.GetOwn(k); ok {
			return true
		}
		if _, isFn := o.Internal.(*vm.Function); isFn && k == vm.StringKey("prototype") {
			if v, ok := r.lazyOwn(link, k); ok {
				v.Free()
				return true
			}
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Enumeration
// ---------------------------------------------------------------------------

// ownEnumerable returns the own enumerable string keys of o, indices first.
func ownEnumerable(o *vm.Object) []vm.PropertyKey {
	var out []vm.PropertyKey
	if a := arrayOf(o); a != nil {
		for i, v := range a.Elems {
			if !v.IsEmpty() {
				out = append(out, vm.StringKey(strconv.Itoa(i)))
			}
		}
	}
	for _, k := range o.OwnKeys() {
		if k.IsSymbol() {
			continue
		}
		if p, _ := o.GetOwn(k); p.Flags&vm.Enumerable != 0 {
			out = append(out, k)
		}
	}
	return out
}

// EnumerateKeys implements vm.PropertyOps. Keys shadowed by a nearer object
// are reported once.
func (r *Realm) EnumerateKeys(obj vm.Value) ([]vm.Value, vm.Value) {
	seen := make(map[vm.PropertyKey]bool)
	var keys []vm.Value
	for o := obj.Object(); o != nil; o = o.Proto().Object() {
		for _, k := range ownEnumerable(o) {
			if seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k.Value(r.heap))
		}
		for _, k := range o.OwnKeys() {
			seen[k] = true
		}
	}
	return keys, vm.Undefined
}

// CopyDataProperties implements vm.PropertyOps.
func (r *Realm) CopyDataProperties(src vm.Value, excluded []vm.Value) vm.Value {
	if src.IsNullish() {
		return r.throw(vm.TypeError, "Cannot destructure '"+src.String()+"' as it is "+src.String()+".")
	}
	skip := make(map[vm.PropertyKey]bool, len(excluded))
	for _, x := range excluded {
		k, exc := r.toKey(x)
		if exc.IsException() {
			return exc
		}
		skip[k] = true
	}
	out, o := r.newObject(r.objectProto, vm.ClassObject)
	s := src.Object()
	if s == nil {
		if src.IsString() {
			for i, c := range []rune(src.Str()) {
				k := vm.StringKey(strconv.Itoa(i))
				if !skip[k] {
					o.SetOwn(k, r.str(string(c)), vm.DefaultFlags)
				}
			}
		}
		return out
	}
	for _, k := range ownEnumerable(s) {
		if skip[k] {
			continue
		}
		v := r.get(src, k)
		if v.IsException() {
			out.Free()
			return v
		}
		o.SetOwn(k, v, vm.DefaultFlags)
	}
	return out
}

// keyString renders a key value in error messages without running script code.
func keyString(v vm.Value) string {
	if v.IsString() {
		return v.Str()
	}
	return v.String()
}
