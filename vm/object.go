package vm

// ---------------------------------------------------------------------------
// Object layout
// ---------------------------------------------------------------------------

// Class tags the internal layout of an object. Algorithms on objects belong
// to the Realm; the core only needs to tell functions and executables apart.
type Class uint8

const (
	ClassObject Class = iota
	ClassFunction
	ClassArray
	ClassArguments
	ClassError
	ClassGenerator
	ClassAsyncState
	ClassPromise
	ClassRegExp
	ClassIterator
	ClassBoxed
)

var classNames = [...]string{
	"Object", "Function", "Array", "Arguments", "Error", "Generator",
	"AsyncState", "Promise", "RegExp", "Iterator", "Boxed",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return "Unknown"
}

// PropertyFlags holds the attributes of an own property.
type PropertyFlags uint8

const (
	Writable PropertyFlags = 1 << iota
	Enumerable
	Configurable
	Accessor

	// DefaultFlags are the attributes of an ordinary assignment-created property.
	DefaultFlags = Writable | Enumerable | Configurable
	// MethodFlags are the attributes of class methods and builtins.
	MethodFlags = Writable | Configurable
)

// Property is one own property slot.
type Property struct {
	Value  Value
	Getter Value
	Setter Value
	Flags  PropertyFlags
}

// PropertyKey identifies a property by string name or by symbol cell.
type PropertyKey struct {
	name string
	sym  *Cell
}

// StringKey returns the key for a string-named property.
func StringKey(name string) PropertyKey { return PropertyKey{name: name} }

// KeyOf returns the property key of a string or symbol value. Other kinds
// must be converted with ToPropertyKey first.
func KeyOf(v Value) (PropertyKey, bool) {
	switch v.kind {
	case KindString:
		return PropertyKey{name: v.cell.str}, true
	case KindSymbol:
		return PropertyKey{sym: v.cell}, true
	}
	return PropertyKey{}, false
}

// IsSymbol reports whether k names a symbol-keyed property.
func (k PropertyKey) IsSymbol() bool { return k.sym != nil }

// Name returns the string name, or the symbol description.
func (k PropertyKey) Name() string {
	if k.sym != nil {
		return k.sym.str
	}
	return k.name
}

// Value materializes the key as an owned string or symbol value.
func (k PropertyKey) Value(h *Heap) Value {
	if k.sym != nil {
		k.sym.retain()
		return Value{kind: KindSymbol, cell: k.sym}
	}
	return h.NewString(k.name)
}

// Releaser is implemented by internal payloads that hold references.
type Releaser interface {
	Release()
}

// Object is the property-bag layout shared by every object kind.
type Object struct {
	proto      Value
	props      map[PropertyKey]*Property
	keys       []PropertyKey
	Class      Class
	Extensible bool

	// Internal holds the class-specific payload (*Function, *Executable, or a
	// realm-defined type). Payloads implementing Releaser are released with
	// the object.
	Internal any
}

// Proto returns the prototype (borrowed).
func (o *Object) Proto() Value { return o.proto }

// SetProto replaces the prototype. proto is borrowed.
func (o *Object) SetProto(proto Value) {
	old := o.proto
	o.proto = proto.Copy()
	old.Free()
}

// GetOwn returns the own property for key.
func (o *Object) GetOwn(key PropertyKey) (*Property, bool) {
	p, ok := o.props[key]
	return p, ok
}

// SetOwn creates or overwrites an own data property. It consumes value.
func (o *Object) SetOwn(key PropertyKey, value Value, flags PropertyFlags) {
	if o.props == nil {
		o.props = make(map[PropertyKey]*Property)
	}
	if p, ok := o.props[key]; ok {
		old, getter, setter := p.Value, p.Getter, p.Setter
		p.Value, p.Getter, p.Setter = value, Undefined, Undefined
		p.Flags = flags &^ Accessor
		old.Free()
		getter.Free()
		setter.Free()
		return
	}
	if key.sym != nil {
		key.sym.retain()
	}
	o.props[key] = &Property{Value: value, Flags: flags &^ Accessor}
	o.keys = append(o.keys, key)
}

// SetAccessor creates or overwrites an accessor property. It consumes both functions.
func (o *Object) SetAccessor(key PropertyKey, getter, setter Value, flags PropertyFlags) {
	o.SetOwn(key, Undefined, flags)
	p := o.props[key]
	p.Getter, p.Setter = getter, setter
	p.Flags |= Accessor
}

// DeleteOwn removes an own property and reports whether it existed.
func (o *Object) DeleteOwn(key PropertyKey) bool {
	p, ok := o.props[key]
	if !ok {
		return false
	}
	delete(o.props, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	p.Value.Free()
	p.Getter.Free()
	p.Setter.Free()
	if key.sym != nil {
		key.sym.release()
	}
	return true
}

// OwnKeys returns the own keys in insertion order.
func (o *Object) OwnKeys() []PropertyKey {
	out := make([]PropertyKey, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of own properties.
func (o *Object) Len() int { return len(o.keys) }

func (o *Object) release() {
	for _, k := range o.keys {
		p := o.props[k]
		p.Value.Free()
		p.Getter.Free()
		p.Setter.Free()
		if k.sym != nil {
			k.sym.release()
		}
	}
	o.props = nil
	o.keys = nil
	proto := o.proto
	o.proto = Undefined
	proto.Free()
	if r, ok := o.Internal.(Releaser); ok {
		r.Release()
	}
	o.Internal = nil
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// NativeFunc implements a host function. this and args are borrowed; the
// result (possibly an exception marker) is owned by the caller.
type NativeFunc func(e *Engine, this Value, args []Value) Value

// NativeConstructor implements [[Construct]] for a host function.
type NativeConstructor func(e *Engine, newTarget Value, args []Value) Value

// FunctionKind classifies how a function may be invoked.
type FunctionKind uint8

const (
	FuncNormal FunctionKind = iota
	FuncArrow
	FuncMethod
	FuncClassConstructor
	FuncDerivedConstructor
	FuncGenerator
	FuncAsync
	FuncNative
)

// Function is the internal payload of a callable object.
type Function struct {
	Kind FunctionKind
	Name string

	// Script functions.
	Code      *Code
	Scope     *Cell // captured lexical environment
	This      Value // lexical this of arrow functions
	FieldInit Value // class field initializer, run against the new this

	// Host functions.
	Native     NativeFunc
	NativeCtor NativeConstructor
	Data       any // released with the function when it implements Releaser
}

// Release implements Releaser.
func (f *Function) Release() {
	if f.Scope != nil {
		f.Scope.release()
		f.Scope = nil
	}
	f.This.Free()
	f.This = Undefined
	f.FieldInit.Free()
	f.FieldInit = Undefined
	if r, ok := f.Data.(Releaser); ok {
		r.Release()
	}
	f.Data = nil
}

// IsConstructor reports whether f implements [[Construct]].
func (f *Function) IsConstructor() bool {
	switch f.Kind {
	case FuncNormal, FuncClassConstructor, FuncDerivedConstructor:
		return true
	case FuncNative:
		return f.NativeCtor != nil
	}
	return false
}

// FunctionOf returns the function payload of v, or nil when v is not callable.
func FunctionOf(v Value) *Function {
	obj := v.Object()
	if obj == nil {
		return nil
	}
	fn, _ := obj.Internal.(*Function)
	return fn
}

// IsCallable reports whether v is a function object.
func IsCallable(v Value) bool { return FunctionOf(v) != nil }

// IsConstructor reports whether v can be used with new.
func IsConstructor(v Value) bool {
	fn := FunctionOf(v)
	return fn != nil && fn.IsConstructor()
}
