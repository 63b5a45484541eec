// Package realm is the reference implementation of the vm.Realm hooks: the
// object model, operators, iteration, promises and the built-in library a
// script sees.
package realm

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/ecmavm/vm"
)

var log = commonlog.GetLogger("ecmavm.realm")

// CompileFunc turns eval source into a code unit. The engine ships no
// parser; hosts that support eval plug one in here.
type CompileFunc func(source string, strict bool) (*vm.Code, error)

// Options configure a Realm.
type Options struct {
	// Output receives print and console.log output. Defaults to os.Stdout.
	Output io.Writer

	// Compile enables eval. When nil, eval of a string throws an EvalError.
	Compile CompileFunc
}

// ---------------------------------------------------------------------------
// Realm
// ---------------------------------------------------------------------------

// Realm holds the global object and intrinsics for one engine.
type Realm struct {
	ID uuid.UUID

	engine *vm.Engine
	heap   *vm.Heap
	opts   Options

	global vm.Value

	objectProto        vm.Value
	functionProto      vm.Value
	arrayProto         vm.Value
	stringProto        vm.Value
	numberProto        vm.Value
	booleanProto       vm.Value
	symbolProto        vm.Value
	bigintProto        vm.Value
	iteratorProto      vm.Value
	arrayIteratorProto vm.Value
	generatorProto     vm.Value
	promiseProto       vm.Value
	regexpProto        vm.Value
	errorProtos        [vm.URIError + 1]vm.Value

	symIterator      vm.Value
	symAsyncIterator vm.Value

	jobs  []func()
	abort vm.Value // first abort raised by a job, until RunJobs returns it
}

var _ vm.Realm = (*Realm)(nil)

// New creates an unbound realm. Pass it as vm.Config.Realm; the engine binds
// it during vm.New.
func New(opts Options) *Realm {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Realm{ID: uuid.New(), opts: opts}
}

// Engine returns the engine the realm is bound to.
func (r *Realm) Engine() *vm.Engine { return r.engine }

// Bind implements vm.Realm. It builds the intrinsics and the global object.
func (r *Realm) Bind(e *vm.Engine) {
	r.engine = e
	r.heap = e.Heap()
	r.buildIntrinsics()
	log.Debugf("realm %s bound", r.ID)
}

// GlobalObject implements vm.Realm.
func (r *Realm) GlobalObject() vm.Value { return r.global }

// Release breaks the reference cycles between intrinsics and drops them. The
// realm is unusable afterwards.
func (r *Realm) Release() {
	for {
		_, abort := r.RunJobs()
		if !abort.IsAbort() {
			break
		}
		abort.Free()
	}
	intrinsics := []*vm.Value{
		&r.global, &r.objectProto, &r.functionProto, &r.arrayProto, &r.stringProto,
		&r.numberProto, &r.booleanProto, &r.symbolProto, &r.bigintProto,
		&r.iteratorProto, &r.arrayIteratorProto, &r.generatorProto,
		&r.promiseProto, &r.regexpProto,
	}
	for i := range r.errorProtos {
		intrinsics = append(intrinsics, &r.errorProtos[i])
	}
	for _, v := range intrinsics {
		if obj := v.Object(); obj != nil {
			for _, k := range obj.OwnKeys() {
				obj.DeleteOwn(k)
			}
		}
	}
	for _, v := range intrinsics {
		v.Free()
		*v = vm.Undefined
	}
	r.symIterator.Free()
	r.symAsyncIterator.Free()
	r.symIterator, r.symAsyncIterator = vm.Undefined, vm.Undefined
}

// ---------------------------------------------------------------------------
// Helpers shared by the built-ins
// ---------------------------------------------------------------------------

// str allocates a string value.
func (r *Realm) str(s string) vm.Value { return r.heap.NewString(s) }

// newObject allocates an object with the given prototype (borrowed).
func (r *Realm) newObject(proto vm.Value, class vm.Class) (vm.Value, *vm.Object) {
	return r.heap.NewObject(proto, class)
}

// throw creates an error of kind and returns it as an exception marker.
func (r *Realm) throw(kind vm.ErrorKind, msg string) vm.Value {
	return r.engine.ThrowError(kind, msg)
}

// method defines a native function as a non-enumerable property of obj.
func (r *Realm) method(obj vm.Value, name string, fn vm.NativeFunc) {
	f := r.engine.NewNative(name, fn, nil)
	obj.Object().SetOwn(vm.StringKey(name), f, vm.MethodFlags)
}

// symbolMethod defines a native function under a symbol key.
func (r *Realm) symbolMethod(obj, sym vm.Value, name string, fn vm.NativeFunc) {
	f := r.engine.NewNative(name, fn, nil)
	key, _ := vm.KeyOf(sym)
	obj.Object().SetOwn(key, f, vm.MethodFlags)
}

// getter defines a native accessor with no setter.
func (r *Realm) getter(obj vm.Value, name string, fn vm.NativeFunc) {
	f := r.engine.NewNative("get "+name, fn, nil)
	obj.Object().SetAccessor(vm.StringKey(name), f, vm.Undefined, vm.Configurable)
}

// data defines a data property on obj. value is consumed.
func data(obj vm.Value, name string, value vm.Value, flags vm.PropertyFlags) {
	obj.Object().SetOwn(vm.StringKey(name), value, flags)
}

// arg returns args[i] or undefined (borrowed).
func arg(args []vm.Value, i int) vm.Value {
	if i < len(args) {
		return args[i]
	}
	return vm.Undefined
}

// iterResult creates an iterator result object. value is consumed.
func (r *Realm) iterResult(value vm.Value, done bool) vm.Value {
	obj, o := r.newObject(r.objectProto, vm.ClassObject)
	o.SetOwn(vm.StringKey("value"), value, vm.DefaultFlags)
	o.SetOwn(vm.StringKey("done"), vm.FromBool(done), vm.DefaultFlags)
	return obj
}
