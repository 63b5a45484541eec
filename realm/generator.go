package realm

import (
	"github.com/chazu/ecmavm/vm"
)

// ---------------------------------------------------------------------------
// Generator objects
// ---------------------------------------------------------------------------

// Generator is the payload of a generator object. It owns the suspended
// executable that runs the generator body.
type Generator struct {
	cont vm.Value
}

// Continuation exposes the executable to vm.ExecutableOf.
func (g *Generator) Continuation() vm.Value { return g.cont }

// Release implements vm.Releaser.
func (g *Generator) Release() {
	c := g.cont
	g.cont = vm.Undefined
	c.Free()
}

// NewGenerator implements vm.ObjectFactory. The generator object's
// prototype is the generator function's prototype property.
func (r *Realm) NewGenerator(fn, continuation vm.Value) vm.Value {
	proto := r.get(fn, vm.StringKey("prototype"))
	if proto.IsException() {
		return proto
	}
	parent := proto
	if !proto.IsObject() {
		parent = r.generatorProto
	}
	obj, o := r.newObject(parent, vm.ClassGenerator)
	proto.Free()
	o.Internal = &Generator{cont: continuation.Copy()}
	return obj
}

func (r *Realm) generatorOf(v vm.Value) *Generator {
	if o := v.Object(); o != nil {
		g, _ := o.Internal.(*Generator)
		return g
	}
	return nil
}

// resumeGenerator implements next, throw and return of generator objects.
func (r *Realm) resumeGenerator(mode vm.ResumeMode) vm.NativeFunc {
	return func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		g := r.generatorOf(this)
		if g == nil {
			return r.throw(vm.TypeError, mode.String()+" method called on incompatible receiver "+r.display(this))
		}
		v, done := e.Resume(g.cont, mode, arg(args, 0))
		if v.IsException() {
			return v
		}
		return r.iterResult(v, done)
	}
}

func (r *Realm) registerGeneratorPrimitives() {
	// next - resume with a value
	r.method(r.generatorProto, "next", r.resumeGenerator(vm.ResumeNext))
	// return - force completion through finally blocks
	r.method(r.generatorProto, "return", r.resumeGenerator(vm.ResumeReturn))
	// throw - raise at the suspension point
	r.method(r.generatorProto, "throw", r.resumeGenerator(vm.ResumeThrow))
}
