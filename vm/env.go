package vm

// ---------------------------------------------------------------------------
// Lexical environments
// ---------------------------------------------------------------------------

type envKind uint8

const (
	envDeclarative envKind = iota
	envObject              // global object or with statement
)

type binding struct {
	value       Value
	mutable     bool
	initialized bool
}

// Env is a lexical environment record. Environments live in heap cells so
// closures, frames and block contexts can share them by reference count.
type Env struct {
	kind     envKind
	outer    *Cell
	bindings map[string]*binding
	object   Value // binding object of an object environment
	with     bool  // object environment created by a with statement
}

// Outer returns the enclosing environment cell, or nil.
func (e *Env) Outer() *Cell { return e.outer }

func (e *Env) release() {
	for _, b := range e.bindings {
		b.value.Free()
	}
	e.bindings = nil
	e.object.Free()
	e.object = Undefined
	if e.outer != nil {
		outer := e.outer
		e.outer = nil
		outer.release()
	}
}

// NewDeclarativeEnv allocates a declarative environment. outer is borrowed
// and may be nil.
func (h *Heap) NewDeclarativeEnv(outer *Cell) *Cell {
	c := h.alloc(CellEnv)
	if outer != nil {
		outer.retain()
	}
	c.env = &Env{kind: envDeclarative, outer: outer, bindings: make(map[string]*binding)}
	return c
}

// NewObjectEnv allocates an object environment over obj. Both arguments are borrowed.
func (h *Heap) NewObjectEnv(obj Value, outer *Cell, with bool) *Cell {
	c := h.alloc(CellEnv)
	if outer != nil {
		outer.retain()
	}
	c.env = &Env{kind: envObject, outer: outer, object: obj.Copy(), with: with}
	return c
}

// EnvOf returns the environment record held by c.
func EnvOf(c *Cell) *Env {
	if c == nil || c.kind != CellEnv {
		return nil
	}
	return c.env
}

// Declare creates a binding in a declarative environment. It consumes value.
// Existing bindings are left untouched and value is freed.
func (e *Env) Declare(name string, value Value, mutable, initialized bool) {
	if _, ok := e.bindings[name]; ok {
		value.Free()
		return
	}
	e.bindings[name] = &binding{value: value, mutable: mutable, initialized: initialized}
}

// Lookup returns the value of a declarative binding (borrowed).
func (e *Env) Lookup(name string) (Value, bool) {
	b, ok := e.bindings[name]
	if !ok || !b.initialized {
		return Undefined, false
	}
	return b.value, true
}

// ---------------------------------------------------------------------------
// Identifier resolution
// ---------------------------------------------------------------------------

// resolveIdent reads the binding name. key is the name as a string value.
func (e *Engine) resolveIdent(env *Cell, name string, key Value) Value {
	for c := env; c != nil; c = c.env.outer {
		rec := c.env
		if rec.kind == envDeclarative {
			b, ok := rec.bindings[name]
			if !ok {
				continue
			}
			if !b.initialized {
				return e.ThrowError(ReferenceError, "Cannot access '"+name+"' before initialization")
			}
			return b.value.Copy()
		}
		has := e.realm.HasProperty(rec.object, key)
		if has.IsException() {
			return has
		}
		if has.Bool() {
			return e.realm.GetProperty(rec.object, key)
		}
	}
	return e.ThrowError(ReferenceError, name+" is not defined")
}

// typeofIdent resolves name without raising for unresolvable references.
func (e *Engine) typeofIdent(env *Cell, name string, key Value) Value {
	for c := env; c != nil; c = c.env.outer {
		rec := c.env
		if rec.kind == envDeclarative {
			if _, ok := rec.bindings[name]; ok {
				v := e.resolveIdent(c, name, key)
				if v.IsException() {
					return v
				}
				t := e.realm.TypeOf(v)
				v.Free()
				return t
			}
			continue
		}
		has := e.realm.HasProperty(rec.object, key)
		if has.IsException() {
			return has
		}
		if has.Bool() {
			v := e.realm.GetProperty(rec.object, key)
			if v.IsException() {
				return v
			}
			t := e.realm.TypeOf(v)
			v.Free()
			return t
		}
	}
	return e.heap.NewString("undefined")
}

// assignIdent stores value into the binding name. It consumes value.
func (e *Engine) assignIdent(env *Cell, name string, key Value, value Value, strict bool) Value {
	for c := env; c != nil; c = c.env.outer {
		rec := c.env
		if rec.kind == envDeclarative {
			b, ok := rec.bindings[name]
			if !ok {
				continue
			}
			if !b.initialized {
				value.Free()
				return e.ThrowError(ReferenceError, "Cannot access '"+name+"' before initialization")
			}
			if !b.mutable {
				value.Free()
				return e.ThrowError(TypeError, "Assignment to constant variable.")
			}
			old := b.value
			b.value = value
			old.Free()
			return Undefined
		}
		has := e.realm.HasProperty(rec.object, key)
		if has.IsException() {
			value.Free()
			return has
		}
		if has.Bool() {
			r := e.realm.SetProperty(rec.object, key, value, strict)
			value.Free()
			return r
		}
	}
	if strict {
		value.Free()
		return e.ThrowError(ReferenceError, name+" is not defined")
	}
	r := e.realm.SetProperty(e.realm.GlobalObject(), key, value, false)
	value.Free()
	return r
}

// initializeBinding completes a let/const/class binding in env. It consumes value.
func (e *Engine) initializeBinding(env *Cell, name string, key Value, value Value) Value {
	rec := env.env
	if rec.kind == envObject {
		r := e.realm.DefineProperty(rec.object, key, value, DefaultFlags)
		value.Free()
		return r
	}
	b, ok := rec.bindings[name]
	if !ok {
		rec.bindings[name] = &binding{value: value, mutable: true, initialized: true}
		return Undefined
	}
	old := b.value
	b.value = value
	b.initialized = true
	old.Free()
	return Undefined
}

// createVar declares a var binding in the variable environment.
func (e *Engine) createVar(varEnv *Cell, name string, key Value) Value {
	rec := varEnv.env
	if rec.kind == envDeclarative {
		rec.Declare(name, Undefined, true, true)
		return Undefined
	}
	has := e.realm.HasProperty(rec.object, key)
	if has.IsException() || has.Bool() {
		return has
	}
	return e.realm.DefineProperty(rec.object, key, Undefined, Writable|Enumerable)
}
