package vm

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// prepare validates code the first time it is run by this engine. Invalid
// code is reported as a SyntaxError.
func (e *Engine) prepare(code *Code) Value {
	if _, ok := e.pools[code]; ok {
		return Undefined
	}
	if err := code.Validate(); err != nil {
		log.Errorf("%s", err.Error())
		return e.ThrowError(SyntaxError, err.Error())
	}
	e.poolFor(code)
	return Undefined
}

// RunGlobal executes a script in the global scope. The result is the
// script's completion value, or an exception marker.
func (e *Engine) RunGlobal(code *Code) Value {
	if exc := e.prepare(code); exc.IsException() {
		return exc
	}
	e.globalScope.retain()
	e.globalEnv.retain()
	f := e.newFrame(code, Undefined, e.realm.GlobalObject().Copy(), Undefined, e.globalScope, e.globalEnv, nil)
	r, _ := e.runFrame(f, false)
	if e.depth == 0 {
		e.RunFinalizers()
	}
	return r
}

// EvalOptions describe how an eval body is entered.
type EvalOptions struct {
	// Direct runs the body in the environment of the calling frame.
	Direct bool
	// ChainIndex selects an outer environment of the caller: 0 is the
	// innermost.
	ChainIndex int
}

// RunEval executes an eval body. Direct eval sees the caller's environment
// and this binding; strict eval code gets a fresh declarative environment
// for its own declarations.
func (e *Engine) RunEval(code *Code, opts EvalOptions) Value {
	if exc := e.prepare(code); exc.IsException() {
		return exc
	}
	caller := e.top
	var env, varEnv *Cell
	var this Value
	strict := code.Strict()
	direct := opts.Direct && caller != nil
	if direct {
		env = caller.env
		for i := 0; i < opts.ChainIndex && env.env.outer != nil; i++ {
			env = env.env.outer
		}
		varEnv = caller.varEnv
		this = caller.this.Copy()
		strict = strict || caller.strict()
	} else {
		env = e.globalScope
		varEnv = e.globalEnv
		this = e.realm.GlobalObject().Copy()
	}
	if strict {
		env = e.heap.NewDeclarativeEnv(env)
		env.retain()
		varEnv = env
	} else {
		env.retain()
		varEnv.retain()
	}
	f := e.newFrame(code, Undefined, this, Undefined, env, varEnv, nil)
	if strict {
		f.flags |= frameStrict
	}
	if direct {
		f.flags |= frameDirectEval
	}
	r, _ := e.runFrame(f, false)
	if e.depth == 0 {
		e.RunFinalizers()
	}
	return r
}

// Module is a compiled module body and its environment. The environment is
// created on the first run and keeps the module's top-level bindings.
type Module struct {
	Code *Code
	env  *Cell
}

// NewModule wraps compiled module code.
func NewModule(code *Code) *Module {
	return &Module{Code: code}
}

// RunModule executes a module body. Module code is strict and runs with an
// undefined this over its own declarative environment.
func (e *Engine) RunModule(m *Module) Value {
	if exc := e.prepare(m.Code); exc.IsException() {
		return exc
	}
	if m.env == nil {
		m.env = e.heap.NewDeclarativeEnv(e.globalScope)
	}
	m.env.retain()
	m.env.retain()
	f := e.newFrame(m.Code, Undefined, Undefined, Undefined, m.env, m.env, nil)
	f.flags |= frameStrict
	r, _ := e.runFrame(f, false)
	if e.depth == 0 {
		e.RunFinalizers()
	}
	return r
}

// Lookup returns an owned copy of a top-level binding of the module.
func (m *Module) Lookup(name string) (Value, bool) {
	if m.env == nil {
		return Undefined, false
	}
	v, ok := m.env.env.Lookup(name)
	return v.Copy(), ok
}

// Release drops the module environment.
func (m *Module) Release() {
	if m.env != nil {
		m.env.release()
		m.env = nil
	}
}
