package vm

import (
	"errors"
	"math/big"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("ecmavm.vm")

// DefaultMaxDepth bounds nested calls when Config.MaxDepth is zero.
const DefaultMaxDepth = 800

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds the options of an Engine.
type Config struct {
	// Realm provides every language algorithm outside control flow. Required.
	Realm Realm

	// Allocator provides frame storage. Defaults to an ArenaAllocator.
	Allocator FrameAllocator

	// MaxDepth is the nesting limit of calls before a RangeError.
	MaxDepth int

	// MaxFrameSlots rejects code whose frame needs more value slots. Zero
	// means unlimited.
	MaxFrameSlots int

	// HaltFrequency is the default polling interval of SetHaltHandler.
	HaltFrequency int

	// CheckInvariants verifies context stack accounting every time a frame
	// returns to the trampoline.
	CheckInvariants bool

	// Trace logs every call the trampoline performs.
	Trace bool

	// Debugger receives breakpoint and exception notifications.
	Debugger Debugger

	// OnThrow observes each exception once, when it is first thrown.
	OnThrow func(e *Engine, exc Value)

	// OnFatal observes unrecoverable errors before the engine panics.
	OnFatal func(err *FatalError)
}

// ErrNoRealm is returned by New when the configuration lacks a Realm.
var ErrNoRealm = errors.New("vm: config has no realm")

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine executes compiled code against one realm. An Engine is not safe for
// concurrent use; hosts that run scripts on several goroutines create one
// Engine per goroutine.
type Engine struct {
	config Config
	realm  Realm
	heap   *Heap
	alloc  FrameAllocator

	pools map[*Code]*literalPool

	globalEnv   *Cell // object environment over the global object
	globalScope *Cell // declarative environment for global lexical bindings

	top      *Frame
	depth    int
	maxDepth int

	halt          HaltFunc
	haltFrequency int
	haltCounter   int

	debugger Debugger

	directEvalPending bool

	finalizeQueue []Value
	finalizing    bool
	closed        bool
}

// New creates an engine and binds the realm to it.
func New(cfg Config) (*Engine, error) {
	if cfg.Realm == nil {
		return nil, ErrNoRealm
	}
	e := &Engine{
		config:   cfg,
		realm:    cfg.Realm,
		heap:     NewHeap(),
		alloc:    cfg.Allocator,
		pools:    make(map[*Code]*literalPool),
		maxDepth: cfg.MaxDepth,
		debugger: cfg.Debugger,
	}
	if e.alloc == nil {
		e.alloc = NewArenaAllocator(DefaultArenaSize)
	}
	if e.maxDepth <= 0 {
		e.maxDepth = DefaultMaxDepth
	}
	e.heap.finalize = e.finalizeExecutable
	e.heap.onFatal = e.fatal
	e.realm.Bind(e)

	e.globalEnv = e.heap.NewObjectEnv(e.realm.GlobalObject(), nil, false)
	e.globalScope = e.heap.NewDeclarativeEnv(e.globalEnv)
	log.Debugf("engine created (max depth %d)", e.maxDepth)
	return e, nil
}

// Close releases the engine's global environments and literal pools. Values
// still owned by the host must be freed before Close for leak accounting to
// reach zero.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.RunFinalizers()
	for code, pool := range e.pools {
		pool.release()
		delete(e.pools, code)
	}
	e.globalScope.release()
	e.globalEnv.release()
	e.globalScope, e.globalEnv = nil, nil
	e.closed = true
	log.Debugf("engine closed, %d cells live", e.heap.Live())
}

// Heap returns the engine's heap.
func (e *Engine) Heap() *Heap { return e.heap }

// Realm returns the bound realm.
func (e *Engine) Realm() Realm { return e.realm }

// Depth returns the current call nesting depth.
func (e *Engine) Depth() int { return e.depth }

// GlobalScope returns the declarative environment holding global lexical
// bindings (borrowed).
func (e *Engine) GlobalScope() *Cell { return e.globalScope }

// DirectEvalPending reports whether the native currently being called was
// reached through a direct eval call site, and clears the flag.
func (e *Engine) DirectEvalPending() bool {
	p := e.directEvalPending
	e.directEvalPending = false
	return p
}

// SetDebugger installs or removes a debugger.
func (e *Engine) SetDebugger(d Debugger) { e.debugger = d }

// NewString allocates a string value on the engine's heap.
func (e *Engine) NewString(s string) Value { return e.heap.NewString(s) }

// ---------------------------------------------------------------------------
// Literal pools
// ---------------------------------------------------------------------------

// literalPool holds the per-engine materialization of a code unit's
// identifier names and constants, plus lazily compiled regular expressions.
type literalPool struct {
	values  []Value // indexed by literal index - RegisterEnd, up to ConstLiteralEnd
	regexps map[int]any
}

func (p *literalPool) release() {
	freeValues(p.values)
	p.values = nil
	p.regexps = nil
}

func (e *Engine) poolFor(c *Code) *literalPool {
	if p, ok := e.pools[c]; ok {
		return p
	}
	p := &literalPool{values: make([]Value, c.ConstLiteralEnd-c.RegisterEnd)}
	for i := range p.values {
		lit := &c.Literals[i]
		switch lit.Kind {
		case LiteralIdent, LiteralString:
			p.values[i] = e.heap.NewString(lit.Str)
		case LiteralNumber:
			p.values[i] = FromFloat(lit.Num)
		case LiteralBigInt:
			b, ok := new(big.Int).SetString(lit.Str, 10)
			if !ok {
				b = new(big.Int)
			}
			p.values[i] = e.heap.NewBigInt(b)
		case LiteralNull:
			p.values[i] = Null
		case LiteralTrue:
			p.values[i] = True
		case LiteralFalse:
			p.values[i] = False
		default:
			p.values[i] = Undefined
		}
	}
	e.pools[c] = p
	return p
}

// literal materializes the value of literal index idx for frame f. The result
// is owned and may be an exception marker.
func (e *Engine) literal(f *Frame, idx int) Value {
	c := f.code
	switch {
	case idx < c.RegisterEnd:
		return f.slots[idx].Copy()
	case idx < c.IdentEnd:
		return e.resolveIdent(f.env, c.Literals[idx-c.RegisterEnd].Str, f.pool.values[idx-c.RegisterEnd])
	case idx < c.ConstLiteralEnd:
		return f.pool.values[idx-c.RegisterEnd].Copy()
	}
	lit := &c.Literals[idx-c.RegisterEnd]
	if lit.Kind == LiteralRegExp {
		compiled, ok := f.pool.regexps[idx]
		if !ok {
			var exc Value
			compiled, exc = e.realm.CompileRegExp(lit.Str, lit.Flags)
			if exc.IsException() {
				return exc
			}
			if f.pool.regexps == nil {
				f.pool.regexps = make(map[int]any)
			}
			f.pool.regexps[idx] = compiled
		}
		return e.realm.NewRegExp(compiled)
	}
	return e.instantiateFunction(f, lit.Func)
}

// identName returns the name and key of an identifier literal.
func (f *Frame) identName(idx int) (string, Value) {
	c := f.code
	return c.Literals[idx-c.RegisterEnd].Str, f.pool.values[idx-c.RegisterEnd]
}

func functionKind(c *Code) FunctionKind {
	switch {
	case c.Flags&FlagArrow != 0:
		return FuncArrow
	case c.Flags&FlagGenerator != 0:
		return FuncGenerator
	case c.Flags&FlagAsync != 0:
		return FuncAsync
	case c.Flags&FlagDerivedConstructor != 0:
		return FuncDerivedConstructor
	case c.Flags&FlagClassConstructor != 0:
		return FuncClassConstructor
	case c.Flags&FlagMethod != 0:
		return FuncMethod
	}
	return FuncNormal
}

// instantiateFunction creates a closure of code over the frame's environment.
func (e *Engine) instantiateFunction(f *Frame, code *Code) Value {
	f.env.retain()
	fn := &Function{
		Kind:      functionKind(code),
		Name:      code.Name,
		Code:      code,
		Scope:     f.env,
		This:      Undefined,
		FieldInit: Undefined,
	}
	if fn.Kind == FuncArrow {
		fn.This = f.this.Copy()
	}
	return e.realm.NewFunction(fn)
}

// NewNative wraps a host function in a function object through the realm.
func (e *Engine) NewNative(name string, fn NativeFunc, ctor NativeConstructor) Value {
	return e.realm.NewFunction(&Function{
		Kind:       FuncNative,
		Name:       name,
		Native:     fn,
		NativeCtor: ctor,
		This:       Undefined,
		FieldInit:  Undefined,
	})
}
