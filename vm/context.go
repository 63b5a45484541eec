package vm

// ---------------------------------------------------------------------------
// Context stack entries
// ---------------------------------------------------------------------------

type contextKind uint8

const (
	ctxTry contextKind = iota
	ctxCatch
	ctxFinallyJump
	ctxFinallyThrow
	ctxFinallyReturn
	ctxBlock
	ctxWith
	ctxForIn
	ctxForOf
	ctxForAwaitOf
	ctxIterator
	ctxObjInit
)

var contextNames = [...]string{
	"try", "catch", "finally-jump", "finally-throw", "finally-return",
	"block", "with", "for-in", "for-of", "for-await-of", "iterator", "obj-init",
}

func (k contextKind) String() string {
	if int(k) < len(contextNames) {
		return contextNames[k]
	}
	return "unknown"
}

// contextSize is the stack charge of each entry kind.
var contextSize = [...]int{
	ctxTry:           1,
	ctxCatch:         1,
	ctxFinallyJump:   2,
	ctxFinallyThrow:  2,
	ctxFinallyReturn: 2,
	ctxBlock:         1,
	ctxWith:          1,
	ctxForIn:         4,
	ctxForOf:         4,
	ctxForAwaitOf:    4,
	ctxIterator:      3,
	ctxObjInit:       3,
}

func (k contextKind) isFinally() bool {
	return k == ctxFinallyJump || k == ctxFinallyThrow || k == ctxFinallyReturn
}

// contextEntry records one active try/catch/finally region, block scope,
// with statement, loop or destructuring context.
type contextEntry struct {
	kind  contextKind
	start int // finally body start
	end   int // end offset used by the jump search
	base  int // operand depth when the entry was pushed

	hasEnv        bool
	closeIterator bool
	done          bool

	value    Value // finally payload, next loop value
	iterator Value
	next     Value
	object   Value   // for-in subject or destructuring source
	keys     []Value // for-in keys or destructuring exclusions
	index    int
	target   int // finally-jump target
}

// pushContext pushes a new entry of kind whose jump-search end is end.
func (e *Engine) pushContext(f *Frame, kind contextKind, end int) *contextEntry {
	size := contextSize[kind]
	if f.sp+f.contextDepth+size > f.code.StackLimit {
		e.fatal(&FatalError{Code: FatalFrameSize, Detail: "context stack overflow in " + f.code.Name, Offset: f.cursor})
	}
	f.contexts = append(f.contexts, contextEntry{kind: kind, end: end, base: f.sp, target: -1})
	f.contextDepth += size
	return &f.contexts[len(f.contexts)-1]
}

// topContext returns the innermost entry, or nil.
func (f *Frame) topContext() *contextEntry {
	if len(f.contexts) == 0 {
		return nil
	}
	return &f.contexts[len(f.contexts)-1]
}

// convertContext changes the kind of the top entry and adjusts the charge.
func (f *Frame) convertContext(kind contextKind) *contextEntry {
	top := f.topContext()
	f.contextDepth += contextSize[kind] - contextSize[top.kind]
	top.kind = kind
	return top
}

// pushContextEnv gives the top entry a fresh declarative environment.
func (e *Engine) pushContextEnv(f *Frame, ctx *contextEntry) {
	f.env = e.heap.NewDeclarativeEnvOwned(f.env)
	ctx.hasEnv = true
}

// popContextEnv restores the environment that was current before the entry
// created its own.
func (f *Frame) popContextEnv(ctx *contextEntry) {
	if !ctx.hasEnv {
		return
	}
	ctx.hasEnv = false
	env := f.env
	f.env = env.env.outer
	f.env.retain()
	env.release()
}

// popContext removes the top entry. Operands above its base are freed. When
// close is set an open iterator is closed; the result is an exception marker
// from the close or Undefined.
func (e *Engine) popContext(f *Frame, close bool) Value {
	ctx := f.topContext()
	f.truncate(ctx.base)
	f.popContextEnv(ctx)

	result := Undefined
	if close && ctx.closeIterator && !ctx.iterator.IsUndefined() {
		ctx.closeIterator = false
		r := e.realm.IteratorClose(ctx.iterator)
		if r.IsException() {
			result = r
		} else {
			r.Free()
		}
	}

	ctx.value.Free()
	ctx.iterator.Free()
	ctx.next.Free()
	ctx.object.Free()
	freeValues(ctx.keys)
	f.contextDepth -= contextSize[ctx.kind]
	f.contexts[len(f.contexts)-1] = contextEntry{}
	f.contexts = f.contexts[:len(f.contexts)-1]
	return result
}

// needsCleanup reports whether abandoning the frame would skip script-visible
// work: finally bodies or iterator closes.
func (f *Frame) needsCleanup() bool {
	for i := range f.contexts {
		c := &f.contexts[i]
		if c.closeIterator {
			return true
		}
		switch c.kind {
		case ctxFinallyJump, ctxFinallyThrow, ctxFinallyReturn:
			return true
		case ctxTry, ctxCatch:
			if f.hasFinally(c) {
				return true
			}
		}
	}
	return false
}

// base maps a branch opcode of any width to the 1-byte form of its family.
func (op Opcode) base() Opcode {
	if !op.valid() {
		return op
	}
	d := &decodeTable[op]
	if d.branch == 0 {
		return op
	}
	return op - Opcode(d.branch-1)
}

// NewDeclarativeEnvOwned allocates a declarative environment and takes over
// the caller's reference to outer.
func (h *Heap) NewDeclarativeEnvOwned(outer *Cell) *Cell {
	c := h.alloc(CellEnv)
	c.env = &Env{kind: envDeclarative, outer: outer, bindings: make(map[string]*binding)}
	return c
}
