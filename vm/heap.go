package vm

import (
	"fmt"
	"math/big"
)

// ---------------------------------------------------------------------------
// Cell: a reference-counted heap allocation
// ---------------------------------------------------------------------------

// CellKind identifies what a Cell holds.
type CellKind uint8

const (
	CellString CellKind = iota
	CellSymbol
	CellBigInt
	CellObject
	CellException
	CellEnv
	cellKindCount
)

var cellKindNames = [...]string{"string", "symbol", "bigint", "object", "exception", "env"}

func (k CellKind) String() string {
	if int(k) < len(cellKindNames) {
		return cellKindNames[k]
	}
	return fmt.Sprintf("CellKind(%d)", uint8(k))
}

// Cell is a reference-counted heap allocation. The sum of outstanding
// references equals refs; the cell is destroyed exactly when refs reaches 0.
type Cell struct {
	refs int32
	kind CellKind
	heap *Heap

	str string // string contents or symbol description
	big *big.Int
	obj *Object
	exc *exceptionRecord
	env *Env
}

// exceptionRecord is the two-field payload of an exception marker.
type exceptionRecord struct {
	payload  Value
	reported bool // throw hooks already observed this exception
}

// Kind returns the kind of allocation.
func (c *Cell) Kind() CellKind { return c.kind }

// Refs returns the current reference count.
func (c *Cell) Refs() int { return int(c.refs) }

func (c *Cell) retain() {
	if c.refs <= 0 {
		c.heap.fatalRefcount(c)
		return
	}
	c.refs++
}

func (c *Cell) release() {
	if c.refs <= 0 {
		c.heap.fatalRefcount(c)
		return
	}
	c.refs--
	if c.refs == 0 {
		c.heap.destroy(c)
	}
}

// ---------------------------------------------------------------------------
// Heap: instrumented allocator
// ---------------------------------------------------------------------------

// HeapStats is a snapshot of the heap's counters.
type HeapStats struct {
	Live             int
	LiveByKind       [cellKindCount]int
	Allocated        uint64
	Freed            uint64
	ExecutableFrames int // frames owned by executable objects
}

// Heap owns every Cell created for one Engine. It counts live allocations so
// tests and hosts can verify the ownership contract.
type Heap struct {
	live       int
	liveByKind [cellKindCount]int
	allocated  uint64
	freed      uint64
	execFrames int

	// finalize is consulted before an object holding a suspended executable
	// is destroyed. Returning true keeps the cell alive (refs is reset to 1
	// and the callee owns that reference).
	finalize func(c *Cell) bool

	// onFatal reports refcount corruption.
	onFatal func(*FatalError)
}

// NewHeap returns an empty heap.
func NewHeap() *Heap {
	return &Heap{}
}

// Live returns the number of cells that have not been destroyed.
func (h *Heap) Live() int { return h.live }

// LiveByKind returns the number of live cells of one kind.
func (h *Heap) LiveByKind(k CellKind) int { return h.liveByKind[k] }

// Stats returns a snapshot of all counters.
func (h *Heap) Stats() HeapStats {
	return HeapStats{
		Live:             h.live,
		LiveByKind:       h.liveByKind,
		Allocated:        h.allocated,
		Freed:            h.freed,
		ExecutableFrames: h.execFrames,
	}
}

func (h *Heap) alloc(kind CellKind) *Cell {
	h.live++
	h.liveByKind[kind]++
	h.allocated++
	return &Cell{refs: 1, kind: kind, heap: h}
}

// NewString allocates a string value.
func (h *Heap) NewString(s string) Value {
	c := h.alloc(CellString)
	c.str = s
	return Value{kind: KindString, cell: c}
}

// NewSymbol allocates a fresh symbol with the given description.
func (h *Heap) NewSymbol(description string) Value {
	c := h.alloc(CellSymbol)
	c.str = description
	return Value{kind: KindSymbol, cell: c}
}

// NewBigInt allocates a big integer value. The heap takes ownership of b.
func (h *Heap) NewBigInt(b *big.Int) Value {
	c := h.alloc(CellBigInt)
	c.big = b
	return Value{kind: KindBigInt, cell: c}
}

// BigInt returns the payload of a big integer value. Callers must not mutate it.
func (v Value) BigInt() *big.Int {
	if v.kind != KindBigInt {
		return nil
	}
	return v.cell.big
}

// NewObject allocates an object with the given prototype (borrowed) and class.
func (h *Heap) NewObject(proto Value, class Class) (Value, *Object) {
	c := h.alloc(CellObject)
	obj := &Object{
		proto:      proto.Copy(),
		Class:      class,
		Extensible: true,
	}
	c.obj = obj
	return Value{kind: KindObject, cell: c}, obj
}

// NewException wraps payload into an exception marker. It consumes payload.
func (h *Heap) NewException(payload Value, abort bool) Value {
	if payload.IsException() {
		if abort && !payload.IsAbort() {
			payload.bits |= excAbort
		}
		return payload
	}
	c := h.alloc(CellException)
	c.exc = &exceptionRecord{payload: payload}
	v := Value{kind: KindException, cell: c}
	if abort {
		v.bits = excAbort
	}
	return v
}

// UnwrapException returns the thrown payload of an exception marker as an
// owned value. When consume is set the marker itself is freed.
func (h *Heap) UnwrapException(v Value, consume bool) Value {
	if !v.IsException() {
		panic("vm: UnwrapException on a non-exception value")
	}
	payload := v.cell.exc.payload.Copy()
	if consume {
		v.Free()
	}
	return payload
}

// AsAbort returns an abort-flagged marker sharing v's record. The reference
// owned by v moves to the result.
func AsAbort(v Value) Value {
	if v.IsException() {
		v.bits |= excAbort
	}
	return v
}

func (h *Heap) destroy(c *Cell) {
	if c.kind == CellObject && h.finalize != nil {
		if _, ok := c.obj.Internal.(*Executable); ok && h.finalize(c) {
			return
		}
	}
	h.live--
	h.liveByKind[c.kind]--
	h.freed++
	c.refs = -1

	switch c.kind {
	case CellString, CellSymbol:
	case CellBigInt:
		c.big = nil
	case CellException:
		p := c.exc.payload
		c.exc = nil
		p.Free()
	case CellObject:
		obj := c.obj
		c.obj = nil
		obj.release()
	case CellEnv:
		env := c.env
		c.env = nil
		env.release()
	}
}

func (h *Heap) fatalRefcount(c *Cell) {
	err := &FatalError{Code: FatalRefcount, Detail: fmt.Sprintf("%s cell with count %d", c.kind, c.refs)}
	if h.onFatal != nil {
		h.onFatal(err)
		return
	}
	panic(err)
}
