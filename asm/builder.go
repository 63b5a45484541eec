// Package asm assembles vm.Code units. A Builder collects instructions with
// symbolic operands and labels; Build lays out the literal table, picks the
// literal encoding and relaxes every branch to the narrowest offset width.
package asm

import (
	"fmt"
	"math"

	"github.com/chazu/ecmavm/vm"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error reports a problem found while assembling a unit.
type Error struct {
	Unit string // code unit name
	Line int    // source line of the offending instruction, 0 when unknown
	Msg  string
}

func (e *Error) Error() string {
	unit := e.Unit
	if unit == "" {
		unit = "<anonymous>"
	}
	if e.Line > 0 {
		return fmt.Sprintf("asm: %s:%d: %s", unit, e.Line, e.Msg)
	}
	return fmt.Sprintf("asm: %s: %s", unit, e.Msg)
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

type operandKind uint8

const (
	operandRegister operandKind = iota
	operandIdent
	operandConst
	operandTemplate
)

// Operand is a literal reference whose final index is only known once the
// literal table is laid out.
type Operand struct {
	kind  operandKind
	index int // register number or position within its pool
}

type constKey struct {
	kind vm.LiteralKind
	str  string
	bits uint64
}

// Label marks a branch target.
type Label struct {
	name  string
	item  int // index of the first instruction after the mark, -1 while unbound
	bound bool
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

type item struct {
	op       vm.Opcode
	operands []Operand
	byteOp   int
	label    *Label
	line     int

	width  int // branch offset bytes
	offset int
}

// Builder accumulates one code unit.
type Builder struct {
	name       string
	source     string
	flags      vm.CodeFlags
	params     int
	registers  int
	stackLimit int

	idents   []string
	identIdx map[string]int
	consts   []vm.Literal
	constIdx map[constKey]int
	temps    []vm.Literal

	items  []item
	labels []*Label
	line   int
	err    error
}

// New returns an empty builder for a unit called name.
func New(name string) *Builder {
	return &Builder{
		name:     name,
		identIdx: make(map[string]int),
		constIdx: make(map[constKey]int),
	}
}

// SetFlags replaces the unit's code flags. The literal encoding flag is
// chosen by Build and ignored here.
func (b *Builder) SetFlags(f vm.CodeFlags) *Builder {
	b.flags = f &^ vm.FlagFullLiteralEncoding
	return b
}

// SetSource records the source file name reported in backtraces.
func (b *Builder) SetSource(src string) *Builder {
	b.source = src
	return b
}

// SetParams sets the number of argument registers. Registers grow to cover
// them.
func (b *Builder) SetParams(n int) *Builder {
	b.params = n
	if b.registers < n {
		b.registers = n
	}
	return b
}

// SetRegisters sets the register count.
func (b *Builder) SetRegisters(n int) *Builder {
	b.registers = n
	return b
}

// SetStackLimit overrides the computed operand stack bound.
func (b *Builder) SetStackLimit(n int) *Builder {
	b.stackLimit = n
	return b
}

// Line sets the source line attributed to the following instructions.
func (b *Builder) Line(n int) { b.line = n }

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = &Error{Unit: b.name, Line: b.line, Msg: fmt.Sprintf(format, args...)}
	}
}

// Reg refers to register i.
func (b *Builder) Reg(i int) Operand { return Operand{kind: operandRegister, index: i} }

// Ident refers to an identifier resolved through the environment chain.
func (b *Builder) Ident(name string) Operand {
	i, ok := b.identIdx[name]
	if !ok {
		i = len(b.idents)
		b.idents = append(b.idents, name)
		b.identIdx[name] = i
	}
	return Operand{kind: operandIdent, index: i}
}

func (b *Builder) constant(lit vm.Literal) Operand {
	k := constKey{kind: lit.Kind, str: lit.Str, bits: math.Float64bits(lit.Num)}
	i, ok := b.constIdx[k]
	if !ok {
		i = len(b.consts)
		b.consts = append(b.consts, lit)
		b.constIdx[k] = i
	}
	return Operand{kind: operandConst, index: i}
}

// String refers to a string constant.
func (b *Builder) String(s string) Operand {
	return b.constant(vm.Literal{Kind: vm.LiteralString, Str: s})
}

// Number refers to a number constant.
func (b *Builder) Number(f float64) Operand {
	return b.constant(vm.Literal{Kind: vm.LiteralNumber, Num: f})
}

// BigInt refers to a bigint constant given as decimal digits.
func (b *Builder) BigInt(digits string) Operand {
	return b.constant(vm.Literal{Kind: vm.LiteralBigInt, Str: digits})
}

func (b *Builder) Undefined() Operand { return b.constant(vm.Literal{Kind: vm.LiteralUndefined}) }
func (b *Builder) Null() Operand      { return b.constant(vm.Literal{Kind: vm.LiteralNull}) }
func (b *Builder) True() Operand      { return b.constant(vm.Literal{Kind: vm.LiteralTrue}) }
func (b *Builder) False() Operand     { return b.constant(vm.Literal{Kind: vm.LiteralFalse}) }

// Func refers to a function template; every read creates a new closure.
func (b *Builder) Func(code *vm.Code) Operand {
	if code == nil {
		b.fail("nil function template")
	}
	b.temps = append(b.temps, vm.Literal{Kind: vm.LiteralFunction, Func: code})
	return Operand{kind: operandTemplate, index: len(b.temps) - 1}
}

// RegExp refers to a regular expression template.
func (b *Builder) RegExp(pattern, flags string) Operand {
	b.temps = append(b.temps, vm.Literal{Kind: vm.LiteralRegExp, Str: pattern, Flags: flags})
	return Operand{kind: operandTemplate, index: len(b.temps) - 1}
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (b *Builder) add(it item) {
	if !it.op.Valid() {
		b.fail("invalid opcode 0x%03X", uint16(it.op))
		return
	}
	it.line = b.line
	b.items = append(b.items, it)
}

// Emit appends an instruction without a byte operand or branch.
func (b *Builder) Emit(op vm.Opcode, operands ...Operand) {
	info := op.Info()
	switch {
	case info.Branch > 0:
		b.fail("%s needs a label", info.Name)
		return
	case info.ByteOperand:
		b.fail("%s needs a byte operand", info.Name)
		return
	}
	if !b.checkOperands(info, operands) {
		return
	}
	b.add(item{op: op, operands: operands})
}

// EmitByte appends an instruction carrying a one byte operand.
func (b *Builder) EmitByte(op vm.Opcode, n int, operands ...Operand) {
	info := op.Info()
	if !info.ByteOperand {
		b.fail("%s takes no byte operand", info.Name)
		return
	}
	if n < 0 || n > 255 {
		b.fail("%s: byte operand %d out of range", info.Name, n)
		return
	}
	if !b.checkOperands(info, operands) {
		return
	}
	b.add(item{op: op, operands: operands, byteOp: n})
}

// Jump appends a branch of the family op to label. The offset width is
// chosen by Build; plain jumps and conditional branches also flip between
// their forward and backward forms as needed.
func (b *Builder) Jump(op vm.Opcode, l *Label) {
	info := op.Info()
	if info.Branch != 1 {
		b.fail("%s is not the base form of a branch family", info.Name)
		return
	}
	b.add(item{op: op, label: l, width: 1})
}

func (b *Builder) checkOperands(info vm.OpcodeInfo, operands []Operand) bool {
	want := info.Literals
	if info.PutIdent {
		want++
	}
	if len(operands) != want {
		b.fail("%s takes %d literal operands, got %d", info.Name, want, len(operands))
		return false
	}
	return true
}

// NewLabel creates an unbound label.
func (b *Builder) NewLabel(name string) *Label {
	l := &Label{name: name, item: -1}
	b.labels = append(b.labels, l)
	return l
}

// Mark binds l to the position of the next instruction. Marking a label
// twice is a programming error.
func (b *Builder) Mark(l *Label) {
	if l.bound {
		panic("asm: label " + l.name + " already marked")
	}
	l.bound = true
	l.item = len(b.items)
}

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int { return len(b.items) }

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

// opposite pairs the branch families that exist in both directions.
var opposite = map[vm.Opcode]vm.Opcode{
	vm.OpJumpForward:           vm.OpJumpBackward,
	vm.OpJumpBackward:          vm.OpJumpForward,
	vm.OpBranchIfTrueForward:   vm.OpBranchIfTrueBackward,
	vm.OpBranchIfTrueBackward:  vm.OpBranchIfTrueForward,
	vm.OpBranchIfFalseForward:  vm.OpBranchIfFalseBackward,
	vm.OpBranchIfFalseBackward: vm.OpBranchIfFalseForward,
}

// contextOpeners are charged the largest context entry when bounding the
// operand stack.
var contextOpeners = map[vm.Opcode]bool{
	vm.OpBlockCreateContext:    true,
	vm.OpWith:                  true,
	vm.OpTry:                   true,
	vm.OpForInInit:             true,
	vm.OpForOfInit:             true,
	vm.OpForAwaitOfInit:        true,
	vm.OpIteratorContextCreate: true,
	vm.OpObjInitContextCreate:  true,
}

const maxContextCharge = 4

func opcodeSize(op vm.Opcode) int {
	if op.Info().Extended {
		return 2
	}
	return 1
}

func (b *Builder) literalIndex(o Operand) int {
	switch o.kind {
	case operandRegister:
		return o.index
	case operandIdent:
		return b.registers + o.index
	case operandConst:
		return b.registers + len(b.idents) + o.index
	}
	return b.registers + len(b.idents) + len(b.consts) + o.index
}

func literalSize(idx int, full bool) int {
	limit := 255
	if full {
		limit = 128
	}
	if idx < limit {
		return 1
	}
	return 2
}

func (b *Builder) itemSize(it *item, full bool) int {
	n := opcodeSize(it.op) + it.width
	if it.op.Info().ByteOperand {
		n++
	}
	for _, o := range it.operands {
		n += literalSize(b.literalIndex(o), full)
	}
	return n
}

// layout assigns offsets and returns the code length.
func (b *Builder) layout(full bool) int {
	pos := 0
	for i := range b.items {
		b.items[i].offset = pos
		pos += b.itemSize(&b.items[i], full)
	}
	return pos
}

func widthFor(dist int) int {
	switch {
	case dist <= 0xff:
		return 1
	case dist <= 0xffff:
		return 2
	case dist <= 0xffffff:
		return 3
	}
	return 0
}

// relax widens branches until every offset fits. Widths only grow, so the
// loop terminates.
func (b *Builder) relax(full bool) (int, error) {
	for {
		end := b.layout(full)
		changed := false
		for i := range b.items {
			it := &b.items[i]
			if it.label == nil {
				continue
			}
			target := end
			if it.label.item < len(b.items) {
				target = b.items[it.label.item].offset
			}
			backward := target < it.offset
			if backward != it.op.Info().Backward {
				alt, ok := opposite[it.op]
				if !ok {
					return 0, &Error{Unit: b.name, Line: it.line, Msg: fmt.Sprintf("%s cannot branch to %s in that direction", it.op.Info().Name, it.label.name)}
				}
				it.op = alt
			}
			dist := target - it.offset
			if dist < 0 {
				dist = -dist
			}
			w := widthFor(dist)
			if w == 0 {
				return 0, &Error{Unit: b.name, Line: it.line, Msg: "branch to " + it.label.name + " out of range"}
			}
			if w > it.width {
				it.width = w
				changed = true
			}
		}
		if !changed {
			return end, nil
		}
	}
}

func (b *Builder) stackBound() int {
	if b.stackLimit > 0 {
		return b.stackLimit
	}
	n := 2
	for i := range b.items {
		it := &b.items[i]
		info := it.op.Info()
		switch {
		case info.StackEffect > 0:
			n += info.StackEffect
		case info.StackEffect == -128:
			n++
		}
		if contextOpeners[it.op] {
			n += maxContextCharge
		}
	}
	return n
}

// Build lays out the unit and returns the validated code.
func (b *Builder) Build() (*vm.Code, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.items) == 0 {
		return nil, &Error{Unit: b.name, Msg: "no instructions"}
	}
	for _, l := range b.labels {
		if !l.bound {
			return nil, &Error{Unit: b.name, Msg: "label " + l.name + " never marked"}
		}
	}
	for _, it := range b.items {
		for _, o := range it.operands {
			if o.kind == operandRegister && (o.index < 0 || o.index >= b.registers) {
				return nil, &Error{Unit: b.name, Line: it.line, Msg: fmt.Sprintf("register r%d outside %d registers", o.index, b.registers)}
			}
		}
	}

	c := &vm.Code{
		Name:        b.name,
		Source:      b.source,
		Flags:       b.flags,
		ArgumentEnd: b.params,
		RegisterEnd: b.registers,
	}
	c.IdentEnd = c.RegisterEnd + len(b.idents)
	c.ConstLiteralEnd = c.IdentEnd + len(b.consts)
	c.LiteralEnd = c.ConstLiteralEnd + len(b.temps)
	full := c.LiteralEnd > vm.MaxSmallLiteral+1
	if full {
		c.Flags |= vm.FlagFullLiteralEncoding
	}
	for _, name := range b.idents {
		c.Literals = append(c.Literals, vm.Literal{Kind: vm.LiteralIdent, Str: name})
	}
	c.Literals = append(c.Literals, b.consts...)
	c.Literals = append(c.Literals, b.temps...)

	size, err := b.relax(full)
	if err != nil {
		return nil, err
	}
	c.StackLimit = b.stackBound()
	c.Bytecode = make([]byte, 0, size)
	lastLine := 0
	for i := range b.items {
		it := &b.items[i]
		if it.line > 0 && it.line != lastLine {
			c.Lines = append(c.Lines, vm.LineEntry{Offset: it.offset, Line: it.line})
			lastLine = it.line
		}
		c.Bytecode = b.encode(c.Bytecode, it, size, full)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("asm: %w", err)
	}
	return c, nil
}

func (b *Builder) encode(dst []byte, it *item, end int, full bool) []byte {
	op := it.op
	if it.label != nil {
		op = vm.BranchWidth(op, it.width)
	}
	if op.Info().Extended {
		dst = append(dst, vm.OpExt, byte(op))
	} else {
		dst = append(dst, byte(op))
	}
	if it.label != nil {
		target := end
		if it.label.item < len(b.items) {
			target = b.items[it.label.item].offset
		}
		dist := target - it.offset
		if dist < 0 {
			dist = -dist
		}
		for s := (it.width - 1) * 8; s >= 0; s -= 8 {
			dst = append(dst, byte(dist>>s))
		}
	}
	if op.Info().ByteOperand {
		dst = append(dst, byte(it.byteOp))
	}
	for _, o := range it.operands {
		dst = vm.AppendLiteralIndex(dst, b.literalIndex(o), full)
	}
	return dst
}
