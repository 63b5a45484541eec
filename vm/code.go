package vm

import (
	"errors"
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Compiled code units
// ---------------------------------------------------------------------------

// CodeFlags describe a compiled code unit.
type CodeFlags uint16

const (
	FlagStrict CodeFlags = 1 << iota
	FlagFullLiteralEncoding
	FlagArrow
	FlagGenerator
	FlagAsync
	FlagClassConstructor
	FlagDerivedConstructor
	FlagMethod
	FlagArgumentsNeeded
	FlagLexicalEnvNotNeeded
	FlagDebuggerIgnore
)

// LiteralKind tags an entry of the literal table.
type LiteralKind uint8

const (
	LiteralIdent LiteralKind = iota
	LiteralString
	LiteralNumber
	LiteralBigInt // Str holds the decimal digits
	LiteralUndefined
	LiteralNull
	LiteralTrue
	LiteralFalse
	LiteralFunction
	LiteralRegExp // Str holds the pattern, Flags the flags
)

func (k LiteralKind) String() string {
	switch k {
	case LiteralIdent:
		return "ident"
	case LiteralString:
		return "string"
	case LiteralNumber:
		return "number"
	case LiteralBigInt:
		return "bigint"
	case LiteralUndefined:
		return "undefined"
	case LiteralNull:
		return "null"
	case LiteralTrue:
		return "true"
	case LiteralFalse:
		return "false"
	case LiteralFunction:
		return "function"
	case LiteralRegExp:
		return "regexp"
	}
	return fmt.Sprintf("LiteralKind(%d)", uint8(k))
}

// Literal is one entry of a code unit's literal table.
type Literal struct {
	Kind  LiteralKind
	Str   string
	Num   float64
	Flags string
	Func  *Code
}

// LineEntry maps a bytecode offset to a source line.
type LineEntry struct {
	Offset int
	Line   int
}

// Code is an immutable compiled unit: a script, eval body, module body or
// function. Literal indices are partitioned into four ranges:
//
//	[0, RegisterEnd)               registers; [0, ArgumentEnd) are arguments
//	[RegisterEnd, IdentEnd)        identifiers resolved through environments
//	[IdentEnd, ConstLiteralEnd)    constants materialized once per engine
//	[ConstLiteralEnd, LiteralEnd)  templates instantiated on every read
//
// Literals holds the entries for indices [RegisterEnd, LiteralEnd).
type Code struct {
	Name   string
	Source string
	Flags  CodeFlags

	ArgumentEnd     int
	RegisterEnd     int
	IdentEnd        int
	ConstLiteralEnd int
	LiteralEnd      int
	StackLimit      int

	Literals []Literal
	Bytecode []byte
	Lines    []LineEntry
}

// Strict reports whether the unit is strict mode code.
func (c *Code) Strict() bool { return c.Flags&FlagStrict != 0 }

// Literal returns the table entry for a literal index >= RegisterEnd.
func (c *Code) Literal(idx int) *Literal {
	return &c.Literals[idx-c.RegisterEnd]
}

// FrameSize is the number of value slots a frame for this unit needs.
func (c *Code) FrameSize() int { return c.RegisterEnd + c.StackLimit }

// LineAt returns the source line of the instruction at offset, or 0.
func (c *Code) LineAt(offset int) int {
	i := sort.Search(len(c.Lines), func(i int) bool { return c.Lines[i].Offset > offset })
	if i == 0 {
		return 0
	}
	return c.Lines[i-1].Line
}

// ErrInvalidCode is wrapped by every Validate failure.
var ErrInvalidCode = errors.New("invalid code")

// Validate checks the structural invariants of c and of every nested
// function template. The dispatch loop trusts validated code.
func (c *Code) Validate() error {
	if err := c.validate(); err != nil {
		name := c.Name
		if name == "" {
			name = "<anonymous>"
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidCode, name, err)
	}
	for i := range c.Literals {
		if c.Literals[i].Kind == LiteralFunction {
			if err := c.Literals[i].Func.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Code) validate() error {
	switch {
	case c.ArgumentEnd < 0 || c.ArgumentEnd > c.RegisterEnd:
		return fmt.Errorf("argument end %d outside registers", c.ArgumentEnd)
	case c.RegisterEnd > c.IdentEnd || c.IdentEnd > c.ConstLiteralEnd || c.ConstLiteralEnd > c.LiteralEnd:
		return errors.New("literal ranges out of order")
	case len(c.Literals) != c.LiteralEnd-c.RegisterEnd:
		return fmt.Errorf("literal table has %d entries, want %d", len(c.Literals), c.LiteralEnd-c.RegisterEnd)
	case c.StackLimit < 0 || c.StackLimit > 0xffff:
		return fmt.Errorf("stack limit %d out of range", c.StackLimit)
	case len(c.Bytecode) == 0:
		return errors.New("empty bytecode")
	}
	full := c.Flags&FlagFullLiteralEncoding != 0
	if !full && c.LiteralEnd > MaxSmallLiteral+1 {
		return fmt.Errorf("%d literals need the full encoding", c.LiteralEnd)
	}
	if c.LiteralEnd > MaxFullLiteral+1 {
		return fmt.Errorf("%d literals exceed the encoding limit", c.LiteralEnd)
	}
	for i := range c.Literals {
		idx := c.RegisterEnd + i
		k := c.Literals[i].Kind
		switch {
		case idx < c.IdentEnd && k != LiteralIdent:
			return fmt.Errorf("literal %d: %s in identifier range", idx, k)
		case idx >= c.IdentEnd && idx < c.ConstLiteralEnd && (k == LiteralIdent || k == LiteralFunction || k == LiteralRegExp):
			return fmt.Errorf("literal %d: %s in constant range", idx, k)
		case idx >= c.ConstLiteralEnd && k != LiteralFunction && k != LiteralRegExp:
			return fmt.Errorf("literal %d: %s in template range", idx, k)
		case k == LiteralFunction && c.Literals[i].Func == nil:
			return fmt.Errorf("literal %d: function without code", idx)
		}
	}

	for pos := 0; pos < len(c.Bytecode); {
		in, err := c.safeDecode(pos, full)
		if err != nil {
			return err
		}
		if in.Target >= 0 && in.Target > len(c.Bytecode) {
			return fmt.Errorf("%04d: branch target %d out of range", pos, in.Target)
		}
		if in.Target == -1 && in.Op.Info().Branch > 0 {
			return fmt.Errorf("%04d: negative branch target", pos)
		}
		for _, l := range in.Literals {
			if l >= c.LiteralEnd {
				return fmt.Errorf("%04d: literal index %d out of range", pos, l)
			}
		}
		switch decodeTable[in.Op].group {
		case groupPopBlock, groupReturn:
			if c.RegisterEnd == 0 && (in.Op == OpPopBlock || in.Op == OpReturnBlock) {
				return fmt.Errorf("%04d: block result without registers", pos)
			}
		}
		pos = in.Next
	}
	return nil
}

func (c *Code) safeDecode(pos int, full bool) (in Instruction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%04d: truncated instruction", pos)
		}
	}()
	return DecodeInstruction(c.Bytecode, pos, full)
}
