package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a decoded instruction. Basic opcodes occupy one byte; extended
// opcodes are encoded as OpExt followed by one byte and decode to 0x100|byte.
type Opcode uint16

// OpExt is the escape byte introducing an extended opcode.
const OpExt = 0xFF

const extBase Opcode = 0x100

// Stack and literal pushes
const (
	OpNop                 Opcode = iota
	OpPop                        // discard top of stack
	OpPopBlock                   // pop into the block result register
	OpPush                       // push literal
	OpPushTwo                    // push two literals
	OpPushUndefined              // push undefined
	OpPushNull                   // push null
	OpPushTrue                   // push true
	OpPushFalse                  // push false
	OpPushThis                   // push this (checked for derived constructors)
	OpPushZero                   // push 0
	OpPushPosByte                // push byte+1
	OpPushNegByte                // push -(byte+1)
	OpPushObject                 // push a new empty object
	OpArrayLiteral               // pop byte items, push array
	OpSetProperty                // obj value -> obj; define literal key
	OpSetComputedProperty        // obj key value -> obj
	OpPropGet                    // obj key -> value
	OpPropGetLiteral             // obj -> value (literal key)
	OpPropGetThisLiteral         // -> this[literal]
	OpPropReference              // obj -> obj key value (literal key)
	OpPropDelete                 // obj key -> bool
	OpAssign                     // value -> ident
	OpAssignPush                 // value -> ident, push value
	OpAssignBlock                // value -> ident, block result
	OpAssignLiteral              // literal -> ident
	OpAssignProp                 // obj key value -> (store)
	OpAssignPropPush             // obj key value -> value

	// Unary operators
	OpPlus
	OpNegate
	OpNot
	OpBitNot
	OpVoid
	OpTypeof
	OpTypeofIdent // literal ident, no ReferenceError
	OpIncr
	OpDecr

	// Bindings
	OpCreateVar  // literal ident
	OpCreateLet  // literal ident, uninitialized
	OpCreateConst
	OpInitBinding // value -> initialize literal ident

	// Calls: byte argument count follows
	OpCall
	OpCallPush
	OpCallBlock
	OpCallProp // this key fn args...
	OpCallPropPush
	OpCallPropBlock
	OpNew
	OpEval // marks the next call as a direct eval candidate

	// Completions
	OpReturn
	OpReturnBlock
	OpReturnLiteral
	OpReturnFunctionEnd
	OpThrow
	OpContextEnd

	// Debugger
	OpBreakpointEnabled
	OpBreakpointDisabled

	basicFixedEnd
)

// Binary operators. Each operator has three consecutive encodings: both
// operands on the stack, right operand a literal, both operands literals.
// Use RightLiteral and TwoLiterals to derive the other two.
const (
	OpAdd Opcode = basicFixedEnd + iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpExp
	OpBitOr
	OpBitXor
	OpBitAnd
	OpShl
	OpShr
	OpUShr
	OpEqual
	OpNotEqual
	OpStrictEqual
	OpStrictNotEqual
	OpLess
	OpGreater
	OpLessEqual
	OpGreaterEqual
	OpIn
	OpInstanceof

	binaryEnd
)

const binaryCount = binaryEnd - OpAdd

// RightLiteral returns the encoding of a binary opcode whose right operand
// is a literal.
func RightLiteral(op Opcode) Opcode { return op + binaryCount }

// TwoLiterals returns the encoding of a binary opcode whose operands are
// both literals.
func TwoLiterals(op Opcode) Opcode { return op + 2*binaryCount }

// Branch families. Each family has three consecutive encodings carrying a 1,
// 2 or 3 byte big-endian offset relative to the start of the instruction.
// Use BranchWidth to select one.
const (
	OpJumpForward Opcode = binaryEnd + 2*binaryCount + 3*iota
	OpJumpBackward
	OpBranchIfTrueForward
	OpBranchIfTrueBackward
	OpBranchIfFalseForward
	OpBranchIfFalseBackward
	OpBranchIfLogicalTrue  // keeps the value when the branch is taken
	OpBranchIfLogicalFalse // keeps the value when the branch is taken
	OpBranchIfStrictEqual  // switch case: pops case value, compares with top
	OpDefaultInitializer   // skips the default when top is not undefined
	OpJumpForwardExitContext
	OpBlockCreateContext
	OpWith
	OpTry
	OpCatch
	OpFinally
	OpForInInit
	OpForInHasNext
	OpForOfInit
	OpForOfHasNext

	basicEnd
)

// BranchWidth returns the encoding of a branch family using width offset bytes.
func BranchWidth(op Opcode, width int) Opcode {
	return op + Opcode(width-1)
}

// Extended opcodes
const (
	OpTryCreateEnv Opcode = extBase + iota
	OpForInGetNext
	OpForOfGetNext
	OpIteratorContextCreate
	OpIteratorStep
	OpIteratorContextEnd
	OpRestInitializer
	OpObjInitContextCreate
	OpObjInitPushProp // literal key
	OpObjInitPushRest
	OpObjInitContextEnd
	OpCreateGenerator
	OpYield
	OpAwait
	OpInitClass        // ctor -> ctor proto
	OpInitDerivedClass // heritage ctor -> ctor proto
	OpDefineMethod     // ctor proto fn -> ctor proto (literal key)
	OpDefineStaticMethod
	OpSetFieldInit // ctor proto fn -> ctor proto
	OpFinalizeClass
	OpRunFieldInit
	OpPushSuperConstructor
	OpSuperCall // byte argc
	OpPushNewTarget
	OpSpreadElement // marks the top of stack as a spread argument
	OpSpreadCall    // byte argc (stack items, markers included)
	OpSpreadCallPush
	OpSpreadCallProp
	OpSpreadCallPropPush
	OpSpreadNew
	OpSpreadSuperCall
	OpCreateArguments // -> ident
	OpThrowReferenceError
	OpThrowConstAssignment

	extFixedEnd
)

// Extended branch families.
const (
	OpForAwaitOfInit Opcode = extFixedEnd + 3*iota
	OpForAwaitOfStep
	OpForAwaitOfHasNext

	extEnd
)

// ---------------------------------------------------------------------------
// Decode descriptors
// ---------------------------------------------------------------------------

type opGroup uint8

const (
	groupInvalid opGroup = iota
	groupNop
	groupPop
	groupPopBlock
	groupPush
	groupPushTwo
	groupPushImmediate
	groupPushThis
	groupPushObject
	groupArrayLiteral
	groupSetProperty
	groupSetComputedProperty
	groupPropGet
	groupPropReference
	groupPropDelete
	groupAssign
	groupBinary
	groupStrictEqual
	groupUnary
	groupNot
	groupVoid
	groupTypeof
	groupTypeofIdent
	groupIncrDecr
	groupCreateBinding
	groupInitBinding
	groupCreateArguments
	groupJump
	groupBranchIf
	groupBranchLogical
	groupBranchStrictEqual
	groupDefaultInitializer
	groupCall
	groupNew
	groupEval
	groupSuperCall
	groupSpreadElement
	groupSpreadCall
	groupReturn
	groupThrow
	groupThrowReferenceError
	groupThrowConstAssignment
	groupContextEnd
	groupJumpExitContext
	groupBlockContext
	groupWith
	groupTry
	groupCatch
	groupFinally
	groupTryCreateEnv
	groupForInInit
	groupForInGetNext
	groupForInHasNext
	groupForOfInit
	groupForOfGetNext
	groupForOfHasNext
	groupForAwaitOfInit
	groupForAwaitOfStep
	groupForAwaitOfHasNext
	groupIteratorContextCreate
	groupIteratorStep
	groupIteratorContextEnd
	groupRestInitializer
	groupObjInitContextCreate
	groupObjInitPushProp
	groupObjInitPushRest
	groupObjInitContextEnd
	groupCreateGenerator
	groupYield
	groupAwait
	groupInitClass
	groupDefineMethod
	groupSetFieldInit
	groupFinalizeClass
	groupRunFieldInit
	groupPushSuperConstructor
	groupPushNewTarget
	groupBreakpoint
)

// opArgs is the operand-fetch mode of an instruction.
type opArgs uint8

const (
	argNone opArgs = iota
	argBranch
	argStack
	argStackStack
	argLiteral
	argLiteralLiteral
	argStackLiteral
	argThisLiteral
	argByte
)

// opPut is the set of result placements of an instruction.
type opPut uint8

const (
	putStack     opPut = 1 << iota // push the result
	putBlock                       // store into register 0
	putIdent                       // store into a literal-addressed binding
	putReference                   // store into base[key] popped from the stack
)

// varEffect marks instructions whose stack effect depends on an operand.
const varEffect = -128

type descriptor struct {
	name     string
	group    opGroup
	args     opArgs
	put      opPut
	operator Operator
	branch   uint8 // offset bytes; 0 when the instruction has no branch
	backward bool
	stack    int8 // net stack effect, or varEffect
}

var decodeTable [extEnd]descriptor

func def(op Opcode, name string, group opGroup, args opArgs, put opPut, stack int8) {
	decodeTable[op] = descriptor{name: name, group: group, args: args, put: put, stack: stack}
}

func defBranch(op Opcode, name string, group opGroup, backward bool, stack int8) {
	for w := 1; w <= 3; w++ {
		n := name
		if w > 1 {
			n = fmt.Sprintf("%s_%d", name, w)
		}
		decodeTable[op+Opcode(w-1)] = descriptor{
			name: n, group: group, args: argBranch, branch: uint8(w), backward: backward, stack: stack,
		}
	}
}

var binaryNames = [...]string{
	"ADD", "SUB", "MUL", "DIV", "MOD", "EXP", "BIT_OR", "BIT_XOR", "BIT_AND",
	"SHL", "SHR", "USHR", "EQUAL", "NOT_EQUAL", "STRICT_EQUAL", "STRICT_NOT_EQUAL",
	"LESS", "GREATER", "LESS_EQUAL", "GREATER_EQUAL", "IN", "INSTANCEOF",
}

func init() {
	def(OpNop, "NOP", groupNop, argNone, 0, 0)
	def(OpPop, "POP", groupPop, argNone, 0, -1)
	def(OpPopBlock, "POP_BLOCK", groupPopBlock, argNone, 0, -1)
	def(OpPush, "PUSH", groupPush, argLiteral, putStack, 1)
	def(OpPushTwo, "PUSH_TWO", groupPushTwo, argLiteralLiteral, 0, 2)
	def(OpPushUndefined, "PUSH_UNDEFINED", groupPushImmediate, argNone, putStack, 1)
	def(OpPushNull, "PUSH_NULL", groupPushImmediate, argNone, putStack, 1)
	def(OpPushTrue, "PUSH_TRUE", groupPushImmediate, argNone, putStack, 1)
	def(OpPushFalse, "PUSH_FALSE", groupPushImmediate, argNone, putStack, 1)
	def(OpPushThis, "PUSH_THIS", groupPushThis, argNone, putStack, 1)
	def(OpPushZero, "PUSH_ZERO", groupPushImmediate, argNone, putStack, 1)
	def(OpPushPosByte, "PUSH_POS_BYTE", groupPushImmediate, argByte, putStack, 1)
	def(OpPushNegByte, "PUSH_NEG_BYTE", groupPushImmediate, argByte, putStack, 1)
	def(OpPushObject, "PUSH_OBJECT", groupPushObject, argNone, putStack, 1)
	def(OpArrayLiteral, "ARRAY_LITERAL", groupArrayLiteral, argByte, putStack, varEffect)
	def(OpSetProperty, "SET_PROPERTY", groupSetProperty, argStackLiteral, 0, -1)
	def(OpSetComputedProperty, "SET_COMPUTED_PROPERTY", groupSetComputedProperty, argStackStack, 0, -2)
	def(OpPropGet, "PROP_GET", groupPropGet, argStackStack, putStack, -1)
	def(OpPropGetLiteral, "PROP_GET_LITERAL", groupPropGet, argStackLiteral, putStack, 0)
	def(OpPropGetThisLiteral, "PROP_GET_THIS_LITERAL", groupPropGet, argThisLiteral, putStack, 1)
	def(OpPropReference, "PROP_REFERENCE", groupPropReference, argStackLiteral, 0, 2)
	def(OpPropDelete, "PROP_DELETE", groupPropDelete, argStackStack, putStack, -1)
	def(OpAssign, "ASSIGN", groupAssign, argStack, putIdent, -1)
	def(OpAssignPush, "ASSIGN_PUSH", groupAssign, argStack, putIdent|putStack, 0)
	def(OpAssignBlock, "ASSIGN_BLOCK", groupAssign, argStack, putIdent|putBlock, -1)
	def(OpAssignLiteral, "ASSIGN_LITERAL", groupAssign, argLiteral, putIdent, 0)
	def(OpAssignProp, "ASSIGN_PROP", groupAssign, argStack, putReference, -3)
	def(OpAssignPropPush, "ASSIGN_PROP_PUSH", groupAssign, argStack, putReference|putStack, -2)

	def(OpPlus, "PLUS", groupUnary, argStack, putStack, 0)
	decodeTable[OpPlus].operator = OperatorPlus
	def(OpNegate, "NEGATE", groupUnary, argStack, putStack, 0)
	decodeTable[OpNegate].operator = OperatorNegate
	def(OpNot, "NOT", groupNot, argStack, putStack, 0)
	def(OpBitNot, "BIT_NOT", groupUnary, argStack, putStack, 0)
	decodeTable[OpBitNot].operator = OperatorBitNot
	def(OpVoid, "VOID", groupVoid, argStack, putStack, 0)
	def(OpTypeof, "TYPEOF", groupTypeof, argStack, putStack, 0)
	def(OpTypeofIdent, "TYPEOF_IDENT", groupTypeofIdent, argNone, putStack, 1)
	def(OpIncr, "INCR", groupIncrDecr, argStack, putStack, 0)
	decodeTable[OpIncr].operator = OperatorIncrement
	def(OpDecr, "DECR", groupIncrDecr, argStack, putStack, 0)
	decodeTable[OpDecr].operator = OperatorDecrement

	def(OpCreateVar, "CREATE_VAR", groupCreateBinding, argNone, 0, 0)
	def(OpCreateLet, "CREATE_LET", groupCreateBinding, argNone, 0, 0)
	def(OpCreateConst, "CREATE_CONST", groupCreateBinding, argNone, 0, 0)
	def(OpInitBinding, "INIT_BINDING", groupInitBinding, argStack, 0, -1)

	def(OpCall, "CALL", groupCall, argByte, 0, varEffect)
	def(OpCallPush, "CALL_PUSH", groupCall, argByte, putStack, varEffect)
	def(OpCallBlock, "CALL_BLOCK", groupCall, argByte, putBlock, varEffect)
	def(OpCallProp, "CALL_PROP", groupCall, argByte, 0, varEffect)
	def(OpCallPropPush, "CALL_PROP_PUSH", groupCall, argByte, putStack, varEffect)
	def(OpCallPropBlock, "CALL_PROP_BLOCK", groupCall, argByte, putBlock, varEffect)
	def(OpNew, "NEW", groupNew, argByte, putStack, varEffect)
	def(OpEval, "EVAL", groupEval, argNone, 0, 0)

	def(OpReturn, "RETURN", groupReturn, argStack, 0, -1)
	def(OpReturnBlock, "RETURN_BLOCK", groupReturn, argNone, 0, 0)
	def(OpReturnLiteral, "RETURN_LITERAL", groupReturn, argLiteral, 0, 0)
	def(OpReturnFunctionEnd, "RETURN_FUNCTION_END", groupReturn, argNone, 0, 0)
	def(OpThrow, "THROW", groupThrow, argStack, 0, -1)
	def(OpContextEnd, "CONTEXT_END", groupContextEnd, argNone, 0, 0)

	def(OpBreakpointEnabled, "BREAKPOINT_ENABLED", groupBreakpoint, argNone, 0, 0)
	def(OpBreakpointDisabled, "BREAKPOINT_DISABLED", groupBreakpoint, argNone, 0, 0)

	for i := Opcode(0); i < binaryCount; i++ {
		op := Operator(i)
		group := groupBinary
		if OpAdd+i == OpStrictEqual || OpAdd+i == OpStrictNotEqual {
			group = groupStrictEqual
		}
		name := binaryNames[i]
		decodeTable[OpAdd+i] = descriptor{name: name, group: group, args: argStackStack, put: putStack, operator: op, stack: -1}
		decodeTable[RightLiteral(OpAdd+i)] = descriptor{name: name + "_RIGHT_LITERAL", group: group, args: argStackLiteral, put: putStack, operator: op, stack: 0}
		decodeTable[TwoLiterals(OpAdd+i)] = descriptor{name: name + "_TWO_LITERALS", group: group, args: argLiteralLiteral, put: putStack, operator: op, stack: 1}
	}

	defBranch(OpJumpForward, "JUMP_FORWARD", groupJump, false, 0)
	defBranch(OpJumpBackward, "JUMP_BACKWARD", groupJump, true, 0)
	defBranch(OpBranchIfTrueForward, "BRANCH_IF_TRUE_FORWARD", groupBranchIf, false, -1)
	defBranch(OpBranchIfTrueBackward, "BRANCH_IF_TRUE_BACKWARD", groupBranchIf, true, -1)
	defBranch(OpBranchIfFalseForward, "BRANCH_IF_FALSE_FORWARD", groupBranchIf, false, -1)
	defBranch(OpBranchIfFalseBackward, "BRANCH_IF_FALSE_BACKWARD", groupBranchIf, true, -1)
	defBranch(OpBranchIfLogicalTrue, "BRANCH_IF_LOGICAL_TRUE", groupBranchLogical, false, -1)
	defBranch(OpBranchIfLogicalFalse, "BRANCH_IF_LOGICAL_FALSE", groupBranchLogical, false, -1)
	defBranch(OpBranchIfStrictEqual, "BRANCH_IF_STRICT_EQUAL", groupBranchStrictEqual, false, -1)
	defBranch(OpDefaultInitializer, "DEFAULT_INITIALIZER", groupDefaultInitializer, false, 0)
	defBranch(OpJumpForwardExitContext, "JUMP_FORWARD_EXIT_CONTEXT", groupJumpExitContext, false, 0)
	defBranch(OpBlockCreateContext, "BLOCK_CREATE_CONTEXT", groupBlockContext, false, 0)
	defBranch(OpWith, "WITH", groupWith, false, -1)
	defBranch(OpTry, "TRY", groupTry, false, 0)
	defBranch(OpCatch, "CATCH", groupCatch, false, 0)
	defBranch(OpFinally, "FINALLY", groupFinally, false, 0)
	defBranch(OpForInInit, "FOR_IN_INIT", groupForInInit, false, -1)
	defBranch(OpForInHasNext, "FOR_IN_HAS_NEXT", groupForInHasNext, true, 0)
	defBranch(OpForOfInit, "FOR_OF_INIT", groupForOfInit, false, -1)
	defBranch(OpForOfHasNext, "FOR_OF_HAS_NEXT", groupForOfHasNext, true, 0)

	def(OpTryCreateEnv, "TRY_CREATE_ENV", groupTryCreateEnv, argNone, 0, 0)
	def(OpForInGetNext, "FOR_IN_GET_NEXT", groupForInGetNext, argNone, 0, 1)
	def(OpForOfGetNext, "FOR_OF_GET_NEXT", groupForOfGetNext, argNone, 0, 1)
	def(OpIteratorContextCreate, "ITERATOR_CONTEXT_CREATE", groupIteratorContextCreate, argStack, 0, -1)
	def(OpIteratorStep, "ITERATOR_STEP", groupIteratorStep, argNone, 0, 1)
	def(OpIteratorContextEnd, "ITERATOR_CONTEXT_END", groupIteratorContextEnd, argNone, 0, 0)
	def(OpRestInitializer, "REST_INITIALIZER", groupRestInitializer, argNone, 0, 1)
	def(OpObjInitContextCreate, "OBJ_INIT_CONTEXT_CREATE", groupObjInitContextCreate, argStack, 0, -1)
	def(OpObjInitPushProp, "OBJ_INIT_PUSH_PROP", groupObjInitPushProp, argLiteral, putStack, 1)
	def(OpObjInitPushRest, "OBJ_INIT_PUSH_REST", groupObjInitPushRest, argNone, putStack, 1)
	def(OpObjInitContextEnd, "OBJ_INIT_CONTEXT_END", groupObjInitContextEnd, argNone, 0, 0)
	def(OpCreateGenerator, "CREATE_GENERATOR", groupCreateGenerator, argNone, 0, 0)
	def(OpYield, "YIELD", groupYield, argStack, 0, 0)
	def(OpAwait, "AWAIT", groupAwait, argStack, 0, 0)
	def(OpInitClass, "INIT_CLASS", groupInitClass, argStack, 0, 1)
	def(OpInitDerivedClass, "INIT_DERIVED_CLASS", groupInitClass, argStackStack, 0, 0)
	def(OpDefineMethod, "DEFINE_METHOD", groupDefineMethod, argStackLiteral, 0, -1)
	def(OpDefineStaticMethod, "DEFINE_STATIC_METHOD", groupDefineMethod, argStackLiteral, 0, -1)
	def(OpSetFieldInit, "SET_FIELD_INIT", groupSetFieldInit, argStack, 0, -1)
	def(OpFinalizeClass, "FINALIZE_CLASS", groupFinalizeClass, argNone, 0, -1)
	def(OpRunFieldInit, "RUN_FIELD_INIT", groupRunFieldInit, argNone, 0, 0)
	def(OpPushSuperConstructor, "PUSH_SUPER_CONSTRUCTOR", groupPushSuperConstructor, argNone, putStack, 1)
	def(OpSuperCall, "SUPER_CALL", groupSuperCall, argByte, putStack, varEffect)
	def(OpPushNewTarget, "PUSH_NEW_TARGET", groupPushNewTarget, argNone, putStack, 1)
	def(OpSpreadElement, "SPREAD_ELEMENT", groupSpreadElement, argNone, 0, 1)
	def(OpSpreadCall, "SPREAD_CALL", groupSpreadCall, argByte, 0, varEffect)
	def(OpSpreadCallPush, "SPREAD_CALL_PUSH", groupSpreadCall, argByte, putStack, varEffect)
	def(OpSpreadCallProp, "SPREAD_CALL_PROP", groupSpreadCall, argByte, 0, varEffect)
	def(OpSpreadCallPropPush, "SPREAD_CALL_PROP_PUSH", groupSpreadCall, argByte, putStack, varEffect)
	def(OpSpreadNew, "SPREAD_NEW", groupSpreadCall, argByte, putStack, varEffect)
	def(OpSpreadSuperCall, "SPREAD_SUPER_CALL", groupSpreadCall, argByte, putStack, varEffect)
	def(OpCreateArguments, "CREATE_ARGUMENTS", groupCreateArguments, argNone, putIdent, 0)
	def(OpThrowReferenceError, "THROW_REFERENCE_ERROR", groupThrowReferenceError, argLiteral, 0, 0)
	def(OpThrowConstAssignment, "THROW_CONST_ASSIGNMENT", groupThrowConstAssignment, argNone, 0, 0)

	defBranch(OpForAwaitOfInit, "FOR_AWAIT_OF_INIT", groupForAwaitOfInit, false, -1)
	defBranch(OpForAwaitOfStep, "FOR_AWAIT_OF_STEP", groupForAwaitOfStep, false, -1)
	defBranch(OpForAwaitOfHasNext, "FOR_AWAIT_OF_HAS_NEXT", groupForAwaitOfHasNext, true, 0)

	// Branches that consume the top operand.
	for _, op := range []Opcode{
		OpBranchIfTrueForward, OpBranchIfTrueBackward, OpBranchIfFalseForward, OpBranchIfFalseBackward,
		OpWith, OpForInInit, OpForOfInit, OpForAwaitOfInit, OpForAwaitOfStep,
	} {
		for w := Opcode(0); w < 3; w++ {
			decodeTable[op+w].args = argStack
		}
	}
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string // human-readable name
	Extended    bool   // encoded behind OpExt
	Branch      int    // branch offset bytes (0 = none)
	Backward    bool   // branch goes backward
	Literals    int    // literal operands read before execution
	ByteOperand bool   // one raw byte operand
	PutIdent    bool   // a literal index follows for the result
	StackEffect int    // net effect on stack (-128 = variable)
}

func (op Opcode) valid() bool {
	return int(op) < len(decodeTable) && decodeTable[op].group != groupInvalid
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool { return op.valid() }

// OpcodeLimit bounds the opcode space: every valid opcode is below it.
const OpcodeLimit = extEnd

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if !op.valid() {
		return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%03X", uint16(op))}
	}
	d := &decodeTable[op]
	info := OpcodeInfo{
		Name:        d.name,
		Extended:    op >= extBase,
		Branch:      int(d.branch),
		Backward:    d.backward,
		ByteOperand: d.args == argByte,
		PutIdent:    d.put&putIdent != 0,
		StackEffect: int(d.stack),
	}
	switch d.args {
	case argLiteral, argStackLiteral, argThisLiteral:
		info.Literals = 1
	case argLiteralLiteral:
		info.Literals = 2
	}
	switch d.group {
	case groupTypeofIdent, groupCreateBinding, groupInitBinding, groupDefineMethod:
		if d.args != argStackLiteral {
			info.Literals++
		}
	}
	return info
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

// Literal index encodings.
const (
	smallLiteralLimit = 255
	smallLiteralDelta = 0xfe01
	fullLiteralLimit  = 128
	fullLiteralDelta  = 0x8000

	// MaxSmallLiteral is the largest index the small encoding can express.
	MaxSmallLiteral = 510
	// MaxFullLiteral is the largest index the full encoding can express.
	MaxFullLiteral = 0x7fff
)

// readLiteralIndex decodes one literal index at pos and returns it with the
// position after it.
func readLiteralIndex(bc []byte, pos int, full bool) (int, int) {
	limit, delta := smallLiteralLimit, smallLiteralDelta
	if full {
		limit, delta = fullLiteralLimit, fullLiteralDelta
	}
	b := int(bc[pos])
	if b < limit {
		return b, pos + 1
	}
	return (b<<8 | int(bc[pos+1])) - delta, pos + 2
}

// AppendLiteralIndex encodes idx with the small or full encoding.
func AppendLiteralIndex(dst []byte, idx int, full bool) []byte {
	limit, delta := smallLiteralLimit, smallLiteralDelta
	if full {
		limit, delta = fullLiteralLimit, fullLiteralDelta
	}
	if idx < limit {
		return append(dst, byte(idx))
	}
	v := idx + delta
	return append(dst, byte(v>>8), byte(v))
}

// readBranchOffset decodes a big-endian offset of n bytes at pos.
func readBranchOffset(bc []byte, pos, n int) int {
	off := 0
	for i := 0; i < n; i++ {
		off = off<<8 | int(bc[pos+i])
	}
	return off
}

// decodeOpcode reads the opcode at pos and returns it with the position of
// its first operand byte.
func decodeOpcode(bc []byte, pos int) (Opcode, int) {
	b := bc[pos]
	if b == OpExt {
		return extBase | Opcode(bc[pos+1]), pos + 2
	}
	return Opcode(b), pos + 1
}

// Instruction is one decoded instruction, used by the disassembler and by
// the unwinder to inspect handler instructions.
type Instruction struct {
	Offset   int
	Op       Opcode
	Literals []int
	Byte     int
	Target   int // absolute branch target, -1 when none
	Next     int // offset of the following instruction
}

// DecodeInstruction decodes the instruction at offset.
func DecodeInstruction(bc []byte, offset int, full bool) (Instruction, error) {
	if offset >= len(bc) {
		return Instruction{}, fmt.Errorf("offset %d past end of bytecode", offset)
	}
	op, pos := decodeOpcode(bc, offset)
	if !op.valid() {
		return Instruction{}, fmt.Errorf("invalid opcode 0x%03X at %d", uint16(op), offset)
	}
	info := op.Info()
	in := Instruction{Offset: offset, Op: op, Target: -1}
	if info.Branch > 0 {
		off := readBranchOffset(bc, pos, info.Branch)
		pos += info.Branch
		if info.Backward {
			in.Target = offset - off
		} else {
			in.Target = offset + off
		}
	}
	if info.ByteOperand {
		in.Byte = int(bc[pos])
		pos++
	}
	n := info.Literals
	if info.PutIdent {
		n++
	}
	for i := 0; i < n; i++ {
		var idx int
		idx, pos = readLiteralIndex(bc, pos, full)
		in.Literals = append(in.Literals, idx)
	}
	in.Next = pos
	return in, nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// FormatInstruction renders one instruction.
func FormatInstruction(in Instruction) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %s", in.Offset, in.Op.Name())
	if in.Op.Info().ByteOperand {
		fmt.Fprintf(&sb, " %d", in.Byte)
	}
	for _, l := range in.Literals {
		fmt.Fprintf(&sb, " #%d", l)
	}
	if in.Target >= 0 {
		fmt.Fprintf(&sb, " (-> %04d)", in.Target)
	}
	return sb.String()
}

// Disassemble returns a full disassembly of a compiled code unit.
func Disassemble(c *Code) string {
	var lines []string
	full := c.Flags&FlagFullLiteralEncoding != 0
	for pos := 0; pos < len(c.Bytecode); {
		in, err := DecodeInstruction(c.Bytecode, pos, full)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%04d  <%v>", pos, err))
			break
		}
		lines = append(lines, FormatInstruction(in))
		pos = in.Next
	}
	return strings.Join(lines, "\n")
}
