package expr

import (
	"fmt"

	"github.com/guidorota/brix-sub000/pkg/pcode"
)

// Operator is a binary operator.
type Operator uint8

const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpMod

	OpEq
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe

	OpBitAnd
	OpBitOr
	OpBitXor

	OpAnd
	OpOr
)

// UnaryOperator is a prefix or postfix operator.
type UnaryOperator uint8

const (
	OpNeg UnaryOperator = iota
	OpBitNot
	OpNot
	OpPreInc
	OpPreDec
	OpPostInc
	OpPostDec
)

// class groups operators that share a type rule.
type class uint8

const (
	// numeric operands, numeric result
	classArith class = iota
	// int operands, int result
	classModulo
	// numeric operands, bool result
	classOrdering
	// numeric or bool operands, bool result
	classEquality
	// int operands, int result
	classBitwise
	// bool operands, bool result
	classLogical
)

type operatorInfo struct {
	symbol string
	class  class
	intOp  pcode.Opcode
	fltOp  pcode.Opcode // zero when no float form exists
}

var operators = [...]operatorInfo{
	OpAdd: {"+", classArith, pcode.OpIAdd, pcode.OpFAdd},
	OpSub: {"-", classArith, pcode.OpISub, pcode.OpFSub},
	OpMul: {"*", classArith, pcode.OpIMul, pcode.OpFMul},
	OpDiv: {"/", classArith, pcode.OpIDiv, pcode.OpFDiv},
	OpMod: {"%", classModulo, pcode.OpIMod, 0},

	OpEq: {"==", classEquality, pcode.OpIEq, pcode.OpFEq},
	OpNe: {"!=", classEquality, pcode.OpINe, pcode.OpFNe},
	OpGt: {">", classOrdering, pcode.OpIGt, pcode.OpFGt},
	OpGe: {">=", classOrdering, pcode.OpIGe, pcode.OpFGe},
	OpLt: {"<", classOrdering, pcode.OpILt, pcode.OpFLt},
	OpLe: {"<=", classOrdering, pcode.OpILe, pcode.OpFLe},

	OpBitAnd: {"&", classBitwise, pcode.OpIAnd, 0},
	OpBitOr:  {"|", classBitwise, pcode.OpIOr, 0},
	OpBitXor: {"^", classBitwise, pcode.OpIXor, 0},

	// bool32 values are canonical 0/1, so the bitwise forms are exact.
	OpAnd: {"&&", classLogical, pcode.OpIAnd, 0},
	OpOr:  {"||", classLogical, pcode.OpIOr, 0},
}

func (op Operator) valid() bool { return int(op) < len(operators) }

func (op Operator) String() string {
	if op.valid() {
		return operators[op].symbol
	}
	return fmt.Sprintf("Operator(%d)", op)
}

var unaryNames = [...]string{
	OpNeg:     "-",
	OpBitNot:  "~",
	OpNot:     "!",
	OpPreInc:  "++x",
	OpPreDec:  "--x",
	OpPostInc: "x++",
	OpPostDec: "x--",
}

func (op UnaryOperator) String() string {
	if int(op) < len(unaryNames) {
		return unaryNames[op]
	}
	return fmt.Sprintf("UnaryOperator(%d)", op)
}

// checkOperands applies the operator's type matrix to the operand types
// after int/float promotion would take place.
func checkOperands(op Operator, a, b pcode.DataType) error {
	ok := false
	switch operators[op].class {
	case classArith, classOrdering:
		ok = a.IsNumeric() && b.IsNumeric()
	case classModulo, classBitwise:
		ok = a == pcode.TypeInt && b == pcode.TypeInt
	case classEquality:
		ok = (a.IsNumeric() && b.IsNumeric()) || (a == pcode.TypeBool && b == pcode.TypeBool)
	case classLogical:
		ok = a == pcode.TypeBool && b == pcode.TypeBool
	}
	if !ok {
		return fmt.Errorf("%w: %s %s %s", ErrIncompatibleOperandType, a, op, b)
	}
	return nil
}

// resultType returns the type of op applied to operands of type t.
func resultType(op Operator, t pcode.DataType) pcode.DataType {
	switch operators[op].class {
	case classOrdering, classEquality, classLogical:
		return pcode.TypeBool
	default:
		return t
	}
}

// opcodeFor selects the instruction implementing op on operands of type t.
func opcodeFor(op Operator, t pcode.DataType) pcode.Opcode {
	if t == pcode.TypeFloat {
		return operators[op].fltOp
	}
	return operators[op].intOp
}
