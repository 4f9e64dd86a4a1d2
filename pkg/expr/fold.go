package expr

import (
	"math"

	"github.com/guidorota/brix-sub000/pkg/pcode"
)

// foldable reports whether op on the two constants can be evaluated at
// compile time. Integer division and modulo by zero are left to the
// interpreter, which traps.
func foldable(op Operator, t pcode.DataType, b uint32) bool {
	if t == pcode.TypeInt && (op == OpDiv || op == OpMod) && b == 0 {
		return false
	}
	return true
}

// foldBinary evaluates op on two constant words of type t, which is the
// common operand type after promotion.
func foldBinary(op Operator, t pcode.DataType, a, b uint32) uint32 {
	switch t {
	case pcode.TypeFloat:
		return foldFloat(op, math.Float32frombits(a), math.Float32frombits(b))
	default:
		return foldInt(op, int32(a), int32(b))
	}
}

func foldInt(op Operator, a, b int32) uint32 {
	switch op {
	case OpAdd:
		return uint32(a + b)
	case OpSub:
		return uint32(a - b)
	case OpMul:
		return uint32(a * b)
	case OpDiv:
		return uint32(a / b)
	case OpMod:
		return uint32(a % b)
	case OpEq:
		return boolWord(a == b)
	case OpNe:
		return boolWord(a != b)
	case OpGt:
		return boolWord(a > b)
	case OpGe:
		return boolWord(a >= b)
	case OpLt:
		return boolWord(a < b)
	case OpLe:
		return boolWord(a <= b)
	case OpBitAnd, OpAnd:
		return uint32(a & b)
	case OpBitOr, OpOr:
		return uint32(a | b)
	case OpBitXor:
		return uint32(a ^ b)
	}
	panic("expr: unfoldable integer operator " + op.String())
}

func foldFloat(op Operator, a, b float32) uint32 {
	switch op {
	case OpAdd:
		return math.Float32bits(a + b)
	case OpSub:
		return math.Float32bits(a - b)
	case OpMul:
		return math.Float32bits(a * b)
	case OpDiv:
		return math.Float32bits(a / b)
	case OpEq:
		return boolWord(a == b)
	case OpNe:
		return boolWord(a != b)
	case OpGt:
		return boolWord(a > b)
	case OpGe:
		return boolWord(a >= b)
	case OpLt:
		return boolWord(a < b)
	case OpLe:
		return boolWord(a <= b)
	}
	panic("expr: unfoldable float operator " + op.String())
}

func foldUnary(op UnaryOperator, t pcode.DataType, a uint32) uint32 {
	switch op {
	case OpNeg:
		if t == pcode.TypeFloat {
			return math.Float32bits(-math.Float32frombits(a))
		}
		return uint32(-int32(a))
	case OpBitNot:
		return ^a
	case OpNot:
		return boolWord(a == 0)
	}
	panic("expr: unfoldable unary operator " + op.String())
}

func boolWord(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
