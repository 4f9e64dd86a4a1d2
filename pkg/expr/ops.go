package expr

import (
	"fmt"

	"github.com/guidorota/brix-sub000/pkg/pcode"
)

// Cast converts e to type t in place and returns it. Only numeric
// conversions exist; casting a value to its own type is a no-op.
func Cast(e *Expression, t pcode.DataType) (*Expression, error) {
	if e.kind == kindDestroyed {
		return nil, ErrDestroyed
	}
	if e.typ == t {
		return e, nil
	}

	var op pcode.Opcode
	var conv func(uint32) uint32
	switch {
	case e.typ == pcode.TypeInt && t == pcode.TypeFloat:
		op, conv = pcode.OpI2F, pcode.IntToFloat
	case e.typ == pcode.TypeFloat && t == pcode.TypeInt:
		op, conv = pcode.OpF2I, pcode.FloatToInt
	default:
		return nil, fmt.Errorf("%w: cannot convert %s to %s", ErrIncompatibleOperandType, e.typ, t)
	}

	if e.kind == KindConstant {
		e.word = conv(e.word)
		e.typ = t
		return e, nil
	}
	if err := ConvertToBinary(e); err != nil {
		return nil, err
	}
	e.code.AddInstruction(op)
	e.typ = t
	return e, nil
}

// Binary applies op to a and b. Mixed int and float operands are promoted
// to float. Two constant operands fold to a constant; otherwise the result
// is a Binary expression whose value fragment evaluates a, then b, then
// the operator, and whose side-effect fragment runs the side effects of a
// and then those of b.
//
// On success a is reused for the result and b is destroyed. On failure
// both operands are left as they were.
func Binary(a, b *Expression, op Operator) (*Expression, error) {
	if !op.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}
	if a.kind == kindDestroyed || b.kind == kindDestroyed {
		return nil, ErrDestroyed
	}
	if err := checkOperands(op, a.typ, b.typ); err != nil {
		return nil, err
	}

	t := a.typ
	if a.typ != b.typ {
		t = pcode.TypeFloat
		if _, err := Cast(a, t); err != nil {
			return nil, err
		}
		if _, err := Cast(b, t); err != nil {
			return nil, err
		}
	}

	if a.kind == KindConstant && b.kind == KindConstant && foldable(op, t, b.word) {
		a.word = foldBinary(op, t, a.word, b.word)
		a.typ = resultType(op, t)
		Destroy(b)
		return a, nil
	}

	if err := ConvertToBinary(a); err != nil {
		return nil, err
	}
	if err := ConvertToBinary(b); err != nil {
		return nil, err
	}
	a.code.Append(b.code)
	a.code.AddInstruction(opcodeFor(op, t))
	a.side = mergeSideEffects(a.side, b.side)
	a.typ = resultType(op, t)

	b.side = nil
	Destroy(b)
	return a, nil
}

// mergeSideEffects sequences the first fragment before the second. Either
// may be nil; the second is consumed.
func mergeSideEffects(first, second *pcode.Buffer) *pcode.Buffer {
	if second.IsEmpty() {
		return first
	}
	if first.IsEmpty() {
		return second
	}
	first.Append(second)
	second.Release()
	return first
}

// Unary applies a prefix or postfix operator to e in place.
//
// Increment and decrement require a numeric Variable. The value of the
// prefix forms is the updated variable; the postfix forms duplicate the
// loaded value before updating so the old value is left on the stack.
// Both forms carry a side-effect fragment that only performs the update.
func Unary(e *Expression, op UnaryOperator) (*Expression, error) {
	if e.kind == kindDestroyed {
		return nil, ErrDestroyed
	}
	switch op {
	case OpNeg:
		if !e.typ.IsNumeric() {
			return nil, fmt.Errorf("%w: %s%s", ErrIncompatibleOperandType, op, e.typ)
		}
		if e.typ == pcode.TypeFloat {
			return applyUnary(e, op, pcode.OpFInv)
		}
		return applyUnary(e, op, pcode.OpIInv)
	case OpBitNot:
		if e.typ != pcode.TypeInt {
			return nil, fmt.Errorf("%w: %s%s", ErrIncompatibleOperandType, op, e.typ)
		}
		return applyUnary(e, op, pcode.OpINot)
	case OpNot:
		if e.typ != pcode.TypeBool {
			return nil, fmt.Errorf("%w: %s%s", ErrIncompatibleOperandType, op, e.typ)
		}
		return applyUnary(e, op, pcode.OpLNot)
	case OpPreInc, OpPreDec, OpPostInc, OpPostDec:
		return step(e, op)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
}

func applyUnary(e *Expression, op UnaryOperator, opcode pcode.Opcode) (*Expression, error) {
	if e.kind == KindConstant {
		e.word = foldUnary(op, e.typ, e.word)
		return e, nil
	}
	if err := ConvertToBinary(e); err != nil {
		return nil, err
	}
	e.code.AddInstruction(opcode)
	return e, nil
}

// step lowers the four increment and decrement forms.
func step(e *Expression, op UnaryOperator) (*Expression, error) {
	if e.kind != KindVariable {
		return nil, fmt.Errorf("%w: %s applied to %s", ErrInvalidAssignmentTarget, op, e.kind)
	}
	if !e.typ.IsNumeric() {
		return nil, fmt.Errorf("%w: %s on %s", ErrIncompatibleOperandType, op, e.typ)
	}

	one, arith := pcode.OpIPush1, pcode.OpIAdd
	if e.typ == pcode.TypeFloat {
		one, arith = pcode.OpFPush1, pcode.OpFAdd
	}
	if op == OpPreDec || op == OpPostDec {
		arith = opcodeFor(OpSub, e.typ)
	}

	sym := e.sym
	side := pcode.NewBuffer()
	emitLoad(side, sym)
	side.AddInstruction(one)
	side.AddInstruction(arith)
	emitStore(side, sym)

	code := pcode.NewBuffer()
	emitLoad(code, sym)
	if op == OpPostInc || op == OpPostDec {
		code.AddInstruction(pcode.OpDup32)
		code.AddInstruction(one)
		code.AddInstruction(arith)
		emitStore(code, sym)
	} else {
		code.AddInstruction(one)
		code.AddInstruction(arith)
		emitStore(code, sym)
		emitLoad(code, sym)
	}

	e.kind = KindBinary
	e.sym = nil
	e.code = code
	e.side = side
	return e, nil
}

// Assign stores src into dst, which must be a Variable. src is converted
// to the destination type. The value of the result is the assigned value;
// its side-effect fragment performs the store without leaving it on the
// stack.
//
// On success src is reused for the result and dst is destroyed.
func Assign(dst, src *Expression) (*Expression, error) {
	if dst.kind == kindDestroyed || src.kind == kindDestroyed {
		return nil, ErrDestroyed
	}
	if dst.kind != KindVariable {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAssignmentTarget, dst.kind)
	}
	if dst.typ != src.typ && !(dst.typ.IsNumeric() && src.typ.IsNumeric()) {
		return nil, fmt.Errorf("%w: cannot assign %s to %s", ErrIncompatibleOperandType, src.typ, dst.typ)
	}
	if _, err := Cast(src, dst.typ); err != nil {
		return nil, err
	}
	if err := ConvertToBinary(src); err != nil {
		return nil, err
	}

	sym := dst.sym
	side := src.code.Clone()
	emitStore(side, sym)

	src.code.AddInstruction(pcode.OpDup32)
	emitStore(src.code, sym)

	if src.side != nil {
		src.side.Release()
	}
	src.side = side
	Destroy(dst)
	return src, nil
}
