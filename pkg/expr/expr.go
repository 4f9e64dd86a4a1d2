// Package expr lowers typed expression trees to pcode.
//
// An Expression starts out as a Constant or a Variable and is lowered in
// place to a Binary expression, which owns a code fragment producing its
// value. Operators fold constant operands at compile time and otherwise
// concatenate operand code and append the implementing instruction.
//
// A Binary expression may also own a side-effect fragment: code that
// realizes its mutations (assignments, increments) without producing a
// value. The value fragment always contains the mutations too; the
// side-effect fragment exists so that an expression evaluated only for its
// effect does not leave a stale value on the stack.
//
// Operators consume their operands. Once passed to Binary, Unary, Assign
// or Cast, an operand must not be used again except through the returned
// expression.
package expr

import (
	"errors"
	"fmt"
	"math"

	"github.com/guidorota/brix-sub000/pkg/pcode"
	"github.com/guidorota/brix-sub000/pkg/symbols"
)

var (
	// ErrIncompatibleOperandType is returned when an operand's type is not
	// accepted by the operator.
	ErrIncompatibleOperandType = errors.New("incompatible operand type")

	// ErrInvalidAssignmentTarget is returned when the destination of an
	// assignment or increment is not a variable.
	ErrInvalidAssignmentTarget = errors.New("invalid assignment target")

	// ErrUnsupportedOperator is returned for operator values outside the
	// defined set.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrUnsupportedType is returned when a value of a declared but
	// unimplemented type reaches code generation.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrDestroyed is returned when a destroyed expression is used.
	ErrDestroyed = errors.New("expression destroyed")
)

// Kind is the lowering state of an expression.
type Kind uint8

const (
	KindConstant Kind = iota
	KindVariable
	KindBinary
	kindDestroyed
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindVariable:
		return "variable"
	case KindBinary:
		return "binary"
	default:
		return "destroyed"
	}
}

// Expression is a typed value under construction.
type Expression struct {
	kind Kind
	typ  pcode.DataType

	word uint32          // KindConstant
	sym  *symbols.Symbol // KindVariable

	code *pcode.Buffer // KindBinary
	side *pcode.Buffer // KindBinary, may be nil
}

// Int creates an int32 constant.
func Int(v int32) *Expression {
	return &Expression{kind: KindConstant, typ: pcode.TypeInt, word: uint32(v)}
}

// Float creates a float32 constant.
func Float(v float32) *Expression {
	return &Expression{kind: KindConstant, typ: pcode.TypeFloat, word: math.Float32bits(v)}
}

// Bool creates a boolean constant.
func Bool(v bool) *Expression {
	return &Expression{kind: KindConstant, typ: pcode.TypeBool, word: boolWord(v)}
}

// Variable creates an expression referring to a declared variable or field.
func Variable(tbl *symbols.Table, name string) (*Expression, error) {
	sym, err := tbl.Lookup(name)
	if err != nil {
		return nil, err
	}
	return FromSymbol(sym), nil
}

// FromSymbol creates an expression referring to an already resolved symbol.
func FromSymbol(sym *symbols.Symbol) *Expression {
	return &Expression{kind: KindVariable, typ: sym.Type, sym: sym}
}

// Kind returns the lowering state.
func (e *Expression) Kind() Kind { return e.kind }

// Type returns the static type.
func (e *Expression) Type() pcode.DataType { return e.typ }

// IsConstant reports whether e is a constant.
func (e *Expression) IsConstant() bool { return e.kind == KindConstant }

// Word returns the raw value bits of a constant.
func (e *Expression) Word() uint32 { return e.word }

// Int32 returns the value of an int constant.
func (e *Expression) Int32() int32 { return int32(e.word) }

// Float32 returns the value of a float constant.
func (e *Expression) Float32() float32 { return math.Float32frombits(e.word) }

// BoolValue returns the value of a bool constant.
func (e *Expression) BoolValue() bool { return e.word != 0 }

// Symbol returns the symbol of a variable expression.
func (e *Expression) Symbol() *symbols.Symbol { return e.sym }

// Code returns the value fragment of a binary expression.
func (e *Expression) Code() *pcode.Buffer { return e.code }

// SideEffect returns the side-effect fragment of a binary expression, or
// nil if it has none.
func (e *Expression) SideEffect() *pcode.Buffer { return e.side }

func (e *Expression) String() string {
	switch e.kind {
	case KindConstant:
		switch e.typ {
		case pcode.TypeFloat:
			return fmt.Sprintf("float(%g)", e.Float32())
		case pcode.TypeBool:
			return fmt.Sprintf("bool(%t)", e.BoolValue())
		default:
			return fmt.Sprintf("int(%d)", e.Int32())
		}
	case KindVariable:
		return e.sym.String()
	case KindBinary:
		return fmt.Sprintf("%s binary (%d bytes)", e.typ, e.code.Len())
	default:
		return "destroyed expression"
	}
}

// Destroy releases the fragments owned by e. Callers destroy operands
// left over after a failed operation; successful operations consume their
// operands themselves.
func Destroy(e *Expression) {
	if e == nil {
		return
	}
	if e.code != nil {
		e.code.Release()
	}
	if e.side != nil {
		e.side.Release()
	}
	*e = Expression{kind: kindDestroyed}
}

// ConvertToBinary lowers a constant or variable to a code fragment in
// place. Binary expressions are left untouched.
func ConvertToBinary(e *Expression) error {
	switch e.kind {
	case KindBinary:
		return nil
	case kindDestroyed:
		return ErrDestroyed
	}
	if !e.typ.IsWord() {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, e.typ)
	}

	code := pcode.NewBuffer()
	switch e.kind {
	case KindConstant:
		emitConstant(code, e.typ, e.word)
	case KindVariable:
		emitLoad(code, e.sym)
	}
	e.kind = KindBinary
	e.code = code
	e.sym = nil
	e.word = 0
	return nil
}

// EmitValue lowers e and appends its value fragment to buf. The value is
// left on the stack.
func EmitValue(buf *pcode.Buffer, e *Expression) error {
	if err := ConvertToBinary(e); err != nil {
		return err
	}
	buf.Append(e.code)
	return nil
}

// EmitStatement appends code evaluating e for its effect only: the
// side-effect fragment if e has one, otherwise the value fragment followed
// by POP32.
func EmitStatement(buf *pcode.Buffer, e *Expression) error {
	if err := ConvertToBinary(e); err != nil {
		return err
	}
	if !e.side.IsEmpty() {
		buf.Append(e.side)
		return nil
	}
	buf.Append(e.code)
	buf.AddInstruction(pcode.OpPop32)
	return nil
}

// emitConstant emits the shortest push for a constant.
func emitConstant(buf *pcode.Buffer, t pcode.DataType, w uint32) {
	switch {
	case t == pcode.TypeFloat && w == math.Float32bits(0):
		buf.AddInstruction(pcode.OpFPush0)
	case t == pcode.TypeFloat && w == math.Float32bits(1):
		buf.AddInstruction(pcode.OpFPush1)
	case t != pcode.TypeFloat && w == 0:
		buf.AddInstruction(pcode.OpIPush0)
	case t != pcode.TypeFloat && w == 1:
		buf.AddInstruction(pcode.OpIPush1)
	default:
		buf.AddInstruction(pcode.OpPush32)
		buf.AddWord(w)
	}
}

func emitLoad(buf *pcode.Buffer, sym *symbols.Symbol) {
	if sym.IsField() {
		buf.AddInstruction(pcode.OpRLoad32)
		buf.AddIdentifier(sym.Name)
		return
	}
	buf.AddInstruction(pcode.OpVLoad32)
	buf.AddAddress(sym.Slot)
}

func emitStore(buf *pcode.Buffer, sym *symbols.Symbol) {
	if sym.IsField() {
		buf.AddInstruction(pcode.OpRStore32)
		buf.AddIdentifier(sym.Name)
		return
	}
	buf.AddInstruction(pcode.OpVStore32)
	buf.AddAddress(sym.Slot)
}
