package pcode

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownOpcode is returned when a byte in opcode position is not
	// part of the instruction set.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrTruncated is returned when an operand extends past the end of the
	// code.
	ErrTruncated = errors.New("truncated instruction")
)

// Instruction is a decoded opcode with its operand bytes.
type Instruction struct {
	Offset  int
	Op      Opcode
	Operand []byte
}

// Decode reads the instruction at pc.
func Decode(code []byte, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, fmt.Errorf("%w at %04x", ErrTruncated, pc)
	}
	op := Opcode(code[pc])
	info, ok := opcodeInfoTable[op]
	if !ok {
		return Instruction{}, fmt.Errorf("%w 0x%02X at %04x", ErrUnknownOpcode, byte(op), pc)
	}
	n := info.OperandLen()
	if pc+1+n > len(code) {
		return Instruction{}, fmt.Errorf("%w: %s at %04x needs %d operand bytes", ErrTruncated, info.Name, pc, n)
	}
	return Instruction{Offset: pc, Op: op, Operand: code[pc+1 : pc+1+n]}, nil
}

// Len returns the encoded size of the instruction.
func (in Instruction) Len() int {
	return 1 + len(in.Operand)
}

// Word returns a 4-byte operand as a raw value.
func (in Instruction) Word() uint32 {
	return ByteOrder.Uint32(in.Operand)
}

// Int32 returns a 4-byte operand as an integer.
func (in Instruction) Int32() int32 {
	return int32(in.Word())
}

// Float32 returns a 4-byte operand as a float.
func (in Instruction) Float32() float32 {
	return math.Float32frombits(in.Word())
}

// Address returns a 2-byte address or slot operand.
func (in Instruction) Address() uint16 {
	return ByteOrder.Uint16(in.Operand)
}

// Identifier returns a 16-byte name operand.
func (in Instruction) Identifier() Identifier {
	var id Identifier
	copy(id[:], in.Operand)
	return id
}

// String formats the instruction the way the assembler reads it.
func (in Instruction) String() string {
	info := GetOpcodeInfo(in.Op)
	switch info.Operand {
	case OperandWord:
		return fmt.Sprintf("%-9s %d", info.Name, in.Int32())
	case OperandIdentifier:
		return fmt.Sprintf("%-9s %s", info.Name, in.Identifier())
	case OperandAddress:
		return fmt.Sprintf("%-9s %d", info.Name, in.Address())
	case OperandSlot:
		return fmt.Sprintf("%-9s %d", info.Name, in.Address())
	default:
		return info.Name
	}
}

// Walk decodes every instruction in code in order, stopping at the first
// decoding error.
func Walk(code []byte, fn func(Instruction) error) error {
	for pc := 0; pc < len(code); {
		in, err := Decode(code, pc)
		if err != nil {
			return err
		}
		if err := fn(in); err != nil {
			return err
		}
		pc += in.Len()
	}
	return nil
}
